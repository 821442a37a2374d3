// Package matcher attributes individual credit-card expense transactions
// to the bank repayment that paid them off.
//
// Matching per repayment walks a small state machine:
//  1. Identify the card from the repayment description via pairing match
//     patterns; no hit is terminal (unknown card).
//  2. Out-of-cycle ("sauvage") repayments try a single near-exact recent
//     expense first.
//  3. Otherwise expenses of the billing period are accumulated
//     chronologically under a small tolerance, extending backwards into
//     prior months (carryover) when the period alone cannot cover the
//     repayment.
//
// Accumulation is a deliberate order-dependent greedy walk, not a
// subset-sum solver. Downstream consumers depend on its exact tie-breaks,
// so keep the ordering stable.
package matcher

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/clarify-money/reconcile-backend/internal/domain/ledger"
)

// Matcher matches repayments to card expenses over one run.
type Matcher struct {
	cfg             Config
	pairings        []ledger.AccountPairing
	source          ExpenseSource
	resolver        PeriodResolver
	vendorResolvers map[string]PeriodResolver
	logger          *slog.Logger
}

// Option customizes a Matcher.
type Option func(*Matcher)

// WithLogger attaches a logger for per-repayment progress.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Matcher) { m.logger = logger }
}

// WithPeriodResolver overrides the default billing-period rule.
func WithPeriodResolver(r PeriodResolver) Option {
	return func(m *Matcher) { m.resolver = r }
}

// WithVendorPeriodResolver overrides the billing-period rule for one card
// vendor.
func WithVendorPeriodResolver(vendor string, r PeriodResolver) Option {
	return func(m *Matcher) { m.vendorResolvers[vendor] = r }
}

// New creates a Matcher over the active pairings and an expense source.
func New(cfg Config, pairings []ledger.AccountPairing, source ExpenseSource, opts ...Option) *Matcher {
	m := &Matcher{
		cfg:             cfg,
		pairings:        pairings,
		source:          source,
		resolver:        CalendarMonthResolver{},
		vendorResolvers: make(map[string]PeriodResolver),
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run matches every repayment and returns the full match set plus one
// outcome per repayment. Sauvage repayments go first, smallest to
// largest, so unambiguous small matches are not consumed by larger ones;
// monthly repayments follow newest to oldest, where expense data is most
// complete. A run-scoped used set guarantees no expense lands in two
// matches.
func (m *Matcher) Run(ctx context.Context, repayments []ledger.Transaction) ([]ledger.ExpenseMatch, []Outcome, error) {
	var sauvage, monthly []ledger.Transaction
	for _, r := range repayments {
		card, vendor, ok := m.identifyCard(r.Name)
		if ok {
			isSauvage, err := m.isSauvage(ctx, r, card, vendor)
			if err != nil {
				return nil, nil, err
			}
			if isSauvage {
				sauvage = append(sauvage, r)
				continue
			}
		}
		monthly = append(monthly, r)
	}

	sort.SliceStable(sauvage, func(i, j int) bool { return sauvage[i].AbsAmount() < sauvage[j].AbsAmount() })
	sort.SliceStable(monthly, func(i, j int) bool { return monthly[i].Date > monthly[j].Date })

	used := make(map[matchKey]bool)
	var allMatches []ledger.ExpenseMatch
	var outcomes []Outcome

	for _, r := range sauvage {
		matches, outcome, err := m.matchOne(ctx, r, used, true)
		if err != nil {
			return nil, nil, err
		}
		allMatches = append(allMatches, matches...)
		outcomes = append(outcomes, outcome)
	}
	for _, r := range monthly {
		matches, outcome, err := m.matchOne(ctx, r, used, false)
		if err != nil {
			return nil, nil, err
		}
		allMatches = append(allMatches, matches...)
		outcomes = append(outcomes, outcome)
	}

	return allMatches, outcomes, nil
}

// identifyCard resolves a repayment description to a card via the active
// pairings' match patterns. First pattern hit wins; patterns are matched
// verbatim, the way the owning application persists them.
func (m *Matcher) identifyCard(repaymentName string) (cardNumber, ccVendor string, ok bool) {
	for _, pairing := range m.pairings {
		if !pairing.IsActive {
			continue
		}
		for _, pattern := range pairing.MatchPatterns {
			if pattern != "" && strings.Contains(repaymentName, pattern) {
				return pairing.CreditCardAccountNumber, pairing.CreditCardVendor, true
			}
		}
	}
	return "", "", false
}

// isSauvage flags out-of-cycle repayments: paid past the usual billing
// window, or a large amount with a loosely matching recent expense, or
// any near-exact recent expense.
func (m *Matcher) isSauvage(ctx context.Context, r ledger.Transaction, cardNumber, ccVendor string) (bool, error) {
	day, err := ledger.ParseDay(r.Date)
	if err != nil {
		return false, fmt.Errorf("parse repayment date %q: %w", r.Date, err)
	}
	if day.Day() > m.cfg.SauvageDayThreshold {
		return true, nil
	}

	amount := r.AbsAmount()
	recent, err := m.recentExpenses(ctx, ccVendor, cardNumber, day)
	if err != nil {
		return false, err
	}

	if amount > m.cfg.LargeAmount {
		for _, e := range recent {
			if math.Abs(e.AbsAmount()-amount) < m.cfg.LargeAmountTolerance {
				return true, nil
			}
		}
	}
	for _, e := range recent {
		if math.Abs(e.AbsAmount()-amount) < m.cfg.ImmediateTolerance {
			return true, nil
		}
	}
	return false, nil
}

func (m *Matcher) recentExpenses(ctx context.Context, ccVendor, cardNumber string, repaymentDay time.Time) ([]ledger.Transaction, error) {
	from := repaymentDay.AddDate(0, 0, -m.cfg.ImmediateLookbackDays).Format(ledger.DayLayout)
	to := repaymentDay.Format(ledger.DayLayout)
	return m.source.ExpensesInRange(ctx, ccVendor, cardNumber, from, to)
}

func (m *Matcher) matchOne(ctx context.Context, r ledger.Transaction, used map[matchKey]bool, isSauvage bool) ([]ledger.ExpenseMatch, Outcome, error) {
	outcome := Outcome{
		RepaymentID:     r.Identifier,
		RepaymentName:   r.Name,
		RepaymentDate:   r.Date,
		RepaymentAmount: r.AbsAmount(),
	}

	cardNumber, ccVendor, ok := m.identifyCard(r.Name)
	if !ok {
		m.logger.Warn("could not identify card for repayment", "name", r.Name)
		outcome.State = OutcomeUnmatchedUnknownCard
		return nil, outcome, nil
	}
	outcome.CardNumber = cardNumber
	outcome.CardVendor = ccVendor

	day, err := ledger.ParseDay(r.Date)
	if err != nil {
		return nil, outcome, fmt.Errorf("parse repayment date %q: %w", r.Date, err)
	}
	amount := r.AbsAmount()

	maxLookbackDays := m.cfg.MonthlyLookbackDays
	if isSauvage {
		maxLookbackDays = m.cfg.SauvageLookbackDays

		immediate, err := m.findImmediateExpense(ctx, ccVendor, cardNumber, day, amount, used)
		if err != nil {
			return nil, outcome, err
		}
		if immediate != nil {
			match := m.buildMatch(r, cardNumber, *immediate, ledger.MethodSauvage)
			used[matchKey{immediate.Identifier, immediate.Vendor}] = true
			outcome.State = OutcomeMatchedSauvage
			outcome.MatchedCount = 1
			outcome.MatchedSum = immediate.AbsAmount()
			outcome.PerfectMatch = true
			m.logger.Debug("sauvage repayment matched", "repayment", r.Identifier, "expense", immediate.Identifier)
			return []ledger.ExpenseMatch{match}, outcome, nil
		}
		m.logger.Debug("no immediate expense for sauvage repayment, trying monthly matching", "repayment", r.Identifier)
	}

	resolver := m.resolver
	if vr, ok := m.vendorResolvers[ccVendor]; ok {
		resolver = vr
	}
	periodStart, periodEnd := resolver.BillingPeriod(day)

	expenses, err := m.source.ExpensesInRange(ctx, ccVendor, cardNumber,
		periodStart.Format(ledger.DayLayout), periodEnd.Format(ledger.DayLayout))
	if err != nil {
		return nil, outcome, err
	}
	expenses = filterUsed(expenses, used)

	if len(expenses) == 0 {
		outcome.State = OutcomeUnmatchedNoExpenses
		return nil, outcome, nil
	}

	tolerance := m.cfg.AccumulationTolerance
	var matches []ledger.ExpenseMatch
	runningSum := 0.0
	runningSum = m.accumulate(&matches, r, cardNumber, expenses, used, runningSum, amount, ledger.MethodChronological)

	// Carryover: if the billing period alone cannot cover the repayment,
	// extend the window backwards into earlier months.
	if amount-runningSum > tolerance {
		lookbackStart := periodStart.AddDate(0, 0, -90)
		if temporal := day.AddDate(0, 0, -maxLookbackDays); temporal.After(lookbackStart) {
			lookbackStart = temporal
		}
		carryover, err := m.source.ExpensesInRange(ctx, ccVendor, cardNumber,
			lookbackStart.Format(ledger.DayLayout), periodStart.AddDate(0, 0, -1).Format(ledger.DayLayout))
		if err != nil {
			return nil, outcome, err
		}
		carryover = filterUsed(carryover, used)
		runningSum = m.accumulate(&matches, r, cardNumber, carryover, used, runningSum, amount, ledger.MethodCarryover)
	}

	outcome.MatchedCount = len(matches)
	outcome.MatchedSum = runningSum
	outcome.Difference = amount - runningSum
	outcome.PerfectMatch = math.Abs(outcome.Difference) <= tolerance
	outcome.State = OutcomeMatchedChronological
	for _, match := range matches {
		if match.Method == ledger.MethodCarryover {
			outcome.State = OutcomeMatchedWithCarryover
			break
		}
	}

	return matches, outcome, nil
}

// findImmediateExpense looks for a single unmatched expense within the
// immediate lookback whose amount is near-exact; latest such expense
// wins.
func (m *Matcher) findImmediateExpense(ctx context.Context, ccVendor, cardNumber string, repaymentDay time.Time, amount float64, used map[matchKey]bool) (*ledger.Transaction, error) {
	recent, err := m.recentExpenses(ctx, ccVendor, cardNumber, repaymentDay)
	if err != nil {
		return nil, err
	}
	// Source order is date ascending; scan backwards for the latest hit.
	for i := len(recent) - 1; i >= 0; i-- {
		e := recent[i]
		if used[matchKey{e.Identifier, e.Vendor}] {
			continue
		}
		if math.Abs(e.AbsAmount()-amount) < m.cfg.ImmediateTolerance {
			return &e, nil
		}
	}
	return nil, nil
}

// accumulate greedily adds expenses in order while staying within the
// repayment amount plus tolerance, stopping early once the running sum is
// close enough. Consumed expenses enter the run-scoped used set.
func (m *Matcher) accumulate(
	matches *[]ledger.ExpenseMatch,
	r ledger.Transaction,
	cardNumber string,
	expenses []ledger.Transaction,
	used map[matchKey]bool,
	runningSum, amount float64,
	method string,
) float64 {
	tolerance := m.cfg.AccumulationTolerance
	if math.Abs(runningSum-amount) <= tolerance && runningSum > 0 {
		return runningSum
	}
	for _, e := range expenses {
		expenseAmount := e.AbsAmount()
		if runningSum+expenseAmount > amount+tolerance {
			continue
		}
		*matches = append(*matches, m.buildMatch(r, cardNumber, e, method))
		used[matchKey{e.Identifier, e.Vendor}] = true
		runningSum += expenseAmount
		if math.Abs(runningSum-amount) <= tolerance {
			break
		}
	}
	return runningSum
}

func (m *Matcher) buildMatch(r ledger.Transaction, cardNumber string, expense ledger.Transaction, method string) ledger.ExpenseMatch {
	return ledger.ExpenseMatch{
		RepaymentTxnID:  r.Identifier,
		RepaymentVendor: r.Vendor,
		RepaymentDate:   r.Date,
		RepaymentAmount: r.AbsAmount(),
		CardNumber:      cardNumber,
		ExpenseTxnID:    expense.Identifier,
		ExpenseVendor:   expense.Vendor,
		ExpenseDate:     expense.Date,
		ExpenseAmount:   expense.AbsAmount(),
		Confidence:      1.0,
		Method:          method,
	}
}

func filterUsed(expenses []ledger.Transaction, used map[matchKey]bool) []ledger.Transaction {
	filtered := expenses[:0]
	for _, e := range expenses {
		if !used[matchKey{e.Identifier, e.Vendor}] {
			filtered = append(filtered, e)
		}
	}
	return filtered
}
