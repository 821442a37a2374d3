// Package recon orchestrates the reconciliation engine: it loads ledger
// rows through storage, feeds the pure domain components, and persists
// match results.
package recon

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/clarify-money/reconcile-backend/internal/domain/cycles"
	"github.com/clarify-money/reconcile-backend/internal/domain/discovery"
	"github.com/clarify-money/reconcile-backend/internal/domain/ledger"
	"github.com/clarify-money/reconcile-backend/internal/domain/matcher"
	"github.com/clarify-money/reconcile-backend/internal/domain/textsig"
	"github.com/clarify-money/reconcile-backend/internal/infrastructure/config"
	"github.com/clarify-money/reconcile-backend/internal/infrastructure/storage"
)

// Service wires storage and configuration to the domain components.
type Service struct {
	store  storage.Store
	cfg    *config.Config
	logger *slog.Logger
	now    func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates the reconciliation service.
func NewService(store storage.Store, cfg *config.Config, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:  store,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) keywords() textsig.KeywordTable {
	return textsig.KeywordTable(s.cfg.Reconciliation.VendorKeywords)
}

func (s *Service) tolerances() cycles.Tolerances {
	r := s.cfg.Reconciliation
	return cycles.Tolerances{
		Epsilon:         r.Epsilon,
		MaxFeeAmount:    r.MaxFee,
		EarlyGraceDays:  r.EarlyGraceDays,
		RecentGraceDays: r.RecentGraceDays,
	}
}

// DiscoverBankAccount locates the bank account repaying the given card.
// A request without an account number is seeded with the card fragments
// stored on the vendor's credential, when one exists.
func (s *Service) DiscoverBankAccount(req discovery.Request) (discovery.Result, error) {
	if req.CreditCardAccountNumber == "" && len(req.CardFragments) == 0 {
		creds, err := s.store.VendorCredentials()
		if err != nil {
			return discovery.Result{}, fmt.Errorf("loading vendor credentials: %w", err)
		}
		for _, c := range creds {
			if c.Vendor == req.CreditCardVendor && c.InstitutionKind == "credit_card" {
				req.CardFragments = c.CardFragments
				break
			}
		}
	}

	limit := s.cfg.Reconciliation.DiscoveryLimit
	if limit <= 0 {
		limit = discovery.DefaultLimit
	}
	rows, err := s.store.RepaymentCandidates(s.keywords().Vendors(), limit)
	if err != nil {
		return discovery.Result{}, fmt.Errorf("loading repayment candidates: %w", err)
	}

	if req.BankVendorFilter != "" || req.BankAccountFilter != "" {
		filtered := rows[:0]
		for _, row := range rows {
			if req.BankVendorFilter != "" && row.Vendor != req.BankVendorFilter {
				continue
			}
			if req.BankAccountFilter != "" && row.AccountNumber != req.BankAccountFilter {
				continue
			}
			filtered = append(filtered, row)
		}
		rows = filtered
	}

	return discovery.New(s.keywords()).Score(req, rows)
}

// CreatePairingFromDiscovery persists a pairing from a successful
// discovery result and returns the new pairing id.
func (s *Service) CreatePairingFromDiscovery(req discovery.Request, result discovery.Result) (int64, error) {
	if !result.Found {
		return 0, fmt.Errorf("cannot create pairing: %s", result.Reason)
	}

	id, err := s.store.CreatePairing(ledger.AccountPairing{
		CreditCardVendor:        req.CreditCardVendor,
		CreditCardAccountNumber: req.CreditCardAccountNumber,
		BankVendor:              result.BankVendor,
		BankAccountNumber:       result.BankAccountNumber,
		MatchPatterns:           result.MatchPatterns,
		IsActive:                true,
	})
	if err != nil {
		return 0, err
	}
	s.logger.Info("pairing created",
		"id", id,
		"ccVendor", req.CreditCardVendor,
		"bankVendor", result.BankVendor)
	return id, nil
}

// PairingDiscrepancy couples a pairing with its classified discrepancy.
type PairingDiscrepancy struct {
	Pairing     ledger.AccountPairing `json:"pairing"`
	Discrepancy cycles.Discrepancy    `json:"discrepancy"`
}

// AllDiscrepancies classifies every active pairing. Pairings sharing one
// bank account are classified together so ambiguous repayments are
// allocated instead of double counted. A failing group is logged and
// skipped; one broken pairing must not take down the whole report.
func (s *Service) AllDiscrepancies() ([]PairingDiscrepancy, error) {
	pairings, err := s.store.ActivePairings()
	if err != nil {
		return nil, fmt.Errorf("loading pairings: %w", err)
	}

	today := s.now()
	fromDay := ledger.SubtractCalendarMonths(today, s.cfg.Reconciliation.PeriodMonths).Format(ledger.DayLayout)

	groupIndex := make(map[string][]ledger.AccountPairing)
	var groupOrder []string
	for _, p := range pairings {
		key := p.BankVendor + "|" + p.BankAccountNumber
		if _, ok := groupIndex[key]; !ok {
			groupOrder = append(groupOrder, key)
		}
		groupIndex[key] = append(groupIndex[key], p)
	}

	var out []PairingDiscrepancy
	for _, key := range groupOrder {
		group := groupIndex[key]
		results, err := s.classifyBankGroup(group, today, fromDay)
		if err != nil {
			s.logger.Warn("skipping bank group", "group", key, "error", err)
			continue
		}
		for _, p := range group {
			out = append(out, PairingDiscrepancy{Pairing: p, Discrepancy: results[p.ID]})
		}
	}
	return out, nil
}

// DiscrepancyForPairing classifies one pairing. When other active
// pairings share its bank account, allocation runs over the whole group
// and this pairing's slice is returned.
func (s *Service) DiscrepancyForPairing(id int64) (PairingDiscrepancy, error) {
	pairing, err := s.store.PairingByID(id)
	if err != nil {
		return PairingDiscrepancy{}, err
	}

	today := s.now()
	fromDay := ledger.SubtractCalendarMonths(today, s.cfg.Reconciliation.PeriodMonths).Format(ledger.DayLayout)

	group := []ledger.AccountPairing{pairing}
	if pairing.IsActive {
		active, err := s.store.ActivePairings()
		if err != nil {
			return PairingDiscrepancy{}, err
		}
		group = group[:0]
		for _, p := range active {
			if p.BankVendor == pairing.BankVendor && p.BankAccountNumber == pairing.BankAccountNumber {
				group = append(group, p)
			}
		}
	}

	results, err := s.classifyBankGroup(group, today, fromDay)
	if err != nil {
		return PairingDiscrepancy{}, err
	}
	return PairingDiscrepancy{Pairing: pairing, Discrepancy: results[id]}, nil
}

// AdHocDiscrepancy classifies a card and bank account combination that
// has no stored pairing.
func (s *Service) AdHocDiscrepancy(ccVendor, ccAccount, bankVendor, bankAccount string) (cycles.Discrepancy, error) {
	pairing := ledger.AccountPairing{
		CreditCardVendor:        ccVendor,
		CreditCardAccountNumber: ccAccount,
		BankVendor:              bankVendor,
		BankAccountNumber:       bankAccount,
	}
	today := s.now()
	fromDay := ledger.SubtractCalendarMonths(today, s.cfg.Reconciliation.PeriodMonths).Format(ledger.DayLayout)
	return s.classifySingle(pairing, today, fromDay)
}

// classifyBankGroup dispatches between the single-pairing and allocation
// paths and returns one discrepancy per pairing id.
func (s *Service) classifyBankGroup(group []ledger.AccountPairing, today time.Time, fromDay string) (map[int64]cycles.Discrepancy, error) {
	if len(group) == 1 {
		d, err := s.classifySingle(group[0], today, fromDay)
		if err != nil {
			return nil, err
		}
		return map[int64]cycles.Discrepancy{group[0].ID: d}, nil
	}

	rows, err := s.store.BankRepayments(group[0].BankVendor, group[0].BankAccountNumber, fromDay, today.Format(ledger.DayLayout))
	if err != nil {
		return nil, err
	}

	in := cycles.GroupInput{
		Pairings:                group,
		Repayments:              toRepayments(rows),
		CCTotalsByPairing:       make(map[int64]map[string]float64, len(group)),
		EarliestCCDateByPairing: make(map[int64]string, len(group)),
		Today:                   today,
		PeriodMonths:            s.cfg.Reconciliation.PeriodMonths,
	}
	for _, p := range group {
		totals, err := s.store.CCTotalsByDay(p.CreditCardVendor, p.CreditCardAccountNumber, fromDay)
		if err != nil {
			return nil, err
		}
		in.CCTotalsByPairing[p.ID] = totals
		earliest, err := s.store.EarliestCCActivity(p.CreditCardVendor, p.CreditCardAccountNumber)
		if err != nil {
			return nil, err
		}
		in.EarliestCCDateByPairing[p.ID] = earliest
	}

	classifier := cycles.New(s.tolerances(), s.keywords())
	result, err := classifier.ClassifyGroup(in)
	if err != nil {
		return nil, err
	}
	if len(result.Unassigned) > 0 {
		s.logger.Info("repayments left unassigned in bank group",
			"bankVendor", group[0].BankVendor,
			"count", len(result.Unassigned))
	}
	return result.Discrepancies, nil
}

func (s *Service) classifySingle(pairing ledger.AccountPairing, today time.Time, fromDay string) (cycles.Discrepancy, error) {
	rows, err := s.store.BankRepayments(pairing.BankVendor, pairing.BankAccountNumber, fromDay, today.Format(ledger.DayLayout))
	if err != nil {
		return cycles.Discrepancy{}, err
	}
	totals, err := s.billedTotals(pairing, fromDay)
	if err != nil {
		return cycles.Discrepancy{}, err
	}
	earliest, err := s.store.EarliestCCActivity(pairing.CreditCardVendor, pairing.CreditCardAccountNumber)
	if err != nil {
		return cycles.Discrepancy{}, err
	}

	classifier := cycles.New(s.tolerances(), s.keywords())
	return classifier.Classify(cycles.Input{
		Pairing:        pairing,
		Repayments:     toRepayments(rows),
		CCTotalsByDate: totals,
		EarliestCCDate: earliest,
		Today:          today,
		PeriodMonths:   s.cfg.Reconciliation.PeriodMonths,
	}), nil
}

// billedTotals loads the card-side totals a pairing is compared against.
// When the pairing names a card account only that account's rows may
// settle a cycle; the cross-account view is reserved for pairings that
// leave the account open.
func (s *Service) billedTotals(pairing ledger.AccountPairing, fromDay string) (map[string][]cycles.AccountTotal, error) {
	if pairing.CreditCardAccountNumber == "" {
		return s.store.CCDailyTotals(pairing.CreditCardVendor, fromDay)
	}

	byDay, err := s.store.CCTotalsByDay(pairing.CreditCardVendor, pairing.CreditCardAccountNumber, fromDay)
	if err != nil {
		return nil, err
	}
	totals := make(map[string][]cycles.AccountTotal, len(byDay))
	for day, total := range byDay {
		totals[day] = []cycles.AccountTotal{{AccountNumber: pairing.CreditCardAccountNumber, Total: total}}
	}
	return totals, nil
}

// AcknowledgeDiscrepancy marks a pairing's current discrepancy as seen.
func (s *Service) AcknowledgeDiscrepancy(pairingID int64, acknowledged bool) error {
	return s.store.AcknowledgeDiscrepancy(pairingID, acknowledged)
}

// MatchReport is the output of one matching run.
type MatchReport struct {
	RunID               string                `json:"runId,omitempty"`
	DryRun              bool                  `json:"dryRun"`
	RepaymentsProcessed int                   `json:"repaymentsProcessed"`
	Matches             []ledger.ExpenseMatch `json:"matches"`
	Outcomes            []matcher.Outcome     `json:"outcomes"`
}

// MatchExpenses attributes card expenses to the completed repayments of
// the last year and replaces the stored match set, unless dryRun is set.
func (s *Service) MatchExpenses(ctx context.Context, dryRun bool) (MatchReport, error) {
	pairings, err := s.store.ActivePairings()
	if err != nil {
		return MatchReport{}, fmt.Errorf("loading pairings: %w", err)
	}

	mc := s.cfg.Matcher
	fromDay := s.now().AddDate(0, 0, -mc.SauvageLookbackDays).Format(ledger.DayLayout)
	repayments, err := s.store.CompletedRepayments(fromDay)
	if err != nil {
		return MatchReport{}, fmt.Errorf("loading repayments: %w", err)
	}

	opts := []matcher.Option{matcher.WithLogger(s.logger)}
	for vendor, startDay := range mc.VendorCycleStartDay {
		opts = append(opts, matcher.WithVendorPeriodResolver(vendor, matcher.CycleStartResolver{StartDay: startDay}))
	}

	m := matcher.New(matcher.Config{
		SauvageDayThreshold:   mc.SauvageDayThreshold,
		LargeAmount:           mc.LargeAmount,
		LargeAmountTolerance:  mc.LargeAmountTolerance,
		ImmediateTolerance:    mc.ImmediateTolerance,
		ImmediateLookbackDays: mc.ImmediateLookbackDays,
		AccumulationTolerance: mc.AccumulationTolerance,
		MonthlyLookbackDays:   mc.MonthlyLookbackDays,
		SauvageLookbackDays:   mc.SauvageLookbackDays,
	}, pairings, s.store, opts...)

	matches, outcomes, err := m.Run(ctx, repayments)
	if err != nil {
		return MatchReport{}, err
	}

	report := MatchReport{
		DryRun:              dryRun,
		RepaymentsProcessed: len(repayments),
		Matches:             matches,
		Outcomes:            outcomes,
	}

	if dryRun {
		s.logger.Info("dry run, matches not persisted", "matches", len(matches))
		return report, nil
	}

	report.RunID = uuid.NewString()
	if err := s.store.ReplaceExpenseMatches(ctx, report.RunID, len(repayments), matches); err != nil {
		return MatchReport{}, fmt.Errorf("persisting matches: %w", err)
	}
	s.logger.Info("match run persisted",
		"runId", report.RunID,
		"repayments", len(repayments),
		"matches", len(matches))
	return report, nil
}

func toRepayments(rows []ledger.Transaction) []cycles.Repayment {
	out := make([]cycles.Repayment, 0, len(rows))
	for _, row := range rows {
		out = append(out, cycles.Repayment{
			Identifier:    row.Identifier,
			Vendor:        row.Vendor,
			AccountNumber: row.AccountNumber,
			Date:          row.Date,
			CycleDate:     ledger.DayKey(row.Date),
			Name:          row.Name,
			Price:         row.Price,
		})
	}
	return out
}
