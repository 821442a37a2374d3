// Package cycles classifies monthly repayment cycles for credit-card to
// bank-account pairings, and allocates repayments across pairings that
// share one bank account.
package cycles

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/clarify-money/reconcile-backend/internal/domain/ledger"
	"github.com/clarify-money/reconcile-backend/internal/domain/textsig"
)

// Classifier turns bank repayments and card billing totals into cycle
// statuses and an aggregate discrepancy.
type Classifier struct {
	tol      Tolerances
	keywords textsig.KeywordTable
}

// New creates a Classifier with the given tolerances and vendor keyword
// table.
func New(tol Tolerances, keywords textsig.KeywordTable) *Classifier {
	return &Classifier{tol: tol, keywords: keywords}
}

// Classify computes the per-cycle breakdown and aggregate discrepancy for
// one pairing. Data absence (no matching repayments) yields an
// Exists=false result with a reason, never an error.
func (c *Classifier) Classify(in Input) Discrepancy {
	pairing := in.Pairing
	if pairing.BankVendor == "" || pairing.CreditCardVendor == "" {
		return Discrepancy{Exists: false, Acknowledged: pairing.DiscrepancyAcknowledged, PeriodMonths: in.PeriodMonths}
	}

	ccLast4 := textsig.AccountLast4(pairing.CreditCardAccountNumber)

	var matching []Repayment
	for _, r := range in.Repayments {
		if c.repaymentMatchesCard(r.Name, pairing.CreditCardVendor, ccLast4) {
			matching = append(matching, r)
		}
	}
	if len(matching) == 0 {
		return Discrepancy{
			Exists:       false,
			Acknowledged: pairing.DiscrepancyAcknowledged,
			Reason:       fmt.Sprintf("no bank repayments found matching this credit card (%s %s)", pairing.CreditCardVendor, ccLast4),
			PeriodMonths: in.PeriodMonths,
		}
	}

	buckets, order := bucketByCycleDate(matching)

	cycles := make([]Cycle, 0, len(order))
	for _, dateKey := range order {
		bucket := buckets[dateKey]
		cycles = append(cycles, c.classifyCycle(dateKey, bucket, in.CCTotalsByDate[dateKey], pairing.CreditCardAccountNumber))
	}

	sort.Slice(cycles, func(i, j int) bool { return cycles[i].CycleDate > cycles[j].CycleDate })

	c.applyGracePeriods(cycles, in.EarliestCCDate, in.Today)

	return c.aggregate(cycles, pairing.DiscrepancyAcknowledged, in.PeriodMonths, "")
}

type bucket struct {
	repayments []Repayment
	bankTotal  float64
}

func bucketByCycleDate(repayments []Repayment) (map[string]*bucket, []string) {
	buckets := make(map[string]*bucket)
	var order []string
	for _, r := range repayments {
		b, ok := buckets[r.CycleDate]
		if !ok {
			b = &bucket{}
			buckets[r.CycleDate] = b
			order = append(order, r.CycleDate)
		}
		b.repayments = append(b.repayments, r)
		b.bankTotal += r.Amount()
	}
	return buckets, order
}

// classifyCycle compares one day's bank total against the card's billing
// rows for that day. When the pairing has no explicit card account and
// several accounts billed that day, the first row landing within epsilon
// wins; failing that a fee-sized shortfall keeps the last qualifying row;
// failing both, the explicitly paired account (if billed) decides.
func (c *Classifier) classifyCycle(dateKey string, b *bucket, ccRows []AccountTotal, pairedAccount string) Cycle {
	cycle := Cycle{
		CycleDate:  dateKey,
		BankTotal:  round2(b.bankTotal),
		Repayments: b.repayments,
		Status:     StatusMissingCCCycle,
	}

	for _, row := range ccRows {
		rowTotal := math.Max(0, row.Total)
		diffAbs := math.Abs(b.bankTotal - rowTotal)
		if diffAbs <= c.tol.Epsilon {
			cycle.CCTotal = ptr(round2(rowTotal))
			cycle.Difference = ptr(round2(b.bankTotal - rowTotal))
			cycle.MatchedAccount = row.AccountNumber
			cycle.Status = StatusMatched
			return cycle
		}
		if diffAbs <= c.tol.MaxFeeAmount && b.bankTotal > rowTotal {
			cycle.CCTotal = ptr(round2(rowTotal))
			cycle.Difference = ptr(round2(b.bankTotal - rowTotal))
			cycle.MatchedAccount = row.AccountNumber
			cycle.Status = StatusFeeCandidate
		}
	}

	if cycle.Status == StatusMissingCCCycle && pairedAccount != "" {
		for _, row := range ccRows {
			if row.AccountNumber != pairedAccount {
				continue
			}
			rowTotal := math.Max(0, row.Total)
			diff := b.bankTotal - rowTotal
			cycle.CCTotal = ptr(round2(rowTotal))
			cycle.Difference = ptr(round2(diff))
			cycle.MatchedAccount = pairedAccount
			cycle.Status = statusForDiff(diff, c.tol)
			break
		}
	}

	return cycle
}

func statusForDiff(diff float64, tol Tolerances) string {
	switch {
	case math.Abs(diff) <= tol.Epsilon:
		return StatusMatched
	case diff > 0 && diff <= tol.MaxFeeAmount:
		return StatusFeeCandidate
	case diff > tol.MaxFeeAmount:
		return StatusLargeDiscrepancy
	default:
		return StatusCCOverBank
	}
}

// applyGracePeriods relabels actionable cycles as incomplete_history when
// they fall too close to the card's earliest activity or to today.
func (c *Classifier) applyGracePeriods(cycles []Cycle, earliestCCDate string, today time.Time) {
	var earliest time.Time
	haveEarliest := false
	if earliestCCDate != "" {
		if d, err := ledger.ParseDay(earliestCCDate); err == nil {
			earliest = d
			haveEarliest = true
		}
	}

	for i := range cycles {
		if !Actionable(cycles[i].Status) {
			continue
		}
		cycleDate, err := ledger.ParseDay(cycles[i].CycleDate)
		if err != nil {
			continue
		}
		if haveEarliest && daysBetween(earliest, cycleDate) <= c.tol.EarlyGraceDays {
			cycles[i].Status = StatusIncompleteHistory
			continue
		}
		if age := daysBetween(cycleDate, today); age >= 0 && age <= c.tol.RecentGraceDays {
			cycles[i].Status = StatusIncompleteHistory
		}
	}
}

func daysBetween(from, to time.Time) int {
	return int(to.Sub(from).Hours() / 24)
}

func (c *Classifier) aggregate(cycles []Cycle, acknowledged bool, periodMonths int, method string) Discrepancy {
	var totalBank, totalCC float64
	for _, cy := range cycles {
		if cy.CCTotal == nil || cy.Status == StatusIncompleteHistory {
			continue
		}
		totalBank += cy.BankTotal
		totalCC += *cy.CCTotal
	}
	totalDiff := totalBank - totalCC

	hasDiscrepancy := false
	matched := 0
	for _, cy := range cycles {
		if Actionable(cy.Status) {
			hasDiscrepancy = true
		}
		if cy.Status == StatusMatched {
			matched++
		}
	}

	pct := 0.0
	if totalCC > 0 {
		pct = round2(totalDiff / totalCC * 100)
	}

	return Discrepancy{
		Exists:               hasDiscrepancy && !acknowledged,
		Acknowledged:         acknowledged,
		TotalBankRepayments:  round2(totalBank),
		TotalCCExpenses:      round2(totalCC),
		Difference:           round2(totalDiff),
		DifferencePercentage: pct,
		PeriodMonths:         periodMonths,
		MatchedCycleCount:    matched,
		TotalCycles:          len(cycles),
		Cycles:               cycles,
		Method:               method,
	}
}

// repaymentMatchesCard reports whether a repayment description references
// the card by last-4 or by vendor keyword.
func (c *Classifier) repaymentMatchesCard(name, ccVendor, ccLast4 string) bool {
	if name == "" {
		return false
	}
	if ccLast4 != "" && strings.Contains(name, ccLast4) {
		return true
	}
	return c.keywords.ContainsVendor(name, ccVendor)
}
