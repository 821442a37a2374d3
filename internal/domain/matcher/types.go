package matcher

import (
	"context"
	"time"

	"github.com/clarify-money/reconcile-backend/internal/domain/ledger"
)

// Config holds the matching thresholds. Amounts are in currency units.
type Config struct {
	// SauvageDayThreshold flags repayments later in the month than the
	// usual billing window as out-of-cycle.
	SauvageDayThreshold int
	// LargeAmount and LargeAmountTolerance detect big single-purchase
	// payoffs with a loosely matching recent expense.
	LargeAmount          float64
	LargeAmountTolerance float64
	// ImmediateTolerance is the near-exact window for a single-expense
	// sauvage match.
	ImmediateTolerance float64
	// ImmediateLookbackDays bounds how far back a sauvage expense may be.
	ImmediateLookbackDays int
	// AccumulationTolerance allows small over/under matching when
	// accumulating billing-period expenses.
	AccumulationTolerance float64
	// MonthlyLookbackDays / SauvageLookbackDays bound carryover reach.
	MonthlyLookbackDays int
	SauvageLookbackDays int
}

// DefaultConfig returns the production matching thresholds.
func DefaultConfig() Config {
	return Config{
		SauvageDayThreshold:   15,
		LargeAmount:           1000,
		LargeAmountTolerance:  5,
		ImmediateTolerance:    1,
		ImmediateLookbackDays: 7,
		AccumulationTolerance: 2,
		MonthlyLookbackDays:   90,
		SauvageLookbackDays:   365,
	}
}

// ExpenseSource fetches a card's expense transactions for a day range,
// ordered by date then description ascending. From and to are inclusive
// day keys.
type ExpenseSource interface {
	ExpensesInRange(ctx context.Context, vendor, accountNumber, fromDay, toDay string) ([]ledger.Transaction, error)
}

// PeriodResolver derives the billing period a repayment settles.
type PeriodResolver interface {
	BillingPeriod(repaymentDay time.Time) (start, end time.Time)
}

// CalendarMonthResolver assumes a repayment settles the full calendar
// month before its own: a Nov 9 payment covers Oct 1 through Oct 31.
// Real billing cycles do not align to calendar months for every
// institution; configure a per-vendor resolver when they don't.
type CalendarMonthResolver struct{}

// BillingPeriod returns the first and last day of the month preceding the
// repayment's month.
func (CalendarMonthResolver) BillingPeriod(repaymentDay time.Time) (time.Time, time.Time) {
	first := time.Date(repaymentDay.Year(), repaymentDay.Month(), 1, 0, 0, 0, 0, time.UTC)
	start := first.AddDate(0, -1, 0)
	end := first.AddDate(0, 0, -1)
	return start, end
}

// CycleStartResolver models an institution whose billing cycle starts on
// a fixed day of the month. A repayment settles the most recently closed
// cycle: with StartDay 10, a Nov 9 payment covers Sep 10 through Oct 9,
// and a Nov 12 payment covers Oct 10 through Nov 9.
type CycleStartResolver struct {
	StartDay int
}

// BillingPeriod returns the last closed cycle before the repayment day.
func (r CycleStartResolver) BillingPeriod(repaymentDay time.Time) (time.Time, time.Time) {
	day := r.StartDay
	if day < 1 || day > 28 {
		day = 1
	}
	end := time.Date(repaymentDay.Year(), repaymentDay.Month(), day, 0, 0, 0, 0, time.UTC)
	if !repaymentDay.After(end) {
		end = end.AddDate(0, -1, 0)
	}
	start := end.AddDate(0, -1, 0)
	return start, end.AddDate(0, 0, -1)
}

// Terminal outcome states per repayment.
const (
	OutcomeMatchedSauvage       = "matched_sauvage"
	OutcomeMatchedChronological = "matched_chronological"
	OutcomeMatchedWithCarryover = "matched_with_carryover"
	OutcomeUnmatchedNoExpenses  = "unmatched_no_expenses"
	OutcomeUnmatchedUnknownCard = "unmatched_unknown_card"
)

// Outcome records what happened to one repayment during a run.
type Outcome struct {
	RepaymentID     string  `json:"repaymentId"`
	RepaymentName   string  `json:"repaymentName"`
	RepaymentDate   string  `json:"repaymentDate"`
	RepaymentAmount float64 `json:"repaymentAmount"`
	State           string  `json:"state"`
	CardNumber      string  `json:"cardNumber,omitempty"`
	CardVendor      string  `json:"cardVendor,omitempty"`
	MatchedCount    int     `json:"matchedCount"`
	MatchedSum      float64 `json:"matchedSum"`
	Difference      float64 `json:"difference"`
	PerfectMatch    bool    `json:"perfectMatch"`
}

// matchKey identifies an expense across vendors; one run never matches
// the same key twice.
type matchKey struct {
	id     string
	vendor string
}
