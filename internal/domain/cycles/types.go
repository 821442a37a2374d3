package cycles

import (
	"math"
	"time"

	"github.com/clarify-money/reconcile-backend/internal/domain/ledger"
)

// Cycle statuses. A cycle compares one day's bank repayments against the
// card total billed that day.
const (
	StatusMatched           = "matched"
	StatusFeeCandidate      = "fee_candidate"
	StatusLargeDiscrepancy  = "large_discrepancy"
	StatusCCOverBank        = "cc_over_bank"
	StatusMissingCCCycle    = "missing_cc_cycle"
	StatusIncompleteHistory = "incomplete_history"
)

// Actionable reports whether a status needs the user's attention.
func Actionable(status string) bool {
	switch status {
	case StatusFeeCandidate, StatusLargeDiscrepancy, StatusCCOverBank, StatusMissingCCCycle:
		return true
	}
	return false
}

// Tolerances control cycle classification.
type Tolerances struct {
	// Epsilon is the amount slack under which bank and card totals count
	// as matched.
	Epsilon float64
	// MaxFeeAmount caps how much extra on the bank side is still
	// plausibly a card fee.
	MaxFeeAmount float64
	// EarlyGraceDays suppresses actionable statuses near the card's
	// earliest observed activity, where history is incomplete.
	EarlyGraceDays int
	// RecentGraceDays suppresses actionable statuses near today, where a
	// billing row may still be in flight.
	RecentGraceDays int
}

// DefaultTolerances returns the production thresholds.
func DefaultTolerances() Tolerances {
	return Tolerances{
		Epsilon:         1.0,
		MaxFeeAmount:    200.0,
		EarlyGraceDays:  14,
		RecentGraceDays: 14,
	}
}

// Repayment is one bank-side repayment transaction.
type Repayment struct {
	Identifier    string  `json:"identifier"`
	Vendor        string  `json:"vendor"`
	AccountNumber string  `json:"accountNumber,omitempty"`
	Date          string  `json:"date"`
	CycleDate     string  `json:"cycleDate"`
	Name          string  `json:"name"`
	Price         float64 `json:"price"`
}

// Amount is the unsigned repayment amount.
func (r Repayment) Amount() float64 {
	return math.Abs(r.Price)
}

// AccountTotal is one card account's billed total for a single day,
// already fee-waiver adjusted but not yet clamped.
type AccountTotal struct {
	AccountNumber string
	Total         float64
}

// Cycle is one day's comparison. CCTotal and Difference are nil when the
// card has no billing row for the date at all.
type Cycle struct {
	CycleDate      string      `json:"cycleDate"`
	BankTotal      float64     `json:"bankTotal"`
	CCTotal        *float64    `json:"ccTotal"`
	Difference     *float64    `json:"difference"`
	Repayments     []Repayment `json:"repayments"`
	Status         string      `json:"status"`
	MatchedAccount string      `json:"matchedAccount,omitempty"`
}

// Discrepancy aggregates a pairing's cycles over the analysis window.
type Discrepancy struct {
	Exists               bool    `json:"exists"`
	Acknowledged         bool    `json:"acknowledged"`
	Reason               string  `json:"reason,omitempty"`
	TotalBankRepayments  float64 `json:"totalBankRepayments"`
	TotalCCExpenses      float64 `json:"totalCCExpenses"`
	Difference           float64 `json:"difference"`
	DifferencePercentage float64 `json:"differencePercentage"`
	PeriodMonths         int     `json:"periodMonths"`
	MatchedCycleCount    int     `json:"matchedCycleCount"`
	TotalCycles          int     `json:"totalCycles"`
	Cycles               []Cycle `json:"cycles"`
	Method               string  `json:"method,omitempty"`
}

// Input feeds Classify for a single pairing. Repayments must already be
// window- and category-filtered bank rows for the pairing's bank account;
// CCTotalsByDate carries the card's fee-adjusted billed totals per day,
// one entry per card account on that day.
type Input struct {
	Pairing        ledger.AccountPairing
	Repayments     []Repayment
	CCTotalsByDate map[string][]AccountTotal
	// EarliestCCDate is the card's first observed billing day ("" when
	// unknown), used for the early grace window.
	EarliestCCDate string
	Today          time.Time
	PeriodMonths   int
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func ptr(v float64) *float64 {
	return &v
}
