package cycles

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clarify-money/reconcile-backend/internal/domain/ledger"
	"github.com/clarify-money/reconcile-backend/internal/domain/textsig"
)

var testToday = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

func testKeywords() textsig.KeywordTable {
	return textsig.KeywordTable{
		"visaCal": {"כ.א.ל", "cal", "ויזה כאל", "visa cal"},
		"max":     {"מקס", "max"},
	}
}

func testPairing() ledger.AccountPairing {
	return ledger.AccountPairing{
		ID:                      1,
		CreditCardVendor:        "visaCal",
		CreditCardAccountNumber: "1456",
		BankVendor:              "discount",
		BankAccountNumber:       "0162490242",
		MatchPatterns:           []string{"כ.א.ל", "cal", "1456"},
		IsActive:                true,
	}
}

func bankRepayment(id, day, name string, amount float64) Repayment {
	return Repayment{
		Identifier: id,
		Vendor:     "discount",
		Date:       day + "T22:00:00.000Z",
		CycleDate:  day,
		Name:       name,
		Price:      -amount,
	}
}

func classifierInput(repayments []Repayment, totals map[string][]AccountTotal) Input {
	return Input{
		Pairing:        testPairing(),
		Repayments:     repayments,
		CCTotalsByDate: totals,
		EarliestCCDate: "2025-01-01",
		Today:          testToday,
		PeriodMonths:   6,
	}
}

func TestClassify_MatchedCycle(t *testing.T) {
	// Arrange
	c := New(DefaultTolerances(), testKeywords())
	in := classifierInput(
		[]Repayment{bankRepayment("r1", "2025-11-09", "כ.א.ל 1456", 3500)},
		map[string][]AccountTotal{"2025-11-09": {{AccountNumber: "1456", Total: 3500}}},
	)

	// Act
	d := c.Classify(in)

	// Assert
	require.Len(t, d.Cycles, 1)
	cycle := d.Cycles[0]
	assert.Equal(t, StatusMatched, cycle.Status)
	require.NotNil(t, cycle.Difference)
	assert.Equal(t, 0.0, *cycle.Difference)
	assert.Equal(t, 3500.0, cycle.BankTotal)
	assert.False(t, d.Exists)
	assert.Equal(t, 1, d.MatchedCycleCount)
}

func TestClassify_FeeCandidateCycle(t *testing.T) {
	c := New(DefaultTolerances(), testKeywords())
	in := classifierInput(
		[]Repayment{bankRepayment("r1", "2025-12-09", "כ.א.ל 1456", 3620)},
		map[string][]AccountTotal{"2025-12-09": {{AccountNumber: "1456", Total: 3500}}},
	)

	d := c.Classify(in)

	require.Len(t, d.Cycles, 1)
	assert.Equal(t, StatusFeeCandidate, d.Cycles[0].Status)
	assert.Equal(t, 120.0, *d.Cycles[0].Difference)
	assert.True(t, d.Exists)
}

func TestClassify_LargeDiscrepancyCycle(t *testing.T) {
	c := New(DefaultTolerances(), testKeywords())
	in := classifierInput(
		[]Repayment{bankRepayment("r1", "2025-12-09", "כ.א.ל 1456", 3900)},
		map[string][]AccountTotal{"2025-12-09": {{AccountNumber: "1456", Total: 3500}}},
	)

	d := c.Classify(in)

	require.Len(t, d.Cycles, 1)
	assert.Equal(t, StatusLargeDiscrepancy, d.Cycles[0].Status)
	assert.Equal(t, 400.0, *d.Cycles[0].Difference)
}

func TestClassify_CCOverBank(t *testing.T) {
	c := New(DefaultTolerances(), testKeywords())
	in := classifierInput(
		[]Repayment{bankRepayment("r1", "2025-12-09", "כ.א.ל 1456", 3000)},
		map[string][]AccountTotal{"2025-12-09": {{AccountNumber: "1456", Total: 3500}}},
	)

	d := c.Classify(in)

	assert.Equal(t, StatusCCOverBank, d.Cycles[0].Status)
}

func TestClassify_MissingCCCycle(t *testing.T) {
	c := New(DefaultTolerances(), testKeywords())
	in := classifierInput(
		[]Repayment{bankRepayment("r1", "2025-12-09", "כ.א.ל 1456", 3500)},
		map[string][]AccountTotal{},
	)

	d := c.Classify(in)

	require.Len(t, d.Cycles, 1)
	assert.Equal(t, StatusMissingCCCycle, d.Cycles[0].Status)
	assert.Nil(t, d.Cycles[0].CCTotal)
	assert.Nil(t, d.Cycles[0].Difference)
}

func TestClassify_IgnoresRepaymentsWithoutCardReference(t *testing.T) {
	c := New(DefaultTolerances(), testKeywords())
	in := classifierInput(
		[]Repayment{bankRepayment("r1", "2025-12-09", "העברה לחיסכון", 500)},
		map[string][]AccountTotal{},
	)

	d := c.Classify(in)

	assert.False(t, d.Exists)
	assert.Empty(t, d.Cycles)
	assert.Contains(t, d.Reason, "visaCal")
}

func TestClassify_MultiAccountEpsilonMatchWinsFirst(t *testing.T) {
	// Arrange - no explicit account filter on the billing side: two card
	// accounts billed the same day, the second within epsilon.
	c := New(DefaultTolerances(), testKeywords())
	pairing := testPairing()
	pairing.CreditCardAccountNumber = ""
	in := Input{
		Pairing:    pairing,
		Repayments: []Repayment{bankRepayment("r1", "2025-12-09", "חיוב cal", 3500)},
		CCTotalsByDate: map[string][]AccountTotal{
			"2025-12-09": {
				{AccountNumber: "1111", Total: 2000},
				{AccountNumber: "1456", Total: 3500.5},
			},
		},
		EarliestCCDate: "2025-01-01",
		Today:          testToday,
		PeriodMonths:   6,
	}

	// Act
	d := c.Classify(in)

	// Assert
	require.Len(t, d.Cycles, 1)
	assert.Equal(t, StatusMatched, d.Cycles[0].Status)
	assert.Equal(t, "1456", d.Cycles[0].MatchedAccount)
}

func TestClassify_FallsBackToPairedAccount(t *testing.T) {
	// Neither account lands within epsilon or fee range, so the
	// explicitly paired account decides the classification.
	c := New(DefaultTolerances(), testKeywords())
	in := classifierInput(
		[]Repayment{bankRepayment("r1", "2025-12-09", "כ.א.ל 1456", 4000)},
		map[string][]AccountTotal{
			"2025-12-09": {
				{AccountNumber: "1111", Total: 100},
				{AccountNumber: "1456", Total: 3500},
			},
		},
	)

	d := c.Classify(in)

	require.Len(t, d.Cycles, 1)
	assert.Equal(t, StatusLargeDiscrepancy, d.Cycles[0].Status)
	assert.Equal(t, "1456", d.Cycles[0].MatchedAccount)
	assert.Equal(t, 500.0, *d.Cycles[0].Difference)
}

func TestClassify_NegativeBilledTotalClampedToZero(t *testing.T) {
	c := New(DefaultTolerances(), testKeywords())
	in := classifierInput(
		[]Repayment{bankRepayment("r1", "2025-12-09", "כ.א.ל 1456", 50)},
		map[string][]AccountTotal{"2025-12-09": {{AccountNumber: "1456", Total: -30}}},
	)

	d := c.Classify(in)

	require.NotNil(t, d.Cycles[0].CCTotal)
	assert.Equal(t, 0.0, *d.Cycles[0].CCTotal)
	assert.Equal(t, StatusFeeCandidate, d.Cycles[0].Status)
}

func TestClassify_RecentGraceRelabelsActionable(t *testing.T) {
	// A fee-sized gap dated within 14 days of today is not actionable yet.
	c := New(DefaultTolerances(), testKeywords())
	day := testToday.AddDate(0, 0, -5).Format(ledger.DayLayout)
	in := classifierInput(
		[]Repayment{bankRepayment("r1", day, "כ.א.ל 1456", 3620)},
		map[string][]AccountTotal{day: {{AccountNumber: "1456", Total: 3500}}},
	)

	d := c.Classify(in)

	assert.Equal(t, StatusIncompleteHistory, d.Cycles[0].Status)
	assert.False(t, d.Exists)
}

func TestClassify_EarlyGraceRelabelsActionable(t *testing.T) {
	c := New(DefaultTolerances(), testKeywords())
	in := classifierInput(
		[]Repayment{bankRepayment("r1", "2025-01-10", "כ.א.ל 1456", 3620)},
		map[string][]AccountTotal{"2025-01-10": {{AccountNumber: "1456", Total: 3500}}},
	)
	in.EarliestCCDate = "2025-01-01"

	d := c.Classify(in)

	assert.Equal(t, StatusIncompleteHistory, d.Cycles[0].Status)
}

func TestClassify_GraceDoesNotTouchMatchedCycles(t *testing.T) {
	c := New(DefaultTolerances(), testKeywords())
	day := testToday.AddDate(0, 0, -3).Format(ledger.DayLayout)
	in := classifierInput(
		[]Repayment{bankRepayment("r1", day, "כ.א.ל 1456", 3500)},
		map[string][]AccountTotal{day: {{AccountNumber: "1456", Total: 3500}}},
	)

	d := c.Classify(in)

	assert.Equal(t, StatusMatched, d.Cycles[0].Status)
}

func TestClassify_AggregateExcludesIncompleteHistory(t *testing.T) {
	// Arrange - one settled matched cycle and one in-flight cycle.
	c := New(DefaultTolerances(), testKeywords())
	recent := testToday.AddDate(0, 0, -2).Format(ledger.DayLayout)
	in := classifierInput(
		[]Repayment{
			bankRepayment("r1", "2025-11-09", "כ.א.ל 1456", 3500),
			bankRepayment("r2", recent, "כ.א.ל 1456", 3620),
		},
		map[string][]AccountTotal{
			"2025-11-09": {{AccountNumber: "1456", Total: 3500}},
			recent:       {{AccountNumber: "1456", Total: 3500}},
		},
	)

	// Act
	d := c.Classify(in)

	// Assert - totals only include the November cycle.
	assert.Equal(t, 3500.0, d.TotalBankRepayments)
	assert.Equal(t, 3500.0, d.TotalCCExpenses)
	assert.Equal(t, 0.0, d.Difference)
	assert.Equal(t, 2, d.TotalCycles)
	assert.Equal(t, 1, d.MatchedCycleCount)
}

func TestClassify_AcknowledgedSuppressesExists(t *testing.T) {
	c := New(DefaultTolerances(), testKeywords())
	pairing := testPairing()
	pairing.DiscrepancyAcknowledged = true
	in := classifierInput(
		[]Repayment{bankRepayment("r1", "2025-12-09", "כ.א.ל 1456", 3900)},
		map[string][]AccountTotal{"2025-12-09": {{AccountNumber: "1456", Total: 3500}}},
	)
	in.Pairing = pairing

	d := c.Classify(in)

	assert.False(t, d.Exists)
	assert.True(t, d.Acknowledged)
	assert.Equal(t, StatusLargeDiscrepancy, d.Cycles[0].Status)
}

func TestClassify_CyclesSortedNewestFirst(t *testing.T) {
	c := New(DefaultTolerances(), testKeywords())
	in := classifierInput(
		[]Repayment{
			bankRepayment("r1", "2025-10-09", "כ.א.ל 1456", 1000),
			bankRepayment("r2", "2025-12-09", "כ.א.ל 1456", 1000),
			bankRepayment("r3", "2025-11-09", "כ.א.ל 1456", 1000),
		},
		map[string][]AccountTotal{},
	)

	d := c.Classify(in)

	require.Len(t, d.Cycles, 3)
	assert.Equal(t, "2025-12-09", d.Cycles[0].CycleDate)
	assert.Equal(t, "2025-11-09", d.Cycles[1].CycleDate)
	assert.Equal(t, "2025-10-09", d.Cycles[2].CycleDate)
}

func TestClassify_MissingVendorsYieldEmptyResult(t *testing.T) {
	c := New(DefaultTolerances(), testKeywords())
	pairing := testPairing()
	pairing.BankVendor = ""

	d := c.Classify(Input{Pairing: pairing, Today: testToday, PeriodMonths: 6})

	assert.False(t, d.Exists)
	assert.Empty(t, d.Cycles)
}
