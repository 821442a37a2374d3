package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clarify-money/reconcile-backend/internal/domain/ledger"
)

func testRules() Rules {
	return Rules{
		Repayment: CategoryFilter{
			Name:   []string{"פרעון כרטיס אשראי"},
			NameEN: []string{"Credit Card Repayment"},
		},
		CardFees: CategoryFilter{
			Name:   []string{"עמלות בנק וכרטיס"},
			NameEN: []string{"Bank & Card Fees"},
		},
		FeeMarker:     "דמי כרטיס",
		WaiverMarkers: []string{"פטור", "הנחה"},
	}
}

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := NewStorage(filepath.Join(t.TempDir(), "ledger.db"), testRules())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func catPtr(id int64) *int64 { return &id }

// seedCategories creates the repayment and fee categories and returns
// their ids.
func seedCategories(t *testing.T, s *Storage) (repayment, fees int64) {
	t.Helper()
	var err error
	repayment, err = s.SaveCategory("פרעון כרטיס אשראי", "Credit Card Repayment", "")
	require.NoError(t, err)
	fees, err = s.SaveCategory("עמלות בנק וכרטיס", "Bank & Card Fees", "")
	require.NoError(t, err)
	return repayment, fees
}

func TestRepaymentCandidates_FiltersByCategoryAndDirection(t *testing.T) {
	// Arrange
	s := newTestStorage(t)
	repaymentCat, _ := seedCategories(t, s)
	groceriesCat, err := s.SaveCategory("מזון", "Groceries", "")
	require.NoError(t, err)

	require.NoError(t, s.SaveTransactions([]ledger.Transaction{
		{Identifier: "r1", Vendor: "discount", AccountNumber: "0162490242", Date: "2025-11-09T22:00:00.000Z", Name: "כ.א.ל", Price: -3500, Status: "completed", CategoryID: catPtr(repaymentCat)},
		{Identifier: "r2", Vendor: "discount", AccountNumber: "0162490242", Date: "2025-10-09T22:00:00.000Z", Name: "מקס", Price: -1200, Status: "completed", CategoryID: catPtr(repaymentCat)},
		// Wrong category and wrong direction rows must not appear.
		{Identifier: "g1", Vendor: "discount", AccountNumber: "0162490242", Date: "2025-11-10T22:00:00.000Z", Name: "סופר", Price: -90, Status: "completed", CategoryID: catPtr(groceriesCat)},
		{Identifier: "c1", Vendor: "discount", AccountNumber: "0162490242", Date: "2025-11-11T22:00:00.000Z", Name: "זיכוי", Price: 50, Status: "completed", CategoryID: catPtr(repaymentCat)},
		// A card vendor's own row in the repayment category is not a bank
		// candidate.
		{Identifier: "cc1", Vendor: "visaCal", AccountNumber: "1456", Date: "2025-11-12T22:00:00.000Z", Name: "פרעון", Price: -3500, Status: "completed", CategoryID: catPtr(repaymentCat)},
	}))

	// Act
	candidates, err := s.RepaymentCandidates([]string{"max", "visaCal"}, 500)

	// Assert - newest first, only negative repayment-category rows
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.Equal(t, "r1", candidates[0].Identifier)
	assert.Equal(t, "r2", candidates[1].Identifier)
}

func TestRepaymentCandidates_RespectsLimit(t *testing.T) {
	s := newTestStorage(t)
	repaymentCat, _ := seedCategories(t, s)
	require.NoError(t, s.SaveTransactions([]ledger.Transaction{
		{Identifier: "r1", Vendor: "discount", Date: "2025-11-09T22:00:00.000Z", Price: -100, CategoryID: catPtr(repaymentCat)},
		{Identifier: "r2", Vendor: "discount", Date: "2025-10-09T22:00:00.000Z", Price: -100, CategoryID: catPtr(repaymentCat)},
	}))

	candidates, err := s.RepaymentCandidates(nil, 1)

	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "r1", candidates[0].Identifier)
}

func TestBankRepayments_ScopedToAccountAndWindow(t *testing.T) {
	s := newTestStorage(t)
	repaymentCat, _ := seedCategories(t, s)
	require.NoError(t, s.SaveTransactions([]ledger.Transaction{
		{Identifier: "r1", Vendor: "discount", AccountNumber: "111", Date: "2025-11-09T22:00:00.000Z", Price: -3500, Status: "completed", CategoryID: catPtr(repaymentCat)},
		{Identifier: "r2", Vendor: "discount", AccountNumber: "222", Date: "2025-11-09T22:00:00.000Z", Price: -1000, Status: "completed", CategoryID: catPtr(repaymentCat)},
		{Identifier: "r3", Vendor: "discount", AccountNumber: "111", Date: "2025-01-09T22:00:00.000Z", Price: -900, Status: "completed", CategoryID: catPtr(repaymentCat)},
	}))

	repayments, err := s.BankRepayments("discount", "111", "2025-06-01", "2025-12-31")

	require.NoError(t, err)
	require.Len(t, repayments, 1)
	assert.Equal(t, "r1", repayments[0].Identifier)
}

func TestBankRepayments_ExcludesPendingAndFutureRows(t *testing.T) {
	// Arrange - a settled repayment next to a pending one and one dated
	// past the window's upper bound.
	s := newTestStorage(t)
	repaymentCat, _ := seedCategories(t, s)
	require.NoError(t, s.SaveTransactions([]ledger.Transaction{
		{Identifier: "r1", Vendor: "discount", AccountNumber: "111", Date: "2025-11-09T22:00:00.000Z", Price: -3500, Status: "completed", CategoryID: catPtr(repaymentCat)},
		{Identifier: "r2", Vendor: "discount", AccountNumber: "111", Date: "2025-11-10T22:00:00.000Z", Price: -1200, Status: "pending", CategoryID: catPtr(repaymentCat)},
		{Identifier: "r3", Vendor: "discount", AccountNumber: "111", Date: "2025-12-25T22:00:00.000Z", Price: -900, Status: "completed", CategoryID: catPtr(repaymentCat)},
	}))

	// Act
	repayments, err := s.BankRepayments("discount", "111", "2025-06-01", "2025-11-30")

	// Assert - only the settled in-window row survives
	require.NoError(t, err)
	require.Len(t, repayments, 1)
	assert.Equal(t, "r1", repayments[0].Identifier)
}

func TestCCTotalsByDay_FeeWaiverAndClamp(t *testing.T) {
	// Arrange - a card fee plus its waiver cancel out; a net-credit day
	// clamps to zero.
	s := newTestStorage(t)
	_, feesCat := seedCategories(t, s)
	require.NoError(t, s.SaveTransactions([]ledger.Transaction{
		{Identifier: "e1", Vendor: "visaCal", AccountNumber: "1456", Date: "2025-11-01T08:00:00.000Z", ProcessedDate: "2025-11-09T00:00:00.000Z", Name: "סופר", Price: -3470.50, Status: "completed"},
		{Identifier: "f1", Vendor: "visaCal", AccountNumber: "1456", Date: "2025-11-02T08:00:00.000Z", ProcessedDate: "2025-11-09T00:00:00.000Z", Name: "דמי כרטיס", Price: -29.50, Status: "completed", CategoryID: catPtr(feesCat)},
		{Identifier: "f2", Vendor: "visaCal", AccountNumber: "1456", Date: "2025-11-03T08:00:00.000Z", ProcessedDate: "2025-11-09T00:00:00.000Z", Name: "דמי כרטיס - פטור", Price: -29.50, Status: "completed", CategoryID: catPtr(feesCat)},
		// Refund-only day clamps to zero.
		{Identifier: "c1", Vendor: "visaCal", AccountNumber: "1456", Date: "2025-11-20T08:00:00.000Z", ProcessedDate: "2025-12-09T00:00:00.000Z", Name: "זיכוי", Price: 120, Status: "completed"},
		// A pending charge never enters the billed total.
		{Identifier: "p1", Vendor: "visaCal", AccountNumber: "1456", Date: "2025-11-04T08:00:00.000Z", ProcessedDate: "2025-11-09T00:00:00.000Z", Name: "ממתין", Price: -500, Status: "pending"},
	}))

	// Act
	totals, err := s.CCTotalsByDay("visaCal", "1456", "2025-01-01")

	// Assert - the waived fee counts as a credit: 3470.50 + 29.50 - 29.50
	require.NoError(t, err)
	assert.InDelta(t, 3470.50, totals["2025-11-09"], 0.001)
	assert.Equal(t, 0.0, totals["2025-12-09"])
}

func TestCCDailyTotals_GroupsByAccount(t *testing.T) {
	s := newTestStorage(t)
	require.NoError(t, s.SaveTransactions([]ledger.Transaction{
		{Identifier: "e1", Vendor: "visaCal", AccountNumber: "1456", Date: "2025-11-09T08:00:00.000Z", Price: -3500, Status: "completed"},
		{Identifier: "e2", Vendor: "visaCal", AccountNumber: "7733", Date: "2025-11-09T08:00:00.000Z", Price: -1200, Status: "completed"},
		{Identifier: "p1", Vendor: "visaCal", AccountNumber: "1456", Date: "2025-11-09T08:00:00.000Z", Price: -999, Status: "pending"},
	}))

	totals, err := s.CCDailyTotals("visaCal", "2025-01-01")

	require.NoError(t, err)
	rowset := totals["2025-11-09"]
	require.Len(t, rowset, 2)
	assert.Equal(t, "1456", rowset[0].AccountNumber)
	assert.Equal(t, 3500.0, rowset[0].Total)
	assert.Equal(t, "7733", rowset[1].AccountNumber)
	assert.Equal(t, 1200.0, rowset[1].Total)
}

func TestEarliestCCActivity_ExcludesFeeRows(t *testing.T) {
	s := newTestStorage(t)
	_, feesCat := seedCategories(t, s)
	require.NoError(t, s.SaveTransactions([]ledger.Transaction{
		{Identifier: "f1", Vendor: "visaCal", AccountNumber: "1456", Date: "2025-01-05T08:00:00.000Z", Name: "דמי כרטיס", Price: -30, Status: "completed", CategoryID: catPtr(feesCat)},
		// A pending charge must not anchor the card's history start.
		{Identifier: "p1", Vendor: "visaCal", AccountNumber: "1456", Date: "2025-02-01T08:00:00.000Z", Name: "ממתין", Price: -50, Status: "pending"},
		{Identifier: "e1", Vendor: "visaCal", AccountNumber: "1456", Date: "2025-03-12T08:00:00.000Z", Name: "סופר", Price: -200, Status: "completed"},
	}))

	earliest, err := s.EarliestCCActivity("visaCal", "1456")

	require.NoError(t, err)
	assert.Equal(t, "2025-03-12", earliest)
}

func TestEarliestCCActivity_EmptyHistory(t *testing.T) {
	s := newTestStorage(t)

	earliest, err := s.EarliestCCActivity("visaCal", "1456")

	require.NoError(t, err)
	assert.Equal(t, "", earliest)
}

func TestPairings_RoundTrip(t *testing.T) {
	// Arrange
	s := newTestStorage(t)
	id, err := s.CreatePairing(ledger.AccountPairing{
		CreditCardVendor:        "visaCal",
		CreditCardAccountNumber: "1456",
		BankVendor:              "discount",
		BankAccountNumber:       "0162490242",
		MatchPatterns:           []string{"כ.א.ל", "1456"},
		IsActive:                true,
	})
	require.NoError(t, err)
	_, err = s.CreatePairing(ledger.AccountPairing{
		CreditCardVendor: "max", CreditCardAccountNumber: "7733",
		BankVendor: "discount", BankAccountNumber: "0162490242",
		IsActive: false,
	})
	require.NoError(t, err)

	// Act
	active, err := s.ActivePairings()

	// Assert - only the active pairing, patterns intact
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, id, active[0].ID)
	assert.Equal(t, []string{"כ.א.ל", "1456"}, active[0].MatchPatterns)
	assert.False(t, active[0].DiscrepancyAcknowledged)

	byID, err := s.PairingByID(id)
	require.NoError(t, err)
	assert.Equal(t, "visaCal", byID.CreditCardVendor)
}

func TestPairingByID_NotFound(t *testing.T) {
	s := newTestStorage(t)

	_, err := s.PairingByID(42)

	assert.Error(t, err)
}

func TestAcknowledgeDiscrepancy_AddsColumnWhenMissing(t *testing.T) {
	// Arrange - the baseline schema has no acknowledged column; the write
	// path must add it on demand.
	s := newTestStorage(t)
	assert.False(t, s.hasAckColumn)
	id, err := s.CreatePairing(ledger.AccountPairing{
		CreditCardVendor: "visaCal", CreditCardAccountNumber: "1456",
		BankVendor: "discount", BankAccountNumber: "0162490242",
		IsActive: true,
	})
	require.NoError(t, err)

	// Act
	require.NoError(t, s.AcknowledgeDiscrepancy(id, true))

	// Assert
	assert.True(t, s.hasAckColumn)
	p, err := s.PairingByID(id)
	require.NoError(t, err)
	assert.True(t, p.DiscrepancyAcknowledged)
}

func TestAcknowledgeDiscrepancy_UnknownPairing(t *testing.T) {
	s := newTestStorage(t)

	err := s.AcknowledgeDiscrepancy(99, true)

	assert.Error(t, err)
}

func TestExpensesInRange_OrderingAndBounds(t *testing.T) {
	s := newTestStorage(t)
	require.NoError(t, s.SaveTransactions([]ledger.Transaction{
		{Identifier: "e3", Vendor: "visaCal", AccountNumber: "1456", Date: "2025-10-15T08:00:00.000Z", Name: "ב חנות", Price: -50, Status: "completed"},
		{Identifier: "e2", Vendor: "visaCal", AccountNumber: "1456", Date: "2025-10-15T07:00:00.000Z", Name: "א חנות", Price: -40, Status: "completed"},
		{Identifier: "e1", Vendor: "visaCal", AccountNumber: "1456", Date: "2025-10-01T08:00:00.000Z", Name: "ג חנות", Price: -30, Status: "completed"},
		// Outside the range on both ends, plus an in-range pending row.
		{Identifier: "x1", Vendor: "visaCal", AccountNumber: "1456", Date: "2025-09-30T08:00:00.000Z", Name: "ישן", Price: -10, Status: "completed"},
		{Identifier: "x2", Vendor: "visaCal", AccountNumber: "1456", Date: "2025-11-01T08:00:00.000Z", Name: "חדש", Price: -10, Status: "completed"},
		{Identifier: "p1", Vendor: "visaCal", AccountNumber: "1456", Date: "2025-10-10T08:00:00.000Z", Name: "ממתין", Price: -10, Status: "pending"},
	}))

	expenses, err := s.ExpensesInRange(context.Background(), "visaCal", "1456", "2025-10-01", "2025-10-31")

	require.NoError(t, err)
	require.Len(t, expenses, 3)
	// Day ascending, then name ascending within a day.
	assert.Equal(t, "e1", expenses[0].Identifier)
	assert.Equal(t, "e2", expenses[1].Identifier)
	assert.Equal(t, "e3", expenses[2].Identifier)
}

func TestReplaceExpenseMatches_ReplacesPreviousRun(t *testing.T) {
	// Arrange
	s := newTestStorage(t)
	first := []ledger.ExpenseMatch{{
		RepaymentTxnID: "r1", RepaymentVendor: "discount", RepaymentDate: "2025-10-09",
		RepaymentAmount: 900, CardNumber: "1456",
		ExpenseTxnID: "e1", ExpenseVendor: "visaCal", ExpenseDate: "2025-09-12",
		ExpenseAmount: 900, Confidence: 1.0, Method: ledger.MethodChronological,
	}}
	require.NoError(t, s.ReplaceExpenseMatches(context.Background(), "run-1", 1, first))

	second := []ledger.ExpenseMatch{{
		RepaymentTxnID: "r2", RepaymentVendor: "discount", RepaymentDate: "2025-11-09",
		RepaymentAmount: 400, CardNumber: "1456",
		ExpenseTxnID: "e2", ExpenseVendor: "visaCal", ExpenseDate: "2025-10-20",
		ExpenseAmount: 400, Confidence: 1.0, Method: ledger.MethodSauvage,
	}}

	// Act
	require.NoError(t, s.ReplaceExpenseMatches(context.Background(), "run-2", 1, second))

	// Assert - only the second run's rows remain
	matches, err := s.ListExpenseMatches()
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "r2", matches[0].RepaymentTxnID)
	assert.Equal(t, ledger.MethodSauvage, matches[0].Method)

	run, err := s.LatestMatchRun()
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, "run-2", run.ID)
	assert.Equal(t, 1, run.MatchesInserted)
	assert.Equal(t, "completed", run.Status)
}

func TestReplaceExpenseMatches_RollsBackOnDuplicateExpense(t *testing.T) {
	// Arrange - a valid first run, then a batch violating the one-match-
	// per-expense constraint.
	s := newTestStorage(t)
	valid := []ledger.ExpenseMatch{{
		RepaymentTxnID: "r1", RepaymentVendor: "discount", RepaymentDate: "2025-10-09",
		ExpenseTxnID: "e1", ExpenseVendor: "visaCal", Method: ledger.MethodChronological,
	}}
	require.NoError(t, s.ReplaceExpenseMatches(context.Background(), "run-1", 1, valid))

	broken := []ledger.ExpenseMatch{
		{RepaymentTxnID: "r2", RepaymentVendor: "discount", ExpenseTxnID: "e2", ExpenseVendor: "visaCal"},
		{RepaymentTxnID: "r3", RepaymentVendor: "discount", ExpenseTxnID: "e2", ExpenseVendor: "visaCal"},
	}

	// Act
	err := s.ReplaceExpenseMatches(context.Background(), "run-2", 2, broken)

	// Assert - the failed run leaves the previous state untouched
	require.Error(t, err)
	matches, listErr := s.ListExpenseMatches()
	require.NoError(t, listErr)
	require.Len(t, matches, 1)
	assert.Equal(t, "r1", matches[0].RepaymentTxnID)

	run, runErr := s.LatestMatchRun()
	require.NoError(t, runErr)
	require.NotNil(t, run)
	assert.Equal(t, "run-1", run.ID)
}

func TestVendorCredentials_RoundTrip(t *testing.T) {
	s := newTestStorage(t)
	require.NoError(t, s.SaveVendorCredential(ledger.VendorCredential{
		Vendor:            "discount",
		InstitutionKind:   "bank",
		DisplayName:       "Discount Bank",
		BankAccountNumber: "0162490242",
	}))
	require.NoError(t, s.SaveVendorCredential(ledger.VendorCredential{
		Vendor:          "visaCal",
		InstitutionKind: "credit_card",
		Nickname:        "הכרטיס שלי",
		CardFragments:   []string{"1456"},
	}))

	creds, err := s.VendorCredentials()

	require.NoError(t, err)
	require.Len(t, creds, 2)
	assert.Equal(t, "discount", creds[0].Vendor)
	assert.Equal(t, []string{"1456"}, creds[1].CardFragments)
}
