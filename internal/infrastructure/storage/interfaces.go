package storage

import (
	"context"

	"github.com/clarify-money/reconcile-backend/internal/domain/cycles"
	"github.com/clarify-money/reconcile-backend/internal/domain/ledger"
)

// Store is the full persistence surface the reconciliation service uses.
// Defined here so the application layer can swap in fakes.
type Store interface {
	// Ledger reads
	RepaymentCandidates(excludeVendors []string, limit int) ([]ledger.Transaction, error)
	BankRepayments(bankVendor, bankAccount, fromDay, toDay string) ([]ledger.Transaction, error)
	CompletedRepayments(fromDay string) ([]ledger.Transaction, error)
	CCDailyTotals(ccVendor, fromDay string) (map[string][]cycles.AccountTotal, error)
	CCTotalsByDay(ccVendor, ccAccount, fromDay string) (map[string]float64, error)
	EarliestCCActivity(ccVendor, ccAccount string) (string, error)
	ActivePairings() ([]ledger.AccountPairing, error)
	PairingByID(id int64) (ledger.AccountPairing, error)
	VendorCredentials() ([]ledger.VendorCredential, error)
	ExpensesInRange(ctx context.Context, vendor, accountNumber, fromDay, toDay string) ([]ledger.Transaction, error)

	// Engine writes
	CreatePairing(p ledger.AccountPairing) (int64, error)
	AcknowledgeDiscrepancy(pairingID int64, acknowledged bool) error
	ReplaceExpenseMatches(ctx context.Context, runID string, repaymentsProcessed int, matches []ledger.ExpenseMatch) error
	ListExpenseMatches() ([]ledger.ExpenseMatch, error)
	LatestMatchRun() (*MatchRun, error)

	Close() error
}
