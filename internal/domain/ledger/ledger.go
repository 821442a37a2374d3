// Package ledger holds the core row types the reconciliation engine reads
// from the owning application's transaction store, plus the match rows it
// writes back. These are plain value types; all database access lives in
// the storage layer.
package ledger

// Transaction is a single normalized transaction row. Price is signed:
// negative means money leaving the account.
type Transaction struct {
	Identifier    string
	Vendor        string
	AccountNumber string
	Date          string // ISO datetime as stored, e.g. 2025-11-09T22:00:00.000Z
	ProcessedDate string // billed datetime for card rows, empty when absent
	Name          string
	Price         float64
	Status        string
	CategoryID    *int64
}

// Outflow reports whether the transaction is money leaving the account.
func (t Transaction) Outflow() bool {
	return t.Price < 0
}

// AbsAmount returns the unsigned amount.
func (t Transaction) AbsAmount() float64 {
	if t.Price < 0 {
		return -t.Price
	}
	return t.Price
}

// BilledDay is the day key of the billing date, falling back to the
// transaction date when no processed date exists.
func (t Transaction) BilledDay() string {
	if t.ProcessedDate != "" {
		return DayKey(t.ProcessedDate)
	}
	return DayKey(t.Date)
}

// VendorCredential describes a connected institution account.
type VendorCredential struct {
	Vendor            string
	InstitutionKind   string // "bank", "credit_card", ...
	DisplayName       string
	BankAccountNumber string
	Nickname          string
	CardFragments     []string
}

// AccountPairing is a declared credit-card to bank-account association.
// The owning application creates and edits these rows; the engine only
// reads them.
type AccountPairing struct {
	ID                      int64
	CreditCardVendor        string
	CreditCardAccountNumber string
	BankVendor              string
	BankAccountNumber       string
	MatchPatterns           []string
	IsActive                bool
	DiscrepancyAcknowledged bool
}

// Match methods for ExpenseMatch rows.
const (
	MethodSauvage       = "sauvage_payment"
	MethodChronological = "auto_chronological"
	MethodCarryover     = "carryover"
)

// ExpenseMatch attributes one expense transaction to the repayment that
// paid it off. This is the only entity the engine persists.
type ExpenseMatch struct {
	RepaymentTxnID  string
	RepaymentVendor string
	RepaymentDate   string
	RepaymentAmount float64
	CardNumber      string
	ExpenseTxnID    string
	ExpenseVendor   string
	ExpenseDate     string
	ExpenseAmount   float64
	Confidence      float64
	Method          string
}
