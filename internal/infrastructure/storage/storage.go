// Package storage provides SQLite access to the ledger's transaction
// store. The reconciliation engine reads transactions, categories,
// pairings and credentials owned by the ledger application, and writes
// back only expense match rows and match run records.
package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/clarify-money/reconcile-backend/internal/domain/ledger"
)

// CategoryFilter lists acceptable category names per locale column. A
// category matches when any column hits any listed name.
type CategoryFilter struct {
	Name   []string
	NameEN []string
	NameFR []string
}

// Rules carries the category and fee-waiver tables the queries need.
type Rules struct {
	Repayment CategoryFilter
	CardFees  CategoryFilter
	// FeeMarker plus at least one WaiverMarker in a fee row's name flips
	// its sign when summing a card's billed total.
	FeeMarker     string
	WaiverMarkers []string
}

// Storage provides SQLite database access for reconciliation.
// It implements the Store interface.
type Storage struct {
	db    *sql.DB
	rules Rules
	// hasAckColumn tracks whether account_pairings carries the
	// discrepancy_acknowledged column. Older ledger databases don't.
	hasAckColumn bool
}

// Compile-time check that Storage implements Store
var _ Store = (*Storage)(nil)

// NewStorage creates a new storage instance with SQLite database
func NewStorage(dbPath string, rules Rules) (*Storage, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	// Enable foreign key constraints (SQLite-specific)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &Storage{db: db, rules: rules}

	// Run all pending migrations
	if err := s.runMigrations(); err != nil {
		_ = db.Close()
		return nil, err
	}

	s.hasAckColumn, err = s.columnExists("account_pairings", "discrepancy_acknowledged")
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	return s.db.Close()
}

// columnExists checks a table's columns via PRAGMA table_info.
func (s *Storage) columnExists(table, column string) (bool, error) {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notNull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

// ensureAckColumn adds the acknowledged column to databases that predate
// it. Called lazily from the write path so read-only use never alters
// the ledger's schema.
func (s *Storage) ensureAckColumn() error {
	if s.hasAckColumn {
		return nil
	}
	if _, err := s.db.Exec(`ALTER TABLE account_pairings ADD COLUMN discrepancy_acknowledged BOOLEAN DEFAULT 0`); err != nil {
		return fmt.Errorf("failed to add discrepancy_acknowledged column: %w", err)
	}
	s.hasAckColumn = true
	return nil
}

// CreatePairing inserts a card to bank pairing and returns its id.
func (s *Storage) CreatePairing(p ledger.AccountPairing) (int64, error) {
	patterns, err := json.Marshal(p.MatchPatterns)
	if err != nil {
		return 0, err
	}

	query := `
		INSERT INTO account_pairings
		(credit_card_vendor, credit_card_account_number, bank_vendor, bank_account_number, match_patterns, is_active)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.Exec(query,
		p.CreditCardVendor,
		p.CreditCardAccountNumber,
		p.BankVendor,
		p.BankAccountNumber,
		string(patterns),
		p.IsActive,
	)
	if err != nil {
		return 0, err
	}

	return result.LastInsertId()
}

// AcknowledgeDiscrepancy flags a pairing's current discrepancy as seen.
func (s *Storage) AcknowledgeDiscrepancy(pairingID int64, acknowledged bool) error {
	if err := s.ensureAckColumn(); err != nil {
		return err
	}

	result, err := s.db.Exec(
		`UPDATE account_pairings SET discrepancy_acknowledged = ? WHERE id = ?`,
		acknowledged, pairingID,
	)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("pairing %d not found", pairingID)
	}
	return nil
}

// SaveTransactions upserts transaction rows, keyed by (identifier, vendor).
func (s *Storage) SaveTransactions(txns []ledger.Transaction) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO transactions
		(identifier, vendor, account_number, date, processed_date, name, price, status, category_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer func() { _ = stmt.Close() }()

	for _, t := range txns {
		var processed any
		if t.ProcessedDate != "" {
			processed = t.ProcessedDate
		}
		var category any
		if t.CategoryID != nil {
			category = *t.CategoryID
		}
		if _, err := stmt.Exec(
			t.Identifier, t.Vendor, t.AccountNumber, t.Date, processed,
			t.Name, t.Price, t.Status, category,
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

// SaveCategory inserts a category row and returns its id.
func (s *Storage) SaveCategory(name, nameEN, nameFR string) (int64, error) {
	result, err := s.db.Exec(
		`INSERT INTO categories (name, name_en, name_fr) VALUES (?, ?, ?)`,
		name, nameEN, nameFR,
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// SaveVendorCredential inserts a connected-institution row.
func (s *Storage) SaveVendorCredential(c ledger.VendorCredential) error {
	fragments, err := json.Marshal(c.CardFragments)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO vendor_credentials
		(vendor, institution_kind, display_name, bank_account_number, nickname, card_fragments)
		VALUES (?, ?, ?, ?, ?, ?)
	`, c.Vendor, c.InstitutionKind, c.DisplayName, c.BankAccountNumber, c.Nickname, string(fragments))
	return err
}

// categoryCondition builds "category_id IN (SELECT id FROM categories
// WHERE ...)" for the filter, or "0" when the filter is empty.
func categoryCondition(f CategoryFilter) (string, []any) {
	var clauses []string
	var args []any

	add := func(column string, names []string) {
		if len(names) == 0 {
			return
		}
		clauses = append(clauses, fmt.Sprintf("%s IN (%s)", column, placeholders(len(names))))
		for _, n := range names {
			args = append(args, n)
		}
	}
	add("name", f.Name)
	add("name_en", f.NameEN)
	add("name_fr", f.NameFR)

	if len(clauses) == 0 {
		return "0", nil
	}
	return fmt.Sprintf("category_id IN (SELECT id FROM categories WHERE %s)", strings.Join(clauses, " OR ")), args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
