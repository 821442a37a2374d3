package storage

import (
	"database/sql"
	"fmt"
	"log"
)

// Migration represents a database schema migration
type Migration struct {
	Version int
	Name    string
	Up      func(*sql.Tx) error
}

// allMigrations defines all migrations in order
var allMigrations = []Migration{
	{
		Version: 1,
		Name:    "initial_schema",
		Up:      migration001InitialSchema,
	},
	{
		Version: 2,
		Name:    "add_expense_matches_table",
		Up:      migration002AddExpenseMatchesTable,
	},
	{
		Version: 3,
		Name:    "add_match_runs_table",
		Up:      migration003AddMatchRunsTable,
	},
}

// runMigrations executes all pending migrations
func (s *Storage) runMigrations() error {
	// Ensure migrations table exists
	if err := s.ensureMigrationsTable(); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	// Get applied migrations
	applied, err := s.getAppliedMigrations()
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	// Run pending migrations
	for _, migration := range allMigrations {
		if applied[migration.Version] {
			continue // Already applied
		}

		log.Printf("Running migration %d: %s", migration.Version, migration.Name)

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin transaction for migration %d: %w", migration.Version, err)
		}

		if err := migration.Up(tx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d (%s) failed: %w", migration.Version, migration.Name, err)
		}

		_, err = tx.Exec(`
			INSERT INTO schema_migrations (version, name) VALUES (?, ?)
		`, migration.Version, migration.Name)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}

// ensureMigrationsTable creates the schema_migrations table
func (s *Storage) ensureMigrationsTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	_, err := s.db.Exec(query)
	return err
}

// getAppliedMigrations returns a set of applied migration versions
func (s *Storage) getAppliedMigrations() (map[int]bool, error) {
	applied := make(map[int]bool)

	rows, err := s.db.Query(`SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}

	return applied, rows.Err()
}

// ================================================================
// MIGRATION FUNCTIONS
// ================================================================

// migration001InitialSchema creates the ledger tables the engine reads.
// CREATE IF NOT EXISTS keeps this safe against databases where the
// owning application already created them, possibly with extra columns
// (see the discrepancy_acknowledged handling in storage.go).
func migration001InitialSchema(db *sql.Tx) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS transactions (
			identifier TEXT NOT NULL,
			vendor TEXT NOT NULL,
			account_number TEXT,
			date TEXT NOT NULL,
			processed_date TEXT,
			name TEXT,
			price REAL NOT NULL,
			status TEXT DEFAULT 'completed',
			category_id INTEGER,
			PRIMARY KEY (identifier, vendor)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_transactions_vendor_account
		 ON transactions(vendor, account_number)`,

		`CREATE INDEX IF NOT EXISTS idx_transactions_date
		 ON transactions(date)`,

		`CREATE INDEX IF NOT EXISTS idx_transactions_category
		 ON transactions(category_id)`,

		`CREATE TABLE IF NOT EXISTS categories (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT,
			name_en TEXT,
			name_fr TEXT
		)`,

		`CREATE TABLE IF NOT EXISTS account_pairings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			credit_card_vendor TEXT NOT NULL,
			credit_card_account_number TEXT NOT NULL,
			bank_vendor TEXT NOT NULL,
			bank_account_number TEXT NOT NULL,
			match_patterns TEXT NOT NULL DEFAULT '[]',
			is_active BOOLEAN DEFAULT 1,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS vendor_credentials (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			vendor TEXT NOT NULL,
			institution_kind TEXT NOT NULL DEFAULT 'bank',
			display_name TEXT,
			bank_account_number TEXT,
			nickname TEXT,
			card_fragments TEXT NOT NULL DEFAULT '[]'
		)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}

	return nil
}

// migration002AddExpenseMatchesTable creates the table matching writes to.
// The unique constraint enforces that one expense is never attributed to
// two repayments.
func migration002AddExpenseMatchesTable(db *sql.Tx) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS credit_card_expense_matches (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			repayment_txn_id TEXT NOT NULL,
			repayment_vendor TEXT NOT NULL,
			repayment_date TEXT,
			repayment_amount REAL,
			card_number TEXT,
			expense_txn_id TEXT NOT NULL,
			expense_vendor TEXT NOT NULL,
			expense_date TEXT,
			expense_amount REAL,
			match_confidence REAL,
			match_method TEXT,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (expense_txn_id, expense_vendor)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_expense_matches_repayment
		 ON credit_card_expense_matches(repayment_txn_id, repayment_vendor)`,

		`CREATE INDEX IF NOT EXISTS idx_expense_matches_card
		 ON credit_card_expense_matches(card_number)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return err
		}
	}

	return nil
}

// migration003AddMatchRunsTable creates the match_runs audit table
func migration003AddMatchRunsTable(db *sql.Tx) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS match_runs (
			id TEXT PRIMARY KEY,
			started_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			completed_at TIMESTAMP,
			repayments_processed INTEGER DEFAULT 0,
			matches_inserted INTEGER DEFAULT 0,
			status TEXT DEFAULT 'running'
		)`,

		`CREATE INDEX IF NOT EXISTS idx_match_runs_started
		 ON match_runs(started_at DESC)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return err
		}
	}

	return nil
}
