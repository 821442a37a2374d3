package storage

import (
	"context"
	"database/sql"

	"github.com/clarify-money/reconcile-backend/internal/domain/ledger"
)

// MatchRun records one persisted matching run.
type MatchRun struct {
	ID                  string
	StartedAt           string
	CompletedAt         sql.NullString
	RepaymentsProcessed int
	MatchesInserted     int
	Status              string
}

// ReplaceExpenseMatches atomically replaces the whole match table with
// the given run's output and records the run. Matching is a full
// recomputation, so partial updates would leave stale attributions
// behind; everything happens in one transaction.
func (s *Storage) ReplaceExpenseMatches(ctx context.Context, runID string, repaymentsProcessed int, matches []ledger.ExpenseMatch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO match_runs (id, repayments_processed, status) VALUES (?, ?, 'running')
	`, runID, repaymentsProcessed); err != nil {
		_ = tx.Rollback()
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM credit_card_expense_matches`); err != nil {
		_ = tx.Rollback()
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO credit_card_expense_matches
		(repayment_txn_id, repayment_vendor, repayment_date, repayment_amount,
		 card_number, expense_txn_id, expense_vendor, expense_date, expense_amount,
		 match_confidence, match_method)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer func() { _ = stmt.Close() }()

	for _, m := range matches {
		if _, err := stmt.ExecContext(ctx,
			m.RepaymentTxnID, m.RepaymentVendor, m.RepaymentDate, m.RepaymentAmount,
			m.CardNumber, m.ExpenseTxnID, m.ExpenseVendor, m.ExpenseDate, m.ExpenseAmount,
			m.Confidence, m.Method,
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE match_runs
		SET completed_at = CURRENT_TIMESTAMP, matches_inserted = ?, status = 'completed'
		WHERE id = ?
	`, len(matches), runID); err != nil {
		_ = tx.Rollback()
		return err
	}

	return tx.Commit()
}

// ListExpenseMatches returns all persisted matches, newest repayment
// first, expenses in date order within a repayment.
func (s *Storage) ListExpenseMatches() ([]ledger.ExpenseMatch, error) {
	rows, err := s.db.Query(`
		SELECT repayment_txn_id, repayment_vendor, COALESCE(repayment_date, ''),
		       COALESCE(repayment_amount, 0), COALESCE(card_number, ''),
		       expense_txn_id, expense_vendor, COALESCE(expense_date, ''),
		       COALESCE(expense_amount, 0), COALESCE(match_confidence, 0),
		       COALESCE(match_method, '')
		FROM credit_card_expense_matches
		ORDER BY repayment_date DESC, repayment_txn_id, expense_date ASC
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var matches []ledger.ExpenseMatch
	for rows.Next() {
		var m ledger.ExpenseMatch
		if err := rows.Scan(&m.RepaymentTxnID, &m.RepaymentVendor, &m.RepaymentDate,
			&m.RepaymentAmount, &m.CardNumber, &m.ExpenseTxnID, &m.ExpenseVendor,
			&m.ExpenseDate, &m.ExpenseAmount, &m.Confidence, &m.Method); err != nil {
			return nil, err
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// LatestMatchRun returns the most recent run record, or nil when no run
// has been persisted yet.
func (s *Storage) LatestMatchRun() (*MatchRun, error) {
	row := s.db.QueryRow(`
		SELECT id, started_at, completed_at, repayments_processed, matches_inserted, status
		FROM match_runs
		ORDER BY started_at DESC, id DESC
		LIMIT 1
	`)

	var run MatchRun
	err := row.Scan(&run.ID, &run.StartedAt, &run.CompletedAt,
		&run.RepaymentsProcessed, &run.MatchesInserted, &run.Status)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}
