package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/clarify-money/reconcile-backend/internal/domain/cycles"
	"github.com/clarify-money/reconcile-backend/internal/domain/ledger"
)

const txnColumns = `identifier, vendor, COALESCE(account_number, ''), date,
	COALESCE(processed_date, ''), COALESCE(name, ''), price, COALESCE(status, ''), category_id`

// RepaymentCandidates returns the most recent repayment-category outflows
// across all bank accounts, newest first. Rows owned by the listed card
// vendors are excluded so a card's own ledger never poses as its bank.
func (s *Storage) RepaymentCandidates(excludeVendors []string, limit int) ([]ledger.Transaction, error) {
	catCond, catArgs := categoryCondition(s.rules.Repayment)

	vendorCond := "1"
	args := catArgs
	if len(excludeVendors) > 0 {
		vendorCond = fmt.Sprintf("vendor NOT IN (%s)", placeholders(len(excludeVendors)))
		for _, v := range excludeVendors {
			args = append(args, v)
		}
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM transactions
		WHERE price < 0 AND %s AND %s
		ORDER BY date DESC
		LIMIT ?
	`, txnColumns, catCond, vendorCond)

	args = append(args, limit)
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	return scanTransactions(rows)
}

// bankRepaymentLimit caps one window's repayment rows. A six-month
// window holds a handful of repayments per account; hundreds means the
// category table is misconfigured.
const bankRepaymentLimit = 500

// BankRepayments returns one bank account's completed repayment-category
// outflows within an inclusive day window, newest first.
func (s *Storage) BankRepayments(bankVendor, bankAccount, fromDay, toDay string) ([]ledger.Transaction, error) {
	catCond, catArgs := categoryCondition(s.rules.Repayment)

	query := fmt.Sprintf(`
		SELECT %s
		FROM transactions
		WHERE vendor = ? AND account_number = ?
		  AND status = 'completed' AND price < 0
		  AND substr(date, 1, 10) >= ? AND substr(date, 1, 10) <= ?
		  AND %s
		ORDER BY date DESC
		LIMIT %d
	`, txnColumns, catCond, bankRepaymentLimit)

	args := append([]any{bankVendor, bankAccount, fromDay, toDay}, catArgs...)
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	return scanTransactions(rows)
}

// CompletedRepayments returns all completed repayment-category outflows
// from a day onwards, newest first. This is the matcher's work queue.
func (s *Storage) CompletedRepayments(fromDay string) ([]ledger.Transaction, error) {
	catCond, catArgs := categoryCondition(s.rules.Repayment)

	query := fmt.Sprintf(`
		SELECT %s
		FROM transactions
		WHERE price < 0 AND status = 'completed'
		  AND substr(date, 1, 10) >= ?
		  AND %s
		ORDER BY date DESC
	`, txnColumns, catCond)

	args := append([]any{fromDay}, catArgs...)
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	return scanTransactions(rows)
}

// feeWaiverCase builds the billed-amount expression: outflows count
// positive, except card-fee rows whose name carries the fee marker plus a
// waiver marker, which flip sign and cancel their original charge.
func (s *Storage) feeWaiverCase() (string, []any) {
	feeCond, feeArgs := categoryCondition(s.rules.CardFees)
	if s.rules.FeeMarker == "" || len(s.rules.WaiverMarkers) == 0 {
		return "-price", nil
	}

	waiverLikes := make([]string, len(s.rules.WaiverMarkers))
	args := feeArgs
	args = append(args, "%"+strings.ToLower(s.rules.FeeMarker)+"%")
	for i, marker := range s.rules.WaiverMarkers {
		waiverLikes[i] = "lower(name) LIKE ?"
		args = append(args, "%"+strings.ToLower(marker)+"%")
	}

	expr := fmt.Sprintf(`CASE
		WHEN %s AND price < 0 AND lower(name) LIKE ? AND (%s)
		THEN price ELSE -price END`, feeCond, strings.Join(waiverLikes, " OR "))
	return expr, args
}

// CCDailyTotals returns a card vendor's billed totals per day, one row
// per card account, ordered by account number. Totals are fee-waiver
// adjusted but not clamped; negative totals mean a net-credit day.
func (s *Storage) CCDailyTotals(ccVendor, fromDay string) (map[string][]cycles.AccountTotal, error) {
	caseExpr, caseArgs := s.feeWaiverCase()

	query := fmt.Sprintf(`
		SELECT substr(COALESCE(processed_date, date), 1, 10) AS billed_day,
		       COALESCE(account_number, ''),
		       SUM(%s)
		FROM transactions
		WHERE vendor = ? AND status = 'completed'
		  AND substr(COALESCE(processed_date, date), 1, 10) >= ?
		GROUP BY billed_day, account_number
		ORDER BY billed_day, account_number
	`, caseExpr)

	args := append(caseArgs, ccVendor, fromDay)
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	totals := make(map[string][]cycles.AccountTotal)
	for rows.Next() {
		var day, account string
		var total float64
		if err := rows.Scan(&day, &account, &total); err != nil {
			return nil, err
		}
		totals[day] = append(totals[day], cycles.AccountTotal{AccountNumber: account, Total: total})
	}
	return totals, rows.Err()
}

// CCTotalsByDay returns one card account's clamped billed total per day.
func (s *Storage) CCTotalsByDay(ccVendor, ccAccount, fromDay string) (map[string]float64, error) {
	caseExpr, caseArgs := s.feeWaiverCase()

	query := fmt.Sprintf(`
		SELECT substr(COALESCE(processed_date, date), 1, 10) AS billed_day,
		       SUM(%s)
		FROM transactions
		WHERE vendor = ? AND account_number = ? AND status = 'completed'
		  AND substr(COALESCE(processed_date, date), 1, 10) >= ?
		GROUP BY billed_day
	`, caseExpr)

	args := append(caseArgs, ccVendor, ccAccount, fromDay)
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	totals := make(map[string]float64)
	for rows.Next() {
		var day string
		var total float64
		if err := rows.Scan(&day, &total); err != nil {
			return nil, err
		}
		totals[day] = math.Max(0, total)
	}
	return totals, rows.Err()
}

// EarliestCCActivity returns the card's first observed billing day,
// excluding card-fee rows, or "" when the card has no history.
func (s *Storage) EarliestCCActivity(ccVendor, ccAccount string) (string, error) {
	feeCond, feeArgs := categoryCondition(s.rules.CardFees)

	query := fmt.Sprintf(`
		SELECT COALESCE(MIN(substr(COALESCE(processed_date, date), 1, 10)), '')
		FROM transactions
		WHERE vendor = ? AND (? = '' OR account_number = ?)
		  AND status = 'completed' AND price < 0
		  AND (category_id IS NULL OR NOT %s)
	`, feeCond)

	args := append([]any{ccVendor, ccAccount, ccAccount}, feeArgs...)
	var earliest string
	if err := s.db.QueryRow(query, args...).Scan(&earliest); err != nil {
		return "", err
	}
	return earliest, nil
}

const pairingColumns = `id, credit_card_vendor, credit_card_account_number,
	bank_vendor, bank_account_number, COALESCE(match_patterns, '[]'), is_active`

// ActivePairings returns all active pairings in creation order.
func (s *Storage) ActivePairings() ([]ledger.AccountPairing, error) {
	query := fmt.Sprintf(`
		SELECT %s%s
		FROM account_pairings
		WHERE is_active = 1
		ORDER BY id
	`, pairingColumns, s.ackColumn())

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var pairings []ledger.AccountPairing
	for rows.Next() {
		p, err := s.scanPairing(rows.Scan)
		if err != nil {
			return nil, err
		}
		pairings = append(pairings, p)
	}
	return pairings, rows.Err()
}

// PairingByID returns one pairing regardless of its active flag.
func (s *Storage) PairingByID(id int64) (ledger.AccountPairing, error) {
	query := fmt.Sprintf(`
		SELECT %s%s
		FROM account_pairings
		WHERE id = ?
	`, pairingColumns, s.ackColumn())

	row := s.db.QueryRow(query, id)
	p, err := s.scanPairing(row.Scan)
	if err == sql.ErrNoRows {
		return ledger.AccountPairing{}, fmt.Errorf("pairing %d not found", id)
	}
	return p, err
}

func (s *Storage) ackColumn() string {
	if s.hasAckColumn {
		return ", COALESCE(discrepancy_acknowledged, 0)"
	}
	return ""
}

func (s *Storage) scanPairing(scan func(...any) error) (ledger.AccountPairing, error) {
	var p ledger.AccountPairing
	var patterns string
	dest := []any{&p.ID, &p.CreditCardVendor, &p.CreditCardAccountNumber,
		&p.BankVendor, &p.BankAccountNumber, &patterns, &p.IsActive}
	if s.hasAckColumn {
		dest = append(dest, &p.DiscrepancyAcknowledged)
	}
	if err := scan(dest...); err != nil {
		return ledger.AccountPairing{}, err
	}
	if err := json.Unmarshal([]byte(patterns), &p.MatchPatterns); err != nil {
		return ledger.AccountPairing{}, fmt.Errorf("pairing %d has malformed match_patterns: %w", p.ID, err)
	}
	return p, nil
}

// VendorCredentials returns all connected-institution rows.
func (s *Storage) VendorCredentials() ([]ledger.VendorCredential, error) {
	rows, err := s.db.Query(`
		SELECT vendor, institution_kind, COALESCE(display_name, ''),
		       COALESCE(bank_account_number, ''), COALESCE(nickname, ''),
		       COALESCE(card_fragments, '[]')
		FROM vendor_credentials
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var creds []ledger.VendorCredential
	for rows.Next() {
		var c ledger.VendorCredential
		var fragments string
		if err := rows.Scan(&c.Vendor, &c.InstitutionKind, &c.DisplayName,
			&c.BankAccountNumber, &c.Nickname, &fragments); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(fragments), &c.CardFragments); err != nil {
			return nil, fmt.Errorf("credential %s has malformed card_fragments: %w", c.Vendor, err)
		}
		creds = append(creds, c)
	}
	return creds, rows.Err()
}

// ExpensesInRange returns one card account's completed outflows between two day
// keys inclusive, ordered by day then description. This ordering is load
// bearing for the chronological matcher.
func (s *Storage) ExpensesInRange(ctx context.Context, vendor, accountNumber, fromDay, toDay string) ([]ledger.Transaction, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM transactions
		WHERE vendor = ? AND account_number = ?
		  AND status = 'completed' AND price < 0
		  AND substr(date, 1, 10) >= ? AND substr(date, 1, 10) <= ?
		ORDER BY substr(date, 1, 10) ASC, name ASC
	`, txnColumns)

	rows, err := s.db.QueryContext(ctx, query, vendor, accountNumber, fromDay, toDay)
	if err != nil {
		return nil, err
	}
	return scanTransactions(rows)
}

func scanTransactions(rows *sql.Rows) ([]ledger.Transaction, error) {
	defer func() { _ = rows.Close() }()

	var txns []ledger.Transaction
	for rows.Next() {
		var t ledger.Transaction
		var category sql.NullInt64
		if err := rows.Scan(&t.Identifier, &t.Vendor, &t.AccountNumber, &t.Date,
			&t.ProcessedDate, &t.Name, &t.Price, &t.Status, &category); err != nil {
			return nil, err
		}
		if category.Valid {
			id := category.Int64
			t.CategoryID = &id
		}
		txns = append(txns, t)
	}
	return txns, rows.Err()
}
