package report

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/clarify-money/reconcile-backend/internal/application/recon"
	"github.com/clarify-money/reconcile-backend/internal/domain/ledger"
)

// WriteMatchesCSV exports expense matches with the same column layout the
// match table uses, so spreadsheets and the database read the same way.
func WriteMatchesCSV(w io.Writer, matches []ledger.ExpenseMatch) error {
	cw := csv.NewWriter(w)

	header := []string{
		"repayment_txn_id", "repayment_vendor", "repayment_date", "repayment_amount",
		"card_number", "expense_txn_id", "expense_vendor", "expense_date",
		"expense_amount", "match_confidence", "match_method",
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	for _, m := range matches {
		record := []string{
			m.RepaymentTxnID,
			m.RepaymentVendor,
			m.RepaymentDate,
			formatAmount(m.RepaymentAmount),
			m.CardNumber,
			m.ExpenseTxnID,
			m.ExpenseVendor,
			m.ExpenseDate,
			formatAmount(m.ExpenseAmount),
			formatAmount(m.Confidence),
			m.Method,
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// WriteCyclesCSV exports every pairing's cycle rows.
func WriteCyclesCSV(w io.Writer, results []recon.PairingDiscrepancy) error {
	cw := csv.NewWriter(w)

	header := []string{
		"pairing_id", "cc_vendor", "cc_account", "bank_vendor", "bank_account",
		"cycle_date", "bank_total", "cc_total", "difference", "status",
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	for _, r := range results {
		p := r.Pairing
		for _, cy := range r.Discrepancy.Cycles {
			ccTotal, diff := "", ""
			if cy.CCTotal != nil {
				ccTotal = formatAmount(*cy.CCTotal)
				diff = formatAmount(*cy.Difference)
			}
			record := []string{
				strconv.FormatInt(p.ID, 10),
				p.CreditCardVendor,
				p.CreditCardAccountNumber,
				p.BankVendor,
				p.BankAccountNumber,
				cy.CycleDate,
				formatAmount(cy.BankTotal),
				ccTotal,
				diff,
				cy.Status,
			}
			if err := cw.Write(record); err != nil {
				return err
			}
		}
	}

	cw.Flush()
	return cw.Error()
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
