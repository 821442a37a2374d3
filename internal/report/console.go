// Package report renders reconciliation results for the terminal and for
// CSV export.
package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/clarify-money/reconcile-backend/internal/application/recon"
	"github.com/clarify-money/reconcile-backend/internal/domain/cycles"
	"github.com/clarify-money/reconcile-backend/internal/domain/discovery"
	"github.com/clarify-money/reconcile-backend/internal/domain/ledger"
	"github.com/clarify-money/reconcile-backend/internal/domain/matcher"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	badStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func statusStyle(status string) lipgloss.Style {
	switch status {
	case cycles.StatusMatched:
		return okStyle
	case cycles.StatusFeeCandidate, cycles.StatusIncompleteHistory:
		return warnStyle
	case cycles.StatusLargeDiscrepancy, cycles.StatusCCOverBank, cycles.StatusMissingCCCycle:
		return badStyle
	}
	return dimStyle
}

// RenderDiscovery writes a human-readable discovery result.
func RenderDiscovery(w io.Writer, result discovery.Result) {
	if !result.Found {
		fmt.Fprintln(w, badStyle.Render("No bank account found"))
		if result.Reason != "" {
			fmt.Fprintln(w, dimStyle.Render(result.Reason))
		}
		return
	}

	fmt.Fprintln(w, titleStyle.Render("Bank account discovered"))
	fmt.Fprintf(w, "  Bank:         %s %s\n", result.BankVendor, result.BankAccountNumber)
	fmt.Fprintf(w, "  Evidence:     %d repayments (%d by last-4, %d by vendor keyword)\n",
		result.TransactionCount, result.MatchingLast4Count, result.MatchingVendorCount)
	fmt.Fprintf(w, "  Patterns:     %s\n", strings.Join(result.MatchPatterns, ", "))
	for _, sample := range result.SampleTransactions {
		fmt.Fprintln(w, dimStyle.Render(fmt.Sprintf("    %s  %.2f  %s", sample.Date, sample.Price, sample.Name)))
	}
	for _, c := range result.OtherCandidates {
		fmt.Fprintln(w, dimStyle.Render(fmt.Sprintf("  runner-up: %s %s (%d repayments)",
			c.BankVendor, c.BankAccountNumber, c.TransactionCount)))
	}
}

// RenderDiscrepancies writes the per-pairing cycle breakdown.
func RenderDiscrepancies(w io.Writer, results []recon.PairingDiscrepancy) {
	for _, r := range results {
		p := r.Pairing
		d := r.Discrepancy

		header := fmt.Sprintf("%s %s <- %s %s",
			p.CreditCardVendor, p.CreditCardAccountNumber, p.BankVendor, p.BankAccountNumber)
		fmt.Fprintln(w, titleStyle.Render(header))

		if !d.Exists && d.Reason != "" {
			fmt.Fprintln(w, dimStyle.Render("  "+d.Reason))
			continue
		}

		for _, cy := range d.Cycles {
			line := fmt.Sprintf("  %s  bank %9.2f", cy.CycleDate, cy.BankTotal)
			if cy.CCTotal != nil {
				line += fmt.Sprintf("  card %9.2f  diff %8.2f", *cy.CCTotal, *cy.Difference)
			} else {
				line += "  card      -        diff     -   "
			}
			fmt.Fprintf(w, "%s  %s\n", line, statusStyle(cy.Status).Render(cy.Status))
		}

		summary := fmt.Sprintf("  %d/%d cycles matched | bank %.2f vs card %.2f (%.2f, %.2f%%)",
			d.MatchedCycleCount, d.TotalCycles,
			d.TotalBankRepayments, d.TotalCCExpenses, d.Difference, d.DifferencePercentage)
		if d.Exists {
			fmt.Fprintln(w, warnStyle.Render(summary+"  [needs attention]"))
		} else if d.Acknowledged {
			fmt.Fprintln(w, dimStyle.Render(summary+"  [acknowledged]"))
		} else {
			fmt.Fprintln(w, okStyle.Render(summary))
		}
	}
}

// RenderMatchReport writes per-repayment matching outcomes.
func RenderMatchReport(w io.Writer, report recon.MatchReport) {
	mode := "persisted"
	if report.DryRun {
		mode = "dry run"
	}
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("Matched %d repayments (%s)", len(report.Outcomes), mode)))
	if report.RunID != "" {
		fmt.Fprintln(w, dimStyle.Render("  run "+report.RunID))
	}

	for _, o := range report.Outcomes {
		var style lipgloss.Style
		switch o.State {
		case matcher.OutcomeMatchedSauvage, matcher.OutcomeMatchedChronological:
			style = okStyle
		case matcher.OutcomeMatchedWithCarryover:
			style = warnStyle
		default:
			style = badStyle
		}
		line := fmt.Sprintf("  %s  %9.2f  %-28s %s", ledger.DayKey(o.RepaymentDate), o.RepaymentAmount,
			truncate(o.RepaymentName, 28), style.Render(o.State))
		if o.MatchedCount > 0 {
			line += dimStyle.Render(fmt.Sprintf("  %d expenses, sum %.2f", o.MatchedCount, o.MatchedSum))
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintf(w, "Total matches: %d\n", len(report.Matches))
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}
