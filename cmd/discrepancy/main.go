// Command discrepancy classifies repayment cycles for credit-card to
// bank-account pairings and reports where bank and card totals diverge.
//
// Usage:
//
//	discrepancy                                   all active pairings
//	discrepancy -pairing 3                        one pairing
//	discrepancy -card visaCal:1456 -bank discount:0162490242   ad hoc
//	discrepancy -acknowledge 3                    mark as seen
package main

import (
	"encoding/json"
	"flag"
	"log/slog"
	"os"

	"github.com/clarify-money/reconcile-backend/internal/application/recon"
	"github.com/clarify-money/reconcile-backend/internal/cli"
	"github.com/clarify-money/reconcile-backend/internal/infrastructure/logging"
	"github.com/clarify-money/reconcile-backend/internal/report"
)

func main() {
	common := cli.RegisterCommonFlags()
	var (
		pairingID   = flag.Int64("pairing", 0, "Classify a single pairing by id")
		card        = flag.String("card", "", "Ad hoc credit card as vendor:account (with -bank)")
		bank        = flag.String("bank", "", "Ad hoc bank account as vendor:account (with -card)")
		acknowledge = flag.Int64("acknowledge", 0, "Mark a pairing's discrepancy as seen and exit")
		csvPath     = flag.String("csv", "", "Also write the cycle rows to a CSV file")
	)
	flag.Parse()

	app, err := cli.Bootstrap(logging.SystemCycles, common)
	if err != nil {
		slog.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer func() { _ = app.Close() }()

	if *acknowledge != 0 {
		if err := app.Service.AcknowledgeDiscrepancy(*acknowledge, true); err != nil {
			app.Logger.Error("acknowledging discrepancy", "pairing", *acknowledge, "error", err)
			os.Exit(1)
		}
		app.Logger.Info("discrepancy acknowledged", "pairing", *acknowledge)
		return
	}

	var results []recon.PairingDiscrepancy
	switch {
	case *card != "" || *bank != "":
		if *card == "" || *bank == "" {
			app.Logger.Error("-card and -bank must be used together")
			os.Exit(2)
		}
		ccVendor, ccAccount, err := cli.ParseVendorAccount(*card)
		if err != nil {
			app.Logger.Error("invalid -card argument", "error", err)
			os.Exit(2)
		}
		bankVendor, bankAccount, err := cli.ParseVendorAccount(*bank)
		if err != nil {
			app.Logger.Error("invalid -bank argument", "error", err)
			os.Exit(2)
		}
		d, err := app.Service.AdHocDiscrepancy(ccVendor, ccAccount, bankVendor, bankAccount)
		if err != nil {
			app.Logger.Error("classification failed", "error", err)
			os.Exit(1)
		}
		results = []recon.PairingDiscrepancy{{Discrepancy: d}}
		results[0].Pairing.CreditCardVendor = ccVendor
		results[0].Pairing.CreditCardAccountNumber = ccAccount
		results[0].Pairing.BankVendor = bankVendor
		results[0].Pairing.BankAccountNumber = bankAccount

	case *pairingID != 0:
		r, err := app.Service.DiscrepancyForPairing(*pairingID)
		if err != nil {
			app.Logger.Error("classification failed", "pairing", *pairingID, "error", err)
			os.Exit(1)
		}
		results = []recon.PairingDiscrepancy{r}

	default:
		results, err = app.Service.AllDiscrepancies()
		if err != nil {
			app.Logger.Error("classification failed", "error", err)
			os.Exit(1)
		}
	}

	if common.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			app.Logger.Error("encoding results", "error", err)
			os.Exit(1)
		}
	} else {
		report.RenderDiscrepancies(os.Stdout, results)
	}

	if *csvPath != "" {
		f, err := os.Create(*csvPath)
		if err != nil {
			app.Logger.Error("creating CSV file", "path", *csvPath, "error", err)
			os.Exit(1)
		}
		defer func() { _ = f.Close() }()
		if err := report.WriteCyclesCSV(f, results); err != nil {
			app.Logger.Error("writing CSV", "path", *csvPath, "error", err)
			os.Exit(1)
		}
		app.Logger.Info("cycle rows exported", "path", *csvPath)
	}
}
