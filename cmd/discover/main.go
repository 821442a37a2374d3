// Command discover locates the bank account that repays a credit card by
// scanning repayment transactions for references to it.
//
// Usage:
//
//	discover -card visaCal:00881456 [-bank discount] [-create-pairing]
package main

import (
	"encoding/json"
	"flag"
	"log/slog"
	"os"

	"github.com/clarify-money/reconcile-backend/internal/cli"
	"github.com/clarify-money/reconcile-backend/internal/domain/discovery"
	"github.com/clarify-money/reconcile-backend/internal/infrastructure/logging"
	"github.com/clarify-money/reconcile-backend/internal/report"
)

func main() {
	common := cli.RegisterCommonFlags()
	var (
		card          = flag.String("card", "", "Credit card as vendor:account (required)")
		bank          = flag.String("bank", "", "Restrict to a bank as vendor or vendor:account")
		createPairing = flag.Bool("create-pairing", false, "Persist a pairing when discovery succeeds")
	)
	flag.Parse()

	if *card == "" {
		flag.Usage()
		os.Exit(2)
	}

	app, err := cli.Bootstrap(logging.SystemDiscovery, common)
	if err != nil {
		slog.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer func() { _ = app.Close() }()

	ccVendor, ccAccount, err := cli.ParseVendorAccount(*card)
	if err != nil {
		app.Logger.Error("invalid -card argument", "error", err)
		os.Exit(2)
	}

	req := discovery.Request{
		CreditCardVendor:        ccVendor,
		CreditCardAccountNumber: ccAccount,
	}
	if *bank != "" {
		bankVendor, bankAccount, err := cli.ParseVendorAccount(*bank)
		if err != nil {
			app.Logger.Error("invalid -bank argument", "error", err)
			os.Exit(2)
		}
		req.BankVendorFilter = bankVendor
		req.BankAccountFilter = bankAccount
	}

	result, err := app.Service.DiscoverBankAccount(req)
	if err != nil {
		app.Logger.Error("discovery failed", "error", err)
		os.Exit(1)
	}

	if common.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			app.Logger.Error("encoding result", "error", err)
			os.Exit(1)
		}
	} else {
		report.RenderDiscovery(os.Stdout, result)
	}

	if !result.Found {
		os.Exit(1)
	}

	if *createPairing {
		id, err := app.Service.CreatePairingFromDiscovery(req, result)
		if err != nil {
			app.Logger.Error("creating pairing", "error", err)
			os.Exit(1)
		}
		app.Logger.Info("pairing ready", "id", id)
	}
}
