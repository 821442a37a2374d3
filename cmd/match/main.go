// Command match attributes individual card expenses to the bank
// repayments that paid them off, replacing the stored match set.
//
// Usage:
//
//	match -dry-run=false          run and persist
//	match -csv matches.csv        also export the match rows
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"

	"github.com/clarify-money/reconcile-backend/internal/cli"
	"github.com/clarify-money/reconcile-backend/internal/infrastructure/logging"
	"github.com/clarify-money/reconcile-backend/internal/report"
)

func main() {
	common := cli.RegisterCommonFlags()
	var (
		dryRun  = flag.Bool("dry-run", true, "Preview matches without persisting")
		csvPath = flag.String("csv", "", "Also write the match rows to a CSV file")
	)
	flag.Parse()

	app, err := cli.Bootstrap(logging.SystemMatcher, common)
	if err != nil {
		slog.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer func() { _ = app.Close() }()

	result, err := app.Service.MatchExpenses(context.Background(), *dryRun)
	if err != nil {
		app.Logger.Error("matching failed", "error", err)
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
		report.RenderMatchReport(os.Stdout, result)
	}

	if *csvPath != "" {
		f, err := os.Create(*csvPath)
		if err != nil {
			app.Logger.Error("creating CSV file", "path", *csvPath, "error", err)
			os.Exit(1)
		}
		defer func() { _ = f.Close() }()
		if err := report.WriteMatchesCSV(f, result.Matches); err != nil {
			app.Logger.Error("writing CSV", "path", *csvPath, "error", err)
			os.Exit(1)
		}
		app.Logger.Info("match rows exported", "path", *csvPath, "rows", len(result.Matches))
	}
}
