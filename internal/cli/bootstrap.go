package cli

import (
	"log/slog"

	"github.com/joho/godotenv"

	"github.com/clarify-money/reconcile-backend/internal/application/recon"
	"github.com/clarify-money/reconcile-backend/internal/infrastructure/config"
	"github.com/clarify-money/reconcile-backend/internal/infrastructure/logging"
	"github.com/clarify-money/reconcile-backend/internal/infrastructure/storage"
)

// App bundles everything a command needs after bootstrap.
type App struct {
	Config  *config.Config
	Logger  *slog.Logger
	Store   *storage.Storage
	Service *recon.Service
}

// Bootstrap loads environment and config, then wires logger, storage and
// the reconciliation service. The caller owns Close.
func Bootstrap(system string, flags *CommonFlags) (*App, error) {
	// A missing .env file is fine; explicit environment still applies.
	_ = godotenv.Load()

	cfg := config.LoadOrEnvWithPath(flags.ConfigPath)
	if flags.Verbose {
		cfg.Observability.Logging.Level = "debug"
	}

	logger := logging.NewLoggerWithSystem(cfg.Observability.Logging, system)

	store, err := storage.NewStorage(cfg.Storage.DatabasePath, RulesFromConfig(cfg))
	if err != nil {
		return nil, err
	}

	return &App{
		Config:  cfg,
		Logger:  logger,
		Store:   store,
		Service: recon.NewService(store, cfg, logger),
	}, nil
}

// Close releases the app's resources.
func (a *App) Close() error {
	return a.Store.Close()
}

// RulesFromConfig maps the configured category and fee-waiver tables to
// the storage query rules.
func RulesFromConfig(cfg *config.Config) storage.Rules {
	r := cfg.Reconciliation
	return storage.Rules{
		Repayment: storage.CategoryFilter{
			Name:   r.RepaymentCategories.Name,
			NameEN: r.RepaymentCategories.NameEN,
			NameFR: r.RepaymentCategories.NameFR,
		},
		CardFees: storage.CategoryFilter{
			Name:   r.CardFeeCategories.Name,
			NameEN: r.CardFeeCategories.NameEN,
			NameFR: r.CardFeeCategories.NameFR,
		},
		FeeMarker:     r.FeeWaiver.FeeMarker,
		WaiverMarkers: r.FeeWaiver.WaiverMarkers,
	}
}
