// Package config provides centralized configuration management.
//
// Configuration can be loaded from:
//  1. YAML file (config.yaml)
//  2. Environment variables (fallback)
//
// Example usage:
//
//	cfg := config.LoadOrEnv()
//	dbPath := cfg.Storage.DatabasePath
//	keywords := cfg.Reconciliation.VendorKeywords
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the entire application configuration
type Config struct {
	Storage        StorageConfig        `yaml:"storage"`
	Reconciliation ReconciliationConfig `yaml:"reconciliation"`
	Matcher        MatcherConfig        `yaml:"matcher"`
	Observability  ObservabilityConfig  `yaml:"observability"`
}

// StorageConfig holds database configuration
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// ReconciliationConfig holds the discovery and discrepancy settings
type ReconciliationConfig struct {
	// VendorKeywords maps a card vendor id to the substrings that identify
	// it inside bank transaction descriptions.
	VendorKeywords map[string][]string `yaml:"vendor_keywords"`
	// RepaymentCategories identifies the ledger category marking a bank
	// transaction as a credit-card repayment.
	RepaymentCategories CategoryMatch `yaml:"repayment_categories"`
	// CardFeeCategories identifies the fee category whose rows adjust a
	// card's billed total.
	CardFeeCategories CategoryMatch   `yaml:"card_fee_categories"`
	FeeWaiver         FeeWaiverConfig `yaml:"fee_waiver"`
	// PeriodMonths is the default analysis window.
	PeriodMonths int `yaml:"period_months"`
	// Epsilon is the matched-cycle tolerance, MaxFee the fee-candidate
	// ceiling, both in currency units.
	Epsilon float64 `yaml:"epsilon"`
	MaxFee  float64 `yaml:"max_fee"`
	// RecentGraceDays / EarlyGraceDays suppress classification near the
	// edges of the card's known history.
	RecentGraceDays int `yaml:"recent_grace_days"`
	EarlyGraceDays  int `yaml:"early_grace_days"`
	// DiscoveryLimit caps how many repayment rows discovery scans.
	DiscoveryLimit int `yaml:"discovery_limit"`
}

// CategoryMatch lists acceptable category names per locale column.
type CategoryMatch struct {
	Name   []string `yaml:"name"`
	NameEN []string `yaml:"name_en"`
	NameFR []string `yaml:"name_fr"`
}

// FeeWaiverConfig describes fee rows that count as credits rather than
// charges: a fee marker plus at least one waiver marker in the name.
type FeeWaiverConfig struct {
	FeeMarker     string   `yaml:"fee_marker"`
	WaiverMarkers []string `yaml:"waiver_markers"`
}

// MatcherConfig holds the expense matching thresholds
type MatcherConfig struct {
	SauvageDayThreshold   int     `yaml:"sauvage_day_threshold"`
	LargeAmount           float64 `yaml:"large_amount"`
	LargeAmountTolerance  float64 `yaml:"large_amount_tolerance"`
	ImmediateTolerance    float64 `yaml:"immediate_tolerance"`
	ImmediateLookbackDays int     `yaml:"immediate_lookback_days"`
	AccumulationTolerance float64 `yaml:"accumulation_tolerance"`
	MonthlyLookbackDays   int     `yaml:"monthly_lookback_days"`
	SauvageLookbackDays   int     `yaml:"sauvage_lookback_days"`
	// VendorCycleStartDay overrides the billing-period rule for card
	// vendors whose cycle starts on a fixed day instead of the 1st.
	VendorCycleStartDay map[string]int `yaml:"vendor_cycle_start_day"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	Logging LoggingConfig `yaml:"logging"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and parses the config file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables (e.g., ${LEDGER_DB_PATH})
	expanded := os.ExpandEnv(string(data))

	cfg := defaults()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables only
func LoadFromEnv() *Config {
	cfg := defaults()
	cfg.Storage.DatabasePath = getEnv("LEDGER_DB_PATH", "ledger.db")
	cfg.Reconciliation.PeriodMonths = getEnvInt("RECON_PERIOD_MONTHS", cfg.Reconciliation.PeriodMonths)
	cfg.Reconciliation.DiscoveryLimit = getEnvInt("RECON_DISCOVERY_LIMIT", cfg.Reconciliation.DiscoveryLimit)
	cfg.Observability.Logging.Level = getEnv("LOG_LEVEL", "info")
	cfg.Observability.Logging.Format = getEnv("LOG_FORMAT", "text")
	return cfg
}

// LoadOrEnv tries to load from config.yaml, falls back to environment variables
func LoadOrEnv() *Config {
	return LoadOrEnvWithPath("config.yaml")
}

// LoadOrEnvWithPath tries to load from specified path, falls back to environment variables
func LoadOrEnvWithPath(path string) *Config {
	if cfg, err := Load(path); err == nil {
		return cfg
	}
	return LoadFromEnv()
}

// defaults returns the compiled-in configuration. The keyword and
// category tables cover the Israeli card ecosystem the ledger was built
// around; YAML overrides replace whole sections, not single entries.
func defaults() *Config {
	return &Config{
		Storage: StorageConfig{
			DatabasePath: "ledger.db",
		},
		Reconciliation: ReconciliationConfig{
			VendorKeywords: map[string][]string{
				"max":      {"מקס", "max"},
				"visaCal":  {"כ.א.ל", "cal", "ויזה כאל", "visa cal"},
				"isracard": {"ישראכרט", "isracard"},
				"amex":     {"אמקס", "אמריקן אקספרס", "amex", "american express"},
				"leumi":    {"לאומי כרט", "leumi card"},
				"diners":   {"דיינרס", "diners"},
			},
			RepaymentCategories: CategoryMatch{
				Name:   []string{"פרעון כרטיס אשראי", "החזר כרטיס אשראי"},
				NameEN: []string{"Credit Card Repayment", "Card repayment", "Credit card repayment"},
				NameFR: []string{"Remboursement de carte de crédit"},
			},
			CardFeeCategories: CategoryMatch{
				Name:   []string{"עמלות בנק וכרטיס"},
				NameEN: []string{"Bank & Card Fees"},
			},
			FeeWaiver: FeeWaiverConfig{
				FeeMarker:     "דמי כרטיס",
				WaiverMarkers: []string{"פטור", "הנחה"},
			},
			PeriodMonths:    6,
			Epsilon:         1.0,
			MaxFee:          200.0,
			RecentGraceDays: 14,
			EarlyGraceDays:  14,
			DiscoveryLimit:  500,
		},
		Matcher: MatcherConfig{
			SauvageDayThreshold:   15,
			LargeAmount:           1000,
			LargeAmountTolerance:  5,
			ImmediateTolerance:    1,
			ImmediateLookbackDays: 7,
			AccumulationTolerance: 2,
			MonthlyLookbackDays:   90,
			SauvageLookbackDays:   365,
		},
		Observability: ObservabilityConfig{
			Logging: LoggingConfig{
				Level:  "info",
				Format: "text",
			},
		},
	}
}

// getEnv retrieves an environment variable with a fallback default
func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

// getEnvInt retrieves an integer environment variable with a fallback default
func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		var result int
		if _, err := fmt.Sscanf(val, "%d", &result); err == nil {
			return result
		}
	}
	return fallback
}
