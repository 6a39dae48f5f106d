package cfg

import (
	"fmt"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	if Version == "" {
		return "unknown"
	}
	return Version
}

type rawCfg struct {
	// Preference store
	DBPath string `long:"db-path" env:"DB_PATH" default:"./listing-sieve.db" description:"Path to the SQLite preference store"`

	// Application configuration
	RulesDir     string `long:"rules-dir" env:"RULES_DIR" default:"./rules" description:"Directory containing preference rule catalog files"`
	Port         string `long:"port" env:"PORT" default:"8080" description:"HTTP server port"`
	APIAccessKey string `long:"api-key" env:"API_ACCESS_KEY" description:"API access key for authentication (optional)"`

	// Host site
	SiteBaseURL string `long:"site-base-url" env:"SITE_BASE_URL" default:"https://www.domain.com.au" description:"Base URL of the listings site"`

	// Classification tunables
	DebounceMs        int  `long:"debounce-ms" env:"DEBOUNCE_MS" default:"500" description:"Debounce window for surface change batches in milliseconds"`
	FetchRetries      int  `long:"fetch-retries" env:"FETCH_RETRIES" default:"3" description:"Attempts for a listing detail-page fetch"`
	FetchRetryDelayMs int  `long:"fetch-retry-delay-ms" env:"FETCH_RETRY_DELAY_MS" default:"1000" description:"Delay between listing fetch attempts in milliseconds"`
	StoreRetries      int  `long:"store-retries" env:"STORE_RETRIES" default:"5" description:"Attempts for a preference store read"`
	StoreRetryDelayMs int  `long:"store-retry-delay-ms" env:"STORE_RETRY_DELAY_MS" default:"1000" description:"Delay between preference store read attempts in milliseconds"`
	StrataCeiling     int  `long:"strata-ceiling" env:"STRATA_CEILING" default:"2000" description:"Strata fee slider maximum (quarterly, whole dollars)"`
	StrictStrataBelow int  `long:"strict-strata-below" env:"STRICT_STRATA_BELOW" default:"1000" description:"Strata ceilings below this value enable fee-based exclusion"`
	IncludeStudio     bool `long:"include-studio" env:"INCLUDE_STUDIO" description:"Default studio handling when no type filter state is reported"`

	// Application metadata
	UserAgent string `long:"user-agent" env:"USER_AGENT" default:"listing-sieve/1.0" description:"User agent string for HTTP requests"`
	Timezone  string `long:"timezone" env:"TZ" default:"UTC" description:"Timezone for timestamps (e.g., UTC, Australia/Sydney)"`
	Debug     bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

var globalCfg *Cfg

func Load() (*Cfg, error) {
	// .env is optional; real environment always wins
	_ = godotenv.Load()

	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)

	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				return nil, nil
			}
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg := &Cfg{
		DBPath:            raw.DBPath,
		RulesDir:          raw.RulesDir,
		Port:              raw.Port,
		APIAccessKey:      raw.APIAccessKey,
		SiteBaseURL:       raw.SiteBaseURL,
		DebounceMs:        raw.DebounceMs,
		FetchRetries:      raw.FetchRetries,
		FetchRetryDelayMs: raw.FetchRetryDelayMs,
		StoreRetries:      raw.StoreRetries,
		StoreRetryDelayMs: raw.StoreRetryDelayMs,
		StrataCeiling:     raw.StrataCeiling,
		StrictStrataBelow: raw.StrictStrataBelow,
		IncludeStudio:     raw.IncludeStudio,
		UserAgent:         raw.UserAgent,
		Timezone:          raw.Timezone,
		Debug:             raw.Debug,
		Version:           GetVersion(),
	}

	if err := applyTimezone(cfg.Timezone); err != nil {
		fmt.Printf("Warning: Invalid timezone '%s', using system default: %v\n", cfg.Timezone, err)
	}

	globalCfg = cfg

	return cfg, nil
}

func Get() *Cfg {
	if globalCfg == nil {
		panic("configuration not loaded - call cfg.Load() first")
	}
	return globalCfg
}

func applyTimezone(timezone string) error {
	if timezone != "" {
		if loc, err := time.LoadLocation(timezone); err != nil {
			return err
		} else {
			time.Local = loc
		}
	}
	return nil
}
