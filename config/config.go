/*
Package config loads and validates the engine's tuning parameters.

PURPOSE:
  Everything operators reasonably tune lives here: score blend weights,
  the top-N size, trailing windows, pacing bands, the follow-up window,
  and the batch schedules. Business rules (the state machine, the segment
  table, the median algorithm) are code, not configuration.

USAGE:
  cfg, err := config.Load("./config.yaml")
  A missing file yields Default(). Load always validates.
*/
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration.
type Config struct {
	Database  Database  `yaml:"database"`
	Server    Server    `yaml:"server"`
	Engine    Engine    `yaml:"engine"`
	Schedules Schedules `yaml:"schedules"`
	Digest    Digest    `yaml:"digest"`
}

type Database struct {
	Path string `yaml:"path"`
}

type Server struct {
	Addr string `yaml:"addr"`
}

// Engine tunes the weekly aggregation cycle.
type Engine struct {
	TopN                 int     `yaml:"top_n"`
	ForecastWindowYears  int     `yaml:"forecast_window_years"`
	CoverageWindowMonths int     `yaml:"coverage_window_months"`
	Workers              int     `yaml:"workers"`
	Weights              Weights `yaml:"weights"`
}

// Weights blend the health sub-scores. Relative values; they need not sum
// to 1.
type Weights struct {
	Recency   float64 `yaml:"recency"`
	Frequency float64 `yaml:"frequency"`
	Monetary  float64 `yaml:"monetary"`
	Pace      float64 `yaml:"pace"`
}

// Schedules are cron expressions for the batch jobs.
type Schedules struct {
	Aggregate string `yaml:"aggregate"`
	Reminders string `yaml:"reminders"`
	Digests   string `yaml:"digests"`
}

// Digest tunes the weekly rep email.
type Digest struct {
	FollowUpAfterDays int     `yaml:"follow_up_after_days"`
	CrossSellAccounts int     `yaml:"cross_sell_accounts"`
	GapsPerAccount    int     `yaml:"gaps_per_account"`
	SeverelyBehindPct float64 `yaml:"severely_behind_pct"`
	BehindPct         float64 `yaml:"behind_pct"`
	LowHealthBelow    float64 `yaml:"low_health_below"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Database: Database{Path: "./data/pulse.db"},
		Server:   Server{Addr: ":8080"},
		Engine: Engine{
			TopN:                 30,
			ForecastWindowYears:  3,
			CoverageWindowMonths: 12,
			Workers:              8,
			Weights: Weights{
				Recency:   0.3,
				Frequency: 0.25,
				Monetary:  0.25,
				Pace:      0.2,
			},
		},
		Schedules: Schedules{
			Aggregate: "0 2 * * 1", // Mondays 02:00
			Reminders: "0 8 * * *", // daily 08:00
			Digests:   "0 7 * * 1", // Mondays 07:00
		},
		Digest: Digest{
			FollowUpAfterDays: 7,
			CrossSellAccounts: 5,
			GapsPerAccount:    3,
			SeverelyBehindPct: -20,
			BehindPct:         -10,
			LowHealthBelow:    40,
		},
	}
}

// Load reads the YAML file at path, filling unset fields from Default().
// A missing file returns Default() without error.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c Config) Validate() error {
	if c.Engine.TopN <= 0 {
		return fmt.Errorf("engine.top_n must be positive, got %d", c.Engine.TopN)
	}
	if c.Engine.ForecastWindowYears <= 0 {
		return fmt.Errorf("engine.forecast_window_years must be positive, got %d", c.Engine.ForecastWindowYears)
	}
	if c.Engine.CoverageWindowMonths <= 0 {
		return fmt.Errorf("engine.coverage_window_months must be positive, got %d", c.Engine.CoverageWindowMonths)
	}
	if c.Engine.Workers <= 0 {
		return fmt.Errorf("engine.workers must be positive, got %d", c.Engine.Workers)
	}
	w := c.Engine.Weights
	if w.Recency < 0 || w.Frequency < 0 || w.Monetary < 0 || w.Pace < 0 {
		return fmt.Errorf("engine.weights must be non-negative")
	}
	if w.Recency+w.Frequency+w.Monetary+w.Pace == 0 {
		return fmt.Errorf("engine.weights must include at least one positive weight")
	}
	if c.Digest.FollowUpAfterDays <= 0 {
		return fmt.Errorf("digest.follow_up_after_days must be positive, got %d", c.Digest.FollowUpAfterDays)
	}
	if c.Digest.LowHealthBelow <= 0 || c.Digest.LowHealthBelow > 100 {
		return fmt.Errorf("digest.low_health_below must be in (0, 100], got %v", c.Digest.LowHealthBelow)
	}
	if c.Digest.SeverelyBehindPct > c.Digest.BehindPct {
		return fmt.Errorf("digest.severely_behind_pct (%v) must not exceed digest.behind_pct (%v)",
			c.Digest.SeverelyBehindPct, c.Digest.BehindPct)
	}
	return nil
}
