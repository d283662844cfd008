// Package config loads pipeline configuration from refinery.yaml with
// environment-variable overrides. A missing file yields a fully usable
// default config; a present file only needs the keys it wants to change.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full pipeline configuration.
type Config struct {
	// Database is the SQLite file path.
	Database string `yaml:"database"`
	// Socket is the control socket path.
	Socket string `yaml:"socket"`

	Evaluator EvaluatorConfig `yaml:"evaluator"`
	Patching  PatchingConfig  `yaml:"patching"`
	Gates     GatesConfig     `yaml:"gates"`
	Runs      RunsConfig      `yaml:"runs"`
}

// EvaluatorConfig configures the quality evaluator.
type EvaluatorConfig struct {
	// APIKey falls back to REFINERY_API_KEY, then ANTHROPIC_API_KEY.
	APIKey string `yaml:"api_key"`
	// Model falls back to REFINERY_MODEL, then the built-in default.
	Model string `yaml:"model"`
	// Offline disables the evaluator entirely (no API calls).
	Offline bool `yaml:"offline"`

	MaxRetries        int     `yaml:"max_retries"`
	TimeoutSeconds    int     `yaml:"timeout_seconds"`
	MaxConcurrent     int     `yaml:"max_concurrent"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// PatchingConfig configures patch synthesis and application.
type PatchingConfig struct {
	// SynthesisThreshold is the minimum suggestion confidence to become a
	// candidate (0.5-0.8 depending on risk tolerance).
	SynthesisThreshold float64 `yaml:"synthesis_threshold"`
	// AutoApplyThreshold is the minimum candidate confidence for automatic
	// application; below it candidates queue for manual review.
	AutoApplyThreshold float64 `yaml:"auto_apply_threshold"`
	// OscillationWindowMinutes and FreezeCooldownHours tune the guard.
	OscillationWindowMinutes int `yaml:"oscillation_window_minutes"`
	FreezeCooldownHours      int `yaml:"freeze_cooldown_hours"`
}

// GatesConfig configures the safety gate minimums.
type GatesConfig struct {
	UnitPassRate      float64 `yaml:"unit_pass_rate"`
	HoldoutNRR        float64 `yaml:"holdout_nrr"`
	HoldoutFPR        float64 `yaml:"holdout_fpr"`
	HoldoutSS         float64 `yaml:"holdout_ss"`
	HoldoutReduction  float64 `yaml:"holdout_token_reduction"`
	HoldoutSampleSize int     `yaml:"holdout_sample_size"`
	MaxLatencyMS      int     `yaml:"max_latency_ms"`
	MaxMemoryMB       int     `yaml:"max_memory_mb"`
}

// RunsConfig configures the orchestrator scales.
type RunsConfig struct {
	MaxConcurrent    int     `yaml:"max_concurrent"`
	BatchSize        int     `yaml:"batch_size"`
	BatchSizeCap     int     `yaml:"batch_size_cap"`
	FullBatchSize    int     `yaml:"full_batch_size"`
	SinglePassTarget int     `yaml:"single_pass_target"`
	MaxCycles        int     `yaml:"max_cycles"`
	StabilizeAfter   int     `yaml:"stabilize_after"`
	DryRunFraction   float64 `yaml:"dry_run_fraction"`
	DryRunMaxFailure float64 `yaml:"dry_run_max_failure_rate"`
	DryRunMaxLatency int     `yaml:"dry_run_max_latency_seconds"`
	BudgetUSD        float64 `yaml:"budget_usd"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Database: ".refinery/refinery.db",
		Socket:   ".refinery/control.sock",
		Evaluator: EvaluatorConfig{
			MaxRetries:        3,
			TimeoutSeconds:    60,
			MaxConcurrent:     3,
			RequestsPerSecond: 2,
		},
		Patching: PatchingConfig{
			SynthesisThreshold:       0.7,
			AutoApplyThreshold:       0.8,
			OscillationWindowMinutes: 60,
			FreezeCooldownHours:      24,
		},
		Gates: GatesConfig{
			UnitPassRate:      0.9,
			HoldoutNRR:        0.92,
			HoldoutFPR:        0.985,
			HoldoutSS:         0.90,
			HoldoutReduction:  20,
			HoldoutSampleSize: 20,
			MaxLatencyMS:      5000,
			MaxMemoryMB:       1000,
		},
		Runs: RunsConfig{
			MaxConcurrent:    5,
			BatchSize:        50,
			BatchSizeCap:     500,
			FullBatchSize:    200,
			SinglePassTarget: 20,
			MaxCycles:        10,
			StabilizeAfter:   3,
			DryRunFraction:   0.01,
			DryRunMaxFailure: 0.05,
			DryRunMaxLatency: 10,
			BudgetUSD:        5000,
		},
	}
}

// Load reads path (default refinery.yaml), merges it over the defaults,
// applies environment overrides, and validates. A missing file is not an
// error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "refinery.yaml"
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// Defaults only.
	case err != nil:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("REFINERY_DB"); v != "" {
		c.Database = v
	}
	if v := os.Getenv("REFINERY_SOCKET"); v != "" {
		c.Socket = v
	}
	if v := os.Getenv("REFINERY_API_KEY"); v != "" {
		c.Evaluator.APIKey = v
	}
	if v := os.Getenv("REFINERY_MODEL"); v != "" {
		c.Evaluator.Model = v
	}
	if os.Getenv("REFINERY_OFFLINE") == "1" {
		c.Evaluator.Offline = true
	}
}

// Validate rejects configurations that would misbehave silently.
func (c *Config) Validate() error {
	if c.Database == "" {
		return fmt.Errorf("database path is required")
	}
	if t := c.Patching.SynthesisThreshold; t <= 0 || t > 1 {
		return fmt.Errorf("synthesis_threshold must be in (0, 1], got %.2f", t)
	}
	if t := c.Patching.AutoApplyThreshold; t <= 0 || t > 1 {
		return fmt.Errorf("auto_apply_threshold must be in (0, 1], got %.2f", t)
	}
	if r := c.Gates.UnitPassRate; r <= 0 || r > 1 {
		return fmt.Errorf("unit_pass_rate must be in (0, 1], got %.2f", r)
	}
	if c.Runs.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d", c.Runs.BatchSize)
	}
	if c.Runs.BatchSizeCap < c.Runs.BatchSize {
		return fmt.Errorf("batch_size_cap %d is below batch_size %d", c.Runs.BatchSizeCap, c.Runs.BatchSize)
	}
	if c.Runs.MaxConcurrent <= 0 {
		return fmt.Errorf("max_concurrent must be positive, got %d", c.Runs.MaxConcurrent)
	}
	if f := c.Runs.DryRunFraction; f <= 0 || f > 1 {
		return fmt.Errorf("dry_run_fraction must be in (0, 1], got %.2f", f)
	}
	return nil
}

// OscillationWindow returns the guard window as a duration.
func (c *Config) OscillationWindow() time.Duration {
	return time.Duration(c.Patching.OscillationWindowMinutes) * time.Minute
}

// FreezeCooldown returns the guard cooldown as a duration.
func (c *Config) FreezeCooldown() time.Duration {
	return time.Duration(c.Patching.FreezeCooldownHours) * time.Hour
}
