// Command refinery runs the self-tuning legal-text preprocessing pipeline.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lawtext/refinery/internal/config"
	"github.com/lawtext/refinery/internal/corpus"
	"github.com/lawtext/refinery/internal/engine"
	"github.com/lawtext/refinery/internal/evaluator"
	"github.com/lawtext/refinery/internal/gates"
	"github.com/lawtext/refinery/internal/orchestrator"
	"github.com/lawtext/refinery/internal/oscillation"
	"github.com/lawtext/refinery/internal/patch"
	"github.com/lawtext/refinery/internal/rules"
	"github.com/lawtext/refinery/internal/storage"
	"github.com/lawtext/refinery/internal/synth"
	"github.com/lawtext/refinery/internal/telemetry"
	"github.com/lawtext/refinery/internal/types"
	"github.com/lawtext/refinery/internal/version"
)

var (
	configPath string
	offline    bool
)

var rootCmd = &cobra.Command{
	Use:   "refinery",
	Short: "Self-tuning preprocessing pipeline for Korean legal case documents",
	Long: `refinery strips noise from court case documents with a versioned,
regex-based rule set that improves itself: an AI evaluator scores the
output, failed cases become patch suggestions, and every candidate rule
version must pass the safety gate chain before promotion.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default refinery.yaml)")
	rootCmd.PersistentFlags().BoolVar(&offline, "offline", false, "disable the AI evaluator (no API calls)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// app holds the wired pipeline for one CLI invocation.
type app struct {
	cfg   *config.Config
	st    storage.Storage
	rules *rules.Store
	eng   *engine.Engine
	vers  *version.Manager
	guard *oscillation.Guard
	eval  evaluator.Evaluator // nil in offline mode
	orch  *orchestrator.Orchestrator
	pgate *patch.Gate
}

// newApp wires every component from config. The evaluator is only built
// when a key is available and offline mode is off.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if offline {
		cfg.Evaluator.Offline = true
	}

	st, err := storage.NewStorage(ctx, &storage.Config{Path: cfg.Database})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store, err := rules.NewStore(st)
	if err != nil {
		return nil, err
	}
	eng := engine.New()
	vers, err := version.NewManager(st)
	if err != nil {
		return nil, err
	}
	guard := oscillation.NewGuard(
		oscillation.WithWindow(cfg.OscillationWindow()),
		oscillation.WithCooldown(cfg.FreezeCooldown()),
	)

	var eval evaluator.Evaluator
	if !cfg.Evaluator.Offline {
		retry := evaluator.DefaultRetryConfig()
		if cfg.Evaluator.MaxRetries > 0 {
			retry.MaxRetries = cfg.Evaluator.MaxRetries
		}
		if cfg.Evaluator.MaxConcurrent > 0 {
			retry.MaxConcurrentCalls = cfg.Evaluator.MaxConcurrent
		}
		if cfg.Evaluator.RequestsPerSecond > 0 {
			retry.RequestsPerSecond = cfg.Evaluator.RequestsPerSecond
		}
		client, err := evaluator.NewClient(&evaluator.Config{
			APIKey: cfg.Evaluator.APIKey,
			Model:  cfg.Evaluator.Model,
			Retry:  retry,
		})
		if err != nil {
			return nil, err
		}
		eval = client
	}

	synthesizer, err := synth.New(store, cfg.Patching.SynthesisThreshold)
	if err != nil {
		return nil, err
	}
	pgate, err := patch.NewGate(&patch.Config{
		Store:         store,
		Guard:         guard,
		History:       st,
		AutoThreshold: cfg.Patching.AutoApplyThreshold,
	})
	if err != nil {
		return nil, err
	}

	gateRunner, err := gates.NewRunner(&gates.Config{
		Engine:    eng,
		Store:     st,
		Evaluator: eval,
		Thresholds: gates.Thresholds{
			UnitPassRate: cfg.Gates.UnitPassRate,
			HoldoutMin: types.QualityMetrics{
				NRR:            cfg.Gates.HoldoutNRR,
				FPR:            cfg.Gates.HoldoutFPR,
				SS:             cfg.Gates.HoldoutSS,
				TokenReduction: cfg.Gates.HoldoutReduction,
			},
			HoldoutSampleSize: cfg.Gates.HoldoutSampleSize,
			MaxLatency:        durationMS(cfg.Gates.MaxLatencyMS),
			MaxMemoryMB:       uint64(cfg.Gates.MaxMemoryMB),
		},
	})
	if err != nil {
		return nil, err
	}

	source, err := corpus.NewStorageSource(st)
	if err != nil {
		return nil, err
	}

	orch, err := orchestrator.New(orchestrator.Config{
		Engine:           eng,
		Store:            store,
		Storage:          st,
		Synthesizer:      synthesizer,
		PatchGate:        pgate,
		Gates:            gateRunner,
		Versions:         vers,
		Source:           source,
		Evaluator:        eval,
		Telemetry:        telemetry.Logger{},
		MaxConcurrent:    cfg.Runs.MaxConcurrent,
		BatchSize:        cfg.Runs.BatchSize,
		BatchSizeCap:     cfg.Runs.BatchSizeCap,
		FullBatchSize:    cfg.Runs.FullBatchSize,
		SinglePassTarget: cfg.Runs.SinglePassTarget,
		MaxCycles:        cfg.Runs.MaxCycles,
		StabilizeAfter:   cfg.Runs.StabilizeAfter,
		DryRun: orchestrator.DryRunCriteria{
			SampleFraction: cfg.Runs.DryRunFraction,
			MaxFailureRate: cfg.Runs.DryRunMaxFailure,
			MaxAvgLatency:  durationS(cfg.Runs.DryRunMaxLatency),
			BudgetUSD:      cfg.Runs.BudgetUSD,
		},
	})
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:   cfg,
		st:    st,
		rules: store,
		eng:   eng,
		vers:  vers,
		guard: guard,
		eval:  eval,
		orch:  orch,
		pgate: pgate,
	}, nil
}

func (a *app) Close() {
	if err := a.st.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to close database: %v\n", err)
	}
}
