// Package orchestrator drives the self-tuning cycle at three scales: one
// case, a stratified batch, and the full corpus.
//
// Every scale shares one cycle shape: sample, transform, evaluate,
// synthesize patches, gate, promote. Rule mutation only ever happens between
// batches, after all in-flight document tasks have completed, so a batch
// always runs against the rule-set version pinned at its start.
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/lawtext/refinery/internal/corpus"
	"github.com/lawtext/refinery/internal/engine"
	"github.com/lawtext/refinery/internal/evaluator"
	"github.com/lawtext/refinery/internal/gates"
	"github.com/lawtext/refinery/internal/patch"
	"github.com/lawtext/refinery/internal/rules"
	"github.com/lawtext/refinery/internal/storage"
	"github.com/lawtext/refinery/internal/synth"
	"github.com/lawtext/refinery/internal/telemetry"
	"github.com/lawtext/refinery/internal/types"
	"github.com/lawtext/refinery/internal/version"
)

// DryRunCriteria gates full-corpus processing behind a small trial run.
type DryRunCriteria struct {
	SampleFraction float64       // fraction of the corpus (default 0.01)
	MaxFailureRate float64       // default 0.05
	MaxAvgLatency  time.Duration // per-case (default 10s)
	BudgetUSD      float64       // extrapolated full-corpus cost cap (default 5000)
}

// Config wires the orchestrator's collaborators and tunables.
type Config struct {
	Engine      *engine.Engine
	Store       *rules.Store
	Storage     storage.Storage
	Synthesizer *synth.Synthesizer
	PatchGate   *patch.Gate
	Gates       *gates.Runner
	Versions    *version.Manager
	Source      corpus.Source
	// Evaluator may be nil for offline runs: documents are transformed but
	// not scored, and no patches are synthesized.
	Evaluator evaluator.Evaluator
	// Telemetry defaults to telemetry.Noop.
	Telemetry telemetry.Hooks

	MaxConcurrent    int            // bounded per-document parallelism (default 5)
	BatchSize        int            // initial stratified batch size (default 50)
	BatchSizeCap     int            // scale_up ceiling (default 500)
	FullBatchSize    int            // offset-batch size for full runs (default 200)
	SinglePassTarget int            // consecutive passes before single-scale readiness (default 20)
	MaxCycles        int            // batch cycle cap (default 10)
	StabilizeAfter   int            // no-improvement cycles before stabilized (default 3)
	DryRun           DryRunCriteria // zero value filled with defaults
}

func (c *Config) fillDefaults() {
	if c.Telemetry == nil {
		c.Telemetry = telemetry.Noop{}
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 5
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.BatchSizeCap <= 0 {
		c.BatchSizeCap = 500
	}
	if c.FullBatchSize <= 0 {
		c.FullBatchSize = 200
	}
	if c.SinglePassTarget <= 0 {
		c.SinglePassTarget = 20
	}
	if c.MaxCycles <= 0 {
		c.MaxCycles = 10
	}
	if c.StabilizeAfter <= 0 {
		c.StabilizeAfter = 3
	}
	if c.DryRun.SampleFraction <= 0 {
		c.DryRun.SampleFraction = 0.01
	}
	if c.DryRun.MaxFailureRate <= 0 {
		c.DryRun.MaxFailureRate = 0.05
	}
	if c.DryRun.MaxAvgLatency <= 0 {
		c.DryRun.MaxAvgLatency = 10 * time.Second
	}
	if c.DryRun.BudgetUSD <= 0 {
		c.DryRun.BudgetUSD = 5000
	}
}

// Orchestrator runs processing jobs. One job is active at a time; the
// control surface (stop/pause/resume) acts on the active job and takes
// effect at batch boundaries.
type Orchestrator struct {
	cfg Config

	mu       sync.Mutex
	active   *types.ProcessingJob
	stopReq  bool
	pauseReq bool

	// lastHoldout is the holdout average of the last promoted candidate,
	// compared against the next candidate for auto-rollback. Only touched
	// between batches.
	lastHoldout *types.QualityMetrics
}

// New creates an orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("rule store is required")
	}
	if cfg.Storage == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if cfg.Source == nil {
		return nil, fmt.Errorf("document source is required")
	}
	if cfg.Gates == nil {
		return nil, fmt.Errorf("gate runner is required")
	}
	if cfg.Versions == nil {
		return nil, fmt.Errorf("version manager is required")
	}
	cfg.fillDefaults()
	return &Orchestrator{cfg: cfg}, nil
}

// Stop requests cancellation of the active job. Acknowledged immediately,
// applied at the next batch boundary; the in-flight batch always finishes.
func (o *Orchestrator) Stop(jobID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active == nil || o.active.JobID != jobID {
		return fmt.Errorf("no active job %s", jobID)
	}
	o.stopReq = true
	return nil
}

// Pause requests a pause at the next batch boundary.
func (o *Orchestrator) Pause(jobID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active == nil || o.active.JobID != jobID {
		return fmt.Errorf("no active job %s", jobID)
	}
	o.pauseReq = true
	return nil
}

// Resume lifts a pause.
func (o *Orchestrator) Resume(jobID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active == nil || o.active.JobID != jobID {
		return fmt.Errorf("no active job %s", jobID)
	}
	o.pauseReq = false
	return nil
}

// Status returns the job from the persistent record, so it works for
// historical jobs too.
func (o *Orchestrator) Status(ctx context.Context, jobID string) (*types.ProcessingJob, error) {
	return o.cfg.Storage.GetJob(ctx, jobID)
}

// ActiveJob returns the in-flight job, or nil.
func (o *Orchestrator) ActiveJob() *types.ProcessingJob {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active == nil {
		return nil
	}
	copied := *o.active
	return &copied
}

// newJob creates and persists a pending job and installs it as active.
func (o *Orchestrator) newJob(ctx context.Context, scale types.ProcessingScale, total int) (*types.ProcessingJob, error) {
	ver, err := o.cfg.Store.CurrentVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve rules version for job: %w", err)
	}

	job := &types.ProcessingJob{
		JobID:        uuid.New().String(),
		Scale:        scale,
		Status:       types.JobPending,
		RulesVersion: ver,
		TotalCases:   total,
		StartTime:    time.Now().UTC(),
	}
	if err := o.cfg.Storage.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	o.mu.Lock()
	o.active = job
	o.stopReq = false
	o.pauseReq = false
	o.mu.Unlock()
	return job, nil
}

// transition moves the job through its state machine and persists it.
func (o *Orchestrator) transition(ctx context.Context, job *types.ProcessingJob, next types.JobStatus) error {
	if err := job.Transition(next); err != nil {
		return err
	}
	if err := o.cfg.Storage.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("failed to persist job %s: %w", job.JobID, err)
	}
	o.mu.Lock()
	if o.active != nil && o.active.JobID == job.JobID {
		copied := *job
		o.active = &copied
		if next.IsTerminal() {
			o.active = nil
		}
	}
	o.mu.Unlock()
	return nil
}

// finish moves a job to a terminal state, never returning a transition error
// (terminal bookkeeping best-effort on top of a real failure).
func (o *Orchestrator) finish(ctx context.Context, job *types.ProcessingJob, status types.JobStatus) {
	if err := o.transition(ctx, job, status); err != nil {
		log.Printf("failed to finalize job %s as %s: %v", job.JobID, status, err)
	}
}

// stopRequested reports whether a stop is pending, checked between batches.
func (o *Orchestrator) stopRequested() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stopReq
}

// waitIfPaused blocks while a pause is pending. Returns false if the wait
// ended because of a stop request or context cancellation.
func (o *Orchestrator) waitIfPaused(ctx context.Context, job *types.ProcessingJob) (bool, error) {
	o.mu.Lock()
	paused := o.pauseReq && !o.stopReq
	o.mu.Unlock()
	if !paused {
		return !o.stopRequested(), nil
	}

	if err := o.transition(ctx, job, types.JobPaused); err != nil {
		return false, err
	}
	log.Printf("job %s paused", job.JobID)

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-ticker.C:
			o.mu.Lock()
			stillPaused := o.pauseReq && !o.stopReq
			stopped := o.stopReq
			o.mu.Unlock()
			if stopped {
				return false, nil
			}
			if !stillPaused {
				if err := o.transition(ctx, job, types.JobProcessing); err != nil {
					return false, err
				}
				log.Printf("job %s resumed", job.JobID)
				return true, nil
			}
		}
	}
}

// caseOutcome is the per-document result inside a batch.
type caseOutcome struct {
	doc      *types.Document
	output   string
	stats    *engine.Stats
	eval     *evaluator.Result
	err      error
	duration time.Duration
}

// batchOutcome aggregates one batch. Aggregation is order-independent:
// counts and sums only.
type batchOutcome struct {
	processed   int
	failed      int
	totalTime   time.Duration
	metricsSum  types.QualityMetrics
	evaluated   int
	suggestions []types.RawSuggestion
	failures    []caseFailure
	usedRules   map[string]bool
	recentErrs  []string
}

type caseFailure struct {
	caseID   string
	patterns []string
	content  string
	output   string
}

// processBatch transforms and evaluates documents with bounded concurrency.
// The rule set is pinned for the whole batch. Per-document evaluator errors
// degrade to a failed case; they never abort the batch.
func (o *Orchestrator) processBatch(ctx context.Context, docs []*types.Document, rs *types.RuleSet) *batchOutcome {
	outcomes := make([]caseOutcome, len(docs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.MaxConcurrent)
	for i, doc := range docs {
		g.Go(func() error {
			start := time.Now()
			out := caseOutcome{doc: doc}
			out.output, out.stats = o.cfg.Engine.ApplyRules(doc.Content, rs, nil)

			if o.cfg.Evaluator != nil {
				res, err := o.cfg.Evaluator.Evaluate(gctx, doc.Content, out.output, docMeta(doc))
				if err != nil {
					// Fallback zero metrics; the case counts as failed.
					out.err = err
					out.eval = &evaluator.Result{}
				} else {
					out.eval = res
				}
			}
			out.duration = time.Since(start)
			outcomes[i] = out
			o.cfg.Telemetry.RecordCaseProcessed(out.duration, out.err == nil)
			return nil
		})
	}
	// Workers never return errors; they record them per case.
	_ = g.Wait()

	agg := &batchOutcome{usedRules: make(map[string]bool)}
	for i := range outcomes {
		out := &outcomes[i]
		if out.doc == nil {
			continue // context cancelled before this slot ran
		}
		agg.processed++
		agg.totalTime += out.duration
		for _, applied := range out.stats.Applied {
			agg.usedRules[applied.RuleID] = true
		}

		if out.err != nil {
			agg.failed++
			if len(agg.recentErrs) < 10 {
				agg.recentErrs = append(agg.recentErrs, fmt.Sprintf("%s: %v", out.doc.CaseID, out.err))
			}
			continue
		}
		if out.eval == nil {
			continue // offline run, nothing to judge
		}

		agg.evaluated++
		agg.metricsSum.NRR += out.eval.Metrics.NRR
		agg.metricsSum.FPR += out.eval.Metrics.FPR
		agg.metricsSum.SS += out.eval.Metrics.SS
		agg.metricsSum.TokenReduction += out.eval.Metrics.TokenReduction
		agg.metricsSum.ParsingErrors += out.eval.Metrics.ParsingErrors
		agg.suggestions = append(agg.suggestions, out.eval.Suggestions...)

		if len(out.eval.FailurePatterns) > 0 {
			agg.failed++
			agg.failures = append(agg.failures, caseFailure{
				caseID:   out.doc.CaseID,
				patterns: out.eval.FailurePatterns,
				content:  out.doc.Content,
				output:   out.output,
			})
		}
	}
	return agg
}

// avgMetrics returns the batch's mean metrics over evaluated cases.
func (b *batchOutcome) avgMetrics() types.QualityMetrics {
	if b.evaluated == 0 {
		return types.QualityMetrics{}
	}
	n := float64(b.evaluated)
	return types.QualityMetrics{
		NRR:            b.metricsSum.NRR / n,
		FPR:            b.metricsSum.FPR / n,
		SS:             b.metricsSum.SS / n,
		TokenReduction: b.metricsSum.TokenReduction / n,
		ParsingErrors:  b.metricsSum.ParsingErrors,
	}
}

func (b *batchOutcome) failureRate() float64 {
	if b.processed == 0 {
		return 0
	}
	return float64(b.failed) / float64(b.processed)
}

// recordOutcome folds a batch into the job counters and persists.
func (o *Orchestrator) recordOutcome(ctx context.Context, job *types.ProcessingJob, b *batchOutcome) error {
	job.ProcessedCases += b.processed
	job.FailedCases += b.failed
	job.RecentErrors = append(job.RecentErrors, b.recentErrs...)
	if len(job.RecentErrors) > 10 {
		job.RecentErrors = job.RecentErrors[len(job.RecentErrors)-10:]
	}
	if job.ProcessedCases > 0 && job.TotalCases > job.ProcessedCases {
		perCase := time.Since(job.StartTime) / time.Duration(job.ProcessedCases)
		eta := time.Now().Add(perCase * time.Duration(job.TotalCases-job.ProcessedCases))
		job.EstimatedCompletion = &eta
	}
	if err := o.cfg.Storage.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("failed to persist job progress: %w", err)
	}

	// Usage counts are informational; a failure here must not halt the run.
	var used []string
	for id := range b.usedRules {
		used = append(used, id)
	}
	if len(used) > 0 {
		if err := o.cfg.Store.RecordUsage(ctx, used); err != nil {
			log.Printf("failed to record rule usage: %v", err)
		}
	}
	return nil
}

func docMeta(doc *types.Document) map[string]string {
	return map[string]string{
		"case_id":    doc.CaseID,
		"court_type": doc.CourtType,
		"case_type":  doc.CaseType,
		"year":       fmt.Sprintf("%d", doc.Year),
	}
}
