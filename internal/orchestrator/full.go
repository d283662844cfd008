package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/lawtext/refinery/internal/evaluator"
	"github.com/lawtext/refinery/internal/storage"
	"github.com/lawtext/refinery/internal/types"
)

// DryRunStats summarizes the mandatory trial run before full processing.
type DryRunStats struct {
	Cases         int           `json:"cases"`
	FailureRate   float64       `json:"failure_rate"`
	AvgLatency    time.Duration `json:"avg_latency"`
	EstimatedCost float64       `json:"estimated_cost_usd"` // extrapolated to the full corpus
}

// Readiness is the full-corpus gate decision.
type Readiness struct {
	Ready   bool     `json:"ready"`
	Reasons []string `json:"reasons,omitempty"` // populated when not ready
	DryRun  DryRunStats
}

// CheckDryRun applies the dry-run success criteria to measured stats.
// Exposed separately so the thresholds are testable without a corpus.
func CheckDryRun(stats DryRunStats, criteria DryRunCriteria) (bool, []string) {
	var reasons []string
	if stats.FailureRate > criteria.MaxFailureRate {
		reasons = append(reasons, fmt.Sprintf("failure rate %.1f%% exceeds %.1f%%",
			stats.FailureRate*100, criteria.MaxFailureRate*100))
	}
	if stats.AvgLatency > criteria.MaxAvgLatency {
		reasons = append(reasons, fmt.Sprintf("average latency %v exceeds %v",
			stats.AvgLatency.Round(time.Millisecond), criteria.MaxAvgLatency))
	}
	if stats.EstimatedCost > criteria.BudgetUSD {
		reasons = append(reasons, fmt.Sprintf("estimated cost $%.0f exceeds budget $%.0f",
			stats.EstimatedCost, criteria.BudgetUSD))
	}
	return len(reasons) == 0, reasons
}

// CheckReadiness decides whether full-corpus processing may start: the rule
// set must be stable, the last batch run must have ended cleanly, and the 1%
// dry-run must meet its criteria.
func (o *Orchestrator) CheckReadiness(ctx context.Context) (*Readiness, error) {
	r := &Readiness{}

	current, err := o.cfg.Store.CurrentVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve current version: %w", err)
	}
	rec, err := o.cfg.Storage.GetVersionRecord(ctx, current)
	if err != nil {
		return nil, fmt.Errorf("failed to load version record: %w", err)
	}
	if !rec.IsStable {
		r.Reasons = append(r.Reasons, fmt.Sprintf("rule set %s is not marked stable", current))
	}

	if reason := o.lastBatchProblem(ctx); reason != "" {
		r.Reasons = append(r.Reasons, reason)
	}

	stats, err := o.dryRun(ctx)
	if err != nil {
		return nil, fmt.Errorf("dry-run failed: %w", err)
	}
	r.DryRun = *stats
	if ok, reasons := CheckDryRun(*stats, o.cfg.DryRun); !ok {
		r.Reasons = append(r.Reasons, reasons...)
	}

	r.Ready = len(r.Reasons) == 0
	return r, nil
}

// lastBatchProblem returns a reason string when the most recent batch-scale
// job argues against scaling up, or "" when the history looks healthy.
func (o *Orchestrator) lastBatchProblem(ctx context.Context) string {
	jobs, err := o.cfg.Storage.ListJobs(ctx, 20)
	if err != nil {
		return fmt.Sprintf("cannot inspect job history: %v", err)
	}
	for _, job := range jobs {
		if job.Scale != types.ScaleBatch {
			continue
		}
		if job.Status != types.JobCompleted {
			return fmt.Sprintf("last batch job %s ended as %s", job.JobID, job.Status)
		}
		if job.ProcessedCases > 0 && job.SuccessRate() < 0.95 {
			return fmt.Sprintf("last batch job %s success rate %.1f%% below 95%%",
				job.JobID, job.SuccessRate()*100)
		}
		return ""
	}
	return "no completed batch-scale run on record"
}

// dryRun processes a ~1% stratified sample and extrapolates cost to the
// whole corpus.
func (o *Orchestrator) dryRun(ctx context.Context) (*DryRunStats, error) {
	total, err := o.cfg.Source.Count(ctx)
	if err != nil {
		return nil, err
	}
	if total == 0 {
		return nil, fmt.Errorf("corpus is empty")
	}

	size := int(float64(total) * o.cfg.DryRun.SampleFraction)
	if size < 1 {
		size = 1
	}
	docs, err := o.cfg.Source.StratifiedSample(ctx, size)
	if err != nil {
		return nil, err
	}

	var costBefore float64
	reporter, _ := o.cfg.Evaluator.(evaluator.UsageReporter)
	if reporter != nil {
		costBefore = reporter.Usage().CostUSD
	}

	rs, err := o.cfg.Store.LoadLatest(ctx)
	if err != nil {
		return nil, err
	}
	outcome := o.processBatch(ctx, docs, rs)

	stats := &DryRunStats{
		Cases:       outcome.processed,
		FailureRate: outcome.failureRate(),
	}
	if outcome.processed > 0 {
		stats.AvgLatency = outcome.totalTime / time.Duration(outcome.processed)
		if reporter != nil {
			perCase := (reporter.Usage().CostUSD - costBefore) / float64(outcome.processed)
			stats.EstimatedCost = perCase * float64(total)
		}
	}
	return stats, nil
}

// RunFull processes the entire corpus in offset batches. It refuses to start
// unless CheckReadiness passes. Progress is checkpointed per batch, so a
// cancelled run can be resumed with ResumeFull.
func (o *Orchestrator) RunFull(ctx context.Context) (*types.ProcessingJob, error) {
	readiness, err := o.CheckReadiness(ctx)
	if err != nil {
		return nil, err
	}
	if !readiness.Ready {
		return nil, fmt.Errorf("full processing not unlocked: %v", readiness.Reasons)
	}

	total, err := o.cfg.Source.Count(ctx)
	if err != nil {
		return nil, err
	}

	job, err := o.newJob(ctx, types.ScaleFull, total)
	if err != nil {
		return nil, err
	}
	job.TotalBatches = (total + o.cfg.FullBatchSize - 1) / o.cfg.FullBatchSize

	if err := o.transition(ctx, job, types.JobSampling); err != nil {
		return nil, err
	}
	if err := o.transition(ctx, job, types.JobProcessing); err != nil {
		return nil, err
	}
	return o.runFullFrom(ctx, job, 0)
}

// ResumeFull continues a cancelled or failed full run from its last
// checkpoint.
func (o *Orchestrator) ResumeFull(ctx context.Context, jobID string) (*types.ProcessingJob, error) {
	job, err := o.cfg.Storage.GetJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", jobID, err)
	}
	if job.Scale != types.ScaleFull {
		return nil, fmt.Errorf("job %s is %s-scale, only full jobs resume", jobID, job.Scale)
	}
	if job.Status == types.JobCompleted {
		return job, nil
	}

	offset, err := o.cfg.Storage.GetCheckpoint(ctx, jobID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	// Re-open the job under a fresh processing status.
	job.Status = types.JobProcessing
	job.EndTime = nil
	if err := o.cfg.Storage.UpdateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to reopen job %s: %w", jobID, err)
	}
	o.mu.Lock()
	o.active = job
	o.stopReq = false
	o.pauseReq = false
	o.mu.Unlock()

	log.Printf("resuming full run %s from offset %d", jobID, offset)
	return o.runFullFrom(ctx, job, offset)
}

func (o *Orchestrator) runFullFrom(ctx context.Context, job *types.ProcessingJob, startOffset int) (*types.ProcessingJob, error) {
	// The rule set is pinned once for the entire full run; no mutation
	// happens at full scale.
	rs, err := o.cfg.Store.LoadLatest(ctx)
	if err != nil {
		o.finish(ctx, job, types.JobFailed)
		return nil, err
	}

	for offset := startOffset; offset < job.TotalCases; offset += o.cfg.FullBatchSize {
		proceed, err := o.waitIfPaused(ctx, job)
		if err != nil {
			o.finish(ctx, job, types.JobFailed)
			return nil, err
		}
		if !proceed {
			o.finish(ctx, job, types.JobCancelled)
			return job, nil
		}

		docs, err := o.cfg.Source.Batch(ctx, offset, o.cfg.FullBatchSize)
		if err != nil {
			o.finish(ctx, job, types.JobFailed)
			return nil, fmt.Errorf("failed to fetch batch at %d: %w", offset, err)
		}
		if len(docs) == 0 {
			break
		}

		job.CurrentBatch = offset/o.cfg.FullBatchSize + 1
		outcome := o.processBatch(ctx, docs, rs)
		if err := o.recordOutcome(ctx, job, outcome); err != nil {
			o.finish(ctx, job, types.JobFailed)
			return nil, err
		}
		if err := o.cfg.Storage.SaveCheckpoint(ctx, job.JobID, offset+len(docs)); err != nil {
			o.finish(ctx, job, types.JobFailed)
			return nil, fmt.Errorf("failed to checkpoint at %d: %w", offset, err)
		}
	}

	if err := o.transition(ctx, job, types.JobAnalyzing); err != nil {
		o.finish(ctx, job, types.JobFailed)
		return nil, err
	}
	o.finish(ctx, job, types.JobCompleted)
	return job, nil
}
