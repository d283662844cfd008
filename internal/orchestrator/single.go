package orchestrator

import (
	"context"
	"fmt"
	"log"

	"github.com/lawtext/refinery/internal/types"
)

// SingleResult reports a single-case shakedown run.
type SingleResult struct {
	JobID             string
	Iterations        int
	ConsecutivePasses int
	// Ready means the consecutive-pass target was reached and batch scale
	// is unlocked.
	Ready       bool
	LastMetrics types.QualityMetrics
}

// RunSingle processes one document per iteration, rotating through the
// corpus, and counts consecutive clean evaluations. After SinglePassTarget
// consecutive passes the pipeline is ready for batch scale. A failed
// evaluation triggers an improvement cycle and resets the counter.
func (o *Orchestrator) RunSingle(ctx context.Context, maxIterations int) (*SingleResult, error) {
	if maxIterations <= 0 {
		maxIterations = o.cfg.SinglePassTarget * 3
	}

	total, err := o.cfg.Source.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count corpus: %w", err)
	}
	if total == 0 {
		return nil, fmt.Errorf("corpus is empty")
	}

	job, err := o.newJob(ctx, types.ScaleSingle, maxIterations)
	if err != nil {
		return nil, err
	}
	res := &SingleResult{JobID: job.JobID}

	if err := o.transition(ctx, job, types.JobSampling); err != nil {
		return nil, err
	}
	if err := o.transition(ctx, job, types.JobProcessing); err != nil {
		return nil, err
	}

	for iter := 0; iter < maxIterations; iter++ {
		proceed, err := o.waitIfPaused(ctx, job)
		if err != nil {
			o.finish(ctx, job, types.JobFailed)
			return nil, err
		}
		if !proceed {
			o.finish(ctx, job, types.JobCancelled)
			return res, nil
		}

		docs, err := o.cfg.Source.Batch(ctx, iter%total, 1)
		if err != nil {
			o.finish(ctx, job, types.JobFailed)
			return nil, fmt.Errorf("failed to fetch case: %w", err)
		}
		if len(docs) == 0 {
			break
		}

		rs, err := o.cfg.Store.LoadLatest(ctx)
		if err != nil {
			o.finish(ctx, job, types.JobFailed)
			return nil, err
		}

		outcome := o.processBatch(ctx, docs, rs)
		res.Iterations++
		if err := o.recordOutcome(ctx, job, outcome); err != nil {
			o.finish(ctx, job, types.JobFailed)
			return nil, err
		}
		res.LastMetrics = outcome.avgMetrics()

		if outcome.failed == 0 && (o.cfg.Evaluator == nil || outcome.evaluated > 0) {
			res.ConsecutivePasses++
			if res.ConsecutivePasses >= o.cfg.SinglePassTarget {
				res.Ready = true
				break
			}
			continue
		}

		// A failure resets the streak and feeds the improvement cycle.
		res.ConsecutivePasses = 0
		clusters := clusterFailures(outcome.failures)
		ordered := prioritizeSuggestions(outcome.suggestions, clusters)
		cycle, err := o.applyImprovements(ctx, ordered, outcome.failures)
		if err != nil {
			o.finish(ctx, job, types.JobFailed)
			return nil, err
		}
		if cycle.Applied > 0 {
			log.Printf("single-case iteration %d: applied %d patches (promoted=%v)", iter, cycle.Applied, cycle.Promoted)
		}
	}

	if err := o.transition(ctx, job, types.JobAnalyzing); err != nil {
		o.finish(ctx, job, types.JobFailed)
		return nil, err
	}
	o.finish(ctx, job, types.JobCompleted)
	return res, nil
}
