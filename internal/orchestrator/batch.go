package orchestrator

import (
	"context"
	"fmt"
	"log"

	"github.com/lawtext/refinery/internal/corpus"
	"github.com/lawtext/refinery/internal/types"
)

// CycleDecision is the next action after a batch cycle.
type CycleDecision string

const (
	DecisionScaleUp        CycleDecision = "scale_up"         // significant improvement, double the sample
	DecisionRetrySameScale CycleDecision = "retry_same_scale" // minor improvement
	DecisionStabilized     CycleDecision = "stabilized"       // no improvement for several cycles
)

// significantImprovement is the NRR delta that justifies scaling up.
const significantImprovement = 0.02

// CycleReport summarizes one batch cycle.
type CycleReport struct {
	Cycle      int
	SampleSize int
	Diversity  float64
	Metrics    types.QualityMetrics
	Failed     int
	Clusters   []types.FailureCluster
	Patches    int
	Promoted   bool
	Decision   CycleDecision
}

// BatchReport is the outcome of a full batch-scale run.
type BatchReport struct {
	JobID      string
	Cycles     []CycleReport
	Stabilized bool
	// FinalVersion is the promoted rule version after the last cycle.
	FinalVersion string
}

// RunBatch iterates stratified batch cycles until the rule set stabilizes or
// the cycle cap is hit. Each cycle samples, processes with bounded
// concurrency against the pinned rule version, clusters the failures, runs
// the improvement cycle, then decides whether to scale up, retry, or stop.
func (o *Orchestrator) RunBatch(ctx context.Context) (*BatchReport, error) {
	sampleSize := o.cfg.BatchSize

	job, err := o.newJob(ctx, types.ScaleBatch, 0)
	if err != nil {
		return nil, err
	}
	report := &BatchReport{JobID: job.JobID}

	var (
		prevNRR        float64
		havePrev       bool
		noImprovements int
	)

	for cycle := 0; cycle < o.cfg.MaxCycles; cycle++ {
		if err := o.transition(ctx, job, types.JobSampling); err != nil {
			o.finish(ctx, job, types.JobFailed)
			return nil, err
		}

		docs, err := o.cfg.Source.StratifiedSample(ctx, sampleSize)
		if err != nil {
			o.finish(ctx, job, types.JobFailed)
			return nil, fmt.Errorf("failed to sample batch: %w", err)
		}
		if len(docs) == 0 {
			o.finish(ctx, job, types.JobFailed)
			return nil, fmt.Errorf("corpus is empty")
		}
		diversity := corpus.DiversityScore(docs)
		if diversity < 0.1 {
			log.Printf("batch sample diversity is low (%.2f): corpus strata are skewed", diversity)
		}

		job.TotalCases += len(docs)
		job.CurrentBatch = cycle + 1
		if err := o.transition(ctx, job, types.JobProcessing); err != nil {
			o.finish(ctx, job, types.JobFailed)
			return nil, err
		}

		proceed, err := o.waitIfPaused(ctx, job)
		if err != nil {
			o.finish(ctx, job, types.JobFailed)
			return nil, err
		}
		if !proceed {
			o.finish(ctx, job, types.JobCancelled)
			return report, nil
		}

		rs, err := o.cfg.Store.LoadLatest(ctx)
		if err != nil {
			o.finish(ctx, job, types.JobFailed)
			return nil, err
		}

		outcome := o.processBatch(ctx, docs, rs)
		if err := o.recordOutcome(ctx, job, outcome); err != nil {
			o.finish(ctx, job, types.JobFailed)
			return nil, err
		}

		if err := o.transition(ctx, job, types.JobAnalyzing); err != nil {
			o.finish(ctx, job, types.JobFailed)
			return nil, err
		}

		clusters := clusterFailures(outcome.failures)
		ordered := prioritizeSuggestions(outcome.suggestions, clusters)
		cycleRes, err := o.applyImprovements(ctx, ordered, outcome.failures)
		if err != nil {
			o.finish(ctx, job, types.JobFailed)
			return nil, err
		}
		report.FinalVersion = cycleRes.Version

		metrics := outcome.avgMetrics()
		cr := CycleReport{
			Cycle:      cycle + 1,
			SampleSize: len(docs),
			Diversity:  diversity,
			Metrics:    metrics,
			Failed:     outcome.failed,
			Clusters:   clusters,
			Patches:    cycleRes.Applied,
			Promoted:   cycleRes.Promoted,
		}

		improvement := 0.0
		if havePrev {
			improvement = metrics.NRR - prevNRR
		}
		prevNRR = metrics.NRR
		havePrev = true

		switch {
		case improvement > significantImprovement && cycleRes.Promoted:
			cr.Decision = DecisionScaleUp
			sampleSize *= 2
			if sampleSize > o.cfg.BatchSizeCap {
				sampleSize = o.cfg.BatchSizeCap
			}
			noImprovements = 0
		case improvement > 0:
			cr.Decision = DecisionRetrySameScale
			noImprovements = 0
		default:
			noImprovements++
			if noImprovements >= o.cfg.StabilizeAfter {
				cr.Decision = DecisionStabilized
			} else {
				cr.Decision = DecisionRetrySameScale
			}
		}
		report.Cycles = append(report.Cycles, cr)
		log.Printf("batch cycle %d: nrr=%.3f failed=%d patches=%d decision=%s",
			cr.Cycle, metrics.NRR, outcome.failed, cycleRes.Applied, cr.Decision)

		if cr.Decision == DecisionStabilized {
			report.Stabilized = true
			if report.FinalVersion != "" {
				if err := o.cfg.Storage.MarkStable(ctx, report.FinalVersion, true); err != nil {
					log.Printf("failed to mark %s stable: %v", report.FinalVersion, err)
				}
			}
			break
		}

		if o.stopRequested() {
			o.finish(ctx, job, types.JobCancelled)
			return report, nil
		}
	}

	o.finish(ctx, job, types.JobCompleted)
	return report, nil
}
