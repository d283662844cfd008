package orchestrator

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/lawtext/refinery/internal/gates"
	"github.com/lawtext/refinery/internal/types"
	"github.com/lawtext/refinery/internal/version"
)

// cycleResult summarizes one improvement attempt between batches.
type cycleResult struct {
	Applied      int    // patches applied to the candidate
	ManualReview int
	Failed       int
	Promoted     bool   // candidate passed gates and is now current
	Version      string // current version after the cycle
	GateFailure  string // first failing gate, when not promoted
}

// applyImprovements runs the between-batch mutation phase: synthesize
// patches from evaluator suggestions, apply the confident ones to a new
// candidate version, gate it, and either keep it promoted or fall back to
// the prior version. Callers must ensure no batch is in flight.
//
// The candidate is created by copying the current snapshot under the next
// patch version and promoting it before mutation, so the prior version's
// rows are never touched; a gate failure swaps the current-version pointer
// straight back.
func (o *Orchestrator) applyImprovements(ctx context.Context, suggestions []types.RawSuggestion, failures []caseFailure) (*cycleResult, error) {
	priorVersion, err := o.cfg.Store.CurrentVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve current version: %w", err)
	}
	res := &cycleResult{Version: priorVersion}

	if o.cfg.Synthesizer == nil || o.cfg.PatchGate == nil || len(suggestions) == 0 {
		return res, nil
	}

	candidates, err := o.cfg.Synthesizer.Synthesize(ctx, suggestions)
	if err != nil {
		return nil, fmt.Errorf("patch synthesis failed: %w", err)
	}
	if len(candidates) == 0 {
		return res, nil
	}

	// Stage the candidate version: same rules, next patch version, promoted
	// so the patch gate's upserts land on it.
	prior, err := o.cfg.Store.LoadLatest(ctx)
	if err != nil {
		return nil, err
	}
	rec, err := o.cfg.Versions.Tag(ctx, prior.Rules, version.BumpPatch,
		fmt.Sprintf("candidate from %d suggestions", len(candidates)))
	if err != nil {
		return nil, fmt.Errorf("failed to tag candidate version: %w", err)
	}
	candidate := &types.RuleSet{
		Version:       rec.Version,
		Rules:         prior.Rules,
		CreatedAt:     rec.CreatedAt,
		ParentVersion: priorVersion,
	}
	if err := o.cfg.Store.ReplaceAll(ctx, candidate, rec); err != nil {
		return nil, fmt.Errorf("failed to stage candidate %s: %w", rec.Version, err)
	}

	applied, err := o.cfg.PatchGate.AutoApply(ctx, candidates)
	if err != nil {
		return nil, fmt.Errorf("patch application failed: %w", err)
	}
	res.Applied = len(applied.AutoApplied)
	res.ManualReview = len(applied.ManualReview)
	res.Failed = len(applied.Failed)

	if res.Applied == 0 {
		// Nothing changed; back out the empty candidate.
		if err := o.cfg.Store.Promote(ctx, priorVersion); err != nil {
			return nil, fmt.Errorf("failed to restore %s: %w", priorVersion, err)
		}
		return res, nil
	}

	// Re-checksum the candidate now that patches landed on it.
	mutated, err := o.cfg.Store.LoadLatest(ctx)
	if err != nil {
		return nil, err
	}
	rec.Checksum = version.Checksum(mutated.Rules)
	if err := o.cfg.Store.SaveCandidate(ctx, mutated, rec); err != nil {
		return nil, fmt.Errorf("failed to seal candidate %s: %w", rec.Version, err)
	}

	gateResults, ok := o.cfg.Gates.RunAll(ctx, mutated)
	if !ok {
		last := gateResults[len(gateResults)-1]
		res.GateFailure = string(last.Gate)
		o.cfg.Telemetry.RecordAlert("rule_set", "warning",
			fmt.Sprintf("candidate %s failed %s gate, keeping %s", rec.Version, last.Gate, priorVersion))

		if err := o.cfg.Store.Promote(ctx, priorVersion); err != nil {
			return nil, fmt.Errorf("failed to roll back to %s: %w", priorVersion, err)
		}
		o.captureRegressions(ctx, failures)
		return res, nil
	}

	// A candidate that clears the minimums can still be worse than its
	// predecessor; a sharp holdout decline rolls it back too.
	if holdout := holdoutMetrics(gateResults); holdout != nil {
		if o.lastHoldout != nil {
			if bad, reason := version.Degraded(*o.lastHoldout, *holdout); bad {
				res.GateFailure = "holdout_degradation"
				o.cfg.Telemetry.RecordAlert("rule_set", "critical",
					fmt.Sprintf("candidate %s rolled back: %s", rec.Version, reason))

				if err := o.cfg.Store.Promote(ctx, priorVersion); err != nil {
					return nil, fmt.Errorf("failed to roll back to %s: %w", priorVersion, err)
				}
				o.captureRegressions(ctx, failures)
				return res, nil
			}
		}
		o.lastHoldout = holdout
	}

	res.Promoted = true
	res.Version = rec.Version
	log.Printf("promoted rule set %s (%d patches applied)", rec.Version, res.Applied)
	return res, nil
}

// holdoutMetrics extracts the holdout gate's averaged metrics, if it ran.
func holdoutMetrics(results []*gates.Result) *types.QualityMetrics {
	for _, r := range results {
		if r.Gate == gates.GateHoldout && r.Metrics != nil {
			return r.Metrics
		}
	}
	return nil
}

// captureRegressions records the batch's failed cases so the regression gate
// replays them against every future candidate.
func (o *Orchestrator) captureRegressions(ctx context.Context, failures []caseFailure) {
	now := time.Now().UTC()
	for _, f := range failures {
		pattern := "unknown"
		if len(f.patterns) > 0 {
			pattern = f.patterns[0]
		}
		rc := &types.RegressionCase{
			CaseID:       f.caseID,
			Pattern:      pattern,
			Content:      f.content,
			FailedOutput: f.output,
			RecordedAt:   now,
		}
		if err := o.cfg.Storage.AddRegressionCase(ctx, rc); err != nil {
			log.Printf("failed to record regression case %s: %v", f.caseID, err)
		}
	}
}

// clusterFailures groups failed cases by coarse pattern label and orders
// clusters by failure count, biggest first, so patch synthesis targets the
// dominant noise class.
func clusterFailures(failures []caseFailure) []types.FailureCluster {
	byPattern := make(map[string]*types.FailureCluster)
	for _, f := range failures {
		for _, p := range f.patterns {
			cluster, ok := byPattern[p]
			if !ok {
				cluster = &types.FailureCluster{
					ClusterID:    fmt.Sprintf("cluster_%s", p),
					PatternType:  p,
					ErrorPattern: p,
				}
				byPattern[p] = cluster
			}
			cluster.FailureCount++
			if len(cluster.SampleCases) < 5 {
				cluster.SampleCases = append(cluster.SampleCases, f.caseID)
			}
		}
	}

	out := make([]types.FailureCluster, 0, len(byPattern))
	for _, c := range byPattern {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FailureCount != out[j].FailureCount {
			return out[i].FailureCount > out[j].FailureCount
		}
		return out[i].PatternType < out[j].PatternType
	})
	return out
}

// prioritizeSuggestions reorders suggestions so those addressing the biggest
// failure clusters come first, preserving relative order otherwise. The
// synthesizer and patch gate both process in order, so this biases which
// patches land when budgets cut the list short.
func prioritizeSuggestions(suggestions []types.RawSuggestion, clusters []types.FailureCluster) []types.RawSuggestion {
	if len(clusters) == 0 {
		return suggestions
	}
	rank := make(map[string]int, len(clusters))
	for i, c := range clusters {
		rank[c.PatternType] = i
	}

	indexed := make([]struct {
		s    types.RawSuggestion
		rank int
		pos  int
	}, len(suggestions))
	for i, s := range suggestions {
		r := len(clusters) // unmatched suggestions sort after all clusters
		for pattern, cr := range rank {
			if suggestionTargets(s, pattern) && cr < r {
				r = cr
			}
		}
		indexed[i] = struct {
			s    types.RawSuggestion
			rank int
			pos  int
		}{s, r, i}
	}
	sort.SliceStable(indexed, func(i, j int) bool { return indexed[i].rank < indexed[j].rank })

	out := make([]types.RawSuggestion, len(indexed))
	for i, e := range indexed {
		out[i] = e.s
	}
	return out
}

// suggestionTargets heuristically matches a suggestion to a failure pattern
// class by its description and rule type.
func suggestionTargets(s types.RawSuggestion, pattern string) bool {
	keywords := map[string][]string{
		"page_number":   {"page", "페이지"},
		"separator":     {"separator", "구분선", "---", "==="},
		"header_footer": {"header", "footer", "머리글", "바닥글"},
		"whitespace":    {"whitespace", "space", "공백"},
		"reference":     {"reference", "참조", "각주"},
	}
	for _, kw := range keywords[pattern] {
		if containsFold(s.Description, kw) || containsFold(s.PatternBefore, kw) {
			return true
		}
	}
	return false
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
