// Package patch decides which synthesized candidates are applied
// automatically, which are queued for a human, and which failed.
package patch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/lawtext/refinery/internal/oscillation"
	"github.com/lawtext/refinery/internal/rules"
	"github.com/lawtext/refinery/internal/storage"
	"github.com/lawtext/refinery/internal/types"
)

// DefaultAutoThreshold is the minimum confidence for automatic application.
// Candidates below it are queued for manual review instead.
const DefaultAutoThreshold = 0.8

// newRulePriority is assigned to rules created from accepted patches. It sits
// between the bootstrap defaults (90-100) and low-priority cleanup rules, so
// synthesized rules run after the proven baseline.
const newRulePriority = 80

// ReviewItem is a candidate held back from automatic application.
type ReviewItem struct {
	Suggestion types.PatchSuggestion `json:"suggestion"`
	Reason     string                `json:"reason"`
}

// FailedItem is a candidate whose application was attempted and failed.
type FailedItem struct {
	Suggestion types.PatchSuggestion `json:"suggestion"`
	Error      string                `json:"error"`
}

// ApplyResult partitions one AutoApply call's input: every candidate lands in
// exactly one of the three lists.
type ApplyResult struct {
	AutoApplied  []types.PatchSuggestion `json:"auto_applied"`
	ManualReview []ReviewItem            `json:"manual_review"`
	Failed       []FailedItem            `json:"failed"`
}

// Gate applies high-confidence candidates to the rule store, guarded by the
// oscillation check, and records every applied patch for rollback.
type Gate struct {
	store     *rules.Store
	guard     *oscillation.Guard
	history   storage.Storage
	threshold float64
}

// Config holds the gate's collaborators and tunables.
type Config struct {
	Store *rules.Store
	Guard *oscillation.Guard
	// History persists applied-patch records. Required.
	History storage.Storage
	// AutoThreshold overrides DefaultAutoThreshold when positive.
	AutoThreshold float64
}

// NewGate creates a patch gate.
func NewGate(cfg *Config) (*Gate, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("rule store is required")
	}
	if cfg.Guard == nil {
		return nil, fmt.Errorf("oscillation guard is required")
	}
	if cfg.History == nil {
		return nil, fmt.Errorf("history storage is required")
	}
	threshold := cfg.AutoThreshold
	if threshold <= 0 {
		threshold = DefaultAutoThreshold
	}
	return &Gate{
		store:     cfg.Store,
		guard:     cfg.Guard,
		history:   cfg.History,
		threshold: threshold,
	}, nil
}

// AutoApply processes candidates in order. High-confidence candidates whose
// rule area is not frozen are applied to the store; the rest go to manual
// review (with a reason) or failed (with the error). The three result lists
// together always account for every input candidate.
func (g *Gate) AutoApply(ctx context.Context, candidates []types.PatchSuggestion) (*ApplyResult, error) {
	res := &ApplyResult{}

	for _, cand := range candidates {
		if cand.ConfidenceScore < g.threshold {
			res.ManualReview = append(res.ManualReview, ReviewItem{
				Suggestion: cand,
				Reason:     fmt.Sprintf("confidence %.2f below auto-apply threshold %.2f", cand.ConfidenceScore, g.threshold),
			})
			continue
		}

		area := string(cand.RuleType)
		if g.guard.CheckOscillation(area) {
			res.ManualReview = append(res.ManualReview, ReviewItem{
				Suggestion: cand,
				Reason:     fmt.Sprintf("rule area %s is frozen (oscillation)", area),
			})
			continue
		}

		ruleID, err := g.apply(ctx, &cand)
		if err != nil {
			if errors.Is(err, rules.ErrDuplicateRule) {
				// Already covered by an existing rule; nothing to change.
				res.ManualReview = append(res.ManualReview, ReviewItem{
					Suggestion: cand,
					Reason:     err.Error(),
				})
				continue
			}
			res.Failed = append(res.Failed, FailedItem{
				Suggestion: cand,
				Error:      err.Error(),
			})
			continue
		}

		rec := &types.PatchRecord{
			PatchID:     uuid.New().String(),
			Description: cand.Description,
			Confidence:  cand.ConfidenceScore,
			RuleType:    cand.RuleType,
			RuleID:      ruleID,
			AppliedAt:   time.Now().UTC(),
		}
		if err := g.history.RecordPatch(ctx, rec); err != nil {
			// The rule change itself succeeded; losing the history row
			// only costs rollback convenience.
			log.Printf("failed to record patch %s: %v", rec.PatchID, err)
		}

		g.guard.TrackChange(area)
		res.AutoApplied = append(res.AutoApplied, cand)
	}

	return res, nil
}

// apply mutates the rule store for one candidate and returns the affected
// rule ID. An exact pattern match against an existing same-type rule is an
// in-place improvement; anything else becomes a new rule.
func (g *Gate) apply(ctx context.Context, cand *types.PatchSuggestion) (string, error) {
	current, err := g.store.LoadLatest(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to load current rules: %w", err)
	}

	for i := range current.Rules {
		r := current.Rules[i]
		if r.Type != cand.RuleType || r.Pattern != cand.PatternBefore {
			continue
		}
		if cand.PatternAfter == "" || cand.PatternAfter == r.Pattern {
			break // nothing to improve in place; fall through to new-rule path
		}
		r.Pattern = cand.PatternAfter
		if r.PerformanceScore < cand.ConfidenceScore {
			r.PerformanceScore = cand.ConfidenceScore
		}
		r.Description = fmt.Sprintf("%s (patched: %s)", r.Description, cand.Description)
		if err := g.store.UpdateExisting(ctx, &r); err != nil {
			return "", fmt.Errorf("failed to update rule %s: %w", r.ID, err)
		}
		return r.ID, nil
	}

	rule := &types.Rule{
		ID:               fmt.Sprintf("ai_%s_%s", cand.RuleType, shortID(cand.SuggestionID)),
		Type:             cand.RuleType,
		Pattern:          cand.PatternBefore,
		Replacement:      cand.PatternAfter,
		Priority:         newRulePriority,
		Enabled:          true,
		Description:      cand.Description,
		PerformanceScore: cand.ConfidenceScore,
	}
	if err := rule.Validate(); err != nil {
		return "", fmt.Errorf("synthesized rule is invalid: %w", err)
	}
	if err := g.store.UpsertOne(ctx, rule); err != nil {
		return "", err
	}
	return rule.ID, nil
}

// Rollback disables the rule a patch created or modified and marks the patch
// record. The rule stays in the version history, just switched off.
func (g *Gate) Rollback(ctx context.Context, patchID string) error {
	rec, err := g.history.GetPatch(ctx, patchID)
	if err != nil {
		return fmt.Errorf("failed to look up patch %s: %w", patchID, err)
	}
	if rec.RolledBack {
		return nil
	}

	if err := g.store.Disable(ctx, rec.RuleID); err != nil {
		return fmt.Errorf("failed to disable rule %s: %w", rec.RuleID, err)
	}
	if err := g.history.MarkPatchRolledBack(ctx, patchID); err != nil {
		return fmt.Errorf("failed to mark patch %s rolled back: %w", patchID, err)
	}
	log.Printf("rolled back patch %s (rule %s disabled)", patchID, rec.RuleID)
	return nil
}

// shortID returns the first uuid segment, enough to keep rule IDs readable.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
