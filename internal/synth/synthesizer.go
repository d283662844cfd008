// Package synth converts raw evaluator suggestions into candidate patches.
package synth

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lawtext/refinery/internal/rules"
	"github.com/lawtext/refinery/internal/types"
)

// DefaultThreshold is the minimum confidence a raw suggestion needs to
// become a candidate. Deployments tune this through config; risk-tolerant
// setups run as low as 0.5, conservative ones up to 0.8.
const DefaultThreshold = 0.7

// Synthesizer filters and deduplicates raw suggestions against the current
// rule set.
type Synthesizer struct {
	store     *rules.Store
	threshold float64
}

// New creates a synthesizer. A non-positive threshold falls back to
// DefaultThreshold.
func New(store *rules.Store, threshold float64) (*Synthesizer, error) {
	if store == nil {
		return nil, fmt.Errorf("rule store is required")
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Synthesizer{store: store, threshold: threshold}, nil
}

// Synthesize turns raw suggestions into deduplicated candidates, preserving
// input order. Malformed or low-confidence suggestions are skipped with a
// log line; duplicates of existing rules are expected (the same fix arrives
// from many documents) and are dropped silently so the rule count cannot
// grow from repetition.
func (s *Synthesizer) Synthesize(ctx context.Context, raw []types.RawSuggestion) ([]types.PatchSuggestion, error) {
	current, err := s.store.LoadLatest(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules for dedup: %w", err)
	}

	var out []types.PatchSuggestion
	for i, sug := range raw {
		ruleType := types.RuleType(sug.RuleType)
		if !ruleType.IsValid() {
			log.Printf("skipping suggestion %d: unknown rule type %q", i, sug.RuleType)
			continue
		}
		if strings.TrimSpace(sug.PatternBefore) == "" && strings.TrimSpace(sug.PatternAfter) == "" {
			log.Printf("skipping suggestion %d: no pattern", i)
			continue
		}
		if sug.ConfidenceScore < s.threshold {
			log.Printf("skipping suggestion %d: confidence %.2f below threshold %.2f", i, sug.ConfidenceScore, s.threshold)
			continue
		}
		if s.isDuplicate(current, ruleType, sug) {
			continue
		}

		out = append(out, types.PatchSuggestion{
			SuggestionID:         uuid.New().String(),
			Description:          sug.Description,
			RuleType:             ruleType,
			ConfidenceScore:      sug.ConfidenceScore,
			PatternBefore:        sug.PatternBefore,
			PatternAfter:         sug.PatternAfter,
			EstimatedImprovement: sug.EstimatedImprovement,
			ApplicableCases:      sug.ApplicableCases,
			CreatedAt:            time.Now().UTC(),
		})
	}
	return out, nil
}

// isDuplicate reports whether the suggestion's target pattern is
// near-identical to an existing enabled rule of the same type.
func (s *Synthesizer) isDuplicate(current *types.RuleSet, ruleType types.RuleType, sug types.RawSuggestion) bool {
	pattern := sug.PatternBefore
	if strings.TrimSpace(pattern) == "" {
		pattern = sug.PatternAfter
	}

	for i := range current.Rules {
		r := &current.Rules[i]
		if !r.Enabled || r.Type != ruleType {
			continue
		}
		if rules.PatternSimilarity(pattern, r.Pattern) >= rules.DuplicateThreshold {
			log.Printf("dropping duplicate suggestion (matches rule %s, type %s)", r.ID, ruleType)
			return true
		}
	}
	return false
}
