// Package engine applies an ordered rule set to document text.
//
// The engine is deliberately deterministic: for a fixed (text, ruleSet) pair
// the output and stats are byte-identical on every call. Rules run in
// priority order (higher first, rule ID as the stable tie-break) and each
// rule's output feeds the next.
package engine

import (
	"fmt"
	"log"
	"regexp"
	"sort"
	"strings"

	"github.com/lawtext/refinery/internal/types"
)

// AppliedRule records one rule that actually changed the text.
type AppliedRule struct {
	RuleID       string         `json:"rule_id"`
	Type         types.RuleType `json:"rule_type"`
	Description  string         `json:"description"`
	LengthBefore int            `json:"length_before"`
	LengthAfter  int            `json:"length_after"`
}

// Stats aggregates the outcome of one ApplyRules call.
type Stats struct {
	OriginalLength int                    `json:"original_length"`
	FinalLength    int                    `json:"final_length"`
	AppliedCount   int                    `json:"applied_count"`
	ByType         map[types.RuleType]int `json:"by_type"`
	Applied        []AppliedRule          `json:"applied"`
	ReductionRate  float64                `json:"reduction_rate"`
}

// Engine applies rules to text. The zero value is usable; ExtractionEnabled
// controls whether fact_extraction rules run (they ship disabled).
type Engine struct {
	// ExtractionEnabled activates fact_extraction rules. Deployments that
	// have not turned extraction on keep those rules inert.
	ExtractionEnabled bool
}

// New creates an engine with extraction disabled.
func New() *Engine {
	return &Engine{}
}

// sentenceSplit breaks on sentence terminators followed by whitespace.
var sentenceSplit = regexp.MustCompile(`[.!?]\s+`)

// ApplyRule applies a single rule to text. It returns the (possibly
// unchanged) text and whether the rule fired. A pattern compile or apply
// failure is isolated: it is logged, the input text is returned unchanged,
// and applied is false.
func (e *Engine) ApplyRule(rule *types.Rule, text string) (string, bool) {
	if !rule.Enabled {
		return text, false
	}

	newText, applied, err := e.applyRule(rule, text)
	if err != nil {
		// One broken rule must not abort the rest of the chain.
		log.Printf("rule %s failed to apply: %v", rule.ID, err)
		return text, false
	}
	return newText, applied
}

func (e *Engine) applyRule(rule *types.Rule, text string) (string, bool, error) {
	switch rule.Type {
	case types.RuleNoiseRemoval, types.RuleRedundancyRemoval, types.RulePostNormalize:
		re, err := regexp.Compile(`(?is)` + rule.Pattern)
		if err != nil {
			return text, false, fmt.Errorf("compile pattern: %w", err)
		}
		newText := re.ReplaceAllString(text, rule.Replacement)
		return newText, newText != text, nil

	case types.RuleLegalFiltering:
		re, err := regexp.Compile(`(?i)` + rule.Pattern)
		if err != nil {
			return text, false, fmt.Errorf("compile pattern: %w", err)
		}
		sentences := sentenceSplit.Split(text, -1)
		kept := make([]string, 0, len(sentences))
		dropped := false
		for _, s := range sentences {
			if re.MatchString(s) {
				dropped = true
				continue
			}
			kept = append(kept, s)
		}
		if !dropped {
			return text, false, nil
		}
		return strings.Join(kept, ". "), true, nil

	case types.RuleFactExtraction:
		if !e.ExtractionEnabled {
			return text, false, nil
		}
		re, err := regexp.Compile(`(?is)` + rule.Pattern)
		if err != nil {
			return text, false, fmt.Errorf("compile pattern: %w", err)
		}
		matches := re.FindAllString(text, -1)
		if matches == nil {
			return text, false, nil
		}
		newText := strings.Join(matches, " ")
		return newText, newText != text, nil

	default:
		return text, false, fmt.Errorf("unknown rule type: %s", rule.Type)
	}
}

// ApplyRules runs every enabled rule of the set against text, in priority
// order, optionally restricted to the given types. Each rule sees the
// previous rule's output.
func (e *Engine) ApplyRules(text string, ruleSet *types.RuleSet, typeFilter []types.RuleType) (string, *Stats) {
	rules := ruleSet.EnabledRules(typeFilter)

	// Priority descending, rule ID as the stable tie-break so equal
	// priorities always run in the same order.
	sort.Slice(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority > rules[j].Priority
		}
		return rules[i].ID < rules[j].ID
	})

	stats := &Stats{
		OriginalLength: len(text),
		ByType:         make(map[types.RuleType]int),
	}

	current := text
	for i := range rules {
		before := len(current)
		next, applied := e.ApplyRule(&rules[i], current)
		if !applied {
			continue
		}
		stats.AppliedCount++
		stats.ByType[rules[i].Type]++
		stats.Applied = append(stats.Applied, AppliedRule{
			RuleID:       rules[i].ID,
			Type:         rules[i].Type,
			Description:  rules[i].Description,
			LengthBefore: before,
			LengthAfter:  len(next),
		})
		current = next
	}

	stats.FinalLength = len(current)
	if stats.OriginalLength > 0 {
		stats.ReductionRate = float64(stats.OriginalLength-stats.FinalLength) / float64(stats.OriginalLength)
	}
	return current, stats
}
