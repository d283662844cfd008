package types

import (
	"fmt"
	"strings"
	"time"
)

// Rule is a single pattern-based text transformation. Rules are the unit of
// evolution in the pipeline: the patch engine creates and tunes them, the
// safety gates validate them, and the engine applies them in priority order.
type Rule struct {
	ID               string    `json:"rule_id"`
	Type             RuleType  `json:"rule_type"`
	Pattern          string    `json:"pattern"`
	Replacement      string    `json:"replacement"`
	Priority         int       `json:"priority"` // higher runs first
	Enabled          bool      `json:"enabled"`
	Description      string    `json:"description"`
	PerformanceScore float64   `json:"performance_score"` // evaluator confidence at creation, 0-1
	UsageCount       int       `json:"usage_count"`       // times the rule actually changed text
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Validate checks if the rule has valid field values
func (r *Rule) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("rule_id is required")
	}
	if !r.Type.IsValid() {
		return fmt.Errorf("invalid rule type: %s", r.Type)
	}
	if r.Pattern == "" {
		return fmt.Errorf("pattern is required")
	}
	if r.PerformanceScore < 0 || r.PerformanceScore > 1 {
		return fmt.Errorf("performance_score must be between 0.0 and 1.0 (got %.2f)", r.PerformanceScore)
	}
	if r.UsageCount < 0 {
		return fmt.Errorf("usage_count cannot be negative")
	}
	return nil
}

// RuleType categorizes how a rule transforms text
//
// fact_extraction is defined but ships disabled by default: deployments that
// have not activated extraction keep those rules inert without breaking the
// substitution and filtering types.
type RuleType string

const (
	RuleNoiseRemoval      RuleType = "noise_removal"      // substitute matches with replacement
	RuleLegalFiltering    RuleType = "legal_filtering"    // drop sentences matching pattern
	RuleFactExtraction    RuleType = "fact_extraction"    // keep only matching text (optional stage)
	RuleRedundancyRemoval RuleType = "redundancy_removal" // substitute matches with replacement
	RulePostNormalize     RuleType = "post_normalize"     // substitute matches with replacement
)

// IsValid checks if the rule type value is valid
func (t RuleType) IsValid() bool {
	switch t {
	case RuleNoiseRemoval, RuleLegalFiltering, RuleFactExtraction, RuleRedundancyRemoval, RulePostNormalize:
		return true
	}
	return false
}

// AllRuleTypes lists every valid rule type, in application-stage order.
func AllRuleTypes() []RuleType {
	return []RuleType{
		RuleNoiseRemoval,
		RuleLegalFiltering,
		RuleFactExtraction,
		RuleRedundancyRemoval,
		RulePostNormalize,
	}
}

// RuleSet is a named, ordered snapshot of rules. Insertion order is
// irrelevant; the engine always re-sorts by priority.
type RuleSet struct {
	Version             string          `json:"version"` // semantic, e.g. v1.2.3
	Rules               []Rule          `json:"rules"`
	CreatedAt           time.Time       `json:"created_at"`
	IsStable            bool            `json:"is_stable"`
	ParentVersion       string          `json:"parent_version,omitempty"`
	PerformanceSnapshot *QualityMetrics `json:"performance_snapshot,omitempty"` // from last holdout run
}

// EnabledRules returns the subset of enabled rules, optionally filtered by type.
// A nil filter selects every enabled rule.
func (rs *RuleSet) EnabledRules(typeFilter []RuleType) []Rule {
	var allowed map[RuleType]bool
	if typeFilter != nil {
		allowed = make(map[RuleType]bool, len(typeFilter))
		for _, t := range typeFilter {
			allowed[t] = true
		}
	}

	var out []Rule
	for _, r := range rs.Rules {
		if !r.Enabled {
			continue
		}
		if allowed != nil && !allowed[r.Type] {
			continue
		}
		out = append(out, r)
	}
	return out
}

// PatchSuggestion is a candidate rule change synthesized from an evaluator
// suggestion. Suggestions are ephemeral; only the patch-history log survives.
type PatchSuggestion struct {
	SuggestionID         string    `json:"suggestion_id"`
	Description          string    `json:"description"`
	RuleType             RuleType  `json:"rule_type"`
	ConfidenceScore      float64   `json:"confidence_score"`
	PatternBefore        string    `json:"pattern_before"`
	PatternAfter         string    `json:"pattern_after"`
	EstimatedImprovement string    `json:"estimated_improvement,omitempty"`
	ApplicableCases      []string  `json:"applicable_cases,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
}

// PatchRecord is one entry in the persisted patch-history log.
type PatchRecord struct {
	PatchID     string    `json:"patch_id"`
	Description string    `json:"description"`
	Confidence  float64   `json:"confidence"`
	RuleType    RuleType  `json:"rule_type"`
	RuleID      string    `json:"rule_id"` // rule created or updated by this patch
	AppliedAt   time.Time `json:"applied_at"`
	RolledBack  bool      `json:"rolled_back"`
}

// QualityMetrics holds the evaluator's judgment of one before/after pair,
// or an aggregate over a sample.
type QualityMetrics struct {
	NRR            float64 `json:"nrr"`             // noise reduction rate
	FPR            float64 `json:"fpr"`             // important-content retention
	SS             float64 `json:"ss"`              // semantic similarity
	TokenReduction float64 `json:"token_reduction"` // percent, e.g. 22.5
	ParsingErrors  int     `json:"parsing_errors"`
}

// Meets reports whether every metric is at or above the given minimums.
func (m QualityMetrics) Meets(min QualityMetrics) bool {
	return m.NRR >= min.NRR &&
		m.FPR >= min.FPR &&
		m.SS >= min.SS &&
		m.TokenReduction >= min.TokenReduction
}

// RawSuggestion is an unconverted improvement suggestion as returned by the
// evaluator. The synthesizer turns these into PatchSuggestions.
type RawSuggestion struct {
	Description          string   `json:"description"`
	ConfidenceScore      float64  `json:"confidence_score"`
	RuleType             string   `json:"rule_type"`
	PatternBefore        string   `json:"pattern_before"`
	PatternAfter         string   `json:"pattern_after"`
	EstimatedImprovement string   `json:"estimated_improvement"`
	ApplicableCases      []string `json:"applicable_cases"`
}

// Document is one corpus case: the text to preprocess plus the strata used
// for sampling.
type Document struct {
	CaseID    string `json:"case_id"`
	CourtType string `json:"court_type"`
	CaseType  string `json:"case_type"`
	Year      int    `json:"year"`
	Content   string `json:"content"`
}

// RegressionCase is a previously failed case replayed by the regression gate.
type RegressionCase struct {
	CaseID       string    `json:"case_id"`
	Pattern      string    `json:"pattern"` // coarse failure pattern label
	Content      string    `json:"content"`
	FailedOutput string    `json:"failed_output,omitempty"`
	RecordedAt   time.Time `json:"recorded_at"`
}

// FailureCluster groups evaluator-reported failures with a shared coarse
// pattern so patch synthesis can target the biggest cluster first.
type FailureCluster struct {
	ClusterID    string   `json:"cluster_id"`
	PatternType  string   `json:"pattern_type"` // page_number, separator, header_footer, whitespace, reference, unknown
	FailureCount int      `json:"failure_count"`
	SampleCases  []string `json:"sample_cases,omitempty"`
	ErrorPattern string   `json:"error_pattern"`
}
