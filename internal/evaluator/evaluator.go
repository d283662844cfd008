// Package evaluator scores before/after preprocessing pairs and proposes
// rule improvements.
//
// The production implementation calls the Anthropic API; tests and offline
// runs use the Static evaluator. Everything downstream depends only on the
// Evaluator interface.
package evaluator

import (
	"context"
	"os"

	"github.com/lawtext/refinery/internal/types"
)

// Model constants. Quality evaluation needs real judgment, so the default is
// the larger model; deployments that only run the cheap structural checks can
// override with REFINERY_MODEL.
const (
	ModelDefault = "claude-sonnet-4-5-20250929"
	ModelLight   = "claude-3-5-haiku-20241022"
)

// GetModel returns the evaluation model, honoring the REFINERY_MODEL
// environment override.
func GetModel() string {
	if model := os.Getenv("REFINERY_MODEL"); model != "" {
		return model
	}
	return ModelDefault
}

// Result is one evaluation of a before/after pair.
type Result struct {
	Metrics types.QualityMetrics `json:"metrics"`
	// FailurePatterns holds coarse labels for what went wrong, drawn from
	// page_number, separator, header_footer, whitespace, reference, unknown.
	// Empty when the output passed cleanly.
	FailurePatterns []string              `json:"failure_patterns,omitempty"`
	Suggestions     []types.RawSuggestion `json:"suggestions,omitempty"`
}

// Evaluator judges preprocessing quality for a single document.
type Evaluator interface {
	// Evaluate scores the transformation of before into after. meta carries
	// document strata (court type, case type, year) for context.
	Evaluate(ctx context.Context, before, after string, meta map[string]string) (*Result, error)
}

// UsageReporter is implemented by evaluators that track API spend. The
// orchestrator uses it for dry-run cost projection and budget enforcement.
type UsageReporter interface {
	Usage() Usage
}

// Usage accumulates API consumption across Evaluate calls.
type Usage struct {
	Calls        int     `json:"calls"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}
