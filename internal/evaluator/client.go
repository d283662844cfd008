package evaluator

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/lawtext/refinery/internal/types"
)

// Client is the Anthropic-backed evaluator.
type Client struct {
	client  *anthropic.Client
	model   string
	retry   RetryConfig
	breaker *CircuitBreaker
	sem     *semaphore.Weighted
	limiter *rate.Limiter

	usageMu sync.Mutex
	usage   Usage
}

var _ Evaluator = (*Client)(nil)
var _ UsageReporter = (*Client)(nil)

// Config holds evaluator client configuration.
type Config struct {
	// APIKey falls back to REFINERY_API_KEY, then ANTHROPIC_API_KEY.
	APIKey string
	// Model defaults to GetModel().
	Model string
	// Retry uses DefaultRetryConfig when zero.
	Retry RetryConfig
}

// NewClient creates an Anthropic-backed evaluator.
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil {
		cfg = &Config{}
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("REFINERY_API_KEY")
	}
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("no API key: set REFINERY_API_KEY or ANTHROPIC_API_KEY")
	}

	model := cfg.Model
	if model == "" {
		model = GetModel()
	}

	retry := cfg.Retry
	if retry.MaxRetries == 0 {
		retry = DefaultRetryConfig()
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))

	c := &Client{
		client: &client,
		model:  model,
		retry:  retry,
	}
	if retry.CircuitBreakerEnabled {
		c.breaker = NewCircuitBreaker(retry.FailureThreshold, retry.SuccessThreshold, retry.OpenTimeout)
	}
	if retry.MaxConcurrentCalls > 0 {
		c.sem = semaphore.NewWeighted(int64(retry.MaxConcurrentCalls))
	}
	if retry.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(retry.RequestsPerSecond), 1)
	}
	return c, nil
}

// evalResponse is the wire shape the prompt instructs the model to return.
type evalResponse struct {
	NRR             float64               `json:"nrr"`
	FPR             float64               `json:"fpr"`
	SS              float64               `json:"ss"`
	TokenReduction  float64               `json:"token_reduction"`
	ParsingErrors   int                   `json:"parsing_errors"`
	FailurePatterns []string              `json:"failure_patterns"`
	Suggestions     []types.RawSuggestion `json:"suggestions"`
}

// Evaluate scores one before/after pair. On a malformed model response it
// returns zero metrics and a descriptive error rather than inventing scores.
func (c *Client) Evaluate(ctx context.Context, before, after string, meta map[string]string) (*Result, error) {
	startTime := time.Now()
	prompt := buildEvalPrompt(before, after, meta)

	var response *anthropic.Message
	err := c.retryWithBackoff(ctx, "quality evaluation", func(attemptCtx context.Context) error {
		resp, apiErr := c.client.Messages.New(attemptCtx, anthropic.MessageNewParams{
			Model:     anthropic.Model(c.model),
			MaxTokens: 4096,
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			},
		})
		if apiErr != nil {
			return apiErr
		}
		response = resp
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("evaluation API call failed: %w", err)
	}

	c.recordUsage(response.Usage.InputTokens, response.Usage.OutputTokens)

	var responseText string
	for _, block := range response.Content {
		if block.Type == "text" {
			responseText += block.Text
		}
	}

	var parsed evalResponse
	if err := parseModelJSON(responseText, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse evaluation response: %w", err)
	}

	result := &Result{
		Metrics: types.QualityMetrics{
			NRR:            clamp01(parsed.NRR),
			FPR:            clamp01(parsed.FPR),
			SS:             clamp01(parsed.SS),
			TokenReduction: parsed.TokenReduction,
			ParsingErrors:  parsed.ParsingErrors,
		},
		FailurePatterns: normalizePatterns(parsed.FailurePatterns),
		Suggestions:     parsed.Suggestions,
	}

	log.Printf("evaluated case (nrr=%.2f fpr=%.2f ss=%.2f reduction=%.1f%% suggestions=%d) in %v",
		result.Metrics.NRR, result.Metrics.FPR, result.Metrics.SS,
		result.Metrics.TokenReduction, len(result.Suggestions), time.Since(startTime).Round(time.Millisecond))
	return result, nil
}

// Usage returns accumulated API consumption.
func (c *Client) Usage() Usage {
	c.usageMu.Lock()
	defer c.usageMu.Unlock()
	return c.usage
}

// Per-million-token pricing. Unknown models use the default-model rates,
// which overestimates for smaller models; budget checks prefer that.
var modelPricing = map[string]struct{ in, out float64 }{
	ModelDefault: {3.00, 15.00},
	ModelLight:   {0.80, 4.00},
}

func (c *Client) recordUsage(inputTokens, outputTokens int64) {
	price, ok := modelPricing[c.model]
	if !ok {
		price = modelPricing[ModelDefault]
	}

	c.usageMu.Lock()
	defer c.usageMu.Unlock()
	c.usage.Calls++
	c.usage.InputTokens += inputTokens
	c.usage.OutputTokens += outputTokens
	c.usage.CostUSD += float64(inputTokens)/1e6*price.in + float64(outputTokens)/1e6*price.out
}

const maxDocChars = 30000

func buildEvalPrompt(before, after string, meta map[string]string) string {
	var sb strings.Builder
	sb.WriteString("You are evaluating the preprocessing of a Korean legal case document.\n")
	sb.WriteString("The goal of preprocessing is to strip noise (page numbers, separators, headers, footers, excess whitespace) while keeping every legally meaningful sentence intact.\n\n")

	if len(meta) > 0 {
		sb.WriteString("Document metadata:\n")
		for _, key := range []string{"case_id", "court_type", "case_type", "year"} {
			if v, ok := meta[key]; ok && v != "" {
				fmt.Fprintf(&sb, "- %s: %s\n", key, v)
			}
		}
		sb.WriteString("\n")
	}

	fmt.Fprintf(&sb, "ORIGINAL TEXT:\n---\n%s\n---\n\n", truncate(before, maxDocChars))
	fmt.Fprintf(&sb, "PREPROCESSED TEXT:\n---\n%s\n---\n\n", truncate(after, maxDocChars))

	sb.WriteString(`Score the preprocessing and respond with ONLY a JSON object:
{
  "nrr": <0.0-1.0, fraction of noise successfully removed>,
  "fpr": <0.0-1.0, fraction of important content preserved>,
  "ss": <0.0-1.0, semantic similarity of preserved content to the original>,
  "token_reduction": <percent size reduction, e.g. 22.5>,
  "parsing_errors": <count of structural parsing problems introduced>,
  "failure_patterns": [<zero or more of: "page_number", "separator", "header_footer", "whitespace", "reference", "unknown">],
  "suggestions": [
    {
      "description": "<what to change and why>",
      "confidence_score": <0.0-1.0>,
      "rule_type": "<noise_removal|legal_filtering|fact_extraction|redundancy_removal|post_normalize>",
      "pattern_before": "<regex for the text still causing problems>",
      "pattern_after": "<improved regex, or empty string for plain removal>",
      "estimated_improvement": "<expected effect>",
      "applicable_cases": [<case ids this applies to, if known>]
    }
  ]
}
Report failure_patterns only for noise that survived preprocessing or content that was wrongly removed. Suggest at most 3 rules, highest confidence first.`)
	return sb.String()
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// knownPatterns is the closed set of coarse failure labels.
var knownPatterns = map[string]bool{
	"page_number":   true,
	"separator":     true,
	"header_footer": true,
	"whitespace":    true,
	"reference":     true,
	"unknown":       true,
}

// normalizePatterns lowercases labels and folds anything unrecognized into
// "unknown" so downstream clustering sees a closed set.
func normalizePatterns(patterns []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, p := range patterns {
		label := strings.ToLower(strings.TrimSpace(p))
		if label == "" {
			continue
		}
		if !knownPatterns[label] {
			label = "unknown"
		}
		if !seen[label] {
			seen[label] = true
			out = append(out, label)
		}
	}
	return out
}
