package evaluator

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Model output is JSON by instruction but arrives wrapped in code fences or
// prose often enough that strict unmarshaling alone loses usable responses.
// parseModelJSON works through fallback strategies: direct parse, fence
// stripping, trailing-comma cleanup, then brace extraction from mixed text.
var (
	codeFenceRegex     = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?([\\s\\S]*?)\\n?```")
	trailingCommaRegex = regexp.MustCompile(`,(\s*[}\]])`)
	objectRegex        = regexp.MustCompile(`(?s)\{[\s\S]*\}`)
)

func parseModelJSON(text string, out any) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return fmt.Errorf("empty response")
	}

	if err := json.Unmarshal([]byte(trimmed), out); err == nil {
		return nil
	}

	unfenced := trimmed
	if m := codeFenceRegex.FindStringSubmatch(trimmed); m != nil {
		unfenced = strings.TrimSpace(m[1])
		if err := json.Unmarshal([]byte(unfenced), out); err == nil {
			return nil
		}
	}

	cleaned := trailingCommaRegex.ReplaceAllString(unfenced, "$1")
	if err := json.Unmarshal([]byte(cleaned), out); err == nil {
		return nil
	}

	if extracted := objectRegex.FindString(cleaned); extracted != "" {
		if err := json.Unmarshal([]byte(extracted), out); err == nil {
			return nil
		}
	}

	return fmt.Errorf("no parseable JSON in response (preview: %s)", truncate(text, 200))
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
