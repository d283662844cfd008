package rules

import (
	"time"

	"github.com/lawtext/refinery/internal/types"
)

// DefaultRules returns the bootstrap rule set for a fresh deployment: the
// noise classes every Korean court document carries, conservative enough to
// never touch legal content. Everything beyond these is learned.
func DefaultRules() []types.Rule {
	now := time.Now().UTC()
	mk := func(id string, t types.RuleType, pattern, replacement string, priority int, desc string) types.Rule {
		return types.Rule{
			ID:               id,
			Type:             t,
			Pattern:          pattern,
			Replacement:      replacement,
			Priority:         priority,
			Enabled:          true,
			Description:      desc,
			PerformanceScore: 1.0,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
	}

	return []types.Rule{
		mk("default_page_number", types.RuleNoiseRemoval,
			`(?:^|\n)\s*페이지\s*\d+\s*(?:\n|$)`, "\n", 100,
			"Strip page-number lines"),
		mk("default_separator", types.RuleNoiseRemoval,
			`[=\-─━]{3,}`, "", 95,
			"Strip horizontal separator runs"),
		mk("default_whitespace", types.RulePostNormalize,
			`[ \t]{2,}`, " ", 90,
			"Collapse runs of spaces and tabs"),
		mk("default_blank_lines", types.RulePostNormalize,
			`\n{3,}`, "\n\n", 85,
			"Collapse runs of blank lines"),
	}
}
