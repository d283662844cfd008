package version

import (
	"fmt"

	"github.com/lawtext/refinery/internal/types"
)

// maxRelativeDrop is the largest acceptable relative decline of a quality
// metric between consecutive holdout runs.
const maxRelativeDrop = 0.05

// maxErrorGrowth is the largest acceptable multiplier on parsing errors
// between consecutive holdout runs.
const maxErrorGrowth = 1.5

// Degraded compares a candidate's holdout metrics against the previous run
// and reports whether the candidate should be rolled back: a relative drop
// above 5% on NRR, FPR, or SS, or parsing errors growing past 1.5x. The
// returned reason names the first tripped condition.
func Degraded(prev, curr types.QualityMetrics) (bool, string) {
	checks := []struct {
		name       string
		prev, curr float64
	}{
		{"nrr", prev.NRR, curr.NRR},
		{"fpr", prev.FPR, curr.FPR},
		{"ss", prev.SS, curr.SS},
	}
	for _, c := range checks {
		if c.prev <= 0 {
			continue
		}
		if drop := (c.prev - c.curr) / c.prev; drop > maxRelativeDrop {
			return true, fmt.Sprintf("%s dropped %.1f%% (%.3f -> %.3f)", c.name, drop*100, c.prev, c.curr)
		}
	}

	if prev.ParsingErrors > 0 {
		if growth := float64(curr.ParsingErrors) / float64(prev.ParsingErrors); growth > maxErrorGrowth {
			return true, fmt.Sprintf("parsing errors grew %.1fx (%d -> %d)", growth, prev.ParsingErrors, curr.ParsingErrors)
		}
	} else if curr.ParsingErrors > 1 {
		return true, fmt.Sprintf("parsing errors appeared (%d)", curr.ParsingErrors)
	}
	return false, ""
}
