package version

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lawtext/refinery/internal/types"
)

func TestDegraded(t *testing.T) {
	base := types.QualityMetrics{NRR: 0.95, FPR: 0.99, SS: 0.93, TokenReduction: 25}

	tests := []struct {
		name   string
		curr   types.QualityMetrics
		want   bool
		reason string
	}{
		{"identical", base, false, ""},
		{"small dip within tolerance", types.QualityMetrics{NRR: 0.92, FPR: 0.99, SS: 0.93, TokenReduction: 25}, false, ""},
		{"nrr collapse", types.QualityMetrics{NRR: 0.88, FPR: 0.99, SS: 0.93, TokenReduction: 25}, true, "nrr"},
		{"fpr collapse", types.QualityMetrics{NRR: 0.95, FPR: 0.90, SS: 0.93, TokenReduction: 25}, true, "fpr"},
		{"ss collapse", types.QualityMetrics{NRR: 0.95, FPR: 0.99, SS: 0.85, TokenReduction: 25}, true, "ss"},
		{"improvement", types.QualityMetrics{NRR: 0.98, FPR: 0.995, SS: 0.96, TokenReduction: 30}, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reason := Degraded(base, tt.curr)
			require.Equal(t, tt.want, got)
			if tt.reason != "" {
				require.Contains(t, reason, tt.reason)
			}
		})
	}
}

func TestDegradedParsingErrors(t *testing.T) {
	prev := types.QualityMetrics{NRR: 0.95, FPR: 0.99, SS: 0.93, ParsingErrors: 2}

	curr := prev
	curr.ParsingErrors = 3
	bad, _ := Degraded(prev, curr)
	require.False(t, bad, "1.5x growth is the inclusive limit")

	curr.ParsingErrors = 4
	bad, reason := Degraded(prev, curr)
	require.True(t, bad)
	require.Contains(t, reason, "parsing errors")

	clean := types.QualityMetrics{NRR: 0.95, FPR: 0.99, SS: 0.93}
	noisy := clean
	noisy.ParsingErrors = 2
	bad, _ = Degraded(clean, noisy)
	require.True(t, bad, "errors appearing on a previously clean run")
}

func TestDegradedIgnoresZeroBaseline(t *testing.T) {
	// A zero previous metric cannot produce a meaningful relative drop.
	bad, _ := Degraded(types.QualityMetrics{}, types.QualityMetrics{NRR: 0.5})
	require.False(t, bad)
}
