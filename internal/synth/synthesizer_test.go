package synth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lawtext/refinery/internal/rules"
	"github.com/lawtext/refinery/internal/storage"
	"github.com/lawtext/refinery/internal/types"
)

func newTestSynth(t *testing.T, seeded []types.Rule, threshold float64) *Synthesizer {
	t.Helper()
	st, err := storage.NewStorage(context.Background(), &storage.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	store, err := rules.NewStore(st)
	require.NoError(t, err)

	now := time.Now().UTC()
	rs := &types.RuleSet{Version: "v1.0.0", Rules: seeded, CreatedAt: now}
	rec := &types.VersionRecord{Version: "v1.0.0", Checksum: "seed", CreatedAt: now}
	require.NoError(t, store.ReplaceAll(context.Background(), rs, rec))

	s, err := New(store, threshold)
	require.NoError(t, err)
	return s
}

func suggestion(conf float64, ruleType, pattern string) types.RawSuggestion {
	return types.RawSuggestion{
		Description:     "remove " + pattern,
		ConfidenceScore: conf,
		RuleType:        ruleType,
		PatternBefore:   pattern,
	}
}

func TestSynthesizeConfidenceFilter(t *testing.T) {
	s := newTestSynth(t, nil, 0.7)

	out, err := s.Synthesize(context.Background(), []types.RawSuggestion{
		suggestion(0.9, "noise_removal", `각주\s*\d+`),
		suggestion(0.69, "noise_removal", `별지\s*목록`),
		suggestion(0.7, "post_normalize", `\t{2,}공백`),
	})
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, 0.9, out[0].ConfidenceScore)
	require.Equal(t, 0.7, out[1].ConfidenceScore)
}

func TestSynthesizeSkipsMalformed(t *testing.T) {
	s := newTestSynth(t, nil, 0.5)

	out, err := s.Synthesize(context.Background(), []types.RawSuggestion{
		suggestion(0.9, "made_up_type", `각주`),
		{Description: "no pattern at all", ConfidenceScore: 0.9, RuleType: "noise_removal"},
		suggestion(0.9, "noise_removal", `각주\s*\d+`),
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, `각주\s*\d+`, out[0].PatternBefore)
}

func TestSynthesizeDropsDuplicatesOfExistingRules(t *testing.T) {
	seeded := []types.Rule{{
		ID:       "existing_footnote",
		Type:     types.RuleNoiseRemoval,
		Pattern:  `각주\s*번호\s*\d+`,
		Priority: 90,
		Enabled:  true,
	}}
	s := newTestSynth(t, seeded, 0.5)

	out, err := s.Synthesize(context.Background(), []types.RawSuggestion{
		// Same tokens as the existing rule's pattern.
		suggestion(0.9, "noise_removal", `각주\s+번호\s+\d+`),
		// Same pattern but a different rule type is not a duplicate.
		suggestion(0.9, "legal_filtering", `각주\s*번호\s*\d+`),
		suggestion(0.9, "noise_removal", `머리말\s*사건개요`),
	})
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, types.RuleLegalFiltering, out[0].RuleType)
	require.Equal(t, `머리말\s*사건개요`, out[1].PatternBefore)
}

func TestSynthesizeIgnoresDisabledRulesForDedup(t *testing.T) {
	seeded := []types.Rule{{
		ID:      "retired",
		Type:    types.RuleNoiseRemoval,
		Pattern: `각주\s*번호`,
		Enabled: false,
	}}
	s := newTestSynth(t, seeded, 0.5)

	out, err := s.Synthesize(context.Background(), []types.RawSuggestion{
		suggestion(0.9, "noise_removal", `각주\s*번호`),
	})
	require.NoError(t, err)
	require.Len(t, out, 1, "a disabled rule must not block a fresh suggestion")
}

func TestSynthesizePreservesOrderAndAssignsIDs(t *testing.T) {
	s := newTestSynth(t, nil, 0.5)

	out, err := s.Synthesize(context.Background(), []types.RawSuggestion{
		suggestion(0.8, "noise_removal", `첫번째\s*패턴`),
		suggestion(0.9, "post_normalize", `두번째\s*패턴`),
		suggestion(0.7, "legal_filtering", `세번째\s*패턴`),
	})
	require.NoError(t, err)
	require.Len(t, out, 3)
	require.Equal(t, `첫번째\s*패턴`, out[0].PatternBefore)
	require.Equal(t, `두번째\s*패턴`, out[1].PatternBefore)
	require.Equal(t, `세번째\s*패턴`, out[2].PatternBefore)

	ids := map[string]bool{}
	for _, p := range out {
		require.NotEmpty(t, p.SuggestionID)
		require.False(t, p.CreatedAt.IsZero())
		ids[p.SuggestionID] = true
	}
	require.Len(t, ids, 3)
}

func TestSynthesizeDefaultThreshold(t *testing.T) {
	s := newTestSynth(t, nil, 0)

	out, err := s.Synthesize(context.Background(), []types.RawSuggestion{
		suggestion(0.69, "noise_removal", `별첨\s*서류`),
		suggestion(0.71, "noise_removal", `별지\s*목록`),
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, `별지\s*목록`, out[0].PatternBefore)
}
