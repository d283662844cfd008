package patch

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/lawtext/refinery/internal/oscillation"
	"github.com/lawtext/refinery/internal/rules"
	"github.com/lawtext/refinery/internal/storage"
	"github.com/lawtext/refinery/internal/types"
)

type fixture struct {
	gate  *Gate
	store *rules.Store
	st    storage.Storage
	guard *oscillation.Guard
}

func newFixture(t *testing.T, seeded []types.Rule) *fixture {
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

	guard := oscillation.NewGuard()
	gate, err := NewGate(&Config{Store: store, Guard: guard, History: st})
	require.NoError(t, err)
	return &fixture{gate: gate, store: store, st: st, guard: guard}
}

func candidate(conf float64, ruleType types.RuleType, before, after string) types.PatchSuggestion {
	return types.PatchSuggestion{
		SuggestionID:    uuid.New().String(),
		Description:     "candidate for " + string(ruleType),
		RuleType:        ruleType,
		ConfidenceScore: conf,
		PatternBefore:   before,
		PatternAfter:    after,
		CreatedAt:       time.Now().UTC(),
	}
}

func TestAutoApplyConfidenceSplit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	res, err := f.gate.AutoApply(ctx, []types.PatchSuggestion{
		candidate(0.95, types.RuleNoiseRemoval, `각주\s*\d+`, ""),
		candidate(0.6, types.RulePostNormalize, `\t{3,}`, " "),
	})
	require.NoError(t, err)
	require.Len(t, res.AutoApplied, 1)
	require.Equal(t, 0.95, res.AutoApplied[0].ConfidenceScore)
	require.Len(t, res.ManualReview, 1)
	require.Equal(t, 0.6, res.ManualReview[0].Suggestion.ConfidenceScore)
	require.Contains(t, res.ManualReview[0].Reason, "below auto-apply threshold")
	require.Empty(t, res.Failed)
}

func TestAutoApplyPartitionsEveryCandidate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	cands := []types.PatchSuggestion{
		candidate(0.9, types.RuleNoiseRemoval, `별지\s*목록`, ""),
		candidate(0.5, types.RuleNoiseRemoval, `각주\s*\d+`, ""),
		candidate(0.9, types.RulePostNormalize, `([`, ""), // invalid regex still inserts; validity is the safety gates' concern
		candidate(0.9, types.RuleLegalFiltering, `상고를\s*기각한다`, ""),
	}
	res, err := f.gate.AutoApply(ctx, cands)
	require.NoError(t, err)
	total := len(res.AutoApplied) + len(res.ManualReview) + len(res.Failed)
	require.Equal(t, len(cands), total, "every candidate must land in exactly one list")
}

func TestAutoApplyCreatesNewRule(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	cand := candidate(0.9, types.RuleNoiseRemoval, `각주\s*\d+`, "")
	res, err := f.gate.AutoApply(ctx, []types.PatchSuggestion{cand})
	require.NoError(t, err)
	require.Len(t, res.AutoApplied, 1)

	rs, err := f.store.LoadLatest(ctx)
	require.NoError(t, err)
	require.Len(t, rs.Rules, 1)
	r := rs.Rules[0]
	require.Equal(t, "ai_noise_removal_"+cand.SuggestionID[:8], r.ID)
	require.Equal(t, `각주\s*\d+`, r.Pattern)
	require.True(t, r.Enabled)
	require.Equal(t, 0.9, r.PerformanceScore)

	patches, err := f.st.ListPatches(ctx, 10)
	require.NoError(t, err)
	require.Len(t, patches, 1)
	require.Equal(t, r.ID, patches[0].RuleID)
	require.False(t, patches[0].RolledBack)
}

func TestAutoApplyImprovesExistingRuleInPlace(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, []types.Rule{{
		ID:               "default_page_number",
		Type:             types.RuleNoiseRemoval,
		Pattern:          `페이지\s*\d+`,
		Priority:         100,
		Enabled:          true,
		Description:      "strip page numbers",
		PerformanceScore: 0.5,
	}})

	cand := candidate(0.9, types.RuleNoiseRemoval, `페이지\s*\d+`, `(?:^|\n)\s*페이지\s*\d+\s*(?:\n|$)`)
	res, err := f.gate.AutoApply(ctx, []types.PatchSuggestion{cand})
	require.NoError(t, err)
	require.Len(t, res.AutoApplied, 1)

	rs, err := f.store.LoadLatest(ctx)
	require.NoError(t, err)
	require.Len(t, rs.Rules, 1, "in-place improvement must not add a rule")
	r := rs.Rules[0]
	require.Equal(t, "default_page_number", r.ID)
	require.Equal(t, `(?:^|\n)\s*페이지\s*\d+\s*(?:\n|$)`, r.Pattern)
	require.Equal(t, 0.9, r.PerformanceScore)
	require.Contains(t, r.Description, "patched:")
}

func TestAutoApplyFrozenAreaGoesToReview(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	// Two tracked changes freeze the area.
	f.guard.TrackChange(string(types.RuleNoiseRemoval))
	f.guard.TrackChange(string(types.RuleNoiseRemoval))

	res, err := f.gate.AutoApply(ctx, []types.PatchSuggestion{
		candidate(0.95, types.RuleNoiseRemoval, `각주\s*\d+`, ""),
	})
	require.NoError(t, err)
	require.Empty(t, res.AutoApplied)
	require.Len(t, res.ManualReview, 1)
	require.Contains(t, res.ManualReview[0].Reason, "frozen")

	rs, err := f.store.LoadLatest(ctx)
	require.NoError(t, err)
	require.Empty(t, rs.Rules, "frozen area must not be mutated")
}

func TestAutoApplyDuplicateIsReviewNotFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	first := candidate(0.9, types.RuleNoiseRemoval, `각주\s*번호\s*\d+`, "")
	res, err := f.gate.AutoApply(ctx, []types.PatchSuggestion{first})
	require.NoError(t, err)
	require.Len(t, res.AutoApplied, 1)

	// The same fix arriving again from another document.
	second := candidate(0.9, types.RuleNoiseRemoval, `각주\s+번호\s+\d+`, "")
	res, err = f.gate.AutoApply(ctx, []types.PatchSuggestion{second})
	require.NoError(t, err)
	require.Empty(t, res.AutoApplied)
	require.Empty(t, res.Failed, "a duplicate is not a failure")
	require.Len(t, res.ManualReview, 1)

	rs, err := f.store.LoadLatest(ctx)
	require.NoError(t, err)
	require.Len(t, rs.Rules, 1, "duplicate must not grow the rule set")
}

func TestRollbackDisablesRule(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	res, err := f.gate.AutoApply(ctx, []types.PatchSuggestion{
		candidate(0.9, types.RuleNoiseRemoval, `각주\s*\d+`, ""),
	})
	require.NoError(t, err)
	require.Len(t, res.AutoApplied, 1)

	patches, err := f.st.ListPatches(ctx, 1)
	require.NoError(t, err)
	require.Len(t, patches, 1)
	patchID := patches[0].PatchID

	require.NoError(t, f.gate.Rollback(ctx, patchID))

	rs, err := f.store.LoadLatest(ctx)
	require.NoError(t, err)
	require.Len(t, rs.Rules, 1, "rollback disables, never deletes")
	require.False(t, rs.Rules[0].Enabled)

	rec, err := f.st.GetPatch(ctx, patchID)
	require.NoError(t, err)
	require.True(t, rec.RolledBack)

	// Second rollback is a no-op.
	require.NoError(t, f.gate.Rollback(ctx, patchID))
}

func TestRollbackUnknownPatch(t *testing.T) {
	f := newFixture(t, nil)
	err := f.gate.Rollback(context.Background(), "no-such-patch")
	require.Error(t, err)
	require.True(t, storage.IsNotFound(err))
}
