package version

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lawtext/refinery/internal/storage"
	"github.com/lawtext/refinery/internal/types"
)

func TestIncrement(t *testing.T) {
	tests := []struct {
		current string
		bump    Bump
		want    string
	}{
		{"v1.0.0", BumpPatch, "v1.0.1"},
		{"v1.0.9", BumpPatch, "v1.0.10"},
		{"v1.2.3", BumpMinor, "v1.3.0"},
		{"v1.2.3", BumpMajor, "v2.0.0"},
	}
	for _, tt := range tests {
		got, err := Increment(tt.current, tt.bump)
		require.NoError(t, err)
		require.Equal(t, tt.want, got)
	}
}

func TestIncrementRejectsLooseVersions(t *testing.T) {
	for _, v := range []string{"", "1.0.0", "v1.0", "v1", "v1.0.0-rc1", "v1.0.0+build", "vabc"} {
		if _, err := Increment(v, BumpPatch); err == nil {
			t.Errorf("Increment(%q) accepted an invalid version", v)
		}
	}
	if _, err := Increment("v1.0.0", Bump("huge")); err == nil {
		t.Error("unknown bump kind accepted")
	}
}

func TestChecksumOrderIndependent(t *testing.T) {
	a := types.Rule{ID: "a", Type: types.RuleNoiseRemoval, Pattern: "x", Priority: 1, Enabled: true}
	b := types.Rule{ID: "b", Type: types.RulePostNormalize, Pattern: "y", Priority: 2, Enabled: true}

	require.Equal(t, Checksum([]types.Rule{a, b}), Checksum([]types.Rule{b, a}))
}

func TestChecksumIgnoresTimestampsAndCounters(t *testing.T) {
	r1 := types.Rule{ID: "a", Type: types.RuleNoiseRemoval, Pattern: "x", Priority: 1, Enabled: true}
	r2 := r1
	r2.CreatedAt = time.Now()
	r2.UpdatedAt = time.Now().Add(time.Hour)
	r2.UsageCount = 42
	r2.PerformanceScore = 0.7

	require.Equal(t, Checksum([]types.Rule{r1}), Checksum([]types.Rule{r2}))
}

func TestChecksumSensitiveToContent(t *testing.T) {
	r1 := types.Rule{ID: "a", Type: types.RuleNoiseRemoval, Pattern: "x", Priority: 1, Enabled: true}
	r2 := r1
	r2.Pattern = "y"
	require.NotEqual(t, Checksum([]types.Rule{r1}), Checksum([]types.Rule{r2}))

	r3 := r1
	r3.Enabled = false
	require.NotEqual(t, Checksum([]types.Rule{r1}), Checksum([]types.Rule{r3}))
}

func newTestManager(t *testing.T) (*Manager, storage.Storage) {
	t.Helper()
	st, err := storage.NewStorage(context.Background(), &storage.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	m, err := NewManager(st)
	require.NoError(t, err)
	return m, st
}

func saveVersion(t *testing.T, st storage.Storage, rec *types.VersionRecord, ruleList []types.Rule, promote bool) {
	t.Helper()
	ctx := context.Background()
	rs := &types.RuleSet{Version: rec.Version, Rules: ruleList, CreatedAt: rec.CreatedAt}
	require.NoError(t, st.SaveRuleSet(ctx, rs, rec))
	if promote {
		require.NoError(t, st.PromoteVersion(ctx, rec.Version))
	}
}

func TestTagBootstrap(t *testing.T) {
	m, _ := newTestManager(t)

	ruleList := []types.Rule{{ID: "a", Type: types.RuleNoiseRemoval, Pattern: "x", Priority: 1, Enabled: true}}
	rec, err := m.Tag(context.Background(), ruleList, BumpPatch, "bootstrap")
	require.NoError(t, err)
	require.Equal(t, InitialVersion, rec.Version)
	require.Empty(t, rec.ParentVersion)
	require.Equal(t, Checksum(ruleList), rec.Checksum)
}

func TestTagIncrementsFromCurrent(t *testing.T) {
	ctx := context.Background()
	m, st := newTestManager(t)

	ruleList := []types.Rule{{ID: "a", Type: types.RuleNoiseRemoval, Pattern: "x", Priority: 1, Enabled: true}}
	first, err := m.Tag(ctx, ruleList, BumpPatch, "bootstrap")
	require.NoError(t, err)
	saveVersion(t, st, first, ruleList, true)

	second, err := m.Tag(ctx, ruleList, BumpMinor, "new rules")
	require.NoError(t, err)
	require.Equal(t, "v1.1.0", second.Version)
	require.Equal(t, "v1.0.0", second.ParentVersion)
}

func TestVerifyDetectsDrift(t *testing.T) {
	ctx := context.Background()
	m, st := newTestManager(t)

	ruleList := []types.Rule{{ID: "a", Type: types.RuleNoiseRemoval, Pattern: "x", Priority: 1, Enabled: true}}
	rec, err := m.Tag(ctx, ruleList, BumpPatch, "bootstrap")
	require.NoError(t, err)
	saveVersion(t, st, rec, ruleList, true)

	require.NoError(t, m.Verify(ctx, rec.Version))

	// Mutate a rule behind the checksum's back.
	changed := ruleList[0]
	changed.Pattern = "different"
	changed.UpdatedAt = time.Now().UTC()
	require.NoError(t, st.UpsertRule(ctx, rec.Version, &changed))

	err = m.Verify(ctx, rec.Version)
	require.Error(t, err)
	require.Contains(t, err.Error(), "checksum mismatch")
}

func TestRollbackTargetPrefersStable(t *testing.T) {
	ctx := context.Background()
	m, st := newTestManager(t)

	ruleList := []types.Rule{{ID: "a", Type: types.RuleNoiseRemoval, Pattern: "x", Priority: 1, Enabled: true}}
	base := time.Now().UTC().Add(-3 * time.Hour)

	saveVersion(t, st, &types.VersionRecord{Version: "v1.0.0", Checksum: Checksum(ruleList), IsStable: true, CreatedAt: base}, ruleList, false)
	saveVersion(t, st, &types.VersionRecord{Version: "v1.0.1", Checksum: Checksum(ruleList), IsStable: true, ParentVersion: "v1.0.0", CreatedAt: base.Add(time.Hour)}, ruleList, false)
	saveVersion(t, st, &types.VersionRecord{Version: "v1.0.2", Checksum: Checksum(ruleList), ParentVersion: "v1.0.1", CreatedAt: base.Add(2 * time.Hour)}, ruleList, true)

	target, err := m.RollbackTarget(ctx)
	require.NoError(t, err)
	require.Equal(t, "v1.0.1", target, "newest stable version below current wins")
}

func TestRollbackTargetFallsBackToParent(t *testing.T) {
	ctx := context.Background()
	m, st := newTestManager(t)

	ruleList := []types.Rule{{ID: "a", Type: types.RuleNoiseRemoval, Pattern: "x", Priority: 1, Enabled: true}}
	base := time.Now().UTC().Add(-2 * time.Hour)

	saveVersion(t, st, &types.VersionRecord{Version: "v1.0.0", Checksum: Checksum(ruleList), CreatedAt: base}, ruleList, false)
	saveVersion(t, st, &types.VersionRecord{Version: "v1.0.1", Checksum: Checksum(ruleList), ParentVersion: "v1.0.0", CreatedAt: base.Add(time.Hour)}, ruleList, true)

	target, err := m.RollbackTarget(ctx)
	require.NoError(t, err)
	require.Equal(t, "v1.0.0", target)
}

func TestRollbackTargetNoneBelowInitial(t *testing.T) {
	ctx := context.Background()
	m, st := newTestManager(t)

	ruleList := []types.Rule{{ID: "a", Type: types.RuleNoiseRemoval, Pattern: "x", Priority: 1, Enabled: true}}
	saveVersion(t, st, &types.VersionRecord{Version: "v1.0.0", Checksum: Checksum(ruleList), CreatedAt: time.Now().UTC()}, ruleList, true)

	_, err := m.RollbackTarget(ctx)
	require.Error(t, err)
}
