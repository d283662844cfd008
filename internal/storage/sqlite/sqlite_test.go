package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lawtext/refinery/internal/types"
)

func newDB(t *testing.T) *SQLiteStorage {
	t.Helper()
	st, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func testRules() []types.Rule {
	now := time.Now().UTC()
	return []types.Rule{
		{ID: "page", Type: types.RuleNoiseRemoval, Pattern: `페이지\s*\d+`, Priority: 100, Enabled: true, CreatedAt: now, UpdatedAt: now},
		{ID: "space", Type: types.RulePostNormalize, Pattern: `[ ]{2,}`, Replacement: " ", Priority: 50, Enabled: true, CreatedAt: now, UpdatedAt: now},
	}
}

func saveSet(t *testing.T, st *SQLiteStorage, version string, ruleList []types.Rule) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, st.SaveRuleSet(context.Background(),
		&types.RuleSet{Version: version, Rules: ruleList, CreatedAt: now},
		&types.VersionRecord{Version: version, Checksum: "cs-" + version, CreatedAt: now}))
}

func TestRuleSetRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := newDB(t)

	saveSet(t, st, "v1.0.0", testRules())
	require.NoError(t, st.PromoteVersion(ctx, "v1.0.0"))

	rs, err := st.CurrentRuleSet(ctx)
	require.NoError(t, err)
	require.Equal(t, "v1.0.0", rs.Version)
	require.Len(t, rs.Rules, 2)
	// Priority descending, so the page rule comes back first.
	require.Equal(t, "page", rs.Rules[0].ID)
	require.Equal(t, types.RuleNoiseRemoval, rs.Rules[0].Type)
	require.Equal(t, `페이지\s*\d+`, rs.Rules[0].Pattern)
}

func TestCurrentVersionBeforeBootstrap(t *testing.T) {
	st := newDB(t)
	_, err := st.CurrentVersion(context.Background())
	require.ErrorIs(t, err, ErrNotFound)

	_, err = st.CurrentRuleSet(context.Background())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestPromoteUnknownVersion(t *testing.T) {
	st := newDB(t)
	err := st.PromoteVersion(context.Background(), "v9.9.9")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestPromoteSwapsAtomically(t *testing.T) {
	ctx := context.Background()
	st := newDB(t)

	saveSet(t, st, "v1.0.0", testRules())
	saveSet(t, st, "v1.0.1", testRules()[:1])
	require.NoError(t, st.PromoteVersion(ctx, "v1.0.0"))

	rs, err := st.CurrentRuleSet(ctx)
	require.NoError(t, err)
	require.Len(t, rs.Rules, 2)

	require.NoError(t, st.PromoteVersion(ctx, "v1.0.1"))
	rs, err = st.CurrentRuleSet(ctx)
	require.NoError(t, err)
	require.Equal(t, "v1.0.1", rs.Version)
	require.Len(t, rs.Rules, 1)

	// The old snapshot is untouched and can be promoted back.
	require.NoError(t, st.PromoteVersion(ctx, "v1.0.0"))
	rs, err = st.CurrentRuleSet(ctx)
	require.NoError(t, err)
	require.Len(t, rs.Rules, 2)
}

func TestSaveRuleSetReplacesSnapshot(t *testing.T) {
	ctx := context.Background()
	st := newDB(t)

	saveSet(t, st, "v1.0.0", testRules())
	saveSet(t, st, "v1.0.0", testRules()[:1]) // re-save same version with fewer rules

	rs, err := st.GetRuleSet(ctx, "v1.0.0")
	require.NoError(t, err)
	require.Len(t, rs.Rules, 1, "re-saving a version must fully replace its rules")
}

func TestSaveRuleSetRejectsMismatchedRecord(t *testing.T) {
	st := newDB(t)
	now := time.Now().UTC()
	err := st.SaveRuleSet(context.Background(),
		&types.RuleSet{Version: "v1.0.0", CreatedAt: now},
		&types.VersionRecord{Version: "v2.0.0", CreatedAt: now})
	require.Error(t, err)
}

func TestVersionRecords(t *testing.T) {
	ctx := context.Background()
	st := newDB(t)

	now := time.Now().UTC()
	require.NoError(t, st.SaveRuleSet(ctx,
		&types.RuleSet{Version: "v1.0.0", Rules: testRules(), CreatedAt: now},
		&types.VersionRecord{Version: "v1.0.0", Description: "bootstrap", Checksum: "abc", CreatedAt: now}))
	require.NoError(t, st.SaveRuleSet(ctx,
		&types.RuleSet{Version: "v1.0.1", Rules: testRules(), CreatedAt: now.Add(time.Minute)},
		&types.VersionRecord{Version: "v1.0.1", Checksum: "def", ParentVersion: "v1.0.0", CreatedAt: now.Add(time.Minute)}))

	rec, err := st.GetVersionRecord(ctx, "v1.0.1")
	require.NoError(t, err)
	require.Equal(t, "def", rec.Checksum)
	require.Equal(t, "v1.0.0", rec.ParentVersion)
	require.False(t, rec.IsStable)

	records, err := st.ListVersionRecords(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "v1.0.1", records[0].Version, "newest first")

	require.NoError(t, st.MarkStable(ctx, "v1.0.0", true))
	rec, err = st.GetVersionRecord(ctx, "v1.0.0")
	require.NoError(t, err)
	require.True(t, rec.IsStable)

	require.ErrorIs(t, st.MarkStable(ctx, "v9.9.9", true), ErrNotFound)
}

func TestUpsertRuleAndEnableFlag(t *testing.T) {
	ctx := context.Background()
	st := newDB(t)
	saveSet(t, st, "v1.0.0", testRules())

	now := time.Now().UTC()
	added := types.Rule{ID: "extra", Type: types.RuleNoiseRemoval, Pattern: `별지`, Priority: 60, Enabled: true, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, st.UpsertRule(ctx, "v1.0.0", &added))

	// Upsert again with a changed pattern updates in place.
	added.Pattern = `별지\s*목록`
	require.NoError(t, st.UpsertRule(ctx, "v1.0.0", &added))

	rs, err := st.GetRuleSet(ctx, "v1.0.0")
	require.NoError(t, err)
	require.Len(t, rs.Rules, 3)
	for _, r := range rs.Rules {
		if r.ID == "extra" {
			require.Equal(t, `별지\s*목록`, r.Pattern)
		}
	}

	require.NoError(t, st.SetRuleEnabled(ctx, "v1.0.0", "extra", false))
	rs, err = st.GetRuleSet(ctx, "v1.0.0")
	require.NoError(t, err)
	for _, r := range rs.Rules {
		if r.ID == "extra" {
			require.False(t, r.Enabled)
		}
	}

	require.ErrorIs(t, st.SetRuleEnabled(ctx, "v1.0.0", "ghost", false), ErrNotFound)
}

func TestIncrementRuleUsage(t *testing.T) {
	ctx := context.Background()
	st := newDB(t)
	saveSet(t, st, "v1.0.0", testRules())

	require.NoError(t, st.IncrementRuleUsage(ctx, "v1.0.0", "page"))
	require.NoError(t, st.IncrementRuleUsage(ctx, "v1.0.0", "page"))

	rs, err := st.GetRuleSet(ctx, "v1.0.0")
	require.NoError(t, err)
	for _, r := range rs.Rules {
		if r.ID == "page" {
			require.Equal(t, 2, r.UsageCount)
		}
	}
}

func TestJobLifecycle(t *testing.T) {
	ctx := context.Background()
	st := newDB(t)

	job := &types.ProcessingJob{
		JobID:        "job-1",
		Scale:        types.ScaleBatch,
		Status:       types.JobPending,
		RulesVersion: "v1.0.0",
		TotalCases:   50,
		StartTime:    time.Now().UTC(),
	}
	require.NoError(t, st.CreateJob(ctx, job))

	job.Status = types.JobProcessing
	job.ProcessedCases = 25
	job.FailedCases = 1
	job.RecentErrors = []string{"case 2019다1: evaluation timed out"}
	require.NoError(t, st.UpdateJob(ctx, job))

	got, err := st.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, types.JobProcessing, got.Status)
	require.Equal(t, 25, got.ProcessedCases)
	require.Equal(t, []string{"case 2019다1: evaluation timed out"}, got.RecentErrors)
	require.Nil(t, got.EndTime)

	end := time.Now().UTC()
	job.Status = types.JobCompleted
	job.EndTime = &end
	require.NoError(t, st.UpdateJob(ctx, job))

	got, err = st.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, types.JobCompleted, got.Status)
	require.NotNil(t, got.EndTime)
}

func TestJobValidationAndNotFound(t *testing.T) {
	ctx := context.Background()
	st := newDB(t)

	require.Error(t, st.CreateJob(ctx, &types.ProcessingJob{Scale: types.ScaleBatch, Status: types.JobPending}))
	require.Error(t, st.CreateJob(ctx, &types.ProcessingJob{JobID: "x", Scale: "huge", Status: types.JobPending}))

	_, err := st.GetJob(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	err = st.UpdateJob(ctx, &types.ProcessingJob{JobID: "missing", Status: types.JobCompleted})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestListJobsNewestFirst(t *testing.T) {
	ctx := context.Background()
	st := newDB(t)

	base := time.Now().UTC().Add(-time.Hour)
	for i, id := range []string{"old", "mid", "new"} {
		require.NoError(t, st.CreateJob(ctx, &types.ProcessingJob{
			JobID:     id,
			Scale:     types.ScaleSingle,
			Status:    types.JobCompleted,
			StartTime: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	jobs, err := st.ListJobs(ctx, 2)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	require.Equal(t, "new", jobs[0].JobID)
	require.Equal(t, "mid", jobs[1].JobID)
}

func TestCheckpoints(t *testing.T) {
	ctx := context.Background()
	st := newDB(t)

	require.NoError(t, st.CreateJob(ctx, &types.ProcessingJob{
		JobID:     "job-1",
		Scale:     types.ScaleFull,
		Status:    types.JobProcessing,
		StartTime: time.Now().UTC(),
	}))

	offset, err := st.GetCheckpoint(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, 0, offset, "no checkpoint means start from zero")

	require.NoError(t, st.SaveCheckpoint(ctx, "job-1", 200))
	require.NoError(t, st.SaveCheckpoint(ctx, "job-1", 400))

	offset, err = st.GetCheckpoint(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, 400, offset)
}

func TestRegressionCasesUpsert(t *testing.T) {
	ctx := context.Background()
	st := newDB(t)

	now := time.Now().UTC()
	require.NoError(t, st.AddRegressionCase(ctx, &types.RegressionCase{
		CaseID: "2019다1", Pattern: "page_number", Content: "본문", FailedOutput: "잘못된 출력", RecordedAt: now,
	}))
	// Re-recording the same case updates in place.
	require.NoError(t, st.AddRegressionCase(ctx, &types.RegressionCase{
		CaseID: "2019다1", Pattern: "whitespace", Content: "본문", FailedOutput: "다른 출력", RecordedAt: now.Add(time.Minute),
	}))

	cases, err := st.ListRegressionCases(ctx, 0)
	require.NoError(t, err)
	require.Len(t, cases, 1)
	require.Equal(t, "whitespace", cases[0].Pattern)
	require.Equal(t, "다른 출력", cases[0].FailedOutput)
}

func TestDocumentsAndSampling(t *testing.T) {
	ctx := context.Background()
	st := newDB(t)

	docs := []*types.Document{
		{CaseID: "a1", CourtType: "supreme", CaseType: "civil", Year: 2020, Content: "x"},
		{CaseID: "a2", CourtType: "supreme", CaseType: "civil", Year: 2020, Content: "x"},
		{CaseID: "a3", CourtType: "supreme", CaseType: "civil", Year: 2020, Content: "x"},
		{CaseID: "b1", CourtType: "district", CaseType: "criminal", Year: 2019, Content: "x"},
		{CaseID: "c1", CourtType: "appellate", CaseType: "civil", Year: 2021, Content: "x"},
	}
	for _, d := range docs {
		require.NoError(t, st.AddDocument(ctx, d))
	}

	n, err := st.CountDocuments(ctx)
	require.NoError(t, err)
	require.Equal(t, 5, n)

	// Stable case_id order for resumable batching.
	page, err := st.GetDocuments(ctx, 0, 3)
	require.NoError(t, err)
	require.Len(t, page, 3)
	require.Equal(t, "a1", page[0].CaseID)
	page2, err := st.GetDocuments(ctx, 3, 3)
	require.NoError(t, err)
	require.Len(t, page2, 2)
	require.Equal(t, "b1", page2[0].CaseID)

	// A sample of three covers all three strata before any stratum repeats.
	sample, err := st.StratifiedSample(ctx, 3)
	require.NoError(t, err)
	require.Len(t, sample, 3)
	strata := map[string]bool{}
	for _, d := range sample {
		strata[d.CourtType] = true
	}
	require.Len(t, strata, 3, "round one of the sample must cover every stratum")
}

func TestAddDocumentOverwrites(t *testing.T) {
	ctx := context.Background()
	st := newDB(t)

	require.NoError(t, st.AddDocument(ctx, &types.Document{CaseID: "a1", CourtType: "supreme", Content: "old"}))
	require.NoError(t, st.AddDocument(ctx, &types.Document{CaseID: "a1", CourtType: "district", Content: "new"}))

	n, err := st.CountDocuments(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	docs, err := st.GetDocuments(ctx, 0, 10)
	require.NoError(t, err)
	require.Equal(t, "new", docs[0].Content)
	require.Equal(t, "district", docs[0].CourtType)
}

func TestInMemoryDatabase(t *testing.T) {
	st, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	saveSet(t, st, "v1.0.0", testRules())
	require.NoError(t, st.PromoteVersion(ctx, "v1.0.0"))

	rs, err := st.CurrentRuleSet(ctx)
	require.NoError(t, err)
	require.Len(t, rs.Rules, 2)
}
