package corpus

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lawtext/refinery/internal/storage"
	"github.com/lawtext/refinery/internal/types"
)

func doc(caseID, court string, year int) *types.Document {
	return &types.Document{
		CaseID:    caseID,
		CourtType: court,
		CaseType:  "civil",
		Year:      year,
		Content:   "본문 " + caseID,
	}
}

func TestMemoryBatchStableOrder(t *testing.T) {
	ctx := context.Background()
	// Inserted out of order on purpose.
	m := NewMemory([]*types.Document{
		doc("c", "supreme", 2020),
		doc("a", "district", 2019),
		doc("b", "appellate", 2021),
	})

	n, err := m.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	batch, err := m.Batch(ctx, 0, 2)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	require.Equal(t, "a", batch[0].CaseID)
	require.Equal(t, "b", batch[1].CaseID)

	rest, err := m.Batch(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	require.Equal(t, "c", rest[0].CaseID)
}

func TestMemoryBatchBounds(t *testing.T) {
	ctx := context.Background()
	m := NewMemory([]*types.Document{doc("a", "supreme", 2020)})

	out, err := m.Batch(ctx, 5, 10)
	require.NoError(t, err)
	require.Empty(t, out)

	out, err = m.Batch(ctx, -1, 10)
	require.NoError(t, err)
	require.Empty(t, out)

	out, err = m.Batch(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, out, 1, "non-positive limit means the rest")
}

func TestMemoryStratifiedSampleInterleaves(t *testing.T) {
	ctx := context.Background()
	var docs []*types.Document
	// Three strata with very different sizes.
	for i := 0; i < 10; i++ {
		docs = append(docs, doc(fmt.Sprintf("sup%02d", i), "supreme", 2020))
	}
	for i := 0; i < 2; i++ {
		docs = append(docs, doc(fmt.Sprintf("app%02d", i), "appellate", 2020))
	}
	docs = append(docs, doc("dis00", "district", 2020))
	m := NewMemory(docs)

	sample, err := m.StratifiedSample(ctx, 6)
	require.NoError(t, err)
	require.Len(t, sample, 6)

	// Round one touches every stratum before any stratum repeats.
	courts := map[string]int{}
	for _, d := range sample[:3] {
		courts[d.CourtType]++
	}
	require.Len(t, courts, 3, "first round must cover all strata, got %v", courts)
}

func TestMemoryStratifiedSampleExhaustsSmallCorpus(t *testing.T) {
	ctx := context.Background()
	m := NewMemory([]*types.Document{doc("a", "supreme", 2020), doc("b", "supreme", 2020)})

	sample, err := m.StratifiedSample(ctx, 50)
	require.NoError(t, err)
	require.Len(t, sample, 2, "sample larger than corpus returns everything once")
}

func TestDiversityScore(t *testing.T) {
	require.Equal(t, 0.0, DiversityScore(nil))

	uniform := []*types.Document{doc("a", "supreme", 2020), doc("b", "supreme", 2020)}
	require.Equal(t, 0.5, DiversityScore(uniform))

	diverse := []*types.Document{doc("a", "supreme", 2020), doc("b", "district", 2019)}
	require.Equal(t, 1.0, DiversityScore(diverse))
}

func TestStorageSourceRoundTrip(t *testing.T) {
	ctx := context.Background()
	st, err := storage.NewStorage(ctx, &storage.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	src, err := NewStorageSource(st)
	require.NoError(t, err)

	for _, d := range []*types.Document{
		doc("2019다100", "supreme", 2019),
		doc("2020구단200", "district", 2020),
		doc("2021나300", "appellate", 2021),
	} {
		require.NoError(t, st.AddDocument(ctx, d))
	}

	n, err := src.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	first, err := src.Batch(ctx, 0, 2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	second, err := src.Batch(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, second, 1)
	require.NotEqual(t, first[0].CaseID, second[0].CaseID)

	sample, err := src.StratifiedSample(ctx, 3)
	require.NoError(t, err)
	require.Len(t, sample, 3)
	require.Equal(t, 1.0, DiversityScore(sample))
}
