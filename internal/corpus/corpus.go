// Package corpus abstracts where documents come from: the SQLite corpus in
// production, an in-memory set in tests.
package corpus

import (
	"context"
	"fmt"
	"sort"

	"github.com/lawtext/refinery/internal/storage"
	"github.com/lawtext/refinery/internal/types"
)

// Source supplies documents for processing runs.
type Source interface {
	// Count returns the total number of documents.
	Count(ctx context.Context) (int, error)
	// Batch returns documents [offset, offset+limit) in a stable order, so
	// interrupted runs can resume from a checkpoint offset.
	Batch(ctx context.Context, offset, limit int) ([]*types.Document, error)
	// StratifiedSample returns up to size documents spread across
	// (court type, case type, year) strata.
	StratifiedSample(ctx context.Context, size int) ([]*types.Document, error)
}

// StorageSource adapts the persistence layer to Source.
type StorageSource struct {
	st storage.Storage
}

var _ Source = (*StorageSource)(nil)

// NewStorageSource wraps storage as a document source.
func NewStorageSource(st storage.Storage) (*StorageSource, error) {
	if st == nil {
		return nil, fmt.Errorf("storage is required")
	}
	return &StorageSource{st: st}, nil
}

func (s *StorageSource) Count(ctx context.Context) (int, error) {
	return s.st.CountDocuments(ctx)
}

func (s *StorageSource) Batch(ctx context.Context, offset, limit int) ([]*types.Document, error) {
	return s.st.GetDocuments(ctx, offset, limit)
}

func (s *StorageSource) StratifiedSample(ctx context.Context, size int) ([]*types.Document, error) {
	return s.st.StratifiedSample(ctx, size)
}

// Memory is an in-memory Source for tests and ad-hoc runs on loose files.
type Memory struct {
	docs []*types.Document
}

var _ Source = (*Memory)(nil)

// NewMemory creates an in-memory source. The documents are sorted by case ID
// so Batch order is stable regardless of insertion order.
func NewMemory(docs []*types.Document) *Memory {
	sorted := make([]*types.Document, len(docs))
	copy(sorted, docs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].CaseID < sorted[j].CaseID })
	return &Memory{docs: sorted}
}

func (m *Memory) Count(_ context.Context) (int, error) {
	return len(m.docs), nil
}

func (m *Memory) Batch(_ context.Context, offset, limit int) ([]*types.Document, error) {
	if offset < 0 || offset >= len(m.docs) {
		return nil, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(m.docs) {
		end = len(m.docs)
	}
	out := make([]*types.Document, end-offset)
	copy(out, m.docs[offset:end])
	return out, nil
}

// StratifiedSample interleaves one document per stratum per round until size
// is reached, mirroring the SQL implementation.
func (m *Memory) StratifiedSample(_ context.Context, size int) ([]*types.Document, error) {
	if size <= 0 || len(m.docs) == 0 {
		return nil, nil
	}

	strata := make(map[string][]*types.Document)
	var keys []string
	for _, doc := range m.docs {
		key := stratumKey(doc)
		if _, ok := strata[key]; !ok {
			keys = append(keys, key)
		}
		strata[key] = append(strata[key], doc)
	}
	sort.Strings(keys)

	var out []*types.Document
	for round := 0; len(out) < size; round++ {
		took := false
		for _, key := range keys {
			if round < len(strata[key]) {
				out = append(out, strata[key][round])
				took = true
				if len(out) == size {
					break
				}
			}
		}
		if !took {
			break
		}
	}
	return out, nil
}

// DiversityScore measures how evenly a sample spreads across strata, in
// [0, 1]: distinct strata divided by sample size.
func DiversityScore(docs []*types.Document) float64 {
	if len(docs) == 0 {
		return 0
	}
	seen := make(map[string]bool)
	for _, doc := range docs {
		seen[stratumKey(doc)] = true
	}
	return float64(len(seen)) / float64(len(docs))
}

func stratumKey(doc *types.Document) string {
	return fmt.Sprintf("%s|%s|%d", doc.CourtType, doc.CaseType, doc.Year)
}
