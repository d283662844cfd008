package sqlite

import (
	"context"
	"fmt"

	"github.com/lawtext/refinery/internal/types"
)

// AddRegressionCase stores a failed case for replay by the regression gate.
// Re-recording the same case updates it in place.
func (s *SQLiteStorage) AddRegressionCase(ctx context.Context, rc *types.RegressionCase) error {
	if rc.CaseID == "" {
		return fmt.Errorf("case_id is required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO regression_cases (case_id, pattern, content, failed_output, recorded_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(case_id) DO UPDATE SET
			pattern = excluded.pattern,
			content = excluded.content,
			failed_output = excluded.failed_output,
			recorded_at = excluded.recorded_at
	`, rc.CaseID, rc.Pattern, rc.Content, rc.FailedOutput, rc.RecordedAt)
	if err != nil {
		return fmt.Errorf("failed to add regression case %s: %w", rc.CaseID, err)
	}
	return nil
}

// ListRegressionCases returns regression fixtures, newest first.
func (s *SQLiteStorage) ListRegressionCases(ctx context.Context, limit int) ([]*types.RegressionCase, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT case_id, pattern, content, failed_output, recorded_at
		FROM regression_cases ORDER BY recorded_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list regression cases: %w", err)
	}
	defer rows.Close()

	var out []*types.RegressionCase
	for rows.Next() {
		var rc types.RegressionCase
		if err := rows.Scan(&rc.CaseID, &rc.Pattern, &rc.Content, &rc.FailedOutput, &rc.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan regression case: %w", err)
		}
		out = append(out, &rc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate regression cases: %w", err)
	}
	return out, nil
}

// AddDocument inserts or replaces one corpus document.
func (s *SQLiteStorage) AddDocument(ctx context.Context, doc *types.Document) error {
	if doc.CaseID == "" {
		return fmt.Errorf("case_id is required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (case_id, court_type, case_type, year, content)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(case_id) DO UPDATE SET
			court_type = excluded.court_type,
			case_type = excluded.case_type,
			year = excluded.year,
			content = excluded.content
	`, doc.CaseID, doc.CourtType, doc.CaseType, doc.Year, doc.Content)
	if err != nil {
		return fmt.Errorf("failed to add document %s: %w", doc.CaseID, err)
	}
	return nil
}

// CountDocuments returns the corpus size.
func (s *SQLiteStorage) CountDocuments(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return n, nil
}

// GetDocuments returns one offset-based page of documents in stable case_id
// order, which is what the full processor's resumable batching relies on.
func (s *SQLiteStorage) GetDocuments(ctx context.Context, offset, limit int) ([]*types.Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT case_id, court_type, case_type, year, content
		FROM documents ORDER BY case_id LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()
	return scanDocuments(rows.Next, rows.Scan, rows.Err)
}

// StratifiedSample draws up to size documents spread across court type, case
// type, and year. Round-robin over strata keeps any one stratum from
// dominating the sample.
func (s *SQLiteStorage) StratifiedSample(ctx context.Context, size int) ([]*types.Document, error) {
	if size <= 0 {
		return nil, nil
	}
	// Rank documents within each stratum, then interleave strata by rank.
	rows, err := s.db.QueryContext(ctx, `
		SELECT case_id, court_type, case_type, year, content FROM (
			SELECT d.*, ROW_NUMBER() OVER (
				PARTITION BY court_type, case_type, year ORDER BY case_id
			) AS stratum_rank
			FROM documents d
		) ORDER BY stratum_rank, court_type, case_type, year, case_id LIMIT ?
	`, size)
	if err != nil {
		return nil, fmt.Errorf("failed to sample documents: %w", err)
	}
	defer rows.Close()
	return scanDocuments(rows.Next, rows.Scan, rows.Err)
}

func scanDocuments(next func() bool, scan func(dest ...any) error, rowsErr func() error) ([]*types.Document, error) {
	var out []*types.Document
	for next() {
		var d types.Document
		if err := scan(&d.CaseID, &d.CourtType, &d.CaseType, &d.Year, &d.Content); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		out = append(out, &d)
	}
	if err := rowsErr(); err != nil {
		return nil, fmt.Errorf("failed to iterate documents: %w", err)
	}
	return out, nil
}
