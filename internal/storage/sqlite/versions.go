package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lawtext/refinery/internal/types"
)

// GetVersionRecord loads the metadata for one version.
func (s *SQLiteStorage) GetVersionRecord(ctx context.Context, version string) (*types.VersionRecord, error) {
	var rec types.VersionRecord
	var parent sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT version, description, checksum, parent_version, is_stable, created_at
		FROM rule_versions WHERE version = ?
	`, version).Scan(&rec.Version, &rec.Description, &rec.Checksum, &parent, &rec.IsStable, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("version %s: %w", version, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load version %s: %w", version, err)
	}
	rec.ParentVersion = parent.String
	return &rec, nil
}

// ListVersionRecords returns version metadata, newest first.
func (s *SQLiteStorage) ListVersionRecords(ctx context.Context, limit int) ([]*types.VersionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT version, description, checksum, parent_version, is_stable, created_at
		FROM rule_versions ORDER BY created_at DESC, version DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}
	defer rows.Close()

	var out []*types.VersionRecord
	for rows.Next() {
		var rec types.VersionRecord
		var parent sql.NullString
		if err := rows.Scan(&rec.Version, &rec.Description, &rec.Checksum, &parent, &rec.IsStable, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan version: %w", err)
		}
		rec.ParentVersion = parent.String
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate versions: %w", err)
	}
	return out, nil
}

// MarkStable flips the stability flag after a version survives revalidation.
func (s *SQLiteStorage) MarkStable(ctx context.Context, version string, stable bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE rule_versions SET is_stable = ? WHERE version = ?`, stable, version)
	if err != nil {
		return fmt.Errorf("failed to mark %s stable=%v: %w", version, stable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("version %s: %w", version, ErrNotFound)
	}
	return nil
}
