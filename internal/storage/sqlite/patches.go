package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lawtext/refinery/internal/types"
)

// RecordPatch appends one applied patch to the audit log.
func (s *SQLiteStorage) RecordPatch(ctx context.Context, rec *types.PatchRecord) error {
	if rec.PatchID == "" {
		return fmt.Errorf("patch_id is required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO patches (patch_id, description, confidence, rule_type, rule_id, applied_at, rolled_back)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, rec.PatchID, rec.Description, rec.Confidence, string(rec.RuleType), rec.RuleID, rec.AppliedAt, rec.RolledBack)
	if err != nil {
		return fmt.Errorf("failed to record patch %s: %w", rec.PatchID, err)
	}
	return nil
}

// GetPatch loads one patch-history record.
func (s *SQLiteStorage) GetPatch(ctx context.Context, patchID string) (*types.PatchRecord, error) {
	var rec types.PatchRecord
	var ruleType string
	err := s.db.QueryRowContext(ctx, `
		SELECT patch_id, description, confidence, rule_type, rule_id, applied_at, rolled_back
		FROM patches WHERE patch_id = ?
	`, patchID).Scan(&rec.PatchID, &rec.Description, &rec.Confidence, &ruleType, &rec.RuleID, &rec.AppliedAt, &rec.RolledBack)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("patch %s: %w", patchID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load patch %s: %w", patchID, err)
	}
	rec.RuleType = types.RuleType(ruleType)
	return &rec, nil
}

// ListPatches returns patch history, newest first.
func (s *SQLiteStorage) ListPatches(ctx context.Context, limit int) ([]*types.PatchRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT patch_id, description, confidence, rule_type, rule_id, applied_at, rolled_back
		FROM patches ORDER BY applied_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list patches: %w", err)
	}
	defer rows.Close()

	var out []*types.PatchRecord
	for rows.Next() {
		var rec types.PatchRecord
		var ruleType string
		if err := rows.Scan(&rec.PatchID, &rec.Description, &rec.Confidence, &ruleType, &rec.RuleID, &rec.AppliedAt, &rec.RolledBack); err != nil {
			return nil, fmt.Errorf("failed to scan patch: %w", err)
		}
		rec.RuleType = types.RuleType(ruleType)
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate patches: %w", err)
	}
	return out, nil
}

// MarkPatchRolledBack flags a patch as rolled back for the audit trail.
func (s *SQLiteStorage) MarkPatchRolledBack(ctx context.Context, patchID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE patches SET rolled_back = 1 WHERE patch_id = ?`, patchID)
	if err != nil {
		return fmt.Errorf("failed to mark patch %s rolled back: %w", patchID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("patch %s: %w", patchID, ErrNotFound)
	}
	return nil
}
