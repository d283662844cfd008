package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lawtext/refinery/internal/types"
)

// SaveRuleSet persists a rule-set snapshot with its version metadata. The
// snapshot replaces any prior rows for the same version in one transaction.
// It does NOT change the current-version pointer; see PromoteVersion.
func (s *SQLiteStorage) SaveRuleSet(ctx context.Context, rs *types.RuleSet, rec *types.VersionRecord) error {
	if rs.Version == "" {
		return fmt.Errorf("rule set version is required")
	}
	if rec != nil && rec.Version != rs.Version {
		return fmt.Errorf("version record %s does not match rule set %s", rec.Version, rs.Version)
	}

	return s.inTx(func(tx *sql.Tx) error {
		desc, checksum, parent := "", "", ""
		stable := false
		if rec != nil {
			desc, checksum, parent, stable = rec.Description, rec.Checksum, rec.ParentVersion, rec.IsStable
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO rule_versions (version, description, checksum, parent_version, is_stable, created_at)
			VALUES (?, ?, ?, NULLIF(?, ''), ?, ?)
			ON CONFLICT(version) DO UPDATE SET
				description = excluded.description,
				checksum = excluded.checksum,
				parent_version = excluded.parent_version,
				is_stable = excluded.is_stable
		`, rs.Version, desc, checksum, parent, stable, rs.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to save version %s: %w", rs.Version, err)
		}

		// Full-replace semantics for the snapshot's rules.
		if _, err := tx.ExecContext(ctx, `DELETE FROM rules WHERE version = ?`, rs.Version); err != nil {
			return fmt.Errorf("failed to clear rules for %s: %w", rs.Version, err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO rules (version, rule_id, rule_type, pattern, replacement, priority,
				enabled, description, performance_score, usage_count, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare rule insert: %w", err)
		}
		defer stmt.Close()

		for i := range rs.Rules {
			r := &rs.Rules[i]
			if err := r.Validate(); err != nil {
				return fmt.Errorf("invalid rule %s: %w", r.ID, err)
			}
			if _, err := stmt.ExecContext(ctx, rs.Version, r.ID, string(r.Type), r.Pattern,
				r.Replacement, r.Priority, r.Enabled, r.Description, r.PerformanceScore,
				r.UsageCount, r.CreatedAt, r.UpdatedAt); err != nil {
				return fmt.Errorf("failed to insert rule %s: %w", r.ID, err)
			}
		}
		return nil
	})
}

// GetRuleSet loads one version snapshot with all of its rules.
func (s *SQLiteStorage) GetRuleSet(ctx context.Context, version string) (*types.RuleSet, error) {
	rec, err := s.GetVersionRecord(ctx, version)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT rule_id, rule_type, pattern, replacement, priority, enabled,
			description, performance_score, usage_count, created_at, updated_at
		FROM rules WHERE version = ? ORDER BY priority DESC, rule_id
	`, version)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules for %s: %w", version, err)
	}
	defer rows.Close()

	rs := &types.RuleSet{
		Version:       version,
		CreatedAt:     rec.CreatedAt,
		IsStable:      rec.IsStable,
		ParentVersion: rec.ParentVersion,
	}
	for rows.Next() {
		var r types.Rule
		var ruleType string
		if err := rows.Scan(&r.ID, &ruleType, &r.Pattern, &r.Replacement, &r.Priority,
			&r.Enabled, &r.Description, &r.PerformanceScore, &r.UsageCount,
			&r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		r.Type = types.RuleType(ruleType)
		rs.Rules = append(rs.Rules, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rules: %w", err)
	}
	return rs, nil
}

// CurrentVersion returns the promoted version, or ErrNotFound before bootstrap.
func (s *SQLiteStorage) CurrentVersion(ctx context.Context) (string, error) {
	var version string
	err := s.db.QueryRowContext(ctx, `SELECT version FROM current_version WHERE id = 1`).Scan(&version)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read current version: %w", err)
	}
	return version, nil
}

// CurrentRuleSet loads the promoted version's snapshot.
func (s *SQLiteStorage) CurrentRuleSet(ctx context.Context) (*types.RuleSet, error) {
	version, err := s.CurrentVersion(ctx)
	if err != nil {
		return nil, err
	}
	return s.GetRuleSet(ctx, version)
}

// PromoteVersion atomically swaps the current-version pointer. The target
// version must already be saved.
func (s *SQLiteStorage) PromoteVersion(ctx context.Context, version string) error {
	return s.inTx(func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM rule_versions WHERE version = ?`, version).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check version %s: %w", version, err)
		}
		if exists == 0 {
			return fmt.Errorf("cannot promote %s: %w", version, ErrNotFound)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO current_version (id, version) VALUES (1, ?)
			ON CONFLICT(id) DO UPDATE SET version = excluded.version
		`, version)
		if err != nil {
			return fmt.Errorf("failed to promote version %s: %w", version, err)
		}
		return nil
	})
}

// UpsertRule inserts or updates a single rule within one version snapshot.
// Used for incremental patch application without re-tagging a whole version.
func (s *SQLiteStorage) UpsertRule(ctx context.Context, version string, rule *types.Rule) error {
	if err := rule.Validate(); err != nil {
		return fmt.Errorf("invalid rule %s: %w", rule.ID, err)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO rules (version, rule_id, rule_type, pattern, replacement, priority,
			enabled, description, performance_score, usage_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(version, rule_id) DO UPDATE SET
			rule_type = excluded.rule_type,
			pattern = excluded.pattern,
			replacement = excluded.replacement,
			priority = excluded.priority,
			enabled = excluded.enabled,
			description = excluded.description,
			performance_score = excluded.performance_score,
			updated_at = excluded.updated_at
	`, version, rule.ID, string(rule.Type), rule.Pattern, rule.Replacement, rule.Priority,
		rule.Enabled, rule.Description, rule.PerformanceScore, rule.UsageCount,
		rule.CreatedAt, rule.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert rule %s: %w", rule.ID, err)
	}
	if _, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("failed to check upsert result: %w", err)
	}
	return nil
}

// SetRuleEnabled flips a rule's enabled flag. Rollback disables, never deletes.
func (s *SQLiteStorage) SetRuleEnabled(ctx context.Context, version, ruleID string, enabled bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE rules SET enabled = ?, updated_at = ? WHERE version = ? AND rule_id = ?
	`, enabled, time.Now().UTC(), version, ruleID)
	if err != nil {
		return fmt.Errorf("failed to update rule %s: %w", ruleID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("rule %s in %s: %w", ruleID, version, ErrNotFound)
	}
	return nil
}

// IncrementRuleUsage bumps usage_count for a rule that changed text.
func (s *SQLiteStorage) IncrementRuleUsage(ctx context.Context, version, ruleID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE rules SET usage_count = usage_count + 1, updated_at = ? WHERE version = ? AND rule_id = ?
	`, time.Now().UTC(), version, ruleID)
	if err != nil {
		return fmt.Errorf("failed to increment usage for %s: %w", ruleID, err)
	}
	return nil
}
