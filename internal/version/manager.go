// Package version manages semantic versioning of rule-set snapshots.
package version

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/mod/semver"

	"github.com/lawtext/refinery/internal/storage"
	"github.com/lawtext/refinery/internal/types"
)

// Bump selects which version component to increment.
type Bump string

const (
	BumpMajor Bump = "major" // incompatible rule-set overhaul
	BumpMinor Bump = "minor" // new rules added
	BumpPatch Bump = "patch" // existing rules tuned
)

// InitialVersion is the version assigned to the bootstrap rule set.
const InitialVersion = "v1.0.0"

// Manager tags rule-set snapshots with versions and checksums and resolves
// rollback targets.
type Manager struct {
	storage storage.Storage
}

// NewManager creates a version manager backed by the given storage.
func NewManager(st storage.Storage) (*Manager, error) {
	if st == nil {
		return nil, fmt.Errorf("storage is required")
	}
	return &Manager{storage: st}, nil
}

// Increment returns the version string one bump above current.
// Versions are vMAJOR.MINOR.PATCH; anything else is rejected.
func Increment(current string, bump Bump) (string, error) {
	major, minor, patch, err := parse(current)
	if err != nil {
		return "", err
	}
	switch bump {
	case BumpMajor:
		return fmt.Sprintf("v%d.0.0", major+1), nil
	case BumpMinor:
		return fmt.Sprintf("v%d.%d.0", major, minor+1), nil
	case BumpPatch:
		return fmt.Sprintf("v%d.%d.%d", major, minor, patch+1), nil
	default:
		return "", fmt.Errorf("unknown bump kind %q", bump)
	}
}

// Checksum returns the hex sha256 of the canonical serialization of the
// rules. Rules are sorted by ID first so the checksum is independent of
// insertion order.
func Checksum(ruleList []types.Rule) string {
	sorted := make([]types.Rule, len(ruleList))
	copy(sorted, ruleList)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	// Timestamps are excluded: two snapshots with identical rules must hash
	// identically regardless of when they were tagged.
	type canonical struct {
		ID          string         `json:"rule_id"`
		Type        types.RuleType `json:"rule_type"`
		Pattern     string         `json:"pattern"`
		Replacement string         `json:"replacement"`
		Priority    int            `json:"priority"`
		Enabled     bool           `json:"enabled"`
	}
	flat := make([]canonical, len(sorted))
	for i, r := range sorted {
		flat[i] = canonical{
			ID:          r.ID,
			Type:        r.Type,
			Pattern:     r.Pattern,
			Replacement: r.Replacement,
			Priority:    r.Priority,
			Enabled:     r.Enabled,
		}
	}

	data, err := json.Marshal(flat)
	if err != nil {
		// Marshal of the flat struct cannot fail; keep the signature simple.
		panic(fmt.Sprintf("checksum marshal: %v", err))
	}
	return fmt.Sprintf("%x", sha256.Sum256(data))
}

// Tag builds the next version's record for a rule snapshot without
// persisting anything. The caller saves the snapshot with the record through
// the rule store.
func (m *Manager) Tag(ctx context.Context, ruleList []types.Rule, bump Bump, description string) (*types.VersionRecord, error) {
	parent, err := m.storage.CurrentVersion(ctx)
	var next string
	switch {
	case err == nil:
		next, err = Increment(parent, bump)
		if err != nil {
			return nil, err
		}
	case errors.Is(err, storage.ErrNotFound):
		parent, next = "", InitialVersion
	default:
		return nil, fmt.Errorf("failed to resolve current version: %w", err)
	}

	return &types.VersionRecord{
		Version:       next,
		Description:   description,
		Checksum:      Checksum(ruleList),
		ParentVersion: parent,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// Verify recomputes the checksum of a stored version and compares it to the
// recorded one.
func (m *Manager) Verify(ctx context.Context, version string) error {
	rec, err := m.storage.GetVersionRecord(ctx, version)
	if err != nil {
		return fmt.Errorf("failed to load version record %s: %w", version, err)
	}
	rs, err := m.storage.GetRuleSet(ctx, version)
	if err != nil {
		return fmt.Errorf("failed to load rule set %s: %w", version, err)
	}
	if got := Checksum(rs.Rules); got != rec.Checksum {
		return fmt.Errorf("checksum mismatch for %s: stored %s, computed %s", version, rec.Checksum, got)
	}
	return nil
}

// RollbackTarget returns the most recent stable version older than the
// current one, or the current version's parent when no stable ancestor
// exists.
func (m *Manager) RollbackTarget(ctx context.Context) (string, error) {
	current, err := m.storage.CurrentVersion(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to resolve current version: %w", err)
	}

	records, err := m.storage.ListVersionRecords(ctx, 0)
	if err != nil {
		return "", fmt.Errorf("failed to list versions: %w", err)
	}
	for _, rec := range records {
		if rec.Version == current {
			continue
		}
		if rec.IsStable && semver.Compare(rec.Version, current) < 0 {
			return rec.Version, nil
		}
	}

	cur, err := m.storage.GetVersionRecord(ctx, current)
	if err != nil {
		return "", fmt.Errorf("failed to load version record %s: %w", current, err)
	}
	if cur.ParentVersion == "" {
		return "", fmt.Errorf("no rollback target below %s", current)
	}
	return cur.ParentVersion, nil
}

// parse splits a strict vX.Y.Z version into its components.
func parse(v string) (major, minor, patch int, err error) {
	if !semver.IsValid(v) || semver.Canonical(v) != v || semver.Prerelease(v) != "" || semver.Build(v) != "" {
		return 0, 0, 0, fmt.Errorf("invalid version %q: want vMAJOR.MINOR.PATCH", v)
	}
	parts := strings.SplitN(strings.TrimPrefix(v, "v"), ".", 3)
	nums := make([]int, 3)
	for i, p := range parts {
		n, convErr := strconv.Atoi(p)
		if convErr != nil {
			return 0, 0, 0, fmt.Errorf("invalid version %q: %w", v, convErr)
		}
		nums[i] = n
	}
	return nums[0], nums[1], nums[2], nil
}
