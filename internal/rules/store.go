// Package rules holds the authoritative, versioned rule collection.
//
// All rule mutation flows through Store; no other component keeps an
// independent authoritative copy. Components that need the current rules
// call the store at point of use, so an in-memory snapshot can never diverge
// from persisted state.
package rules

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lawtext/refinery/internal/storage"
	"github.com/lawtext/refinery/internal/types"
)

// DuplicateThreshold is the token-Jaccard similarity at or above which two
// same-type patterns are treated as the same rule.
const DuplicateThreshold = 0.8

// ErrDuplicateRule is returned when an insert would create a near-duplicate
// of an existing enabled rule.
var ErrDuplicateRule = errors.New("duplicate rule")

// Store is the single source of truth for the current rule set. It is a
// single-writer store: mutations are serialized by an internal mutex and are
// only issued by the orchestrator between batches.
type Store struct {
	mu      sync.Mutex
	storage storage.Storage
}

// NewStore creates a rule store backed by the given storage.
func NewStore(st storage.Storage) (*Store, error) {
	if st == nil {
		return nil, fmt.Errorf("storage is required")
	}
	return &Store{storage: st}, nil
}

// LoadLatest returns the currently promoted rule set.
func (s *Store) LoadLatest(ctx context.Context) (*types.RuleSet, error) {
	rs, err := s.storage.CurrentRuleSet(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load current rule set: %w", err)
	}
	return rs, nil
}

// CurrentVersion returns the promoted version string.
func (s *Store) CurrentVersion(ctx context.Context) (string, error) {
	return s.storage.CurrentVersion(ctx)
}

// ReplaceAll atomically replaces the active rule set with a new snapshot.
// The snapshot is saved in whole and then promoted, so readers observe
// either the old set or the new one, never a mix.
func (s *Store) ReplaceAll(ctx context.Context, rs *types.RuleSet, rec *types.VersionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.storage.SaveRuleSet(ctx, rs, rec); err != nil {
		return fmt.Errorf("failed to save rule set %s: %w", rs.Version, err)
	}
	if err := s.storage.PromoteVersion(ctx, rs.Version); err != nil {
		return fmt.Errorf("failed to promote %s: %w", rs.Version, err)
	}
	return nil
}

// SaveCandidate persists a snapshot without promoting it. Safety gates run
// against saved-but-unpromoted candidates.
func (s *Store) SaveCandidate(ctx context.Context, rs *types.RuleSet, rec *types.VersionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.storage.SaveRuleSet(ctx, rs, rec)
}

// Promote makes a previously saved version the active one.
func (s *Store) Promote(ctx context.Context, version string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.storage.PromoteVersion(ctx, version)
}

// FindDuplicate returns the existing enabled rule of the same type whose
// pattern is identical or near-identical (token Jaccard ≥ DuplicateThreshold)
// to the candidate's, or nil when there is none.
func (s *Store) FindDuplicate(ctx context.Context, candidate *types.Rule) (*types.Rule, error) {
	rs, err := s.LoadLatest(ctx)
	if err != nil {
		return nil, err
	}
	for i := range rs.Rules {
		r := &rs.Rules[i]
		if !r.Enabled || r.Type != candidate.Type || r.ID == candidate.ID {
			continue
		}
		if r.Pattern == candidate.Pattern || PatternSimilarity(r.Pattern, candidate.Pattern) >= DuplicateThreshold {
			dup := *r
			return &dup, nil
		}
	}
	return nil, nil
}

// UpsertOne inserts or updates a single rule in the current version without
// re-tagging a whole snapshot. New rules are duplicate-checked first.
func (s *Store) UpsertOne(ctx context.Context, rule *types.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	version, err := s.storage.CurrentVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve current version: %w", err)
	}

	if dup, err := s.FindDuplicate(ctx, rule); err != nil {
		return err
	} else if dup != nil {
		return fmt.Errorf("rule %s conflicts with %s: %w", rule.ID, dup.ID, ErrDuplicateRule)
	}

	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now
	return s.storage.UpsertRule(ctx, version, rule)
}

// UpdateExisting overwrites an existing rule in place (pattern improvements
// from accepted patches). Unlike UpsertOne it skips the duplicate check,
// since the rule is already present.
func (s *Store) UpdateExisting(ctx context.Context, rule *types.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	version, err := s.storage.CurrentVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve current version: %w", err)
	}
	rule.UpdatedAt = time.Now().UTC()
	return s.storage.UpsertRule(ctx, version, rule)
}

// Disable turns a rule off in the current version. Rules are never deleted,
// which keeps rollbacks auditable.
func (s *Store) Disable(ctx context.Context, ruleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	version, err := s.storage.CurrentVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve current version: %w", err)
	}
	return s.storage.SetRuleEnabled(ctx, version, ruleID, false)
}

// RecordUsage bumps usage counts for rules that fired during processing.
func (s *Store) RecordUsage(ctx context.Context, ruleIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	version, err := s.storage.CurrentVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve current version: %w", err)
	}
	for _, id := range ruleIDs {
		if err := s.storage.IncrementRuleUsage(ctx, version, id); err != nil {
			return err
		}
	}
	return nil
}
