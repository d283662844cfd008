// Package storage defines the persistence interface for rule versions, patch
// history, processing jobs, regression cases, and corpus documents.
//
// Every save is full-replace at the version level: a rule-set snapshot
// supersedes the previous persisted snapshot entirely, and promotion swaps a
// single current-version pointer so readers never observe a partially
// updated rule set.
package storage

import (
	"context"
	"errors"

	"github.com/lawtext/refinery/internal/storage/sqlite"
	"github.com/lawtext/refinery/internal/types"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = sqlite.ErrNotFound

// IsNotFound reports whether err wraps the not-found sentinel.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Storage is the persistence backend for the pipeline
type Storage interface {
	// Rule-set versions (full-replace snapshots)
	SaveRuleSet(ctx context.Context, rs *types.RuleSet, rec *types.VersionRecord) error
	GetRuleSet(ctx context.Context, version string) (*types.RuleSet, error)
	CurrentRuleSet(ctx context.Context) (*types.RuleSet, error)
	CurrentVersion(ctx context.Context) (string, error)
	PromoteVersion(ctx context.Context, version string) error
	GetVersionRecord(ctx context.Context, version string) (*types.VersionRecord, error)
	ListVersionRecords(ctx context.Context, limit int) ([]*types.VersionRecord, error)
	MarkStable(ctx context.Context, version string, stable bool) error

	// Incremental rule mutation within one version
	UpsertRule(ctx context.Context, version string, rule *types.Rule) error
	SetRuleEnabled(ctx context.Context, version, ruleID string, enabled bool) error
	IncrementRuleUsage(ctx context.Context, version, ruleID string) error

	// Patch history
	RecordPatch(ctx context.Context, rec *types.PatchRecord) error
	GetPatch(ctx context.Context, patchID string) (*types.PatchRecord, error)
	ListPatches(ctx context.Context, limit int) ([]*types.PatchRecord, error)
	MarkPatchRolledBack(ctx context.Context, patchID string) error

	// Processing jobs
	CreateJob(ctx context.Context, job *types.ProcessingJob) error
	UpdateJob(ctx context.Context, job *types.ProcessingJob) error
	GetJob(ctx context.Context, jobID string) (*types.ProcessingJob, error)
	ListJobs(ctx context.Context, limit int) ([]*types.ProcessingJob, error)
	SaveCheckpoint(ctx context.Context, jobID string, batchOffset int) error
	GetCheckpoint(ctx context.Context, jobID string) (int, error)

	// Regression cases
	AddRegressionCase(ctx context.Context, rc *types.RegressionCase) error
	ListRegressionCases(ctx context.Context, limit int) ([]*types.RegressionCase, error)

	// Corpus documents
	AddDocument(ctx context.Context, doc *types.Document) error
	CountDocuments(ctx context.Context) (int, error)
	GetDocuments(ctx context.Context, offset, limit int) ([]*types.Document, error)
	StratifiedSample(ctx context.Context, size int) ([]*types.Document, error)

	// Lifecycle
	Close() error
}

// Config holds database configuration
type Config struct {
	// Path is the SQLite database file path.
	// Special value ":memory:" creates an in-memory database (useful for tests).
	Path string
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Path: ".refinery/refinery.db",
	}
}

// NewStorage creates a new SQLite storage backend
func NewStorage(ctx context.Context, cfg *Config) (Storage, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Path == "" {
		cfg.Path = DefaultConfig().Path
	}
	return sqlite.New(cfg.Path)
}
