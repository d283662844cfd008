package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lawtext/refinery/internal/types"
)

// CreateJob inserts a new processing job record.
func (s *SQLiteStorage) CreateJob(ctx context.Context, job *types.ProcessingJob) error {
	if job.JobID == "" {
		return fmt.Errorf("job_id is required")
	}
	if !job.Scale.IsValid() {
		return fmt.Errorf("invalid scale: %s", job.Scale)
	}
	if !job.Status.IsValid() {
		return fmt.Errorf("invalid status: %s", job.Status)
	}

	errsJSON, err := json.Marshal(job.RecentErrors)
	if err != nil {
		return fmt.Errorf("failed to marshal recent errors: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobs (job_id, scale, status, rules_version, total_cases, processed_cases,
			failed_cases, current_batch, total_batches, recent_errors, start_time, end_time, estimated_completion)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, job.JobID, string(job.Scale), string(job.Status), job.RulesVersion, job.TotalCases,
		job.ProcessedCases, job.FailedCases, job.CurrentBatch, job.TotalBatches,
		string(errsJSON), job.StartTime, job.EndTime, job.EstimatedCompletion)
	if err != nil {
		return fmt.Errorf("failed to create job %s: %w", job.JobID, err)
	}
	return nil
}

// UpdateJob overwrites the mutable fields of an existing job record.
func (s *SQLiteStorage) UpdateJob(ctx context.Context, job *types.ProcessingJob) error {
	errsJSON, err := json.Marshal(job.RecentErrors)
	if err != nil {
		return fmt.Errorf("failed to marshal recent errors: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, rules_version = ?, total_cases = ?, processed_cases = ?,
			failed_cases = ?, current_batch = ?, total_batches = ?, recent_errors = ?,
			end_time = ?, estimated_completion = ?
		WHERE job_id = ?
	`, string(job.Status), job.RulesVersion, job.TotalCases, job.ProcessedCases,
		job.FailedCases, job.CurrentBatch, job.TotalBatches, string(errsJSON),
		job.EndTime, job.EstimatedCompletion, job.JobID)
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", job.JobID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("job %s: %w", job.JobID, ErrNotFound)
	}
	return nil
}

func scanJob(scan func(dest ...any) error) (*types.ProcessingJob, error) {
	var job types.ProcessingJob
	var scale, status, errsJSON string
	if err := scan(&job.JobID, &scale, &status, &job.RulesVersion, &job.TotalCases,
		&job.ProcessedCases, &job.FailedCases, &job.CurrentBatch, &job.TotalBatches,
		&errsJSON, &job.StartTime, &job.EndTime, &job.EstimatedCompletion); err != nil {
		return nil, err
	}
	job.Scale = types.ProcessingScale(scale)
	job.Status = types.JobStatus(status)
	if err := json.Unmarshal([]byte(errsJSON), &job.RecentErrors); err != nil {
		return nil, fmt.Errorf("failed to unmarshal recent errors: %w", err)
	}
	return &job, nil
}

// GetJob loads one job.
func (s *SQLiteStorage) GetJob(ctx context.Context, jobID string) (*types.ProcessingJob, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT job_id, scale, status, rules_version, total_cases, processed_cases,
			failed_cases, current_batch, total_batches, recent_errors, start_time, end_time, estimated_completion
		FROM jobs WHERE job_id = ?
	`, jobID)
	job, err := scanJob(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", jobID, err)
	}
	return job, nil
}

// ListJobs returns jobs, newest first.
func (s *SQLiteStorage) ListJobs(ctx context.Context, limit int) ([]*types.ProcessingJob, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT job_id, scale, status, rules_version, total_cases, processed_cases,
			failed_cases, current_batch, total_batches, recent_errors, start_time, end_time, estimated_completion
		FROM jobs ORDER BY start_time DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var out []*types.ProcessingJob
	for rows.Next() {
		job, err := scanJob(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate jobs: %w", err)
	}
	return out, nil
}

// SaveCheckpoint records the last completed batch offset so a stopped or
// crashed run resumes from there instead of from scratch.
func (s *SQLiteStorage) SaveCheckpoint(ctx context.Context, jobID string, batchOffset int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (job_id, batch_offset, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(job_id) DO UPDATE SET batch_offset = excluded.batch_offset, updated_at = CURRENT_TIMESTAMP
	`, jobID, batchOffset)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint for %s: %w", jobID, err)
	}
	return nil
}

// GetCheckpoint returns the last completed batch offset, 0 if none exists.
func (s *SQLiteStorage) GetCheckpoint(ctx context.Context, jobID string) (int, error) {
	var offset int
	err := s.db.QueryRowContext(ctx, `SELECT batch_offset FROM checkpoints WHERE job_id = ?`, jobID).Scan(&offset)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load checkpoint for %s: %w", jobID, err)
	}
	return offset, nil
}
