package types

import (
	"fmt"
	"time"
)

// ProcessingScale selects how much of the corpus a job covers
type ProcessingScale string

const (
	ScaleSingle ProcessingScale = "single" // one case, interactive shakedown
	ScaleBatch  ProcessingScale = "batch"  // stratified sample
	ScaleFull   ProcessingScale = "full"   // entire corpus
)

// IsValid checks if the scale value is valid
func (s ProcessingScale) IsValid() bool {
	switch s {
	case ScaleSingle, ScaleBatch, ScaleFull:
		return true
	}
	return false
}

// JobStatus is the state machine for a processing job:
//
//	pending → sampling → processing → analyzing → completed
//
// cancelled is reachable from any non-terminal state on a stop request;
// failed is reachable on an unrecoverable persistence or version error.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobSampling   JobStatus = "sampling"
	JobProcessing JobStatus = "processing"
	JobAnalyzing  JobStatus = "analyzing"
	JobPaused     JobStatus = "paused"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobCancelled  JobStatus = "cancelled"
)

// IsValid checks if the status value is valid
func (s JobStatus) IsValid() bool {
	switch s {
	case JobPending, JobSampling, JobProcessing, JobAnalyzing, JobPaused, JobCompleted, JobFailed, JobCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are allowed.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCancelled:
		return true
	}
	return false
}

// CanTransitionTo validates a state machine transition.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	if s.IsTerminal() {
		return false
	}
	// Cancellation and failure are reachable from any non-terminal state.
	if next == JobCancelled || next == JobFailed {
		return true
	}
	switch s {
	case JobPending:
		return next == JobSampling
	case JobSampling:
		return next == JobProcessing
	case JobProcessing:
		return next == JobAnalyzing || next == JobPaused
	case JobPaused:
		return next == JobProcessing
	case JobAnalyzing:
		return next == JobCompleted || next == JobSampling
	}
	return false
}

// ProcessingJob tracks one orchestrator run. Created per run, mutated only by
// the orchestrator, retained for history after reaching a terminal state.
type ProcessingJob struct {
	JobID               string          `json:"job_id"`
	Scale               ProcessingScale `json:"scale"`
	Status              JobStatus       `json:"status"`
	RulesVersion        string          `json:"rules_version"` // version pinned at job start
	TotalCases          int             `json:"total_cases"`
	ProcessedCases      int             `json:"processed_cases"`
	FailedCases         int             `json:"failed_cases"`
	CurrentBatch        int             `json:"current_batch"`
	TotalBatches        int             `json:"total_batches"`
	RecentErrors        []string        `json:"recent_errors,omitempty"` // bounded sample for operators
	StartTime           time.Time       `json:"start_time"`
	EndTime             *time.Time      `json:"end_time,omitempty"`
	EstimatedCompletion *time.Time      `json:"estimated_completion,omitempty"`
}

// SuccessRate returns the fraction of processed cases that succeeded.
func (j *ProcessingJob) SuccessRate() float64 {
	if j.ProcessedCases == 0 {
		return 0
	}
	return float64(j.ProcessedCases-j.FailedCases) / float64(j.ProcessedCases)
}

// ProgressPct returns completion as a percentage of total cases.
func (j *ProcessingJob) ProgressPct() float64 {
	if j.TotalCases == 0 {
		return 0
	}
	return 100 * float64(j.ProcessedCases) / float64(j.TotalCases)
}

// Transition moves the job to the next status, enforcing the state machine.
func (j *ProcessingJob) Transition(next JobStatus) error {
	if !j.Status.CanTransitionTo(next) {
		return fmt.Errorf("invalid job transition: %s → %s", j.Status, next)
	}
	j.Status = next
	if next.IsTerminal() {
		now := time.Now()
		j.EndTime = &now
	}
	return nil
}
