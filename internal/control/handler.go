package control

import (
	"context"
	"fmt"
	"time"

	"github.com/lawtext/refinery/internal/orchestrator"
)

// Handler routes control commands to the orchestrator.
func Handler(ctx context.Context, orch *orchestrator.Orchestrator) func(Command) (map[string]interface{}, error) {
	return func(cmd Command) (map[string]interface{}, error) {
		jobID := cmd.JobID
		if jobID == "" {
			if active := orch.ActiveJob(); active != nil {
				jobID = active.JobID
			}
		}

		switch cmd.Type {
		case "stop":
			if jobID == "" {
				return nil, fmt.Errorf("no active job")
			}
			if err := orch.Stop(jobID); err != nil {
				return nil, err
			}
			return map[string]interface{}{"job_id": jobID, "note": "takes effect at the next batch boundary"}, nil

		case "pause":
			if jobID == "" {
				return nil, fmt.Errorf("no active job")
			}
			if err := orch.Pause(jobID); err != nil {
				return nil, err
			}
			return map[string]interface{}{"job_id": jobID}, nil

		case "resume":
			if jobID == "" {
				return nil, fmt.Errorf("no active job")
			}
			if err := orch.Resume(jobID); err != nil {
				return nil, err
			}
			return map[string]interface{}{"job_id": jobID}, nil

		case "status":
			if jobID == "" {
				return map[string]interface{}{"active": false}, nil
			}
			job, err := orch.Status(ctx, jobID)
			if err != nil {
				return nil, err
			}
			data := map[string]interface{}{
				"active":        orch.ActiveJob() != nil,
				"job_id":        job.JobID,
				"scale":         string(job.Scale),
				"status":        string(job.Status),
				"progress_pct":  job.ProgressPct(),
				"processed":     job.ProcessedCases,
				"failed":        job.FailedCases,
				"total":         job.TotalCases,
				"current_batch": job.CurrentBatch,
				"total_batches": job.TotalBatches,
				"rules_version": job.RulesVersion,
				"recent_errors": job.RecentErrors,
			}
			if job.EstimatedCompletion != nil {
				data["eta"] = job.EstimatedCompletion.Format(time.RFC3339)
			}
			return data, nil

		default:
			return nil, fmt.Errorf("unknown command type %q", cmd.Type)
		}
	}
}
