package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/lawtext/refinery/internal/control"
)

var statusCmd = &cobra.Command{
	Use:   "status [job-id]",
	Short: "Show progress of the running (or a past) job",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		jobID := ""
		if len(args) == 1 {
			jobID = args[0]
		}

		resp := mustSendCommand(func(c *control.Client) (*control.Response, error) {
			return c.Status(jobID)
		})

		if active, ok := resp.Data["active"].(bool); ok && !active && resp.Data["job_id"] == nil {
			fmt.Println("No active job.")
			return
		}

		fmt.Printf("Job %v (%v scale)\n", resp.Data["job_id"], resp.Data["scale"])
		fmt.Printf("  status:   %v\n", resp.Data["status"])
		fmt.Printf("  progress: %.1f%% (%v/%v cases, %v failed)\n",
			floatField(resp.Data, "progress_pct"), resp.Data["processed"], resp.Data["total"], resp.Data["failed"])
		if cb, ok := resp.Data["current_batch"]; ok {
			fmt.Printf("  batch:    %v/%v\n", cb, resp.Data["total_batches"])
		}
		fmt.Printf("  rules:    %v\n", resp.Data["rules_version"])
		if eta, ok := resp.Data["eta"].(string); ok && eta != "" {
			fmt.Printf("  eta:      %v\n", eta)
		}
		if errs, ok := resp.Data["recent_errors"].([]interface{}); ok && len(errs) > 0 {
			fmt.Printf("  recent errors:\n")
			for _, e := range errs {
				fmt.Printf("    - %v\n", e)
			}
		}
	},
}

// mustSendCommand runs one control-client call against the configured
// socket, exiting with a friendly message when no pipeline is running.
func mustSendCommand(fn func(*control.Client) (*control.Response, error)) *control.Response {
	cfg, err := loadConfigOnly()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	client := control.NewClient(cfg.Socket)
	resp, err := fn(client)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		fmt.Fprintf(os.Stderr, "Hint: is a 'refinery run' active in another terminal?\n")
		os.Exit(1)
	}
	if !resp.Success {
		red := color.New(color.FgRed).SprintFunc()
		fmt.Printf("%s %s\n", red("✗"), resp.Message)
		os.Exit(1)
	}
	return resp
}

func floatField(data map[string]interface{}, key string) float64 {
	if v, ok := data[key].(float64); ok {
		return v
	}
	return 0
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
