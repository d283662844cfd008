package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/lawtext/refinery/internal/control"
)

var pauseCmd = &cobra.Command{
	Use:   "pause [job-id]",
	Short: "Pause the running job at its next batch boundary",
	Long: `Pauses the active job (or the given job). The in-flight batch always
finishes first; the job then waits in 'paused' until 'refinery resume'.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		jobID := ""
		if len(args) == 1 {
			jobID = args[0]
		}
		reason, _ := cmd.Flags().GetString("reason")

		resp := mustSendCommand(func(c *control.Client) (*control.Response, error) {
			return c.Pause(jobID, reason)
		})

		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Pause requested for job %v (takes effect at the next batch boundary)\n",
			green("✓"), resp.Data["job_id"])
	},
}

func init() {
	pauseCmd.Flags().StringP("reason", "r", "", "reason for pausing (optional)")
	rootCmd.AddCommand(pauseCmd)
}
