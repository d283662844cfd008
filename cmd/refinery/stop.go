package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/lawtext/refinery/internal/control"
)

var stopCmd = &cobra.Command{
	Use:   "stop [job-id]",
	Short: "Cancel the running job at its next batch boundary",
	Long: `Requests cancellation of the active job (or the given job). The stop is
acknowledged immediately but the in-flight batch always finishes, so
progress up to the last checkpoint is preserved. A cancelled full-scale
run can be resumed with 'refinery run full --resume <job-id>'.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		jobID := ""
		if len(args) == 1 {
			jobID = args[0]
		}
		reason, _ := cmd.Flags().GetString("reason")

		resp := mustSendCommand(func(c *control.Client) (*control.Response, error) {
			return c.Stop(jobID, reason)
		})

		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Stop requested for job %v\n", green("✓"), resp.Data["job_id"])
		if note, ok := resp.Data["note"].(string); ok {
			fmt.Printf("  %s\n", note)
		}
	},
}

func init() {
	stopCmd.Flags().StringP("reason", "r", "", "reason for stopping (optional)")
	rootCmd.AddCommand(stopCmd)
}
