package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/lawtext/refinery/internal/control"
)

var resumeCmd = &cobra.Command{
	Use:   "resume [job-id]",
	Short: "Resume a paused job",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		jobID := ""
		if len(args) == 1 {
			jobID = args[0]
		}

		resp := mustSendCommand(func(c *control.Client) (*control.Response, error) {
			return c.Resume(jobID)
		})

		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Resumed job %v\n", green("✓"), resp.Data["job_id"])
	},
}

func init() {
	rootCmd.AddCommand(resumeCmd)
}
