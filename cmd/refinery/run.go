package main

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/lawtext/refinery/internal/control"
	"github.com/lawtext/refinery/internal/types"
)

var runCmd = &cobra.Command{
	Use:   "run <single|batch|full>",
	Short: "Run the pipeline at the given scale",
	Long: `Runs one processing job. The three scales build on each other:

  single   one case per iteration; after 20 consecutive clean evaluations
           the pipeline is ready for batch scale
  batch    stratified sample cycles with patch synthesis between batches,
           until the rule set stabilizes
  full     the whole corpus, unlocked only by the readiness checks and the
           1%% dry-run; checkpointed and resumable

While a job runs, the control socket accepts 'refinery pause', 'resume',
'stop', and 'status' from another terminal.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		scale := types.ProcessingScale(args[0])
		if !scale.IsValid() {
			fmt.Fprintf(os.Stderr, "Error: unknown scale %q (want single, batch, or full)\n", args[0])
			os.Exit(1)
		}
		iterations, _ := cmd.Flags().GetInt("iterations")
		resumeJob, _ := cmd.Flags().GetString("resume")

		ctx := cmd.Context()
		app, err := newApp(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer app.Close()

		server, err := control.NewServer(app.cfg.Socket, control.Handler(ctx, app.orch))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if err := server.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer server.Stop()

		green := color.New(color.FgGreen).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()
		start := time.Now()

		switch scale {
		case types.ScaleSingle:
			res, err := app.orch.RunSingle(ctx, iterations)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s Single run failed: %v\n", red("✗"), err)
				os.Exit(1)
			}
			glyph := red("✗")
			if res.Ready {
				glyph = green("✓")
			}
			fmt.Printf("%s Single run: %d iterations, %d consecutive passes, ready=%v (%v)\n",
				glyph, res.Iterations, res.ConsecutivePasses, res.Ready, time.Since(start).Round(time.Second))

		case types.ScaleBatch:
			report, err := app.orch.RunBatch(ctx)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s Batch run failed: %v\n", red("✗"), err)
				os.Exit(1)
			}
			for _, c := range report.Cycles {
				fmt.Printf("  cycle %d: size=%d nrr=%.3f failed=%d patches=%d -> %s\n",
					c.Cycle, c.SampleSize, c.Metrics.NRR, c.Failed, c.Patches, c.Decision)
			}
			glyph := green("✓")
			if !report.Stabilized {
				glyph = red("✗")
			}
			fmt.Printf("%s Batch run: %d cycles, stabilized=%v, rules %s (%v)\n",
				glyph, len(report.Cycles), report.Stabilized, report.FinalVersion, time.Since(start).Round(time.Second))

		case types.ScaleFull:
			var job *types.ProcessingJob
			if resumeJob != "" {
				job, err = app.orch.ResumeFull(ctx, resumeJob)
			} else {
				job, err = app.orch.RunFull(ctx)
			}
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s Full run failed: %v\n", red("✗"), err)
				os.Exit(1)
			}
			glyph := green("✓")
			if job.Status != types.JobCompleted {
				glyph = red("✗")
			}
			fmt.Printf("%s Full run %s: %s, %d/%d cases (%d failed) in %v\n",
				glyph, job.JobID, job.Status, job.ProcessedCases, job.TotalCases,
				job.FailedCases, time.Since(start).Round(time.Second))
		}
	},
}

func init() {
	runCmd.Flags().Int("iterations", 0, "iteration cap for single scale (0 = 3x the pass target)")
	runCmd.Flags().String("resume", "", "resume a cancelled full-scale job by ID")
	rootCmd.AddCommand(runCmd)
}
