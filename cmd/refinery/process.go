package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var processCmd = &cobra.Command{
	Use:   "process <file>",
	Short: "Run one text file through the current rule set",
	Long: `Applies the current rules to a file and writes the result to stdout.
With --stats, prints per-rule application details to stderr instead of
the transformed text. Useful for eyeballing what a rule set does before
trusting it with a batch.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		showStats, _ := cmd.Flags().GetBool("stats")

		ctx := cmd.Context()
		app, err := newApp(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer app.Close()

		data, err := os.ReadFile(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		rs, err := app.rules.LoadLatest(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		out, stats := app.eng.ApplyRules(string(data), rs, nil)

		if showStats {
			dim := color.New(color.Faint).SprintFunc()
			fmt.Fprintf(os.Stderr, "rules %s: %d applied, %d -> %d bytes (%.1f%% reduction)\n",
				rs.Version, stats.AppliedCount, stats.OriginalLength, stats.FinalLength,
				stats.ReductionRate*100)
			for _, a := range stats.Applied {
				fmt.Fprintf(os.Stderr, "  %-20s %-18s %d -> %d  %s\n",
					a.RuleID, a.Type, a.LengthBefore, a.LengthAfter, dim(a.Description))
			}
			return
		}
		fmt.Print(out)
	},
}

func init() {
	processCmd.Flags().Bool("stats", false, "print application stats instead of the output text")
	rootCmd.AddCommand(processCmd)
}
