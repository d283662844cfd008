package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/lawtext/refinery/internal/gates"
	"github.com/lawtext/refinery/internal/types"
)

var gatesCmd = &cobra.Command{
	Use:   "gates [version]",
	Short: "Run the safety gate chain against a rule-set version",
	Long: `Runs unit -> regression -> holdout -> performance against the given
version (default: the current one) and prints each gate's result. The
chain stops at the first failure. Nothing is promoted or demoted.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		app, err := newApp(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer app.Close()

		var rs *types.RuleSet
		if len(args) == 1 {
			rs, err = app.st.GetRuleSet(ctx, args[0])
		} else {
			rs, err = app.rules.LoadLatest(ctx)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		runner, err := gates.NewRunner(&gates.Config{
			Engine:    app.eng,
			Store:     app.st,
			Evaluator: app.eval,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		green := color.New(color.FgGreen).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()

		results, ok := runner.RunAll(ctx, rs)
		for _, r := range results {
			glyph := green("✓")
			if !r.Passed {
				glyph = red("✗")
			}
			fmt.Printf("%s %-12s score=%.3f\n", glyph, r.Gate, r.Score)
			for k, v := range r.Details {
				fmt.Printf("    %s: %s\n", k, v)
			}
			if r.Err != nil {
				fmt.Printf("    error: %v\n", r.Err)
			}
		}
		if ok {
			fmt.Printf("\n%s %s passed all gates\n", green("✓"), rs.Version)
		} else {
			fmt.Printf("\n%s %s failed the %s gate\n", red("✗"), rs.Version, results[len(results)-1].Gate)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(gatesCmd)
}
