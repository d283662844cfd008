package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "List the rules of the current version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		showDisabled, _ := cmd.Flags().GetBool("all")

		ctx := cmd.Context()
		app, err := newApp(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer app.Close()

		rs, err := app.rules.LoadLatest(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		sort.Slice(rs.Rules, func(i, j int) bool {
			if rs.Rules[i].Priority != rs.Rules[j].Priority {
				return rs.Rules[i].Priority > rs.Rules[j].Priority
			}
			return rs.Rules[i].ID < rs.Rules[j].ID
		})

		dim := color.New(color.Faint).SprintFunc()
		fmt.Printf("Rule set %s (%d rules)\n\n", rs.Version, len(rs.Rules))
		for _, r := range rs.Rules {
			if !r.Enabled && !showDisabled {
				continue
			}
			marker := " "
			if !r.Enabled {
				marker = dim("off")
			}
			fmt.Printf("%3d %-20s %-18s score=%.2f uses=%-5d %s %s\n",
				r.Priority, r.ID, r.Type, r.PerformanceScore, r.UsageCount, r.Description, marker)
			fmt.Printf("    %s\n", dim(r.Pattern))
		}
	},
}

var ruleDisableCmd = &cobra.Command{
	Use:   "disable <rule-id>",
	Short: "Disable a rule in the current version",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		app, err := newApp(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer app.Close()

		if err := app.rules.Disable(ctx, args[0]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Disabled rule %s (kept in history, never deleted)\n", green("✓"), args[0])
	},
}

func init() {
	rulesCmd.Flags().Bool("all", false, "include disabled rules")
	rulesCmd.AddCommand(ruleDisableCmd)
	rootCmd.AddCommand(rulesCmd)
}
