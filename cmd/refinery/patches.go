package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var patchesCmd = &cobra.Command{
	Use:   "patches",
	Short: "Show the applied-patch history",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		limit, _ := cmd.Flags().GetInt("limit")

		ctx := cmd.Context()
		app, err := newApp(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer app.Close()

		records, err := app.st.ListPatches(ctx, limit)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if len(records) == 0 {
			fmt.Println("No patches applied yet.")
			return
		}

		dim := color.New(color.Faint).SprintFunc()
		for _, p := range records {
			state := ""
			if p.RolledBack {
				state = " [rolled back]"
			}
			fmt.Printf("%s  %s  conf=%.2f  %s%s\n",
				p.AppliedAt.Format("2006-01-02 15:04"), p.RuleType, p.Confidence, p.Description, state)
			fmt.Printf("  %s\n", dim("patch "+p.PatchID+"  rule "+p.RuleID))
		}
	},
}

var patchRollbackCmd = &cobra.Command{
	Use:   "rollback <patch-id>",
	Short: "Roll back one applied patch (disables its rule)",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		app, err := newApp(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer app.Close()

		if err := app.pgate.Rollback(ctx, args[0]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Patch %s rolled back\n", green("✓"), args[0])
	},
}

func init() {
	patchesCmd.Flags().Int("limit", 50, "number of patches to show (0 = all)")
	patchesCmd.AddCommand(patchRollbackCmd)
	rootCmd.AddCommand(patchesCmd)
}
