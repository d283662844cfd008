package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var versionsCmd = &cobra.Command{
	Use:   "versions",
	Short: "List rule-set versions, newest first",
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

		current, err := app.rules.CurrentVersion(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		records, err := app.st.ListVersionRecords(ctx, limit)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		green := color.New(color.FgGreen).SprintFunc()
		dim := color.New(color.Faint).SprintFunc()
		for _, rec := range records {
			marker := "  "
			if rec.Version == current {
				marker = green("->")
			}
			stable := ""
			if rec.IsStable {
				stable = " [stable]"
			}
			fmt.Printf("%s %-10s %s%s  %s\n", marker, rec.Version,
				rec.CreatedAt.Format("2006-01-02 15:04"), stable, rec.Description)
			fmt.Printf("   %s\n", dim("checksum "+rec.Checksum[:16]+"  parent "+orNone(rec.ParentVersion)))
		}
	},
}

var rollbackCmd = &cobra.Command{
	Use:   "rollback [version]",
	Short: "Promote a previous rule-set version",
	Long: `Swaps the current-version pointer back to the given version, or to the
most recent stable ancestor when no version is given. The abandoned
version stays in history.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		app, err := newApp(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer app.Close()

		target := ""
		if len(args) == 1 {
			target = args[0]
		} else {
			target, err = app.vers.RollbackTarget(ctx)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		}

		if err := app.vers.Verify(ctx, target); err != nil {
			fmt.Fprintf(os.Stderr, "Error: refusing rollback: %v\n", err)
			os.Exit(1)
		}
		if err := app.rules.Promote(ctx, target); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Rolled back to %s\n", green("✓"), target)
	},
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}

func init() {
	versionsCmd.Flags().Int("limit", 20, "number of versions to show (0 = all)")
	rootCmd.AddCommand(versionsCmd)
	rootCmd.AddCommand(rollbackCmd)
}
