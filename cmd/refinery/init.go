package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/lawtext/refinery/internal/rules"
	"github.com/lawtext/refinery/internal/storage"
	"github.com/lawtext/refinery/internal/types"
	"github.com/lawtext/refinery/internal/version"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the database and bootstrap the default rule set",
	Long: `Creates the database and promotes the bootstrap rule set as v1.0.0.
Safe to re-run: an already-initialized database is left untouched.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		app, err := newApp(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer app.Close()

		green := color.New(color.FgGreen).SprintFunc()

		if current, err := app.rules.CurrentVersion(ctx); err == nil {
			fmt.Printf("%s Already initialized (current rule set: %s)\n", green("✓"), current)
			return
		} else if !storage.IsNotFound(err) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		defaults := rules.DefaultRules()
		rec, err := app.vers.Tag(ctx, defaults, version.BumpPatch, "bootstrap rule set")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		rs := &types.RuleSet{
			Version:   rec.Version,
			Rules:     defaults,
			CreatedAt: rec.CreatedAt,
		}
		if err := app.rules.ReplaceAll(ctx, rs, rec); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if err := app.st.MarkStable(ctx, rec.Version, true); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Initialized %s with %d bootstrap rules (%s)\n",
			green("✓"), app.cfg.Database, len(defaults), rec.Version)
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
