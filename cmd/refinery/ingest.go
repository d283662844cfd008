package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/lawtext/refinery/internal/types"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file.jsonl>",
	Short: "Load corpus documents from a JSON-lines file",
	Long: `Reads one JSON document per line:

  {"case_id": "2019다12345", "court_type": "supreme", "case_type": "civil",
   "year": 2019, "content": "..."}

Existing case IDs are overwritten. The strata fields (court_type,
case_type, year) drive stratified sampling, so fill them in.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		app, err := newApp(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer app.Close()

		f, err := os.Open(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()

		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 1<<20), 16<<20) // court documents run long

		loaded, skipped, line := 0, 0, 0
		for scanner.Scan() {
			line++
			raw := scanner.Bytes()
			if len(raw) == 0 {
				continue
			}
			var doc types.Document
			if err := json.Unmarshal(raw, &doc); err != nil {
				fmt.Fprintf(os.Stderr, "line %d: skipping malformed document: %v\n", line, err)
				skipped++
				continue
			}
			if doc.CaseID == "" || doc.Content == "" {
				fmt.Fprintf(os.Stderr, "line %d: skipping document without case_id/content\n", line)
				skipped++
				continue
			}
			if err := app.st.AddDocument(ctx, &doc); err != nil {
				fmt.Fprintf(os.Stderr, "Error: failed to store %s: %v\n", doc.CaseID, err)
				os.Exit(1)
			}
			loaded++
		}
		if err := scanner.Err(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		total, err := app.st.CountDocuments(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Loaded %d documents (%d skipped), corpus now holds %d\n",
			green("✓"), loaded, skipped, total)
	},
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}
