package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/ingest-cli/internal/confidence"
	"github.com/sells-group/ingest-cli/internal/config"
	"github.com/sells-group/ingest-cli/internal/model"
	"github.com/sells-group/ingest-cli/internal/recovery"
	"github.com/sells-group/ingest-cli/internal/wizard"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <file>",
	Short: "Analyze a file against a target table without uploading",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		table, _ := cmd.Flags().GetString("table")
		useAI, _ := cmd.Flags().GetBool("ai")
		asJSON, _ := cmd.Flags().GetBool("json")

		f, err := model.FileFromPath(args[0])
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, config.ModeAnalyze)
		if err != nil {
			return err
		}
		defer env.Close()

		// Analysis alone is not a session worth keeping.
		deps := env.Deps
		deps.Store = nil
		w := wizard.New(deps, env.WizardCfg)
		defer w.Close()

		res, err := w.SelectFile(ctx, f, model.FileOptions{TargetTable: table, UseAI: useAI})
		if err != nil {
			var pe *recovery.ParsedError
			if errors.As(err, &pe) {
				formatParsedError(os.Stderr, pe)
			}
			return eris.Wrap(err, "analyze")
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		}
		formatAnalysis(os.Stdout, res, w.Phase())
		return nil
	},
}

func formatAnalysis(out io.Writer, res *model.AnalysisResult, next model.Phase) {
	fmt.Fprintf(out, "File:        %s (%d rows, %d columns)\n", res.FileName, res.RowCount, len(res.SourceColumns))
	if res.HasExistingTable() {
		fmt.Fprintf(out, "Table:       %s (%d rows)\n", res.TargetTable.Name, res.TargetTable.RowCount)
	} else {
		fmt.Fprintln(out, "Table:       <new>")
	}
	fmt.Fprintf(out, "Confidence:  %.0f %s (%s)\n", res.OverallConfidence, confidence.LevelOf(res.OverallConfidence), res.ConfidenceSource)
	fmt.Fprintf(out, "Quick:       %t\n", res.RecommendQuick)
	fmt.Fprintf(out, "Next phase:  %s\n", next)

	fmt.Fprintln(out)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SOURCE\tTYPE\tTARGET\tCONFIDENCE\tHOW")
	for _, col := range res.SourceColumns {
		target, conf, how := "-", "-", "-"
		if s, ok := res.Suggestion(col.Name); ok && s.TargetColumn != "" {
			target = s.TargetColumn
			conf = fmt.Sprintf("%.0f", s.Confidence)
			how = string(s.MappingType)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", col.Name, col.Type, target, conf, how)
	}
	w.Flush() //nolint:errcheck

	if len(res.NewColumns) > 0 {
		fmt.Fprintf(out, "\nNew columns:     %v\n", res.NewColumns)
	}
	if len(res.MissingColumns) > 0 {
		fmt.Fprintf(out, "Missing columns: %v\n", res.MissingColumns)
	}
	if len(res.QualityIssues) > 0 {
		fmt.Fprintln(out, "\nQuality issues:")
		for _, q := range res.QualityIssues {
			col := q.Column
			if col == "" {
				col = "-"
			}
			fmt.Fprintf(out, "  [%s] %s: %s\n", q.Severity, col, q.Message)
		}
	}
}

// formatParsedError prints a classified failure with its recovery options.
func formatParsedError(out io.Writer, pe *recovery.ParsedError) {
	fmt.Fprintf(out, "%s [%s, %s]\n", pe.Title, pe.Kind, pe.Severity)
	if pe.UserMessage != "" {
		fmt.Fprintf(out, "  %s\n", pe.UserMessage)
	}
	if pe.Cause != "" {
		fmt.Fprintf(out, "  cause: %s\n", pe.Cause)
	}
	if len(pe.Actions) > 0 {
		fmt.Fprintln(out, "  actions:")
		for _, a := range pe.Actions {
			fmt.Fprintf(out, "    %-24s %s\n", a, a.Label())
		}
	}
}

func init() {
	analyzeCmd.Flags().String("table", "", "existing table to analyze against")
	analyzeCmd.Flags().Bool("ai", false, "use AI matching for columns without a deterministic match")
	analyzeCmd.Flags().Bool("json", false, "print the full analysis as JSON")
	rootCmd.AddCommand(analyzeCmd)
}
