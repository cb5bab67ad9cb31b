package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/ingest-cli/internal/config"
	"github.com/sells-group/ingest-cli/internal/mapping"
	"github.com/sells-group/ingest-cli/internal/model"
	"github.com/sells-group/ingest-cli/internal/recovery"
	"github.com/sells-group/ingest-cli/internal/wizard"
)

// uploadFlags are the non-interactive answers to the wizard's questions.
type uploadFlags struct {
	Table       string
	UseAI       bool
	Mode        model.UploadMode
	Profile     string
	SaveProfile string
	ApproveAll  bool
	AutoApply   bool
	Retries     int
}

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Analyze, reconcile and upload a file",
	Long: "Runs a file through the upload wizard without prompting. Mode decision, " +
		"schema review and column mapping are answered from flags; a mapping profile " +
		"saved from an earlier upload can stand in for manual mapping.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		var fl uploadFlags
		fl.Table, _ = cmd.Flags().GetString("table")
		fl.UseAI, _ = cmd.Flags().GetBool("ai")
		mode, _ := cmd.Flags().GetString("mode")
		fl.Mode = model.UploadMode(mode)
		fl.Profile, _ = cmd.Flags().GetString("profile")
		fl.SaveProfile, _ = cmd.Flags().GetString("save-profile")
		fl.ApproveAll, _ = cmd.Flags().GetBool("approve-all")
		fl.AutoApply, _ = cmd.Flags().GetBool("auto-apply")
		fl.Retries, _ = cmd.Flags().GetInt("retries")

		if fl.Mode == "" && fl.Profile != "" {
			fl.Mode = model.ModeAdvanced
		}
		if fl.Mode != "" && fl.Mode != model.ModeQuick && fl.Mode != model.ModeAdvanced {
			return eris.Errorf("upload: --mode must be quick or advanced, got %q", fl.Mode)
		}

		f, err := model.FileFromPath(args[0])
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, config.ModeUpload)
		if err != nil {
			return err
		}
		defer env.Close()

		// Retries are driven here so the command exits when they run out.
		wcfg := env.WizardCfg
		wcfg.AutoRetry = false
		w := wizard.New(env.Deps, wcfg)
		defer w.Close()

		res, err := runUpload(ctx, w, f, fl, os.Stderr)
		if err != nil {
			var pe *recovery.ParsedError
			if errors.As(err, &pe) {
				formatParsedError(os.Stderr, pe)
			}
			fmt.Fprintf(os.Stderr, "Session %s stopped in %s.\n", w.ID(), w.Phase())
			return eris.Wrap(err, "upload")
		}

		fmt.Fprintf(os.Stdout, "Uploaded %d rows, %d columns mapped", res.RowsProcessed, res.ColumnsMapped)
		if res.TableName != "" {
			fmt.Fprintf(os.Stdout, " into %s", res.TableName)
		}
		fmt.Fprintln(os.Stdout, ".")
		for _, warn := range res.Warnings {
			fmt.Fprintf(os.Stdout, "  warning: %s\n", warn)
		}
		fmt.Fprintf(os.Stdout, "Session: %s\n", w.ID())
		return nil
	},
}

// runUpload walks w from file selection to a finished upload, answering
// each phase from fl. Progress notes go to out.
func runUpload(ctx context.Context, w *wizard.Wizard, f model.File, fl uploadFlags, out io.Writer) (*model.UploadResult, error) {
	res, err := w.SelectFile(ctx, f, model.FileOptions{TargetTable: fl.Table, UseAI: fl.UseAI})
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(out, "Analyzed %s: %d columns, confidence %.0f\n", res.FileName, len(res.SourceColumns), res.OverallConfidence)

	// Each step moves the session at least one phase forward, so the loop
	// ends after a bounded number of passes.
	for step := 0; step < 8; step++ {
		switch phase := w.Phase(); phase {
		case model.PhaseModeDecision:
			mode := fl.Mode
			if mode == "" {
				mode = model.ModeQuick
			}
			fmt.Fprintf(out, "Mode: %s\n", mode)
			if err := w.ChooseMode(ctx, mode); err != nil {
				return nil, err
			}

		case model.PhaseSchemaCompatibility:
			if err := reconcileSchema(ctx, w, fl.ApproveAll, out); err != nil {
				return nil, err
			}

		case model.PhaseColumnMapping:
			if err := confirmMappings(ctx, w, fl, out); err != nil {
				return nil, err
			}

		case model.PhaseUploadProcessing:
			return uploadWithRetries(ctx, w, fl.Retries, out)

		default:
			return nil, eris.Errorf("upload: unexpected phase %s", phase)
		}
	}
	return nil, eris.Errorf("upload: session did not reach upload (phase %s)", w.Phase())
}

func reconcileSchema(ctx context.Context, w *wizard.Wizard, approveAll bool, out io.Writer) error {
	view := w.View()
	report := view.Session.Compatibility
	if report != nil {
		fmt.Fprintf(out, "Schema review for %s: %d recommendations\n", report.TableName, len(report.Recommendations))
		for _, rec := range report.Recommendations {
			target := ""
			if rec.TargetColumn != "" {
				target = " -> " + rec.TargetColumn
			}
			fmt.Fprintf(out, "  [%s] %s column %s: %s%s\n", rec.Severity, rec.Side, rec.Column, rec.SuggestedAction, target)
		}
	}
	if len(view.Pending) > 0 {
		if !approveAll {
			cols := make([]string, len(view.Pending))
			for i, p := range view.Pending {
				cols[i] = p.Column
			}
			return eris.Wrapf(wizard.ErrApprovalsPending, "upload: approve %s or pass --approve-all", strings.Join(cols, ", "))
		}
		for _, p := range view.Pending {
			if err := w.Approve(p.Column); err != nil {
				return err
			}
		}
	}
	return w.ContinueFromCompatibility(ctx)
}

func confirmMappings(ctx context.Context, w *wizard.Wizard, fl uploadFlags, out io.Writer) error {
	if fl.Profile != "" {
		p, err := mapping.LoadProfile(fl.Profile)
		if err != nil {
			return err
		}
		n, err := w.ApplyProfile(p)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Applied %d mappings from profile %s\n", n, p.Name)
	}
	if fl.AutoApply {
		if err := w.AutoApplyHighConfidence(); err != nil {
			return err
		}
	}

	v, err := w.ConfirmMappings(ctx)
	if v != nil {
		for _, issue := range v.Issues {
			fmt.Fprintf(out, "  error: %s\n", issue.Message)
		}
		for _, warn := range v.Warnings {
			fmt.Fprintf(out, "  warning: %s\n", warn.Message)
		}
	}
	if err != nil {
		return err
	}

	if fl.SaveProfile != "" {
		mv, err := w.Mappings()
		if err != nil {
			return err
		}
		var table string
		if a := w.Analysis(); a.HasExistingTable() {
			table = a.TargetTable.Name
		}
		p := mapping.Profile{Name: w.ID(), Table: table, Mappings: mv.User}
		if err := mapping.SaveProfile(fl.SaveProfile, p); err != nil {
			return err
		}
		fmt.Fprintf(out, "Saved mapping profile to %s\n", fl.SaveProfile)
	}
	return nil
}

// uploadWithRetries uploads and retries retryable failures up to retries
// times, waiting out each kind's backoff.
func uploadWithRetries(ctx context.Context, w *wizard.Wizard, retries int, out io.Writer) (*model.UploadResult, error) {
	res, err := w.Upload(ctx)
	for attempt := 0; err != nil && attempt < retries; attempt++ {
		var pe *recovery.ParsedError
		if !errors.As(err, &pe) || !recovery.IsRetryable(pe, attempt) {
			return nil, err
		}
		delay := recovery.RetryDelay(attempt, *pe.Retry)
		fmt.Fprintf(out, "Upload failed (%s), retrying in %s\n", pe.Kind, delay.Round(time.Millisecond))
		zap.L().Info("upload: retrying",
			zap.String("session_id", w.ID()),
			zap.String("kind", string(pe.Kind)),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		res, err = w.RetryUpload(ctx)
	}
	return res, err
}

func init() {
	uploadCmd.Flags().String("table", "", "existing table to upload into (default creates a new table)")
	uploadCmd.Flags().Bool("ai", false, "use AI matching for columns without a deterministic match")
	uploadCmd.Flags().String("mode", "", "quick or advanced when the wizard asks (default quick, advanced with --profile)")
	uploadCmd.Flags().String("profile", "", "YAML mapping profile to apply before confirming mappings")
	uploadCmd.Flags().String("save-profile", "", "write the confirmed mappings to this YAML file")
	uploadCmd.Flags().Bool("approve-all", false, "approve every high-severity schema recommendation")
	uploadCmd.Flags().Bool("auto-apply", true, "accept high-confidence suggestions before confirming mappings")
	uploadCmd.Flags().Int("retries", 3, "retries for retryable upload failures")
	rootCmd.AddCommand(uploadCmd)
}
