package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/ingest-cli/internal/config"
	"github.com/sells-group/ingest-cli/internal/model"
	"github.com/sells-group/ingest-cli/internal/recovery"
	"github.com/sells-group/ingest-cli/internal/store"
	"github.com/sells-group/ingest-cli/internal/wizard"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect saved upload sessions",
	Long:  "Commands for listing, viewing, retrying and pruning upload sessions and their failures.",
}

// -- sessions list --

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List upload sessions",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		phase, _ := cmd.Flags().GetString("phase")
		limit, _ := cmd.Flags().GetInt("limit")

		sessions, err := st.ListSessions(ctx, store.SessionFilter{Phase: model.Phase(phase), Limit: limit})
		if err != nil {
			return eris.Wrap(err, "sessions list")
		}
		if len(sessions) == 0 {
			fmt.Fprintln(os.Stderr, "No sessions found.")
			return nil
		}
		formatSessionsList(os.Stdout, sessions)
		return nil
	},
}

// -- sessions show --

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show a session and its audit log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		snap, err := st.GetSession(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "sessions show")
		}
		logs, err := st.ListLogs(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "sessions show logs")
		}

		asJSON, _ := cmd.Flags().GetBool("json")
		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(struct {
				Session *model.SessionSnapshot `json:"session"`
				Logs    []model.LogEntry       `json:"logs"`
			}{snap, logs})
		}
		formatSession(os.Stdout, snap, logs)
		return nil
	},
}

// -- sessions failures --

var sessionsFailuresCmd = &cobra.Command{
	Use:   "failures",
	Short: "List classified upload failures",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		session, _ := cmd.Flags().GetString("session")
		kind, _ := cmd.Flags().GetString("kind")
		limit, _ := cmd.Flags().GetInt("limit")

		failures, err := st.ListFailures(ctx, store.FailureFilter{SessionID: session, Kind: kind, Limit: limit})
		if err != nil {
			return eris.Wrap(err, "sessions failures")
		}
		if len(failures) == 0 {
			fmt.Fprintln(os.Stderr, "No failures found.")
			return nil
		}
		formatFailures(os.Stdout, failures)
		return nil
	},
}

// -- sessions prune --

var sessionsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete sessions not updated within --older-than",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		olderThan, _ := cmd.Flags().GetDuration("older-than")
		if olderThan <= 0 {
			return eris.New("sessions prune: --older-than must be positive")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := st.DeleteStaleSessions(ctx, time.Now().Add(-olderThan))
		if err != nil {
			return eris.Wrap(err, "sessions prune")
		}
		fmt.Fprintf(os.Stdout, "Deleted %d sessions.\n", n)
		return nil
	},
}

// -- sessions retry --

var sessionsRetryCmd = &cobra.Command{
	Use:   "retry <session-id>",
	Short: "Resume a failed or cancelled session and retry its upload",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, config.ModeUpload)
		if err != nil {
			return err
		}
		defer env.Close()

		snap, err := env.Store.GetSession(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "sessions retry")
		}
		if snap.Phase != model.PhaseUploadProcessing {
			return eris.Wrapf(wizard.ErrNothingToRetry, "sessions retry: session is in %s", snap.Phase)
		}
		logs, err := env.Store.ListLogs(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "sessions retry logs")
		}

		wcfg := env.WizardCfg
		wcfg.AutoRetry = false
		w, err := wizard.Resume(ctx, env.Deps, wcfg, *snap, logs)
		if err != nil {
			return err
		}
		defer w.Close()

		res, err := w.RetryUpload(ctx)
		if errors.Is(err, wizard.ErrNothingToRetry) {
			// A session that never started its upload has nothing stored
			// to repeat; run it fresh.
			res, err = w.Upload(ctx)
		}
		if err != nil {
			var pe *recovery.ParsedError
			if errors.As(err, &pe) {
				formatParsedError(os.Stderr, pe)
			}
			return eris.Wrap(err, "sessions retry")
		}
		fmt.Fprintf(os.Stdout, "Uploaded %d rows, %d columns mapped.\n", res.RowsProcessed, res.ColumnsMapped)
		return nil
	},
}

func formatSessionsList(out io.Writer, sessions []model.SessionSnapshot) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tFILE\tTABLE\tPHASE\tUPLOAD\tRETRIES\tUPDATED")
	for _, s := range sessions {
		file := "-"
		if s.File != nil {
			file = s.File.Name
		}
		table := s.FileOptions.TargetTable
		if table == "" {
			table = "<new>"
		}
		upload := string(s.UploadState)
		if upload == "" {
			upload = string(model.UploadIdle)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			shortID(s.ID), file, table, s.Phase, upload, s.RetryAttempts,
			s.UpdatedAt.Format("2006-01-02 15:04"))
	}
	w.Flush() //nolint:errcheck
}

func formatSession(out io.Writer, s *model.SessionSnapshot, logs []model.LogEntry) {
	fmt.Fprintf(out, "Session:  %s\n", s.ID)
	fmt.Fprintf(out, "Phase:    %s\n", s.Phase)
	if s.File != nil {
		fmt.Fprintf(out, "File:     %s (%d bytes)\n", s.File.Name, s.File.Size)
	}
	if s.FileOptions.TargetTable != "" {
		fmt.Fprintf(out, "Table:    %s\n", s.FileOptions.TargetTable)
	}
	if s.UploadMode != "" {
		fmt.Fprintf(out, "Mode:     %s\n", s.UploadMode)
	}
	if s.OperationMode != "" {
		fmt.Fprintf(out, "Op:       %s\n", s.OperationMode)
	}
	fmt.Fprintf(out, "Upload:   %s (%d%%, %d retries)\n", s.UploadState, s.Progress, s.RetryAttempts)
	fmt.Fprintf(out, "Created:  %s\n", s.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(out, "Updated:  %s\n", s.UpdatedAt.Format(time.RFC3339))

	if len(s.UserMappings) > 0 {
		fmt.Fprintln(out, "\nMappings:")
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		for _, src := range slices.Sorted(maps.Keys(s.UserMappings)) {
			fmt.Fprintf(w, "  %s\t-> %s\n", src, s.UserMappings[src])
		}
		w.Flush() //nolint:errcheck
	}

	if len(logs) > 0 {
		fmt.Fprintln(out, "\nLog:")
		for _, l := range logs {
			fmt.Fprintf(out, "  %s %-5s %s\n", l.Timestamp.Format("15:04:05"), l.Level, l.Message)
		}
	}
}

func formatFailures(out io.Writer, failures []model.FailureRecord) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tKIND\tSEVERITY\tPHASE\tATTEMPT\tWHEN\tTITLE")
	for _, f := range failures {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			shortID(f.SessionID), f.Kind, f.Severity, f.Phase, f.Attempt,
			f.CreatedAt.Format("2006-01-02 15:04"), f.Title)
	}
	w.Flush() //nolint:errcheck
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	sessionsListCmd.Flags().String("phase", "", "filter by phase (e.g. column-mapping, upload-processing)")
	sessionsListCmd.Flags().Int("limit", 20, "max sessions to show")

	sessionsShowCmd.Flags().Bool("json", false, "print the session and log as JSON")

	sessionsFailuresCmd.Flags().String("session", "", "filter by session id")
	sessionsFailuresCmd.Flags().String("kind", "", "filter by error kind (e.g. timeout, unique_constraint_violation)")
	sessionsFailuresCmd.Flags().Int("limit", 50, "max failures to show")

	sessionsPruneCmd.Flags().Duration("older-than", 7*24*time.Hour, "delete sessions idle longer than this")

	sessionsCmd.AddCommand(sessionsListCmd, sessionsShowCmd, sessionsFailuresCmd, sessionsPruneCmd, sessionsRetryCmd)
	rootCmd.AddCommand(sessionsCmd)
}
