package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/ingest-cli/internal/analysis"
	"github.com/sells-group/ingest-cli/internal/config"
	"github.com/sells-group/ingest-cli/internal/db"
	"github.com/sells-group/ingest-cli/internal/model"
	"github.com/sells-group/ingest-cli/internal/warehouse"
)

var tablesCmd = &cobra.Command{
	Use:   "tables",
	Short: "Browse the tables files can be uploaded into",
}

// -- tables list --

var tablesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List existing tables",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		catalog, closeFn, err := initCatalog(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		tables, err := catalog.ListTables(ctx)
		if err != nil {
			return eris.Wrap(err, "tables list")
		}
		if len(tables) == 0 {
			fmt.Fprintln(os.Stderr, "No tables found.")
			return nil
		}
		formatTablesList(os.Stdout, tables)
		return nil
	},
}

// -- tables describe --

var tablesDescribeCmd = &cobra.Command{
	Use:   "describe <table>",
	Short: "Show the columns of a table",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		catalog, closeFn, err := initCatalog(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		t, err := catalog.DescribeTable(ctx, args[0])
		if err != nil {
			return eris.Wrapf(err, "tables describe %s", args[0])
		}
		formatTable(os.Stdout, t)
		return nil
	},
}

// initCatalog opens the table catalog of the configured upload backend.
func initCatalog(ctx context.Context) (analysis.Catalog, func(), error) {
	if err := cfg.Validate(config.ModeAnalyze); err != nil {
		return nil, nil, err
	}
	if cfg.Upload.Backend != config.BackendWarehouse {
		return analysis.NewRemoteCatalog(initAPI()), func() {}, nil
	}
	if cfg.Warehouse.DatabaseURL == "" {
		return nil, nil, eris.New("tables: warehouse.database_url is required for the warehouse backend")
	}
	pool, err := db.Connect(ctx, cfg.Warehouse.DatabaseURL, cfg.Warehouse.Pool)
	if err != nil {
		return nil, nil, eris.Wrap(err, "connect warehouse")
	}
	return warehouse.NewCatalog(pool, cfg.Warehouse.Schema), pool.Close, nil
}

func formatTablesList(out io.Writer, tables []model.TableSummary) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TABLE\tROWS\tCOLUMNS")
	for _, t := range tables {
		fmt.Fprintf(w, "%s\t%d\t%d\n", t.TableName, t.RowCount, t.ColumnCount)
	}
	w.Flush() //nolint:errcheck
}

func formatTable(out io.Writer, t *model.TargetTable) {
	fmt.Fprintf(out, "Table:   %s\n", t.Name)
	fmt.Fprintf(out, "Rows:    %d\n", t.RowCount)
	fmt.Fprintf(out, "Columns: %d\n\n", t.ColumnCount)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "COLUMN\tTYPE\tREQUIRED")
	for _, c := range t.Columns {
		req := ""
		if c.Required {
			req = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", c.Name, c.DataType, req)
	}
	w.Flush() //nolint:errcheck
}

func init() {
	tablesCmd.AddCommand(tablesListCmd, tablesDescribeCmd)
	rootCmd.AddCommand(tablesCmd)
}
