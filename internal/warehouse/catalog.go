// Package warehouse writes uploads straight into a Postgres schema and
// serves that schema as the table catalog.
package warehouse

import (
	"context"
	"errors"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/ingest-cli/internal/db"
	"github.com/sells-group/ingest-cli/internal/model"
)

// DefaultSchema is used when none is configured.
const DefaultSchema = "public"

const (
	tableEstimatesSQL = `SELECT c.relname, GREATEST(c.reltuples, 0)::bigint
FROM pg_class c JOIN pg_namespace n ON n.oid = c.relnamespace
WHERE n.nspname = $1 AND c.relkind IN ('r', 'p')`

	columnCountsSQL = `SELECT table_name, count(*)
FROM information_schema.columns
WHERE table_schema = $1
GROUP BY table_name`

	describeSQL = `SELECT column_name, data_type, is_nullable = 'NO' AND column_default IS NULL
FROM information_schema.columns
WHERE table_schema = $1 AND table_name = $2
ORDER BY ordinal_position`

	tableEstimateSQL = `SELECT GREATEST(c.reltuples, 0)::bigint
FROM pg_class c JOIN pg_namespace n ON n.oid = c.relnamespace
WHERE n.nspname = $1 AND c.relname = $2`
)

// TableNotFoundError reports a table absent from the schema.
type TableNotFoundError struct {
	Table string
}

func (e *TableNotFoundError) Error() string {
	return "warehouse: table " + e.Table + " not found"
}

// ErrorCode implements recovery.Coded.
func (e *TableNotFoundError) ErrorCode() string { return "TABLE_NOT_FOUND" }

// Catalog lists and describes the tables of one schema. Row counts are the
// planner's estimates.
type Catalog struct {
	pool   db.Querier
	schema string
}

// NewCatalog creates a catalog over schema; empty means public.
func NewCatalog(pool db.Querier, schema string) *Catalog {
	if schema == "" {
		schema = DefaultSchema
	}
	return &Catalog{pool: pool, schema: schema}
}

// ListTables implements analysis.Catalog.
func (c *Catalog) ListTables(ctx context.Context) ([]model.TableSummary, error) {
	var (
		estimates map[string]int64
		counts    map[string]int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		estimates, err = c.estimates(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		counts, err = c.columnCounts(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]model.TableSummary, 0, len(estimates))
	for name, rows := range estimates {
		out = append(out, model.TableSummary{TableName: name, RowCount: rows, ColumnCount: counts[name]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TableName < out[j].TableName })
	return out, nil
}

func (c *Catalog) estimates(ctx context.Context) (map[string]int64, error) {
	rows, err := c.pool.Query(ctx, tableEstimatesSQL, c.schema)
	if err != nil {
		return nil, eris.Wrapf(err, "warehouse: list tables in %s", c.schema)
	}
	out := make(map[string]int64)
	var (
		name string
		n    int64
	)
	_, err = pgx.ForEachRow(rows, []any{&name, &n}, func() error {
		out[name] = n
		return nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "warehouse: scan tables in %s", c.schema)
	}
	return out, nil
}

func (c *Catalog) columnCounts(ctx context.Context) (map[string]int, error) {
	rows, err := c.pool.Query(ctx, columnCountsSQL, c.schema)
	if err != nil {
		return nil, eris.Wrapf(err, "warehouse: count columns in %s", c.schema)
	}
	out := make(map[string]int)
	var (
		name string
		n    int64
	)
	_, err = pgx.ForEachRow(rows, []any{&name, &n}, func() error {
		out[name] = int(n)
		return nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "warehouse: scan column counts in %s", c.schema)
	}
	return out, nil
}

// DescribeTable implements analysis.Catalog. A column is required when it
// is NOT NULL without a default.
func (c *Catalog) DescribeTable(ctx context.Context, table string) (*model.TargetTable, error) {
	rows, err := c.pool.Query(ctx, describeSQL, c.schema, table)
	if err != nil {
		return nil, eris.Wrapf(err, "warehouse: describe %s", table)
	}
	t := &model.TargetTable{Name: table}
	var col model.TargetColumn
	_, err = pgx.ForEachRow(rows, []any{&col.Name, &col.DataType, &col.Required}, func() error {
		t.Columns = append(t.Columns, col)
		return nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "warehouse: scan columns of %s", table)
	}
	if len(t.Columns) == 0 {
		return nil, &TableNotFoundError{Table: table}
	}
	t.ColumnCount = len(t.Columns)

	if err := c.pool.QueryRow(ctx, tableEstimateSQL, c.schema, table).Scan(&t.RowCount); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(err, "warehouse: estimate rows of %s", table)
	}
	return t, nil
}

func (c *Catalog) qualified(table string) db.Table {
	return db.Table{Schema: c.schema, Name: table}
}
