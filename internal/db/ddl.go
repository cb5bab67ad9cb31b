package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// ColumnDef is a column in a CREATE or ALTER statement. Type is emitted as
// written, so it must come from a fixed set of type names.
type ColumnDef struct {
	Name string
	Type string
}

// CreateTable creates table with cols. It fails if the table exists.
func CreateTable(ctx context.Context, q Querier, table Table, cols []ColumnDef) error {
	if len(cols) == 0 {
		return eris.Errorf("db: create %s: no columns", table)
	}
	defs := make([]string, len(cols))
	for i, c := range cols {
		defs[i] = columnDef(c)
	}
	sql := fmt.Sprintf("CREATE TABLE %s (%s)", table.Sanitize(), strings.Join(defs, ", "))
	if _, err := q.Exec(ctx, sql); err != nil {
		return eris.Wrapf(err, "db: create %s", table)
	}
	return nil
}

// AddColumns adds cols to table, skipping any that already exist.
func AddColumns(ctx context.Context, q Querier, table Table, cols []ColumnDef) error {
	if len(cols) == 0 {
		return nil
	}
	adds := make([]string, len(cols))
	for i, c := range cols {
		adds[i] = "ADD COLUMN IF NOT EXISTS " + columnDef(c)
	}
	sql := fmt.Sprintf("ALTER TABLE %s %s", table.Sanitize(), strings.Join(adds, ", "))
	if _, err := q.Exec(ctx, sql); err != nil {
		return eris.Wrapf(err, "db: alter %s", table)
	}
	return nil
}

func columnDef(c ColumnDef) string {
	typ := c.Type
	if typ == "" {
		typ = "text"
	}
	return pgx.Identifier{c.Name}.Sanitize() + " " + typ
}

// quoteAndJoin quotes each column name and joins with commas.
func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
