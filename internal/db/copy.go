package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// CopyFrom streams src into table with the COPY protocol and returns the
// number of rows written.
func CopyFrom(ctx context.Context, q Querier, table Table, columns []string, src pgx.CopyFromSource) (int64, error) {
	if len(columns) == 0 {
		return 0, eris.Errorf("db: copy into %s: no columns", table)
	}
	n, err := q.CopyFrom(ctx, table.Identifier(), columns, src)
	if err != nil {
		return 0, eris.Wrapf(err, "db: copy into %s", table)
	}
	return n, nil
}
