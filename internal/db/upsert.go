package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// UpsertConfig describes a bulk upsert.
type UpsertConfig struct {
	Table        Table
	Columns      []string // columns being written
	ConflictKeys []string // columns of the unique constraint
	UpdateCols   []string // columns set on conflict; nil means every non-key column
}

// BulkUpsert stages src in a temp table, drops duplicate keys keeping the
// last row, then merges with INSERT ... ON CONFLICT DO UPDATE. tx must be a
// transaction: the staging table is dropped on commit.
func BulkUpsert(ctx context.Context, tx Querier, cfg UpsertConfig, src pgx.CopyFromSource) (int64, error) {
	if len(cfg.Columns) == 0 {
		return 0, eris.New("db: upsert: no columns specified")
	}
	if len(cfg.ConflictKeys) == 0 {
		return 0, eris.New("db: upsert: no conflict keys specified")
	}
	present := make(map[string]bool, len(cfg.Columns))
	for _, c := range cfg.Columns {
		present[c] = true
	}
	for _, k := range cfg.ConflictKeys {
		if !present[k] {
			return 0, eris.Errorf("db: upsert: conflict key %s is not written", k)
		}
	}

	updateCols := cfg.UpdateCols
	if updateCols == nil {
		keys := make(map[string]bool, len(cfg.ConflictKeys))
		for _, k := range cfg.ConflictKeys {
			keys[k] = true
		}
		for _, c := range cfg.Columns {
			if !keys[c] {
				updateCols = append(updateCols, c)
			}
		}
	}

	stage := pgx.Identifier{stagingName(cfg.Table)}
	create := fmt.Sprintf("CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		stage.Sanitize(), cfg.Table.Sanitize())
	if _, err := tx.Exec(ctx, create); err != nil {
		return 0, eris.Wrapf(err, "db: upsert: create staging table for %s", cfg.Table)
	}
	if _, err := tx.CopyFrom(ctx, stage, cfg.Columns, src); err != nil {
		return 0, eris.Wrapf(err, "db: upsert: copy into staging table for %s", cfg.Table)
	}

	match := make([]string, len(cfg.ConflictKeys))
	for i, k := range cfg.ConflictKeys {
		col := pgx.Identifier{k}.Sanitize()
		match[i] = fmt.Sprintf("a.%s IS NOT DISTINCT FROM b.%s", col, col)
	}
	dedup := fmt.Sprintf("DELETE FROM %s a USING %s b WHERE a.ctid < b.ctid AND %s",
		stage.Sanitize(), stage.Sanitize(), strings.Join(match, " AND "))
	if _, err := tx.Exec(ctx, dedup); err != nil {
		return 0, eris.Wrapf(err, "db: upsert: dedup staging rows for %s", cfg.Table)
	}

	cols := quoteAndJoin(cfg.Columns)
	action := "DO NOTHING"
	if len(updateCols) > 0 {
		sets := make([]string, len(updateCols))
		for i, c := range updateCols {
			col := pgx.Identifier{c}.Sanitize()
			sets[i] = col + " = EXCLUDED." + col
		}
		action = "DO UPDATE SET " + strings.Join(sets, ", ")
	}
	merge := fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s) %s",
		cfg.Table.Sanitize(), cols, cols, stage.Sanitize(), quoteAndJoin(cfg.ConflictKeys), action)
	tag, err := tx.Exec(ctx, merge)
	if err != nil {
		return 0, eris.Wrapf(err, "db: upsert: merge into %s", cfg.Table)
	}
	return tag.RowsAffected(), nil
}

func stagingName(t Table) string {
	if t.Schema == "" {
		return "_stage_" + t.Name
	}
	return "_stage_" + t.Schema + "_" + t.Name
}
