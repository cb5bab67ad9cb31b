package warehouse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ingest-cli/internal/analysis"
	"github.com/sells-group/ingest-cli/internal/db"
	"github.com/sells-group/ingest-cli/internal/fetcher"
	"github.com/sells-group/ingest-cli/internal/model"
	"github.com/sells-group/ingest-cli/internal/upload"
)

// codedError is a plain failure with a backend error code.
type codedError struct {
	code string
	msg  string
}

func (e *codedError) Error() string     { return e.msg }
func (e *codedError) ErrorCode() string { return e.code }

// Uploader implements upload.Backend against a Postgres schema. The whole
// file is written in one transaction.
type Uploader struct {
	pool       db.Pool
	catalog    *Catalog
	sampleRows int
}

// NewUploader creates an uploader writing into schema.
func NewUploader(pool db.Pool, schema string) *Uploader {
	return &Uploader{
		pool:       pool,
		catalog:    NewCatalog(pool, schema),
		sampleRows: analysis.DefaultSampleRows,
	}
}

// Catalog returns the catalog over the same schema.
func (u *Uploader) Catalog() *Catalog { return u.catalog }

type plannedColumn struct {
	index    int
	name     string
	dataType string
	added    bool
	convert  converter
}

// Upload implements upload.Backend. CREATE builds the table from the
// mapped and new columns; APPEND adds the new columns first. Upsert keys
// switch the write from COPY to a merge.
func (u *Uploader) Upload(ctx context.Context, req upload.Request) (*model.UploadResult, error) {
	table := req.Options.TargetTable
	if table == "" {
		return nil, &codedError{code: "VALIDATION_ERROR", msg: "warehouse: no target table"}
	}
	mode := req.Options.OperationMode
	if mode == "" {
		mode = model.OperationAppend
	}
	log := zap.L().With(zap.String("table", table), zap.String("operation", string(mode)))

	rr, err := fetcher.Open(ctx, req.File.Path)
	if err != nil {
		return nil, eris.Wrapf(err, "warehouse: open %s", req.File.Name)
	}
	defer rr.Close() //nolint:errcheck

	var existing *model.TargetTable
	if mode == model.OperationAppend {
		existing, err = u.catalog.DescribeTable(ctx, table)
		if err != nil {
			return nil, err
		}
	}

	cols, warnings, err := u.plan(ctx, req, rr.Header(), existing)
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, &codedError{code: "VALIDATION_ERROR", msg: "warehouse: no columns are mapped"}
	}

	target := u.catalog.qualified(table)
	names := make([]string, len(cols))
	var defs, added []db.ColumnDef
	for i, c := range cols {
		names[i] = c.name
		def := db.ColumnDef{Name: c.name, Type: c.dataType}
		defs = append(defs, def)
		if c.added {
			added = append(added, def)
		}
	}

	tx, err := u.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "warehouse: begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if mode == model.OperationCreate {
		err = db.CreateTable(ctx, tx, target, defs)
	} else {
		err = db.AddColumns(ctx, tx, target, added)
	}
	if err != nil {
		return nil, err
	}

	src := &rowSource{ctx: ctx, rows: rr, cols: cols}
	var n int64
	if len(req.Options.UpsertKeys) > 0 {
		n, err = db.BulkUpsert(ctx, tx, db.UpsertConfig{
			Table:        target,
			Columns:      names,
			ConflictKeys: req.Options.UpsertKeys,
		}, src)
	} else {
		n, err = db.CopyFrom(ctx, tx, target, names, src)
	}
	// A bad cell surfaces through the source; prefer it over the wrapped
	// COPY failure so it keeps its code.
	if srcErr := src.Err(); srcErr != nil {
		return nil, srcErr
	}
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "warehouse: commit")
	}

	log.Info("warehouse: upload written",
		zap.Int64("rows", n),
		zap.Int("columns", len(cols)),
		zap.Int("added_columns", len(added)),
	)
	return &model.UploadResult{
		RowsProcessed: int(n),
		ColumnsMapped: len(cols),
		Warnings:      warnings,
		TableName:     table,
	}, nil
}

// plan resolves each header to its table column and type. Mapped columns
// take the table's declared type; new ones are typed from a sample.
func (u *Uploader) plan(ctx context.Context, req upload.Request, header []string, existing *model.TargetTable) ([]plannedColumn, []string, error) {
	var (
		cols     []plannedColumn
		warnings []string
		infer    []int
	)
	used := make(map[string]string)
	for i, h := range header {
		t := req.Mappings[h]
		var pc plannedColumn
		switch {
		case t.IsColumn():
			pc = plannedColumn{index: i, name: t.ColumnName()}
		case t.IsImportAsNew():
			pc = plannedColumn{index: i, name: analysis.NewColumnName(h), added: true}
		default:
			warnings = append(warnings, fmt.Sprintf("column %s was not imported", h))
			continue
		}
		if prev, dup := used[pc.name]; dup {
			return nil, nil, &codedError{
				code: "VALIDATION_ERROR",
				msg:  fmt.Sprintf("warehouse: columns %s and %s both map to %s", prev, h, pc.name),
			}
		}
		used[pc.name] = h

		if existing != nil {
			if tc, ok := existing.Column(pc.name); ok {
				pc.dataType = tc.DataType
				pc.added = false
			} else if !pc.added {
				return nil, nil, &codedError{
					code: "SCHEMA_MISMATCH",
					msg:  fmt.Sprintf("warehouse: column %s does not exist in %s", pc.name, existing.Name),
				}
			}
		}
		if pc.dataType == "" {
			infer = append(infer, len(cols))
		}
		cols = append(cols, pc)
	}

	if len(infer) > 0 {
		sample, err := fetcher.ReadSample(ctx, req.File.Path, u.sampleRows)
		if err != nil {
			return nil, nil, eris.Wrapf(err, "warehouse: sample %s", req.File.Name)
		}
		for _, i := range infer {
			cols[i].dataType = analysis.SQLType(analysis.InferType(sample.Column(cols[i].index)))
			if existing != nil {
				warnings = append(warnings, fmt.Sprintf("added column %s (%s)", cols[i].name, cols[i].dataType))
			}
		}
	}
	for i := range cols {
		cols[i].convert = converterFor(cols[i].dataType)
	}
	return cols, warnings, nil
}

// rowSource feeds converted file rows to COPY.
type rowSource struct {
	ctx    context.Context
	rows   *fetcher.RowReader
	cols   []plannedColumn
	line   int
	values []any
	err    error
}

func (s *rowSource) Next() bool {
	if s.err != nil {
		return false
	}
	if err := s.ctx.Err(); err != nil {
		s.err = err
		return false
	}
	rec, err := s.rows.Next()
	if errors.Is(err, io.EOF) {
		return false
	}
	if err != nil {
		s.err = eris.Wrapf(err, "warehouse: read row %d", s.line+1)
		return false
	}
	s.line++

	vals := make([]any, len(s.cols))
	for i, c := range s.cols {
		raw := rec[c.index]
		if strings.TrimSpace(raw) == "" {
			continue
		}
		v, ok := c.convert(raw)
		if !ok {
			s.err = &ValueError{Row: s.line, Column: c.name, Value: raw, DataType: c.dataType}
			return false
		}
		vals[i] = v
	}
	s.values = vals
	return true
}

func (s *rowSource) Values() ([]any, error) { return s.values, nil }

func (s *rowSource) Err() error { return s.err }
