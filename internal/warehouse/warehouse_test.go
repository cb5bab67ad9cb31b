package warehouse

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/ingest-cli/internal/fetcher"
	"github.com/sells-group/ingest-cli/internal/model"
	"github.com/sells-group/ingest-cli/internal/recovery"
	"github.com/sells-group/ingest-cli/internal/upload"
)

const leadsCSV = "email,name,score,region\na@x.io,Ann,10,West\nb@x.io,Bo,,East\n"

func writeCSV(t *testing.T, body string) model.File {
	t.Helper()
	path := filepath.Join(t.TempDir(), "leads.csv")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	f, err := model.FileFromPath(path)
	require.NoError(t, err)
	return f
}

func expectDescribe(mock pgxmock.PgxPoolIface, table string) {
	mock.ExpectQuery(`ORDER BY ordinal_position`).
		WithArgs("public", table).
		WillReturnRows(pgxmock.NewRows([]string{"column_name", "data_type", "required"}).
			AddRow("email", "text", true).
			AddRow("full_name", "text", false).
			AddRow("score", "bigint", false))
	mock.ExpectQuery(`c.relname = \$2`).
		WithArgs("public", table).
		WillReturnRows(pgxmock.NewRows([]string{"reltuples"}).AddRow(int64(120)))
}

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func TestCatalog_DescribeTable(t *testing.T) {
	mock := newMock(t)
	expectDescribe(mock, "contacts")

	table, err := NewCatalog(mock, "").DescribeTable(context.Background(), "contacts")
	require.NoError(t, err)
	assert.Equal(t, "contacts", table.Name)
	assert.Equal(t, int64(120), table.RowCount)
	assert.Equal(t, 3, table.ColumnCount)
	assert.Equal(t, model.TargetColumn{Name: "email", DataType: "text", Required: true}, table.Columns[0])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCatalog_DescribeTable_NotFound(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(`ORDER BY ordinal_position`).
		WithArgs("crm", "ghosts").
		WillReturnRows(pgxmock.NewRows([]string{"column_name", "data_type", "required"}))

	_, err := NewCatalog(mock, "crm").DescribeTable(context.Background(), "ghosts")
	var nf *TableNotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, recovery.KindTableNotFound, recovery.Classify(err, nil).Kind)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCatalog_ListTables(t *testing.T) {
	mock := newMock(t)
	mock.MatchExpectationsInOrder(false)
	mock.ExpectQuery(`relkind IN`).
		WithArgs("public").
		WillReturnRows(pgxmock.NewRows([]string{"relname", "reltuples"}).
			AddRow("leads", int64(0)).
			AddRow("contacts", int64(120)))
	mock.ExpectQuery(`GROUP BY table_name`).
		WithArgs("public").
		WillReturnRows(pgxmock.NewRows([]string{"table_name", "count"}).
			AddRow("contacts", int64(3)).
			AddRow("leads", int64(4)))

	tables, err := NewCatalog(mock, "public").ListTables(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []model.TableSummary{
		{TableName: "contacts", RowCount: 120, ColumnCount: 3},
		{TableName: "leads", RowCount: 0, ColumnCount: 4},
	}, tables)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCatalog_ListTables_Error(t *testing.T) {
	mock := newMock(t)
	mock.MatchExpectationsInOrder(false)
	mock.ExpectQuery(`relkind IN`).WithArgs("public").WillReturnError(errors.New("permission denied for schema public"))
	mock.ExpectQuery(`GROUP BY table_name`).WithArgs("public").
		WillReturnRows(pgxmock.NewRows([]string{"table_name", "count"}))

	_, err := NewCatalog(mock, "").ListTables(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list tables in public")
}

func TestUploader_Append(t *testing.T) {
	mock := newMock(t)
	expectDescribe(mock, "contacts")
	mock.ExpectBegin()
	mock.ExpectExec(`ALTER TABLE "public"."contacts" ADD COLUMN IF NOT EXISTS "region" text`).
		WillReturnResult(pgxmock.NewResult("ALTER TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"public", "contacts"}, []string{"email", "full_name", "score", "region"}).
		WillReturnResult(2)
	mock.ExpectCommit()

	res, err := NewUploader(mock, "").Upload(context.Background(), upload.Request{
		File: writeCSV(t, leadsCSV),
		Mappings: model.UserMappings{
			"email":  model.Column("email"),
			"name":   model.Column("full_name"),
			"score":  model.Column("score"),
			"region": model.ImportAsNew(),
		},
		Mode:    model.ModeAdvanced,
		Options: model.UploadOptions{TargetTable: "contacts", OperationMode: model.OperationAppend},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.RowsProcessed)
	assert.Equal(t, 4, res.ColumnsMapped)
	assert.Equal(t, "contacts", res.TableName)
	assert.Equal(t, []string{"added column region (text)"}, res.Warnings)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUploader_Create(t *testing.T) {
	mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TABLE "public"."leads" \("email" text, "name" text, "score" bigint, "region" text\)`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"public", "leads"}, []string{"email", "name", "score", "region"}).
		WillReturnResult(2)
	mock.ExpectCommit()

	res, err := NewUploader(mock, "public").Upload(context.Background(), upload.Request{
		File: writeCSV(t, leadsCSV),
		Mappings: model.UserMappings{
			"email":  model.ImportAsNew(),
			"name":   model.ImportAsNew(),
			"score":  model.ImportAsNew(),
			"region": model.ImportAsNew(),
		},
		Mode:    model.ModeQuick,
		Options: model.UploadOptions{TargetTable: "leads", OperationMode: model.OperationCreate},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.RowsProcessed)
	assert.Empty(t, res.Warnings)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUploader_Upsert(t *testing.T) {
	mock := newMock(t)
	expectDescribe(mock, "contacts")
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_stage_public_contacts"}, []string{"email", "full_name"}).WillReturnResult(2)
	mock.ExpectExec("DELETE FROM").WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec(`ON CONFLICT \("email"\) DO UPDATE SET "full_name"`).WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	res, err := NewUploader(mock, "").Upload(context.Background(), upload.Request{
		File: writeCSV(t, leadsCSV),
		Mappings: model.UserMappings{
			"email":  model.Column("email"),
			"name":   model.Column("full_name"),
			"score":  model.Ignore(),
			"region": model.Unset(),
		},
		Options: model.UploadOptions{TargetTable: "contacts", UpsertKeys: []string{"email"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.RowsProcessed)
	assert.Equal(t, []string{"column score was not imported", "column region was not imported"}, res.Warnings)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUploader_UnknownColumn(t *testing.T) {
	mock := newMock(t)
	expectDescribe(mock, "contacts")

	_, err := NewUploader(mock, "").Upload(context.Background(), upload.Request{
		File:     writeCSV(t, leadsCSV),
		Mappings: model.UserMappings{"name": model.Column("nickname")},
		Options:  model.UploadOptions{TargetTable: "contacts"},
	})
	require.Error(t, err)
	assert.Equal(t, recovery.KindSchemaIncompatible, recovery.Classify(err, nil).Kind)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUploader_DuplicateTargets(t *testing.T) {
	mock := newMock(t)
	expectDescribe(mock, "contacts")

	_, err := NewUploader(mock, "").Upload(context.Background(), upload.Request{
		File: writeCSV(t, leadsCSV),
		Mappings: model.UserMappings{
			"email": model.Column("email"),
			"name":  model.Column("email"),
		},
		Options: model.UploadOptions{TargetTable: "contacts"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "both map to email")
	assert.Equal(t, recovery.KindValidationError, recovery.Classify(err, nil).Kind)
}

func TestUploader_NoTable(t *testing.T) {
	_, err := NewUploader(nil, "").Upload(context.Background(), upload.Request{File: writeCSV(t, leadsCSV)})
	require.Error(t, err)
	assert.Equal(t, recovery.KindValidationError, recovery.Classify(err, nil).Kind)
}

func TestUploader_PostgresErrorKeepsCode(t *testing.T) {
	mock := newMock(t)
	expectDescribe(mock, "contacts")
	mock.ExpectBegin()
	mock.ExpectCopyFrom(pgx.Identifier{"public", "contacts"}, []string{"email"}).
		WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint \"contacts_email_key\""})
	mock.ExpectRollback()

	_, err := NewUploader(mock, "").Upload(context.Background(), upload.Request{
		File:     writeCSV(t, leadsCSV),
		Mappings: model.UserMappings{"email": model.Column("email")},
		Options:  model.UploadOptions{TargetTable: "contacts"},
	})
	require.Error(t, err)
	pe := recovery.Classify(err, nil)
	assert.Equal(t, recovery.KindUniqueViolation, pe.Kind)
	assert.Equal(t, "23505", pe.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRowSource(t *testing.T) {
	f := writeCSV(t, "email,score\na@x.io,\"1,200\"\nb@x.io,\n")
	rr, err := fetcher.Open(context.Background(), f.Path)
	require.NoError(t, err)
	defer rr.Close() //nolint:errcheck

	src := &rowSource{ctx: context.Background(), rows: rr, cols: []plannedColumn{
		{index: 0, name: "email", dataType: "text", convert: converterFor("text")},
		{index: 1, name: "score", dataType: "bigint", convert: converterFor("bigint")},
	}}
	var got [][]any
	for src.Next() {
		v, err := src.Values()
		require.NoError(t, err)
		got = append(got, v)
	}
	require.NoError(t, src.Err())
	assert.Equal(t, [][]any{{"a@x.io", int64(1200)}, {"b@x.io", nil}}, got)
}

func TestRowSource_BadValue(t *testing.T) {
	f := writeCSV(t, "score\n10\nlots\n")
	rr, err := fetcher.Open(context.Background(), f.Path)
	require.NoError(t, err)
	defer rr.Close() //nolint:errcheck

	src := &rowSource{ctx: context.Background(), rows: rr, cols: []plannedColumn{
		{index: 0, name: "score", dataType: "integer", convert: converterFor("integer")},
	}}
	for src.Next() {
	}
	var ve *ValueError
	require.ErrorAs(t, src.Err(), &ve)
	assert.Equal(t, 2, ve.Row)
	assert.Equal(t, "lots", ve.Value)
	assert.Equal(t, recovery.KindColumnTypeMismatch, recovery.Classify(src.Err(), nil).Kind)
}

func TestConverterFor(t *testing.T) {
	v, ok := converterFor("boolean")("Yes")
	assert.True(t, ok)
	assert.Equal(t, true, v)

	v, ok = converterFor("numeric")("$3.50")
	assert.True(t, ok)
	assert.Equal(t, 3.5, v)

	_, ok = converterFor("date")("someday")
	assert.False(t, ok)

	v, ok = converterFor("character varying")(" keep ")
	assert.True(t, ok)
	assert.Equal(t, " keep ", v)
}
