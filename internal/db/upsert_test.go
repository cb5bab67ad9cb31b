package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBulkUpsert_NoColumns(t *testing.T) {
	_, err := BulkUpsert(context.Background(), nil, UpsertConfig{
		Table:        Table{Name: "contacts"},
		ConflictKeys: []string{"email"},
	}, pgx.CopyFromRows(nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns specified")
}

func TestBulkUpsert_NoConflictKeys(t *testing.T) {
	_, err := BulkUpsert(context.Background(), nil, UpsertConfig{
		Table:   Table{Name: "contacts"},
		Columns: []string{"email", "name"},
	}, pgx.CopyFromRows(nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conflict keys specified")
}

func TestBulkUpsert_KeyNotWritten(t *testing.T) {
	_, err := BulkUpsert(context.Background(), nil, UpsertConfig{
		Table:        Table{Name: "contacts"},
		Columns:      []string{"name"},
		ConflictKeys: []string{"email"},
	}, pgx.CopyFromRows(nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "conflict key email is not written")
}

func TestBulkUpsert_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`CREATE TEMP TABLE "_stage_crm_contacts" \(LIKE "crm"."contacts" INCLUDING DEFAULTS\) ON COMMIT DROP`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_stage_crm_contacts"}, []string{"email", "name"}).WillReturnResult(3)
	mock.ExpectExec(`DELETE FROM "_stage_crm_contacts" a USING "_stage_crm_contacts" b WHERE a.ctid < b.ctid`).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(`INSERT INTO "crm"."contacts" \("email", "name"\) .* ON CONFLICT \("email"\) DO UPDATE SET "name" = EXCLUDED."name"`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))

	rows := [][]any{{"a@x.io", "Ann"}, {"b@x.io", "Bo"}, {"a@x.io", "Anne"}}
	n, err := BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        ParseTable("crm.contacts"),
		Columns:      []string{"email", "name"},
		ConflictKeys: []string{"email"},
	}, pgx.CopyFromRows(rows))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsert_KeysOnlyDoesNothing(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_stage_tags"}, []string{"tag"}).WillReturnResult(1)
	mock.ExpectExec("DELETE FROM").WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec(`ON CONFLICT \("tag"\) DO NOTHING`).WillReturnResult(pgxmock.NewResult("INSERT", 1))

	n, err := BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        Table{Name: "tags"},
		Columns:      []string{"tag"},
		ConflictKeys: []string{"tag"},
	}, pgx.CopyFromRows([][]any{{"vip"}}))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsert_MergeError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_stage_contacts"}, []string{"email"}).WillReturnResult(1)
	mock.ExpectExec("DELETE FROM").WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec("INSERT INTO").WillReturnError(errors.New("no unique constraint matching"))

	_, err = BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        Table{Name: "contacts"},
		Columns:      []string{"email"},
		ConflictKeys: []string{"email"},
	}, pgx.CopyFromRows([][]any{{"a@x.io"}}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "merge into contacts")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQuoteAndJoin(t *testing.T) {
	assert.Equal(t, `"id", "full name", "value"`, quoteAndJoin([]string{"id", "full name", "value"}))
}
