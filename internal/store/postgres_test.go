package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/ingest-cli/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_SaveSession_Upsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectExec(`INSERT INTO upload_sessions .* ON CONFLICT \(id\) DO UPDATE`).
		WithArgs("s1", "column-mapping", "leads.csv", pgxmock.AnyArg(), pgxmock.AnyArg(), now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.SaveSession(context.Background(), snapshot("s1", model.PhaseColumnMapping, now))
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetSession(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	data, err := json.Marshal(snapshot("s1", model.PhaseSchemaCompatibility, time.Now().UTC()))
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT data FROM upload_sessions WHERE id = \$1`).
		WithArgs("s1").
		WillReturnRows(pgxmock.NewRows([]string{"data"}).AddRow(data))

	got, err := s.GetSession(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, model.PhaseSchemaCompatibility, got.Phase)
	assert.True(t, got.UserMappings["region"].IsImportAsNew())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetSession_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT data FROM upload_sessions WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetSession(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListSessions_Filter(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	data, err := json.Marshal(snapshot("s1", model.PhaseModeDecision, time.Now().UTC()))
	require.NoError(t, err)

	mock.ExpectQuery(`WHERE phase = \$1 ORDER BY updated_at DESC LIMIT \$2 OFFSET \$3`).
		WithArgs("mode-decision", 20, 0).
		WillReturnRows(pgxmock.NewRows([]string{"data"}).AddRow(data))

	got, err := s.ListSessions(context.Background(), SessionFilter{Phase: model.PhaseModeDecision, Limit: 20})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "s1", got[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeleteStaleSessions(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	cutoff := time.Now().UTC().Add(-time.Hour)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM session_logs WHERE session_id IN \(SELECT id FROM upload_sessions WHERE updated_at < \$1\)`).
		WithArgs(cutoff).
		WillReturnResult(pgxmock.NewResult("DELETE", 7))
	mock.ExpectExec(`DELETE FROM upload_sessions WHERE updated_at < \$1`).
		WithArgs(cutoff).
		WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectCommit()

	n, err := s.DeleteStaleSessions(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeleteSession_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM session_logs`).WithArgs("gone").WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec(`DELETE FROM upload_sessions WHERE id = \$1`).WithArgs("gone").WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectCommit()

	err := s.DeleteSession(context.Background(), "gone")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveLogs(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectExec(`FROM unnest\(\$2::int\[\], \$3::timestamptz\[\], \$4::text\[\], \$5::text\[\]\) .* ON CONFLICT \(session_id, seq\) DO NOTHING`).
		WithArgs("s1", []int32{0, 1}, []time.Time{now, now}, []string{"info", "error"}, []string{"started", "failed"}).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))

	err := s.SaveLogs(context.Background(), "s1", []model.LogEntry{
		{Timestamp: now, Level: model.LogInfo, Message: "started"},
		{Timestamp: now, Level: model.LogError, Message: "failed"},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListLogs(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT ts, level, message FROM session_logs WHERE session_id = \$1 ORDER BY seq`).
		WithArgs("s1").
		WillReturnRows(pgxmock.NewRows([]string{"ts", "level", "message"}).
			AddRow(now, "info", "started").
			AddRow(now, "warn", "added column region"))

	got, err := s.ListLogs(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, model.LogWarn, got[1].Level)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecordFailure(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO upload_failures`).
		WithArgs(pgxmock.AnyArg(), "s1", "upload-processing", "timeout", "medium", "Request timed out",
			"", "", 0, 2, []byte(`{"file":"leads.csv"}`), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.RecordFailure(context.Background(), model.FailureRecord{
		SessionID: "s1",
		Phase:     model.PhaseUploadProcessing,
		Kind:      "timeout",
		Severity:  model.SeverityMedium,
		Title:     "Request timed out",
		Attempt:   2,
		Context:   map[string]string{"file": "leads.csv"},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListFailures(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`FROM upload_failures WHERE true AND session_id = \$1 AND kind = \$2 ORDER BY created_at DESC LIMIT \$3`).
		WithArgs("s1", "timeout", 100).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "session_id", "phase", "kind", "severity", "title", "cause", "code",
			"status_code", "attempt", "context", "created_at",
		}).
			AddRow("f1", "s1", "upload-processing", "timeout", "medium", "Request timed out", "deadline", "",
				0, 1, []byte(`{"file":"leads.csv"}`), now).
			AddRow("f2", "s1", "upload-processing", "timeout", "medium", "Request timed out", "", "",
				0, 2, []byte(nil), now))

	got, err := s.ListFailures(context.Background(), FailureFilter{SessionID: "s1", Kind: "timeout"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "leads.csv", got[0].Context["file"])
	assert.Nil(t, got[1].Context)
	assert.Equal(t, 2, got[1].Attempt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS upload_sessions`).WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
