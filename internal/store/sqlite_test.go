package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/ingest-cli/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func snapshot(id string, phase model.Phase, updated time.Time) model.SessionSnapshot {
	return model.SessionSnapshot{
		ID:          id,
		Phase:       phase,
		File:        &model.File{Name: "leads.csv", Path: "/tmp/leads.csv", Size: 42},
		FileOptions: model.FileOptions{TargetTable: "contacts"},
		UploadMode:  model.ModeAdvanced,
		ModeChosen:  true,
		UserMappings: model.UserMappings{
			"email":  model.Column("email"),
			"region": model.ImportAsNew(),
			"notes":  model.Ignore(),
		},
		UploadState: model.UploadIdle,
		CreatedAt:   updated.Add(-time.Minute),
		UpdatedAt:   updated,
	}
}

// --- Sessions ---

func TestSQLite_Session_SaveAndGet(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, st.SaveSession(ctx, snapshot("s1", model.PhaseColumnMapping, now)))

	got, err := st.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, model.PhaseColumnMapping, got.Phase)
	assert.Equal(t, "leads.csv", got.File.Name)
	assert.True(t, got.UserMappings["region"].IsImportAsNew())
	assert.True(t, got.UserMappings["notes"].IsIgnore())
	assert.Equal(t, "email", got.UserMappings["email"].ColumnName())
}

func TestSQLite_Session_Overwrite(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, st.SaveSession(ctx, snapshot("s1", model.PhaseColumnMapping, now)))
	require.NoError(t, st.SaveSession(ctx, snapshot("s1", model.PhaseUploadProcessing, now.Add(time.Second))))

	got, err := st.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, model.PhaseUploadProcessing, got.Phase)

	all, err := st.ListSessions(ctx, SessionFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSQLite_Session_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, err := st.GetSession(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, st.DeleteSession(context.Background(), "missing"), ErrNotFound)
}

func TestSQLite_ListSessions_FilterAndOrder(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	require.NoError(t, st.SaveSession(ctx, snapshot("old", model.PhaseColumnMapping, base.Add(-2*time.Hour))))
	require.NoError(t, st.SaveSession(ctx, snapshot("new", model.PhaseColumnMapping, base)))
	require.NoError(t, st.SaveSession(ctx, snapshot("done", model.PhaseUploadProcessing, base.Add(-time.Hour))))

	mapping, err := st.ListSessions(ctx, SessionFilter{Phase: model.PhaseColumnMapping})
	require.NoError(t, err)
	require.Len(t, mapping, 2)
	assert.Equal(t, "new", mapping[0].ID)
	assert.Equal(t, "old", mapping[1].ID)

	page, err := st.ListSessions(ctx, SessionFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "done", page[0].ID)
}

func TestSQLite_DeleteStaleSessions(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, st.SaveSession(ctx, snapshot("stale", model.PhaseModeDecision, now.Add(-3*time.Hour))))
	require.NoError(t, st.SaveSession(ctx, snapshot("fresh", model.PhaseModeDecision, now)))
	require.NoError(t, st.SaveLogs(ctx, "stale", []model.LogEntry{{Timestamp: now, Level: model.LogInfo, Message: "x"}}))

	n, err := st.DeleteStaleSessions(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = st.GetSession(ctx, "stale")
	assert.ErrorIs(t, err, ErrNotFound)
	logs, err := st.ListLogs(ctx, "stale")
	require.NoError(t, err)
	assert.Empty(t, logs)

	_, err = st.GetSession(ctx, "fresh")
	assert.NoError(t, err)
}

// --- Logs ---

func TestSQLite_SaveLogs_Incremental(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	logs := []model.LogEntry{
		{Timestamp: now, Level: model.LogInfo, Message: "[validating] upload of leads.csv started"},
		{Timestamp: now.Add(time.Second), Level: model.LogWarn, Message: "added column region"},
	}
	require.NoError(t, st.SaveLogs(ctx, "s1", logs))

	// A grown log keeps the stored prefix and adds the rest.
	logs = append(logs, model.LogEntry{Timestamp: now.Add(2 * time.Second), Level: model.LogError, Message: "retry attempt 1"})
	require.NoError(t, st.SaveLogs(ctx, "s1", logs))

	got, err := st.ListLogs(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "retry attempt 1", got[2].Message)
	assert.Equal(t, model.LogWarn, got[1].Level)
	assert.True(t, got[0].Timestamp.Equal(now))
}

func TestSQLite_SaveLogs_Empty(t *testing.T) {
	st := newTestSQLiteStore(t)
	assert.NoError(t, st.SaveLogs(context.Background(), "s1", nil))
}

// --- Failures ---

func TestSQLite_Failures(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, st.RecordFailure(ctx, model.FailureRecord{
		SessionID:  "s1",
		Phase:      model.PhaseUploadProcessing,
		Kind:       "service_unavailable",
		Severity:   model.SeverityMedium,
		Title:      "Service unavailable",
		Cause:      "503 Service Unavailable",
		StatusCode: 503,
		Attempt:    1,
		Context:    map[string]string{"file": "leads.csv"},
		CreatedAt:  now.Add(-time.Minute),
	}))
	require.NoError(t, st.RecordFailure(ctx, model.FailureRecord{
		SessionID: "s2",
		Phase:     model.PhaseUploadProcessing,
		Kind:      "unique_constraint_violation",
		Severity:  model.SeverityHigh,
		Title:     "Duplicate records",
		Code:      "23505",
		CreatedAt: now,
	}))

	all, err := st.ListFailures(ctx, FailureFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "s2", all[0].SessionID)
	assert.NotEmpty(t, all[0].ID)
	assert.Nil(t, all[0].Context)

	s1, err := st.ListFailures(ctx, FailureFilter{SessionID: "s1"})
	require.NoError(t, err)
	require.Len(t, s1, 1)
	assert.Equal(t, 503, s1[0].StatusCode)
	assert.Equal(t, "leads.csv", s1[0].Context["file"])
	assert.Equal(t, model.SeverityMedium, s1[0].Severity)

	byKind, err := st.ListFailures(ctx, FailureFilter{Kind: "unique_constraint_violation"})
	require.NoError(t, err)
	require.Len(t, byKind, 1)
	assert.Equal(t, "23505", byKind[0].Code)
}

func TestOpen_Drivers(t *testing.T) {
	st, err := Open(context.Background(), Config{Driver: "sqlite", DatabaseURL: filepath.Join(t.TempDir(), "x.db")})
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, st)
	require.NoError(t, st.Close())

	_, err = Open(context.Background(), Config{Driver: "postgres"})
	assert.ErrorContains(t, err, "needs a database_url")

	_, err = Open(context.Background(), Config{Driver: "mysql"})
	assert.ErrorContains(t, err, "unsupported driver")
}
