package upload

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/ingest-cli/internal/filecheck"
	"github.com/sells-group/ingest-cli/internal/model"
	"github.com/sells-group/ingest-cli/internal/recovery"
	"github.com/sells-group/ingest-cli/pkg/ingestapi"
	"github.com/sells-group/ingest-cli/pkg/ingestapi/mocks"
)

type backendFunc func(ctx context.Context, req Request) (*model.UploadResult, error)

func (f backendFunc) Upload(ctx context.Context, req Request) (*model.UploadResult, error) {
	return f(ctx, req)
}

func csvRequest(t *testing.T) Request {
	t.Helper()
	path := filepath.Join(t.TempDir(), "contacts.csv")
	require.NoError(t, os.WriteFile(path, []byte("email,name\na@b.co,Ann\n"), 0o600))
	f, err := model.FileFromPath(path)
	require.NoError(t, err)
	return Request{
		File:     f,
		Mappings: model.UserMappings{"email": model.Column("email"), "name": model.ImportAsNew()},
		Mode:     model.ModeQuick,
		Options:  model.UploadOptions{TargetTable: "contacts", OperationMode: model.OperationAppend},
	}
}

func testConfig(onChange func(Status)) Config {
	return Config{
		FileCheck:    filecheck.DefaultOptions(),
		Timeout:      time.Second,
		TickInterval: time.Millisecond,
		OnChange:     onChange,
	}
}

func lastLog(e *Executor) model.LogEntry {
	logs := e.Logs()
	return logs[len(logs)-1]
}

func TestStart_Success(t *testing.T) {
	var mu sync.Mutex
	var seen []int
	onChange := func(s Status) {
		mu.Lock()
		seen = append(seen, s.Progress)
		mu.Unlock()
	}
	backend := backendFunc(func(ctx context.Context, req Request) (*model.UploadResult, error) {
		time.Sleep(20 * time.Millisecond)
		return &model.UploadResult{RowsProcessed: 1, ColumnsMapped: 2, Warnings: []string{"added column name"}}, nil
	})

	e := NewExecutor(backend, testConfig(onChange))
	res, err := e.Start(context.Background(), csvRequest(t))
	require.NoError(t, err)
	assert.Equal(t, 1, res.RowsProcessed)

	st := e.Status()
	assert.Equal(t, model.UploadSuccess, st.State)
	assert.Equal(t, ProgressDone, st.Progress)
	assert.Nil(t, st.Error)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, seen, ProgressValidated)
	assert.Contains(t, seen, ProgressProcessing)
	assert.Contains(t, seen, ProgressDone)
	// The run starts from zero and then never goes back.
	start := 0
	for i, p := range seen {
		if p == ProgressValidated {
			start = i
			break
		}
	}
	for i := start + 1; i < len(seen); i++ {
		assert.GreaterOrEqual(t, seen[i], seen[i-1])
	}

	var warned bool
	for _, l := range e.Logs() {
		if l.Level == model.LogWarn && l.Message == "added column name" {
			warned = true
		}
	}
	assert.True(t, warned)
}

func TestStart_ValidationBlocksBackend(t *testing.T) {
	called := false
	backend := backendFunc(func(ctx context.Context, req Request) (*model.UploadResult, error) {
		called = true
		return &model.UploadResult{}, nil
	})
	req := csvRequest(t)
	req.File.Name = "contacts.pdf"

	e := NewExecutor(backend, testConfig(nil))
	_, err := e.Start(context.Background(), req)
	require.Error(t, err)
	assert.False(t, called)

	st := e.Status()
	assert.Equal(t, model.UploadError, st.State)
	require.NotNil(t, st.Error)
	assert.Equal(t, recovery.KindValidationError, st.Error.Kind)
}

func TestCancel_NotClassified(t *testing.T) {
	entered := make(chan struct{})
	backend := backendFunc(func(ctx context.Context, req Request) (*model.UploadResult, error) {
		close(entered)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	e := NewExecutor(backend, testConfig(nil))

	go func() {
		<-entered
		assert.True(t, e.Cancel())
	}()
	_, err := e.Start(context.Background(), csvRequest(t))
	assert.ErrorIs(t, err, ErrCancelled)

	st := e.Status()
	assert.Equal(t, model.UploadCancelled, st.State)
	assert.Nil(t, st.Error)
	assert.Equal(t, "cancelled by user", lastLog(e).Message)
	assert.False(t, e.Cancel(), "nothing left to cancel")
}

func TestStart_TimeoutIsTimeoutKind(t *testing.T) {
	backend := backendFunc(func(ctx context.Context, req Request) (*model.UploadResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	cfg := testConfig(nil)
	cfg.Timeout = 20 * time.Millisecond
	e := NewExecutor(backend, cfg)

	_, err := e.Start(context.Background(), csvRequest(t))
	var pe *recovery.ParsedError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, recovery.KindTimeout, pe.Kind)
	assert.Equal(t, model.UploadError, e.Status().State)
}

func TestRetry_ReusesLastArguments(t *testing.T) {
	var got []Request
	calls := 0
	backend := backendFunc(func(ctx context.Context, req Request) (*model.UploadResult, error) {
		got = append(got, req)
		calls++
		if calls == 1 {
			return nil, &ingestapi.APIError{StatusCode: 503, Message: "busy"}
		}
		return &model.UploadResult{RowsProcessed: 1}, nil
	})
	e := NewExecutor(backend, testConfig(nil))
	req := csvRequest(t)

	_, err := e.Start(context.Background(), req)
	var pe *recovery.ParsedError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, recovery.KindServiceUnavailable, pe.Kind)
	assert.True(t, recovery.IsRetryable(pe, e.Status().RetryAttempts))

	// Mutating the caller's map must not leak into the retry.
	req.Mappings["email"] = model.Ignore()

	_, err = e.Retry(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, got[0], got[1])
	assert.Equal(t, model.Column("email"), got[1].Mappings["email"])
	assert.Equal(t, 1, e.Status().RetryAttempts)
	assert.Equal(t, model.UploadSuccess, e.Status().State)
}

func TestRetry_NothingToRetry(t *testing.T) {
	e := NewExecutor(backendFunc(nil), testConfig(nil))
	_, err := e.Retry(context.Background())
	assert.ErrorIs(t, err, ErrNothingToRetry)
}

func TestExportLogs(t *testing.T) {
	backend := backendFunc(func(ctx context.Context, req Request) (*model.UploadResult, error) {
		return &model.UploadResult{RowsProcessed: 1}, nil
	})
	e := NewExecutor(backend, testConfig(nil))
	_, err := e.Start(context.Background(), csvRequest(t))
	require.NoError(t, err)

	out, err := e.ExportLogs()
	require.NoError(t, err)
	var entries []model.LogEntry
	require.NoError(t, json.Unmarshal(out, &entries))
	assert.Equal(t, e.Logs(), entries)

	logs := e.Logs()
	logs[0].Message = "changed"
	assert.NotEqual(t, "changed", e.Logs()[0].Message)
}

func TestRecover_SetsState(t *testing.T) {
	e := NewExecutor(backendFunc(nil), testConfig(nil))
	e.Recover(recovery.ActionGoToMapping)
	assert.Equal(t, model.UploadRecovering, e.Status().State)
	assert.Equal(t, "recovering: go_to_mapping", lastLog(e).Message)
}

func TestRemoteBackend(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("Upload", mock.Anything,
		mock.MatchedBy(func(f ingestapi.File) bool { return f.Name == "contacts.csv" }),
		mock.MatchedBy(func(m map[string]*string) bool {
			return *m["email"] == "email" && *m["name"] == "import_as_new"
		}),
		"quick",
		ingestapi.UploadOptions{TargetTable: "contacts", OperationMode: "APPEND"},
	).Return(&ingestapi.UploadResponse{RowsProcessed: 1, ColumnsMapped: 2, TableName: "contacts"}, nil)

	res, err := NewRemoteBackend(client).Upload(context.Background(), csvRequest(t))
	require.NoError(t, err)
	assert.Equal(t, &model.UploadResult{RowsProcessed: 1, ColumnsMapped: 2, TableName: "contacts"}, res)
}
