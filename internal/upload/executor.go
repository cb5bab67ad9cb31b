// Package upload runs an upload and tracks its state, progress and audit
// log. Cancellation is cooperative and never reaches the error classifier.
package upload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ingest-cli/internal/filecheck"
	"github.com/sells-group/ingest-cli/internal/model"
	"github.com/sells-group/ingest-cli/internal/recovery"
)

// Progress milestones.
const (
	ProgressValidated  = 20
	ProgressProcessing = 90
	ProgressDone       = 100

	// synthetic ticks never pass this while waiting on the backend.
	syntheticCeiling = 85
	syntheticStep    = 5
)

// Defaults.
const (
	DefaultTimeout      = 5 * time.Minute
	DefaultTickInterval = 500 * time.Millisecond
)

var (
	// ErrBusy is returned when an upload is already running.
	ErrBusy = eris.New("upload: an upload is already in progress")
	// ErrNothingToRetry is returned by Retry before any Start.
	ErrNothingToRetry = eris.New("upload: no previous upload to retry")
	// ErrCancelled is returned when the user cancelled the upload.
	ErrCancelled = eris.New("upload: cancelled by user")

	errTimedOut = eris.New("upload: timed out")
)

// Request is one upload invocation.
type Request struct {
	File     model.File          `json:"file"`
	Mappings model.UserMappings  `json:"mappings"`
	Mode     model.UploadMode    `json:"mode"`
	Options  model.UploadOptions `json:"options"`
}

// Status is a point-in-time view of the executor.
type Status struct {
	State         model.UploadState     `json:"state"`
	Progress      int                   `json:"progress"`
	RetryAttempts int                   `json:"retry_attempts"`
	Result        *model.UploadResult   `json:"result,omitempty"`
	Error         *recovery.ParsedError `json:"error,omitempty"`
}

// Config configures an Executor.
type Config struct {
	FileCheck    filecheck.Options
	Timeout      time.Duration
	TickInterval time.Duration
	// OnChange is called after every state or progress change, outside the
	// executor's lock.
	OnChange func(Status)
}

// Executor runs uploads one at a time.
type Executor struct {
	backend Backend
	cfg     Config

	mu       sync.Mutex
	state    model.UploadState
	progress int
	attempts int
	logs     []model.LogEntry
	last     *Request
	result   *model.UploadResult
	lastErr  *recovery.ParsedError
	busy     bool
	cancel   context.CancelFunc
	userStop bool
}

// NewExecutor creates an idle executor.
func NewExecutor(backend Backend, cfg Config) *Executor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	return &Executor{backend: backend, cfg: cfg, state: model.UploadIdle}
}

// Start validates the file again and runs the upload. The arguments are
// remembered for Retry.
func (e *Executor) Start(ctx context.Context, req Request) (*model.UploadResult, error) {
	e.mu.Lock()
	if e.busy {
		e.mu.Unlock()
		return nil, ErrBusy
	}
	r := req
	r.Mappings = req.Mappings.Clone()
	e.last = &r
	runCtx := e.beginLocked(ctx)
	e.mu.Unlock()

	return e.run(ctx, runCtx, r, model.UploadUploading)
}

// Retry repeats the last Start with the same arguments. It is cancellable
// like Start.
func (e *Executor) Retry(ctx context.Context) (*model.UploadResult, error) {
	e.mu.Lock()
	if e.busy {
		e.mu.Unlock()
		return nil, ErrBusy
	}
	if e.last == nil {
		e.mu.Unlock()
		return nil, ErrNothingToRetry
	}
	e.attempts++
	r := *e.last
	attempt := e.attempts
	runCtx := e.beginLocked(ctx)
	e.mu.Unlock()

	e.logf(model.LogInfo, "retry attempt %d", attempt)
	return e.run(ctx, runCtx, r, model.UploadRetrying)
}

func (e *Executor) beginLocked(parent context.Context) context.Context {
	ctx, cancel := context.WithCancel(parent)
	e.busy = true
	e.cancel = cancel
	e.userStop = false
	e.progress = 0
	e.result = nil
	e.lastErr = nil
	return ctx
}

func (e *Executor) end() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		e.cancel()
	}
	e.cancel = nil
	e.busy = false
}

// Recover marks the executor as recovering while a recovery action is being
// applied. It is a no-op while an upload runs.
func (e *Executor) Recover(action recovery.ActionKind) {
	e.mu.Lock()
	if e.busy {
		e.mu.Unlock()
		return
	}
	e.state = model.UploadRecovering
	e.mu.Unlock()
	e.logf(model.LogInfo, "recovering: %s", action)
	e.notify()
}

// Cancel stops a running upload. It reports whether there was one.
func (e *Executor) Cancel() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel == nil {
		return false
	}
	e.userStop = true
	e.cancel()
	return true
}

// Reset cancels any running upload, returns the executor to idle and
// forgets the last request. The audit log is kept.
func (e *Executor) Reset() {
	e.Cancel()
	e.mu.Lock()
	e.state = model.UploadIdle
	e.progress = 0
	e.attempts = 0
	e.last = nil
	e.result = nil
	e.lastErr = nil
	e.mu.Unlock()
	e.notify()
}

// Restore seeds the retry counter and last request of a resumed session.
func (e *Executor) Restore(last *Request, attempts int, logs []model.LogEntry) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if last != nil {
		r := *last
		r.Mappings = last.Mappings.Clone()
		e.last = &r
	}
	e.attempts = attempts
	e.logs = append([]model.LogEntry(nil), logs...)
}

// Note appends an entry to the audit log on behalf of the session owner.
func (e *Executor) Note(level model.LogLevel, format string, args ...any) {
	e.logf(level, format, args...)
}

// Busy reports whether an upload is running.
func (e *Executor) Busy() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.busy
}

// Status returns the current status.
func (e *Executor) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.statusLocked()
}

// Last returns a copy of the last request, if any.
func (e *Executor) Last() *Request {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.last == nil {
		return nil
	}
	r := *e.last
	r.Mappings = e.last.Mappings.Clone()
	return &r
}

// Logs returns a copy of the audit log.
func (e *Executor) Logs() []model.LogEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]model.LogEntry(nil), e.logs...)
}

// ExportLogs renders the audit log as indented JSON.
func (e *Executor) ExportLogs() ([]byte, error) {
	b, err := json.MarshalIndent(e.Logs(), "", "  ")
	if err != nil {
		return nil, eris.Wrap(err, "upload: export logs")
	}
	return b, nil
}

func (e *Executor) statusLocked() Status {
	return Status{
		State:         e.state,
		Progress:      e.progress,
		RetryAttempts: e.attempts,
		Result:        e.result,
		Error:         e.lastErr,
	}
}

func (e *Executor) run(parent, ctx context.Context, req Request, entry model.UploadState) (*model.UploadResult, error) {
	defer e.end()

	e.transition(entry, "upload of %s started (%s, %s)", req.File.Name, req.Mode, req.Options.OperationMode)

	if res := filecheck.Validate(req.File, e.cfg.FileCheck); !res.IsValid {
		return nil, e.fail(recovery.New(recovery.KindValidationError, res.Error(), map[string]string{"file": req.File.Name}))
	}
	if ctx.Err() != nil {
		return nil, e.cancelled()
	}
	e.advance(ProgressValidated)
	e.logf(model.LogInfo, "file validated")

	result, err := e.call(ctx, req)
	switch {
	case err == nil:
	case e.wasCancelled(parent, ctx):
		return nil, e.cancelled()
	case errors.Is(err, errTimedOut):
		return nil, e.fail(recovery.New(recovery.KindTimeout,
			fmt.Sprintf("no response after %s", e.cfg.Timeout), e.errContext(req)))
	default:
		return nil, e.fail(recovery.Classify(err, e.errContext(req)))
	}

	if ctx.Err() != nil {
		return nil, e.cancelled()
	}
	e.advance(ProgressProcessing)
	e.transition(model.UploadProcessing, "processing %d rows", result.RowsProcessed)
	for _, w := range result.Warnings {
		e.logf(model.LogWarn, "%s", w)
	}
	if ctx.Err() != nil {
		return nil, e.cancelled()
	}

	e.mu.Lock()
	e.result = result
	e.mu.Unlock()
	e.advance(ProgressDone)
	e.transition(model.UploadSuccess, "upload complete: %d rows, %d columns mapped", result.RowsProcessed, result.ColumnsMapped)
	return result, nil
}

// call runs the backend under the hard timeout while ticking synthetic
// progress.
func (e *Executor) call(ctx context.Context, req Request) (*model.UploadResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(e.cfg.TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				e.tick()
			}
		}
	}()

	result, err := e.backend.Upload(callCtx, req)
	close(done)
	wg.Wait()

	if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return nil, errTimedOut
	}
	if err == nil && result == nil {
		err = eris.New("upload: backend returned no result")
	}
	return result, err
}

func (e *Executor) tick() {
	e.mu.Lock()
	if e.progress >= syntheticCeiling || e.progress < ProgressValidated {
		e.mu.Unlock()
		return
	}
	e.progress = min(e.progress+syntheticStep, syntheticCeiling)
	e.mu.Unlock()
	e.notify()
}

func (e *Executor) wasCancelled(parent, ctx context.Context) bool {
	e.mu.Lock()
	stopped := e.userStop
	e.mu.Unlock()
	return stopped || errors.Is(parent.Err(), context.Canceled) || errors.Is(ctx.Err(), context.Canceled)
}

func (e *Executor) errContext(req Request) map[string]string {
	ctx := map[string]string{"file": req.File.Name, "operation_mode": string(req.Options.OperationMode)}
	if req.Options.TargetTable != "" {
		ctx["table"] = req.Options.TargetTable
	}
	return ctx
}

func (e *Executor) cancelled() error {
	e.mu.Lock()
	e.state = model.UploadCancelled
	e.mu.Unlock()
	e.logf(model.LogWarn, "cancelled by user")
	e.notify()
	return ErrCancelled
}

func (e *Executor) fail(pe *recovery.ParsedError) error {
	e.mu.Lock()
	e.state = model.UploadError
	e.lastErr = pe
	e.mu.Unlock()
	e.logf(model.LogError, "upload failed: %s (%s)", pe.Title, pe.Kind)
	if pe.Cause != "" {
		e.logf(model.LogDebug, "cause: %s", pe.Cause)
	}
	e.notify()
	return pe
}

func (e *Executor) transition(s model.UploadState, format string, args ...any) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
	e.logf(model.LogInfo, "[%s] "+format, append([]any{s}, args...)...)
	e.notify()
}

// advance moves progress forward; it never goes back.
func (e *Executor) advance(p int) {
	e.mu.Lock()
	if p > e.progress {
		e.progress = p
	}
	e.mu.Unlock()
	e.notify()
}

func (e *Executor) logf(level model.LogLevel, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	entry := model.LogEntry{Timestamp: time.Now().UTC(), Level: level, Message: msg}

	e.mu.Lock()
	e.logs = append(e.logs, entry)
	e.mu.Unlock()

	log := zap.L().With(zap.String("component", "upload"))
	switch level {
	case model.LogDebug:
		log.Debug(msg)
	case model.LogWarn:
		log.Warn(msg)
	case model.LogError:
		log.Error(msg)
	default:
		log.Info(msg)
	}
}

func (e *Executor) notify() {
	if e.cfg.OnChange == nil {
		return
	}
	e.cfg.OnChange(e.Status())
}
