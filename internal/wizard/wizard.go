// Package wizard drives one upload session through its phases. It is the
// only owner of session state: the mapping engine, the reviewer and the
// executor report back to it and never change the phase themselves.
package wizard

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ingest-cli/internal/analysis"
	"github.com/sells-group/ingest-cli/internal/compat"
	"github.com/sells-group/ingest-cli/internal/confidence"
	"github.com/sells-group/ingest-cli/internal/filecheck"
	"github.com/sells-group/ingest-cli/internal/inflight"
	"github.com/sells-group/ingest-cli/internal/mapping"
	"github.com/sells-group/ingest-cli/internal/model"
	"github.com/sells-group/ingest-cli/internal/recovery"
	"github.com/sells-group/ingest-cli/internal/upload"
)

// Sentinel errors returned by session operations.
var (
	ErrWrongPhase       = eris.New("wizard: not allowed in the current phase")
	ErrNoFile           = eris.New("wizard: no file selected")
	ErrNotAnalyzed      = eris.New("wizard: file has not been analyzed")
	ErrStale            = eris.New("wizard: superseded by a newer request")
	ErrCancelled        = eris.New("wizard: cancelled")
	ErrApprovalsPending = eris.New("wizard: high-severity recommendations need approval")
	ErrMappingsInvalid  = eris.New("wizard: mappings do not pass validation")
	ErrNoPrevious       = eris.New("wizard: no previous phase")
	ErrBusy             = eris.New("wizard: an upload is running")
	ErrNoError          = eris.New("wizard: there is no error to recover from")
	ErrNotDismissible   = eris.New("wizard: critical errors can only be cancelled")
	ErrActionNotOffered = eris.New("wizard: action not offered for this error")
	ErrNothingToRetry   = eris.New("wizard: nothing to retry")
)

// Store persists sessions. It is satisfied by store.Store.
type Store interface {
	SaveSession(ctx context.Context, snap model.SessionSnapshot) error
	SaveLogs(ctx context.Context, sessionID string, logs []model.LogEntry) error
	RecordFailure(ctx context.Context, f model.FailureRecord) error
}

// Deps are the collaborators a session talks to. Previewer, Scorer and
// Store are optional.
type Deps struct {
	Analyzer  analysis.Analyzer
	Previewer analysis.Previewer
	Reviewer  *compat.Reviewer
	Scorer    compat.Scorer
	Backend   upload.Backend
	Store     Store
}

// Config tunes a session.
type Config struct {
	// QuickUploadThreshold is the overall confidence (0-100) at or above
	// which a file skips the mode decision.
	QuickUploadThreshold float64
	// ConfidenceThreshold is passed to the analyzer.
	ConfidenceThreshold float64
	FileCheck           filecheck.Options
	UploadTimeout       time.Duration
	ProgressInterval    time.Duration
	PreviewRows         int
	// AutoRetry schedules retries of low and medium severity failures.
	AutoRetry bool
}

// DefaultConfig returns the settings used when none are configured.
func DefaultConfig() Config {
	return Config{
		QuickUploadThreshold: confidence.High,
		ConfidenceThreshold:  confidence.Low,
		FileCheck:            filecheck.DefaultOptions(),
		UploadTimeout:        upload.DefaultTimeout,
		ProgressInterval:     upload.DefaultTickInterval,
		PreviewRows:          analysis.DefaultPreviewRows,
		AutoRetry:            true,
	}
}

// operation names what a recovery retry repeats.
type operation string

const (
	opAnalyze operation = "analyze"
	opReview  operation = "review"
	opUpload  operation = "upload"
)

// Wizard is one upload session.
type Wizard struct {
	id      string
	deps    Deps
	cfg     Config
	tracker *inflight.Tracker
	exec    *upload.Executor
	log     *zap.Logger

	// uploadSeen is the unix nano time of the last executor change.
	uploadSeen atomic.Int64

	mu           sync.Mutex
	phase        model.Phase
	file         *model.File
	fileOpts     model.FileOptions
	mode         model.UploadMode
	modeChosen   bool
	opMode       model.OperationMode
	skipAdvisory bool
	result       *model.AnalysisResult
	engine       *mapping.Engine
	report       *model.CompatibilityReport
	score        *model.CompatibilityScore
	lastErr      *recovery.ParsedError
	failedOp     operation
	retryAt      time.Time
	createdAt    time.Time
	updatedAt    time.Time
}

// New opens a session in the file-selection phase.
func New(deps Deps, cfg Config) *Wizard {
	return newWizard(deps, cfg, uuid.NewString(), time.Now().UTC())
}

func newWizard(deps Deps, cfg Config, id string, created time.Time) *Wizard {
	def := DefaultConfig()
	if cfg.QuickUploadThreshold <= 0 {
		cfg.QuickUploadThreshold = def.QuickUploadThreshold
	}
	if cfg.PreviewRows <= 0 {
		cfg.PreviewRows = def.PreviewRows
	}
	if deps.Reviewer == nil {
		deps.Reviewer = compat.NewReviewer(nil)
	}
	w := &Wizard{
		id:        id,
		deps:      deps,
		cfg:       cfg,
		tracker:   inflight.NewTracker(),
		log:       zap.L().With(zap.String("session_id", id)),
		phase:     model.PhaseFileSelection,
		createdAt: created,
		updatedAt: created,
	}
	w.exec = upload.NewExecutor(deps.Backend, upload.Config{
		FileCheck:    cfg.FileCheck,
		Timeout:      cfg.UploadTimeout,
		TickInterval: cfg.ProgressInterval,
		OnChange:     w.onUploadChange,
	})
	return w
}

// ID returns the session id.
func (w *Wizard) ID() string { return w.id }

// Phase returns the current phase.
func (w *Wizard) Phase() model.Phase {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.phase
}

// LastActivity returns when the session last changed.
// Upload progress counts as activity.
func (w *Wizard) LastActivity() time.Time {
	w.mu.Lock()
	last := w.updatedAt
	w.mu.Unlock()
	if n := w.uploadSeen.Load(); n > 0 {
		if seen := time.Unix(0, n).UTC(); seen.After(last) {
			last = seen
		}
	}
	return last
}

// Analysis returns the current analysis, if any.
func (w *Wizard) Analysis() *model.AnalysisResult {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.result
}

// Compatibility returns the current compatibility report, if any.
func (w *Wizard) Compatibility() *model.CompatibilityReport {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.report
}

// Error returns the unresolved classified error, if any.
func (w *Wizard) Error() *recovery.ParsedError {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr
}

// Logs returns the session's audit log.
func (w *Wizard) Logs() []model.LogEntry { return w.exec.Logs() }

// ExportLogs renders the audit log for attaching to a failure report.
func (w *Wizard) ExportLogs() ([]byte, error) { return w.exec.ExportLogs() }

// View is everything a client needs to render the session.
type View struct {
	Session     model.SessionSnapshot  `json:"session"`
	Analysis    *model.AnalysisResult  `json:"analysis,omitempty"`
	Upload      upload.Status          `json:"upload"`
	Error       *recovery.ParsedError  `json:"error,omitempty"`
	Pending     []model.Recommendation `json:"pending_approvals,omitempty"`
	AutoRetryAt *time.Time             `json:"auto_retry_at,omitempty"`
}

// View returns the current view.
func (w *Wizard) View() View {
	snap := w.Snapshot()
	w.mu.Lock()
	defer w.mu.Unlock()
	v := View{
		Session:  snap,
		Analysis: w.result,
		Upload:   w.exec.Status(),
		Error:    w.lastErr,
		Pending:  w.report.PendingApprovals(),
	}
	if !w.retryAt.IsZero() {
		at := w.retryAt
		v.AutoRetryAt = &at
	}
	return v
}

// Snapshot returns the persistable form of the session.
func (w *Wizard) Snapshot() model.SessionSnapshot {
	var user model.UserMappings
	w.mu.Lock()
	engine := w.engine
	w.mu.Unlock()
	if engine != nil {
		user = engine.UserMappings()
	}
	st := w.exec.Status()

	w.mu.Lock()
	defer w.mu.Unlock()
	snap := model.SessionSnapshot{
		ID:            w.id,
		Phase:         w.phase,
		FileOptions:   w.fileOpts,
		UploadMode:    w.mode,
		ModeChosen:    w.modeChosen,
		OperationMode: w.opMode,
		SkipAdvisory:  w.skipAdvisory,
		UserMappings:  user,
		Compatibility: w.report,
		CompatScore:   w.score,
		UploadState:   st.State,
		Progress:      st.Progress,
		RetryAttempts: st.RetryAttempts,
		CreatedAt:     w.createdAt,
		UpdatedAt:     w.updatedAt,
	}
	if w.file != nil {
		f := *w.file
		snap.File = &f
	}
	return snap
}

// Close cancels everything in flight. The session may not be used after.
func (w *Wizard) Close() {
	w.tracker.CancelAll()
	w.exec.Cancel()
	w.persist()
}

func (w *Wizard) requirePhase(phases ...model.Phase) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.requirePhaseLocked(phases...)
}

func (w *Wizard) requirePhaseLocked(phases ...model.Phase) error {
	for _, p := range phases {
		if w.phase == p {
			return nil
		}
	}
	return eris.Wrapf(ErrWrongPhase, "wizard: in %s", w.phase)
}

func (w *Wizard) moveTo(p model.Phase) {
	w.mu.Lock()
	from := w.phase
	w.phase = p
	w.updatedAt = time.Now().UTC()
	w.mu.Unlock()

	if from != p {
		w.note(model.LogInfo, "phase %s -> %s", from, p)
	}
	w.persist()
}

func (w *Wizard) note(level model.LogLevel, format string, args ...any) {
	w.exec.Note(level, format, args...)
}

func (w *Wizard) touch() {
	w.mu.Lock()
	w.updatedAt = time.Now().UTC()
	w.mu.Unlock()
}

// fail records a classified error against the operation that produced it.
func (w *Wizard) fail(op operation, pe *recovery.ParsedError) *recovery.ParsedError {
	w.mu.Lock()
	w.lastErr = pe
	w.failedOp = op
	phase := w.phase
	w.updatedAt = time.Now().UTC()
	w.mu.Unlock()

	w.log.Warn("wizard: operation failed",
		zap.String("operation", string(op)),
		zap.String("phase", string(phase)),
		zap.String("error_kind", string(pe.Kind)),
		zap.String("severity", string(pe.Severity)),
		zap.String("cause", pe.Cause),
	)
	if op != opUpload {
		w.note(model.LogError, "%s failed: %s (%s)", op, pe.Title, pe.Kind)
	}
	w.recordFailure(pe, phase)
	w.persist()
	return pe
}

func (w *Wizard) clearError() {
	w.mu.Lock()
	w.lastErr = nil
	w.failedOp = ""
	w.mu.Unlock()
}

// invalidateLocked drops everything derived from the current analysis.
func (w *Wizard) invalidateLocked() {
	for _, k := range []inflight.Kind{inflight.Analyze, inflight.Preview, inflight.Advisory, inflight.Compat, inflight.AutoRetry} {
		w.tracker.Cancel(k)
	}
	w.result = nil
	w.engine = nil
	w.report = nil
	w.score = nil
	w.mode = ""
	w.modeChosen = false
	w.opMode = ""
	w.skipAdvisory = false
	w.lastErr = nil
	w.failedOp = ""
	w.retryAt = time.Time{}
	w.exec.Reset()
}

// onUploadChange receives every executor state and progress change. The
// executor may report while w.mu is held (Reset from invalidateLocked), so
// it must not take the lock.
func (w *Wizard) onUploadChange(upload.Status) {
	w.uploadSeen.Store(time.Now().UnixNano())
}

func (w *Wizard) onMappingChange(mapping.State) {
	w.mu.Lock()
	w.score = nil
	w.updatedAt = time.Now().UTC()
	w.mu.Unlock()
}

const persistTimeout = 5 * time.Second

func (w *Wizard) persist() {
	if w.deps.Store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := w.deps.Store.SaveSession(ctx, w.Snapshot()); err != nil {
		w.log.Warn("wizard: save session", zap.Error(err))
		return
	}
	if err := w.deps.Store.SaveLogs(ctx, w.id, w.exec.Logs()); err != nil {
		w.log.Warn("wizard: save logs", zap.Error(err))
	}
}

func (w *Wizard) recordFailure(pe *recovery.ParsedError, phase model.Phase) {
	if w.deps.Store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	rec := model.FailureRecord{
		ID:         uuid.NewString(),
		SessionID:  w.id,
		Phase:      phase,
		Kind:       string(pe.Kind),
		Severity:   pe.Severity,
		Title:      pe.Title,
		Cause:      pe.Cause,
		Code:       pe.Code,
		StatusCode: pe.StatusCode,
		Attempt:    w.exec.Status().RetryAttempts,
		Context:    pe.Context,
		CreatedAt:  pe.Timestamp,
	}
	if err := w.deps.Store.RecordFailure(ctx, rec); err != nil {
		w.log.Warn("wizard: record failure", zap.Error(err))
	}
}
