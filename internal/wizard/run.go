package wizard

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ingest-cli/internal/analysis"
	"github.com/sells-group/ingest-cli/internal/inflight"
	"github.com/sells-group/ingest-cli/internal/mapping"
	"github.com/sells-group/ingest-cli/internal/model"
	"github.com/sells-group/ingest-cli/internal/recovery"
	"github.com/sells-group/ingest-cli/internal/upload"
)

func (w *Wizard) operationModeLocked() model.OperationMode {
	if w.opMode != "" {
		return w.opMode
	}
	if w.result.HasExistingTable() {
		return model.OperationAppend
	}
	return model.OperationCreate
}

// newTableName derives a table name from the file name.
func newTableName(f model.File) string {
	stem := strings.TrimSuffix(f.Name, filepath.Ext(f.Name))
	if name := analysis.NormalizeName(stem); name != "" {
		return name
	}
	return "upload"
}

// buildRequestLocked assembles the upload from the session. A new table
// takes every column the user has not ignored or mapped.
func (w *Wizard) buildRequestLocked() (upload.Request, error) {
	if w.file == nil {
		return upload.Request{}, ErrNoFile
	}
	if w.engine == nil || w.result == nil {
		return upload.Request{}, ErrNotAnalyzed
	}
	op := w.operationModeLocked()
	mappings := w.engine.Resolved()
	opts := model.UploadOptions{OperationMode: op}

	switch {
	case op == model.OperationAppend:
		opts.TargetTable = w.result.TargetTable.Name
	case w.fileOpts.TargetTable != "" && !w.result.HasExistingTable():
		opts.TargetTable = w.fileOpts.TargetTable
	default:
		opts.TargetTable = newTableName(*w.file)
	}
	if op == model.OperationCreate {
		for src, t := range mappings {
			if t.IsUnset() {
				mappings[src] = model.ImportAsNew()
			}
		}
	}

	mode := w.mode
	if mode == "" {
		mode = model.ModeQuick
	}
	return upload.Request{File: *w.file, Mappings: mappings, Mode: mode, Options: opts}, nil
}

// Upload runs the upload for the confirmed session.
func (w *Wizard) Upload(ctx context.Context) (*model.UploadResult, error) {
	w.mu.Lock()
	if err := w.requirePhaseLocked(model.PhaseUploadProcessing); err != nil {
		w.mu.Unlock()
		return nil, err
	}
	req, err := w.buildRequestLocked()
	w.mu.Unlock()
	if err != nil {
		return nil, err
	}
	w.CancelAutoRetry()

	uctx, h := w.tracker.Begin(ctx, inflight.Upload)
	defer h.Done()
	res, err := w.exec.Start(uctx, req)
	return w.finishUpload(res, err)
}

// RetryUpload repeats the last upload with the same arguments.
func (w *Wizard) RetryUpload(ctx context.Context) (*model.UploadResult, error) {
	if err := w.requirePhase(model.PhaseUploadProcessing); err != nil {
		return nil, err
	}
	w.CancelAutoRetry()

	uctx, h := w.tracker.Begin(ctx, inflight.Upload)
	defer h.Done()
	res, err := w.exec.Retry(uctx)
	if errors.Is(err, upload.ErrNothingToRetry) {
		return nil, eris.Wrap(ErrNothingToRetry, "wizard: retry upload")
	}
	return w.finishUpload(res, err)
}

func (w *Wizard) finishUpload(res *model.UploadResult, err error) (*model.UploadResult, error) {
	if err == nil {
		w.clearError()
		w.touch()
		w.persist()
		w.log.Info("wizard: upload complete",
			zap.Int("rows", res.RowsProcessed),
			zap.Int("columns", res.ColumnsMapped),
		)
		return res, nil
	}
	if errors.Is(err, upload.ErrCancelled) {
		w.touch()
		w.persist()
		return nil, err
	}
	var pe *recovery.ParsedError
	if !errors.As(err, &pe) {
		return nil, err
	}
	w.fail(opUpload, pe)
	w.scheduleAutoRetry(pe)
	return nil, pe
}

// retryOp repeats the operation that produced the current error.
func (w *Wizard) retryOp(ctx context.Context, op operation) error {
	switch op {
	case opAnalyze:
		_, err := w.analyze(ctx)
		return err
	case opReview:
		return w.enterCompatibility(ctx)
	case opUpload:
		_, err := w.RetryUpload(ctx)
		return err
	default:
		return ErrNothingToRetry
	}
}

// scheduleAutoRetry starts a countdown for low and medium severity errors
// that still have attempts left. High and critical errors wait for the user.
func (w *Wizard) scheduleAutoRetry(pe *recovery.ParsedError) {
	attempts := w.exec.Status().RetryAttempts
	if !w.cfg.AutoRetry || pe.Blocking() || !recovery.IsRetryable(pe, attempts) {
		return
	}
	w.retryAfter(recovery.RetryDelay(attempts, *pe.Retry))
}

// retryAfter repeats the failed operation after d unless cancelled first.
func (w *Wizard) retryAfter(d time.Duration) {
	w.mu.Lock()
	op := w.failedOp
	w.mu.Unlock()
	if op == "" {
		return
	}

	actx, h := w.tracker.Begin(context.Background(), inflight.AutoRetry)
	at := time.Now().Add(d).UTC()
	w.mu.Lock()
	w.retryAt = at
	w.mu.Unlock()
	w.note(model.LogInfo, "retrying %s automatically in %s", op, d.Round(time.Millisecond))

	go func() {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-actx.Done():
			return
		case <-t.C:
		}
		if !h.Current() {
			return
		}
		h.Done()
		w.mu.Lock()
		w.retryAt = time.Time{}
		w.mu.Unlock()
		if err := w.retryOp(context.Background(), op); err != nil {
			w.log.Debug("wizard: automatic retry failed", zap.String("operation", string(op)), zap.Error(err))
		}
	}()
}

// CancelAutoRetry stops a pending automatic retry. It reports whether one
// was pending.
func (w *Wizard) CancelAutoRetry() bool {
	if !w.tracker.Cancel(inflight.AutoRetry) {
		return false
	}
	w.mu.Lock()
	w.retryAt = time.Time{}
	w.mu.Unlock()
	w.note(model.LogInfo, "automatic retry cancelled")
	return true
}

// CancelUpload stops a running upload or a pending automatic retry.
func (w *Wizard) CancelUpload() bool {
	stopped := w.exec.Cancel()
	return w.CancelAutoRetry() || stopped
}

// Dismiss clears the current error without acting on it.
func (w *Wizard) Dismiss() error {
	w.mu.Lock()
	pe := w.lastErr
	w.mu.Unlock()
	if pe == nil {
		return nil
	}
	if !pe.Dismissible() {
		return ErrNotDismissible
	}
	w.CancelAutoRetry()
	w.clearError()
	w.note(model.LogInfo, "error dismissed: %s", pe.Kind)
	return nil
}

// Recover applies a recovery action to the current error and returns the
// intent it resolved to. External intents are left to the caller.
func (w *Wizard) Recover(ctx context.Context, action recovery.ActionKind) (recovery.Intent, error) {
	return w.recoverWith(ctx, action, nil)
}

// RecoverDetached is Recover for callers that cannot wait on an upload. An
// immediate upload retry is handed to start, which must run it on a context
// that outlives ctx; every other intent is applied on ctx as in Recover.
func (w *Wizard) RecoverDetached(ctx context.Context, action recovery.ActionKind, start func(run func(context.Context) error)) (recovery.Intent, error) {
	return w.recoverWith(ctx, action, start)
}

func (w *Wizard) recoverWith(ctx context.Context, action recovery.ActionKind, start func(run func(context.Context) error)) (recovery.Intent, error) {
	w.mu.Lock()
	pe, op := w.lastErr, w.failedOp
	w.mu.Unlock()
	if pe == nil {
		return recovery.Intent{}, ErrNoError
	}
	if !pe.Offers(action) {
		return recovery.Intent{}, eris.Wrapf(ErrActionNotOffered, "wizard: %s for %s", action, pe.Kind)
	}
	intent, err := recovery.Resolve(action, pe, w.exec.Status().RetryAttempts)
	if err != nil {
		return recovery.Intent{}, err
	}

	w.exec.Recover(action)
	w.log.Info("wizard: recovery",
		zap.String("action", string(action)),
		zap.String("intent", string(intent.Type)),
		zap.String("error_kind", string(pe.Kind)),
	)
	if intent.Type != recovery.IntentExternal {
		w.CancelAutoRetry()
		w.clearError()
	}

	switch intent.Type {
	case recovery.IntentNavigate:
		err = w.navigate(ctx, intent.Phase)
	case recovery.IntentConfigure:
		err = w.configure(ctx, intent)
	case recovery.IntentRetry:
		if intent.Delay > 0 {
			w.mu.Lock()
			w.failedOp = op
			w.mu.Unlock()
			w.retryAfter(intent.Delay)
		} else if op == opUpload && start != nil {
			start(func(uctx context.Context) error {
				_, err := w.RetryUpload(uctx)
				return err
			})
		} else {
			err = w.retryOp(ctx, op)
		}
	case recovery.IntentCancel:
		w.Cancel()
	case recovery.IntentExternal:
		w.note(model.LogInfo, "external action required: %s", intent.Target)
	}
	return intent, err
}

func (w *Wizard) navigate(ctx context.Context, p model.Phase) error {
	w.mu.Lock()
	switch p {
	case model.PhaseFileSelection:
		f, opts := w.file, w.fileOpts
		w.invalidateLocked()
		w.file, w.fileOpts = f, opts
		w.mu.Unlock()
		w.moveTo(p)
		return nil
	case model.PhaseColumnMapping:
		if w.engine == nil {
			w.mu.Unlock()
			return ErrNotAnalyzed
		}
		w.mode = model.ModeAdvanced
		w.mu.Unlock()
		w.moveTo(p)
		return nil
	case model.PhaseSchemaCompatibility:
		hasTable := w.result.HasExistingTable()
		report := w.report
		w.mu.Unlock()
		if !hasTable {
			return ErrNotAnalyzed
		}
		if report != nil {
			w.moveTo(p)
			return nil
		}
		return w.enterCompatibility(ctx)
	default:
		w.mu.Unlock()
		w.moveTo(p)
		return nil
	}
}

func (w *Wizard) configure(ctx context.Context, in recovery.Intent) error {
	w.mu.Lock()
	if w.engine == nil {
		w.mu.Unlock()
		return ErrNotAnalyzed
	}
	if in.UploadMode != "" {
		w.mode = in.UploadMode
		w.modeChosen = true
	}
	if in.OperationMode != "" {
		w.opMode = in.OperationMode
	}
	if in.SkipAdvisory {
		w.skipAdvisory = true
	}
	phase := w.phase
	w.mu.Unlock()
	w.note(model.LogInfo, "reconfigured: mode=%s operation=%s skip_advisory=%t",
		in.UploadMode, in.OperationMode, in.SkipAdvisory)

	switch {
	case in.SkipAdvisory && phase == model.PhaseSchemaCompatibility:
		return w.enterCompatibility(ctx)
	case in.UploadMode == model.ModeAdvanced:
		w.moveTo(model.PhaseColumnMapping)
	case in.UploadMode == model.ModeQuick, in.OperationMode != "":
		w.moveTo(model.PhaseUploadProcessing)
	}
	return nil
}

// Cancel abandons the session: everything in flight stops and the session
// returns to an empty file selection.
func (w *Wizard) Cancel() {
	w.tracker.CancelAll()
	w.exec.Cancel()
	w.mu.Lock()
	w.invalidateLocked()
	w.file = nil
	w.fileOpts = model.FileOptions{}
	w.mu.Unlock()
	w.note(model.LogInfo, "session cancelled by user")
	w.moveTo(model.PhaseFileSelection)
}

// Resume rebuilds a session from a snapshot. A snapshot past file selection
// is analyzed again before its phase, mappings and review are restored.
func Resume(ctx context.Context, deps Deps, cfg Config, snap model.SessionSnapshot, logs []model.LogEntry) (*Wizard, error) {
	created := snap.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	w := newWizard(deps, cfg, snap.ID, created)
	w.exec.Restore(nil, snap.RetryAttempts, logs)
	w.file = snap.File
	w.fileOpts = snap.FileOptions
	if snap.File == nil || snap.Phase == model.PhaseFileSelection || snap.Phase == "" {
		w.note(model.LogInfo, "session resumed in %s", model.PhaseFileSelection)
		return w, nil
	}

	res, err := deps.Analyzer.Analyze(ctx, *snap.File, analysis.Options{
		TargetTable:         snap.FileOptions.TargetTable,
		UseAIFallback:       snap.FileOptions.UseAI,
		ConfidenceThreshold: cfg.ConfidenceThreshold,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "wizard: resume %s", snap.ID)
	}
	engine := w.newEngine(res, snap.UserMappings)

	w.result = res
	w.engine = engine
	w.phase = snap.Phase
	w.mode = snap.UploadMode
	w.modeChosen = snap.ModeChosen
	w.opMode = snap.OperationMode
	w.skipAdvisory = snap.SkipAdvisory
	w.report = snap.Compatibility
	w.score = snap.CompatScore
	if snap.UploadState == model.UploadError || snap.UploadState == model.UploadCancelled {
		if req, err := w.buildRequestLocked(); err == nil {
			w.exec.Restore(&req, snap.RetryAttempts, logs)
		}
	}
	w.note(model.LogInfo, "session resumed in %s", snap.Phase)
	return w, nil
}

func (w *Wizard) newEngine(res *model.AnalysisResult, user model.UserMappings) *mapping.Engine {
	e := mapping.NewEngine(res.Suggestions, w.onMappingChange)
	if len(user) > 0 {
		if err := e.Dispatch(mapping.RestoreUser{User: user}); err != nil {
			w.log.Warn("wizard: restore mappings", zap.Error(err))
		}
	}
	return e
}
