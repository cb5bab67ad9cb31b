package wizard

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ingest-cli/internal/analysis"
	"github.com/sells-group/ingest-cli/internal/compat"
	"github.com/sells-group/ingest-cli/internal/filecheck"
	"github.com/sells-group/ingest-cli/internal/inflight"
	"github.com/sells-group/ingest-cli/internal/mapping"
	"github.com/sells-group/ingest-cli/internal/model"
	"github.com/sells-group/ingest-cli/internal/recovery"
)

// SelectFile starts the session over with f: everything derived from an
// earlier file is dropped, the file is checked locally and then analyzed.
// On success the session moves on as far as the analysis allows.
func (w *Wizard) SelectFile(ctx context.Context, f model.File, opts model.FileOptions) (*model.AnalysisResult, error) {
	if w.exec.Busy() {
		return nil, ErrBusy
	}
	w.mu.Lock()
	w.invalidateLocked()
	w.file = &f
	w.fileOpts = opts
	w.mu.Unlock()
	w.moveTo(model.PhaseFileSelection)
	w.note(model.LogInfo, "file selected: %s", f.Name)

	if res := filecheck.Validate(f, w.cfg.FileCheck); !res.IsValid {
		return nil, w.fail(opAnalyze, recovery.New(recovery.KindValidationError, res.Error(),
			map[string]string{"file": f.Name}))
	}
	return w.analyze(ctx)
}

// ChangeTargetTable re-analyzes the current file against another table.
// An empty table means a new one will be created.
func (w *Wizard) ChangeTargetTable(ctx context.Context, table string) (*model.AnalysisResult, error) {
	w.mu.Lock()
	if w.file == nil {
		w.mu.Unlock()
		return nil, ErrNoFile
	}
	f, opts := *w.file, w.fileOpts
	w.mu.Unlock()

	opts.TargetTable = table
	return w.SelectFile(ctx, f, opts)
}

// Reanalyze runs analysis again for the current file and options.
func (w *Wizard) Reanalyze(ctx context.Context) (*model.AnalysisResult, error) {
	return w.ChangeTargetTable(ctx, w.fileOptions().TargetTable)
}

func (w *Wizard) fileOptions() model.FileOptions {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fileOpts
}

func (w *Wizard) analyze(ctx context.Context) (*model.AnalysisResult, error) {
	w.mu.Lock()
	if w.file == nil {
		w.mu.Unlock()
		return nil, ErrNoFile
	}
	f := *w.file
	opts := analysis.Options{
		TargetTable:         w.fileOpts.TargetTable,
		UseAIFallback:       w.fileOpts.UseAI,
		ConfidenceThreshold: w.cfg.ConfidenceThreshold,
	}
	w.mu.Unlock()

	actx, h := w.tracker.Begin(ctx, inflight.Analyze)
	defer h.Done()
	res, err := w.deps.Analyzer.Analyze(actx, f, opts)
	if !h.Current() {
		return nil, ErrStale
	}
	if err != nil {
		if recovery.IsCancellation(err) || ctx.Err() != nil {
			w.note(model.LogWarn, "analysis cancelled")
			return nil, eris.Wrap(ErrCancelled, "wizard: analyze")
		}
		return nil, w.fail(opAnalyze, recovery.Classify(err, map[string]string{
			"file":  f.Name,
			"table": opts.TargetTable,
		}))
	}

	engine := mapping.NewEngine(res.Suggestions, w.onMappingChange)
	quick := res.OverallConfidence >= w.cfg.QuickUploadThreshold && res.RecommendQuick

	w.mu.Lock()
	w.result = res
	w.engine = engine
	w.lastErr = nil
	w.failedOp = ""
	if quick {
		w.mode = model.ModeQuick
	}
	w.mu.Unlock()

	w.note(model.LogInfo, "analysis complete: %d columns, %d rows, confidence %.0f (%s)",
		len(res.SourceColumns), res.RowCount, res.OverallConfidence, res.ConfidenceSource)
	w.log.Info("wizard: analysis complete",
		zap.String("file", f.Name),
		zap.Float64("confidence", res.OverallConfidence),
		zap.Bool("recommend_quick", res.RecommendQuick),
		zap.Bool("existing_table", res.HasExistingTable()),
	)

	switch {
	case !quick:
		w.moveTo(model.PhaseModeDecision)
	case res.HasExistingTable():
		if err := w.enterCompatibility(ctx); err != nil {
			return res, err
		}
	default:
		w.moveTo(model.PhaseUploadProcessing)
	}
	return res, nil
}

// ChooseMode records the user's choice in the mode-decision phase.
func (w *Wizard) ChooseMode(ctx context.Context, mode model.UploadMode) error {
	if mode != model.ModeQuick && mode != model.ModeAdvanced {
		return eris.Errorf("wizard: unknown upload mode %q", mode)
	}
	w.mu.Lock()
	if err := w.requirePhaseLocked(model.PhaseModeDecision); err != nil {
		w.mu.Unlock()
		return err
	}
	res := w.result
	w.mode = mode
	w.modeChosen = true
	w.mu.Unlock()
	w.note(model.LogInfo, "mode chosen: %s", mode)

	existing := res.HasExistingTable()
	switch {
	case mode == model.ModeQuick && existing:
		return w.enterCompatibility(ctx)
	case mode == model.ModeQuick:
		w.moveTo(model.PhaseUploadProcessing)
	case existing && (len(res.NewColumns) > 0 || len(res.MissingColumns) > 0):
		return w.enterCompatibility(ctx)
	default:
		w.moveTo(model.PhaseColumnMapping)
	}
	return nil
}

// enterCompatibility moves to schema review and runs it. A report with
// nothing to reconcile continues straight to upload.
func (w *Wizard) enterCompatibility(ctx context.Context) error {
	w.moveTo(model.PhaseSchemaCompatibility)

	w.mu.Lock()
	res, skip := w.result, w.skipAdvisory
	w.mu.Unlock()
	if res == nil {
		return ErrNotAnalyzed
	}

	var report *model.CompatibilityReport
	if skip {
		report = skippedReport(res)
	} else {
		rctx, h := w.tracker.Begin(ctx, inflight.Advisory)
		defer h.Done()
		r, err := w.deps.Reviewer.Review(rctx, res)
		if !h.Current() {
			return ErrStale
		}
		if err != nil {
			if recovery.IsCancellation(err) || ctx.Err() != nil {
				w.note(model.LogWarn, "schema review cancelled")
				return eris.Wrap(ErrCancelled, "wizard: review")
			}
			return w.fail(opReview, recovery.Classify(err, map[string]string{"table": res.TargetTable.Name}))
		}
		report = r
	}

	w.mu.Lock()
	w.report = report
	w.lastErr = nil
	w.failedOp = ""
	w.mu.Unlock()
	w.note(model.LogInfo, "schema review: %d recommendations, confidence %.0f, advisory called: %t",
		len(report.Recommendations), report.Confidence, report.AdvisoryCalled)

	// Stay for review only when there is advice to look at.
	if next, ok := afterCompatibility(report, skip); ok && (next == model.PhaseUploadProcessing || skip) {
		w.moveTo(next)
	} else {
		w.persist()
	}
	return nil
}

// skippedReport stands in for advice when the user chose to go on without
// it. The problematic columns are kept so mapping can resolve them.
func skippedReport(res *model.AnalysisResult) *model.CompatibilityReport {
	newCols, missing := compat.Problematic(res)
	return &model.CompatibilityReport{
		TableName:          res.TargetTable.Name,
		ProblematicNew:     newCols,
		ProblematicMissing: missing,
		Approved:           map[string]bool{},
	}
}

// afterCompatibility is where schema review leads. ok is false while
// approvals are pending.
func afterCompatibility(report *model.CompatibilityReport, skipped bool) (model.Phase, bool) {
	if !compat.CanProceed(report) {
		return "", false
	}
	unresolved := skipped && (len(report.ProblematicNew) > 0 || len(report.ProblematicMissing) > 0)
	if report.FullyCompatible() && !unresolved {
		return model.PhaseUploadProcessing, true
	}
	return model.PhaseColumnMapping, true
}

// Approve marks a high-severity recommendation as accepted.
func (w *Wizard) Approve(column string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.requirePhaseLocked(model.PhaseSchemaCompatibility); err != nil {
		return err
	}
	report, err := compat.Approve(w.report, column)
	if err != nil {
		return err
	}
	w.report = report
	return nil
}

// ContinueFromCompatibility leaves schema review once every high-severity
// recommendation is approved. Recommendations become mapping overrides.
func (w *Wizard) ContinueFromCompatibility(ctx context.Context) error {
	w.mu.Lock()
	if err := w.requirePhaseLocked(model.PhaseSchemaCompatibility); err != nil {
		w.mu.Unlock()
		return err
	}
	report, engine, skip := w.report, w.engine, w.skipAdvisory
	w.mu.Unlock()
	if report == nil || engine == nil {
		return ErrNotAnalyzed
	}

	next, ok := afterCompatibility(report, skip)
	if !ok {
		pending := report.PendingApprovals()
		cols := make([]string, len(pending))
		for i, p := range pending {
			cols[i] = p.Column
		}
		return eris.Wrapf(ErrApprovalsPending, "wizard: %v", cols)
	}

	for src, target := range compat.Overrides(report) {
		if err := engine.UpdateMapping(src, target); err != nil {
			// A recommendation can name a column the file does not have or
			// a target another column already holds; mapping resolves it.
			w.note(model.LogWarn, "recommendation for %s not applied: %v", src, err)
		}
	}
	w.moveTo(next)
	return nil
}

// Back returns to the previous phase using what the session remembers:
// the chosen mode and whether schema review ran.
func (w *Wizard) Back() (model.Phase, error) {
	if w.exec.Busy() {
		return "", ErrBusy
	}
	w.mu.Lock()
	var prev model.Phase
	switch w.phase {
	case model.PhaseFileSelection:
		w.mu.Unlock()
		return "", ErrNoPrevious
	case model.PhaseModeDecision:
		prev = model.PhaseFileSelection
	case model.PhaseSchemaCompatibility:
		prev = model.PhaseFileSelection
		if w.modeChosen {
			prev = model.PhaseModeDecision
		}
	case model.PhaseColumnMapping:
		switch {
		case w.report != nil:
			prev = model.PhaseSchemaCompatibility
		case w.modeChosen:
			prev = model.PhaseModeDecision
		default:
			prev = model.PhaseFileSelection
		}
	case model.PhaseUploadProcessing:
		switch {
		case w.mode == model.ModeAdvanced:
			prev = model.PhaseColumnMapping
		case w.report != nil:
			prev = model.PhaseSchemaCompatibility
		default:
			prev = model.PhaseModeDecision
		}
	}
	if prev == model.PhaseFileSelection {
		f, opts := w.file, w.fileOpts
		w.invalidateLocked()
		w.file, w.fileOpts = f, opts
	}
	if prev == model.PhaseModeDecision {
		w.modeChosen = false
	}
	w.tracker.Cancel(inflight.AutoRetry)
	w.retryAt = time.Time{}
	w.mu.Unlock()

	w.moveTo(prev)
	return prev, nil
}
