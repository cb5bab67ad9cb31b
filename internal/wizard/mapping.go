package wizard

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/ingest-cli/internal/compat"
	"github.com/sells-group/ingest-cli/internal/inflight"
	"github.com/sells-group/ingest-cli/internal/mapping"
	"github.com/sells-group/ingest-cli/internal/model"
	"github.com/sells-group/ingest-cli/internal/recovery"
)

// MappingView is the column-mapping screen's data.
type MappingView struct {
	Effective  []model.EffectiveMapping `json:"effective"`
	User       model.UserMappings       `json:"user_mappings"`
	Stats      mapping.Stats            `json:"stats"`
	Validation model.ValidationResult   `json:"validation"`
}

func (w *Wizard) mappingEngine() (*mapping.Engine, *model.AnalysisResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.engine == nil || w.result == nil {
		return nil, nil, ErrNotAnalyzed
	}
	return w.engine, w.result, nil
}

func (w *Wizard) editableEngine() (*mapping.Engine, error) {
	if err := w.requirePhase(model.PhaseColumnMapping); err != nil {
		return nil, err
	}
	e, _, err := w.mappingEngine()
	return e, err
}

// Mappings returns the current mapping state with stats and validation.
func (w *Wizard) Mappings() (*MappingView, error) {
	e, res, err := w.mappingEngine()
	if err != nil {
		return nil, err
	}
	return &MappingView{
		Effective:  e.Effective(),
		User:       e.UserMappings(),
		Stats:      e.Stats(),
		Validation: e.Validate(res.SourceColumns, res.TargetTable),
	}, nil
}

// MappingOptions lists the targets source may pick.
func (w *Wizard) MappingOptions(source string) ([]mapping.Option, error) {
	e, res, err := w.mappingEngine()
	if err != nil {
		return nil, err
	}
	return e.Options(res.TargetTable, source), nil
}

// UpdateMapping overrides the target of source.
func (w *Wizard) UpdateMapping(source string, target model.MappingTarget) error {
	e, err := w.editableEngine()
	if err != nil {
		return err
	}
	return e.UpdateMapping(source, target)
}

// RemoveMapping drops the override of source.
func (w *Wizard) RemoveMapping(source string) error {
	e, err := w.editableEngine()
	if err != nil {
		return err
	}
	return e.RemoveMapping(source)
}

// ClearMappings drops every override.
func (w *Wizard) ClearMappings() error {
	e, err := w.editableEngine()
	if err != nil {
		return err
	}
	return e.ClearAll()
}

// AutoApplyHighConfidence promotes confident suggestions to overrides.
func (w *Wizard) AutoApplyHighConfidence() error {
	e, err := w.editableEngine()
	if err != nil {
		return err
	}
	return e.AutoApplyHighConfidence()
}

// ResetMappings reseeds overrides from the suggestions.
func (w *Wizard) ResetMappings() error {
	e, err := w.editableEngine()
	if err != nil {
		return err
	}
	return e.ResetToSuggestions()
}

// ApplyProfile loads saved overrides. Entries for columns the file does
// not have are skipped; the count of applied entries is returned.
func (w *Wizard) ApplyProfile(p *mapping.Profile) (int, error) {
	e, err := w.editableEngine()
	if err != nil {
		return 0, err
	}
	applied := 0
	for src, target := range p.Mappings {
		if err := e.UpdateMapping(src, target); err != nil {
			w.note(model.LogWarn, "profile %s: %s not applied: %v", p.Name, src, err)
			continue
		}
		applied++
	}
	w.note(model.LogInfo, "profile %s applied to %d columns", p.Name, applied)
	return applied, nil
}

// Preview renders sample rows under the current mappings. A newer preview
// cancels an older one.
func (w *Wizard) Preview(ctx context.Context, rows int) ([]model.PreviewRow, error) {
	if w.deps.Previewer == nil {
		return nil, eris.New("wizard: preview is not configured")
	}
	e, _, err := w.mappingEngine()
	if err != nil {
		return nil, err
	}
	w.mu.Lock()
	f := *w.file
	w.mu.Unlock()
	if rows <= 0 {
		rows = w.cfg.PreviewRows
	}

	pctx, h := w.tracker.Begin(ctx, inflight.Preview)
	defer h.Done()
	out, err := w.deps.Previewer.Preview(pctx, f, e.Resolved(), rows)
	if !h.Current() {
		return nil, ErrStale
	}
	if err != nil {
		if recovery.IsCancellation(err) || ctx.Err() != nil {
			return nil, eris.Wrap(ErrCancelled, "wizard: preview")
		}
		return nil, recovery.Classify(err, map[string]string{"file": f.Name})
	}
	return out, nil
}

// ConfirmMappings validates the mappings and moves to upload. Appending to
// an existing table also fetches a compatibility score; its warnings go to
// the session log.
func (w *Wizard) ConfirmMappings(ctx context.Context) (*model.ValidationResult, error) {
	e, err := w.editableEngine()
	if err != nil {
		return nil, err
	}
	w.mu.Lock()
	res, f := w.result, *w.file
	op := w.operationModeLocked()
	w.mu.Unlock()

	v := e.Validate(res.SourceColumns, res.TargetTable)
	if !v.CanProceed {
		return &v, eris.Wrapf(ErrMappingsInvalid, "wizard: %d blocking issues", len(v.Issues))
	}

	if op == model.OperationAppend && w.deps.Scorer != nil {
		sctx, h := w.tracker.Begin(ctx, inflight.Compat)
		score, err := w.deps.Scorer.Score(sctx, compat.ScoreRequest{
			File:     f,
			Table:    res.TargetTable,
			Sources:  res.SourceColumns,
			Mappings: e.Resolved(),
		})
		current := h.Current()
		h.Done()
		switch {
		case !current:
			return &v, ErrStale
		case err != nil && (recovery.IsCancellation(err) || ctx.Err() != nil):
			return &v, eris.Wrap(ErrCancelled, "wizard: compatibility score")
		case err != nil:
			// The score only informs; failing to get one does not block.
			w.note(model.LogWarn, "compatibility score unavailable: %v", err)
		default:
			w.mu.Lock()
			w.score = score
			w.mu.Unlock()
			w.note(model.LogInfo, "compatibility score %.0f", score.Score)
			for _, warn := range score.Warnings {
				w.note(model.LogWarn, "compatibility: %s", warn)
			}
		}
	}

	w.mu.Lock()
	if w.mode == "" {
		w.mode = model.ModeAdvanced
	}
	w.mu.Unlock()
	w.note(model.LogInfo, "mappings confirmed: %s", e.Stats().Summary())
	w.moveTo(model.PhaseUploadProcessing)
	return &v, nil
}

// CompatibilityScore returns the score fetched on confirmation, if any.
func (w *Wizard) CompatibilityScore() *model.CompatibilityScore {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.score
}
