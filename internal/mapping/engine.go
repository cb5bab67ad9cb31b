package mapping

import (
	"sync"

	"go.uber.org/zap"

	"github.com/sells-group/ingest-cli/internal/model"
)

// Engine holds mapping state for one session and reports each change to
// its owner through OnChange. It never touches session state directly.
type Engine struct {
	mu       sync.Mutex
	state    State
	onChange func(State)
}

// NewEngine creates an engine seeded with suggestions. onChange may be nil.
func NewEngine(suggestions []model.MappingSuggestion, onChange func(State)) *Engine {
	e := &Engine{onChange: onChange}
	e.state, _ = Reduce(State{}, LoadSuggestions{Suggestions: suggestions})
	return e
}

// Dispatch reduces a into the current state.
func (e *Engine) Dispatch(a Action) error {
	e.mu.Lock()
	next, err := Reduce(e.state, a)
	if err != nil {
		e.mu.Unlock()
		zap.L().Debug("mapping: action rejected",
			zap.String("action", ActionName(a)),
			zap.Error(err),
		)
		return err
	}
	e.state = next
	cb := e.onChange
	e.mu.Unlock()

	if cb != nil {
		cb(next)
	}
	return nil
}

// State returns the current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// UserMappings returns a copy of the overrides.
func (e *Engine) UserMappings() model.UserMappings {
	return e.State().User.Clone()
}

// Effective returns the effective mappings.
func (e *Engine) Effective() []model.EffectiveMapping {
	return Effective(e.State())
}

// Resolved returns the effective target of every source column.
func (e *Engine) Resolved() model.UserMappings {
	return Resolved(e.Effective())
}

// Stats returns counts over the effective mappings.
func (e *Engine) Stats() Stats {
	return ComputeStats(e.Effective())
}

// Validate checks the current mappings against schema.
func (e *Engine) Validate(sourceColumns []model.SourceColumn, schema *model.TargetTable) model.ValidationResult {
	st := e.State()
	return Validate(sourceColumns, schema, Effective(st), st.User)
}

// Options lists the selectable targets for source.
func (e *Engine) Options(schema *model.TargetTable, source string) []Option {
	return Options(schema, e.Effective(), source)
}

// UpdateMapping overrides the target for source.
func (e *Engine) UpdateMapping(source string, target model.MappingTarget) error {
	return e.Dispatch(UpdateMapping{Source: source, Target: target})
}

// RemoveMapping drops the override for source. Its suggestion applies again
// unless another override already holds that target.
func (e *Engine) RemoveMapping(source string) error {
	return e.Dispatch(RemoveMapping{Source: source})
}

// ClearAll drops every override.
func (e *Engine) ClearAll() error { return e.Dispatch(ClearAll{}) }

// AutoApplyHighConfidence adopts high-confidence suggestions as overrides,
// leaving ignored columns and explicit choices alone. Repeating it is a no-op.
func (e *Engine) AutoApplyHighConfidence() error { return e.Dispatch(AutoApplyHighConfidence{}) }

// ResetToSuggestions discards every edit and seeds the overrides from the
// suggestions.
func (e *Engine) ResetToSuggestions() error { return e.Dispatch(ResetToSuggestions{}) }
