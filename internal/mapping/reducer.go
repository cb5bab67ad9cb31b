// Package mapping merges analyzer suggestions with user overrides. State
// changes go through Reduce, a pure (state, action) -> state function.
package mapping

import (
	"sort"

	"github.com/rotisserie/eris"

	"github.com/sells-group/ingest-cli/internal/confidence"
	"github.com/sells-group/ingest-cli/internal/model"
)

var (
	// ErrUnknownSource is returned for a source column the analysis never saw.
	ErrUnknownSource = eris.New("mapping: unknown source column")
	// ErrTargetClaimed is returned when another source already maps to the target.
	ErrTargetClaimed = eris.New("mapping: target column already mapped")
)

// State is the mapping engine's data. Values are treated as immutable;
// Reduce always returns fresh maps and slices.
type State struct {
	Suggestions []model.MappingSuggestion `json:"suggestions"`
	User        model.UserMappings        `json:"user_mappings"`
}

// Action is a state transition request.
type Action interface {
	actionName() string
}

// LoadSuggestions replaces the suggestions and drops every override.
type LoadSuggestions struct{ Suggestions []model.MappingSuggestion }

// UpdateMapping sets an override. An Unset target records an explicit
// "no mapping" that hides the suggestion.
type UpdateMapping struct {
	Source string
	Target model.MappingTarget
}

// RemoveMapping drops the override so the suggestion applies again.
type RemoveMapping struct{ Source string }

// ClearAll drops every override.
type ClearAll struct{}

// AutoApplyHighConfidence promotes high-confidence suggestions to overrides.
type AutoApplyHighConfidence struct{}

// ResetToSuggestions discards overrides and reseeds them from suggestions.
type ResetToSuggestions struct{}

// RestoreUser replaces overrides wholesale, for resuming a saved session.
type RestoreUser struct{ User model.UserMappings }

func (LoadSuggestions) actionName() string         { return "load_suggestions" }
func (UpdateMapping) actionName() string           { return "update_mapping" }
func (RemoveMapping) actionName() string           { return "remove_mapping" }
func (ClearAll) actionName() string                { return "clear_all" }
func (AutoApplyHighConfidence) actionName() string { return "auto_apply_high_confidence" }
func (ResetToSuggestions) actionName() string      { return "reset_to_suggestions" }
func (RestoreUser) actionName() string             { return "restore_user" }

// ActionName returns a stable name for logging.
func ActionName(a Action) string { return a.actionName() }

// Reduce applies a to s. The input state is never modified.
func Reduce(s State, a Action) (State, error) {
	next := State{Suggestions: s.Suggestions, User: s.User.Clone()}

	switch act := a.(type) {
	case LoadSuggestions:
		next.Suggestions = append([]model.MappingSuggestion(nil), act.Suggestions...)
		next.User = model.UserMappings{}

	case UpdateMapping:
		if !hasSource(s, act.Source) {
			return s, eris.Wrapf(ErrUnknownSource, "update %q", act.Source)
		}
		if col := act.Target.ColumnName(); col != "" {
			if owner, ok := claimedBy(Effective(s), col); ok && owner != act.Source {
				return s, eris.Wrapf(ErrTargetClaimed, "%q is mapped from %q", col, owner)
			}
		}
		next.User[act.Source] = act.Target

	case RemoveMapping:
		delete(next.User, act.Source)
		// A suggestion that comes back must not collide with another override.
		if sug, ok := suggestionFor(s, act.Source); ok && sug.TargetColumn != "" {
			for src, t := range next.User {
				if src != act.Source && t.ColumnName() == sug.TargetColumn {
					next.User[act.Source] = model.Unset()
					break
				}
			}
		}

	case ClearAll:
		next.User = model.UserMappings{}

	case AutoApplyHighConfidence:
		claimed := userClaims(next.User)
		for _, sug := range byConfidence(s.Suggestions) {
			if sug.TargetColumn == "" || sug.Confidence < confidence.High {
				continue
			}
			// Ignored columns and explicit column choices stay as the user left them.
			if cur, ok := next.User[sug.SourceColumn]; ok && (cur.IsIgnore() || cur.IsColumn()) {
				continue
			}
			if _, ok := claimed[sug.TargetColumn]; ok {
				continue
			}
			next.User[sug.SourceColumn] = model.Column(sug.TargetColumn)
			claimed[sug.TargetColumn] = sug.SourceColumn
		}

	case ResetToSuggestions:
		next.User = seedFromSuggestions(s.Suggestions)

	case RestoreUser:
		next.User = sanitize(s, act.User)

	default:
		return s, eris.Errorf("mapping: unsupported action %T", a)
	}

	return next, nil
}

// seedFromSuggestions turns every applicable suggestion into an override,
// letting the higher-confidence source win a contested target.
func seedFromSuggestions(sugs []model.MappingSuggestion) model.UserMappings {
	user := model.UserMappings{}
	claimed := map[string]string{}
	for _, sug := range byConfidence(sugs) {
		if sug.TargetColumn == "" || sug.Confidence < confidence.Low {
			continue
		}
		if _, ok := claimed[sug.TargetColumn]; ok {
			continue
		}
		user[sug.SourceColumn] = model.Column(sug.TargetColumn)
		claimed[sug.TargetColumn] = sug.SourceColumn
	}
	return user
}

// Effective applies overrides to suggestions, preserving suggestion order.
// Overrides claim targets first; remaining suggestions claim in descending
// confidence, and a suggestion whose target is taken becomes Unset.
func Effective(s State) []model.EffectiveMapping {
	claimed := userClaims(s.User)
	resolved := make(map[string]model.EffectiveMapping, len(s.Suggestions))

	for _, sug := range s.Suggestions {
		override, ok := s.User[sug.SourceColumn]
		if !ok {
			continue
		}
		em := model.EffectiveMapping{
			SourceColumn: sug.SourceColumn,
			Target:       override,
			Confidence:   sug.Confidence,
			MappingType:  sug.MappingType,
			Overridden:   true,
		}
		if override.IsColumn() && override.ColumnName() != sug.TargetColumn {
			em.Confidence = confidence.Max
			em.MappingType = model.MappingManual
		}
		resolved[sug.SourceColumn] = em
	}

	for _, sug := range byConfidence(s.Suggestions) {
		if _, done := resolved[sug.SourceColumn]; done {
			continue
		}
		target := model.Unset()
		if sug.TargetColumn != "" {
			if _, taken := claimed[sug.TargetColumn]; !taken {
				target = model.Column(sug.TargetColumn)
				claimed[sug.TargetColumn] = sug.SourceColumn
			}
		}
		resolved[sug.SourceColumn] = model.EffectiveMapping{
			SourceColumn: sug.SourceColumn,
			Target:       target,
			Confidence:   sug.Confidence,
			MappingType:  sug.MappingType,
		}
	}

	out := make([]model.EffectiveMapping, 0, len(s.Suggestions))
	for _, sug := range s.Suggestions {
		out = append(out, resolved[sug.SourceColumn])
	}
	return out
}

// Resolved flattens effective mappings into one target per source column,
// the form sent to preview, compatibility and upload services.
func Resolved(effective []model.EffectiveMapping) model.UserMappings {
	out := make(model.UserMappings, len(effective))
	for _, em := range effective {
		out[em.SourceColumn] = em.Target
	}
	return out
}

// sanitize keeps overrides for known sources and drops later duplicates of
// a claimed target, visiting sources in name order.
func sanitize(s State, user model.UserMappings) model.UserMappings {
	keys := make([]string, 0, len(user))
	for k := range user {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := model.UserMappings{}
	claimed := map[string]bool{}
	for _, src := range keys {
		if !hasSource(s, src) {
			continue
		}
		t := user[src]
		if col := t.ColumnName(); col != "" {
			if claimed[col] {
				continue
			}
			claimed[col] = true
		}
		out[src] = t
	}
	return out
}

func hasSource(s State, source string) bool {
	_, ok := suggestionFor(s, source)
	return ok
}

func suggestionFor(s State, source string) (model.MappingSuggestion, bool) {
	for _, sug := range s.Suggestions {
		if sug.SourceColumn == source {
			return sug, true
		}
	}
	return model.MappingSuggestion{}, false
}

func userClaims(u model.UserMappings) map[string]string {
	claimed := make(map[string]string, len(u))
	for src, t := range u {
		if col := t.ColumnName(); col != "" {
			claimed[col] = src
		}
	}
	return claimed
}

func claimedBy(effective []model.EffectiveMapping, column string) (string, bool) {
	for _, em := range effective {
		if em.Target.ColumnName() == column {
			return em.SourceColumn, true
		}
	}
	return "", false
}

// byConfidence returns a copy sorted by descending confidence, stable on ties.
func byConfidence(sugs []model.MappingSuggestion) []model.MappingSuggestion {
	out := append([]model.MappingSuggestion(nil), sugs...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	return out
}
