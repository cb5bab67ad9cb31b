package model

import (
	"encoding/json"

	"github.com/rotisserie/eris"
)

// Reserved strings used by the backend wire format for non-column targets.
const (
	WireImportAsNew = "import_as_new"
	WireIgnore      = "ignore_column"
)

// TargetKind discriminates the MappingTarget union.
type TargetKind string

const (
	KindUnset       TargetKind = "unset"
	KindColumn      TargetKind = "column"
	KindImportAsNew TargetKind = "import_as_new"
	KindIgnore      TargetKind = "ignore"
)

// MappingTarget is where a source column goes: a real target column, a new
// field, nowhere, or not decided yet. The zero value is Unset.
type MappingTarget struct {
	kind   TargetKind
	column string
}

// Column targets an existing column by name.
func Column(name string) MappingTarget {
	if name == "" {
		return Unset()
	}
	return MappingTarget{kind: KindColumn, column: name}
}

// ImportAsNew creates a new field named after the source column.
func ImportAsNew() MappingTarget { return MappingTarget{kind: KindImportAsNew} }

// Ignore excludes the source column from the upload.
func Ignore() MappingTarget { return MappingTarget{kind: KindIgnore} }

// Unset means no decision has been made.
func Unset() MappingTarget { return MappingTarget{} }

// Kind returns the union tag. The zero value reports KindUnset.
func (t MappingTarget) Kind() TargetKind {
	if t.kind == "" {
		return KindUnset
	}
	return t.kind
}

// ColumnName returns the target column for KindColumn, "" otherwise.
func (t MappingTarget) ColumnName() string {
	if t.kind != KindColumn {
		return ""
	}
	return t.column
}

func (t MappingTarget) IsColumn() bool      { return t.kind == KindColumn }
func (t MappingTarget) IsImportAsNew() bool { return t.kind == KindImportAsNew }
func (t MappingTarget) IsIgnore() bool      { return t.kind == KindIgnore }
func (t MappingTarget) IsUnset() bool       { return t.Kind() == KindUnset }

func (t MappingTarget) String() string {
	switch t.Kind() {
	case KindColumn:
		return t.column
	case KindImportAsNew:
		return "<import as new>"
	case KindIgnore:
		return "<ignore>"
	default:
		return "<unset>"
	}
}

// WireValue encodes the target the way the backend expects it. Unset
// encodes as nil.
func (t MappingTarget) WireValue() *string {
	var s string
	switch t.Kind() {
	case KindColumn:
		s = t.column
	case KindImportAsNew:
		s = WireImportAsNew
	case KindIgnore:
		s = WireIgnore
	default:
		return nil
	}
	return &s
}

// FromWire decodes a backend target value. The backend cannot distinguish a
// real column named like a sentinel; its strings are taken as sentinels.
func FromWire(v *string) MappingTarget {
	if v == nil {
		return Unset()
	}
	switch *v {
	case "":
		return Unset()
	case WireImportAsNew:
		return ImportAsNew()
	case WireIgnore:
		return Ignore()
	default:
		return Column(*v)
	}
}

type targetJSON struct {
	Kind   TargetKind `json:"kind" yaml:"kind"`
	Column string     `json:"column,omitempty" yaml:"column,omitempty"`
}

func (t MappingTarget) MarshalJSON() ([]byte, error) {
	return json.Marshal(targetJSON{Kind: t.Kind(), Column: t.ColumnName()})
}

func (t *MappingTarget) UnmarshalJSON(data []byte) error {
	var raw targetJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return eris.Wrap(err, "model: decode mapping target")
	}
	parsed, err := parseTarget(raw)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (t MappingTarget) MarshalYAML() (any, error) {
	return targetJSON{Kind: t.Kind(), Column: t.ColumnName()}, nil
}

// UnmarshalYAML implements the yaml.v3 unmarshaler via a decode callback.
func (t *MappingTarget) UnmarshalYAML(unmarshal func(any) error) error {
	var raw targetJSON
	if err := unmarshal(&raw); err != nil {
		return eris.Wrap(err, "model: decode mapping target")
	}
	parsed, err := parseTarget(raw)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func parseTarget(raw targetJSON) (MappingTarget, error) {
	switch raw.Kind {
	case KindColumn:
		if raw.Column == "" {
			return MappingTarget{}, eris.New("model: column target requires a column name")
		}
		return Column(raw.Column), nil
	case KindImportAsNew:
		return ImportAsNew(), nil
	case KindIgnore:
		return Ignore(), nil
	case KindUnset, "":
		return Unset(), nil
	default:
		return MappingTarget{}, eris.Errorf("model: unknown mapping target kind %q", raw.Kind)
	}
}

// UserMappings holds user overrides keyed by source column name.
type UserMappings map[string]MappingTarget

// Clone returns an independent copy.
func (u UserMappings) Clone() UserMappings {
	out := make(UserMappings, len(u))
	for k, v := range u {
		out[k] = v
	}
	return out
}

// Wire encodes the overrides for the backend.
func (u UserMappings) Wire() map[string]*string {
	out := make(map[string]*string, len(u))
	for k, v := range u {
		out[k] = v.WireValue()
	}
	return out
}
