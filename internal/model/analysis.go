package model

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// File is a candidate upload on local disk.
type File struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
	Path string `json:"path"`
}

// FileFromPath stats path and builds a File named after its base name.
func FileFromPath(path string) (File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return File{}, eris.Wrapf(err, "model: stat %s", path)
	}
	if info.IsDir() {
		return File{}, eris.Errorf("model: %s is a directory", path)
	}
	return File{Name: filepath.Base(path), Size: info.Size(), Path: path}, nil
}

// Open opens the file contents for reading.
func (f File) Open() (io.ReadCloser, error) {
	r, err := os.Open(f.Path)
	if err != nil {
		return nil, eris.Wrapf(err, "model: open %s", f.Name)
	}
	return r, nil
}

// Ext returns the lower-cased extension including the dot.
func (f File) Ext() string {
	return strings.ToLower(filepath.Ext(f.Name))
}

// SemanticType is the inferred meaning of a column's values.
type SemanticType string

const (
	TypeText     SemanticType = "text"
	TypeInteger  SemanticType = "integer"
	TypeDecimal  SemanticType = "decimal"
	TypeBoolean  SemanticType = "boolean"
	TypeDate     SemanticType = "date"
	TypeDateTime SemanticType = "datetime"
	TypeEmail    SemanticType = "email"
	TypePhone    SemanticType = "phone"
	TypeURL      SemanticType = "url"
	TypeUnknown  SemanticType = "unknown"
)

// SourceColumn is a column found in the uploaded file.
type SourceColumn struct {
	Name         string       `json:"name"`
	Type         SemanticType `json:"type"`
	SampleValues []string     `json:"sample_values"`
	NullCount    int          `json:"null_count,omitempty"`
}

// MappingType records how a suggestion was produced.
type MappingType string

const (
	MappingExact   MappingType = "exact"
	MappingPattern MappingType = "pattern"
	MappingAI      MappingType = "ai"
	MappingManual  MappingType = "manual"
)

// MappingSuggestion is the analyzer's proposal for one source column.
// TargetColumn is empty when there is no suggestion. Confidence is 0-100.
type MappingSuggestion struct {
	SourceColumn string      `json:"source_column"`
	TargetColumn string      `json:"target_column,omitempty"`
	Confidence   float64     `json:"confidence"`
	MappingType  MappingType `json:"mapping_type"`
}

// EffectiveMapping is a suggestion after user overrides are applied.
type EffectiveMapping struct {
	SourceColumn string        `json:"source_column"`
	Target       MappingTarget `json:"target"`
	Confidence   float64       `json:"confidence"`
	MappingType  MappingType   `json:"mapping_type"`
	Overridden   bool          `json:"overridden"`
}

// TargetColumn describes a column of an existing table.
type TargetColumn struct {
	Name     string `json:"name"`
	DataType string `json:"data_type"`
	Required bool   `json:"required"`
}

// TargetTable is the metadata of an existing table.
type TargetTable struct {
	Name        string         `json:"table_name"`
	RowCount    int64          `json:"row_count"`
	ColumnCount int            `json:"column_count"`
	Columns     []TargetColumn `json:"columns,omitempty"`
}

// Column looks up a column by exact name.
func (t *TargetTable) Column(name string) (TargetColumn, bool) {
	if t == nil {
		return TargetColumn{}, false
	}
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return TargetColumn{}, false
}

// TableSummary is one row of the table catalog.
type TableSummary struct {
	TableName   string `json:"table_name"`
	RowCount    int64  `json:"row_count"`
	ColumnCount int    `json:"column_count"`
}

// Severity grades issues, recommendations and errors.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities; unknown values rank lowest.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// DataQualityIssue is a problem found in the file's data.
type DataQualityIssue struct {
	Column       string   `json:"column,omitempty"`
	Severity     Severity `json:"severity"`
	Message      string   `json:"message"`
	AffectedRows int      `json:"affected_rows,omitempty"`
}

// ConfidenceSource tells where OverallConfidence came from.
type ConfidenceSource string

const (
	ConfidenceFromBackend ConfidenceSource = "backend"
	ConfidenceDerived     ConfidenceSource = "derived"
)

// AnalysisResult is everything learned about one file. It is replaced as a
// whole when the file or target table changes.
type AnalysisResult struct {
	FileName          string              `json:"file_name"`
	RowCount          int                 `json:"row_count"`
	SourceColumns     []SourceColumn      `json:"source_columns"`
	TargetTable       *TargetTable        `json:"target_table,omitempty"`
	Suggestions       []MappingSuggestion `json:"suggestions"`
	MissingColumns    []string            `json:"missing_columns"`
	NewColumns        []string            `json:"new_columns"`
	QualityIssues     []DataQualityIssue  `json:"quality_issues"`
	OverallConfidence float64             `json:"overall_confidence"`
	ConfidenceSource  ConfidenceSource    `json:"confidence_source"`
	RecommendQuick    bool                `json:"recommend_quick"`
}

// HasExistingTable reports whether the analysis targets an existing table.
func (a *AnalysisResult) HasExistingTable() bool {
	return a != nil && a.TargetTable != nil && a.TargetTable.Name != ""
}

// Suggestion returns the suggestion for a source column.
func (a *AnalysisResult) Suggestion(source string) (MappingSuggestion, bool) {
	if a == nil {
		return MappingSuggestion{}, false
	}
	for _, s := range a.Suggestions {
		if s.SourceColumn == source {
			return s, true
		}
	}
	return MappingSuggestion{}, false
}

// HasHighSeverityIssues reports whether any quality issue is high or worse.
func (a *AnalysisResult) HasHighSeverityIssues() bool {
	if a == nil {
		return false
	}
	for _, q := range a.QualityIssues {
		if q.Severity.Rank() >= SeverityHigh.Rank() {
			return true
		}
	}
	return false
}

// PreviewCell is one cell of a mapping preview.
type PreviewCell struct {
	SourceColumn string `json:"source_column"`
	TargetColumn string `json:"target_column,omitempty"`
	Value        string `json:"value"`
	Mapped       bool   `json:"mapped"`
}

// PreviewRow is a sampled row of the file with mapping flags.
type PreviewRow struct {
	Index int           `json:"index"`
	Cells []PreviewCell `json:"cells"`
}

// CompatibilityScore is returned by the compatibility service.
type CompatibilityScore struct {
	Score    float64  `json:"compatibility_score"`
	Warnings []string `json:"warnings"`
}
