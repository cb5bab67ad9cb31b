package ingestapi

import "io"

// File is a file sent as multipart form data.
type File struct {
	Name string
	Body io.Reader
}

// AnalyzeRequest configures file analysis.
type AnalyzeRequest struct {
	TargetTable         string
	UseAIFallback       bool
	ConfidenceThreshold float64
}

// ColumnInfo describes one source column found in the file.
type ColumnInfo struct {
	Name         string `json:"name"`
	DataType     string `json:"data_type"`
	SampleValues []any  `json:"sample_values"`
	NullCount    int    `json:"null_count"`
}

// Suggestion is a backend mapping suggestion. Confidence is 0-1.
type Suggestion struct {
	SourceColumn string  `json:"source_column"`
	TargetColumn *string `json:"target_column"`
	Confidence   float64 `json:"confidence"`
	MappingType  string  `json:"mapping_type"`
}

// QualityIssue is a data-quality finding.
type QualityIssue struct {
	Column   string `json:"column"`
	Type     string `json:"issue_type"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// DataQuality groups quality findings.
type DataQuality struct {
	Issues       []QualityIssue `json:"issues"`
	OverallScore float64        `json:"overall_score"`
}

// ColumnSchema describes a column of an existing table.
type ColumnSchema struct {
	Name       string `json:"name"`
	DataType   string `json:"data_type"`
	IsNullable bool   `json:"is_nullable"`
	HasDefault bool   `json:"has_default"`
}

// Required reports whether an insert must supply the column.
func (c ColumnSchema) Required() bool {
	return !c.IsNullable && !c.HasDefault
}

// TableSchema describes an existing table.
type TableSchema struct {
	TableName string         `json:"table_name"`
	RowCount  int64          `json:"row_count"`
	Columns   []ColumnSchema `json:"columns"`
}

// AnalyzeResponse is returned by Analyze.
type AnalyzeResponse struct {
	FileName             string       `json:"file_name"`
	TotalRows            int          `json:"total_rows"`
	Columns              []ColumnInfo `json:"columns"`
	TargetTable          *TableSchema `json:"target_table,omitempty"`
	MappingSuggestions   []Suggestion `json:"mapping_suggestions"`
	MissingColumns       []string     `json:"missing_columns"`
	NewColumns           []string     `json:"new_columns"`
	DataQuality          DataQuality  `json:"data_quality"`
	OverallConfidence    *float64     `json:"overall_confidence,omitempty"`
	RecommendQuickUpload bool         `json:"recommend_quick_upload"`
}

// PreviewCell is one mapped cell of a preview row.
type PreviewCell struct {
	SourceColumn string  `json:"source_column"`
	TargetColumn *string `json:"target_column"`
	Value        any     `json:"value"`
	Mapped       bool    `json:"mapped"`
}

// PreviewRow is one sampled row.
type PreviewRow struct {
	RowNumber int           `json:"row_number"`
	Cells     []PreviewCell `json:"cells"`
}

// PreviewResponse is returned by PreviewMapping.
type PreviewResponse struct {
	Rows []PreviewRow `json:"preview_rows"`
}

// CompatibilityResponse is returned by AnalyzeSchemaCompatibility.
type CompatibilityResponse struct {
	CompatibilityScore float64  `json:"compatibility_score"`
	Warnings           []string `json:"warnings"`
}

// RecommendationRequest asks for advice on mismatched columns.
type RecommendationRequest struct {
	TableName      string   `json:"table_name"`
	SourceColumns  []string `json:"source_columns"`
	MissingColumns []string `json:"missing_columns"`
	NewColumns     []string `json:"new_columns"`
}

// Recommendation is advice for one column.
type Recommendation struct {
	ColumnName      string  `json:"column_name"`
	ColumnType      string  `json:"column_type"`
	Severity        string  `json:"severity"`
	SuggestedAction string  `json:"suggested_action"`
	TargetColumn    *string `json:"target_column,omitempty"`
	Reason          string  `json:"reason"`
}

// RecommendationResponse is returned by GetColumnMismatchRecommendations.
type RecommendationResponse struct {
	Recommendations []Recommendation `json:"recommendations"`
	Confidence      float64          `json:"confidence"`
}

// UploadOptions are sent with an upload.
type UploadOptions struct {
	TargetTable   string   `json:"target_table,omitempty"`
	OperationMode string   `json:"operation_mode"`
	UpsertKeys    []string `json:"upsert_keys,omitempty"`
}

// UploadResponse is returned by Upload.
type UploadResponse struct {
	RowsProcessed int      `json:"rows_processed"`
	ColumnsMapped int      `json:"columns_mapped"`
	Warnings      []string `json:"warnings"`
	TableName     string   `json:"table_name,omitempty"`
}

// TableInfo is one entry of the table catalog.
type TableInfo struct {
	TableName   string `json:"table_name"`
	RowCount    int64  `json:"row_count"`
	ColumnCount int    `json:"column_count"`
}
