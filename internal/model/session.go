package model

import "time"

// ValidationIssue is one finding of mapping validation.
type ValidationIssue struct {
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Column   string   `json:"column,omitempty"`
}

// ValidationResult is derived from the current mappings and never stored.
type ValidationResult struct {
	IsValid    bool              `json:"is_valid"`
	Issues     []ValidationIssue `json:"issues"`
	Warnings   []ValidationIssue `json:"warnings"`
	CanProceed bool              `json:"can_proceed"`
}

// ColumnSide says whether a recommendation is about a new or a missing column.
type ColumnSide string

const (
	SideNew     ColumnSide = "new"
	SideMissing ColumnSide = "missing"
)

// SuggestedAction is what the advisor proposes for a mismatched column.
type SuggestedAction string

const (
	ActionAddColumn   SuggestedAction = "add_column"
	ActionMapExisting SuggestedAction = "map_existing"
	ActionSkipColumn  SuggestedAction = "skip_column"
)

// Recommendation is advice for one mismatched column.
type Recommendation struct {
	Column          string          `json:"column"`
	Side            ColumnSide      `json:"side"`
	Severity        Severity        `json:"severity"`
	SuggestedAction SuggestedAction `json:"suggested_action"`
	TargetColumn    string          `json:"target_column,omitempty"`
	Reason          string          `json:"reason,omitempty"`
}

// CompatibilityReport is the outcome of schema compatibility review.
type CompatibilityReport struct {
	TableName          string           `json:"table_name"`
	ProblematicNew     []string         `json:"problematic_new_columns"`
	ProblematicMissing []string         `json:"problematic_missing_columns"`
	Recommendations    []Recommendation `json:"recommendations"`
	Confidence         float64          `json:"confidence"`
	AdvisoryCalled     bool             `json:"advisory_called"`
	Approved           map[string]bool  `json:"approved,omitempty"`
}

// FullyCompatible reports whether there is nothing to reconcile.
func (r *CompatibilityReport) FullyCompatible() bool {
	return r != nil && len(r.Recommendations) == 0
}

// PendingApprovals lists high-severity recommendations not yet approved.
func (r *CompatibilityReport) PendingApprovals() []Recommendation {
	if r == nil {
		return nil
	}
	var out []Recommendation
	for _, rec := range r.Recommendations {
		if rec.Severity.Rank() >= SeverityHigh.Rank() && !r.Approved[rec.Column] {
			out = append(out, rec)
		}
	}
	return out
}

// Phase is a step of the upload wizard.
type Phase string

const (
	PhaseFileSelection       Phase = "file-selection"
	PhaseModeDecision        Phase = "mode-decision"
	PhaseSchemaCompatibility Phase = "schema-compatibility"
	PhaseColumnMapping       Phase = "column-mapping"
	PhaseUploadProcessing    Phase = "upload-processing"
)

// UploadMode is the user's chosen flow.
type UploadMode string

const (
	ModeQuick    UploadMode = "quick"
	ModeAdvanced UploadMode = "advanced"
)

// OperationMode says whether the upload creates a table or appends to one.
type OperationMode string

const (
	OperationCreate OperationMode = "CREATE"
	OperationAppend OperationMode = "APPEND"
)

// UploadOptions are passed through to the upload service.
type UploadOptions struct {
	TargetTable   string        `json:"target_table,omitempty"`
	OperationMode OperationMode `json:"operation_mode"`
	UpsertKeys    []string      `json:"upsert_keys,omitempty"`
}

// FileOptions are chosen alongside the file in the first phase.
type FileOptions struct {
	TargetTable string `json:"target_table,omitempty"`
	UseAI       bool   `json:"use_ai"`
}

// UploadState is the executor's lifecycle state.
type UploadState string

const (
	UploadIdle       UploadState = "idle"
	UploadUploading  UploadState = "uploading"
	UploadProcessing UploadState = "processing"
	UploadSuccess    UploadState = "success"
	UploadError      UploadState = "error"
	UploadCancelled  UploadState = "cancelled"
	UploadRetrying   UploadState = "retrying"
	UploadRecovering UploadState = "recovering"
)

// Terminal reports whether no further transition happens without a retry.
func (s UploadState) Terminal() bool {
	return s == UploadSuccess || s == UploadError || s == UploadCancelled
}

// UploadResult is returned by a successful upload.
type UploadResult struct {
	RowsProcessed int      `json:"rows_processed"`
	ColumnsMapped int      `json:"columns_mapped"`
	Warnings      []string `json:"warnings"`
	TableName     string   `json:"table_name,omitempty"`
}

// LogLevel grades audit log entries.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// LogEntry is one line of the upload audit log.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     LogLevel  `json:"level"`
	Message   string    `json:"message"`
}

// SessionSnapshot is the persisted form of an upload session.
type SessionSnapshot struct {
	ID            string               `json:"id"`
	Phase         Phase                `json:"phase"`
	File          *File                `json:"file,omitempty"`
	FileOptions   FileOptions          `json:"file_options"`
	UploadMode    UploadMode           `json:"upload_mode,omitempty"`
	ModeChosen    bool                 `json:"mode_chosen,omitempty"`
	OperationMode OperationMode        `json:"operation_mode,omitempty"`
	SkipAdvisory  bool                 `json:"skip_advisory,omitempty"`
	UserMappings  UserMappings         `json:"user_mappings,omitempty"`
	Compatibility *CompatibilityReport `json:"compatibility,omitempty"`
	CompatScore   *CompatibilityScore  `json:"compatibility_score,omitempty"`
	UploadState   UploadState          `json:"upload_state"`
	Progress      int                  `json:"progress"`
	RetryAttempts int                  `json:"retry_attempts"`
	CreatedAt     time.Time            `json:"created_at"`
	UpdatedAt     time.Time            `json:"updated_at"`
}

// FailureRecord is a classified upload failure kept for later inspection.
type FailureRecord struct {
	ID         string            `json:"id"`
	SessionID  string            `json:"session_id"`
	Phase      Phase             `json:"phase"`
	Kind       string            `json:"kind"`
	Severity   Severity          `json:"severity"`
	Title      string            `json:"title"`
	Cause      string            `json:"cause,omitempty"`
	Code       string            `json:"code,omitempty"`
	StatusCode int               `json:"status_code,omitempty"`
	Attempt    int               `json:"attempt"`
	Context    map[string]string `json:"context,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}
