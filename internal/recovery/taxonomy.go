// Package recovery turns failures from the backend, the warehouse and the
// transport into a closed set of error kinds, each with a severity, retry
// settings and the recovery actions a user can take.
package recovery

import (
	"time"

	"github.com/sells-group/ingest-cli/internal/model"
	"github.com/sells-group/ingest-cli/internal/resilience"
)

// Kind is a classified error kind.
type Kind string

const (
	KindTableNotFound          Kind = "table_not_found"
	KindSchemaIncompatible     Kind = "schema_incompatible"
	KindColumnTypeMismatch     Kind = "column_type_mismatch"
	KindMissingRequiredColumns Kind = "missing_required_columns"
	KindPermissionDenied       Kind = "permission_denied"
	KindUniqueViolation        Kind = "unique_constraint_violation"
	KindForeignKeyViolation    Kind = "foreign_key_violation"
	KindNotNullViolation       Kind = "not_null_violation"
	KindConstraintViolation    Kind = "constraint_violation"
	KindTransactionFailed      Kind = "transaction_failed"
	KindAdvisoryServiceDown    Kind = "advisory_service_down"
	KindNetworkError           Kind = "network_error"
	KindTimeout                Kind = "timeout"
	KindConnectionFailed       Kind = "connection_failed"
	KindValidationError        Kind = "validation_error"
	KindFileTooLarge           Kind = "file_too_large"
	KindInvalidFileFormat      Kind = "invalid_file_format"
	KindResourceExhausted      Kind = "resource_exhausted"
	KindRateLimited            Kind = "rate_limited"
	KindAnalysisFailed         Kind = "analysis_failed"
	KindServiceUnavailable     Kind = "service_unavailable"
)

// RetryConfig holds the backoff settings of a retryable kind.
type RetryConfig struct {
	MaxAttempts     int     `json:"max_attempts"`
	BaseDelayMs     int     `json:"base_delay_ms"`
	MaxDelayMs      int     `json:"max_delay_ms"`
	ExponentialBase float64 `json:"exponential_base"`
}

// Policy converts the config to a resilience policy.
func (c RetryConfig) Policy() resilience.Policy {
	return resilience.PolicyFromMillis(c.MaxAttempts, c.BaseDelayMs, c.MaxDelayMs, c.ExponentialBase)
}

// RetryDelay returns min(BaseDelayMs * ExponentialBase^attempt, MaxDelayMs).
func RetryDelay(attempt int, cfg RetryConfig) time.Duration {
	return cfg.Policy().Backoff(attempt)
}

// Definition is the fixed description of a Kind.
type Definition struct {
	Kind        Kind
	Severity    model.Severity
	Title       string
	Message     string
	Recoverable bool
	Retryable   bool
	Retry       *RetryConfig
	Actions     []ActionKind
}

var (
	quickRetry   = &RetryConfig{MaxAttempts: 3, BaseDelayMs: 1000, MaxDelayMs: 10000, ExponentialBase: 2}
	slowRetry    = &RetryConfig{MaxAttempts: 3, BaseDelayMs: 2000, MaxDelayMs: 30000, ExponentialBase: 2}
	txRetry      = &RetryConfig{MaxAttempts: 3, BaseDelayMs: 500, MaxDelayMs: 5000, ExponentialBase: 2}
	advisorRetry = &RetryConfig{MaxAttempts: 2, BaseDelayMs: 2000, MaxDelayMs: 10000, ExponentialBase: 2}
	rateRetry    = &RetryConfig{MaxAttempts: 5, BaseDelayMs: 5000, MaxDelayMs: 60000, ExponentialBase: 2}
)

var definitions = map[Kind]Definition{
	KindTableNotFound: {
		Severity: model.SeverityHigh, Title: "Table not found",
		Message:     "The target table does not exist. Create it from this file or choose another table.",
		Recoverable: true,
		Actions:     []ActionKind{ActionSwitchToCreate, ActionGoToFileSelection, ActionCancel},
	},
	KindSchemaIncompatible: {
		Severity: model.SeverityHigh, Title: "Schema incompatible",
		Message:     "The file's columns do not fit the target table.",
		Recoverable: true,
		Actions:     []ActionKind{ActionGoToSchemaReview, ActionSwitchToAdvanced, ActionSwitchToCreate},
	},
	KindColumnTypeMismatch: {
		Severity: model.SeverityMedium, Title: "Column type mismatch",
		Message:     "Some values do not match the type of the column they are mapped to.",
		Recoverable: true,
		Actions:     []ActionKind{ActionGoToMapping, ActionSwitchToAdvanced},
	},
	KindMissingRequiredColumns: {
		Severity: model.SeverityHigh, Title: "Required columns missing",
		Message:     "The target table requires columns that are not mapped.",
		Recoverable: true,
		Actions:     []ActionKind{ActionGoToMapping, ActionSwitchToAdvanced},
	},
	KindPermissionDenied: {
		Severity: model.SeverityCritical, Title: "Permission denied",
		Message: "You are not allowed to perform this upload. Sign in again or ask an administrator for access.",
		Actions: []ActionKind{ActionReauthenticate, ActionContactAdmin, ActionCancel},
	},
	KindUniqueViolation: {
		Severity: model.SeverityHigh, Title: "Duplicate records",
		Message:     "Some rows duplicate values that must be unique in the target table.",
		Recoverable: true,
		Actions:     []ActionKind{ActionGoToMapping, ActionSwitchToCreate, ActionCancel},
	},
	KindForeignKeyViolation: {
		Severity: model.SeverityHigh, Title: "Missing referenced records",
		Message:     "Some rows reference records that do not exist.",
		Recoverable: true,
		Actions:     []ActionKind{ActionGoToMapping, ActionContactAdmin},
	},
	KindNotNullViolation: {
		Severity: model.SeverityHigh, Title: "Empty required values",
		Message:     "Some rows leave a required column empty.",
		Recoverable: true,
		Actions:     []ActionKind{ActionGoToMapping, ActionGoToFileSelection},
	},
	KindConstraintViolation: {
		Severity: model.SeverityHigh, Title: "Constraint violation",
		Message:     "The data breaks a rule defined on the target table.",
		Recoverable: true,
		Actions:     []ActionKind{ActionGoToMapping, ActionGoToFileSelection},
	},
	KindTransactionFailed: {
		Severity: model.SeverityMedium, Title: "Transaction failed",
		Message:     "The upload was rolled back. No rows were written.",
		Recoverable: true, Retryable: true, Retry: txRetry,
		Actions: []ActionKind{ActionRetry, ActionCancel},
	},
	KindAdvisoryServiceDown: {
		Severity: model.SeverityLow, Title: "Recommendations unavailable",
		Message:     "Column recommendations could not be loaded. You can continue without them.",
		Recoverable: true, Retryable: true, Retry: advisorRetry,
		Actions: []ActionKind{ActionRetryWithDelay, ActionSkipAdvisory},
	},
	KindNetworkError: {
		Severity: model.SeverityMedium, Title: "Network error",
		Message:     "The server could not be reached. Check your connection.",
		Recoverable: true, Retryable: true, Retry: quickRetry,
		Actions: []ActionKind{ActionRetryWithDelay, ActionCancel},
	},
	KindTimeout: {
		Severity: model.SeverityMedium, Title: "Request timed out",
		Message:     "The operation took too long to finish.",
		Recoverable: true, Retryable: true, Retry: slowRetry,
		Actions: []ActionKind{ActionRetryWithDelay, ActionCancel},
	},
	KindConnectionFailed: {
		Severity: model.SeverityHigh, Title: "Connection failed",
		Message:     "The connection to the database was refused or dropped.",
		Recoverable: true, Retryable: true, Retry: quickRetry,
		Actions: []ActionKind{ActionRetryWithDelay, ActionContactAdmin, ActionCancel},
	},
	KindValidationError: {
		Severity: model.SeverityMedium, Title: "Validation failed",
		Message:     "The server rejected the upload request.",
		Recoverable: true,
		Actions:     []ActionKind{ActionGoToMapping, ActionGoToFileSelection},
	},
	KindFileTooLarge: {
		Severity: model.SeverityMedium, Title: "File too large",
		Message:     "The file exceeds the upload size limit.",
		Recoverable: true,
		Actions:     []ActionKind{ActionGoToFileSelection, ActionCancel},
	},
	KindInvalidFileFormat: {
		Severity: model.SeverityMedium, Title: "Unsupported file",
		Message:     "The file could not be read as CSV or Excel.",
		Recoverable: true,
		Actions:     []ActionKind{ActionGoToFileSelection, ActionCancel},
	},
	KindResourceExhausted: {
		Severity: model.SeverityCritical, Title: "Server out of resources",
		Message: "The server ran out of memory, disk or connections.",
		Actions: []ActionKind{ActionContactAdmin, ActionCancel},
	},
	KindRateLimited: {
		Severity: model.SeverityLow, Title: "Too many requests",
		Message:     "The server asked us to slow down.",
		Recoverable: true, Retryable: true, Retry: rateRetry,
		Actions: []ActionKind{ActionRetryWithDelay, ActionCancel},
	},
	KindAnalysisFailed: {
		Severity: model.SeverityMedium, Title: "Analysis failed",
		Message:     "The file could not be analyzed.",
		Recoverable: true, Retryable: true, Retry: quickRetry,
		Actions: []ActionKind{ActionRetry, ActionGoToFileSelection},
	},
	KindServiceUnavailable: {
		Severity: model.SeverityMedium, Title: "Service unavailable",
		Message:     "The service is temporarily unavailable.",
		Recoverable: true, Retryable: true, Retry: quickRetry,
		Actions: []ActionKind{ActionRetryWithDelay, ActionContactAdmin, ActionCancel},
	},
}

// Lookup returns the definition for k. Unknown kinds get the
// service_unavailable definition.
func Lookup(k Kind) Definition {
	d, ok := definitions[k]
	if !ok {
		k = KindServiceUnavailable
		d = definitions[k]
	}
	d.Kind = k
	return d
}

// Kinds lists every kind.
func Kinds() []Kind {
	out := make([]Kind, 0, len(definitions))
	for k := range definitions {
		out = append(out, k)
	}
	return out
}
