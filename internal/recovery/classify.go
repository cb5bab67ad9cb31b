package recovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/sells-group/ingest-cli/internal/model"
	"github.com/sells-group/ingest-cli/internal/resilience"
)

// Coded is implemented by errors that carry a backend error code.
type Coded interface {
	ErrorCode() string
}

// StatusCarrier is implemented by errors that carry an HTTP status.
type StatusCarrier interface {
	HTTPStatus() int
}

// ParsedError is a classified failure. It is immutable once built.
type ParsedError struct {
	Kind        Kind              `json:"type"`
	Severity    model.Severity    `json:"severity"`
	Title       string            `json:"title"`
	UserMessage string            `json:"user_message"`
	Recoverable bool              `json:"recoverable"`
	Retryable   bool              `json:"retryable"`
	Retry       *RetryConfig      `json:"retry_config,omitempty"`
	Actions     []ActionKind      `json:"suggested_actions"`
	Code        string            `json:"code,omitempty"`
	StatusCode  int               `json:"status_code,omitempty"`
	Cause       string            `json:"cause,omitempty"`
	Context     map[string]string `json:"context,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`

	err error
}

func (e *ParsedError) Error() string {
	if e.Cause != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Cause)
	}
	return string(e.Kind)
}

func (e *ParsedError) Unwrap() error { return e.err }

// Dismissible reports whether the error may be closed without choosing an
// action. Critical errors can only be left through cancel.
func (e *ParsedError) Dismissible() bool {
	return e.Severity != model.SeverityCritical
}

// Blocking reports whether the error needs an explicit user action before
// anything else happens.
func (e *ParsedError) Blocking() bool {
	return e.Severity.Rank() >= model.SeverityHigh.Rank()
}

// New builds a ParsedError of kind k directly.
func New(k Kind, cause string, ctx map[string]string) *ParsedError {
	return build(Lookup(k), cause, ctx, nil)
}

func build(d Definition, cause string, ctx map[string]string, err error) *ParsedError {
	pe := &ParsedError{
		Kind:        d.Kind,
		Severity:    d.Severity,
		Title:       d.Title,
		UserMessage: d.Message,
		Recoverable: d.Recoverable,
		Retryable:   d.Retryable,
		Actions:     append([]ActionKind(nil), d.Actions...),
		Cause:       cause,
		Timestamp:   time.Now().UTC(),
		err:         err,
	}
	if d.Retry != nil {
		rc := *d.Retry
		pe.Retry = &rc
	}
	if len(ctx) > 0 {
		pe.Context = make(map[string]string, len(ctx))
		for k, v := range ctx {
			pe.Context[k] = v
		}
	}
	return pe
}

var codeTable = map[string]Kind{
	"TABLE_NOT_FOUND":          KindTableNotFound,
	"42P01":                    KindTableNotFound,
	"SCHEMA_INCOMPATIBLE":      KindSchemaIncompatible,
	"SCHEMA_MISMATCH":          KindSchemaIncompatible,
	"COLUMN_TYPE_MISMATCH":     KindColumnTypeMismatch,
	"42804":                    KindColumnTypeMismatch,
	"22P02":                    KindColumnTypeMismatch,
	"MISSING_REQUIRED_COLUMNS": KindMissingRequiredColumns,
	"42703":                    KindSchemaIncompatible,
	"42P07":                    KindSchemaIncompatible,
	"TABLE_EXISTS":             KindSchemaIncompatible,
	"PERMISSION_DENIED":        KindPermissionDenied,
	"UNAUTHORIZED":             KindPermissionDenied,
	"FORBIDDEN":                KindPermissionDenied,
	"TOKEN_MISSING":            KindPermissionDenied,
	"TOKEN_EXPIRED":            KindPermissionDenied,
	"42501":                    KindPermissionDenied,
	"UNIQUE_VIOLATION":         KindUniqueViolation,
	"23505":                    KindUniqueViolation,
	"FOREIGN_KEY_VIOLATION":    KindForeignKeyViolation,
	"23503":                    KindForeignKeyViolation,
	"NOT_NULL_VIOLATION":       KindNotNullViolation,
	"23502":                    KindNotNullViolation,
	"CONSTRAINT_VIOLATION":     KindConstraintViolation,
	"23514":                    KindConstraintViolation,
	"TRANSACTION_FAILED":       KindTransactionFailed,
	"40001":                    KindTransactionFailed,
	"40P01":                    KindTransactionFailed,
	"25P02":                    KindTransactionFailed,
	"ADVISORY_SERVICE_DOWN":    KindAdvisoryServiceDown,
	"AI_SERVICE_UNAVAILABLE":   KindAdvisoryServiceDown,
	"NETWORK_ERROR":            KindNetworkError,
	"ENOTFOUND":                KindNetworkError,
	"ENETUNREACH":              KindNetworkError,
	"TIMEOUT":                  KindTimeout,
	"ETIMEDOUT":                KindTimeout,
	"57014":                    KindTimeout,
	"CONNECTION_FAILED":        KindConnectionFailed,
	"ECONNREFUSED":             KindConnectionFailed,
	"ECONNRESET":               KindConnectionFailed,
	"08000":                    KindConnectionFailed,
	"08001":                    KindConnectionFailed,
	"08006":                    KindConnectionFailed,
	"VALIDATION_ERROR":         KindValidationError,
	"FILE_TOO_LARGE":           KindFileTooLarge,
	"PAYLOAD_TOO_LARGE":        KindFileTooLarge,
	"INVALID_FILE_FORMAT":      KindInvalidFileFormat,
	"UNSUPPORTED_FILE_TYPE":    KindInvalidFileFormat,
	"RESOURCE_EXHAUSTED":       KindResourceExhausted,
	"53100":                    KindResourceExhausted,
	"53200":                    KindResourceExhausted,
	"53300":                    KindResourceExhausted,
	"RATE_LIMITED":             KindRateLimited,
	"ANALYSIS_FAILED":          KindAnalysisFailed,
	"SERVICE_UNAVAILABLE":      KindServiceUnavailable,
}

func kindForStatus(status int) (Kind, bool) {
	switch {
	case status == 401 || status == 403:
		return KindPermissionDenied, true
	case status == 404:
		return KindTableNotFound, true
	case status == 408 || status == 504:
		return KindTimeout, true
	case status == 409:
		return KindConstraintViolation, true
	case status == 413:
		return KindFileTooLarge, true
	case status == 422:
		return KindValidationError, true
	case status == 429 || (status >= 500 && status <= 599):
		return KindServiceUnavailable, true
	default:
		return "", false
	}
}

type messagePattern struct {
	re   *regexp.Regexp
	kind Kind
}

// Checked in order; the first match wins.
var messagePatterns = []messagePattern{
	{regexp.MustCompile(`(?i)unique|duplicate key`), KindUniqueViolation},
	{regexp.MustCompile(`(?i)foreign key`), KindForeignKeyViolation},
	{regexp.MustCompile(`(?i)not[ -]null|null value in column`), KindNotNullViolation},
	{regexp.MustCompile(`(?i)timeout|timed out|deadline exceeded`), KindTimeout},
	{regexp.MustCompile(`(?i)permission|unauthori[sz]ed|forbidden|access denied`), KindPermissionDenied},
	{regexp.MustCompile(`(?i)(relation|table) .*(does not exist|not found)|no such table`), KindTableNotFound},
	{regexp.MustCompile(`(?i)connection (refused|reset)`), KindConnectionFailed},
	{regexp.MustCompile(`(?i)no such host|network is unreachable|network error`), KindNetworkError},
	{regexp.MustCompile(`(?i)deadlock|serialization failure|transaction`), KindTransactionFailed},
	{regexp.MustCompile(`(?i)out of memory|disk full|too many connections`), KindResourceExhausted},
	{regexp.MustCompile(`(?i)invalid input syntax|type mismatch`), KindColumnTypeMismatch},
	{regexp.MustCompile(`(?i)constraint`), KindConstraintViolation},
	{regexp.MustCompile(`(?i)validation (failed|error)`), KindValidationError},
}

// Classify maps err onto the taxonomy. Precedence: backend error code,
// then HTTP status, then message patterns, then service_unavailable. The
// original message is always kept in Cause. Callers handle cancellation
// before classifying; a cancelled operation is not an error kind.
func Classify(err error, ctx map[string]string) *ParsedError {
	if err == nil {
		return nil
	}
	var pe *ParsedError
	if errors.As(err, &pe) {
		return pe
	}

	msg := err.Error()
	code := codeOf(err)
	status := statusOf(err)

	kind, ok := codeTable[strings.ToUpper(code)]
	if !ok {
		kind, ok = kindForStatus(status)
	}
	if !ok {
		for _, p := range messagePatterns {
			if p.re.MatchString(msg) {
				kind, ok = p.kind, true
				break
			}
		}
	}
	if !ok {
		kind = KindServiceUnavailable
	}

	out := build(Lookup(kind), msg, ctx, err)
	out.Code = code
	out.StatusCode = status
	return out
}

func codeOf(err error) string {
	var coded Coded
	if errors.As(err, &coded) {
		if c := coded.ErrorCode(); c != "" {
			return c
		}
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}

	switch {
	case errors.Is(err, resilience.ErrBreakerOpen):
		return "ADVISORY_SERVICE_DOWN"
	case errors.Is(err, context.DeadlineExceeded):
		return "TIMEOUT"
	case errors.Is(err, syscall.ECONNREFUSED):
		return "ECONNREFUSED"
	case errors.Is(err, syscall.ECONNRESET):
		return "ECONNRESET"
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return "ENOTFOUND"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "ETIMEDOUT"
	}
	return ""
}

func statusOf(err error) int {
	var sc StatusCarrier
	if errors.As(err, &sc) {
		return sc.HTTPStatus()
	}
	var te *resilience.TransientError
	if errors.As(err, &te) {
		return te.StatusCode
	}
	return 0
}

// IsRetryable reports whether another attempt is allowed after attempt
// failed attempts.
func IsRetryable(err *ParsedError, attempt int) bool {
	if err == nil || !err.Retryable || err.Retry == nil {
		return false
	}
	return attempt < err.Retry.MaxAttempts
}

// IsCancellation reports whether err is a user or caller cancellation.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled)
}
