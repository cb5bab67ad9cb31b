// Package filecheck validates a candidate upload before any network call.
package filecheck

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/sells-group/ingest-cli/internal/model"
)

// Options controls which checks apply.
type Options struct {
	AllowedTypes []string // extensions, with or without the dot
	MaxSizeBytes int64
	ValidateName bool
}

// DefaultOptions accepts spreadsheets up to 100 MB.
func DefaultOptions() Options {
	return Options{
		AllowedTypes: []string{".csv", ".xlsx"},
		MaxSizeBytes: 100 << 20,
		ValidateName: true,
	}
}

// Result lists every failed check.
type Result struct {
	IsValid bool     `json:"is_valid"`
	Errors  []string `json:"errors"`
}

// Error joins the messages.
func (r Result) Error() string {
	return strings.Join(r.Errors, "; ")
}

var namePattern = regexp.MustCompile(`^[a-zA-Z0-9_\-\s.]+$`)

// Validate runs the type, size and name checks. All checks run; failures are
// collected, not short-circuited.
func Validate(f model.File, opts Options) Result {
	var errs []string

	if len(opts.AllowedTypes) > 0 && !allowedType(f.Name, opts.AllowedTypes) {
		errs = append(errs, fmt.Sprintf("file type not allowed: %q (allowed: %s)",
			f.Name, strings.Join(opts.AllowedTypes, ", ")))
	}

	if opts.MaxSizeBytes > 0 && f.Size > opts.MaxSizeBytes {
		errs = append(errs, fmt.Sprintf("file is %s, exceeds the %s limit",
			humanize.IBytes(uint64(f.Size)), humanize.IBytes(uint64(opts.MaxSizeBytes))))
	}

	if opts.ValidateName && !namePattern.MatchString(f.Name) {
		errs = append(errs, "file name contains invalid characters; use letters, digits, spaces, '.', '-' or '_'")
	}

	return Result{IsValid: len(errs) == 0, Errors: errs}
}

func allowedType(name string, allowed []string) bool {
	lower := strings.ToLower(name)
	for _, ext := range allowed {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}
