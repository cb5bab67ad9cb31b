package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ingest-cli/internal/compat"
	"github.com/sells-group/ingest-cli/internal/mapping"
	"github.com/sells-group/ingest-cli/internal/recovery"
	"github.com/sells-group/ingest-cli/internal/store"
	"github.com/sells-group/ingest-cli/internal/upload"
	"github.com/sells-group/ingest-cli/internal/wizard"
)

// errorBody is the JSON shape of every failed request.
type errorBody struct {
	Error  string                `json:"error"`
	Parsed *recovery.ParsedError `json:"parsed_error,omitempty"`
}

// badRequest marks errors caused by the request itself.
type badRequest struct{ err error }

func (e badRequest) Error() string { return e.err.Error() }
func (e badRequest) Unwrap() error { return e.err }

var errSessionNotFound = eris.New("server: session not found")

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("server: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, err error) {
	body := errorBody{Error: err.Error()}
	var pe *recovery.ParsedError
	if errors.As(err, &pe) {
		body.Parsed = pe
	}
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		zap.L().Error("server: request failed", zap.Error(err))
	}
	writeJSON(w, status, body)
}

func statusFor(err error) int {
	var br badRequest
	var pe *recovery.ParsedError
	switch {
	case errors.As(err, &br):
		return http.StatusBadRequest
	case errors.Is(err, errSessionNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &pe):
		if pe.Kind == recovery.KindTableNotFound {
			return http.StatusNotFound
		}
		// A classified failure is already on the session for the client
		// to act on.
		return http.StatusUnprocessableEntity
	case errors.Is(err, wizard.ErrWrongPhase),
		errors.Is(err, wizard.ErrNoFile),
		errors.Is(err, wizard.ErrNotAnalyzed),
		errors.Is(err, wizard.ErrStale),
		errors.Is(err, wizard.ErrCancelled),
		errors.Is(err, wizard.ErrApprovalsPending),
		errors.Is(err, wizard.ErrMappingsInvalid),
		errors.Is(err, wizard.ErrNoPrevious),
		errors.Is(err, wizard.ErrBusy),
		errors.Is(err, wizard.ErrNoError),
		errors.Is(err, wizard.ErrNothingToRetry),
		errors.Is(err, upload.ErrBusy),
		errors.Is(err, upload.ErrCancelled),
		errors.Is(err, mapping.ErrTargetClaimed):
		return http.StatusConflict
	case errors.Is(err, wizard.ErrNotDismissible),
		errors.Is(err, wizard.ErrActionNotOffered),
		errors.Is(err, recovery.ErrUnknownAction),
		errors.Is(err, mapping.ErrUnknownSource),
		errors.Is(err, compat.ErrUnknownRecommendation),
		errors.Is(err, compat.ErrNoTable):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return badRequest{err}
	}
	return nil
}
