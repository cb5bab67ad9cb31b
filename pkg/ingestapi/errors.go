package ingestapi

import (
	"encoding/json"
	"fmt"
	"strings"
)

// APIError is a non-2xx response. Code and Message come from the body when
// it parses; Body always holds the raw text.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = strings.TrimSpace(e.Body)
	}
	if e.Code != "" {
		return fmt.Sprintf("ingestapi: status %d (%s): %s", e.StatusCode, e.Code, msg)
	}
	return fmt.Sprintf("ingestapi: status %d: %s", e.StatusCode, msg)
}

// ErrorCode returns the backend error code, if any.
func (e *APIError) ErrorCode() string { return e.Code }

// HTTPStatus returns the response status.
func (e *APIError) HTTPStatus() int { return e.StatusCode }

// newAPIError builds an APIError from a response. Bodies that are not JSON,
// or JSON of an unknown shape, leave Code and Message empty.
func newAPIError(status int, body []byte) *APIError {
	e := &APIError{StatusCode: status, Body: string(body)}

	var shapes struct {
		Code    string          `json:"code"`
		Message string          `json:"message"`
		Detail  json.RawMessage `json:"detail"`
		Error   json.RawMessage `json:"error"`
	}
	if json.Unmarshal(body, &shapes) != nil {
		return e
	}
	e.Code, e.Message = shapes.Code, shapes.Message

	// {"error": {"code": ..., "message": ...}} or {"error": "..."}
	if len(shapes.Error) > 0 {
		var nested struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		var flat string
		if json.Unmarshal(shapes.Error, &nested) == nil {
			if e.Code == "" {
				e.Code = nested.Code
			}
			if e.Message == "" {
				e.Message = nested.Message
			}
		} else if json.Unmarshal(shapes.Error, &flat) == nil && e.Message == "" {
			e.Message = flat
		}
	}

	// {"detail": "..."} or {"detail": {"error_code": ..., "message": ...}}
	if len(shapes.Detail) > 0 {
		var flat string
		var nested struct {
			ErrorCode string `json:"error_code"`
			Message   string `json:"message"`
		}
		if json.Unmarshal(shapes.Detail, &flat) == nil {
			if e.Message == "" {
				e.Message = flat
			}
		} else if json.Unmarshal(shapes.Detail, &nested) == nil {
			if e.Code == "" {
				e.Code = nested.ErrorCode
			}
			if e.Message == "" {
				e.Message = nested.Message
			}
		}
	}
	return e
}
