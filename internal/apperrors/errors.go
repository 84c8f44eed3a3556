// Package apperrors maps domain errors to the HTTP error envelope.
package apperrors

import (
	"encoding/json"
	"errors"
	"net/http"

	gferrors "github.com/fulmenhq/gofulmen/errors"

	"github.com/3leaps/vidsentry/pkg/job"
	"github.com/3leaps/vidsentry/pkg/jobrunner"
	"github.com/3leaps/vidsentry/pkg/manifest"
	"github.com/3leaps/vidsentry/pkg/resultstore"
)

// Error codes.
const (
	CodeBadRequest         = "BAD_REQUEST"
	CodeNotFound           = "NOT_FOUND"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeValidation         = "VALIDATION_ERROR"
	CodeConflict           = "CONFLICT"
	CodeRateLimited        = "RATE_LIMITED"
	CodeInternal           = "INTERNAL_ERROR"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
)

// HTTPError is the wire form of an error envelope.
type HTTPError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// HTTPErrorResponse wraps HTTPError under the "error" key.
type HTTPErrorResponse struct {
	Error HTTPError `json:"error"`
}

// StatusError pins an HTTP status and code to an error.
type StatusError struct {
	Status  int
	Code    string
	Message string
	Details map[string]any
	Err     error
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return http.StatusText(e.Status)
}

func (e *StatusError) Unwrap() error { return e.Err }

// BadRequest reports malformed input that is not a parameter validation
// failure.
func BadRequest(message string, err error) error {
	return &StatusError{Status: http.StatusBadRequest, Code: CodeBadRequest, Message: message, Err: err}
}

// NotFound reports a missing resource.
func NotFound(message string) error {
	return &StatusError{Status: http.StatusNotFound, Code: CodeNotFound, Message: message}
}

// Classify returns the status, code and details for err.
func Classify(err error) (int, string, map[string]any) {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status, se.Code, se.Details
	}

	var ve *job.ValidationError
	if errors.As(err, &ve) {
		return http.StatusBadRequest, CodeValidation, map[string]any{"field": ve.Field}
	}

	var mv manifest.ValidationErrors
	if errors.As(err, &mv) {
		fields := make([]string, 0, len(mv))
		for _, e := range mv {
			fields = append(fields, e.Path)
		}
		return http.StatusBadRequest, CodeValidation, map[string]any{"fields": fields}
	}

	switch {
	case errors.Is(err, jobrunner.ErrJobNotFound), errors.Is(err, resultstore.ErrNotFound):
		return http.StatusNotFound, CodeNotFound, nil
	case errors.Is(err, jobrunner.ErrJobAlreadyRunning), errors.Is(err, job.ErrNotIdle),
		errors.Is(err, jobrunner.ErrJobNotRunning), errors.Is(err, resultstore.ErrBuiltinModel):
		return http.StatusConflict, CodeConflict, nil
	case errors.Is(err, jobrunner.ErrManagerClosed):
		return http.StatusServiceUnavailable, CodeServiceUnavailable, nil
	}
	return http.StatusInternalServerError, CodeInternal, nil
}

// Envelope builds the error envelope for err. Internal errors are reported
// with a generic message.
func Envelope(err error, requestID string) (int, *gferrors.ErrorEnvelope) {
	status, code, details := Classify(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal server error"
	}
	return status, NewEnvelope(code, msg, requestID, details)
}

// NewEnvelope creates an envelope carrying the request id as correlation id
// and details as context.
func NewEnvelope(code, message, requestID string, details map[string]any) *gferrors.ErrorEnvelope {
	env := gferrors.NewErrorEnvelope(code, message)
	if requestID != "" {
		env = env.WithCorrelationID(requestID)
	}
	if len(details) > 0 {
		if withCtx, err := env.WithContext(details); err == nil && withCtx != nil {
			env = withCtx
		}
	}
	return env
}

// RespondWithError writes err as an error envelope.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	status, env := Envelope(err, requestIDOf(r))
	WriteEnvelope(w, env, status)
}

// Write writes an error envelope with an explicit status and code.
func Write(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]any) {
	WriteEnvelope(w, NewEnvelope(code, message, requestIDOf(r), details), status)
}

// WriteEnvelope renders env under the "error" key.
func WriteEnvelope(w http.ResponseWriter, env *gferrors.ErrorEnvelope, status int) {
	body := HTTPErrorResponse{Error: HTTPError{
		Code:      env.Code,
		Message:   env.Message,
		RequestID: env.CorrelationID,
		Details:   env.Context,
	}}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func requestIDOf(r *http.Request) string {
	if r == nil {
		return ""
	}
	return RequestIDFrom(r.Context())
}
