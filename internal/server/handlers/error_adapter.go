package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/3leaps/vidsentry/internal/apperrors"
)

// ErrorResponder writes err to w.
type ErrorResponder func(w http.ResponseWriter, r *http.Request, err error)

var httpErrorResponder ErrorResponder = apperrors.RespondWithError

// SetHTTPErrorResponder replaces the error writer. nil restores the default.
func SetHTTPErrorResponder(fn ErrorResponder) {
	if fn == nil {
		fn = apperrors.RespondWithError
	}
	httpErrorResponder = fn
}

// ResetHTTPErrorResponder restores the default error writer.
func ResetHTTPErrorResponder() {
	httpErrorResponder = apperrors.RespondWithError
}

func respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	httpErrorResponder(w, r, err)
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
