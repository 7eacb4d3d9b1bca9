package api

import (
	"errors"
	"net/http"

	"github.com/hugo-lorenzo-mato/simrunner/internal/core"
)

// errorResponse is the JSON error envelope.
type errorResponse struct {
	Error   string                 `json:"error"`
	Code    string                 `json:"code,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// respondError sends a JSON error response, mapping domain error categories
// onto HTTP status codes.
func respondError(w http.ResponseWriter, err error) {
	var domErr *core.DomainError
	if !errors.As(err, &domErr) || domErr == nil {
		respondJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	respondJSON(w, statusForCategory(domErr.Category), errorResponse{
		Error:   domErr.Message,
		Code:    domErr.Code,
		Details: domErr.Details,
	})
}

// respondErrorStatus sends a JSON error with an explicit status.
func respondErrorStatus(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorResponse{Error: message})
}

func statusForCategory(cat core.ErrorCategory) int {
	switch cat {
	case core.ErrCatValidation:
		return http.StatusUnprocessableEntity
	case core.ErrCatNotFound:
		return http.StatusNotFound
	case core.ErrCatState:
		return http.StatusConflict
	case core.ErrCatCapacity:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
