// internal/api/respond.go
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	apperrors "reengage-engine/internal/common/errors"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

// respondError maps the error taxonomy onto HTTP statuses. Anything outside
// the taxonomy is a 500 with no internal detail leaked.
func respondError(w http.ResponseWriter, err error) {
	var se *apperrors.StandardError
	if !errors.As(err, &se) {
		respondJSON(w, http.StatusInternalServerError, errorResponse{
			Error: errorBody{Code: "INTERNAL_ERROR", Message: "internal server error"},
		})
		return
	}

	status := http.StatusInternalServerError
	switch se.Code {
	case apperrors.ErrCodeValidation:
		status = http.StatusBadRequest
	case apperrors.ErrCodeInvalidTransition:
		status = http.StatusUnprocessableEntity
	case apperrors.ErrCodeNotFound:
		status = http.StatusNotFound
	case apperrors.ErrCodeAlreadySending:
		status = http.StatusConflict
	}

	respondJSON(w, status, errorResponse{
		Error: errorBody{
			Code:    string(se.Code),
			Message: se.Message,
			Details: se.Details,
		},
	})
}
