package main

import (
	"encoding/json"
	"errors"
	"net/http"
)

// Core failure classes. Handlers map these to HTTP statuses; everything
// under ErrAuthFailure stays a single generic message so the response never
// reveals which factor failed.
var (
	ErrBadRequest         = errors.New("bad request")
	ErrAuthFailure        = errors.New("authentication failure")
	ErrAccessTokenExpired = errors.New("access token expired")
	ErrForbidden          = errors.New("permission denied")
	ErrInternal           = errors.New("internal error")
	ErrNotFound           = errors.New("not found")
)

// APIError represents a structured API error response
type APIError struct {
	Code    string `json:"error_code"`
	Message string `json:"error_message"`
	Details string `json:"details,omitempty"`
}

// writeError writes a structured error response
func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(APIError{
		Code:    code,
		Message: message,
	})
}

// writeFailure maps a core error to its HTTP status and wire code.
func writeFailure(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrBadRequest):
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
	case errors.Is(err, ErrAccessTokenExpired):
		writeError(w, http.StatusUnauthorized, "ACCESS_TOKEN_EXPIRED", "Access token expired")
	case errors.Is(err, ErrAuthFailure):
		writeError(w, http.StatusUnauthorized, "AUTH_FAILURE", "Authentication failure")
	case errors.Is(err, ErrForbidden):
		writeError(w, http.StatusForbidden, "FORBIDDEN", "Permission denied")
	default:
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Something went wrong")
	}
}

// writeSuccess writes a success response
func writeSuccess(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, map[string]interface{}{
		"success": true,
		"data":    data,
	})
}
