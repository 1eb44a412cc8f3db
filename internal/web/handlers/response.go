// Package handlers contains the JSON API handlers.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// API error codes. The first three digits mirror the HTTP status class.
const (
	CodeBadRequest    = 40000
	CodeUnauthorized  = 40100
	CodeNotFound      = 40400
	CodeConflict      = 40900
	CodePayloadTooBig = 41300
	CodeInternal      = 50000
)

// apiError is the wire shape of every error response.
type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("encoding response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status, code int, message string) {
	writeJSON(w, status, apiError{Code: code, Message: message})
}

// decodeBody decodes a bounded JSON request body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "invalid request body")
		return false
	}
	return true
}
