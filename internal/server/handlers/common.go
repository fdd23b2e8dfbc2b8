// Package handlers implements the HTTP endpoints of the assistant server.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/pysugar/assistant/internal/db"
	"github.com/pysugar/assistant/internal/logging"
	"github.com/pysugar/assistant/internal/server/middleware"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// SetSSEHeaders sets standard headers for Server-Sent Events streaming.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, message string, status int) {
	errType := "api_error"
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		errType = "invalid_request_error"
	case http.StatusUnauthorized:
		errType = "authentication_error"
	case http.StatusNotFound:
		errType = "not_found_error"
	case http.StatusConflict:
		errType = "conflict_error"
	case http.StatusTooManyRequests:
		errType = "rate_limit_error"
	case http.StatusPaymentRequired:
		errType = "payment_required_error"
	}
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": message,
			"type":    errType,
			"code":    status,
		},
	})
}

// writeStoreError maps storage errors onto HTTP statuses.
func writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, db.ErrNotFound) {
		writeError(w, "Not found", http.StatusNotFound)
		return
	}
	logging.FromContext(r.Context()).Error("❌ Storage error", zap.String("path", r.URL.Path), zap.Error(err))
	writeError(w, "Internal storage error", http.StatusInternalServerError)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, "Failed to read request body", http.StatusBadRequest)
		return false
	}
	if len(body) == 0 {
		writeError(w, "Request body is required", http.StatusBadRequest)
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func currentUser(r *http.Request) string {
	return middleware.UserID(r.Context())
}
