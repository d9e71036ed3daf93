package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"lifelog/internal/contextutil"
	"lifelog/internal/service"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable,omitempty"`
}

// ChangeNotifier is told about every successful write so that other views
// learn about it before the next poll.
type ChangeNotifier interface {
	NotifyChange(ctx context.Context, collection string, data map[string]any) error
}

// notifyChange reports a write to n. Failures are logged only; the write
// itself already succeeded.
func notifyChange(ctx context.Context, n ChangeNotifier, collection, action, id string) {
	if n == nil {
		return
	}
	data := map[string]any{"action": action, "id": id}
	if err := n.NotifyChange(ctx, collection, data); err != nil {
		contextutil.LoggerFromContext(ctx).WarnContext(ctx, "change notification failed",
			"collection", collection,
			"error", err,
		)
	}
}

// decodeJSON decodes the request body into v.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// writeJSON writes v with the given status code.
func writeJSON(w http.ResponseWriter, r *http.Request, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		ctx := r.Context()
		contextutil.LoggerFromContext(ctx).ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:     message,
		Retryable: statusCode == http.StatusServiceUnavailable,
	})
}

// handleServiceError maps service errors to appropriate HTTP status codes and responses.
func handleServiceError(w http.ResponseWriter, r *http.Request, err error, defaultMsg string) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	var validationErr *service.ValidationError
	if errors.As(err, &validationErr) {
		logger.WarnContext(ctx, "validation failed", "error", err)
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Validation error: %s", validationErr.Error()))
		return
	}

	switch {
	case errors.Is(err, service.ErrInvalidInput):
		logger.WarnContext(ctx, "invalid input", "error", err)
		writeError(w, http.StatusBadRequest, "Invalid input")
	case errors.Is(err, service.ErrNotFound):
		writeError(w, http.StatusNotFound, "Resource not found")
	case errors.Is(err, service.ErrConflict):
		logger.WarnContext(ctx, "conflict", "error", err)
		writeError(w, http.StatusConflict, "Resource already exists")
	case errors.Is(err, service.ErrUnavailable):
		logger.ErrorContext(ctx, "storage unavailable", "error", err)
		writeError(w, http.StatusServiceUnavailable, "Storage temporarily unavailable, please retry")
	default:
		logger.ErrorContext(ctx, "service error", "error", err)
		writeError(w, http.StatusInternalServerError, defaultMsg)
	}
}
