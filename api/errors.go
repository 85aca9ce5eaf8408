package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/warp/leave-engine/generic"
)

// statusFor maps an error kind to its HTTP status.
func statusFor(kind generic.Kind) int {
	switch kind {
	case generic.KindNotFound:
		return http.StatusNotFound
	case generic.KindForbidden, generic.KindNotMember:
		return http.StatusForbidden
	case generic.KindValidation:
		return http.StatusBadRequest
	case generic.KindInsufficientBalance, generic.KindInvalidTransition, generic.KindInvalidEmployeeState:
		return http.StatusUnprocessableEntity
	case generic.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError reports err with the status of its kind. Internal failures
// are logged and never echoed to the client. Retryable failures carry a
// Retry-After hint.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	if !generic.IsClientError(err) {
		logger.ErrorContext(r.Context(), "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal error", Code: string(generic.KindInternal)})
		return
	}

	kind := generic.KindOf(err)
	msg := err.Error()
	var e *generic.Error
	if errors.As(err, &e) {
		msg = e.Message
	}
	if generic.IsRetryable(err) {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, statusFor(kind), ErrorResponse{Error: msg, Code: string(kind)})
}
