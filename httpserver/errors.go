package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/shelfmate/sharing-backend/interfaces"
)

// errorResponse is the single failure envelope of the API.
type errorResponse struct {
	Error   string `json:"error"`
	ResetAt string `json:"resetAt,omitempty"`
}

// statusForError maps store errors onto HTTP statuses. Anything unmapped is an
// internal failure.
func statusForError(err error) int {
	switch {
	case errors.Is(err, interfaces.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, interfaces.ErrAttestationRejected):
		return http.StatusUnauthorized
	case errors.Is(err, interfaces.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, interfaces.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, interfaces.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, interfaces.ErrExpired):
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		json.NewEncoder(w).Encode(body) //nolint:errcheck
	}
}

// writeError renders err with its mapped status. Internal failures are
// reported with a generic message so storage details never reach clients.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := statusForError(err)

	message := err.Error()
	if status == http.StatusInternalServerError {
		h.log.Error("Request failed", "err", err)
		message = "internal error"
	}

	writeJSON(w, status, errorResponse{Error: message})
}

// writeRateLimited renders a 429 carrying the instant the window resets.
func writeRateLimited(w http.ResponseWriter, resetAt time.Time) {
	writeJSON(w, http.StatusTooManyRequests, errorResponse{
		Error:   "rate limit exceeded",
		ResetAt: resetAt.UTC().Format(time.RFC3339),
	})
}
