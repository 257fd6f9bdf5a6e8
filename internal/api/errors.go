package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	tdsync "github.com/jake-wickstrom/tabletop-tracker/internal/sync"
)

// Error strings returned in the "error" field. Storage failures use the
// push kinds from the sync package instead.
const (
	ErrMsgUnauthorized     = "Unauthorized"
	ErrMsgInvalidPayload   = "Invalid payload"
	ErrMsgConflict         = "conflict"
	ErrMsgInvalidPageToken = "Invalid page token"
	ErrMsgRateLimited      = "rate_limited"
	ErrMsgInternal         = "internal_error"
	ErrMsgPullFailed       = "pull_failed"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error     string           `json:"error"`
	Table     string           `json:"table,omitempty"`
	Detail    string           `json:"detail,omitempty"`
	Conflicts tdsync.Conflicts `json:"conflicts,omitempty"`
}

// writeError writes a JSON error response with the given HTTP status code.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// writeJSON writes a JSON response with the given HTTP status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("write json response", "err", err)
	}
}
