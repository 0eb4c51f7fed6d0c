package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"silentsync/infra/sqlite"
	"silentsync/internal/ratelimit"
	"silentsync/internal/reconcile"
	"silentsync/internal/registry"
)

const maxBodyBytes = 1 << 20

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeFailure maps core errors onto the wire contract. Unclassified
// errors are reported as transient so agents retry later instead of
// treating a crashed transaction as a task verdict.
func (s *Server) writeFailure(w http.ResponseWriter, span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	switch {
	case errors.Is(err, ratelimit.ErrRateLimited):
		w.Header().Set("Retry-After", "60")
		writeError(w, http.StatusTooManyRequests, "rate limited")
	case errors.Is(err, registry.ErrTokenMismatch):
		writeError(w, http.StatusUnauthorized, "invalid machine token")
	case errors.Is(err, reconcile.ErrNotTargeted):
		writeError(w, http.StatusForbidden, "policy does not target this machine")
	case errors.Is(err, registry.ErrInvalidIdentity),
		errors.Is(err, reconcile.ErrBadOutcome):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, sqlite.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	default:
		slog.Error("request failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "transient failure, retry later")
	}
}
