// Package api exposes the agent poll protocol and the operator
// management surface over HTTP/JSON.
package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"silentsync"
	"silentsync/infra/sqlite"
	"silentsync/internal/ratelimit"
	"silentsync/internal/reconcile"
)

const (
	// headerAgentToken carries the coarse shared pool credential.
	headerAgentToken = "X-Agent-Token"
	// headerMachineToken carries the per-machine token once provisioned.
	headerMachineToken = "X-Machine-Token"
)

// Server handles agent and management requests. All business state lives
// behind Service and Store; the server itself only decodes, gates and
// encodes.
type Server struct {
	Service   *reconcile.Service
	Store     *sqlite.Store
	Guard     *ratelimit.Guard
	PoolToken string
	Skew      *reconcile.SkewChecker // optional
	// DirectoryEntries backs the management tree endpoint in mock mode.
	DirectoryEntries []string
	Clock            silentsync.Clock // nil means wall clock
	Tracer           trace.Tracer
}

func (s *Server) tracer() trace.Tracer {
	if s.Tracer != nil {
		return s.Tracer
	}
	return noop.NewTracerProvider().Tracer("silentsync/api")
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	mux.Handle("POST /api/v1/agent/heartbeat", s.requirePoolToken(s.handleHeartbeat))
	mux.Handle("POST /api/v1/agent/ack", s.requirePoolToken(s.handleAck))
	mux.Handle("POST /api/v1/agent/log", s.requirePoolToken(s.handleAgentLog))

	mux.Handle("GET /api/v1/management/software", s.requirePoolToken(s.handleListSoftware))
	mux.Handle("POST /api/v1/management/software", s.requirePoolToken(s.handleCreateSoftware))
	mux.Handle("PUT /api/v1/management/software/{id}", s.requirePoolToken(s.handleUpdateSoftware))
	mux.Handle("DELETE /api/v1/management/software/{id}", s.requirePoolToken(s.handleDeleteSoftware))
	mux.Handle("GET /api/v1/management/machines", s.requirePoolToken(s.handleListMachines))
	mux.Handle("GET /api/v1/management/machines/{id}/logs", s.requirePoolToken(s.handleMachineLogs))
	mux.Handle("GET /api/v1/management/policies", s.requirePoolToken(s.handleListPolicies))
	mux.Handle("POST /api/v1/management/policies", s.requirePoolToken(s.handleCreatePolicy))
	mux.Handle("DELETE /api/v1/management/policies/{id}", s.requirePoolToken(s.handleDeletePolicy))
	mux.Handle("GET /api/v1/management/directory/tree", s.requirePoolToken(s.handleDirectoryTree))

	return mux
}

// requirePoolToken gates a handler behind the shared agent-pool
// credential. Fine-grained auth (per-machine tokens, policy targeting)
// happens in the handlers and the core.
func (s *Server) requirePoolToken(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		presented := r.Header.Get(headerAgentToken)
		if s.PoolToken == "" ||
			subtle.ConstantTimeCompare([]byte(presented), []byte(s.PoolToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid agent token")
			return
		}
		next(w, r)
	})
}

// ListenAndServe starts the HTTP server and blocks until ctx is
// cancelled, then drains in-flight requests.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	// Shut down when ctx is cancelled.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// clientOrigin extracts the peer address without the port. It is used
// for rate limiting only, never for URL construction.
func clientOrigin(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
