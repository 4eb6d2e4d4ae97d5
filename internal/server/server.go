// Package server is the thin HTTP transport over the agent facade. It
// does request parsing, status mapping, and nothing else; all
// orchestration lives behind the facade.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ivan-digital/aquarius/internal/facade"
	"github.com/ivan-digital/aquarius/internal/memory"
	"github.com/ivan-digital/aquarius/internal/telemetry"
)

// Server serves the chat API.
type Server struct {
	facade  *facade.Facade
	mux     *http.ServeMux
	server  *http.Server
	logger  *slog.Logger
	metrics *telemetry.Metrics
}

// Option configures the Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithMetrics exposes the collector on GET /metrics.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// New creates the HTTP server around an initialized facade.
func New(f *facade.Facade, opts ...Option) *Server {
	s := &Server{
		facade: f,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("POST /v1/chat", s.handleChat)
	mux.HandleFunc("GET /v1/sessions/{id}/history", s.handleHistory)
	mux.HandleFunc("DELETE /v1/sessions/{id}", s.handleReset)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	s.mux = mux
	return s
}

// Handler returns the HTTP handler, for tests and custom listeners.
func (s *Server) Handler() http.Handler { return s.mux }

// ListenAndServe starts serving on addr and blocks until Shutdown.
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("http server listening", "addr", addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

type chatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

type chatResponse struct {
	SessionID string `json:"session_id"`
	Answer    string `json:"answer"`
	Steps     int    `json:"steps"`
}

type errorResponse struct {
	ErrorKind string `json:"error_kind"`
	Message   string `json:"message"`
}

type historyEntry struct {
	Kind string `json:"kind"`
	Text string `json:"text,omitempty"`
	Tool string `json:"tool,omitempty"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{ErrorKind: "bad_request", Message: "invalid JSON body"})
		return
	}
	if req.SessionID == "" || req.Message == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{ErrorKind: "bad_request", Message: "session_id and message are required"})
		return
	}

	reply, err := s.facade.HandleQuery(r.Context(), req.SessionID, req.Message)
	if err != nil {
		kind := facade.KindOf(err)
		s.logger.Warn("query failed", "session", req.SessionID, "kind", kind, "error", err)
		writeJSON(w, statusFor(kind), errorResponse{ErrorKind: string(kind), Message: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{
		SessionID: reply.SessionID,
		Answer:    reply.Answer,
		Steps:     reply.Steps,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	turns, err := s.facade.History(r.Context(), r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{ErrorKind: "internal", Message: err.Error()})
		return
	}

	entries := make([]historyEntry, 0, len(turns))
	for _, t := range turns {
		entries = append(entries, renderHistoryEntry(t))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"turns": entries})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.facade.Reset(r.Context(), r.PathValue("id")); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{ErrorKind: "internal", Message: err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func renderHistoryEntry(t memory.Turn) historyEntry {
	e := historyEntry{Kind: string(t.Kind), Text: t.Text}
	switch t.Kind {
	case memory.KindThought:
		if t.ToolCall != nil {
			e.Tool = t.ToolCall.Name
		}
	case memory.KindToolResult:
		e.Tool = t.ToolName
		if t.Err != "" {
			e.Text = t.Err
		} else {
			e.Text = t.Output
		}
	}
	return e
}

// statusFor maps failure kinds to HTTP status codes. This mapping lives
// entirely in the transport layer.
func statusFor(kind facade.Kind) int {
	switch kind {
	case facade.KindSessionBusy:
		return http.StatusConflict
	case facade.KindTimeout:
		return http.StatusGatewayTimeout
	case facade.KindCancelled:
		return 499 // client closed request
	case facade.KindStepLimitExceeded:
		return http.StatusUnprocessableEntity
	case facade.KindProviderUnavailable, facade.KindNotStarted:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
