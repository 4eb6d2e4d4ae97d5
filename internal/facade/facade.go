// Package facade is the single external entry point to the agent: it owns
// the tool provider connection and the session registry, serializes
// queries per session, and converts every failure into a typed result the
// transport layer can render.
package facade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ivan-digital/aquarius/internal/agent"
	"github.com/ivan-digital/aquarius/internal/mcp"
	"github.com/ivan-digital/aquarius/internal/memory"
	"github.com/ivan-digital/aquarius/internal/session"
	"github.com/ivan-digital/aquarius/internal/telemetry"
)

// Reply is a successful query outcome.
type Reply struct {
	SessionID string        `json:"session_id"`
	Answer    string        `json:"answer"`
	Steps     int           `json:"steps"`
	Duration  time.Duration `json:"duration"`
}

// Provider is the facade's view of the tool backend lifecycle.
type Provider interface {
	Start(ctx context.Context) error
	Stop() error
}

// Facade coordinates provider lifecycle, sessions, and the reasoning loop.
// Construct with New, then Initialize before the first query; Shutdown
// releases the provider and is idempotent.
type Facade struct {
	provider Provider
	sessions session.Store
	locks    *session.Locks
	memory   memory.Store
	loop     *agent.Loop
	janitor  *session.Janitor
	logger   *slog.Logger
	metrics  *telemetry.Metrics

	limits       atomic.Pointer[agent.Limits]
	initialized  atomic.Bool
	shutdownOnce sync.Once
	shutdownErr  error
}

// Option configures a Facade.
type Option func(*Facade)

// WithJanitor attaches a session janitor started on Initialize.
func WithJanitor(j *session.Janitor) Option {
	return func(f *Facade) { f.janitor = j }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Facade) { f.logger = logger }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(f *Facade) { f.metrics = m }
}

// New creates a facade. limits may be updated later via SetLimits (config
// hot reload).
func New(provider Provider, sessions session.Store, mem memory.Store, loop *agent.Loop, limits agent.Limits, opts ...Option) *Facade {
	f := &Facade{
		provider: provider,
		sessions: sessions,
		locks:    session.NewLocks(),
		memory:   mem,
		loop:     loop,
		logger:   slog.Default(),
	}
	f.limits.Store(&limits)
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// SetLimits atomically replaces the per-query limits. In-flight queries
// keep the limits they started with.
func (f *Facade) SetLimits(limits agent.Limits) {
	f.limits.Store(&limits)
}

// Initialize starts the tool provider and the session janitor. A failed
// start is fatal: no query is accepted and no session is ever created.
func (f *Facade) Initialize(ctx context.Context) error {
	if err := f.provider.Start(ctx); err != nil {
		return err
	}
	if f.janitor != nil {
		f.janitor.Start()
	}
	f.initialized.Store(true)
	return nil
}

// HandleQuery runs one reasoning loop for the session. Concurrent queries
// for the same session are rejected with session.ErrBusy; queries for
// different sessions run in parallel against the shared provider. Every
// failure is one of the typed kinds reported by KindOf.
func (f *Facade) HandleQuery(ctx context.Context, sessionID, userText string) (reply *Reply, err error) {
	if !f.initialized.Load() {
		return nil, mcp.ErrNotStarted
	}

	// No raw panic escapes to the transport layer.
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("query panicked", "session", sessionID, "panic", r)
			err = fmt.Errorf("internal error: %v", r)
			reply = nil
		}
	}()

	release, err := f.locks.Acquire(sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	if _, created, err := f.sessions.GetOrCreate(ctx, sessionID); err != nil {
		return nil, fmt.Errorf("session: %w", err)
	} else if created {
		f.logger.Info("session created", "session", sessionID)
	}

	ctx = telemetry.WithCorrelationID(ctx, "")
	start := time.Now()

	result, err := f.loop.Run(ctx, sessionID, userText, *f.limits.Load())
	if touchErr := f.sessions.Touch(ctx, sessionID); touchErr != nil {
		f.logger.Warn("session touch failed", "session", sessionID, "error", touchErr)
	}

	if err != nil {
		if f.metrics != nil {
			f.metrics.RecordQuery(string(KindOf(err)), time.Since(start), 0)
		}
		return nil, err
	}

	if f.metrics != nil {
		f.metrics.RecordQuery("ok", result.Duration, result.Steps)
	}
	return &Reply{
		SessionID: sessionID,
		Answer:    result.Answer,
		Steps:     result.Steps,
		Duration:  result.Duration,
	}, nil
}

// History returns the session's turn log in insertion order.
func (f *Facade) History(ctx context.Context, sessionID string) ([]memory.Turn, error) {
	return f.memory.Read(ctx, sessionID)
}

// Reset discards a session and its conversation history.
func (f *Facade) Reset(ctx context.Context, sessionID string) error {
	if err := f.memory.Evict(ctx, sessionID); err != nil {
		return fmt.Errorf("evict memory: %w", err)
	}
	return f.sessions.Delete(ctx, sessionID)
}

// Shutdown releases the provider connection and stops the janitor. Safe to
// call multiple times.
func (f *Facade) Shutdown() error {
	f.shutdownOnce.Do(func() {
		f.initialized.Store(false)
		if f.janitor != nil {
			f.janitor.Stop()
		}
		f.shutdownErr = f.provider.Stop()
	})
	return f.shutdownErr
}

// Kind classifies a failure for the transport layer.
type Kind string

const (
	KindProviderUnavailable Kind = "provider_unavailable"
	KindNotStarted          Kind = "not_started"
	KindSessionBusy         Kind = "session_busy"
	KindStepLimitExceeded   Kind = "step_limit_exceeded"
	KindTimeout             Kind = "timeout"
	KindCancelled           Kind = "cancelled"
	KindModelError          Kind = "model_error"
	KindInternal            Kind = "internal"
)

// KindOf maps an error returned by HandleQuery or Initialize to its kind.
func KindOf(err error) Kind {
	switch {
	case errors.Is(err, mcp.ErrProviderUnavailable):
		return KindProviderUnavailable
	case errors.Is(err, mcp.ErrNotStarted):
		return KindNotStarted
	case errors.Is(err, session.ErrBusy):
		return KindSessionBusy
	case errors.Is(err, agent.ErrStepLimitExceeded):
		return KindStepLimitExceeded
	case errors.Is(err, agent.ErrTimeout):
		return KindTimeout
	case errors.Is(err, agent.ErrCancelled):
		return KindCancelled
	default:
		var modelErr *agent.ModelError
		if errors.As(err, &modelErr) {
			return KindModelError
		}
		return KindInternal
	}
}
