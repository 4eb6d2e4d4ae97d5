// Package mcp manages the connection to the MCP tool backend: startup,
// tool discovery, schema-validated dispatch, and graceful shutdown.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ServerConfig holds the configuration for one MCP server subprocess.
type ServerConfig struct {
	Name         string        `json:"name" yaml:"name"`
	Command      string        `json:"command" yaml:"command"`
	Args         []string      `json:"args,omitempty" yaml:"args,omitempty"`
	Env          []string      `json:"-" yaml:"-"` // KEY=VALUE pairs, merged over the parent env
	StartTimeout time.Duration `json:"start_timeout,omitempty" yaml:"start_timeout,omitempty"`
}

const defaultStartTimeout = 30 * time.Second

// backend is the transport-level view of a connected MCP server. The real
// implementation wraps an SDK client session; tests substitute a fake.
type backend interface {
	listTools(ctx context.Context) ([]ToolDescriptor, error)
	call(ctx context.Context, name string, args map[string]interface{}) (string, error)
	close() error
}

type dialFunc func(ctx context.Context, config ServerConfig) (backend, error)

// Provider owns one connection to the tool backend. It is either fully
// initialized (descriptor cache populated, ready to dispatch) or fully torn
// down; callers never observe a partially-initialized provider.
type Provider struct {
	config ServerConfig
	dial   dialFunc
	logger *slog.Logger
	group  singleflight.Group

	mu          sync.RWMutex
	backend     backend
	descriptors []ToolDescriptor
	byName      map[string]ToolDescriptor
}

// ProviderOption configures a Provider.
type ProviderOption func(*Provider)

// WithLogger sets the provider logger.
func WithLogger(logger *slog.Logger) ProviderOption {
	return func(p *Provider) { p.logger = logger }
}

func withDialer(dial dialFunc) ProviderOption {
	return func(p *Provider) { p.dial = dial }
}

// NewProvider creates a provider for the given server config. No connection
// is made until Start.
func NewProvider(config ServerConfig, opts ...ProviderOption) *Provider {
	if config.StartTimeout <= 0 {
		config.StartTimeout = defaultStartTimeout
	}
	p := &Provider{
		config: config,
		dial:   dialStdio,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start establishes the backend connection and caches the advertised tool
// set. It is safe to call concurrently; concurrent calls are collapsed into
// one connection attempt. A failed Start leaves the provider fully torn
// down and may be retried.
func (p *Provider) Start(ctx context.Context) error {
	_, err, _ := p.group.Do("start", func() (interface{}, error) {
		p.mu.RLock()
		started := p.backend != nil
		p.mu.RUnlock()
		if started {
			return nil, nil
		}

		dialCtx, cancel := context.WithTimeout(ctx, p.config.StartTimeout)
		defer cancel()

		be, err := p.dial(dialCtx, p.config)
		if err != nil {
			return nil, fmt.Errorf("%w: connect %s: %v", ErrProviderUnavailable, p.config.Name, err)
		}

		descriptors, err := be.listTools(dialCtx)
		if err != nil {
			_ = be.close()
			return nil, fmt.Errorf("%w: list tools on %s: %v", ErrProviderUnavailable, p.config.Name, err)
		}

		byName := make(map[string]ToolDescriptor, len(descriptors))
		for _, d := range descriptors {
			byName[d.Name] = d
		}

		p.mu.Lock()
		p.backend = be
		p.descriptors = descriptors
		p.byName = byName
		p.mu.Unlock()

		p.logger.Info("mcp provider started", "server", p.config.Name, "tools", len(descriptors))
		return nil, nil
	})
	return err
}

// Tools returns the cached tool descriptors. The set is fixed for the life
// of the connection.
func (p *Provider) Tools() ([]ToolDescriptor, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.backend == nil {
		return nil, ErrNotStarted
	}
	out := make([]ToolDescriptor, len(p.descriptors))
	copy(out, p.descriptors)
	return out, nil
}

// Invoke validates the call against the cached schema and dispatches it.
// Invalid calls fail before any backend traffic. A lost connection tears
// the provider down and returns ErrProviderDisconnected; the caller must
// surface it to the model rather than retry silently.
func (p *Provider) Invoke(ctx context.Context, name string, args map[string]interface{}) (string, error) {
	p.mu.RLock()
	be := p.backend
	desc, known := p.byName[name]
	p.mu.RUnlock()

	if be == nil {
		return "", ErrNotStarted
	}
	if !known {
		return "", &InvalidToolCallError{Tool: name, Reason: "unknown tool"}
	}
	if err := desc.validateArgs(args); err != nil {
		return "", err
	}

	out, err := be.call(ctx, name, args)
	if err != nil {
		if isDisconnect(err) {
			p.teardown()
			return "", fmt.Errorf("%w: tool %s: %v", ErrProviderDisconnected, name, err)
		}
		return "", &ToolExecutionError{Tool: name, Cause: err}
	}
	return out, nil
}

// Stop gracefully shuts the provider down. It is idempotent and safe to
// call even if Start never succeeded.
func (p *Provider) Stop() error {
	p.mu.Lock()
	be := p.backend
	p.backend = nil
	p.descriptors = nil
	p.byName = nil
	p.mu.Unlock()

	if be == nil {
		return nil
	}
	if err := be.close(); err != nil {
		return fmt.Errorf("mcp stop %s: %w", p.config.Name, err)
	}
	p.logger.Info("mcp provider stopped", "server", p.config.Name)
	return nil
}

func (p *Provider) teardown() {
	p.mu.Lock()
	be := p.backend
	p.backend = nil
	p.descriptors = nil
	p.byName = nil
	p.mu.Unlock()

	if be != nil {
		_ = be.close()
		p.logger.Warn("mcp provider connection lost", "server", p.config.Name)
	}
}

// isDisconnect reports whether the error indicates a lost backend
// connection rather than a tool-level failure.
func isDisconnect(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	msg := err.Error()
	for _, marker := range []string{"connection closed", "session closed", "broken pipe", "connection reset"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
