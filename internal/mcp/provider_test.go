package mcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"
)

// ---------- fake backend ----------

type fakeBackend struct {
	mu      sync.Mutex
	tools   []ToolDescriptor
	callErr error
	output  string
	calls   []string
	closed  bool
}

func (b *fakeBackend) listTools(_ context.Context) ([]ToolDescriptor, error) {
	return b.tools, nil
}

func (b *fakeBackend) call(_ context.Context, name string, _ map[string]interface{}) (string, error) {
	b.mu.Lock()
	b.calls = append(b.calls, name)
	b.mu.Unlock()
	if b.callErr != nil {
		return "", b.callErr
	}
	return b.output, nil
}

func (b *fakeBackend) close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}

func (b *fakeBackend) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.calls)
}

func repoTools() []ToolDescriptor {
	return []ToolDescriptor{
		{
			Name:        "get_file_contents",
			Description: "Read a file from a repository",
			Params: []ParamSpec{
				{Name: "owner", Type: "string", Required: true},
				{Name: "repo", Type: "string", Required: true},
				{Name: "path", Type: "string", Required: false},
			},
			InputSchema: map[string]interface{}{"type": "object"},
		},
	}
}

func newTestProvider(be *fakeBackend) *Provider {
	return NewProvider(
		ServerConfig{Name: "test", Command: "true"},
		withDialer(func(_ context.Context, _ ServerConfig) (backend, error) {
			return be, nil
		}),
	)
}

// ---------- tests ----------

func TestProviderStartAndTools(t *testing.T) {
	p := newTestProvider(&fakeBackend{tools: repoTools()})

	if _, err := p.Tools(); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Tools before Start = %v, want ErrNotStarted", err)
	}

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	tools, err := p.Tools()
	if err != nil {
		t.Fatalf("Tools: %v", err)
	}
	if len(tools) != 1 || tools[0].Name != "get_file_contents" {
		t.Errorf("Tools = %+v, want get_file_contents", tools)
	}
}

func TestProviderStartFailureIsRetryable(t *testing.T) {
	attempts := 0
	be := &fakeBackend{tools: repoTools()}
	p := NewProvider(
		ServerConfig{Name: "test", Command: "true"},
		withDialer(func(_ context.Context, _ ServerConfig) (backend, error) {
			attempts++
			if attempts == 1 {
				return nil, fmt.Errorf("spawn failed")
			}
			return be, nil
		}),
	)

	err := p.Start(context.Background())
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("first Start = %v, want ErrProviderUnavailable", err)
	}
	if _, err := p.Tools(); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Tools after failed Start = %v, want ErrNotStarted", err)
	}

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("retry Start: %v", err)
	}
	if _, err := p.Tools(); err != nil {
		t.Errorf("Tools after retry: %v", err)
	}
}

func TestProviderConcurrentStartCollapses(t *testing.T) {
	var dials int
	var mu sync.Mutex
	p := NewProvider(
		ServerConfig{Name: "test", Command: "true"},
		withDialer(func(_ context.Context, _ ServerConfig) (backend, error) {
			mu.Lock()
			dials++
			mu.Unlock()
			time.Sleep(20 * time.Millisecond)
			return &fakeBackend{tools: repoTools()}, nil
		}),
	)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := p.Start(context.Background()); err != nil {
				t.Errorf("Start: %v", err)
			}
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if dials != 1 {
		t.Errorf("dial count = %d, want 1", dials)
	}
}

func TestProviderInvoke(t *testing.T) {
	be := &fakeBackend{tools: repoTools(), output: "# README"}
	p := newTestProvider(be)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	out, err := p.Invoke(context.Background(), "get_file_contents",
		map[string]interface{}{"owner": "golang", "repo": "go", "path": "README.md"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if out != "# README" {
		t.Errorf("Invoke = %q, want %q", out, "# README")
	}
}

func TestProviderInvokeValidatesBeforeDispatch(t *testing.T) {
	be := &fakeBackend{tools: repoTools()}
	p := newTestProvider(be)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	tests := []struct {
		name string
		tool string
		args map[string]interface{}
	}{
		{"unknown tool", "delete_everything", nil},
		{"missing required", "get_file_contents", map[string]interface{}{"owner": "golang"}},
		{"unknown parameter", "get_file_contents", map[string]interface{}{"owner": "golang", "repo": "go", "brnch": "main"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := p.Invoke(context.Background(), tc.tool, tc.args)
			var invalid *InvalidToolCallError
			if !errors.As(err, &invalid) {
				t.Fatalf("Invoke = %v, want *InvalidToolCallError", err)
			}
		})
	}
	if n := be.callCount(); n != 0 {
		t.Errorf("backend saw %d calls, want 0: invalid calls must fail before dispatch", n)
	}
}

func TestProviderInvokeToolFailure(t *testing.T) {
	cause := fmt.Errorf("404 not found")
	be := &fakeBackend{tools: repoTools(), callErr: cause}
	p := newTestProvider(be)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	_, err := p.Invoke(context.Background(), "get_file_contents",
		map[string]interface{}{"owner": "golang", "repo": "go"})
	var execErr *ToolExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("Invoke = %v, want *ToolExecutionError", err)
	}
	if !errors.Is(err, cause) {
		t.Error("execution error should wrap the backend cause")
	}

	// Tool failure is not a disconnect; the provider stays up.
	if _, err := p.Tools(); err != nil {
		t.Errorf("Tools after tool failure: %v", err)
	}
}

func TestProviderDisconnectTearsDown(t *testing.T) {
	be := &fakeBackend{tools: repoTools(), callErr: io.EOF}
	p := newTestProvider(be)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	_, err := p.Invoke(context.Background(), "get_file_contents",
		map[string]interface{}{"owner": "golang", "repo": "go"})
	if !errors.Is(err, ErrProviderDisconnected) {
		t.Fatalf("Invoke = %v, want ErrProviderDisconnected", err)
	}

	if _, err := p.Tools(); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Tools after disconnect = %v, want ErrNotStarted", err)
	}
	be.mu.Lock()
	closed := be.closed
	be.mu.Unlock()
	if !closed {
		t.Error("backend not closed on disconnect")
	}
}

func TestProviderStopIdempotent(t *testing.T) {
	be := &fakeBackend{tools: repoTools()}
	p := newTestProvider(be)

	if err := p.Stop(); err != nil {
		t.Errorf("Stop before Start: %v", err)
	}

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := p.Stop(); err != nil {
		t.Errorf("Stop: %v", err)
	}
	if err := p.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
	if _, err := p.Invoke(context.Background(), "get_file_contents", nil); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Invoke after Stop = %v, want ErrNotStarted", err)
	}
}

func TestIsDisconnect(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{io.EOF, true},
		{io.ErrClosedPipe, true},
		{fmt.Errorf("rpc: connection closed"), true},
		{fmt.Errorf("write: broken pipe"), true},
		{fmt.Errorf("404 not found"), false},
		{fmt.Errorf("invalid params"), false},
	}
	for _, tc := range tests {
		if got := isDisconnect(tc.err); got != tc.want {
			t.Errorf("isDisconnect(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}
