package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"GITHUB_TOKEN", "GITHUB_PERSONAL_ACCESS_TOKEN",
		"AQUARIUS_MODEL", "AQUARIUS_ADDR", "AQUARIUS_POSTGRES_DSN",
	} {
		t.Setenv(key, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Model != "ollama/llama3.2" {
		t.Errorf("Model = %q", cfg.Model)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("Addr = %q", cfg.Server.Addr)
	}
	if cfg.Limits.MaxSteps != 10 {
		t.Errorf("MaxSteps = %d", cfg.Limits.MaxSteps)
	}
	if cfg.Session.IdleTTL.Std() != 30*time.Minute {
		t.Errorf("IdleTTL = %v", cfg.Session.IdleTTL.Std())
	}
	if cfg.Memory.Backend != "memory" || cfg.Memory.MaxTurns != 50 {
		t.Errorf("Memory = %+v", cfg.Memory)
	}
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
model: openai/gpt-4o
server:
  addr: ":9090"
limits:
  max_steps: 5
  max_tokens: 2048
  model_timeout: 30s
  tool_timeout: 45s
  query_timeout: 2m
session:
  idle_ttl: 10m
  sweep_schedule: "@every 1m"
memory:
  backend: memory
  max_turns: 20
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Model != "openai/gpt-4o" {
		t.Errorf("Model = %q", cfg.Model)
	}
	if cfg.Server.Addr != ":9090" {
		t.Errorf("Addr = %q", cfg.Server.Addr)
	}
	if cfg.Limits.ModelTimeout.Std() != 30*time.Second {
		t.Errorf("ModelTimeout = %v", cfg.Limits.ModelTimeout.Std())
	}
	if cfg.Limits.QueryTimeout.Std() != 2*time.Minute {
		t.Errorf("QueryTimeout = %v", cfg.Limits.QueryTimeout.Std())
	}
	if cfg.Memory.MaxTurns != 20 {
		t.Errorf("MaxTurns = %d", cfg.Memory.MaxTurns)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Load of a missing file should fail")
	}
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("AQUARIUS_MODEL", "claude-sonnet-4-20250514")
	t.Setenv("AQUARIUS_ADDR", ":7070")
	t.Setenv("GITHUB_TOKEN", "ghp_from_env")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Model != "claude-sonnet-4-20250514" {
		t.Errorf("Model = %q", cfg.Model)
	}
	if cfg.Server.Addr != ":7070" {
		t.Errorf("Addr = %q", cfg.Server.Addr)
	}
	if cfg.GitHub.Token != "ghp_from_env" {
		t.Errorf("Token = %q", cfg.GitHub.Token)
	}
}

func TestGitHubTokenFallbackEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("GITHUB_PERSONAL_ACCESS_TOKEN", "ghp_pat")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.GitHub.Token != "ghp_pat" {
		t.Errorf("Token = %q, want fallback env var", cfg.GitHub.Token)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "empty model",
			mutate:  func(c *Config) { c.Model = "" },
			wantErr: "model must be set",
		},
		{
			name:    "non-positive max steps",
			mutate:  func(c *Config) { c.Limits.MaxSteps = 0 },
			wantErr: "max_steps",
		},
		{
			name: "model timeout exceeds query timeout",
			mutate: func(c *Config) {
				c.Limits.ModelTimeout = Duration(time.Hour)
				c.Limits.ToolTimeout = Duration(2 * time.Hour)
				c.Limits.QueryTimeout = Duration(30 * time.Minute)
			},
			wantErr: "model_timeout exceeds query_timeout",
		},
		{
			name:    "tool timeout exceeds query timeout",
			mutate:  func(c *Config) { c.Limits.ToolTimeout = Duration(time.Hour) },
			wantErr: "tool_timeout exceeds query_timeout",
		},
		{
			name:    "model timeout exceeds tool timeout",
			mutate:  func(c *Config) { c.Limits.ToolTimeout = Duration(30 * time.Second) },
			wantErr: "model_timeout exceeds tool_timeout",
		},
		{
			name:    "postgres backend without dsn",
			mutate:  func(c *Config) { c.Memory.Backend = "postgres" },
			wantErr: "postgres_dsn",
		},
		{
			name:    "unknown backend",
			mutate:  func(c *Config) { c.Memory.Backend = "redis" },
			wantErr: "unknown memory backend",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("Validate = %v, want error containing %q", err, tc.wantErr)
			}
		})
	}
}

func TestDurationYAML(t *testing.T) {
	var d Duration
	if err := yaml.Unmarshal([]byte(`"1m30s"`), &d); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if d.Std() != 90*time.Second {
		t.Errorf("duration = %v, want 1m30s", d.Std())
	}

	if err := yaml.Unmarshal([]byte(`"ninety seconds"`), &d); err == nil {
		t.Error("unmarshal of invalid duration should fail")
	}

	out, err := yaml.Marshal(Duration(90 * time.Second))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.TrimSpace(string(out)) != "1m30s" {
		t.Errorf("marshal = %q, want 1m30s", strings.TrimSpace(string(out)))
	}
}

func TestWatcherReload(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "model: ollama/llama3.2\n")

	reloaded := make(chan *Config, 1)
	w, err := NewWatcher(path, testLogger(), func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	})
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(path, []byte("model: openai/gpt-4o\n"), 0o600); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.Model != "openai/gpt-4o" {
			t.Errorf("reloaded Model = %q", cfg.Model)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("config reload did not fire")
	}
}

func TestWatcherKeepsPreviousOnBadConfig(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "model: ollama/llama3.2\n")

	reloaded := make(chan *Config, 1)
	w, err := NewWatcher(path, testLogger(), func(cfg *Config) {
		reloaded <- cfg
	})
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Close()

	// Invalid config: the callback must not fire.
	if err := os.WriteFile(path, []byte("model: \"\"\n"), 0o600); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case cfg := <-reloaded:
		t.Errorf("callback fired with %+v for an invalid config", cfg)
	case <-time.After(500 * time.Millisecond):
	}
}
