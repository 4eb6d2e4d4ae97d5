// Package config loads and validates the runtime configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration with YAML support for strings like "30s".
type Duration time.Duration

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the standard library duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full runtime configuration.
type Config struct {
	Model        string        `yaml:"model"`
	SystemPrompt string        `yaml:"system_prompt,omitempty"`
	LogLevel     string        `yaml:"log_level,omitempty"`
	Server       ServerConfig  `yaml:"server"`
	GitHub       GitHubConfig  `yaml:"github"`
	MCP          MCPConfig     `yaml:"mcp"`
	Limits       LimitsConfig  `yaml:"limits"`
	Session      SessionConfig `yaml:"session"`
	Memory       MemoryConfig  `yaml:"memory"`
}

// ServerConfig configures the HTTP transport.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// GitHubConfig holds GitHub credentials.
type GitHubConfig struct {
	Token string `yaml:"token,omitempty"`
}

// MCPConfig overrides how the tool backend subprocess is launched. Empty
// command means the default GitHub MCP server via docker.
type MCPConfig struct {
	Command      string   `yaml:"command,omitempty"`
	Args         []string `yaml:"args,omitempty"`
	StartTimeout Duration `yaml:"start_timeout,omitempty"`
}

// LimitsConfig bounds one query.
type LimitsConfig struct {
	MaxSteps     int      `yaml:"max_steps"`
	MaxTokens    int      `yaml:"max_tokens"`
	ModelTimeout Duration `yaml:"model_timeout"`
	ToolTimeout  Duration `yaml:"tool_timeout"`
	QueryTimeout Duration `yaml:"query_timeout"`
}

// SessionConfig controls session expiry.
type SessionConfig struct {
	IdleTTL       Duration `yaml:"idle_ttl"`
	SweepSchedule string   `yaml:"sweep_schedule"`
}

// MemoryConfig selects the conversation memory backend.
type MemoryConfig struct {
	Backend     string `yaml:"backend"` // "memory" or "postgres"
	MaxTurns    int    `yaml:"max_turns"`
	PostgresDSN string `yaml:"postgres_dsn,omitempty"`
}

// Default returns the configuration used when no file is provided.
func Default() *Config {
	return &Config{
		Model:    "ollama/llama3.2",
		LogLevel: "info",
		Server:   ServerConfig{Addr: ":8080"},
		MCP:      MCPConfig{StartTimeout: Duration(30 * time.Second)},
		Limits: LimitsConfig{
			MaxSteps:     10,
			MaxTokens:    4096,
			ModelTimeout: Duration(60 * time.Second),
			ToolTimeout:  Duration(120 * time.Second),
			QueryTimeout: Duration(300 * time.Second),
		},
		Session: SessionConfig{
			IdleTTL:       Duration(30 * time.Minute),
			SweepSchedule: "@every 5m",
		},
		Memory: MemoryConfig{
			Backend:  "memory",
			MaxTurns: 50,
		},
	}
}

// Load reads the config file, layering it over defaults and the
// environment. An empty path yields defaults plus environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv fills credentials and overrides from the environment. The file
// never needs to hold the GitHub token.
func (c *Config) applyEnv() {
	if c.GitHub.Token == "" {
		c.GitHub.Token = os.Getenv("GITHUB_TOKEN")
	}
	if c.GitHub.Token == "" {
		c.GitHub.Token = os.Getenv("GITHUB_PERSONAL_ACCESS_TOKEN")
	}
	if v := os.Getenv("AQUARIUS_MODEL"); v != "" {
		c.Model = v
	}
	if v := os.Getenv("AQUARIUS_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("AQUARIUS_POSTGRES_DSN"); v != "" {
		c.Memory.PostgresDSN = v
	}
}

// Validate rejects configurations the runtime cannot honor.
func (c *Config) Validate() error {
	if c.Model == "" {
		return fmt.Errorf("config: model must be set")
	}
	if c.Limits.MaxSteps <= 0 {
		return fmt.Errorf("config: limits.max_steps must be positive")
	}
	// Timeouts compose: model call inside tool call inside the query.
	if c.Limits.ToolTimeout > 0 && c.Limits.ModelTimeout.Std() > c.Limits.ToolTimeout.Std() {
		return fmt.Errorf("config: limits.model_timeout exceeds tool_timeout")
	}
	if c.Limits.QueryTimeout > 0 {
		if c.Limits.ModelTimeout.Std() > c.Limits.QueryTimeout.Std() {
			return fmt.Errorf("config: limits.model_timeout exceeds query_timeout")
		}
		if c.Limits.ToolTimeout.Std() > c.Limits.QueryTimeout.Std() {
			return fmt.Errorf("config: limits.tool_timeout exceeds query_timeout")
		}
	}
	switch c.Memory.Backend {
	case "", "memory":
	case "postgres":
		if c.Memory.PostgresDSN == "" {
			return fmt.Errorf("config: memory.postgres_dsn required for postgres backend")
		}
	default:
		return fmt.Errorf("config: unknown memory backend %q", c.Memory.Backend)
	}
	return nil
}
