package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ivan-digital/aquarius/internal/agent"
	"github.com/ivan-digital/aquarius/internal/config"
	"github.com/ivan-digital/aquarius/internal/facade"
	"github.com/ivan-digital/aquarius/internal/llm"
	"github.com/ivan-digital/aquarius/internal/mcp"
	"github.com/ivan-digital/aquarius/internal/memory"
	"github.com/ivan-digital/aquarius/internal/session"
	"github.com/ivan-digital/aquarius/internal/telemetry"
)

// runtime holds everything a command needs after bootstrap. Close releases
// resources not owned by the facade.
type runtime struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *telemetry.Metrics
	facade  *facade.Facade
	pool    *pgxpool.Pool
}

func (rt *runtime) Close() {
	if rt.pool != nil {
		rt.pool.Close()
	}
}

// buildRuntime loads configuration and wires the full agent stack: memory
// backend, tool provider, model client, reasoning loop, sessions, facade.
// The provider is not started; callers run facade.Initialize themselves.
func buildRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger := telemetry.NewLogger(os.Stdout, logLevel(cfg))
	metrics := telemetry.NewMetrics()

	rt := &runtime{cfg: cfg, logger: logger, metrics: metrics}

	var store memory.Store
	switch cfg.Memory.Backend {
	case "postgres":
		pool, err := memory.NewPostgresPool(ctx, cfg.Memory.PostgresDSN)
		if err != nil {
			return nil, err
		}
		pg := memory.NewPostgresStore(pool, cfg.Memory.MaxTurns)
		if err := pg.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		rt.pool = pool
		store = pg
	default:
		store = memory.NewWindow(cfg.Memory.MaxTurns)
	}

	serverCfg, err := toolServerConfig(cfg)
	if err != nil {
		rt.Close()
		return nil, err
	}
	provider := mcp.NewProvider(serverCfg, mcp.WithLogger(logger))

	model, modelName := llm.NewClientForModel(cfg.Model)

	loopOpts := []agent.LoopOption{
		agent.WithLoopLogger(logger),
		agent.WithMetrics(metrics),
	}
	if cfg.SystemPrompt != "" {
		loopOpts = append(loopOpts, agent.WithSystemPrompt(cfg.SystemPrompt))
	}
	loop := agent.NewLoop(model, modelName, provider, store, loopOpts...)

	sessions := session.NewMemoryStore(cfg.Session.IdleTTL.Std())
	janitor, err := session.NewJanitor(sessions, cfg.Session.SweepSchedule, logger, func(ctx context.Context, id string) {
		if err := store.Evict(ctx, id); err != nil {
			logger.Warn("evict expired session memory", "session", id, "error", err)
		}
	})
	if err != nil {
		rt.Close()
		return nil, err
	}

	rt.facade = facade.New(provider, sessions, store, loop, limitsFromConfig(cfg),
		facade.WithJanitor(janitor),
		facade.WithLogger(logger),
		facade.WithMetrics(metrics),
	)
	return rt, nil
}

// toolServerConfig resolves the MCP server to launch: an explicit command
// from the config, or the GitHub MCP server by default.
func toolServerConfig(cfg *config.Config) (mcp.ServerConfig, error) {
	if cfg.MCP.Command != "" {
		return mcp.ServerConfig{
			Name:         "tools",
			Command:      cfg.MCP.Command,
			Args:         cfg.MCP.Args,
			StartTimeout: cfg.MCP.StartTimeout.Std(),
		}, nil
	}
	if cfg.GitHub.Token == "" {
		return mcp.ServerConfig{}, fmt.Errorf("github token required: set GITHUB_TOKEN or github.token in config")
	}
	return mcp.GitHubServer(cfg.GitHub.Token, cfg.MCP.StartTimeout.Std()), nil
}

func limitsFromConfig(cfg *config.Config) agent.Limits {
	return agent.Limits{
		MaxSteps:     cfg.Limits.MaxSteps,
		MaxTokens:    cfg.Limits.MaxTokens,
		ModelTimeout: cfg.Limits.ModelTimeout.Std(),
		ToolTimeout:  cfg.Limits.ToolTimeout.Std(),
		Timeout:      cfg.Limits.QueryTimeout.Std(),
	}
}

func logLevel(cfg *config.Config) slog.Level {
	if verbose {
		return slog.LevelDebug
	}
	switch cfg.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
