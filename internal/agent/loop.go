// Package agent implements the reasoning loop: the state machine that
// alternates model calls and tool invocations until a final answer or a
// bound is reached.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ivan-digital/aquarius/internal/llm"
	"github.com/ivan-digital/aquarius/internal/mcp"
	"github.com/ivan-digital/aquarius/internal/memory"
	"github.com/ivan-digital/aquarius/internal/telemetry"
)

// ToolProvider is the loop's view of the tool backend.
type ToolProvider interface {
	Tools() ([]mcp.ToolDescriptor, error)
	Invoke(ctx context.Context, name string, args map[string]interface{}) (string, error)
}

// Limits bounds one invocation. Timeouts compose: ModelTimeout and
// ToolTimeout bound individual calls inside the overall Timeout.
type Limits struct {
	MaxSteps     int
	MaxTokens    int
	ModelTimeout time.Duration
	ToolTimeout  time.Duration
	Timeout      time.Duration
}

const (
	defaultMaxSteps  = 10
	defaultMaxTokens = 4096
)

func (l Limits) withDefaults() Limits {
	if l.MaxSteps <= 0 {
		l.MaxSteps = defaultMaxSteps
	}
	if l.MaxTokens <= 0 {
		l.MaxTokens = defaultMaxTokens
	}
	return l
}

// Result is a successful invocation outcome.
type Result struct {
	Answer   string
	Steps    int
	Duration time.Duration
	Tokens   llm.TokenUsage
}

// Loop runs the reasoning state machine for one session at a time. It
// holds transient references to the model, provider, and memory; it owns
// none of them.
type Loop struct {
	model       llm.Client
	modelName   string
	system      string
	provider    ToolProvider
	memory      memory.Store
	logger      *slog.Logger
	metrics     *telemetry.Metrics
	temperature *float64
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithSystemPrompt overrides the default system prompt.
func WithSystemPrompt(system string) LoopOption {
	return func(l *Loop) { l.system = system }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) LoopOption {
	return func(l *Loop) { l.temperature = &t }
}

// WithLoopLogger sets the logger.
func WithLoopLogger(logger *slog.Logger) LoopOption {
	return func(l *Loop) { l.logger = logger }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *telemetry.Metrics) LoopOption {
	return func(l *Loop) { l.metrics = m }
}

// NewLoop creates a reasoning loop.
func NewLoop(model llm.Client, modelName string, provider ToolProvider, mem memory.Store, opts ...LoopOption) *Loop {
	l := &Loop{
		model:     model,
		modelName: modelName,
		system:    DefaultSystemPrompt,
		provider:  provider,
		memory:    mem,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run executes one invocation: append the user message, then alternate
// model calls and tool dispatches until the model answers in free text or
// a bound is hit. Tool-level failures are recoverable: they are appended
// as error turns for the model to react to; only step/time bounds and
// cancellation are terminal.
func (l *Loop) Run(ctx context.Context, sessionID, userText string, limits Limits) (*Result, error) {
	start := time.Now()
	limits = limits.withDefaults()
	log := telemetry.RequestLogger(ctx, l.logger, sessionID)

	if limits.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, limits.Timeout)
		defer cancel()
	}

	// The tool set is fixed for the life of the connection, so it is
	// fetched once. A provider lost mid-loop can then still have its
	// failure rendered back to the model as an error turn.
	descriptors, err := l.provider.Tools()
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}
	tools := mcp.ToLLMTools(descriptors)

	if err := l.memory.Append(ctx, sessionID, memory.UserTurn(userText)); err != nil {
		return nil, fmt.Errorf("append user turn: %w", err)
	}

	var usage llm.TokenUsage
	for step := 1; step <= limits.MaxSteps; step++ {
		if err := ctx.Err(); err != nil {
			return nil, terminalErr(err)
		}

		resp, err := l.callModel(ctx, sessionID, tools, limits)
		if err != nil {
			return nil, err
		}
		usage.InputTokens += resp.Usage.InputTokens
		usage.OutputTokens += resp.Usage.OutputTokens

		// Tool call wins over any accompanying free text: the loop
		// prefers acting over answering.
		if len(resp.ToolCalls) > 0 {
			if err := l.dispatch(ctx, sessionID, resp, limits, log); err != nil {
				return nil, err
			}
			continue
		}

		if err := l.memory.Append(ctx, sessionID, memory.FinalTurn(resp.Content)); err != nil {
			return nil, fmt.Errorf("append final turn: %w", err)
		}
		log.Info("query answered", "steps", step, "duration", time.Since(start))
		return &Result{
			Answer:   resp.Content,
			Steps:    step,
			Duration: time.Since(start),
			Tokens:   usage,
		}, nil
	}

	return nil, fmt.Errorf("%w: no final answer after %d steps", ErrStepLimitExceeded, limits.MaxSteps)
}

// callModel renders the conversation context and performs one model call
// under the per-call timeout.
func (l *Loop) callModel(ctx context.Context, sessionID string, tools []llm.ToolDefinition, limits Limits) (*llm.ChatResponse, error) {
	turns, err := l.memory.Read(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}

	req := llm.ChatRequest{
		Model:       l.modelName,
		System:      l.system,
		Messages:    renderMessages(turns),
		Tools:       tools,
		MaxTokens:   limits.MaxTokens,
		Temperature: l.temperature,
	}

	callCtx := ctx
	if limits.ModelTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, limits.ModelTimeout)
		defer cancel()
	}

	resp, err := l.model.Chat(callCtx, req)
	if err != nil {
		if terminal := terminalFromCtx(ctx, callCtx, err); terminal != nil {
			return nil, terminal
		}
		return nil, &ModelError{Cause: err}
	}
	if l.metrics != nil {
		l.metrics.RecordModelCall(resp.Usage.InputTokens, resp.Usage.OutputTokens)
	}
	return resp, nil
}

// dispatch records the thought turn, invokes the requested tool, and
// appends the outcome. Provider failures become error turns, not loop
// failures; only caller cancellation or the invocation deadline is
// terminal here.
func (l *Loop) dispatch(ctx context.Context, sessionID string, resp *llm.ChatResponse, limits Limits, log *slog.Logger) error {
	tc := resp.ToolCalls[0]
	if len(resp.ToolCalls) > 1 {
		log.Warn("model requested multiple tool calls; dispatching the first", "dropped", len(resp.ToolCalls)-1)
	}

	call := memory.ToolCall{ID: tc.ID, Name: tc.Name, Args: tc.Input}
	if err := l.memory.Append(ctx, sessionID, memory.ThoughtTurn(resp.Content, call)); err != nil {
		return fmt.Errorf("append thought turn: %w", err)
	}

	invokeCtx := ctx
	if limits.ToolTimeout > 0 {
		var cancel context.CancelFunc
		invokeCtx, cancel = context.WithTimeout(ctx, limits.ToolTimeout)
		defer cancel()
	}

	output, err := l.provider.Invoke(invokeCtx, tc.Name, tc.Input)
	if err != nil {
		if l.metrics != nil {
			l.metrics.RecordToolCall(tc.Name, "error")
		}
		log.Warn("tool call failed", "tool", tc.Name, "error", err)
		if appendErr := l.memory.Append(ctx, sessionID, memory.ToolErrorTurn(call, err.Error())); appendErr != nil {
			return fmt.Errorf("append tool error turn: %w", appendErr)
		}
		// Caller cancellation and the invocation deadline are terminal;
		// the error turn above is kept so memory stays consistent.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return terminalErr(ctxErr)
		}
		return nil
	}

	if l.metrics != nil {
		l.metrics.RecordToolCall(tc.Name, "ok")
	}
	log.Info("tool call succeeded", "tool", tc.Name)
	if err := l.memory.Append(ctx, sessionID, memory.ToolResultTurn(call, output)); err != nil {
		return fmt.Errorf("append tool result turn: %w", err)
	}
	return nil
}

// terminalErr maps a context error to the loop's terminal failure.
func terminalErr(err error) error {
	if errors.Is(err, context.Canceled) {
		return ErrCancelled
	}
	return ErrTimeout
}

// terminalFromCtx classifies a model-call failure: caller cancellation and
// deadline expiry (per-call or invocation-wide) are terminal; anything else
// returns nil so the caller reports it as a model error.
func terminalFromCtx(parent, call context.Context, err error) error {
	switch {
	case errors.Is(parent.Err(), context.Canceled):
		return ErrCancelled
	case errors.Is(parent.Err(), context.DeadlineExceeded):
		return ErrTimeout
	case errors.Is(call.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded):
		return ErrTimeout
	default:
		return nil
	}
}

// renderMessages converts the turn log into role-tagged messages for the
// model.
func renderMessages(turns []memory.Turn) []llm.Message {
	messages := make([]llm.Message, 0, len(turns))
	for _, t := range turns {
		switch t.Kind {
		case memory.KindUser:
			messages = append(messages, llm.Message{Role: llm.RoleUser, Content: t.Text})
		case memory.KindThought:
			msg := llm.Message{Role: llm.RoleAssistant, Content: t.Text}
			if t.ToolCall != nil {
				msg.ToolCalls = []llm.ToolCall{{
					ID:    t.ToolCall.ID,
					Name:  t.ToolCall.Name,
					Input: t.ToolCall.Args,
				}}
			}
			messages = append(messages, msg)
		case memory.KindToolResult:
			content := t.Output
			if t.Err != "" {
				content = t.Err
			}
			messages = append(messages, llm.Message{
				Role: llm.RoleUser,
				ToolResult: &llm.ToolResult{
					ToolUseID: t.CallID,
					Content:   content,
					IsError:   t.Err != "",
				},
			})
		case memory.KindFinal:
			messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: t.Text})
		}
	}
	return messages
}
