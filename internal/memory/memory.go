// Package memory implements per-session conversation history: an
// append-only ordered log of turns with bounded retention.
package memory

import (
	"context"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"
)

// Kind identifies a turn variant.
type Kind string

const (
	// KindUser is a message from the user.
	KindUser Kind = "user"
	// KindThought is a model response that requested a tool call; any free
	// text on it is commentary, not an answer.
	KindThought Kind = "thought"
	// KindToolResult is the outcome of one tool invocation, success or error.
	KindToolResult Kind = "tool_result"
	// KindFinal is the model's final free-text answer.
	KindFinal Kind = "final"
)

// ToolCall is a tool invocation requested by a thought turn.
type ToolCall struct {
	ID   string                 `json:"id"`
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args,omitempty"`
}

// Turn is one immutable unit of conversation history. Insertion order is
// the sole sequencing guarantee; IDs are ULIDs so lexicographic order
// matches append order.
type Turn struct {
	ID   string    `json:"id"`
	Kind Kind      `json:"kind"`
	At   time.Time `json:"at"`

	// Text carries the user message, thought commentary, or final answer.
	Text string `json:"text,omitempty"`

	// ToolCall is set on thought turns.
	ToolCall *ToolCall `json:"tool_call,omitempty"`

	// Tool result fields, set on tool_result turns. CallID links the
	// result to the thought turn that requested it.
	CallID   string                 `json:"call_id,omitempty"`
	ToolName string                 `json:"tool_name,omitempty"`
	Args     map[string]interface{} `json:"args,omitempty"`
	Output   string                 `json:"output,omitempty"`
	Err      string                 `json:"error,omitempty"`
}

func newTurn(kind Kind) Turn {
	return Turn{
		ID:   ulid.Make().String(),
		Kind: kind,
		At:   time.Now().UTC(),
	}
}

// UserTurn creates a user message turn.
func UserTurn(text string) Turn {
	t := newTurn(KindUser)
	t.Text = text
	return t
}

// ThoughtTurn creates a model thought turn carrying a tool call request.
func ThoughtTurn(text string, call ToolCall) Turn {
	t := newTurn(KindThought)
	t.Text = text
	t.ToolCall = &call
	return t
}

// ToolResultTurn creates a successful tool result turn for the given call.
func ToolResultTurn(call ToolCall, output string) Turn {
	t := newTurn(KindToolResult)
	t.CallID = call.ID
	t.ToolName = call.Name
	t.Args = call.Args
	t.Output = output
	return t
}

// ToolErrorTurn creates a failed tool result turn. The error text is fed
// back to the model so it can react.
func ToolErrorTurn(call ToolCall, errText string) Turn {
	t := newTurn(KindToolResult)
	t.CallID = call.ID
	t.ToolName = call.Name
	t.Args = call.Args
	t.Err = errText
	return t
}

// FinalTurn creates a final answer turn.
func FinalTurn(text string) Turn {
	t := newTurn(KindFinal)
	t.Text = text
	return t
}

// Store manages the per-session turn log. Appends never reorder or delete
// history except through the retention policy; Read returns turns in
// insertion order.
type Store interface {
	Append(ctx context.Context, sessionID string, turn Turn) error
	Read(ctx context.Context, sessionID string) ([]Turn, error)
	Evict(ctx context.Context, sessionID string) error
}

// truncate applies the retention policy: keep the most recent maxTurns
// turns, evicting oldest-first, but always preserve the most recent user
// and final turns so a truncated session stays coherent.
func truncate(turns []Turn, maxTurns int) []Turn {
	if maxTurns <= 0 || len(turns) <= maxTurns {
		return turns
	}

	window := turns[len(turns)-maxTurns:]
	inWindow := make(map[string]bool, len(window))
	for _, t := range window {
		inWindow[t.ID] = true
	}

	var pinned []Turn
	for _, kind := range []Kind{KindUser, KindFinal} {
		for i := len(turns) - 1; i >= 0; i-- {
			if turns[i].Kind != kind {
				continue
			}
			if !inWindow[turns[i].ID] {
				pinned = append(pinned, turns[i])
			}
			break
		}
	}
	if len(pinned) == 0 {
		return window
	}

	// Pinned turns predate the window; ULID order restores chronology.
	sort.Slice(pinned, func(i, j int) bool { return pinned[i].ID < pinned[j].ID })
	return append(pinned, window...)
}
