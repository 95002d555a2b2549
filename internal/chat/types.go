package chat

import (
	"fmt"

	"chatd/internal/tools"
)

// Role of a message author.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

func (r Role) valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}

// Message is one history entry. Name is the tool name on tool messages.
type Message struct {
	Role    Role   `json:"role" yaml:"role"`
	Content string `json:"content" yaml:"content"`
	Name    string `json:"name,omitempty" yaml:"name,omitempty"`
}

func cloneMessages(in []Message) []Message {
	if in == nil {
		return nil
	}
	return append(make([]Message, 0, len(in)), in...)
}

// State of a session.
type State int32

const (
	StateIdle State = iota
	StateGenerating
	StateToolPending
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateGenerating:
		return "generating"
	case StateToolPending:
		return "tool_pending"
	case StateError:
		return "error"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// EventKind tags an Event.
type EventKind string

const (
	EventToken    EventKind = "token"
	EventToolCall EventKind = "tool_call"
	EventDone     EventKind = "done"
	EventError    EventKind = "error"
)

// FinishReason explains why a turn ended with EventDone.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishCancelled FinishReason = "cancelled"
	FinishToolLimit FinishReason = "tool_limit"
	FinishLength    FinishReason = "length"
)

// Event is one element of a turn's stream. Token is set for EventToken,
// ToolCall for EventToolCall, Text and FinishReason for EventDone and Err
// for EventError.
type Event struct {
	Kind         EventKind
	Token        string
	ToolCall     *tools.Call
	Text         string
	FinishReason FinishReason
	Err          error
}

// Terminal reports whether e ends the stream.
func (e Event) Terminal() bool { return e.Kind == EventDone || e.Kind == EventError }
