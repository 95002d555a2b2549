package tools

import (
	"encoding/json"
	"strings"

	"github.com/oklog/ulid/v2"
)

// Call is a tool invocation parsed from model output.
type Call struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// NewID returns a ULID string.
func NewID() string { return ulid.Make().String() }

// parseCall decodes {"name": ..., "arguments": ...}. Arguments given as a
// JSON-encoded string are unwrapped.
func parseCall(raw string) (Call, bool) {
	var wire struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &wire); err != nil || wire.Name == "" {
		return Call{}, false
	}
	args := wire.Arguments
	var s string
	if len(args) > 0 && args[0] == '"' && json.Unmarshal(args, &s) == nil && json.Valid([]byte(s)) {
		args = json.RawMessage(s)
	}
	if len(args) == 0 || string(args) == "null" {
		args = json.RawMessage(`{}`)
	}
	return Call{ID: NewID(), Name: wire.Name, Arguments: args}, true
}
