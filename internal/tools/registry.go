// Package tools holds the tool descriptors a chat session exposes to the
// model, the parsers that find tool calls in model output, and the
// invocation path (argument validation, then the host callback).
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonschema"

	"chatd/internal/errs"
)

// Func is the host capability behind a tool. It receives the raw JSON
// arguments object and returns the text handed back to the model.
type Func func(ctx context.Context, args json.RawMessage) (string, error)

// Descriptor describes one tool. Parameters is the JSON schema of the
// arguments object.
type Descriptor struct {
	Name        string
	Description string
	Parameters  json.RawMessage
	Func        Func
}

type entry struct {
	desc   Descriptor
	schema *jsonschema.Schema
}

// Registry is an immutable set of tools with unique names.
type Registry struct {
	byName map[string]*entry
	order  []string
}

// NewRegistry validates the descriptors and compiles their schemas.
func NewRegistry(descs ...Descriptor) (*Registry, error) {
	r := &Registry{byName: make(map[string]*entry, len(descs))}
	for _, d := range descs {
		name := strings.TrimSpace(d.Name)
		if name == "" {
			return nil, errs.New(errs.KindInvalidArgument, "tool name is required")
		}
		if _, dup := r.byName[name]; dup {
			return nil, errs.New(errs.KindInvalidArgument, "duplicate tool name %q", name)
		}
		if d.Func == nil {
			return nil, errs.New(errs.KindInvalidArgument, "tool %q has no callback", name)
		}
		d.Name = name
		if len(d.Parameters) == 0 || string(d.Parameters) == "null" {
			d.Parameters = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		schema, err := jsonschema.NewCompiler().Compile([]byte(d.Parameters))
		if err != nil {
			return nil, errs.Wrap(errs.KindInvalidArgument, err, "tool %q: invalid parameters schema", name)
		}
		r.byName[name] = &entry{desc: d, schema: schema}
		r.order = append(r.order, name)
	}
	return r, nil
}

// Len is the number of tools. A nil registry is empty.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.order)
}

// Lookup finds a tool by name.
func (r *Registry) Lookup(name string) (Descriptor, bool) {
	if r == nil {
		return Descriptor{}, false
	}
	e, ok := r.byName[name]
	if !ok {
		return Descriptor{}, false
	}
	return e.desc, true
}

// List returns the descriptors in registration order.
func (r *Registry) List() []Descriptor {
	if r == nil {
		return nil
	}
	out := make([]Descriptor, 0, len(r.order))
	for _, n := range r.order {
		out = append(out, r.byName[n].desc)
	}
	return out
}

// Names returns the tool names in registration order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	return append([]string(nil), r.order...)
}

// Validate checks args against the tool's schema.
func (r *Registry) Validate(name string, args json.RawMessage) error {
	if r == nil {
		return errs.New(errs.KindToolNotFound, "tool %q not registered", name)
	}
	e, ok := r.byName[name]
	if !ok {
		return errs.New(errs.KindToolNotFound, "tool %q not registered", name)
	}
	var data any
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	if err := json.Unmarshal(args, &data); err != nil {
		return errs.Wrap(errs.KindToolExecution, err, "tool %q: arguments are not valid JSON", name)
	}
	result := e.schema.Validate(data)
	if !result.IsValid() {
		return errs.Wrap(errs.KindToolExecution, fmt.Errorf("%s", result.Error()), "tool %q: arguments do not match schema", name)
	}
	return nil
}

// Invoke validates the call arguments and runs the callback. Unknown tools
// fail with KindToolNotFound, everything else with KindToolExecution.
func (r *Registry) Invoke(ctx context.Context, call Call) (string, error) {
	if err := r.Validate(call.Name, call.Arguments); err != nil {
		return "", err
	}
	desc, _ := r.Lookup(call.Name)
	out, err := desc.Func(ctx, call.Arguments)
	if err != nil {
		return "", errs.Wrap(errs.KindToolExecution, err, "tool %q failed", call.Name)
	}
	return out, nil
}
