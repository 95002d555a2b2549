package tools

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Format is a model family's tool-calling convention: how tools are
// advertised in the system prompt, how calls appear in output and how
// results are fed back.
type Format interface {
	Name() string
	// BeginMarker starts a tool call in model output. Text from the marker
	// on is withheld from the token stream.
	BeginMarker() string
	// Extract returns the calls found in a complete response.
	Extract(text string) []Call
	// SystemPrompt appends the tool definitions to base.
	SystemPrompt(base string, tools []Descriptor) string
	// ToolResult renders a tool response as a template role and content.
	ToolResult(name, content string) (role, text string)
}

// Detect picks the format from the model's chat template, falling back to
// hints in the model name. Qwen3/Hermes markers are the default.
func Detect(chatTemplate, modelName string) Format {
	switch {
	case strings.Contains(chatTemplate, "<start_function_call>"),
		strings.Contains(chatTemplate, "<end_function_call>"):
		return FunctionGemma{}
	case strings.Contains(chatTemplate, "<tool_call>"),
		strings.Contains(chatTemplate, "</tool_call>"):
		return Qwen3{}
	case strings.Contains(chatTemplate, "[TOOL_CALLS]"):
		return Ministral{}
	}
	name := strings.ToLower(modelName)
	switch {
	case strings.Contains(name, "functiongemma"), strings.Contains(name, "function-gemma"):
		return FunctionGemma{}
	case strings.Contains(name, "ministral"):
		return Ministral{}
	}
	return Qwen3{}
}

func functionJSON(d Descriptor) []byte {
	params := d.Parameters
	if len(params) == 0 {
		params = json.RawMessage(`{"type":"object","properties":{}}`)
	}
	b, _ := json.Marshal(map[string]any{
		"type": "function",
		"function": map[string]any{
			"name":        d.Name,
			"description": d.Description,
			"parameters":  params,
		},
	})
	return b
}

// Qwen3 uses <tool_call>{"name":...,"arguments":{...}}</tool_call>.
type Qwen3 struct{}

var qwenCallRe = regexp.MustCompile(`(?s)<tool_call>(.*?)</tool_call>`)

func (Qwen3) Name() string        { return "qwen3" }
func (Qwen3) BeginMarker() string { return "<tool_call>" }

func (Qwen3) Extract(text string) []Call {
	var calls []Call
	for _, m := range qwenCallRe.FindAllStringSubmatch(text, -1) {
		if c, ok := parseCall(m[1]); ok {
			calls = append(calls, c)
		}
	}
	// generation may end right before the closing marker
	last := strings.LastIndex(text, "<tool_call>")
	if last >= 0 && !strings.Contains(text[last:], "</tool_call>") {
		if c, ok := parseCall(text[last+len("<tool_call>"):]); ok {
			calls = append(calls, c)
		}
	}
	return calls
}

func (Qwen3) SystemPrompt(base string, tools []Descriptor) string {
	if len(tools) == 0 {
		return base
	}
	var sb strings.Builder
	if base != "" {
		sb.WriteString(base)
		sb.WriteString("\n\n")
	}
	sb.WriteString("# Tools\n\nYou may call one or more functions to assist with the user query.\n\n")
	sb.WriteString("You are provided with function signatures within <tools></tools> XML tags:\n<tools>")
	for _, d := range tools {
		sb.WriteString("\n")
		sb.Write(functionJSON(d))
	}
	sb.WriteString("\n</tools>\n\nFor each function call, return a json object with function name and arguments within <tool_call></tool_call> XML tags:\n")
	sb.WriteString("<tool_call>\n{\"name\": <function-name>, \"arguments\": <args-json-object>}\n</tool_call>")
	return sb.String()
}

func (Qwen3) ToolResult(name, content string) (string, string) {
	return "user", "<tool_response>\n" + content + "\n</tool_response>"
}

// Ministral uses [TOOL_CALLS]name[ARGS]{...} or [TOOL_CALLS]{"name":...}.
type Ministral struct{}

func (Ministral) Name() string        { return "ministral" }
func (Ministral) BeginMarker() string { return "[TOOL_CALLS]" }

func (Ministral) Extract(text string) []Call {
	segments := strings.Split(text, "[TOOL_CALLS]")
	var calls []Call
	for _, seg := range segments[1:] {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		if name, args, ok := strings.Cut(seg, "[ARGS]"); ok {
			raw, _ := json.Marshal(map[string]json.RawMessage{
				"name":      mustJSONString(strings.TrimSpace(name)),
				"arguments": json.RawMessage(strings.TrimSpace(args)),
			})
			if c, ok := parseCall(string(raw)); ok {
				calls = append(calls, c)
			}
			continue
		}
		if c, ok := parseCall(seg); ok {
			calls = append(calls, c)
		}
	}
	return calls
}

func mustJSONString(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}

func (Ministral) SystemPrompt(base string, tools []Descriptor) string {
	if len(tools) == 0 {
		return base
	}
	parts := make([]string, 0, len(tools))
	for _, d := range tools {
		parts = append(parts, string(functionJSON(d)))
	}
	out := "[AVAILABLE_TOOLS][" + strings.Join(parts, ",") + "][/AVAILABLE_TOOLS]"
	if base == "" {
		return out
	}
	return base + "\n\n" + out
}

func (Ministral) ToolResult(name, content string) (string, string) {
	return "tool", "[TOOL_RESULTS]" + content + "[/TOOL_RESULTS]"
}

// FunctionGemma uses
// <start_function_call>call:name{key:<escape>value<escape>, ...}<end_function_call>.
// Values that parse as JSON keep their type; anything else is a string.
type FunctionGemma struct{}

var (
	gemmaCallRe  = regexp.MustCompile(`(?s)<start_function_call>\s*call:(\w+)\{(.*?)\}\s*<end_function_call>`)
	gemmaParamRe = regexp.MustCompile(`(?s)(\w+):<escape>(.*?)<escape>`)
)

func (FunctionGemma) Name() string        { return "functiongemma" }
func (FunctionGemma) BeginMarker() string { return "<start_function_call>" }

func (FunctionGemma) Extract(text string) []Call {
	var calls []Call
	for _, m := range gemmaCallRe.FindAllStringSubmatch(text, -1) {
		args := map[string]json.RawMessage{}
		for _, p := range gemmaParamRe.FindAllStringSubmatch(m[2], -1) {
			if json.Valid([]byte(p[2])) {
				args[p[1]] = json.RawMessage(p[2])
			} else {
				args[p[1]] = mustJSONString(p[2])
			}
		}
		raw, _ := json.Marshal(args)
		calls = append(calls, Call{ID: NewID(), Name: m[1], Arguments: raw})
	}
	return calls
}

func (FunctionGemma) SystemPrompt(base string, tools []Descriptor) string {
	if len(tools) == 0 {
		return base
	}
	var sb strings.Builder
	if base != "" {
		sb.WriteString(base)
		sb.WriteString("\n\n")
	}
	sb.WriteString("You can call the following functions:\n")
	for _, d := range tools {
		sb.WriteString("<start_function_declaration>")
		sb.Write(functionJSON(d))
		sb.WriteString("<end_function_declaration>\n")
	}
	sb.WriteString("To call a function, reply with ")
	sb.WriteString("<start_function_call>call:<name>{<param>:<escape><value><escape>, ...}<end_function_call>")
	return sb.String()
}

func (FunctionGemma) ToolResult(name, content string) (string, string) {
	return "tool", "<start_function_response>response:" + name + "{result:<escape>" + content + "<escape>}<end_function_response>"
}
