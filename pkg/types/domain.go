// Package types holds the JSON shapes of the chatd HTTP API.
package types

// Model is a GGUF file found in the models directory.
type Model struct {
	// Stable identifier: the file name without extension.
	// example: Qwen3-0.6B-Q8_0
	ID string `json:"id" example:"Qwen3-0.6B-Q8_0"`
	// File name.
	// example: Qwen3-0.6B-Q8_0.gguf
	Name string `json:"name" example:"Qwen3-0.6B-Q8_0.gguf"`
	// Absolute path to the model file on disk.
	// example: /home/user/models/Qwen3-0.6B-Q8_0.gguf
	Path string `json:"path" example:"/home/user/models/Qwen3-0.6B-Q8_0.gguf"`
	// Quantization guessed from the file name.
	// example: Q8_0
	Quant string `json:"quant,omitempty" example:"Q8_0"`
	// Family guessed from the file name.
	// example: qwen3
	Family string `json:"family,omitempty" example:"qwen3"`
}

// Message is one chat history entry.
type Message struct {
	// One of system, user, assistant, tool.
	// example: user
	Role string `json:"role" example:"user"`
	// example: What is the temperature in Copenhagen?
	Content string `json:"content" example:"What is the temperature in Copenhagen?"`
	// Tool name, on tool messages only.
	Name string `json:"name,omitempty"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	// example: 01J9Z3K4X8R6T2N5P7Q1W0E3Y4
	ID string `json:"id" example:"01J9Z3K4X8R6T2N5P7Q1W0E3Y4"`
	// example: current_temperature
	Name string `json:"name" example:"current_temperature"`
	// JSON arguments object.
	Arguments any `json:"arguments" swaggertype:"object"`
}

// ToolSpec declares a tool whose implementation is an HTTP webhook. The
// webhook receives {"id","name","arguments"} and answers with the result
// text.
type ToolSpec struct {
	// example: current_temperature
	Name string `json:"name" example:"current_temperature"`
	// example: Gets the current temperature in a city.
	Description string `json:"description" example:"Gets the current temperature in a city."`
	// JSON schema of the arguments object.
	Parameters any `json:"parameters,omitempty" swaggertype:"object"`
	// example: http://localhost:9000/tools/temperature
	URL string `json:"url" example:"http://localhost:9000/tools/temperature"`
	// Per-call timeout; 0 uses the server default.
	// example: 10
	TimeoutSeconds int `json:"timeout_seconds,omitempty" example:"10"`
	// Calls per second allowed to the webhook; 0 is unlimited.
	// example: 2
	RateLimit float64 `json:"rate_limit,omitempty" example:"2"`
}
