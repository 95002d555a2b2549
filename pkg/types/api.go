package types

import "encoding/json"

// ModelsResponse wraps the list of models returned by GET /models.
type ModelsResponse struct {
	Models []Model `json:"models"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
	// Error classification.
	// example: session_busy
	Kind string `json:"kind,omitempty" example:"session_busy"`
}

// CreateSessionRequest is the body of POST /sessions. Unset fields take the
// server defaults.
type CreateSessionRequest struct {
	// example: Qwen3-0.6B-Q8_0
	Model string `json:"model,omitempty" example:"Qwen3-0.6B-Q8_0"`
	// example: You are a helpful assistant.
	SystemPrompt *string `json:"system_prompt,omitempty" example:"You are a helpful assistant."`
	// example: 4096
	NCtx          int   `json:"n_ctx,omitempty" example:"4096"`
	AllowThinking *bool `json:"allow_thinking,omitempty"`
	// example: 512
	MaxTokens int `json:"max_tokens,omitempty" example:"512"`
	// Sampler spec: {"preset":"greedy"} or {"stages":[...],"terminal":{...}}.
	Sampler json.RawMessage `json:"sampler,omitempty" swaggertype:"object"`
	Tools   []ToolSpec      `json:"tools,omitempty"`
	// Seed history.
	History []Message `json:"history,omitempty"`
}

// CreateSessionResponse is returned by POST /sessions.
type CreateSessionResponse struct {
	// Opaque session handle.
	// example: 01J9Z3K4X8R6T2N5P7Q1W0E3Y4
	ID string `json:"id" example:"01J9Z3K4X8R6T2N5P7Q1W0E3Y4"`
	// example: Qwen3-0.6B-Q8_0
	Model string `json:"model" example:"Qwen3-0.6B-Q8_0"`
	// example: 4096
	NCtx int `json:"n_ctx" example:"4096"`
}

// SayRequest is the body of POST /sessions/{id}/say.
type SayRequest struct {
	// example: What is the temperature in Copenhagen?
	Text string `json:"text" example:"What is the temperature in Copenhagen?"`
}

// StreamChunk is one NDJSON line of a say stream. Exactly one of Token,
// ToolCall, Done or Error is set.
type StreamChunk struct {
	Token    string    `json:"token,omitempty"`
	ToolCall *ToolCall `json:"tool_call,omitempty"`
	Done     bool      `json:"done,omitempty"`
	// Final response text, on the done chunk.
	Content string `json:"content,omitempty"`
	// stop, cancelled, tool_limit or length.
	FinishReason string `json:"finish_reason,omitempty"`
	Error        string `json:"error,omitempty"`
	Kind         string `json:"kind,omitempty"`
}

// SocketRequest is a client frame on GET /sessions/{id}/ws. Type is say
// (with Text) or stop. The server answers with StreamChunk frames.
type SocketRequest struct {
	// example: say
	Type string `json:"type" example:"say"`
	// example: What is the temperature in Copenhagen?
	Text string `json:"text,omitempty" example:"What is the temperature in Copenhagen?"`
}

// HistoryBody is used by GET and PUT /sessions/{id}/history.
type HistoryBody struct {
	Messages []Message `json:"messages"`
}

// ToolsRequest is the body of PUT /sessions/{id}/tools.
type ToolsRequest struct {
	Tools []ToolSpec `json:"tools"`
}

// ThinkingRequest is the body of PUT /sessions/{id}/thinking.
type ThinkingRequest struct {
	Allow bool `json:"allow"`
}

// SystemPromptRequest is the body of PUT /sessions/{id}/system_prompt.
type SystemPromptRequest struct {
	// example: Answer in one sentence.
	Prompt string `json:"prompt" example:"Answer in one sentence."`
}

// EmbedRequest is the body of POST /embed.
type EmbedRequest struct {
	// Embedding model; empty uses the server's embed_model.
	Model string `json:"model,omitempty"`
	// example: The dragon is on the hill.
	Text string `json:"text" example:"The dragon is on the hill."`
}

// EmbedResponse is returned by POST /embed.
type EmbedResponse struct {
	Model     string    `json:"model"`
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
}

// SimilarityRequest is the body of POST /similarity.
type SimilarityRequest struct {
	A []float32 `json:"a"`
	B []float32 `json:"b"`
}

// SimilarityResponse is returned by POST /similarity. Similarity is null
// when undefined (zero vector or length mismatch).
type SimilarityResponse struct {
	Similarity *float32 `json:"similarity"`
}

// RankRequest is the body of POST /rank.
type RankRequest struct {
	// Cross-encoder model; empty uses the server's rerank_model.
	Model string `json:"model,omitempty"`
	// example: capital of Denmark
	Query     string   `json:"query" example:"capital of Denmark"`
	Documents []string `json:"documents"`
	// Number of results; omitted or negative returns all.
	Limit *int `json:"limit,omitempty"`
}

// RankedDocument is one result of POST /rank.
type RankedDocument struct {
	Index    int     `json:"index"`
	Document string  `json:"document"`
	Score    float32 `json:"score"`
}

// RankResponse is returned by POST /rank.
type RankResponse struct {
	Model   string           `json:"model"`
	Results []RankedDocument `json:"results"`
}

// ModelStatus describes a loaded model.
type ModelStatus struct {
	// example: Qwen3-0.6B-Q8_0
	ID string `json:"id" example:"Qwen3-0.6B-Q8_0"`
	// Live references: the manager's own plus one per session or encoder.
	// example: 3
	Refs int `json:"refs" example:"3"`
	// example: 2
	Sessions int `json:"sessions" example:"2"`
	// Loaded for embeddings and/or ranking too.
	Embedder bool `json:"embedder,omitempty"`
	Ranker   bool `json:"ranker,omitempty"`
	// example: 1700000000
	LoadedAt int64 `json:"loaded_at_unix" example:"1700000000"`
	UseGPU   bool  `json:"use_gpu"`
}

// SessionStatus describes a live chat session.
type SessionStatus struct {
	ID    string `json:"id"`
	Model string `json:"model"`
	// idle, generating, tool_pending or error.
	// example: idle
	State string `json:"state" example:"idle"`
	Busy  bool   `json:"busy"`
	// example: 6
	HistoryLen int `json:"history_len" example:"6"`
	// example: 812
	CachedTokens int `json:"cached_tokens" example:"812"`
	// example: 4096
	NCtx int `json:"n_ctx" example:"4096"`
	// example: 1700000000
	CreatedAt int64 `json:"created_at_unix" example:"1700000000"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// loading, ready or error.
	// example: ready
	State    string          `json:"state" example:"ready"`
	Models   []ModelStatus   `json:"models"`
	Sessions []SessionStatus `json:"sessions"`
	// Last load error, if any.
	Error string `json:"error,omitempty"`
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
	// example: 4
	LoadsTotal uint64 `json:"loads_total" example:"4"`
	// example: 12
	SessionsCreatedTotal uint64 `json:"sessions_created_total" example:"12"`
}
