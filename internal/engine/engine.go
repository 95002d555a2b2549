// Package engine defines the inference collaborator consumed by the chat
// core: tokenizer, chat template, forward pass and KV cache. The llama
// subpackage binds these to libllama; enginetest provides a scripted
// in-memory implementation for tests.
package engine

// Token is a vocabulary id.
type Token int32

// ChatMessage is a role/content pair handed to the chat template.
type ChatMessage struct {
	Role    string
	Content string
}

// Mode selects what a Context computes.
type Mode int

const (
	// ModeGenerate returns next-token logits from Decode.
	ModeGenerate Mode = iota
	// ModeEmbed pools hidden states into a sequence embedding.
	ModeEmbed
	// ModeRank pools into a single classification score.
	ModeRank
)

// LoadOptions control how a model file is loaded.
type LoadOptions struct {
	UseGPU bool
}

// ContextOptions control a new inference context.
type ContextOptions struct {
	NCtx  int
	Mode  Mode
	Batch int
}

// Backend loads model files.
type Backend interface {
	LoadModel(path string, opts LoadOptions) (Model, error)
}

// Model is immutable after load and safe for concurrent use.
type Model interface {
	Tokenize(text string, addSpecial bool) ([]Token, error)
	// Detokenize renders tokens to text. A single token may render to an
	// incomplete UTF-8 sequence.
	Detokenize(tokens []Token) (string, error)
	IsEOG(t Token) bool
	VocabSize() int
	// ChatTemplate returns the raw template string embedded in the model.
	ChatTemplate() string
	ApplyChatTemplate(msgs []ChatMessage, addAssistant bool) (string, error)
	NewContext(opts ContextOptions) (Context, error)
	Close() error
}

// Context owns a KV cache. It is not safe for concurrent use.
type Context interface {
	// Decode appends tokens to the cache and returns the logits for the last one.
	Decode(tokens []Token) ([]float32, error)
	// Len is the number of cached positions.
	Len() int
	// Truncate drops cached positions >= n.
	Truncate(n int) error
	// Embed evaluates tokens from an empty cache and returns the pooled embedding.
	Embed(tokens []Token) ([]float32, error)
	// Score evaluates tokens from an empty cache and returns the rank score.
	Score(tokens []Token) (float32, error)
	NCtx() int
	Close() error
}
