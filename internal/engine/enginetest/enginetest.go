// Package enginetest provides a deterministic in-memory engine for tests.
//
// The vocabulary is the 256 byte values plus a handful of special tokens, the
// chat template is ChatML, and the logits returned by Decode put all the mass
// on the next token of a scripted reply. A Script maps the rendered prompt to
// the full reply the "model" should produce.
package enginetest

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"chatd/internal/engine"
	"chatd/internal/errs"
)

// Special tokens following the byte range.
const (
	TokBOS engine.Token = 256 + iota
	TokEOS
	TokToolCallBegin
	TokToolCallEnd
	TokImStart
	TokImEnd
	vocabSize
)

var specials = []struct {
	tok  engine.Token
	text string
}{
	{TokToolCallBegin, "<tool_call>"},
	{TokToolCallEnd, "</tool_call>"},
	{TokImStart, "<|im_start|>"},
	{TokImEnd, "<|im_end|>"},
	{TokBOS, "<s>"},
	{TokEOS, "</s>"},
}

// ThinkBlock is what a Qwen-style template emits when thinking is disabled.
const ThinkBlock = "<think>\n\n</think>\n\n"

// DefaultTemplate mentions the Qwen tool markers so format detection picks them.
const DefaultTemplate = "{%- for message in messages %}<|im_start|>{{ message.role }}\n{{ message.content }}<|im_end|>\n{%- endfor %}{# tools: <tool_call></tool_call> #}"

// Script returns the full reply for a rendered prompt.
type Script func(prompt string) string

// Echo replies with the text of the last user message.
func Echo(prompt string) string {
	i := strings.LastIndex(prompt, "<|im_start|>user\n")
	if i < 0 {
		return ""
	}
	rest := prompt[i+len("<|im_start|>user\n"):]
	if j := strings.Index(rest, "<|im_end|>"); j >= 0 {
		rest = rest[:j]
	}
	return rest
}

// Options configure scripted models.
type Options struct {
	Script   Script
	Template string
	// Scorer computes rank scores from "Query: ...\nDocument: ..." text.
	Scorer func(text string) float32
	// EmbedDim is the embedding width (default 16).
	EmbedDim int
	// DecodeErr, when set, fails every Decode.
	DecodeErr error
}

// Backend "loads" any file whose content starts with GGUF.
type Backend struct {
	Opts Options

	mu     sync.Mutex
	loaded []*Model
}

func NewBackend(opts Options) *Backend { return &Backend{Opts: opts} }

func (b *Backend) LoadModel(path string, opts engine.LoadOptions) (engine.Model, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(string(raw), "GGUF") {
		return nil, errs.New(errs.KindInvalidModel, "enginetest: %s is not a gguf file", path)
	}
	m := NewModel(b.Opts)
	b.mu.Lock()
	b.loaded = append(b.loaded, m)
	b.mu.Unlock()
	return m, nil
}

// Loaded returns every model this backend produced, in load order.
func (b *Backend) Loaded() []*Model {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Model(nil), b.loaded...)
}

// Model is a scripted engine.Model.
type Model struct {
	opts    Options
	closed  atomic.Bool
	decoded atomic.Int64

	mu   sync.Mutex
	memo map[string]string
}

func NewModel(opts Options) *Model {
	if opts.Script == nil {
		opts.Script = Echo
	}
	if opts.Template == "" {
		opts.Template = DefaultTemplate
	}
	if opts.EmbedDim <= 0 {
		opts.EmbedDim = 16
	}
	if opts.Scorer == nil {
		opts.Scorer = WordOverlap
	}
	return &Model{opts: opts, memo: make(map[string]string)}
}

// Closed reports whether Close was called.
func (m *Model) Closed() bool { return m.closed.Load() }

// DecodedTokens is the total number of tokens passed to Decode.
func (m *Model) DecodedTokens() int64 { return m.decoded.Load() }

func (m *Model) Tokenize(text string, addSpecial bool) ([]engine.Token, error) {
	var out []engine.Token
	if addSpecial {
		out = append(out, TokBOS)
	}
	for i := 0; i < len(text); {
		matched := false
		for _, s := range specials {
			if strings.HasPrefix(text[i:], s.text) {
				out = append(out, s.tok)
				i += len(s.text)
				matched = true
				break
			}
		}
		if !matched {
			out = append(out, engine.Token(text[i]))
			i++
		}
	}
	return out, nil
}

func (m *Model) Detokenize(tokens []engine.Token) (string, error) {
	var sb strings.Builder
	for _, t := range tokens {
		switch {
		case t >= 0 && t < 256:
			sb.WriteByte(byte(t))
		case t == TokBOS || t == TokEOS:
		case t < vocabSize:
			for _, s := range specials {
				if s.tok == t {
					sb.WriteString(s.text)
				}
			}
		default:
			return "", fmt.Errorf("enginetest: token %d out of vocabulary", t)
		}
	}
	return sb.String(), nil
}

func (m *Model) IsEOG(t engine.Token) bool { return t == TokEOS || t == TokImEnd }

func (m *Model) VocabSize() int { return int(vocabSize) }

func (m *Model) ChatTemplate() string { return m.opts.Template }

func (m *Model) ApplyChatTemplate(msgs []engine.ChatMessage, addAssistant bool) (string, error) {
	var sb strings.Builder
	for _, msg := range msgs {
		sb.WriteString("<|im_start|>" + msg.Role + "\n" + msg.Content + "<|im_end|>\n")
	}
	if addAssistant {
		sb.WriteString("<|im_start|>assistant\n")
	}
	return sb.String(), nil
}

func (m *Model) NewContext(opts engine.ContextOptions) (engine.Context, error) {
	if opts.NCtx <= 0 {
		return nil, fmt.Errorf("enginetest: n_ctx must be positive")
	}
	return &Context{m: m, nCtx: opts.NCtx, mode: opts.Mode}, nil
}

func (m *Model) Close() error {
	m.closed.Store(true)
	return nil
}

func (m *Model) reply(prompt string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.memo[prompt]; ok {
		return r
	}
	r := m.opts.Script(prompt)
	m.memo[prompt] = r
	return r
}

// Context is a scripted engine.Context.
type Context struct {
	m      *Model
	nCtx   int
	mode   engine.Mode
	cache  []engine.Token
	closed bool
}

// Tokens returns a copy of the cached token sequence.
func (c *Context) Tokens() []engine.Token { return append([]engine.Token(nil), c.cache...) }

const assistantHeader = "<|im_start|>assistant\n"

func (c *Context) Decode(tokens []engine.Token) ([]float32, error) {
	if c.closed {
		return nil, fmt.Errorf("enginetest: context closed")
	}
	if c.m.opts.DecodeErr != nil {
		return nil, c.m.opts.DecodeErr
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("enginetest: decode of empty batch")
	}
	if len(c.cache)+len(tokens) > c.nCtx {
		return nil, errs.New(errs.KindContextOverflow, "enginetest: %d cached + %d new exceeds n_ctx %d", len(c.cache), len(tokens), c.nCtx)
	}
	c.cache = append(c.cache, tokens...)
	c.m.decoded.Add(int64(len(tokens)))

	text, err := c.m.Detokenize(c.cache)
	if err != nil {
		return nil, err
	}
	next := TokEOS
	if i := strings.LastIndex(text, assistantHeader); i >= 0 {
		prompt, after := text[:i+len(assistantHeader)], text[i+len(assistantHeader):]
		if strings.HasPrefix(after, ThinkBlock) {
			prompt += ThinkBlock
			after = after[len(ThinkBlock):]
		}
		reply := c.m.reply(prompt)
		if strings.HasPrefix(reply, after) && len(after) < len(reply) {
			rest, _ := c.m.Tokenize(reply[len(after):], false)
			next = rest[0]
		}
	}
	logits := make([]float32, vocabSize)
	for i := range logits {
		logits[i] = -10
	}
	if next < 255 {
		logits[next+1] = 5
	}
	logits[next] = 10
	return logits, nil
}

func (c *Context) Len() int { return len(c.cache) }

func (c *Context) Truncate(n int) error {
	if n < 0 || n > len(c.cache) {
		return fmt.Errorf("enginetest: truncate %d out of range [0,%d]", n, len(c.cache))
	}
	c.cache = c.cache[:n]
	return nil
}

func (c *Context) Embed(tokens []engine.Token) ([]float32, error) {
	if len(tokens) > c.nCtx {
		return nil, errs.New(errs.KindContextOverflow, "enginetest: input exceeds n_ctx")
	}
	v := make([]float32, c.m.opts.EmbedDim)
	for _, t := range tokens {
		if t == TokBOS || t == TokEOS {
			continue
		}
		v[int(t)%len(v)]++
	}
	return v, nil
}

func (c *Context) Score(tokens []engine.Token) (float32, error) {
	if len(tokens) > c.nCtx {
		return 0, errs.New(errs.KindContextOverflow, "enginetest: input exceeds n_ctx")
	}
	text, err := c.m.Detokenize(tokens)
	if err != nil {
		return 0, err
	}
	return c.m.opts.Scorer(text), nil
}

func (c *Context) NCtx() int { return c.nCtx }

func (c *Context) Close() error {
	c.closed = true
	return nil
}

// WordOverlap scores "Query: q\nDocument: d" by the number of query words
// found in the document.
func WordOverlap(text string) float32 {
	q, d, ok := strings.Cut(text, "\nDocument: ")
	if !ok {
		return 0
	}
	q = strings.TrimPrefix(q, "Query: ")
	doc := strings.Fields(strings.ToLower(d))
	var score float32
	for _, w := range strings.Fields(strings.ToLower(q)) {
		for _, dw := range doc {
			if strings.Trim(dw, ".,!?") == w {
				score++
				break
			}
		}
	}
	return score
}

// WriteModelFile writes a minimal file the Backend accepts.
func WriteModelFile(path string) error { return os.WriteFile(path, []byte("GGUF-test"), 0o644) }
