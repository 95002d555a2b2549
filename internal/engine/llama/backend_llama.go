//go:build llama

package llama

/*
#include <stdlib.h>
#include <stdbool.h>
#include <llama.h>

static int32_t chatd_decode(struct llama_context *ctx, llama_token *toks, int32_t n) {
	return llama_decode(ctx, llama_batch_get_one(toks, n));
}

static void chatd_seq_rm(struct llama_context *ctx, int32_t p0) {
	llama_memory_seq_rm(llama_get_memory(ctx), 0, p0, -1);
}

static void chatd_clear(struct llama_context *ctx) {
	llama_memory_clear(llama_get_memory(ctx), true);
}

static struct llama_chat_message *chatd_alloc_msgs(size_t n) {
	return (struct llama_chat_message *)calloc(n, sizeof(struct llama_chat_message));
}

static void chatd_set_msg(struct llama_chat_message *msgs, size_t i, char *role, char *content) {
	msgs[i].role = role;
	msgs[i].content = content;
}
*/
import "C"

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/rs/zerolog"

	"chatd/internal/engine"
	"chatd/internal/errs"
)

var initOnce sync.Once

// Backend loads GGUF models through libllama.
type Backend struct {
	log zerolog.Logger
}

// NewBackend returns the libllama backend.
func NewBackend(log zerolog.Logger) *Backend {
	initOnce.Do(func() { C.llama_backend_init() })
	return &Backend{log: log}
}

// Available reports whether this build can run models.
func Available() bool { return true }

func (b *Backend) LoadModel(path string, opts engine.LoadOptions) (engine.Model, error) {
	params := C.llama_model_default_params()
	params.n_gpu_layers = 0
	if opts.UseGPU {
		if bool(C.llama_supports_gpu_offload()) {
			params.n_gpu_layers = 1 << 20
		} else {
			b.log.Warn().Str("path", path).Msg("gpu offload unsupported, loading on cpu")
		}
	}
	cpath := C.CString(path)
	defer C.free(unsafe.Pointer(cpath))
	m := C.llama_model_load_from_file(cpath, params)
	if m == nil && opts.UseGPU {
		b.log.Warn().Str("path", path).Msg("gpu load failed, retrying on cpu")
		params.n_gpu_layers = 0
		m = C.llama_model_load_from_file(cpath, params)
	}
	if m == nil {
		return nil, errs.New(errs.KindInvalidModel, "llama: cannot load %s", path)
	}
	mdl := &model{ptr: m, vocab: C.llama_model_get_vocab(m)}
	if t := C.llama_model_chat_template(m, nil); t != nil {
		mdl.template = C.GoString(t)
	}
	return mdl, nil
}

type model struct {
	// decode calls on one model are serialized
	mu       sync.Mutex
	ptr      *C.struct_llama_model
	vocab    *C.struct_llama_vocab
	template string
	closed   bool
}

func (m *model) Tokenize(text string, addSpecial bool) ([]engine.Token, error) {
	ctext := C.CString(text)
	defer C.free(unsafe.Pointer(ctext))
	buf := make([]engine.Token, len(text)+8)
	n := C.llama_tokenize(m.vocab, ctext, C.int32_t(len(text)),
		(*C.llama_token)(unsafe.Pointer(&buf[0])), C.int32_t(len(buf)), C.bool(addSpecial), C.bool(true))
	if n < 0 {
		buf = make([]engine.Token, int(-n))
		n = C.llama_tokenize(m.vocab, ctext, C.int32_t(len(text)),
			(*C.llama_token)(unsafe.Pointer(&buf[0])), C.int32_t(len(buf)), C.bool(addSpecial), C.bool(true))
	}
	if n < 0 {
		return nil, fmt.Errorf("llama: tokenize failed (%d)", int(n))
	}
	return buf[:int(n)], nil
}

func (m *model) Detokenize(tokens []engine.Token) (string, error) {
	out := make([]byte, 0, len(tokens)*4)
	buf := make([]byte, 64)
	for _, t := range tokens {
		n := C.llama_token_to_piece(m.vocab, C.llama_token(t), (*C.char)(unsafe.Pointer(&buf[0])), C.int32_t(len(buf)), 0, C.bool(false))
		if n < 0 {
			buf = make([]byte, int(-n))
			n = C.llama_token_to_piece(m.vocab, C.llama_token(t), (*C.char)(unsafe.Pointer(&buf[0])), C.int32_t(len(buf)), 0, C.bool(false))
		}
		if n < 0 {
			return "", fmt.Errorf("llama: token_to_piece failed for %d", t)
		}
		out = append(out, buf[:int(n)]...)
	}
	return string(out), nil
}

func (m *model) IsEOG(t engine.Token) bool { return bool(C.llama_vocab_is_eog(m.vocab, C.llama_token(t))) }

func (m *model) VocabSize() int { return int(C.llama_vocab_n_tokens(m.vocab)) }

func (m *model) ChatTemplate() string { return m.template }

func (m *model) ApplyChatTemplate(msgs []engine.ChatMessage, addAssistant bool) (string, error) {
	tmpl := m.template
	if tmpl == "" {
		tmpl = "chatml"
	}
	ctmpl := C.CString(tmpl)
	defer C.free(unsafe.Pointer(ctmpl))

	n := len(msgs)
	if n == 0 {
		return "", nil
	}
	cmsgs := C.chatd_alloc_msgs(C.size_t(n))
	defer C.free(unsafe.Pointer(cmsgs))
	strs := make([]*C.char, 0, 2*n)
	defer func() {
		for _, s := range strs {
			C.free(unsafe.Pointer(s))
		}
	}()
	size := 0
	for i, msg := range msgs {
		role, content := C.CString(msg.Role), C.CString(msg.Content)
		strs = append(strs, role, content)
		C.chatd_set_msg(cmsgs, C.size_t(i), role, content)
		size += len(msg.Role) + len(msg.Content)
	}
	buf := make([]byte, 2*size+256)
	got := C.llama_chat_apply_template(ctmpl, cmsgs, C.size_t(n), C.bool(addAssistant), (*C.char)(unsafe.Pointer(&buf[0])), C.int32_t(len(buf)))
	if got < 0 {
		return "", errs.New(errs.KindInvalidModel, "llama: chat template not supported")
	}
	if int(got) > len(buf) {
		buf = make([]byte, int(got))
		got = C.llama_chat_apply_template(ctmpl, cmsgs, C.size_t(n), C.bool(addAssistant), (*C.char)(unsafe.Pointer(&buf[0])), C.int32_t(len(buf)))
	}
	return string(buf[:int(got)]), nil
}

func (m *model) NewContext(opts engine.ContextOptions) (engine.Context, error) {
	params := C.llama_context_default_params()
	params.n_ctx = C.uint32_t(opts.NCtx)
	batch := opts.Batch
	if batch <= 0 {
		batch = 512
	}
	switch opts.Mode {
	case engine.ModeEmbed:
		params.embeddings = C.bool(true)
		params.pooling_type = C.LLAMA_POOLING_TYPE_MEAN
		batch = opts.NCtx
	case engine.ModeRank:
		params.embeddings = C.bool(true)
		params.pooling_type = C.LLAMA_POOLING_TYPE_RANK
		batch = opts.NCtx
	}
	params.n_batch = C.uint32_t(batch)
	params.n_ubatch = C.uint32_t(batch)
	c := C.llama_init_from_model(m.ptr, params)
	if c == nil {
		return nil, fmt.Errorf("llama: cannot create context (n_ctx=%d)", opts.NCtx)
	}
	return &context{m: m, ptr: c, nCtx: opts.NCtx, batch: batch}, nil
}

func (m *model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		C.llama_model_free(m.ptr)
		m.closed = true
	}
	return nil
}

type context struct {
	m     *model
	ptr   *C.struct_llama_context
	nCtx  int
	batch int
	n     int
}

func (c *context) decode(tokens []engine.Token) error {
	for start := 0; start < len(tokens); start += c.batch {
		end := min(start+c.batch, len(tokens))
		chunk := tokens[start:end]
		if rc := C.chatd_decode(c.ptr, (*C.llama_token)(unsafe.Pointer(&chunk[0])), C.int32_t(len(chunk))); rc != 0 {
			return fmt.Errorf("llama: decode failed (%d)", int(rc))
		}
		c.n += len(chunk)
	}
	return nil
}

func (c *context) Decode(tokens []engine.Token) ([]float32, error) {
	if len(tokens) == 0 {
		return nil, fmt.Errorf("llama: decode of empty batch")
	}
	if c.n+len(tokens) > c.nCtx {
		return nil, errs.New(errs.KindContextOverflow, "llama: %d cached + %d new exceeds n_ctx %d", c.n, len(tokens), c.nCtx)
	}
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	if err := c.decode(tokens); err != nil {
		return nil, err
	}
	nv := int(C.llama_vocab_n_tokens(c.m.vocab))
	ptr := C.llama_get_logits_ith(c.ptr, -1)
	if ptr == nil {
		return nil, fmt.Errorf("llama: no logits")
	}
	out := make([]float32, nv)
	copy(out, unsafe.Slice((*float32)(unsafe.Pointer(ptr)), nv))
	return out, nil
}

func (c *context) Len() int { return c.n }

func (c *context) Truncate(n int) error {
	if n < 0 || n > c.n {
		return fmt.Errorf("llama: truncate %d out of range [0,%d]", n, c.n)
	}
	C.chatd_seq_rm(c.ptr, C.int32_t(n))
	c.n = n
	return nil
}

func (c *context) pooled(tokens []engine.Token, width int) ([]float32, error) {
	if len(tokens) == 0 {
		return nil, fmt.Errorf("llama: empty input")
	}
	if len(tokens) > c.nCtx {
		return nil, errs.New(errs.KindContextOverflow, "llama: input of %d tokens exceeds n_ctx %d", len(tokens), c.nCtx)
	}
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	C.chatd_clear(c.ptr)
	c.n = 0
	if err := c.decode(tokens); err != nil {
		return nil, err
	}
	ptr := C.llama_get_embeddings_seq(c.ptr, 0)
	if ptr == nil {
		return nil, fmt.Errorf("llama: no pooled embeddings")
	}
	out := make([]float32, width)
	copy(out, unsafe.Slice((*float32)(unsafe.Pointer(ptr)), width))
	return out, nil
}

func (c *context) Embed(tokens []engine.Token) ([]float32, error) {
	return c.pooled(tokens, int(C.llama_model_n_embd(c.m.ptr)))
}

func (c *context) Score(tokens []engine.Token) (float32, error) {
	v, err := c.pooled(tokens, 1)
	if err != nil {
		return 0, err
	}
	return v[0], nil
}

func (c *context) NCtx() int { return c.nCtx }

func (c *context) Close() error {
	if c.ptr != nil {
		C.llama_free(c.ptr)
		c.ptr = nil
	}
	return nil
}
