// Package embed provides single-pass encoder sessions: text embeddings and
// cross-encoder relevance scores. Each session owns one engine context and
// serializes its requests on a worker queue.
package embed

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"chatd/internal/engine"
	"chatd/internal/errs"
	"chatd/internal/model"
	"chatd/internal/worker"
)

const DefaultNCtx = 2048

// Config for both session kinds.
type Config struct {
	NCtx   int
	Logger zerolog.Logger
}

// session is the shared plumbing: a model reference, a context and a queue.
type session struct {
	handle *model.Handle
	mdl    engine.Model
	ectx   engine.Context
	q      *worker.Queue
	log    zerolog.Logger

	once     sync.Once
	closeErr error
}

func open(h *model.Handle, cfg Config, mode engine.Mode, name string) (*session, error) {
	if cfg.NCtx <= 0 {
		cfg.NCtx = DefaultNCtx
	}
	clone := h.Clone()
	ectx, err := clone.Model().NewContext(engine.ContextOptions{NCtx: cfg.NCtx, Mode: mode, Batch: cfg.NCtx})
	if err != nil {
		_ = clone.Release()
		return nil, errs.Wrap(errs.KindInvalidModel, err, "create %s context", name)
	}
	log := cfg.Logger.With().Str("component", name).Logger()
	return &session{
		handle: clone,
		mdl:    clone.Model(),
		ectx:   ectx,
		q:      worker.New(name, 0, log),
		log:    log,
	}, nil
}

func (s *session) do(ctx context.Context, fn func() error) error {
	err := s.q.Do(ctx, fn)
	if err == worker.ErrClosed {
		return errs.New(errs.KindSessionNotFound, "session closed")
	}
	return err
}

func (s *session) tokenize(text string) ([]engine.Token, error) {
	toks, err := s.mdl.Tokenize(text, true)
	if err != nil {
		return nil, err
	}
	if len(toks) > s.ectx.NCtx() {
		return nil, errs.New(errs.KindContextOverflow, "input of %d tokens exceeds n_ctx %d", len(toks), s.ectx.NCtx())
	}
	return toks, nil
}

func (s *session) close() error {
	s.once.Do(func() {
		s.q.Close()
		if err := s.ectx.Close(); err != nil {
			s.log.Warn().Err(err).Msg("close context")
		}
		s.closeErr = s.handle.Release()
	})
	return s.closeErr
}

// EmbeddingSession turns text into fixed-length vectors.
type EmbeddingSession struct {
	*session
	mu  sync.Mutex
	dim int
}

// NewEmbeddingSession opens an embedding context on a clone of h.
func NewEmbeddingSession(h *model.Handle, cfg Config) (*EmbeddingSession, error) {
	s, err := open(h, cfg, engine.ModeEmbed, "embed")
	if err != nil {
		return nil, err
	}
	return &EmbeddingSession{session: s}, nil
}

// Embed runs one forward pass over text and returns its pooled embedding.
func (e *EmbeddingSession) Embed(ctx context.Context, text string) ([]float32, error) {
	var out []float32
	err := e.do(ctx, func() error {
		toks, err := e.tokenize(text)
		if err != nil {
			return err
		}
		v, err := e.ectx.Embed(toks)
		if err != nil {
			return err
		}
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.dim == 0 {
			e.dim = len(v)
		} else if len(v) != e.dim {
			return errs.New(errs.KindInvalidModel, "embedding width changed from %d to %d", e.dim, len(v))
		}
		out = v
		return nil
	})
	return out, err
}

// Dim is the embedding width, known after the first Embed (0 before).
func (e *EmbeddingSession) Dim() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dim
}

// Close releases the context and the model reference.
func (e *EmbeddingSession) Close() error { return e.close() }
