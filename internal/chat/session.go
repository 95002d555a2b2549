// Package chat implements a stateful conversation with a local model: the
// history, prompt rendering with KV-cache reuse, token streaming, stop
// handling and the tool-call loop.
//
// Every operation on a Session runs on the session's own worker goroutine,
// so state has a single writer. Say returns a Stream immediately; setters
// are queued and take effect from the next turn; history accessors wait for
// any turn in flight to finish.
package chat

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"chatd/internal/engine"
	"chatd/internal/errs"
	"chatd/internal/events"
	"chatd/internal/model"
	"chatd/internal/sampler"
	"chatd/internal/tools"
	"chatd/internal/worker"
)

var errStopped = errs.New(errs.KindGenerationCancelled, "generation stopped")

// Session is one conversation bound to a model.
type Session struct {
	id      string
	modelID string
	handle  *model.Handle
	mdl     engine.Model
	ectx    engine.Context
	q       *worker.Queue
	log     zerolog.Logger
	pub     events.Publisher
	cm      *ContextManager

	// owned by the worker goroutine
	history       []Message
	systemPrompt  string
	samplerCfg    sampler.Config
	registry      *tools.Registry
	format        tools.Format
	allowThinking bool
	thinkTags     bool
	maxToolRounds int
	toolTimeout   time.Duration
	maxTokens     int
	kv            []engine.Token

	state   atomic.Int32
	busy    atomic.Bool
	stopReq atomic.Bool
	closed  atomic.Bool
	histLen atomic.Int64
	kvLen   atomic.Int64

	mu         sync.Mutex
	cancelTurn context.CancelCauseFunc

	closeOnce sync.Once
	closeErr  error
}

// New starts a session on its own clone of h; the caller keeps h. Close
// releases the clone.
func New(h *model.Handle, cfg Config) (*Session, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Sampler.Validate(); err != nil {
		return nil, err
	}
	reg, err := tools.NewRegistry(cfg.Tools...)
	if err != nil {
		return nil, err
	}
	clone := h.Clone()
	mdl := clone.Model()
	ectx, err := mdl.NewContext(engine.ContextOptions{NCtx: cfg.NCtx, Mode: engine.ModeGenerate})
	if err != nil {
		_ = clone.Release()
		return nil, errs.Wrap(errs.KindInvalidModel, err, "create context")
	}
	format := cfg.Format
	if format == nil {
		format = tools.Detect(mdl.ChatTemplate(), cfg.ModelID+" "+filepath.Base(h.Path()))
	}
	log := cfg.Logger.With().Str("session", cfg.ID).Logger()
	s := &Session{
		id:            cfg.ID,
		modelID:       cfg.ModelID,
		handle:        clone,
		mdl:           mdl,
		ectx:          ectx,
		q:             worker.New("session-"+cfg.ID, cfg.QueueDepth, log),
		log:           log,
		pub:           cfg.Publisher,
		systemPrompt:  cfg.SystemPrompt,
		samplerCfg:    cfg.Sampler,
		registry:      reg,
		format:        format,
		allowThinking: cfg.AllowThinking,
		thinkTags:     strings.Contains(mdl.ChatTemplate(), "<think>"),
		maxToolRounds: cfg.MaxToolRounds,
		toolTimeout:   cfg.ToolTimeout,
		maxTokens:     cfg.MaxTokens,
	}
	s.cm = NewContextManager(cfg.NCtx, s.countTokens, log)
	s.publish("session_created", map[string]any{"n_ctx": cfg.NCtx, "tools": reg.Len(), "format": format.Name()})
	return s, nil
}

// ID is the opaque session identifier.
func (s *Session) ID() string { return s.id }

// ModelID is the model the session was created for.
func (s *Session) ModelID() string { return s.modelID }

// State reports the current state.
func (s *Session) State() State { return State(s.state.Load()) }

// Busy reports whether a turn is queued or running.
func (s *Session) Busy() bool { return s.busy.Load() }

// HistoryLen is the number of messages after the last completed operation.
func (s *Session) HistoryLen() int { return int(s.histLen.Load()) }

// CachedTokens is the number of tokens currently held in the KV cache.
func (s *Session) CachedTokens() int { return int(s.kvLen.Load()) }

// NCtx is the context window size.
func (s *Session) NCtx() int { return s.cm.NCtx() }

func (s *Session) setState(st State) { s.state.Store(int32(st)) }

func (s *Session) publish(name string, fields map[string]any) {
	s.pub.Publish(events.Event{Name: name, ModelID: s.modelID, SessionID: s.id, Fields: fields})
}

func (s *Session) checkOpen() error {
	if s.closed.Load() {
		return errs.New(errs.KindSessionNotFound, "session %s is closed", s.id)
	}
	return nil
}

func (s *Session) queueErr(err error) error {
	if err == worker.ErrClosed {
		return errs.New(errs.KindSessionNotFound, "session %s is closed", s.id)
	}
	return err
}

func (s *Session) do(ctx context.Context, fn func() error) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.queueErr(s.q.Do(ctx, fn))
}

func (s *Session) submit(fn func()) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.queueErr(s.q.Submit(context.Background(), fn))
}

func (s *Session) setHistory(h []Message) {
	s.history = h
	s.histLen.Store(int64(len(h)))
}

// Stop asks the running turn to finish. Generation ends before the next
// token, a pending tool wait is abandoned, and the stream ends with a done
// event carrying FinishCancelled and the text produced so far. Stop is a
// no-op when nothing is running.
func (s *Session) Stop() {
	s.stopReq.Store(true)
	s.mu.Lock()
	cancel := s.cancelTurn
	s.mu.Unlock()
	if cancel != nil {
		cancel(errStopped)
	}
}

// ChatHistory returns a copy of the history once any turn in flight has
// finished.
func (s *Session) ChatHistory(ctx context.Context) ([]Message, error) {
	var out []Message
	err := s.do(ctx, func() error {
		out = cloneMessages(s.history)
		return nil
	})
	return out, err
}

// SetChatHistory replaces the history. Only the first message may have the
// system role; it then overrides the session system prompt.
func (s *Session) SetChatHistory(ctx context.Context, msgs []Message) error {
	for i, m := range msgs {
		if !m.Role.valid() {
			return errs.New(errs.KindInvalidArgument, "message %d: unknown role %q", i, m.Role)
		}
		if m.Role == RoleSystem && i != 0 {
			return errs.New(errs.KindInvalidArgument, "message %d: system message only allowed first", i)
		}
	}
	msgs = cloneMessages(msgs)
	return s.do(ctx, func() error {
		s.setHistory(msgs)
		return nil
	})
}

// ResetHistory clears the history and the KV cache.
func (s *Session) ResetHistory(ctx context.Context) error {
	return s.do(ctx, func() error {
		s.setHistory(nil)
		s.dropCache()
		return nil
	})
}

// SetSamplerConfig replaces the sampler chain from the next turn on.
func (s *Session) SetSamplerConfig(cfg sampler.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return s.submit(func() { s.samplerCfg = cfg })
}

// SetTools replaces the tool set from the next turn on.
func (s *Session) SetTools(descs ...tools.Descriptor) error {
	reg, err := tools.NewRegistry(descs...)
	if err != nil {
		return err
	}
	return s.submit(func() { s.registry = reg })
}

// SetAllowThinking toggles the reasoning block from the next turn on.
func (s *Session) SetAllowThinking(allow bool) error {
	return s.submit(func() { s.allowThinking = allow })
}

// SetSystemPrompt replaces the system prompt from the next turn on.
func (s *Session) SetSystemPrompt(prompt string) error {
	return s.submit(func() { s.systemPrompt = prompt })
}

// Close stops any running turn, waits for the worker to exit and releases
// the session's model reference.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.Stop()
		s.q.Close()
		if err := s.ectx.Close(); err != nil {
			s.log.Warn().Err(err).Msg("close context")
		}
		s.closeErr = s.handle.Release()
		s.setState(StateIdle)
		s.publish("session_closed", nil)
	})
	return s.closeErr
}

func (s *Session) dropCache() {
	if err := s.ectx.Truncate(0); err != nil {
		s.log.Warn().Err(err).Msg("clear kv cache")
	}
	s.kv = s.kv[:0]
	s.kvLen.Store(0)
}
