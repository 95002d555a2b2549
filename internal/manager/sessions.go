package manager

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"chatd/internal/chat"
	"chatd/internal/errs"
	"chatd/internal/events"
	"chatd/internal/sampler"
	"chatd/internal/tools"
	"chatd/pkg/types"
)

// SessionOptions override the manager's session defaults. Zero values keep
// the default.
type SessionOptions struct {
	Model         string
	SystemPrompt  *string
	NCtx          int
	AllowThinking *bool
	MaxTokens     int
	Sampler       *sampler.Config
	Tools         []tools.Descriptor
	History       []chat.Message
}

// CreateSession starts a chat session on the requested model, loading it if
// needed.
func (m *Manager) CreateSession(ctx context.Context, opts SessionOptions) (*chat.Session, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, errs.ErrDependencyUnavailable("manager closed")
	}
	if len(m.sessions)+m.pending >= m.maxSessions {
		n := len(m.sessions)
		m.mu.Unlock()
		m.log.Warn().Int("sessions", n).Int("max", m.maxSessions).Msg("session limit reached")
		return nil, errs.ErrTooBusy("session limit reached")
	}
	m.pending++
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.pending--
		m.mu.Unlock()
	}()

	inst, err := m.acquire(ctx, m.resolve(opts.Model, ""))
	if err != nil {
		return nil, err
	}

	cfg := m.defaults
	cfg.ID = ulid.Make().String()
	cfg.ModelID = inst.ID
	cfg.Publisher = m
	cfg.Logger = m.log.With().Str("model", inst.ID).Logger()
	if opts.SystemPrompt != nil {
		cfg.SystemPrompt = *opts.SystemPrompt
	}
	if opts.NCtx > 0 {
		cfg.NCtx = opts.NCtx
	}
	if opts.AllowThinking != nil {
		cfg.AllowThinking = *opts.AllowThinking
	}
	if opts.MaxTokens > 0 {
		cfg.MaxTokens = opts.MaxTokens
	}
	if opts.Sampler != nil {
		cfg.Sampler = *opts.Sampler
	}
	cfg.Tools = opts.Tools

	s, err := chat.New(inst.Handle, cfg)
	if err != nil {
		m.release(inst)
		return nil, err
	}
	if len(opts.History) > 0 {
		if err := s.SetChatHistory(ctx, opts.History); err != nil {
			_ = s.Close()
			m.release(inst)
			return nil, err
		}
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = s.Close()
		m.release(inst)
		return nil, errs.ErrDependencyUnavailable("manager closed")
	}
	m.sessions[s.ID()] = &sessionEntry{session: s, inst: inst, createdAt: time.Now()}
	inst.sessions++
	m.sessionsCreated++
	m.mu.Unlock()
	m.log.Info().Str("session", s.ID()).Str("model", inst.ID).Int("n_ctx", s.NCtx()).Msg("session created")
	return s, nil
}

// Session looks up a live session by id.
func (m *Manager) Session(id string) (*chat.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.sessions[id]
	if !ok {
		return nil, errs.ErrSessionNotFound(id)
	}
	return e.session, nil
}

// DestroySession stops and closes a session and drops its model reference.
func (m *Manager) DestroySession(id string) error {
	m.mu.Lock()
	e, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return errs.ErrSessionNotFound(id)
	}
	delete(m.sessions, id)
	e.inst.sessions--
	e.inst.users--
	m.mu.Unlock()

	err := e.session.Close()
	m.log.Info().Str("session", id).Str("model", e.inst.ID).Msg("session destroyed")
	m.Publish(events.Event{Name: "session_destroyed", ModelID: e.inst.ID, SessionID: id})
	return err
}

// Sessions reports every live session, oldest first.
func (m *Manager) Sessions() []types.SessionStatus {
	m.mu.RLock()
	entries := make([]*sessionEntry, 0, len(m.sessions))
	for _, e := range m.sessions {
		entries = append(entries, e)
	}
	m.mu.RUnlock()
	slices.SortFunc(entries, func(a, b *sessionEntry) int {
		if c := a.createdAt.Compare(b.createdAt); c != 0 {
			return c
		}
		return strings.Compare(a.session.ID(), b.session.ID())
	})
	out := make([]types.SessionStatus, 0, len(entries))
	for _, e := range entries {
		s := e.session
		out = append(out, types.SessionStatus{
			ID:           s.ID(),
			Model:        e.inst.ID,
			State:        s.State().String(),
			Busy:         s.Busy(),
			HistoryLen:   s.HistoryLen(),
			CachedTokens: s.CachedTokens(),
			NCtx:         s.NCtx(),
			CreatedAt:    e.createdAt.Unix(),
		})
	}
	return out
}
