package manager

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"chatd/internal/chat"
	"chatd/internal/embed"
	"chatd/internal/engine"
	"chatd/internal/events"
	"chatd/pkg/types"
)

type Manager struct {
	mu           sync.RWMutex
	state        State
	err          string
	registry     []types.Model
	backend      engine.Backend
	defaultModel string
	embedModel   string
	rerankModel  string
	useGPU       bool

	instances map[string]*Instance
	sessions  map[string]*sessionEntry
	// pending counts CreateSession calls holding a slot but not yet registered.
	pending     int
	maxSessions int
	closed      bool

	defaults   chat.Config
	encoderCfg embed.Config

	// loadMu serializes model loads.
	loadMu sync.Mutex

	publisher atomic.Pointer[pubBox]
	log       zerolog.Logger

	startTime       time.Time
	loadsTotal      uint64
	sessionsCreated uint64
}

func New(reg []types.Model, backend engine.Backend, defaultModel string) *Manager {
	// Delegate to NewWithConfig to centralize defaults
	return NewWithConfig(ManagerConfig{
		Registry:      reg,
		Backend:       backend,
		DefaultModel:  defaultModel,
		AllowThinking: true,
	})
}

type pubBox struct{ events.Publisher }

// SetEventPublisher replaces the lifecycle event sink; nil drops events.
// Sessions created earlier follow the change.
func (m *Manager) SetEventPublisher(p events.Publisher) {
	m.publisher.Store(&pubBox{events.Or(p)})
}

// Publish forwards e to the current sink. The manager passes itself to
// sessions as their publisher.
func (m *Manager) Publish(e events.Event) {
	m.publisher.Load().Publish(e)
}

func (m *Manager) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state == StateError || m.closed {
		return false
	}
	for _, inst := range m.instances {
		if inst.State == StateReady {
			return true
		}
	}
	return m.state == StateReady
}

func (m *Manager) ListModels() []types.Model {
	m.mu.RLock()
	defer m.mu.RUnlock()
	// return a shallow copy to avoid external mutation
	out := make([]types.Model, len(m.registry))
	copy(out, m.registry)
	return out
}

// SetRegistry replaces the model listing. Loaded models and their sessions
// are unaffected; a model that vanished can no longer be loaded again.
func (m *Manager) SetRegistry(models []types.Model) {
	m.mu.Lock()
	m.registry = append([]types.Model(nil), models...)
	m.mu.Unlock()
	m.Publish(events.Event{Name: "registry_reloaded", Fields: map[string]any{"models": len(models)}})
}

// DefaultModel is the model used when a request names none.
func (m *Manager) DefaultModel() string { return m.defaultModel }
