package manager

import (
	"context"
	"time"

	"chatd/internal/errs"
	"chatd/internal/events"
	"chatd/internal/model"
	"chatd/internal/registry"
	"chatd/pkg/types"
)

// EnsureModel loads modelID if it is not loaded yet. An empty id means the
// default model.
func (m *Manager) EnsureModel(ctx context.Context, modelID string) error {
	_, err := m.ensure(ctx, m.resolve(modelID, ""))
	return err
}

// Warmup loads the default model, if one is configured.
func (m *Manager) Warmup(ctx context.Context) error {
	if m.defaultModel == "" {
		return nil
	}
	return m.EnsureModel(ctx, m.defaultModel)
}

// resolve picks the explicit id, then the role-specific one, then the default.
func (m *Manager) resolve(id, role string) string {
	if id != "" {
		return id
	}
	if role != "" {
		return role
	}
	return m.defaultModel
}

func (m *Manager) getModelByID(id string) (types.Model, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return registry.Find(m.registry, id)
}

func (m *Manager) ensure(ctx context.Context, modelID string) (*Instance, error) {
	if modelID == "" {
		return nil, errs.ErrModelNotFound("(unspecified)")
	}
	if inst := m.readyInstance(modelID); inst != nil {
		return inst, nil
	}
	mdl, ok := m.getModelByID(modelID)
	if !ok {
		return nil, errs.ErrModelNotFound(modelID)
	}

	m.loadMu.Lock()
	defer m.loadMu.Unlock()
	// another caller may have finished the load while we waited
	if inst := m.readyInstance(mdl.ID); inst != nil {
		return inst, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, errs.ErrDependencyUnavailable("manager closed")
	}
	m.state = StateLoading
	m.err = ""
	m.mu.Unlock()
	m.Publish(events.Event{Name: "ensure_start", ModelID: mdl.ID, Fields: map[string]any{"path": mdl.Path}})

	start := time.Now()
	h, err := model.Load(m.backend, mdl.Path, model.LoadOptions{UseGPU: m.useGPU})
	if err != nil {
		m.mu.Lock()
		m.state = StateError
		m.err = err.Error()
		m.mu.Unlock()
		m.log.Error().Err(err).Str("model", mdl.ID).Msg("model load failed")
		m.Publish(events.Event{Name: "ensure_error", ModelID: mdl.ID, Fields: map[string]any{"error": err.Error(), "kind": string(errs.KindOf(err))}})
		return nil, err
	}

	now := time.Now()
	inst := &Instance{ID: mdl.ID, State: StateReady, Handle: h, LoadedAt: now, LastUsed: now}
	m.mu.Lock()
	m.instances[mdl.ID] = inst
	m.loadsTotal++
	m.state = StateReady
	m.err = ""
	m.mu.Unlock()
	dur := time.Since(start)
	m.log.Info().Str("model", mdl.ID).Dur("dur", dur).Bool("gpu", m.useGPU).Msg("model loaded")
	m.Publish(events.Event{Name: "ensure_ready", ModelID: mdl.ID, Fields: map[string]any{"dur_ms": dur.Milliseconds()}})
	return inst, nil
}

func (m *Manager) readyInstance(id string) *Instance {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[id]
	if !ok {
		// registry lookups accept the display name too
		if mdl, found := registry.Find(m.registry, id); found {
			inst, ok = m.instances[mdl.ID]
		}
	}
	if !ok || inst.State != StateReady {
		return nil
	}
	inst.LastUsed = time.Now()
	return inst
}

// acquire ensures the model is loaded and registers one user on it, so that
// Unload cannot pull it away. Callers must release.
func (m *Manager) acquire(ctx context.Context, modelID string) (*Instance, error) {
	for {
		inst, err := m.ensure(ctx, modelID)
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		if m.instances[inst.ID] == inst {
			inst.users++
			m.mu.Unlock()
			return inst, nil
		}
		m.mu.Unlock()
		// unloaded between ensure and here; load again
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
}

func (m *Manager) release(inst *Instance) {
	m.mu.Lock()
	inst.users--
	m.mu.Unlock()
}
