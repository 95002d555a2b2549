package manager

import (
	"errors"

	"chatd/internal/errs"
	"chatd/internal/events"
)

// Unload drops a loaded model. It refuses with KindSessionBusy while
// sessions or in-flight embed/rank calls use the model.
func (m *Manager) Unload(modelID string) error {
	if modelID == "" {
		return errs.ErrModelNotFound("(unspecified)")
	}
	m.mu.Lock()
	inst := m.instances[modelID]
	if inst == nil {
		m.mu.Unlock()
		return errs.ErrModelNotFound(modelID)
	}
	if inst.users > 0 {
		n := inst.sessions
		m.mu.Unlock()
		return errs.New(errs.KindSessionBusy, "model %s in use by %d sessions", modelID, n)
	}
	delete(m.instances, modelID)
	m.mu.Unlock()

	err := m.unloadInstance(inst)
	m.Publish(events.Event{Name: "unload_done", ModelID: modelID})
	return err
}

func (m *Manager) unloadInstance(inst *Instance) error {
	err := errors.Join(inst.closeEncoders(), inst.Handle.Release())
	m.log.Info().Str("model", inst.ID).Msg("model unloaded")
	return err
}

// Close destroys every session and unloads every model. The manager refuses
// new work afterwards.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var errList []error
	for _, id := range ids {
		if err := m.DestroySession(id); err != nil && !errs.IsSessionNotFound(err) {
			errList = append(errList, err)
		}
	}

	// wait for loads in flight so their instances are seen below
	m.loadMu.Lock()
	defer m.loadMu.Unlock()
	m.mu.Lock()
	insts := make([]*Instance, 0, len(m.instances))
	for id, inst := range m.instances {
		insts = append(insts, inst)
		delete(m.instances, id)
	}
	m.mu.Unlock()
	for _, inst := range insts {
		errList = append(errList, m.unloadInstance(inst))
		m.Publish(events.Event{Name: "unload_done", ModelID: inst.ID})
	}
	return errors.Join(errList...)
}
