package manager

import (
	"sort"
	"time"

	"chatd/pkg/types"
)

// Snapshot is a read-only projection of the manager state.
type Snapshot struct {
	State State
	Err   string
}

// Snapshot returns a read-only view of the manager state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Snapshot{State: m.state, Err: m.err}
}

// Status builds a detailed status response for /status.
func (m *Manager) Status() types.StatusResponse {
	sessions := m.Sessions()
	now := time.Now()
	m.mu.RLock()
	resp := types.StatusResponse{
		State:                string(m.state),
		Error:                m.err,
		Sessions:             sessions,
		UptimeSeconds:        int64(now.Sub(m.startTime).Seconds()),
		ServerTimeUnix:       now.Unix(),
		LoadsTotal:           m.loadsTotal,
		SessionsCreatedTotal: m.sessionsCreated,
	}
	insts := make([]*Instance, 0, len(m.instances))
	for _, inst := range m.instances {
		insts = append(insts, inst)
	}
	counts := make(map[*Instance]int, len(insts))
	for _, inst := range insts {
		counts[inst] = inst.sessions
	}
	m.mu.RUnlock()

	resp.Models = make([]types.ModelStatus, 0, len(insts))
	for _, inst := range insts {
		inst.encMu.Lock()
		emb, rank := inst.embedder != nil, inst.ranker != nil
		inst.encMu.Unlock()
		resp.Models = append(resp.Models, types.ModelStatus{
			ID:       inst.ID,
			Refs:     inst.Handle.Refs(),
			Sessions: counts[inst],
			Embedder: emb,
			Ranker:   rank,
			LoadedAt: inst.LoadedAt.Unix(),
			UseGPU:   inst.Handle.UseGPU(),
		})
	}
	sort.Slice(resp.Models, func(i, j int) bool { return resp.Models[i].ID < resp.Models[j].ID })
	return resp
}
