package manager

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"chatd/internal/engine/enginetest"
	"chatd/internal/events"
	"chatd/internal/sampler"
	"chatd/pkg/types"
)

// testEnv is a manager over scripted models written to a temp dir.
type testEnv struct {
	m       *Manager
	backend *enginetest.Backend
	pub     *events.Memory
}

// writeModels creates one fake gguf file per id and returns registry entries.
func writeModels(t *testing.T, ids ...string) []types.Model {
	t.Helper()
	dir := t.TempDir()
	out := make([]types.Model, 0, len(ids))
	for _, id := range ids {
		p := filepath.Join(dir, id+".gguf")
		if err := enginetest.WriteModelFile(p); err != nil {
			t.Fatalf("write model: %v", err)
		}
		out = append(out, types.Model{ID: id, Name: id + ".gguf", Path: p})
	}
	return out
}

func newTestEnv(t *testing.T, mutate func(*ManagerConfig)) *testEnv {
	t.Helper()
	env := &testEnv{backend: enginetest.NewBackend(enginetest.Options{}), pub: events.NewMemory()}
	cfg := ManagerConfig{
		Registry:      writeModels(t, "chat", "embed"),
		Backend:       env.backend,
		DefaultModel:  "chat",
		AllowThinking: true,
		NCtx:          1024,
		Sampler:       sampler.GreedyPreset(),
		Publisher:     env.pub,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	env.m = NewWithConfig(cfg)
	t.Cleanup(func() { _ = env.m.Close() })
	return env
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func hasEvent(evs []events.Event, name string) bool {
	for _, e := range evs {
		if e.Name == name {
			return true
		}
	}
	return false
}
