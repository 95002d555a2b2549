package manager

import (
	"context"

	"chatd/internal/embed"
)

// Embed returns the embedding of text. An empty modelID uses the configured
// embedding model, then the default model. The model id used is returned.
func (m *Manager) Embed(ctx context.Context, modelID, text string) ([]float32, string, error) {
	inst, err := m.acquire(ctx, m.resolve(modelID, m.embedModel))
	if err != nil {
		return nil, "", err
	}
	defer m.release(inst)
	enc, err := m.embedderFor(inst)
	if err != nil {
		return nil, inst.ID, err
	}
	vec, err := enc.Embed(ctx, text)
	return vec, inst.ID, err
}

// Rank orders docs by relevance to query, best first. An empty modelID uses
// the configured rerank model, then the default model. limit < 0 keeps all.
func (m *Manager) Rank(ctx context.Context, modelID, query string, docs []string, limit int) ([]embed.Ranked, string, error) {
	inst, err := m.acquire(ctx, m.resolve(modelID, m.rerankModel))
	if err != nil {
		return nil, "", err
	}
	defer m.release(inst)
	enc, err := m.rankerFor(inst)
	if err != nil {
		return nil, inst.ID, err
	}
	out, err := enc.Rank(ctx, query, docs, limit)
	return out, inst.ID, err
}

func (m *Manager) embedderFor(inst *Instance) (*embed.EmbeddingSession, error) {
	inst.encMu.Lock()
	defer inst.encMu.Unlock()
	if inst.embedder == nil {
		enc, err := embed.NewEmbeddingSession(inst.Handle, m.encoderCfg)
		if err != nil {
			return nil, err
		}
		inst.embedder = enc
		m.log.Debug().Str("model", inst.ID).Msg("embedding session opened")
	}
	return inst.embedder, nil
}

func (m *Manager) rankerFor(inst *Instance) (*embed.CrossEncoderSession, error) {
	inst.encMu.Lock()
	defer inst.encMu.Unlock()
	if inst.ranker == nil {
		enc, err := embed.NewCrossEncoderSession(inst.Handle, m.encoderCfg)
		if err != nil {
			return nil, err
		}
		inst.ranker = enc
		m.log.Debug().Str("model", inst.ID).Msg("cross-encoder session opened")
	}
	return inst.ranker, nil
}

// closeEncoders closes the instance's encoder sessions.
func (inst *Instance) closeEncoders() error {
	inst.encMu.Lock()
	defer inst.encMu.Unlock()
	var first error
	if inst.embedder != nil {
		first = inst.embedder.Close()
		inst.embedder = nil
	}
	if inst.ranker != nil {
		if err := inst.ranker.Close(); err != nil && first == nil {
			first = err
		}
		inst.ranker = nil
	}
	return first
}
