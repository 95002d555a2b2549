package chat

import (
	"github.com/rs/zerolog"

	"chatd/internal/errs"
)

// TokenCounter returns the prompt length of a history once rendered.
type TokenCounter func(history []Message) (int, error)

// ContextManager keeps a history within the context window by evicting whole
// turns. The leading system message, the first user turn and everything from
// keepFrom on are never removed.
type ContextManager struct {
	nCtx  int
	count TokenCounter
	log   zerolog.Logger
}

func NewContextManager(nCtx int, count TokenCounter, log zerolog.Logger) *ContextManager {
	return &ContextManager{nCtx: nCtx, count: count, log: log}
}

// NCtx is the window size in tokens.
func (cm *ContextManager) NCtx() int { return cm.nCtx }

// EnsureFits returns a history whose rendering plus reserve tokens fits the
// window, and the number of messages removed. When eviction is needed it
// continues until the total is at most half the window, so shifts are rare.
// If even the protected messages do not fit, the input is returned unchanged
// with KindContextOverflow.
func (cm *ContextManager) EnsureFits(history []Message, keepFrom, reserve int) ([]Message, int, error) {
	n, err := cm.count(history)
	if err != nil {
		return history, 0, err
	}
	if n+reserve <= cm.nCtx {
		return history, 0, nil
	}
	if keepFrom > len(history) || keepFrom < 0 {
		keepFrom = len(history)
	}
	head := deletableFrom(history)
	out := cloneMessages(history)
	removed := 0
	for n+reserve > cm.nCtx/2 && head < keepFrom {
		end := head + 1
		for end < keepFrom && out[end].Role != RoleUser {
			end++
		}
		out = append(out[:head], out[end:]...)
		keepFrom -= end - head
		removed += end - head
		if n, err = cm.count(out); err != nil {
			return history, 0, err
		}
	}
	if n+reserve > cm.nCtx {
		return history, 0, errs.New(errs.KindContextOverflow,
			"history needs %d tokens (+%d reserved) but n_ctx is %d", n, reserve, cm.nCtx)
	}
	if removed > 0 {
		cm.log.Debug().Int("removed", removed).Int("tokens", n).Int("n_ctx", cm.nCtx).Msg("context shift")
	}
	return out, removed, nil
}

// deletableFrom is the index of the second user message, or len(history).
func deletableFrom(history []Message) int {
	i := 0
	if len(history) > 0 && history[0].Role == RoleSystem {
		i = 1
	}
	for i < len(history) && history[i].Role != RoleUser {
		i++
	}
	if i == len(history) {
		return i
	}
	for i++; i < len(history); i++ {
		if history[i].Role == RoleUser {
			return i
		}
	}
	return len(history)
}
