package chat

import (
	"context"
	"time"

	"chatd/internal/errs"
	"chatd/internal/sampler"
	"chatd/internal/tools"
)

// Say appends a user message and starts a turn. It returns at once with the
// turn's Stream, or with KindSessionBusy when a turn is already queued or
// running. Cancelling ctx abandons the stream and stops the turn.
func (s *Session) Say(ctx context.Context, text string) (*Stream, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if !s.busy.CompareAndSwap(false, true) {
		return nil, errs.ErrSessionBusy(s.id)
	}
	s.stopReq.Store(false)

	emitCtx, cancelEmit := context.WithCancel(ctx)
	stopOnClose := context.AfterFunc(s.q.Context(), cancelEmit)
	turnCtx, cancelTurn := context.WithCancelCause(emitCtx)
	s.mu.Lock()
	s.cancelTurn = cancelTurn
	s.mu.Unlock()

	out := make(chan Event)
	err := s.q.Submit(ctx, func() {
		defer func() {
			s.mu.Lock()
			s.cancelTurn = nil
			s.mu.Unlock()
			stopOnClose()
			cancelTurn(nil)
			cancelEmit()
			close(out)
			s.busy.Store(false)
		}()
		t := &turn{s: s, ctx: turnCtx, emitCtx: emitCtx, out: out}
		t.run(text)
	})
	if err != nil {
		stopOnClose()
		cancelTurn(nil)
		cancelEmit()
		s.busy.Store(false)
		return nil, s.queueErr(err)
	}
	return newStream(out), nil
}

// turn is the state of one Say while it runs on the worker.
type turn struct {
	s       *Session
	ctx     context.Context // cancelled by Stop, Close or the caller
	emitCtx context.Context // cancelled by Close or the caller only
	out     chan<- Event
	started time.Time
	tokens  int
}

func (t *turn) emit(ev Event) bool {
	select {
	case t.out <- ev:
		return true
	case <-t.emitCtx.Done():
		return false
	}
}

func (t *turn) stopped() bool {
	return t.s.stopReq.Load() || t.ctx.Err() != nil
}

func (t *turn) run(text string) {
	s := t.s
	t.started = time.Now()
	s.setState(StateGenerating)
	s.publish("say_started", nil)
	snapshot := cloneMessages(s.history)

	history := append(cloneMessages(s.history), Message{Role: RoleUser, Content: text})
	fitted, removed, err := s.cm.EnsureFits(history, len(history)-1, 1)
	if err != nil {
		t.fail(snapshot, err)
		return
	}
	if removed > 0 {
		s.publish("context_shift", map[string]any{"removed": removed})
	}
	s.setHistory(fitted)

	pipe, err := sampler.New(s.samplerCfg, sampler.WithBreakerResolver(s.resolveBreaker))
	if err != nil {
		t.fail(snapshot, err)
		return
	}

	for round := 0; ; round++ {
		res, err := t.generate(pipe)
		if err != nil {
			t.fail(snapshot, err)
			return
		}
		if res.reason == FinishCancelled {
			t.finish(res.visible, FinishCancelled)
			return
		}
		calls := s.format.Extract(res.text)
		if len(calls) == 0 {
			t.finish(res.visible, res.reason)
			return
		}
		if round >= s.maxToolRounds {
			s.log.Warn().Int("rounds", round).Strs("tools", callNames(calls)).Msg("tool round limit reached")
			t.finish(res.visible, FinishToolLimit)
			return
		}
		beforeCalls := len(s.history)
		s.setHistory(append(s.history, Message{Role: RoleAssistant, Content: res.text}))
		s.setState(StateToolPending)
		for i := range calls {
			call := calls[i]
			if !t.emit(Event{Kind: EventToolCall, ToolCall: &call}) {
				s.setHistory(s.history[:beforeCalls])
				t.finish(res.visible, FinishCancelled)
				return
			}
			s.publish("tool_call", map[string]any{"tool": call.Name, "call_id": call.ID})
			result, err := t.invoke(call)
			if t.stopped() {
				s.setHistory(s.history[:beforeCalls])
				t.finish(res.visible, FinishCancelled)
				return
			}
			if err != nil {
				t.fail(snapshot, err)
				return
			}
			s.setHistory(append(s.history, Message{Role: RoleTool, Name: call.Name, Content: result}))
		}
		s.setState(StateGenerating)
		fitted, removed, err := s.cm.EnsureFits(s.history, lastUser(s.history), 1)
		if err != nil {
			t.fail(snapshot, err)
			return
		}
		if removed > 0 {
			s.publish("context_shift", map[string]any{"removed": removed})
		}
		s.setHistory(fitted)
	}
}

// finish records the assistant reply and ends the stream with done.
func (t *turn) finish(text string, reason FinishReason) {
	s := t.s
	s.setHistory(append(s.history, Message{Role: RoleAssistant, Content: text}))
	s.setState(StateIdle)
	s.publish("say_done", map[string]any{
		"finish_reason": string(reason),
		"tokens":        t.tokens,
		"duration_ms":   time.Since(t.started).Milliseconds(),
	})
	s.log.Debug().Str("finish_reason", string(reason)).Int("tokens", t.tokens).Dur("took", time.Since(t.started)).Msg("say done")
	if !t.emit(Event{Kind: EventDone, Text: text, FinishReason: reason}) {
		s.log.Debug().Msg("stream abandoned before done")
	}
}

// fail restores the history from before the turn and ends the stream with an
// error event.
func (t *turn) fail(snapshot []Message, err error) {
	s := t.s
	s.setHistory(snapshot)
	s.setState(StateError)
	s.publish("say_failed", map[string]any{"kind": string(errs.KindOf(err)), "error": err.Error()})
	s.log.Warn().Err(err).Str("kind", string(errs.KindOf(err))).Msg("say failed")
	t.emit(Event{Kind: EventError, Err: err})
	s.setState(StateIdle)
}

func (t *turn) invoke(call tools.Call) (string, error) {
	s := t.s
	if _, ok := s.registry.Lookup(call.Name); !ok {
		return "", errs.New(errs.KindToolNotFound, "model called unknown tool %q", call.Name)
	}
	ctx := t.ctx
	if s.toolTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.toolTimeout)
		defer cancel()
	}
	type result struct {
		out string
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: errs.New(errs.KindToolExecution, "tool %q panicked: %v", call.Name, r)}
			}
		}()
		out, err := s.registry.Invoke(ctx, call)
		done <- result{out, err}
	}()
	select {
	case r := <-done:
		return r.out, r.err
	case <-ctx.Done():
		if t.ctx.Err() != nil {
			return "", errs.Wrap(errs.KindGenerationCancelled, context.Cause(t.ctx), "tool %q abandoned", call.Name)
		}
		return "", errs.Wrap(errs.KindToolExecution, ctx.Err(), "tool %q timed out after %s", call.Name, s.toolTimeout)
	}
}

func callNames(calls []tools.Call) []string {
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.Name
	}
	return out
}

func lastUser(history []Message) int {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == RoleUser {
			return i
		}
	}
	return len(history)
}
