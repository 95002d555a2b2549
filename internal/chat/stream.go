package chat

import (
	"context"
	"strings"
	"sync"

	"chatd/internal/errs"
)

// Stream delivers the events of one Say. Tokens arrive in generation order,
// tool_call events where they occur, then exactly one done or error event,
// after which the channel is closed. The producer is at most one event
// ahead of the consumer, so a consumer must drain the stream or cancel the
// context passed to Say.
type Stream struct {
	ch <-chan Event

	mu       sync.Mutex
	finished bool
	final    *Event
}

func newStream(ch <-chan Event) *Stream { return &Stream{ch: ch} }

func (s *Stream) observe(ev Event, ok bool) (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !ok {
		s.finished = true
		return Event{}, false
	}
	if ev.Terminal() {
		e := ev
		s.final = &e
	}
	return ev, true
}

// Next blocks for the next event. It returns false once the stream is
// exhausted or ctx ends.
func (s *Stream) Next(ctx context.Context) (Event, bool) {
	select {
	case ev, ok := <-s.ch:
		return s.observe(ev, ok)
	case <-ctx.Done():
		return Event{}, false
	}
}

// Poll returns the next event if one is ready and never blocks.
func (s *Stream) Poll() (Event, bool) {
	select {
	case ev, ok := <-s.ch:
		return s.observe(ev, ok)
	default:
		return Event{}, false
	}
}

// Events exposes the underlying channel for range loops and selects.
func (s *Stream) Events() <-chan Event { return s.ch }

// Finished reports whether the channel has been observed closed.
func (s *Stream) Finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

// Final returns the terminal event once it has been observed.
func (s *Stream) Final() (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.final == nil {
		return Event{}, false
	}
	return *s.final, true
}

// Completed drains the stream and returns the final response text. An error
// event becomes the returned error; a stream that closes without a terminal
// event reports a cancelled generation.
func (s *Stream) Completed(ctx context.Context) (string, error) {
	var tokens strings.Builder
	for {
		ev, ok := s.Next(ctx)
		if !ok {
			break
		}
		if ev.Kind == EventToken {
			tokens.WriteString(ev.Token)
		}
	}
	if err := ctx.Err(); err != nil {
		return tokens.String(), errs.Wrap(errs.KindGenerationCancelled, err, "stream abandoned")
	}
	final, ok := s.Final()
	switch {
	case !ok:
		return tokens.String(), errs.New(errs.KindGenerationCancelled, "stream closed before completion")
	case final.Kind == EventError:
		return "", final.Err
	}
	return final.Text, nil
}
