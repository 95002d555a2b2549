// Package events carries lifecycle notifications from sessions and the
// manager to whoever wants them (logs, metrics, tests).
package events

import "sync"

// Event is a lifecycle notification: a name, the model and session it
// concerns, and optional fields.
type Event struct {
	Name      string
	ModelID   string
	SessionID string
	Fields    map[string]any
}

// Publisher receives events. Publish must be cheap, must not block and must
// not panic.
type Publisher interface {
	Publish(Event)
}

// Nop drops events.
type Nop struct{}

func (Nop) Publish(Event) {}

// Or returns p, or Nop when p is nil.
func Or(p Publisher) Publisher {
	if p == nil {
		return Nop{}
	}
	return p
}

// Multi fans an event out to several publishers in order.
type Multi []Publisher

func (m Multi) Publish(e Event) {
	for _, p := range m {
		if p != nil {
			p.Publish(e)
		}
	}
}

// Memory stores events for tests.
type Memory struct {
	mu     sync.Mutex
	events []Event
}

func NewMemory() *Memory { return &Memory{} }

func (p *Memory) Publish(e Event) {
	p.mu.Lock()
	p.events = append(p.events, e)
	p.mu.Unlock()
}

// Events returns a copy of everything published so far.
func (p *Memory) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

// Names returns the event names in publish order.
func (p *Memory) Names() []string {
	evs := p.Events()
	out := make([]string, len(evs))
	for i, e := range evs {
		out[i] = e.Name
	}
	return out
}
