// Package worker runs closures one at a time, in submission order, on a
// dedicated goroutine. Each chat or embedding session owns one Queue so
// that its state has a single writer.
package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

const defaultDepth = 32

// ErrClosed is returned when submitting to a closed queue.
var ErrClosed = errors.New("worker: queue closed")

// Queue is a FIFO of operations executed on one goroutine.
type Queue struct {
	name   string
	ops    chan func()
	stop   chan struct{}
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	log    zerolog.Logger

	mu     sync.RWMutex
	closed bool
	once   sync.Once
}

// New starts a queue. depth <= 0 uses the default of 32 pending operations.
func New(name string, depth int, log zerolog.Logger) *Queue {
	if depth <= 0 {
		depth = defaultDepth
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		name:   name,
		ops:    make(chan func(), depth),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
		log:    log,
	}
	go q.loop()
	return q
}

func (q *Queue) loop() {
	defer close(q.done)
	for {
		select {
		case fn := <-q.ops:
			q.run(fn)
		case <-q.stop:
			// nothing can be enqueued any more; let pending ops observe the
			// cancelled context and release their waiters
			for {
				select {
				case fn := <-q.ops:
					q.run(fn)
				default:
					return
				}
			}
		}
	}
}

func (q *Queue) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Error().Str("worker", q.name).Interface("panic", r).Msg("worker op panicked")
		}
	}()
	fn()
}

// Context is cancelled when Close starts.
func (q *Queue) Context() context.Context { return q.ctx }

// Pending is the number of queued, not yet started operations.
func (q *Queue) Pending() int { return len(q.ops) }

// Submit enqueues fn without waiting for it to run. It blocks only while the
// queue is full.
func (q *Queue) Submit(ctx context.Context, fn func()) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case q.ops <- fn:
		return nil
	case <-q.ctx.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do enqueues fn and waits for its result. If ctx ends first, Do returns
// ctx.Err() and fn may still run later.
func (q *Queue) Do(ctx context.Context, fn func() error) error {
	var err error
	finished := make(chan struct{})
	if serr := q.Submit(ctx, func() {
		defer close(finished)
		err = fn()
	}); serr != nil {
		return serr
	}
	select {
	case <-finished:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels the queue context, runs any operations already enqueued and
// waits for the goroutine to exit. It is safe to call more than once.
func (q *Queue) Close() {
	q.once.Do(func() {
		q.cancel()
		q.mu.Lock()
		q.closed = true
		q.mu.Unlock()
		close(q.stop)
	})
	<-q.done
}

// Done is closed once the goroutine has exited.
func (q *Queue) Done() <-chan struct{} { return q.done }
