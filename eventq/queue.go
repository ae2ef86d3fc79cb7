// Package eventq provides the ordered dispatch queue for room events: a
// single worker drains units of work strictly in enqueue order, so handlers
// observe events exactly as the engine delivered them. Enqueue never blocks,
// which keeps the ingress goroutine decoupled from handler latency.
package eventq

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/gammazero/deque"
)

var ErrClosed = errors.New("queue closed")

type task struct {
	name string
	fn   func(context.Context)
}

// Queue executes enqueued units one at a time in FIFO order. Unit N+1 does
// not start until unit N has returned, regardless of how long it runs. A
// panicking unit is recovered and logged; the chain continues.
type Queue struct {
	log *slog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	backlog deque.Deque[task]
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func New(log *slog.Logger) *Queue {
	if log == nil {
		log = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		log:    log.With("component", "eventq"),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)

	go q.run()
	return q
}

// Enqueue appends a unit to the tail of the chain and returns immediately.
func (q *Queue) Enqueue(name string, fn func(context.Context)) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.backlog.PushBack(task{name: name, fn: fn})
	q.cond.Signal()
	q.mu.Unlock()
	return nil
}

// Len reports the number of units waiting to run.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.backlog.Len()
}

func (q *Queue) run() {
	defer close(q.done)

	for {
		q.mu.Lock()
		for q.backlog.Len() == 0 && !q.closed {
			q.cond.Wait()
		}
		if q.backlog.Len() == 0 && q.closed {
			q.mu.Unlock()
			return
		}
		t := q.backlog.PopFront()
		q.mu.Unlock()

		q.exec(t)
	}
}

func (q *Queue) exec(t task) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Error("event handler panicked",
				"unit", t.name,
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()
	t.fn(q.ctx)
}

// Close stops accepting new units, lets the backlog drain, and returns once
// the worker has exited. Idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return
	}
	q.closed = true
	q.cond.Signal()
	q.mu.Unlock()

	<-q.done
	q.cancel()
}
