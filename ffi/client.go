package ffi

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/frostbyte73/core"
	"github.com/google/uuid"
)

// unclaimed correlated results are kept briefly to cover the window between
// the engine emitting the outcome event and the caller registering its
// pending entry after reading the immediate response.
const unclaimedTTL = 30 * time.Second

var ErrPendingExists = fmt.Errorf("correlation id already pending")

type waiter struct {
	predicate func(*Event) bool
	ch        chan *Event
}

type unclaimedEvent struct {
	ev *Event
	at time.Time
}

// Client is the correlation layer over a Boundary. It matches correlated
// result events to pending requests, wakes predicate waiters, and forwards
// everything else to the sink. All map access happens under narrow locks,
// never while delivering or awaiting.
type Client struct {
	boundary Boundary
	log      *slog.Logger
	ttl      time.Duration
	closed   core.Fuse

	pendingMu sync.Mutex
	pending   map[uint64]chan *Event
	unclaimed map[uint64]unclaimedEvent

	waiterMu sync.Mutex
	waiters  []*waiter

	sinkMu sync.RWMutex
	sink   EventHandler
}

func NewClient(boundary Boundary, log *slog.Logger) *Client {
	return newClient(boundary, log, unclaimedTTL)
}

func newClient(boundary Boundary, log *slog.Logger, ttl time.Duration) *Client {
	if log == nil {
		log = slog.Default()
	}

	c := &Client{
		boundary:  boundary,
		log:       log.With("component", "ffi"),
		ttl:       ttl,
		pending:   make(map[uint64]chan *Event),
		unclaimed: make(map[uint64]unclaimedEvent),
	}
	boundary.SetEventHandler(c.handleEvent)
	go c.sweepLoop()
	return c
}

// sweepLoop expires stashed unclaimed events on a timer, so they are dropped
// even when no further events or requests arrive on the connection.
func (c *Client) sweepLoop() {
	ticker := time.NewTicker(c.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.pendingMu.Lock()
			c.sweepUnclaimedLocked()
			c.pendingMu.Unlock()
		case <-c.closed.Watch():
			return
		}
	}
}

// SetSink registers the receiver for events that match no pending request
// and no waiter. The sink runs on the ingress goroutine and must not block.
func (c *Client) SetSink(sink EventHandler) {
	c.sinkMu.Lock()
	c.sink = sink
	c.sinkMu.Unlock()
}

// Do issues a synchronous request. An inline engine error is surfaced
// immediately as *OperationError; no correlated event will follow it.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	if c.closed.IsBroken() {
		return nil, ErrClosed
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	res, err := c.boundary.Request(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", req.Type, err)
	}
	if res.Error != nil {
		return nil, newOperationError(res.Error)
	}
	return res, nil
}

// DoAsync issues a request whose outcome arrives later as a correlated
// event. It blocks until that event arrives, the timeout elapses, or ctx is
// cancelled. The pending entry is removed on every exit path.
func (c *Client) DoAsync(ctx context.Context, req *Request, timeout time.Duration) (*Event, error) {
	res, err := c.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	if res.AsyncID == 0 {
		return nil, fmt.Errorf("%s response carried no correlation id", req.Type)
	}
	return c.awaitAsync(ctx, res.AsyncID, timeout)
}

func (c *Client) awaitAsync(ctx context.Context, asyncID uint64, timeout time.Duration) (*Event, error) {
	c.pendingMu.Lock()
	if stash, ok := c.unclaimed[asyncID]; ok {
		delete(c.unclaimed, asyncID)
		c.pendingMu.Unlock()
		return stash.ev, nil
	}
	if _, ok := c.pending[asyncID]; ok {
		c.pendingMu.Unlock()
		return nil, ErrPendingExists
	}
	ch := make(chan *Event, 1)
	c.pending[asyncID] = ch
	c.pendingMu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ev := <-ch:
		return ev, nil
	case <-timer.C:
		c.removePending(asyncID)
		return nil, ErrTimeout
	case <-ctx.Done():
		c.removePending(asyncID)
		return nil, ctx.Err()
	case <-c.closed.Watch():
		c.removePending(asyncID)
		return nil, ErrClosed
	}
}

// PendingCount reports the number of outstanding correlated requests.
func (c *Client) PendingCount() int {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	return len(c.pending)
}

func (c *Client) removePending(asyncID uint64) {
	c.pendingMu.Lock()
	delete(c.pending, asyncID)
	c.pendingMu.Unlock()
}

// WaitFor blocks until an event satisfying predicate arrives. Exactly one
// waiter is woken per matching event; the event is consumed by that waiter.
func (c *Client) WaitFor(ctx context.Context, timeout time.Duration, predicate func(*Event) bool) (*Event, error) {
	if c.closed.IsBroken() {
		return nil, ErrClosed
	}

	w := &waiter{predicate: predicate, ch: make(chan *Event, 1)}
	c.waiterMu.Lock()
	c.waiters = append(c.waiters, w)
	c.waiterMu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ev := <-w.ch:
		return ev, nil
	case <-timer.C:
		c.removeWaiter(w)
		return nil, ErrTimeout
	case <-ctx.Done():
		c.removeWaiter(w)
		return nil, ctx.Err()
	case <-c.closed.Watch():
		c.removeWaiter(w)
		return nil, ErrClosed
	}
}

func (c *Client) removeWaiter(w *waiter) {
	c.waiterMu.Lock()
	for i, other := range c.waiters {
		if other == w {
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			break
		}
	}
	c.waiterMu.Unlock()
}

// handleEvent runs on the boundary's ingress goroutine. It only performs
// map operations and channel hand-offs; user code never runs here.
func (c *Client) handleEvent(ev *Event) {
	if c.closed.IsBroken() {
		return
	}

	if ev.AsyncID != 0 {
		c.pendingMu.Lock()
		ch, ok := c.pending[ev.AsyncID]
		if ok {
			delete(c.pending, ev.AsyncID)
		} else {
			c.sweepUnclaimedLocked()
			c.unclaimed[ev.AsyncID] = unclaimedEvent{ev: ev, at: time.Now()}
		}
		c.pendingMu.Unlock()

		if ok {
			ch <- ev
		}
		return
	}

	c.waiterMu.Lock()
	for i, w := range c.waiters {
		if w.predicate(ev) {
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			c.waiterMu.Unlock()
			w.ch <- ev
			return
		}
	}
	c.waiterMu.Unlock()

	c.sinkMu.RLock()
	sink := c.sink
	c.sinkMu.RUnlock()
	if sink != nil {
		sink(ev)
	}
}

func (c *Client) sweepUnclaimedLocked() {
	now := time.Now()
	for id, stash := range c.unclaimed {
		if now.Sub(stash.at) > c.ttl {
			delete(c.unclaimed, id)
			c.log.Warn("dropping unclaimed correlated event", "async_id", id, "type", stash.ev.Type)
		}
	}
}

// Close fails all pending requests and waiters with ErrClosed and closes
// the underlying boundary. Idempotent.
func (c *Client) Close() error {
	var err error
	c.closed.Once(func() {
		err = c.boundary.Close()

		c.pendingMu.Lock()
		c.pending = make(map[uint64]chan *Event)
		c.unclaimed = make(map[uint64]unclaimedEvent)
		c.pendingMu.Unlock()

		c.waiterMu.Lock()
		c.waiters = nil
		c.waiterMu.Unlock()
	})
	return err
}
