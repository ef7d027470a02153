// Package dedup collapses concurrent identical requests into a single
// execution. Unlike singleflight, joiners get access to the leader's session
// object (the progress tracker) while the call is still in flight, so a late
// caller can watch the same progress stream the first caller started.
package dedup

import (
	"context"
	"sync"
)

// Call is one in-flight execution. S is the shared session exposed to
// joiners; V is the result type.
type Call[S, V any] struct {
	// Session is set by the leader at acquisition and never mutated after.
	Session S

	done chan struct{}
	val  V
	err  error
}

// Group tracks in-flight calls by key.
type Group[S, V any] struct {
	mu    sync.Mutex
	calls map[string]*Call[S, V]
}

// NewGroup creates an empty Group.
func NewGroup[S, V any]() *Group[S, V] {
	return &Group[S, V]{calls: make(map[string]*Call[S, V])}
}

// Acquire returns the in-flight call for key, creating one if none exists.
// leader is true for the caller that must execute the work and Finish the
// call; every other caller joins the existing one. newSession is only
// invoked when a new call is created.
func (g *Group[S, V]) Acquire(key string, newSession func() S) (c *Call[S, V], leader bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if existing, ok := g.calls[key]; ok {
		return existing, false
	}

	c = &Call[S, V]{
		Session: newSession(),
		done:    make(chan struct{}),
	}
	g.calls[key] = c
	return c, true
}

// Finish publishes the result and releases every waiter. Calling Finish
// twice panics; the leader owns the call.
func (c *Call[S, V]) Finish(val V, err error) {
	c.val = val
	c.err = err
	close(c.done)
}

// Wait blocks until the call finishes or ctx is cancelled. A cancelled
// waiter does not affect the call itself; the leader keeps running.
func (c *Call[S, V]) Wait(ctx context.Context) (V, error) {
	select {
	case <-c.done:
		return c.val, c.err
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

// Forget removes the call for key so the next Acquire starts fresh. The
// leader calls this after Finish; waiters already holding the call still
// read its result.
func (g *Group[S, V]) Forget(key string) {
	g.mu.Lock()
	delete(g.calls, key)
	g.mu.Unlock()
}

// Pending reports how many calls are currently in flight.
func (g *Group[S, V]) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}
