package worker

import (
	"context"
	"sync"
)

// Gate is the readiness flag of a worker. It is closed while a deploy cycle is in flight or
// after one failed, and open otherwise. Waiters check the flag before blocking, so a Signal
// that happened earlier is never missed.
type Gate struct {
	mu    sync.Mutex
	ready bool
	open  chan struct{}
}

// NewGate returns an open gate.
func NewGate() *Gate {
	open := make(chan struct{})
	close(open)
	return &Gate{ready: true, open: open}
}

// Reset closes the gate.
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ready {
		g.ready = false
		g.open = make(chan struct{})
	}
}

// Signal opens the gate and wakes every waiter.
func (g *Gate) Signal() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.ready {
		g.ready = true
		close(g.open)
	}
}

// Ready reports whether the gate is open.
func (g *Gate) Ready() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ready
}

// Wait blocks until the gate opens or ctx is done.
func (g *Gate) Wait(ctx context.Context) error {
	g.mu.Lock()
	if g.ready {
		g.mu.Unlock()
		return nil
	}
	open := g.open
	g.mu.Unlock()

	select {
	case <-open:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
