// Package gate implements the run/pause/step control the runtime consults
// before dispatching each node.
package gate

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

var (
	// ErrClosed is returned to waiters when the gate is disposed.
	ErrClosed = errors.New("execution gate closed")

	// ErrNotPaused is returned by StepOnce outside the Paused state.
	ErrNotPaused = errors.New("execution gate is not paused")
)

// State is the gate's control state.
type State int

const (
	Idle State = iota
	Running
	Paused
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Paused:
		return "paused"
	}
	return "unknown"
}

// Gate blocks callers of Wait while paused. Idle and Running are open.
type Gate struct {
	mu    sync.Mutex
	state State
	// open is closed whenever the gate lets callers through.
	open chan struct{}
	// permits holds at most one single-step admission.
	permits chan struct{}

	disposed  chan struct{}
	closeOnce sync.Once
	waiters   atomic.Int64
}

// New returns an open gate in the Idle state.
func New() *Gate {
	open := make(chan struct{})
	close(open)
	return &Gate{
		state:    Idle,
		open:     open,
		permits:  make(chan struct{}, 1),
		disposed: make(chan struct{}),
	}
}

// State returns the current state.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Waiters returns the number of callers currently blocked in Wait.
func (g *Gate) Waiters() int {
	return int(g.waiters.Load())
}

// Run opens the gate for free running.
func (g *Gate) Run() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.openLocked()
	g.state = Running
}

// StartPaused closes the gate before any node runs.
func (g *Gate) StartPaused() {
	g.Pause()
}

// Pause closes the gate and discards any unconsumed step permit.
func (g *Gate) Pause() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.isOpenLocked() {
		g.open = make(chan struct{})
	}
	g.drainLocked()
	g.state = Paused
}

// Resume reopens the gate, releasing every waiter.
func (g *Gate) Resume() {
	g.Run()
}

// StepOnce admits exactly one waiter, either one blocked now or the next to
// arrive. A pending permit is not duplicated by repeated calls.
func (g *Gate) StepOnce() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != Paused {
		return ErrNotPaused
	}
	select {
	case g.permits <- struct{}{}:
	default:
	}
	return nil
}

// Complete force-opens the gate and returns it to Idle.
func (g *Gate) Complete() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.openLocked()
	g.drainLocked()
	g.state = Idle
}

// Close disposes the gate. Blocked and future waiters receive ErrClosed.
func (g *Gate) Close() {
	g.closeOnce.Do(func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		close(g.disposed)
		g.drainLocked()
		g.state = Idle
	})
}

// Wait returns immediately while the gate is open and otherwise blocks until
// it opens, a step permit is granted, the gate is closed or ctx is done.
func (g *Gate) Wait(ctx context.Context) error {
	select {
	case <-g.disposed:
		return ErrClosed
	default:
	}

	g.mu.Lock()
	open := g.open
	g.mu.Unlock()

	select {
	case <-open:
		return nil
	default:
	}

	g.waiters.Add(1)
	defer g.waiters.Add(-1)

	select {
	case <-open:
		return nil
	case <-g.permits:
		return nil
	case <-g.disposed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Gate) isOpenLocked() bool {
	select {
	case <-g.open:
		return true
	default:
		return false
	}
}

func (g *Gate) openLocked() {
	if !g.isOpenLocked() {
		close(g.open)
	}
}

func (g *Gate) drainLocked() {
	select {
	case <-g.permits:
	default:
	}
}
