// Package eventbus dispatches user-defined graph events to their listeners.
//
// Publish runs every handler subscribed to the event inline, in subscription
// order, and returns only after the last one finishes. Publishing an event
// from inside one of its own handlers is rejected with ErrReentrantPublish.
package eventbus

import (
	"context"
	"errors"
	"sync"

	daerrors "github.com/wehubfusion/Daedalus/pkg/errors"
)

// ErrReentrantPublish is returned when an event is published while it is
// already being dispatched higher up the same call chain.
var ErrReentrantPublish = errors.New("re-entrant event publish")

// Handler receives a published payload.
type Handler func(ctx context.Context, payload any) error

type subscription struct {
	id      uint64
	handler Handler
}

// Bus is a per-run publish/subscribe registry keyed by event id.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string][]subscription
	nextID uint64
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[string][]subscription)}
}

// Subscribe registers h for eventID and returns a function removing it.
func (b *Bus) Subscribe(eventID string, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.subs[eventID] = append(b.subs[eventID], subscription{id: id, handler: h})

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(eventID, id) })
	}
}

func (b *Bus) unsubscribe(eventID string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[eventID]
	for i, s := range subs {
		if s.id == id {
			b.subs[eventID] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subs[eventID]) == 0 {
		delete(b.subs, eventID)
	}
}

// Subscribers returns the number of handlers registered for eventID.
func (b *Bus) Subscribers(eventID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[eventID])
}

// Publish dispatches payload to the handlers subscribed at call time. The
// first handler error stops dispatch and is returned.
func (b *Bus) Publish(ctx context.Context, eventID string, payload any) error {
	if Dispatching(ctx, eventID) {
		return daerrors.NewError(daerrors.CodeReentrantEvent, "event "+eventID+" is already being dispatched", ErrReentrantPublish)
	}

	b.mu.RLock()
	handlers := make([]Handler, len(b.subs[eventID]))
	for i, s := range b.subs[eventID] {
		handlers[i] = s.handler
	}
	b.mu.RUnlock()

	ctx = withDispatch(ctx, eventID)
	for _, h := range handlers {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := h(ctx, payload); err != nil {
			return err
		}
	}
	return nil
}

type dispatchKey struct{}

// dispatchFrame is one link of the per-call-chain stack of events in flight.
type dispatchFrame struct {
	eventID string
	parent  *dispatchFrame
}

func withDispatch(ctx context.Context, eventID string) context.Context {
	parent, _ := ctx.Value(dispatchKey{}).(*dispatchFrame)
	return context.WithValue(ctx, dispatchKey{}, &dispatchFrame{eventID: eventID, parent: parent})
}

// Dispatching reports whether eventID is being dispatched on ctx's call chain.
func Dispatching(ctx context.Context, eventID string) bool {
	f, _ := ctx.Value(dispatchKey{}).(*dispatchFrame)
	for ; f != nil; f = f.parent {
		if f.eventID == eventID {
			return true
		}
	}
	return false
}
