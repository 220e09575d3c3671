package storage

import (
	"sort"
	"sync"

	"github.com/wehubfusion/Daedalus/pkg/eventbus"
)

// entry is a local overlay slot. A cleared entry masks the parent's value.
type entry struct {
	value   any
	cleared bool
}

// Layer is an overlay over a parent store. Socket and variable writes stay
// local and reads fall through to the parent when absent locally. The
// executed set is local and never inherited. Generation and bus belong to
// the parent.
type Layer struct {
	parent Store

	mu        sync.RWMutex
	sockets   map[socketKey]entry
	variables map[string]any
	executed  map[string]struct{}

	id uint64
}

func newLayer(parent Store) *Layer {
	return &Layer{
		parent:    parent,
		sockets:   make(map[socketKey]entry),
		variables: make(map[string]any),
		executed:  make(map[string]struct{}),
		id:        nextScopeID(),
	}
}

// Socket returns the layer's value, or the parent's when the layer has none.
// A cleared entry hides the parent's value.
func (l *Layer) Socket(nodeID, socket string) (any, bool) {
	l.mu.RLock()
	e, ok := l.sockets[socketKey{nodeID, socket}]
	l.mu.RUnlock()
	if ok {
		if e.cleared {
			return nil, false
		}
		return e.value, true
	}
	return l.parent.Socket(nodeID, socket)
}

// SetSocket stores a socket value in the layer only.
func (l *Layer) SetSocket(nodeID, socket string, value any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sockets[socketKey{nodeID, socket}] = entry{value: value}
}

// ClearSocket masks the socket, including any value in the parent.
func (l *Layer) ClearSocket(nodeID, socket string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sockets[socketKey{nodeID, socket}] = entry{cleared: true}
}

// Variable returns the layer's variable, falling back to the parent.
func (l *Layer) Variable(key string) (any, bool) {
	l.mu.RLock()
	v, ok := l.variables[key]
	l.mu.RUnlock()
	if ok {
		return v, true
	}
	return l.parent.Variable(key)
}

// SetVariable sets a variable in the layer only.
func (l *Layer) SetVariable(key string, value any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.variables[key] = value
}

// IsExecuted reports whether the node ran in this layer. Parent state is not
// consulted.
func (l *Layer) IsExecuted(nodeID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.executed[nodeID]
	return ok
}

// MarkExecuted records that the node ran in this scope.
func (l *Layer) MarkExecuted(nodeID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.executed[nodeID] = struct{}{}
}

// ClearExecuted forgets that the node ran, so it executes again.
func (l *Layer) ClearExecuted(nodeID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.executed, nodeID)
}

// Generation returns the parent's loop generation.
func (l *Layer) Generation() int { return l.parent.Generation() }

// PushGeneration increments the parent's generation.
func (l *Layer) PushGeneration() int { return l.parent.PushGeneration() }

// PopGeneration decrements the parent's generation.
func (l *Layer) PopGeneration() int { return l.parent.PopGeneration() }

// Bus returns the parent's event bus.
func (l *Layer) Bus() *eventbus.Bus { return l.parent.Bus() }

// ScopeID identifies the store for per-scope bookkeeping.
func (l *Layer) ScopeID() uint64 { return l.id }

// CreateChild returns an independent store sharing the event bus, optionally
// seeded with the merged variables.
func (l *Layer) CreateChild(inheritVariables bool) Store {
	child := newStorage(l.Bus())
	if inheritVariables {
		for k, v := range l.Snapshot().Variables {
			child.variables[k] = v
		}
	}
	return child
}

// CreateLayer returns a nested overlay.
func (l *Layer) CreateLayer() Store {
	return newLayer(l)
}

// Snapshot merges the parent's visible sockets and variables with local
// writes. Executed lists only local entries.
func (l *Layer) Snapshot() Snapshot {
	snap := l.parent.Snapshot()

	l.mu.RLock()
	defer l.mu.RUnlock()

	for k, e := range l.sockets {
		if e.cleared {
			if m := snap.Sockets[k.node]; m != nil {
				delete(m, k.socket)
				if len(m) == 0 {
					delete(snap.Sockets, k.node)
				}
			}
			continue
		}
		if snap.Sockets[k.node] == nil {
			snap.Sockets[k.node] = make(map[string]any)
		}
		snap.Sockets[k.node][k.socket] = e.value
	}
	for k, v := range l.variables {
		snap.Variables[k] = v
	}
	snap.Executed = make([]string, 0, len(l.executed))
	for id := range l.executed {
		snap.Executed = append(snap.Executed, id)
	}
	sort.Strings(snap.Executed)
	return snap
}
