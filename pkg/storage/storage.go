package storage

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/wehubfusion/Daedalus/pkg/eventbus"
)

// Storage is the flat, thread-safe store backing a run or a group scope.
type Storage struct {
	mu         sync.RWMutex
	sockets    map[socketKey]any
	variables  map[string]any
	executed   map[string]struct{}
	generation int

	bus *eventbus.Bus
	id  uint64
}

// New creates an empty store with its own event bus.
func New() *Storage {
	return newStorage(eventbus.New())
}

// NewWithBus creates an empty store publishing on an existing bus.
func NewWithBus(bus *eventbus.Bus) *Storage {
	if bus == nil {
		bus = eventbus.New()
	}
	return newStorage(bus)
}

func newStorage(bus *eventbus.Bus) *Storage {
	return &Storage{
		sockets:   make(map[socketKey]any),
		variables: make(map[string]any),
		executed:  make(map[string]struct{}),
		bus:       bus,
		id:        nextScopeID(),
	}
}

// Socket returns the value stored for a node socket.
func (s *Storage) Socket(nodeID, socket string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.sockets[socketKey{nodeID, socket}]
	return v, ok
}

// SetSocket stores a socket value.
func (s *Storage) SetSocket(nodeID, socket string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sockets[socketKey{nodeID, socket}] = value
}

// ClearSocket removes a socket value.
func (s *Storage) ClearSocket(nodeID, socket string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sockets, socketKey{nodeID, socket})
}

// Variable returns a run variable.
func (s *Storage) Variable(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.variables[key]
	return v, ok
}

// SetVariable sets a run variable.
func (s *Storage) SetVariable(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.variables[key] = value
}

// IsExecuted reports whether the node ran in this scope.
func (s *Storage) IsExecuted(nodeID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.executed[nodeID]
	return ok
}

// MarkExecuted records that the node ran in this scope.
func (s *Storage) MarkExecuted(nodeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executed[nodeID] = struct{}{}
}

// ClearExecuted forgets that the node ran, so it executes again.
func (s *Storage) ClearExecuted(nodeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.executed, nodeID)
}

// Generation returns the current loop generation.
func (s *Storage) Generation() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// PushGeneration increments the loop generation and returns it.
func (s *Storage) PushGeneration() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	return s.generation
}

// PopGeneration decrements the counter, never below zero.
func (s *Storage) PopGeneration() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation > 0 {
		s.generation--
	}
	return s.generation
}

// Bus returns the event bus shared by the store and its layers.
func (s *Storage) Bus() *eventbus.Bus { return s.bus }

// ScopeID identifies the store for per-scope bookkeeping.
func (s *Storage) ScopeID() uint64 { return s.id }

// CreateChild returns an independent store sharing the event bus, optionally
// seeded with a copy of the variables.
func (s *Storage) CreateChild(inheritVariables bool) Store {
	child := newStorage(s.bus)
	if inheritVariables {
		s.mu.RLock()
		for k, v := range s.variables {
			child.variables[k] = v
		}
		s.mu.RUnlock()
	}
	return child
}

// CreateLayer returns an overlay reading through to this store.
func (s *Storage) CreateLayer() Store {
	return newLayer(s)
}

// Snapshot copies the current contents.
func (s *Storage) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Sockets:    make(map[string]map[string]any),
		Variables:  make(map[string]any, len(s.variables)),
		Executed:   make([]string, 0, len(s.executed)),
		Generation: s.generation,
	}
	for k, v := range s.sockets {
		if snap.Sockets[k.node] == nil {
			snap.Sockets[k.node] = make(map[string]any)
		}
		snap.Sockets[k.node][k.socket] = v
	}
	for k, v := range s.variables {
		snap.Variables[k] = v
	}
	for id := range s.executed {
		snap.Executed = append(snap.Executed, id)
	}
	sort.Strings(snap.Executed)
	return snap
}

// MarshalJSON serializes the store's snapshot.
func (s *Storage) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Snapshot())
}
