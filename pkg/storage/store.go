// Package storage implements the runtime value store: socket values, run
// variables, executed flags and the loop generation counter. A flat Storage
// backs a run; layers and children scope it for loop iterations, stream items
// and group nodes.
package storage

import (
	"sync/atomic"

	"github.com/wehubfusion/Daedalus/pkg/eventbus"
)

// Store is the view of runtime state a node executes against.
type Store interface {
	// Socket returns the value stored for a node socket.
	Socket(nodeID, socket string) (any, bool)
	SetSocket(nodeID, socket string, value any)
	ClearSocket(nodeID, socket string)

	Variable(key string) (any, bool)
	SetVariable(key string, value any)

	IsExecuted(nodeID string) bool
	MarkExecuted(nodeID string)
	ClearExecuted(nodeID string)

	// Generation is the current loop nesting counter shared by the run.
	Generation() int
	PushGeneration() int
	PopGeneration() int

	// Bus is the run-wide event bus.
	Bus() *eventbus.Bus

	// ScopeID uniquely identifies this store instance within the process.
	ScopeID() uint64

	// CreateChild returns an isolated scope sharing only the event bus.
	// With inheritVariables the child starts with a copy of the visible
	// variables; writes never propagate back.
	CreateChild(inheritVariables bool) Store

	// CreateLayer returns an overlay that writes locally and reads through.
	CreateLayer() Store

	// Snapshot returns a copy of the visible state.
	Snapshot() Snapshot
}

// Snapshot is a serializable copy of a store's visible state.
type Snapshot struct {
	Sockets    map[string]map[string]any `json:"sockets"`
	Variables  map[string]any            `json:"variables"`
	Executed   []string                  `json:"executed"`
	Generation int                       `json:"generation"`
}

type socketKey struct {
	node   string
	socket string
}

var scopeSeq atomic.Uint64

func nextScopeID() uint64 {
	return scopeSeq.Add(1)
}
