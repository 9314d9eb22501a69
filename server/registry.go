// Package server implements the coordinator side of the connection protocol:
// the registry that allocates and reclaims connection identifiers and the
// manager that serves control requests, drives the per-connection lifecycle
// state machine, and notifies listeners of connection events.
package server

import (
	"fmt"
	"sync"

	"github.com/c360/scenesync/connection"
	"github.com/c360/scenesync/errors"
)

// Entry is one registered connection: its role and lifecycle state.
type Entry struct {
	Type  connection.Type
	State connection.State
}

// Registry is the thread-safe allocation table for connection identifiers.
// Invariant: no two live entries ever share a non-nil id.
type Registry struct {
	mu      sync.RWMutex
	entries map[connection.ID]*Entry
}

// NewRegistry creates a new empty connection registry
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[connection.ID]*Entry),
	}
}

// Add registers a new connection of the given type and returns its id. When
// requestedID is valid and free it is reused, which lets a reconnecting
// client keep its history; otherwise a fresh id is generated. Add never
// fails.
func (r *Registry) Add(t connection.Type, requestedID connection.ID) connection.ID {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := requestedID
	if !id.Valid() {
		id = connection.NewID()
	}
	for {
		if _, taken := r.entries[id]; !taken {
			break
		}
		// Requested id collides with a live connection: a duplicate instance
		// or a stale hint. Allocate fresh.
		id = connection.NewID()
	}

	r.entries[id] = &Entry{Type: t, State: connection.StateNew}
	return id
}

// Get returns a copy of the entry for id.
func (r *Registry) Get(id connection.ID) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[id]
	if !ok {
		return Entry{}, false
	}
	return *entry, true
}

// Has reports whether id is registered.
func (r *Registry) Has(id connection.ID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[id]
	return ok
}

// Remove deletes the entry for id. It is a no-op on unknown ids.
func (r *Registry) Remove(id connection.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

// Activate transitions a connection from New to Active. It is only legal for
// an existing entry in StateNew whose type matches want; violations report
// an error and leave the registry untouched.
func (r *Registry) Activate(id connection.ID, want connection.Type) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[id]
	if !ok {
		return errors.Unknown(fmt.Sprintf("unknown connection id %s", id))
	}
	if entry.Type != want {
		return errors.Unknown(fmt.Sprintf(
			"connection %s is %s, not %s", id, entry.Type, want))
	}
	if entry.State != connection.StateNew {
		return errors.Unknown(fmt.Sprintf(
			"connection %s already %s", id, entry.State))
	}

	entry.State = connection.StateActive
	return nil
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Snapshot returns a copy of every registered entry keyed by id.
func (r *Registry) Snapshot() map[connection.ID]Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[connection.ID]Entry, len(r.entries))
	for id, entry := range r.entries {
		out[id] = *entry
	}
	return out
}
