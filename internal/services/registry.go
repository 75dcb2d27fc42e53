package services

import (
	"sync"

	"labelworks/orchestrator/internal/machine"
)

// actorRegistry is the process-local table of live actors, keyed by
// instance id. Each id carries its own mutex so event application for one
// instance serializes without blocking others. The registry does not
// survive a process boundary; callers rehydrate from the durable snapshot
// on a miss.
type actorRegistry struct {
	mu      sync.Mutex
	entries map[string]*actorEntry
}

type actorEntry struct {
	mu    sync.Mutex
	actor *machine.Actor
}

func newActorRegistry() *actorRegistry {
	return &actorRegistry{entries: make(map[string]*actorEntry)}
}

// acquire returns the locked entry for id, creating it if needed. The
// caller must release it.
func (r *actorRegistry) acquire(id string) *actorEntry {
	r.mu.Lock()
	entry, ok := r.entries[id]
	if !ok {
		entry = &actorEntry{}
		r.entries[id] = entry
	}
	r.mu.Unlock()
	entry.mu.Lock()
	return entry
}

func (e *actorEntry) release() {
	e.mu.Unlock()
}

// evict discards the live actor but keeps the entry (and its lock) so
// in-flight acquirers still serialize.
func (e *actorEntry) evict() {
	e.actor = nil
}

// registered reports whether id currently holds a live actor. Introspection
// only.
func (r *actorRegistry) registered(id string) bool {
	r.mu.Lock()
	entry, ok := r.entries[id]
	r.mu.Unlock()
	if !ok {
		return false
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.actor != nil
}
