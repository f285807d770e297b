// Package history holds the authoritative, process-lifetime event log of
// the shared board.
package history

import (
	"sync"

	"github.com/inkboard/board-app/internal/protocol"
)

// Store is the ordered log of accepted events. It is goroutine-safe:
// Append, Snapshot and Clear are serialized behind one mutex, so every
// Append happens strictly before or strictly after any Clear.
type Store struct {
	mu      sync.RWMutex
	events  []protocol.Event
	lastSeq uint64 // never reset, so sequence numbers stay unique across clears
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		events: make([]protocol.Event, 0, 256),
	}
}

// Append stamps ev with the next sequence number, adds it to the end of
// the log and returns the stamped event.
func (s *Store) Append(ev protocol.Event) protocol.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastSeq++
	stamped := protocol.WithSeq(ev, s.lastSeq)
	s.events = append(s.events, stamped)
	return stamped
}

// Snapshot returns a copy of the log in insertion order. The copy is
// never nil and is not affected by later appends or clears.
func (s *Store) Snapshot() []protocol.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]protocol.Event, len(s.events))
	copy(out, s.events)
	return out
}

// Clear empties the log. It returns the number of events discarded.
func (s *Store) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.events)
	// Drop the backing array so cleared events can be collected.
	s.events = make([]protocol.Event, 0, 256)
	return n
}

// Len returns the number of events currently in the log.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// LastSeq returns the most recently assigned sequence number.
func (s *Store) LastSeq() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSeq
}
