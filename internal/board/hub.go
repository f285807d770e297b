// Package board implements the session broadcaster: it owns the set of
// connected sessions and enforces the distribution protocol around the
// shared history (snapshot on join, fan-out on draw, wipe on clear).
package board

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/inkboard/board-app/internal/history"
	"github.com/inkboard/board-app/internal/metrics"
	"github.com/inkboard/board-app/internal/protocol"
)

var (
	// ErrUnknownSession is returned for operations from a session that is
	// not registered (never joined, or already disconnected).
	ErrUnknownSession = errors.New("board: unknown session")

	// ErrDuplicateSession is returned when a session id joins twice.
	ErrDuplicateSession = errors.New("board: session already joined")

	// ErrClosed is returned by Join after Close.
	ErrClosed = errors.New("board: hub closed")

	errQueueFull = errors.New("send queue full")
)

// Config holds tunable parameters for the hub.
type Config struct {
	QueueSize int // per-session outbound queue length
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		QueueSize: 1024,
	}
}

// Publisher receives every accepted draw and clear, in history order,
// as the exact bytes that were fanned out to sessions.
type Publisher interface {
	PublishBoardEvent(msgType string, data []byte) error
}

// Hub is the session broadcaster. One mutex covers every compound
// operation (append + fan-out, snapshot + register, clear + notify), so
// the order in which any session receives messages is the order in which
// the history was mutated.
type Hub struct {
	mu        sync.Mutex
	store     *history.Store
	sessions  map[string]*Session
	config    Config
	publisher Publisher
	closed    bool
}

// NewHub creates a Hub around the given history store.
func NewHub(store *history.Store, config Config) *Hub {
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultConfig().QueueSize
	}
	return &Hub{
		store:    store,
		sessions: make(map[string]*Session),
		config:   config,
	}
}

// SetPublisher registers an optional feed for accepted events. It must be
// called before the hub starts serving sessions.
func (h *Hub) SetPublisher(p Publisher) {
	h.publisher = p
}

// Join registers a session and queues the current history as its first
// message. Anything fanned out after Join returns is queued behind the
// snapshot, so the client can always place it.
func (h *Hub) Join(id string, conn Conn) (*Session, error) {
	s := newSession(id, conn, h.config.QueueSize)

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrClosed
	}
	if _, exists := h.sessions[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateSession, id)
	}

	events := h.store.Snapshot()
	msg, err := protocol.NewServerMessage(protocol.TypeHistory, protocol.HistoryMsg{
		SessionID: id,
		Events:    events,
	})
	if err != nil {
		return nil, fmt.Errorf("board: build history for %s: %w", id, err)
	}
	s.enqueue(msg)

	h.sessions[id] = s
	s.state.Store(int32(StateActive))
	go s.writeLoop(func(err error) { h.drop(s, "transport", err) })

	metrics.SessionsActive.Set(float64(len(h.sessions)))
	log.Printf("board: session joined session=%s history=%d (sessions=%d)", id, len(events), len(h.sessions))
	return s, nil
}

// Draw validates raw as an event, appends it to history and fans it out
// to every other session; the sender gets an ack carrying the assigned
// sequence number. An invalid event is neither stored nor broadcast: the
// sender gets a reject and stays connected, and the returned error wraps
// protocol.ErrInvalidEvent.
func (h *Hub) Draw(id string, raw []byte) (protocol.Event, error) {
	start := time.Now()
	ev, decodeErr := protocol.DecodeEvent(raw)

	h.mu.Lock()
	defer h.mu.Unlock()

	sender, ok := h.sessions[id]
	if !ok {
		return nil, fmt.Errorf("board: draw from %s: %w", id, ErrUnknownSession)
	}
	if decodeErr != nil {
		h.rejectLocked(sender, protocol.TypeDraw, protocol.CodeInvalidEvent, decodeErr.Error())
		return nil, fmt.Errorf("board: draw from %s: %w", id, decodeErr)
	}

	// Sequence numbers come from the store, so the messages can only be
	// built after the append.
	stamped := h.store.Append(ev)
	msg, err := protocol.NewServerMessage(protocol.TypeDraw, protocol.EventMsg{Event: stamped})
	if err != nil {
		log.Printf("board: failed to encode event seq=%d: %v", stamped.Sequence(), err)
		return stamped, nil
	}
	ack, err := protocol.NewServerMessage(protocol.TypeAck, protocol.AckMsg{Seq: stamped.Sequence()})
	if err != nil {
		log.Printf("board: failed to encode ack seq=%d: %v", stamped.Sequence(), err)
		return stamped, nil
	}

	for _, s := range h.sessions {
		if s == sender {
			h.deliverLocked(s, ack)
		} else {
			h.deliverLocked(s, msg)
		}
	}
	h.publishLocked(protocol.TypeDraw, msg)

	metrics.EventsAccepted.WithLabelValues(string(stamped.Kind())).Inc()
	metrics.HistoryEvents.Set(float64(h.store.Len()))
	metrics.FanoutLatency.Observe(time.Since(start).Seconds())
	return stamped, nil
}

// Clear empties the history and notifies every session, the requester
// included.
func (h *Hub) Clear(id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.sessions[id]; !ok {
		return fmt.Errorf("board: clear from %s: %w", id, ErrUnknownSession)
	}

	discarded := h.store.Clear()
	msg, err := protocol.NewServerMessage(protocol.TypeClear, protocol.ClearMsg{})
	if err != nil {
		return fmt.Errorf("board: build clear: %w", err)
	}
	for _, s := range h.sessions {
		h.deliverLocked(s, msg)
	}
	h.publishLocked(protocol.TypeClear, msg)

	metrics.Clears.Inc()
	metrics.HistoryEvents.Set(0)
	log.Printf("board: cleared by session=%s discarded=%d (sessions=%d)", id, discarded, len(h.sessions))
	return nil
}

// Reject refuses an operation from a session without touching history.
// A refused clear is followed by a fresh snapshot so the client can undo
// its optimistic local wipe.
func (h *Hub) Reject(id, op, code, message string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.sessions[id]
	if !ok {
		return fmt.Errorf("board: reject %s for %s: %w", op, id, ErrUnknownSession)
	}
	h.rejectLocked(s, op, code, message)

	if op == protocol.TypeClear {
		msg, err := protocol.NewServerMessage(protocol.TypeHistory, protocol.HistoryMsg{
			SessionID: id,
			Events:    h.store.Snapshot(),
		})
		if err != nil {
			return fmt.Errorf("board: build history for %s: %w", id, err)
		}
		h.deliverLocked(s, msg)
	}
	return nil
}

// Leave deregisters a session whose transport has gone away. It is safe
// to call more than once and has no effect on history.
func (h *Hub) Leave(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.sessions[id]
	if !ok {
		return
	}
	delete(h.sessions, id)
	s.shutdown(false)

	metrics.SessionsActive.Set(float64(len(h.sessions)))
	log.Printf("board: session left session=%s (sessions=%d)", id, len(h.sessions))
}

// Snapshot returns the current history.
func (h *Hub) Snapshot() []protocol.Event {
	return h.store.Snapshot()
}

// HistoryLen returns the number of events in the history.
func (h *Hub) HistoryLen() int {
	return h.store.Len()
}

// Count returns the number of active sessions.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Close disconnects every session and refuses further joins.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for id, s := range h.sessions {
		delete(h.sessions, id)
		s.shutdown(true)
	}
	metrics.SessionsActive.Set(0)
	log.Printf("board: hub closed")
}

// drop removes a session after a failed write. The transport is closed
// so the client notices and reconnects for a fresh snapshot.
func (h *Hub) drop(s *Session, cause string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropLocked(s, cause, err)
}

func (h *Hub) dropLocked(s *Session, cause string, err error) {
	if h.sessions[s.ID] != s {
		return
	}
	delete(h.sessions, s.ID)
	s.shutdown(true)

	metrics.SessionsDropped.WithLabelValues(cause).Inc()
	metrics.SessionsActive.Set(float64(len(h.sessions)))
	log.Printf("board: session dropped session=%s cause=%s: %v (sessions=%d)", s.ID, cause, err, len(h.sessions))
}

// deliverLocked queues msg for s. A session that cannot keep up is
// dropped rather than allowed to miss an event.
func (h *Hub) deliverLocked(s *Session, msg []byte) {
	if !s.enqueue(msg) {
		h.dropLocked(s, "overflow", errQueueFull)
	}
}

func (h *Hub) rejectLocked(s *Session, op, code, message string) {
	msg, err := protocol.NewServerMessage(protocol.TypeReject, protocol.RejectMsg{
		Op:      op,
		Code:    code,
		Message: message,
	})
	if err != nil {
		log.Printf("board: failed to build reject session=%s: %v", s.ID, err)
		return
	}
	h.deliverLocked(s, msg)
	metrics.EventsRejected.WithLabelValues(code).Inc()
	log.Printf("board: rejected %s session=%s code=%s", op, s.ID, code)
}

func (h *Hub) publishLocked(msgType string, msg []byte) {
	if h.publisher == nil {
		return
	}
	if err := h.publisher.PublishBoardEvent(msgType, msg); err != nil {
		log.Printf("board: publish %s failed: %v", msgType, err)
	}
}
