package board

import (
	"sync"
	"sync/atomic"
)

// Conn is the send side of one client's transport. ws.Connection
// satisfies it.
type Conn interface {
	WriteMessage(data []byte) error
	Close() error
}

// State is a session's position in its lifecycle.
type State int32

const (
	StateConnecting State = iota
	StateActive
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Session is the hub's handle on one connected client. Outbound
// messages go through a bounded queue drained by a dedicated writer
// goroutine, so the hub never waits on a slow client.
type Session struct {
	ID        string
	conn      Conn
	out       chan []byte
	state     atomic.Int32
	closeConn atomic.Bool
	done      chan struct{}
	once      sync.Once
}

func newSession(id string, conn Conn, queueSize int) *Session {
	s := &Session{
		ID:   id,
		conn: conn,
		out:  make(chan []byte, queueSize),
		done: make(chan struct{}),
	}
	s.state.Store(int32(StateConnecting))
	return s
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// enqueue queues msg without blocking. It reports false when the queue
// is full.
func (s *Session) enqueue(msg []byte) bool {
	select {
	case s.out <- msg:
		return true
	default:
		return false
	}
}

// writeLoop delivers queued messages in order until the session shuts
// down or a write fails, in which case onFail is called once. The
// transport is closed from here, never under the hub lock, because
// closing it may call back into the hub.
func (s *Session) writeLoop(onFail func(error)) {
	defer func() {
		if s.closeConn.Load() {
			_ = s.conn.Close()
		}
	}()
	for {
		select {
		case <-s.done:
			return
		case msg := <-s.out:
			if err := s.conn.WriteMessage(msg); err != nil {
				onFail(err)
				return
			}
		}
	}
}

// shutdown moves the session to Disconnected and stops its writer,
// which closes the transport if asked to.
func (s *Session) shutdown(closeConn bool) {
	s.once.Do(func() {
		s.closeConn.Store(closeConn)
		s.state.Store(int32(StateDisconnected))
		close(s.done)
	})
}
