//go:build !linux

package ws

import (
	"bufio"
	"errors"
	"net"
	"sync"
)

var errNotWrapped = errors.New("ws: connection was not wrapped by the poller")

// Epoll provides a goroutine-per-connection fallback for non-Linux platforms.
// Each registered connection is wrapped in a buffered reader; a monitor
// goroutine peeks one byte to detect readiness, then waits for Rearm before
// peeking again so it never races the worker that reads the frame.
type Epoll struct {
	mu      sync.Mutex
	conns   map[net.Conn]*peekConn
	readyCh chan net.Conn // connections with pending data
	done    chan struct{}
	once    sync.Once
}

// peekConn serves reads from a buffer so that peeked bytes are not lost.
type peekConn struct {
	net.Conn
	r     *bufio.Reader
	rearm chan struct{}
	gone  chan struct{}
	once  sync.Once
}

func (c *peekConn) Read(p []byte) (int, error) {
	return c.r.Read(p)
}

// NewEpoll creates a new fallback poller.
func NewEpoll() (*Epoll, error) {
	return &Epoll{
		conns:   make(map[net.Conn]*peekConn),
		readyCh: make(chan net.Conn, 128),
		done:    make(chan struct{}),
	}, nil
}

// Wrap returns the connection that must be used for all reads and writes
// once conn is registered.
func (e *Epoll) Wrap(conn net.Conn) net.Conn {
	return &peekConn{
		Conn:  conn,
		r:     bufio.NewReaderSize(conn, 4096),
		rearm: make(chan struct{}, 1),
		gone:  make(chan struct{}),
	}
}

// Add starts monitoring a connection returned by Wrap.
func (e *Epoll) Add(conn net.Conn) error {
	pc, ok := conn.(*peekConn)
	if !ok {
		return errNotWrapped
	}

	e.mu.Lock()
	e.conns[conn] = pc
	e.mu.Unlock()

	go e.monitor(pc)
	return nil
}

// monitor signals readiness whenever buffered or socket data is available,
// or when the connection fails so the read path can observe the error.
func (e *Epoll) monitor(pc *peekConn) {
	for {
		_, err := pc.r.Peek(1)

		select {
		case e.readyCh <- pc:
		case <-pc.gone:
			return
		case <-e.done:
			return
		}
		if err != nil {
			return
		}

		select {
		case <-pc.rearm:
		case <-pc.gone:
			return
		case <-e.done:
			return
		}
	}
}

// Rearm lets the monitor look for the next frame after a worker has
// finished with the connection.
func (e *Epoll) Rearm(conn net.Conn) {
	pc, ok := conn.(*peekConn)
	if !ok {
		return
	}
	select {
	case pc.rearm <- struct{}{}:
	default:
	}
}

// Remove unregisters a connection and stops its monitor.
func (e *Epoll) Remove(conn net.Conn) error {
	e.mu.Lock()
	pc, ok := e.conns[conn]
	delete(e.conns, conn)
	e.mu.Unlock()

	if ok {
		pc.once.Do(func() { close(pc.gone) })
	}
	return nil
}

// Wait blocks until at least one connection is ready for reading. It
// collects all currently ready connections from the channel and returns them.
func (e *Epoll) Wait() ([]net.Conn, error) {
	var first net.Conn
	select {
	case first = <-e.readyCh:
	case <-e.done:
		return nil, net.ErrClosed
	}

	conns := []net.Conn{first}

	// Drain any additional ready connections without blocking.
	for {
		select {
		case conn := <-e.readyCh:
			conns = append(conns, conn)
		default:
			return conns, nil
		}
	}
}

// Close shuts down the fallback poller.
func (e *Epoll) Close() error {
	e.once.Do(func() { close(e.done) })
	e.mu.Lock()
	e.conns = make(map[net.Conn]*peekConn)
	e.mu.Unlock()
	return nil
}

// socketFD is a no-op on non-Linux platforms since we don't need file
// descriptors for the goroutine-based fallback.
func socketFD(conn net.Conn) int {
	return -1
}

func isEINTR(err error) bool {
	return false
}
