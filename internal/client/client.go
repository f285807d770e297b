// Package client connects a canvas.State to a board server. It uses
// gobwas/ws (the same library the server uses), feeds every server
// message into the state and sends the state's local operations back.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/inkboard/board-app/internal/canvas"
	"github.com/inkboard/board-app/internal/protocol"
)

// ErrClosed is returned for sends after the connection has ended.
var ErrClosed = errors.New("client: connection closed")

// ---------------------------------------------------------------------------
// Metrics
// ---------------------------------------------------------------------------

// Metrics tracks per-connection performance data.
type Metrics struct {
	ConnectLatency   time.Duration
	HistoryLatency   time.Duration   // dial start to history received
	AckLatencies     []time.Duration // draw sent to ack received
	MessagesReceived int
	MessagesSent     int
	Rejected         int
	Errors           int
}

// ---------------------------------------------------------------------------
// Client
// ---------------------------------------------------------------------------

// Handler observes every server message after the state has applied it.
// It runs on the read loop goroutine.
type Handler func(msgType string, msg interface{})

// Option configures a Client.
type Option func(*Client)

// WithHandler registers a Handler.
func WithHandler(h Handler) Option {
	return func(c *Client) { c.handler = h }
}

// Client is one connection to a board. It implements canvas.Transmitter.
type Client struct {
	conn    net.Conn
	src     io.Reader // conn, preceded by bytes buffered during the handshake
	state   *canvas.State
	handler Handler

	writeMu sync.Mutex // serializes frames, including control replies
	sentAt  []time.Time

	mu        sync.Mutex
	sessionID string
	metrics   Metrics
	err       error
	start     time.Time

	synced    chan struct{}
	syncOnce  sync.Once
	done      chan struct{} // closed when the read loop exits
	closing   chan struct{}
	closeOnce sync.Once
}

// Dial connects to the board at url and attaches state to it. The first
// server message is the board history; Synced is closed once it has
// been applied.
func Dial(ctx context.Context, url string, state *canvas.State, opts ...Option) (*Client, error) {
	start := time.Now()
	conn, br, _, err := ws.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", url, err)
	}

	c := &Client{
		conn:    conn,
		src:     conn,
		state:   state,
		start:   start,
		synced:  make(chan struct{}),
		done:    make(chan struct{}),
		closing: make(chan struct{}),
	}
	if br != nil {
		// The server writes history right after the handshake, so it
		// may already be sitting in the handshake buffer.
		c.src = io.MultiReader(br, conn)
	}
	for _, opt := range opts {
		opt(c)
	}
	c.metrics.ConnectLatency = time.Since(start)

	state.Attach(c)
	go c.readLoop()
	return c, nil
}

// SendDraw transmits one local event.
func (c *Client) SendDraw(ev protocol.Event) error {
	data, err := protocol.NewClientMessage(protocol.TypeDraw, struct {
		Event protocol.Event `json:"event"`
	}{ev})
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	c.sentAt = append(c.sentAt, time.Now())
	c.writeMu.Unlock()
	if err := c.send(data); err != nil {
		c.writeMu.Lock()
		c.sentAt = c.sentAt[:len(c.sentAt)-1]
		c.writeMu.Unlock()
		return err
	}
	return nil
}

// SendClear asks the server to clear the board.
func (c *Client) SendClear() error {
	data, err := protocol.NewClientMessage(protocol.TypeClear, protocol.ClearMsg{})
	if err != nil {
		return err
	}
	return c.send(data)
}

// Ping sends an application-level ping; the server answers with pong.
func (c *Client) Ping() error {
	data, err := protocol.NewClientMessage(protocol.TypePing, protocol.PingMsg{})
	if err != nil {
		return err
	}
	return c.send(data)
}

func (c *Client) send(data []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	c.writeMu.Lock()
	err := wsutil.WriteClientMessage(c.conn, ws.OpText, data)
	c.writeMu.Unlock()

	c.mu.Lock()
	if err != nil {
		c.metrics.Errors++
	} else {
		c.metrics.MessagesSent++
	}
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("client: write: %w", err)
	}
	return nil
}

// Synced is closed once the initial history has been applied.
func (c *Client) Synced() <-chan struct{} {
	return c.synced
}

// WaitSynced blocks until the initial history has been applied, the
// connection ends or ctx is done.
func (c *Client) WaitSynced(ctx context.Context) error {
	select {
	case <-c.synced:
		return nil
	case <-c.done:
		if err := c.Err(); err != nil {
			return fmt.Errorf("client: connection lost before history arrived: %w", err)
		}
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when the connection has ended.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns why the read loop stopped, or nil after a local Close.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// SessionID returns the id the server assigned, or "" before history.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// State returns the attached board state.
func (c *Client) State() *canvas.State {
	return c.state
}

// GetMetrics returns a copy of the client's metrics.
func (c *Client) GetMetrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.metrics
	m.AckLatencies = append([]time.Duration(nil), c.metrics.AckLatencies...)
	return m
}

// Close sends a close frame, closes the connection and waits for the
// read loop to finish. It is safe to call multiple times.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closing)
		c.writeMu.Lock()
		_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = ws.WriteFrame(c.conn, ws.MaskFrame(ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusNormalClosure, ""))))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	<-c.done
	return err
}

// readLoop applies server messages to the state until the connection
// ends. Pending local events are dropped on exit since nothing will
// acknowledge them.
func (c *Client) readLoop() {
	defer close(c.done)

	rd := &wsutil.Reader{
		Source:         c.src,
		State:          ws.StateClientSide,
		CheckUTF8:      true,
		OnIntermediate: c.handleControl,
	}

	for {
		data, err := c.readMessage(rd)
		if err != nil {
			select {
			case <-c.closing:
				// Closed locally; not an error.
			default:
				c.mu.Lock()
				c.err = err
				c.metrics.Errors++
				c.mu.Unlock()
			}
			if n := c.state.DropPending(); n > 0 {
				log.Printf("client: connection lost with %d pending events", n)
			}
			return
		}
		c.handle(data)
	}
}

func (c *Client) readMessage(rd *wsutil.Reader) ([]byte, error) {
	for {
		hdr, err := rd.NextFrame()
		if err != nil {
			return nil, err
		}
		if hdr.OpCode.IsControl() {
			if err := c.handleControl(hdr, rd); err != nil {
				return nil, err
			}
			continue
		}
		if hdr.OpCode&ws.OpText == 0 {
			if err := rd.Discard(); err != nil {
				return nil, err
			}
			continue
		}
		return io.ReadAll(rd)
	}
}

// handle applies one server message.
func (c *Client) handle(data []byte) {
	c.mu.Lock()
	c.metrics.MessagesReceived++
	c.mu.Unlock()

	msgType, msg, err := protocol.ParseServerMessage(data)
	if err != nil {
		log.Printf("client: bad server message: %v", err)
		return
	}

	switch m := msg.(type) {
	case protocol.HistoryMsg:
		c.state.OnSnapshot(m.Events)
		c.mu.Lock()
		if c.sessionID == "" {
			c.sessionID = m.SessionID
			c.metrics.HistoryLatency = time.Since(c.start)
		}
		c.mu.Unlock()
		c.syncOnce.Do(func() { close(c.synced) })

	case protocol.EventMsg:
		c.state.OnRemoteEvent(m.Event)

	case protocol.ClearMsg:
		c.state.OnClear()

	case protocol.AckMsg:
		c.settle(false)
		if err := c.state.OnAck(m.Seq); err != nil {
			log.Printf("client: %v", err)
		}

	case protocol.RejectMsg:
		if m.Op == protocol.TypeDraw {
			c.settle(true)
		}
		if err := c.state.OnReject(m.Op); err != nil {
			log.Printf("client: %v", err)
		}
		log.Printf("client: %s rejected code=%s: %s", m.Op, m.Code, m.Message)

	case protocol.ErrorMsg:
		log.Printf("client: server error code=%s: %s", m.Code, m.Message)
	}

	if c.handler != nil {
		c.handler(msgType, msg)
	}
}

// settle matches an ack or draw reject with the oldest send time.
func (c *Client) settle(rejected bool) {
	c.writeMu.Lock()
	var sent time.Time
	if len(c.sentAt) > 0 {
		sent = c.sentAt[0]
		c.sentAt = c.sentAt[1:]
	}
	c.writeMu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if rejected {
		c.metrics.Rejected++
		return
	}
	if !sent.IsZero() {
		c.metrics.AckLatencies = append(c.metrics.AckLatencies, time.Since(sent))
	}
}

// handleControl answers pings and close frames. Replies share the write
// mutex with data frames.
func (c *Client) handleControl(h ws.Header, r io.Reader) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.ControlHandler{
		Src:   r,
		Dst:   c.conn,
		State: ws.StateClientSide,
	}.Handle(h)
}
