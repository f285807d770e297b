package board

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/inkboard/board-app/internal/history"
	"github.com/inkboard/board-app/internal/protocol"
)

// fakeConn records every message written to it.
type fakeConn struct {
	mu      sync.Mutex
	msgs    [][]byte
	closed  bool
	failErr error
	block   chan struct{} // when non-nil, writes stall and then fail
}

func (c *fakeConn) WriteMessage(data []byte) error {
	if c.block != nil {
		select {
		case <-c.block:
		case <-time.After(200 * time.Millisecond):
		}
		return errors.New("write timeout")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failErr != nil {
		return c.failErr
	}
	c.msgs = append(c.msgs, data)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed && c.block != nil {
		close(c.block)
	}
	c.closed = true
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type serverMsg struct {
	typ string
	msg interface{}
}

func (c *fakeConn) received(t *testing.T) []serverMsg {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]serverMsg, 0, len(c.msgs))
	for _, data := range c.msgs {
		typ, msg, err := protocol.ParseServerMessage(data)
		if err != nil {
			t.Fatalf("server sent unparseable message %s: %v", data, err)
		}
		out = append(out, serverMsg{typ, msg})
	}
	return out
}

func (c *fakeConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func segJSON(x0, y0, x1, y1 float64) []byte {
	return []byte(fmt.Sprintf(`{"kind":"segment","x0":%g,"y0":%g,"x1":%g,"y1":%g,"color":"red","width":2}`, x0, y0, x1, y1))
}

func newTestHub(queueSize int) *Hub {
	return NewHub(history.NewStore(), Config{QueueSize: queueSize})
}

func join(t *testing.T, h *Hub, id string) *fakeConn {
	t.Helper()
	conn := &fakeConn{}
	if _, err := h.Join(id, conn); err != nil {
		t.Fatalf("join %s: %v", id, err)
	}
	return conn
}

func TestJoinSendsHistoryFirst(t *testing.T) {
	h := newTestHub(16)
	defer h.Close()

	a := join(t, h, "a")
	waitFor(t, "history", func() bool { return a.count() == 1 })

	msgs := a.received(t)
	if msgs[0].typ != protocol.TypeHistory {
		t.Fatalf("expected history first, got %s", msgs[0].typ)
	}
	hist := msgs[0].msg.(protocol.HistoryMsg)
	if hist.SessionID != "a" {
		t.Errorf("expected session id a, got %q", hist.SessionID)
	}
	if len(hist.Events) != 0 {
		t.Errorf("expected empty history, got %d events", len(hist.Events))
	}
}

func TestJoinDuplicateRejected(t *testing.T) {
	h := newTestHub(16)
	defer h.Close()

	join(t, h, "a")
	_, err := h.Join("a", &fakeConn{})
	if !errors.Is(err, ErrDuplicateSession) {
		t.Fatalf("expected ErrDuplicateSession, got %v", err)
	}
	if h.Count() != 1 {
		t.Errorf("expected 1 session, got %d", h.Count())
	}
}

func TestSessionStateLifecycle(t *testing.T) {
	h := newTestHub(16)
	defer h.Close()

	s, err := h.Join("a", &fakeConn{})
	if err != nil {
		t.Fatal(err)
	}
	if s.State() != StateActive {
		t.Errorf("expected active after join, got %s", s.State())
	}
	h.Leave("a")
	if s.State() != StateDisconnected {
		t.Errorf("expected disconnected after leave, got %s", s.State())
	}
}

func TestDrawFansOutToOthersAndAcksSender(t *testing.T) {
	h := newTestHub(16)
	defer h.Close()

	x := join(t, h, "x")
	y := join(t, h, "y")

	ev, err := h.Draw("x", segJSON(0, 0, 10, 10))
	if err != nil {
		t.Fatalf("draw: %v", err)
	}
	if ev.Sequence() != 1 {
		t.Errorf("expected seq 1, got %d", ev.Sequence())
	}

	waitFor(t, "x ack", func() bool { return x.count() == 2 })
	waitFor(t, "y draw", func() bool { return y.count() == 2 })

	xm := x.received(t)
	if xm[1].typ != protocol.TypeAck {
		t.Fatalf("sender expected ack, got %s", xm[1].typ)
	}
	if ack := xm[1].msg.(protocol.AckMsg); ack.Seq != 1 {
		t.Errorf("expected ack seq 1, got %d", ack.Seq)
	}

	ym := y.received(t)
	if ym[1].typ != protocol.TypeDraw {
		t.Fatalf("peer expected draw, got %s", ym[1].typ)
	}
	got := ym[1].msg.(protocol.EventMsg).Event.(protocol.Segment)
	want := protocol.Segment{Seq: 1, X0: 0, Y0: 0, X1: 10, Y1: 10, Color: "red", Width: 2}
	if got != want {
		t.Errorf("expected %+v, got %+v", want, got)
	}

	if h.HistoryLen() != 1 {
		t.Errorf("expected 1 event in history, got %d", h.HistoryLen())
	}
}

func TestLateJoinerReceivesHistory(t *testing.T) {
	h := newTestHub(16)
	defer h.Close()

	join(t, h, "x")
	for i := 0; i < 3; i++ {
		if _, err := h.Draw("x", segJSON(float64(i), 0, float64(i), 1)); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := h.Draw("x", []byte(`{"kind":"text","content":"hi","x":1,"y":2,"color":"red","fontSizeUnit":2,"fontFamily":"Inter"}`)); err != nil {
		t.Fatal(err)
	}

	z := join(t, h, "z")
	waitFor(t, "history", func() bool { return z.count() == 1 })

	hist := z.received(t)[0].msg.(protocol.HistoryMsg)
	if len(hist.Events) != 4 {
		t.Fatalf("expected 4 events, got %d", len(hist.Events))
	}
	for i := 0; i < 3; i++ {
		seg := hist.Events[i].(protocol.Segment)
		if seg.X0 != float64(i) {
			t.Errorf("event %d out of order: %+v", i, seg)
		}
	}
	if txt, ok := hist.Events[3].(protocol.Text); !ok || txt.Content != "hi" {
		t.Errorf("expected text last, got %+v", hist.Events[3])
	}
}

func TestInvalidDrawRejected(t *testing.T) {
	h := newTestHub(16)
	defer h.Close()

	x := join(t, h, "x")
	y := join(t, h, "y")

	_, err := h.Draw("x", []byte(`{"kind":"circle","r":4}`))
	if !errors.Is(err, protocol.ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent, got %v", err)
	}

	waitFor(t, "reject", func() bool { return x.count() == 2 })
	rej := x.received(t)[1]
	if rej.typ != protocol.TypeReject {
		t.Fatalf("expected reject, got %s", rej.typ)
	}
	if m := rej.msg.(protocol.RejectMsg); m.Op != protocol.TypeDraw || m.Code != protocol.CodeInvalidEvent {
		t.Errorf("unexpected reject %+v", m)
	}

	// Nothing stored or broadcast; sender still connected.
	if h.HistoryLen() != 0 {
		t.Errorf("expected empty history, got %d", h.HistoryLen())
	}
	time.Sleep(20 * time.Millisecond)
	if y.count() != 1 {
		t.Errorf("peer should only have history, got %d messages", y.count())
	}
	if h.Count() != 2 {
		t.Errorf("expected sender to stay connected, sessions=%d", h.Count())
	}
}

func TestDrawUnknownSession(t *testing.T) {
	h := newTestHub(16)
	defer h.Close()

	_, err := h.Draw("ghost", segJSON(0, 0, 1, 1))
	if !errors.Is(err, ErrUnknownSession) {
		t.Fatalf("expected ErrUnknownSession, got %v", err)
	}
	if h.HistoryLen() != 0 {
		t.Errorf("expected empty history, got %d", h.HistoryLen())
	}
}

func TestClearNotifiesEveryone(t *testing.T) {
	h := newTestHub(16)
	defer h.Close()

	x := join(t, h, "x")
	y := join(t, h, "y")
	if _, err := h.Draw("x", segJSON(0, 0, 1, 1)); err != nil {
		t.Fatal(err)
	}

	if err := h.Clear("y"); err != nil {
		t.Fatalf("clear: %v", err)
	}

	waitFor(t, "x clear", func() bool { return x.count() == 3 })
	waitFor(t, "y clear", func() bool { return y.count() == 3 })
	if got := x.received(t)[2].typ; got != protocol.TypeClear {
		t.Errorf("x expected clear, got %s", got)
	}
	if got := y.received(t)[2].typ; got != protocol.TypeClear {
		t.Errorf("requester expected clear, got %s", got)
	}
	if h.HistoryLen() != 0 {
		t.Errorf("expected empty history, got %d", h.HistoryLen())
	}

	// A session joining after the clear sees an empty board.
	z := join(t, h, "z")
	waitFor(t, "z history", func() bool { return z.count() == 1 })
	if n := len(z.received(t)[0].msg.(protocol.HistoryMsg).Events); n != 0 {
		t.Errorf("expected empty history after clear, got %d", n)
	}
}

func TestRejectClearResendsHistory(t *testing.T) {
	h := newTestHub(16)
	defer h.Close()

	x := join(t, h, "x")
	if _, err := h.Draw("x", segJSON(0, 0, 1, 1)); err != nil {
		t.Fatal(err)
	}
	if err := h.Reject("x", protocol.TypeClear, protocol.CodeRateLimited, "slow down"); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "reject and history", func() bool { return x.count() == 4 })
	msgs := x.received(t)
	if msgs[2].typ != protocol.TypeReject {
		t.Fatalf("expected reject, got %s", msgs[2].typ)
	}
	if msgs[3].typ != protocol.TypeHistory {
		t.Fatalf("expected history after rejected clear, got %s", msgs[3].typ)
	}
	if n := len(msgs[3].msg.(protocol.HistoryMsg).Events); n != 1 {
		t.Errorf("expected 1 event in resent history, got %d", n)
	}
}

// Every session must observe accepted events in the same order.
func TestConcurrentDrawsSameOrderEverywhere(t *testing.T) {
	h := newTestHub(4096)
	defer h.Close()

	ids := []string{"a", "b", "c", "d"}
	conns := make(map[string]*fakeConn)
	for _, id := range ids {
		conns[id] = join(t, h, id)
	}
	watcher := join(t, h, "watcher")

	perSession := 50
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for i := 0; i < perSession; i++ {
				if _, err := h.Draw(id, segJSON(float64(i), 0, 0, 0)); err != nil {
					t.Errorf("draw %s: %v", id, err)
					return
				}
			}
		}(id)
	}
	wg.Wait()

	total := len(ids) * perSession
	waitFor(t, "watcher events", func() bool { return watcher.count() == total+1 })

	var last uint64
	for i, m := range watcher.received(t)[1:] {
		seq := m.msg.(protocol.EventMsg).Event.Sequence()
		if seq <= last {
			t.Fatalf("message %d: seq %d after %d", i, seq, last)
		}
		last = seq
	}

	for id, c := range conns {
		want := total + 1 // peers' draws and own acks, after the history
		waitFor(t, id+" messages", func() bool { return c.count() == want })
		last = 0
		for _, m := range c.received(t)[1:] {
			var seq uint64
			switch v := m.msg.(type) {
			case protocol.AckMsg:
				seq = v.Seq
			case protocol.EventMsg:
				seq = v.Event.Sequence()
			default:
				t.Fatalf("%s: unexpected %s", id, m.typ)
			}
			if seq <= last {
				t.Fatalf("%s: seq %d after %d", id, seq, last)
			}
			last = seq
		}
	}
}

func TestLeave(t *testing.T) {
	h := newTestHub(16)
	defer h.Close()

	join(t, h, "x")
	y := join(t, h, "y")
	waitFor(t, "y history", func() bool { return y.count() == 1 })
	h.Leave("y")
	h.Leave("y") // idempotent

	if h.Count() != 1 {
		t.Fatalf("expected 1 session, got %d", h.Count())
	}
	if _, err := h.Draw("x", segJSON(0, 0, 1, 1)); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)
	if y.count() != 1 {
		t.Errorf("departed session received %d messages", y.count())
	}
	if y.isClosed() {
		t.Error("Leave must not close the transport it does not own")
	}
	if _, err := h.Draw("y", segJSON(0, 0, 1, 1)); !errors.Is(err, ErrUnknownSession) {
		t.Errorf("expected ErrUnknownSession after leave, got %v", err)
	}
}

func TestWriteFailureDropsSession(t *testing.T) {
	h := newTestHub(16)
	defer h.Close()

	join(t, h, "x")
	bad := &fakeConn{failErr: errors.New("broken pipe")}
	if _, err := h.Join("bad", bad); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "drop", func() bool { return h.Count() == 1 })
	waitFor(t, "transport close", bad.isClosed)

	// The board keeps working for everyone else.
	if _, err := h.Draw("x", segJSON(0, 0, 1, 1)); err != nil {
		t.Fatalf("draw after drop: %v", err)
	}
}

func TestSlowSessionDroppedOnOverflow(t *testing.T) {
	h := newTestHub(2)
	defer h.Close()

	fast := join(t, h, "fast")
	slow := &fakeConn{block: make(chan struct{})}
	if _, err := h.Join("slow", slow); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 10; i++ {
		if _, err := h.Draw("fast", segJSON(float64(i), 0, 0, 0)); err != nil {
			t.Fatalf("draw %d: %v", i, err)
		}
		// Keep the fast session's writer ahead of its small queue.
		want := i + 2
		waitFor(t, "fast ack", func() bool { return fast.count() == want })
	}

	waitFor(t, "slow dropped", func() bool { return h.Count() == 1 })
	waitFor(t, "transport close", slow.isClosed)
	if h.HistoryLen() != 10 {
		t.Errorf("expected 10 events, got %d", h.HistoryLen())
	}
}

type recordingPublisher struct {
	mu    sync.Mutex
	types []string
}

func (p *recordingPublisher) PublishBoardEvent(msgType string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.types = append(p.types, msgType)
	return nil
}

func TestPublisherSeesAcceptedOperations(t *testing.T) {
	h := newTestHub(16)
	defer h.Close()
	pub := &recordingPublisher{}
	h.SetPublisher(pub)

	join(t, h, "x")
	h.Draw("x", segJSON(0, 0, 1, 1))
	h.Draw("x", []byte(`{"kind":"segment"}`)) // invalid, not published
	h.Clear("x")

	pub.mu.Lock()
	defer pub.mu.Unlock()
	want := []string{protocol.TypeDraw, protocol.TypeClear}
	if len(pub.types) != len(want) {
		t.Fatalf("expected %v, got %v", want, pub.types)
	}
	for i := range want {
		if pub.types[i] != want[i] {
			t.Errorf("index %d: expected %s, got %s", i, want[i], pub.types[i])
		}
	}
}

func TestJoinAfterClose(t *testing.T) {
	h := newTestHub(16)
	c := join(t, h, "x")
	h.Close()

	waitFor(t, "transport close", c.isClosed)
	if _, err := h.Join("y", &fakeConn{}); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}
