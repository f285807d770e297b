package ws

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/inkboard/board-app/internal/protocol"
)

func startTestServer(t *testing.T, config ServerConfig, setup func(s *Server, d *MessageDispatcher)) (*Server, string) {
	t.Helper()
	d := NewMessageDispatcher()
	s, err := NewServer(config, nil, d.Dispatch)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	if setup != nil {
		setup(s, d)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		if err := s.Serve(ln); err != nil {
			t.Errorf("Serve: %v", err)
		}
	}()
	t.Cleanup(func() { s.Shutdown() })
	return s, ln.Addr().String()
}

func testConfig() ServerConfig {
	cfg := DefaultServerConfig()
	cfg.WorkerPoolSize = 8
	cfg.ReadTimeout = time.Second
	cfg.WriteTimeout = time.Second
	return cfg
}

// clientConn pairs a dialed connection with any bytes the server sent
// right after the handshake.
type clientConn struct {
	io.Reader
	net.Conn
}

func (c *clientConn) Read(p []byte) (int, error) { return c.Reader.Read(p) }

func dial(t *testing.T, addr string) *clientConn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, br, _, err := ws.Dial(ctx, "ws://"+addr+"/ws")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	var r io.Reader = conn
	if br != nil {
		r = io.MultiReader(br, conn)
	}
	return &clientConn{Reader: r, Conn: conn}
}

func send(t *testing.T, c *clientConn, data string) {
	t.Helper()
	if err := wsutil.WriteClientMessage(c.Conn, ws.OpText, []byte(data)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func recv(t *testing.T, c *clientConn) (string, interface{}) {
	t.Helper()
	_ = c.Conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	data, err := wsutil.ReadServerText(c)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	typ, msg, err := protocol.ParseServerMessage(data)
	if err != nil {
		t.Fatalf("parse %s: %v", data, err)
	}
	return typ, msg
}

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

func TestServerPingPong(t *testing.T) {
	_, addr := startTestServer(t, testConfig(), nil)
	c := dial(t, addr)

	send(t, c, `{"type":"ping"}`)
	if typ, _ := recv(t, c); typ != protocol.TypePong {
		t.Fatalf("expected pong, got %s", typ)
	}
}

func TestServerRejectsBadMessages(t *testing.T) {
	_, addr := startTestServer(t, testConfig(), nil)
	c := dial(t, addr)

	tests := []struct {
		name string
		data string
		code string
	}{
		{"not json", `hello`, protocol.CodeParseError},
		{"server-only type", `{"type":"history","events":[]}`, protocol.CodeParseError},
		{"unregistered handler", `{"type":"clear"}`, protocol.CodeUnsupportedType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			send(t, c, tt.data)
			typ, msg := recv(t, c)
			if typ != protocol.TypeError {
				t.Fatalf("expected error, got %s", typ)
			}
			if m := msg.(protocol.ErrorMsg); m.Code != tt.code {
				t.Errorf("expected code %s, got %s", tt.code, m.Code)
			}
		})
	}
}

func TestServerDispatchesToHandler(t *testing.T) {
	var (
		mu  sync.Mutex
		got []json.RawMessage
	)
	_, addr := startTestServer(t, testConfig(), func(s *Server, d *MessageDispatcher) {
		d.Register(protocol.TypeDraw, func(conn *Connection, msg interface{}) {
			mu.Lock()
			got = append(got, msg.(protocol.DrawMsg).Event)
			mu.Unlock()
		})
	})
	c := dial(t, addr)

	for i := 0; i < 20; i++ {
		send(t, c, `{"type":"draw","event":{"kind":"segment","x0":0,"y0":0,"x1":1,"y1":1,"color":"red","width":2}}`)
	}
	waitFor(t, "20 draws", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 20
	})
}

func TestOnConnectWritesBeforeFirstRead(t *testing.T) {
	_, addr := startTestServer(t, testConfig(), func(s *Server, d *MessageDispatcher) {
		s.SetOnConnect(func(conn *Connection) error {
			data, _ := protocol.NewServerMessage(protocol.TypeHistory, protocol.HistoryMsg{
				SessionID: conn.ID,
				Events:    []protocol.Event{},
			})
			return conn.WriteMessage(data)
		})
	})
	c := dial(t, addr)

	// Even a client that talks first hears the connect message first.
	send(t, c, `{"type":"ping"}`)
	typ, msg := recv(t, c)
	if typ != protocol.TypeHistory {
		t.Fatalf("expected history first, got %s", typ)
	}
	if msg.(protocol.HistoryMsg).SessionID == "" {
		t.Error("expected a session id")
	}
	if typ, _ := recv(t, c); typ != protocol.TypePong {
		t.Fatalf("expected pong second, got %s", typ)
	}
}

func TestOnConnectErrorClosesConnection(t *testing.T) {
	s, addr := startTestServer(t, testConfig(), func(s *Server, d *MessageDispatcher) {
		s.SetOnConnect(func(conn *Connection) error {
			return errors.New("board closed")
		})
	})
	c := dial(t, addr)

	_ = c.Conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := wsutil.ReadServerText(c); err == nil {
		t.Fatal("expected read error on rejected connection")
	}
	if n := s.Connections().Count(); n != 0 {
		t.Errorf("expected 0 connections, got %d", n)
	}
}

func TestDisconnectCallback(t *testing.T) {
	var (
		mu     sync.Mutex
		gone   []string
		connID string
		connMu sync.Mutex
	)
	s, addr := startTestServer(t, testConfig(), func(s *Server, d *MessageDispatcher) {
		s.SetOnConnect(func(conn *Connection) error {
			connMu.Lock()
			connID = conn.ID
			connMu.Unlock()
			return nil
		})
		s.SetOnDisconnect(func(id string) {
			mu.Lock()
			gone = append(gone, id)
			mu.Unlock()
		})
	})

	c := dial(t, addr)
	waitFor(t, "connection", func() bool { return s.Connections().Count() == 1 })
	c.Conn.Close()

	waitFor(t, "disconnect", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(gone) == 1
	})
	connMu.Lock()
	defer connMu.Unlock()
	if gone[0] != connID {
		t.Errorf("expected disconnect for %s, got %s", connID, gone[0])
	}
	if n := s.Connections().Count(); n != 0 {
		t.Errorf("expected 0 connections, got %d", n)
	}
}

func TestOversizedFrameClosesConnection(t *testing.T) {
	cfg := testConfig()
	cfg.MaxMessageSize = 128
	s, addr := startTestServer(t, cfg, nil)
	c := dial(t, addr)
	waitFor(t, "connection", func() bool { return s.Connections().Count() == 1 })

	send(t, c, `{"type":"ping","pad":"`+strings.Repeat("x", 256)+`"}`)
	waitFor(t, "eviction", func() bool { return s.Connections().Count() == 0 })
}

func TestHealthAndExtraRoutes(t *testing.T) {
	_, addr := startTestServer(t, testConfig(), func(s *Server, d *MessageDispatcher) {
		s.SetHealthInfo(func() map[string]interface{} {
			return map[string]interface{}{"history": 7}
		})
		s.Handle("/hello", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("hi"))
		}))
	})

	resp, err := http.Get("http://" + addr + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %v", body["status"])
	}
	if body["history"] != float64(7) {
		t.Errorf("expected history 7, got %v", body["history"])
	}
	if _, ok := body["uptime"]; !ok {
		t.Error("expected uptime field")
	}

	resp2, err := http.Get("http://" + addr + "/hello")
	if err != nil {
		t.Fatal(err)
	}
	defer resp2.Body.Close()
	b, _ := io.ReadAll(resp2.Body)
	if string(b) != "hi" {
		t.Errorf("expected hi, got %q", b)
	}
}

func TestHeartbeatEvictsIdleConnections(t *testing.T) {
	s, addr := startTestServer(t, testConfig(), nil)
	dial(t, addr)
	waitFor(t, "connection", func() bool { return s.Connections().Count() == 1 })

	cfg := HeartbeatConfig{Interval: time.Second, Timeout: time.Second}
	checkConnections(s, cfg, time.Now())
	if n := s.Connections().Count(); n != 1 {
		t.Fatalf("fresh connection evicted, count=%d", n)
	}

	checkConnections(s, cfg, time.Now().Add(time.Minute))
	if n := s.Connections().Count(); n != 0 {
		t.Errorf("expected idle connection to be evicted, count=%d", n)
	}
}

func TestConnectionManager(t *testing.T) {
	cm := NewConnectionManager()
	a, b := net.Pipe()
	defer b.Close()

	c := newConnection("one", a, -1, "pipe", 0)
	cm.Add(c)

	if cm.Get("one") != c {
		t.Error("Get by id failed")
	}
	if cm.GetByConn(a) != c {
		t.Error("GetByConn failed")
	}
	if cm.Count() != 1 || len(cm.All()) != 1 {
		t.Errorf("expected 1 connection, got %d", cm.Count())
	}

	if !cm.Remove("one") {
		t.Error("expected first Remove to report true")
	}
	if cm.Remove("one") {
		t.Error("expected second Remove to report false")
	}
	if cm.GetByConn(a) != nil {
		t.Error("expected connection to be gone")
	}
}
