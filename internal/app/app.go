// Package app assembles a board server: the WebSocket transport, the
// session broadcaster and the optional Redis, NATS and HTTP extras.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/inkboard/board-app/internal/board"
	"github.com/inkboard/board-app/internal/export"
	"github.com/inkboard/board-app/internal/history"
	"github.com/inkboard/board-app/internal/metrics"
	"github.com/inkboard/board-app/internal/protocol"
	"github.com/inkboard/board-app/internal/ratelimit"
	"github.com/inkboard/board-app/internal/session"
	"github.com/inkboard/board-app/internal/ws"
)

// limiterTimeout bounds each Redis round trip made on the read path.
const limiterTimeout = 200 * time.Millisecond

// Config holds tunable parameters for the whole server.
type Config struct {
	Server ws.ServerConfig
	Board  board.Config
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		Server: ws.DefaultServerConfig(),
		Board:  board.DefaultConfig(),
	}
}

// Deps are the optional collaborators. Nil fields disable the feature.
type Deps struct {
	Sessions  *session.Store     // presence
	Limiter   *ratelimit.Limiter // draw, clear and connect throttling
	Publisher board.Publisher    // accepted-event feed
}

// App is one board server.
type App struct {
	server  *ws.Server
	hub     *board.Hub
	limiter *ratelimit.Limiter
}

// New wires a server around a fresh, empty board.
func New(config Config, deps Deps) (*App, error) {
	a := &App{
		hub:     board.NewHub(history.NewStore(), config.Board),
		limiter: deps.Limiter,
	}
	if deps.Publisher != nil {
		a.hub.SetPublisher(deps.Publisher)
	}

	dispatcher := ws.NewMessageDispatcher()
	dispatcher.Register(protocol.TypeDraw, a.handleDraw)
	dispatcher.Register(protocol.TypeClear, a.handleClear)

	server, err := ws.NewServer(config.Server, deps.Sessions, dispatcher.Dispatch)
	if err != nil {
		return nil, err
	}
	a.server = server

	if deps.Limiter != nil {
		server.SetLimiter(deps.Limiter)
	}
	server.SetOnConnect(func(conn *ws.Connection) error {
		_, err := a.hub.Join(conn.ID, &sessionConn{server: server, conn: conn})
		return err
	})
	server.SetOnDisconnect(a.hub.Leave)
	server.SetHealthInfo(func() map[string]interface{} {
		info := map[string]interface{}{
			"sessions": a.hub.Count(),
			"history":  a.hub.HistoryLen(),
		}
		if deps.Sessions != nil {
			ctx, cancel := context.WithTimeout(context.Background(), limiterTimeout)
			defer cancel()
			if live, err := deps.Sessions.Live(ctx); err == nil {
				info["presence"] = len(live)
			}
		}
		return info
	})
	server.Handle("/metrics", metrics.Handler())
	server.Handle("/export.pdf", export.Handler(a.hub.Snapshot))

	return a, nil
}

// Start listens on the configured address and serves until Shutdown.
func (a *App) Start() error {
	return a.server.Start()
}

// Serve serves on an existing listener until Shutdown.
func (a *App) Serve(ln net.Listener) error {
	return a.server.Serve(ln)
}

// Shutdown stops accepting connections and disconnects every session.
func (a *App) Shutdown() {
	a.hub.Close()
	_ = a.server.Shutdown()
}

// Hub returns the session broadcaster.
func (a *App) Hub() *board.Hub {
	return a.hub
}

// Server returns the WebSocket transport.
func (a *App) Server() *ws.Server {
	return a.server
}

func (a *App) handleDraw(conn *ws.Connection, msg interface{}) {
	draw, ok := msg.(protocol.DrawMsg)
	if !ok {
		return
	}
	if !a.allow(conn.ID, ratelimit.RuleDraw) {
		a.reject(conn.ID, protocol.TypeDraw, ratelimit.RuleDraw, "too many draws")
		return
	}
	if _, err := a.hub.Draw(conn.ID, draw.Event); err != nil && !errors.Is(err, protocol.ErrInvalidEvent) {
		log.Printf("board: draw session=%s: %v", conn.ID, err)
	}
}

func (a *App) handleClear(conn *ws.Connection, msg interface{}) {
	if !a.allow(conn.ID, ratelimit.RuleClear) {
		a.reject(conn.ID, protocol.TypeClear, ratelimit.RuleClear, "too many clears")
		return
	}
	if err := a.hub.Clear(conn.ID); err != nil {
		log.Printf("board: clear session=%s: %v", conn.ID, err)
	}
}

func (a *App) allow(id string, rule ratelimit.Rule) bool {
	if a.limiter == nil {
		return true
	}
	ctx, cancel := context.WithTimeout(context.Background(), limiterTimeout)
	defer cancel()
	allowed, _ := a.limiter.Allow(ctx, id, rule)
	return allowed
}

func (a *App) reject(id, op string, rule ratelimit.Rule, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), limiterTimeout)
	defer cancel()
	if wait, err := a.limiter.RetryAfter(ctx, id, rule); err == nil && wait > 0 {
		message = fmt.Sprintf("%s, retry in %s", message, wait.Round(100*time.Millisecond))
	}
	if err := a.hub.Reject(id, op, protocol.CodeRateLimited, message); err != nil {
		log.Printf("board: reject session=%s: %v", id, err)
	}
}

// sessionConn adapts a transport connection for the hub. Closing it
// evicts the connection from the server, which in turn removes the
// session from the hub.
type sessionConn struct {
	server *ws.Server
	conn   *ws.Connection
}

func (c *sessionConn) WriteMessage(data []byte) error {
	return c.conn.WriteMessage(data)
}

func (c *sessionConn) Close() error {
	c.server.RemoveConnection(c.conn)
	return nil
}
