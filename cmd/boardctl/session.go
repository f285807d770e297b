package main

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/inkboard/board-app/internal/canvas"
	"github.com/inkboard/board-app/internal/client"
	"github.com/inkboard/board-app/internal/protocol"
)

// session is one synced connection used by a single command.
type session struct {
	c  *client.Client
	st *canvas.State

	mu      sync.Mutex
	rejects []protocol.RejectMsg
}

// openSession dials the board and waits for its history. handler, when
// set, sees every server message.
func openSession(ctx context.Context, handler client.Handler) (*session, error) {
	s := &session{st: canvas.NewState(nil)}

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c, err := client.Dial(dialCtx, boardURL, s.st, client.WithHandler(func(msgType string, msg interface{}) {
		if r, ok := msg.(protocol.RejectMsg); ok {
			s.mu.Lock()
			s.rejects = append(s.rejects, r)
			s.mu.Unlock()
		}
		if handler != nil {
			handler(msgType, msg)
		}
	}))
	if err != nil {
		return nil, err
	}
	if err := c.WaitSynced(dialCtx); err != nil {
		c.Close()
		return nil, err
	}
	s.c = c
	return s, nil
}

// settle waits until every local event has been acknowledged or
// rejected. A reject is reported as an error.
func (s *session) settle(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for s.st.PendingLen() > 0 {
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for acknowledgement: %w", ctx.Err())
		case <-s.c.Done():
			return fmt.Errorf("connection lost: %w", s.c.Err())
		case <-ticker.C:
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.rejects) > 0 {
		r := s.rejects[0]
		return fmt.Errorf("server rejected %s: %s (%s)", r.Op, r.Message, r.Code)
	}
	return nil
}

func (s *session) Close() {
	s.c.Close()
}

// describe renders one event on a single line.
func describe(ev protocol.Event) string {
	switch e := ev.(type) {
	case protocol.Segment:
		kind := "segment"
		if strings.EqualFold(e.Color, canvas.BackgroundColor) {
			kind = "erase"
		}
		return fmt.Sprintf("#%d %s (%g,%g)->(%g,%g) color=%s width=%g",
			e.Seq, kind, e.X0, e.Y0, e.X1, e.Y1, e.Color, e.Width)
	case protocol.Text:
		return fmt.Sprintf("#%d text %q at (%g,%g) color=%s size=%g font=%s",
			e.Seq, e.Content, e.X, e.Y, e.Color, e.FontSize, e.FontFamily)
	default:
		return fmt.Sprintf("%T", ev)
	}
}
