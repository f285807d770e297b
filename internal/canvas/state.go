package canvas

import (
	"errors"
	"fmt"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/inkboard/board-app/internal/protocol"
)

// ErrEmptyText is returned by PlaceText when there is nothing to place.
var ErrEmptyText = errors.New("canvas: empty text")

// Transmitter sends local operations to the server. client.Client
// satisfies it.
type Transmitter interface {
	SendDraw(ev protocol.Event) error
	SendClear() error
}

// pendingEvent is a local event that was sent but not yet acknowledged.
type pendingEvent struct {
	ev        protocol.Event
	discarded bool // wiped by a local clear before its ack arrived
}

// State is one client's view of the board: a mirror of the server
// history plus the local view transform.
//
// The server acknowledges a client's own draws instead of echoing them,
// so the mirror has two parts. confirmed holds events in server order.
// pending holds events this client sent that have not been acknowledged
// yet; acks arrive in send order, and each one moves the oldest pending
// event into confirmed at exactly the position the server gave it.
type State struct {
	mu        sync.Mutex
	confirmed []protocol.Event
	pending   []pendingEvent
	seen      mapset.Set[uint64]
	view      View
	renderer  Renderer
	tx        Transmitter
}

// NewState creates an empty State that paints onto r. A nil r disables
// painting.
func NewState(r Renderer) *State {
	if r == nil {
		r = nopRenderer{}
	}
	return &State{
		confirmed: make([]protocol.Event, 0, 256),
		seen:      mapset.NewThreadUnsafeSet[uint64](),
		renderer:  r,
	}
}

// Attach sets the transmitter used for local input. Without one, local
// events go straight into the confirmed mirror.
func (s *State) Attach(tx Transmitter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tx = tx
}

// ---------------------------------------------------------------------------
// Server-driven updates
// ---------------------------------------------------------------------------

// OnSnapshot replaces the confirmed mirror with the server's history.
func (s *State) OnSnapshot(events []protocol.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.confirmed = make([]protocol.Event, 0, len(events)+256)
	s.seen.Clear()
	for _, ev := range events {
		s.confirmed = append(s.confirmed, ev)
		if seq := ev.Sequence(); seq != 0 {
			s.seen.Add(seq)
		}
	}
	s.redrawLocked()
}

// OnRemoteEvent appends an event another client drew. Events whose
// sequence number is already mirrored are ignored.
func (s *State) OnRemoteEvent(ev protocol.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if seq := ev.Sequence(); seq != 0 {
		if s.seen.Contains(seq) {
			return
		}
		s.seen.Add(seq)
	}
	s.confirmed = append(s.confirmed, ev)
	s.redrawLocked()
}

// OnClear empties the confirmed mirror. Pending events stay: the server
// appended them after the clear, and their acks are still on the way.
func (s *State) OnClear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.confirmed = make([]protocol.Event, 0, 256)
	s.seen.Clear()
	s.redrawLocked()
}

// OnAck confirms the oldest pending event under the given sequence
// number.
func (s *State) OnAck(seq uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) == 0 {
		return fmt.Errorf("canvas: ack %d with nothing pending", seq)
	}
	p := s.pending[0]
	s.pending = s.pending[1:]
	if p.discarded {
		return nil
	}
	s.confirmed = append(s.confirmed, protocol.WithSeq(p.ev, seq))
	s.seen.Add(seq)
	// Render order may have changed if remote events arrived meanwhile.
	s.redrawLocked()
	return nil
}

// OnReject handles a refused operation. A refused draw drops the oldest
// pending event. A refused clear needs nothing here: the server follows
// it with a fresh snapshot.
func (s *State) OnReject(op string) error {
	if op != protocol.TypeDraw {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) == 0 {
		return fmt.Errorf("canvas: draw rejected with nothing pending")
	}
	s.pending = s.pending[1:]
	s.redrawLocked()
	return nil
}

// DropPending forgets every unacknowledged event. Called when the
// connection that would have acknowledged them is gone.
func (s *State) DropPending() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.pending)
	s.pending = nil
	if n > 0 {
		s.redrawLocked()
	}
	return n
}

// ---------------------------------------------------------------------------
// Local input
// ---------------------------------------------------------------------------

// DrawLine draws a segment between two screen points.
func (s *State) DrawLine(from, to Point, color string, width float64) (protocol.Segment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, b := s.view.ToWorld(from), s.view.ToWorld(to)
	seg := protocol.Segment{
		X0: a.X, Y0: a.Y,
		X1: b.X, Y1: b.Y,
		Color: color,
		Width: width,
	}
	return seg, s.submitLocked(seg)
}

// Erase paints over a stretch of the board with the background color.
// The result is an ordinary segment in history.
func (s *State) Erase(from, to Point, width float64) (protocol.Segment, error) {
	return s.DrawLine(from, to, BackgroundColor, width)
}

// PlaceText places text whose top-left corner is at the given screen
// point. The stored position is the world-space baseline, one font
// height below the corner.
func (s *State) PlaceText(at Point, content, color string, size float64, font string) (protocol.Text, error) {
	if content == "" {
		return protocol.Text{}, ErrEmptyText
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.view.ToWorld(Point{X: at.X, Y: at.Y + size*protocol.FontScale})
	txt := protocol.Text{
		Content:    content,
		X:          w.X,
		Y:          w.Y,
		Color:      color,
		FontSize:   size,
		FontFamily: font,
	}
	return txt, s.submitLocked(txt)
}

// submitLocked paints ev, transmits it and records it. An event only
// becomes pending once it was sent; acks are matched against the pending
// order, and the lock keeps any ack for ev from being applied before it
// is recorded. A failed send is unpainted again.
func (s *State) submitLocked(ev protocol.Event) error {
	paint(s.renderer, ev)

	if s.tx == nil {
		s.confirmed = append(s.confirmed, ev)
		return nil
	}
	if err := s.tx.SendDraw(ev); err != nil {
		s.redrawLocked()
		return fmt.Errorf("canvas: send draw: %w", err)
	}
	s.pending = append(s.pending, pendingEvent{ev: ev})
	return nil
}

// Clear wipes the board locally, then asks the server to clear it for
// everyone.
func (s *State) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.confirmed = make([]protocol.Event, 0, 256)
	s.seen.Clear()
	for i := range s.pending {
		s.pending[i].discarded = true
	}
	s.redrawLocked()

	if s.tx == nil {
		return nil
	}
	if err := s.tx.SendClear(); err != nil {
		return fmt.Errorf("canvas: send clear: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// View
// ---------------------------------------------------------------------------

// Pan moves the view by one drag sample and redraws. Nothing is sent.
func (s *State) Pan(dx, dy float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.view = s.view.Pan(dx, dy)
	s.redrawLocked()
}

// View returns the current view transform.
func (s *State) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}

// Redraw repaints the whole mirror.
func (s *State) Redraw() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.redrawLocked()
}

func (s *State) redrawLocked() {
	Replay(s.renderer, s.view, s.renderedLocked())
}

// ---------------------------------------------------------------------------
// Inspection
// ---------------------------------------------------------------------------

// Events returns the mirror as rendered: confirmed events followed by
// live pending ones.
func (s *State) Events() []protocol.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.renderedLocked()
}

// Confirmed returns only the events whose position in the server history
// is known. Once nothing is pending it equals the server history.
func (s *State) Confirmed() []protocol.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]protocol.Event, len(s.confirmed))
	copy(out, s.confirmed)
	return out
}

// PendingLen returns the number of unacknowledged local events.
func (s *State) PendingLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *State) renderedLocked() []protocol.Event {
	out := make([]protocol.Event, 0, len(s.confirmed)+len(s.pending))
	out = append(out, s.confirmed...)
	for _, p := range s.pending {
		if !p.discarded {
			out = append(out, p.ev)
		}
	}
	return out
}
