package canvas

import (
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/inkboard/board-app/internal/protocol"
)

// BackgroundColor is the board's fill color. The eraser paints with it.
const BackgroundColor = "#1e1e2e"

// Renderer paints events onto a surface. Reset clears the surface and
// installs the view transform; the event methods receive world
// coordinates and are called in history order.
type Renderer interface {
	Reset(v View)
	Segment(s protocol.Segment)
	Text(t protocol.Text)
}

// Replay redraws events onto r from scratch. Later events are painted
// over earlier ones.
func Replay(r Renderer, v View, events []protocol.Event) {
	r.Reset(v)
	for _, ev := range events {
		paint(r, ev)
	}
}

func paint(r Renderer, ev protocol.Event) {
	switch e := ev.(type) {
	case protocol.Segment:
		r.Segment(e)
	case protocol.Text:
		r.Text(e)
	default:
		panic(fmt.Sprintf("canvas: unknown event type %T", ev))
	}
}

type nopRenderer struct{}

func (nopRenderer) Reset(View)                {}
func (nopRenderer) Segment(protocol.Segment) {}
func (nopRenderer) Text(protocol.Text)       {}

// textWidthFactor approximates the advance of one glyph as a fraction of
// the font's pixel size.
const textWidthFactor = 0.6

// Bounds is the world-space rectangle covered by a set of events.
type Bounds struct {
	MinX, MinY float64
	MaxX, MaxY float64
	Empty      bool
}

// Width returns the horizontal extent.
func (b Bounds) Width() float64 { return b.MaxX - b.MinX }

// Height returns the vertical extent.
func (b Bounds) Height() float64 { return b.MaxY - b.MinY }

// boundsRenderer accumulates extents instead of painting.
type boundsRenderer struct {
	b Bounds
}

func (r *boundsRenderer) Reset(View) {
	r.b = Bounds{Empty: true}
}

func (r *boundsRenderer) Segment(s protocol.Segment) {
	half := s.Width / 2
	r.include(math.Min(s.X0, s.X1)-half, math.Min(s.Y0, s.Y1)-half)
	r.include(math.Max(s.X0, s.X1)+half, math.Max(s.Y0, s.Y1)+half)
}

func (r *boundsRenderer) Text(t protocol.Text) {
	px := t.PixelSize()
	width := float64(utf8.RuneCountInString(t.Content)) * px * textWidthFactor
	// Y is the baseline, so the glyphs extend upwards from it.
	r.include(t.X, t.Y-px)
	r.include(t.X+width, t.Y)
}

func (r *boundsRenderer) include(x, y float64) {
	if r.b.Empty {
		r.b = Bounds{MinX: x, MinY: y, MaxX: x, MaxY: y}
		return
	}
	r.b.MinX = math.Min(r.b.MinX, x)
	r.b.MinY = math.Min(r.b.MinY, y)
	r.b.MaxX = math.Max(r.b.MaxX, x)
	r.b.MaxY = math.Max(r.b.MaxY, y)
}

// Measure returns the world-space bounds of events. Segment extents
// include half the stroke width; text extents are estimated from the
// font size.
func Measure(events []protocol.Event) Bounds {
	r := &boundsRenderer{}
	Replay(r, View{}, events)
	return r.b
}
