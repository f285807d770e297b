package canvas

import (
	"testing"

	"github.com/inkboard/board-app/internal/protocol"
)

func TestViewRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		view View
		p    Point
	}{
		{"identity", View{}, Point{12, 34}},
		{"positive offset", View{OffsetX: 100, OffsetY: 50}, Point{0, 0}},
		{"negative offset", View{OffsetX: -250.5, OffsetY: -0.25}, Point{640, 480}},
		{"fractional point", View{OffsetX: 3.75, OffsetY: -8.5}, Point{1.125, 99.0625}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.view.ToScreen(tt.view.ToWorld(tt.p)); got != tt.p {
				t.Errorf("screen->world->screen: expected %+v, got %+v", tt.p, got)
			}
			if got := tt.view.ToWorld(tt.view.ToScreen(tt.p)); got != tt.p {
				t.Errorf("world->screen->world: expected %+v, got %+v", tt.p, got)
			}
		})
	}
}

func TestViewToWorld(t *testing.T) {
	v := View{OffsetX: 100, OffsetY: -20}
	got := v.ToWorld(Point{150, 30})
	want := Point{50, 50}
	if got != want {
		t.Errorf("expected %+v, got %+v", want, got)
	}
}

func TestRepeatedPanNoDrift(t *testing.T) {
	v := View{}
	p := Point{320, 240}
	w := v.ToWorld(p)

	// Drag samples as a pointer would produce them, ending where they began.
	deltas := []float64{4, -1.5, 0.25, 12, -8, 3.25}
	for i := 0; i < 100; i++ {
		for _, d := range deltas {
			v = v.Pan(d, -d)
		}
		for j := len(deltas) - 1; j >= 0; j-- {
			v = v.Pan(-deltas[j], deltas[j])
		}
	}
	if v != (View{}) {
		t.Fatalf("expected view to return to origin, got %+v", v)
	}
	if got := v.ToScreen(w); got != p {
		t.Errorf("expected %+v, got %+v", p, got)
	}
}

func TestMeasure(t *testing.T) {
	b := Measure(nil)
	if !b.Empty {
		t.Fatalf("expected empty bounds, got %+v", b)
	}

	b = Measure([]protocol.Event{
		protocol.Segment{X0: 10, Y0: 20, X1: 30, Y1: -10, Color: "red", Width: 4},
		protocol.Text{Content: "ab", X: 0, Y: 100, Color: "red", FontSize: 2, FontFamily: "Inter"},
	})
	if b.Empty {
		t.Fatal("expected non-empty bounds")
	}
	// Segment with half-width padding: x 8..32, y -12..22.
	// Text at baseline 100 with 20px glyphs: x 0..24, y 80..100.
	want := Bounds{MinX: 0, MinY: -12, MaxX: 32, MaxY: 100}
	if b != want {
		t.Errorf("expected %+v, got %+v", want, b)
	}
	if b.Width() != 32 || b.Height() != 112 {
		t.Errorf("unexpected size %vx%v", b.Width(), b.Height())
	}
}
