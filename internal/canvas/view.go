// Package canvas holds the client-side mirror of the board history, the
// per-client view transform, and the deterministic replay that renders
// one onto the other.
package canvas

// Point is a position in either screen or world coordinates; which one is
// decided by the caller.
type Point struct {
	X, Y float64
}

// View is a client's pan offset. It is never transmitted: the same world
// point lands on different screen pixels for different clients.
//
//	screen = world + offset
//	world  = screen - offset
type View struct {
	OffsetX float64
	OffsetY float64
}

// ToWorld converts a screen point to world coordinates.
func (v View) ToWorld(p Point) Point {
	return Point{X: p.X - v.OffsetX, Y: p.Y - v.OffsetY}
}

// ToScreen converts a world point to screen coordinates.
func (v View) ToScreen(p Point) Point {
	return Point{X: p.X + v.OffsetX, Y: p.Y + v.OffsetY}
}

// Pan returns the view moved by one drag sample.
func (v View) Pan(dx, dy float64) View {
	return View{OffsetX: v.OffsetX + dx, OffsetY: v.OffsetY + dy}
}
