package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidEvent is returned for any draw payload that is not a
// well-formed segment or text event. Callers match it with errors.Is.
var ErrInvalidEvent = errors.New("protocol: invalid event")

// Kind is the tag that discriminates the Event variants on the wire.
type Kind string

const (
	KindSegment Kind = "segment"
	KindText    Kind = "text"
)

// FontScale converts a text event's FontSize unit into pixels.
const FontScale = 10

// Event is one entry of the board history. It is implemented only by
// Segment and Text; code that consumes events should switch on the
// concrete type and treat anything else as a programming error.
type Event interface {
	Kind() Kind
	// Sequence is the number the server assigned when the event was
	// appended to history, or zero for events that have not been
	// accepted yet.
	Sequence() uint64
	isEvent()
}

// Segment is one straight line in world coordinates.
type Segment struct {
	Seq   uint64  `json:"seq,omitempty"`
	X0    float64 `json:"x0"`
	Y0    float64 `json:"y0"`
	X1    float64 `json:"x1"`
	Y1    float64 `json:"y1"`
	Color string  `json:"color"`
	Width float64 `json:"width"`
}

// Text is a piece of text anchored at its baseline in world coordinates.
type Text struct {
	Seq        uint64  `json:"seq,omitempty"`
	Content    string  `json:"content"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Color      string  `json:"color"`
	FontSize   float64 `json:"fontSizeUnit"`
	FontFamily string  `json:"fontFamily"`
}

func (Segment) Kind() Kind         { return KindSegment }
func (s Segment) Sequence() uint64 { return s.Seq }
func (Segment) isEvent()           {}

func (Text) Kind() Kind         { return KindText }
func (t Text) Sequence() uint64 { return t.Seq }
func (Text) isEvent()           {}

// PixelSize returns the rendered font size in pixels.
func (t Text) PixelSize() float64 {
	return t.FontSize * FontScale
}

// MarshalJSON emits the segment with its kind tag.
func (s Segment) MarshalJSON() ([]byte, error) {
	type plain Segment
	return json.Marshal(struct {
		Kind Kind `json:"kind"`
		plain
	}{KindSegment, plain(s)})
}

// MarshalJSON emits the text event with its kind tag.
func (t Text) MarshalJSON() ([]byte, error) {
	type plain Text
	return json.Marshal(struct {
		Kind Kind `json:"kind"`
		plain
	}{KindText, plain(t)})
}

// WithSeq returns a copy of ev stamped with seq.
func WithSeq(ev Event, seq uint64) Event {
	switch e := ev.(type) {
	case Segment:
		e.Seq = seq
		return e
	case Text:
		e.Seq = seq
		return e
	default:
		panic(fmt.Sprintf("protocol: unknown event type %T", ev))
	}
}

// wireEvent mirrors the union of both variants with pointer fields so
// that absent fields can be told apart from zero values.
type wireEvent struct {
	Kind       *string  `json:"kind"`
	Seq        uint64   `json:"seq"`
	X0         *float64 `json:"x0"`
	Y0         *float64 `json:"y0"`
	X1         *float64 `json:"x1"`
	Y1         *float64 `json:"y1"`
	Width      *float64 `json:"width"`
	Content    *string  `json:"content"`
	X          *float64 `json:"x"`
	Y          *float64 `json:"y"`
	FontSize   *float64 `json:"fontSizeUnit"`
	FontFamily *string  `json:"fontFamily"`
	Color      *string  `json:"color"`
}

// DecodeEvent parses a single event. Unknown kinds, missing fields and
// wrongly typed fields are all reported as ErrInvalidEvent.
func DecodeEvent(data []byte) (Event, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return nil, fmt.Errorf("%w: payload is not an object", ErrInvalidEvent)
	}

	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if w.Kind == nil {
		return nil, fmt.Errorf("%w: missing kind", ErrInvalidEvent)
	}

	switch Kind(*w.Kind) {
	case KindSegment:
		if missing := firstMissing(map[string]bool{
			"x0":    w.X0 != nil,
			"y0":    w.Y0 != nil,
			"x1":    w.X1 != nil,
			"y1":    w.Y1 != nil,
			"color": w.Color != nil,
			"width": w.Width != nil,
		}); missing != "" {
			return nil, fmt.Errorf("%w: segment missing %q", ErrInvalidEvent, missing)
		}
		return Segment{
			Seq:   w.Seq,
			X0:    *w.X0,
			Y0:    *w.Y0,
			X1:    *w.X1,
			Y1:    *w.Y1,
			Color: *w.Color,
			Width: *w.Width,
		}, nil

	case KindText:
		if missing := firstMissing(map[string]bool{
			"content":      w.Content != nil,
			"x":            w.X != nil,
			"y":            w.Y != nil,
			"color":        w.Color != nil,
			"fontSizeUnit": w.FontSize != nil,
			"fontFamily":   w.FontFamily != nil,
		}); missing != "" {
			return nil, fmt.Errorf("%w: text missing %q", ErrInvalidEvent, missing)
		}
		return Text{
			Seq:        w.Seq,
			Content:    *w.Content,
			X:          *w.X,
			Y:          *w.Y,
			Color:      *w.Color,
			FontSize:   *w.FontSize,
			FontFamily: *w.FontFamily,
		}, nil

	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidEvent, *w.Kind)
	}
}

// DecodeEvents parses a list of raw events, failing on the first
// invalid one.
func DecodeEvents(raw []json.RawMessage) ([]Event, error) {
	events := make([]Event, 0, len(raw))
	for i, r := range raw {
		ev, err := DecodeEvent(r)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
		events = append(events, ev)
	}
	return events, nil
}

// firstMissing returns the alphabetically first field whose presence
// flag is false, so error messages are stable.
func firstMissing(present map[string]bool) string {
	missing := ""
	for name, ok := range present {
		if !ok && (missing == "" || name < missing) {
			missing = name
		}
	}
	return missing
}
