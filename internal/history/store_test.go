package history

import (
	"fmt"
	"sync"
	"testing"

	"github.com/inkboard/board-app/internal/protocol"
)

func seg(x float64) protocol.Segment {
	return protocol.Segment{X0: x, Y0: x, X1: x + 1, Y1: x + 1, Color: "red", Width: 2}
}

func TestAppendAndSnapshot(t *testing.T) {
	s := NewStore()

	s.Append(seg(1))
	s.Append(protocol.Text{Content: "hi", X: 5, Y: 5, Color: "red", FontSize: 2, FontFamily: "Inter"})
	s.Append(seg(3))

	events := s.Snapshot()
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].(protocol.Segment).X0 != 1 {
		t.Errorf("expected first event at x0=1, got %+v", events[0])
	}
	if events[1].Kind() != protocol.KindText {
		t.Errorf("expected second event to be text, got %s", events[1].Kind())
	}
	if events[2].(protocol.Segment).X0 != 3 {
		t.Errorf("expected third event at x0=3, got %+v", events[2])
	}
	for i, ev := range events {
		if ev.Sequence() != uint64(i+1) {
			t.Errorf("index %d: expected seq %d, got %d", i, i+1, ev.Sequence())
		}
	}
}

func TestAppendReturnsStampedEvent(t *testing.T) {
	s := NewStore()
	s.Append(seg(0))
	got := s.Append(seg(1))
	if got.Sequence() != 2 {
		t.Errorf("expected seq 2, got %d", got.Sequence())
	}
	if s.LastSeq() != 2 {
		t.Errorf("expected LastSeq 2, got %d", s.LastSeq())
	}
}

func TestSnapshotEmptyIsNonNil(t *testing.T) {
	s := NewStore()
	events := s.Snapshot()
	if events == nil {
		t.Fatal("expected non-nil empty slice, got nil")
	}
	if len(events) != 0 {
		t.Fatalf("expected 0 events, got %d", len(events))
	}
}

func TestSnapshotIsolatedFromLaterWrites(t *testing.T) {
	s := NewStore()
	s.Append(seg(1))

	snap := s.Snapshot()
	s.Append(seg(2))
	s.Clear()

	if len(snap) != 1 {
		t.Fatalf("snapshot changed after writes: %d events", len(snap))
	}
	if snap[0].(protocol.Segment).X0 != 1 {
		t.Errorf("snapshot content changed: %+v", snap[0])
	}
}

func TestClear(t *testing.T) {
	s := NewStore()
	s.Append(seg(1))
	s.Append(seg(2))

	if n := s.Clear(); n != 2 {
		t.Errorf("expected Clear to report 2 events, got %d", n)
	}
	if s.Len() != 0 {
		t.Fatalf("expected 0 events after clear, got %d", s.Len())
	}

	// Sequence numbers continue after a clear.
	ev := s.Append(seg(3))
	if ev.Sequence() != 3 {
		t.Errorf("expected seq 3 after clear, got %d", ev.Sequence())
	}
}

func TestClearEmpty(t *testing.T) {
	s := NewStore()
	// Should not panic.
	if n := s.Clear(); n != 0 {
		t.Errorf("expected 0, got %d", n)
	}
}

func TestConcurrentAppend(t *testing.T) {
	s := NewStore()
	goroutines := 50
	perGoroutine := 40

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func(id int) {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				s.Append(protocol.Text{Content: fmt.Sprintf("g%d-%d", id, i)})
				_ = s.Snapshot()
			}
		}(g)
	}
	wg.Wait()

	events := s.Snapshot()
	if len(events) != goroutines*perGoroutine {
		t.Fatalf("expected %d events, got %d", goroutines*perGoroutine, len(events))
	}
	// Sequence numbers must match log order with no gaps.
	for i, ev := range events {
		if ev.Sequence() != uint64(i+1) {
			t.Fatalf("index %d: expected seq %d, got %d", i, i+1, ev.Sequence())
		}
	}
}

// Every snapshot taken while appends and clears race must be a run of
// consecutive sequence numbers: a clear never leaves half a log.
func TestConcurrentClearAtomicity(t *testing.T) {
	s := NewStore()
	done := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 2000; i++ {
			s.Append(seg(float64(i)))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			s.Clear()
		}
	}()
	go func() {
		wg.Wait()
		close(done)
	}()

	for {
		snap := s.Snapshot()
		for i := 1; i < len(snap); i++ {
			if snap[i].Sequence() != snap[i-1].Sequence()+1 {
				t.Fatalf("non-contiguous snapshot at %d: %d then %d", i, snap[i-1].Sequence(), snap[i].Sequence())
			}
		}
		select {
		case <-done:
			return
		default:
		}
	}
}
