package selector

import (
	"errors"
	"testing"

	"github.com/bryanchriswhite/RegionPiP/internal/geometry"
)

func pt(x, y float64) geometry.Point { return geometry.Point{X: x, Y: y} }

func TestDragProducesNormalizedRect(t *testing.T) {
	s := New()
	var redraws []geometry.Rect
	s.OnRedraw = func(r geometry.Rect) { redraws = append(redraws, r) }

	// Bottom-right to top-left
	s.PointerDown(pt(500, 400))
	s.PointerMove(pt(300, 300))
	s.PointerUp(pt(100, 100))

	rect, ok := s.Result()
	if !ok || s.State() != Done {
		t.Fatalf("state = %v, ok = %v", s.State(), ok)
	}
	want := geometry.Rect{X: 100, Y: 100, Width: 400, Height: 300}
	if rect != want {
		t.Errorf("rect = %v, want %v", rect, want)
	}

	if len(redraws) != 3 {
		t.Fatalf("redraws = %d, want 3", len(redraws))
	}
	if redraws[1] != (geometry.Rect{X: 300, Y: 300, Width: 200, Height: 100}) {
		t.Errorf("live rect = %v", redraws[1])
	}
	if !redraws[2].IsEmpty() {
		t.Error("finishing should clear the live rect")
	}
}

func TestZeroAreaDragCancels(t *testing.T) {
	cases := map[string][2]geometry.Point{
		"click":       {pt(50, 50), pt(50, 50)},
		"zero width":  {pt(50, 50), pt(50, 200)},
		"zero height": {pt(50, 50), pt(200, 50)},
	}
	for name, pts := range cases {
		s := New()
		s.PointerDown(pts[0])
		s.PointerUp(pts[1])
		if s.State() != Cancelled {
			t.Errorf("%s: state = %v, want cancelled", name, s.State())
		}
		if _, ok := s.Result(); ok {
			t.Errorf("%s: emitted a rectangle", name)
		}
	}
}

func TestCancelFromIdleAndDragging(t *testing.T) {
	s := New()
	s.Cancel()
	if s.State() != Cancelled {
		t.Errorf("cancel from idle: %v", s.State())
	}

	s = New()
	s.PointerDown(pt(0, 0))
	s.PointerMove(pt(100, 100))
	s.Cancel()
	if s.State() != Cancelled || !s.Live().IsEmpty() {
		t.Errorf("cancel from dragging: state=%v live=%v", s.State(), s.Live())
	}
}

func TestTerminalStatesIgnoreInput(t *testing.T) {
	s := New()
	s.PointerDown(pt(0, 0))
	s.PointerUp(pt(10, 10))

	s.Cancel()
	s.PointerDown(pt(50, 50))
	s.PointerMove(pt(80, 80))
	s.PointerUp(pt(90, 90))

	rect, ok := s.Result()
	if !ok || rect != (geometry.Rect{Width: 10, Height: 10}) {
		t.Errorf("result changed after Done: %v %v", rect, ok)
	}

	c := New()
	c.Cancel()
	c.PointerDown(pt(0, 0))
	if c.State() != Cancelled {
		t.Errorf("cancelled selector restarted: %v", c.State())
	}
}

func TestMoveAndUpWithoutDownAreIgnored(t *testing.T) {
	s := New()
	s.PointerMove(pt(10, 10))
	s.PointerUp(pt(20, 20))
	if s.State() != Idle {
		t.Errorf("state = %v, want idle", s.State())
	}
}

func TestAcquireAllowsOneSelection(t *testing.T) {
	release, err := Acquire()
	if err != nil {
		t.Fatal(err)
	}

	if _, err := Acquire(); !errors.Is(err, ErrBusy) {
		t.Fatalf("second Acquire err = %v, want ErrBusy", err)
	}

	release()
	release()

	again, err := Acquire()
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	again()
}
