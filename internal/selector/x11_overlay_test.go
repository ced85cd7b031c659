package selector

import (
	"image"
	"testing"

	"github.com/BurntSushi/xgb/xproto"
	"github.com/bryanchriswhite/RegionPiP/internal/geometry"
)

func TestEventHandlerDragAtScale(t *testing.T) {
	sel := New()
	h := newEventHandler(sel, 2, nil)

	h.dispatch(xproto.ButtonPressEvent{Detail: xproto.ButtonIndex1, EventX: 200, EventY: 200})
	h.dispatch(xproto.MotionNotifyEvent{EventX: 600, EventY: 500})
	if got := sel.Live(); got != (geometry.Rect{X: 100, Y: 100, Width: 200, Height: 150}) {
		t.Errorf("live = %v", got)
	}
	h.dispatch(xproto.ButtonReleaseEvent{Detail: xproto.ButtonIndex1, EventX: 1000, EventY: 800})

	rect, ok := sel.Result()
	if !ok {
		t.Fatalf("state = %v", sel.State())
	}
	if want := (geometry.Rect{X: 100, Y: 100, Width: 400, Height: 300}); rect != want {
		t.Errorf("rect = %v, want %v", rect, want)
	}
}

func TestEventHandlerEscapeCancels(t *testing.T) {
	sel := New()
	h := newEventHandler(sel, 1, map[xproto.Keycode]bool{9: true})

	h.dispatch(xproto.ButtonPressEvent{Detail: xproto.ButtonIndex1, EventX: 10, EventY: 10})
	h.dispatch(xproto.KeyPressEvent{Detail: 38})
	if sel.State() != Dragging {
		t.Fatalf("non-escape key changed state to %v", sel.State())
	}
	h.dispatch(xproto.KeyPressEvent{Detail: 9})
	if sel.State() != Cancelled {
		t.Errorf("state = %v, want cancelled", sel.State())
	}
}

func TestEventHandlerRightButtonCancels(t *testing.T) {
	sel := New()
	h := newEventHandler(sel, 1, nil)
	h.dispatch(xproto.ButtonPressEvent{Detail: xproto.ButtonIndex3})
	if sel.State() != Cancelled {
		t.Errorf("state = %v, want cancelled", sel.State())
	}
}

func TestEventHandlerIgnoresOtherButtons(t *testing.T) {
	sel := New()
	h := newEventHandler(sel, 1, nil)
	h.dispatch(xproto.ButtonPressEvent{Detail: xproto.ButtonIndex1, EventX: 10, EventY: 10})
	h.dispatch(xproto.ButtonReleaseEvent{Detail: xproto.ButtonIndex2, EventX: 50, EventY: 50})
	if sel.State() != Dragging {
		t.Errorf("middle button release ended the drag: %v", sel.State())
	}
}

func TestEventHandlerForwardsExpose(t *testing.T) {
	var got image.Rectangle
	h := newEventHandler(New(), 1, nil)
	h.expose = func(r image.Rectangle) { got = r }

	h.dispatch(xproto.ExposeEvent{X: 10, Y: 20, Width: 30, Height: 40})
	if want := image.Rect(10, 20, 40, 60); got != want {
		t.Errorf("expose rect = %v, want %v", got, want)
	}
}

func TestEventHandlerUnmapCancels(t *testing.T) {
	sel := New()
	h := newEventHandler(sel, 1, nil)
	h.dispatch(xproto.UnmapNotifyEvent{})
	if sel.State() != Cancelled {
		t.Errorf("state = %v, want cancelled", sel.State())
	}
}
