// Package selector implements the interactive region selection: a small
// input-driven state machine plus an X11 driver that feeds it pointer and
// key events from a full-screen overlay.
package selector

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/bryanchriswhite/RegionPiP/internal/geometry"
)

// State is the selection state
type State int

const (
	Idle State = iota
	Dragging
	Done
	Cancelled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Dragging:
		return "dragging"
	case Done:
		return "done"
	case Cancelled:
		return "cancelled"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ErrBusy is returned when another selection is already in progress
var ErrBusy = errors.New("a region selection is already in progress")

// Selector is the selection state machine. It is driven from a single
// goroutine and is not safe for concurrent use.
type Selector struct {
	state   State
	anchor  geometry.Point
	current geometry.Rect
	result  geometry.Rect

	// OnRedraw receives the live rectangle after each change while dragging,
	// and an empty rect when the selection finishes
	OnRedraw func(geometry.Rect)
}

// New creates a selector in the Idle state
func New() *Selector {
	return &Selector{}
}

// State returns the current state
func (s *Selector) State() State { return s.state }

// Finished reports whether the selector reached Done or Cancelled
func (s *Selector) Finished() bool {
	return s.state == Done || s.state == Cancelled
}

// Live returns the rectangle currently being dragged
func (s *Selector) Live() geometry.Rect { return s.current }

// Result returns the finalized selection; ok is false unless state is Done
func (s *Selector) Result() (rect geometry.Rect, ok bool) {
	if s.state != Done {
		return geometry.Rect{}, false
	}
	return s.result, true
}

// PointerDown starts a drag at p
func (s *Selector) PointerDown(p geometry.Point) {
	if s.state != Idle {
		return
	}
	s.state = Dragging
	s.anchor = p
	s.current = geometry.Normalize(p, p)
	s.redraw(s.current)
}

// PointerMove updates the live rectangle
func (s *Selector) PointerMove(p geometry.Point) {
	if s.state != Dragging {
		return
	}
	s.current = geometry.Normalize(s.anchor, p)
	s.redraw(s.current)
}

// PointerUp finishes the drag. A zero-area rectangle cancels.
func (s *Selector) PointerUp(p geometry.Point) {
	if s.state != Dragging {
		return
	}
	rect := geometry.Normalize(s.anchor, p)
	if rect.IsEmpty() {
		s.state = Cancelled
	} else {
		s.state = Done
		s.result = rect
	}
	s.current = geometry.Rect{}
	s.redraw(geometry.Rect{})
}

// Cancel abandons the selection from Idle or Dragging
func (s *Selector) Cancel() {
	if s.Finished() {
		return
	}
	s.state = Cancelled
	s.current = geometry.Rect{}
	s.redraw(geometry.Rect{})
}

func (s *Selector) redraw(r geometry.Rect) {
	if s.OnRedraw != nil {
		s.OnRedraw(r)
	}
}

// active guards against two selections running at once process-wide
var active atomic.Bool

// Acquire claims the process-wide selection slot. The returned release
// function must be called exactly once when the selection ends.
func Acquire() (release func(), err error) {
	if !active.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	var once atomic.Bool
	return func() {
		if once.CompareAndSwap(false, true) {
			active.Store(false)
		}
	}, nil
}
