package controller

import (
	"sync"
	"time"

	"github.com/bryanchriswhite/RegionPiP/internal/failure"
	"github.com/bryanchriswhite/RegionPiP/internal/session"
	"github.com/bryanchriswhite/RegionPiP/internal/settings"
)

// EventType names a controller event
type EventType string

const (
	EventPhase        EventType = "phase"
	EventStarted      EventType = "started"
	EventStopped      EventType = "stopped"
	EventFailed       EventType = "failed"
	EventCancelled    EventType = "cancelled"
	EventPresentation EventType = "presentation"
	EventTarget       EventType = "target"
)

// Event is published to subscribers whenever the controller changes state
type Event struct {
	Type         EventType                   `json:"type"`
	Time         time.Time                   `json:"time"`
	Phase        Phase                       `json:"phase,omitempty"`
	Session      *session.Info               `json:"session,omitempty"`
	Kind         string                      `json:"kind,omitempty"`
	Guidance     string                      `json:"guidance,omitempty"`
	Error        string                      `json:"error,omitempty"`
	Presentation *settings.PresentationState `json:"presentation,omitempty"`
	Target       string                      `json:"target,omitempty"`
}

// failedEvent describes err with its failure kind and guidance
func failedEvent(err error) Event {
	kind := failure.KindOf(err)
	return Event{
		Type:     EventFailed,
		Kind:     kind.String(),
		Guidance: kind.Guidance(),
		Error:    err.Error(),
	}
}

// hub fans events out to subscribers without ever blocking the publisher.
// A subscriber that falls behind loses events.
type hub struct {
	mu   sync.Mutex
	next int
	subs map[int]chan Event
}

func newHub() *hub {
	return &hub{subs: make(map[int]chan Event)}
}

func (h *hub) subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = ch
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(ch)
		}
	}
}

func (h *hub) publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// closeAll ends every subscription
func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
