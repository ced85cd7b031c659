// Package frame holds the hand-off point between the capture producer and
// the PiP compositor.
//
// A Cell is a single-slot mailbox: Put overwrites whatever the consumer has
// not taken yet (drop-oldest) and never blocks. The consumer is woken through
// a coalescing notification channel and always sees the newest frame.
package frame

import (
	"image"
	"sync"
	"sync/atomic"
	"time"
)

// Frame is one captured image. It MUST NOT be modified after Put; the cell,
// the compositor and the surface share it by reference.
type Frame struct {
	Image      *image.RGBA
	Seq        uint64
	Generation uint64
	Timestamp  time.Time
}

// Stats are lifetime counters for a cell
type Stats struct {
	Published uint64 `json:"published"`
	Dropped   uint64 `json:"dropped"`
	Stale     uint64 `json:"stale"`
}

// Cell is a single-slot, overwrite-on-write frame holder
type Cell struct {
	mu         sync.Mutex
	frame      *Frame // nil = consumed
	generation uint64
	closed     bool

	ready chan struct{}

	published atomic.Uint64
	dropped   atomic.Uint64
	stale     atomic.Uint64
}

// NewCell creates an empty cell accepting generation 0
func NewCell() *Cell {
	return &Cell{
		ready: make(chan struct{}, 1),
	}
}

// Put stores f, replacing any unconsumed frame. Frames from a generation
// other than the cell's current one are discarded. Returns true if f was
// stored.
func (c *Cell) Put(f *Frame) bool {
	c.mu.Lock()
	if c.closed || f == nil || f.Generation != c.generation {
		c.mu.Unlock()
		c.stale.Add(1)
		return false
	}
	if c.frame != nil {
		c.dropped.Add(1)
	}
	c.frame = f
	c.mu.Unlock()

	c.published.Add(1)

	// Coalesce: one pending notification is enough for any number of frames
	select {
	case c.ready <- struct{}{}:
	default:
	}
	return true
}

// Take removes and returns the held frame, or nil if none
func (c *Cell) Take() *Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	f := c.frame
	c.frame = nil
	return f
}

// Ready is signalled after a successful Put. A signal may be spurious (the
// frame was already taken or reset); consumers must tolerate Take returning
// nil.
func (c *Cell) Ready() <-chan struct{} {
	return c.ready
}

// Reset drops the held frame and switches the cell to a new generation.
// In-flight Puts stamped with an older generation are rejected afterwards.
func (c *Cell) Reset(generation uint64) {
	c.mu.Lock()
	c.frame = nil
	c.generation = generation
	c.mu.Unlock()
}

// Generation returns the generation currently accepted
func (c *Cell) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// Close rejects all further Puts and drops the held frame. Idempotent.
func (c *Cell) Close() {
	c.mu.Lock()
	c.closed = true
	c.frame = nil
	c.mu.Unlock()
}

// Stats returns the cell's counters
func (c *Cell) Stats() Stats {
	return Stats{
		Published: c.published.Load(),
		Dropped:   c.dropped.Load(),
		Stale:     c.stale.Load(),
	}
}
