package frame

import (
	"image"
	"sync"
	"testing"
	"time"
)

func newFrame(seq, gen uint64) *Frame {
	return &Frame{
		Image:      image.NewRGBA(image.Rect(0, 0, 2, 2)),
		Seq:        seq,
		Generation: gen,
		Timestamp:  time.Now(),
	}
}

func TestPutOverwritesUnconsumed(t *testing.T) {
	c := NewCell()

	c.Put(newFrame(1, 0))
	c.Put(newFrame(2, 0))
	c.Put(newFrame(3, 0))

	f := c.Take()
	if f == nil || f.Seq != 3 {
		t.Fatalf("Take() = %+v, want seq 3", f)
	}
	if c.Take() != nil {
		t.Fatal("second Take() should be empty")
	}

	stats := c.Stats()
	if stats.Published != 3 || stats.Dropped != 2 {
		t.Errorf("stats = %+v, want published=3 dropped=2", stats)
	}
}

func TestPutNeverBlocksWithoutConsumer(t *testing.T) {
	c := NewCell()

	done := make(chan struct{})
	go func() {
		for i := uint64(0); i < 10000; i++ {
			c.Put(newFrame(i, 0))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Put blocked with nobody consuming")
	}
}

func TestReadyCoalesces(t *testing.T) {
	c := NewCell()
	for i := uint64(0); i < 5; i++ {
		c.Put(newFrame(i, 0))
	}

	select {
	case <-c.Ready():
	default:
		t.Fatal("expected a pending notification")
	}
	select {
	case <-c.Ready():
		t.Fatal("notifications should coalesce into one")
	default:
	}
}

func TestResetRejectsStaleGeneration(t *testing.T) {
	c := NewCell()
	c.Put(newFrame(1, 0))

	c.Reset(1)
	if c.Take() != nil {
		t.Fatal("Reset must drop the held frame")
	}
	if c.Put(newFrame(2, 0)) {
		t.Fatal("frame from the previous generation was accepted")
	}
	if !c.Put(newFrame(3, 1)) {
		t.Fatal("frame from the current generation was rejected")
	}
	if got := c.Stats().Stale; got != 1 {
		t.Errorf("stale = %d, want 1", got)
	}
}

func TestCloseRejectsEverything(t *testing.T) {
	c := NewCell()
	c.Put(newFrame(1, 0))
	c.Close()
	c.Close()

	if c.Take() != nil {
		t.Fatal("Close must drop the held frame")
	}
	if c.Put(newFrame(2, 0)) {
		t.Fatal("Put after Close succeeded")
	}
}

func TestConcurrentProducerConsumerSeesMonotonicSeq(t *testing.T) {
	c := NewCell()
	const n = 2000

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := uint64(1); i <= n; i++ {
			c.Put(newFrame(i, 0))
		}
	}()

	var last uint64
	deadline := time.After(5 * time.Second)
	for last < n {
		select {
		case <-c.Ready():
			f := c.Take()
			if f == nil {
				continue
			}
			if f.Seq <= last {
				t.Fatalf("out of order: got %d after %d", f.Seq, last)
			}
			last = f.Seq
		case <-deadline:
			t.Fatalf("consumer stalled at seq %d", last)
		}
	}
	wg.Wait()
}
