package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/bryanchriswhite/RegionPiP/internal/logger"
)

// maxGrabFailures is how many consecutive failed grabs end a stream
const maxGrabFailures = 30

// GrabFunc captures one frame. A nil image with a nil error skips the tick.
type GrabFunc func() (*image.RGBA, error)

// loopStream paces a GrabFunc with a ticker and pushes results into a Sink
type loopStream struct {
	cancel   context.CancelFunc
	done     chan error
	finished chan struct{}
	stopOnce sync.Once
}

// RunLoop starts a ticker-paced producer goroutine. cleanup runs once after
// the producer exits, whatever the reason.
func RunLoop(interval time.Duration, grab GrabFunc, sink Sink, cleanup func()) Stream {
	ctx, cancel := context.WithCancel(context.Background())
	s := &loopStream{
		cancel:   cancel,
		done:     make(chan error, 1),
		finished: make(chan struct{}),
	}
	go s.run(ctx, interval, grab, sink, cleanup)
	return s
}

func (s *loopStream) run(ctx context.Context, interval time.Duration, grab GrabFunc, sink Sink, cleanup func()) {
	log := logger.WithComponent("capture-loop")

	var terminal error
	defer func() {
		if cleanup != nil {
			cleanup()
		}
		s.done <- terminal
		close(s.done)
		close(s.finished)
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		img, err := grab()
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			if errors.Is(err, ErrSourceGone) {
				terminal = err
				return
			}
			failures++
			log.Debug().Err(err).Int("consecutive", failures).Msg("Frame grab failed")
			if failures >= maxGrabFailures {
				terminal = fmt.Errorf("%d consecutive grab failures: %w", failures, err)
				return
			}
			continue
		}
		failures = 0
		if img != nil {
			sink(img)
		}
	}
}

func (s *loopStream) Stop() error {
	s.stopOnce.Do(s.cancel)
	<-s.finished
	return nil
}

func (s *loopStream) Done() <-chan error {
	return s.done
}
