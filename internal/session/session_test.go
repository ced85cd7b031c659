package session

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bryanchriswhite/RegionPiP/internal/capture"
	"github.com/bryanchriswhite/RegionPiP/internal/config"
	"github.com/bryanchriswhite/RegionPiP/internal/failure"
	"github.com/bryanchriswhite/RegionPiP/internal/frame"
	"github.com/bryanchriswhite/RegionPiP/internal/geometry"
	"github.com/bryanchriswhite/RegionPiP/internal/settings"
	"github.com/bryanchriswhite/RegionPiP/internal/window"
)

type fakeStream struct {
	done    chan error
	once    sync.Once
	stopped atomic.Bool
}

func newFakeStream() *fakeStream {
	return &fakeStream{done: make(chan error, 1)}
}

func (s *fakeStream) end(err error) {
	s.once.Do(func() {
		s.done <- err
		close(s.done)
	})
}

func (s *fakeStream) Stop() error {
	s.stopped.Store(true)
	s.end(nil)
	return nil
}

func (s *fakeStream) Done() <-chan error { return s.done }

type fakeFacility struct {
	mu      sync.Mutex
	gate    chan struct{} // StartStream waits on it when non-nil
	entered chan struct{}
	err     error
	streams []*fakeStream
	sinks   []capture.Sink
	configs []capture.Config
}

func (f *fakeFacility) Name() string { return "fake" }

func (f *fakeFacility) StartStream(ctx context.Context, cfg capture.Config, sink capture.Sink) (capture.Stream, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	s := newFakeStream()
	f.streams = append(f.streams, s)
	f.sinks = append(f.sinks, sink)
	f.configs = append(f.configs, cfg)
	return s, nil
}

func (f *fakeFacility) last() (*fakeStream, capture.Sink) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.streams)
	return f.streams[n-1], f.sinks[n-1]
}

func request() StartRequest {
	return StartRequest{
		Target:    "firefox",
		Selection: geometry.Rect{X: 100, Y: 100, Width: 400, Height: 300},
		Window: &window.ResolvedWindow{
			Target: "firefox",
			Handle: 0x400001,
			Window: config.WindowInfo{
				ID:       0x400001,
				Class:    "firefox",
				Frame:    geometry.Rect{X: 60, Y: 30, Width: 800, Height: 600},
				Viewable: true,
			},
		},
		Scale:  2,
		Params: settings.StartParams{FrameRate: 60, ShowCursor: true},
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestDeriveConfig(t *testing.T) {
	cfg, err := DeriveConfig(request())
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Crop != (geometry.Rect{X: 40, Y: 70, Width: 400, Height: 300}) {
		t.Errorf("crop = %v", cfg.Crop)
	}
	if cfg.Output != (geometry.PixelRect{Width: 800, Height: 600}) {
		t.Errorf("output = %v", cfg.Output)
	}
	if cfg.SourceRect() != (geometry.PixelRect{X: 80, Y: 140, Width: 800, Height: 600}) {
		t.Errorf("source = %v", cfg.SourceRect())
	}
	if cfg.FrameInterval != time.Second/60 || !cfg.ShowCursor || cfg.WindowID != 0x400001 {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestStopOnIdleIsNoop(t *testing.T) {
	s := New(&fakeFacility{}, frame.NewCell())
	s.Stop()
	s.Stop()
	if s.State() != Idle || s.Generation() != 0 {
		t.Errorf("state=%v generation=%d", s.State(), s.Generation())
	}
}

func TestStartDeliversStampedFrames(t *testing.T) {
	fac := &fakeFacility{}
	cell := frame.NewCell()
	s := New(fac, cell)

	if err := s.Start(context.Background(), request()); err != nil {
		t.Fatal(err)
	}
	if !s.Active() {
		t.Fatalf("state = %v, want active", s.State())
	}

	_, sink := fac.last()
	sink(image.NewRGBA(image.Rect(0, 0, 8, 6)))
	sink(image.NewRGBA(image.Rect(0, 0, 8, 6)))

	f := cell.Take()
	if f == nil || f.Seq != 2 || f.Generation != s.Generation() {
		t.Fatalf("frame = %+v", f)
	}

	info := s.Info()
	if info.ID == "" || info.State != Active || info.Frames != 2 || info.StartedAt == nil {
		t.Errorf("info = %+v", info)
	}
}

func TestCountersCoverOnlyTheCurrentSession(t *testing.T) {
	fac := &fakeFacility{}
	s := New(fac, frame.NewCell())
	ctx := context.Background()

	if err := s.Start(ctx, request()); err != nil {
		t.Fatal(err)
	}
	_, sink := fac.last()
	for i := 0; i < 3; i++ {
		sink(image.NewRGBA(image.Rect(0, 0, 8, 6)))
	}
	if info := s.Info(); info.Frames != 3 || info.Dropped != 2 {
		t.Fatalf("first session frames=%d dropped=%d, want 3 and 2", info.Frames, info.Dropped)
	}
	s.Stop()

	if err := s.Start(ctx, request()); err != nil {
		t.Fatal(err)
	}
	_, sink = fac.last()
	sink(image.NewRGBA(image.Rect(0, 0, 8, 6)))
	if info := s.Info(); info.Frames != 1 || info.Dropped != 0 {
		t.Errorf("second session frames=%d dropped=%d, want 1 and 0", info.Frames, info.Dropped)
	}
}

func TestSecondStartFailsWithoutDisturbingFirst(t *testing.T) {
	fac := &fakeFacility{}
	s := New(fac, frame.NewCell())

	if err := s.Start(context.Background(), request()); err != nil {
		t.Fatal(err)
	}
	first, _ := fac.last()
	id := s.Info().ID

	err := s.Start(context.Background(), request())
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("second Start err = %v, want ErrBusy", err)
	}
	if first.stopped.Load() || !s.Active() || s.Info().ID != id {
		t.Error("second Start disturbed the running session")
	}
}

func TestStopDuringStartTearsDownNewStream(t *testing.T) {
	fac := &fakeFacility{
		gate:    make(chan struct{}),
		entered: make(chan struct{}, 1),
	}
	cell := frame.NewCell()
	s := New(fac, cell)

	result := make(chan error, 1)
	go func() { result <- s.Start(context.Background(), request()) }()

	<-fac.entered
	if s.State() != Starting {
		t.Fatalf("state = %v, want starting", s.State())
	}

	s.Stop()
	close(fac.gate)

	err := <-result
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("Start err = %v, want ErrCancelled", err)
	}
	stream, sink := fac.last()
	if !stream.stopped.Load() {
		t.Error("stream started after Stop was left running")
	}
	if s.State() != Idle {
		t.Errorf("state = %v, want idle", s.State())
	}

	// A late frame from the orphaned producer is discarded
	sink(image.NewRGBA(image.Rect(0, 0, 1, 1)))
	if cell.Take() != nil {
		t.Error("frame from a cancelled start reached the cell")
	}
}

func TestFramesAfterStopAreDiscarded(t *testing.T) {
	fac := &fakeFacility{}
	cell := frame.NewCell()
	s := New(fac, cell)

	if err := s.Start(context.Background(), request()); err != nil {
		t.Fatal(err)
	}
	stream, sink := fac.last()
	sink(image.NewRGBA(image.Rect(0, 0, 1, 1)))

	s.Stop()
	if !stream.stopped.Load() || s.State() != Idle {
		t.Fatalf("stopped=%v state=%v", stream.stopped.Load(), s.State())
	}
	if cell.Take() != nil {
		t.Error("Stop must drop the held frame")
	}

	sink(image.NewRGBA(image.Rect(0, 0, 1, 1)))
	if cell.Take() != nil {
		t.Error("frame delivered after Stop reached the cell")
	}

	// The session can be started again
	if err := s.Start(context.Background(), request()); err != nil {
		t.Fatalf("restart: %v", err)
	}
}

func TestFacilityErrorIsStreamStartFailure(t *testing.T) {
	s := New(&fakeFacility{err: errors.New("BadMatch")}, frame.NewCell())

	err := s.Start(context.Background(), request())
	if !failure.Is(err, failure.StreamStartFailure) {
		t.Fatalf("err = %v, want StreamStartFailure", err)
	}
	if s.State() != Idle {
		t.Errorf("state = %v, want idle", s.State())
	}
}

func TestSelectionOutsideWindowIsStreamStartFailure(t *testing.T) {
	fac := &fakeFacility{}
	s := New(fac, frame.NewCell())

	req := request()
	req.Selection = geometry.Rect{X: 700, Y: 500, Width: 400, Height: 300}
	err := s.Start(context.Background(), req)
	if !failure.Is(err, failure.StreamStartFailure) {
		t.Fatalf("err = %v, want StreamStartFailure", err)
	}
	if len(fac.streams) != 0 {
		t.Error("facility must not be asked to start an invalid crop")
	}
}

func TestAsyncTerminationReturnsToIdle(t *testing.T) {
	fac := &fakeFacility{}
	cell := frame.NewCell()
	s := New(fac, cell)

	terminated := make(chan error, 1)
	s.SetOnTerminated(func(err error) { terminated <- err })

	if err := s.Start(context.Background(), request()); err != nil {
		t.Fatal(err)
	}
	stream, sink := fac.last()
	stream.end(capture.ErrSourceGone)

	select {
	case err := <-terminated:
		if !failure.Is(err, failure.StreamTerminated) || !errors.Is(err, capture.ErrSourceGone) {
			t.Errorf("terminated with %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("termination hook not called")
	}

	waitFor(t, "idle", func() bool { return s.State() == Idle })

	sink(image.NewRGBA(image.Rect(0, 0, 1, 1)))
	if cell.Take() != nil {
		t.Error("frame from a terminated stream reached the cell")
	}
}

func TestNormalStopDoesNotReportTermination(t *testing.T) {
	fac := &fakeFacility{}
	s := New(fac, frame.NewCell())

	var calls atomic.Int32
	s.SetOnTerminated(func(error) { calls.Add(1) })

	if err := s.Start(context.Background(), request()); err != nil {
		t.Fatal(err)
	}
	s.Stop()
	time.Sleep(20 * time.Millisecond)

	if calls.Load() != 0 {
		t.Error("Stop was reported as an asynchronous termination")
	}
}
