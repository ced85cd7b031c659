// Package session owns the lifecycle of one capture stream at a time.
//
// A Session moves Idle -> Starting -> Active -> Stopping -> Idle. Start runs
// on a worker goroutine; Stop may be called from any goroutine at any point,
// including while Start is still waiting on the facility. Every start and
// every stop bumps the session generation, and frames stamped with an older
// generation are rejected by the frame cell.
package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bryanchriswhite/RegionPiP/internal/capture"
	"github.com/bryanchriswhite/RegionPiP/internal/config"
	"github.com/bryanchriswhite/RegionPiP/internal/failure"
	"github.com/bryanchriswhite/RegionPiP/internal/frame"
	"github.com/bryanchriswhite/RegionPiP/internal/geometry"
	"github.com/bryanchriswhite/RegionPiP/internal/logger"
	"github.com/bryanchriswhite/RegionPiP/internal/settings"
	"github.com/bryanchriswhite/RegionPiP/internal/window"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// State is the lifecycle position of a Session
type State int

const (
	Idle State = iota
	Starting
	Active
	Stopping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Active:
		return "active"
	case Stopping:
		return "stopping"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText encodes the state by name
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

var (
	// ErrBusy is returned by Start when a session is already starting,
	// running or stopping
	ErrBusy = errors.New("a capture session is already running")

	// ErrCancelled is returned by Start when Stop arrived before the stream
	// came up; the stream that was started has been torn down
	ErrCancelled = errors.New("capture start cancelled")
)

// StartRequest carries everything a start needs, captured at request time
type StartRequest struct {
	Target    config.TargetIdentity
	Selection geometry.Rect // logical screen coordinates
	Window    *window.ResolvedWindow
	Scale     float64
	Params    settings.StartParams
}

// Info is an immutable snapshot of the session
type Info struct {
	ID         string                `json:"id,omitempty"`
	State      State                 `json:"state"`
	Target     config.TargetIdentity `json:"target,omitempty"`
	WindowID   uint32                `json:"window_id,omitempty"`
	Config     *capture.Config       `json:"config,omitempty"`
	Generation uint64                `json:"generation"`
	Frames     uint64                `json:"frames"`
	Dropped    uint64                `json:"dropped"`
	StartedAt  *time.Time            `json:"started_at,omitempty"`
}

// Session drives a capture.Facility and feeds a frame.Cell
type Session struct {
	facility capture.Facility
	cell     *frame.Cell

	mu        sync.Mutex
	state     State
	id        string
	target    config.TargetIdentity
	cfg       capture.Config
	stream    capture.Stream
	cancel    context.CancelFunc
	startedAt time.Time
	dropBase  uint64 // cell drop count when this session started
	log       *zerolog.Logger

	generation atomic.Uint64
	seq        atomic.Uint64
	frames     atomic.Uint64

	onTerminated func(error)
}

// New creates an Idle session
func New(facility capture.Facility, cell *frame.Cell) *Session {
	return &Session{
		facility: facility,
		cell:     cell,
		log:      logger.WithComponent("session"),
	}
}

// SetOnTerminated installs the hook called (on the watcher goroutine) when an
// Active stream ends on its own. The error carries failure.StreamTerminated.
func (s *Session) SetOnTerminated(fn func(error)) {
	s.mu.Lock()
	s.onTerminated = fn
	s.mu.Unlock()
}

// State returns the current state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Active reports whether frames are currently flowing
func (s *Session) Active() bool {
	return s.State() == Active
}

// Generation returns the generation frames are currently accepted for
func (s *Session) Generation() uint64 {
	return s.generation.Load()
}

// Info returns a snapshot of the session
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := Info{
		State:      s.state,
		Generation: s.generation.Load(),
		Frames:     s.frames.Load(),
		Dropped:    s.cell.Stats().Dropped - s.dropBase,
	}
	if s.state != Idle {
		cfg := s.cfg
		started := s.startedAt
		info.ID = s.id
		info.Target = s.target
		info.WindowID = cfg.WindowID
		info.Config = &cfg
		if !started.IsZero() {
			info.StartedAt = &started
		}
	}
	return info
}

// DeriveConfig turns a selection over a resolved window into a stream config
func DeriveConfig(req StartRequest) (capture.Config, error) {
	if req.Window == nil {
		return capture.Config{}, fmt.Errorf("no resolved window")
	}
	if req.Selection.IsEmpty() {
		return capture.Config{}, fmt.Errorf("empty selection")
	}
	scale := req.Scale
	if scale <= 0 {
		scale = 1
	}

	frameRect := req.Window.Window.Frame
	crop := geometry.ToWindowLocal(req.Selection, frameRect)
	if !crop.Within(frameRect.Width, frameRect.Height) {
		return capture.Config{}, fmt.Errorf("selection %s extends outside window %s", req.Selection, frameRect)
	}

	out := geometry.Scale(req.Selection, scale)
	cfg := capture.Config{
		WindowID:      req.Window.Handle,
		Crop:          crop,
		Scale:         scale,
		Output:        geometry.PixelRect{Width: out.Width, Height: out.Height},
		FrameInterval: req.Params.FrameInterval(),
		ShowCursor:    req.Params.ShowCursor,
	}
	if err := cfg.Validate(); err != nil {
		return capture.Config{}, err
	}
	return cfg, nil
}

// Start configures and starts a stream. It returns ErrBusy without touching
// the running stream if the session is not Idle, ErrCancelled if Stop was
// called while the facility was starting, and a StreamStartFailure for
// anything the facility or the configuration rejected.
func (s *Session) Start(ctx context.Context, req StartRequest) error {
	s.mu.Lock()
	if s.state != Idle {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w (%s)", ErrBusy, state)
	}

	cfg, err := DeriveConfig(req)
	if err != nil {
		s.mu.Unlock()
		return failure.New(failure.StreamStartFailure, "configure", err)
	}

	gen := s.generation.Add(1)
	s.cell.Reset(gen)
	startCtx, cancel := context.WithCancel(ctx)

	s.state = Starting
	s.id = uuid.NewString()
	s.target = req.Target
	s.cfg = cfg
	s.cancel = cancel
	s.startedAt = time.Time{}
	s.seq.Store(0)
	s.frames.Store(0)
	s.dropBase = s.cell.Stats().Dropped
	s.log = logger.WithSession("session", s.id)
	log := s.log
	s.mu.Unlock()

	log.Info().
		Str("target", string(req.Target)).
		Uint32("window_id", cfg.WindowID).
		Str("crop", cfg.Crop.String()).
		Str("output", cfg.Output.String()).
		Dur("interval", cfg.FrameInterval).
		Msg("Starting capture session")

	stream, err := s.facility.StartStream(startCtx, cfg, s.sink(gen))

	s.mu.Lock()
	cancelled := s.state != Starting || s.generation.Load() != gen
	if err != nil {
		s.state = Idle
		s.stream = nil
		s.mu.Unlock()
		cancel()
		if cancelled {
			return ErrCancelled
		}
		log.Warn().Err(err).Msg("Stream facility rejected the configuration")
		return failure.New(failure.StreamStartFailure, "start", err)
	}
	if cancelled {
		s.mu.Unlock()
		log.Info().Msg("Stop arrived during start, tearing the new stream down")
		stream.Stop()
		cancel()
		s.mu.Lock()
		if s.generation.Load() == gen+1 {
			s.state = Idle
		}
		s.mu.Unlock()
		return ErrCancelled
	}

	s.stream = stream
	s.state = Active
	s.startedAt = time.Now()
	s.mu.Unlock()

	go s.watch(gen, stream)

	log.Info().Msg("Capture session active")
	return nil
}

// Stop tears the session down. It is a no-op when Idle or already Stopping.
// Stopping a Starting session cancels the pending start, which then tears
// down whatever it started.
func (s *Session) Stop() {
	s.mu.Lock()
	switch s.state {
	case Idle, Stopping:
		s.mu.Unlock()
		return
	}

	prev := s.state
	s.state = Stopping
	gen := s.generation.Add(1)
	s.cell.Reset(gen)
	if s.cancel != nil {
		s.cancel()
	}
	stream := s.stream
	s.stream = nil
	log := s.log
	s.mu.Unlock()

	log.Info().Str("from", prev.String()).Msg("Stopping capture session")

	// The pending Start finishes the transition to Idle
	if prev == Starting {
		return
	}

	if stream != nil {
		if err := stream.Stop(); err != nil {
			log.Warn().Err(err).Msg("Stream stop reported an error")
		}
	}

	s.mu.Lock()
	if s.generation.Load() == gen {
		s.state = Idle
	}
	s.mu.Unlock()
}

// sink stamps frames for generation gen and hands them to the cell
func (s *Session) sink(gen uint64) capture.Sink {
	return func(img *image.RGBA) {
		if s.generation.Load() != gen {
			return
		}
		f := &frame.Frame{
			Image:      img,
			Seq:        s.seq.Add(1),
			Generation: gen,
			Timestamp:  time.Now(),
		}
		if s.cell.Put(f) {
			s.frames.Add(1)
		}
	}
}

// watch waits for the stream to end and force-stops the session if it ended
// on its own while still current
func (s *Session) watch(gen uint64, stream capture.Stream) {
	err, ok := <-stream.Done()
	if !ok || err == nil {
		return
	}

	s.mu.Lock()
	if s.generation.Load() != gen || s.state != Active {
		s.mu.Unlock()
		return
	}
	s.state = Stopping
	next := s.generation.Add(1)
	s.cell.Reset(next)
	s.stream = nil
	if s.cancel != nil {
		s.cancel()
	}
	hook := s.onTerminated
	log := s.log
	s.mu.Unlock()

	log.Warn().Err(err).Msg("Capture stream terminated")
	stream.Stop()

	s.mu.Lock()
	if s.generation.Load() == next {
		s.state = Idle
	}
	s.mu.Unlock()

	if hook != nil {
		hook(failure.New(failure.StreamTerminated, "stream", err))
	}
}
