// Package controller runs the capture workflow: permission check, region
// selection, window resolution, session start, and the PiP surface.
//
// Run owns a single UI loop goroutine. The compositor, the settings bridge
// and the in-flight attempt are only touched from that loop; everything
// else marshals onto it with Post or Do. Blocking work (selection,
// resolution, the stream start and stop) happens on the caller's goroutine.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/bryanchriswhite/RegionPiP/internal/capture"
	"github.com/bryanchriswhite/RegionPiP/internal/compositor"
	"github.com/bryanchriswhite/RegionPiP/internal/config"
	"github.com/bryanchriswhite/RegionPiP/internal/failure"
	"github.com/bryanchriswhite/RegionPiP/internal/frame"
	"github.com/bryanchriswhite/RegionPiP/internal/geometry"
	"github.com/bryanchriswhite/RegionPiP/internal/logger"
	"github.com/bryanchriswhite/RegionPiP/internal/permission"
	"github.com/bryanchriswhite/RegionPiP/internal/selector"
	"github.com/bryanchriswhite/RegionPiP/internal/session"
	"github.com/bryanchriswhite/RegionPiP/internal/settings"
	"github.com/bryanchriswhite/RegionPiP/internal/window"
	"github.com/rs/zerolog"
)

var (
	// ErrBusy is returned when a capture is already being set up or running
	ErrBusy = errors.New("a capture is already in progress")

	// ErrCancelled is returned by StartCapture when the user dismissed the
	// selection or StopCapture interrupted the start
	ErrCancelled = errors.New("capture cancelled")

	// ErrClosed is returned once Run has exited
	ErrClosed = errors.New("controller is shut down")
)

// Phase is the coarse position of the workflow
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseChecking  Phase = "checking_permission"
	PhaseSelecting Phase = "selecting"
	PhaseResolving Phase = "resolving"
	PhaseStarting  Phase = "starting"
	PhaseActive    Phase = "active"
	PhaseStopping  Phase = "stopping"
)

// Resolver finds target windows
type Resolver interface {
	Candidates(ctx context.Context, target config.TargetIdentity) ([]config.WindowInfo, error)
	Resolve(ctx context.Context, target config.TargetIdentity, point geometry.Point) (*window.ResolvedWindow, error)
	Applications() ([]config.Application, error)
}

// Deps are the collaborators a controller drives
type Deps struct {
	Permission permission.Checker
	Resolver   Resolver
	Selector   selector.Driver
	Facility   capture.Facility
	Surface    compositor.Surface
}

// Options are the initial settings
type Options struct {
	Target       config.TargetIdentity
	Scale        float64
	Presentation settings.PresentationState
}

// Status is a snapshot for the control surface
type Status struct {
	Phase        Phase                      `json:"phase"`
	Target       config.TargetIdentity      `json:"target"`
	Session      session.Info               `json:"session"`
	Presentation settings.PresentationState `json:"presentation"`
	NextStart    settings.StartParams       `json:"next_start"`
	Visible      bool                       `json:"visible"`
	Compositor   compositor.Stats           `json:"compositor"`
	Frames       frame.Stats                `json:"frames"`
}

// attempt is one in-flight StartCapture, confined to the loop
type attempt struct {
	cancel  context.CancelFunc
	phase   Phase
	stopped bool
}

// Controller wires the capture pipeline to a single UI loop
type Controller struct {
	deps    Deps
	scale   float64
	cell    *frame.Cell
	session *session.Session
	comp    *compositor.Compositor
	bridge  *settings.Bridge
	events  *hub
	log     *zerolog.Logger

	tasks   chan func()
	closed  chan struct{}
	running atomic.Bool

	// Loop-confined
	target  config.TargetIdentity
	attempt *attempt

	// stopMu serializes StopCapture so concurrent stops do not interleave
	stopMu sync.Mutex
}

// New creates a controller. Call Run before any other method that waits on
// the loop.
func New(deps Deps, opts Options) *Controller {
	if deps.Permission == nil {
		deps.Permission = permission.Static(true)
	}
	scale := opts.Scale
	if scale <= 0 {
		scale = 1
	}

	cell := frame.NewCell()
	sess := session.New(deps.Facility, cell)
	comp := compositor.New(deps.Surface)

	c := &Controller{
		deps:    deps,
		scale:   scale,
		cell:    cell,
		session: sess,
		comp:    comp,
		events:  newHub(),
		log:     logger.WithComponent("controller"),
		tasks:   make(chan func(), 64),
		closed:  make(chan struct{}),
		target:  opts.Target,
	}

	c.bridge = settings.NewBridge(opts.Presentation, comp, sess)
	initial := c.bridge.State()
	comp.SetOpacity(initial.Opacity)
	comp.SetAlwaysOnTop(initial.AlwaysOnTop)
	c.bridge.SetOnChange(func(s settings.PresentationState) {
		c.events.publish(Event{Type: EventPresentation, Presentation: &s})
	})

	sess.SetOnTerminated(func(err error) {
		c.Post(func() { c.onTerminated(err) })
	})
	return c
}

// SetPersist installs the hook the settings bridge uses to save presentation
// changes. Must be called before Run.
func (c *Controller) SetPersist(fn func(settings.PresentationState) error) {
	c.bridge.SetPersist(fn)
}

// Run serves the UI loop until ctx is done, then stops any capture
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return fmt.Errorf("controller already running")
	}
	c.log.Debug().Msg("Controller loop started")

	for {
		select {
		case fn := <-c.tasks:
			fn()
		case <-c.cell.Ready():
			c.presentLatest()
		case <-ctx.Done():
			c.shutdown()
			return nil
		}
	}
}

func (c *Controller) shutdown() {
	if c.attempt != nil {
		c.attempt.stopped = true
		c.attempt.cancel()
	}
	c.comp.Hide()
	close(c.closed)

	// Drain what was queued so nothing waits on a closed loop
	for {
		select {
		case fn := <-c.tasks:
			fn()
		default:
			c.session.Stop()
			c.cell.Close()
			c.events.closeAll()
			c.log.Debug().Msg("Controller loop stopped")
			return
		}
	}
}

// Post queues fn on the UI loop. Returns false once the loop has exited.
func (c *Controller) Post(fn func()) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.tasks <- fn:
		return true
	case <-c.closed:
		return false
	}
}

// Do runs fn on the UI loop and waits for it to finish
func (c *Controller) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !c.Post(func() { fn(); close(done) }) {
		return ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.closed:
		// The drain in shutdown may still run it
		select {
		case <-done:
			return nil
		default:
			return ErrClosed
		}
	}
}

// Subscribe returns a channel of controller events and a function that ends
// the subscription
func (c *Controller) Subscribe(buffer int) (<-chan Event, func()) {
	return c.events.subscribe(buffer)
}

// presentLatest hands the newest frame of the current session to the
// compositor
func (c *Controller) presentLatest() {
	f := c.cell.Take()
	if f == nil {
		return
	}
	if !c.session.Active() || f.Generation != c.session.Generation() {
		return
	}
	c.comp.Present(f)
}

// SurfaceDamaged asks for a repaint after the window system lost the
// surface contents. Safe from any goroutine.
func (c *Controller) SurfaceDamaged() {
	c.Post(c.comp.Redraw)
}

// StartCapture runs the whole start workflow and blocks until the capture is
// showing or has failed. A nil region runs the interactive selector.
// Failures carry a failure.Kind and are also published as events;
// a dismissed selection returns ErrCancelled and publishes "cancelled".
func (c *Controller) StartCapture(ctx context.Context, region *geometry.Rect) error {
	var (
		target config.TargetIdentity
		params settings.StartParams
		busy   bool
	)
	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	err := c.Do(ctx, func() {
		if c.attempt != nil || c.session.State() != session.Idle {
			busy = true
			return
		}
		c.attempt = &attempt{cancel: cancel, phase: PhaseChecking}
		target = c.target
		params = c.bridge.NextStart()
		c.publishPhase(PhaseChecking)
	})
	if err != nil {
		return err
	}
	if busy {
		return ErrBusy
	}

	rect, win, err := c.prepare(attemptCtx, target, region)
	if err != nil {
		return c.finish(err)
	}

	if !c.setPhase(PhaseStarting) || attemptCtx.Err() != nil {
		return c.finish(ErrCancelled)
	}

	err = c.session.Start(attemptCtx, session.StartRequest{
		Target:    target,
		Selection: rect,
		Window:    win,
		Scale:     c.scale,
		Params:    params,
	})
	if err != nil {
		if errors.Is(err, session.ErrCancelled) || attemptCtx.Err() != nil {
			err = ErrCancelled
		}
		return c.finish(err)
	}

	var (
		shown   bool
		showErr error
	)
	doErr := c.Do(context.Background(), func() {
		a := c.attempt
		c.attempt = nil
		if a == nil || a.stopped || !c.session.Active() {
			return
		}
		info := c.session.Info()
		if info.Config == nil {
			return
		}
		if showErr = c.comp.Show(info.Config.Output); showErr != nil {
			return
		}
		shown = true
		c.bridge.UpdatePresentation()
		c.events.publish(Event{Type: EventStarted, Phase: PhaseActive, Session: &info})
	})

	switch {
	case doErr != nil:
		c.session.Stop()
		return doErr
	case showErr != nil:
		c.session.Stop()
		err := failure.New(failure.StreamStartFailure, "show", showErr)
		c.events.publish(failedEvent(err))
		return err
	case !shown:
		// StopCapture already tore the session down, or the stream died
		// before the surface came up
		c.session.Stop()
		if !c.session.Active() && attemptCtx.Err() != nil {
			c.events.publish(Event{Type: EventCancelled})
			return ErrCancelled
		}
		return failure.New(failure.StreamTerminated, "start", errors.New("stream ended before the surface was shown"))
	}

	c.log.Info().
		Str("target", string(target)).
		Str("region", rect.String()).
		Uint32("window_id", win.Handle).
		Msg("Capture started")
	return nil
}

// prepare checks permission, confirms the target is running, selects a
// region if none was given and resolves it to a window
func (c *Controller) prepare(ctx context.Context, target config.TargetIdentity, region *geometry.Rect) (geometry.Rect, *window.ResolvedWindow, error) {
	if err := permission.Ensure(ctx, c.deps.Permission); err != nil {
		return geometry.Rect{}, nil, err
	}

	// Fail before the selector comes up if nothing could match
	if _, err := c.deps.Resolver.Candidates(ctx, target); err != nil {
		return geometry.Rect{}, nil, err
	}

	var rect geometry.Rect
	if region != nil {
		rect = *region
		if rect.IsEmpty() {
			return geometry.Rect{}, nil, ErrCancelled
		}
	} else {
		if c.deps.Selector == nil {
			return geometry.Rect{}, nil, fmt.Errorf("no region given and no selector available")
		}
		if !c.setPhase(PhaseSelecting) {
			return geometry.Rect{}, nil, ErrCancelled
		}
		sel, ok, err := c.deps.Selector.Select(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return geometry.Rect{}, nil, ErrCancelled
			}
			return geometry.Rect{}, nil, fmt.Errorf("region selection failed: %w", err)
		}
		if !ok {
			return geometry.Rect{}, nil, ErrCancelled
		}
		rect = sel
	}

	if !c.setPhase(PhaseResolving) {
		return geometry.Rect{}, nil, ErrCancelled
	}
	// The window list may have changed while the user was selecting
	win, err := c.deps.Resolver.Resolve(ctx, target, rect.Mid())
	if err != nil {
		return geometry.Rect{}, nil, err
	}
	return rect, win, nil
}

// setPhase records progress of the current attempt. Returns false when the
// attempt was stopped or the loop is gone.
func (c *Controller) setPhase(p Phase) bool {
	alive := false
	err := c.Do(context.Background(), func() {
		if c.attempt == nil || c.attempt.stopped {
			return
		}
		c.attempt.phase = p
		alive = true
		c.publishPhase(p)
	})
	return err == nil && alive
}

func (c *Controller) publishPhase(p Phase) {
	c.events.publish(Event{Type: EventPhase, Phase: p})
}

// finish ends a failed or cancelled attempt and reports it
func (c *Controller) finish(err error) error {
	c.Do(context.Background(), func() {
		c.attempt = nil
		c.comp.Hide()
		if errors.Is(err, ErrCancelled) {
			c.events.publish(Event{Type: EventCancelled})
			return
		}
		c.events.publish(failedEvent(err))
	})

	if errors.Is(err, ErrCancelled) {
		c.log.Info().Msg("Capture start cancelled")
	} else {
		c.log.Warn().
			Err(err).
			Str("kind", failure.KindOf(err).String()).
			Msg("Capture start failed")
	}
	return err
}

// StopCapture stops a running capture or interrupts one being set up. It is
// a no-op when nothing is running.
func (c *Controller) StopCapture(ctx context.Context) error {
	c.stopMu.Lock()
	defer c.stopMu.Unlock()

	wasActive := false
	err := c.Do(ctx, func() {
		if c.attempt != nil {
			c.attempt.stopped = true
			c.attempt.cancel()
		}
		wasActive = c.session.State() == session.Active
		c.comp.Hide()
		if wasActive {
			c.publishPhase(PhaseStopping)
		}
	})
	if err != nil {
		return err
	}

	c.session.Stop()

	if wasActive {
		info := c.session.Info()
		c.events.publish(Event{Type: EventStopped, Phase: PhaseIdle, Session: &info})
		c.log.Info().Msg("Capture stopped")
	}
	return nil
}

// onTerminated runs on the loop when an active stream died on its own
func (c *Controller) onTerminated(err error) {
	c.comp.Hide()
	c.bridge.UpdatePresentation()
	c.events.publish(failedEvent(err))
	c.log.Warn().Err(err).Msg("Capture ended unexpectedly")
}

// Status returns a snapshot of the workflow
func (c *Controller) Status(ctx context.Context) (Status, error) {
	var st Status
	err := c.Do(ctx, func() {
		info := c.session.Info()
		st = Status{
			Phase:        c.phase(info.State),
			Target:       c.target,
			Session:      info,
			Presentation: c.bridge.State(),
			NextStart:    c.bridge.NextStart(),
			Visible:      c.comp.Visible(),
			Compositor:   c.comp.Stats(),
			Frames:       c.cell.Stats(),
		}
	})
	return st, err
}

func (c *Controller) phase(s session.State) Phase {
	switch s {
	case session.Active:
		return PhaseActive
	case session.Stopping:
		return PhaseStopping
	case session.Starting:
		return PhaseStarting
	}
	if c.attempt != nil {
		return c.attempt.phase
	}
	return PhaseIdle
}

// Target returns the configured target application
func (c *Controller) Target(ctx context.Context) (config.TargetIdentity, error) {
	var t config.TargetIdentity
	err := c.Do(ctx, func() { t = c.target })
	return t, err
}

// SetTarget changes the application the next capture resolves against
func (c *Controller) SetTarget(ctx context.Context, target config.TargetIdentity) error {
	return c.Do(ctx, func() {
		if c.target == target {
			return
		}
		c.target = target
		c.events.publish(Event{Type: EventTarget, Target: string(target)})
	})
}

// Applications lists running applications with windows
func (c *Controller) Applications() ([]config.Application, error) {
	return c.deps.Resolver.Applications()
}

// Presentation returns the current presentation settings
func (c *Controller) Presentation(ctx context.Context) (settings.PresentationState, error) {
	var s settings.PresentationState
	err := c.Do(ctx, func() { s = c.bridge.State() })
	return s, err
}

// SetOpacity applies opacity immediately and returns the clamped value
func (c *Controller) SetOpacity(ctx context.Context, v float64) (float64, error) {
	var stored float64
	err := c.Do(ctx, func() { stored = c.bridge.SetOpacity(v) })
	return stored, err
}

// SetAlwaysOnTop changes the stacking level immediately
func (c *Controller) SetAlwaysOnTop(ctx context.Context, onTop bool) error {
	return c.Do(ctx, func() { c.bridge.SetAlwaysOnTop(onTop) })
}

// SetFrameRate changes the frame rate used by the next capture start
func (c *Controller) SetFrameRate(ctx context.Context, fps int) error {
	var setErr error
	if err := c.Do(ctx, func() { setErr = c.bridge.SetFrameRate(fps) }); err != nil {
		return err
	}
	return setErr
}

// SetShowCursor changes cursor visibility for the next capture start
func (c *Controller) SetShowCursor(ctx context.Context, show bool) error {
	return c.Do(ctx, func() { c.bridge.SetShowCursor(show) })
}

// ApplyPresentation replaces all presentation settings at once
func (c *Controller) ApplyPresentation(ctx context.Context, s settings.PresentationState) error {
	if err := settings.ValidateFrameRate(s.FrameRate); err != nil {
		return err
	}
	var applyErr error
	if err := c.Do(ctx, func() {
		if c.bridge.State() == s.Normalized() {
			return
		}
		applyErr = c.bridge.Apply(s)
	}); err != nil {
		return err
	}
	return applyErr
}
