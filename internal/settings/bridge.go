// Package settings carries live presentation settings into the PiP surface
// and the next capture session.
//
// Opacity and always-on-top apply to a visible surface immediately. Frame rate
// and cursor visibility are captured by the session only when it starts; an
// active stream keeps the values it was started with.
package settings

import (
	"github.com/bryanchriswhite/RegionPiP/internal/logger"
	"github.com/rs/zerolog"
)

// Surface is the part of the PiP compositor the bridge drives. SetOpacity
// and SetAlwaysOnTop on a hidden surface take effect when it is next shown.
type Surface interface {
	Visible() bool
	SetOpacity(opacity float64) error
	SetAlwaysOnTop(onTop bool) error
	Hide()
}

// SessionProbe reports whether a capture stream is currently Active
type SessionProbe interface {
	Active() bool
}

// Bridge owns the PresentationState. It is not safe for concurrent use: every
// call must come from the UI loop.
type Bridge struct {
	state    PresentationState
	surface  Surface
	session  SessionProbe
	persist  func(PresentationState) error
	onChange func(PresentationState)
	log      *zerolog.Logger
}

// NewBridge creates a bridge seeded with initial (normalized)
func NewBridge(initial PresentationState, surface Surface, session SessionProbe) *Bridge {
	return &Bridge{
		state:   initial.Normalized(),
		surface: surface,
		session: session,
		log:     logger.WithComponent("settings"),
	}
}

// SetPersist installs a hook that saves the state after each reconciliation
func (b *Bridge) SetPersist(fn func(PresentationState) error) {
	b.persist = fn
}

// SetOnChange installs a hook called with the state after each reconciliation
func (b *Bridge) SetOnChange(fn func(PresentationState)) {
	b.onChange = fn
}

// State returns a copy of the current state
func (b *Bridge) State() PresentationState {
	return b.state
}

func (b *Bridge) Opacity() float64  { return b.state.Opacity }
func (b *Bridge) AlwaysOnTop() bool { return b.state.AlwaysOnTop }
func (b *Bridge) FrameRate() int    { return b.state.FrameRate }
func (b *Bridge) ShowCursor() bool  { return b.state.ShowCursor }

// SetOpacity clamps v into range, applies it and returns the stored value
func (b *Bridge) SetOpacity(v float64) float64 {
	b.state.Opacity = ClampOpacity(v)
	b.UpdatePresentation()
	return b.state.Opacity
}

// SetAlwaysOnTop switches the surface's stacking level
func (b *Bridge) SetAlwaysOnTop(onTop bool) {
	b.state.AlwaysOnTop = onTop
	b.UpdatePresentation()
}

// SetFrameRate records the rate for the next session start
func (b *Bridge) SetFrameRate(fps int) error {
	if err := ValidateFrameRate(fps); err != nil {
		return err
	}
	b.state.FrameRate = fps
	b.UpdatePresentation()
	return nil
}

// SetShowCursor records cursor visibility for the next session start
func (b *Bridge) SetShowCursor(show bool) {
	b.state.ShowCursor = show
	b.UpdatePresentation()
}

// Apply replaces the whole state at once
func (b *Bridge) Apply(s PresentationState) error {
	if err := ValidateFrameRate(s.FrameRate); err != nil {
		return err
	}
	b.state = s.Normalized()
	b.UpdatePresentation()
	return nil
}

// NextStart returns the parameters a session started now would use
func (b *Bridge) NextStart() StartParams {
	return StartParams{
		FrameRate:  b.state.FrameRate,
		ShowCursor: b.state.ShowCursor,
	}
}

// UpdatePresentation reconciles the surface with the state and the session.
// A surface left visible without an active session is hidden. Opacity and
// stacking are always forwarded; a hidden surface keeps them for its next
// show.
func (b *Bridge) UpdatePresentation() {
	if b.surface != nil {
		if b.surface.Visible() && (b.session == nil || !b.session.Active()) {
			b.log.Warn().Msg("PiP surface visible without an active session, hiding it")
			b.surface.Hide()
		}
		if err := b.surface.SetOpacity(b.state.Opacity); err != nil {
			b.log.Warn().Err(err).Float64("opacity", b.state.Opacity).Msg("Failed to apply opacity")
		}
		if err := b.surface.SetAlwaysOnTop(b.state.AlwaysOnTop); err != nil {
			b.log.Warn().Err(err).Bool("always_on_top", b.state.AlwaysOnTop).Msg("Failed to apply stacking level")
		}
	}

	if b.persist != nil {
		if err := b.persist(b.state); err != nil {
			b.log.Warn().Err(err).Msg("Failed to persist presentation settings")
		}
	}
	if b.onChange != nil {
		b.onChange(b.state)
	}
}
