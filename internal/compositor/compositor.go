// Package compositor owns the floating picture-in-picture surface.
//
// The Compositor is a passive target: it holds a reference to the newest
// frame and asks its surface to redraw when that reference changes or the
// window system reports damage. It does not run a render loop of its own.
// All methods must be called from the UI loop.
package compositor

import (
	"image"

	"github.com/bryanchriswhite/RegionPiP/internal/frame"
	"github.com/bryanchriswhite/RegionPiP/internal/geometry"
	"github.com/bryanchriswhite/RegionPiP/internal/logger"
	"github.com/rs/zerolog"
)

// Surface is a window-system window the compositor draws into
type Surface interface {
	// Map creates and shows the window at size with the given presentation
	Map(size image.Point, onTop bool, opacity float64) error
	// Unmap removes the window from the screen
	Unmap()
	// Draw fills the window with img
	Draw(img *image.RGBA) error
	SetOpacity(opacity float64) error
	SetAlwaysOnTop(onTop bool) error
}

// Stats are lifetime counters for presented frames
type Stats struct {
	Presented  uint64 `json:"presented"`
	Discarded  uint64 `json:"discarded"`
	DrawErrors uint64 `json:"draw_errors"`
}

// Compositor tracks the visible PiP surface and the frame it shows
type Compositor struct {
	surface Surface
	visible bool
	size    geometry.PixelRect
	current *frame.Frame
	opacity float64
	onTop   bool
	stats   Stats
	log     *zerolog.Logger
}

// New creates a hidden compositor drawing into surface
func New(surface Surface) *Compositor {
	return &Compositor{
		surface: surface,
		opacity: 1,
		onTop:   true,
		log:     logger.WithComponent("compositor"),
	}
}

// Show maps the surface sized to size. Calling Show while visible is a no-op.
func (c *Compositor) Show(size geometry.PixelRect) error {
	if c.visible {
		return nil
	}
	if err := c.surface.Map(image.Pt(size.Width, size.Height), c.onTop, c.opacity); err != nil {
		return err
	}
	c.visible = true
	c.size = size
	c.log.Info().
		Int("width", size.Width).
		Int("height", size.Height).
		Float64("opacity", c.opacity).
		Bool("always_on_top", c.onTop).
		Msg("PiP surface shown")
	return nil
}

// Present replaces the displayed frame. Frames presented while hidden are
// discarded. Returns whether f was accepted.
func (c *Compositor) Present(f *frame.Frame) bool {
	if !c.visible || f == nil {
		c.stats.Discarded++
		return false
	}
	c.current = f
	c.stats.Presented++
	c.Redraw()
	return true
}

// Redraw repaints the current frame, if any
func (c *Compositor) Redraw() {
	if !c.visible || c.current == nil {
		return
	}
	if err := c.surface.Draw(c.current.Image); err != nil {
		c.stats.DrawErrors++
		c.log.Debug().Err(err).Uint64("seq", c.current.Seq).Msg("Failed to draw frame")
	}
}

// Hide unmaps the surface and releases the held frame
func (c *Compositor) Hide() {
	c.current = nil
	if !c.visible {
		return
	}
	c.surface.Unmap()
	c.visible = false
	c.log.Info().Msg("PiP surface hidden")
}

// SetOpacity applies opacity to a visible surface and remembers it for the
// next Show
func (c *Compositor) SetOpacity(opacity float64) error {
	c.opacity = opacity
	if !c.visible {
		return nil
	}
	return c.surface.SetOpacity(opacity)
}

// SetAlwaysOnTop applies the stacking level to a visible surface and
// remembers it for the next Show
func (c *Compositor) SetAlwaysOnTop(onTop bool) error {
	c.onTop = onTop
	if !c.visible {
		return nil
	}
	return c.surface.SetAlwaysOnTop(onTop)
}

// Visible reports whether the surface is on screen
func (c *Compositor) Visible() bool { return c.visible }

// Current returns the frame being displayed, or nil
func (c *Compositor) Current() *frame.Frame { return c.current }

// Size returns the size the surface was last shown at
func (c *Compositor) Size() geometry.PixelRect { return c.size }

// Stats returns the presentation counters
func (c *Compositor) Stats() Stats { return c.stats }
