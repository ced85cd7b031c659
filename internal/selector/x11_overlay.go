package selector

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/bryanchriswhite/RegionPiP/internal/geometry"
	"github.com/bryanchriswhite/RegionPiP/internal/logger"
	"github.com/bryanchriswhite/RegionPiP/internal/overlay"
	"github.com/bryanchriswhite/RegionPiP/internal/xutil"
	"github.com/rs/zerolog"
)

// Driver runs one interactive selection. ok is false when the user cancelled.
type Driver interface {
	Select(ctx context.Context) (rect geometry.Rect, ok bool, err error)
}

const (
	keysymEscape = 0xff1b

	// Glyphs in the standard X cursor font
	glyphCrosshair     = 34
	glyphCrosshairMask = 35

	grabAttempts = 10
	grabBackoff  = 10 * time.Millisecond
)

var errConnClosed = errors.New("connection closed")

// Options configure the X11 selection overlay
type Options struct {
	Style overlay.Style
	Scale float64 // 0 detects from Xft.dpi
}

// X11Overlay drives the selector from a full-screen override-redirect window
// painted with a frozen, dimmed copy of the screen
type X11Overlay struct {
	opts Options
}

// NewX11Overlay creates an overlay driver
func NewX11Overlay(opts Options) *X11Overlay {
	return &X11Overlay{opts: opts}
}

// Select shows the overlay and blocks until the user finishes or cancels the
// drag, ctx is done, or the X connection fails. All grabs and the window are
// released before it returns.
func (o *X11Overlay) Select(ctx context.Context) (geometry.Rect, bool, error) {
	release, err := Acquire()
	if err != nil {
		return geometry.Rect{}, false, err
	}
	defer release()

	log := logger.WithComponent("selector")

	conn, err := xgb.NewConn()
	if err != nil {
		return geometry.Rect{}, false, fmt.Errorf("failed to connect to X server: %w", err)
	}
	defer conn.Close()

	screen := xproto.Setup(conn).DefaultScreen(conn)
	scale := o.opts.Scale
	if scale <= 0 {
		scale = xutil.DetectScaleFactor(conn, screen.Root)
	}
	bounds := image.Rect(0, 0, int(screen.WidthInPixels), int(screen.HeightInPixels))

	snapshot, err := snapshotRoot(conn, screen)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to snapshot screen, selecting over a blank backdrop")
	}
	backdrop := overlay.NewBackdrop(snapshot, bounds, o.opts.Style, scale)

	win, err := o.createWindow(conn, screen)
	if err != nil {
		return geometry.Rect{}, false, err
	}
	defer func() {
		xproto.UngrabPointer(conn, xproto.TimeCurrentTime)
		xproto.UngrabKeyboard(conn, xproto.TimeCurrentTime)
		xproto.DestroyWindow(conn, win)
		conn.Sync()
	}()

	if err := grabInput(conn, win); err != nil {
		return geometry.Rect{}, false, err
	}

	gc, err := xproto.NewGcontextId(conn)
	if err != nil {
		return geometry.Rect{}, false, fmt.Errorf("failed to create graphics context ID: %w", err)
	}
	if err := xproto.CreateGCChecked(conn, gc, xproto.Drawable(win), 0, nil).Check(); err != nil {
		return geometry.Rect{}, false, fmt.Errorf("failed to create GC: %w", err)
	}
	defer xproto.FreeGC(conn, gc)

	format, err := xutil.FormatFor(conn, screen.RootDepth)
	if err != nil {
		return geometry.Rect{}, false, err
	}

	p := &painter{
		conn:     conn,
		win:      win,
		gc:       gc,
		format:   format,
		backdrop: backdrop,
		canvas:   image.NewRGBA(bounds),
		log:      log,
	}

	sel := New()
	h := newEventHandler(sel, scale, escapeKeycodes(conn))
	sel.OnRedraw = func(r geometry.Rect) {
		p.update(geometry.Scale(r, scale).Image())
	}
	h.expose = p.paint

	p.paint(bounds)

	log.Debug().
		Str("screen", bounds.String()).
		Float64("scale", scale).
		Msg("Region selection started")

	events := make(chan xgb.Event)
	xerrs := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)
	go pump(conn, events, xerrs, done)

	for !sel.Finished() {
		select {
		case <-ctx.Done():
			sel.Cancel()
			return geometry.Rect{}, false, ctx.Err()
		case err := <-xerrs:
			sel.Cancel()
			return geometry.Rect{}, false, fmt.Errorf("X connection failed during selection: %w", err)
		case ev := <-events:
			h.dispatch(ev)
		}
	}

	rect, ok := sel.Result()
	log.Debug().
		Bool("ok", ok).
		Str("rect", rect.String()).
		Msg("Region selection finished")
	return rect, ok, nil
}

// createWindow maps a full-screen override-redirect window with a crosshair
// cursor above everything else
func (o *X11Overlay) createWindow(conn *xgb.Conn, screen *xproto.ScreenInfo) (xproto.Window, error) {
	win, err := xproto.NewWindowId(conn)
	if err != nil {
		return 0, fmt.Errorf("failed to create window ID: %w", err)
	}

	cursor := crosshairCursor(conn)

	// Values must follow the bit order of the mask
	mask := uint32(xproto.CwBackPixel | xproto.CwOverrideRedirect | xproto.CwEventMask | xproto.CwCursor)
	values := []uint32{
		screen.BlackPixel,
		1,
		xproto.EventMaskExposure |
			xproto.EventMaskButtonPress |
			xproto.EventMaskButtonRelease |
			xproto.EventMaskPointerMotion |
			xproto.EventMaskKeyPress |
			xproto.EventMaskStructureNotify,
		uint32(cursor),
	}

	err = xproto.CreateWindowChecked(
		conn,
		screen.RootDepth,
		win,
		screen.Root,
		0, 0,
		screen.WidthInPixels, screen.HeightInPixels,
		0,
		xproto.WindowClassInputOutput,
		screen.RootVisual,
		mask,
		values,
	).Check()
	if err != nil {
		return 0, fmt.Errorf("failed to create overlay window: %w", err)
	}

	if err := xproto.MapWindowChecked(conn, win).Check(); err != nil {
		xproto.DestroyWindow(conn, win)
		return 0, fmt.Errorf("failed to map overlay window: %w", err)
	}
	xproto.ConfigureWindow(conn, win, xproto.ConfigWindowStackMode, []uint32{xproto.StackModeAbove})
	conn.Sync()

	return win, nil
}

// crosshairCursor returns a crosshair from the cursor font, or 0 (inherit)
// when the font is unavailable
func crosshairCursor(conn *xgb.Conn) xproto.Cursor {
	font, err := xproto.NewFontId(conn)
	if err != nil {
		return 0
	}
	const name = "cursor"
	if err := xproto.OpenFontChecked(conn, font, uint16(len(name)), name).Check(); err != nil {
		return 0
	}
	defer xproto.CloseFont(conn, font)

	cursor, err := xproto.NewCursorId(conn)
	if err != nil {
		return 0
	}
	err = xproto.CreateGlyphCursorChecked(
		conn, cursor, font, font,
		glyphCrosshair, glyphCrosshairMask,
		0xffff, 0xffff, 0xffff,
		0, 0, 0,
	).Check()
	if err != nil {
		return 0
	}
	return cursor
}

// grabInput takes the pointer and keyboard. A window manager may still hold
// a grab from the click that launched us, so a few retries are allowed.
func grabInput(conn *xgb.Conn, win xproto.Window) error {
	pointerMask := uint16(xproto.EventMaskButtonPress | xproto.EventMaskButtonRelease | xproto.EventMaskPointerMotion)

	var pointerOK, keyboardOK bool
	for attempt := 0; attempt < grabAttempts; attempt++ {
		if !pointerOK {
			reply, err := xproto.GrabPointer(
				conn, false, win, pointerMask,
				xproto.GrabModeAsync, xproto.GrabModeAsync,
				win, xproto.CursorNone, xproto.TimeCurrentTime,
			).Reply()
			pointerOK = err == nil && reply.Status == xproto.GrabStatusSuccess
		}
		if !keyboardOK {
			reply, err := xproto.GrabKeyboard(
				conn, false, win, xproto.TimeCurrentTime,
				xproto.GrabModeAsync, xproto.GrabModeAsync,
			).Reply()
			keyboardOK = err == nil && reply.Status == xproto.GrabStatusSuccess
		}
		if pointerOK && keyboardOK {
			return nil
		}
		time.Sleep(grabBackoff)
	}

	if !pointerOK {
		return fmt.Errorf("failed to grab pointer")
	}
	return fmt.Errorf("failed to grab keyboard")
}

// escapeKeycodes returns every keycode that produces Escape
func escapeKeycodes(conn *xgb.Conn) map[xproto.Keycode]bool {
	setup := xproto.Setup(conn)
	first := setup.MinKeycode
	count := byte(setup.MaxKeycode - setup.MinKeycode + 1)

	codes := make(map[xproto.Keycode]bool)
	reply, err := xproto.GetKeyboardMapping(conn, first, count).Reply()
	if err != nil || reply.KeysymsPerKeycode == 0 {
		return codes
	}
	per := int(reply.KeysymsPerKeycode)
	for i, sym := range reply.Keysyms {
		if sym == keysymEscape {
			codes[first+xproto.Keycode(i/per)] = true
		}
	}
	return codes
}

// snapshotRoot grabs the current screen contents
func snapshotRoot(conn *xgb.Conn, screen *xproto.ScreenInfo) (*image.RGBA, error) {
	format, err := xutil.FormatFor(conn, screen.RootDepth)
	if err != nil {
		return nil, err
	}
	if format.BitsPerPixel != 32 {
		return nil, fmt.Errorf("unsupported root format: %d bpp", format.BitsPerPixel)
	}
	reply, err := xproto.GetImage(
		conn,
		xproto.ImageFormatZPixmap,
		xproto.Drawable(screen.Root),
		0, 0,
		screen.WidthInPixels, screen.HeightInPixels,
		0xffffffff,
	).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to get root image: %w", err)
	}
	return xutil.DecodeBGRA(reply.Data, int(screen.WidthInPixels), int(screen.HeightInPixels)), nil
}

// pump forwards X events until the connection closes or done is closed
func pump(conn *xgb.Conn, events chan<- xgb.Event, xerrs chan<- error, done <-chan struct{}) {
	for {
		ev, xerr := conn.WaitForEvent()
		if ev == nil && xerr == nil {
			select {
			case xerrs <- errConnClosed:
			case <-done:
			}
			return
		}
		if xerr != nil {
			// Asynchronous request errors are not fatal to the selection
			logger.WithComponent("selector").Debug().Str("error", xerr.Error()).Msg("X error during selection")
			continue
		}
		select {
		case events <- ev:
		case <-done:
			return
		}
	}
}

// eventHandler translates X events into selector input
type eventHandler struct {
	sel    *Selector
	scale  float64
	escape map[xproto.Keycode]bool
	expose func(image.Rectangle)
}

func newEventHandler(sel *Selector, scale float64, escape map[xproto.Keycode]bool) *eventHandler {
	if scale <= 0 {
		scale = 1
	}
	return &eventHandler{sel: sel, scale: scale, escape: escape}
}

func (h *eventHandler) point(x, y int16) geometry.Point {
	return geometry.Point{X: float64(x) / h.scale, Y: float64(y) / h.scale}
}

func (h *eventHandler) dispatch(ev xgb.Event) {
	switch e := ev.(type) {
	case xproto.ButtonPressEvent:
		switch e.Detail {
		case xproto.ButtonIndex1:
			h.sel.PointerDown(h.point(e.EventX, e.EventY))
		case xproto.ButtonIndex3:
			h.sel.Cancel()
		}
	case xproto.MotionNotifyEvent:
		h.sel.PointerMove(h.point(e.EventX, e.EventY))
	case xproto.ButtonReleaseEvent:
		if e.Detail == xproto.ButtonIndex1 {
			h.sel.PointerUp(h.point(e.EventX, e.EventY))
		}
	case xproto.KeyPressEvent:
		if h.escape[e.Detail] {
			h.sel.Cancel()
		}
	case xproto.ExposeEvent:
		if h.expose != nil {
			h.expose(image.Rect(int(e.X), int(e.Y), int(e.X)+int(e.Width), int(e.Y)+int(e.Height)))
		}
	case xproto.UnmapNotifyEvent, xproto.DestroyNotifyEvent:
		// Something tore the overlay down under us
		h.sel.Cancel()
	}
}

// painter keeps the overlay window in sync with the live selection
type painter struct {
	conn     *xgb.Conn
	win      xproto.Window
	gc       xproto.Gcontext
	format   xutil.PixmapFormat
	backdrop *overlay.Backdrop
	canvas   *image.RGBA
	sel      image.Rectangle
	log      *zerolog.Logger
}

// update moves the selection to sel and repaints what changed
func (p *painter) update(sel image.Rectangle) {
	dirty := p.footprint(p.sel).Union(p.footprint(sel))
	p.sel = sel
	p.paint(dirty)
}

// footprint is everything drawn for sel: the cut-out, its border and label
func (p *painter) footprint(sel image.Rectangle) image.Rectangle {
	if sel.Empty() {
		return image.Rectangle{}
	}
	return sel.Inset(-2 * max(p.backdrop.Style().BorderWidth, 1)).Union(p.backdrop.LabelRect(sel))
}

func (p *painter) paint(r image.Rectangle) {
	r = r.Intersect(p.canvas.Bounds())
	if r.Empty() {
		return
	}
	p.backdrop.Render(p.canvas, r, p.sel)
	if err := xutil.PutImage(p.conn, xproto.Drawable(p.win), p.gc, p.format, p.canvas, r, r.Min); err != nil {
		p.log.Warn().Err(err).Str("rect", r.String()).Msg("Failed to paint selection overlay")
	}
}
