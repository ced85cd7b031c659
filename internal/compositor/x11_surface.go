package compositor

import (
	"fmt"
	"image"
	"sync"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/bryanchriswhite/RegionPiP/internal/logger"
	"github.com/bryanchriswhite/RegionPiP/internal/xutil"
	"golang.org/x/image/draw"
)

const (
	surfaceTitle = "RegionPiP"
	surfaceClass = "regionpip\x00RegionPiP\x00"

	// Distance from the top-right corner of the screen for a new surface
	surfaceMargin = 24

	// _NET_WM_STATE actions
	stateRemove = 0
	stateAdd    = 1

	// _NET_WM_MOVERESIZE direction for a keyboard-less move
	moveResizeMove = 8

	// Source indication for EWMH requests: a normal application
	sourceApplication = 1
)

// X11Surface is a borderless, non-activating utility window. The user can
// drag it around with the left button; it never takes keyboard focus.
type X11Surface struct {
	conn   *xgb.Conn
	screen *xproto.ScreenInfo
	format xutil.PixmapFormat

	mu     sync.Mutex
	win    xproto.Window
	gc     xproto.Gcontext
	size   image.Point
	canvas *image.RGBA

	onExpose func()
	onResize func(image.Point)
}

// NewX11Surface connects to the X server and starts the event reader
func NewX11Surface() (*X11Surface, error) {
	conn, err := xgb.NewConn()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w", err)
	}

	screen := xproto.Setup(conn).DefaultScreen(conn)
	format, err := xutil.FormatFor(conn, screen.RootDepth)
	if err != nil {
		conn.Close()
		return nil, err
	}

	s := &X11Surface{
		conn:   conn,
		screen: screen,
		format: format,
	}
	go s.readEvents()
	return s, nil
}

// SetCallbacks installs damage and resize handlers. They run on the event
// reader goroutine; callers marshal them onto their own loop.
func (s *X11Surface) SetCallbacks(onExpose func(), onResize func(image.Point)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onExpose = onExpose
	s.onResize = onResize
}

// Map creates the window near the top-right corner of the screen
func (s *X11Surface) Map(size image.Point, onTop bool, opacity float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.win != 0 {
		return fmt.Errorf("surface already mapped")
	}

	size.X = min(max(size.X, 1), int(s.screen.WidthInPixels))
	size.Y = min(max(size.Y, 1), int(s.screen.HeightInPixels))
	x := int(s.screen.WidthInPixels) - size.X - surfaceMargin
	y := surfaceMargin

	win, err := xproto.NewWindowId(s.conn)
	if err != nil {
		return fmt.Errorf("failed to create window ID: %w", err)
	}

	mask := uint32(xproto.CwBackPixel | xproto.CwEventMask)
	values := []uint32{
		0x000000,
		xproto.EventMaskExposure | xproto.EventMaskStructureNotify | xproto.EventMaskButtonPress,
	}
	err = xproto.CreateWindowChecked(
		s.conn,
		s.screen.RootDepth,
		win,
		s.screen.Root,
		int16(max(x, 0)), int16(y),
		uint16(size.X), uint16(size.Y),
		0,
		xproto.WindowClassInputOutput,
		s.screen.RootVisual,
		mask,
		values,
	).Check()
	if err != nil {
		return fmt.Errorf("failed to create window: %w", err)
	}
	s.win = win
	s.size = size

	s.decorate(onTop, opacity)

	if err := xproto.MapWindowChecked(s.conn, win).Check(); err != nil {
		s.destroy()
		return fmt.Errorf("failed to map window: %w", err)
	}

	gc, err := xproto.NewGcontextId(s.conn)
	if err != nil {
		s.destroy()
		return fmt.Errorf("failed to create graphics context ID: %w", err)
	}
	if err := xproto.CreateGCChecked(s.conn, gc, xproto.Drawable(win), 0, nil).Check(); err != nil {
		s.destroy()
		return fmt.Errorf("failed to create GC: %w", err)
	}
	s.gc = gc

	// Some window managers ignore the initial state property for windows
	// they have not managed yet
	if onTop {
		s.sendState(stateAdd, "_NET_WM_STATE_ABOVE")
	}
	s.conn.Sync()

	logger.WithComponent("compositor").Debug().
		Uint32("window_id", uint32(win)).
		Int("width", size.X).
		Int("height", size.Y).
		Msg("PiP window mapped")
	return nil
}

// decorate sets the properties window managers read before mapping
func (s *X11Surface) decorate(onTop bool, opacity float64) {
	log := logger.WithComponent("compositor")
	warn := func(what string, err error) {
		if err != nil {
			log.Warn().Err(err).Msgf("Failed to set %s", what)
		}
	}

	warn("window title", xutil.SetString(s.conn, s.win, "_NET_WM_NAME", "UTF8_STRING", surfaceTitle))
	warn("window class", xutil.SetString(s.conn, s.win, "WM_CLASS", "", surfaceClass))

	// No decorations: flags=MWM_HINTS_DECORATIONS, decorations=0
	if motif, err := xutil.Atom(s.conn, "_MOTIF_WM_HINTS"); err == nil {
		warn("motif hints", xutil.SetCardinals(s.conn, s.win, "_MOTIF_WM_HINTS", motif, 2, 0, 0, 0, 0))
	}

	// Input hint false: the window manager never gives us focus
	warn("WM hints", xutil.SetCardinals(s.conn, s.win, "WM_HINTS", xproto.AtomWmHints, 1, 0, 0, 0, 0, 0, 0, 0, 0))

	if utility, err := xutil.Atom(s.conn, "_NET_WM_WINDOW_TYPE_UTILITY"); err == nil {
		warn("window type", xutil.SetCardinals(s.conn, s.win, "_NET_WM_WINDOW_TYPE", xproto.AtomAtom, uint32(utility)))
	}

	names := []string{"_NET_WM_STATE_STICKY", "_NET_WM_STATE_SKIP_TASKBAR", "_NET_WM_STATE_SKIP_PAGER"}
	if onTop {
		names = append(names, "_NET_WM_STATE_ABOVE")
	}
	var states []uint32
	for _, name := range names {
		if atom, err := xutil.Atom(s.conn, name); err == nil {
			states = append(states, uint32(atom))
		}
	}
	warn("window state", xutil.SetCardinals(s.conn, s.win, "_NET_WM_STATE", xproto.AtomAtom, states...))

	warn("opacity", s.setOpacity(opacity))
}

// Unmap destroys the window
func (s *X11Surface) Unmap() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.destroy()
}

// destroy frees the window and GC (caller holds s.mu)
func (s *X11Surface) destroy() {
	if s.gc != 0 {
		xproto.FreeGC(s.conn, s.gc)
		s.gc = 0
	}
	if s.win != 0 {
		xproto.DestroyWindow(s.conn, s.win)
		s.win = 0
		s.conn.Sync()
	}
	s.canvas = nil
}

// Draw scales img to cover the window, cropping the overflow evenly
func (s *X11Surface) Draw(img *image.RGBA) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.win == 0 || s.gc == 0 {
		return fmt.Errorf("surface not mapped")
	}
	if s.canvas == nil || s.canvas.Bounds().Size() != s.size {
		s.canvas = image.NewRGBA(image.Rectangle{Max: s.size})
	}

	src := FillSource(img.Bounds(), s.size)
	if src.Empty() {
		return nil
	}
	draw.ApproxBiLinear.Scale(s.canvas, s.canvas.Bounds(), img, src, draw.Src, nil)

	return xutil.PutImage(s.conn, xproto.Drawable(s.win), s.gc, s.format, s.canvas, s.canvas.Bounds(), image.Point{})
}

// SetOpacity sets _NET_WM_WINDOW_OPACITY
func (s *X11Surface) SetOpacity(opacity float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.win == 0 {
		return nil
	}
	return s.setOpacity(opacity)
}

func (s *X11Surface) setOpacity(opacity float64) error {
	value := uint32(min(max(opacity, 0), 1) * 0xffffffff)
	return xutil.SetCardinals(s.conn, s.win, "_NET_WM_WINDOW_OPACITY", xproto.AtomCardinal, value)
}

// SetAlwaysOnTop asks the window manager to add or remove the above state
func (s *X11Surface) SetAlwaysOnTop(onTop bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.win == 0 {
		return nil
	}
	action := uint32(stateRemove)
	if onTop {
		action = stateAdd
	}
	return s.sendState(action, "_NET_WM_STATE_ABOVE")
}

func (s *X11Surface) sendState(action uint32, name string) error {
	atom, err := xutil.Atom(s.conn, name)
	if err != nil {
		return err
	}
	return xutil.SendClientMessage(s.conn, s.screen.Root, s.win, "_NET_WM_STATE",
		action, uint32(atom), 0, sourceApplication)
}

// Close destroys the window and disconnects
func (s *X11Surface) Close() error {
	s.Unmap()
	s.conn.Close()
	return nil
}

// readEvents dispatches window events until the connection closes
func (s *X11Surface) readEvents() {
	log := logger.WithComponent("compositor")
	for {
		ev, xerr := s.conn.WaitForEvent()
		if ev == nil && xerr == nil {
			return
		}
		if xerr != nil {
			log.Debug().Str("error", xerr.Error()).Msg("X error on PiP surface")
			continue
		}

		switch e := ev.(type) {
		case xproto.ExposeEvent:
			// Only the last of a series of expose events triggers a repaint
			if e.Count != 0 {
				continue
			}
			s.mu.Lock()
			fn := s.onExpose
			s.mu.Unlock()
			if fn != nil {
				fn()
			}
		case xproto.ConfigureNotifyEvent:
			size := image.Pt(int(e.Width), int(e.Height))
			s.mu.Lock()
			changed := e.Window == s.win && size != s.size
			if changed {
				s.size = size
			}
			fn := s.onResize
			s.mu.Unlock()
			if changed && fn != nil {
				fn(size)
			}
		case xproto.ButtonPressEvent:
			if e.Detail == xproto.ButtonIndex1 {
				s.startMove(e)
			}
		}
	}
}

// startMove hands an in-progress left-button drag to the window manager
func (s *X11Surface) startMove(e xproto.ButtonPressEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.Event != s.win {
		return
	}
	// Release the implicit grab from the press so the window manager can take it
	xproto.UngrabPointer(s.conn, xproto.TimeCurrentTime)
	err := xutil.SendClientMessage(s.conn, s.screen.Root, s.win, "_NET_WM_MOVERESIZE",
		uint32(e.RootX), uint32(e.RootY), moveResizeMove, uint32(xproto.ButtonIndex1), sourceApplication)
	if err != nil {
		logger.WithComponent("compositor").Debug().Err(err).Msg("Window manager move request failed")
	}
}

// FillSource returns the centered part of src that, scaled to dst, covers
// dst completely while preserving the aspect ratio
func FillSource(src image.Rectangle, dst image.Point) image.Rectangle {
	sw, sh := src.Dx(), src.Dy()
	if sw <= 0 || sh <= 0 || dst.X <= 0 || dst.Y <= 0 {
		return image.Rectangle{}
	}

	// Compare sw/sh with dst.X/dst.Y without floating point
	w, h := sw, sh
	if sw*dst.Y > sh*dst.X {
		w = sh * dst.X / dst.Y
	} else {
		h = sw * dst.Y / dst.X
	}
	w, h = max(w, 1), max(h, 1)

	x := src.Min.X + (sw-w)/2
	y := src.Min.Y + (sh-h)/2
	return image.Rect(x, y, x+w, y+h)
}
