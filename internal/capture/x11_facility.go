package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/composite"
	"github.com/BurntSushi/xgb/xfixes"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/bryanchriswhite/RegionPiP/internal/logger"
	"github.com/bryanchriswhite/RegionPiP/internal/xutil"
	"golang.org/x/image/draw"
)

// X11Facility streams window regions using X11/XWayland
type X11Facility struct {
	conn             *xgb.Conn
	root             xproto.Window
	screen           *xproto.ScreenInfo
	compositeEnabled bool
	xfixesEnabled    bool
	mu               sync.Mutex
}

// NewX11Facility connects to the X server and initializes the Composite and
// XFixes extensions when present
func NewX11Facility() (*X11Facility, error) {
	log := logger.WithComponent("x11-capture")

	conn, err := xgb.NewConn()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w", err)
	}

	setup := xproto.Setup(conn)
	screen := setup.DefaultScreen(conn)

	f := &X11Facility{
		conn:   conn,
		root:   screen.Root,
		screen: screen,
	}

	if err := composite.Init(conn); err != nil {
		log.Warn().
			Err(err).
			Msg("Composite extension not available - obscured windows will capture what covers them")
	} else {
		f.compositeEnabled = true
	}

	if err := xfixes.Init(conn); err == nil {
		// XFixes requires a version handshake before any other request
		if _, err := xfixes.QueryVersion(conn, 4, 0).Reply(); err == nil {
			f.xfixesEnabled = true
		}
	}
	if !f.xfixesEnabled {
		log.Warn().Msg("XFixes extension not available - cursor will not be drawn")
	}

	return f, nil
}

// Close closes the X11 connection
func (f *X11Facility) Close() error {
	f.conn.Close()
	return nil
}

// Name returns the facility name
func (f *X11Facility) Name() string {
	return "X11"
}

// StartStream validates the window and crop and starts a paced producer
func (f *X11Facility) StartStream(ctx context.Context, cfg Config, sink Sink) (Stream, error) {
	log := logger.WithComponent("x11-capture")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	win := xproto.Window(cfg.WindowID)

	f.mu.Lock()
	geom, err := xproto.GetGeometry(f.conn, xproto.Drawable(win)).Reply()
	f.mu.Unlock()
	if err != nil {
		if isGone(err) {
			return nil, ErrSourceGone
		}
		return nil, fmt.Errorf("failed to get window geometry: %w", err)
	}

	src := cfg.SourceRect().Image()
	bounds := image.Rect(0, 0, int(geom.Width), int(geom.Height))
	if !src.In(bounds) {
		return nil, fmt.Errorf("source %v outside window %v", src, bounds)
	}

	redirected := false
	if f.compositeEnabled {
		f.mu.Lock()
		err := composite.RedirectWindowChecked(f.conn, win, composite.RedirectAutomatic).Check()
		f.mu.Unlock()
		if err != nil {
			log.Warn().
				Err(err).
				Uint32("window_id", cfg.WindowID).
				Msg("Failed to redirect window via Composite, falling back to direct capture")
		} else {
			redirected = true
		}
	}

	log.Info().
		Uint32("window_id", cfg.WindowID).
		Str("source", cfg.SourceRect().String()).
		Str("output", cfg.Output.String()).
		Dur("interval", cfg.FrameInterval).
		Bool("cursor", cfg.ShowCursor).
		Msg("Starting window stream")

	cleanup := func() {
		if redirected {
			f.mu.Lock()
			composite.UnredirectWindow(f.conn, win, composite.RedirectAutomatic)
			f.mu.Unlock()
		}
		log.Debug().Uint32("window_id", cfg.WindowID).Msg("Window stream ended")
	}

	grab := func() (*image.RGBA, error) {
		return f.grab(win, cfg, redirected)
	}
	return RunLoop(cfg.FrameInterval, grab, sink, cleanup), nil
}

// grab captures one frame of the configured source rect
func (f *X11Facility) grab(win xproto.Window, cfg Config, redirected bool) (*image.RGBA, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	attrs, err := xproto.GetWindowAttributes(f.conn, win).Reply()
	if err != nil {
		if isGone(err) {
			return nil, ErrSourceGone
		}
		return nil, fmt.Errorf("failed to get window attributes: %w", err)
	}
	// Minimized or on another desktop: keep showing the last frame
	if attrs.MapState != xproto.MapStateViewable {
		return nil, nil
	}

	geom, err := xproto.GetGeometry(f.conn, xproto.Drawable(win)).Reply()
	if err != nil {
		if isGone(err) {
			return nil, ErrSourceGone
		}
		return nil, fmt.Errorf("failed to get window geometry: %w", err)
	}

	// The window may have shrunk since the stream started
	src := cfg.SourceRect().Image().Intersect(image.Rect(0, 0, int(geom.Width), int(geom.Height)))
	if src.Empty() {
		return nil, nil
	}

	drawable := xproto.Drawable(win)
	if redirected {
		pixmap, err := xproto.NewPixmapId(f.conn)
		if err == nil {
			if err := composite.NameWindowPixmapChecked(f.conn, win, pixmap).Check(); err == nil {
				drawable = xproto.Drawable(pixmap)
				defer xproto.FreePixmap(f.conn, pixmap)
			}
		}
	}

	reply, err := xproto.GetImage(
		f.conn,
		xproto.ImageFormatZPixmap,
		drawable,
		int16(src.Min.X), int16(src.Min.Y),
		uint16(src.Dx()), uint16(src.Dy()),
		0xffffffff,
	).Reply()
	if err != nil {
		if isGone(err) {
			return nil, ErrSourceGone
		}
		return nil, fmt.Errorf("failed to get image: %w", err)
	}

	img := xutil.DecodeBGRA(reply.Data, src.Dx(), src.Dy())

	if cfg.ShowCursor && f.xfixesEnabled {
		if cur, err := f.cursor(); err == nil {
			if origin, err := xproto.TranslateCoordinates(f.conn, win, f.root, 0, 0).Reply(); err == nil {
				offset := image.Pt(int(origin.DstX), int(origin.DstY)).Add(src.Min)
				DrawCursor(img, cur, offset)
			}
		}
	}

	return ScaleTo(img, cfg.Output.Width, cfg.Output.Height), nil
}

// cursor fetches the current pointer sprite (caller holds f.mu)
func (f *X11Facility) cursor() (Cursor, error) {
	reply, err := xfixes.GetCursorImage(f.conn).Reply()
	if err != nil {
		return Cursor{}, err
	}
	return Cursor{
		Image:  CursorFromARGB(int(reply.Width), int(reply.Height), reply.CursorImage),
		Origin: image.Pt(int(reply.X)-int(reply.Xhot), int(reply.Y)-int(reply.Yhot)),
	}, nil
}

// ScaleTo resamples img to width x height, returning img itself when the
// size already matches
func ScaleTo(img *image.RGBA, width, height int) *image.RGBA {
	if width <= 0 || height <= 0 {
		return img
	}
	b := img.Bounds()
	if b.Dx() == width && b.Dy() == height {
		return img
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// isGone reports whether err is the server telling us the window no longer exists
func isGone(err error) bool {
	var we xproto.WindowError
	var de xproto.DrawableError
	return errors.As(err, &we) || errors.As(err, &de)
}
