package window

import (
	"fmt"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/bryanchriswhite/RegionPiP/internal/config"
	"github.com/bryanchriswhite/RegionPiP/internal/geometry"
	"github.com/bryanchriswhite/RegionPiP/internal/logger"
	"github.com/bryanchriswhite/RegionPiP/internal/xutil"
)

// X11Backend implements the Backend interface using X11
type X11Backend struct {
	conn   *xgb.Conn
	root   xproto.Window
	screen *xproto.ScreenInfo
	scale  float64
}

// NewX11Backend connects to the X server. A scale of 0 detects the factor
// from Xft.dpi.
func NewX11Backend(scale float64) (*X11Backend, error) {
	conn, err := xgb.NewConn()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w", err)
	}

	setup := xproto.Setup(conn)
	screen := setup.DefaultScreen(conn)

	if scale <= 0 {
		scale = xutil.DetectScaleFactor(conn, screen.Root)
	}

	return &X11Backend{
		conn:   conn,
		root:   screen.Root,
		screen: screen,
		scale:  scale,
	}, nil
}

// Close closes the X11 connection
func (b *X11Backend) Close() error {
	b.conn.Close()
	return nil
}

// Name returns the backend name
func (b *X11Backend) Name() string {
	return "x11"
}

// ScaleFactor returns the device pixels per logical point in use
func (b *X11Backend) ScaleFactor() float64 {
	return b.scale
}

// ListWindows returns viewable windows bottom-to-top. It prefers
// _NET_CLIENT_LIST_STACKING, then _NET_CLIENT_LIST, then QueryTree.
func (b *X11Backend) ListWindows() ([]*config.WindowInfo, error) {
	log := logger.WithComponent("x11-backend")

	for _, prop := range []string{"_NET_CLIENT_LIST_STACKING", "_NET_CLIENT_LIST"} {
		ids, err := xutil.PropertyCardinals(b.conn, b.root, prop)
		if err != nil || len(ids) == 0 {
			log.Debug().Err(err).Str("property", prop).Msg("ListWindows: property unavailable")
			continue
		}
		wins := make([]xproto.Window, len(ids))
		for i, id := range ids {
			wins[i] = xproto.Window(id)
		}
		windows := b.describe(wins)
		log.Debug().Str("property", prop).Int("count", len(windows)).Msg("ListWindows: using EWMH")
		return windows, nil
	}

	// QueryTree children are also in stacking order
	tree, err := xproto.QueryTree(b.conn, b.root).Reply()
	if err != nil {
		return nil, fmt.Errorf("query tree: %w", err)
	}
	windows := b.describe(tree.Children)
	log.Debug().Int("count", len(windows)).Msg("ListWindows: using QueryTree fallback")
	return windows, nil
}

// describe builds records for wins, keeping the input order as z-order
func (b *X11Backend) describe(wins []xproto.Window) []*config.WindowInfo {
	log := logger.WithComponent("x11-backend")

	windows := make([]*config.WindowInfo, 0, len(wins))
	for z, win := range wins {
		info, err := b.getWindowInfo(win)
		if err != nil {
			log.Debug().Uint32("winID", uint32(win)).Err(err).Msg("skipping window")
			continue
		}
		// Usually not user windows
		if info.Title == "" && info.Class == "" {
			continue
		}
		if !info.Viewable {
			continue
		}
		info.ZOrder = z
		windows = append(windows, info)
	}
	return windows
}

// getWindowInfo retrieves information about a window
func (b *X11Backend) getWindowInfo(win xproto.Window) (*config.WindowInfo, error) {
	info := &config.WindowInfo{ID: uint32(win)}

	attrs, err := xproto.GetWindowAttributes(b.conn, win).Reply()
	if err != nil {
		return nil, fmt.Errorf("get attributes: %w", err)
	}
	info.Viewable = attrs.MapState == xproto.MapStateViewable

	geom, err := xproto.GetGeometry(b.conn, xproto.Drawable(win)).Reply()
	if err != nil {
		return nil, fmt.Errorf("get geometry: %w", err)
	}
	// Reparenting window managers make geom.X/Y parent-relative
	origin, err := xproto.TranslateCoordinates(b.conn, win, b.root, 0, 0).Reply()
	if err != nil {
		return nil, fmt.Errorf("translate coordinates: %w", err)
	}
	info.Frame = geometry.Rect{
		X:      float64(origin.DstX) / b.scale,
		Y:      float64(origin.DstY) / b.scale,
		Width:  float64(geom.Width) / b.scale,
		Height: float64(geom.Height) / b.scale,
	}

	if title, err := xutil.PropertyString(b.conn, win, "_NET_WM_NAME"); err == nil {
		info.Title = title
	} else if title, err := xutil.PropertyString(b.conn, win, "WM_NAME"); err == nil {
		info.Title = title
	}

	if raw, err := xutil.PropertyString(b.conn, win, "WM_CLASS"); err == nil {
		info.Instance, info.Class = xutil.ParseWMClass(raw)
	}

	if pids, err := xutil.PropertyCardinals(b.conn, win, "_NET_WM_PID"); err == nil && len(pids) > 0 {
		info.PID = int(pids[0])
	}

	return info, nil
}

// GetWindowInfo returns a fresh record for a single window
func (b *X11Backend) GetWindowInfo(windowID uint32) (*config.WindowInfo, error) {
	return b.getWindowInfo(xproto.Window(windowID))
}
