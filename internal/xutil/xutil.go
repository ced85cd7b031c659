// Package xutil holds the small X11 property helpers shared by the window
// backend, capture facility, selection overlay and PiP surface.
package xutil

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/bryanchriswhite/RegionPiP/internal/geometry"
)

// Atom interns name and returns its atom ID
func Atom(conn *xgb.Conn, name string) (xproto.Atom, error) {
	reply, err := xproto.InternAtom(conn, false, uint16(len(name)), name).Reply()
	if err != nil {
		return 0, fmt.Errorf("intern %s: %w", name, err)
	}
	return reply.Atom, nil
}

// PropertyBytes returns the raw value of a window property
func PropertyBytes(conn *xgb.Conn, win xproto.Window, atom xproto.Atom) ([]byte, error) {
	reply, err := xproto.GetProperty(
		conn,
		false,
		win,
		atom,
		xproto.GetPropertyTypeAny,
		0,
		(1<<32)-1,
	).Reply()
	if err != nil {
		return nil, err
	}
	if reply.ValueLen == 0 {
		return nil, fmt.Errorf("empty property")
	}
	return reply.Value, nil
}

// PropertyString returns a property value as a string
func PropertyString(conn *xgb.Conn, win xproto.Window, name string) (string, error) {
	atom, err := Atom(conn, name)
	if err != nil {
		return "", err
	}
	value, err := PropertyBytes(conn, win, atom)
	if err != nil {
		return "", err
	}
	return string(value), nil
}

// PropertyCardinals returns a property value as a list of 32-bit values
// (CARDINAL, WINDOW and ATOM lists all use this layout)
func PropertyCardinals(conn *xgb.Conn, win xproto.Window, name string) ([]uint32, error) {
	atom, err := Atom(conn, name)
	if err != nil {
		return nil, err
	}
	value, err := PropertyBytes(conn, win, atom)
	if err != nil {
		return nil, err
	}
	return Uint32s(value), nil
}

// Uint32s decodes a 32-bit format property payload
func Uint32s(value []byte) []uint32 {
	out := make([]uint32, 0, len(value)/4)
	for i := 0; i+4 <= len(value); i += 4 {
		out = append(out, binary.LittleEndian.Uint32(value[i:]))
	}
	return out
}

// Uint32Bytes encodes values as a 32-bit format property payload
func Uint32Bytes(values ...uint32) []byte {
	out := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(out[4*i:], v)
	}
	return out
}

// SetCardinals replaces a 32-bit property on win
func SetCardinals(conn *xgb.Conn, win xproto.Window, name string, typ xproto.Atom, values ...uint32) error {
	atom, err := Atom(conn, name)
	if err != nil {
		return err
	}
	return xproto.ChangePropertyChecked(conn, xproto.PropModeReplace, win, atom, typ, 32,
		uint32(len(values)), Uint32Bytes(values...)).Check()
}

// SetString replaces an 8-bit string property on win
func SetString(conn *xgb.Conn, win xproto.Window, name, typeName, value string) error {
	atom, err := Atom(conn, name)
	if err != nil {
		return err
	}
	var typ xproto.Atom = xproto.AtomString
	if typeName != "" {
		if typ, err = Atom(conn, typeName); err != nil {
			return err
		}
	}
	return xproto.ChangePropertyChecked(conn, xproto.PropModeReplace, win, atom, typ, 8,
		uint32(len(value)), []byte(value)).Check()
}

// SendClientMessage sends a 32-bit client message to the root window the way
// EWMH requests (_NET_WM_STATE, _NET_WM_MOVERESIZE) expect
func SendClientMessage(conn *xgb.Conn, root, win xproto.Window, name string, data ...uint32) error {
	atom, err := Atom(conn, name)
	if err != nil {
		return err
	}
	var payload [5]uint32
	copy(payload[:], data)
	ev := xproto.ClientMessageEvent{
		Format: 32,
		Window: win,
		Type:   atom,
		Data:   xproto.ClientMessageDataUnionData32New(payload[:]),
	}
	mask := uint32(xproto.EventMaskSubstructureRedirect | xproto.EventMaskSubstructureNotify)
	return xproto.SendEventChecked(conn, false, root, mask, string(ev.Bytes())).Check()
}

// ParseWMClass splits a WM_CLASS value (instance\0class\0) into its parts
func ParseWMClass(raw string) (instance, class string) {
	parts := strings.Split(raw, "\x00")
	if len(parts) >= 1 {
		instance = parts[0]
	}
	if len(parts) >= 2 {
		class = parts[1]
	}
	if class == "" {
		class = instance
	}
	return instance, class
}

// XftDPI extracts Xft.dpi from a RESOURCE_MANAGER string. Returns 0 if absent.
func XftDPI(resources string) float64 {
	for _, line := range strings.Split(resources, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok || strings.TrimSpace(key) != "Xft.dpi" {
			continue
		}
		dpi, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err == nil && dpi > 0 {
			return dpi
		}
	}
	return 0
}

// DetectScaleFactor reads Xft.dpi from the root window's resource database and
// converts it to a backing scale factor. Falls back to 1.
func DetectScaleFactor(conn *xgb.Conn, root xproto.Window) float64 {
	resources, err := PropertyString(conn, root, "RESOURCE_MANAGER")
	if err != nil {
		return 1
	}
	return geometry.ScaleFactorFromDPI(XftDPI(resources))
}
