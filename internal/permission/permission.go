// Package permission checks whether this process may capture other
// applications' windows, and asks for that permission where the platform
// has a way to ask.
package permission

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/bryanchriswhite/RegionPiP/internal/failure"
	"github.com/bryanchriswhite/RegionPiP/internal/logger"
)

// ErrDenied is wrapped by the PermissionDenied failure Ensure returns
var ErrDenied = errors.New("screen capture permission not granted")

// Checker answers and requests screen capture permission
type Checker interface {
	// Check reports whether capture is currently allowed without prompting
	Check(ctx context.Context) (bool, error)
	// Request prompts the user where the platform supports it
	Request(ctx context.Context) (bool, error)
	Name() string
}

// Session types returned by SessionType
const (
	SessionX11     = "x11"
	SessionWayland = "wayland"
)

// SessionType classifies the graphical session from its environment
func SessionType(getenv func(string) string) string {
	switch strings.ToLower(getenv("XDG_SESSION_TYPE")) {
	case SessionWayland:
		return SessionWayland
	case SessionX11:
		return SessionX11
	}
	if getenv("WAYLAND_DISPLAY") != "" {
		return SessionWayland
	}
	return SessionX11
}

// Detect picks the checker for the running session. Wayland sessions go
// through the desktop portal; a portal that cannot be reached falls back to
// the X11 checker.
func Detect(tokenPath string) Checker {
	log := logger.WithComponent("permission")

	if SessionType(os.Getenv) == SessionWayland {
		portal, err := NewPortalChecker(tokenPath)
		if err == nil {
			log.Debug().Msg("Using desktop portal permission checks")
			return portal
		}
		log.Warn().Err(err).Msg("Desktop portal unavailable, falling back to X11 checks")
	}
	return NewX11Checker()
}

// Ensure fails with a PermissionDenied failure unless capture is allowed.
// A missing grant is requested once; a refused request is final.
func Ensure(ctx context.Context, c Checker) error {
	ok, err := c.Check(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return failure.New(failure.PermissionDenied, c.Name()+" check", err)
	}
	if ok {
		return nil
	}

	ok, err = c.Request(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return failure.New(failure.PermissionDenied, c.Name()+" request", err)
	}
	if !ok {
		return failure.New(failure.PermissionDenied, c.Name()+" request", ErrDenied)
	}
	return nil
}

// Static is a Checker with a fixed answer
type Static bool

func (s Static) Check(context.Context) (bool, error)   { return bool(s), nil }
func (s Static) Request(context.Context) (bool, error) { return bool(s), nil }
func (s Static) Name() string                          { return "static" }
