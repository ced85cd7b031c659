package window

import (
	"github.com/bryanchriswhite/RegionPiP/internal/config"
)

// Backend defines the interface for window enumeration sources
type Backend interface {
	// ListWindows returns top-level application windows with their frames in
	// logical root coordinates and their stacking position
	ListWindows() ([]*config.WindowInfo, error)

	// Close closes the connection to the display server
	Close() error

	// Name returns the backend name (e.g., "x11")
	Name() string
}
