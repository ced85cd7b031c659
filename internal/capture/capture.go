package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/bryanchriswhite/RegionPiP/internal/geometry"
)

// ErrSourceGone terminates a stream whose window was destroyed
var ErrSourceGone = errors.New("capture source window is gone")

// Config is the immutable description of one stream
type Config struct {
	WindowID      uint32             `json:"window_id"`
	Crop          geometry.Rect      `json:"crop"`  // window-local, logical points
	Scale         float64            `json:"scale"` // device pixels per logical point
	Output        geometry.PixelRect `json:"output"`
	FrameInterval time.Duration      `json:"frame_interval"`
	ShowCursor    bool               `json:"show_cursor"`
}

// SourceRect returns the crop in window-local device pixels
func (c Config) SourceRect() geometry.PixelRect {
	return geometry.Scale(c.Crop, c.Scale)
}

// Validate rejects configurations no facility can satisfy
func (c Config) Validate() error {
	switch {
	case c.WindowID == 0:
		return fmt.Errorf("no window handle")
	case c.Scale <= 0:
		return fmt.Errorf("invalid scale factor %v", c.Scale)
	case c.Crop.IsEmpty():
		return fmt.Errorf("empty crop %s", c.Crop)
	case c.SourceRect().Empty():
		return fmt.Errorf("crop %s is smaller than one device pixel", c.Crop)
	case c.Output.Empty():
		return fmt.Errorf("empty output size %s", c.Output)
	case c.FrameInterval <= 0:
		return fmt.Errorf("invalid frame interval %v", c.FrameInterval)
	}
	return nil
}

// Sink receives each captured frame on the producer goroutine. The image
// belongs to the receiver once passed.
type Sink func(img *image.RGBA)

// Facility starts window streams
type Facility interface {
	// StartStream begins delivering cropped, scaled frames of cfg.WindowID
	// to sink. ctx bounds only the start itself.
	StartStream(ctx context.Context, cfg Config, sink Sink) (Stream, error)

	// Name returns a human-readable name for this facility
	Name() string
}

// Stream is a running capture
type Stream interface {
	// Stop ends the stream and waits for the producer to exit. Idempotent.
	Stop() error

	// Done yields exactly one value when the stream ends, nil if it was
	// stopped and the terminal error otherwise, and is then closed.
	Done() <-chan error
}
