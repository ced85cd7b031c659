package settings

import (
	"fmt"
	"math"
	"time"
)

// Opacity bounds and step used by the slider in the control surface
const (
	MinOpacity  = 0.3
	MaxOpacity  = 1.0
	OpacityStep = 0.1
)

// Supported capture frame rates
const (
	FrameRate30 = 30
	FrameRate60 = 60
)

// PresentationState is the process-wide set of user-facing PiP settings.
// It is owned by the UI loop; other goroutines see copies.
type PresentationState struct {
	Opacity     float64 `json:"opacity" yaml:"opacity"`
	AlwaysOnTop bool    `json:"always_on_top" yaml:"always_on_top"`
	FrameRate   int     `json:"frame_rate" yaml:"frame_rate"`
	ShowCursor  bool    `json:"show_cursor" yaml:"show_cursor"`
}

// Defaults returns the state used when nothing is configured
func Defaults() PresentationState {
	return PresentationState{
		Opacity:     MaxOpacity,
		AlwaysOnTop: true,
		FrameRate:   FrameRate60,
		ShowCursor:  true,
	}
}

// ClampOpacity snaps v to the nearest 0.1 step inside [0.3, 1.0]
func ClampOpacity(v float64) float64 {
	if math.IsNaN(v) {
		return MaxOpacity
	}
	v = math.Round(v/OpacityStep) * OpacityStep
	if v < MinOpacity {
		v = MinOpacity
	}
	if v > MaxOpacity {
		v = MaxOpacity
	}
	// Remove float noise like 0.30000000000000004
	return math.Round(v*10) / 10
}

// ValidateFrameRate returns an error for anything other than 30 or 60
func ValidateFrameRate(fps int) error {
	if fps != FrameRate30 && fps != FrameRate60 {
		return fmt.Errorf("unsupported frame rate %d (use %d or %d)", fps, FrameRate30, FrameRate60)
	}
	return nil
}

// Normalized returns a copy with opacity clamped and an invalid frame rate
// replaced by the default
func (s PresentationState) Normalized() PresentationState {
	s.Opacity = ClampOpacity(s.Opacity)
	if ValidateFrameRate(s.FrameRate) != nil {
		s.FrameRate = FrameRate60
	}
	return s
}

// FrameInterval returns the minimum time between captured frames
func (s PresentationState) FrameInterval() time.Duration {
	fps := s.FrameRate
	if fps <= 0 {
		fps = FrameRate60
	}
	return time.Second / time.Duration(fps)
}

// StartParams are the settings captured into a session's config at start
type StartParams struct {
	FrameRate  int  `json:"frame_rate"`
	ShowCursor bool `json:"show_cursor"`
}

// FrameInterval returns the minimum time between captured frames
func (p StartParams) FrameInterval() time.Duration {
	return PresentationState{FrameRate: p.FrameRate}.FrameInterval()
}
