// Package geometry converts drag gestures into rectangles and reconciles them
// against window frames and device scale factors.
//
// Screen coordinates use a top-left origin with Y growing downwards, which is
// the native X11 convention. Logical coordinates are device pixels divided by
// the scale factor.
package geometry

import (
	"fmt"
	"image"
	"math"
)

// Point is a position in logical screen coordinates
type Point struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Rect is an axis-aligned rectangle in logical coordinates.
// A rect with zero width or height means "no selection".
type Rect struct {
	X      float64 `json:"x" yaml:"x"`
	Y      float64 `json:"y" yaml:"y"`
	Width  float64 `json:"width" yaml:"width"`
	Height float64 `json:"height" yaml:"height"`
}

// PixelRect is a rectangle in integer device pixels
type PixelRect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Normalize returns the rectangle spanned by two drag points, regardless of
// drag direction. The origin is the component-wise minimum.
func Normalize(a, b Point) Rect {
	x0, x1 := math.Min(a.X, b.X), math.Max(a.X, b.X)
	y0, y1 := math.Min(a.Y, b.Y), math.Max(a.Y, b.Y)
	return Rect{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
}

// ToWindowLocal expresses sel relative to the window's origin. Size is
// preserved and no clamping happens; see Within for bounds checking.
func ToWindowLocal(sel, window Rect) Rect {
	return Rect{
		X:      sel.X - window.X,
		Y:      sel.Y - window.Y,
		Width:  sel.Width,
		Height: sel.Height,
	}
}

// Scale multiplies r by factor and truncates to whole device pixels.
// Sub-pixel selections lose at most one pixel per dimension.
func Scale(r Rect, factor float64) PixelRect {
	return PixelRect{
		X:      int(math.Floor(r.X * factor)),
		Y:      int(math.Floor(r.Y * factor)),
		Width:  int(math.Floor(r.Width * factor)),
		Height: int(math.Floor(r.Height * factor)),
	}
}

// ScaleFactorFromDPI converts an Xft.dpi value into a device scale factor.
// Non-positive values yield 1.
func ScaleFactorFromDPI(dpi float64) float64 {
	if dpi <= 0 {
		return 1
	}
	return dpi / 96.0
}

// IsEmpty reports whether the rect has no area
func (r Rect) IsEmpty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// Mid returns the center point of the rectangle
func (r Rect) Mid() Point {
	return Point{X: r.X + r.Width/2, Y: r.Y + r.Height/2}
}

// Contains reports whether p lies inside r. The far edges are exclusive so
// that adjacent windows never both claim a point.
func (r Rect) Contains(p Point) bool {
	return p.X >= r.X && p.X < r.X+r.Width &&
		p.Y >= r.Y && p.Y < r.Y+r.Height
}

// Offset returns r translated by (dx, dy)
func (r Rect) Offset(dx, dy float64) Rect {
	r.X += dx
	r.Y += dy
	return r
}

// Within reports whether r lies entirely inside a box of the given size
// anchored at the origin. Used for window-local crops.
func (r Rect) Within(width, height float64) bool {
	return r.X >= 0 && r.Y >= 0 &&
		r.X+r.Width <= width && r.Y+r.Height <= height
}

// Union returns the smallest rect containing both r and o. Empty rects are
// ignored.
func (r Rect) Union(o Rect) Rect {
	if r.IsEmpty() {
		return o
	}
	if o.IsEmpty() {
		return r
	}
	x0 := math.Min(r.X, o.X)
	y0 := math.Min(r.Y, o.Y)
	x1 := math.Max(r.X+r.Width, o.X+o.Width)
	y1 := math.Max(r.Y+r.Height, o.Y+o.Height)
	return Rect{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
}

func (r Rect) String() string {
	return fmt.Sprintf("%.0fx%.0f@(%.0f,%.0f)", r.Width, r.Height, r.X, r.Y)
}

// Image converts the pixel rect to an image.Rectangle
func (p PixelRect) Image() image.Rectangle {
	return image.Rect(p.X, p.Y, p.X+p.Width, p.Y+p.Height)
}

// Empty reports whether the pixel rect has no area
func (p PixelRect) Empty() bool {
	return p.Width <= 0 || p.Height <= 0
}

func (p PixelRect) String() string {
	return fmt.Sprintf("%dx%d@(%d,%d)", p.Width, p.Height, p.X, p.Y)
}
