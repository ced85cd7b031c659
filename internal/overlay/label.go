package overlay

import (
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Label is a small text box drawn next to the selection
type Label struct {
	Text      string
	TextColor color.RGBA
	BgColor   *color.RGBA // nil = transparent
	Padding   int
	Opacity   float64
}

// NewLabel creates a white-on-translucent-black label
func NewLabel(text string) *Label {
	return &Label{
		Text:      text,
		TextColor: color.RGBA{255, 255, 255, 255},
		BgColor:   &color.RGBA{0, 0, 0, 200},
		Padding:   4,
		Opacity:   1.0,
	}
}

// face is the fixed 7x13 bitmap font
var face = basicfont.Face7x13

// Size returns the label's outer dimensions including padding
func (l *Label) Size() image.Point {
	d := &font.Drawer{Face: face}
	w := d.MeasureString(l.Text).Ceil()
	return image.Pt(w+l.Padding*2, face.Height+l.Padding*2)
}

// Render draws the label with its top-left corner at at
func (l *Label) Render(img *image.RGBA, at image.Point) {
	if l.Text == "" {
		return
	}
	size := l.Size()

	if l.BgColor != nil {
		DrawRectangle(img, at.X, at.Y, size.X, size.Y, *l.BgColor, l.Opacity)
	}

	textWidth := size.X - l.Padding*2
	textImg := image.NewRGBA(image.Rect(0, 0, textWidth, face.Height))
	d := &font.Drawer{
		Dst:  textImg,
		Src:  image.NewUniform(l.TextColor),
		Face: face,
		Dot:  fixed.Point26_6{X: 0, Y: fixed.I(face.Ascent)},
	}
	d.DrawString(l.Text)

	BlendImage(img, textImg, at.X+l.Padding, at.Y+l.Padding, l.Opacity)
}

// Place positions a label of the given size just below sel, or just above it
// when there is no room below, keeping it inside bounds
func Place(size image.Point, sel, bounds image.Rectangle) image.Point {
	const gap = 6
	at := image.Pt(sel.Min.X, sel.Max.Y+gap)
	if at.Y+size.Y > bounds.Max.Y {
		at.Y = sel.Min.Y - gap - size.Y
	}
	if at.Y < bounds.Min.Y {
		at.Y = bounds.Min.Y
	}
	if at.X+size.X > bounds.Max.X {
		at.X = bounds.Max.X - size.X
	}
	if at.X < bounds.Min.X {
		at.X = bounds.Min.X
	}
	return at
}

// fill paints r with a solid color
func fill(dst *image.RGBA, r image.Rectangle, c color.Color) {
	draw.Draw(dst, r, image.NewUniform(c), image.Point{}, draw.Src)
}
