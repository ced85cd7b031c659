package overlay

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
)

// Style controls how the selection backdrop looks
type Style struct {
	DimAlpha    float64 // how much the unselected screen is darkened, 0..1
	BorderWidth int
	Dash        int
	BorderColor color.RGBA
	ShowLabel   bool
}

// DefaultStyle returns the standard look: 45% dim, 2px white dashes
func DefaultStyle() Style {
	return Style{
		DimAlpha:    0.45,
		BorderWidth: 2,
		Dash:        6,
		BorderColor: color.RGBA{255, 255, 255, 255},
		ShowLabel:   true,
	}
}

// Backdrop renders selection frames over a frozen screen snapshot. The dimmed
// copy is computed once so each redraw is only copies within the dirty rect.
type Backdrop struct {
	base   *image.RGBA
	dimmed *image.RGBA
	style  Style
	scale  float64
}

// NewBackdrop prepares a backdrop for snapshot. A nil snapshot renders over
// a dark gray fill of size bounds.
func NewBackdrop(snapshot *image.RGBA, bounds image.Rectangle, style Style, scale float64) *Backdrop {
	if snapshot == nil {
		snapshot = image.NewRGBA(bounds)
		fill(snapshot, bounds, color.RGBA{48, 48, 48, 255})
	}
	if scale <= 0 {
		scale = 1
	}
	dimmed := image.NewRGBA(snapshot.Bounds())
	draw.Draw(dimmed, dimmed.Bounds(), snapshot, snapshot.Bounds().Min, draw.Src)
	Dim(dimmed, dimmed.Bounds(), style.DimAlpha)

	return &Backdrop{
		base:   snapshot,
		dimmed: dimmed,
		style:  style,
		scale:  scale,
	}
}

// Bounds returns the screen area the backdrop covers
func (b *Backdrop) Bounds() image.Rectangle {
	return b.base.Bounds()
}

// Style returns the style the backdrop was built with
func (b *Backdrop) Style() Style {
	return b.style
}

// Render draws the region clip of the backdrop into dst with sel (device
// pixels) cut out of the dim layer. An empty sel draws the plain dim layer.
func (b *Backdrop) Render(dst *image.RGBA, clip image.Rectangle, sel image.Rectangle) {
	clip = clip.Intersect(b.base.Bounds()).Intersect(dst.Bounds())
	if clip.Empty() {
		return
	}

	draw.Draw(dst, clip, b.dimmed, clip.Min, draw.Src)
	if sel.Empty() {
		return
	}

	if cut := sel.Intersect(clip); !cut.Empty() {
		draw.Draw(dst, cut, b.base, cut.Min, draw.Src)
	}

	// Stroke on a scratch image so the border never paints outside clip
	scratch := dst.SubImage(clip).(*image.RGBA)
	DashedBorder(scratch, sel, b.style.BorderWidth, b.style.Dash, b.style.BorderColor)

	if b.style.ShowLabel {
		label := NewLabel(SizeText(sel, b.scale))
		at := Place(label.Size(), sel, b.base.Bounds())
		label.Render(scratch, at)
	}
}

// LabelRect returns the area the size label for sel occupies, for dirty
// rectangle tracking
func (b *Backdrop) LabelRect(sel image.Rectangle) image.Rectangle {
	if !b.style.ShowLabel || sel.Empty() {
		return image.Rectangle{}
	}
	size := NewLabel(SizeText(sel, b.scale)).Size()
	at := Place(size, sel, b.base.Bounds())
	return image.Rectangle{Min: at, Max: at.Add(size)}
}

// SizeText formats a device-pixel selection as logical "W x H"
func SizeText(sel image.Rectangle, scale float64) string {
	if scale <= 0 {
		scale = 1
	}
	return fmt.Sprintf("%.0f x %.0f", float64(sel.Dx())/scale, float64(sel.Dy())/scale)
}

// RenderBackdrop renders a full frame of the selection backdrop
func RenderBackdrop(snapshot *image.RGBA, sel image.Rectangle, style Style) *image.RGBA {
	b := NewBackdrop(snapshot, snapshot.Bounds(), style, 1)
	dst := image.NewRGBA(snapshot.Bounds())
	b.Render(dst, dst.Bounds(), sel)
	return dst
}
