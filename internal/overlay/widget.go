// Package overlay renders the region selection backdrop: the frozen screen
// dimmed everywhere except the live selection, which is outlined with a
// dashed border and labelled with its size.
package overlay

import (
	"image"
	"image/color"
	"image/draw"
)

// BlendImage blends a source image onto a destination image at the given position
// with the specified opacity
func BlendImage(dst *image.RGBA, src image.Image, x, y int, opacity float64) {
	srcBounds := src.Bounds()
	dstBounds := dst.Bounds()

	for sy := srcBounds.Min.Y; sy < srcBounds.Max.Y; sy++ {
		dy := y + (sy - srcBounds.Min.Y)
		if dy < dstBounds.Min.Y || dy >= dstBounds.Max.Y {
			continue
		}

		for sx := srcBounds.Min.X; sx < srcBounds.Max.X; sx++ {
			dx := x + (sx - srcBounds.Min.X)
			if dx < dstBounds.Min.X || dx >= dstBounds.Max.X {
				continue
			}

			sr, sg, sb, sa := src.At(sx, sy).RGBA()
			alpha := float64(sa) * opacity / 65535.0
			if alpha <= 0 {
				continue
			}

			// Both images are alpha-premultiplied, so "over" is a plain lerp
			d := dst.RGBAAt(dx, dy)
			sf := opacity / 257.0
			mix := func(s uint32, dc uint8) uint8 {
				v := float64(s)*sf + float64(dc)*(1-alpha)
				if v > 255 {
					v = 255
				}
				return uint8(v + 0.5)
			}
			outAlpha := alpha + float64(d.A)/255.0*(1-alpha)
			dst.SetRGBA(dx, dy, color.RGBA{
				R: mix(sr, d.R),
				G: mix(sg, d.G),
				B: mix(sb, d.B),
				A: uint8(outAlpha*255 + 0.5),
			})
		}
	}
}

// DrawRectangle draws a filled rectangle with the specified color and opacity
func DrawRectangle(dst *image.RGBA, x, y, width, height int, c color.Color, opacity float64) {
	rect := image.Rect(0, 0, width, height)
	tmp := image.NewRGBA(rect)
	draw.Draw(tmp, rect, image.NewUniform(c), image.Point{}, draw.Src)
	BlendImage(dst, tmp, x, y, opacity)
}

// Dim darkens every pixel of dst inside r towards black by alpha (0..1).
// Used for the opaque backdrop, so it works on the raw channels.
func Dim(dst *image.RGBA, r image.Rectangle, alpha float64) {
	r = r.Intersect(dst.Bounds())
	if r.Empty() {
		return
	}
	keep := uint32((1 - alpha) * 256)
	for y := r.Min.Y; y < r.Max.Y; y++ {
		row := dst.Pix[dst.PixOffset(r.Min.X, y):dst.PixOffset(r.Max.X, y)]
		for i := 0; i < len(row); i += 4 {
			row[i+0] = uint8(uint32(row[i+0]) * keep >> 8)
			row[i+1] = uint8(uint32(row[i+1]) * keep >> 8)
			row[i+2] = uint8(uint32(row[i+2]) * keep >> 8)
		}
	}
}

// DashedBorder strokes the inside edge of r with alternating on/off runs of
// dash pixels. Dashes are phased from the rect origin so they stay put while
// the opposite corner moves.
func DashedBorder(dst *image.RGBA, r image.Rectangle, width, dash int, c color.RGBA) {
	if r.Empty() || width <= 0 {
		return
	}
	if dash <= 0 {
		dash = 1 << 30
	}
	clip := dst.Bounds()
	on := func(i int) bool { return (i/dash)%2 == 0 }
	set := func(x, y int) {
		if image.Pt(x, y).In(clip) {
			dst.SetRGBA(x, y, c)
		}
	}

	for w := 0; w < width; w++ {
		top, bottom := r.Min.Y+w, r.Max.Y-1-w
		left, right := r.Min.X+w, r.Max.X-1-w
		for x := r.Min.X; x < r.Max.X; x++ {
			if on(x - r.Min.X) {
				set(x, top)
				set(x, bottom)
			}
		}
		for y := r.Min.Y; y < r.Max.Y; y++ {
			if on(y - r.Min.Y) {
				set(left, y)
				set(right, y)
			}
		}
	}
}
