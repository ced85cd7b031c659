package capture

import (
	"image"

	"golang.org/x/image/draw"
)

// Cursor is a pointer sprite positioned in root device pixels
type Cursor struct {
	Image *image.RGBA
	// Top-left corner of the sprite (position minus hotspot)
	Origin image.Point
}

// CursorFromARGB converts XFixes cursor pixels (premultiplied ARGB, one
// uint32 per pixel) into an RGBA sprite
func CursorFromARGB(width, height int, pixels []uint32) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for i, p := range pixels {
		if i >= width*height {
			break
		}
		o := i * 4
		img.Pix[o+0] = uint8(p >> 16)
		img.Pix[o+1] = uint8(p >> 8)
		img.Pix[o+2] = uint8(p)
		img.Pix[o+3] = uint8(p >> 24)
	}
	return img
}

// DrawCursor blends cur over dst. offset is the root position of dst's
// top-left pixel.
func DrawCursor(dst *image.RGBA, cur Cursor, offset image.Point) {
	if cur.Image == nil {
		return
	}
	at := cur.Origin.Sub(offset)
	r := cur.Image.Bounds().Add(at)
	if !r.Overlaps(dst.Bounds()) {
		return
	}
	draw.Draw(dst, r, cur.Image, cur.Image.Bounds().Min, draw.Over)
}
