package xutil

import (
	"fmt"
	"image"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
)

// PixmapFormat describes how the server lays out ZPixmap data for a depth
type PixmapFormat struct {
	Depth        uint8
	BitsPerPixel uint8
	ScanlinePad  uint8
}

// FormatFor looks up the pixmap format the server uses for depth
func FormatFor(conn *xgb.Conn, depth uint8) (PixmapFormat, error) {
	for _, f := range xproto.Setup(conn).PixmapFormats {
		if f.Depth == depth {
			return PixmapFormat{Depth: f.Depth, BitsPerPixel: f.BitsPerPixel, ScanlinePad: f.ScanlinePad}, nil
		}
	}
	return PixmapFormat{}, fmt.Errorf("no format found for depth %d", depth)
}

// Stride returns the padded byte length of a scanline of width pixels
func (f PixmapFormat) Stride(width int) int {
	unpadded := width * int(f.BitsPerPixel) / 8
	pad := int(f.ScanlinePad) / 8
	if pad <= 0 {
		return unpadded
	}
	return ((unpadded + pad - 1) / pad) * pad
}

// DecodeBGRA converts 32bpp ZPixmap data to RGBA with an opaque alpha
func DecodeBGRA(data []byte, width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	n := width * height * 4
	if len(data) < n {
		n = len(data) - len(data)%4
	}
	for i := 0; i < n; i += 4 {
		img.Pix[i+0] = data[i+2]
		img.Pix[i+1] = data[i+1]
		img.Pix[i+2] = data[i]
		img.Pix[i+3] = 255
	}
	return img
}

// EncodeZPixmap converts the region r of img into ZPixmap bytes for format f.
// Byte order matches the usual visual masks: 0xff (B), 0xff00 (G), 0xff0000 (R).
func EncodeZPixmap(img *image.RGBA, r image.Rectangle, f PixmapFormat) ([]byte, error) {
	bytesPerPixel := int(f.BitsPerPixel) / 8
	if bytesPerPixel != 3 && bytesPerPixel != 4 {
		return nil, fmt.Errorf("unsupported bytes per pixel: %d", bytesPerPixel)
	}
	r = r.Intersect(img.Bounds())
	width, height := r.Dx(), r.Dy()
	stride := f.Stride(width)

	data := make([]byte, stride*height)
	for y := 0; y < height; y++ {
		src := img.Pix[img.PixOffset(r.Min.X, r.Min.Y+y):]
		row := data[y*stride:]
		for x := 0; x < width; x++ {
			s := src[x*4:]
			d := row[x*bytesPerPixel:]
			d[0] = s[2]
			d[1] = s[1]
			d[2] = s[0]
			if bytesPerPixel == 4 && f.Depth == 32 {
				d[3] = s[3]
			}
		}
	}
	return data, nil
}

// PutImage uploads the region r of img to drawable with its top-left at dst.
// The upload is split into row bands so no request exceeds the server's
// maximum request length.
func PutImage(conn *xgb.Conn, drawable xproto.Drawable, gc xproto.Gcontext, f PixmapFormat, img *image.RGBA, r image.Rectangle, dst image.Point) error {
	r = r.Intersect(img.Bounds())
	if r.Empty() {
		return nil
	}

	const headerBytes = 24
	maxBytes := int(xproto.Setup(conn).MaximumRequestLength)*4 - headerBytes
	stride := f.Stride(r.Dx())
	if stride <= 0 || stride > maxBytes {
		return fmt.Errorf("scanline of %d bytes exceeds request limit %d", stride, maxBytes)
	}
	rowsPerBand := maxBytes / stride

	for y := r.Min.Y; y < r.Max.Y; y += rowsPerBand {
		band := image.Rect(r.Min.X, y, r.Max.X, min(y+rowsPerBand, r.Max.Y))
		data, err := EncodeZPixmap(img, band, f)
		if err != nil {
			return err
		}
		err = xproto.PutImageChecked(
			conn,
			xproto.ImageFormatZPixmap,
			drawable,
			gc,
			uint16(band.Dx()),
			uint16(band.Dy()),
			int16(dst.X), int16(dst.Y+(y-r.Min.Y)),
			0,
			f.Depth,
			data,
		).Check()
		if err != nil {
			return fmt.Errorf("failed to put image: %w", err)
		}
	}
	return nil
}
