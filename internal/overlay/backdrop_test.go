package overlay

import (
	"image"
	"image/color"
	"testing"
)

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	fill(img, img.Bounds(), c)
	return img
}

func TestRenderBackdropCutsOutSelection(t *testing.T) {
	snap := solid(100, 80, color.RGBA{200, 100, 50, 255})
	style := DefaultStyle()
	style.ShowLabel = false
	sel := image.Rect(20, 20, 60, 50)

	out := RenderBackdrop(snap, sel, style)

	// Inside the selection, away from the border: untouched
	if got := out.RGBAAt(40, 35); got != snap.RGBAAt(40, 35) {
		t.Errorf("inside pixel = %v, want %v", got, snap.RGBAAt(40, 35))
	}
	// Outside: darkened
	got := out.RGBAAt(5, 5)
	if got.R >= 200 || got.G >= 100 || got.A != 255 {
		t.Errorf("outside pixel = %v, want dimmed opaque", got)
	}
	// First dash of the border starts at the selection origin
	if got := out.RGBAAt(20, 20); got != style.BorderColor {
		t.Errorf("border pixel = %v", got)
	}
}

func TestRenderBackdropEmptySelection(t *testing.T) {
	snap := solid(10, 10, color.RGBA{255, 255, 255, 255})
	out := RenderBackdrop(snap, image.Rectangle{}, DefaultStyle())
	if got := out.RGBAAt(5, 5); got.R == 255 {
		t.Errorf("pixel = %v, expected the whole screen dimmed", got)
	}
}

func TestRenderRespectsClip(t *testing.T) {
	snap := solid(50, 50, color.RGBA{255, 255, 255, 255})
	b := NewBackdrop(snap, snap.Bounds(), DefaultStyle(), 1)

	dst := solid(50, 50, color.RGBA{1, 2, 3, 255})
	b.Render(dst, image.Rect(0, 0, 10, 10), image.Rect(0, 0, 40, 40))

	if got := dst.RGBAAt(30, 30); got != (color.RGBA{1, 2, 3, 255}) {
		t.Errorf("pixel outside clip changed to %v", got)
	}
}

func TestDim(t *testing.T) {
	img := solid(2, 1, color.RGBA{200, 200, 200, 255})
	Dim(img, image.Rect(0, 0, 1, 1), 0.5)
	if got := img.RGBAAt(0, 0); got.R != 100 || got.A != 255 {
		t.Errorf("dimmed = %v", got)
	}
	if got := img.RGBAAt(1, 0); got.R != 200 {
		t.Errorf("pixel outside rect = %v", got)
	}
}

func TestBlendImageOpacity(t *testing.T) {
	dst := solid(1, 1, color.RGBA{0, 0, 0, 255})
	src := solid(1, 1, color.RGBA{255, 255, 255, 255})
	BlendImage(dst, src, 0, 0, 0.5)
	got := dst.RGBAAt(0, 0)
	if got.R < 126 || got.R > 129 || got.A != 255 {
		t.Errorf("blend = %v, want ~50%% gray", got)
	}
}

func TestPlaceKeepsLabelOnScreen(t *testing.T) {
	bounds := image.Rect(0, 0, 200, 100)
	size := image.Pt(50, 20)

	if at := Place(size, image.Rect(10, 10, 60, 40), bounds); at != image.Pt(10, 46) {
		t.Errorf("below: %v", at)
	}
	// No room below: goes above
	if at := Place(size, image.Rect(10, 50, 60, 95), bounds); at.Y != 24 {
		t.Errorf("above: %v", at)
	}
	// Right edge
	if at := Place(size, image.Rect(180, 10, 199, 20), bounds); at.X != 150 {
		t.Errorf("right clamp: %v", at)
	}
}

func TestSizeTextUsesLogicalPoints(t *testing.T) {
	if got := SizeText(image.Rect(0, 0, 800, 600), 2); got != "400 x 300" {
		t.Errorf("SizeText = %q", got)
	}
}
