package compositor

import (
	"errors"
	"image"
	"testing"

	"github.com/bryanchriswhite/RegionPiP/internal/frame"
	"github.com/bryanchriswhite/RegionPiP/internal/geometry"
)

type fakeSurface struct {
	mapped   bool
	mapSize  image.Point
	mapTop   bool
	mapAlpha float64
	mapErr   error
	draws    []*image.RGBA
	opacity  []float64
	onTop    []bool
}

func (s *fakeSurface) Map(size image.Point, onTop bool, opacity float64) error {
	if s.mapErr != nil {
		return s.mapErr
	}
	s.mapped = true
	s.mapSize, s.mapTop, s.mapAlpha = size, onTop, opacity
	return nil
}

func (s *fakeSurface) Unmap() { s.mapped = false }

func (s *fakeSurface) Draw(img *image.RGBA) error {
	s.draws = append(s.draws, img)
	return nil
}

func (s *fakeSurface) SetOpacity(v float64) error {
	s.opacity = append(s.opacity, v)
	return nil
}

func (s *fakeSurface) SetAlwaysOnTop(v bool) error {
	s.onTop = append(s.onTop, v)
	return nil
}

func testFrame(seq uint64) *frame.Frame {
	return &frame.Frame{Image: image.NewRGBA(image.Rect(0, 0, 4, 4)), Seq: seq}
}

func TestPresentWhileHiddenIsDiscarded(t *testing.T) {
	surf := &fakeSurface{}
	c := New(surf)

	if c.Present(testFrame(1)) {
		t.Error("hidden compositor accepted a frame")
	}
	if c.Current() != nil || len(surf.draws) != 0 {
		t.Error("hidden compositor held or drew a frame")
	}
	if c.Stats().Discarded != 1 {
		t.Errorf("discarded = %d", c.Stats().Discarded)
	}
}

func TestShowPresentHide(t *testing.T) {
	surf := &fakeSurface{}
	c := New(surf)

	if err := c.Show(geometry.PixelRect{Width: 800, Height: 600}); err != nil {
		t.Fatal(err)
	}
	if !c.Visible() || surf.mapSize != image.Pt(800, 600) {
		t.Fatalf("visible=%v size=%v", c.Visible(), surf.mapSize)
	}

	f := testFrame(7)
	if !c.Present(f) {
		t.Fatal("visible compositor rejected a frame")
	}
	if c.Current() != f || len(surf.draws) != 1 || surf.draws[0] != f.Image {
		t.Fatal("frame not drawn")
	}

	c.Redraw()
	if len(surf.draws) != 2 {
		t.Error("Redraw did not repaint the current frame")
	}

	c.Hide()
	if c.Visible() || surf.mapped {
		t.Error("Hide left the surface mapped")
	}
	if c.Current() != nil {
		t.Error("Hide kept the frame reference")
	}

	c.Redraw()
	if len(surf.draws) != 2 {
		t.Error("Redraw drew while hidden")
	}
}

func TestSettingsRememberedWhileHidden(t *testing.T) {
	surf := &fakeSurface{}
	c := New(surf)

	c.SetOpacity(0.5)
	c.SetAlwaysOnTop(false)
	if len(surf.opacity) != 0 || len(surf.onTop) != 0 {
		t.Fatal("hidden compositor touched the surface")
	}

	c.Show(geometry.PixelRect{Width: 10, Height: 10})
	if surf.mapAlpha != 0.5 || surf.mapTop {
		t.Errorf("mapped with opacity=%v onTop=%v", surf.mapAlpha, surf.mapTop)
	}

	c.SetOpacity(0.8)
	if len(surf.opacity) != 1 || surf.opacity[0] != 0.8 {
		t.Errorf("opacity calls = %v", surf.opacity)
	}
}

func TestShowFailureStaysHidden(t *testing.T) {
	surf := &fakeSurface{mapErr: errors.New("no display")}
	c := New(surf)
	if err := c.Show(geometry.PixelRect{Width: 10, Height: 10}); err == nil {
		t.Fatal("expected an error")
	}
	if c.Visible() {
		t.Error("compositor visible after a failed Show")
	}
}

func TestFillSource(t *testing.T) {
	cases := []struct {
		name string
		src  image.Rectangle
		dst  image.Point
		want image.Rectangle
	}{
		{"same aspect", image.Rect(0, 0, 800, 600), image.Pt(400, 300), image.Rect(0, 0, 800, 600)},
		{"wider source", image.Rect(0, 0, 1000, 500), image.Pt(100, 100), image.Rect(250, 0, 750, 500)},
		{"taller source", image.Rect(0, 0, 400, 800), image.Pt(200, 100), image.Rect(0, 300, 400, 500)},
		{"offset source", image.Rect(10, 10, 110, 60), image.Pt(50, 50), image.Rect(35, 10, 85, 60)},
		{"empty dst", image.Rect(0, 0, 10, 10), image.Pt(0, 5), image.Rectangle{}},
	}
	for _, tc := range cases {
		if got := FillSource(tc.src, tc.dst); got != tc.want {
			t.Errorf("%s: FillSource = %v, want %v", tc.name, got, tc.want)
		}
	}
}
