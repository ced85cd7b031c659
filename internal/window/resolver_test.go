package window

import (
	"context"
	"errors"
	"testing"

	"github.com/bryanchriswhite/RegionPiP/internal/config"
	"github.com/bryanchriswhite/RegionPiP/internal/failure"
	"github.com/bryanchriswhite/RegionPiP/internal/geometry"
)

type fakeBackend struct {
	windows []*config.WindowInfo
	err     error
}

func (f *fakeBackend) ListWindows() ([]*config.WindowInfo, error) { return f.windows, f.err }
func (f *fakeBackend) Close() error                                { return nil }
func (f *fakeBackend) Name() string                                { return "fake" }

func win(id uint32, class string, pid int, frame geometry.Rect, z int) *config.WindowInfo {
	return &config.WindowInfo{
		ID:       id,
		Class:    class,
		Instance: class,
		PID:      pid,
		Frame:    frame,
		ZOrder:   z,
		Viewable: true,
	}
}

func allRunning() ProcessChecker {
	return ProcessCheckerFunc(func(context.Context, int) bool { return true })
}

func TestResolvePicksFrontMost(t *testing.T) {
	backend := &fakeBackend{windows: []*config.WindowInfo{
		win(1, "Firefox", 10, geometry.Rect{X: 0, Y: 0, Width: 800, Height: 600}, 0),
		win(2, "Terminal", 20, geometry.Rect{X: 0, Y: 0, Width: 800, Height: 600}, 1),
		win(3, "firefox", 10, geometry.Rect{X: 100, Y: 100, Width: 800, Height: 600}, 2),
	}}
	r := NewResolver(backend, allRunning())

	got, err := r.Resolve(context.Background(), "firefox", geometry.Point{X: 300, Y: 250})
	if err != nil {
		t.Fatal(err)
	}
	if got.Handle != 3 || got.Window.ID != 3 || got.Target != "firefox" {
		t.Errorf("resolved %+v, want window 3", got)
	}

	// Only window 1 covers this point
	got, err = r.Resolve(context.Background(), "firefox", geometry.Point{X: 50, Y: 50})
	if err != nil {
		t.Fatal(err)
	}
	if got.Handle != 1 {
		t.Errorf("resolved %d, want 1", got.Handle)
	}
}

func TestResolveTargetNotRunning(t *testing.T) {
	backend := &fakeBackend{windows: []*config.WindowInfo{
		win(1, "Terminal", 20, geometry.Rect{Width: 800, Height: 600}, 0),
	}}
	r := NewResolver(backend, allRunning())

	_, err := r.Resolve(context.Background(), "slack", geometry.Point{X: 10, Y: 10})
	if !failure.Is(err, failure.TargetNotRunning) {
		t.Fatalf("err = %v, want TargetNotRunning", err)
	}

	_, err = r.Resolve(context.Background(), "", geometry.Point{})
	if !failure.Is(err, failure.TargetNotRunning) || !errors.Is(err, ErrNoTarget) {
		t.Fatalf("empty target: err = %v", err)
	}
}

func TestResolveFiltersDeadProcesses(t *testing.T) {
	backend := &fakeBackend{windows: []*config.WindowInfo{
		win(1, "zoom", 99, geometry.Rect{Width: 800, Height: 600}, 0),
	}}
	dead := ProcessCheckerFunc(func(_ context.Context, pid int) bool { return pid != 99 })
	r := NewResolver(backend, dead)

	_, err := r.Resolve(context.Background(), "zoom", geometry.Point{X: 10, Y: 10})
	if !failure.Is(err, failure.TargetNotRunning) {
		t.Fatalf("err = %v, want TargetNotRunning", err)
	}
}

func TestResolveWindowNotFound(t *testing.T) {
	hidden := win(2, "zoom", 5, geometry.Rect{X: 1000, Y: 0, Width: 400, Height: 400}, 1)
	hidden.Viewable = false
	backend := &fakeBackend{windows: []*config.WindowInfo{
		win(1, "zoom", 5, geometry.Rect{Width: 400, Height: 400}, 0),
		hidden,
	}}
	r := NewResolver(backend, allRunning())

	for _, p := range []geometry.Point{{X: 500, Y: 100}, {X: 1100, Y: 100}, {X: 400, Y: 10}} {
		_, err := r.Resolve(context.Background(), "zoom", p)
		if !failure.Is(err, failure.WindowNotFound) {
			t.Errorf("point %+v: err = %v, want WindowNotFound", p, err)
		}
	}
}

func TestResolveBackendError(t *testing.T) {
	r := NewResolver(&fakeBackend{err: errors.New("display gone")}, allRunning())
	_, err := r.Resolve(context.Background(), "zoom", geometry.Point{})
	if err == nil || failure.KindOf(err) != failure.Unknown {
		t.Fatalf("err = %v", err)
	}
}

func TestSystemProcessesTreatsUnknownPIDAsRunning(t *testing.T) {
	if !(SystemProcesses{}).Running(context.Background(), 0) {
		t.Error("PID 0 should count as running")
	}
}

func TestGroupApplications(t *testing.T) {
	apps := GroupApplications([]*config.WindowInfo{
		win(1, "Firefox", 10, geometry.Rect{}, 0),
		win(2, "firefox", 10, geometry.Rect{}, 1),
		win(3, "Alacritty", 11, geometry.Rect{}, 2),
		win(4, "", 12, geometry.Rect{}, 3),
		nil,
	})
	if len(apps) != 2 {
		t.Fatalf("got %d apps", len(apps))
	}
	if apps[0].ID != "alacritty" || apps[1].ID != "firefox" || len(apps[1].Windows) != 2 {
		t.Errorf("apps = %+v", apps)
	}
}
