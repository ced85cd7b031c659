package window

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/bryanchriswhite/RegionPiP/internal/config"
	"github.com/bryanchriswhite/RegionPiP/internal/failure"
	"github.com/bryanchriswhite/RegionPiP/internal/geometry"
	"github.com/bryanchriswhite/RegionPiP/internal/logger"
)

// ErrNoTarget is returned when no target identity is configured
var ErrNoTarget = errors.New("no target application configured")

// ResolvedWindow is the window a capture session will stream from
type ResolvedWindow struct {
	Target config.TargetIdentity `json:"target"`
	Window config.WindowInfo     `json:"window"`
	Handle uint32                `json:"handle"`
}

// Resolver maps a selection point to the front-most window of the target
// application that contains it
type Resolver struct {
	backend Backend
	procs   ProcessChecker
}

// NewResolver creates a resolver. A nil checker uses the system process table.
func NewResolver(backend Backend, procs ProcessChecker) *Resolver {
	if procs == nil {
		procs = SystemProcesses{}
	}
	return &Resolver{backend: backend, procs: procs}
}

// Candidates returns the target's windows whose owning process is running,
// bottom-to-top. It fails with TargetNotRunning if there are none.
func (r *Resolver) Candidates(ctx context.Context, target config.TargetIdentity) ([]config.WindowInfo, error) {
	if target.IsZero() {
		return nil, failure.New(failure.TargetNotRunning, "resolve", ErrNoTarget)
	}

	windows, err := r.backend.ListWindows()
	if err != nil {
		return nil, fmt.Errorf("list windows via %s: %w", r.backend.Name(), err)
	}

	var matches []config.WindowInfo
	for _, w := range windows {
		if w == nil || !target.Matches(w.Class, w.Instance) {
			continue
		}
		if !r.procs.Running(ctx, w.PID) {
			continue
		}
		matches = append(matches, *w)
	}

	if len(matches) == 0 {
		return nil, failure.New(failure.TargetNotRunning, "resolve",
			fmt.Errorf("no running windows for %q", string(target)))
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].ZOrder < matches[j].ZOrder })
	return matches, nil
}

// Resolve picks the front-most viewable window of target whose frame
// contains point. Failures carry TargetNotRunning or WindowNotFound.
func (r *Resolver) Resolve(ctx context.Context, target config.TargetIdentity, point geometry.Point) (*ResolvedWindow, error) {
	log := logger.WithComponent("resolver")

	candidates, err := r.Candidates(ctx, target)
	if err != nil {
		return nil, err
	}

	var best *config.WindowInfo
	for i := range candidates {
		w := &candidates[i]
		if !w.Viewable || !w.Frame.Contains(point) {
			continue
		}
		if best == nil || w.ZOrder > best.ZOrder {
			best = w
		}
	}

	if best == nil {
		return nil, failure.New(failure.WindowNotFound, "resolve",
			fmt.Errorf("no %q window under (%.0f, %.0f)", string(target), point.X, point.Y))
	}

	log.Debug().
		Uint32("window_id", best.ID).
		Str("class", best.Class).
		Str("title", best.Title).
		Int("z_order", best.ZOrder).
		Msg("Resolved target window")

	return &ResolvedWindow{
		Target: target,
		Window: *best,
		Handle: best.ID,
	}, nil
}

// Applications groups the current windows by class
func (r *Resolver) Applications() ([]config.Application, error) {
	windows, err := r.backend.ListWindows()
	if err != nil {
		return nil, err
	}
	return GroupApplications(windows), nil
}

// GroupApplications groups windows by lower-cased class, sorted by name
func GroupApplications(windows []*config.WindowInfo) []config.Application {
	appMap := make(map[string]*config.Application)
	for _, win := range windows {
		if win == nil || win.Class == "" {
			continue
		}
		key := strings.ToLower(win.Class)
		app, exists := appMap[key]
		if !exists {
			app = &config.Application{
				ID:          key,
				Name:        win.Class,
				WindowClass: win.Class,
				PID:         win.PID,
			}
			appMap[key] = app
		}
		app.Windows = append(app.Windows, *win)
	}

	apps := make([]config.Application, 0, len(appMap))
	for _, app := range appMap {
		apps = append(apps, *app)
	}
	sort.Slice(apps, func(i, j int) bool { return apps[i].ID < apps[j].ID })
	return apps
}
