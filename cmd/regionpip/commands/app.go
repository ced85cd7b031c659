package commands

import (
	"context"
	"fmt"
	"image"
	"path/filepath"

	"github.com/bryanchriswhite/RegionPiP/internal/capture"
	"github.com/bryanchriswhite/RegionPiP/internal/compositor"
	"github.com/bryanchriswhite/RegionPiP/internal/config"
	"github.com/bryanchriswhite/RegionPiP/internal/controller"
	"github.com/bryanchriswhite/RegionPiP/internal/logger"
	"github.com/bryanchriswhite/RegionPiP/internal/overlay"
	"github.com/bryanchriswhite/RegionPiP/internal/permission"
	"github.com/bryanchriswhite/RegionPiP/internal/selector"
	"github.com/bryanchriswhite/RegionPiP/internal/window"
)

// portalTokenFile holds the desktop portal restore token next to the config
const portalTokenFile = "portal_token"

// app is the fully wired capture pipeline shared by run and select
type app struct {
	cfgMgr  *config.Manager
	ctrl    *controller.Controller
	backend *window.X11Backend
	facil   *capture.X11Facility
	surface *compositor.X11Surface
	perm    permission.Checker
}

// newApp connects every X11 component and builds the controller. target
// overrides the configured target when non-empty.
func newApp(cfgMgr *config.Manager, target string) (*app, error) {
	log := logger.WithComponent("app")
	cfg := cfgMgr.Get()

	backend, err := window.NewX11Backend(cfg.ScaleFactor)
	if err != nil {
		return nil, err
	}
	scale := backend.ScaleFactor()
	log.Info().Float64("scale", scale).Msg("Connected to X server")

	facil, err := capture.NewX11Facility()
	if err != nil {
		backend.Close()
		return nil, err
	}

	surface, err := compositor.NewX11Surface()
	if err != nil {
		facil.Close()
		backend.Close()
		return nil, err
	}

	style := overlay.DefaultStyle()
	style.DimAlpha = cfg.Selection.DimAlpha
	style.BorderWidth = cfg.Selection.BorderWidth

	perm := permission.Detect(filepath.Join(cfgMgr.GetConfigDir(), portalTokenFile))
	log.Info().Str("checker", perm.Name()).Msg("Permission checker selected")

	id := cfg.Target
	if target != "" {
		id = config.TargetIdentity(target)
	}

	ctrl := controller.New(controller.Deps{
		Permission: perm,
		Resolver:   window.NewResolver(backend, window.SystemProcesses{}),
		Selector:   selector.NewX11Overlay(selector.Options{Style: style, Scale: scale}),
		Facility:   facil,
		Surface:    surface,
	}, controller.Options{
		Target:       id,
		Scale:        scale,
		Presentation: cfg.Presentation,
	})
	ctrl.SetPersist(cfgMgr.SetPresentation)

	surface.SetCallbacks(ctrl.SurfaceDamaged, func(size image.Point) {
		log.Debug().Int("width", size.X).Int("height", size.Y).Msg("PiP window resized")
		ctrl.SurfaceDamaged()
	})

	return &app{
		cfgMgr:  cfgMgr,
		ctrl:    ctrl,
		backend: backend,
		facil:   facil,
		surface: surface,
		perm:    perm,
	}, nil
}

// watchConfig feeds on-disk config edits into the running controller
func (a *app) watchConfig(ctx context.Context) {
	log := logger.WithComponent("app")
	err := a.cfgMgr.Watch(ctx, func(cfg *config.Config) {
		if err := a.ctrl.ApplyPresentation(ctx, cfg.Presentation); err != nil {
			log.Warn().Err(err).Msg("Ignoring presentation change")
		}
		if err := a.ctrl.SetTarget(ctx, cfg.Target); err != nil {
			log.Warn().Err(err).Msg("Ignoring target change")
		}
	})
	if err != nil {
		log.Warn().Err(err).Msg("Config watching disabled")
	}
}

// Close releases the X connections and the portal session bus
func (a *app) Close() {
	a.surface.Close()
	a.facil.Close()
	a.backend.Close()
	if c, ok := a.perm.(interface{ Close() error }); ok {
		c.Close()
	}
}

// describe turns a controller event into one line for the terminal
func describe(ev controller.Event) string {
	switch ev.Type {
	case controller.EventPhase:
		return fmt.Sprintf("… %s", ev.Phase)
	case controller.EventStarted:
		if ev.Session != nil && ev.Session.Config != nil {
			cfg := ev.Session.Config
			return fmt.Sprintf("✅ Capturing window 0x%x (%dx%d)", cfg.WindowID, cfg.Output.Width, cfg.Output.Height)
		}
		return "✅ Capturing"
	case controller.EventStopped:
		return "⏹  Stopped"
	case controller.EventCancelled:
		return "Selection cancelled"
	case controller.EventFailed:
		if ev.Guidance != "" {
			return fmt.Sprintf("❌ %s\n   %s", ev.Error, ev.Guidance)
		}
		return fmt.Sprintf("❌ %s", ev.Error)
	case controller.EventPresentation:
		if p := ev.Presentation; p != nil {
			return fmt.Sprintf("Presentation: opacity %.1f, on top %v, %d fps, cursor %v",
				p.Opacity, p.AlwaysOnTop, p.FrameRate, p.ShowCursor)
		}
	case controller.EventTarget:
		return fmt.Sprintf("Target: %s", ev.Target)
	}
	return string(ev.Type)
}
