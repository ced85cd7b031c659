package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/bryanchriswhite/RegionPiP/internal/controller"
	"github.com/bryanchriswhite/RegionPiP/internal/failure"
	"github.com/bryanchriswhite/RegionPiP/internal/geometry"
	"github.com/spf13/cobra"
)

var selectCmd = &cobra.Command{
	Use:   "select",
	Short: "Select a region once and show it picture-in-picture",
	Long: `Open the selection overlay, then mirror the chosen region of the target
application until Ctrl+C or the captured window goes away.

Press Escape or the right mouse button to cancel the selection.`,
	Example: `  # Use the configured target
  regionpip select

  # Pick a target for this run only
  regionpip select --target code

  # Skip the overlay and capture a fixed region (logical points)
  regionpip select --region 100,100,400,300`,
	RunE: runSelect,
}

var (
	selectTarget string
	selectRegion string
)

func init() {
	rootCmd.AddCommand(selectCmd)

	selectCmd.Flags().StringVarP(&selectTarget, "target", "t", "", "target application (WM_CLASS), overrides the config")
	selectCmd.Flags().StringVarP(&selectRegion, "region", "r", "", "capture X,Y,WIDTH,HEIGHT without the overlay")
}

func runSelect(cmd *cobra.Command, args []string) error {
	var region *geometry.Rect
	if selectRegion != "" {
		r, err := parseRegion(selectRegion)
		if err != nil {
			return err
		}
		region = &r
	}

	configMgr, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := newApp(configMgr, selectTarget)
	if err != nil {
		return fmt.Errorf("failed to initialize capture pipeline: %w", err)
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loopDone := make(chan error, 1)
	go func() { loopDone <- a.ctrl.Run(ctx) }()
	defer func() {
		stop()
		<-loopDone
	}()

	events, unsubscribe := a.ctrl.Subscribe(16)
	defer unsubscribe()

	if err := a.ctrl.StartCapture(ctx, region); err != nil {
		switch {
		case errors.Is(err, controller.ErrCancelled):
			fmt.Println("Selection cancelled")
			return nil
		case ctx.Err() != nil:
			return nil
		}
		if kind := failure.KindOf(err); kind != failure.Unknown {
			return fmt.Errorf("%w\n%s", err, kind.Guidance())
		}
		return err
	}

	fmt.Println("✅ Showing region. Press Ctrl+C to stop.")

	for {
		select {
		case <-ctx.Done():
			fmt.Println()
			return a.ctrl.StopCapture(context.Background())
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			switch ev.Type {
			case controller.EventFailed:
				fmt.Println(describe(ev))
				return fmt.Errorf("capture ended: %s", ev.Kind)
			case controller.EventStopped:
				return nil
			}
		}
	}
}

// parseRegion reads "X,Y,WIDTH,HEIGHT" in logical points
func parseRegion(s string) (geometry.Rect, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return geometry.Rect{}, fmt.Errorf("region must be X,Y,WIDTH,HEIGHT, got %q", s)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return geometry.Rect{}, fmt.Errorf("invalid region value %q: %w", p, err)
		}
		v[i] = f
	}
	r := geometry.Normalize(geometry.Point{X: v[0], Y: v[1]}, geometry.Point{X: v[0] + v[2], Y: v[1] + v[3]})
	if r.IsEmpty() {
		return geometry.Rect{}, fmt.Errorf("region %q has no area", s)
	}
	return r, nil
}
