package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bryanchriswhite/RegionPiP/internal/api"
	"github.com/bryanchriswhite/RegionPiP/internal/controller"
	"github.com/bryanchriswhite/RegionPiP/internal/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run RegionPiP with its local control API",
	Long: `Run the capture controller and serve the control API on 127.0.0.1.

Captures are started from the API (POST /api/capture/start) or, with
--select, immediately on launch. The process keeps running between captures
until interrupted.`,
	Example: `  # Serve the control API on the configured port
  regionpip run

  # Capture from Firefox and open the selection overlay right away
  regionpip run --target firefox --select

  # Use another port with debug logging
  regionpip run --port 9090 --log-level debug`,
	RunE: runRun,
}

var (
	runTarget    string
	runSelectNow bool
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runTarget, "target", "t", "", "target application (WM_CLASS), overrides the config")
	runCmd.Flags().BoolVarP(&runSelectNow, "select", "s", false, "start a region selection immediately")
	runCmd.Flags().Int("port", 0, "control API port (default from config, 8080)")

	viper.BindPFlag("server_port", runCmd.Flags().Lookup("port"))
}

func runRun(cmd *cobra.Command, args []string) error {
	fmt.Println("🖼  RegionPiP - live picture-in-picture of a screen region")
	fmt.Println("==========================================================")

	log := logger.WithComponent("run")

	configMgr, err := loadConfig()
	if err != nil {
		return err
	}

	port := configMgr.GetPort()
	if p := viper.GetInt("server_port"); p > 0 {
		port = p
	}

	a, err := newApp(configMgr, runTarget)
	if err != nil {
		return fmt.Errorf("failed to initialize capture pipeline: %w", err)
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loopDone := make(chan error, 1)
	go func() { loopDone <- a.ctrl.Run(ctx) }()
	go a.watchConfig(ctx)

	events, unsubscribe := a.ctrl.Subscribe(32)
	defer unsubscribe()
	go func() {
		for ev := range events {
			log.Info().Str("event", string(ev.Type)).Msg(describe(ev))
		}
	}()

	server := api.NewServer(ctx, a.ctrl, configMgr)
	serverDone := make(chan error, 1)
	go func() { serverDone <- server.ListenAndServe(ctx, port) }()

	fmt.Println()
	log.Info().Msg("✅ RegionPiP is running!")
	log.Info().Msgf("   - API: http://127.0.0.1:%d/api", port)
	log.Info().Msgf("   - Events: ws://127.0.0.1:%d/api/events", port)
	log.Info().Msg("   - Press Ctrl+C to stop")
	fmt.Println()

	if runSelectNow {
		go func() {
			err := a.ctrl.StartCapture(ctx, nil)
			if err != nil && !errors.Is(err, controller.ErrCancelled) && ctx.Err() == nil {
				log.Warn().Err(err).Msg("Initial capture did not start")
			}
		}()
	}

	select {
	case err := <-serverDone:
		stop()
		<-loopDone
		return err
	case <-ctx.Done():
	}

	fmt.Println()
	log.Info().Msg("Shutting down gracefully...")
	if err := <-serverDone; err != nil {
		log.Warn().Err(err).Msg("Control server shutdown")
	}
	return <-loopDone
}
