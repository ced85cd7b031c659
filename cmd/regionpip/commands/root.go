package commands

import (
	"fmt"
	"os"

	"github.com/bryanchriswhite/RegionPiP/internal/config"
	"github.com/bryanchriswhite/RegionPiP/internal/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "regionpip",
		Short: "RegionPiP - live picture-in-picture of any screen region",
		Long: `RegionPiP lets you drag out a rectangle over one application's window and
mirrors just that region, live, in a small floating window that stays on
top of everything else.

Features:
  • Drag-to-select region overlay with size readout
  • Captures only the configured target application
  • Adjustable opacity, always-on-top, frame rate and cursor
  • Persistent YAML configuration with live reload
  • Local REST + WebSocket control API`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			initLogging()
		},
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/regionpip/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("pretty", false, "human-readable console logs")

	// Bind flags to viper
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("pretty", rootCmd.PersistentFlags().Lookup("pretty"))
	viper.SetEnvPrefix("REGIONPIP")
	viper.AutomaticEnv()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
}

// initLogging configures the global logger from the flags. loadConfig
// refines the level once the config file is read.
func initLogging() {
	level := viper.GetString("log_level")
	if level == "" {
		level = "info"
	}
	logger.Init(level, viper.GetBool("pretty"))
}

// loadConfig opens the configuration manager for the selected file. Without
// --log-level the file's log level takes effect.
func loadConfig() (*config.Manager, error) {
	mgr, err := config.NewManager(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if viper.GetString("log_level") == "" {
		logger.Init(mgr.GetLogLevel(), viper.GetBool("pretty"))
	}
	return mgr, nil
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
