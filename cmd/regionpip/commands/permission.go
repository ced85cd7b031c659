package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bryanchriswhite/RegionPiP/internal/failure"
	"github.com/bryanchriswhite/RegionPiP/internal/permission"
	"github.com/spf13/cobra"
)

var permissionCmd = &cobra.Command{
	Use:   "permission",
	Short: "Check screen capture permission",
	Long: `Report whether RegionPiP may capture windows on this session.

On Wayland the desktop portal is asked; --request shows its picker so the
grant can be remembered. On X11 the check verifies the Composite extension
and that the root window can be read.`,
	Example: `  # Check only
  regionpip permission

  # Ask for permission if it is missing
  regionpip permission --request`,
	RunE: runPermission,
}

var permissionRequest bool

func init() {
	rootCmd.AddCommand(permissionCmd)

	permissionCmd.Flags().BoolVar(&permissionRequest, "request", false, "prompt for permission when it is missing")
}

func runPermission(cmd *cobra.Command, args []string) error {
	configMgr, err := loadConfig()
	if err != nil {
		return err
	}

	checker := permission.Detect(filepath.Join(configMgr.GetConfigDir(), portalTokenFile))
	if c, ok := checker.(interface{ Close() error }); ok {
		defer c.Close()
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
	defer cancel()

	fmt.Printf("Session: %s, checker: %s\n", permission.SessionType(os.Getenv), checker.Name())

	granted, err := checker.Check(ctx)
	if err != nil {
		return fmt.Errorf("permission check failed: %w", err)
	}
	if !granted && permissionRequest {
		fmt.Println("Requesting permission...")
		if granted, err = checker.Request(ctx); err != nil {
			return fmt.Errorf("permission request failed: %w", err)
		}
	}

	if !granted {
		return fmt.Errorf("screen capture is not allowed\n%s", failure.PermissionDenied.Guidance())
	}
	fmt.Println("✅ Screen capture is allowed")
	return nil
}
