package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/bryanchriswhite/RegionPiP/internal/config"
	"github.com/bryanchriswhite/RegionPiP/internal/window"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List running applications and their windows",
	Long: `List the applications that own top-level windows, grouped by WM_CLASS.

The CLASS column is the value to use as the capture target.`,
	Example: `  # List applications in table format (default)
  regionpip list

  # Include every window with its frame
  regionpip list --windows

  # JSON for scripting
  regionpip list --format json`,
	RunE: runList,
}

var (
	listFormat  string
	listWindows bool
)

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().StringVarP(&listFormat, "format", "f", "table", "output format (table or json)")
	listCmd.Flags().BoolVarP(&listWindows, "windows", "w", false, "show each window under its application")
}

func runList(cmd *cobra.Command, args []string) error {
	configMgr, err := loadConfig()
	if err != nil {
		return err
	}

	backend, err := window.NewX11Backend(configMgr.Get().ScaleFactor)
	if err != nil {
		return fmt.Errorf("failed to connect to X11: %w", err)
	}
	defer backend.Close()

	apps, err := window.NewResolver(backend, window.SystemProcesses{}).Applications()
	if err != nil {
		return fmt.Errorf("failed to get applications: %w", err)
	}

	switch listFormat {
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(apps)
	case "table":
		return printAppsTable(os.Stdout, apps, configMgr.GetTarget(), listWindows)
	default:
		return fmt.Errorf("unsupported format: %s (use 'table' or 'json')", listFormat)
	}
}

func printAppsTable(out io.Writer, apps []config.Application, target config.TargetIdentity, windows bool) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "CLASS\tPID\tWINDOWS\tTARGET")
	fmt.Fprintln(w, "-----\t---\t-------\t------")

	for _, app := range apps {
		mark := ""
		if target.Matches(app.WindowClass, "") {
			mark = "*"
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", app.WindowClass, app.PID, len(app.Windows), mark)

		if !windows {
			continue
		}
		for _, win := range app.Windows {
			title := win.Title
			if len(title) > 48 {
				title = title[:45] + "..."
			}
			title = strings.ReplaceAll(title, "\t", " ")
			fmt.Fprintf(w, "  0x%x\t%.0fx%.0f+%.0f+%.0f\t\t%s\n",
				win.ID, win.Frame.Width, win.Frame.Height, win.Frame.X, win.Frame.Y, title)
		}
	}

	return nil
}
