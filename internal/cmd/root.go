// Package cmd implements the inventoryctl command tree.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "unknown",
	BuildDate: "unknown",
}

// SetVersionInfo records build metadata injected by the linker.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

var (
	cfgFile      string
	apiURL       string
	outputFormat string
	logLevel     string
)

var rootCmd = &cobra.Command{
	Use:   "inventoryctl",
	Short: "Inventory and demand forecasting client",
	Long: `inventoryctl works with the inventory forecasting API from the terminal.

Log in once; the session (token, user and active company) is kept between
runs. Every request is sent for the active company, which can be switched
with 'inventoryctl company use'.

Sales imports and demand predictions run as server-side jobs. Pass --watch
to follow them until they finish, or check on them later with
'inventoryctl jobs status' and 'inventoryctl jobs watch'.

Examples:
  inventoryctl login --email ana@example.com
  inventoryctl company use 2
  inventoryctl sales import exports/**/*.csv --watch
  inventoryctl predict 17 --watch -o json`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "Config file (default $XDG_CONFIG_HOME/inventoryctl/config.yaml)")
	pf.StringVar(&apiURL, "api-url", "", "API base URL (overrides api.base_url)")
	pf.StringVarP(&outputFormat, "output", "o", "", "Output format: table, json or yaml")
	pf.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn or error")
}

// Execute runs the command tree and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	fmt.Fprintln(rootCmd.ErrOrStderr(), "Error:", err)
	return ExitCode(err)
}
