package cmd

import (
	"runtime"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/inventoryctl/pkg/output"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	RunE:  runVersion,
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

type versionView struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
}

func runVersion(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(outputFormat)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid --output value", err)
	}
	v := versionView{
		Version:   versionInfo.Version,
		Commit:    versionInfo.Commit,
		BuildDate: versionInfo.BuildDate,
		GoVersion: runtime.Version(),
	}
	return output.NewPrinter(cmd.OutOrStdout(), format).Print(v, func() output.Table {
		t := output.Table{Header: []string{"inventoryctl", v.Version}}
		t.AddRow("commit", v.Commit)
		t.AddRow("built", v.BuildDate)
		t.AddRow("go", v.GoVersion)
		return t
	})
}
