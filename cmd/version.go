package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"grimm.is/tether/internal/brand"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of " + brand.BinaryName,
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (commit %s, built %s, %s/%s)\n",
				brand.BinaryName, brand.Version, brand.GitCommit, brand.BuildTime, runtime.GOOS, runtime.GOARCH)
		},
	}
}
