package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// version is stamped by the release build via -ldflags.
var version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the stackctl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "stackctl %s %s/%s\n", version, runtime.GOOS, runtime.GOARCH)
	},
}
