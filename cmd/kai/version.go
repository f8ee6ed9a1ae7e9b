package kai

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// Set with -ldflags "-X github.com/Avidan87/KAI-sub000/cmd/kai.version=...".
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version/build metadata",
	Run: func(cmd *cobra.Command, args []string) {
		printVersion(cmd)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func printVersion(cmd *cobra.Command) {
	if jsonOut {
		_ = printJSON(cmd, map[string]string{"version": version, "commit": commit, "date": date, "go": runtime.Version()})
		return
	}
	fmt.Fprintf(cmd.OutOrStdout(), "kai %s (commit %s, built %s, %s)\n", version, commit, date, runtime.Version())
}
