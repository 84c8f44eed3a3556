package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
			return writeJSON(out, map[string]string{
				"version":    versionInfo.Version,
				"commit":     versionInfo.Commit,
				"build_date": versionInfo.BuildDate,
				"go_version": runtime.Version(),
			})
		}
		_, _ = fmt.Fprintf(out, "vidsentry %s\n", versionInfo.Version)
		_, _ = fmt.Fprintf(out, "  commit:  %s\n", versionInfo.Commit)
		_, _ = fmt.Fprintf(out, "  built:   %s\n", versionInfo.BuildDate)
		_, _ = fmt.Fprintf(out, "  go:      %s/%s %s\n", runtime.GOOS, runtime.GOARCH, runtime.Version())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().Bool("json", false, "Output as JSON")
}
