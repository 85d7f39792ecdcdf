package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/yumyum-web/realtime-collaborative-code-editor-sub000/api"
)

var rootCmd = &cobra.Command{
	Use:   "vcsd",
	Short: "Version control service for collaboratively edited projects",
	Long: `vcsd keeps one git repository per project and exposes branches,
commits and merges over HTTP, with change events streamed over websockets.`,
	Version:       api.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "vcsd %s (commit %s, built %s)\n", api.Version, api.GitCommit, api.BuildTime)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
