package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/efebarandurmaz/snapcheck/internal/app"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "snapcheck",
		Short:         "Verify that collections survive a snapshot round trip",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file path (YAML)")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the snapcheck version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "snapcheck", app.Version)
		},
	}

	rootCmd.AddCommand(
		newRunCmd(&configPath),
		newProbeCmd(&configPath),
		newSnapshotsCmd(&configPath),
		newSubmitCmd(&configPath),
		versionCmd,
	)
	return rootCmd
}
