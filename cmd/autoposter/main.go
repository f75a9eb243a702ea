package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:          "autoposter",
		Short:        "Research the news and publish LinkedIn posts",
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default searches ./config and .)")

	root.AddCommand(
		serveCmd(&cfgPath),
		runCmd(&cfgPath),
		migrateCmd(&cfgPath),
		tokenCmd(&cfgPath),
		linkedinCmd(&cfgPath),
	)
	return root
}
