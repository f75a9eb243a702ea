package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/autoposter/internal/workflow"
)

func runCmd(cfgPath *string) *cobra.Command {
	var topic string
	var showTrace bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute one workflow run and print the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := loadApp(ctx, *cfgPath)
			if err != nil {
				return err
			}
			defer a.close()

			res, runErr := a.runner.Run(ctx, workflow.TriggerCLI, topic)
			if res != nil {
				if showTrace {
					cmd.PrintErrln(res.Trace)
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(res); err != nil {
					return err
				}
			}
			return runErr
		},
	}
	cmd.Flags().StringVar(&topic, "topic", "", "topic to research (overrides workflow.topic)")
	cmd.Flags().BoolVar(&showTrace, "trace", false, "print the execution trace to stderr")
	return cmd
}
