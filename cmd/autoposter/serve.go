package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/autoposter/internal/server"
)

func serveCmd(cfgPath *string) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP trigger surface and the posting schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := loadApp(ctx, *cfgPath)
			if err != nil {
				return err
			}
			defer a.close()
			if addr == "" {
				addr = a.cfg.Server.Address
			}

			if a.cfg.Server.ScheduleEnabled {
				sched, err := server.NewScheduler(a.cfg.Server.Schedule, a.cfg.Workflow.Topic, a.runner, a.logger)
				if err != nil {
					return err
				}
				sched.Start()
				defer close(sched.Stop)
			}

			srv := server.New(server.Options{
				Controller: a.runner,
				Queries:    a.store,
				Telemetry:  a.tele,
				Gatherer:   a.registry,
				JWTSecret:  []byte(a.cfg.Server.JWTSecret),
				Logger:     a.logger,
			})
			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start(addr) }()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}
			a.logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.logger.WithError(err).Warn("http shutdown")
			}
			if err := a.runner.Shutdown(shutdownCtx); err != nil {
				a.logger.WithError(err).Warn("in-flight run did not finish before shutdown")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.address)")
	return cmd
}
