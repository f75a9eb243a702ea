package main

import (
	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/autoposter/config"
	"github.com/mohammad-safakhou/autoposter/internal/store"
)

func migrateCmd(cfgPath *string) *cobra.Command {
	var dir string
	var direction string
	var steps int
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(*cfgPath)
			if err != nil {
				return err
			}
			dsn, err := cfg.Storage.Postgres.DSN()
			if err != nil {
				return err
			}
			if err := store.Migrate(dir, dsn, direction, steps); err != nil {
				return err
			}
			cmd.Printf("migrations applied (%s)\n", direction)
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "file://migrations", "migrations source")
	cmd.Flags().StringVar(&direction, "direction", "up", "up or down")
	cmd.Flags().IntVar(&steps, "steps", 0, "number of steps (0 = all)")
	return cmd
}
