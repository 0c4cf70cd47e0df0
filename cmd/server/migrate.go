package main

import (
	"fmt"
	"log/slog"

	"github.com/ashureev/sv-explore/internal/store"
	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	var (
		direction string
		steps     int
		createDB  bool
	)
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			if createDB {
				if cfg.Database.URL != "" {
					return fmt.Errorf("--create-db needs POSTGRES_* settings, not DATABASE_URL")
				}
				created, err := store.EnsureDatabase(cmd.Context(), cfg.Database.DSNFor("postgres"), cfg.Database.Name)
				if err != nil {
					return err
				}
				slog.Info("Database ready", "name", cfg.Database.Name, "created", created)
			}

			if err := store.Migrate(cfg.Database.DSN(), direction, steps); err != nil {
				return err
			}
			slog.Info("Migrations applied", "direction", direction, "steps", steps)
			return nil
		},
	}
	cmd.Flags().StringVar(&direction, "direction", "up", "up or down")
	cmd.Flags().IntVar(&steps, "steps", 0, "number of steps (0 = all)")
	cmd.Flags().BoolVar(&createDB, "create-db", false, "create POSTGRES_DB first if it does not exist")
	return cmd
}
