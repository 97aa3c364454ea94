package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rl1809/pharmacy-pos/internal/adapter/storage"
	"github.com/rl1809/pharmacy-pos/internal/config"
)

func newMigrateCommand(root *rootOptions) *cobra.Command {
	var (
		seed     bool
		seedOpts seedOptions
	)

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the database schema, optionally loading demo data",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(root.configPath)
			if err != nil {
				return err
			}
			if cfg.Database.Driver == config.DriverMemory {
				return errors.New("migrate needs a mysql or sqlite3 database")
			}
			logger, err := newLogger(cfg.Log)
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			store, db, err := openBackend(ctx, cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := storage.Migrate(ctx, db); err != nil {
				return err
			}
			logger.Info("schema migrated", zap.String("driver", cfg.Database.Driver))

			if !seed {
				return nil
			}
			if seedOpts.empty() {
				logger.Warn("seeding without passwords, no users will be created")
			}
			if err := storage.Seed(ctx, store, seedOpts.passwords()); err != nil {
				return fmt.Errorf("seed: %w", err)
			}
			logger.Info("demo data seeded")
			return nil
		},
	}

	cmd.Flags().BoolVar(&seed, "seed", false, "load the demo catalog, users and pharmacy profile")
	addSeedFlags(cmd, &seedOpts)
	return cmd
}
