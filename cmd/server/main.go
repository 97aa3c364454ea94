package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/rl1809/pharmacy-pos/internal/adapter/storage"
	"github.com/rl1809/pharmacy-pos/internal/config"
	"github.com/rl1809/pharmacy-pos/internal/port"
)

type rootOptions struct {
	configPath string
}

type seedOptions struct {
	adminPassword      string
	pharmacistPassword string
	cashierPassword    string
}

func (o seedOptions) passwords() storage.SeedPasswords {
	return storage.SeedPasswords{
		Admin:      o.adminPassword,
		Pharmacist: o.pharmacistPassword,
		Cashier:    o.cashierPassword,
	}
}

func (o seedOptions) empty() bool {
	return o.adminPassword == "" && o.pharmacistPassword == "" && o.cashierPassword == ""
}

func addSeedFlags(cmd *cobra.Command, o *seedOptions) {
	cmd.Flags().StringVar(&o.adminPassword, "admin-password", os.Getenv("POS_SEED_ADMIN_PASSWORD"), "password for the seeded admin user")
	cmd.Flags().StringVar(&o.pharmacistPassword, "pharmacist-password", os.Getenv("POS_SEED_PHARMACIST_PASSWORD"), "password for the seeded pharmacist user")
	cmd.Flags().StringVar(&o.cashierPassword, "cashier-password", os.Getenv("POS_SEED_CASHIER_PASSWORD"), "password for the seeded cashier user")
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "pharmacy-pos",
		Short:         "Pharmacy point-of-sale checkout server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", os.Getenv("POS_CONFIG"), "path to a YAML config file")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newMigrateCommand(opts))
	return cmd
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	if cfg.Level != "" {
		level, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
		zcfg.Level = zap.NewAtomicLevelAt(level)
	}
	return zcfg.Build()
}

// backend is everything the server needs from a store.
type backend interface {
	port.ProductRepository
	port.SaleRepository
	port.SessionRepository
	port.ProfileRepository
	port.IdentityProvider
	storage.Seeder
}

// openBackend returns the configured store. The *sql.DB is nil for the
// memory driver.
func openBackend(ctx context.Context, cfg config.DatabaseConfig) (backend, *sql.DB, error) {
	if cfg.Driver == config.DriverMemory {
		return storage.NewMemoryStore(), nil, nil
	}

	db, err := storage.OpenDB(ctx, cfg.Driver, cfg.DSN, storage.PoolConfig{
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	})
	if err != nil {
		return nil, nil, err
	}
	return storage.NewSQLAdapter(db), db, nil
}
