package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/rl1809/pharmacy-pos/internal/adapter/handler"
	"github.com/rl1809/pharmacy-pos/internal/adapter/receipt"
	"github.com/rl1809/pharmacy-pos/internal/adapter/report"
	"github.com/rl1809/pharmacy-pos/internal/adapter/storage"
	"github.com/rl1809/pharmacy-pos/internal/config"
	"github.com/rl1809/pharmacy-pos/internal/core/service"
	"github.com/rl1809/pharmacy-pos/internal/telemetry"
)

func newServeCommand(root *rootOptions) *cobra.Command {
	var (
		migrate  bool
		seedOpts seedOptions
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and gRPC servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(root.configPath)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.Log)
			if err != nil {
				return err
			}
			defer logger.Sync()

			return serve(cmd.Context(), cfg, logger, migrate, seedOpts)
		},
	}

	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply the schema before serving (sql drivers)")
	addSeedFlags(cmd, &seedOpts)
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger, migrate bool, seedOpts seedOptions) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(cfg.Tracing.Enabled, cfg.Tracing.ServiceName, os.Stdout)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer shutdownTracing(context.Background())

	// Store
	store, db, err := openBackend(ctx, cfg.Database)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
		if migrate {
			if err := storage.Migrate(ctx, db); err != nil {
				return err
			}
		}
	}
	logger.Info("store ready", zap.String("driver", cfg.Database.Driver))

	if cfg.Database.Driver == config.DriverMemory {
		if seedOpts.empty() {
			logger.Warn("memory store seeded without users, nobody can log in")
		}
		if err := storage.Seed(ctx, store, seedOpts.passwords()); err != nil {
			return fmt.Errorf("seed memory store: %w", err)
		}
	}

	secret := cfg.Auth.JWTSecret
	if secret == "" {
		secret = uuid.NewString()
		logger.Warn("no jwt secret configured, tokens will not survive a restart")
	}

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	spool, err := receipt.NewSpoolEmitter(cfg.Receipt.SpoolDir, receipt.NewRenderer(cfg.Receipt.Width, loc), logger.Named("receipt"))
	if err != nil {
		return err
	}

	deps := service.Deps{
		Products:          store,
		Sales:             store,
		Sessions:          store,
		Profiles:          store,
		Receipts:          spool,
		Logger:            logger,
		SubmissionLockTTL: cfg.Redis.LockTTL,
	}

	// Redis is optional; without it submissions are not cross-terminal locked.
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			PoolSize: cfg.Redis.PoolSize,
		})
		defer rdb.Close()

		redisAdapter := storage.NewRedisAdapter(rdb)
		if err := redisAdapter.Ping(ctx); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		deps.Cache = redisAdapter
		logger.Info("connected to redis", zap.String("addr", cfg.Redis.Addr))
	}

	// Services
	terminals := service.NewTerminalPool(deps)
	defer terminals.CloseAll()
	auth := service.NewAuthService(store, terminals, cfg.Auth.LoginTimeout, logger)
	tokens := handler.NewTokenManager(secret, cfg.Auth.TokenTTL)

	// gRPC
	grpcServer := grpc.NewServer()
	healthServer := handler.NewGRPCHandler(auth, tokens, logger.Named("grpc")).Register(grpcServer)

	lis, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}
	go func() {
		logger.Info("gRPC server listening", zap.String("addr", cfg.GRPC.Addr))
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC server error", zap.Error(err))
		}
	}()

	// HTTP
	httpHandler := handler.NewHTTPHandler(auth, tokens, store, report.NewWriter(loc), logger.Named("http"))
	httpServer := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: telemetry.WrapHandler(httpHandler.Routes(), cfg.Tracing.ServiceName),
	}
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.HTTP.Addr))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown", zap.Error(err))
	}
	logger.Info("HTTP server stopped")

	healthServer.Shutdown()
	grpcServer.GracefulStop()
	logger.Info("gRPC server stopped")
	return nil
}
