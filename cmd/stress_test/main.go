package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rl1809/pharmacy-pos/internal/adapter/storage"
	"github.com/rl1809/pharmacy-pos/internal/core/domain"
	"github.com/rl1809/pharmacy-pos/internal/core/service"
	"github.com/rl1809/pharmacy-pos/internal/port"
)

const productID = "prd-stress"

type options struct {
	driver    string
	dsn       string
	redisAddr string
	cashiers  int
	stock     int
}

// stressStore is what the run needs from a backend.
type stressStore interface {
	port.ProductRepository
	port.SaleRepository
	port.SessionRepository
	SaveProduct(ctx context.Context, p domain.Product) error
	CreateUser(ctx context.Context, user domain.User, password string) (*domain.User, error)
}

func main() {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "stress_test",
		Short:         "Race concurrent checkouts for one low-stock product",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.driver, "driver", "memory", "store: memory, sqlite3 or mysql")
	cmd.Flags().StringVar(&opts.dsn, "dsn", "", "database DSN (sqlite3 defaults to a temp file)")
	cmd.Flags().StringVar(&opts.redisAddr, "redis", "", "redis address for submission locks (optional)")
	cmd.Flags().IntVar(&opts.cashiers, "cashiers", 50, "concurrent cashiers, one unit each")
	cmd.Flags().IntVar(&opts.stock, "stock", 20, "initial stock of the contested product")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts *options) error {
	logger, err := zap.NewDevelopment(zap.IncreaseLevel(zap.WarnLevel))
	if err != nil {
		return err
	}
	defer logger.Sync()

	store, cleanup, err := openStore(ctx, opts)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := store.SaveProduct(ctx, domain.Product{
		ID:             productID,
		Barcode:        "7419999999990",
		CommercialName: "Producto de prueba",
		UnitPrice:      decimal.RequireFromString("1.00"),
		StockQuantity:  opts.stock,
		Active:         true,
	}); err != nil {
		return fmt.Errorf("save product: %w", err)
	}

	deps := service.Deps{Products: store, Sales: store, Sessions: store, Logger: logger}
	if opts.redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: opts.redisAddr})
		defer rdb.Close()
		cache := storage.NewRedisAdapter(rdb)
		if err := cache.Ping(ctx); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		deps.Cache = cache
	}
	pool := service.NewTerminalPool(deps)
	defer pool.CloseAll()

	// Every cashier gets a terminal, an open register and one unit in the cart.
	terminals := make([]*service.Terminal, 0, opts.cashiers)
	stamp := time.Now().UnixNano()
	for i := 0; i < opts.cashiers; i++ {
		user := domain.User{
			ID:       fmt.Sprintf("usr-stress-%d-%d", stamp, i),
			Username: fmt.Sprintf("stress-%d-%d", stamp, i),
			FullName: fmt.Sprintf("Cajero %d", i),
			Role:     domain.RoleCashier,
			Active:   true,
		}
		if _, err := store.CreateUser(ctx, user, "stress"); err != nil {
			return fmt.Errorf("create cashier %d: %w", i, err)
		}
		term, err := pool.Attach(ctx, user)
		if err != nil {
			return fmt.Errorf("attach cashier %d: %w", i, err)
		}
		if _, err := term.OpenRegister(ctx, decimal.Zero); err != nil {
			return fmt.Errorf("open register %d: %w", i, err)
		}
		if _, err := term.AddProduct(productID); err != nil {
			return fmt.Errorf("fill cart %d: %w", i, err)
		}
		terminals = append(terminals, term)
	}

	var successCount, shortageCount, failCount atomic.Int32
	var wg sync.WaitGroup
	start := time.Now()

	for _, term := range terminals {
		wg.Add(1)
		go func(term *service.Terminal) {
			defer wg.Done()

			_, err := term.Checkout(ctx, service.CheckoutInput{PaymentMethod: domain.PaymentCash})
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.Is(err, domain.ErrInsufficientStock):
				shortageCount.Add(1)
			default:
				failCount.Add(1)
				logger.Warn("checkout failed", zap.String("cashier_id", term.User().ID), zap.Error(err))
			}
		}(term)
	}

	wg.Wait()
	elapsed := time.Since(start)

	success := int(successCount.Load())
	shortage := int(shortageCount.Load())
	fail := int(failCount.Load())
	want := min(opts.stock, opts.cashiers)

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Driver:           %s\n", opts.driver)
	fmt.Printf("Initial Stock:    %d\n", opts.stock)
	fmt.Printf("Cashiers:         %d\n", opts.cashiers)
	fmt.Printf("Committed:        %d\n", success)
	fmt.Printf("Out of stock:     %d\n", shortage)
	fmt.Printf("Other failures:   %d\n", fail)
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	if success == want && fail == 0 {
		fmt.Printf("PASS: exactly %d sales committed\n", want)
	} else {
		fmt.Printf("FAIL: expected %d sales and no other failures, got %d/%d\n", want, success, fail)
	}

	products, err := store.ListProducts(ctx)
	if err != nil {
		return fmt.Errorf("read final stock: %w", err)
	}
	for _, p := range products {
		if p.ID != productID {
			continue
		}
		fmt.Printf("Final Stock:      %d\n", p.StockQuantity)
		if p.StockQuantity == opts.stock-success && p.StockQuantity >= 0 {
			fmt.Println("PASS: stock matches committed sales")
		} else {
			fmt.Printf("FAIL: expected stock %d, got %d\n", opts.stock-success, p.StockQuantity)
		}
	}
	return nil
}

func openStore(ctx context.Context, opts *options) (stressStore, func(), error) {
	if opts.driver == "memory" {
		return storage.NewMemoryStore(), func() {}, nil
	}

	dsn := opts.dsn
	cleanup := func() {}
	if dsn == "" && opts.driver == storage.DriverSQLite {
		dir, err := os.MkdirTemp("", "pos-stress-*")
		if err != nil {
			return nil, nil, err
		}
		dsn = filepath.Join(dir, "stress.db")
		cleanup = func() { os.RemoveAll(dir) }
	}

	db, err := storage.OpenDB(ctx, opts.driver, dsn, storage.PoolConfig{MaxOpenConns: 50, MaxIdleConns: 25})
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	if err := storage.Migrate(ctx, db); err != nil {
		db.Close()
		cleanup()
		return nil, nil, err
	}
	return storage.NewSQLAdapter(db), func() {
		db.Close()
		cleanup()
	}, nil
}
