package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite3"
	DriverMemory = "memory"
)

type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	GRPC     GRPCConfig     `yaml:"grpc"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Auth     AuthConfig     `yaml:"auth"`
	Receipt  ReceiptConfig  `yaml:"receipt"`
	Log      LogConfig      `yaml:"log"`
	Tracing  TracingConfig  `yaml:"tracing"`
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type GRPCConfig struct {
	Addr string `yaml:"addr"`
}

type DatabaseConfig struct {
	Driver          string        `yaml:"driver"`
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// RedisConfig is optional; an empty Addr disables the submission lock.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	PoolSize int           `yaml:"pool_size"`
	LockTTL  time.Duration `yaml:"lock_ttl"`
}

type AuthConfig struct {
	JWTSecret    string        `yaml:"jwt_secret"`
	TokenTTL     time.Duration `yaml:"token_ttl"`
	LoginTimeout time.Duration `yaml:"login_timeout"`
}

type ReceiptConfig struct {
	SpoolDir string `yaml:"spool_dir"`
	Width    int    `yaml:"width"`
	Timezone string `yaml:"timezone"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ShutdownTimeout: 5 * time.Second,
		},
		GRPC: GRPCConfig{Addr: ":50051"},
		Database: DatabaseConfig{
			Driver:          DriverMySQL,
			DSN:             "root:root@tcp(localhost:3306)/pharmacy_pos?parseTime=true",
			MaxOpenConns:    50,
			MaxIdleConns:    25,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			PoolSize: 100,
			LockTTL:  30 * time.Second,
		},
		Auth: AuthConfig{
			TokenTTL:     12 * time.Hour,
			LoginTimeout: 10 * time.Second,
		},
		Receipt: ReceiptConfig{
			SpoolDir: "receipts",
			Width:    48,
		},
		Log: LogConfig{Level: "info"},
		Tracing: TracingConfig{
			ServiceName: "pharmacy-pos",
		},
	}
}

// Load layers defaults, the YAML file at path (if any), a .env file in the
// working directory (if any) and POS_* environment variables, then
// validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	str := map[string]*string{
		"POS_HTTP_ADDR":    &c.HTTP.Addr,
		"POS_GRPC_ADDR":    &c.GRPC.Addr,
		"POS_DB_DRIVER":    &c.Database.Driver,
		"POS_DB_DSN":       &c.Database.DSN,
		"POS_REDIS_ADDR":   &c.Redis.Addr,
		"POS_JWT_SECRET":   &c.Auth.JWTSecret,
		"POS_RECEIPT_DIR":  &c.Receipt.SpoolDir,
		"POS_RECEIPT_TZ":   &c.Receipt.Timezone,
		"POS_LOG_LEVEL":    &c.Log.Level,
		"POS_SERVICE_NAME": &c.Tracing.ServiceName,
	}
	for key, dst := range str {
		if v, ok := os.LookupEnv(key); ok {
			*dst = strings.TrimSpace(v)
		}
	}

	if v, ok := os.LookupEnv("POS_LOGIN_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("POS_LOGIN_TIMEOUT: %w", err)
		}
		c.Auth.LoginTimeout = d
	}

	flags := map[string]*bool{
		"POS_TRACING":         &c.Tracing.Enabled,
		"POS_LOG_DEVELOPMENT": &c.Log.Development,
	}
	for key, dst := range flags {
		if v, ok := os.LookupEnv(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = b
		}
	}
	return nil
}

func (c *Config) Validate() error {
	var errs []error

	switch c.Database.Driver {
	case DriverMySQL, DriverSQLite:
		if c.Database.DSN == "" {
			errs = append(errs, errors.New("database.dsn is required"))
		}
		if c.Auth.JWTSecret == "" {
			errs = append(errs, errors.New("auth.jwt_secret is required"))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("database.driver %q is not one of mysql, sqlite3, memory", c.Database.Driver))
	}

	if c.Auth.LoginTimeout <= 0 {
		errs = append(errs, errors.New("auth.login_timeout must be positive"))
	}
	if c.Auth.TokenTTL <= 0 {
		errs = append(errs, errors.New("auth.token_ttl must be positive"))
	}
	if c.Redis.Addr != "" && c.Redis.LockTTL <= 0 {
		errs = append(errs, errors.New("redis.lock_ttl must be positive"))
	}
	if c.Receipt.Width < 32 {
		errs = append(errs, errors.New("receipt.width must be at least 32"))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, fmt.Errorf("receipt.timezone: %w", err))
	}

	return errors.Join(errs...)
}

// Location is the zone receipts and reports print times in.
func (c *Config) Location() (*time.Location, error) {
	if c.Receipt.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Receipt.Timezone)
}
