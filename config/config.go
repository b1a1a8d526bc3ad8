// Package config loads the server configuration.
//
// Values are resolved in order, later sources winning:
//   - built-in defaults
//   - an optional YAML file (--config)
//   - a .env file in the working directory, if present
//   - process environment variables
//
// Every setting has an environment variable name; the YAML file groups the
// same settings by section.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/warp/travel-ledger/booking"
	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	HTTPAddr  string
	Store     StoreConfig
	Redis     RedisConfig
	JWTSecret string
	// Admins are caller identities allowed on the admin endpoints.
	Admins    []string
	Scheduler SchedulerConfig
	Booking   booking.Config
	Log       LogConfig
}

type StoreConfig struct {
	Driver      string
	SQLitePath  string
	DatabaseURL string
}

// RedisConfig enables the route cache and change feed when Addr is set.
type RedisConfig struct {
	Addr          string
	Password      string
	DB            int
	RouteCacheTTL time.Duration
}

type SchedulerConfig struct {
	Interval          time.Duration
	ConfirmDelay      time.Duration
	AutoConfirmWindow time.Duration
}

type LogConfig struct {
	Level  slog.Level
	Format string
}

// =============================================================================
// LOADING
// =============================================================================

// Environment variable names.
const (
	keyHTTPAddr          = "HTTP_ADDR"
	keyStoreDriver       = "STORE_DRIVER"
	keySQLitePath        = "SQLITE_PATH"
	keyDatabaseURL       = "DATABASE_URL"
	keyRedisAddr         = "REDIS_ADDR"
	keyRedisPassword     = "REDIS_PASSWORD"
	keyRedisDB           = "REDIS_DB"
	keyRouteCacheTTL     = "ROUTE_CACHE_TTL"
	keyJWTSecret         = "JWT_SECRET"
	keyAdmins            = "ADMIN_IDENTITIES"
	keySchedulerInterval = "SCHEDULER_INTERVAL"
	keyConfirmDelay      = "CONFIRM_DELAY"
	keyAutoConfirmWindow = "AUTO_CONFIRM_WINDOW"
	keyTimezone          = "TIMEZONE"
	keyLogLevel          = "LOG_LEVEL"
	keyLogFormat         = "LOG_FORMAT"
	keyCustomerBalance   = "CUSTOMER_STARTING_BALANCE"
	keyProviderBalance   = "PROVIDER_STARTING_BALANCE"
	keyListingFee        = "LISTING_FEE"
	keyBookingFee        = "BOOKING_FEE"
)

var allKeys = []string{
	keyHTTPAddr, keyStoreDriver, keySQLitePath, keyDatabaseURL,
	keyRedisAddr, keyRedisPassword, keyRedisDB, keyRouteCacheTTL,
	keyJWTSecret, keyAdmins, keySchedulerInterval, keyConfirmDelay, keyAutoConfirmWindow,
	keyTimezone, keyLogLevel, keyLogFormat,
	keyCustomerBalance, keyProviderBalance, keyListingFee, keyBookingFee,
}

func defaults() map[string]string {
	return map[string]string{
		keyHTTPAddr:          ":8080",
		keyStoreDriver:       DriverSQLite,
		keySQLitePath:        "travel-ledger.db",
		keyRedisDB:           "0",
		keyRouteCacheTTL:     "30s",
		keySchedulerInterval: "2m",
		keyConfirmDelay:      "2m",
		keyAutoConfirmWindow: "2h",
		keyTimezone:          "UTC",
		keyLogLevel:          "info",
		keyLogFormat:         "text",
		keyCustomerBalance:   "1000",
		keyProviderBalance:   "100",
		keyListingFee:        "5",
		keyBookingFee:        "5",
	}
}

// Load resolves the configuration. path may be empty to skip the YAML file.
func Load(path string) (*Config, error) {
	const op = "config.Load"

	values := defaults()
	if path != "" {
		if err := readFile(path, values); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: .env: %w", op, err)
	}
	for _, k := range allKeys {
		if v, ok := os.LookupEnv(k); ok {
			values[k] = v
		}
	}

	cfg, err := parse(values)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return cfg, nil
}

// fileConfig is the YAML layout. Scalars stay strings until parse.
type fileConfig struct {
	HTTP struct {
		Addr string `yaml:"addr"`
	} `yaml:"http"`
	Store struct {
		Driver      string `yaml:"driver"`
		SQLitePath  string `yaml:"sqlite_path"`
		DatabaseURL string `yaml:"database_url"`
	} `yaml:"store"`
	Redis struct {
		Addr          string `yaml:"addr"`
		Password      string `yaml:"password"`
		DB            string `yaml:"db"`
		RouteCacheTTL string `yaml:"route_cache_ttl"`
	} `yaml:"redis"`
	Auth struct {
		JWTSecret string   `yaml:"jwt_secret"`
		Admins    []string `yaml:"admins"`
	} `yaml:"auth"`
	Scheduler struct {
		Interval          string `yaml:"interval"`
		ConfirmDelay      string `yaml:"confirm_delay"`
		AutoConfirmWindow string `yaml:"auto_confirm_window"`
	} `yaml:"scheduler"`
	Booking struct {
		Timezone                string `yaml:"timezone"`
		CustomerStartingBalance string `yaml:"customer_starting_balance"`
		ProviderStartingBalance string `yaml:"provider_starting_balance"`
		ListingFee              string `yaml:"listing_fee"`
		BookingFee              string `yaml:"booking_fee"`
	} `yaml:"booking"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

func readFile(path string, values map[string]string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}

	for k, v := range map[string]string{
		keyHTTPAddr:          fc.HTTP.Addr,
		keyStoreDriver:       fc.Store.Driver,
		keySQLitePath:        fc.Store.SQLitePath,
		keyDatabaseURL:       fc.Store.DatabaseURL,
		keyRedisAddr:         fc.Redis.Addr,
		keyRedisPassword:     fc.Redis.Password,
		keyRedisDB:           fc.Redis.DB,
		keyRouteCacheTTL:     fc.Redis.RouteCacheTTL,
		keyJWTSecret:         fc.Auth.JWTSecret,
		keyAdmins:            strings.Join(fc.Auth.Admins, ","),
		keySchedulerInterval: fc.Scheduler.Interval,
		keyConfirmDelay:      fc.Scheduler.ConfirmDelay,
		keyAutoConfirmWindow: fc.Scheduler.AutoConfirmWindow,
		keyTimezone:          fc.Booking.Timezone,
		keyCustomerBalance:   fc.Booking.CustomerStartingBalance,
		keyProviderBalance:   fc.Booking.ProviderStartingBalance,
		keyListingFee:        fc.Booking.ListingFee,
		keyBookingFee:        fc.Booking.BookingFee,
		keyLogLevel:          fc.Log.Level,
		keyLogFormat:         fc.Log.Format,
	} {
		if v != "" {
			values[k] = v
		}
	}
	return nil
}

// =============================================================================
// PARSING
// =============================================================================

// parser collects the first conversion error so parse reads top to bottom.
type parser struct {
	values map[string]string
	err    error
}

func (p *parser) fail(key string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("invalid %s %q: %w", key, p.values[key], err)
	}
}

func (p *parser) duration(key string) time.Duration {
	d, err := time.ParseDuration(p.values[key])
	if err != nil {
		p.fail(key, err)
	} else if d <= 0 {
		p.fail(key, errors.New("must be positive"))
	}
	return d
}

func (p *parser) money(key string) decimal.Decimal {
	d, err := decimal.NewFromString(p.values[key])
	if err != nil {
		p.fail(key, err)
	} else if d.IsNegative() {
		p.fail(key, errors.New("must not be negative"))
	}
	return d
}

func (p *parser) integer(key string) int {
	n, err := strconv.Atoi(p.values[key])
	if err != nil {
		p.fail(key, err)
	}
	return n
}

func parse(values map[string]string) (*Config, error) {
	p := &parser{values: values}

	cfg := &Config{
		HTTPAddr: values[keyHTTPAddr],
		Store: StoreConfig{
			Driver:      strings.ToLower(values[keyStoreDriver]),
			SQLitePath:  values[keySQLitePath],
			DatabaseURL: values[keyDatabaseURL],
		},
		Redis: RedisConfig{
			Addr:          values[keyRedisAddr],
			Password:      values[keyRedisPassword],
			DB:            p.integer(keyRedisDB),
			RouteCacheTTL: p.duration(keyRouteCacheTTL),
		},
		JWTSecret: values[keyJWTSecret],
		Admins:    splitList(values[keyAdmins]),
		Scheduler: SchedulerConfig{
			Interval:          p.duration(keySchedulerInterval),
			ConfirmDelay:      p.duration(keyConfirmDelay),
			AutoConfirmWindow: p.duration(keyAutoConfirmWindow),
		},
		Booking: booking.Config{
			CustomerStartingBalance: p.money(keyCustomerBalance),
			ProviderStartingBalance: p.money(keyProviderBalance),
			ListingFee:              p.money(keyListingFee),
			BookingFee:              p.money(keyBookingFee),
		},
		Log: LogConfig{Format: strings.ToLower(values[keyLogFormat])},
	}

	loc, err := time.LoadLocation(values[keyTimezone])
	if err != nil {
		p.fail(keyTimezone, err)
	}
	cfg.Booking.Location = loc

	if err := cfg.Log.Level.UnmarshalText([]byte(values[keyLogLevel])); err != nil {
		p.fail(keyLogLevel, err)
	}
	if p.err != nil {
		return nil, p.err
	}
	return cfg, cfg.Validate()
}

// splitList parses a comma separated list, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks settings that depend on each other.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("%s is required for the sqlite store", keySQLitePath)
		}
	case DriverPostgres:
		if c.Store.DatabaseURL == "" {
			return fmt.Errorf("%s is required for the postgres store", keyDatabaseURL)
		}
	default:
		return fmt.Errorf("unknown %s %q (want memory, sqlite or postgres)", keyStoreDriver, c.Store.Driver)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown %s %q (want text or json)", keyLogFormat, c.Log.Format)
	}
	return nil
}

// NewLogger builds the process logger described by c.
func (c LogConfig) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.Level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
