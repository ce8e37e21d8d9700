// Package config loads billingctl configuration from a YAML file, an
// optional .env file and BILLING_* environment variables, in that order of
// increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/xraph/billing"
	"github.com/xraph/billing/cache"
)

// DefaultFile is read when no config path is given and the file exists.
const DefaultFile = "billing.yaml"

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverMongo    = "mongo"
)

// Config is the full billingctl configuration.
type Config struct {
	Store  StoreConfig  `yaml:"store"`
	Cache  CacheConfig  `yaml:"cache"`
	Engine EngineConfig `yaml:"engine"`
	Log    LogConfig    `yaml:"log"`
}

// StoreConfig selects and addresses the storage backend.
type StoreConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
	// Database names the MongoDB database; other drivers ignore it.
	Database string `yaml:"database"`
}

// CacheConfig sizes the command and policy cache.
type CacheConfig struct {
	Size       int           `yaml:"size"`
	CommandTTL time.Duration `yaml:"command_ttl"`
	PolicyTTL  time.Duration `yaml:"policy_ttl"`
}

// EngineConfig holds engine behaviour switches.
type EngineConfig struct {
	PersonalPolicies     bool   `yaml:"personal_policies"`
	SubscriptionFallback string `yaml:"subscription_fallback"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Driver:   DriverSQLite,
			DSN:      "billing.db",
			Database: "billing",
		},
		Cache: CacheConfig{
			Size:       cache.DefaultSize,
			CommandTTL: billing.DefaultCommandCacheTTL,
			PolicyTTL:  billing.DefaultPolicyCacheTTL,
		},
		Engine: EngineConfig{
			SubscriptionFallback: string(billing.FallbackDeny),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds the configuration. A non-empty path must exist; an empty path
// falls back to DefaultFile when present. envFile names a dotenv file to
// load; when empty, ".env" in the working directory is loaded if present.
func Load(path, envFile string) (*Config, error) {
	if err := loadDotenv(envFile); err != nil {
		return nil, err
	}

	cfg := Default()

	if path == "" {
		if _, err := os.Stat(DefaultFile); err == nil {
			path = DefaultFile
		}
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadDotenv(envFile string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("config: load %s: %w", envFile, err)
		}
		return nil
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("config: load .env: %w", err)
	}
	return nil
}

// applyEnv overlays BILLING_* environment variables.
func (c *Config) applyEnv() error {
	setString(&c.Store.Driver, "BILLING_STORE_DRIVER")
	setString(&c.Store.DSN, "BILLING_STORE_DSN")
	setString(&c.Store.Database, "BILLING_STORE_DATABASE")
	setString(&c.Engine.SubscriptionFallback, "BILLING_SUBSCRIPTION_FALLBACK")
	setString(&c.Log.Level, "BILLING_LOG_LEVEL")
	setString(&c.Log.Format, "BILLING_LOG_FORMAT")

	if v := os.Getenv("BILLING_CACHE_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: invalid BILLING_CACHE_SIZE %q: %w", v, err)
		}
		c.Cache.Size = n
	}
	for key, dst := range map[string]*time.Duration{
		"BILLING_COMMAND_CACHE_TTL": &c.Cache.CommandTTL,
		"BILLING_POLICY_CACHE_TTL":  &c.Cache.PolicyTTL,
	} {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: invalid %s %q: %w", key, v, err)
		}
		*dst = d
	}
	if v := os.Getenv("BILLING_PERSONAL_POLICIES"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: invalid BILLING_PERSONAL_POLICIES %q: %w", v, err)
		}
		c.Engine.PersonalPolicies = b
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// Validate checks the configuration for unusable values.
func (c *Config) Validate() error {
	var errs []error

	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	switch c.Store.Driver {
	case DriverMemory:
	case DriverSQLite, DriverPostgres, DriverMySQL:
		if c.Store.DSN == "" {
			errs = append(errs, fmt.Errorf("store.dsn is required for driver %q", c.Store.Driver))
		}
	case DriverMongo:
		if c.Store.DSN == "" {
			errs = append(errs, errors.New("store.dsn is required for driver \"mongo\""))
		}
		if c.Store.Database == "" {
			errs = append(errs, errors.New("store.database is required for driver \"mongo\""))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.driver %q", c.Store.Driver))
	}

	if c.Cache.Size < 0 {
		errs = append(errs, errors.New("cache.size must not be negative"))
	}
	if c.Cache.CommandTTL < 0 || c.Cache.PolicyTTL < 0 {
		errs = append(errs, errors.New("cache TTLs must not be negative"))
	}
	if _, err := billing.ParseSubscriptionFallback(c.Engine.SubscriptionFallback); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log.format %q", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// SlogLevel parses Level. The empty string means info.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	if l.Level == "" {
		return slog.LevelInfo, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log.level %q", l.Level)
	}
	return level, nil
}

// EngineOptions maps the configuration to billing engine options.
func (c *Config) EngineOptions() ([]billing.Option, error) {
	fallback, err := billing.ParseSubscriptionFallback(c.Engine.SubscriptionFallback)
	if err != nil {
		return nil, err
	}
	return []billing.Option{
		billing.WithCacheSize(c.Cache.Size),
		billing.WithCommandCacheTTL(c.Cache.CommandTTL),
		billing.WithPolicyCacheTTL(c.Cache.PolicyTTL),
		billing.WithPersonalPolicies(c.Engine.PersonalPolicies),
		billing.WithSubscriptionFallback(fallback),
	}, nil
}
