package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/xraph/billing"
	"github.com/xraph/billing/cache"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

// chdir moves into a fresh directory so no stray billing.yaml or .env is read.
func chdir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdir(t)

	cfg, err := Load("", "")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Store.Driver != DriverSQLite || cfg.Store.DSN != "billing.db" {
		t.Errorf("store = %+v, want sqlite billing.db", cfg.Store)
	}
	if cfg.Cache.Size != cache.DefaultSize {
		t.Errorf("cache.size = %d, want %d", cfg.Cache.Size, cache.DefaultSize)
	}
	if cfg.Cache.CommandTTL != billing.DefaultCommandCacheTTL {
		t.Errorf("cache.command_ttl = %v", cfg.Cache.CommandTTL)
	}
	if cfg.Engine.SubscriptionFallback != string(billing.FallbackDeny) {
		t.Errorf("engine.subscription_fallback = %q", cfg.Engine.SubscriptionFallback)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	dir := chdir(t)
	path := writeFile(t, dir, "custom.yaml", `
store:
  driver: postgres
  dsn: postgres://localhost/billing
cache:
  size: 128
  command_ttl: 10m
  policy_ttl: 30s
engine:
  personal_policies: true
  subscription_fallback: credit
log:
  level: debug
  format: json
`)

	cfg, err := Load(path, "")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Store.Driver != DriverPostgres || cfg.Store.DSN != "postgres://localhost/billing" {
		t.Errorf("store = %+v", cfg.Store)
	}
	if cfg.Cache.Size != 128 || cfg.Cache.CommandTTL != 10*time.Minute || cfg.Cache.PolicyTTL != 30*time.Second {
		t.Errorf("cache = %+v", cfg.Cache)
	}
	if !cfg.Engine.PersonalPolicies || cfg.Engine.SubscriptionFallback != "credit" {
		t.Errorf("engine = %+v", cfg.Engine)
	}
	level, err := cfg.Log.SlogLevel()
	if err != nil || level != slog.LevelDebug {
		t.Errorf("SlogLevel() = %v, %v", level, err)
	}
}

func TestLoadPicksUpDefaultFile(t *testing.T) {
	dir := chdir(t)
	writeFile(t, dir, DefaultFile, "store:\n  driver: memory\n")

	cfg, err := Load("", "")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Store.Driver != DriverMemory {
		t.Errorf("driver = %q, want memory", cfg.Store.Driver)
	}
}

func TestEnvironmentOverridesFile(t *testing.T) {
	dir := chdir(t)
	path := writeFile(t, dir, "billing.yaml", "store:\n  driver: sqlite\n  dsn: file.db\n")
	envFile := writeFile(t, dir, "test.env", "BILLING_STORE_DSN=from-dotenv.db\n")

	t.Setenv("BILLING_CACHE_SIZE", "64")
	t.Setenv("BILLING_POLICY_CACHE_TTL", "5s")
	t.Setenv("BILLING_PERSONAL_POLICIES", "true")
	// godotenv only fills unset variables; t.Setenv restores the original
	// state on cleanup.
	t.Setenv("BILLING_STORE_DSN", "")
	os.Unsetenv("BILLING_STORE_DSN")

	cfg, err := Load(path, envFile)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Store.DSN != "from-dotenv.db" {
		t.Errorf("dsn = %q, want from-dotenv.db", cfg.Store.DSN)
	}
	if cfg.Cache.Size != 64 {
		t.Errorf("cache.size = %d, want 64", cfg.Cache.Size)
	}
	if cfg.Cache.PolicyTTL != 5*time.Second {
		t.Errorf("cache.policy_ttl = %v, want 5s", cfg.Cache.PolicyTTL)
	}
	if !cfg.Engine.PersonalPolicies {
		t.Error("personal_policies = false, want true")
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr string
	}{
		{name: "unknown driver", yaml: "store:\n  driver: oracle\n", wantErr: "unknown store.driver"},
		{name: "missing dsn", yaml: "store:\n  driver: postgres\n  dsn: \"\"\n", wantErr: "store.dsn is required"},
		{name: "mongo without database", yaml: "store:\n  driver: mongo\n  dsn: mongodb://x\n  database: \"\"\n", wantErr: "store.database"},
		{name: "bad fallback", yaml: "engine:\n  subscription_fallback: maybe\n", wantErr: "unknown subscription fallback"},
		{name: "bad level", yaml: "log:\n  level: loud\n", wantErr: "invalid log.level"},
		{name: "bad format", yaml: "log:\n  format: xml\n", wantErr: "unknown log.format"},
		{name: "negative size", yaml: "cache:\n  size: -1\n", wantErr: "cache.size"},
		{name: "bad env duration", env: map[string]string{"BILLING_COMMAND_CACHE_TTL": "soon"}, wantErr: "BILLING_COMMAND_CACHE_TTL"},
		{name: "malformed yaml", yaml: "store: [\n", wantErr: "config: parse"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := chdir(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := ""
			if tt.yaml != "" {
				path = writeFile(t, dir, "billing.yaml", tt.yaml)
			}

			_, err := Load(path, "")
			if err == nil {
				t.Fatalf("Load() error = nil, want %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	chdir(t)
	if _, err := Load("does-not-exist.yaml", ""); err == nil {
		t.Fatal("Load() error = nil for a missing explicit file")
	}
}

func TestEngineOptions(t *testing.T) {
	cfg := Default()
	opts, err := cfg.EngineOptions()
	if err != nil {
		t.Fatalf("EngineOptions() error: %v", err)
	}
	if len(opts) != 5 {
		t.Errorf("len(opts) = %d, want 5", len(opts))
	}

	cfg.Engine.SubscriptionFallback = "bogus"
	if _, err := cfg.EngineOptions(); err == nil {
		t.Error("EngineOptions() error = nil for an unknown fallback")
	}
}
