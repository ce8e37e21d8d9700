package extension

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/xraph/billing"
	"github.com/xraph/billing/cache"
	"github.com/xraph/billing/store/memory"
)

func TestMergeWithDefaults(t *testing.T) {
	e := New()
	cfg := e.mergeWithDefaults(Config{PolicyCacheTTL: 5 * time.Second})

	if cfg.PolicyCacheTTL != 5*time.Second {
		t.Errorf("PolicyCacheTTL = %v, want 5s", cfg.PolicyCacheTTL)
	}
	if cfg.CommandCacheTTL != billing.DefaultCommandCacheTTL {
		t.Errorf("CommandCacheTTL = %v, want default", cfg.CommandCacheTTL)
	}
	if cfg.CacheSize != cache.DefaultSize {
		t.Errorf("CacheSize = %d, want %d", cfg.CacheSize, cache.DefaultSize)
	}
	if cfg.SubscriptionFallback != string(billing.FallbackDeny) {
		t.Errorf("SubscriptionFallback = %q, want deny", cfg.SubscriptionFallback)
	}
}

func TestMergeConfigurations(t *testing.T) {
	tests := []struct {
		name         string
		file         Config
		programmatic Config
		check        func(t *testing.T, cfg Config)
	}{
		{
			name:         "file wins for values",
			file:         Config{CacheSize: 10, SubscriptionFallback: "free"},
			programmatic: Config{CacheSize: 99, SubscriptionFallback: "credit"},
			check: func(t *testing.T, cfg Config) {
				if cfg.CacheSize != 10 || cfg.SubscriptionFallback != "free" {
					t.Errorf("cfg = %+v, want file values", cfg)
				}
			},
		},
		{
			name:         "programmatic fills gaps",
			file:         Config{},
			programmatic: Config{CommandCacheTTL: time.Minute, SubscriptionFallback: "credit"},
			check: func(t *testing.T, cfg Config) {
				if cfg.CommandCacheTTL != time.Minute || cfg.SubscriptionFallback != "credit" {
					t.Errorf("cfg = %+v, want programmatic values", cfg)
				}
				if cfg.PolicyCacheTTL != billing.DefaultPolicyCacheTTL {
					t.Errorf("PolicyCacheTTL = %v, want default", cfg.PolicyCacheTTL)
				}
			},
		},
		{
			name:         "programmatic flags are sticky",
			file:         Config{},
			programmatic: Config{DisableMigrate: true, PersonalPolicies: true, Audit: true},
			check: func(t *testing.T, cfg Config) {
				if !cfg.DisableMigrate || !cfg.PersonalPolicies || !cfg.Audit {
					t.Errorf("cfg = %+v, want flags set", cfg)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, New().mergeConfigurations(tt.file, tt.programmatic))
		})
	}
}

func TestBuildEngineOpts(t *testing.T) {
	e := New(
		WithMetrics(prometheus.NewRegistry()),
		WithAudit(),
		WithPersonalPolicies(),
	)
	e.config = e.mergeWithDefaults(e.config)

	opts, err := e.buildEngineOpts()
	if err != nil {
		t.Fatalf("buildEngineOpts() error: %v", err)
	}

	engine := billing.New(memory.New(), opts...)
	if got := engine.Plugins().Count(); got != 2 {
		t.Errorf("plugins = %d, want metrics and audit", got)
	}
}

func TestBuildEngineOptsRejectsUnknownFallback(t *testing.T) {
	e := New(WithConfig(Config{SubscriptionFallback: "sometimes"}))
	e.config = e.mergeWithDefaults(e.config)

	if _, err := e.buildEngineOpts(); err == nil {
		t.Fatal("buildEngineOpts() error = nil for an unknown fallback")
	}
}
