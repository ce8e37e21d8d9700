// Package extension provides the Forge extension adapter for the billing
// engine.
//
// It implements the forge.Extension interface to integrate billing into a
// Forge application with DI registration and lifecycle management.
//
// Configuration can be provided programmatically via Option functions
// or via YAML configuration files under "extensions.billing" or "billing" keys.
package extension

import (
	"context"
	"errors"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/xraph/forge"
	"github.com/xraph/vessel"

	"github.com/xraph/billing"
	audithook "github.com/xraph/billing/audit_hook"
	"github.com/xraph/billing/observability"
	"github.com/xraph/billing/store"
	"github.com/xraph/billing/store/memory"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "billing"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Per-command credit billing for chat bots"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts the billing engine as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config     Config
	engine     *billing.Engine
	store      store.Store
	engineOpts []billing.Option

	metrics    prometheus.Registerer
	useMetrics bool
}

// New creates a new billing Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying billing engine.
// This is nil until Register is called.
func (e *Extension) Engine() *billing.Engine { return e.engine }

// Register implements [forge.Extension]. It loads configuration,
// initializes the billing engine, and registers it in the DI container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	// Use memory store if no store was provided programmatically.
	if e.store == nil {
		e.store = memory.New()
	}

	opts, err := e.buildEngineOpts()
	if err != nil {
		return err
	}
	e.engine = billing.New(e.store, opts...)

	return vessel.Provide(fapp.Container(), func() (*billing.Engine, error) {
		return e.engine, nil
	})
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("billing: extension not initialized")
	}

	if !e.config.DisableMigrate {
		if err := e.engine.Start(ctx); err != nil {
			return err
		}
	}

	e.MarkStarted()
	return nil
}

// Stop implements [forge.Extension].
func (e *Extension) Stop(_ context.Context) error {
	if e.engine != nil {
		if err := e.engine.Stop(); err != nil {
			e.MarkStopped()
			return err
		}
	}
	e.MarkStopped()
	return nil
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.store == nil {
		return errors.New("billing: store not initialized")
	}
	return e.store.Ping(ctx)
}

// buildEngineOpts constructs billing.Option values from the resolved config.
// Pass-through options come last so they win over configuration.
func (e *Extension) buildEngineOpts() ([]billing.Option, error) {
	fallback, err := billing.ParseSubscriptionFallback(e.config.SubscriptionFallback)
	if err != nil {
		return nil, err
	}

	opts := make([]billing.Option, 0, len(e.engineOpts)+7)
	opts = append(opts,
		billing.WithCommandCacheTTL(e.config.CommandCacheTTL),
		billing.WithPolicyCacheTTL(e.config.PolicyCacheTTL),
		billing.WithCacheSize(e.config.CacheSize),
		billing.WithPersonalPolicies(e.config.PersonalPolicies),
		billing.WithSubscriptionFallback(fallback),
	)

	if e.useMetrics {
		factory := observability.NewPrometheusFactory(e.metrics)
		opts = append(opts, billing.WithPlugin(observability.NewMetricsExtension(factory)))
	}
	if e.config.Audit {
		opts = append(opts, billing.WithPlugin(audithook.New(audithook.SlogRecorder(slog.Default()))))
	}

	opts = append(opts, e.engineOpts...)
	return opts, nil
}

// --- Config Loading ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("billing: configuration is required but not found in config files; " +
				"ensure 'extensions.billing' or 'billing' key exists in your config")
		}

		e.config = e.mergeWithDefaults(programmaticConfig)
	} else {
		e.config = e.mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("billing: configuration loaded",
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("command_cache_ttl", e.config.CommandCacheTTL),
		forge.F("policy_cache_ttl", e.config.PolicyCacheTTL),
		forge.F("cache_size", e.config.CacheSize),
		forge.F("personal_policies", e.config.PersonalPolicies),
		forge.F("subscription_fallback", e.config.SubscriptionFallback),
		forge.F("audit", e.config.Audit),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()

	for _, key := range []string{"extensions.billing", "billing"} {
		if !cm.IsSet(key) {
			continue
		}
		var cfg Config
		if err := cm.Bind(key, &cfg); err == nil {
			e.Logger().Debug("billing: loaded config from file", forge.F("key", key))
			return cfg, true
		}
		e.Logger().Warn("billing: failed to bind config",
			forge.F("key", key),
			forge.F("error", "bind failed"),
		)
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func (e *Extension) mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.CommandCacheTTL == 0 {
		cfg.CommandCacheTTL = defaults.CommandCacheTTL
	}
	if cfg.PolicyCacheTTL == 0 {
		cfg.PolicyCacheTTL = defaults.PolicyCacheTTL
	}
	if cfg.CacheSize == 0 {
		cfg.CacheSize = defaults.CacheSize
	}
	if cfg.SubscriptionFallback == "" {
		cfg.SubscriptionFallback = defaults.SubscriptionFallback
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence for most fields; programmatic bool flags fill gaps.
func (e *Extension) mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}
	if programmaticConfig.PersonalPolicies {
		yamlConfig.PersonalPolicies = true
	}
	if programmaticConfig.Audit {
		yamlConfig.Audit = true
	}

	if yamlConfig.SubscriptionFallback == "" && programmaticConfig.SubscriptionFallback != "" {
		yamlConfig.SubscriptionFallback = programmaticConfig.SubscriptionFallback
	}
	if yamlConfig.CommandCacheTTL == 0 && programmaticConfig.CommandCacheTTL != 0 {
		yamlConfig.CommandCacheTTL = programmaticConfig.CommandCacheTTL
	}
	if yamlConfig.PolicyCacheTTL == 0 && programmaticConfig.PolicyCacheTTL != 0 {
		yamlConfig.PolicyCacheTTL = programmaticConfig.PolicyCacheTTL
	}
	if yamlConfig.CacheSize == 0 && programmaticConfig.CacheSize != 0 {
		yamlConfig.CacheSize = programmaticConfig.CacheSize
	}

	return e.mergeWithDefaults(yamlConfig)
}
