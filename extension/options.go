package extension

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/xraph/billing"
	"github.com/xraph/billing/plugin"
	"github.com/xraph/billing/store"
)

// Option configures the billing Forge extension.
type Option func(*Extension)

// WithStore sets the store for the billing engine.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithEngineOption passes a billing.Option through to the underlying engine.
func WithEngineOption(opt billing.Option) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, opt)
	}
}

// WithPlugin registers a billing plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, billing.WithPlugin(p))
	}
}

// WithMetrics registers the observability metrics plugin on reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(e *Extension) {
		e.metrics = reg
		e.useMetrics = true
	}
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableMigrate prevents auto-migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}

// WithCacheTTLs sets the command and policy cache lifetimes.
func WithCacheTTLs(command, policy time.Duration) Option {
	return func(e *Extension) {
		e.config.CommandCacheTTL = command
		e.config.PolicyCacheTTL = policy
	}
}

// WithPersonalPolicies enables the PERSONAL level of policy resolution.
func WithPersonalPolicies() Option {
	return func(e *Extension) { e.config.PersonalPolicies = true }
}

// WithSubscriptionFallback sets what SUBSCRIPTION commands do without a
// covering subscription.
func WithSubscriptionFallback(f billing.SubscriptionFallback) Option {
	return func(e *Extension) { e.config.SubscriptionFallback = string(f) }
}

// WithAudit registers the audit hook on the default structured logger.
func WithAudit() Option {
	return func(e *Extension) { e.config.Audit = true }
}
