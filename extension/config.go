package extension

import (
	"time"

	"github.com/xraph/billing"
	"github.com/xraph/billing/cache"
)

// Config holds the billing extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.billing" or "billing" keys).
type Config struct {
	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// CommandCacheTTL bounds how long a command key lookup is cached
	// (default: 5m).
	CommandCacheTTL time.Duration `json:"command_cache_ttl" mapstructure:"command_cache_ttl" yaml:"command_cache_ttl"`

	// PolicyCacheTTL bounds how long a policy lookup, including a miss, is
	// cached (default: 1m).
	PolicyCacheTTL time.Duration `json:"policy_cache_ttl" mapstructure:"policy_cache_ttl" yaml:"policy_cache_ttl"`

	// CacheSize is the maximum number of cached lookups (default: 4096).
	CacheSize int `json:"cache_size" mapstructure:"cache_size" yaml:"cache_size"`

	// PersonalPolicies enables the PERSONAL level of policy resolution.
	PersonalPolicies bool `json:"personal_policies" mapstructure:"personal_policies" yaml:"personal_policies"`

	// SubscriptionFallback decides what happens to a SUBSCRIPTION command
	// when no subscription covers the payer: deny, free or credit
	// (default: deny).
	SubscriptionFallback string `json:"subscription_fallback" mapstructure:"subscription_fallback" yaml:"subscription_fallback"`

	// Audit registers the audit hook, writing the trail to the default
	// structured logger.
	Audit bool `json:"audit" mapstructure:"audit" yaml:"audit"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		CommandCacheTTL:      billing.DefaultCommandCacheTTL,
		PolicyCacheTTL:       billing.DefaultPolicyCacheTTL,
		CacheSize:            cache.DefaultSize,
		SubscriptionFallback: string(billing.FallbackDeny),
	}
}
