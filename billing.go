package billing

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/xraph/billing/cache"
	"github.com/xraph/billing/plugin"
	"github.com/xraph/billing/store"
)

// Default cache lifetimes for resolver lookups.
const (
	DefaultCommandCacheTTL = 5 * time.Minute
	DefaultPolicyCacheTTL  = 60 * time.Second
)

// SubscriptionFallback decides what a SUBSCRIPTION policy does when the
// payer has no covering subscription.
type SubscriptionFallback string

const (
	// FallbackDeny refuses the command.
	FallbackDeny SubscriptionFallback = "deny"
	// FallbackFree lets the command through without charging.
	FallbackFree SubscriptionFallback = "free"
	// FallbackCredit charges the policy's credit cost instead.
	FallbackCredit SubscriptionFallback = "credit"
)

// Valid reports whether f is a known fallback.
func (f SubscriptionFallback) Valid() bool {
	switch f {
	case FallbackDeny, FallbackFree, FallbackCredit:
		return true
	}
	return false
}

// ParseSubscriptionFallback parses a fallback name. The empty string
// selects FallbackDeny.
func ParseSubscriptionFallback(s string) (SubscriptionFallback, error) {
	if strings.TrimSpace(s) == "" {
		return FallbackDeny, nil
	}
	f := SubscriptionFallback(strings.ToLower(strings.TrimSpace(s)))
	if !f.Valid() {
		return "", fmt.Errorf("%w: unknown subscription fallback %q", ErrInvalidInput, s)
	}
	return f, nil
}

// Engine is the billing façade: it resolves policies, charges wallets and
// keeps the lookup cache coherent with administrative writes.
type Engine struct {
	store    store.Store
	cache    *cache.Cache
	resolver *Resolver
	plugins  *plugin.Registry
	logger   *slog.Logger
	now      func() time.Time

	// Configuration
	commandCacheTTL      time.Duration
	policyCacheTTL       time.Duration
	cacheSize            int
	personalPolicies     bool
	subscriptionFallback SubscriptionFallback
}

// New creates a new Engine on top of s.
func New(s store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:                s,
		plugins:              plugin.NewRegistry(),
		logger:               slog.Default(),
		now:                  time.Now,
		commandCacheTTL:      DefaultCommandCacheTTL,
		policyCacheTTL:       DefaultPolicyCacheTTL,
		cacheSize:            cache.DefaultSize,
		subscriptionFallback: FallbackDeny,
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.cache == nil {
		e.cache = cache.New(cache.WithSize(e.cacheSize), cache.WithClock(e.now))
	}

	e.resolver = &Resolver{
		commands:   s,
		policies:   s,
		cache:      e.cache,
		plugins:    e.plugins,
		logger:     e.logger,
		commandTTL: e.commandCacheTTL,
		policyTTL:  e.policyCacheTTL,
		personal:   e.personalPolicies,
	}

	return e
}

// Option configures an Engine instance.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
		e.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Engine) {
		_ = e.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithCache injects the lookup cache. Several engines sharing a cache see
// each other's invalidations.
func WithCache(c *cache.Cache) Option {
	return func(e *Engine) { e.cache = c }
}

// WithCacheSize bounds the default cache. Ignored when WithCache is used.
func WithCacheSize(n int) Option {
	return func(e *Engine) { e.cacheSize = n }
}

// WithCommandCacheTTL sets how long command key lookups are cached.
func WithCommandCacheTTL(ttl time.Duration) Option {
	return func(e *Engine) { e.commandCacheTTL = ttl }
}

// WithPolicyCacheTTL sets how long policy lookups, including misses, are cached.
func WithPolicyCacheTTL(ttl time.Duration) Option {
	return func(e *Engine) { e.policyCacheTTL = ttl }
}

// WithPersonalPolicies enables the PERSONAL precedence level.
func WithPersonalPolicies(enabled bool) Option {
	return func(e *Engine) { e.personalPolicies = enabled }
}

// WithSubscriptionFallback sets the behaviour of SUBSCRIPTION policies for
// payers without a covering subscription. The default is FallbackDeny.
func WithSubscriptionFallback(f SubscriptionFallback) Option {
	return func(e *Engine) {
		if f.Valid() {
			e.subscriptionFallback = f
		}
	}
}

// WithClock replaces the time source for entries, subscriptions and the
// default cache.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithPluginTimeout bounds each plugin hook call.
func WithPluginTimeout(d time.Duration) Option {
	return func(e *Engine) { e.plugins.WithTimeout(d) }
}

// Start migrates the store and initializes plugins.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.store.Migrate(ctx); err != nil {
		return err
	}

	e.plugins.EmitInit(ctx, e)

	e.logger.Info("billing engine started",
		"command_cache_ttl", e.commandCacheTTL,
		"policy_cache_ttl", e.policyCacheTTL,
		"personal_policies", e.personalPolicies,
		"subscription_fallback", e.subscriptionFallback,
		"plugins", e.plugins.Count(),
	)

	return nil
}

// Stop shuts down plugins and closes the store.
func (e *Engine) Stop() error {
	e.plugins.EmitShutdown(context.Background())
	return e.store.Close()
}

// Store returns the underlying store.
func (e *Engine) Store() store.Store { return e.store }

// Cache returns the lookup cache.
func (e *Engine) Cache() *cache.Cache { return e.cache }

// Resolver returns the policy resolver.
func (e *Engine) Resolver() *Resolver { return e.resolver }

// Plugins returns the plugin registry.
func (e *Engine) Plugins() *plugin.Registry { return e.plugins }
