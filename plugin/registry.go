package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/billing/command"
	"github.com/xraph/billing/policy"
	"github.com/xraph/billing/scope"
	"github.com/xraph/billing/subscription"
	"github.com/xraph/billing/wallet"
)

// DefaultTimeout bounds a single hook call.
const DefaultTimeout = 5 * time.Second

// Registry manages all registered plugins and dispatches events to them.
// Hook implementations are discovered once at registration time.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger
	timeout time.Duration

	// Type-cached plugin lists for efficient dispatch
	onInit                 []OnInit
	onShutdown             []OnShutdown
	onPolicyResolved       []OnPolicyResolved
	onCharged              []OnCharged
	onChargeDenied         []OnChargeDenied
	onInsufficientCredit   []OnInsufficientCredit
	onToppedUp             []OnToppedUp
	onWalletStatusChanged  []OnWalletStatusChanged
	onCommandChanged       []OnCommandChanged
	onPolicyChanged        []OnPolicyChanged
	onSubscriptionCreated  []OnSubscriptionCreated
	onSubscriptionCanceled []OnSubscriptionCanceled
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger:  slog.Default(),
		timeout: DefaultTimeout,
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// WithTimeout sets the per-hook timeout.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	if d > 0 {
		r.timeout = d
	}
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	var hooks []string
	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
		hooks = append(hooks, "OnInit")
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
		hooks = append(hooks, "OnShutdown")
	}
	if v, ok := p.(OnPolicyResolved); ok {
		r.onPolicyResolved = append(r.onPolicyResolved, v)
		hooks = append(hooks, "OnPolicyResolved")
	}
	if v, ok := p.(OnCharged); ok {
		r.onCharged = append(r.onCharged, v)
		hooks = append(hooks, "OnCharged")
	}
	if v, ok := p.(OnChargeDenied); ok {
		r.onChargeDenied = append(r.onChargeDenied, v)
		hooks = append(hooks, "OnChargeDenied")
	}
	if v, ok := p.(OnInsufficientCredit); ok {
		r.onInsufficientCredit = append(r.onInsufficientCredit, v)
		hooks = append(hooks, "OnInsufficientCredit")
	}
	if v, ok := p.(OnToppedUp); ok {
		r.onToppedUp = append(r.onToppedUp, v)
		hooks = append(hooks, "OnToppedUp")
	}
	if v, ok := p.(OnWalletStatusChanged); ok {
		r.onWalletStatusChanged = append(r.onWalletStatusChanged, v)
		hooks = append(hooks, "OnWalletStatusChanged")
	}
	if v, ok := p.(OnCommandChanged); ok {
		r.onCommandChanged = append(r.onCommandChanged, v)
		hooks = append(hooks, "OnCommandChanged")
	}
	if v, ok := p.(OnPolicyChanged); ok {
		r.onPolicyChanged = append(r.onPolicyChanged, v)
		hooks = append(hooks, "OnPolicyChanged")
	}
	if v, ok := p.(OnSubscriptionCreated); ok {
		r.onSubscriptionCreated = append(r.onSubscriptionCreated, v)
		hooks = append(hooks, "OnSubscriptionCreated")
	}
	if v, ok := p.(OnSubscriptionCanceled); ok {
		r.onSubscriptionCanceled = append(r.onSubscriptionCanceled, v)
		hooks = append(hooks, "OnSubscriptionCanceled")
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"hooks", hooks,
	)

	return nil
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, engine interface{}) {
	dispatch(r, ctx, "OnInit", snapshot(r, &r.onInit), func(p OnInit) error {
		return p.OnInit(ctx, engine)
	})
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	dispatch(r, ctx, "OnShutdown", snapshot(r, &r.onShutdown), func(p OnShutdown) error {
		return p.OnShutdown(ctx)
	})
}

// EmitPolicyResolved emits a policy resolved event.
func (r *Registry) EmitPolicyResolved(ctx context.Context, actor scope.Actor, d *policy.Decision) {
	dispatch(r, ctx, "OnPolicyResolved", snapshot(r, &r.onPolicyResolved), func(p OnPolicyResolved) error {
		return p.OnPolicyResolved(ctx, actor, d)
	})
}

// EmitCharged emits a charged event.
func (r *Registry) EmitCharged(ctx context.Context, d *policy.Decision, w *wallet.Wallet, e *wallet.Entry) {
	dispatch(r, ctx, "OnCharged", snapshot(r, &r.onCharged), func(p OnCharged) error {
		return p.OnCharged(ctx, d, w, e)
	})
}

// EmitChargeDenied emits a charge denied event.
func (r *Registry) EmitChargeDenied(ctx context.Context, actor scope.Actor, d *policy.Decision, reason string) {
	dispatch(r, ctx, "OnChargeDenied", snapshot(r, &r.onChargeDenied), func(p OnChargeDenied) error {
		return p.OnChargeDenied(ctx, actor, d, reason)
	})
}

// EmitInsufficientCredit emits an insufficient credit event.
func (r *Registry) EmitInsufficientCredit(ctx context.Context, d *policy.Decision, target scope.Target, balance, required int64) {
	dispatch(r, ctx, "OnInsufficientCredit", snapshot(r, &r.onInsufficientCredit), func(p OnInsufficientCredit) error {
		return p.OnInsufficientCredit(ctx, d, target, balance, required)
	})
}

// EmitToppedUp emits a top-up event.
func (r *Registry) EmitToppedUp(ctx context.Context, w *wallet.Wallet, e *wallet.Entry) {
	dispatch(r, ctx, "OnToppedUp", snapshot(r, &r.onToppedUp), func(p OnToppedUp) error {
		return p.OnToppedUp(ctx, w, e)
	})
}

// EmitWalletStatusChanged emits a wallet status event.
func (r *Registry) EmitWalletStatusChanged(ctx context.Context, w *wallet.Wallet) {
	dispatch(r, ctx, "OnWalletStatusChanged", snapshot(r, &r.onWalletStatusChanged), func(p OnWalletStatusChanged) error {
		return p.OnWalletStatusChanged(ctx, w)
	})
}

// EmitCommandChanged emits a command changed event.
func (r *Registry) EmitCommandChanged(ctx context.Context, c *command.Command) {
	dispatch(r, ctx, "OnCommandChanged", snapshot(r, &r.onCommandChanged), func(p OnCommandChanged) error {
		return p.OnCommandChanged(ctx, c)
	})
}

// EmitPolicyChanged emits a policy changed event.
func (r *Registry) EmitPolicyChanged(ctx context.Context, pol *policy.Policy, deleted bool) {
	dispatch(r, ctx, "OnPolicyChanged", snapshot(r, &r.onPolicyChanged), func(p OnPolicyChanged) error {
		return p.OnPolicyChanged(ctx, pol, deleted)
	})
}

// EmitSubscriptionCreated emits a subscription created event.
func (r *Registry) EmitSubscriptionCreated(ctx context.Context, sub *subscription.Subscription) {
	dispatch(r, ctx, "OnSubscriptionCreated", snapshot(r, &r.onSubscriptionCreated), func(p OnSubscriptionCreated) error {
		return p.OnSubscriptionCreated(ctx, sub)
	})
}

// EmitSubscriptionCanceled emits a subscription canceled event.
func (r *Registry) EmitSubscriptionCanceled(ctx context.Context, sub *subscription.Subscription) {
	dispatch(r, ctx, "OnSubscriptionCanceled", snapshot(r, &r.onSubscriptionCanceled), func(p OnSubscriptionCanceled) error {
		return p.OnSubscriptionCanceled(ctx, sub)
	})
}

func snapshot[T Plugin](r *Registry, list *[]T) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return *list
}

// dispatch calls fn for each plugin. Failures are logged and never
// propagate into the billing path.
func dispatch[T Plugin](r *Registry, ctx context.Context, hook string, plugins []T, fn func(T) error) {
	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return fn(p)
		}); err != nil {
			r.logger.Warn("plugin hook failed",
				"plugin", p.Name(),
				"hook", hook,
				"error", err,
			)
		}
	}
}

// callWithTimeout calls a plugin function with a timeout.
// Plugins should never block the billing pipeline.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
