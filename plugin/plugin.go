// Package plugin provides an extensible plugin system for the billing engine.
// Plugins hook into lifecycle and billing events to add metrics, audit
// trails or notifications without touching the charge path.
package plugin

import (
	"context"

	"github.com/xraph/billing/command"
	"github.com/xraph/billing/policy"
	"github.com/xraph/billing/scope"
	"github.com/xraph/billing/subscription"
	"github.com/xraph/billing/wallet"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the engine starts.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, engine interface{}) error
}

// OnShutdown is called when the engine stops.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Charge path hooks
// ──────────────────────────────────────────────────

// OnPolicyResolved is called after every successful policy resolution.
type OnPolicyResolved interface {
	Plugin
	OnPolicyResolved(ctx context.Context, actor scope.Actor, d *policy.Decision) error
}

// OnCharged is called after a wallet was debited for a command.
type OnCharged interface {
	Plugin
	OnCharged(ctx context.Context, d *policy.Decision, w *wallet.Wallet, e *wallet.Entry) error
}

// OnChargeDenied is called when a command is refused for a reason other
// than insufficient credit: disabled policy, inactive wallet or missing
// subscription.
type OnChargeDenied interface {
	Plugin
	OnChargeDenied(ctx context.Context, actor scope.Actor, d *policy.Decision, reason string) error
}

// OnInsufficientCredit is called when a debit is refused for lack of credit.
type OnInsufficientCredit interface {
	Plugin
	OnInsufficientCredit(ctx context.Context, d *policy.Decision, target scope.Target, balance, required int64) error
}

// ──────────────────────────────────────────────────
// Wallet hooks
// ──────────────────────────────────────────────────

// OnToppedUp is called after a wallet was credited.
type OnToppedUp interface {
	Plugin
	OnToppedUp(ctx context.Context, w *wallet.Wallet, e *wallet.Entry) error
}

// OnWalletStatusChanged is called when a wallet is activated or deactivated.
type OnWalletStatusChanged interface {
	Plugin
	OnWalletStatusChanged(ctx context.Context, w *wallet.Wallet) error
}

// ──────────────────────────────────────────────────
// Administration hooks
// ──────────────────────────────────────────────────

// OnCommandChanged is called when a command is registered or updated.
type OnCommandChanged interface {
	Plugin
	OnCommandChanged(ctx context.Context, c *command.Command) error
}

// OnPolicyChanged is called when a policy is written or deleted.
type OnPolicyChanged interface {
	Plugin
	OnPolicyChanged(ctx context.Context, p *policy.Policy, deleted bool) error
}

// OnSubscriptionCreated is called when a new subscription is created.
type OnSubscriptionCreated interface {
	Plugin
	OnSubscriptionCreated(ctx context.Context, sub *subscription.Subscription) error
}

// OnSubscriptionCanceled is called when a subscription is canceled.
type OnSubscriptionCanceled interface {
	Plugin
	OnSubscriptionCanceled(ctx context.Context, sub *subscription.Subscription) error
}
