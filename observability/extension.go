// Package observability provides a metrics extension for the billing engine
// that records charge, wallet and administration event counts through a
// MetricFactory.
package observability

import (
	"context"

	"github.com/xraph/billing/command"
	"github.com/xraph/billing/plugin"
	"github.com/xraph/billing/policy"
	"github.com/xraph/billing/scope"
	"github.com/xraph/billing/subscription"
	"github.com/xraph/billing/wallet"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin                 = (*MetricsExtension)(nil)
	_ plugin.OnInit                 = (*MetricsExtension)(nil)
	_ plugin.OnPolicyResolved       = (*MetricsExtension)(nil)
	_ plugin.OnCharged              = (*MetricsExtension)(nil)
	_ plugin.OnChargeDenied         = (*MetricsExtension)(nil)
	_ plugin.OnInsufficientCredit   = (*MetricsExtension)(nil)
	_ plugin.OnToppedUp             = (*MetricsExtension)(nil)
	_ plugin.OnWalletStatusChanged  = (*MetricsExtension)(nil)
	_ plugin.OnCommandChanged       = (*MetricsExtension)(nil)
	_ plugin.OnPolicyChanged        = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionCreated  = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionCanceled = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records system-wide billing metrics.
// Register it as an engine plugin to track charges automatically.
type MetricsExtension struct {
	factory MetricFactory

	// Resolution metrics, one counter per precedence level that matched.
	ResolvedGroup    Counter
	ResolvedLeasing  Counter
	ResolvedPersonal Counter
	ResolvedDefault  Counter

	// Charge metrics
	Charged            Counter
	CreditsDebited     Counter
	ChargeCost         Histogram
	ChargeDenied       Counter
	InsufficientCredit Counter
	CreditShortfall    Histogram

	// Wallet metrics
	TopUps             Counter
	CreditsToppedUp    Counter
	WalletsActivated   Counter
	WalletsDeactivated Counter

	// Administration metrics
	CommandsChanged Counter
	PoliciesWritten Counter
	PoliciesDeleted Counter

	// Subscription metrics
	SubscriptionCreated  Counter
	SubscriptionCanceled Counter
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
// Use NewPrometheusFactory for a Prometheus registry.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		ResolvedGroup:    factory.Counter("billing.policy.resolved.group"),
		ResolvedLeasing:  factory.Counter("billing.policy.resolved.leasing"),
		ResolvedPersonal: factory.Counter("billing.policy.resolved.personal"),
		ResolvedDefault:  factory.Counter("billing.policy.resolved.default"),

		Charged:            factory.Counter("billing.charge.debited"),
		CreditsDebited:     factory.Counter("billing.charge.credits"),
		ChargeCost:         factory.Histogram("billing.charge.cost"),
		ChargeDenied:       factory.Counter("billing.charge.denied"),
		InsufficientCredit: factory.Counter("billing.charge.insufficient"),
		CreditShortfall:    factory.Histogram("billing.charge.shortfall"),

		TopUps:             factory.Counter("billing.wallet.topups"),
		CreditsToppedUp:    factory.Counter("billing.wallet.credits"),
		WalletsActivated:   factory.Counter("billing.wallet.activated"),
		WalletsDeactivated: factory.Counter("billing.wallet.deactivated"),

		CommandsChanged: factory.Counter("billing.command.changed"),
		PoliciesWritten: factory.Counter("billing.policy.written"),
		PoliciesDeleted: factory.Counter("billing.policy.deleted"),

		SubscriptionCreated:  factory.Counter("billing.subscription.created"),
		SubscriptionCanceled: factory.Counter("billing.subscription.canceled"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(_ context.Context, _ interface{}) error {
	return nil
}

// ──────────────────────────────────────────────────
// Charge path hooks
// ──────────────────────────────────────────────────

// OnPolicyResolved implements plugin.OnPolicyResolved.
func (m *MetricsExtension) OnPolicyResolved(_ context.Context, _ scope.Actor, d *policy.Decision) error {
	switch d.Hit {
	case policy.HitGroup:
		m.ResolvedGroup.Inc()
	case policy.HitLeasing:
		m.ResolvedLeasing.Inc()
	case policy.HitPersonal:
		m.ResolvedPersonal.Inc()
	default:
		m.ResolvedDefault.Inc()
	}
	return nil
}

// OnCharged implements plugin.OnCharged.
func (m *MetricsExtension) OnCharged(_ context.Context, _ *policy.Decision, _ *wallet.Wallet, e *wallet.Entry) error {
	m.Charged.Inc()
	m.CreditsDebited.Add(float64(e.Amount))
	m.ChargeCost.Observe(float64(e.Amount))
	return nil
}

// OnChargeDenied implements plugin.OnChargeDenied.
func (m *MetricsExtension) OnChargeDenied(_ context.Context, _ scope.Actor, _ *policy.Decision, _ string) error {
	m.ChargeDenied.Inc()
	return nil
}

// OnInsufficientCredit implements plugin.OnInsufficientCredit.
func (m *MetricsExtension) OnInsufficientCredit(_ context.Context, _ *policy.Decision, _ scope.Target, balance, required int64) error {
	m.InsufficientCredit.Inc()
	m.CreditShortfall.Observe(float64(required - balance))
	return nil
}

// ──────────────────────────────────────────────────
// Wallet hooks
// ──────────────────────────────────────────────────

// OnToppedUp implements plugin.OnToppedUp.
func (m *MetricsExtension) OnToppedUp(_ context.Context, _ *wallet.Wallet, e *wallet.Entry) error {
	m.TopUps.Inc()
	m.CreditsToppedUp.Add(float64(e.Amount))
	return nil
}

// OnWalletStatusChanged implements plugin.OnWalletStatusChanged.
func (m *MetricsExtension) OnWalletStatusChanged(_ context.Context, w *wallet.Wallet) error {
	if w.Active {
		m.WalletsActivated.Inc()
	} else {
		m.WalletsDeactivated.Inc()
	}
	return nil
}

// ──────────────────────────────────────────────────
// Administration hooks
// ──────────────────────────────────────────────────

// OnCommandChanged implements plugin.OnCommandChanged.
func (m *MetricsExtension) OnCommandChanged(_ context.Context, _ *command.Command) error {
	m.CommandsChanged.Inc()
	return nil
}

// OnPolicyChanged implements plugin.OnPolicyChanged.
func (m *MetricsExtension) OnPolicyChanged(_ context.Context, _ *policy.Policy, deleted bool) error {
	if deleted {
		m.PoliciesDeleted.Inc()
	} else {
		m.PoliciesWritten.Inc()
	}
	return nil
}

// OnSubscriptionCreated implements plugin.OnSubscriptionCreated.
func (m *MetricsExtension) OnSubscriptionCreated(_ context.Context, _ *subscription.Subscription) error {
	m.SubscriptionCreated.Inc()
	return nil
}

// OnSubscriptionCanceled implements plugin.OnSubscriptionCanceled.
func (m *MetricsExtension) OnSubscriptionCanceled(_ context.Context, _ *subscription.Subscription) error {
	m.SubscriptionCanceled.Inc()
	return nil
}
