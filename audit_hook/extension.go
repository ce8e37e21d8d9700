// Package audithook bridges billing engine events to an audit trail backend.
//
// It defines a local Recorder interface so the package does not depend on
// any audit product. Callers inject a RecorderFunc adapter at wiring time,
// or use SlogRecorder to write the trail to a structured log.
package audithook

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xraph/billing/command"
	"github.com/xraph/billing/plugin"
	"github.com/xraph/billing/policy"
	"github.com/xraph/billing/scope"
	"github.com/xraph/billing/subscription"
	"github.com/xraph/billing/wallet"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin                 = (*Extension)(nil)
	_ plugin.OnCharged              = (*Extension)(nil)
	_ plugin.OnChargeDenied         = (*Extension)(nil)
	_ plugin.OnInsufficientCredit   = (*Extension)(nil)
	_ plugin.OnToppedUp             = (*Extension)(nil)
	_ plugin.OnWalletStatusChanged  = (*Extension)(nil)
	_ plugin.OnCommandChanged       = (*Extension)(nil)
	_ plugin.OnPolicyChanged        = (*Extension)(nil)
	_ plugin.OnSubscriptionCreated  = (*Extension)(nil)
	_ plugin.OnSubscriptionCanceled = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is one entry of the audit trail.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// SlogRecorder returns a Recorder that writes every event to logger.
func SlogRecorder(logger *slog.Logger) Recorder {
	return RecorderFunc(func(ctx context.Context, evt *AuditEvent) error {
		level := slog.LevelInfo
		switch evt.Severity {
		case SeverityWarning:
			level = slog.LevelWarn
		case SeverityError, SeverityCritical:
			level = slog.LevelError
		}
		logger.Log(ctx, level, "audit",
			"action", evt.Action,
			"resource", evt.Resource,
			"resource_id", evt.ResourceID,
			"category", evt.Category,
			"outcome", evt.Outcome,
			"metadata", evt.Metadata,
		)
		return nil
	})
}

// Extension bridges billing events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Charge hooks
// ──────────────────────────────────────────────────

// OnCharged implements plugin.OnCharged.
func (e *Extension) OnCharged(ctx context.Context, d *policy.Decision, w *wallet.Wallet, entry *wallet.Entry) error {
	return e.record(ctx, ActionCommandCharged, SeverityInfo, OutcomeSuccess,
		ResourceWallet, w.ID.String(), CategoryBilling, "",
		"command", d.CommandKey,
		"wallet", w.Target.String(),
		"amount", entry.Amount,
		"balance_after", entry.BalanceAfter,
		"entry_id", entry.ID.String(),
		"hit", string(d.Hit),
	)
}

// OnChargeDenied implements plugin.OnChargeDenied.
func (e *Extension) OnChargeDenied(ctx context.Context, actor scope.Actor, d *policy.Decision, reason string) error {
	return e.record(ctx, ActionChargeDenied, SeverityInfo, OutcomeFailure,
		ResourceCommand, d.CommandID.String(), CategoryAccess, reason,
		"command", d.CommandKey,
		"group", actor.GroupID,
		"hit", string(d.Hit),
	)
}

// OnInsufficientCredit implements plugin.OnInsufficientCredit.
func (e *Extension) OnInsufficientCredit(ctx context.Context, d *policy.Decision, target scope.Target, balance, required int64) error {
	return e.record(ctx, ActionInsufficientCredit, SeverityWarning, OutcomeFailure,
		ResourceWallet, target.String(), CategoryBilling, "insufficient credit",
		"command", d.CommandKey,
		"balance", balance,
		"required", required,
	)
}

// ──────────────────────────────────────────────────
// Wallet hooks
// ──────────────────────────────────────────────────

// OnToppedUp implements plugin.OnToppedUp.
func (e *Extension) OnToppedUp(ctx context.Context, w *wallet.Wallet, entry *wallet.Entry) error {
	return e.record(ctx, ActionWalletToppedUp, SeverityInfo, OutcomeSuccess,
		ResourceWallet, w.ID.String(), CategoryBilling, "",
		"wallet", w.Target.String(),
		"amount", entry.Amount,
		"balance_after", entry.BalanceAfter,
		"ref_type", entry.RefType,
		"ref_id", entry.RefID,
	)
}

// OnWalletStatusChanged implements plugin.OnWalletStatusChanged.
func (e *Extension) OnWalletStatusChanged(ctx context.Context, w *wallet.Wallet) error {
	action, severity := ActionWalletActivated, SeverityInfo
	if !w.Active {
		action, severity = ActionWalletDeactivated, SeverityWarning
	}
	return e.record(ctx, action, severity, OutcomeSuccess,
		ResourceWallet, w.ID.String(), CategoryAdmin, "",
		"wallet", w.Target.String(),
	)
}

// ──────────────────────────────────────────────────
// Administration hooks
// ──────────────────────────────────────────────────

// OnCommandChanged implements plugin.OnCommandChanged.
func (e *Extension) OnCommandChanged(ctx context.Context, c *command.Command) error {
	return e.record(ctx, ActionCommandChanged, SeverityInfo, OutcomeSuccess,
		ResourceCommand, c.ID.String(), CategoryAdmin, "",
		"key", c.Key,
		"active", c.Active,
	)
}

// OnPolicyChanged implements plugin.OnPolicyChanged.
func (e *Extension) OnPolicyChanged(ctx context.Context, p *policy.Policy, deleted bool) error {
	action := ActionPolicyUpserted
	if deleted {
		action = ActionPolicyDeleted
	}
	return e.record(ctx, action, SeverityInfo, OutcomeSuccess,
		ResourcePolicy, p.ID.String(), CategoryAdmin, "",
		"target", p.Target.String(),
		"command_id", p.CommandID.String(),
		"enabled", p.Enabled,
		"mode", string(p.Mode),
		"credit_cost", p.CreditCost,
		"wallet_scope", string(p.WalletScope),
	)
}

// ──────────────────────────────────────────────────
// Subscription hooks
// ──────────────────────────────────────────────────

// OnSubscriptionCreated implements plugin.OnSubscriptionCreated.
func (e *Extension) OnSubscriptionCreated(ctx context.Context, sub *subscription.Subscription) error {
	return e.record(ctx, ActionSubscriptionCreated, SeverityInfo, OutcomeSuccess,
		ResourceSubscription, sub.ID.String(), CategorySubscription, "",
		"target", sub.Target.String(),
		"period_end", sub.CurrentPeriodEnd,
	)
}

// OnSubscriptionCanceled implements plugin.OnSubscriptionCanceled.
func (e *Extension) OnSubscriptionCanceled(ctx context.Context, sub *subscription.Subscription) error {
	return e.record(ctx, ActionSubscriptionCanceled, SeverityInfo, OutcomeSuccess,
		ResourceSubscription, sub.ID.String(), CategorySubscription, "",
		"target", sub.Target.String(),
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// record builds and sends an audit event if the action is enabled.
// Recorder failures are logged, never returned.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	reason string,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
