package billing

import (
	"context"
	"time"

	"github.com/xraph/billing/command"
	"github.com/xraph/billing/id"
	"github.com/xraph/billing/policy"
	"github.com/xraph/billing/scope"
	"github.com/xraph/billing/subscription"
	"github.com/xraph/billing/types"
)

// ──────────────────────────────────────────────────
// Command operations
// ──────────────────────────────────────────────────

// RegisterCommand stores a new active command.
func (e *Engine) RegisterCommand(ctx context.Context, c *command.Command) error {
	if err := c.Validate(); err != nil {
		return invalid("billing: register command", err)
	}
	if c.ID.IsNil() {
		c.ID = id.NewCommandID()
	}
	c.Entity = types.NewEntityAt(e.now())
	c.Active = true

	if err := e.store.CreateCommand(ctx, c); err != nil {
		return storeFailure("billing: register command", err)
	}

	e.resolver.InvalidateCommand(c.Key)
	e.logger.Info("command registered", "command", c.Key, "id", c.ID.String())
	e.plugins.EmitCommandChanged(ctx, c)

	return nil
}

// RegisterCommands registers every command, continuing past failures.
// The returned error is a MultiError when any registration failed.
func (e *Engine) RegisterCommands(ctx context.Context, cmds ...*command.Command) error {
	var errs MultiError
	for _, c := range cmds {
		errs.Add(e.RegisterCommand(ctx, c))
	}
	if errs.HasErrors() {
		return errs
	}
	return nil
}

// UpdateCommand writes c and drops its cached key lookup.
func (e *Engine) UpdateCommand(ctx context.Context, c *command.Command) error {
	if err := c.Validate(); err != nil {
		return invalid("billing: update command", err)
	}

	old, err := e.store.GetCommand(ctx, c.ID)
	if err != nil {
		return storeFailure("billing: update command", err)
	}
	c.CreatedAt = old.CreatedAt
	c.Touch(e.now())

	if err := e.store.UpdateCommand(ctx, c); err != nil {
		return storeFailure("billing: update command", err)
	}

	e.resolver.InvalidateCommand(old.Key)
	e.resolver.InvalidateCommand(c.Key)
	e.logger.Info("command updated", "command", c.Key, "active", c.Active)
	e.plugins.EmitCommandChanged(ctx, c)

	return nil
}

// SetCommandActive enables or disables the command with key.
func (e *Engine) SetCommandActive(ctx context.Context, key string, active bool) (*command.Command, error) {
	c, err := e.store.GetCommandByKey(ctx, command.NormalizeKey(key))
	if err != nil {
		return nil, storeFailure("billing: set command active", err)
	}
	c.Active = active
	if err := e.UpdateCommand(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// GetCommand returns the command registered under key.
func (e *Engine) GetCommand(ctx context.Context, key string) (*command.Command, error) {
	c, err := e.store.GetCommandByKey(ctx, command.NormalizeKey(key))
	if err != nil {
		return nil, storeFailure("billing: get command", err)
	}
	return c, nil
}

// ListCommands lists registered commands.
func (e *Engine) ListCommands(ctx context.Context, opts command.ListOpts) ([]*command.Command, error) {
	cmds, err := e.store.ListCommands(ctx, opts)
	if err != nil {
		return nil, storeFailure("billing: list commands", err)
	}
	return cmds, nil
}

// ──────────────────────────────────────────────────
// Policy operations
// ──────────────────────────────────────────────────

// UpsertPolicy normalizes in, writes it and invalidates the cached lookup
// for its (target, command).
func (e *Engine) UpsertPolicy(ctx context.Context, in policy.Input) (*policy.Policy, error) {
	p, err := in.Normalize()
	if err != nil {
		return nil, invalid("billing: upsert policy", err)
	}

	if _, err := e.store.GetCommand(ctx, p.CommandID); err != nil {
		return nil, storeFailure("billing: upsert policy", err)
	}

	p.ID = id.NewPolicyID()
	p.Entity = types.NewEntityAt(e.now())

	if err := e.store.UpsertPolicy(ctx, p); err != nil {
		return nil, storeFailure("billing: upsert policy", err)
	}

	e.InvalidatePolicy(p.Target, p.CommandID)
	e.logger.Info("policy written",
		"target", p.Target.String(),
		"command", p.CommandID.String(),
		"mode", p.Mode,
		"cost", p.CreditCost,
		"enabled", p.Enabled,
	)
	e.plugins.EmitPolicyChanged(ctx, p, false)

	return p, nil
}

// GetPolicy returns the policy of target for cmdID without consulting the cache.
func (e *Engine) GetPolicy(ctx context.Context, target scope.Target, cmdID id.CommandID) (*policy.Policy, error) {
	p, err := e.store.GetPolicy(ctx, target, cmdID)
	if err != nil {
		return nil, storeFailure("billing: get policy", err)
	}
	return p, nil
}

// ListPolicies lists stored policies.
func (e *Engine) ListPolicies(ctx context.Context, opts policy.ListOpts) ([]*policy.Policy, error) {
	ps, err := e.store.ListPolicies(ctx, opts)
	if err != nil {
		return nil, storeFailure("billing: list policies", err)
	}
	return ps, nil
}

// DeletePolicy removes the policy of target for cmdID and invalidates it.
func (e *Engine) DeletePolicy(ctx context.Context, target scope.Target, cmdID id.CommandID) error {
	p, err := e.store.GetPolicy(ctx, target, cmdID)
	if err != nil {
		return storeFailure("billing: delete policy", err)
	}
	if err := e.store.DeletePolicy(ctx, target, cmdID); err != nil {
		return storeFailure("billing: delete policy", err)
	}

	e.InvalidatePolicy(target, cmdID)
	e.logger.Info("policy deleted", "target", target.String(), "command", cmdID.String())
	e.plugins.EmitPolicyChanged(ctx, p, true)

	return nil
}

// InvalidatePolicy drops the cached policy of target for cmdID. Surfaces
// that write policies without going through the Engine must call it.
func (e *Engine) InvalidatePolicy(target scope.Target, cmdID id.CommandID) {
	e.resolver.InvalidatePolicy(target, cmdID)
}

// InvalidateCommand drops the cached id of the command key.
func (e *Engine) InvalidateCommand(key string) {
	e.resolver.InvalidateCommand(key)
}

// ──────────────────────────────────────────────────
// Subscription operations
// ──────────────────────────────────────────────────

// DefaultSubscriptionPeriod is used when a subscription has no period end.
const DefaultSubscriptionPeriod = 30 * 24 * time.Hour

// CreateSubscription stores an active subscription. A missing period
// starts now and lasts DefaultSubscriptionPeriod.
func (e *Engine) CreateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	if err := sub.Target.Validate(); err != nil {
		return invalid("billing: create subscription", err)
	}
	if !sub.CommandID.IsNil() {
		if _, err := e.store.GetCommand(ctx, sub.CommandID); err != nil {
			return storeFailure("billing: create subscription", err)
		}
	}

	now := e.now().UTC()
	if sub.ID.IsNil() {
		sub.ID = id.NewSubscriptionID()
	}
	sub.Entity = types.NewEntityAt(now)
	sub.Status = subscription.StatusActive
	if sub.CurrentPeriodStart.IsZero() {
		sub.CurrentPeriodStart = now
	}
	if sub.CurrentPeriodEnd.IsZero() {
		sub.CurrentPeriodEnd = sub.CurrentPeriodStart.Add(DefaultSubscriptionPeriod)
	}
	if !sub.CurrentPeriodEnd.After(sub.CurrentPeriodStart) {
		return ValidationError{Field: "current_period_end", Message: "must be after current_period_start"}
	}

	if err := e.store.CreateSubscription(ctx, sub); err != nil {
		return storeFailure("billing: create subscription", err)
	}

	e.logger.Info("subscription created",
		"subscription", sub.ID.String(),
		"target", sub.Target.String(),
		"period_end", sub.CurrentPeriodEnd,
	)
	e.plugins.EmitSubscriptionCreated(ctx, sub)

	return nil
}

// CancelSubscription cancels the subscription immediately.
func (e *Engine) CancelSubscription(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	sub, err := e.store.GetSubscription(ctx, subID)
	if err != nil {
		return nil, storeFailure("billing: cancel subscription", err)
	}
	if sub.Status == subscription.StatusCanceled {
		return nil, ErrSubscriptionCanceled
	}

	now := e.now().UTC()
	if err := e.store.CancelSubscription(ctx, subID, now); err != nil {
		return nil, storeFailure("billing: cancel subscription", err)
	}

	sub.Status = subscription.StatusCanceled
	sub.CanceledAt = &now
	sub.Touch(now)

	e.logger.Info("subscription canceled", "subscription", subID.String())
	e.plugins.EmitSubscriptionCanceled(ctx, sub)

	return sub, nil
}

// ListSubscriptions lists the subscriptions of target.
func (e *Engine) ListSubscriptions(ctx context.Context, target scope.Target, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	subs, err := e.store.ListSubscriptions(ctx, target, opts)
	if err != nil {
		return nil, storeFailure("billing: list subscriptions", err)
	}
	return subs, nil
}
