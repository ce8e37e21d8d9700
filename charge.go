package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/xraph/billing/command"
	"github.com/xraph/billing/policy"
	"github.com/xraph/billing/scope"
	"github.com/xraph/billing/subscription"
	"github.com/xraph/billing/wallet"
)

// ChargeStatus is the terminal state of a ChargeForCommand call.
type ChargeStatus string

const (
	StatusDenied         ChargeStatus = "denied"
	StatusFree           ChargeStatus = "free"
	StatusCharged        ChargeStatus = "charged"
	StatusInsufficient   ChargeStatus = "insufficient"
	StatusWalletInactive ChargeStatus = "wallet_inactive"
	StatusSubscribed     ChargeStatus = "subscribed"
	StatusNoSubscription ChargeStatus = "no_subscription"
)

// ChargeOutcome is the business result of ChargeForCommand. Refusals are
// outcomes, not errors.
type ChargeOutcome struct {
	Allowed bool         `json:"allowed"`
	Charged bool         `json:"charged"`
	Status  ChargeStatus `json:"status"`

	// BalanceAfter is set when the wallet was debited. A drained wallet
	// reports 0, so the field is always encoded.
	BalanceAfter int64 `json:"balance_after"`

	// Balance, Required and Shortfall are set on insufficient credit.
	Balance   int64 `json:"balance"`
	Required  int64 `json:"required,omitempty"`
	Shortfall int64 `json:"shortfall,omitempty"`

	WalletTarget   scope.Target     `json:"wallet_target,omitempty"`
	Entry          *wallet.Entry    `json:"entry,omitempty"`
	SubscriptionID string           `json:"subscription_id,omitempty"`
	Decision       *policy.Decision `json:"decision"`
}

// ResolvePolicy returns the effective decision for actor running commandKey.
func (e *Engine) ResolvePolicy(ctx context.Context, actor scope.Actor, commandKey string) (*policy.Decision, error) {
	return e.resolver.Resolve(ctx, actor, commandKey)
}

// ChargeForCommand decides whether actor may run commandKey and, for
// metered commands, debits the payer wallet atomically. Resolver errors
// are returned unchanged; store failures match ErrTransactionFailed.
func (e *Engine) ChargeForCommand(ctx context.Context, actor scope.Actor, commandKey string, ref wallet.Ref) (*ChargeOutcome, error) {
	d, err := e.resolver.Resolve(ctx, actor, commandKey)
	if err != nil {
		return nil, err
	}

	if !d.Enabled {
		e.logger.Debug("command disabled by policy", "command", d.CommandKey, "hit", d.Hit)
		e.plugins.EmitChargeDenied(ctx, actor, d, string(StatusDenied))
		return &ChargeOutcome{Status: StatusDenied, Decision: d}, nil
	}

	switch d.Mode {
	case policy.ModeCredit:
		return e.debit(ctx, actor, d, ref)
	case policy.ModeSubscription:
		return e.gate(ctx, actor, d, ref)
	default:
		return &ChargeOutcome{Allowed: true, Status: StatusFree, Decision: d}, nil
	}
}

// gate checks for a subscription covering the payer. Nothing is written.
func (e *Engine) gate(ctx context.Context, actor scope.Actor, d *policy.Decision, ref wallet.Ref) (*ChargeOutcome, error) {
	target, err := walletTarget(actor, d.WalletScope)
	if err != nil {
		return nil, err
	}

	sub, err := e.store.FindActiveSubscription(ctx, target, d.CommandID, e.now())
	switch {
	case err == nil:
		return &ChargeOutcome{
			Allowed:        true,
			Status:         StatusSubscribed,
			WalletTarget:   target,
			SubscriptionID: sub.ID.String(),
			Decision:       d,
		}, nil
	case errors.Is(err, ErrNoActiveSubscription), IsNotFound(err):
	default:
		return nil, storeFailure("billing: subscription gate", err)
	}

	switch e.subscriptionFallback {
	case FallbackFree:
		return &ChargeOutcome{Allowed: true, Status: StatusFree, WalletTarget: target, Decision: d}, nil
	case FallbackCredit:
		return e.debit(ctx, actor, d, ref)
	default:
		e.plugins.EmitChargeDenied(ctx, actor, d, string(StatusNoSubscription))
		return &ChargeOutcome{Status: StatusNoSubscription, WalletTarget: target, Decision: d}, nil
	}
}

func (e *Engine) debit(ctx context.Context, actor scope.Actor, d *policy.Decision, ref wallet.Ref) (*ChargeOutcome, error) {
	target, err := walletTarget(actor, d.WalletScope)
	if err != nil {
		return nil, err
	}

	cost := d.CreditCost
	if cost < 1 {
		cost = 1
	}

	w, entry, err := e.store.ApplyMutation(ctx, wallet.Mutation{
		Target:    target,
		Type:      wallet.TxDebit,
		Amount:    cost,
		CommandID: d.CommandID,
		Ref:       ref,
		At:        e.now(),
	})

	var insufficient *wallet.InsufficientCreditError
	switch {
	case err == nil:
	case errors.As(err, &insufficient):
		e.logger.Debug("insufficient credit",
			"command", d.CommandKey,
			"wallet", target.String(),
			"balance", insufficient.Balance,
			"required", insufficient.Required,
		)
		e.plugins.EmitInsufficientCredit(ctx, d, target, insufficient.Balance, insufficient.Required)
		return &ChargeOutcome{
			Status:       StatusInsufficient,
			Balance:      insufficient.Balance,
			Required:     insufficient.Required,
			Shortfall:    insufficient.Shortfall(),
			WalletTarget: target,
			Decision:     d,
		}, nil
	case errors.Is(err, ErrWalletInactive):
		e.logger.Warn("charge refused by inactive wallet", "command", d.CommandKey, "wallet", target.String())
		e.plugins.EmitChargeDenied(ctx, actor, d, string(StatusWalletInactive))
		return &ChargeOutcome{Status: StatusWalletInactive, WalletTarget: target, Decision: d}, nil
	default:
		e.logger.Error("charge failed", "command", d.CommandKey, "wallet", target.String(), "error", err)
		return nil, transactionFailed("billing: charge", err)
	}

	e.logger.Debug("command charged",
		"command", d.CommandKey,
		"wallet", target.String(),
		"amount", entry.Amount,
		"balance_after", entry.BalanceAfter,
	)
	e.plugins.EmitCharged(ctx, d, w, entry)

	return &ChargeOutcome{
		Allowed:      true,
		Charged:      true,
		Status:       StatusCharged,
		BalanceAfter: entry.BalanceAfter,
		WalletTarget: target,
		Entry:        entry,
		Decision:     d,
	}, nil
}

// walletTarget maps a wallet scope onto the actor's concrete payer.
func walletTarget(actor scope.Actor, walletScope scope.Type) (scope.Target, error) {
	switch walletScope {
	case scope.TypeGroup, "":
		return actor.GroupTarget(), nil
	case scope.TypeLeasing:
		if t, ok := actor.LeasingTarget(); ok {
			return t, nil
		}
	case scope.TypePersonal:
		if t, ok := actor.PersonalTarget(); ok {
			return t, nil
		}
	}
	return scope.Target{}, fmt.Errorf("%w: %s", ErrWalletScopeUnsatisfiable, walletScope)
}

// SubscriptionFor is a convenience lookup of the subscription that would
// satisfy a SUBSCRIPTION policy for target and the command key.
func (e *Engine) SubscriptionFor(ctx context.Context, target scope.Target, commandKey string) (*subscription.Subscription, error) {
	c, err := e.store.GetCommandByKey(ctx, command.NormalizeKey(commandKey))
	if err != nil {
		return nil, storeFailure("billing: subscription lookup", err)
	}
	sub, err := e.store.FindActiveSubscription(ctx, target, c.ID, e.now())
	if err != nil {
		return nil, storeFailure("billing: subscription lookup", err)
	}
	return sub, nil
}
