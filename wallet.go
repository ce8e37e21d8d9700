package billing

import (
	"context"
	"errors"

	"github.com/xraph/billing/scope"
	"github.com/xraph/billing/wallet"
)

// ──────────────────────────────────────────────────
// Wallet operations
// ──────────────────────────────────────────────────

// TopUp credits amount to the wallet of target, creating the wallet if
// needed. A deactivated wallet refuses credits with ErrWalletInactive.
func (e *Engine) TopUp(ctx context.Context, target scope.Target, amount int64, ref wallet.Ref) (*wallet.Entry, error) {
	if err := target.Validate(); err != nil {
		return nil, invalid("billing: top up", err)
	}
	if amount < 1 {
		return nil, ValidationError{Field: "amount", Message: "must be at least 1"}
	}

	w, entry, err := e.store.ApplyMutation(ctx, wallet.Mutation{
		Target: target,
		Type:   wallet.TxCredit,
		Amount: amount,
		Ref:    ref,
		At:     e.now(),
	})
	if err != nil {
		if errTopUpRefused(err) {
			return nil, err
		}
		e.logger.Error("top up failed", "wallet", target.String(), "amount", amount, "error", err)
		return nil, transactionFailed("billing: top up", err)
	}

	e.logger.Info("wallet topped up",
		"wallet", target.String(),
		"amount", amount,
		"balance_after", entry.BalanceAfter,
		"ref_type", ref.Type,
		"ref_id", ref.ID,
	)
	e.plugins.EmitToppedUp(ctx, w, entry)

	return entry, nil
}

func errTopUpRefused(err error) bool {
	return errors.Is(err, ErrWalletInactive) || errors.Is(err, wallet.ErrInvalidAmount)
}

// Balance returns the balance of target's wallet. A wallet that was never
// created has a balance of zero and is not created by this call.
func (e *Engine) Balance(ctx context.Context, target scope.Target) (int64, error) {
	w, err := e.store.GetWallet(ctx, target)
	if err != nil {
		if IsNotFound(err) {
			return 0, nil
		}
		return 0, storeFailure("billing: balance", err)
	}
	return w.Balance, nil
}

// GetWallet returns the wallet of target.
func (e *Engine) GetWallet(ctx context.Context, target scope.Target) (*wallet.Wallet, error) {
	w, err := e.store.GetWallet(ctx, target)
	if err != nil {
		return nil, storeFailure("billing: get wallet", err)
	}
	return w, nil
}

// ListEntries returns the ledger of target's wallet, newest first.
func (e *Engine) ListEntries(ctx context.Context, target scope.Target, opts wallet.EntryListOpts) ([]*wallet.Entry, error) {
	w, err := e.store.GetWallet(ctx, target)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, storeFailure("billing: list entries", err)
	}
	entries, err := e.store.ListEntries(ctx, w.ID, opts)
	if err != nil {
		return nil, storeFailure("billing: list entries", err)
	}
	return entries, nil
}

// SetWalletActive activates or deactivates the wallet of target, creating
// it first when it does not exist yet.
func (e *Engine) SetWalletActive(ctx context.Context, target scope.Target, active bool) (*wallet.Wallet, error) {
	if err := target.Validate(); err != nil {
		return nil, invalid("billing: set wallet active", err)
	}
	if _, err := e.store.EnsureWallet(ctx, target); err != nil {
		return nil, storeFailure("billing: set wallet active", err)
	}
	w, err := e.store.SetWalletActive(ctx, target, active)
	if err != nil {
		return nil, storeFailure("billing: set wallet active", err)
	}

	e.logger.Info("wallet status changed", "wallet", target.String(), "active", active)
	e.plugins.EmitWalletStatusChanged(ctx, w)

	return w, nil
}

// Reconciliation compares a wallet's stored balance with its ledger.
type Reconciliation struct {
	Target      scope.Target   `json:"target"`
	Balance     int64          `json:"balance"`
	Totals      *wallet.Totals `json:"totals"`
	Drift       int64          `json:"drift"`
	Consistent  bool           `json:"consistent"`
	WalletFound bool           `json:"wallet_found"`
}

// Reconcile checks that target's balance equals the sum of credits minus
// debits and the balance_after of the latest entry.
func (e *Engine) Reconcile(ctx context.Context, target scope.Target) (*Reconciliation, error) {
	w, err := e.store.GetWallet(ctx, target)
	if err != nil {
		if IsNotFound(err) {
			return &Reconciliation{Target: target, Totals: &wallet.Totals{}, Consistent: true}, nil
		}
		return nil, storeFailure("billing: reconcile", err)
	}

	totals, err := e.store.LedgerTotals(ctx, w.ID)
	if err != nil {
		return nil, storeFailure("billing: reconcile", err)
	}

	r := &Reconciliation{
		Target:      target,
		Balance:     w.Balance,
		Totals:      totals,
		Drift:       w.Balance - totals.Net(),
		WalletFound: true,
	}
	r.Consistent = r.Drift == 0 && (!totals.HasLastEntry || totals.LastBalance == w.Balance)

	if !r.Consistent {
		e.logger.Warn("wallet ledger drift",
			"wallet", target.String(),
			"balance", w.Balance,
			"ledger_net", totals.Net(),
			"last_balance_after", totals.LastBalance,
		)
	}

	return r, nil
}
