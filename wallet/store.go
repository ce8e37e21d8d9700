package wallet

import (
	"context"

	"github.com/xraph/billing/id"
	"github.com/xraph/billing/scope"
)

// Store persists wallets and their ledger.
type Store interface {
	GetWallet(ctx context.Context, target scope.Target) (*Wallet, error)

	// EnsureWallet returns the wallet of target, creating an active empty
	// one if none exists. Creation is committed on its own and is safe
	// to race.
	EnsureWallet(ctx context.Context, target scope.Target) (*Wallet, error)

	SetWalletActive(ctx context.Context, target scope.Target, active bool) (*Wallet, error)

	// ApplyMutation ensures the wallet exists, then in one transaction
	// locks it, applies m with Apply, persists the new balance and appends
	// the entry. Nothing is written when it returns an error.
	ApplyMutation(ctx context.Context, m Mutation) (*Wallet, *Entry, error)

	ListEntries(ctx context.Context, walletID id.WalletID, opts EntryListOpts) ([]*Entry, error)
	LedgerTotals(ctx context.Context, walletID id.WalletID) (*Totals, error)
}

// EntryListOpts filters ListEntries. Entries are returned newest first.
type EntryListOpts struct {
	Type   TxType
	Limit  int
	Offset int
}
