// Package wallet defines credit wallets, their append-only ledger and the
// single balance-mutation rule every store backend applies under its lock.
package wallet

import (
	"errors"
	"fmt"
	"time"

	"github.com/xraph/billing/id"
	"github.com/xraph/billing/scope"
	"github.com/xraph/billing/types"
)

// TxType is the direction of a ledger entry.
type TxType string

const (
	TxDebit  TxType = "DEBIT"
	TxCredit TxType = "CREDIT"
)

// Valid reports whether t is a known entry type.
func (t TxType) Valid() bool { return t == TxDebit || t == TxCredit }

var (
	// ErrInactive is returned when a mutation targets a deactivated wallet.
	ErrInactive = errors.New("wallet: wallet is inactive")
	// ErrInsufficientCredit is matched by every *InsufficientCreditError.
	ErrInsufficientCredit = errors.New("wallet: insufficient credit")
	// ErrInvalidAmount is returned for non-positive mutation amounts.
	ErrInvalidAmount = errors.New("wallet: amount must be at least 1")
)

// InsufficientCreditError reports a debit that would overdraw a wallet.
type InsufficientCreditError struct {
	Balance  int64
	Required int64
}

func (e *InsufficientCreditError) Error() string {
	return fmt.Sprintf("wallet: insufficient credit: balance %d, required %d", e.Balance, e.Required)
}

// Is makes errors.Is(err, ErrInsufficientCredit) match.
func (e *InsufficientCreditError) Is(target error) bool {
	return target == ErrInsufficientCredit
}

// Shortfall is the amount missing to cover the debit.
func (e *InsufficientCreditError) Shortfall() int64 {
	return e.Required - e.Balance
}

// Wallet holds the credit balance of one scope target. Balance is never
// negative.
type Wallet struct {
	types.Entity
	ID      id.WalletID  `json:"id"`
	Target  scope.Target `json:"target"`
	Balance int64        `json:"balance"`
	Active  bool         `json:"is_active"`
}

// New returns an active, empty wallet for target.
func New(target scope.Target, now time.Time) *Wallet {
	return &Wallet{
		Entity: types.NewEntityAt(now),
		ID:     id.NewWalletID(),
		Target: target,
		Active: true,
	}
}

// Entry is an immutable ledger line. BalanceAfter equals the wallet
// balance at the moment the entry's transaction committed.
type Entry struct {
	ID            id.EntryID   `json:"id"`
	WalletID      id.WalletID  `json:"wallet_id"`
	Type          TxType       `json:"tx_type"`
	Amount        int64        `json:"amount"`
	BalanceBefore int64        `json:"balance_before"`
	BalanceAfter  int64        `json:"balance_after"`
	CommandID     id.CommandID `json:"command_id,omitempty"`
	RefType       string       `json:"ref_type,omitempty"`
	RefID         string       `json:"ref_id,omitempty"`
	Notes         string       `json:"notes,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
}

// Ref is an advisory reference to the business event behind a mutation.
// It is not a uniqueness key.
type Ref struct {
	Type  string `json:"ref_type,omitempty"`
	ID    string `json:"ref_id,omitempty"`
	Notes string `json:"notes,omitempty"`
}

// Mutation describes one debit or credit against the wallet of Target.
type Mutation struct {
	Target    scope.Target
	Type      TxType
	Amount    int64
	CommandID id.CommandID
	Ref       Ref
	// At stamps the entry; stores use the current time when it is zero.
	At time.Time
}

// Validate checks the mutation shape before any store work.
func (m Mutation) Validate() error {
	if err := m.Target.Validate(); err != nil {
		return err
	}
	if !m.Type.Valid() {
		return fmt.Errorf("wallet: unknown entry type %q", m.Type)
	}
	if m.Amount < 1 {
		return ErrInvalidAmount
	}
	return nil
}

// Apply performs m on w in memory and returns the ledger entry to append.
// It leaves w untouched when it returns an error. Callers must hold the
// wallet's row lock for the whole read-apply-write sequence.
func Apply(w *Wallet, m Mutation, now time.Time) (*Entry, error) {
	if m.Amount < 1 {
		return nil, ErrInvalidAmount
	}
	if !w.Active {
		return nil, ErrInactive
	}

	before := w.Balance
	var after int64
	switch m.Type {
	case TxDebit:
		if before < m.Amount {
			return nil, &InsufficientCreditError{Balance: before, Required: m.Amount}
		}
		after = before - m.Amount
	case TxCredit:
		after = before + m.Amount
	default:
		return nil, fmt.Errorf("wallet: unknown entry type %q", m.Type)
	}

	now = now.UTC()
	w.Balance = after
	w.Touch(now)

	return &Entry{
		ID:            id.NewEntryID(),
		WalletID:      w.ID,
		Type:          m.Type,
		Amount:        m.Amount,
		BalanceBefore: before,
		BalanceAfter:  after,
		CommandID:     m.CommandID,
		RefType:       m.Ref.Type,
		RefID:         m.Ref.ID,
		Notes:         m.Ref.Notes,
		CreatedAt:     now,
	}, nil
}

// Totals summarizes a wallet's ledger for reconciliation.
type Totals struct {
	Credits      int64 `json:"credits"`
	Debits       int64 `json:"debits"`
	Entries      int64 `json:"entries"`
	LastBalance  int64 `json:"last_balance_after"`
	HasLastEntry bool  `json:"has_last_entry"`
}

// Net is the balance implied by the ledger.
func (t Totals) Net() int64 { return t.Credits - t.Debits }
