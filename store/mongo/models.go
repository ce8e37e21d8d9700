package mongo

import (
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/billing/command"
	"github.com/xraph/billing/id"
	"github.com/xraph/billing/policy"
	"github.com/xraph/billing/scope"
	"github.com/xraph/billing/subscription"
	"github.com/xraph/billing/types"
	"github.com/xraph/billing/wallet"
)

// ==================== Command models ====================

type commandModel struct {
	grove.BaseModel `grove:"table:billing_commands"`

	ID             string    `grove:"id,pk"           bson:"_id"`
	Key            string    `grove:"command_key"     bson:"command_key"`
	Description    string    `grove:"description"     bson:"description"`
	Scope          string    `grove:"scope"           bson:"scope"`
	RequiresMaster bool      `grove:"requires_master" bson:"requires_master"`
	IsActive       bool      `grove:"is_active"       bson:"is_active"`
	CreatedAt      time.Time `grove:"created_at"      bson:"created_at"`
	UpdatedAt      time.Time `grove:"updated_at"      bson:"updated_at"`
}

func toCommandModel(c *command.Command) *commandModel {
	return &commandModel{
		ID:             c.ID.String(),
		Key:            c.Key,
		Description:    c.Description,
		Scope:          string(c.Scope),
		RequiresMaster: c.RequiresMaster,
		IsActive:       c.Active,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
	}
}

func fromCommandModel(m *commandModel) (*command.Command, error) {
	cmdID, err := id.ParseCommandID(m.ID)
	if err != nil {
		return nil, err
	}
	return &command.Command{
		Entity:         types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:             cmdID,
		Key:            m.Key,
		Description:    m.Description,
		Scope:          command.Scope(m.Scope),
		RequiresMaster: m.RequiresMaster,
		Active:         m.IsActive,
	}, nil
}

// ==================== Policy models ====================

type policyModel struct {
	grove.BaseModel `grove:"table:billing_policies"`

	ID          string    `grove:"id,pk"        bson:"_id"`
	ScopeType   string    `grove:"scope_type"   bson:"scope_type"`
	Target      string    `grove:"target"       bson:"target"`
	CommandID   string    `grove:"command_id"   bson:"command_id"`
	IsEnabled   bool      `grove:"is_enabled"   bson:"is_enabled"`
	BillingMode string    `grove:"billing_mode" bson:"billing_mode"`
	CreditCost  int64     `grove:"credit_cost"  bson:"credit_cost"`
	WalletScope string    `grove:"wallet_scope" bson:"wallet_scope"`
	CreatedAt   time.Time `grove:"created_at"   bson:"created_at"`
	UpdatedAt   time.Time `grove:"updated_at"   bson:"updated_at"`
}

func fromPolicyModel(m *policyModel) (*policy.Policy, error) {
	polID, err := id.ParsePolicyID(m.ID)
	if err != nil {
		return nil, err
	}
	cmdID, err := id.ParseCommandID(m.CommandID)
	if err != nil {
		return nil, err
	}
	target, err := scope.NewTarget(scope.Type(m.ScopeType), m.Target)
	if err != nil {
		return nil, err
	}
	return &policy.Policy{
		Entity:      types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:          polID,
		Target:      target,
		CommandID:   cmdID,
		Enabled:     m.IsEnabled,
		Mode:        policy.Mode(m.BillingMode),
		CreditCost:  m.CreditCost,
		WalletScope: scope.Type(m.WalletScope),
	}, nil
}

// ==================== Wallet models ====================

// walletModel carries Seq, the number of entries written so far. Every
// mutation increments it, which both orders entries and makes concurrent
// transactions on the same wallet conflict.
type walletModel struct {
	grove.BaseModel `grove:"table:billing_wallets"`

	ID        string    `grove:"id,pk"      bson:"_id"`
	ScopeType string    `grove:"scope_type" bson:"scope_type"`
	Target    string    `grove:"target"     bson:"target"`
	Balance   int64     `grove:"balance"    bson:"balance"`
	IsActive  bool      `grove:"is_active"  bson:"is_active"`
	Seq       int64     `grove:"seq"        bson:"seq"`
	CreatedAt time.Time `grove:"created_at" bson:"created_at"`
	UpdatedAt time.Time `grove:"updated_at" bson:"updated_at"`
}

func fromWalletModel(m *walletModel) (*wallet.Wallet, error) {
	walID, err := id.ParseWalletID(m.ID)
	if err != nil {
		return nil, err
	}
	target, err := scope.NewTarget(scope.Type(m.ScopeType), m.Target)
	if err != nil {
		return nil, err
	}
	return &wallet.Wallet{
		Entity:  types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:      walID,
		Target:  target,
		Balance: m.Balance,
		Active:  m.IsActive,
	}, nil
}

type entryModel struct {
	grove.BaseModel `grove:"table:billing_wallet_entries"`

	ID            string    `grove:"id,pk"          bson:"_id"`
	WalletID      string    `grove:"wallet_id"      bson:"wallet_id"`
	Seq           int64     `grove:"seq"            bson:"seq"`
	TxType        string    `grove:"tx_type"        bson:"tx_type"`
	Amount        int64     `grove:"amount"         bson:"amount"`
	BalanceBefore int64     `grove:"balance_before" bson:"balance_before"`
	BalanceAfter  int64     `grove:"balance_after"  bson:"balance_after"`
	CommandID     *string   `grove:"command_id"     bson:"command_id,omitempty"`
	RefType       string    `grove:"ref_type"       bson:"ref_type"`
	RefID         string    `grove:"ref_id"         bson:"ref_id"`
	Notes         string    `grove:"notes"          bson:"notes"`
	CreatedAt     time.Time `grove:"created_at"     bson:"created_at"`
}

func toEntryModel(e *wallet.Entry, seq int64) *entryModel {
	return &entryModel{
		ID:            e.ID.String(),
		WalletID:      e.WalletID.String(),
		Seq:           seq,
		TxType:        string(e.Type),
		Amount:        e.Amount,
		BalanceBefore: e.BalanceBefore,
		BalanceAfter:  e.BalanceAfter,
		CommandID:     optionalID(e.CommandID),
		RefType:       e.RefType,
		RefID:         e.RefID,
		Notes:         e.Notes,
		CreatedAt:     e.CreatedAt,
	}
}

func fromEntryModel(m *entryModel) (*wallet.Entry, error) {
	entryID, err := id.ParseEntryID(m.ID)
	if err != nil {
		return nil, err
	}
	walID, err := id.ParseWalletID(m.WalletID)
	if err != nil {
		return nil, err
	}
	cmdID, err := parseOptionalID(m.CommandID)
	if err != nil {
		return nil, err
	}
	return &wallet.Entry{
		ID:            entryID,
		WalletID:      walID,
		Type:          wallet.TxType(m.TxType),
		Amount:        m.Amount,
		BalanceBefore: m.BalanceBefore,
		BalanceAfter:  m.BalanceAfter,
		CommandID:     cmdID,
		RefType:       m.RefType,
		RefID:         m.RefID,
		Notes:         m.Notes,
		CreatedAt:     m.CreatedAt,
	}, nil
}

// ==================== Subscription models ====================

type subscriptionModel struct {
	grove.BaseModel `grove:"table:billing_subscriptions"`

	ID                 string     `grove:"id,pk"                bson:"_id"`
	ScopeType          string     `grove:"scope_type"           bson:"scope_type"`
	Target             string     `grove:"target"               bson:"target"`
	CommandID          *string    `grove:"command_id"           bson:"command_id,omitempty"`
	Status             string     `grove:"status"               bson:"status"`
	CurrentPeriodStart time.Time  `grove:"current_period_start" bson:"current_period_start"`
	CurrentPeriodEnd   time.Time  `grove:"current_period_end"   bson:"current_period_end"`
	CanceledAt         *time.Time `grove:"canceled_at"          bson:"canceled_at,omitempty"`
	Notes              string     `grove:"notes"                bson:"notes"`
	CreatedAt          time.Time  `grove:"created_at"           bson:"created_at"`
	UpdatedAt          time.Time  `grove:"updated_at"           bson:"updated_at"`
}

func toSubscriptionModel(s *subscription.Subscription) *subscriptionModel {
	return &subscriptionModel{
		ID:                 s.ID.String(),
		ScopeType:          string(s.Target.Type()),
		Target:             s.Target.Key(),
		CommandID:          optionalID(s.CommandID),
		Status:             string(s.Status),
		CurrentPeriodStart: s.CurrentPeriodStart,
		CurrentPeriodEnd:   s.CurrentPeriodEnd,
		CanceledAt:         s.CanceledAt,
		Notes:              s.Notes,
		CreatedAt:          s.CreatedAt,
		UpdatedAt:          s.UpdatedAt,
	}
}

func fromSubscriptionModel(m *subscriptionModel) (*subscription.Subscription, error) {
	subID, err := id.ParseSubscriptionID(m.ID)
	if err != nil {
		return nil, err
	}
	cmdID, err := parseOptionalID(m.CommandID)
	if err != nil {
		return nil, err
	}
	target, err := scope.NewTarget(scope.Type(m.ScopeType), m.Target)
	if err != nil {
		return nil, err
	}
	return &subscription.Subscription{
		Entity:             types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:                 subID,
		Target:             target,
		CommandID:          cmdID,
		Status:             subscription.Status(m.Status),
		CurrentPeriodStart: m.CurrentPeriodStart,
		CurrentPeriodEnd:   m.CurrentPeriodEnd,
		CanceledAt:         m.CanceledAt,
		Notes:              m.Notes,
	}, nil
}

func optionalID(i id.ID) *string {
	if i.IsNil() {
		return nil
	}
	s := i.String()
	return &s
}

func parseOptionalID(s *string) (id.ID, error) {
	if s == nil || *s == "" {
		return id.Nil, nil
	}
	return id.ParseCommandID(*s)
}
