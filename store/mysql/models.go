package mysql

import (
	"time"

	"github.com/xraph/billing/command"
	"github.com/xraph/billing/id"
	"github.com/xraph/billing/policy"
	"github.com/xraph/billing/scope"
	"github.com/xraph/billing/subscription"
	"github.com/xraph/billing/types"
	"github.com/xraph/billing/wallet"
)

// ──────────────────────────────────────────────────
// Command model
// ──────────────────────────────────────────────────

type commandModel struct {
	ID             string    `gorm:"primaryKey;size:64"`
	Key            string    `gorm:"column:command_key;size:191;not null;uniqueIndex:idx_billing_commands_key"`
	Description    string    `gorm:"type:text"`
	Scope          string    `gorm:"size:16;not null;default:BOTH"`
	RequiresMaster bool      `gorm:"not null"`
	IsActive       bool      `gorm:"not null"`
	CreatedAt      time.Time `gorm:"type:datetime(6);not null"`
	UpdatedAt      time.Time `gorm:"type:datetime(6);not null"`
}

func (commandModel) TableName() string { return "billing_commands" }

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
		Entity:         entity(m.CreatedAt, m.UpdatedAt),
		ID:             cmdID,
		Key:            m.Key,
		Description:    m.Description,
		Scope:          command.Scope(m.Scope),
		RequiresMaster: m.RequiresMaster,
		Active:         m.IsActive,
	}, nil
}

// ──────────────────────────────────────────────────
// Policy model
// ──────────────────────────────────────────────────

type policyModel struct {
	ID          string    `gorm:"primaryKey;size:64"`
	ScopeType   string    `gorm:"size:16;not null;uniqueIndex:idx_billing_policies_target_command,priority:1"`
	Target      string    `gorm:"size:128;not null;uniqueIndex:idx_billing_policies_target_command,priority:2"`
	CommandID   string    `gorm:"size:64;not null;uniqueIndex:idx_billing_policies_target_command,priority:3;index:idx_billing_policies_command"`
	IsEnabled   bool      `gorm:"not null"`
	BillingMode string    `gorm:"size:16;not null;default:FREE"`
	CreditCost  int64     `gorm:"not null;default:1;check:chk_billing_policies_cost,credit_cost >= 1"`
	WalletScope string    `gorm:"size:16;not null;default:GROUP"`
	CreatedAt   time.Time `gorm:"type:datetime(6);not null"`
	UpdatedAt   time.Time `gorm:"type:datetime(6);not null"`
}

func (policyModel) TableName() string { return "billing_policies" }

func toPolicyModel(p *policy.Policy) *policyModel {
	return &policyModel{
		ID:          p.ID.String(),
		ScopeType:   string(p.Target.Type()),
		Target:      p.Target.Key(),
		CommandID:   p.CommandID.String(),
		IsEnabled:   p.Enabled,
		BillingMode: string(p.Mode),
		CreditCost:  p.CreditCost,
		WalletScope: string(p.WalletScope),
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
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
		Entity:      entity(m.CreatedAt, m.UpdatedAt),
		ID:          polID,
		Target:      target,
		CommandID:   cmdID,
		Enabled:     m.IsEnabled,
		Mode:        policy.Mode(m.BillingMode),
		CreditCost:  m.CreditCost,
		WalletScope: scope.Type(m.WalletScope),
	}, nil
}

// ──────────────────────────────────────────────────
// Wallet models
// ──────────────────────────────────────────────────

type walletModel struct {
	ID        string    `gorm:"primaryKey;size:64"`
	ScopeType string    `gorm:"size:16;not null;uniqueIndex:idx_billing_wallets_target,priority:1"`
	Target    string    `gorm:"size:128;not null;uniqueIndex:idx_billing_wallets_target,priority:2"`
	Balance   int64     `gorm:"not null;default:0;check:chk_billing_wallets_balance,balance >= 0"`
	IsActive  bool      `gorm:"not null"`
	CreatedAt time.Time `gorm:"type:datetime(6);not null"`
	UpdatedAt time.Time `gorm:"type:datetime(6);not null"`
}

func (walletModel) TableName() string { return "billing_wallets" }

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
		Entity:  entity(m.CreatedAt, m.UpdatedAt),
		ID:      walID,
		Target:  target,
		Balance: m.Balance,
		Active:  m.IsActive,
	}, nil
}

type entryModel struct {
	Seq           uint64    `gorm:"primaryKey;autoIncrement"`
	ID            string    `gorm:"size:64;not null;uniqueIndex:idx_billing_wallet_entries_id"`
	WalletID      string    `gorm:"size:64;not null;index:idx_billing_wallet_entries_wallet"`
	TxType        string    `gorm:"size:8;not null"`
	Amount        int64     `gorm:"not null;check:chk_billing_wallet_entries_amount,amount >= 1"`
	BalanceBefore int64     `gorm:"not null"`
	BalanceAfter  int64     `gorm:"not null;check:chk_billing_wallet_entries_after,balance_after >= 0"`
	CommandID     *string   `gorm:"size:64"`
	RefType       string    `gorm:"size:64;not null;default:'';index:idx_billing_wallet_entries_ref,priority:1"`
	RefID         string    `gorm:"size:191;not null;default:'';index:idx_billing_wallet_entries_ref,priority:2"`
	Notes         string    `gorm:"type:text"`
	CreatedAt     time.Time `gorm:"type:datetime(6);not null"`
}

func (entryModel) TableName() string { return "billing_wallet_entries" }

func toEntryModel(e *wallet.Entry) *entryModel {
	return &entryModel{
		ID:            e.ID.String(),
		WalletID:      e.WalletID.String(),
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

// ──────────────────────────────────────────────────
// Subscription model
// ──────────────────────────────────────────────────

type subscriptionModel struct {
	ID                 string     `gorm:"primaryKey;size:64"`
	ScopeType          string     `gorm:"size:16;not null;index:idx_billing_subscriptions_target,priority:1"`
	Target             string     `gorm:"size:128;not null;index:idx_billing_subscriptions_target,priority:2"`
	CommandID          *string    `gorm:"size:64"`
	Status             string     `gorm:"size:16;not null;default:active;index:idx_billing_subscriptions_target,priority:3"`
	CurrentPeriodStart time.Time  `gorm:"type:datetime(6);not null"`
	CurrentPeriodEnd   time.Time  `gorm:"type:datetime(6);not null"`
	CanceledAt         *time.Time `gorm:"type:datetime(6)"`
	Notes              string     `gorm:"type:text"`
	CreatedAt          time.Time  `gorm:"type:datetime(6);not null"`
	UpdatedAt          time.Time  `gorm:"type:datetime(6);not null"`
}

func (subscriptionModel) TableName() string { return "billing_subscriptions" }

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
		Entity:             entity(m.CreatedAt, m.UpdatedAt),
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

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func entity(createdAt, updatedAt time.Time) types.Entity {
	return types.Entity{CreatedAt: createdAt, UpdatedAt: updatedAt}
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
