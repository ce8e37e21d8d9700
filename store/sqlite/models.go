package sqlite

import (
	"fmt"
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

// timeFormat is fixed-width so stored timestamps sort lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("billing/sqlite: parse time %q: %w", s, err)
	}
	return t, nil
}

func formatOptionalTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func parseOptionalTime(s *string) (*time.Time, error) {
	if s == nil {
		return nil, nil
	}
	t, err := parseTime(*s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func parseEntity(createdAt, updatedAt string) (types.Entity, error) {
	created, err := parseTime(createdAt)
	if err != nil {
		return types.Entity{}, err
	}
	updated, err := parseTime(updatedAt)
	if err != nil {
		return types.Entity{}, err
	}
	return types.Entity{CreatedAt: created, UpdatedAt: updated}, nil
}

// ==================== Command models ====================

type commandModel struct {
	grove.BaseModel `grove:"table:billing_commands"`

	ID             string `grove:"id,pk"`
	Key            string `grove:"command_key"`
	Description    string `grove:"description"`
	Scope          string `grove:"scope"`
	RequiresMaster bool   `grove:"requires_master"`
	IsActive       bool   `grove:"is_active"`
	CreatedAt      string `grove:"created_at"`
	UpdatedAt      string `grove:"updated_at"`
}

func toCommandModel(c *command.Command) *commandModel {
	return &commandModel{
		ID:             c.ID.String(),
		Key:            c.Key,
		Description:    c.Description,
		Scope:          string(c.Scope),
		RequiresMaster: c.RequiresMaster,
		IsActive:       c.Active,
		CreatedAt:      formatTime(c.CreatedAt),
		UpdatedAt:      formatTime(c.UpdatedAt),
	}
}

func fromCommandModel(m *commandModel) (*command.Command, error) {
	cmdID, err := id.ParseCommandID(m.ID)
	if err != nil {
		return nil, err
	}
	entity, err := parseEntity(m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &command.Command{
		Entity:         entity,
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

	ID          string `grove:"id,pk"`
	ScopeType   string `grove:"scope_type"`
	Target      string `grove:"target"`
	CommandID   string `grove:"command_id"`
	IsEnabled   bool   `grove:"is_enabled"`
	BillingMode string `grove:"billing_mode"`
	CreditCost  int64  `grove:"credit_cost"`
	WalletScope string `grove:"wallet_scope"`
	CreatedAt   string `grove:"created_at"`
	UpdatedAt   string `grove:"updated_at"`
}

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
		CreatedAt:   formatTime(p.CreatedAt),
		UpdatedAt:   formatTime(p.UpdatedAt),
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
	entity, err := parseEntity(m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &policy.Policy{
		Entity:      entity,
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

type walletModel struct {
	grove.BaseModel `grove:"table:billing_wallets"`

	ID        string `grove:"id,pk"`
	ScopeType string `grove:"scope_type"`
	Target    string `grove:"target"`
	Balance   int64  `grove:"balance"`
	IsActive  bool   `grove:"is_active"`
	CreatedAt string `grove:"created_at"`
	UpdatedAt string `grove:"updated_at"`
}

func toWalletModel(w *wallet.Wallet) *walletModel {
	return &walletModel{
		ID:        w.ID.String(),
		ScopeType: string(w.Target.Type()),
		Target:    w.Target.Key(),
		Balance:   w.Balance,
		IsActive:  w.Active,
		CreatedAt: formatTime(w.CreatedAt),
		UpdatedAt: formatTime(w.UpdatedAt),
	}
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
	entity, err := parseEntity(m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &wallet.Wallet{
		Entity:  entity,
		ID:      walID,
		Target:  target,
		Balance: m.Balance,
		Active:  m.IsActive,
	}, nil
}

type entryModel struct {
	grove.BaseModel `grove:"table:billing_wallet_entries"`

	ID            string  `grove:"id,pk"`
	WalletID      string  `grove:"wallet_id"`
	Seq           int64   `grove:"seq,autoincrement"`
	TxType        string  `grove:"tx_type"`
	Amount        int64   `grove:"amount"`
	BalanceBefore int64   `grove:"balance_before"`
	BalanceAfter  int64   `grove:"balance_after"`
	CommandID     *string `grove:"command_id"`
	RefType       string  `grove:"ref_type"`
	RefID         string  `grove:"ref_id"`
	Notes         string  `grove:"notes"`
	CreatedAt     string  `grove:"created_at"`
}

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
		CreatedAt:     formatTime(e.CreatedAt),
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
	createdAt, err := parseTime(m.CreatedAt)
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
		CreatedAt:     createdAt,
	}, nil
}

// ==================== Subscription models ====================

type subscriptionModel struct {
	grove.BaseModel `grove:"table:billing_subscriptions"`

	ID                 string  `grove:"id,pk"`
	ScopeType          string  `grove:"scope_type"`
	Target             string  `grove:"target"`
	CommandID          *string `grove:"command_id"`
	Status             string  `grove:"status"`
	CurrentPeriodStart string  `grove:"current_period_start"`
	CurrentPeriodEnd   string  `grove:"current_period_end"`
	CanceledAt         *string `grove:"canceled_at"`
	Notes              string  `grove:"notes"`
	CreatedAt          string  `grove:"created_at"`
	UpdatedAt          string  `grove:"updated_at"`
}

func toSubscriptionModel(s *subscription.Subscription) *subscriptionModel {
	return &subscriptionModel{
		ID:                 s.ID.String(),
		ScopeType:          string(s.Target.Type()),
		Target:             s.Target.Key(),
		CommandID:          optionalID(s.CommandID),
		Status:             string(s.Status),
		CurrentPeriodStart: formatTime(s.CurrentPeriodStart),
		CurrentPeriodEnd:   formatTime(s.CurrentPeriodEnd),
		CanceledAt:         formatOptionalTime(s.CanceledAt),
		Notes:              s.Notes,
		CreatedAt:          formatTime(s.CreatedAt),
		UpdatedAt:          formatTime(s.UpdatedAt),
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
	entity, err := parseEntity(m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	start, err := parseTime(m.CurrentPeriodStart)
	if err != nil {
		return nil, err
	}
	end, err := parseTime(m.CurrentPeriodEnd)
	if err != nil {
		return nil, err
	}
	canceledAt, err := parseOptionalTime(m.CanceledAt)
	if err != nil {
		return nil, err
	}
	return &subscription.Subscription{
		Entity:             entity,
		ID:                 subID,
		Target:             target,
		CommandID:          cmdID,
		Status:             subscription.Status(m.Status),
		CurrentPeriodStart: start,
		CurrentPeriodEnd:   end,
		CanceledAt:         canceledAt,
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
