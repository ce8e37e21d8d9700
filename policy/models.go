// Package policy defines per-scope billing policies and the decisions the
// resolver derives from them.
package policy

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xraph/billing/id"
	"github.com/xraph/billing/scope"
	"github.com/xraph/billing/types"
)

// Mode selects how a command is billed.
type Mode string

const (
	ModeFree         Mode = "FREE"
	ModeCredit       Mode = "CREDIT"
	ModeSubscription Mode = "SUBSCRIPTION"
)

// Valid reports whether m is a known billing mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeFree, ModeCredit, ModeSubscription:
		return true
	}
	return false
}

// ParseMode parses a billing mode name, case-insensitively.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToUpper(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", fmt.Errorf("policy: unknown billing mode %q", s)
	}
	return m, nil
}

// ErrInvalid is wrapped by every validation failure in this package.
var ErrInvalid = errors.New("policy: invalid policy")

// Policy is the billing rule for one command at one scope target.
// There is at most one policy per (target, command).
type Policy struct {
	types.Entity
	ID          id.PolicyID  `json:"id"`
	Target      scope.Target `json:"target"`
	CommandID   id.CommandID `json:"command_id"`
	Enabled     bool         `json:"is_enabled"`
	Mode        Mode         `json:"billing_mode"`
	CreditCost  int64        `json:"credit_cost"`
	WalletScope scope.Type   `json:"wallet_scope"`
}

// Input is the write-side shape of a policy. It accepts the legacy
// UseCredit flag, which Normalize folds into Mode.
type Input struct {
	Target      scope.Target
	CommandID   id.CommandID
	Enabled     *bool
	Mode        Mode
	UseCredit   *bool
	CreditCost  int64
	WalletScope scope.Type
}

// Normalize validates in and converts it to the persisted Policy shape.
// An explicit Mode wins over UseCredit. CREDIT requires a cost of at least
// one; other modes have their cost raised to one.
func (in Input) Normalize() (*Policy, error) {
	if err := in.Target.Validate(); err != nil {
		return nil, fmt.Errorf("%w: target: %w", ErrInvalid, err)
	}
	if in.CommandID.IsNil() {
		return nil, fmt.Errorf("%w: command id is required", ErrInvalid)
	}

	mode := in.Mode
	if mode == "" {
		mode = ModeFree
		if in.UseCredit != nil && *in.UseCredit {
			mode = ModeCredit
		}
	}
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: unknown billing mode %q", ErrInvalid, mode)
	}

	cost := in.CreditCost
	if cost < 1 {
		if mode == ModeCredit {
			return nil, fmt.Errorf("%w: credit cost must be at least 1 for CREDIT policies", ErrInvalid)
		}
		cost = 1
	}

	walletScope := in.WalletScope
	if walletScope == "" {
		walletScope = scope.TypeGroup
	}
	if !walletScope.Valid() {
		return nil, fmt.Errorf("%w: unknown wallet scope %q", ErrInvalid, walletScope)
	}

	enabled := true
	if in.Enabled != nil {
		enabled = *in.Enabled
	}

	return &Policy{
		Target:      in.Target,
		CommandID:   in.CommandID,
		Enabled:     enabled,
		Mode:        mode,
		CreditCost:  cost,
		WalletScope: walletScope,
	}, nil
}

// Hit records which precedence level produced a decision.
type Hit string

const (
	HitGroup    Hit = "GROUP"
	HitLeasing  Hit = "LEASING"
	HitPersonal Hit = "PERSONAL"
	HitDefault  Hit = "DEFAULT"
)

// Decision is the effective billing rule for one command invocation.
type Decision struct {
	Enabled     bool         `json:"is_enabled"`
	Mode        Mode         `json:"billing_mode"`
	CreditCost  int64        `json:"credit_cost"`
	WalletScope scope.Type   `json:"wallet_scope"`
	Hit         Hit          `json:"hit"`
	PolicyID    id.PolicyID  `json:"policy_id,omitempty"`
	CommandID   id.CommandID `json:"command_id"`
	CommandKey  string       `json:"command_key"`
}

// Default returns the decision applied when no policy matches: enabled,
// free, no cost, billed to the group.
func Default(cmdID id.CommandID, key string) *Decision {
	return &Decision{
		Enabled:     true,
		Mode:        ModeFree,
		CreditCost:  0,
		WalletScope: scope.TypeGroup,
		Hit:         HitDefault,
		CommandID:   cmdID,
		CommandKey:  key,
	}
}

// Decide turns a stored policy into a decision tagged with hit.
func (p *Policy) Decide(hit Hit, key string) *Decision {
	return &Decision{
		Enabled:     p.Enabled,
		Mode:        p.Mode,
		CreditCost:  p.CreditCost,
		WalletScope: p.WalletScope,
		Hit:         hit,
		PolicyID:    p.ID,
		CommandID:   p.CommandID,
		CommandKey:  key,
	}
}
