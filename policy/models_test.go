package policy_test

import (
	"errors"
	"testing"

	"github.com/xraph/billing/id"
	"github.com/xraph/billing/policy"
	"github.com/xraph/billing/scope"
)

func boolPtr(b bool) *bool { return &b }

func TestInputNormalize(t *testing.T) {
	cmd := id.NewCommandID()
	group := scope.Group("g1")

	tests := []struct {
		name        string
		in          policy.Input
		wantMode    policy.Mode
		wantCost    int64
		wantEnabled bool
		wantWallet  scope.Type
		wantErr     bool
	}{
		{
			name:        "defaults",
			in:          policy.Input{Target: group, CommandID: cmd},
			wantMode:    policy.ModeFree,
			wantCost:    1,
			wantEnabled: true,
			wantWallet:  scope.TypeGroup,
		},
		{
			name:        "legacy use_credit true",
			in:          policy.Input{Target: group, CommandID: cmd, UseCredit: boolPtr(true), CreditCost: 5},
			wantMode:    policy.ModeCredit,
			wantCost:    5,
			wantEnabled: true,
			wantWallet:  scope.TypeGroup,
		},
		{
			name:        "legacy use_credit false",
			in:          policy.Input{Target: group, CommandID: cmd, UseCredit: boolPtr(false)},
			wantMode:    policy.ModeFree,
			wantCost:    1,
			wantEnabled: true,
			wantWallet:  scope.TypeGroup,
		},
		{
			name:        "explicit mode wins over use_credit",
			in:          policy.Input{Target: group, CommandID: cmd, Mode: policy.ModeFree, UseCredit: boolPtr(true)},
			wantMode:    policy.ModeFree,
			wantCost:    1,
			wantEnabled: true,
			wantWallet:  scope.TypeGroup,
		},
		{
			name:        "disabled subscription billed to leasing",
			in:          policy.Input{Target: group, CommandID: cmd, Enabled: boolPtr(false), Mode: policy.ModeSubscription, WalletScope: scope.TypeLeasing},
			wantMode:    policy.ModeSubscription,
			wantCost:    1,
			wantEnabled: false,
			wantWallet:  scope.TypeLeasing,
		},
		{
			name:    "credit without cost",
			in:      policy.Input{Target: group, CommandID: cmd, Mode: policy.ModeCredit},
			wantErr: true,
		},
		{
			name:    "missing command",
			in:      policy.Input{Target: group},
			wantErr: true,
		},
		{
			name:    "invalid target",
			in:      policy.Input{Target: scope.Personal("nope"), CommandID: cmd},
			wantErr: true,
		},
		{
			name:    "unknown wallet scope",
			in:      policy.Input{Target: group, CommandID: cmd, WalletScope: "TEAM"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := tt.in.Normalize()
			if tt.wantErr {
				if !errors.Is(err, policy.ErrInvalid) {
					t.Fatalf("expected ErrInvalid, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Normalize: %v", err)
			}
			if p.Mode != tt.wantMode {
				t.Errorf("Mode = %q, want %q", p.Mode, tt.wantMode)
			}
			if p.CreditCost != tt.wantCost {
				t.Errorf("CreditCost = %d, want %d", p.CreditCost, tt.wantCost)
			}
			if p.Enabled != tt.wantEnabled {
				t.Errorf("Enabled = %v, want %v", p.Enabled, tt.wantEnabled)
			}
			if p.WalletScope != tt.wantWallet {
				t.Errorf("WalletScope = %q, want %q", p.WalletScope, tt.wantWallet)
			}
		})
	}
}

func TestDefaultDecision(t *testing.T) {
	d := policy.Default(id.NewCommandID(), "cekunit")
	if !d.Enabled || d.Mode != policy.ModeFree || d.CreditCost != 0 ||
		d.WalletScope != scope.TypeGroup || d.Hit != policy.HitDefault {
		t.Errorf("unexpected default decision: %+v", d)
	}
}
