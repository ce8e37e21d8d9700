package plugin_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/billing/plugin"
	"github.com/xraph/billing/policy"
	"github.com/xraph/billing/scope"
	"github.com/xraph/billing/wallet"
)

type chargeRecorder struct {
	name    string
	charged atomic.Int32
	denied  atomic.Int32
	fail    bool
}

func (p *chargeRecorder) Name() string { return p.name }

func (p *chargeRecorder) OnCharged(_ context.Context, _ *policy.Decision, _ *wallet.Wallet, _ *wallet.Entry) error {
	p.charged.Add(1)
	if p.fail {
		return errors.New("boom")
	}
	return nil
}

func (p *chargeRecorder) OnChargeDenied(_ context.Context, _ scope.Actor, _ *policy.Decision, _ string) error {
	p.denied.Add(1)
	return nil
}

type slowPlugin struct{}

func (slowPlugin) Name() string { return "slow" }

func (slowPlugin) OnToppedUp(ctx context.Context, _ *wallet.Wallet, _ *wallet.Entry) error {
	select {
	case <-time.After(time.Second):
	case <-ctx.Done():
	}
	return nil
}

func TestRegisterAndDispatch(t *testing.T) {
	r := plugin.NewRegistry()
	a := &chargeRecorder{name: "a"}
	b := &chargeRecorder{name: "b", fail: true}

	for _, p := range []plugin.Plugin{a, b} {
		if err := r.Register(p); err != nil {
			t.Fatalf("Register(%s): %v", p.Name(), err)
		}
	}
	if err := r.Register(&chargeRecorder{name: "a"}); err == nil {
		t.Error("duplicate registration succeeded")
	}

	ctx := context.Background()
	r.EmitCharged(ctx, &policy.Decision{}, &wallet.Wallet{}, &wallet.Entry{})
	r.EmitCharged(ctx, &policy.Decision{}, &wallet.Wallet{}, &wallet.Entry{})
	r.EmitChargeDenied(ctx, scope.Actor{}, &policy.Decision{}, "denied")

	tests := []struct {
		name    string
		p       *chargeRecorder
		charged int32
		denied  int32
	}{
		{"a", a, 2, 1},
		{"failing plugin still called", b, 2, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.p.charged.Load(); got != tt.charged {
				t.Errorf("charged = %d, want %d", got, tt.charged)
			}
			if got := tt.p.denied.Load(); got != tt.denied {
				t.Errorf("denied = %d, want %d", got, tt.denied)
			}
		})
	}

	if r.Count() != 2 || r.Get("b") != b || r.Get("missing") != nil {
		t.Errorf("registry lookup mismatch: count %d", r.Count())
	}
}

func TestHookTimeout(t *testing.T) {
	r := plugin.NewRegistry().WithTimeout(20 * time.Millisecond)
	if err := r.Register(slowPlugin{}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	start := time.Now()
	r.EmitToppedUp(context.Background(), &wallet.Wallet{}, &wallet.Entry{})
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("slow hook blocked for %v", elapsed)
	}
}
