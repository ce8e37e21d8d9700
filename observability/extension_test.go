package observability_test

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/xraph/billing"
	"github.com/xraph/billing/command"
	"github.com/xraph/billing/observability"
	"github.com/xraph/billing/policy"
	"github.com/xraph/billing/scope"
	"github.com/xraph/billing/store/memory"
	"github.com/xraph/billing/wallet"
)

func value(t *testing.T, c observability.Counter) float64 {
	t.Helper()
	collector, ok := c.(prometheus.Collector)
	if !ok {
		t.Fatalf("counter %T is not a prometheus collector", c)
	}
	return testutil.ToFloat64(collector)
}

func TestMetricsExtensionCountsChargePath(t *testing.T) {
	ctx := context.Background()
	metrics := observability.NewMetricsExtension(observability.NewPrometheusFactory(prometheus.NewRegistry()))

	e := billing.New(memory.New(), billing.WithPlugin(metrics))
	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop()

	cmd := &command.Command{Key: "cekunit"}
	if err := e.RegisterCommand(ctx, cmd); err != nil {
		t.Fatalf("RegisterCommand: %v", err)
	}
	group := scope.Group("g1")
	if _, err := e.UpsertPolicy(ctx, policy.Input{
		Target:      group,
		CommandID:   cmd.ID,
		Mode:        policy.ModeCredit,
		CreditCost:  3,
		WalletScope: scope.TypeGroup,
	}); err != nil {
		t.Fatalf("UpsertPolicy: %v", err)
	}
	if _, err := e.TopUp(ctx, group, 5, wallet.Ref{}); err != nil {
		t.Fatalf("TopUp: %v", err)
	}

	actor := scope.Actor{GroupID: "g1"}
	for i := 0; i < 2; i++ {
		if _, err := e.ChargeForCommand(ctx, actor, "cekunit", wallet.Ref{}); err != nil {
			t.Fatalf("ChargeForCommand #%d: %v", i+1, err)
		}
	}

	tests := []struct {
		name    string
		counter observability.Counter
		want    float64
	}{
		{"commands changed", metrics.CommandsChanged, 1},
		{"policies written", metrics.PoliciesWritten, 1},
		{"top ups", metrics.TopUps, 1},
		{"credits topped up", metrics.CreditsToppedUp, 5},
		{"resolved at group", metrics.ResolvedGroup, 2},
		{"resolved by default", metrics.ResolvedDefault, 0},
		{"charged", metrics.Charged, 1},
		{"credits debited", metrics.CreditsDebited, 3},
		{"insufficient", metrics.InsufficientCredit, 1},
		{"denied", metrics.ChargeDenied, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := value(t, tt.counter); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPrometheusFactoryReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	f := observability.NewPrometheusFactory(reg)

	a := f.Counter("billing.charge.debited")
	b := f.Counter("billing.charge.debited")
	a.Inc()
	b.Inc()

	if got := value(t, a); got != 2 {
		t.Errorf("shared counter = %v, want 2", got)
	}
	if n, err := testutil.GatherAndCount(reg, "billing_charge_debited_total"); err != nil || n != 1 {
		t.Errorf("GatherAndCount = %d, %v; want 1 series", n, err)
	}
}
