package billing_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/xraph/billing"
	"github.com/xraph/billing/command"
	"github.com/xraph/billing/policy"
	"github.com/xraph/billing/scope"
	"github.com/xraph/billing/store/memory"
	"github.com/xraph/billing/wallet"
)

// TestDocumentationExamples verifies that the examples in the package
// documentation compile and behave as described.
func TestDocumentationExamples(t *testing.T) {
	t.Run("QuickStartExample", func(t *testing.T) {
		// Memory store for demo, use PostgreSQL in production.
		s := memory.New()

		e := billing.New(s,
			billing.WithLogger(slog.Default()),
			billing.WithPolicyCacheTTL(30*time.Second),
		)

		ctx := context.Background()
		if err := e.Start(ctx); err != nil {
			t.Fatal(err)
		}
		defer e.Stop()

		cmd := &command.Command{Key: "/report", Scope: command.ScopeGroup}
		if err := e.RegisterCommand(ctx, cmd); err != nil {
			t.Fatal(err)
		}

		// Leasing company pays 2 credits per report for all its groups.
		if _, err := e.UpsertPolicy(ctx, policy.Input{
			Target:      billing.LeasingTarget("acme"),
			CommandID:   cmd.ID,
			Mode:        policy.ModeCredit,
			CreditCost:  2,
			WalletScope: scope.TypeLeasing,
		}); err != nil {
			t.Fatal(err)
		}

		if _, err := e.TopUp(ctx, billing.LeasingTarget("acme"), 3, wallet.Ref{Type: "invoice", ID: "INV-1"}); err != nil {
			t.Fatal(err)
		}

		actor := billing.Actor{GroupID: "120363@g.us", LeasingID: "acme", Phone: "+62 812 3456 7890"}

		out, err := e.ChargeForCommand(ctx, actor, "report", wallet.Ref{Type: "message", ID: "m1"})
		if err != nil {
			t.Fatal(err)
		}
		if !out.Allowed || out.Status != billing.StatusCharged || out.BalanceAfter != 1 {
			t.Fatalf("first charge = %+v, want charged with balance 1", out)
		}

		out, err = e.ChargeForCommand(ctx, actor, "report", wallet.Ref{Type: "message", ID: "m2"})
		if err != nil {
			t.Fatal(err)
		}
		if out.Allowed || out.Status != billing.StatusInsufficient || out.Shortfall != 1 {
			t.Fatalf("second charge = %+v, want insufficient by 1", out)
		}
	})

	t.Run("GroupOverridesLeasing", func(t *testing.T) {
		e := billing.New(memory.New())
		ctx := context.Background()
		if err := e.Start(ctx); err != nil {
			t.Fatal(err)
		}
		defer e.Stop()

		cmd := &command.Command{Key: "report"}
		if err := e.RegisterCommand(ctx, cmd); err != nil {
			t.Fatal(err)
		}
		for _, in := range []policy.Input{
			{Target: billing.LeasingTarget("acme"), CommandID: cmd.ID, Mode: policy.ModeCredit, CreditCost: 5},
			{Target: billing.GroupTarget("g1"), CommandID: cmd.ID, Mode: policy.ModeFree},
		} {
			if _, err := e.UpsertPolicy(ctx, in); err != nil {
				t.Fatal(err)
			}
		}

		d, err := e.ResolvePolicy(ctx, billing.Actor{GroupID: "g1", LeasingID: "acme"}, "report")
		if err != nil {
			t.Fatal(err)
		}
		if d.Hit != policy.HitGroup || d.Mode != policy.ModeFree {
			t.Errorf("decision = %+v, want the group's FREE policy", d)
		}
	})

	t.Run("TargetExamples", func(t *testing.T) {
		target, err := billing.ParseTarget("PERSONAL:+62 812 3456 7890")
		if err != nil {
			t.Fatal(err)
		}
		if target != billing.PersonalTarget("6281234567890") {
			t.Errorf("target = %s, want PERSONAL:6281234567890", target)
		}
		if got := billing.GroupTarget("g1").String(); got != "GROUP:g1" {
			t.Errorf("String() = %q", got)
		}
	})
}
