package billing_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xraph/billing"
	"github.com/xraph/billing/command"
	"github.com/xraph/billing/id"
	"github.com/xraph/billing/policy"
	"github.com/xraph/billing/scope"
	"github.com/xraph/billing/store/memory"
	"github.com/xraph/billing/subscription"
	"github.com/xraph/billing/wallet"
)

const (
	groupID   = "120363025@g.us"
	leasingID = "acme-leasing"
	phone     = "+62 812-3456-7890"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	ctx    context.Context
	store  *memory.Store
	engine *billing.Engine
	clock  *fakeClock
	cmd    *command.Command
}

func newFixture(t *testing.T, opts ...billing.Option) *fixture {
	t.Helper()

	clock := newFakeClock()
	s := memory.New()
	e := billing.New(s, append([]billing.Option{billing.WithClock(clock.Now)}, opts...)...)

	ctx := context.Background()
	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = e.Stop() })

	cmd := &command.Command{Key: "/CekUnit", Description: "check unit"}
	if err := e.RegisterCommand(ctx, cmd); err != nil {
		t.Fatalf("RegisterCommand: %v", err)
	}

	return &fixture{ctx: ctx, store: s, engine: e, clock: clock, cmd: cmd}
}

func (f *fixture) policy(t *testing.T, target scope.Target, in policy.Input) *policy.Policy {
	t.Helper()
	in.Target = target
	in.CommandID = f.cmd.ID
	p, err := f.engine.UpsertPolicy(f.ctx, in)
	if err != nil {
		t.Fatalf("UpsertPolicy(%s): %v", target, err)
	}
	return p
}

func credit(cost int64, ws scope.Type) policy.Input {
	return policy.Input{Mode: policy.ModeCredit, CreditCost: cost, WalletScope: ws}
}

func fullActor() scope.Actor {
	return scope.Actor{GroupID: groupID, LeasingID: leasingID, Phone: phone}
}

func TestResolvePrecedence(t *testing.T) {
	tests := []struct {
		name     string
		personal bool
		group    bool
		leasing  bool
		mine     bool
		actor    scope.Actor
		wantHit  policy.Hit
		wantCost int64
	}{
		{"group wins over all", true, true, true, true, fullActor(), policy.HitGroup, 3},
		{"leasing when no group policy", true, false, true, true, fullActor(), policy.HitLeasing, 5},
		{"personal when enabled", true, false, false, true, fullActor(), policy.HitPersonal, 7},
		{"personal ignored when disabled", false, false, false, true, fullActor(), policy.HitDefault, 0},
		{"leasing skipped without leasing id", true, false, true, false, scope.Actor{GroupID: groupID}, policy.HitDefault, 0},
		{"default when nothing matches", true, false, false, false, fullActor(), policy.HitDefault, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, billing.WithPersonalPolicies(tt.personal))

			if tt.group {
				f.policy(t, scope.Group(groupID), credit(3, scope.TypeGroup))
			}
			if tt.leasing {
				f.policy(t, scope.Leasing(leasingID), credit(5, scope.TypeLeasing))
			}
			if tt.mine {
				f.policy(t, scope.Personal(phone), credit(7, scope.TypePersonal))
			}

			d, err := f.engine.ResolvePolicy(f.ctx, tt.actor, "cekunit")
			if err != nil {
				t.Fatalf("ResolvePolicy: %v", err)
			}
			if d.Hit != tt.wantHit {
				t.Errorf("hit = %s, want %s", d.Hit, tt.wantHit)
			}
			if d.CreditCost != tt.wantCost {
				t.Errorf("cost = %d, want %d", d.CreditCost, tt.wantCost)
			}
			if d.CommandID != f.cmd.ID || d.CommandKey != "cekunit" {
				t.Errorf("decision command = %s/%s", d.CommandID, d.CommandKey)
			}
		})
	}
}

func TestResolveDefaultDecision(t *testing.T) {
	f := newFixture(t)

	d, err := f.engine.ResolvePolicy(f.ctx, scope.Actor{GroupID: groupID}, "!CEKUNIT")
	if err != nil {
		t.Fatalf("ResolvePolicy: %v", err)
	}
	if !d.Enabled || d.Mode != policy.ModeFree || d.CreditCost != 0 || d.WalletScope != scope.TypeGroup || d.Hit != policy.HitDefault {
		t.Errorf("default decision = %+v", d)
	}
}

func TestResolveErrors(t *testing.T) {
	f := newFixture(t)

	if _, err := f.engine.SetCommandActive(f.ctx, "cekunit", false); err != nil {
		t.Fatalf("SetCommandActive: %v", err)
	}

	tests := []struct {
		name    string
		actor   scope.Actor
		key     string
		wantErr error
	}{
		{"unknown command", scope.Actor{GroupID: groupID}, "nope", billing.ErrCommandNotRegistered},
		{"inactive command", scope.Actor{GroupID: groupID}, "cekunit", billing.ErrCommandNotRegistered},
		{"missing group", scope.Actor{Phone: phone}, "cekunit", billing.ErrInvalidInput},
		{"empty key", scope.Actor{GroupID: groupID}, "  ", billing.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.ResolvePolicy(f.ctx, tt.actor, tt.key)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if !billing.IsConfigurationError(err) {
				t.Errorf("IsConfigurationError(%v) = false", err)
			}
			if billing.IsRetryable(err) {
				t.Errorf("IsRetryable(%v) = true", err)
			}
		})
	}
}

func TestChargeSequence(t *testing.T) {
	f := newFixture(t)
	f.policy(t, scope.Group(groupID), credit(40, scope.TypeGroup))

	if _, err := f.engine.TopUp(f.ctx, scope.Group(groupID), 100, wallet.Ref{Type: "manual", ID: "topup-1"}); err != nil {
		t.Fatalf("TopUp: %v", err)
	}

	actor := scope.Actor{GroupID: groupID}
	want := []struct {
		status  billing.ChargeStatus
		allowed bool
		balance int64
	}{
		{billing.StatusCharged, true, 60},
		{billing.StatusCharged, true, 20},
		{billing.StatusInsufficient, false, 20},
	}

	for i, w := range want {
		out, err := f.engine.ChargeForCommand(f.ctx, actor, "cekunit", wallet.Ref{Type: "message", ID: "msg"})
		if err != nil {
			t.Fatalf("charge %d: %v", i, err)
		}
		if out.Status != w.status || out.Allowed != w.allowed {
			t.Errorf("charge %d: status %s allowed %v, want %s %v", i, out.Status, out.Allowed, w.status, w.allowed)
		}
		if out.Status == billing.StatusCharged && out.BalanceAfter != w.balance {
			t.Errorf("charge %d: balance after = %d, want %d", i, out.BalanceAfter, w.balance)
		}
		if out.Status == billing.StatusInsufficient {
			if out.Balance != 20 || out.Required != 40 || out.Shortfall != 20 {
				t.Errorf("insufficient outcome = %+v", out)
			}
			if out.Charged {
				t.Error("insufficient outcome marked charged")
			}
		}
	}

	bal, err := f.engine.Balance(f.ctx, scope.Group(groupID))
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if bal != 20 {
		t.Errorf("final balance = %d, want 20", bal)
	}

	entries, err := f.engine.ListEntries(f.ctx, scope.Group(groupID), wallet.EntryListOpts{})
	if err != nil {
		t.Fatalf("ListEntries: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(entries))
	}
	if entries[0].Type != wallet.TxDebit || entries[0].CommandID != f.cmd.ID || entries[0].RefType != "message" {
		t.Errorf("latest entry = %+v", entries[0])
	}

	rec, err := f.engine.Reconcile(f.ctx, scope.Group(groupID))
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if !rec.Consistent || rec.Drift != 0 || rec.Totals.Credits != 100 || rec.Totals.Debits != 80 {
		t.Errorf("Reconcile = %+v totals %+v", rec, rec.Totals)
	}
}

func TestChargeLazilyCreatesWallet(t *testing.T) {
	f := newFixture(t)
	f.policy(t, scope.Group(groupID), credit(10, scope.TypeGroup))

	out, err := f.engine.ChargeForCommand(f.ctx, scope.Actor{GroupID: groupID}, "cekunit", wallet.Ref{})
	if err != nil {
		t.Fatalf("ChargeForCommand: %v", err)
	}
	if out.Status != billing.StatusInsufficient || out.Balance != 0 || out.Required != 10 {
		t.Errorf("outcome = %+v", out)
	}

	w, err := f.engine.GetWallet(f.ctx, scope.Group(groupID))
	if err != nil {
		t.Fatalf("wallet was not created: %v", err)
	}
	if w.Balance != 0 || !w.Active {
		t.Errorf("wallet = %+v", w)
	}
}

func TestChargeOutcomeJSONKeepsZeroBalances(t *testing.T) {
	tests := []struct {
		name   string
		topUp  int64
		status billing.ChargeStatus
		key    string
	}{
		{"insufficient on empty wallet", 0, billing.StatusInsufficient, "balance"},
		{"debit drains wallet", 10, billing.StatusCharged, "balance_after"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.policy(t, scope.Group(groupID), credit(10, scope.TypeGroup))
			if tt.topUp > 0 {
				if _, err := f.engine.TopUp(f.ctx, scope.Group(groupID), tt.topUp, wallet.Ref{}); err != nil {
					t.Fatalf("TopUp: %v", err)
				}
			}

			out, err := f.engine.ChargeForCommand(f.ctx, scope.Actor{GroupID: groupID}, "cekunit", wallet.Ref{})
			if err != nil {
				t.Fatalf("ChargeForCommand: %v", err)
			}
			if out.Status != tt.status {
				t.Fatalf("status = %s, want %s", out.Status, tt.status)
			}

			data, err := json.Marshal(out)
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}
			var fields map[string]any
			if err := json.Unmarshal(data, &fields); err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			if v, ok := fields[tt.key]; !ok || v != float64(0) {
				t.Errorf("%s = %v (present %v), want 0 in %s", tt.key, v, ok, data)
			}
		})
	}
}

func TestChargeOutcomes(t *testing.T) {
	disabled := false

	tests := []struct {
		name       string
		opts       []billing.Option
		target     scope.Target
		in         policy.Input
		topUp      int64
		deactivate bool
		actor      scope.Actor
		wantStatus billing.ChargeStatus
		wantErr    error
	}{
		{
			name:       "disabled policy denies silently",
			target:     scope.Group(groupID),
			in:         policy.Input{Enabled: &disabled, Mode: policy.ModeCredit, CreditCost: 5},
			actor:      scope.Actor{GroupID: groupID},
			wantStatus: billing.StatusDenied,
		},
		{
			name:       "free policy",
			target:     scope.Group(groupID),
			in:         policy.Input{Mode: policy.ModeFree},
			actor:      scope.Actor{GroupID: groupID},
			wantStatus: billing.StatusFree,
		},
		{
			name:       "legacy use_credit charges",
			target:     scope.Group(groupID),
			in:         policy.Input{UseCredit: boolPtr(true), CreditCost: 5},
			topUp:      10,
			actor:      scope.Actor{GroupID: groupID},
			wantStatus: billing.StatusCharged,
		},
		{
			name:       "leasing wallet",
			target:     scope.Group(groupID),
			in:         credit(5, scope.TypeLeasing),
			topUp:      10,
			actor:      fullActor(),
			wantStatus: billing.StatusCharged,
		},
		{
			name:    "leasing wallet without leasing id",
			target:  scope.Group(groupID),
			in:      credit(5, scope.TypeLeasing),
			actor:   scope.Actor{GroupID: groupID},
			wantErr: billing.ErrWalletScopeUnsatisfiable,
		},
		{
			name:    "personal wallet without phone",
			target:  scope.Group(groupID),
			in:      credit(5, scope.TypePersonal),
			actor:   scope.Actor{GroupID: groupID},
			wantErr: billing.ErrWalletScopeUnsatisfiable,
		},
		{
			name:       "inactive wallet",
			target:     scope.Group(groupID),
			in:         credit(5, scope.TypeGroup),
			topUp:      10,
			deactivate: true,
			actor:      scope.Actor{GroupID: groupID},
			wantStatus: billing.StatusWalletInactive,
		},
		{
			name:       "subscription missing denies by default",
			target:     scope.Group(groupID),
			in:         policy.Input{Mode: policy.ModeSubscription},
			actor:      scope.Actor{GroupID: groupID},
			wantStatus: billing.StatusNoSubscription,
		},
		{
			name:       "subscription missing falls back to free",
			opts:       []billing.Option{billing.WithSubscriptionFallback(billing.FallbackFree)},
			target:     scope.Group(groupID),
			in:         policy.Input{Mode: policy.ModeSubscription},
			actor:      scope.Actor{GroupID: groupID},
			wantStatus: billing.StatusFree,
		},
		{
			name:       "subscription missing falls back to credit",
			opts:       []billing.Option{billing.WithSubscriptionFallback(billing.FallbackCredit)},
			target:     scope.Group(groupID),
			in:         policy.Input{Mode: policy.ModeSubscription, CreditCost: 4},
			topUp:      10,
			actor:      scope.Actor{GroupID: groupID},
			wantStatus: billing.StatusCharged,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.opts...)
			d := f.policy(t, tt.target, tt.in)

			payer, ok := payerOf(tt.actor, d.WalletScope)
			if tt.topUp > 0 && ok {
				if _, err := f.engine.TopUp(f.ctx, payer, tt.topUp, wallet.Ref{}); err != nil {
					t.Fatalf("TopUp: %v", err)
				}
			}
			if tt.deactivate {
				if _, err := f.engine.SetWalletActive(f.ctx, payer, false); err != nil {
					t.Fatalf("SetWalletActive: %v", err)
				}
			}

			out, err := f.engine.ChargeForCommand(f.ctx, tt.actor, "cekunit", wallet.Ref{})
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ChargeForCommand: %v", err)
			}
			if out.Status != tt.wantStatus {
				t.Errorf("status = %s, want %s", out.Status, tt.wantStatus)
			}
			wantAllowed := tt.wantStatus == billing.StatusFree || tt.wantStatus == billing.StatusCharged || tt.wantStatus == billing.StatusSubscribed
			if out.Allowed != wantAllowed {
				t.Errorf("allowed = %v, want %v", out.Allowed, wantAllowed)
			}
			if out.Charged != (tt.wantStatus == billing.StatusCharged) {
				t.Errorf("charged = %v for status %s", out.Charged, out.Status)
			}
			if out.Decision == nil {
				t.Error("outcome has no decision")
			}
		})
	}
}

func payerOf(actor scope.Actor, ws scope.Type) (scope.Target, bool) {
	switch ws {
	case scope.TypeLeasing:
		return actor.LeasingTarget()
	case scope.TypePersonal:
		return actor.PersonalTarget()
	default:
		return actor.GroupTarget(), true
	}
}

func boolPtr(b bool) *bool { return &b }

func TestChargeWithSubscription(t *testing.T) {
	f := newFixture(t)
	f.policy(t, scope.Group(groupID), policy.Input{Mode: policy.ModeSubscription})

	sub := &subscription.Subscription{Target: scope.Group(groupID), CommandID: f.cmd.ID}
	if err := f.engine.CreateSubscription(f.ctx, sub); err != nil {
		t.Fatalf("CreateSubscription: %v", err)
	}

	actor := scope.Actor{GroupID: groupID}
	out, err := f.engine.ChargeForCommand(f.ctx, actor, "cekunit", wallet.Ref{})
	if err != nil {
		t.Fatalf("ChargeForCommand: %v", err)
	}
	if out.Status != billing.StatusSubscribed || !out.Allowed || out.Charged || out.SubscriptionID != sub.ID.String() {
		t.Errorf("outcome = %+v", out)
	}

	f.clock.Advance(billing.DefaultSubscriptionPeriod + time.Minute)
	out, err = f.engine.ChargeForCommand(f.ctx, actor, "cekunit", wallet.Ref{})
	if err != nil {
		t.Fatalf("ChargeForCommand: %v", err)
	}
	if out.Status != billing.StatusNoSubscription {
		t.Errorf("after expiry status = %s, want %s", out.Status, billing.StatusNoSubscription)
	}

	if _, err := f.engine.CancelSubscription(f.ctx, sub.ID); err != nil {
		t.Fatalf("CancelSubscription: %v", err)
	}
	if _, err := f.engine.CancelSubscription(f.ctx, sub.ID); !errors.Is(err, billing.ErrSubscriptionCanceled) {
		t.Errorf("second cancel: got %v, want ErrSubscriptionCanceled", err)
	}
}

func TestConcurrentCharges(t *testing.T) {
	f := newFixture(t)
	f.policy(t, scope.Group(groupID), credit(3, scope.TypeGroup))

	if _, err := f.engine.TopUp(f.ctx, scope.Group(groupID), 50, wallet.Ref{}); err != nil {
		t.Fatalf("TopUp: %v", err)
	}

	const workers = 40
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		charged int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := f.engine.ChargeForCommand(f.ctx, scope.Actor{GroupID: groupID}, "cekunit", wallet.Ref{})
			if err != nil {
				t.Errorf("ChargeForCommand: %v", err)
				return
			}
			if out.Charged {
				mu.Lock()
				charged++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if charged != 50/3 {
		t.Errorf("charged = %d, want %d", charged, 50/3)
	}
	bal, err := f.engine.Balance(f.ctx, scope.Group(groupID))
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if bal != 50-int64(charged)*3 {
		t.Errorf("balance = %d", bal)
	}
}

func TestCacheCoherence(t *testing.T) {
	f := newFixture(t)
	group := scope.Group(groupID)
	actor := scope.Actor{GroupID: groupID}
	p := f.policy(t, group, credit(5, scope.TypeGroup))

	resolveCost := func() int64 {
		t.Helper()
		d, err := f.engine.ResolvePolicy(f.ctx, actor, "cekunit")
		if err != nil {
			t.Fatalf("ResolvePolicy: %v", err)
		}
		return d.CreditCost
	}

	if got := resolveCost(); got != 5 {
		t.Fatalf("cost = %d, want 5", got)
	}

	// A write behind the engine's back is not visible until the TTL expires.
	p.CreditCost = 9
	if err := f.store.UpsertPolicy(f.ctx, p); err != nil {
		t.Fatalf("UpsertPolicy: %v", err)
	}
	if got := resolveCost(); got != 5 {
		t.Errorf("stale cost = %d, want 5", got)
	}
	f.clock.Advance(billing.DefaultPolicyCacheTTL + time.Second)
	if got := resolveCost(); got != 9 {
		t.Errorf("cost after ttl = %d, want 9", got)
	}

	// Explicit invalidation makes the next resolve observe the write.
	p.CreditCost = 11
	if err := f.store.UpsertPolicy(f.ctx, p); err != nil {
		t.Fatalf("UpsertPolicy: %v", err)
	}
	f.engine.InvalidatePolicy(group, f.cmd.ID)
	if got := resolveCost(); got != 11 {
		t.Errorf("cost after invalidate = %d, want 11", got)
	}

	// Engine writes invalidate on their own.
	f.policy(t, group, credit(13, scope.TypeGroup))
	if got := resolveCost(); got != 13 {
		t.Errorf("cost after engine write = %d, want 13", got)
	}

	// Deleting falls back to the default, not the cached policy.
	if err := f.engine.DeletePolicy(f.ctx, group, f.cmd.ID); err != nil {
		t.Fatalf("DeletePolicy: %v", err)
	}
	if got := resolveCost(); got != 0 {
		t.Errorf("cost after delete = %d, want 0", got)
	}
}

func TestCommandCacheInvalidation(t *testing.T) {
	f := newFixture(t)
	actor := scope.Actor{GroupID: groupID}

	if _, err := f.engine.ResolvePolicy(f.ctx, actor, "cekunit"); err != nil {
		t.Fatalf("ResolvePolicy: %v", err)
	}

	// Deactivated directly in the store: the cached id keeps serving.
	c, err := f.store.GetCommandByKey(f.ctx, "cekunit")
	if err != nil {
		t.Fatalf("GetCommandByKey: %v", err)
	}
	c.Active = false
	if err := f.store.UpdateCommand(f.ctx, c); err != nil {
		t.Fatalf("UpdateCommand: %v", err)
	}
	if _, err := f.engine.ResolvePolicy(f.ctx, actor, "cekunit"); err != nil {
		t.Errorf("cached command should still resolve: %v", err)
	}

	f.engine.InvalidateCommand("/cekunit")
	if _, err := f.engine.ResolvePolicy(f.ctx, actor, "cekunit"); !errors.Is(err, billing.ErrCommandNotRegistered) {
		t.Errorf("after invalidate: got %v, want ErrCommandNotRegistered", err)
	}

	// Registering a new command is visible at once even after a miss.
	if _, err := f.engine.ResolvePolicy(f.ctx, actor, "tarik"); !errors.Is(err, billing.ErrCommandNotRegistered) {
		t.Fatalf("unknown command: %v", err)
	}
	if err := f.engine.RegisterCommand(f.ctx, &command.Command{Key: "tarik"}); err != nil {
		t.Fatalf("RegisterCommand: %v", err)
	}
	if _, err := f.engine.ResolvePolicy(f.ctx, actor, "tarik"); err != nil {
		t.Errorf("new command: %v", err)
	}
}

func TestTopUpValidation(t *testing.T) {
	f := newFixture(t)
	group := scope.Group(groupID)

	if _, err := f.engine.TopUp(f.ctx, group, 0, wallet.Ref{}); !errors.Is(err, billing.ErrInvalidInput) {
		t.Errorf("zero amount: got %v, want ErrInvalidInput", err)
	}
	if _, err := f.engine.TopUp(f.ctx, scope.Personal("12"), 10, wallet.Ref{}); !errors.Is(err, billing.ErrInvalidInput) {
		t.Errorf("bad phone: got %v, want ErrInvalidInput", err)
	}

	if _, err := f.engine.SetWalletActive(f.ctx, group, false); err != nil {
		t.Fatalf("SetWalletActive: %v", err)
	}
	if _, err := f.engine.TopUp(f.ctx, group, 10, wallet.Ref{}); !errors.Is(err, billing.ErrWalletInactive) {
		t.Errorf("inactive wallet: got %v, want ErrWalletInactive", err)
	}
}

func TestBalanceDoesNotCreateWallet(t *testing.T) {
	f := newFixture(t)
	group := scope.Group("never@g.us")

	bal, err := f.engine.Balance(f.ctx, group)
	if err != nil || bal != 0 {
		t.Fatalf("Balance = %d, %v", bal, err)
	}
	if _, err := f.engine.GetWallet(f.ctx, group); !billing.IsNotFound(err) {
		t.Errorf("GetWallet after Balance: got %v, want not found", err)
	}
}

func TestUpsertPolicyValidation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		in   policy.Input
		want error
	}{
		{"credit without cost", policy.Input{Target: scope.Group(groupID), CommandID: f.cmd.ID, Mode: policy.ModeCredit}, billing.ErrInvalidInput},
		{"unknown command", policy.Input{Target: scope.Group(groupID), CommandID: id.NewCommandID()}, billing.ErrCommandNotFound},
		{"missing target", policy.Input{CommandID: f.cmd.ID}, billing.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.engine.UpsertPolicy(f.ctx, tt.in); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestRegisterCommands(t *testing.T) {
	f := newFixture(t)

	err := f.engine.RegisterCommands(f.ctx,
		&command.Command{Key: "tarik"},
		&command.Command{Key: "cekunit"},
		&command.Command{Key: "bad key"},
	)
	var multi billing.MultiError
	if !errors.As(err, &multi) {
		t.Fatalf("err = %v, want MultiError", err)
	}
	if len(multi.Errors) != 2 {
		t.Errorf("errors = %d, want 2", len(multi.Errors))
	}
	if !errors.Is(err, billing.ErrAlreadyExists) {
		t.Error("MultiError does not expose ErrAlreadyExists")
	}

	cmds, err := f.engine.ListCommands(f.ctx, command.ListOpts{})
	if err != nil {
		t.Fatalf("ListCommands: %v", err)
	}
	if len(cmds) != 2 {
		t.Errorf("commands = %d, want 2", len(cmds))
	}
}
