// Package storetest is a behavioural test suite shared by every
// store.Store backend.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xraph/billing"
	"github.com/xraph/billing/command"
	"github.com/xraph/billing/id"
	"github.com/xraph/billing/policy"
	"github.com/xraph/billing/scope"
	"github.com/xraph/billing/store"
	"github.com/xraph/billing/subscription"
	"github.com/xraph/billing/types"
	"github.com/xraph/billing/wallet"
)

// Factory returns a migrated, empty store. It is called once per subtest.
type Factory func(t *testing.T) store.Store

// Run executes the whole suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("Commands", func(t *testing.T) { testCommands(t, newStore(t)) })
	t.Run("Policies", func(t *testing.T) { testPolicies(t, newStore(t)) })
	t.Run("WalletMutations", func(t *testing.T) { testWalletMutations(t, newStore(t)) })
	t.Run("WalletStatus", func(t *testing.T) { testWalletStatus(t, newStore(t)) })
	t.Run("ConcurrentDebits", func(t *testing.T) { testConcurrentDebits(t, newStore(t)) })
	t.Run("Subscriptions", func(t *testing.T) { testSubscriptions(t, newStore(t)) })
}

func now() time.Time {
	// Millisecond precision survives every backend's timestamp type.
	return time.Now().UTC().Truncate(time.Millisecond)
}

// NewCommand returns an active, validated command with key.
func NewCommand(key string) *command.Command {
	return &command.Command{
		Entity: types.NewEntityAt(now()),
		ID:     id.NewCommandID(),
		Key:    key,
		Scope:  command.ScopeBoth,
		Active: true,
	}
}

func testCommands(t *testing.T, s store.Store) {
	ctx := context.Background()

	c := NewCommand("cekunit")
	c.Description = "check unit status"
	if err := s.CreateCommand(ctx, c); err != nil {
		t.Fatalf("CreateCommand: %v", err)
	}

	dup := NewCommand("cekunit")
	if err := s.CreateCommand(ctx, dup); !errors.Is(err, billing.ErrAlreadyExists) {
		t.Errorf("duplicate key: got %v, want ErrAlreadyExists", err)
	}

	got, err := s.GetCommand(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetCommand: %v", err)
	}
	if got.Key != "cekunit" || got.Description != "check unit status" || !got.Active {
		t.Errorf("GetCommand = %+v", got)
	}

	byKey, err := s.GetCommandByKey(ctx, "cekunit")
	if err != nil {
		t.Fatalf("GetCommandByKey: %v", err)
	}
	if byKey.ID != c.ID {
		t.Errorf("GetCommandByKey id = %s, want %s", byKey.ID, c.ID)
	}

	if _, err := s.GetCommandByKey(ctx, "missing"); !errors.Is(err, billing.ErrCommandNotFound) {
		t.Errorf("missing key: got %v, want ErrCommandNotFound", err)
	}
	if _, err := s.GetCommand(ctx, id.NewCommandID()); !errors.Is(err, billing.ErrCommandNotFound) {
		t.Errorf("missing id: got %v, want ErrCommandNotFound", err)
	}

	other := NewCommand("tarik")
	if err := s.CreateCommand(ctx, other); err != nil {
		t.Fatalf("CreateCommand: %v", err)
	}
	other.Active = false
	other.Touch(now())
	if err := s.UpdateCommand(ctx, other); err != nil {
		t.Fatalf("UpdateCommand: %v", err)
	}

	all, err := s.ListCommands(ctx, command.ListOpts{})
	if err != nil {
		t.Fatalf("ListCommands: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("ListCommands len = %d, want 2", len(all))
	}

	active, err := s.ListCommands(ctx, command.ListOpts{ActiveOnly: true})
	if err != nil {
		t.Fatalf("ListCommands: %v", err)
	}
	if len(active) != 1 || active[0].Key != "cekunit" {
		t.Errorf("ListCommands(active) = %v", active)
	}

	missing := NewCommand("ghost")
	if err := s.UpdateCommand(ctx, missing); !errors.Is(err, billing.ErrCommandNotFound) {
		t.Errorf("update missing: got %v, want ErrCommandNotFound", err)
	}
}

func testPolicies(t *testing.T, s store.Store) {
	ctx := context.Background()

	c := NewCommand("cekunit")
	if err := s.CreateCommand(ctx, c); err != nil {
		t.Fatalf("CreateCommand: %v", err)
	}

	group := scope.Group("120363@g.us")
	first := &policy.Policy{
		Entity:      types.NewEntityAt(now()),
		ID:          id.NewPolicyID(),
		Target:      group,
		CommandID:   c.ID,
		Enabled:     true,
		Mode:        policy.ModeCredit,
		CreditCost:  5,
		WalletScope: scope.TypeGroup,
	}
	if err := s.UpsertPolicy(ctx, first); err != nil {
		t.Fatalf("UpsertPolicy: %v", err)
	}
	firstID := first.ID

	second := &policy.Policy{
		Entity:      types.NewEntityAt(now()),
		ID:          id.NewPolicyID(),
		Target:      group,
		CommandID:   c.ID,
		Enabled:     false,
		Mode:        policy.ModeFree,
		CreditCost:  1,
		WalletScope: scope.TypeLeasing,
	}
	if err := s.UpsertPolicy(ctx, second); err != nil {
		t.Fatalf("UpsertPolicy(replace): %v", err)
	}
	if second.ID != firstID {
		t.Errorf("upsert id = %s, want kept %s", second.ID, firstID)
	}

	got, err := s.GetPolicy(ctx, group, c.ID)
	if err != nil {
		t.Fatalf("GetPolicy: %v", err)
	}
	if got.ID != firstID || got.Enabled || got.Mode != policy.ModeFree || got.WalletScope != scope.TypeLeasing {
		t.Errorf("GetPolicy = %+v", got)
	}
	if got.Target != group {
		t.Errorf("GetPolicy target = %s, want %s", got.Target, group)
	}

	if _, err := s.GetPolicy(ctx, scope.Leasing("acme"), c.ID); !errors.Is(err, billing.ErrPolicyNotFound) {
		t.Errorf("missing policy: got %v, want ErrPolicyNotFound", err)
	}

	leasing := &policy.Policy{
		Entity:      types.NewEntityAt(now()),
		ID:          id.NewPolicyID(),
		Target:      scope.Leasing("acme"),
		CommandID:   c.ID,
		Enabled:     true,
		Mode:        policy.ModeCredit,
		CreditCost:  2,
		WalletScope: scope.TypeLeasing,
	}
	if err := s.UpsertPolicy(ctx, leasing); err != nil {
		t.Fatalf("UpsertPolicy: %v", err)
	}

	tests := []struct {
		name string
		opts policy.ListOpts
		want int
	}{
		{"all", policy.ListOpts{}, 2},
		{"by target", policy.ListOpts{Target: group}, 1},
		{"by command", policy.ListOpts{CommandID: c.ID}, 2},
		{"limit", policy.ListOpts{Limit: 1}, 1},
		{"offset past end", policy.ListOpts{Offset: 5}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ps, err := s.ListPolicies(ctx, tt.opts)
			if err != nil {
				t.Fatalf("ListPolicies: %v", err)
			}
			if len(ps) != tt.want {
				t.Errorf("len = %d, want %d", len(ps), tt.want)
			}
		})
	}

	if err := s.DeletePolicy(ctx, group, c.ID); err != nil {
		t.Fatalf("DeletePolicy: %v", err)
	}
	if _, err := s.GetPolicy(ctx, group, c.ID); !errors.Is(err, billing.ErrPolicyNotFound) {
		t.Errorf("after delete: got %v, want ErrPolicyNotFound", err)
	}
	if err := s.DeletePolicy(ctx, group, c.ID); !errors.Is(err, billing.ErrPolicyNotFound) {
		t.Errorf("delete missing: got %v, want ErrPolicyNotFound", err)
	}
}

func testWalletMutations(t *testing.T, s store.Store) {
	ctx := context.Background()
	target := scope.Group("120363@g.us")

	if _, err := s.GetWallet(ctx, target); !errors.Is(err, billing.ErrWalletNotFound) {
		t.Fatalf("GetWallet before create: got %v, want ErrWalletNotFound", err)
	}

	w1, err := s.EnsureWallet(ctx, target)
	if err != nil {
		t.Fatalf("EnsureWallet: %v", err)
	}
	w2, err := s.EnsureWallet(ctx, target)
	if err != nil {
		t.Fatalf("EnsureWallet(again): %v", err)
	}
	if w1.ID != w2.ID || w1.Balance != 0 || !w1.Active {
		t.Errorf("EnsureWallet not idempotent: %+v vs %+v", w1, w2)
	}

	steps := []struct {
		name        string
		typ         wallet.TxType
		amount      int64
		wantBalance int64
		wantErr     error
	}{
		{"credit 100", wallet.TxCredit, 100, 100, nil},
		{"debit 40", wallet.TxDebit, 40, 60, nil},
		{"debit 40 again", wallet.TxDebit, 40, 20, nil},
		{"debit 40 insufficient", wallet.TxDebit, 40, 20, wallet.ErrInsufficientCredit},
		{"debit exact", wallet.TxDebit, 20, 0, nil},
	}
	for _, st := range steps {
		w, e, err := s.ApplyMutation(ctx, wallet.Mutation{
			Target: target,
			Type:   st.typ,
			Amount: st.amount,
			Ref:    wallet.Ref{Type: "test", ID: st.name},
			At:     now(),
		})
		if st.wantErr != nil {
			if !errors.Is(err, st.wantErr) {
				t.Fatalf("%s: got %v, want %v", st.name, err, st.wantErr)
			}
			var ice *wallet.InsufficientCreditError
			if errors.As(err, &ice) && (ice.Balance != 20 || ice.Required != 40) {
				t.Errorf("%s: InsufficientCreditError = %+v", st.name, ice)
			}
		} else {
			if err != nil {
				t.Fatalf("%s: %v", st.name, err)
			}
			if w.Balance != st.wantBalance || e.BalanceAfter != st.wantBalance {
				t.Errorf("%s: balance = %d, entry after = %d, want %d", st.name, w.Balance, e.BalanceAfter, st.wantBalance)
			}
			if e.WalletID != w1.ID || e.Amount != st.amount || e.Type != st.typ {
				t.Errorf("%s: entry = %+v", st.name, e)
			}
		}

		got, err := s.GetWallet(ctx, target)
		if err != nil {
			t.Fatalf("%s: GetWallet: %v", st.name, err)
		}
		if got.Balance != st.wantBalance {
			t.Errorf("%s: stored balance = %d, want %d", st.name, got.Balance, st.wantBalance)
		}
	}

	entries, err := s.ListEntries(ctx, w1.ID, wallet.EntryListOpts{})
	if err != nil {
		t.Fatalf("ListEntries: %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("ListEntries len = %d, want 4 (refused debit writes nothing)", len(entries))
	}
	if entries[0].RefID != "debit exact" || entries[3].RefID != "credit 100" {
		t.Errorf("ListEntries order = %s .. %s, want newest first", entries[0].RefID, entries[3].RefID)
	}
	for _, e := range entries {
		want := e.BalanceBefore - e.Amount
		if e.Type == wallet.TxCredit {
			want = e.BalanceBefore + e.Amount
		}
		if e.BalanceAfter != want || e.BalanceAfter < 0 {
			t.Errorf("entry %s arithmetic: before %d amount %d after %d", e.RefID, e.BalanceBefore, e.Amount, e.BalanceAfter)
		}
	}

	debits, err := s.ListEntries(ctx, w1.ID, wallet.EntryListOpts{Type: wallet.TxDebit, Limit: 2})
	if err != nil {
		t.Fatalf("ListEntries(debits): %v", err)
	}
	if len(debits) != 2 || debits[0].Type != wallet.TxDebit {
		t.Errorf("ListEntries(debits) = %d entries", len(debits))
	}

	totals, err := s.LedgerTotals(ctx, w1.ID)
	if err != nil {
		t.Fatalf("LedgerTotals: %v", err)
	}
	if totals.Credits != 100 || totals.Debits != 100 || totals.Entries != 4 || !totals.HasLastEntry || totals.LastBalance != 0 {
		t.Errorf("LedgerTotals = %+v", totals)
	}

	if _, _, err := s.ApplyMutation(ctx, wallet.Mutation{Target: target, Type: wallet.TxDebit, Amount: 0}); !errors.Is(err, wallet.ErrInvalidAmount) {
		t.Errorf("zero amount: got %v, want ErrInvalidAmount", err)
	}
}

func testWalletStatus(t *testing.T, s store.Store) {
	ctx := context.Background()
	target := scope.Leasing("acme")

	if _, err := s.SetWalletActive(ctx, target, false); !errors.Is(err, billing.ErrWalletNotFound) {
		t.Errorf("SetWalletActive on missing wallet: got %v, want ErrWalletNotFound", err)
	}

	if _, _, err := s.ApplyMutation(ctx, wallet.Mutation{Target: target, Type: wallet.TxCredit, Amount: 50, At: now()}); err != nil {
		t.Fatalf("credit: %v", err)
	}

	w, err := s.SetWalletActive(ctx, target, false)
	if err != nil {
		t.Fatalf("SetWalletActive(false): %v", err)
	}
	if w.Active {
		t.Error("wallet still active")
	}

	for _, typ := range []wallet.TxType{wallet.TxDebit, wallet.TxCredit} {
		if _, _, err := s.ApplyMutation(ctx, wallet.Mutation{Target: target, Type: typ, Amount: 10, At: now()}); !errors.Is(err, wallet.ErrInactive) {
			t.Errorf("%s on inactive wallet: got %v, want ErrInactive", typ, err)
		}
	}

	got, err := s.GetWallet(ctx, target)
	if err != nil {
		t.Fatalf("GetWallet: %v", err)
	}
	if got.Balance != 50 {
		t.Errorf("balance = %d, want 50", got.Balance)
	}

	if _, err := s.SetWalletActive(ctx, target, true); err != nil {
		t.Fatalf("SetWalletActive(true): %v", err)
	}
	if _, _, err := s.ApplyMutation(ctx, wallet.Mutation{Target: target, Type: wallet.TxDebit, Amount: 10, At: now()}); err != nil {
		t.Errorf("debit after reactivation: %v", err)
	}
}

func testConcurrentDebits(t *testing.T, s store.Store) {
	ctx := context.Background()
	target := scope.Group("concurrent@g.us")

	const (
		balance = 100
		amount  = 7
		workers = 24
	)

	if _, _, err := s.ApplyMutation(ctx, wallet.Mutation{Target: target, Type: wallet.TxCredit, Amount: balance, At: now()}); err != nil {
		t.Fatalf("credit: %v", err)
	}

	var (
		wg          sync.WaitGroup
		mu          sync.Mutex
		ok, refused int
		unexpected  []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := s.ApplyMutation(ctx, wallet.Mutation{Target: target, Type: wallet.TxDebit, Amount: amount, At: now()})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, wallet.ErrInsufficientCredit):
				refused++
			default:
				unexpected = append(unexpected, err)
			}
		}()
	}
	wg.Wait()

	for _, err := range unexpected {
		t.Errorf("unexpected error: %v", err)
	}
	if want := balance / amount; ok != want {
		t.Errorf("successful debits = %d, want %d", ok, want)
	}
	if ok+refused != workers {
		t.Errorf("ok %d + refused %d != %d", ok, refused, workers)
	}

	w, err := s.GetWallet(ctx, target)
	if err != nil {
		t.Fatalf("GetWallet: %v", err)
	}
	if want := int64(balance - ok*amount); w.Balance != want {
		t.Errorf("final balance = %d, want %d", w.Balance, want)
	}

	totals, err := s.LedgerTotals(ctx, w.ID)
	if err != nil {
		t.Fatalf("LedgerTotals: %v", err)
	}
	if totals.Net() != w.Balance || totals.LastBalance != w.Balance {
		t.Errorf("ledger drift: totals %+v, balance %d", totals, w.Balance)
	}
}

func testSubscriptions(t *testing.T, s store.Store) {
	ctx := context.Background()

	c := NewCommand("laporan")
	if err := s.CreateCommand(ctx, c); err != nil {
		t.Fatalf("CreateCommand: %v", err)
	}

	target := scope.Group("120363@g.us")
	start := now().Add(-time.Hour)
	end := start.Add(30 * 24 * time.Hour)

	all := &subscription.Subscription{
		Entity:             types.NewEntityAt(now()),
		ID:                 id.NewSubscriptionID(),
		Target:             target,
		Status:             subscription.StatusActive,
		CurrentPeriodStart: start,
		CurrentPeriodEnd:   end,
	}
	if err := s.CreateSubscription(ctx, all); err != nil {
		t.Fatalf("CreateSubscription(all): %v", err)
	}

	specific := &subscription.Subscription{
		Entity:             types.NewEntityAt(now()),
		ID:                 id.NewSubscriptionID(),
		Target:             target,
		CommandID:          c.ID,
		Status:             subscription.StatusActive,
		CurrentPeriodStart: start,
		CurrentPeriodEnd:   end,
		Notes:              "laporan only",
	}
	if err := s.CreateSubscription(ctx, specific); err != nil {
		t.Fatalf("CreateSubscription(specific): %v", err)
	}

	got, err := s.GetSubscription(ctx, specific.ID)
	if err != nil {
		t.Fatalf("GetSubscription: %v", err)
	}
	if got.CommandID != c.ID || got.Notes != "laporan only" || !got.CurrentPeriodEnd.Equal(end) {
		t.Errorf("GetSubscription = %+v", got)
	}

	found, err := s.FindActiveSubscription(ctx, target, c.ID, now())
	if err != nil {
		t.Fatalf("FindActiveSubscription: %v", err)
	}
	if found.ID != specific.ID {
		t.Errorf("FindActiveSubscription = %s, want command-specific %s", found.ID, specific.ID)
	}

	otherCmd := id.NewCommandID()
	found, err = s.FindActiveSubscription(ctx, target, otherCmd, now())
	if err != nil {
		t.Fatalf("FindActiveSubscription(other): %v", err)
	}
	if found.ID != all.ID {
		t.Errorf("FindActiveSubscription(other) = %s, want all-commands %s", found.ID, all.ID)
	}

	if _, err := s.FindActiveSubscription(ctx, target, c.ID, end.Add(time.Minute)); !errors.Is(err, billing.ErrNoActiveSubscription) {
		t.Errorf("after period: got %v, want ErrNoActiveSubscription", err)
	}
	if _, err := s.FindActiveSubscription(ctx, scope.Group("other@g.us"), c.ID, now()); !errors.Is(err, billing.ErrNoActiveSubscription) {
		t.Errorf("other target: got %v, want ErrNoActiveSubscription", err)
	}

	if err := s.CancelSubscription(ctx, specific.ID, now()); err != nil {
		t.Fatalf("CancelSubscription: %v", err)
	}
	canceled, err := s.GetSubscription(ctx, specific.ID)
	if err != nil {
		t.Fatalf("GetSubscription: %v", err)
	}
	if canceled.Status != subscription.StatusCanceled || canceled.CanceledAt == nil {
		t.Errorf("canceled = %+v", canceled)
	}

	found, err = s.FindActiveSubscription(ctx, target, c.ID, now())
	if err != nil {
		t.Fatalf("FindActiveSubscription after cancel: %v", err)
	}
	if found.ID != all.ID {
		t.Errorf("after cancel = %s, want %s", found.ID, all.ID)
	}

	subs, err := s.ListSubscriptions(ctx, target, subscription.ListOpts{})
	if err != nil {
		t.Fatalf("ListSubscriptions: %v", err)
	}
	if len(subs) != 2 {
		t.Errorf("ListSubscriptions len = %d, want 2", len(subs))
	}
	active, err := s.ListSubscriptions(ctx, target, subscription.ListOpts{Status: subscription.StatusActive})
	if err != nil {
		t.Fatalf("ListSubscriptions(active): %v", err)
	}
	if len(active) != 1 {
		t.Errorf("ListSubscriptions(active) len = %d, want 1", len(active))
	}

	if _, err := s.GetSubscription(ctx, id.NewSubscriptionID()); !errors.Is(err, billing.ErrSubscriptionNotFound) {
		t.Errorf("missing subscription: got %v, want ErrSubscriptionNotFound", err)
	}
	if err := s.CancelSubscription(ctx, id.NewSubscriptionID(), now()); !errors.Is(err, billing.ErrSubscriptionNotFound) {
		t.Errorf("cancel missing: got %v, want ErrSubscriptionNotFound", err)
	}
}
