// Package memory provides an in-process store.Store for tests and
// single-binary deployments. Wallet mutations serialize on a per-wallet
// mutex; different wallets proceed in parallel.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xraph/billing"
	"github.com/xraph/billing/command"
	"github.com/xraph/billing/id"
	"github.com/xraph/billing/policy"
	"github.com/xraph/billing/scope"
	"github.com/xraph/billing/store"
	"github.com/xraph/billing/subscription"
	"github.com/xraph/billing/wallet"
)

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

type Store struct {
	mu sync.RWMutex

	// Command storage
	commands     map[string]*command.Command
	commandByKey map[string]string

	// Policy storage, keyed by target and command
	policies map[string]*policy.Policy

	// Wallet storage, keyed by target
	wallets     map[string]*wallet.Wallet
	walletLocks map[string]*sync.Mutex
	entries     map[string][]*wallet.Entry

	// Subscription storage
	subscriptions map[string]*subscription.Subscription

	closed bool
}

func New() *Store {
	return &Store{
		commands:      make(map[string]*command.Command),
		commandByKey:  make(map[string]string),
		policies:      make(map[string]*policy.Policy),
		wallets:       make(map[string]*wallet.Wallet),
		walletLocks:   make(map[string]*sync.Mutex),
		entries:       make(map[string][]*wallet.Entry),
		subscriptions: make(map[string]*subscription.Subscription),
	}
}

// ──────────────────────────────────────────────────
// Command Store
// ──────────────────────────────────────────────────

func (s *Store) CreateCommand(_ context.Context, c *command.Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.commandByKey[c.Key]; exists {
		return billing.ErrAlreadyExists
	}
	if _, exists := s.commands[c.ID.String()]; exists {
		return billing.ErrAlreadyExists
	}
	cp := *c
	s.commands[c.ID.String()] = &cp
	s.commandByKey[c.Key] = c.ID.String()
	return nil
}

func (s *Store) GetCommand(_ context.Context, cmdID id.CommandID) (*command.Command, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if c, ok := s.commands[cmdID.String()]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, billing.ErrCommandNotFound
}

func (s *Store) GetCommandByKey(_ context.Context, key string) (*command.Command, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if cid, ok := s.commandByKey[key]; ok {
		cp := *s.commands[cid]
		return &cp, nil
	}
	return nil, billing.ErrCommandNotFound
}

func (s *Store) ListCommands(_ context.Context, opts command.ListOpts) ([]*command.Command, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*command.Command, 0, len(s.commands))
	for _, c := range s.commands {
		if opts.ActiveOnly && !c.Active {
			continue
		}
		cp := *c
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Key < result[j].Key })

	return page(result, opts.Offset, opts.Limit), nil
}

func (s *Store) UpdateCommand(_ context.Context, c *command.Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, exists := s.commands[c.ID.String()]
	if !exists {
		return billing.ErrCommandNotFound
	}
	if other, taken := s.commandByKey[c.Key]; taken && other != c.ID.String() {
		return billing.ErrAlreadyExists
	}
	delete(s.commandByKey, old.Key)

	cp := *c
	s.commands[c.ID.String()] = &cp
	s.commandByKey[c.Key] = c.ID.String()
	return nil
}

// ──────────────────────────────────────────────────
// Policy Store
// ──────────────────────────────────────────────────

func policyKey(target scope.Target, cmdID id.CommandID) string {
	return target.String() + "|" + cmdID.String()
}

func (s *Store) UpsertPolicy(_ context.Context, p *policy.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := policyKey(p.Target, p.CommandID)
	if existing, ok := s.policies[k]; ok {
		p.ID = existing.ID
		p.CreatedAt = existing.CreatedAt
	}
	cp := *p
	s.policies[k] = &cp
	return nil
}

func (s *Store) GetPolicy(_ context.Context, target scope.Target, cmdID id.CommandID) (*policy.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, ok := s.policies[policyKey(target, cmdID)]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, billing.ErrPolicyNotFound
}

func (s *Store) ListPolicies(_ context.Context, opts policy.ListOpts) ([]*policy.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*policy.Policy, 0)
	for _, p := range s.policies {
		if !opts.Target.IsZero() && p.Target != opts.Target {
			continue
		}
		if !opts.CommandID.IsNil() && p.CommandID != opts.CommandID {
			continue
		}
		cp := *p
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		return policyKey(result[i].Target, result[i].CommandID) < policyKey(result[j].Target, result[j].CommandID)
	})

	return page(result, opts.Offset, opts.Limit), nil
}

func (s *Store) DeletePolicy(_ context.Context, target scope.Target, cmdID id.CommandID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := policyKey(target, cmdID)
	if _, ok := s.policies[k]; !ok {
		return billing.ErrPolicyNotFound
	}
	delete(s.policies, k)
	return nil
}

// ──────────────────────────────────────────────────
// Wallet Store
// ──────────────────────────────────────────────────

func (s *Store) GetWallet(_ context.Context, target scope.Target) (*wallet.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if w, ok := s.wallets[target.String()]; ok {
		cp := *w
		return &cp, nil
	}
	return nil, billing.ErrWalletNotFound
}

func (s *Store) EnsureWallet(_ context.Context, target scope.Target) (*wallet.Wallet, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.ensure(target)
	cp := *w
	return &cp, nil
}

// ensure must be called with s.mu held for writing.
func (s *Store) ensure(target scope.Target) *wallet.Wallet {
	k := target.String()
	if w, ok := s.wallets[k]; ok {
		return w
	}
	w := wallet.New(target, time.Now())
	s.wallets[k] = w
	s.walletLocks[k] = &sync.Mutex{}
	return w
}

// lockWallet creates the wallet if needed and acquires its row lock.
func (s *Store) lockWallet(ctx context.Context, target scope.Target) (*sync.Mutex, error) {
	s.mu.Lock()
	s.ensure(target)
	lock := s.walletLocks[target.String()]
	s.mu.Unlock()

	lock.Lock()
	if err := ctx.Err(); err != nil {
		lock.Unlock()
		return nil, err
	}
	return lock, nil
}

func (s *Store) SetWalletActive(ctx context.Context, target scope.Target, active bool) (*wallet.Wallet, error) {
	s.mu.RLock()
	lock, ok := s.walletLocks[target.String()]
	s.mu.RUnlock()
	if !ok {
		return nil, billing.ErrWalletNotFound
	}

	lock.Lock()
	defer lock.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.wallets[target.String()]
	w.Active = active
	w.Touch(time.Now())
	cp := *w
	return &cp, nil
}

func (s *Store) ApplyMutation(ctx context.Context, m wallet.Mutation) (*wallet.Wallet, *wallet.Entry, error) {
	if err := m.Validate(); err != nil {
		return nil, nil, err
	}

	lock, err := s.lockWallet(ctx, m.Target)
	if err != nil {
		return nil, nil, err
	}
	defer lock.Unlock()

	at := m.At
	if at.IsZero() {
		at = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Apply on a copy so a refused mutation leaves the stored wallet untouched.
	w := *s.wallets[m.Target.String()]
	entry, err := wallet.Apply(&w, m, at)
	if err != nil {
		return nil, nil, err
	}

	s.wallets[m.Target.String()] = &w
	s.entries[w.ID.String()] = append(s.entries[w.ID.String()], entry)

	cp, ecp := w, *entry
	return &cp, &ecp, nil
}

func (s *Store) ListEntries(_ context.Context, walletID id.WalletID, opts wallet.EntryListOpts) ([]*wallet.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.entries[walletID.String()]
	result := make([]*wallet.Entry, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		if opts.Type != "" && all[i].Type != opts.Type {
			continue
		}
		cp := *all[i]
		result = append(result, &cp)
	}

	return page(result, opts.Offset, opts.Limit), nil
}

func (s *Store) LedgerTotals(_ context.Context, walletID id.WalletID) (*wallet.Totals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t := &wallet.Totals{}
	all := s.entries[walletID.String()]
	for _, e := range all {
		switch e.Type {
		case wallet.TxCredit:
			t.Credits += e.Amount
		case wallet.TxDebit:
			t.Debits += e.Amount
		}
	}
	t.Entries = int64(len(all))
	if len(all) > 0 {
		t.LastBalance = all[len(all)-1].BalanceAfter
		t.HasLastEntry = true
	}
	return t, nil
}

// ──────────────────────────────────────────────────
// Subscription Store
// ──────────────────────────────────────────────────

func (s *Store) CreateSubscription(_ context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.subscriptions[sub.ID.String()]; exists {
		return billing.ErrAlreadyExists
	}
	cp := *sub
	s.subscriptions[sub.ID.String()] = &cp
	return nil
}

func (s *Store) GetSubscription(_ context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if sub, ok := s.subscriptions[subID.String()]; ok {
		cp := *sub
		return &cp, nil
	}
	return nil, billing.ErrSubscriptionNotFound
}

func (s *Store) FindActiveSubscription(_ context.Context, target scope.Target, cmdID id.CommandID, at time.Time) (*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *subscription.Subscription
	for _, sub := range s.subscriptions {
		if sub.Target != target || !sub.Covers(cmdID, at) {
			continue
		}
		if best == nil || (best.CommandID.IsNil() && !sub.CommandID.IsNil()) {
			best = sub
		}
	}
	if best == nil {
		return nil, billing.ErrNoActiveSubscription
	}
	cp := *best
	return &cp, nil
}

func (s *Store) ListSubscriptions(_ context.Context, target scope.Target, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*subscription.Subscription, 0)
	for _, sub := range s.subscriptions {
		if sub.Target != target {
			continue
		}
		if opts.Status != "" && sub.Status != opts.Status {
			continue
		}
		cp := *sub
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CurrentPeriodStart.After(result[j].CurrentPeriodStart)
	})

	return page(result, opts.Offset, opts.Limit), nil
}

func (s *Store) CancelSubscription(_ context.Context, subID id.SubscriptionID, canceledAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[subID.String()]
	if !ok {
		return billing.ErrSubscriptionNotFound
	}
	canceledAt = canceledAt.UTC()
	sub.Status = subscription.StatusCanceled
	sub.CanceledAt = &canceledAt
	sub.Touch(canceledAt)
	return nil
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

func (s *Store) Migrate(_ context.Context) error { return nil }

func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return billing.ErrStoreClosed
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

// page applies offset and limit; a zero limit means no limit.
func page[T any](items []T, offset, limit int) []T {
	start := offset
	if start > len(items) {
		start = len(items)
	}
	end := start + limit
	if limit == 0 || end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
