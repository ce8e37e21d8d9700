// Package sqlite implements store.Store on SQLite through the grove
// sqlitedriver and the pure-Go modernc.org/sqlite driver. Write transactions
// begin IMMEDIATE, so the database write lock stands in for a row lock on
// wallet mutations.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/driver"
	"github.com/xraph/grove/drivers/sqlitedriver"
	_ "github.com/xraph/grove/drivers/sqlitedriver/sqlitemigrate"
	"github.com/xraph/grove/migrate"
	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/xraph/billing"
	"github.com/xraph/billing/command"
	"github.com/xraph/billing/id"
	"github.com/xraph/billing/policy"
	"github.com/xraph/billing/scope"
	billingstore "github.com/xraph/billing/store"
	"github.com/xraph/billing/subscription"
	"github.com/xraph/billing/wallet"
)

// compile-time interface check
var _ billingstore.Store = (*Store)(nil)

// Store implements store.Store using SQLite via Grove ORM.
type Store struct {
	db     *grove.DB
	sqlite *sqlitedriver.SqliteDB
}

// Open opens (creating if needed) the database file at path.
func Open(path string) (*Store, error) {
	dsn := "file:" + path +
		"?_pragma=busy_timeout(5000)" +
		"&_pragma=foreign_keys(1)" +
		"&_txlock=immediate"

	ctx := context.Background()
	sdb := sqlitedriver.New()
	// A single connection serializes writers without SQLITE_BUSY churn.
	if err := sdb.Open(ctx, dsn, driver.WithPoolSize(1)); err != nil {
		return nil, fmt.Errorf("billing/sqlite: open %s: %w", path, err)
	}
	db, err := grove.Open(sdb)
	if err != nil {
		_ = sdb.Close()
		return nil, fmt.Errorf("billing/sqlite: open %s: %w", path, err)
	}
	if err := db.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("billing/sqlite: ping %s: %w", path, err)
	}
	return New(db), nil
}

// New creates a new SQLite store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:     db,
		sqlite: sqlitedriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate applies pending migrations through the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.sqlite)
	if err != nil {
		return fmt.Errorf("%w: billing/sqlite: create migration executor: %w", billing.ErrMigrationFailed, err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("%w: billing/sqlite: %w", billing.ErrMigrationFailed, err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Command Store ====================

func (s *Store) CreateCommand(ctx context.Context, c *command.Command) error {
	_, err := s.sqlite.NewInsert(toCommandModel(c)).Exec(ctx)
	return mapError(err)
}

func (s *Store) GetCommand(ctx context.Context, cmdID id.CommandID) (*command.Command, error) {
	return s.findCommand(ctx, "id = ?", cmdID.String())
}

func (s *Store) GetCommandByKey(ctx context.Context, key string) (*command.Command, error) {
	return s.findCommand(ctx, "command_key = ?", key)
}

func (s *Store) findCommand(ctx context.Context, where string, arg any) (*command.Command, error) {
	m := new(commandModel)
	if err := s.sqlite.NewSelect(m).Where(where, arg).Scan(ctx); err != nil {
		if isNoRows(err) {
			return nil, billing.ErrCommandNotFound
		}
		return nil, err
	}
	return fromCommandModel(m)
}

func (s *Store) ListCommands(ctx context.Context, opts command.ListOpts) ([]*command.Command, error) {
	var models []commandModel
	q := s.sqlite.NewSelect(&models)
	if opts.ActiveOnly {
		q = q.Where("is_active = 1")
	}
	q = paginate(q.OrderExpr("command_key ASC"), opts.Limit, opts.Offset)

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*command.Command, len(models))
	for i := range models {
		c, err := fromCommandModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = c
	}
	return result, nil
}

func (s *Store) UpdateCommand(ctx context.Context, c *command.Command) error {
	res, err := s.sqlite.NewUpdate((*commandModel)(nil)).
		Set("command_key = ?", c.Key).
		Set("description = ?", c.Description).
		Set("scope = ?", string(c.Scope)).
		Set("requires_master = ?", c.RequiresMaster).
		Set("is_active = ?", c.Active).
		Set("updated_at = ?", formatTime(c.UpdatedAt)).
		Where("id = ?", c.ID.String()).
		Exec(ctx)
	if err != nil {
		return mapError(err)
	}
	return requireAffected(res, billing.ErrCommandNotFound)
}

// ==================== Policy Store ====================

func (s *Store) UpsertPolicy(ctx context.Context, p *policy.Policy) error {
	var storedID, createdAt string
	err := s.sqlite.NewInsert(toPolicyModel(p)).
		OnConflict("(scope_type, target, command_id) DO UPDATE").
		Set("is_enabled = excluded.is_enabled").
		Set("billing_mode = excluded.billing_mode").
		Set("credit_cost = excluded.credit_cost").
		Set("wallet_scope = excluded.wallet_scope").
		Set("updated_at = excluded.updated_at").
		Returning("id", "created_at").
		Scan(ctx, &storedID, &createdAt)
	if err != nil {
		return mapError(err)
	}
	polID, err := id.ParsePolicyID(storedID)
	if err != nil {
		return err
	}
	created, err := parseTime(createdAt)
	if err != nil {
		return err
	}
	p.ID = polID
	p.CreatedAt = created
	return nil
}

func (s *Store) GetPolicy(ctx context.Context, target scope.Target, cmdID id.CommandID) (*policy.Policy, error) {
	m := new(policyModel)
	err := s.sqlite.NewSelect(m).
		Where("scope_type = ?", string(target.Type())).
		Where("target = ?", target.Key()).
		Where("command_id = ?", cmdID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, billing.ErrPolicyNotFound
		}
		return nil, err
	}
	return fromPolicyModel(m)
}

func (s *Store) ListPolicies(ctx context.Context, opts policy.ListOpts) ([]*policy.Policy, error) {
	var models []policyModel
	q := s.sqlite.NewSelect(&models)
	if !opts.Target.IsZero() {
		q = q.Where("scope_type = ?", string(opts.Target.Type())).
			Where("target = ?", opts.Target.Key())
	}
	if !opts.CommandID.IsNil() {
		q = q.Where("command_id = ?", opts.CommandID.String())
	}
	q = paginate(q.OrderExpr("scope_type, target, command_id"), opts.Limit, opts.Offset)

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*policy.Policy, len(models))
	for i := range models {
		p, err := fromPolicyModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = p
	}
	return result, nil
}

func (s *Store) DeletePolicy(ctx context.Context, target scope.Target, cmdID id.CommandID) error {
	res, err := s.sqlite.NewDelete((*policyModel)(nil)).
		Where("scope_type = ?", string(target.Type())).
		Where("target = ?", target.Key()).
		Where("command_id = ?", cmdID.String()).
		Exec(ctx)
	if err != nil {
		return mapError(err)
	}
	return requireAffected(res, billing.ErrPolicyNotFound)
}

// ==================== Wallet Store ====================

func (s *Store) GetWallet(ctx context.Context, target scope.Target) (*wallet.Wallet, error) {
	m := new(walletModel)
	err := s.sqlite.NewSelect(m).
		Where("scope_type = ?", string(target.Type())).
		Where("target = ?", target.Key()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, billing.ErrWalletNotFound
		}
		return nil, err
	}
	return fromWalletModel(m)
}

func (s *Store) EnsureWallet(ctx context.Context, target scope.Target) (*wallet.Wallet, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}

	if _, err := s.sqlite.NewInsert(toWalletModel(wallet.New(target, time.Now()))).
		OnConflict("(scope_type, target) DO NOTHING").
		Exec(ctx); err != nil {
		return nil, mapError(err)
	}
	return s.GetWallet(ctx, target)
}

func (s *Store) SetWalletActive(ctx context.Context, target scope.Target, active bool) (*wallet.Wallet, error) {
	res, err := s.sqlite.NewUpdate((*walletModel)(nil)).
		Set("is_active = ?", active).
		Set("updated_at = ?", formatTime(time.Now())).
		Where("scope_type = ?", string(target.Type())).
		Where("target = ?", target.Key()).
		Exec(ctx)
	if err != nil {
		return nil, mapError(err)
	}
	if err := requireAffected(res, billing.ErrWalletNotFound); err != nil {
		return nil, err
	}
	return s.GetWallet(ctx, target)
}

func (s *Store) ApplyMutation(ctx context.Context, m wallet.Mutation) (*wallet.Wallet, *wallet.Entry, error) {
	if err := m.Validate(); err != nil {
		return nil, nil, err
	}
	// Created outside the mutation so a refused debit keeps the new wallet.
	if _, err := s.EnsureWallet(ctx, m.Target); err != nil {
		return nil, nil, err
	}

	at := m.At
	if at.IsZero() {
		at = time.Now()
	}

	tx, err := s.sqlite.BeginTxQuery(ctx, nil)
	if err != nil {
		return nil, nil, mapError(err)
	}
	defer func() { _ = tx.Rollback() }()

	wm := new(walletModel)
	if err := tx.NewSelect(wm).
		Where("scope_type = ?", string(m.Target.Type())).
		Where("target = ?", m.Target.Key()).
		Scan(ctx); err != nil {
		if isNoRows(err) {
			return nil, nil, billing.ErrWalletNotFound
		}
		return nil, nil, mapError(err)
	}
	w, err := fromWalletModel(wm)
	if err != nil {
		return nil, nil, err
	}

	entry, err := wallet.Apply(w, m, at)
	if err != nil {
		return nil, nil, err
	}

	if _, err := tx.NewUpdate((*walletModel)(nil)).
		Set("balance = ?", w.Balance).
		Set("updated_at = ?", formatTime(w.UpdatedAt)).
		Where("id = ?", w.ID.String()).
		Exec(ctx); err != nil {
		return nil, nil, mapError(err)
	}
	if _, err := tx.NewInsert(toEntryModel(entry)).Exec(ctx); err != nil {
		return nil, nil, mapError(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, mapError(err)
	}
	return w, entry, nil
}

func (s *Store) ListEntries(ctx context.Context, walletID id.WalletID, opts wallet.EntryListOpts) ([]*wallet.Entry, error) {
	var models []entryModel
	q := s.sqlite.NewSelect(&models).Where("wallet_id = ?", walletID.String())
	if opts.Type != "" {
		q = q.Where("tx_type = ?", string(opts.Type))
	}
	q = paginate(q.OrderExpr("seq DESC"), opts.Limit, opts.Offset)

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*wallet.Entry, len(models))
	for i := range models {
		e, err := fromEntryModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = e
	}
	return result, nil
}

func (s *Store) LedgerTotals(ctx context.Context, walletID id.WalletID) (*wallet.Totals, error) {
	t := &wallet.Totals{}
	var last sql.NullInt64
	err := s.sqlite.NewRaw(`
SELECT
    COALESCE(SUM(CASE WHEN tx_type = 'CREDIT' THEN amount ELSE 0 END), 0),
    COALESCE(SUM(CASE WHEN tx_type = 'DEBIT' THEN amount ELSE 0 END), 0),
    COUNT(*),
    (SELECT balance_after FROM billing_wallet_entries WHERE wallet_id = ? ORDER BY seq DESC LIMIT 1)
FROM billing_wallet_entries WHERE wallet_id = ?`, walletID.String(), walletID.String(),
	).Scan(ctx, &t.Credits, &t.Debits, &t.Entries, &last)
	if err != nil {
		return nil, err
	}
	if last.Valid {
		t.LastBalance = last.Int64
		t.HasLastEntry = true
	}
	return t, nil
}

// ==================== Subscription Store ====================

func (s *Store) CreateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	_, err := s.sqlite.NewInsert(toSubscriptionModel(sub)).Exec(ctx)
	return mapError(err)
}

func (s *Store) GetSubscription(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	m := new(subscriptionModel)
	if err := s.sqlite.NewSelect(m).Where("id = ?", subID.String()).Scan(ctx); err != nil {
		if isNoRows(err) {
			return nil, billing.ErrSubscriptionNotFound
		}
		return nil, err
	}
	return fromSubscriptionModel(m)
}

func (s *Store) FindActiveSubscription(ctx context.Context, target scope.Target, cmdID id.CommandID, at time.Time) (*subscription.Subscription, error) {
	ts := formatTime(at)
	m := new(subscriptionModel)
	err := s.sqlite.NewSelect(m).
		Where("scope_type = ?", string(target.Type())).
		Where("target = ?", target.Key()).
		Where("status = ?", string(subscription.StatusActive)).
		Where("(command_id IS NULL OR command_id = ?)", cmdID.String()).
		Where("current_period_start <= ? AND current_period_end > ?", ts, ts).
		OrderExpr("(command_id IS NULL) ASC").
		OrderExpr("current_period_end DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, billing.ErrNoActiveSubscription
		}
		return nil, err
	}
	return fromSubscriptionModel(m)
}

func (s *Store) ListSubscriptions(ctx context.Context, target scope.Target, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	var models []subscriptionModel
	q := s.sqlite.NewSelect(&models).
		Where("scope_type = ?", string(target.Type())).
		Where("target = ?", target.Key())
	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
	}
	q = paginate(q.OrderExpr("current_period_start DESC"), opts.Limit, opts.Offset)

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*subscription.Subscription, len(models))
	for i := range models {
		sub, err := fromSubscriptionModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = sub
	}
	return result, nil
}

func (s *Store) CancelSubscription(ctx context.Context, subID id.SubscriptionID, canceledAt time.Time) error {
	ts := formatTime(canceledAt)
	res, err := s.sqlite.NewUpdate((*subscriptionModel)(nil)).
		Set("status = ?", string(subscription.StatusCanceled)).
		Set("canceled_at = ?", ts).
		Set("updated_at = ?", ts).
		Where("id = ?", subID.String()).
		Exec(ctx)
	if err != nil {
		return mapError(err)
	}
	return requireAffected(res, billing.ErrSubscriptionNotFound)
}

// ==================== Helpers ====================

// paginate applies limit and offset. SQLite rejects OFFSET without LIMIT.
func paginate(q *sqlitedriver.SelectQuery, limit, offset int) *sqlitedriver.SelectQuery {
	if offset > 0 && limit <= 0 {
		limit = math.MaxInt
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	return q
}

func requireAffected(res driver.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// mapError classifies driver errors into billing sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var se *msqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return fmt.Errorf("%w: %w", billing.ErrAlreadyExists, err)
		}
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return fmt.Errorf("%w: %w", billing.ErrTransactionFailed, err)
		}
	}
	return err
}
