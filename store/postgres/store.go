// Package postgres implements store.Store on PostgreSQL through the grove
// pgdriver. Wallet mutations lock the wallet row with SELECT ... FOR UPDATE,
// so concurrent debits serialize across processes.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"
	_ "github.com/xraph/grove/drivers/pgdriver/pgmigrate"
	"github.com/xraph/grove/migrate"

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

// Store implements store.Store using PostgreSQL via Grove ORM.
type Store struct {
	db *grove.DB
	pg *pgdriver.PgDB
}

// Connect opens dsn with the grove pgdriver and verifies the connection.
func Connect(ctx context.Context, dsn string) (*Store, error) {
	pg := pgdriver.New()
	if err := pg.Open(ctx, dsn); err != nil {
		return nil, fmt.Errorf("billing/postgres: connect: %w", err)
	}
	db, err := grove.Open(pg)
	if err != nil {
		_ = pg.Close()
		return nil, fmt.Errorf("billing/postgres: open: %w", err)
	}
	if err := db.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("billing/postgres: ping: %w", err)
	}
	return New(db), nil
}

// New creates a new PostgreSQL store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db: db,
		pg: pgdriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate applies pending migrations through the grove orchestrator, which
// holds its own lock so concurrent callers apply each version once.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.pg)
	if err != nil {
		return fmt.Errorf("%w: billing/postgres: create migration executor: %w", billing.ErrMigrationFailed, err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("%w: billing/postgres: %w", billing.ErrMigrationFailed, err)
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
	_, err := s.pg.NewInsert(toCommandModel(c)).Exec(ctx)
	return mapError(err)
}

func (s *Store) GetCommand(ctx context.Context, cmdID id.CommandID) (*command.Command, error) {
	return s.findCommand(ctx, "id = $1", cmdID.String())
}

func (s *Store) GetCommandByKey(ctx context.Context, key string) (*command.Command, error) {
	return s.findCommand(ctx, "command_key = $1", key)
}

func (s *Store) findCommand(ctx context.Context, where string, arg any) (*command.Command, error) {
	m := new(commandModel)
	if err := s.pg.NewSelect(m).Where(where, arg).Scan(ctx); err != nil {
		if isNoRows(err) {
			return nil, billing.ErrCommandNotFound
		}
		return nil, err
	}
	return fromCommandModel(m)
}

func (s *Store) ListCommands(ctx context.Context, opts command.ListOpts) ([]*command.Command, error) {
	var models []commandModel
	q := s.pg.NewSelect(&models)
	if opts.ActiveOnly {
		q = q.Where("is_active")
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
	res, err := s.pg.NewUpdate((*commandModel)(nil)).
		Set("command_key = $1", c.Key).
		Set("description = $2", c.Description).
		Set("scope = $3", string(c.Scope)).
		Set("requires_master = $4", c.RequiresMaster).
		Set("is_active = $5", c.Active).
		Set("updated_at = $6", c.UpdatedAt).
		Where("id = $7", c.ID.String()).
		Exec(ctx)
	if err != nil {
		return mapError(err)
	}
	return requireAffected(res, billing.ErrCommandNotFound)
}

// ==================== Policy Store ====================

func (s *Store) UpsertPolicy(ctx context.Context, p *policy.Policy) error {
	var (
		storedID  string
		createdAt time.Time
	)
	err := s.pg.NewInsert(toPolicyModel(p)).
		OnConflict("(scope_type, target, command_id) DO UPDATE").
		Set("is_enabled = EXCLUDED.is_enabled").
		Set("billing_mode = EXCLUDED.billing_mode").
		Set("credit_cost = EXCLUDED.credit_cost").
		Set("wallet_scope = EXCLUDED.wallet_scope").
		Set("updated_at = EXCLUDED.updated_at").
		Returning("id", "created_at").
		Scan(ctx, &storedID, &createdAt)
	if err != nil {
		return mapError(err)
	}
	polID, err := id.ParsePolicyID(storedID)
	if err != nil {
		return err
	}
	p.ID = polID
	p.CreatedAt = createdAt
	return nil
}

func (s *Store) GetPolicy(ctx context.Context, target scope.Target, cmdID id.CommandID) (*policy.Policy, error) {
	m := new(policyModel)
	err := s.pg.NewSelect(m).
		Where("scope_type = $1", string(target.Type())).
		Where("target = $2", target.Key()).
		Where("command_id = $3", cmdID.String()).
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
	q := s.pg.NewSelect(&models)

	argIdx := 0
	if !opts.Target.IsZero() {
		q = q.Where(fmt.Sprintf("scope_type = $%d", argIdx+1), string(opts.Target.Type())).
			Where(fmt.Sprintf("target = $%d", argIdx+2), opts.Target.Key())
		argIdx += 2
	}
	if !opts.CommandID.IsNil() {
		argIdx++
		q = q.Where(fmt.Sprintf("command_id = $%d", argIdx), opts.CommandID.String())
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
	res, err := s.pg.NewDelete((*policyModel)(nil)).
		Where("scope_type = $1", string(target.Type())).
		Where("target = $2", target.Key()).
		Where("command_id = $3", cmdID.String()).
		Exec(ctx)
	if err != nil {
		return mapError(err)
	}
	return requireAffected(res, billing.ErrPolicyNotFound)
}

// ==================== Wallet Store ====================

func (s *Store) GetWallet(ctx context.Context, target scope.Target) (*wallet.Wallet, error) {
	m := new(walletModel)
	err := s.pg.NewSelect(m).
		Where("scope_type = $1", string(target.Type())).
		Where("target = $2", target.Key()).
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

	if _, err := s.pg.NewInsert(toWalletModel(wallet.New(target, now()))).
		OnConflict("(scope_type, target) DO NOTHING").
		Exec(ctx); err != nil {
		return nil, mapError(err)
	}
	return s.GetWallet(ctx, target)
}

func (s *Store) SetWalletActive(ctx context.Context, target scope.Target, active bool) (*wallet.Wallet, error) {
	res, err := s.pg.NewUpdate((*walletModel)(nil)).
		Set("is_active = $1", active).
		Set("updated_at = $2", now()).
		Where("scope_type = $3", string(target.Type())).
		Where("target = $4", target.Key()).
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
		at = now()
	}

	tx, err := s.pg.BeginTxQuery(ctx, nil)
	if err != nil {
		return nil, nil, mapError(err)
	}
	defer func() { _ = tx.Rollback() }()

	wm := new(walletModel)
	if err := tx.NewSelect(wm).
		Where("scope_type = $1", string(m.Target.Type())).
		Where("target = $2", m.Target.Key()).
		ForUpdate().
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
		Set("balance = $1", w.Balance).
		Set("updated_at = $2", w.UpdatedAt).
		Where("id = $3", w.ID.String()).
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
	q := s.pg.NewSelect(&models).Where("wallet_id = $1", walletID.String())
	if opts.Type != "" {
		q = q.Where("tx_type = $2", string(opts.Type))
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
	var last *int64
	err := s.pg.NewRaw(`
SELECT
    COALESCE(SUM(amount) FILTER (WHERE tx_type = 'CREDIT'), 0)::BIGINT,
    COALESCE(SUM(amount) FILTER (WHERE tx_type = 'DEBIT'), 0)::BIGINT,
    COUNT(*),
    (SELECT balance_after FROM billing_wallet_entries WHERE wallet_id = $1 ORDER BY seq DESC LIMIT 1)
FROM billing_wallet_entries WHERE wallet_id = $1`, walletID.String(),
	).Scan(ctx, &t.Credits, &t.Debits, &t.Entries, &last)
	if err != nil {
		return nil, err
	}
	if last != nil {
		t.LastBalance = *last
		t.HasLastEntry = true
	}
	return t, nil
}

// ==================== Subscription Store ====================

func (s *Store) CreateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	_, err := s.pg.NewInsert(toSubscriptionModel(sub)).Exec(ctx)
	return mapError(err)
}

func (s *Store) GetSubscription(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	m := new(subscriptionModel)
	if err := s.pg.NewSelect(m).Where("id = $1", subID.String()).Scan(ctx); err != nil {
		if isNoRows(err) {
			return nil, billing.ErrSubscriptionNotFound
		}
		return nil, err
	}
	return fromSubscriptionModel(m)
}

func (s *Store) FindActiveSubscription(ctx context.Context, target scope.Target, cmdID id.CommandID, at time.Time) (*subscription.Subscription, error) {
	m := new(subscriptionModel)
	err := s.pg.NewSelect(m).
		Where("scope_type = $1", string(target.Type())).
		Where("target = $2", target.Key()).
		Where("status = $3", string(subscription.StatusActive)).
		Where("(command_id IS NULL OR command_id = $4)", cmdID.String()).
		Where("current_period_start <= $5 AND current_period_end > $5", at).
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
	q := s.pg.NewSelect(&models).
		Where("scope_type = $1", string(target.Type())).
		Where("target = $2", target.Key())
	if opts.Status != "" {
		q = q.Where("status = $3", string(opts.Status))
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
	res, err := s.pg.NewUpdate((*subscriptionModel)(nil)).
		Set("status = $1", string(subscription.StatusCanceled)).
		Set("canceled_at = $2", canceledAt).
		Set("updated_at = $3", canceledAt).
		Where("id = $4", subID.String()).
		Exec(ctx)
	if err != nil {
		return mapError(err)
	}
	return requireAffected(res, billing.ErrSubscriptionNotFound)
}

// ==================== Helpers ====================

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

func paginate(q *pgdriver.SelectQuery, limit, offset int) *pgdriver.SelectQuery {
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	return q
}

func requireAffected(res interface{ RowsAffected() (int64, error) }, notFound error) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return notFound
	}
	return nil
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// Postgres error codes the store classifies.
const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
)

// mapError classifies driver errors into billing sentinels. Business
// errors from wallet.Apply pass through untouched.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			return fmt.Errorf("%w: %w", billing.ErrAlreadyExists, err)
		case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable:
			return fmt.Errorf("%w: %w", billing.ErrTransactionFailed, err)
		}
		return err
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return fmt.Errorf("%w: %w", billing.ErrTransactionFailed, err)
	}
	return err
}
