// Package mysql implements store.Store on MySQL using gorm. Wallet
// mutations lock the wallet row with SELECT ... FOR UPDATE inside a gorm
// transaction.
package mysql

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

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

// models lists every table the store owns, in creation order.
var models = []any{
	&commandModel{},
	&policyModel{},
	&walletModel{},
	&entryModel{},
	&subscriptionModel{},
}

// Store implements store.Store using gorm on MySQL.
type Store struct {
	db *gorm.DB
}

// Open connects to dsn. Time parsing and the UTC location are forced on
// so timestamps round-trip unchanged.
func Open(dsn string) (*Store, error) {
	cfg, err := mysqldriver.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("billing/mysql: parse dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC

	db, err := gorm.Open(gormmysql.Open(cfg.FormatDSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Error),
	})
	if err != nil {
		return nil, fmt.Errorf("billing/mysql: open: %w", err)
	}
	return New(db), nil
}

// New creates a store on an existing gorm handle.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying gorm handle.
func (s *Store) DB() *gorm.DB { return s.db }

// Migrate creates or upgrades every billing table with gorm AutoMigrate.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(models...); err != nil {
		return fmt.Errorf("%w: billing/mysql: %w", billing.ErrMigrationFailed, err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ==================== Command Store ====================

func (s *Store) CreateCommand(ctx context.Context, c *command.Command) error {
	return mapError(s.db.WithContext(ctx).Create(toCommandModel(c)).Error)
}

func (s *Store) GetCommand(ctx context.Context, cmdID id.CommandID) (*command.Command, error) {
	return s.findCommand(ctx, "id = ?", cmdID.String())
}

func (s *Store) GetCommandByKey(ctx context.Context, key string) (*command.Command, error) {
	return s.findCommand(ctx, "command_key = ?", key)
}

func (s *Store) findCommand(ctx context.Context, query string, arg any) (*command.Command, error) {
	var m commandModel
	if err := s.db.WithContext(ctx).Where(query, arg).Take(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, billing.ErrCommandNotFound
		}
		return nil, err
	}
	return fromCommandModel(&m)
}

func (s *Store) ListCommands(ctx context.Context, opts command.ListOpts) ([]*command.Command, error) {
	q := s.db.WithContext(ctx).Model(&commandModel{})
	if opts.ActiveOnly {
		q = q.Where("is_active = ?", true)
	}

	var rows []commandModel
	if err := paginate(q.Order("command_key ASC"), opts.Limit, opts.Offset).Find(&rows).Error; err != nil {
		return nil, err
	}
	return convert(rows, fromCommandModel)
}

func (s *Store) UpdateCommand(ctx context.Context, c *command.Command) error {
	return mapError(s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireRow(tx, &commandModel{}, "id = ?", c.ID.String(), billing.ErrCommandNotFound); err != nil {
			return err
		}
		return tx.Model(&commandModel{}).Where("id = ?", c.ID.String()).Updates(map[string]any{
			"command_key":     c.Key,
			"description":     c.Description,
			"scope":           string(c.Scope),
			"requires_master": c.RequiresMaster,
			"is_active":       c.Active,
			"updated_at":      c.UpdatedAt,
		}).Error
	}))
}

// ==================== Policy Store ====================

func (s *Store) UpsertPolicy(ctx context.Context, p *policy.Policy) error {
	return mapError(s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "scope_type"}, {Name: "target"}, {Name: "command_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"is_enabled", "billing_mode", "credit_cost", "wallet_scope", "updated_at",
			}),
		}).Create(toPolicyModel(p)).Error
		if err != nil {
			return err
		}

		var stored policyModel
		if err := tx.Where("scope_type = ? AND target = ? AND command_id = ?",
			string(p.Target.Type()), p.Target.Key(), p.CommandID.String()).Take(&stored).Error; err != nil {
			return err
		}
		storedID, err := id.ParsePolicyID(stored.ID)
		if err != nil {
			return err
		}
		p.ID = storedID
		p.CreatedAt = stored.CreatedAt
		return nil
	}))
}

func (s *Store) GetPolicy(ctx context.Context, target scope.Target, cmdID id.CommandID) (*policy.Policy, error) {
	var m policyModel
	err := s.db.WithContext(ctx).
		Where("scope_type = ? AND target = ? AND command_id = ?", string(target.Type()), target.Key(), cmdID.String()).
		Take(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, billing.ErrPolicyNotFound
		}
		return nil, err
	}
	return fromPolicyModel(&m)
}

func (s *Store) ListPolicies(ctx context.Context, opts policy.ListOpts) ([]*policy.Policy, error) {
	q := s.db.WithContext(ctx).Model(&policyModel{})
	if !opts.Target.IsZero() {
		q = q.Where("scope_type = ? AND target = ?", string(opts.Target.Type()), opts.Target.Key())
	}
	if !opts.CommandID.IsNil() {
		q = q.Where("command_id = ?", opts.CommandID.String())
	}

	var rows []policyModel
	if err := paginate(q.Order("scope_type, target, command_id"), opts.Limit, opts.Offset).Find(&rows).Error; err != nil {
		return nil, err
	}
	return convert(rows, fromPolicyModel)
}

func (s *Store) DeletePolicy(ctx context.Context, target scope.Target, cmdID id.CommandID) error {
	res := s.db.WithContext(ctx).
		Where("scope_type = ? AND target = ? AND command_id = ?", string(target.Type()), target.Key(), cmdID.String()).
		Delete(&policyModel{})
	if res.Error != nil {
		return mapError(res.Error)
	}
	if res.RowsAffected == 0 {
		return billing.ErrPolicyNotFound
	}
	return nil
}

// ==================== Wallet Store ====================

func walletWhere(target scope.Target) (string, string, string) {
	return "scope_type = ? AND target = ?", string(target.Type()), target.Key()
}

func (s *Store) GetWallet(ctx context.Context, target scope.Target) (*wallet.Wallet, error) {
	return getWallet(s.db.WithContext(ctx), target)
}

func getWallet(tx *gorm.DB, target scope.Target) (*wallet.Wallet, error) {
	query, typ, key := walletWhere(target)
	var m walletModel
	if err := tx.Where(query, typ, key).Take(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, billing.ErrWalletNotFound
		}
		return nil, err
	}
	return fromWalletModel(&m)
}

func (s *Store) EnsureWallet(ctx context.Context, target scope.Target) (*wallet.Wallet, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}

	db := s.db.WithContext(ctx)
	w, err := getWallet(db, target)
	if !errors.Is(err, billing.ErrWalletNotFound) {
		return w, err
	}

	fresh := wallet.New(target, time.Now())
	err = db.Clauses(clause.OnConflict{DoNothing: true}).Create(&walletModel{
		ID:        fresh.ID.String(),
		ScopeType: string(target.Type()),
		Target:    target.Key(),
		Balance:   0,
		IsActive:  true,
		CreatedAt: fresh.CreatedAt,
		UpdatedAt: fresh.UpdatedAt,
	}).Error
	if err != nil {
		return nil, mapError(err)
	}
	return getWallet(db, target)
}

func (s *Store) SetWalletActive(ctx context.Context, target scope.Target, active bool) (*wallet.Wallet, error) {
	var w *wallet.Wallet
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if w, err = getWallet(tx.Clauses(clause.Locking{Strength: "UPDATE"}), target); err != nil {
			return err
		}
		w.Active = active
		w.Touch(time.Now())
		return tx.Model(&walletModel{}).Where("id = ?", w.ID.String()).Updates(map[string]any{
			"is_active":  w.Active,
			"updated_at": w.UpdatedAt,
		}).Error
	})
	if err != nil {
		return nil, mapError(err)
	}
	return w, nil
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

	var (
		w     *wallet.Wallet
		entry *wallet.Entry
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if w, err = getWallet(tx.Clauses(clause.Locking{Strength: "UPDATE"}), m.Target); err != nil {
			return err
		}

		if entry, err = wallet.Apply(w, m, at); err != nil {
			return err
		}

		if err := tx.Model(&walletModel{}).Where("id = ?", w.ID.String()).Updates(map[string]any{
			"balance":    w.Balance,
			"updated_at": w.UpdatedAt,
		}).Error; err != nil {
			return err
		}
		return tx.Create(toEntryModel(entry)).Error
	})
	if err != nil {
		return nil, nil, mapError(err)
	}
	return w, entry, nil
}

func (s *Store) ListEntries(ctx context.Context, walletID id.WalletID, opts wallet.EntryListOpts) ([]*wallet.Entry, error) {
	q := s.db.WithContext(ctx).Model(&entryModel{}).Where("wallet_id = ?", walletID.String())
	if opts.Type != "" {
		q = q.Where("tx_type = ?", string(opts.Type))
	}

	var rows []entryModel
	if err := paginate(q.Order("seq DESC"), opts.Limit, opts.Offset).Find(&rows).Error; err != nil {
		return nil, err
	}
	return convert(rows, fromEntryModel)
}

func (s *Store) LedgerTotals(ctx context.Context, walletID id.WalletID) (*wallet.Totals, error) {
	db := s.db.WithContext(ctx)

	var agg struct {
		Credits int64
		Debits  int64
		Entries int64
	}
	err := db.Model(&entryModel{}).
		Select(`CAST(COALESCE(SUM(CASE WHEN tx_type = 'CREDIT' THEN amount ELSE 0 END), 0) AS SIGNED) AS credits,
			CAST(COALESCE(SUM(CASE WHEN tx_type = 'DEBIT' THEN amount ELSE 0 END), 0) AS SIGNED) AS debits,
			COUNT(*) AS entries`).
		Where("wallet_id = ?", walletID.String()).
		Scan(&agg).Error
	if err != nil {
		return nil, err
	}

	t := &wallet.Totals{Credits: agg.Credits, Debits: agg.Debits, Entries: agg.Entries}

	var last entryModel
	err = db.Where("wallet_id = ?", walletID.String()).Order("seq DESC").Take(&last).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
	case err != nil:
		return nil, err
	default:
		t.LastBalance = last.BalanceAfter
		t.HasLastEntry = true
	}
	return t, nil
}

// ==================== Subscription Store ====================

func (s *Store) CreateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	return mapError(s.db.WithContext(ctx).Create(toSubscriptionModel(sub)).Error)
}

func (s *Store) GetSubscription(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	var m subscriptionModel
	if err := s.db.WithContext(ctx).Where("id = ?", subID.String()).Take(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, billing.ErrSubscriptionNotFound
		}
		return nil, err
	}
	return fromSubscriptionModel(&m)
}

func (s *Store) FindActiveSubscription(ctx context.Context, target scope.Target, cmdID id.CommandID, at time.Time) (*subscription.Subscription, error) {
	var m subscriptionModel
	err := s.db.WithContext(ctx).
		Where("scope_type = ? AND target = ? AND status = ?",
			string(target.Type()), target.Key(), string(subscription.StatusActive)).
		Where("command_id IS NULL OR command_id = ?", cmdID.String()).
		Where("current_period_start <= ? AND current_period_end > ?", at, at).
		Order("command_id IS NULL ASC").
		Order("current_period_end DESC").
		Take(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, billing.ErrNoActiveSubscription
		}
		return nil, err
	}
	return fromSubscriptionModel(&m)
}

func (s *Store) ListSubscriptions(ctx context.Context, target scope.Target, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	q := s.db.WithContext(ctx).Model(&subscriptionModel{}).
		Where("scope_type = ? AND target = ?", string(target.Type()), target.Key())
	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
	}

	var rows []subscriptionModel
	if err := paginate(q.Order("current_period_start DESC"), opts.Limit, opts.Offset).Find(&rows).Error; err != nil {
		return nil, err
	}
	return convert(rows, fromSubscriptionModel)
}

func (s *Store) CancelSubscription(ctx context.Context, subID id.SubscriptionID, canceledAt time.Time) error {
	return mapError(s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireRow(tx, &subscriptionModel{}, "id = ?", subID.String(), billing.ErrSubscriptionNotFound); err != nil {
			return err
		}
		return tx.Model(&subscriptionModel{}).Where("id = ?", subID.String()).Updates(map[string]any{
			"status":      string(subscription.StatusCanceled),
			"canceled_at": canceledAt,
			"updated_at":  canceledAt,
		}).Error
	}))
}

// ==================== Helpers ====================

// requireRow returns notFound unless a row of model matches. MySQL reports
// zero affected rows for no-op updates, so existence is checked up front.
func requireRow(tx *gorm.DB, model any, query string, arg any, notFound error) error {
	var n int64
	if err := tx.Model(model).Where(query, arg).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func paginate(q *gorm.DB, limit, offset int) *gorm.DB {
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		if limit <= 0 {
			q = q.Limit(math.MaxInt32)
		}
		q = q.Offset(offset)
	}
	return q
}

func convert[M any, T any](rows []M, fn func(*M) (T, error)) ([]T, error) {
	out := make([]T, 0, len(rows))
	for i := range rows {
		v, err := fn(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// MySQL server error numbers the store classifies.
const (
	erDupEntry        = 1062
	erLockWaitTimeout = 1205
	erLockDeadlock    = 1213
)

// mapError classifies driver errors into billing sentinels. Business
// errors from wallet.Apply pass through untouched.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var myErr *mysqldriver.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case erDupEntry:
			return fmt.Errorf("%w: %w", billing.ErrAlreadyExists, err)
		case erLockWaitTimeout, erLockDeadlock:
			return fmt.Errorf("%w: %w", billing.ErrTransactionFailed, err)
		}
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %w", billing.ErrAlreadyExists, err)
	}
	return err
}
