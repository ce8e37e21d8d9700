// Package mongo implements store.Store on MongoDB through the grove
// mongodriver. Wallet mutations run in multi-document transactions, so the
// server must be a replica set or a sharded cluster.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	"github.com/xraph/billing"
	"github.com/xraph/billing/command"
	"github.com/xraph/billing/id"
	"github.com/xraph/billing/policy"
	"github.com/xraph/billing/scope"
	billingstore "github.com/xraph/billing/store"
	"github.com/xraph/billing/subscription"
	"github.com/xraph/billing/wallet"
)

// Collection name constants.
const (
	colCommands      = "billing_commands"
	colPolicies      = "billing_policies"
	colWallets       = "billing_wallets"
	colEntries       = "billing_wallet_entries"
	colSubscriptions = "billing_subscriptions"
)

// compile-time interface check
var _ billingstore.Store = (*Store)(nil)

// Store implements store.Store using MongoDB via Grove ORM.
type Store struct {
	db  *grove.DB
	mdb *mongodriver.MongoDB
}

// Connect opens a client for uri and uses database dbName.
func Connect(ctx context.Context, uri, dbName string) (*Store, error) {
	mdb := mongodriver.New()
	if err := mdb.Open(ctx, uri, mongodriver.WithDatabase(dbName)); err != nil {
		_ = mdb.Close()
		return nil, fmt.Errorf("billing/mongo: %w", err)
	}
	db, err := grove.Open(mdb)
	if err != nil {
		_ = mdb.Close()
		return nil, fmt.Errorf("billing/mongo: %w", err)
	}
	return New(db), nil
}

// New creates a new MongoDB store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		mdb: mongodriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Database returns the MongoDB database the store writes to.
func (s *Store) Database() *mongo.Database { return s.mdb.Database() }

// Migrate creates indexes for all billing collections.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if len(models) == 0 {
			continue
		}
		if _, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("%w: billing/mongo: %s indexes: %w", billing.ErrMigrationFailed, col, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close disconnects the client.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Command Store ====================

func (s *Store) CreateCommand(ctx context.Context, c *command.Command) error {
	if _, err := s.mdb.NewInsert(toCommandModel(c)).Exec(ctx); err != nil {
		return mapError("create command", err)
	}
	return nil
}

func (s *Store) GetCommand(ctx context.Context, cmdID id.CommandID) (*command.Command, error) {
	return s.findCommand(ctx, bson.M{"_id": cmdID.String()})
}

func (s *Store) GetCommandByKey(ctx context.Context, key string) (*command.Command, error) {
	return s.findCommand(ctx, bson.M{"command_key": key})
}

func (s *Store) findCommand(ctx context.Context, filter bson.M) (*command.Command, error) {
	var m commandModel
	if err := s.mdb.NewFind(&m).Filter(filter).Scan(ctx); err != nil {
		if isNoDocuments(err) {
			return nil, billing.ErrCommandNotFound
		}
		return nil, fmt.Errorf("billing/mongo: get command: %w", err)
	}
	return fromCommandModel(&m)
}

func (s *Store) ListCommands(ctx context.Context, opts command.ListOpts) ([]*command.Command, error) {
	filter := bson.M{}
	if opts.ActiveOnly {
		filter["is_active"] = true
	}

	var models []commandModel
	if err := s.find(ctx, filter, bson.D{{Key: "command_key", Value: 1}}, opts.Limit, opts.Offset, &models); err != nil {
		return nil, fmt.Errorf("billing/mongo: list commands: %w", err)
	}
	return convert(models, fromCommandModel)
}

func (s *Store) UpdateCommand(ctx context.Context, c *command.Command) error {
	res, err := s.mdb.NewUpdate(toCommandModel(c)).
		Filter(bson.M{"_id": c.ID.String()}).
		Exec(ctx)
	if err != nil {
		return mapError("update command", err)
	}
	if res.MatchedCount() == 0 {
		return billing.ErrCommandNotFound
	}
	return nil
}

// ==================== Policy Store ====================

func policyFilter(target scope.Target, cmdID id.CommandID) bson.M {
	return bson.M{
		"scope_type": string(target.Type()),
		"target":     target.Key(),
		"command_id": cmdID.String(),
	}
}

func (s *Store) UpsertPolicy(ctx context.Context, p *policy.Policy) error {
	update := bson.M{
		"$set": bson.M{
			"is_enabled":   p.Enabled,
			"billing_mode": string(p.Mode),
			"credit_cost":  p.CreditCost,
			"wallet_scope": string(p.WalletScope),
			"updated_at":   p.UpdatedAt,
		},
		"$setOnInsert": bson.M{
			"_id":        p.ID.String(),
			"created_at": p.CreatedAt,
		},
	}

	var stored policyModel
	err := s.mdb.Collection(colPolicies).FindOneAndUpdate(ctx, policyFilter(p.Target, p.CommandID), update,
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&stored)
	if err != nil {
		return mapError("upsert policy", err)
	}

	storedID, err := id.ParsePolicyID(stored.ID)
	if err != nil {
		return err
	}
	p.ID = storedID
	p.CreatedAt = stored.CreatedAt
	return nil
}

func (s *Store) GetPolicy(ctx context.Context, target scope.Target, cmdID id.CommandID) (*policy.Policy, error) {
	var m policyModel
	if err := s.mdb.NewFind(&m).Filter(policyFilter(target, cmdID)).Scan(ctx); err != nil {
		if isNoDocuments(err) {
			return nil, billing.ErrPolicyNotFound
		}
		return nil, fmt.Errorf("billing/mongo: get policy: %w", err)
	}
	return fromPolicyModel(&m)
}

func (s *Store) ListPolicies(ctx context.Context, opts policy.ListOpts) ([]*policy.Policy, error) {
	filter := bson.M{}
	if !opts.Target.IsZero() {
		filter["scope_type"] = string(opts.Target.Type())
		filter["target"] = opts.Target.Key()
	}
	if !opts.CommandID.IsNil() {
		filter["command_id"] = opts.CommandID.String()
	}

	sort := bson.D{{Key: "scope_type", Value: 1}, {Key: "target", Value: 1}, {Key: "command_id", Value: 1}}
	var models []policyModel
	if err := s.find(ctx, filter, sort, opts.Limit, opts.Offset, &models); err != nil {
		return nil, fmt.Errorf("billing/mongo: list policies: %w", err)
	}
	return convert(models, fromPolicyModel)
}

func (s *Store) DeletePolicy(ctx context.Context, target scope.Target, cmdID id.CommandID) error {
	res, err := s.mdb.NewDelete((*policyModel)(nil)).
		Filter(policyFilter(target, cmdID)).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("billing/mongo: delete policy: %w", err)
	}
	if res.DeletedCount() == 0 {
		return billing.ErrPolicyNotFound
	}
	return nil
}

// ==================== Wallet Store ====================

func walletFilter(target scope.Target) bson.M {
	return bson.M{"scope_type": string(target.Type()), "target": target.Key()}
}

func (s *Store) GetWallet(ctx context.Context, target scope.Target) (*wallet.Wallet, error) {
	var m walletModel
	if err := s.mdb.NewFind(&m).Filter(walletFilter(target)).Scan(ctx); err != nil {
		if isNoDocuments(err) {
			return nil, billing.ErrWalletNotFound
		}
		return nil, fmt.Errorf("billing/mongo: get wallet: %w", err)
	}
	return fromWalletModel(&m)
}

func (s *Store) EnsureWallet(ctx context.Context, target scope.Target) (*wallet.Wallet, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}

	w := wallet.New(target, now())
	_, err := s.mdb.Collection(colWallets).UpdateOne(ctx, walletFilter(target),
		bson.M{"$setOnInsert": bson.M{
			"_id":        w.ID.String(),
			"balance":    int64(0),
			"is_active":  true,
			"seq":        int64(0),
			"created_at": w.CreatedAt,
			"updated_at": w.UpdatedAt,
		}},
		options.UpdateOne().SetUpsert(true))
	// Two concurrent upserts can both miss and race on the unique index.
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return nil, fmt.Errorf("billing/mongo: ensure wallet: %w", err)
	}
	return s.GetWallet(ctx, target)
}

func (s *Store) SetWalletActive(ctx context.Context, target scope.Target, active bool) (*wallet.Wallet, error) {
	var m walletModel
	err := s.mdb.Collection(colWallets).FindOneAndUpdate(ctx, walletFilter(target),
		bson.M{"$set": bson.M{"is_active": active, "updated_at": now()}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, billing.ErrWalletNotFound
		}
		return nil, fmt.Errorf("billing/mongo: set wallet active: %w", err)
	}
	return fromWalletModel(&m)
}

func (s *Store) ApplyMutation(ctx context.Context, m wallet.Mutation) (*wallet.Wallet, *wallet.Entry, error) {
	if err := m.Validate(); err != nil {
		return nil, nil, err
	}
	// Created outside the transaction so a refused debit keeps the new wallet.
	if _, err := s.EnsureWallet(ctx, m.Target); err != nil {
		return nil, nil, err
	}

	at := m.At
	if at.IsZero() {
		at = time.Now()
	}

	sess, err := s.mdb.Client().StartSession()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: billing/mongo: start session: %w", billing.ErrTransactionFailed, err)
	}
	defer sess.EndSession(ctx)

	type result struct {
		wallet *wallet.Wallet
		entry  *wallet.Entry
	}
	out, err := sess.WithTransaction(ctx, func(ctx context.Context) (any, error) {
		// Bumping seq takes the document write lock for the rest of the
		// transaction; concurrent mutations abort and are retried.
		var wm walletModel
		err := s.mdb.Collection(colWallets).FindOneAndUpdate(ctx, walletFilter(m.Target),
			bson.M{"$inc": bson.M{"seq": int64(1)}},
			options.FindOneAndUpdate().SetReturnDocument(options.After),
		).Decode(&wm)
		if err != nil {
			if isNoDocuments(err) {
				return nil, billing.ErrWalletNotFound
			}
			return nil, err
		}

		w, err := fromWalletModel(&wm)
		if err != nil {
			return nil, err
		}
		entry, err := wallet.Apply(w, m, at)
		if err != nil {
			return nil, err
		}

		if _, err := s.mdb.Collection(colWallets).UpdateOne(ctx, bson.M{"_id": wm.ID},
			bson.M{"$set": bson.M{"balance": w.Balance, "updated_at": w.UpdatedAt}}); err != nil {
			return nil, err
		}
		if _, err := s.mdb.NewInsert(toEntryModel(entry, wm.Seq)).Exec(ctx); err != nil {
			return nil, err
		}
		return result{wallet: w, entry: entry}, nil
	})
	if err != nil {
		return nil, nil, mapError("apply mutation", err)
	}
	r := out.(result)
	return r.wallet, r.entry, nil
}

func (s *Store) ListEntries(ctx context.Context, walletID id.WalletID, opts wallet.EntryListOpts) ([]*wallet.Entry, error) {
	filter := bson.M{"wallet_id": walletID.String()}
	if opts.Type != "" {
		filter["tx_type"] = string(opts.Type)
	}

	var models []entryModel
	if err := s.find(ctx, filter, bson.D{{Key: "seq", Value: -1}}, opts.Limit, opts.Offset, &models); err != nil {
		return nil, fmt.Errorf("billing/mongo: list entries: %w", err)
	}
	return convert(models, fromEntryModel)
}

func (s *Store) LedgerTotals(ctx context.Context, walletID id.WalletID) (*wallet.Totals, error) {
	col := s.mdb.Collection(colEntries)

	sumOf := func(txType wallet.TxType) bson.M {
		return bson.M{"$sum": bson.M{"$cond": bson.A{
			bson.M{"$eq": bson.A{"$tx_type", string(txType)}}, "$amount", int64(0),
		}}}
	}
	cursor, err := col.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"wallet_id": walletID.String()}}},
		{{Key: "$group", Value: bson.M{
			"_id":     nil,
			"credits": sumOf(wallet.TxCredit),
			"debits":  sumOf(wallet.TxDebit),
			"entries": bson.M{"$sum": int64(1)},
		}}},
	})
	if err != nil {
		return nil, fmt.Errorf("billing/mongo: ledger totals: %w", err)
	}

	var groups []struct {
		Credits int64 `bson:"credits"`
		Debits  int64 `bson:"debits"`
		Entries int64 `bson:"entries"`
	}
	if err := cursor.All(ctx, &groups); err != nil {
		return nil, fmt.Errorf("billing/mongo: ledger totals: %w", err)
	}

	t := &wallet.Totals{}
	if len(groups) == 0 {
		return t, nil
	}
	t.Credits, t.Debits, t.Entries = groups[0].Credits, groups[0].Debits, groups[0].Entries

	var last entryModel
	err = col.FindOne(ctx, bson.M{"wallet_id": walletID.String()},
		options.FindOne().SetSort(bson.D{{Key: "seq", Value: -1}}),
	).Decode(&last)
	switch {
	case isNoDocuments(err):
	case err != nil:
		return nil, fmt.Errorf("billing/mongo: last entry: %w", err)
	default:
		t.LastBalance = last.BalanceAfter
		t.HasLastEntry = true
	}
	return t, nil
}

// ==================== Subscription Store ====================

func (s *Store) CreateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	if _, err := s.mdb.NewInsert(toSubscriptionModel(sub)).Exec(ctx); err != nil {
		return mapError("create subscription", err)
	}
	return nil
}

func (s *Store) GetSubscription(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	var m subscriptionModel
	if err := s.mdb.NewFind(&m).Filter(bson.M{"_id": subID.String()}).Scan(ctx); err != nil {
		if isNoDocuments(err) {
			return nil, billing.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("billing/mongo: get subscription: %w", err)
	}
	return fromSubscriptionModel(&m)
}

func (s *Store) FindActiveSubscription(ctx context.Context, target scope.Target, cmdID id.CommandID, at time.Time) (*subscription.Subscription, error) {
	filter := bson.M{
		"scope_type":           string(target.Type()),
		"target":               target.Key(),
		"status":               string(subscription.StatusActive),
		"command_id":           bson.M{"$in": bson.A{cmdID.String(), nil}},
		"current_period_start": bson.M{"$lte": at},
		"current_period_end":   bson.M{"$gt": at},
	}

	var models []subscriptionModel
	if err := s.find(ctx, filter, bson.D{{Key: "current_period_end", Value: -1}}, 0, 0, &models); err != nil {
		return nil, fmt.Errorf("billing/mongo: find active subscription: %w", err)
	}
	if len(models) == 0 {
		return nil, billing.ErrNoActiveSubscription
	}

	// A command-specific subscription wins over an all-commands one.
	best := &models[0]
	for i := range models {
		if models[i].CommandID != nil {
			best = &models[i]
			break
		}
	}
	return fromSubscriptionModel(best)
}

func (s *Store) ListSubscriptions(ctx context.Context, target scope.Target, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	filter := walletFilter(target)
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}

	var models []subscriptionModel
	if err := s.find(ctx, filter, bson.D{{Key: "current_period_start", Value: -1}}, opts.Limit, opts.Offset, &models); err != nil {
		return nil, fmt.Errorf("billing/mongo: list subscriptions: %w", err)
	}
	return convert(models, fromSubscriptionModel)
}

func (s *Store) CancelSubscription(ctx context.Context, subID id.SubscriptionID, canceledAt time.Time) error {
	res, err := s.mdb.NewUpdate((*subscriptionModel)(nil)).
		Filter(bson.M{"_id": subID.String()}).
		Set("status", string(subscription.StatusCanceled)).
		Set("canceled_at", canceledAt).
		Set("updated_at", canceledAt).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("billing/mongo: cancel subscription: %w", err)
	}
	if res.MatchedCount() == 0 {
		return billing.ErrSubscriptionNotFound
	}
	return nil
}

// ==================== Helpers ====================

// find scans every document matching filter into out, a pointer to a
// model slice; the collection comes from the model's table name.
func (s *Store) find(ctx context.Context, filter bson.M, sort bson.D, limit, offset int, out any) error {
	q := s.mdb.NewFind(out).Filter(filter).Sort(sort)
	if limit > 0 {
		q = q.Limit(int64(limit))
	}
	if offset > 0 {
		q = q.Skip(int64(offset))
	}
	return q.Scan(ctx)
}

func convert[M any, T any](models []M, fn func(*M) (T, error)) ([]T, error) {
	out := make([]T, 0, len(models))
	for i := range models {
		v, err := fn(&models[i])
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func now() time.Time {
	return time.Now().UTC()
}

func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// mapError classifies driver errors into billing sentinels. Business
// errors from wallet.Apply pass through untouched.
func mapError(op string, err error) error {
	switch {
	case mongo.IsDuplicateKeyError(err):
		return fmt.Errorf("%w: billing/mongo: %s: %w", billing.ErrAlreadyExists, op, err)
	case mongo.IsTimeout(err), mongo.IsNetworkError(err):
		return fmt.Errorf("%w: billing/mongo: %s: %w", billing.ErrTransactionFailed, op, err)
	}
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) && cmdErr.HasErrorLabel("TransientTransactionError") {
		return fmt.Errorf("%w: billing/mongo: %s: %w", billing.ErrTransactionFailed, op, err)
	}
	return err
}

// migrationIndexes returns the index definitions for all billing collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colCommands: {
			{
				Keys:    bson.D{{Key: "command_key", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		colPolicies: {
			{
				Keys:    bson.D{{Key: "scope_type", Value: 1}, {Key: "target", Value: 1}, {Key: "command_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "command_id", Value: 1}}},
		},
		colWallets: {
			{
				Keys:    bson.D{{Key: "scope_type", Value: 1}, {Key: "target", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		colEntries: {
			{
				Keys:    bson.D{{Key: "wallet_id", Value: 1}, {Key: "seq", Value: -1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "ref_type", Value: 1}, {Key: "ref_id", Value: 1}}},
		},
		colSubscriptions: {
			{Keys: bson.D{{Key: "scope_type", Value: 1}, {Key: "target", Value: 1}, {Key: "status", Value: 1}}},
		},
	}
}
