// Package store defines the aggregate persistence interface of the billing
// engine. Backends live in the subpackages: memory, postgres, sqlite,
// mysql and mongo.
package store

import (
	"context"

	"github.com/xraph/billing/command"
	"github.com/xraph/billing/policy"
	"github.com/xraph/billing/subscription"
	"github.com/xraph/billing/wallet"
)

// Store is the unified storage interface for all billing entities. Method
// names are prefixed per entity so the sub-interfaces embed without
// conflict.
type Store interface {
	command.Store
	policy.Store
	wallet.Store
	subscription.Store

	// Migrate creates or upgrades the schema. It is idempotent.
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
