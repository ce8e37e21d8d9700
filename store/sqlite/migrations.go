package sqlite

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the billing store.
var Migrations = migrate.NewGroup("billing")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_billing_commands",
			Version: "20250101000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				return execAll(ctx, exec,
					`CREATE TABLE IF NOT EXISTS billing_commands (
						id              TEXT PRIMARY KEY,
						command_key     TEXT NOT NULL UNIQUE,
						description     TEXT NOT NULL DEFAULT '',
						scope           TEXT NOT NULL DEFAULT 'BOTH',
						requires_master INTEGER NOT NULL DEFAULT 0,
						is_active       INTEGER NOT NULL DEFAULT 1,
						created_at      TEXT NOT NULL,
						updated_at      TEXT NOT NULL
					)`,
				)
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				return execAll(ctx, exec,
					`DROP TABLE IF EXISTS billing_commands`,
				)
			},
		},
		&migrate.Migration{
			Name:    "create_billing_policies",
			Version: "20250101000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				return execAll(ctx, exec,
					`CREATE TABLE IF NOT EXISTS billing_policies (
						id           TEXT PRIMARY KEY,
						scope_type   TEXT NOT NULL,
						target       TEXT NOT NULL,
						command_id   TEXT NOT NULL REFERENCES billing_commands(id),
						is_enabled   INTEGER NOT NULL DEFAULT 1,
						billing_mode TEXT NOT NULL DEFAULT 'FREE',
						credit_cost  INTEGER NOT NULL DEFAULT 1 CHECK (credit_cost >= 1),
						wallet_scope TEXT NOT NULL DEFAULT 'GROUP',
						created_at   TEXT NOT NULL,
						updated_at   TEXT NOT NULL,
						UNIQUE (scope_type, target, command_id)
					)`,
					`CREATE INDEX IF NOT EXISTS idx_billing_policies_command ON billing_policies (command_id)`,
				)
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				return execAll(ctx, exec,
					`DROP TABLE IF EXISTS billing_policies`,
				)
			},
		},
		&migrate.Migration{
			Name:    "create_billing_wallets",
			Version: "20250101000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				return execAll(ctx, exec,
					`CREATE TABLE IF NOT EXISTS billing_wallets (
						id         TEXT PRIMARY KEY,
						scope_type TEXT NOT NULL,
						target     TEXT NOT NULL,
						balance    INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0),
						is_active  INTEGER NOT NULL DEFAULT 1,
						created_at TEXT NOT NULL,
						updated_at TEXT NOT NULL,
						UNIQUE (scope_type, target)
					)`,
					`CREATE TABLE IF NOT EXISTS billing_wallet_entries (
						seq            INTEGER PRIMARY KEY AUTOINCREMENT,
						id             TEXT NOT NULL UNIQUE,
						wallet_id      TEXT NOT NULL REFERENCES billing_wallets(id),
						tx_type        TEXT NOT NULL CHECK (tx_type IN ('DEBIT', 'CREDIT')),
						amount         INTEGER NOT NULL CHECK (amount >= 1),
						balance_before INTEGER NOT NULL CHECK (balance_before >= 0),
						balance_after  INTEGER NOT NULL CHECK (balance_after >= 0),
						command_id     TEXT,
						ref_type       TEXT NOT NULL DEFAULT '',
						ref_id         TEXT NOT NULL DEFAULT '',
						notes          TEXT NOT NULL DEFAULT '',
						created_at     TEXT NOT NULL
					)`,
					`CREATE INDEX IF NOT EXISTS idx_billing_wallet_entries_wallet ON billing_wallet_entries (wallet_id, seq)`,
					`CREATE INDEX IF NOT EXISTS idx_billing_wallet_entries_ref ON billing_wallet_entries (ref_type, ref_id)`,
				)
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				return execAll(ctx, exec,
					`DROP TABLE IF EXISTS billing_wallet_entries`,
					`DROP TABLE IF EXISTS billing_wallets`,
				)
			},
		},
		&migrate.Migration{
			Name:    "create_billing_subscriptions",
			Version: "20250101000004",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				return execAll(ctx, exec,
					`CREATE TABLE IF NOT EXISTS billing_subscriptions (
						id                   TEXT PRIMARY KEY,
						scope_type           TEXT NOT NULL,
						target               TEXT NOT NULL,
						command_id           TEXT,
						status               TEXT NOT NULL DEFAULT 'active',
						current_period_start TEXT NOT NULL,
						current_period_end   TEXT NOT NULL,
						canceled_at          TEXT,
						notes                TEXT NOT NULL DEFAULT '',
						created_at           TEXT NOT NULL,
						updated_at           TEXT NOT NULL
					)`,
					`CREATE INDEX IF NOT EXISTS idx_billing_subscriptions_target ON billing_subscriptions (scope_type, target, status)`,
				)
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				return execAll(ctx, exec,
					`DROP TABLE IF EXISTS billing_subscriptions`,
				)
			},
		},
	)
}

// execAll runs stmts in order, one statement per call.
func execAll(ctx context.Context, exec migrate.Executor, stmts ...string) error {
	for _, stmt := range stmts {
		if _, err := exec.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
