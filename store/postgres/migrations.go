package postgres

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
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS billing_commands (
    id              TEXT PRIMARY KEY,
    command_key     TEXT NOT NULL,
    description     TEXT NOT NULL DEFAULT '',
    scope           TEXT NOT NULL DEFAULT 'BOTH',
    requires_master BOOLEAN NOT NULL DEFAULT FALSE,
    is_active       BOOLEAN NOT NULL DEFAULT TRUE,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_billing_commands_key ON billing_commands (command_key);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS billing_commands`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_billing_policies",
			Version: "20250101000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS billing_policies (
    id           TEXT PRIMARY KEY,
    scope_type   TEXT NOT NULL,
    target       TEXT NOT NULL,
    command_id   TEXT NOT NULL REFERENCES billing_commands (id),
    is_enabled   BOOLEAN NOT NULL DEFAULT TRUE,
    billing_mode TEXT NOT NULL DEFAULT 'FREE',
    credit_cost  BIGINT NOT NULL DEFAULT 1 CHECK (credit_cost >= 1),
    wallet_scope TEXT NOT NULL DEFAULT 'GROUP',
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_billing_policies_target_command ON billing_policies (scope_type, target, command_id);
CREATE INDEX IF NOT EXISTS idx_billing_policies_command ON billing_policies (command_id);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS billing_policies`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_billing_wallets",
			Version: "20250101000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS billing_wallets (
    id         TEXT PRIMARY KEY,
    scope_type TEXT NOT NULL,
    target     TEXT NOT NULL,
    balance    BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
    is_active  BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_billing_wallets_target ON billing_wallets (scope_type, target);

CREATE TABLE IF NOT EXISTS billing_wallet_entries (
    seq            BIGSERIAL PRIMARY KEY,
    id             TEXT NOT NULL UNIQUE,
    wallet_id      TEXT NOT NULL REFERENCES billing_wallets (id),
    tx_type        TEXT NOT NULL CHECK (tx_type IN ('DEBIT', 'CREDIT')),
    amount         BIGINT NOT NULL CHECK (amount >= 1),
    balance_before BIGINT NOT NULL CHECK (balance_before >= 0),
    balance_after  BIGINT NOT NULL CHECK (balance_after >= 0),
    command_id     TEXT,
    ref_type       TEXT NOT NULL DEFAULT '',
    ref_id         TEXT NOT NULL DEFAULT '',
    notes          TEXT NOT NULL DEFAULT '',
    created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_billing_wallet_entries_wallet ON billing_wallet_entries (wallet_id, seq DESC);
CREATE INDEX IF NOT EXISTS idx_billing_wallet_entries_ref ON billing_wallet_entries (ref_type, ref_id);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
DROP TABLE IF EXISTS billing_wallet_entries;
DROP TABLE IF EXISTS billing_wallets
`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_billing_subscriptions",
			Version: "20250101000004",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS billing_subscriptions (
    id                   TEXT PRIMARY KEY,
    scope_type           TEXT NOT NULL,
    target               TEXT NOT NULL,
    command_id           TEXT,
    status               TEXT NOT NULL DEFAULT 'active',
    current_period_start TIMESTAMPTZ NOT NULL,
    current_period_end   TIMESTAMPTZ NOT NULL,
    canceled_at          TIMESTAMPTZ,
    notes                TEXT NOT NULL DEFAULT '',
    created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_billing_subscriptions_target ON billing_subscriptions (scope_type, target, status);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS billing_subscriptions`)
				return err
			},
		},
	)
}
