package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/xraph/grove/drivers/sqlitedriver"

	"github.com/xraph/billing"
	"github.com/xraph/billing/store"
	"github.com/xraph/billing/store/sqlite"
	"github.com/xraph/billing/store/storetest"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()

	s, err := sqlite.Open(filepath.Join(t.TempDir(), "billing.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return s
}

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return newTestStore(t)
	})
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}

	var n int64
	if err := sqlitedriver.Unwrap(s.DB()).
		NewRaw(`SELECT COUNT(*) FROM grove_migrations WHERE "group" = ?`, sqlite.Migrations.Name()).
		Scan(ctx, &n); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if want := int64(len(sqlite.Migrations.Migrations())); n != want {
		t.Errorf("applied migrations = %d, want %d", n, want)
	}
}

func TestBalanceCheckConstraint(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := sqlitedriver.Unwrap(s.DB()).NewRaw(
		`INSERT INTO billing_wallets (id, scope_type, target, balance, is_active, created_at, updated_at)
		 VALUES ('wal_x', 'GROUP', 'g', -1, 1, '', '')`).Exec(ctx)
	if err == nil {
		t.Fatal("negative balance accepted by the schema")
	}
}

func TestDuplicateCommandKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateCommand(ctx, storetest.NewCommand("cekunit")); err != nil {
		t.Fatalf("CreateCommand: %v", err)
	}
	err := s.CreateCommand(ctx, storetest.NewCommand("cekunit"))
	if !errors.Is(err, billing.ErrAlreadyExists) {
		t.Errorf("duplicate: got %v, want ErrAlreadyExists", err)
	}
}
