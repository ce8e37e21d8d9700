package memory_test

import (
	"context"
	"errors"
	"testing"

	"github.com/xraph/billing"
	"github.com/xraph/billing/store"
	"github.com/xraph/billing/store/memory"
	"github.com/xraph/billing/store/storetest"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return memory.New()
	})
}

func TestCloseFailsPing(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Ping(ctx); !errors.Is(err, billing.ErrStoreClosed) {
		t.Errorf("Ping after Close: got %v, want ErrStoreClosed", err)
	}
}

func TestReturnedValuesAreCopies(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	c := storetest.NewCommand("cekunit")
	if err := s.CreateCommand(ctx, c); err != nil {
		t.Fatalf("CreateCommand: %v", err)
	}
	c.Active = false

	got, err := s.GetCommand(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetCommand: %v", err)
	}
	if !got.Active {
		t.Error("caller mutation leaked into the store")
	}
}
