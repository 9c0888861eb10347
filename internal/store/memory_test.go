package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/papertrade/trading-engine/internal/model"
	"github.com/papertrade/trading-engine/internal/store"
)

func TestMemoryStore_CreateLoad(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()

	a, err := s.Create(ctx, "user1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !a.Cash.Equal(model.SeedCash) || !a.Active {
		t.Errorf("new account = cash %s active %v", a.Cash, a.Active)
	}

	if _, err := s.Create(ctx, "user1"); !errors.Is(err, store.ErrAlreadyExists) {
		t.Fatalf("duplicate create: %v", err)
	}

	loaded, err := s.Load(ctx, "user1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.UserID != "user1" {
		t.Errorf("loaded user = %s", loaded.UserID)
	}

	if _, err := s.Load(ctx, "ghost"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("load missing: %v", err)
	}
}

func TestMemoryStore_LoadReturnsClone(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	s.Create(ctx, "user1")

	a, _ := s.Load(ctx, "user1")
	a.Cash = decimal.Zero
	a.Positions = append(a.Positions, model.Position{Symbol: "X", Exchange: "NSE", Quantity: 1})

	// Unsaved mutations must not leak into the store.
	fresh, _ := s.Load(ctx, "user1")
	if !fresh.Cash.Equal(model.SeedCash) || len(fresh.Positions) != 0 {
		t.Error("mutation on loaded clone leaked into the store")
	}
}

func TestMemoryStore_SaveVersionConflict(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	s.Create(ctx, "user1")

	a1, _ := s.Load(ctx, "user1")
	a2, _ := s.Load(ctx, "user1")

	a1.Cash = decimal.NewFromInt(99000)
	if err := s.Save(ctx, a1); err != nil {
		t.Fatalf("first save: %v", err)
	}

	// The second writer holds a stale version and must not win.
	a2.Cash = decimal.NewFromInt(50)
	if err := s.Save(ctx, a2); !errors.Is(err, store.ErrVersionConflict) {
		t.Fatalf("stale save: %v, want ErrVersionConflict", err)
	}

	cur, _ := s.Load(ctx, "user1")
	if !cur.Cash.Equal(decimal.NewFromInt(99000)) {
		t.Errorf("cash = %s, want the first writer's 99000", cur.Cash)
	}
}

func TestMemoryStore_SaveBumpsVersion(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	s.Create(ctx, "user1")

	a, _ := s.Load(ctx, "user1")
	v := a.Version
	if err := s.Save(ctx, a); err != nil {
		t.Fatal(err)
	}
	if a.Version != v+1 {
		t.Errorf("version = %d, want %d", a.Version, v+1)
	}
	// A second save of the same (now current) copy succeeds.
	if err := s.Save(ctx, a); err != nil {
		t.Fatalf("sequential save: %v", err)
	}
}

func TestMemoryStore_Delete(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	s.Create(ctx, "user1")

	if err := s.Delete(ctx, "user1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Load(ctx, "user1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("load after delete: %v", err)
	}
	if err := s.Delete(ctx, "user1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("double delete: %v", err)
	}

	a := model.NewAccount("user1")
	if err := s.Save(ctx, a); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("save deleted account: %v", err)
	}
}
