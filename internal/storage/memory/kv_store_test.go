package memory

import (
	"context"
	"errors"
	"testing"

	"sol-beast/internal/storage"
)

func TestKVStore_SetGetRemove(t *testing.T) {
	store := NewKVStore()
	ctx := context.Background()

	if _, ok, err := store.Get(ctx, "k"); err != nil || ok {
		t.Fatalf("Get on empty store: ok=%v err=%v", ok, err)
	}

	if err := store.Set(ctx, "k", "v1"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := store.Set(ctx, "k", "v2"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	v, ok, err := store.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if v != "v2" {
		t.Errorf("value mismatch: got %s, want v2", v)
	}

	if err := store.Remove(ctx, "k"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "k"); ok {
		t.Error("key still present after Remove")
	}

	// Removing an absent key is fine
	if err := store.Remove(ctx, "k"); err != nil {
		t.Errorf("Remove absent key: %v", err)
	}
}

func TestKVStore_InvalidKey(t *testing.T) {
	store := NewKVStore()
	ctx := context.Background()

	if err := store.Set(ctx, "", "v"); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for empty key, got %v", err)
	}
	if _, _, err := store.Get(ctx, "a\x00b"); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for NUL key, got %v", err)
	}
}

func TestKVStore_FailSets(t *testing.T) {
	store := NewKVStore()
	ctx := context.Background()

	store.FailSets(true)
	if err := store.Set(ctx, "k", "v"); !errors.Is(err, ErrInjected) {
		t.Fatalf("expected ErrInjected, got %v", err)
	}
	if err := store.Set(ctx, "k", "v"); !errors.Is(err, storage.ErrUnavailable) {
		t.Errorf("injected failure should report unavailable, got %v", err)
	}
	store.FailSets(false)
	if err := store.Set(ctx, "k", "v"); err != nil {
		t.Fatalf("Set after clearing failure: %v", err)
	}
	if store.SetCount() != 1 {
		t.Errorf("SetCount = %d, want 1", store.SetCount())
	}
}
