package kv

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemory()

	if _, err := store.Get(ctx, "pack:1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := store.Set(ctx, "pack:1", []byte(`{"a":1}`)); err != nil {
		t.Fatalf("set: %v", err)
	}
	value, err := store.Get(ctx, "pack:1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(value) != `{"a":1}` {
		t.Fatalf("unexpected value: %s", value)
	}
	if err := store.Delete(ctx, "pack:1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	// Deleting an absent key is idempotent.
	if err := store.Delete(ctx, "pack:1"); err != nil {
		t.Fatalf("delete absent: %v", err)
	}
	if _, err := store.Get(ctx, "pack:1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestMemoryCopiesValues(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemory()
	payload := []byte("abc")
	if err := store.Set(ctx, "k", payload); err != nil {
		t.Fatalf("set: %v", err)
	}
	payload[0] = 'z'
	got, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "abc" {
		t.Fatalf("stored value aliased caller buffer: %s", got)
	}
}
