package session

import (
	"context"
	"testing"
	"time"

	"github.com/stickerpress/stickerpress/internal/kv"
)

func TestStoreRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewStore(nil, kv.NewMemory())

	loaded, err := store.Load(ctx, "c1")
	if err != nil {
		t.Fatalf("load idle: %v", err)
	}
	if loaded != nil {
		t.Fatalf("expected nil for idle conversation")
	}

	sess := New("c1", time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	sess.AddItem("s1")
	sess.AddSourcePath("/tmp/c1/src/s1.webp")
	if err := store.Save(ctx, sess); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err = store.Load(ctx, "c1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.ConversationID != "c1" || len(loaded.Items) != 1 || len(loaded.SourcePaths) != 1 {
		t.Fatalf("unexpected record: %+v", loaded)
	}
	if !loaded.StartedAt.Equal(sess.StartedAt) {
		t.Fatalf("started-at not preserved: %s", loaded.StartedAt)
	}

	if err := store.Remove(ctx, "c1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := store.Remove(ctx, "c1"); err != nil {
		t.Fatalf("remove absent: %v", err)
	}
	loaded, err = store.Load(ctx, "c1")
	if err != nil || loaded != nil {
		t.Fatalf("expected idle after remove, got %+v err=%v", loaded, err)
	}
}

func TestCloneIsDeep(t *testing.T) {
	t.Parallel()
	sess := New("c1", time.Now())
	sess.AddItem("s1")
	snap := sess.Clone()
	sess.AddItem("s2")
	sess.AddSourcePath("/x")
	if len(snap.Items) != 1 || len(snap.SourcePaths) != 0 {
		t.Fatalf("snapshot mutated through original: %+v", snap)
	}
}
