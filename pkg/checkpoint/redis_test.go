package checkpoint

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupMiniredis(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()

	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	store := NewRedisStoreFromClient(client, "test:", 0)

	t.Cleanup(func() {
		_ = store.Close()
	})

	return mr, store
}

func TestRedisStore_PutAndLatest(t *testing.T) {
	_, store := setupMiniredis(t)
	ctx := context.Background()

	mustPut(t, store, "sess-1", 1, "first")
	mustPut(t, store, "sess-1", 2, "second")

	latest, err := store.Latest(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if latest.Seq != 2 {
		t.Errorf("latest seq: got %d, want 2", latest.Seq)
	}
	if string(latest.Snapshot) != "second" {
		t.Errorf("latest snapshot: got %q, want %q", latest.Snapshot, "second")
	}
	if latest.SessionID != "sess-1" {
		t.Errorf("session id: got %s, want sess-1", latest.SessionID)
	}
}

func TestRedisStore_LatestNotFound(t *testing.T) {
	_, store := setupMiniredis(t)

	_, err := store.Latest(context.Background(), "nonexistent")
	if !errors.Is(err, ErrCheckpointNotFound) {
		t.Errorf("expected ErrCheckpointNotFound, got %v", err)
	}
}

func TestRedisStore_GetBySeq(t *testing.T) {
	_, store := setupMiniredis(t)
	ctx := context.Background()

	mustPut(t, store, "sess-1", 1, "first")
	mustPut(t, store, "sess-1", 2, "second")

	cp, err := store.Get(ctx, "sess-1", 1)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(cp.Snapshot) != "first" {
		t.Errorf("snapshot: got %q, want %q", cp.Snapshot, "first")
	}

	if _, err := store.Get(ctx, "sess-1", 42); !errors.Is(err, ErrCheckpointNotFound) {
		t.Errorf("expected ErrCheckpointNotFound, got %v", err)
	}
}

func TestRedisStore_ListAscending(t *testing.T) {
	_, store := setupMiniredis(t)
	ctx := context.Background()

	mustPut(t, store, "sess-1", 3, "c")
	mustPut(t, store, "sess-1", 1, "a")
	mustPut(t, store, "sess-1", 2, "b")

	seqs, err := store.List(ctx, "sess-1")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	want := []int64{1, 2, 3}
	if len(seqs) != len(want) {
		t.Fatalf("seq count: got %d, want %d", len(seqs), len(want))
	}
	for i := range want {
		if seqs[i] != want[i] {
			t.Errorf("seqs[%d]: got %d, want %d", i, seqs[i], want[i])
		}
	}
}

func TestRedisStore_SessionsAndDelete(t *testing.T) {
	_, store := setupMiniredis(t)
	ctx := context.Background()

	mustPut(t, store, "sess-b", 1, "b")
	mustPut(t, store, "sess-a", 1, "a")

	ids, err := store.Sessions(ctx)
	if err != nil {
		t.Fatalf("Sessions failed: %v", err)
	}
	if len(ids) != 2 || ids[0] != "sess-a" || ids[1] != "sess-b" {
		t.Errorf("sessions: got %v, want [sess-a sess-b]", ids)
	}

	if err := store.DeleteSession(ctx, "sess-a"); err != nil {
		t.Fatalf("DeleteSession failed: %v", err)
	}

	if _, err := store.Latest(ctx, "sess-a"); !errors.Is(err, ErrCheckpointNotFound) {
		t.Errorf("expected ErrCheckpointNotFound after delete, got %v", err)
	}

	ids, err = store.Sessions(ctx)
	if err != nil {
		t.Fatalf("Sessions after delete failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != "sess-b" {
		t.Errorf("sessions after delete: got %v, want [sess-b]", ids)
	}
}

func TestRedisStore_ReplaceSameSeq(t *testing.T) {
	_, store := setupMiniredis(t)
	ctx := context.Background()

	mustPut(t, store, "sess-1", 1, "original")
	mustPut(t, store, "sess-1", 1, "retried")

	cp, err := store.Get(ctx, "sess-1", 1)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(cp.Snapshot) != "retried" {
		t.Errorf("snapshot after replace: got %q, want %q", cp.Snapshot, "retried")
	}

	seqs, err := store.List(ctx, "sess-1")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(seqs) != 1 {
		t.Errorf("seq count after replace: got %d, want 1", len(seqs))
	}
}

func TestRedisStore_TTLApplied(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStoreFromClient(client, "test:", time.Hour)
	defer func() { _ = store.Close() }()

	mustPut(t, store, "sess-1", 1, "one")

	if ttl := mr.TTL("test:cp:sess-1:1"); ttl != time.Hour {
		t.Errorf("checkpoint key TTL: got %v, want %v", ttl, time.Hour)
	}
	if ttl := mr.TTL("test:seqs:sess-1"); ttl != time.Hour {
		t.Errorf("seqs key TTL: got %v, want %v", ttl, time.Hour)
	}
}

func TestRedisStore_ClosedOperationsFail(t *testing.T) {
	_, store := setupMiniredis(t)
	ctx := context.Background()

	mustPut(t, store, "sess-1", 1, "one")
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if err := store.Put(ctx, &Checkpoint{SessionID: "sess-1", Seq: 2, Snapshot: []byte("x")}); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("Put after close: got %v, want ErrStoreClosed", err)
	}
	if err := store.Ping(ctx); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("Ping after close: got %v, want ErrStoreClosed", err)
	}
}

func TestRedisStore_DefaultPrefix(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStoreFromClient(client, "", 0)
	defer func() { _ = store.Close() }()

	mustPut(t, store, "sess-1", 1, "one")

	if !mr.Exists("engram:cp:sess-1:1") {
		t.Error("expected default engram: prefix on checkpoint key")
	}
}
