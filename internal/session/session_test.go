package session

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewStore(rdb)
}

func TestCreateWritesAllThreeKeys(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	sess, err := s.Create(ctx, CreateParams{ClusterID: "kind", UserID: "u1"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if sess.ID == "" {
		t.Fatal("expected non-empty session id")
	}

	active, err := s.IsClusterActive(ctx, "kind")
	if err != nil {
		t.Fatalf("IsClusterActive: %v", err)
	}
	if !active {
		t.Error("expected cluster active marker to be set")
	}

	got, err := s.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ClusterID != "kind" {
		t.Errorf("ClusterID = %q, want kind", got.ClusterID)
	}

	mapped, err := s.redis.Get(ctx, reverseMapKey("kind")).Result()
	if err != nil {
		t.Fatalf("reading reverse mapping: %v", err)
	}
	if mapped != sess.ID {
		t.Errorf("reverse mapping = %q, want %q", mapped, sess.ID)
	}
}

func TestCreateClampsTTL(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	sess, err := s.Create(ctx, CreateParams{ClusterID: "kind", TTLSeconds: 10_000})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if sess.TTLSeconds != MaxTTLSeconds {
		t.Errorf("TTLSeconds = %d, want %d", sess.TTLSeconds, MaxTTLSeconds)
	}
}

func TestGetNotFound(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if _, err := s.Get(ctx, "does-not-exist"); err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestKeepAliveBumpsCommandCount(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	sess, _ := s.Create(ctx, CreateParams{ClusterID: "kind"})

	updated, err := s.KeepAlive(ctx, sess.ID)
	if err != nil {
		t.Fatalf("KeepAlive: %v", err)
	}
	if updated.CommandCount != 1 {
		t.Errorf("CommandCount = %d, want 1", updated.CommandCount)
	}

	updated, err = s.KeepAlive(ctx, sess.ID)
	if err != nil {
		t.Fatalf("KeepAlive: %v", err)
	}
	if updated.CommandCount != 2 {
		t.Errorf("CommandCount = %d, want 2", updated.CommandCount)
	}
}

func TestEndRemovesAllKeys(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	sess, _ := s.Create(ctx, CreateParams{ClusterID: "kind"})

	if err := s.End(ctx, sess.ID); err != nil {
		t.Fatalf("End: %v", err)
	}

	if _, err := s.Get(ctx, sess.ID); err != ErrNotFound {
		t.Errorf("Get after End: err = %v, want ErrNotFound", err)
	}

	active, err := s.IsClusterActive(ctx, "kind")
	if err != nil {
		t.Fatalf("IsClusterActive: %v", err)
	}
	if active {
		t.Error("expected cluster active marker removed after End")
	}

	n, err := s.redis.Exists(ctx, reverseMapKey("kind")).Result()
	if err != nil {
		t.Fatalf("checking reverse mapping: %v", err)
	}
	if n != 0 {
		t.Error("expected reverse mapping removed after End")
	}
}

func TestCleanupExpired(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	sess, _ := s.Create(ctx, CreateParams{ClusterID: "kind"})

	// Simulate the session record expiring without its set membership
	// being cleaned up (e.g. natural Redis TTL expiry).
	if err := s.redis.Del(ctx, sessionKey(sess.ID)).Err(); err != nil {
		t.Fatalf("Del: %v", err)
	}

	removed, err := s.CleanupExpired(ctx)
	if err != nil {
		t.Fatalf("CleanupExpired: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
}
