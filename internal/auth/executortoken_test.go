package auth

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestTokenRegistryIssueAndVerify(t *testing.T) {
	ctx := context.Background()
	reg := NewTokenRegistry(newTestRedis(t))

	token, err := reg.IssueToken(ctx, "kind", "")
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if len(token) == 0 {
		t.Fatal("expected non-empty token")
	}

	ok, err := reg.VerifyExecutor(ctx, "kind", token)
	if err != nil {
		t.Fatalf("VerifyExecutor: %v", err)
	}
	if !ok {
		t.Error("expected token to verify")
	}

	ok, err = reg.VerifyExecutor(ctx, "kind", "wrong-token")
	if err != nil {
		t.Fatalf("VerifyExecutor: %v", err)
	}
	if ok {
		t.Error("expected mismatched token to fail verification")
	}
}

func TestTokenRegistryIssueExistingFails(t *testing.T) {
	ctx := context.Background()
	reg := NewTokenRegistry(newTestRedis(t))

	if _, err := reg.IssueToken(ctx, "kind", ""); err != nil {
		t.Fatalf("first IssueToken: %v", err)
	}
	if _, err := reg.IssueToken(ctx, "kind", ""); err != ErrTokenExists {
		t.Errorf("second IssueToken error = %v, want ErrTokenExists", err)
	}

	if _, err := reg.IssueToken(ctx, "kind", "custom-token"); err != nil {
		t.Errorf("custom token override should succeed, got %v", err)
	}
}

func TestTokenRegistryRevoke(t *testing.T) {
	ctx := context.Background()
	reg := NewTokenRegistry(newTestRedis(t))

	token, _ := reg.IssueToken(ctx, "kind", "")

	if err := reg.RevokeToken(ctx, "kind"); err != nil {
		t.Fatalf("RevokeToken: %v", err)
	}

	ok, err := reg.VerifyExecutor(ctx, "kind", token)
	if err != nil {
		t.Fatalf("VerifyExecutor after revoke: %v", err)
	}
	if ok {
		t.Error("expected revoked token to fail verification")
	}

	if err := reg.RevokeToken(ctx, "kind"); err != ErrTokenNotFound {
		t.Errorf("revoking again should return ErrTokenNotFound, got %v", err)
	}
}

func TestTokenRegistryStaticFallback(t *testing.T) {
	ctx := context.Background()
	reg := NewTokenRegistry(newTestRedis(t))

	t.Setenv("AGENT_TOKEN_KIND", "static-fallback-token")

	ok, err := reg.VerifyExecutor(ctx, "kind", "static-fallback-token")
	if err != nil {
		t.Fatalf("VerifyExecutor: %v", err)
	}
	if !ok {
		t.Error("expected static fallback token to verify when no dynamic token exists")
	}
}
