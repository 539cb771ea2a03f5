package auth

import (
	"context"
	"testing"
)

func TestIdentityContext(t *testing.T) {
	ctx := context.Background()

	if id := FromContext(ctx); id != nil {
		t.Fatalf("expected nil, got %+v", id)
	}

	identity := &Identity{Subject: "admin", Method: MethodAPIKey, Permissions: "service-account"}
	ctx = NewContext(ctx, identity)

	got := FromContext(ctx)
	if got == nil {
		t.Fatal("expected identity, got nil")
	}
	if got.Subject != "admin" {
		t.Errorf("Subject = %q, want %q", got.Subject, "admin")
	}
	if got.Method != MethodAPIKey {
		t.Errorf("Method = %q, want %q", got.Method, MethodAPIKey)
	}
}
