package auth

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestExecutorMiddleware(t *testing.T) {
	ctx := context.Background()
	reg := NewTokenRegistry(newTestRedis(t))
	token, err := reg.IssueToken(ctx, "kind", "")
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	var gotIdentity *Identity
	okHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotIdentity = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	mw := ExecutorMiddleware(reg, logger)

	t.Run("rejects missing headers", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/executor/stream", nil)
		w := httptest.NewRecorder()
		mw(okHandler).ServeHTTP(w, r)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})

	t.Run("rejects invalid token", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/executor/stream", nil)
		r.Header.Set("X-Cluster-ID", "kind")
		r.Header.Set("Authorization", "Bearer wrong")
		w := httptest.NewRecorder()
		mw(okHandler).ServeHTTP(w, r)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})

	t.Run("accepts valid token", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/executor/stream", nil)
		r.Header.Set("X-Cluster-ID", "kind")
		r.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		mw(okHandler).ServeHTTP(w, r)
		if w.Code != http.StatusOK {
			t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
		}
		if gotIdentity == nil || gotIdentity.Subject != "kind" {
			t.Errorf("identity = %+v, want Subject=kind", gotIdentity)
		}
	})
}
