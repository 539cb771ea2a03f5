package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRequireAuth(t *testing.T) {
	okHandler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	t.Run("rejects unauthenticated", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		w := httptest.NewRecorder()

		RequireAuth(okHandler).ServeHTTP(w, r)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})

	t.Run("passes authenticated", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		ctx := NewContext(r.Context(), &Identity{Subject: "admin", Method: MethodAPIKey})
		r = r.WithContext(ctx)
		w := httptest.NewRecorder()

		RequireAuth(okHandler).ServeHTTP(w, r)

		if w.Code != http.StatusOK {
			t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
		}
	})
}

func TestRequireAdmin(t *testing.T) {
	okHandler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	admins := map[string]struct{}{"admin": {}}

	t.Run("rejects unauthenticated", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/admin/agents/kind/token", nil)
		w := httptest.NewRecorder()

		RequireAdmin(admins)(okHandler).ServeHTTP(w, r)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})

	t.Run("rejects non-admin identity", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/admin/agents/kind/token", nil)
		ctx := NewContext(r.Context(), &Identity{Subject: "svc", Method: MethodAPIKey})
		r = r.WithContext(ctx)
		w := httptest.NewRecorder()

		RequireAdmin(admins)(okHandler).ServeHTTP(w, r)

		if w.Code != http.StatusForbidden {
			t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
		}
	})

	t.Run("passes admin identity", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/admin/agents/kind/token", nil)
		ctx := NewContext(r.Context(), &Identity{Subject: "admin", Method: MethodAPIKey})
		r = r.WithContext(ctx)
		w := httptest.NewRecorder()

		RequireAdmin(admins)(okHandler).ServeHTTP(w, r)

		if w.Code != http.StatusOK {
			t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
		}
	})
}
