package auth

import (
	"encoding/json"
	"net/http"
)

// RequireAuth rejects requests that have no authenticated identity.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if FromContext(r.Context()) == nil {
			respondErr(w, http.StatusUnauthorized, "unauthorized", "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin returns middleware that rejects requests whose identity is
// not in the configured admin set (spec.md §6 "Admin: issue / revoke
// executor token", §7 "Authorization — caller valid but lacks permission").
//
// admins holds the Subject values (the identity half of an "identity:key"
// API key entry) permitted to call admin endpoints.
func RequireAdmin(admins map[string]struct{}) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := FromContext(r.Context())
			if id == nil {
				respondErr(w, http.StatusUnauthorized, "unauthorized", "authentication required")
				return
			}
			if _, ok := admins[id.Subject]; !ok {
				respondForbidden(w, "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func respondForbidden(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   "forbidden",
		"message": message,
	})
}
