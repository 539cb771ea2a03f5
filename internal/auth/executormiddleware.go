package auth

import (
	"log/slog"
	"net/http"
	"strings"
)

// MethodExecutorToken marks an Identity established by cluster token auth.
const MethodExecutorToken = "executor_token"

// ExecutorMiddleware authenticates executor connections: a bearer token
// plus an `X-Cluster-ID` header, verified against the token registry
// (spec.md §4.1 "Executor authentication"). On success the Identity's
// Subject is the cluster id.
func ExecutorMiddleware(tokens *TokenRegistry, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clusterID := r.Header.Get("X-Cluster-ID")
			authHeader := r.Header.Get("Authorization")

			if clusterID == "" || !strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
				respondErr(w, http.StatusUnauthorized, "unauthorized", "missing executor credentials")
				return
			}
			token := strings.TrimSpace(authHeader[len("Bearer "):])

			ok, err := tokens.VerifyExecutor(r.Context(), clusterID, token)
			if err != nil {
				logger.Error("executor token verification failed", "cluster_id", clusterID, "error", err)
				respondErr(w, http.StatusUnauthorized, "unauthorized", "invalid executor credentials")
				return
			}
			if !ok {
				logger.Warn("executor token rejected", "cluster_id", clusterID)
				respondErr(w, http.StatusUnauthorized, "unauthorized", "invalid executor credentials")
				return
			}

			identity := &Identity{Subject: clusterID, Method: MethodExecutorToken, Permissions: "executor"}
			ctx := NewContext(r.Context(), identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
