package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

// Middleware authenticates client requests and stores the resulting
// Identity in the request context.
//
// Precedence (spec.md §4.1 "Verify caller"): JWT first, then API-key
// fallback. On any failure — JWT validation fails, or OIDC isn't
// configured — authentication falls through to the next step rather than
// rejecting outright. A bearer token is also accepted as an API key
// (spec.md §6: "API keys may also be presented as Authorization: Bearer
// <key>"), so a bearer value that isn't a valid JWT still gets a shot at
// the X-API-Key check.
func Middleware(apiKeyAuth *APIKeyAuthenticator, oidcAuth *OIDCAuthenticator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var identity *Identity
			var bearerToken string

			if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
				bearerToken = strings.TrimSpace(authHeader[len("Bearer "):])
			}

			if bearerToken != "" && oidcAuth != nil {
				claims, err := oidcAuth.Authenticate(r.Context(), bearerToken)
				if err != nil {
					logger.Warn("jwt authentication failed, falling through to api key", "error", err)
				} else {
					subject := claims.Email
					if subject == "" {
						subject = claims.Subject
					}
					identity = &Identity{Subject: subject, Method: MethodOIDC, Permissions: "human-user"}
					logger.Debug("authenticated via jwt", "sub", claims.Subject)
				}
			}

			if identity == nil {
				rawKey := r.Header.Get("X-API-Key")
				if rawKey == "" {
					rawKey = bearerToken
				}
				if rawKey != "" {
					if svcID, ok := apiKeyAuth.Authenticate(rawKey); ok {
						identity = &Identity{Subject: svcID, Method: MethodAPIKey, Permissions: "service-account"}
						logger.Debug("authenticated via api key", "identity", svcID)
					}
				}
			}

			if identity == nil {
				respondErr(w, http.StatusUnauthorized, "unauthorized", "no valid authentication provided")
				return
			}

			ctx := NewContext(r.Context(), identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func respondErr(w http.ResponseWriter, status int, errStr, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   errStr,
		"message": message,
	})
}
