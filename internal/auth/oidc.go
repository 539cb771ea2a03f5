package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/redis/go-redis/v9"
)

// ErrOIDCNotConfigured is returned (and always causes a deny) when a JWT is
// presented but no JWKS source is configured (spec.md §4.1: "if the JWKS
// source is not configured, JWT validation fails closed").
var ErrOIDCNotConfigured = errors.New("oidc: not configured")

// OIDCClaims are the JWT claims extracted for authentication (spec.md §4.1).
type OIDCClaims struct {
	Subject string `json:"sub"`
	Email   string `json:"email"`
}

// cacheTTL bounds how long a validated token's verdict is reused before the
// signature is re-checked (spec.md §3 "JWT validation cache... ≤ 5 min").
const cacheTTL = 5 * time.Minute

// OIDCAuthenticator validates OIDC JWTs against a JWKS URL and caches
// validation results in Redis, keyed by the token's SHA-256 digest so raw
// tokens are never persisted (spec.md §4.1, §9).
type OIDCAuthenticator struct {
	verifier *oidc.IDTokenVerifier
	redis    *redis.Client
	issuer   string
	audience string
}

// NewOIDCAuthenticator builds an authenticator from an explicit JWKS URI —
// it never performs discovery, so coordinator start never depends on the
// issuer's well-known endpoint being reachable at boot.
func NewOIDCAuthenticator(rdb *redis.Client, jwksURI, issuer, audience string) *OIDCAuthenticator {
	keySet := oidc.NewRemoteKeySet(context.Background(), jwksURI)
	verifier := oidc.NewVerifier(issuer, keySet, &oidc.Config{
		ClientID:          audience,
		SkipClientIDCheck: audience == "",
	})
	return &OIDCAuthenticator{verifier: verifier, redis: rdb, issuer: issuer, audience: audience}
}

// Authenticate validates a raw bearer token (without the "Bearer " prefix
// already stripped by the caller) and returns the extracted claims. A
// nil *OIDCAuthenticator always returns ErrOIDCNotConfigured, implementing
// the fail-closed rule regardless of call site.
func (a *OIDCAuthenticator) Authenticate(ctx context.Context, token string) (*OIDCClaims, error) {
	if a == nil {
		return nil, ErrOIDCNotConfigured
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("empty bearer token")
	}

	cacheKey := tokenCacheKey(token)
	if a.redis != nil {
		if cached, err := a.redis.Get(ctx, cacheKey).Result(); err == nil {
			var claims OIDCClaims
			if jsonErr := json.Unmarshal([]byte(cached), &claims); jsonErr == nil {
				return &claims, nil
			}
		}
	}

	idToken, err := a.verifier.Verify(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("verifying token: %w", err)
	}

	var claims OIDCClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("extracting claims: %w", err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("token missing sub claim")
	}

	if a.redis != nil {
		if data, err := json.Marshal(claims); err == nil {
			a.redis.Set(ctx, cacheKey, data, cacheTTL)
		}
	}

	return &claims, nil
}

func tokenCacheKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return "auth:jwtcache:" + hex.EncodeToString(sum[:])
}
