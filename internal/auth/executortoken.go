package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrTokenExists is returned by IssueToken when a token is already stored
// for the cluster and no custom override was supplied (spec.md §4.1
// "Issue executor token... Idempotency").
var ErrTokenExists = errors.New("executor token already exists")

// ErrTokenNotFound is returned by RevokeToken when no token is stored for
// the cluster.
var ErrTokenNotFound = errors.New("executor token not found")

const tokenByteLength = 32 // 256 bits, per spec.md §4.1 "Issue executor token"

func executorTokenKey(clusterID string) string {
	return "executor:token:" + clusterID
}

func executorTokenCreatedKey(clusterID string) string {
	return "executor:token_created:" + clusterID
}

// TokenInfo is the non-secret view of an issued executor token returned by
// ListIssued — the token value itself is never exposed after issuance.
type TokenInfo struct {
	ClusterID string    `json:"cluster_id"`
	CreatedAt time.Time `json:"created_at"`
}

// TokenRegistry issues, revokes, and verifies per-cluster executor tokens
// stored in Redis under executor:token:{cluster_id}, with no TTL — rotation
// is replace-in-place (spec.md §3 "Executor token").
type TokenRegistry struct {
	redis *redis.Client
}

// NewTokenRegistry builds a TokenRegistry backed by the given Redis client.
func NewTokenRegistry(rdb *redis.Client) *TokenRegistry {
	return &TokenRegistry{redis: rdb}
}

// IssueToken generates (or accepts a caller-supplied) token for clusterID
// and stores it. It fails with ErrTokenExists if one is already stored,
// unless customToken is non-empty, which always overwrites.
func (r *TokenRegistry) IssueToken(ctx context.Context, clusterID, customToken string) (string, error) {
	key := executorTokenKey(clusterID)

	if customToken == "" {
		exists, err := r.redis.Exists(ctx, key).Result()
		if err != nil {
			return "", fmt.Errorf("checking existing token: %w", err)
		}
		if exists > 0 {
			return "", ErrTokenExists
		}
	}

	token := customToken
	if token == "" {
		var err error
		token, err = generateToken()
		if err != nil {
			return "", fmt.Errorf("generating token: %w", err)
		}
	}

	if err := r.redis.Set(ctx, key, token, 0).Err(); err != nil {
		return "", fmt.Errorf("storing executor token: %w", err)
	}
	if err := r.redis.Set(ctx, executorTokenCreatedKey(clusterID), time.Now().UTC().Format(time.RFC3339), 0).Err(); err != nil {
		return "", fmt.Errorf("storing executor token metadata: %w", err)
	}
	return token, nil
}

// RevokeToken deletes the stored token and its metadata for clusterID.
func (r *TokenRegistry) RevokeToken(ctx context.Context, clusterID string) error {
	n, err := r.redis.Del(ctx, executorTokenKey(clusterID)).Result()
	if err != nil {
		return fmt.Errorf("revoking executor token: %w", err)
	}
	if n == 0 {
		return ErrTokenNotFound
	}
	r.redis.Del(ctx, executorTokenCreatedKey(clusterID))
	return nil
}

// ListIssued enumerates clusters with an issued executor token (cluster id
// and issuance time only — the token value itself is never exposed after
// issuance).
func (r *TokenRegistry) ListIssued(ctx context.Context) ([]TokenInfo, error) {
	var out []TokenInfo
	iter := r.redis.Scan(ctx, 0, "executor:token:*", 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		clusterID := strings.TrimPrefix(key, "executor:token:")

		created := time.Time{}
		if raw, err := r.redis.Get(ctx, executorTokenCreatedKey(clusterID)).Result(); err == nil {
			created, _ = time.Parse(time.RFC3339, raw)
		}
		out = append(out, TokenInfo{ClusterID: clusterID, CreatedAt: created})
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("listing executor tokens: %w", err)
	}
	return out, nil
}

// VerifyExecutor checks a presented bearer token for clusterID against the
// dynamic registry, falling back to a static AGENT_TOKEN_<CLUSTER>
// environment variable only when no dynamic token exists (spec.md §4.1
// "Executor authentication"). Comparison is constant-time.
func (r *TokenRegistry) VerifyExecutor(ctx context.Context, clusterID, presented string) (bool, error) {
	if presented == "" || clusterID == "" {
		return false, nil
	}

	stored, err := r.redis.Get(ctx, executorTokenKey(clusterID)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			return false, fmt.Errorf("loading executor token: %w", err)
		}
		stored = staticFallbackToken(clusterID)
		if stored == "" {
			return false, nil
		}
	}

	return subtle.ConstantTimeCompare([]byte(stored), []byte(presented)) == 1, nil
}

func staticFallbackToken(clusterID string) string {
	return os.Getenv("AGENT_TOKEN_" + envSafeClusterID(clusterID))
}

func envSafeClusterID(clusterID string) string {
	out := make([]rune, 0, len(clusterID))
	for _, r := range clusterID {
		switch {
		case r >= 'a' && r <= 'z':
			out = append(out, r-('a'-'A'))
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}

func generateToken() (string, error) {
	buf := make([]byte, tokenByteLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
