// Package session implements the coordinator's time-bounded debugging
// contexts: sessions, the cluster-active marker, and the session's reverse
// mapping back to a cluster (spec.md §3 "Session", §4.2 "Session
// operations").
//
// The pipelined multi-key write pattern is grounded on
// wisbric-nightowl/pkg/escalation/engine.go's Redis usage and the core
// platform client in internal/platform/redis.go.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// TTL bounds for a session (spec.md §3 "Session... ttl_seconds").
const (
	MinTTLSeconds     = 60
	MaxTTLSeconds     = 3600
	DefaultTTLSeconds = 300
)

// ErrNotFound is returned by Get when the session does not exist (expired
// or never created).
var ErrNotFound = errors.New("session: not found")

// Session is a time-bounded debugging context scoped to one cluster
// (spec.md §3 "Session").
type Session struct {
	ID              string    `json:"session_id"`
	ClusterID       string    `json:"cluster_id"`
	UserID          string    `json:"user_id,omitempty"`
	ServiceIdentity string    `json:"service_identity,omitempty"`
	CorrelationID   string    `json:"correlation_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	LastActivity    time.Time `json:"last_activity"`
	CommandCount    int       `json:"command_count"`
	TTLSeconds      int       `json:"ttl_seconds"`
}

// Store implements session create/get/keep-alive/end over Redis. It owns
// three keys per session, always written and refreshed together: the
// session record, the cluster's active marker, and the cluster→session
// reverse mapping (spec.md §3 "Session... Invariant").
type Store struct {
	redis *redis.Client
}

// NewStore builds a session Store backed by the given Redis client.
func NewStore(rdb *redis.Client) *Store {
	return &Store{redis: rdb}
}

func sessionKey(id string) string       { return "session:" + id }
func activeMarkerKey(cluster string) string { return "cluster:active:" + cluster }
func reverseMapKey(cluster string) string   { return "cluster:session:" + cluster }

const liveSessionsKey = "sessions:active"

// CreateParams configures Create.
type CreateParams struct {
	ClusterID       string
	UserID          string
	ServiceIdentity string
	CorrelationID   string
	TTLSeconds      int
}

// Create allocates a random session id and writes the session record, the
// cluster-active marker, and the reverse mapping with the same TTL in one
// pipelined write, then adds the id to the live-sessions set.
func (s *Store) Create(ctx context.Context, p CreateParams) (*Session, error) {
	ttl := p.TTLSeconds
	switch {
	case ttl <= 0:
		ttl = DefaultTTLSeconds
	case ttl < MinTTLSeconds:
		ttl = MinTTLSeconds
	case ttl > MaxTTLSeconds:
		ttl = MaxTTLSeconds
	}

	id, err := generateID()
	if err != nil {
		return nil, fmt.Errorf("generating session id: %w", err)
	}

	now := time.Now().UTC()
	sess := &Session{
		ID:              id,
		ClusterID:       p.ClusterID,
		UserID:          p.UserID,
		ServiceIdentity: p.ServiceIdentity,
		CorrelationID:   p.CorrelationID,
		CreatedAt:       now,
		LastActivity:    now,
		CommandCount:    0,
		TTLSeconds:      ttl,
	}

	data, err := json.Marshal(sess)
	if err != nil {
		return nil, fmt.Errorf("marshaling session: %w", err)
	}

	ttlDur := time.Duration(ttl) * time.Second

	pipe := s.redis.TxPipeline()
	pipe.Set(ctx, sessionKey(id), data, ttlDur)
	pipe.Set(ctx, activeMarkerKey(p.ClusterID), id, ttlDur)
	pipe.Set(ctx, reverseMapKey(p.ClusterID), id, ttlDur)
	pipe.SAdd(ctx, liveSessionsKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	return sess, nil
}

// Get reads the session record, or ErrNotFound if it does not exist.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	data, err := s.redis.Get(ctx, sessionKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reading session: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("unmarshaling session: %w", err)
	}
	return &sess, nil
}

// IsClusterActive is a single-round-trip existence check on the cluster's
// active marker — the hot path executors poll frequently (spec.md §4.2
// "is_cluster_active").
func (s *Store) IsClusterActive(ctx context.Context, clusterID string) (bool, error) {
	n, err := s.redis.Exists(ctx, activeMarkerKey(clusterID)).Result()
	if err != nil {
		return false, fmt.Errorf("checking cluster active marker: %w", err)
	}
	return n > 0, nil
}

// KeepAlive re-reads the session, bumps last_activity and command_count,
// and re-writes all three keys with a fresh TTL (spec.md §4.2
// "keep_alive... Atomicity").
func (s *Store) KeepAlive(ctx context.Context, sessionID string) (*Session, error) {
	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	sess.LastActivity = time.Now().UTC()
	sess.CommandCount++

	data, err := json.Marshal(sess)
	if err != nil {
		return nil, fmt.Errorf("marshaling session: %w", err)
	}
	ttlDur := time.Duration(sess.TTLSeconds) * time.Second

	pipe := s.redis.TxPipeline()
	pipe.Set(ctx, sessionKey(sessionID), data, ttlDur)
	pipe.Expire(ctx, activeMarkerKey(sess.ClusterID), ttlDur)
	pipe.Expire(ctx, reverseMapKey(sess.ClusterID), ttlDur)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("refreshing session: %w", err)
	}

	return sess, nil
}

// End deletes the session, its cluster marker, and its reverse mapping,
// and removes it from the live-sessions set.
func (s *Store) End(ctx context.Context, sessionID string) error {
	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}

	pipe := s.redis.TxPipeline()
	pipe.Del(ctx, sessionKey(sessionID))
	pipe.Del(ctx, activeMarkerKey(sess.ClusterID))
	pipe.Del(ctx, reverseMapKey(sess.ClusterID))
	pipe.SRem(ctx, liveSessionsKey, sessionID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ending session: %w", err)
	}
	return nil
}

// CleanupExpired sweeps the live-sessions set and drops ids whose session
// record no longer exists (spec.md §4.2 "cleanup_expired").
func (s *Store) CleanupExpired(ctx context.Context) (int, error) {
	ids, err := s.redis.SMembers(ctx, liveSessionsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("listing live sessions: %w", err)
	}

	removed := 0
	for _, id := range ids {
		exists, err := s.redis.Exists(ctx, sessionKey(id)).Result()
		if err != nil {
			return removed, fmt.Errorf("checking session %s: %w", id, err)
		}
		if exists == 0 {
			if err := s.redis.SRem(ctx, liveSessionsKey, id).Err(); err != nil {
				return removed, fmt.Errorf("removing expired session %s: %w", id, err)
			}
			removed++
		}
	}
	return removed, nil
}

func generateID() (string, error) {
	buf := make([]byte, 16) // 128 bits, per spec.md §3 "session_id (random 128-bit)"
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
