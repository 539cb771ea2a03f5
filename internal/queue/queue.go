// Package queue implements the coordinator's per-cluster command queue and
// result channel: push, pull, store_result, wait_for_result, queue_depth
// (spec.md §4.2 "Queue operations"). Delivery is exactly-once via Redis's
// atomic list pop; notification uses per-command pub/sub channels.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/kubently/kubently/pkg/command"
)

// TTLs and batch sizing (spec.md §3 "state layout", §4.2).
const (
	QueueTTL           = 5 * time.Minute
	ResultTTL          = 60 * time.Second
	TrackingTTL        = 60 * time.Second
	DefaultMaxPerFetch = 10
)

// Backoff parameters for wait_for_result polling (spec.md §4.2
// "wait_for_result").
const (
	backoffStart = 100 * time.Millisecond
	backoffMul   = 1.5
	backoffCap   = 1 * time.Second
)

func queueKey(clusterID string) string      { return "queue:commands:" + clusterID }
func resultKey(commandID string) string     { return "result:" + commandID }
func trackingKey(commandID string) string   { return "command:tracking:" + commandID }
func resultChannel(commandID string) string { return "result:ready:" + commandID }

// Queue implements the per-cluster FIFO command queue and result exchange.
type Queue struct {
	redis       *redis.Client
	maxPerFetch int
}

// New builds a Queue. maxPerFetch bounds non-blocking batch pulls
// (spec.md §4.2 "pull... N = configured max_commands_per_fetch").
func New(rdb *redis.Client, maxPerFetch int) *Queue {
	if maxPerFetch <= 0 {
		maxPerFetch = DefaultMaxPerFetch
	}
	return &Queue{redis: rdb, maxPerFetch: maxPerFetch}
}

// Push assigns an id if absent, stamps queued_at, left-pushes the
// serialized command, refreshes the queue's TTL, and writes a short-lived
// tracking record (spec.md §4.2 "push").
func (q *Queue) Push(ctx context.Context, cmd command.Command) (string, error) {
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	cmd.QueuedAt = time.Now().UTC()
	cmd.NormalizeTimeout()

	data, err := json.Marshal(cmd)
	if err != nil {
		return "", fmt.Errorf("marshaling command: %w", err)
	}

	tracking := command.Tracking{ClusterID: cmd.ClusterID, QueuedAt: cmd.QueuedAt}
	trackingData, err := json.Marshal(tracking)
	if err != nil {
		return "", fmt.Errorf("marshaling tracking record: %w", err)
	}

	pipe := q.redis.TxPipeline()
	pipe.LPush(ctx, queueKey(cmd.ClusterID), data)
	pipe.Expire(ctx, queueKey(cmd.ClusterID), QueueTTL)
	pipe.Set(ctx, trackingKey(cmd.ID), trackingData, TrackingTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("pushing command: %w", err)
	}

	return cmd.ID, nil
}

// Pull retrieves commands for a cluster. If waitSeconds > 0, it performs one
// blocking right-pop with that timeout and returns at most one command. If
// waitSeconds == 0, it performs up to maxPerFetch non-blocking right-pops
// (spec.md §4.2 "pull").
func (q *Queue) Pull(ctx context.Context, clusterID string, waitSeconds int) ([]command.Command, error) {
	if waitSeconds > 0 {
		res, err := q.redis.BRPop(ctx, time.Duration(waitSeconds)*time.Second, queueKey(clusterID)).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return nil, nil
			}
			return nil, fmt.Errorf("blocking pop: %w", err)
		}
		// res[0] is the key name, res[1] is the value.
		cmd, err := decodeCommand(res[1])
		if err != nil {
			return nil, err
		}
		return []command.Command{cmd}, nil
	}

	var out []command.Command
	for i := 0; i < q.maxPerFetch; i++ {
		val, err := q.redis.RPop(ctx, queueKey(clusterID)).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				break
			}
			return out, fmt.Errorf("non-blocking pop: %w", err)
		}
		cmd, err := decodeCommand(val)
		if err != nil {
			return out, err
		}
		out = append(out, cmd)
	}
	return out, nil
}

func decodeCommand(raw string) (command.Command, error) {
	var cmd command.Command
	if err := json.Unmarshal([]byte(raw), &cmd); err != nil {
		return command.Command{}, fmt.Errorf("decoding queued command: %w", err)
	}
	return cmd, nil
}

// StoreResult serializes and writes result under its command id with a
// bounded TTL, then publishes a notification on the per-id channel
// (spec.md §4.2 "store_result").
func (q *Queue) StoreResult(ctx context.Context, result command.Result) error {
	result.StoredAt = time.Now().UTC()

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshaling result: %w", err)
	}

	pipe := q.redis.TxPipeline()
	pipe.Set(ctx, resultKey(result.CommandID), data, ResultTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("storing result: %w", err)
	}

	q.redis.Publish(ctx, resultChannel(result.CommandID), "ready")
	return nil
}

// Tracking returns the tracking record for a command id, if it still
// exists.
func (q *Queue) Tracking(ctx context.Context, commandID string) (*command.Tracking, error) {
	data, err := q.redis.Get(ctx, trackingKey(commandID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading tracking record: %w", err)
	}
	var t command.Tracking
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("unmarshaling tracking record: %w", err)
	}
	return &t, nil
}

// WaitForResult checks for immediate availability; if absent, it subscribes
// to the per-id channel before a final re-check to close the race, then
// polls in bounded exponential backoff until notified or timeout
// (spec.md §4.2 "wait_for_result").
func (q *Queue) WaitForResult(ctx context.Context, commandID string, timeout time.Duration) (*command.Result, error) {
	if result, err := q.getResult(ctx, commandID); err != nil {
		return nil, err
	} else if result != nil {
		return result, nil
	}

	sub := q.redis.Subscribe(ctx, resultChannel(commandID))
	defer sub.Close()

	// Close the race: a result may have been stored between the first
	// check and the subscription taking effect.
	if result, err := q.getResult(ctx, commandID); err != nil {
		return nil, err
	} else if result != nil {
		return result, nil
	}

	deadline := time.Now().Add(timeout)
	notifyCh := sub.Channel()
	backoff := backoffStart

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}

		waitFor := backoff
		if waitFor > remaining {
			waitFor = remaining
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-notifyCh:
			if result, err := q.getResult(ctx, commandID); err != nil {
				return nil, err
			} else if result != nil {
				return result, nil
			}
		case <-time.After(waitFor):
			if result, err := q.getResult(ctx, commandID); err != nil {
				return nil, err
			} else if result != nil {
				return result, nil
			}
		}

		backoff = time.Duration(math.Min(float64(backoff)*backoffMul, float64(backoffCap)))
	}
}

func (q *Queue) getResult(ctx context.Context, commandID string) (*command.Result, error) {
	data, err := q.redis.Get(ctx, resultKey(commandID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading result: %w", err)
	}
	var result command.Result
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("unmarshaling result: %w", err)
	}
	return &result, nil
}

// QueueDepth returns the number of pending commands for a cluster
// (spec.md §4.2 "queue_depth").
func (q *Queue) QueueDepth(ctx context.Context, clusterID string) (int64, error) {
	n, err := q.redis.LLen(ctx, queueKey(clusterID)).Result()
	if err != nil {
		return 0, fmt.Errorf("reading queue depth: %w", err)
	}
	return n, nil
}
