// Package push implements the coordinator's executor-facing delivery
// fabric: a long-lived SSE stream as the primary path and a long-poll
// fallback sharing the same queue (spec.md §4.3 "Push fabric").
package push

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kubently/kubently/internal/auth"
	"github.com/kubently/kubently/internal/httpserver"
	"github.com/kubently/kubently/internal/queue"
	"github.com/kubently/kubently/internal/telemetry"
)

func notifyChannel(clusterID string) string { return "executor:commands:" + clusterID }

// DefaultPingInterval keeps intermediate proxies from killing idle
// connections (spec.md §4.3 "Steady state... ping event every 15s").
const DefaultPingInterval = 15 * time.Second

// Handler serves the executor SSE stream.
type Handler struct {
	hub          *pubsubHub
	queue        *queue.Queue
	logger       *slog.Logger
	pingInterval time.Duration
}

// NewHandler builds a stream Handler backed by one shared Redis pub/sub
// connection (see pubsubHub), multiplexed by channel across every connected
// cluster so connection count never scales with cluster count (spec.md
// §4.3 "Concurrency"). ctx bounds the shared connection's lifetime.
// pingInterval defaults to DefaultPingInterval when zero.
func NewHandler(ctx context.Context, rdb *redis.Client, q *queue.Queue, logger *slog.Logger, pingInterval time.Duration) *Handler {
	if pingInterval <= 0 {
		pingInterval = DefaultPingInterval
	}
	return &Handler{hub: newPubSubHub(ctx, rdb, logger), queue: q, logger: logger, pingInterval: pingInterval}
}

type streamEvent struct {
	kind string
	data any
}

// ServeHTTP implements the /executor/stream endpoint. It assumes
// auth.ExecutorMiddleware has already validated the cluster token and
// populated the request context's Identity (spec.md §4.3 "Connection
// setup").
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity := auth.FromContext(r.Context())
	if identity == nil {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "executor authentication required")
		return
	}
	clusterID := identity.Subject

	flusher, ok := w.(http.Flusher)
	if !ok {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal", "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	telemetry.ExecutorStreamsActive.Inc()
	defer telemetry.ExecutorStreamsActive.Dec()

	ctx := r.Context()
	notifyCh, unsubscribe := h.hub.Subscribe(ctx, notifyChannel(clusterID))
	defer unsubscribe()

	events := make(chan streamEvent, 16)
	done := make(chan struct{})
	go h.pump(ctx, clusterID, notifyCh, events, done)
	defer close(done)

	// Drain any already-queued commands first, closing the race where a
	// command was pushed just before the stream came up.
	if cmds, err := h.queue.Pull(ctx, clusterID, 0); err != nil {
		h.logger.Error("draining queue on stream connect", "cluster_id", clusterID, "error", err)
	} else {
		for _, cmd := range cmds {
			writeEvent(w, "command", cmd)
			telemetry.CommandsDeliveredTotal.WithLabelValues(clusterID, "stream").Inc()
		}
	}

	writeEvent(w, "connected", map[string]any{"heartbeat_id": time.Now().UnixNano()})
	flusher.Flush()

	pingTicker := time.NewTicker(h.pingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-pingTicker.C:
			writeEvent(w, "ping", map[string]any{"time": time.Now().UTC()})
			flusher.Flush()
		case ev, ok := <-events:
			if !ok {
				return
			}
			writeEvent(w, ev.kind, ev.data)
			flusher.Flush()
		}
	}
}

// pump blocks on the cluster's notification channel and, on each
// notification, pulls (blocking up to one second) and forwards at most one
// command (spec.md §4.3
// "Steady state... pull the queue (blocking, 1s)").
func (h *Handler) pump(ctx context.Context, clusterID string, notifyCh <-chan *redis.Message, out chan<- streamEvent, done <-chan struct{}) {
	defer close(out)
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-notifyCh:
			cmds, err := h.queue.Pull(ctx, clusterID, 1)
			if err != nil {
				h.logger.Error("pulling queue after notification", "cluster_id", clusterID, "error", err)
				if !h.send(out, done, streamEvent{kind: "error", data: map[string]string{"message": "internal error pulling commands"}}) {
					return
				}
				continue
			}
			for _, cmd := range cmds {
				telemetry.CommandsDeliveredTotal.WithLabelValues(clusterID, "stream").Inc()
				if !h.send(out, done, streamEvent{kind: "command", data: cmd}) {
					return
				}
			}
		}
	}
}

// send forwards ev to out, but gives up after one ping interval so a
// stalled writer (client congestion) does not block the subscription loop
// indefinitely (spec.md §4.3 "Backpressure").
func (h *Handler) send(out chan<- streamEvent, done <-chan struct{}, ev streamEvent) bool {
	timer := time.NewTimer(h.pingInterval)
	defer timer.Stop()
	select {
	case out <- ev:
		return true
	case <-done:
		return false
	case <-timer.C:
		h.logger.Warn("executor stream writer stalled, dropping connection")
		return false
	}
}

func writeEvent(w http.ResponseWriter, kind string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		payload = []byte(`{}`)
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", kind, payload)
}
