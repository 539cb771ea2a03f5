package push

import (
	"context"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// pubsubHub multiplexes every executor notification channel over a single
// shared Redis pub/sub connection, so the number of connected clusters
// never translates into a dedicated state-store connection per cluster
// (spec.md §4.3 "Concurrency": "Subscription fan-out must not require a
// dedicated state-store connection per cluster").
type pubsubHub struct {
	pubsub *redis.PubSub
	logger *slog.Logger

	mu   sync.Mutex
	subs map[string]map[chan *redis.Message]struct{}
}

// newPubSubHub opens the one shared subscription connection and starts the
// demux loop. The connection lives for ctx's lifetime; channels are
// subscribed and unsubscribed on it dynamically as streams come and go.
func newPubSubHub(ctx context.Context, rdb *redis.Client, logger *slog.Logger) *pubsubHub {
	h := &pubsubHub{
		pubsub: rdb.Subscribe(ctx),
		logger: logger,
		subs:   make(map[string]map[chan *redis.Message]struct{}),
	}
	go h.run()
	return h
}

// run demuxes incoming messages to every listener registered for their
// channel. It returns once the underlying pub/sub connection is closed.
func (h *pubsubHub) run() {
	for msg := range h.pubsub.Channel() {
		h.mu.Lock()
		for ch := range h.subs[msg.Channel] {
			select {
			case ch <- msg:
			default:
				h.logger.Warn("pubsub subscriber channel full, dropping notification", "channel", msg.Channel)
			}
		}
		h.mu.Unlock()
	}
}

// Subscribe registers a new listener on channel, issuing a Redis SUBSCRIBE
// on the shared connection only when channel gains its first listener. The
// returned func unregisters the listener and issues UNSUBSCRIBE once
// channel's last listener is gone.
func (h *pubsubHub) Subscribe(ctx context.Context, channel string) (<-chan *redis.Message, func()) {
	ch := make(chan *redis.Message, 4)

	h.mu.Lock()
	listeners, ok := h.subs[channel]
	if !ok {
		listeners = make(map[chan *redis.Message]struct{})
		h.subs[channel] = listeners
	}
	firstListener := len(listeners) == 0
	listeners[ch] = struct{}{}
	h.mu.Unlock()

	if firstListener {
		if err := h.pubsub.Subscribe(ctx, channel); err != nil {
			h.logger.Error("subscribing to pubsub channel", "channel", channel, "error", err)
		}
	}

	unsubscribe := func() {
		h.mu.Lock()
		delete(h.subs[channel], ch)
		lastListener := len(h.subs[channel]) == 0
		if lastListener {
			delete(h.subs, channel)
		}
		h.mu.Unlock()

		close(ch)
		if lastListener {
			if err := h.pubsub.Unsubscribe(context.Background(), channel); err != nil {
				h.logger.Error("unsubscribing from pubsub channel", "channel", channel, "error", err)
			}
		}
	}

	return ch, unsubscribe
}
