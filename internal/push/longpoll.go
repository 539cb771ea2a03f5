package push

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/kubently/kubently/internal/auth"
	"github.com/kubently/kubently/internal/httpserver"
	"github.com/kubently/kubently/internal/queue"
	"github.com/kubently/kubently/internal/telemetry"
)

// DefaultLongPollTimeoutSeconds bounds the blocking wait when the caller
// does not specify one (spec.md §4.3 "long-poll fallback").
const DefaultLongPollTimeoutSeconds = 30

// MaxLongPollTimeoutSeconds caps the caller-supplied wait, independent of
// DefaultLongPollTimeoutSeconds (spec.md §4.3 "wait capped server-side").
const MaxLongPollTimeoutSeconds = 30

// LongPollHandler serves GET /agent/commands, the fallback path for
// executors that cannot hold an SSE connection open. It shares the same
// queue as the stream handler, so delivery stays exactly-once regardless
// of which path an executor uses.
type LongPollHandler struct {
	queue  *queue.Queue
	logger *slog.Logger
}

// NewLongPollHandler builds a LongPollHandler.
func NewLongPollHandler(q *queue.Queue, logger *slog.Logger) *LongPollHandler {
	return &LongPollHandler{queue: q, logger: logger}
}

type longPollResponse struct {
	Commands []any `json:"commands"`
}

// ServeHTTP blocks for up to `wait` seconds (query param; defaults to
// DefaultLongPollTimeoutSeconds, capped at MaxLongPollTimeoutSeconds)
// waiting for a command. With wait > 0 it returns 200 with at most one
// command; with wait=0 it returns, without blocking, up to the queue's
// maxPerFetch commands. It returns 204 when nothing was pulled (spec.md
// §4.3 "GET /agent/commands?wait=<seconds>").
func (h *LongPollHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity := auth.FromContext(r.Context())
	if identity == nil {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "executor authentication required")
		return
	}
	clusterID := identity.Subject

	wait := DefaultLongPollTimeoutSeconds
	if raw := r.URL.Query().Get("wait"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v >= 0 {
			wait = v
		}
	}
	if wait > MaxLongPollTimeoutSeconds {
		wait = MaxLongPollTimeoutSeconds
	}

	cmds, err := h.queue.Pull(r.Context(), clusterID, wait)
	if err != nil {
		h.logger.Error("long-poll pull", "cluster_id", clusterID, "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal", "failed to pull commands")
		return
	}

	if len(cmds) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	out := make([]any, len(cmds))
	for i, cmd := range cmds {
		out[i] = cmd
		telemetry.CommandsDeliveredTotal.WithLabelValues(clusterID, "longpoll").Inc()
	}

	httpserver.Respond(w, http.StatusOK, longPollResponse{Commands: out})
}
