package push

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/kubently/kubently/internal/auth"
	"github.com/kubently/kubently/internal/queue"
	"github.com/kubently/kubently/pkg/command"
)

func newTestLongPoll(t *testing.T) (*LongPollHandler, *queue.Queue) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	q := queue.New(rdb, 0)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewLongPollHandler(q, logger), q
}

func withExecutor(r *http.Request, clusterID string) *http.Request {
	ctx := auth.NewContext(r.Context(), &auth.Identity{Subject: clusterID, Method: "executor_token", Permissions: "executor"})
	return r.WithContext(ctx)
}

func TestLongPollReturnsQueuedCommand(t *testing.T) {
	h, q := newTestLongPoll(t)
	id := uuid.NewString()
	if _, err := q.Push(context.Background(), command.Command{ID: id, ClusterID: "kind", Args: []string{"get", "pods"}}); err != nil {
		t.Fatalf("Push: %v", err)
	}

	r := withExecutor(httptest.NewRequest(http.MethodGet, "/agent/commands?wait=1", nil), "kind")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestLongPollNoCommandsReturns204(t *testing.T) {
	h, _ := newTestLongPoll(t)

	r := withExecutor(httptest.NewRequest(http.MethodGet, "/agent/commands?wait=0", nil), "kind")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", w.Code)
	}
}

func TestLongPollUnauthenticated(t *testing.T) {
	h, _ := newTestLongPoll(t)

	r := httptest.NewRequest(http.MethodGet, "/agent/commands", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestLongPollDeliversDuringWait(t *testing.T) {
	h, q := newTestLongPoll(t)
	id := uuid.NewString()

	go func() {
		time.Sleep(50 * time.Millisecond)
		_, _ = q.Push(context.Background(), command.Command{ID: id, ClusterID: "kind", Args: []string{"get", "pods"}})
	}()

	r := withExecutor(httptest.NewRequest(http.MethodGet, "/agent/commands?wait=2", nil), "kind")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}
