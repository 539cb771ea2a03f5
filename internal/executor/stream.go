package executor

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/kubently/kubently/pkg/command"
)

// Backoff bounds for stream reconnection (spec.md §4.4 step 3 "exponential
// backoff (min 1s, cap 60s, jitter)").
const (
	streamBackoffMin = 1 * time.Second
	streamBackoffCap = 60 * time.Second
)

// StreamReceiver maintains the executor's SSE connection to the
// coordinator, dispatching each `command` event to the worker pool and
// reconnecting with exponential backoff on disconnect (spec.md §4.4
// "Stream receiver loop").
type StreamReceiver struct {
	baseURL    string
	clusterID  string
	token      string
	httpClient *http.Client
	pool       *Pool
	logger     *slog.Logger
}

// NewStreamReceiver builds a StreamReceiver. httpClient should have no
// read timeout (the stream is intentionally long-lived).
func NewStreamReceiver(baseURL, clusterID, token string, httpClient *http.Client, pool *Pool, logger *slog.Logger) *StreamReceiver {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &StreamReceiver{
		baseURL:    strings.TrimRight(baseURL, "/"),
		clusterID:  clusterID,
		token:      token,
		httpClient: httpClient,
		pool:       pool,
		logger:     logger,
	}
}

// Run connects and reconnects until ctx is cancelled.
func (s *StreamReceiver) Run(ctx context.Context) {
	backoff := streamBackoffMin
	for {
		if ctx.Err() != nil {
			return
		}

		err := s.connectOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			s.logger.Warn("executor stream disconnected, reconnecting", "cluster_id", s.clusterID, "error", err, "backoff", backoff)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(jitter(backoff)):
		}

		backoff *= 2
		if backoff > streamBackoffCap {
			backoff = streamBackoffCap
		}
	}
}

func jitter(d time.Duration) time.Duration {
	// +/- 20% jitter to avoid a reconnect thundering herd.
	delta := time.Duration(rand.Int64N(int64(d) / 5))
	if rand.IntN(2) == 0 {
		return d - delta
	}
	return d + delta
}

func (s *StreamReceiver) connectOnce(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/executor/stream", nil)
	if err != nil {
		return fmt.Errorf("creating stream request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("X-Cluster-ID", s.clusterID)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("opening stream: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stream returned status %d", resp.StatusCode)
	}

	// readEvents returns nil only when ctx ends; a scan error or the
	// coordinator closing the stream comes back as an error. Run does not
	// reset its backoff after a successful connect: each reconnect doubles
	// the previous wait, up to streamBackoffCap.
	return s.readEvents(ctx, resp.Body)
}

func (s *StreamReceiver) readEvents(ctx context.Context, body io.Reader) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var eventKind string
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}

		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			eventKind = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data := strings.TrimPrefix(line, "data: ")
			s.handleEvent(ctx, eventKind, data)
		case line == "":
			eventKind = ""
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading stream: %w", err)
	}
	return fmt.Errorf("stream closed by coordinator")
}

func (s *StreamReceiver) handleEvent(ctx context.Context, kind, data string) {
	switch kind {
	case "command":
		var cmd command.Command
		if err := json.Unmarshal([]byte(data), &cmd); err != nil {
			s.logger.Error("decoding command event", "error", err)
			return
		}
		s.pool.Dispatch(ctx, cmd)
	case "ping", "connected":
		// no action required; presence of traffic keeps the connection alive
	case "error":
		s.logger.Warn("stream error event", "data", data)
	}
}
