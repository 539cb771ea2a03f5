// Package audit implements the coordinator's audit trail: a bounded ring
// buffer in the state store (spec.md §3 "api:audit... ring buffer, trim to
// 10k"). The HTTP handlers append an entry for each accepted session,
// execute and executor-token action, and for a synchronous execute that
// times out. The authentication middlewares write no entries, so a
// rejected credential leaves no record here.
//
// The async buffered-writer shape (channel + periodic flush) is grounded on
// wisbric-nightowl/internal/audit/audit.go; the client-IP extraction helper
// is carried over verbatim in spirit.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Entry is a single audit record (spec.md §4.1 "timestamp, method,
// identity-or-partial-token-prefix, verdict, correlation id if present").
type Entry struct {
	Timestamp     time.Time `json:"timestamp"`
	Method        string    `json:"method"`
	Identity      string    `json:"identity"`
	Verdict       string    `json:"verdict"`
	Action        string    `json:"action"`
	ClusterID     string    `json:"cluster_id,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	IPAddress     string    `json:"ip_address,omitempty"`
}

const (
	auditKey      = "api:audit"
	auditMaxLen   = 10_000
	bufferSize    = 256
	flushInterval = 2 * time.Second
	flushBatch    = 32
)

// Writer is an async, buffered audit log writer. Entries are sent to an
// internal channel and flushed to the Redis ring buffer by a background
// goroutine so request handlers never block on audit persistence.
type Writer struct {
	redis   *redis.Client
	logger  *slog.Logger
	entries chan Entry
	wg      sync.WaitGroup
}

// NewWriter creates an audit Writer. Call Start to begin processing entries.
func NewWriter(rdb *redis.Client, logger *slog.Logger) *Writer {
	return &Writer{
		redis:   rdb,
		logger:  logger,
		entries: make(chan Entry, bufferSize),
	}
}

// Start launches the background goroutine that flushes audit entries to
// Redis and returns at once. The goroutine exits when the context is
// cancelled or Close is called, after flushing the entries already buffered.
func (w *Writer) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()
}

// Close waits for all pending entries to be flushed.
func (w *Writer) Close() {
	close(w.entries)
	w.wg.Wait()
}

// Log enqueues an audit entry for async writing. It never blocks the
// caller; if the buffer is full the entry is dropped and a warning is
// logged.
func (w *Writer) Log(entry Entry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	select {
	case w.entries <- entry:
	default:
		w.logger.Warn("audit log buffer full, dropping entry",
			"action", entry.Action, "verdict", entry.Verdict)
	}
}

// LogFromRequest is a convenience method that extracts the client IP and
// correlation id from the request, then enqueues the entry.
func (w *Writer) LogFromRequest(r *http.Request, method, identity, verdict, action string) {
	entry := Entry{
		Method:        method,
		Identity:      identity,
		Verdict:       verdict,
		Action:        action,
		CorrelationID: r.Header.Get("X-Correlation-ID"),
	}

	ip := clientIP(r)
	if ip.IsValid() {
		entry.IPAddress = ip.String()
	}

	w.Log(entry)
}

func (w *Writer) run(ctx context.Context) {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]Entry, 0, flushBatch)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		w.flush(batch)
		batch = batch[:0]
	}

	for {
		select {
		case entry, ok := <-w.entries:
			if !ok {
				flush()
				return
			}
			batch = append(batch, entry)
			if len(batch) >= flushBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			for {
				select {
				case entry, ok := <-w.entries:
					if !ok {
						flush()
						return
					}
					batch = append(batch, entry)
				default:
					flush()
					return
				}
			}
		}
	}
}

// flush appends a batch of entries to the api:audit ring buffer and trims
// it to auditMaxLen in the same pipeline.
func (w *Writer) flush(entries []Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pipe := w.redis.Pipeline()
	for _, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			w.logger.Error("marshaling audit entry", "error", err, "action", e.Action)
			continue
		}
		pipe.LPush(ctx, auditKey, data)
	}
	pipe.LTrim(ctx, auditKey, 0, auditMaxLen-1)

	if _, err := pipe.Exec(ctx); err != nil {
		w.logger.Error("flushing audit entries", "error", err, "count", len(entries))
	}
}

// Recent returns the most recent n audit entries, newest first.
func Recent(ctx context.Context, rdb *redis.Client, n int) ([]Entry, error) {
	if n <= 0 || n > auditMaxLen {
		n = auditMaxLen
	}
	raw, err := rdb.LRange(ctx, auditKey, 0, int64(n-1)).Result()
	if err != nil {
		return nil, err
	}

	out := make([]Entry, 0, len(raw))
	for _, r := range raw {
		var e Entry
		if err := json.Unmarshal([]byte(r), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// clientIP extracts the client IP address from the request, preferring
// X-Forwarded-For and X-Real-IP headers over RemoteAddr.
func clientIP(r *http.Request) netip.Addr {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.SplitN(xff, ",", 2)
		if addr, err := netip.ParseAddr(strings.TrimSpace(parts[0])); err == nil {
			return addr
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		if addr, err := netip.ParseAddr(strings.TrimSpace(xri)); err == nil {
			return addr
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	addr, _ := netip.ParseAddr(host)
	return addr
}
