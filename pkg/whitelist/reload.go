package whitelist

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Handle is a hot-reloadable whitelist snapshot behind an atomic pointer
// (spec.md §9 "Hot-reloadable configuration... model it as an immutable
// value behind an atomic pointer/handle").
type Handle struct {
	path    string
	current atomic.Pointer[Snapshot]
	log     *slog.Logger
}

// NewHandle builds a Handle, performing one synchronous load. If the initial
// load fails, the handle falls back to DefaultSnapshot so the executor can
// still start (fail-safe to read-only, never fail-open).
func NewHandle(path string, log *slog.Logger) *Handle {
	h := &Handle{path: path, log: log}
	snap := DefaultSnapshot()
	if cfg, err := LoadFile(path); err != nil {
		log.Warn("whitelist: initial load failed, falling back to default readOnly snapshot", "path", path, "error", err)
	} else {
		snap = cfg.ToSnapshot()
	}
	h.current.Store(&snap)
	return h
}

// Snapshot returns the currently active configuration snapshot.
func (h *Handle) Snapshot() Snapshot {
	return *h.current.Load()
}

// Watch periodically reloads the whitelist file, swapping the atomic
// pointer on success. A failed reload (missing file, invalid JSON, failed
// validation) logs and keeps serving the last-known-good snapshot — it
// never reverts to DefaultSnapshot once a real config has loaded.
func (h *Handle) Watch(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultReloadIntervalSeconds * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.reloadOnce()
		}
	}
}

func (h *Handle) reloadOnce() {
	cfg, err := LoadFile(h.path)
	if err != nil {
		h.log.Warn("whitelist: reload failed, keeping previous snapshot", "path", h.path, "error", err)
		return
	}
	snap := cfg.ToSnapshot()
	prev := h.current.Swap(&snap)
	if prev == nil || prev.Mode != snap.Mode {
		h.log.Info("whitelist: snapshot updated", "path", h.path, "mode", snap.Mode)
	}
}
