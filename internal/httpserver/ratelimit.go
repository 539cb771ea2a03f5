package httpserver

import (
	"sync"

	"golang.org/x/time/rate"
)

// dispatchLimiter throttles command dispatch per cluster so one noisy
// client cannot starve a cluster's queue or the executor behind it. Limiters
// are created lazily, one per cluster id, and never evicted — cluster ids
// are operator-provisioned and bounded in number, not user input.
type dispatchLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	perSec   float64
	burst    int
}

func newDispatchLimiter(perSec float64, burst int) *dispatchLimiter {
	return &dispatchLimiter{
		limiters: make(map[string]*rate.Limiter),
		perSec:   perSec,
		burst:    burst,
	}
}

// Allow reports whether a dispatch to clusterID may proceed now. A
// non-positive rate disables throttling entirely.
func (d *dispatchLimiter) Allow(clusterID string) bool {
	if d.perSec <= 0 || d.burst <= 0 {
		return true
	}

	d.mu.Lock()
	limiter, ok := d.limiters[clusterID]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(d.perSec), d.burst)
		d.limiters[clusterID] = limiter
	}
	d.mu.Unlock()

	return limiter.Allow()
}
