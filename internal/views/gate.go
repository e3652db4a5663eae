package views

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Gate admits at most one refetch per interval. Forced refetches always pass
// and restart the interval.
type Gate struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	now     func() time.Time
}

func NewGate(interval time.Duration, now func() time.Time) *Gate {
	if now == nil {
		now = time.Now
	}
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &Gate{limiter: rate.NewLimiter(limit, 1), now: now}
}

func (g *Gate) Allow(force bool) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if g.limiter.AllowN(now, 1) {
		return true
	}
	if !force {
		return false
	}
	g.limiter = rate.NewLimiter(g.limiter.Limit(), 1)
	g.limiter.AllowN(now, 1)
	return true
}
