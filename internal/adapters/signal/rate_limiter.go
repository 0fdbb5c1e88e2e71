package signal

import (
	"sync"
	"time"

	"github.com/nlazarev/visavis/internal/domain"
)

type FrameRateLimiter struct {
	mu       sync.Mutex
	history  map[domain.ID][]time.Time
	limit    int
	interval time.Duration
}

func NewFrameRateLimiter(limit int, interval time.Duration) *FrameRateLimiter {
	return &FrameRateLimiter{
		history:  make(map[domain.ID][]time.Time),
		limit:    limit,
		interval: interval,
	}
}

func (rl *FrameRateLimiter) Allow(id domain.ID) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-rl.interval)

	attempts := rl.history[id]
	fresh := make([]time.Time, 0, len(attempts))
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}

	if len(fresh) >= rl.limit {
		rl.history[id] = fresh
		return false
	}

	fresh = append(fresh, now)
	rl.history[id] = fresh
	return true
}

// Forget drops the history for a disconnected id.
func (rl *FrameRateLimiter) Forget(id domain.ID) {
	rl.mu.Lock()
	delete(rl.history, id)
	rl.mu.Unlock()
}
