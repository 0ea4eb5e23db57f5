package video

import (
	"sync"
	"time"

	"github.com/dkeye/PetCam/internal/domain"
)

// FrameRateLimiter admits at most one frame per slot for each connection.
// Slots advance by a fixed interval from the previous slot, so a steady
// sender keeps the full rate; after a pause the schedule restarts at the
// current frame and no burst is allowed. Early frames are rejected, never
// delayed.
type FrameRateLimiter struct {
	mu       sync.Mutex
	next     map[domain.ConnID]time.Time
	interval time.Duration
	now      func() time.Time
}

// NewFrameRateLimiter returns a limiter for maxFPS frames per second. A nil
// clock means time.Now.
func NewFrameRateLimiter(maxFPS int, now func() time.Time) *FrameRateLimiter {
	if now == nil {
		now = time.Now
	}
	var interval time.Duration
	if maxFPS > 0 {
		interval = time.Duration(float64(time.Second) / float64(maxFPS))
	}
	return &FrameRateLimiter{
		next:     make(map[domain.ConnID]time.Time),
		interval: interval,
		now:      now,
	}
}

func (rl *FrameRateLimiter) Allow(conn domain.ConnID) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	next, ok := rl.next[conn]
	if ok && now.Before(next) {
		return false
	}
	if ok && now.Sub(next) < rl.interval {
		rl.next[conn] = next.Add(rl.interval)
	} else {
		rl.next[conn] = now.Add(rl.interval)
	}
	return true
}

// Forget drops conn's history so its next frame is admitted.
func (rl *FrameRateLimiter) Forget(conn domain.ConnID) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.next, conn)
}
