package batch

import (
	"sync"
	"time"
)

// RateLimiter applies a per-subject cooldown to the submission path. The
// first check inside a TTL window is allowed and restarts the window;
// further checks are denied with the remaining wait. State is an in-memory
// map and resets on restart, which is fine: this damps double-clicks and
// abuse, it is not a correctness boundary.
type RateLimiter struct {
	ttl  time.Duration
	mu   sync.Mutex
	last map[string]time.Time
	now  func() time.Time
}

// NewRateLimiter creates a limiter with the given cooldown window.
func NewRateLimiter(ttl time.Duration) *RateLimiter {
	return &RateLimiter{
		ttl:  ttl,
		last: make(map[string]time.Time),
		now:  time.Now,
	}
}

// CheckAndSet reports whether the subject may submit now. On denial,
// retryAfter is the remaining cooldown.
func (rl *RateLimiter) CheckAndSet(subject string) (allowed bool, retryAfter time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if prev, ok := rl.last[subject]; ok {
		if elapsed := now.Sub(prev); elapsed < rl.ttl {
			return false, rl.ttl - elapsed
		}
	}
	rl.last[subject] = now
	return true, 0
}
