package otahun

import (
	"sync"
	"time"
)

// UserRateLimiter admits at most limit requests per user within a
// trailing window. Denials report how long until the next slot opens.
type UserRateLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	seen   map[string][]time.Time
	now    func() time.Time
}

func NewUserRateLimiter(limit int, window time.Duration) *UserRateLimiter {
	return &UserRateLimiter{
		limit:  limit,
		window: window,
		seen:   make(map[string][]time.Time),
		now:    time.Now,
	}
}

// Admit records the request and reports whether it's within the user's
// window allowance. When denied, the returned duration is the time
// until the earliest recorded request ages out of the window.
func (u *UserRateLimiter) Admit(userID string) (bool, time.Duration) {
	u.mu.Lock()
	defer u.mu.Unlock()

	now := u.now()
	cutoff := now.Add(-u.window)

	recent := u.seen[userID][:0]
	for _, t := range u.seen[userID] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= u.limit {
		u.seen[userID] = recent
		return false, recent[0].Add(u.window).Sub(now)
	}

	u.seen[userID] = append(recent, now)
	return true, 0
}

// Prune drops users whose every recorded request has aged out of the
// window, so the outer map doesn't grow without bound.
func (u *UserRateLimiter) Prune() {
	u.mu.Lock()
	defer u.mu.Unlock()

	cutoff := u.now().Add(-u.window)
	for userID, stamps := range u.seen {
		live := false
		for _, t := range stamps {
			if t.After(cutoff) {
				live = true
				break
			}
		}
		if !live {
			delete(u.seen, userID)
		}
	}
}
