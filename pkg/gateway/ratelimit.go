package gateway

import (
	"sync"

	"golang.org/x/time/rate"
)

const maxRateLimiters = 10_000

// userLimiter keeps one token bucket per caller, bounded with LRU eviction
// so a flood of distinct user ids cannot grow the map without limit.
type userLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	order    []string
	perUser  int // requests per second
}

func newUserLimiter(perUser int) *userLimiter {
	return &userLimiter{
		limiters: make(map[string]*rate.Limiter),
		perUser:  perUser,
	}
}

func (u *userLimiter) allow(userID string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()

	lim, ok := u.limiters[userID]
	if ok {
		// Move to end of LRU order.
		for i, k := range u.order {
			if k == userID {
				u.order = append(u.order[:i], u.order[i+1:]...)
				break
			}
		}
		u.order = append(u.order, userID)
		return lim.Allow()
	}

	if len(u.limiters) >= maxRateLimiters {
		oldest := u.order[0]
		u.order = u.order[1:]
		delete(u.limiters, oldest)
	}

	lim = rate.NewLimiter(rate.Limit(u.perUser), u.perUser*2)
	u.limiters[userID] = lim
	u.order = append(u.order, userID)
	return lim.Allow()
}
