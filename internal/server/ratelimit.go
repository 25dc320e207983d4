package server

import (
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter keeps one token bucket per client.
type RateLimiter struct {
	mu sync.Mutex

	limit rate.Limit
	burst int
	now   func() time.Time

	clients map[string]*rate.Limiter
}

// NewRateLimiter allows requestsPerMinute sustained requests per client with
// bursts of up to burst requests.
func NewRateLimiter(requestsPerMinute, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		limit:   rate.Limit(float64(requestsPerMinute) / 60),
		burst:   burst,
		now:     time.Now,
		clients: make(map[string]*rate.Limiter),
	}
}

// CheckRateLimit reports whether clientID may issue a request now.
func (rl *RateLimiter) CheckRateLimit(clientID string) error {
	rl.mu.Lock()
	lim, ok := rl.clients[clientID]
	if !ok {
		lim = rate.NewLimiter(rl.limit, rl.burst)
		rl.clients[clientID] = lim
	}
	rl.mu.Unlock()

	now := rl.now()
	r := lim.ReserveN(now, 1)
	if !r.OK() {
		return &RateLimitError{Limit: rl.RequestsPerMinute(), RetryAfter: time.Minute}
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return &RateLimitError{Limit: rl.RequestsPerMinute(), RetryAfter: delay}
	}
	return nil
}

// RequestsPerMinute returns the sustained per-client rate.
func (rl *RateLimiter) RequestsPerMinute() int {
	return int(math.Round(float64(rl.limit) * 60))
}

// Clients returns the number of tracked clients.
func (rl *RateLimiter) Clients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// RateLimitError represents a rate limit violation.
type RateLimitError struct {
	Limit      int           // requests per minute
	RetryAfter time.Duration // how long to wait before retrying
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded (limit: %d/min, retry after: %v)", e.Limit, e.RetryAfter)
}
