package exchange

import (
	"context"
	"log"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter tracks venue rate-limit weight usage and smooths outgoing
// requests with a client-side token bucket so bursts of engine calls do not
// reach the remote 429 path in the first place.
type RateLimiter struct {
	limiter *rate.Limiter

	usedWeight    int
	limit         int
	lastReset     time.Time
	resetInterval time.Duration
	mu            sync.RWMutex
}

// NewRateLimiter creates a limiter for a venue weight budget.
// limit: maximum weight allowed per window (e.g. 2400 for futures).
// resetInterval: the weight window (e.g. 1 minute).
func NewRateLimiter(limit int, resetInterval time.Duration) *RateLimiter {
	perSecond := float64(limit) / resetInterval.Seconds()
	return &RateLimiter{
		// Burst sized for a full execute-trade sequence of signed calls.
		limiter:       rate.NewLimiter(rate.Limit(perSecond), 20),
		limit:         limit,
		resetInterval: resetInterval,
		lastReset:     time.Now(),
	}
}

// Wait blocks until the client-side bucket admits one request.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	return rl.limiter.Wait(ctx)
}

// UpdateFromHeader updates the used weight from a venue response header.
func (rl *RateLimiter) UpdateFromHeader(headerValue string) {
	if headerValue == "" {
		return
	}
	weight, err := strconv.Atoi(headerValue)
	if err != nil {
		return
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if time.Since(rl.lastReset) >= rl.resetInterval {
		rl.usedWeight = 0
		rl.lastReset = time.Now()
	}
	rl.usedWeight = weight

	percentage := float64(rl.usedWeight) / float64(rl.limit) * 100
	if percentage >= 95 {
		log.Printf("rate limit critical: %d/%d (%.1f%%) - approaching ban threshold", rl.usedWeight, rl.limit, percentage)
	} else if percentage >= 80 {
		log.Printf("rate limit warning: %d/%d (%.1f%%)", rl.usedWeight, rl.limit, percentage)
	}
}

// Usage returns current weight usage.
func (rl *RateLimiter) Usage() (used int, limit int, percentage float64) {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	if time.Since(rl.lastReset) >= rl.resetInterval {
		return 0, rl.limit, 0
	}
	return rl.usedWeight, rl.limit, float64(rl.usedWeight) / float64(rl.limit) * 100
}
