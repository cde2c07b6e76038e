package bot

import (
	"sync"
	"time"
)

const (
	// DefaultBurst is how many messages may be sent back to back before
	// the bucket runs dry.
	DefaultBurst = 5.0
	// DefaultRefillRate is how many tokens return per second.
	DefaultRefillRate = 2.0

	rateLimitPoll = 100 * time.Millisecond
)

// RateLimiter is a token bucket guarding a connection's outbound lines.
// Tokens refill lazily whenever the bucket is consulted.
type RateLimiter struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64
	lastRefill time.Time
}

// NewRateLimiter returns a full bucket holding maxTokens, refilling at
// refillRate tokens per second. Non-positive arguments fall back to the
// defaults.
func NewRateLimiter(maxTokens, refillRate float64) *RateLimiter {
	if maxTokens <= 0 {
		maxTokens = DefaultBurst
	}
	if refillRate <= 0 {
		refillRate = DefaultRefillRate
	}
	return &RateLimiter{
		tokens:     maxTokens,
		maxTokens:  maxTokens,
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

// refill credits tokens for the time elapsed since the last refill.
// Elapsed intervals under 100ms are ignored so a tight polling loop
// cannot accumulate rounding drift. Callers must hold mu.
func (rl *RateLimiter) refill(now time.Time) {
	elapsed := now.Sub(rl.lastRefill).Seconds()
	if elapsed < 0.1 {
		return
	}
	rl.tokens = min(rl.maxTokens, rl.tokens+elapsed*rl.refillRate)
	rl.lastRefill = now
}

// CanSend consumes one token if available and reports whether the caller
// may send now.
func (rl *RateLimiter) CanSend() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refill(time.Now())
	if rl.tokens >= 1 {
		rl.tokens--
		return true
	}
	return false
}

// WaitForCapacity polls CanSend every 100ms until a token is consumed or
// the timeout elapses. It reports whether a token was obtained.
func (rl *RateLimiter) WaitForCapacity(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if rl.CanSend() {
			return true
		}
		if !time.Now().Before(deadline) {
			return false
		}
		time.Sleep(rateLimitPoll)
	}
}

// Tokens reports the current token count after a refill pass.
func (rl *RateLimiter) Tokens() float64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refill(time.Now())
	return rl.tokens
}
