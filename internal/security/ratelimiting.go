// Package security provides join-attempt rate limiting.
// Join codes are a 4-character secret, so guessing is throttled per user.
package security

import (
	"strconv"
	"sync"
	"time"
)

// RateLimiter implements token bucket algorithm for rate limiting.
// Thread-safe implementation using mutex for concurrent access.
type RateLimiter struct {
	// Map of identifier (user ID) to rate limit state
	limiters map[string]*bucketState
	mu       sync.Mutex

	// Configuration
	maxTokens  int           // Maximum tokens in bucket
	refillRate time.Duration // Time between token refills
	now        func() time.Time

	// Cleanup ticker to remove old entries
	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	stopOnce      sync.Once
}

// bucketState tracks the token bucket state for a single identifier.
type bucketState struct {
	tokens     int       // Current number of tokens
	lastRefill time.Time // Last time tokens were refilled
}

// NewRateLimiter creates a new rate limiter with specified configuration.
//
// Parameters:
//   - maxTokens: Maximum number of tokens (attempts) allowed in the bucket
//   - refillRate: How often to add a token back to the bucket
//
// Example:
//
//	// Allow 10 join attempts per minute
//	limiter := NewRateLimiter(10, 6*time.Second)
//	defer limiter.Stop()
func NewRateLimiter(maxTokens int, refillRate time.Duration) *RateLimiter {
	rl := &RateLimiter{
		limiters:    make(map[string]*bucketState),
		maxTokens:   maxTokens,
		refillRate:  refillRate,
		now:         time.Now,
		stopCleanup: make(chan struct{}),
	}

	// Start background cleanup to remove old entries
	rl.cleanupTicker = time.NewTicker(10 * time.Minute)
	go rl.cleanup()

	return rl
}

// Allow consumes one token for identifier.
// Returns true if the attempt is allowed, false if the bucket is empty.
func (rl *RateLimiter) Allow(identifier string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	bucket, exists := rl.limiters[identifier]
	if !exists {
		rl.limiters[identifier] = &bucketState{tokens: rl.maxTokens - 1, lastRefill: now}
		return true
	}

	rl.refill(bucket, now)

	if bucket.tokens > 0 {
		bucket.tokens--
		return true
	}
	return false
}

// AllowUser is Allow keyed by a user id.
func (rl *RateLimiter) AllowUser(userID int64) bool {
	return rl.Allow(strconv.FormatInt(userID, 10))
}

// Remaining returns the tokens identifier could spend right now.
func (rl *RateLimiter) Remaining(identifier string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	bucket, exists := rl.limiters[identifier]
	if !exists {
		return rl.maxTokens
	}
	rl.refill(bucket, rl.now())
	return bucket.tokens
}

// refill adds whole tokens earned since the last refill. Caller holds rl.mu.
func (rl *RateLimiter) refill(bucket *bucketState, now time.Time) {
	tokensToAdd := int(now.Sub(bucket.lastRefill) / rl.refillRate)
	if tokensToAdd <= 0 {
		return
	}

	bucket.tokens += tokensToAdd
	if bucket.tokens > rl.maxTokens {
		bucket.tokens = rl.maxTokens
	}
	bucket.lastRefill = bucket.lastRefill.Add(time.Duration(tokensToAdd) * rl.refillRate)
}

// Reset removes the rate limit state for a given identifier.
func (rl *RateLimiter) Reset(identifier string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.limiters, identifier)
}

// cleanup periodically removes buckets idle for more than an hour.
func (rl *RateLimiter) cleanup() {
	for {
		select {
		case <-rl.cleanupTicker.C:
			rl.mu.Lock()
			now := rl.now()
			for id, bucket := range rl.limiters {
				if now.Sub(bucket.lastRefill) > time.Hour {
					delete(rl.limiters, id)
				}
			}
			rl.mu.Unlock()
		case <-rl.stopCleanup:
			return
		}
	}
}

// Stop stops the cleanup goroutine. Safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() {
		rl.cleanupTicker.Stop()
		close(rl.stopCleanup)
	})
}
