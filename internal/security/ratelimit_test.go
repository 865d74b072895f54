// Package security provides tests for join-attempt rate limiting.
package security

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeClock lets tests advance time without sleeping.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestLimiter(max int, refill time.Duration) (*RateLimiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 10, 25, 12, 0, 0, 0, time.UTC)}
	rl := NewRateLimiter(max, refill)
	rl.now = clock.Now
	return rl, clock
}

// TestRateLimiter_Allow tests basic rate limiting functionality.
func TestRateLimiter_Allow(t *testing.T) {
	limiter, clock := newTestLimiter(5, time.Second)
	defer limiter.Stop()

	for i := 0; i < 5; i++ {
		assert.True(t, limiter.Allow("10"), "attempt %d should be allowed", i+1)
	}
	assert.False(t, limiter.Allow("10"), "6th attempt should be denied")

	clock.Advance(1100 * time.Millisecond)
	assert.True(t, limiter.Allow("10"), "attempt after refill should be allowed")
	assert.False(t, limiter.Allow("10"), "only one token should have been refilled")
}

// TestRateLimiter_MultipleIdentifiers tests that users have separate buckets.
func TestRateLimiter_MultipleIdentifiers(t *testing.T) {
	limiter, _ := newTestLimiter(3, time.Second)
	defer limiter.Stop()

	for i := 0; i < 3; i++ {
		assert.True(t, limiter.AllowUser(1))
	}
	assert.False(t, limiter.AllowUser(1))

	for i := 0; i < 3; i++ {
		assert.True(t, limiter.AllowUser(2), "second user should have its own bucket")
	}
	assert.False(t, limiter.AllowUser(2))
}

// TestRateLimiter_Reset tests resetting the limit for an identifier.
func TestRateLimiter_Reset(t *testing.T) {
	limiter, _ := newTestLimiter(2, time.Minute)
	defer limiter.Stop()

	limiter.Allow("10")
	limiter.Allow("10")
	assert.False(t, limiter.Allow("10"))

	limiter.Reset("10")
	assert.True(t, limiter.Allow("10"))
}

// TestRateLimiter_Remaining tests refill is capped at the bucket size.
func TestRateLimiter_Remaining(t *testing.T) {
	limiter, clock := newTestLimiter(3, time.Second)
	defer limiter.Stop()

	assert.Equal(t, 3, limiter.Remaining("10"))

	limiter.Allow("10")
	limiter.Allow("10")
	assert.Equal(t, 1, limiter.Remaining("10"))

	clock.Advance(10 * time.Second)
	assert.Equal(t, 3, limiter.Remaining("10"))
}

// TestRateLimiter_Concurrent tests thread safety of concurrent access.
func TestRateLimiter_Concurrent(t *testing.T) {
	limiter, _ := newTestLimiter(100, time.Hour)
	defer limiter.Stop()

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0

	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if limiter.Allow("10") {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, allowed)
}

// TestRateLimiter_StopTwice tests Stop is idempotent.
func TestRateLimiter_StopTwice(t *testing.T) {
	limiter := NewRateLimiter(1, time.Second)
	assert.NotPanics(t, func() {
		limiter.Stop()
		limiter.Stop()
	})
}

func BenchmarkRateLimiter_Allow(b *testing.B) {
	limiter := NewRateLimiter(1000000, time.Millisecond)
	defer limiter.Stop()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		limiter.AllowUser(int64(i % 100))
	}
}
