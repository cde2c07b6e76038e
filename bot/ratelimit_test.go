package bot_test

import (
	"testing"
	"time"

	"github.com/presbrey/ircbot/bot"
	"github.com/stretchr/testify/assert"
)

func TestRateLimiterBurstThenDeny(t *testing.T) {
	rl := bot.NewRateLimiter(3, 0.1)

	for i := 0; i < 3; i++ {
		assert.True(t, rl.CanSend(), "Should allow burst message %d", i+1)
	}
	assert.False(t, rl.CanSend(), "Should deny once the bucket is empty")
	assert.False(t, rl.WaitForCapacity(150*time.Millisecond), "Should time out waiting on a slow refill")
}

func TestRateLimiterRefills(t *testing.T) {
	rl := bot.NewRateLimiter(2, 20)

	assert.True(t, rl.CanSend(), "Should spend the first token")
	assert.True(t, rl.CanSend(), "Should spend the second token")
	assert.False(t, rl.CanSend(), "Should be empty after the burst")

	time.Sleep(200 * time.Millisecond)
	assert.True(t, rl.CanSend(), "Should have refilled after waiting")
}

func TestRateLimiterCapsAtBurst(t *testing.T) {
	rl := bot.NewRateLimiter(2, 1000)

	time.Sleep(300 * time.Millisecond)
	assert.InDelta(t, 2.0, rl.Tokens(), 0.0001, "Should cap the bucket at the burst size")
}

func TestRateLimiterWaitForCapacity(t *testing.T) {
	rl := bot.NewRateLimiter(1, 5)

	assert.True(t, rl.CanSend(), "Should spend the only token")

	start := time.Now()
	assert.True(t, rl.WaitForCapacity(2*time.Second), "Should obtain a token before the deadline")
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond, "Should have waited for the refill")
}

func TestRateLimiterDefaults(t *testing.T) {
	rl := bot.NewRateLimiter(0, -1)
	assert.InDelta(t, bot.DefaultBurst, rl.Tokens(), 0.0001, "Should fall back to the default burst")
}
