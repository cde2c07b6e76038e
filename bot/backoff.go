package bot

import (
	"math"
	"time"
)

const (
	defaultBackoffInitial = 5 * time.Second
	defaultBackoffMax     = 300 * time.Second
	backoffMultiplier     = 2.0
)

// reconnectBackoff yields the delay before each reconnection attempt:
// initial, then doubling up to max. Reset returns it to the start after a
// session reaches the joined state.
type reconnectBackoff struct {
	initial time.Duration
	max     time.Duration
	attempt int
}

func newReconnectBackoff(initial, max time.Duration) *reconnectBackoff {
	if initial <= 0 {
		initial = defaultBackoffInitial
	}
	if max <= 0 {
		max = defaultBackoffMax
	}
	return &reconnectBackoff{initial: initial, max: max}
}

// Next returns the delay for the current attempt and advances.
func (b *reconnectBackoff) Next() time.Duration {
	duration := time.Duration(float64(b.initial) * math.Pow(backoffMultiplier, float64(b.attempt)))
	if duration > b.max || duration <= 0 {
		duration = b.max
	}
	b.attempt++
	return duration
}

// Reset starts the sequence over from the initial delay.
func (b *reconnectBackoff) Reset() {
	b.attempt = 0
}
