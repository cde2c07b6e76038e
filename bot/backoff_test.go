package bot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReconnectBackoffSequence(t *testing.T) {
	b := newReconnectBackoff(5*time.Second, 300*time.Second)

	expected := []time.Duration{
		5 * time.Second,
		10 * time.Second,
		20 * time.Second,
		40 * time.Second,
		80 * time.Second,
		160 * time.Second,
		300 * time.Second,
		300 * time.Second,
	}
	for i, want := range expected {
		assert.Equal(t, want, b.Next(), "Attempt %d should wait %s", i+1, want)
	}

	b.Reset()
	assert.Equal(t, 5*time.Second, b.Next(), "Should restart from the initial delay after Reset")
}

func TestReconnectBackoffDefaults(t *testing.T) {
	b := newReconnectBackoff(0, 0)
	assert.Equal(t, defaultBackoffInitial, b.Next(), "Should fall back to the default initial delay")

	b = newReconnectBackoff(40*time.Second, 60*time.Second)
	b.Next()
	assert.Equal(t, 60*time.Second, b.Next(), "Should clamp doubled delays to the configured max")
}
