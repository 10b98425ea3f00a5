package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeyedLimiterIsolatesKeys(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewKeyedLimiter(6, 2, time.Minute)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("agent-1"))
	assert.True(t, l.Allow("agent-1"))
	assert.False(t, l.Allow("agent-1"))

	assert.True(t, l.Allow("agent-2"))

	// 6 per minute refills one token every 10 seconds
	now = now.Add(10 * time.Second)
	assert.True(t, l.Allow("agent-1"))
}

func TestKeyedLimiterEvictsIdleKeys(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewKeyedLimiter(60, 1, time.Minute)
	l.now = func() time.Time { return now }

	l.Allow("a")
	now = now.Add(30 * time.Second)
	l.Allow("b")
	now = now.Add(45 * time.Second)

	l.evictIdle()
	assert.Equal(t, 1, l.Len())
}
