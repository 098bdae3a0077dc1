package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBreaker(t *testing.T) {
	b := NewBreaker(3, 50*time.Millisecond)

	assert.Equal(t, BreakerClosed, b.State())
	assert.True(t, b.Allow())

	b.Failure()
	b.Failure()
	assert.Equal(t, BreakerClosed, b.State(), "short run keeps the circuit closed")

	b.Failure()
	assert.Equal(t, BreakerOpen, b.State(), "third consecutive failure trips")
	assert.False(t, b.Allow())

	time.Sleep(75 * time.Millisecond)

	assert.True(t, b.Allow(), "first attempt after cooldown probes")
	assert.Equal(t, BreakerHalfOpen, b.State())

	b.Failure()
	assert.Equal(t, BreakerOpen, b.State(), "failed probe reopens")

	time.Sleep(75 * time.Millisecond)
	assert.True(t, b.Allow())
	b.Success()
	assert.Equal(t, BreakerClosed, b.State())
	assert.Equal(t, 0, b.run)
}

func TestBreakerSuccessResetsRun(t *testing.T) {
	b := NewBreaker(2, time.Minute)

	b.Failure()
	b.Success()
	b.Failure()
	assert.Equal(t, BreakerClosed, b.State(), "runs are consecutive, not cumulative")
}
