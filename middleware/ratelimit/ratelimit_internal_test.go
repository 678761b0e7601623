package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

func TestSweepRemovesIdleBuckets(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rl := New(ctx, Config{Rate: rate.Limit(10), Burst: 1, IdleTTL: time.Minute, CleanupInterval: time.Hour})
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	rl.Allow("a")
	now = now.Add(30 * time.Second)
	rl.Allow("b")
	assert.Equal(t, 2, rl.Len())

	now = now.Add(45 * time.Second)
	rl.sweep()
	assert.Equal(t, 1, rl.Len())
}
