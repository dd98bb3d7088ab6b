package utils

import (
	"context"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter(t *testing.T) {
	ctx := context.Background()
	mClock := quartz.NewMock(t)
	rl := NewRateLimiter(mClock, 2)

	require.NoError(t, rl.Wait(ctx))
	require.NoError(t, rl.Wait(ctx))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, rl.Wait(cancelled), context.Canceled, "bucket is full")

	mClock.Advance(time.Second).MustWait(ctx)
	require.NoError(t, rl.Wait(ctx))
}
