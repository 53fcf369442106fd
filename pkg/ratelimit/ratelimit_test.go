package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBucket_AllowAndRefill(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	tb := newTokenBucket(2, 1, func() time.Time { return now })

	assert.True(t, tb.Allow())
	assert.True(t, tb.Allow())
	assert.False(t, tb.Allow(), "桶空时应拒绝")

	now = now.Add(500 * time.Millisecond)
	assert.False(t, tb.Allow())

	now = now.Add(500 * time.Millisecond)
	assert.True(t, tb.Allow())

	now = now.Add(time.Hour)
	assert.Equal(t, 2, tb.Remaining(), "补充不应超过容量")
}

func TestTokenBucket_WaitCanceled(t *testing.T) {
	tb := NewTokenBucket(1, 0.001)
	require.True(t, tb.Allow())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, tb.Wait(ctx), context.Canceled)
}
