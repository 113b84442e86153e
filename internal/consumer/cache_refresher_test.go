package consumer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsefeed/social-graph-service/internal/cache"
)

func TestHandleCDCEventUpdateRefreshesExistingCounts(t *testing.T) {
	c := cache.NewMemoryCache(time.Minute)
	ctx := context.Background()
	require.NoError(t, c.SetCounts(ctx, "alice", 1, 1))

	h := NewCacheRefresher(c)
	err := h.HandleCDCEvent(ctx, &DebeziumMessage{Payload: DebeziumPayload{
		Op:    "u",
		After: &DebeziumRecordRow{ID: "alice", FollowerCount: 5, FollowingCount: 2},
	}})
	require.NoError(t, err)

	followers, following, ok, err := c.GetCounts(ctx, "alice")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(5), followers)
	assert.Equal(t, int64(2), following)
}

func TestHandleCDCEventNeverSeedsCache(t *testing.T) {
	c := cache.NewMemoryCache(time.Minute)
	ctx := context.Background()

	h := NewCacheRefresher(c)
	err := h.HandleCDCEvent(ctx, &DebeziumMessage{Payload: DebeziumPayload{
		Op:    "c",
		After: &DebeziumRecordRow{ID: "alice", FollowerCount: 3},
	}})
	require.NoError(t, err)

	_, _, ok, err := c.GetCounts(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, ok, "CDC traffic alone must not populate the cache")
}

func TestHandleCDCEventDeleteDropsCounts(t *testing.T) {
	c := cache.NewMemoryCache(time.Minute)
	ctx := context.Background()
	require.NoError(t, c.SetCounts(ctx, "alice", 1, 1))

	h := NewCacheRefresher(c)
	err := h.HandleCDCEvent(ctx, &DebeziumMessage{Payload: DebeziumPayload{
		Op:     "d",
		Before: &DebeziumRecordRow{ID: "alice"},
	}})
	require.NoError(t, err)

	_, _, ok, err := c.GetCounts(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHandleCDCEventToleratesMalformedPayloads(t *testing.T) {
	c := cache.NewMemoryCache(time.Minute)
	h := NewCacheRefresher(c)
	ctx := context.Background()

	assert.NoError(t, h.HandleCDCEvent(ctx, &DebeziumMessage{Payload: DebeziumPayload{Op: "r"}}))
	assert.NoError(t, h.HandleCDCEvent(ctx, &DebeziumMessage{Payload: DebeziumPayload{Op: "u", After: nil}}))
	assert.NoError(t, h.HandleCDCEvent(ctx, &DebeziumMessage{Payload: DebeziumPayload{Op: "d", Before: nil}}))
	assert.NoError(t, h.HandleCDCEvent(ctx, &DebeziumMessage{Payload: DebeziumPayload{Op: "x"}}))
}
