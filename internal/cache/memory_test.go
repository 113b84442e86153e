package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopHotKeysOrdering(t *testing.T) {
	c := NewMemoryCache(0)
	ctx := context.Background()

	for id, n := range map[string]int{"alice": 3, "bob": 1, "carol": 3, "dave": 5} {
		for i := 0; i < n; i++ {
			require.NoError(t, c.RecordAccess(ctx, id))
		}
	}

	keys, err := c.TopHotKeys(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"dave", "alice", "carol"}, keys, "highest score first, ties by id")

	all, err := c.TopHotKeys(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"dave", "alice", "carol", "bob"}, all)
}

func TestPairQueueDueImmediately(t *testing.T) {
	q := NewMemoryPairQueue()
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, Pair{A: "bob", B: "alice"}))

	due, err := q.Due(ctx, time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, due, 1, "a flagged pair is due from the moment it is queued")
	assert.Equal(t, Pair{A: "alice", B: "bob"}, due[0], "stored in canonical order")

	require.NoError(t, q.Ack(ctx, Pair{A: "bob", B: "alice"}))
	assert.Equal(t, 0, q.Len())
}
