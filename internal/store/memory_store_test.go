package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsefeed/social-graph-service/internal/domain"
)

func TestMemoryStoreCreateAndGet(t *testing.T) {
	s := NewMemoryRecordStore()
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, domain.NewRelationshipRecord("alice")))

	rec, err := s.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", rec.ID)
	assert.Equal(t, int64(0), rec.Version)
	assert.False(t, rec.CreatedAt.IsZero())

	err = s.Create(ctx, domain.NewRelationshipRecord("alice"))
	assert.ErrorIs(t, err, ErrRecordExists)

	_, err = s.Get(ctx, "nobody")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestMemoryStoreUpdateBumpsVersion(t *testing.T) {
	s := NewMemoryRecordStore()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, domain.NewRelationshipRecord("alice")))

	rec, err := s.Get(ctx, "alice")
	require.NoError(t, err)
	rec.Apply([]domain.Mutation{{Op: domain.OpAddFollower, UserID: "bob"}})

	require.NoError(t, s.Update(ctx, rec))
	assert.Equal(t, int64(1), rec.Version, "caller's copy sees the new version")

	stored, err := s.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.Version)
	assert.True(t, stored.Followers.Contains("bob"))
}

func TestMemoryStoreUpdateVersionConflict(t *testing.T) {
	s := NewMemoryRecordStore()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, domain.NewRelationshipRecord("alice")))

	first, err := s.Get(ctx, "alice")
	require.NoError(t, err)
	second, err := s.Get(ctx, "alice")
	require.NoError(t, err)

	require.NoError(t, s.Update(ctx, first))

	err = s.Update(ctx, second)
	assert.ErrorIs(t, err, ErrVersionConflict, "stale-version write must be rejected")

	stored, err := s.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.Version, "losing write must not land")
}

func TestMemoryStoreUpdateMissingRecord(t *testing.T) {
	s := NewMemoryRecordStore()
	err := s.Update(context.Background(), domain.NewRelationshipRecord("ghost"))
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestMemoryStoreGetReturnsCopy(t *testing.T) {
	s := NewMemoryRecordStore()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, domain.NewRelationshipRecord("alice")))

	rec, err := s.Get(ctx, "alice")
	require.NoError(t, err)
	rec.Apply([]domain.Mutation{{Op: domain.OpAddFollower, UserID: "bob"}})

	fresh, err := s.Get(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, fresh.Followers.Contains("bob"), "mutating a read copy must not touch stored state")
}

func TestMemoryStoreDelete(t *testing.T) {
	s := NewMemoryRecordStore()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, domain.NewRelationshipRecord("alice")))

	require.NoError(t, s.Delete(ctx, "alice"))
	_, err := s.Get(ctx, "alice")
	assert.ErrorIs(t, err, ErrRecordNotFound)

	assert.ErrorIs(t, s.Delete(ctx, "alice"), ErrRecordNotFound)
}

func TestMemoryStoreListIDs(t *testing.T) {
	s := NewMemoryRecordStore()
	ctx := context.Background()
	for _, id := range []string{"carol", "alice", "bob"} {
		require.NoError(t, s.Create(ctx, domain.NewRelationshipRecord(id)))
	}

	ids, err := s.ListIDs(ctx, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, ids)

	ids, err = s.ListIDs(ctx, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"carol"}, ids)

	ids, err = s.ListIDs(ctx, 5, 2)
	require.NoError(t, err)
	assert.Empty(t, ids)
}
