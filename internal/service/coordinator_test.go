package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsefeed/social-graph-service/internal/cache"
	"github.com/pulsefeed/social-graph-service/internal/domain"
	"github.com/pulsefeed/social-graph-service/internal/store"
)

// flakyStore wraps a RecordStore and fails or conflicts selected Update calls.
type flakyStore struct {
	store.RecordStore

	mu          sync.Mutex
	failUpdates map[string]bool // id -> permanent failure
	conflicts   map[string]int  // id -> remaining injected conflicts
}

var errStoreDown = errors.New("store down")

func newFlakyStore(inner store.RecordStore) *flakyStore {
	return &flakyStore{
		RecordStore: inner,
		failUpdates: make(map[string]bool),
		conflicts:   make(map[string]int),
	}
}

func (s *flakyStore) Update(ctx context.Context, rec *domain.RelationshipRecord) error {
	s.mu.Lock()
	if s.failUpdates[rec.ID] {
		s.mu.Unlock()
		return errStoreDown
	}
	if s.conflicts[rec.ID] > 0 {
		s.conflicts[rec.ID]--
		s.mu.Unlock()
		return store.ErrVersionConflict
	}
	s.mu.Unlock()
	return s.RecordStore.Update(ctx, rec)
}

// captureBridge records published events.
type captureBridge struct {
	mu     sync.Mutex
	events []domain.RelationshipEvent
}

func (b *captureBridge) Publish(ctx context.Context, ev domain.RelationshipEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
	return nil
}

func (b *captureBridge) Close() error { return nil }

func (b *captureBridge) types() []domain.EventType {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.EventType, len(b.events))
	for i, ev := range b.events {
		out[i] = ev.Type
	}
	return out
}

type fixture struct {
	store  *flakyStore
	queue  *cache.MemoryPairQueue
	bridge *captureBridge
	coord  *Coordinator
}

func newFixture(t *testing.T, users ...string) *fixture {
	t.Helper()

	fs := newFlakyStore(store.NewMemoryRecordStore())
	q := cache.NewMemoryPairQueue()
	b := &captureBridge{}
	coord := NewCoordinator(fs, q, cache.NewMemoryCache(0), b, 3)

	ctx := context.Background()
	for _, u := range users {
		require.NoError(t, coord.CreateAccount(ctx, u))
	}
	return &fixture{store: fs, queue: q, bridge: b, coord: coord}
}

func (f *fixture) record(t *testing.T, id string) *domain.RelationshipRecord {
	t.Helper()
	rec, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	return rec
}

func TestSendAcceptFlow(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	ctx := context.Background()

	res, err := f.coord.SendFollowRequest(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, StatusRequested, res.Status)
	assert.Equal(t, domain.EdgeRequested, res.State)
	assert.False(t, res.Partial)

	alice := f.record(t, "alice")
	bob := f.record(t, "bob")
	assert.True(t, alice.SentRequests.Contains("bob"))
	assert.True(t, bob.FollowRequests.Contains("alice"))

	counts, err := f.coord.AcceptFollowRequest(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.FollowerCount, "bob gains a follower")
	assert.Equal(t, int64(1), counts.FollowingCount, "alice follows one more")

	alice = f.record(t, "alice")
	bob = f.record(t, "bob")
	assert.True(t, alice.Following.Contains("bob"))
	assert.True(t, bob.Followers.Contains("alice"))
	assert.False(t, alice.SentRequests.Contains("bob"))
	assert.False(t, bob.FollowRequests.Contains("alice"))
	assert.True(t, alice.CountersConsistent())
	assert.True(t, bob.CountersConsistent())

	assert.Equal(t, []domain.EventType{domain.EventRequestSent, domain.EventRequestAccepted}, f.bridge.types())
}

func TestSendRequestIdempotent(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	ctx := context.Background()

	_, err := f.coord.SendFollowRequest(ctx, "alice", "bob")
	require.NoError(t, err)
	bobBefore := f.record(t, "bob")

	res, err := f.coord.SendFollowRequest(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, StatusAlready, res.Status)
	assert.Equal(t, domain.EdgeRequested, res.State)

	bobAfter := f.record(t, "bob")
	assert.Equal(t, bobBefore.Version, bobAfter.Version, "no-op must not write")
	assert.Equal(t, bobBefore.FollowRequests["alice"], bobAfter.FollowRequests["alice"], "original request timestamp survives")
	assert.Equal(t, []domain.EventType{domain.EventRequestSent}, f.bridge.types(), "no event for the repeat")
}

func TestSendRequestWhileFollowing(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	ctx := context.Background()

	_, err := f.coord.SendFollowRequest(ctx, "alice", "bob")
	require.NoError(t, err)
	_, err = f.coord.AcceptFollowRequest(ctx, "bob", "alice")
	require.NoError(t, err)

	res, err := f.coord.SendFollowRequest(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, StatusFollowing, res.Status)
	assert.Equal(t, domain.EdgeFollowing, res.State)
}

func TestRejectLeavesNoEdge(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	ctx := context.Background()

	_, err := f.coord.SendFollowRequest(ctx, "alice", "bob")
	require.NoError(t, err)

	res, err := f.coord.RejectFollowRequest(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.Equal(t, StatusNone, res.Status)
	assert.Equal(t, domain.EdgeNone, res.State)

	alice := f.record(t, "alice")
	bob := f.record(t, "bob")
	assert.Empty(t, alice.SentRequests)
	assert.Empty(t, bob.FollowRequests)
	assert.Equal(t, int64(0), bob.FollowerCount)
	assert.Equal(t, []domain.EventType{domain.EventRequestSent, domain.EventRequestRejected}, f.bridge.types())
}

func TestCancelEmitsNoEvent(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	ctx := context.Background()

	_, err := f.coord.SendFollowRequest(ctx, "alice", "bob")
	require.NoError(t, err)

	res, err := f.coord.CancelFollowRequest(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, StatusNone, res.Status)

	bob := f.record(t, "bob")
	assert.Empty(t, bob.FollowRequests)
	assert.Equal(t, []domain.EventType{domain.EventRequestSent}, f.bridge.types())
}

func TestUnfollowDecrementsCounts(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	ctx := context.Background()

	_, err := f.coord.SendFollowRequest(ctx, "alice", "bob")
	require.NoError(t, err)
	_, err = f.coord.AcceptFollowRequest(ctx, "bob", "alice")
	require.NoError(t, err)

	counts, err := f.coord.UnfollowUser(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(0), counts.FollowerCount)
	assert.Equal(t, int64(0), counts.FollowingCount)

	assert.Empty(t, f.record(t, "alice").Following)
	assert.Empty(t, f.record(t, "bob").Followers)
}

func TestInvalidTransitions(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	ctx := context.Background()

	_, err := f.coord.UnfollowUser(ctx, "alice", "bob")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition, "unfollow without edge")

	_, err = f.coord.AcceptFollowRequest(ctx, "bob", "alice")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition, "accept without pending request")

	_, err = f.coord.CancelFollowRequest(ctx, "alice", "bob")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition, "cancel without pending request")
}

func TestSelfReferenceRejected(t *testing.T) {
	f := newFixture(t, "alice")

	_, err := f.coord.SendFollowRequest(context.Background(), "alice", "alice")
	assert.ErrorIs(t, err, domain.ErrSelfReference)
}

func TestUnknownUserRejected(t *testing.T) {
	f := newFixture(t, "alice")
	ctx := context.Background()

	_, err := f.coord.SendFollowRequest(ctx, "alice", "ghost")
	assert.ErrorIs(t, err, ErrUserNotFound)

	_, err = f.coord.SendFollowRequest(ctx, "ghost", "alice")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestCallerSideConflictRetries(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	ctx := context.Background()

	f.store.conflicts["alice"] = 2

	res, err := f.coord.SendFollowRequest(ctx, "alice", "bob")
	require.NoError(t, err, "two injected conflicts fit inside the retry budget")
	assert.Equal(t, StatusRequested, res.Status)
	assert.True(t, f.record(t, "bob").FollowRequests.Contains("alice"))
}

func TestRetriesExhausted(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	ctx := context.Background()

	f.store.conflicts["alice"] = 100

	_, err := f.coord.SendFollowRequest(ctx, "alice", "bob")
	assert.ErrorIs(t, err, ErrConflict)
	assert.False(t, f.record(t, "bob").FollowRequests.Contains("alice"), "no half-applied write")
}

func TestPartialApplyFlagsPair(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	ctx := context.Background()

	f.store.failUpdates["bob"] = true

	res, err := f.coord.SendFollowRequest(ctx, "alice", "bob")
	require.NoError(t, err, "caller-side success is reported even when the counterpart fails")
	assert.True(t, res.Partial)
	assert.Equal(t, StatusRequested, res.Status)

	assert.True(t, f.record(t, "alice").SentRequests.Contains("bob"))
	assert.False(t, f.record(t, "bob").FollowRequests.Contains("alice"))
	assert.Equal(t, 1, f.queue.Len(), "pair queued for reconciliation")
	assert.Empty(t, f.bridge.types(), "no event until both sides commit")
}

func TestDeleteAccountStripsCounterparts(t *testing.T) {
	f := newFixture(t, "alice", "bob", "carol", "dave")
	ctx := context.Background()

	// bob follows alice; alice follows carol; dave has a pending request to alice.
	_, err := f.coord.SendFollowRequest(ctx, "bob", "alice")
	require.NoError(t, err)
	_, err = f.coord.AcceptFollowRequest(ctx, "alice", "bob")
	require.NoError(t, err)
	_, err = f.coord.SendFollowRequest(ctx, "alice", "carol")
	require.NoError(t, err)
	_, err = f.coord.AcceptFollowRequest(ctx, "carol", "alice")
	require.NoError(t, err)
	_, err = f.coord.SendFollowRequest(ctx, "dave", "alice")
	require.NoError(t, err)

	require.NoError(t, f.coord.DeleteAccount(ctx, "alice"))

	_, err = f.store.Get(ctx, "alice")
	assert.ErrorIs(t, err, store.ErrRecordNotFound)

	bob := f.record(t, "bob")
	assert.False(t, bob.Following.Contains("alice"))
	assert.Equal(t, int64(0), bob.FollowingCount)

	carol := f.record(t, "carol")
	assert.False(t, carol.Followers.Contains("alice"))
	assert.Equal(t, int64(0), carol.FollowerCount)

	dave := f.record(t, "dave")
	assert.False(t, dave.SentRequests.Contains("alice"))
}

func TestDeleteAccountDefersFailedStrips(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	ctx := context.Background()

	_, err := f.coord.SendFollowRequest(ctx, "bob", "alice")
	require.NoError(t, err)
	_, err = f.coord.AcceptFollowRequest(ctx, "alice", "bob")
	require.NoError(t, err)

	f.store.failUpdates["bob"] = true

	require.NoError(t, f.coord.DeleteAccount(ctx, "alice"))
	assert.Equal(t, 1, f.queue.Len(), "failed strip queued for reconciliation")
}

func TestCreateAccountIdempotent(t *testing.T) {
	f := newFixture(t, "alice")

	assert.NoError(t, f.coord.CreateAccount(context.Background(), "alice"))
}

func TestConcurrentAcceptRejectSettlesOneOutcome(t *testing.T) {
	ctx := context.Background()

	for i := 0; i < 200; i++ {
		f := newFixture(t, "alice", "bob")
		_, err := f.coord.SendFollowRequest(ctx, "alice", "bob")
		require.NoError(t, err)

		var wg sync.WaitGroup
		var acceptErr, rejectErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, acceptErr = f.coord.AcceptFollowRequest(ctx, "bob", "alice")
		}()
		go func() {
			defer wg.Done()
			_, rejectErr = f.coord.RejectFollowRequest(ctx, "bob", "alice")
		}()
		wg.Wait()

		// The version guard on bob's record lets exactly one side commit;
		// the loser re-reads a settled state and reports an invalid
		// transition.
		if acceptErr == nil {
			assert.ErrorIs(t, rejectErr, domain.ErrInvalidTransition)
		} else {
			require.NoError(t, rejectErr)
			assert.ErrorIs(t, acceptErr, domain.ErrInvalidTransition)
		}

		alice := f.record(t, "alice")
		bob := f.record(t, "bob")

		state := alice.EdgeStateTo("bob")
		assert.Equal(t, state, bob.EdgeStateFrom("alice"), "both records agree on the edge")
		assert.Contains(t, []domain.EdgeState{domain.EdgeFollowing, domain.EdgeNone}, state)
		assert.Empty(t, alice.SentRequests, "no dangling request on the requester side")
		assert.Empty(t, bob.FollowRequests, "no dangling request on the recipient side")
		assert.True(t, alice.CountersConsistent())
		assert.True(t, bob.CountersConsistent())

		if state == domain.EdgeFollowing {
			assert.Equal(t, int64(1), bob.FollowerCount)
			assert.Equal(t, int64(1), alice.FollowingCount)
		} else {
			assert.Equal(t, int64(0), bob.FollowerCount)
			assert.Equal(t, int64(0), alice.FollowingCount)
		}
	}
}

// failingQueue rejects every enqueue.
type failingQueue struct{}

func (failingQueue) Enqueue(context.Context, cache.Pair) error { return errStoreDown }

func (failingQueue) Due(context.Context, time.Time, int64) ([]cache.Pair, error) { return nil, nil }

func (failingQueue) Ack(context.Context, cache.Pair) error { return nil }

func TestPartialApplySurvivesQueueFailure(t *testing.T) {
	fs := newFlakyStore(store.NewMemoryRecordStore())
	coord := NewCoordinator(fs, failingQueue{}, cache.NewMemoryCache(0), &captureBridge{}, 3)
	ctx := context.Background()
	require.NoError(t, coord.CreateAccount(ctx, "alice"))
	require.NoError(t, coord.CreateAccount(ctx, "bob"))

	fs.failUpdates["bob"] = true

	res, err := coord.SendFollowRequest(ctx, "alice", "bob")
	require.NoError(t, err, "a broken queue must not fail the operation")
	assert.True(t, res.Partial)
}

// failingBridge rejects every publish.
type failingBridge struct{}

func (failingBridge) Publish(context.Context, domain.RelationshipEvent) error { return errStoreDown }

func (failingBridge) Close() error { return nil }

func TestPublishFailureDoesNotFailOperation(t *testing.T) {
	fs := newFlakyStore(store.NewMemoryRecordStore())
	coord := NewCoordinator(fs, cache.NewMemoryPairQueue(), cache.NewMemoryCache(0), failingBridge{}, 3)
	ctx := context.Background()
	require.NoError(t, coord.CreateAccount(ctx, "alice"))
	require.NoError(t, coord.CreateAccount(ctx, "bob"))

	res, err := coord.SendFollowRequest(ctx, "alice", "bob")
	require.NoError(t, err, "publish failures are logged, not surfaced")
	assert.Equal(t, StatusRequested, res.Status)

	bob, err := fs.Get(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, bob.FollowRequests.Contains("alice"), "the write still committed")
}
