package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var stepNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func TestStepSelfReference(t *testing.T) {
	for _, action := range []Action{ActionSendRequest, ActionCancelRequest, ActionAcceptRequest, ActionRejectRequest, ActionUnfollow} {
		_, err := Step("alice", "alice", EdgeNone, action, stepNow)
		assert.ErrorIs(t, err, ErrSelfReference, "action %s", action)
	}
}

func TestStepEmptyIDs(t *testing.T) {
	_, err := Step("", "bob", EdgeNone, ActionSendRequest, stepNow)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = Step("alice", "", EdgeNone, ActionSendRequest, stepNow)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestStepSendRequestFromNone(t *testing.T) {
	tr, err := Step("alice", "bob", EdgeNone, ActionSendRequest, stepNow)
	require.NoError(t, err)

	assert.Equal(t, EdgeRequested, tr.NewState)
	assert.False(t, tr.NoOp)
	assert.Equal(t, []Mutation{{Op: OpAddSentRequest, UserID: "bob", At: stepNow}}, tr.ActorMutations)
	assert.Equal(t, []Mutation{{Op: OpAddFollowRequest, UserID: "alice", At: stepNow}}, tr.TargetMutations)
}

func TestStepSendRequestIdempotent(t *testing.T) {
	tr, err := Step("alice", "bob", EdgeRequested, ActionSendRequest, stepNow)
	require.NoError(t, err)

	assert.True(t, tr.NoOp)
	assert.Equal(t, EdgeRequested, tr.NewState)
	assert.Empty(t, tr.ActorMutations)
	assert.Empty(t, tr.TargetMutations)
}

func TestStepSendRequestWhileFollowing(t *testing.T) {
	tr, err := Step("alice", "bob", EdgeFollowing, ActionSendRequest, stepNow)
	require.NoError(t, err)

	assert.True(t, tr.NoOp)
	assert.Equal(t, EdgeFollowing, tr.NewState)
}

func TestStepAcceptRequest(t *testing.T) {
	tr, err := Step("alice", "bob", EdgeRequested, ActionAcceptRequest, stepNow)
	require.NoError(t, err)

	assert.Equal(t, EdgeFollowing, tr.NewState)
	assert.Equal(t, []Mutation{
		{Op: OpRemoveSentRequest, UserID: "bob"},
		{Op: OpAddFollowing, UserID: "bob"},
	}, tr.ActorMutations)
	assert.Equal(t, []Mutation{
		{Op: OpRemoveFollowRequest, UserID: "alice"},
		{Op: OpAddFollower, UserID: "alice"},
	}, tr.TargetMutations)
}

func TestStepCancelAndReject(t *testing.T) {
	for _, action := range []Action{ActionCancelRequest, ActionRejectRequest} {
		tr, err := Step("alice", "bob", EdgeRequested, action, stepNow)
		require.NoError(t, err, "action %s", action)

		assert.Equal(t, EdgeNone, tr.NewState)
		assert.Equal(t, []Mutation{{Op: OpRemoveSentRequest, UserID: "bob"}}, tr.ActorMutations)
		assert.Equal(t, []Mutation{{Op: OpRemoveFollowRequest, UserID: "alice"}}, tr.TargetMutations)
	}
}

func TestStepUnfollow(t *testing.T) {
	tr, err := Step("alice", "bob", EdgeFollowing, ActionUnfollow, stepNow)
	require.NoError(t, err)

	assert.Equal(t, EdgeNone, tr.NewState)
	assert.Equal(t, []Mutation{{Op: OpRemoveFollowing, UserID: "bob"}}, tr.ActorMutations)
	assert.Equal(t, []Mutation{{Op: OpRemoveFollower, UserID: "alice"}}, tr.TargetMutations)
}

func TestStepInvalidTransitions(t *testing.T) {
	cases := []struct {
		current EdgeState
		action  Action
	}{
		{EdgeNone, ActionAcceptRequest},
		{EdgeNone, ActionRejectRequest},
		{EdgeNone, ActionCancelRequest},
		{EdgeNone, ActionUnfollow},
		{EdgeRequested, ActionUnfollow},
		{EdgeFollowing, ActionAcceptRequest},
		{EdgeFollowing, ActionRejectRequest},
		{EdgeFollowing, ActionCancelRequest},
	}
	for _, tc := range cases {
		_, err := Step("alice", "bob", tc.current, tc.action, stepNow)
		assert.ErrorIs(t, err, ErrInvalidTransition, "%s from %s", tc.action, tc.current)
	}
}

func TestStepUnknownAction(t *testing.T) {
	_, err := Step("alice", "bob", EdgeNone, Action("poke"), stepNow)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}
