package domain

import (
	"errors"
	"time"
)

var (
	// ErrSelfReference is returned for any action where actor == target.
	ErrSelfReference = errors.New("cannot follow yourself")

	// ErrInvalidTransition is returned when the action is not valid from the
	// current edge state, e.g. accepting a request that does not exist.
	ErrInvalidTransition = errors.New("invalid transition for current state")
)

// Transition is the outcome of one state-machine step: the resulting edge
// state and the exact mutations each side's record must undergo. NoOp marks
// idempotent repeats (e.g. re-sending an already-pending request) that must
// succeed without touching storage.
type Transition struct {
	NewState        EdgeState
	NoOp            bool
	ActorMutations  []Mutation
	TargetMutations []Mutation
}

// Step computes the transition for the directed edge actor → target. It is
// pure and deterministic: no I/O, no clock reads (now is passed in). The
// actor here is always the follower side of the edge regardless of which
// user initiated the call; the coordinator maps accept/reject calls, which
// are made by the recipient, onto the edge orientation before stepping.
func Step(actorID, targetID string, current EdgeState, action Action, now time.Time) (Transition, error) {
	if actorID == targetID {
		return Transition{}, ErrSelfReference
	}
	if actorID == "" || targetID == "" {
		return Transition{}, ErrInvalidTransition
	}

	switch action {
	case ActionSendRequest:
		switch current {
		case EdgeNone:
			return Transition{
				NewState:        EdgeRequested,
				ActorMutations:  []Mutation{{Op: OpAddSentRequest, UserID: targetID, At: now}},
				TargetMutations: []Mutation{{Op: OpAddFollowRequest, UserID: actorID, At: now}},
			}, nil
		case EdgeRequested:
			// Idempotent repeat; the original request timestamp is kept.
			return Transition{NewState: EdgeRequested, NoOp: true}, nil
		case EdgeFollowing:
			return Transition{NewState: EdgeFollowing, NoOp: true}, nil
		}

	case ActionCancelRequest, ActionRejectRequest:
		if current != EdgeRequested {
			return Transition{}, ErrInvalidTransition
		}
		return Transition{
			NewState:        EdgeNone,
			ActorMutations:  []Mutation{{Op: OpRemoveSentRequest, UserID: targetID}},
			TargetMutations: []Mutation{{Op: OpRemoveFollowRequest, UserID: actorID}},
		}, nil

	case ActionAcceptRequest:
		if current != EdgeRequested {
			return Transition{}, ErrInvalidTransition
		}
		return Transition{
			NewState: EdgeFollowing,
			ActorMutations: []Mutation{
				{Op: OpRemoveSentRequest, UserID: targetID},
				{Op: OpAddFollowing, UserID: targetID},
			},
			TargetMutations: []Mutation{
				{Op: OpRemoveFollowRequest, UserID: actorID},
				{Op: OpAddFollower, UserID: actorID},
			},
		}, nil

	case ActionUnfollow:
		if current != EdgeFollowing {
			return Transition{}, ErrInvalidTransition
		}
		return Transition{
			NewState:        EdgeNone,
			ActorMutations:  []Mutation{{Op: OpRemoveFollowing, UserID: targetID}},
			TargetMutations: []Mutation{{Op: OpRemoveFollower, UserID: actorID}},
		}, nil
	}

	return Transition{}, ErrInvalidTransition
}
