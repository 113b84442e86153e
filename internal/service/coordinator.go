package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/pulsefeed/social-graph-service/internal/bridge"
	"github.com/pulsefeed/social-graph-service/internal/cache"
	"github.com/pulsefeed/social-graph-service/internal/domain"
	"github.com/pulsefeed/social-graph-service/internal/store"
	pkglog "github.com/pulsefeed/social-graph-service/pkg/log"
)

const defaultMaxRetries = 3

// Coordinator implements RelationshipService. Each operation loads both
// records, runs the state machine, and persists the two sides as independent
// version-guarded writes. There is no multi-record transaction: if the
// caller-side write commits and the counterpart write cannot, the pair is
// flagged for the reconciler and the caller is told the visible outcome.
type Coordinator struct {
	store      store.RecordStore
	queue      cache.PairQueue
	cache      cache.RelationshipCache
	bridge     bridge.NotificationBridge
	maxRetries int
	now        func() time.Time
}

// NewCoordinator creates a Coordinator. cache may be nil when no cache is
// wired; bridge must not be nil (use bridge.Noop{}).
func NewCoordinator(s store.RecordStore, q cache.PairQueue, c cache.RelationshipCache, b bridge.NotificationBridge, maxRetries int) *Coordinator {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	return &Coordinator{
		store:      s,
		queue:      q,
		cache:      c,
		bridge:     b,
		maxRetries: maxRetries,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// applied is the internal outcome of one coordinated mutation.
type applied struct {
	state     domain.EdgeState
	noop      bool
	partial   bool
	requester *domain.RelationshipRecord // edge-actor side, post-mutation
	recipient *domain.RelationshipRecord // edge-target side, post-mutation
}

// SendFollowRequest asks to follow targetID on behalf of actorID.
func (c *Coordinator) SendFollowRequest(ctx context.Context, actorID, targetID string) (*RequestResult, error) {
	out, err := c.mutate(ctx, actorID, targetID, domain.ActionSendRequest, false)
	if err != nil {
		return nil, err
	}

	status := StatusRequested
	if out.noop {
		if out.state == domain.EdgeFollowing {
			status = StatusFollowing
		} else {
			status = StatusAlready
		}
	}
	c.emit(ctx, out, domain.EventRequestSent, actorID, targetID)
	return &RequestResult{Status: status, State: out.state, Partial: out.partial}, nil
}

// CancelFollowRequest withdraws actorID's pending request to targetID.
// No event is emitted: the target was never meant to learn about a request
// the actor took back.
func (c *Coordinator) CancelFollowRequest(ctx context.Context, actorID, targetID string) (*RequestResult, error) {
	out, err := c.mutate(ctx, actorID, targetID, domain.ActionCancelRequest, false)
	if err != nil {
		return nil, err
	}
	return &RequestResult{Status: StatusNone, State: out.state, Partial: out.partial}, nil
}

// RejectFollowRequest declines requesterID's pending request to follow actorID.
func (c *Coordinator) RejectFollowRequest(ctx context.Context, actorID, requesterID string) (*RequestResult, error) {
	out, err := c.mutate(ctx, requesterID, actorID, domain.ActionRejectRequest, true)
	if err != nil {
		return nil, err
	}
	c.emit(ctx, out, domain.EventRequestRejected, actorID, requesterID)
	return &RequestResult{Status: StatusNone, State: out.state, Partial: out.partial}, nil
}

// AcceptFollowRequest approves requesterID's pending request to follow actorID.
func (c *Coordinator) AcceptFollowRequest(ctx context.Context, actorID, requesterID string) (*FollowCounts, error) {
	out, err := c.mutate(ctx, requesterID, actorID, domain.ActionAcceptRequest, true)
	if err != nil {
		return nil, err
	}
	c.emit(ctx, out, domain.EventRequestAccepted, actorID, requesterID)
	return &FollowCounts{
		FollowerCount:  out.recipient.FollowerCount,
		FollowingCount: out.requester.FollowingCount,
		Partial:        out.partial,
	}, nil
}

// UnfollowUser removes actorID's follow of targetID.
func (c *Coordinator) UnfollowUser(ctx context.Context, actorID, targetID string) (*FollowCounts, error) {
	out, err := c.mutate(ctx, actorID, targetID, domain.ActionUnfollow, false)
	if err != nil {
		return nil, err
	}
	c.emit(ctx, out, domain.EventUnfollowed, actorID, targetID)
	return &FollowCounts{
		FollowerCount:  out.recipient.FollowerCount,
		FollowingCount: out.requester.FollowingCount,
		Partial:        out.partial,
	}, nil
}

// mutate runs one state-machine step for the directed edge
// requesterID → recipientID and persists both sides. callerIsRecipient marks
// accept/reject, where the caller owns the recipient record; the caller's
// side is always persisted first so the visible outcome is the committed one.
func (c *Coordinator) mutate(ctx context.Context, requesterID, recipientID string, action domain.Action, callerIsRecipient bool) (*applied, error) {
	l := pkglog.Ctx(ctx)

	if requesterID == recipientID {
		return nil, domain.ErrSelfReference
	}

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		reqRec, err := c.store.Get(ctx, requesterID)
		if err != nil {
			return nil, mapStoreErr(err)
		}
		recRec, err := c.store.Get(ctx, recipientID)
		if err != nil {
			return nil, mapStoreErr(err)
		}

		// Current edge state is derived from the caller's own record.
		var current domain.EdgeState
		if callerIsRecipient {
			current = recRec.EdgeStateFrom(requesterID)
		} else {
			current = reqRec.EdgeStateTo(recipientID)
		}

		tr, err := domain.Step(requesterID, recipientID, current, action, c.now())
		if err != nil {
			return nil, err
		}
		if tr.NoOp {
			return &applied{state: tr.NewState, noop: true, requester: reqRec, recipient: recRec}, nil
		}

		callerRec, callerMuts := reqRec, tr.ActorMutations
		otherRec, otherMuts := recRec, tr.TargetMutations
		if callerIsRecipient {
			callerRec, callerMuts = recRec, tr.TargetMutations
			otherRec, otherMuts = reqRec, tr.ActorMutations
		}

		callerCopy := callerRec.Clone()
		callerCopy.Apply(callerMuts)
		if err := c.store.Update(ctx, callerCopy); err != nil {
			if errors.Is(err, store.ErrVersionConflict) {
				continue // re-read both sides and re-evaluate from scratch
			}
			return nil, mapStoreErr(err)
		}

		otherFinal, partial := c.persistCounterpart(ctx, otherRec, otherMuts)
		if partial {
			c.flagPair(ctx, requesterID, recipientID)
			l.Warn().
				Str(pkglog.FieldActorID, requesterID).
				Str(pkglog.FieldTargetID, recipientID).
				Str("action", string(action)).
				Msg("counterpart write failed, pair queued for reconciliation")
		}

		out := &applied{state: tr.NewState, partial: partial}
		if callerIsRecipient {
			out.recipient, out.requester = callerCopy, otherFinal
		} else {
			out.requester, out.recipient = callerCopy, otherFinal
		}
		c.invalidate(ctx, requesterID, recipientID)
		return out, nil
	}

	return nil, ErrConflict
}

// persistCounterpart applies the counterpart mutations under the same CAS
// discipline. It returns the best-known counterpart record and whether the
// write was abandoned to reconciliation.
func (c *Coordinator) persistCounterpart(ctx context.Context, rec *domain.RelationshipRecord, muts []domain.Mutation) (*domain.RelationshipRecord, bool) {
	l := pkglog.Ctx(ctx)

	cur := rec
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		cp := cur.Clone()
		cp.Apply(muts)
		err := c.store.Update(ctx, cp)
		if err == nil {
			return cp, false
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			l.Error().Err(err).Str(pkglog.FieldUserID, rec.ID).Msg("counterpart write failed")
			break
		}
		fresh, gerr := c.store.Get(ctx, rec.ID)
		if gerr != nil {
			l.Error().Err(gerr).Str(pkglog.FieldUserID, rec.ID).Msg("counterpart re-read failed")
			break
		}
		cur = fresh
	}

	// Report the projected end state; the reconciler will make it real.
	projected := cur.Clone()
	projected.Apply(muts)
	return projected, true
}

// CreateAccount provisions an empty relationship record for a new user.
// Idempotent: an existing record is not an error.
func (c *Coordinator) CreateAccount(ctx context.Context, userID string) error {
	err := c.store.Create(ctx, domain.NewRelationshipRecord(userID))
	if err != nil && !errors.Is(err, store.ErrRecordExists) {
		return err
	}
	return nil
}

// DeleteAccount removes a user's record after stripping every edge that
// references it from counterpart records. Counterpart writes use the same
// CAS discipline; any that cannot be completed are queued for the reconciler,
// which treats references to a missing record as removable.
func (c *Coordinator) DeleteAccount(ctx context.Context, userID string) error {
	l := pkglog.Ctx(ctx)

	rec, err := c.store.Get(ctx, userID)
	if err != nil {
		return mapStoreErr(err)
	}

	seen := make(map[string]struct{})
	counterparts := make([]string, 0, len(rec.Followers)+len(rec.Following))
	collect := func(ids []string) {
		for _, id := range ids {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				counterparts = append(counterparts, id)
			}
		}
	}
	collect(rec.Followers)
	collect(rec.Following)
	collect(rec.FollowRequests.IDs())
	collect(rec.SentRequests.IDs())

	strip := []domain.Mutation{
		{Op: domain.OpRemoveFollower, UserID: userID},
		{Op: domain.OpRemoveFollowing, UserID: userID},
		{Op: domain.OpRemoveFollowRequest, UserID: userID},
		{Op: domain.OpRemoveSentRequest, UserID: userID},
	}

	for _, cpID := range counterparts {
		if err := c.stripCounterpart(ctx, cpID, strip); err != nil {
			c.flagPair(ctx, userID, cpID)
			l.Warn().Err(err).
				Str(pkglog.FieldUserID, cpID).
				Msg("account deletion fan-out deferred to reconciler")
		}
		c.invalidate(ctx, userID, cpID)
	}

	if err := c.store.Delete(ctx, userID); err != nil && !errors.Is(err, store.ErrRecordNotFound) {
		return err
	}
	if c.cache != nil {
		if err := c.cache.InvalidateCounts(ctx, userID); err != nil {
			l.Warn().Err(err).Str(pkglog.FieldUserID, userID).Msg("failed to invalidate counts cache")
		}
	}
	return nil
}

func (c *Coordinator) stripCounterpart(ctx context.Context, cpID string, muts []domain.Mutation) error {
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		cpRec, err := c.store.Get(ctx, cpID)
		if err != nil {
			if errors.Is(err, store.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		cp := cpRec.Clone()
		if !cp.Apply(muts) {
			return nil
		}
		err = c.store.Update(ctx, cp)
		if err == nil {
			return nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return err
		}
	}
	return ErrConflict
}

// flagPair enqueues a pair for reconciliation. Best effort: if even the
// queue write fails, the periodic sweep will still find the asymmetry.
func (c *Coordinator) flagPair(ctx context.Context, a, b string) {
	if c.queue == nil {
		return
	}
	if err := c.queue.Enqueue(ctx, cache.Pair{A: a, B: b}); err != nil {
		l := pkglog.Ctx(ctx)
		l.Error().Err(err).
			Str(pkglog.FieldActorID, a).
			Str(pkglog.FieldTargetID, b).
			Msg("failed to enqueue pair for reconciliation")
	}
}

func (c *Coordinator) invalidate(ctx context.Context, a, b string) {
	if c.cache == nil {
		return
	}
	l := pkglog.Ctx(ctx)
	if err := c.cache.InvalidatePair(ctx, a, b); err != nil {
		l.Warn().Err(err).Msg("failed to invalidate status cache")
	}
	for _, id := range []string{a, b} {
		if err := c.cache.InvalidateCounts(ctx, id); err != nil {
			l.Warn().Err(err).Str(pkglog.FieldUserID, id).Msg("failed to invalidate counts cache")
		}
	}
}

// emit publishes a relationship event after a fully committed operation.
// Partial or no-op outcomes emit nothing; publish failures are logged only.
func (c *Coordinator) emit(ctx context.Context, out *applied, typ domain.EventType, actorID, targetID string) {
	if out.noop || out.partial || c.bridge == nil {
		return
	}
	ev := domain.RelationshipEvent{
		ID:        uuid.New().String(),
		Type:      typ,
		ActorID:   actorID,
		TargetID:  targetID,
		NewState:  out.state,
		Timestamp: c.now(),
	}
	if err := c.bridge.Publish(ctx, ev); err != nil {
		l := pkglog.Ctx(ctx)
		l.Warn().Err(err).
			Str("event_type", string(typ)).
			Str(pkglog.FieldActorID, actorID).
			Str(pkglog.FieldTargetID, targetID).
			Msg("failed to publish relationship event")
	}
}

func mapStoreErr(err error) error {
	if errors.Is(err, store.ErrRecordNotFound) {
		return ErrUserNotFound
	}
	return err
}

// Ensure interface is satisfied at compile time.
var _ RelationshipService = (*Coordinator)(nil)
