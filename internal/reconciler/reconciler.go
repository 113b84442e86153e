package reconciler

import (
	"context"
	"errors"
	"time"

	"github.com/pulsefeed/social-graph-service/internal/cache"
	"github.com/pulsefeed/social-graph-service/internal/config"
	"github.com/pulsefeed/social-graph-service/internal/domain"
	"github.com/pulsefeed/social-graph-service/internal/store"
	pkglog "github.com/pulsefeed/social-graph-service/pkg/log"
)

// errAmbiguous marks a pair whose two sides disagree in a way no ordering
// signal can resolve. Such pairs are logged for operator attention and left
// untouched; silent auto-repair is deliberately avoided here.
var errAmbiguous = errors.New("ambiguous pair state")

// Reconciler repairs relationship pairs whose two records fell out of sync
// after a partial write. It drains the flagged-pair queue and periodically
// sweeps the whole store; it also refreshes cached counts for hot keys. All
// of its writes go through the same version guard as the coordinator's.
type Reconciler struct {
	store  store.RecordStore
	queue  cache.PairQueue
	cache  cache.RelationshipCache
	cfg    config.ReconcilerConfig
	quit   chan struct{}
	doneCh chan struct{}
}

// New creates a new Reconciler. cache may be nil.
func New(s store.RecordStore, q cache.PairQueue, c cache.RelationshipCache, cfg config.ReconcilerConfig) *Reconciler {
	return &Reconciler{
		store:  s,
		queue:  q,
		cache:  c,
		cfg:    cfg,
		quit:   make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start launches the reconciler in a background goroutine.
func (r *Reconciler) Start(ctx context.Context) {
	go r.run(ctx)
}

// Stop signals the reconciler to stop and returns immediately.
// Call Done() to wait for it to exit.
func (r *Reconciler) Stop() {
	close(r.quit)
}

// Done returns a channel that is closed when the reconciler has fully stopped.
func (r *Reconciler) Done() <-chan struct{} {
	return r.doneCh
}

func (r *Reconciler) run(ctx context.Context) {
	defer close(r.doneCh)

	interval := r.cfg.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	sweepInterval := r.cfg.SweepInterval
	if sweepInterval <= 0 {
		sweepInterval = 10 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	sweepTicker := time.NewTicker(sweepInterval)
	defer sweepTicker.Stop()

	for {
		select {
		case <-r.quit:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.DrainQueue(ctx)
		case <-sweepTicker.C:
			r.Sweep(ctx)
			r.refreshHotKeys(ctx)
		}
	}
}

// DrainQueue repairs every currently-due flagged pair. Pairs that cannot be
// repaired (including ambiguous ones) stay queued for the next cycle, except
// ambiguous pairs, which are acknowledged once logged so they do not clog
// the queue.
func (r *Reconciler) DrainQueue(ctx context.Context) {
	l := pkglog.L()

	batch := int64(r.cfg.BatchSize)
	if batch <= 0 {
		batch = 100
	}

	pairs, err := r.queue.Due(ctx, time.Now(), batch)
	if err != nil {
		l.Error().Err(err).Msg("reconciler: failed to read pair queue")
		return
	}

	for _, p := range pairs {
		err := r.ReconcilePair(ctx, p.A, p.B)
		switch {
		case err == nil, errors.Is(err, errAmbiguous):
			if ackErr := r.queue.Ack(ctx, p); ackErr != nil {
				l.Error().Err(ackErr).Msg("reconciler: failed to ack pair")
			}
		default:
			l.Error().Err(err).
				Str(pkglog.FieldActorID, p.A).
				Str(pkglog.FieldTargetID, p.B).
				Msg("reconciler: pair repair failed, will retry")
		}
	}
}

// ReconcilePair re-reads both records, evaluates the pair invariants in both
// directions, and applies the minimal corrective mutations. Corrections are
// idempotent and safe to re-run.
func (r *Reconciler) ReconcilePair(ctx context.Context, aID, bID string) error {
	if aID == bID {
		return nil
	}

	var ambiguous bool
	for attempt := 0; attempt < 3; attempt++ {
		recA, errA := r.store.Get(ctx, aID)
		recB, errB := r.store.Get(ctx, bID)

		if isMissing(errA) && isMissing(errB) {
			return nil
		}
		// One record gone: strip every reference to the missing user.
		if isMissing(errA) {
			return r.stripReferences(ctx, recB, errB, aID)
		}
		if isMissing(errB) {
			return r.stripReferences(ctx, recA, errA, bID)
		}
		if errA != nil {
			return errA
		}
		if errB != nil {
			return errB
		}

		mutsA, mutsB, amb := repairPlan(recA, recB)
		ambiguous = amb

		changed := false
		for _, side := range []struct {
			rec  *domain.RelationshipRecord
			muts []domain.Mutation
		}{{recA, mutsA}, {recB, mutsB}} {
			cp := side.rec.Clone()
			counterBefore := [2]int64{cp.FollowerCount, cp.FollowingCount}
			mutated := cp.Apply(side.muts)
			counterFixed := counterBefore != [2]int64{cp.FollowerCount, cp.FollowingCount}
			if !mutated && !counterFixed {
				continue
			}
			if err := r.store.Update(ctx, cp); err != nil {
				if errors.Is(err, store.ErrVersionConflict) || errors.Is(err, store.ErrRecordNotFound) {
					changed = false
					break // re-read and re-plan
				}
				return err
			}
			changed = true
			r.invalidate(ctx, side.rec.ID, aID, bID)
		}

		if changed || (len(mutsA) == 0 && len(mutsB) == 0) {
			if ambiguous {
				return errAmbiguous
			}
			return nil
		}
	}

	if ambiguous {
		return errAmbiguous
	}
	return store.ErrVersionConflict
}

// repairPlan computes corrective mutations for both directions of the pair.
// For each direction the record with the newer UpdatedAt is authoritative;
// with no usable ordering signal, a lone missing half is completed, and a
// genuine two-sided disagreement is reported as ambiguous.
func repairPlan(recA, recB *domain.RelationshipRecord) (mutsA, mutsB []domain.Mutation, ambiguous bool) {
	l := pkglog.L()

	for _, dir := range []struct {
		src, dst *domain.RelationshipRecord
	}{{recA, recB}, {recB, recA}} {
		srcState := dir.src.EdgeStateTo(dir.dst.ID)
		dstState := dir.dst.EdgeStateFrom(dir.src.ID)

		// A follow and a pending request for the same target cannot
		// coexist. The committed follow wins; the stale request goes.
		var srcFix, dstFix []domain.Mutation
		if dir.src.Following.Contains(dir.dst.ID) && dir.src.SentRequests.Contains(dir.dst.ID) {
			srcFix = append(srcFix, domain.Mutation{Op: domain.OpRemoveSentRequest, UserID: dir.dst.ID})
		}
		if dir.dst.Followers.Contains(dir.src.ID) && dir.dst.FollowRequests.Contains(dir.src.ID) {
			dstFix = append(dstFix, domain.Mutation{Op: domain.OpRemoveFollowRequest, UserID: dir.src.ID})
		}

		if srcState != dstState {
			var want domain.EdgeState
			switch {
			case dir.src.UpdatedAt.After(dir.dst.UpdatedAt):
				want = srcState
			case dir.dst.UpdatedAt.After(dir.src.UpdatedAt):
				want = dstState
			case srcState == domain.EdgeNone:
				want = dstState
			case dstState == domain.EdgeNone:
				want = srcState
			default:
				l.Error().
					Str(pkglog.FieldActorID, dir.src.ID).
					Str(pkglog.FieldTargetID, dir.dst.ID).
					Str("src_state", string(srcState)).
					Str("dst_state", string(dstState)).
					Time("src_updated_at", dir.src.UpdatedAt).
					Time("dst_updated_at", dir.dst.UpdatedAt).
					Msg("reconciler: ambiguous pair state, not auto-repairing")
				ambiguous = true
				continue
			}

			at := requestTimestamp(dir.src, dir.dst)
			srcFix = append(srcFix, edgeMutations(want, dir.dst.ID, at, true)...)
			dstFix = append(dstFix, edgeMutations(want, dir.src.ID, at, false)...)
		}

		if dir.src == recA {
			mutsA = append(mutsA, srcFix...)
			mutsB = append(mutsB, dstFix...)
		} else {
			mutsB = append(mutsB, srcFix...)
			mutsA = append(mutsA, dstFix...)
		}
	}

	return mutsA, mutsB, ambiguous
}

// edgeMutations returns the mutations that force one side's half of the
// directed edge into the wanted state. sourceSide selects the follower side
// (following/sentRequests) versus the followee side (followers/followRequests).
func edgeMutations(want domain.EdgeState, otherID string, at time.Time, sourceSide bool) []domain.Mutation {
	if sourceSide {
		muts := []domain.Mutation{
			{Op: domain.OpRemoveFollowing, UserID: otherID},
			{Op: domain.OpRemoveSentRequest, UserID: otherID},
		}
		switch want {
		case domain.EdgeFollowing:
			muts = []domain.Mutation{
				{Op: domain.OpRemoveSentRequest, UserID: otherID},
				{Op: domain.OpAddFollowing, UserID: otherID},
			}
		case domain.EdgeRequested:
			muts = []domain.Mutation{
				{Op: domain.OpRemoveFollowing, UserID: otherID},
				{Op: domain.OpAddSentRequest, UserID: otherID, At: at},
			}
		}
		return muts
	}

	muts := []domain.Mutation{
		{Op: domain.OpRemoveFollower, UserID: otherID},
		{Op: domain.OpRemoveFollowRequest, UserID: otherID},
	}
	switch want {
	case domain.EdgeFollowing:
		muts = []domain.Mutation{
			{Op: domain.OpRemoveFollowRequest, UserID: otherID},
			{Op: domain.OpAddFollower, UserID: otherID},
		}
	case domain.EdgeRequested:
		muts = []domain.Mutation{
			{Op: domain.OpRemoveFollower, UserID: otherID},
			{Op: domain.OpAddFollowRequest, UserID: otherID, At: at},
		}
	}
	return muts
}

// requestTimestamp picks the original request time from whichever side still
// has it, so a completed half keeps the real timestamp instead of now.
func requestTimestamp(src, dst *domain.RelationshipRecord) time.Time {
	if ts, ok := src.SentRequests[dst.ID]; ok {
		return ts
	}
	if ts, ok := dst.FollowRequests[src.ID]; ok {
		return ts
	}
	return time.Now().UTC()
}

func (r *Reconciler) stripReferences(ctx context.Context, rec *domain.RelationshipRecord, recErr error, missingID string) error {
	if recErr != nil {
		return recErr
	}

	muts := []domain.Mutation{
		{Op: domain.OpRemoveFollower, UserID: missingID},
		{Op: domain.OpRemoveFollowing, UserID: missingID},
		{Op: domain.OpRemoveFollowRequest, UserID: missingID},
		{Op: domain.OpRemoveSentRequest, UserID: missingID},
	}

	for attempt := 0; attempt < 3; attempt++ {
		cp := rec.Clone()
		if !cp.Apply(muts) {
			return nil
		}
		err := r.store.Update(ctx, cp)
		if err == nil {
			r.invalidate(ctx, rec.ID, rec.ID, missingID)
			return nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return err
		}
		fresh, gerr := r.store.Get(ctx, rec.ID)
		if gerr != nil {
			if isMissing(gerr) {
				return nil
			}
			return gerr
		}
		rec = fresh
	}
	return store.ErrVersionConflict
}

// Sweep pages through every record looking for asymmetric edges and flags
// the affected pairs. The queue path then repairs them with the usual
// discipline, so the sweep itself stays read-only.
func (r *Reconciler) Sweep(ctx context.Context) {
	l := pkglog.L()

	pageSize := r.cfg.SweepPageSize
	if pageSize <= 0 {
		pageSize = 200
	}

	flagged := 0
	for offset := 0; ; offset += pageSize {
		select {
		case <-r.quit:
			return
		case <-ctx.Done():
			return
		default:
		}

		ids, err := r.store.ListIDs(ctx, offset, pageSize)
		if err != nil {
			l.Error().Err(err).Msg("reconciler: sweep listing failed")
			return
		}
		if len(ids) == 0 {
			break
		}

		for _, id := range ids {
			n, err := r.sweepRecord(ctx, id)
			if err != nil {
				l.Error().Err(err).Str(pkglog.FieldUserID, id).Msg("reconciler: sweep record failed")
				continue
			}
			flagged += n
		}
	}

	l.Info().Int("flagged", flagged).Msg("reconciler: sweep complete")
}

func (r *Reconciler) sweepRecord(ctx context.Context, id string) (int, error) {
	rec, err := r.store.Get(ctx, id)
	if err != nil {
		if isMissing(err) {
			return 0, nil
		}
		return 0, err
	}

	flagged := 0
	flag := func(other string) error {
		flagged++
		return r.queue.Enqueue(ctx, cache.Pair{A: id, B: other})
	}

	if !rec.CountersConsistent() {
		// Self-repairable without a counterpart; an empty mutation list
		// re-derives both counters.
		cp := rec.Clone()
		cp.Apply(nil)
		if err := r.store.Update(ctx, cp); err != nil && !errors.Is(err, store.ErrVersionConflict) {
			return flagged, err
		}
	}

	check := func(otherID string, mine domain.EdgeState, theirs func(*domain.RelationshipRecord) domain.EdgeState) error {
		other, err := r.store.Get(ctx, otherID)
		if err != nil {
			if isMissing(err) {
				return flag(otherID)
			}
			return err
		}
		if theirs(other) != mine {
			return flag(otherID)
		}
		return nil
	}

	for _, otherID := range rec.Following {
		if err := check(otherID, domain.EdgeFollowing, func(o *domain.RelationshipRecord) domain.EdgeState {
			return o.EdgeStateFrom(id)
		}); err != nil {
			return flagged, err
		}
	}
	for _, otherID := range rec.SentRequests.IDs() {
		if err := check(otherID, rec.EdgeStateTo(otherID), func(o *domain.RelationshipRecord) domain.EdgeState {
			return o.EdgeStateFrom(id)
		}); err != nil {
			return flagged, err
		}
	}
	for _, otherID := range rec.Followers {
		if err := check(otherID, domain.EdgeFollowing, func(o *domain.RelationshipRecord) domain.EdgeState {
			return o.EdgeStateTo(id)
		}); err != nil {
			return flagged, err
		}
	}
	for _, otherID := range rec.FollowRequests.IDs() {
		if err := check(otherID, rec.EdgeStateFrom(otherID), func(o *domain.RelationshipRecord) domain.EdgeState {
			return o.EdgeStateTo(id)
		}); err != nil {
			return flagged, err
		}
	}

	return flagged, nil
}

// refreshHotKeys re-warms cached counts for the most-read users from the
// store, then resets the scores for the next window.
func (r *Reconciler) refreshHotKeys(ctx context.Context) {
	if r.cache == nil {
		return
	}
	l := pkglog.L()

	topN := int64(r.cfg.TopN)
	if topN <= 0 {
		topN = 100
	}

	ids, err := r.cache.TopHotKeys(ctx, topN)
	if err != nil {
		l.Error().Err(err).Msg("reconciler: failed to get top hot keys")
		return
	}

	for _, id := range ids {
		rec, err := r.store.Get(ctx, id)
		if err != nil {
			if isMissing(err) {
				continue
			}
			l.Error().Err(err).Str(pkglog.FieldUserID, id).Msg("reconciler: hot key read failed")
			continue
		}
		if err := r.cache.SetCounts(ctx, id, rec.FollowerCount, rec.FollowingCount); err != nil {
			l.Error().Err(err).Str(pkglog.FieldUserID, id).Msg("reconciler: hot key cache write failed")
		}
	}

	if err := r.cache.ResetHotKeys(ctx); err != nil {
		l.Error().Err(err).Msg("reconciler: failed to reset hot key scores")
	}
}

func (r *Reconciler) invalidate(ctx context.Context, userID, a, b string) {
	if r.cache == nil {
		return
	}
	l := pkglog.L()
	if err := r.cache.InvalidatePair(ctx, a, b); err != nil {
		l.Warn().Err(err).Msg("reconciler: failed to invalidate status cache")
	}
	if err := r.cache.InvalidateCounts(ctx, userID); err != nil {
		l.Warn().Err(err).Str(pkglog.FieldUserID, userID).Msg("reconciler: failed to invalidate counts cache")
	}
}

func isMissing(err error) bool {
	return errors.Is(err, store.ErrRecordNotFound)
}
