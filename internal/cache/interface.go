package cache

import (
	"context"
	"time"
)

// Pair identifies a relationship pair flagged for reconciliation. It is
// stored unordered (Canonical sorts the two ids) because the reconciler
// always re-checks both directions.
type Pair struct {
	A string
	B string
}

// Canonical returns the pair with ids in lexical order so (x,y) and (y,x)
// collapse to one queue entry.
func (p Pair) Canonical() Pair {
	if p.B < p.A {
		return Pair{A: p.B, B: p.A}
	}
	return p
}

// RelationshipCache is the read-through cache for status lookups and
// follower/following counts, plus hot-key access tracking. It is explicitly
// allowed to be stale and is never the source of truth.
type RelationshipCache interface {
	GetStatus(ctx context.Context, actorID, targetID string) (string, bool, error)
	SetStatus(ctx context.Context, actorID, targetID, status string) error
	InvalidatePair(ctx context.Context, a, b string) error

	GetCounts(ctx context.Context, userID string) (followers, following int64, ok bool, err error)
	SetCounts(ctx context.Context, userID string, followers, following int64) error
	// RefreshCounts updates the cached counts only if an entry already
	// exists, so out-of-band change events cannot seed the cache with a
	// value no reader asked for.
	RefreshCounts(ctx context.Context, userID string, followers, following int64) error
	InvalidateCounts(ctx context.Context, userID string) error

	RecordAccess(ctx context.Context, userID string) error
	TopHotKeys(ctx context.Context, n int64) ([]string, error)
	ResetHotKeys(ctx context.Context) error

	Close() error
}

// PairQueue is the reconciliation work queue. Entries are scored by the time
// they were flagged, are due from that moment on, and stay queued until
// acknowledged. Re-flagging a queued pair keeps the original score.
type PairQueue interface {
	Enqueue(ctx context.Context, p Pair) error
	Due(ctx context.Context, now time.Time, limit int64) ([]Pair, error)
	Ack(ctx context.Context, p Pair) error
}
