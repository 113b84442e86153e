package consumer

import (
	"context"

	"github.com/pulsefeed/social-graph-service/internal/cache"
	pkglog "github.com/pulsefeed/social-graph-service/pkg/log"
)

// CacheRefresher keeps the Redis count cache in step with out-of-band record
// changes (another instance's writes, manual repairs, the reconciler running
// elsewhere). It only refreshes entries that already exist, so CDC traffic
// alone can never seed the cache.
type CacheRefresher struct {
	cache cache.RelationshipCache
}

// NewCacheRefresher creates a CDC handler over the relationship cache.
func NewCacheRefresher(c cache.RelationshipCache) *CacheRefresher {
	return &CacheRefresher{cache: c}
}

// HandleCDCEvent applies one Debezium change event to the cache.
func (h *CacheRefresher) HandleCDCEvent(ctx context.Context, event *DebeziumMessage) error {
	l := pkglog.Ctx(ctx)

	switch event.Payload.Op {
	case "r":
		// Snapshot read, nothing changed.
		return nil

	case "c", "u":
		after := event.Payload.After
		if after == nil {
			l.Warn().Str("op", event.Payload.Op).Msg("CDC event missing 'after' row")
			return nil
		}
		if err := h.cache.RefreshCounts(ctx, after.ID, after.FollowerCount, after.FollowingCount); err != nil {
			l.Error().Err(err).Str(pkglog.FieldUserID, after.ID).Msg("failed to refresh cached counts")
			return err
		}

	case "d":
		before := event.Payload.Before
		if before == nil {
			l.Warn().Msg("CDC delete event missing 'before' row")
			return nil
		}
		if err := h.cache.InvalidateCounts(ctx, before.ID); err != nil {
			l.Error().Err(err).Str(pkglog.FieldUserID, before.ID).Msg("failed to drop cached counts")
			return err
		}

	default:
		l.Warn().Str("op", event.Payload.Op).Msg("unknown CDC operation, skipping")
	}

	return nil
}

// Ensure interface is satisfied at compile time.
var _ CDCEventHandler = (*CacheRefresher)(nil)
