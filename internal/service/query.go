package service

import (
	"context"
	"encoding/json"

	"github.com/pulsefeed/social-graph-service/internal/cache"
	"github.com/pulsefeed/social-graph-service/internal/domain"
	"github.com/pulsefeed/social-graph-service/internal/store"
	"github.com/pulsefeed/social-graph-service/pkg/database"
	pkglog "github.com/pulsefeed/social-graph-service/pkg/log"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Query implements QueryService on top of the record store, with a
// read-through Redis cache for status lookups and counts. The cache is
// allowed to be stale (bounded by its TTL and invalidation on writes) and is
// never consulted for pagination contents, only warmed for counters.
type Query struct {
	store store.RecordStore
	cache cache.RelationshipCache
}

// NewQuery creates a QueryService. cache may be nil to disable caching.
func NewQuery(s store.RecordStore, c cache.RelationshipCache) *Query {
	return &Query{store: s, cache: c}
}

// GetStatus derives the relationship status purely from the actor's record.
func (q *Query) GetStatus(ctx context.Context, actorID, targetID string) (*StatusInfo, error) {
	l := pkglog.Ctx(ctx)

	if actorID == targetID {
		return &StatusInfo{Status: StatusSelf}, nil
	}

	if q.cache != nil {
		if raw, ok, err := q.cache.GetStatus(ctx, actorID, targetID); err != nil {
			l.Warn().Err(err).Msg("status cache read failed, falling back to store")
		} else if ok {
			var info StatusInfo
			if err := json.Unmarshal([]byte(raw), &info); err == nil {
				return &info, nil
			}
		}
	}

	rec, err := q.store.Get(ctx, actorID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	// Target existence still matters even though only the actor's record is
	// read for the derivation.
	if _, err := q.store.Get(ctx, targetID); err != nil {
		return nil, mapStoreErr(err)
	}

	info := deriveStatus(rec, targetID)

	if q.cache != nil {
		if data, err := json.Marshal(info); err == nil {
			if err := q.cache.SetStatus(ctx, actorID, targetID, string(data)); err != nil {
				l.Warn().Err(err).Msg("status cache write failed")
			}
		}
	}

	return info, nil
}

// GetBatchStatus derives statuses for a set of targets from a single read of
// the actor's record. Target ids are not checked for existence: an id the
// actor has no relationship with, known or not, reads as the actionable
// follow state.
func (q *Query) GetBatchStatus(ctx context.Context, actorID string, targetIDs []string) (map[string]*StatusInfo, error) {
	rec, err := q.store.Get(ctx, actorID)
	if err != nil {
		return nil, mapStoreErr(err)
	}

	out := make(map[string]*StatusInfo, len(targetIDs))
	for _, id := range targetIDs {
		if id == actorID {
			out[id] = &StatusInfo{Status: StatusSelf}
			continue
		}
		out[id] = deriveStatus(rec, id)
	}
	return out, nil
}

// GetFollowers returns one page of the user's followers. Total comes from the
// stored counter, not a live re-count, keeping the read O(page size).
func (q *Query) GetFollowers(ctx context.Context, userID string, page, pageSize int) (*Page, error) {
	rec, err := q.loadForListing(ctx, userID)
	if err != nil {
		return nil, err
	}
	return paginate(rec.Followers, rec.FollowerCount, page, pageSize), nil
}

// GetFollowing returns one page of the users this user follows.
func (q *Query) GetFollowing(ctx context.Context, userID string, page, pageSize int) (*Page, error) {
	rec, err := q.loadForListing(ctx, userID)
	if err != nil {
		return nil, err
	}
	return paginate(rec.Following, rec.FollowingCount, page, pageSize), nil
}

// GetFollowRequests returns one page of pending incoming requests, oldest
// first.
func (q *Query) GetFollowRequests(ctx context.Context, userID string, page, pageSize int) (*RequestPage, error) {
	rec, err := q.loadForListing(ctx, userID)
	if err != nil {
		return nil, err
	}
	return paginateRequests(rec.FollowRequests, page, pageSize), nil
}

// GetSentRequests returns one page of pending outgoing requests, oldest first.
func (q *Query) GetSentRequests(ctx context.Context, userID string, page, pageSize int) (*RequestPage, error) {
	rec, err := q.loadForListing(ctx, userID)
	if err != nil {
		return nil, err
	}
	return paginateRequests(rec.SentRequests, page, pageSize), nil
}

// loadForListing fetches the record, tracks hot-key access, and warms the
// counts cache.
func (q *Query) loadForListing(ctx context.Context, userID string) (*domain.RelationshipRecord, error) {
	l := pkglog.Ctx(ctx)

	rec, err := q.store.Get(ctx, userID)
	if err != nil {
		return nil, mapStoreErr(err)
	}

	if q.cache != nil {
		if err := q.cache.RecordAccess(ctx, userID); err != nil {
			l.Warn().Err(err).Str(pkglog.FieldUserID, userID).Msg("failed to record hot key access")
		}
		if err := q.cache.SetCounts(ctx, userID, rec.FollowerCount, rec.FollowingCount); err != nil {
			l.Warn().Err(err).Str(pkglog.FieldUserID, userID).Msg("failed to warm counts cache")
		}
	}
	return rec, nil
}

func deriveStatus(rec *domain.RelationshipRecord, targetID string) *StatusInfo {
	info := &StatusInfo{
		IsFollowing:  rec.Following.Contains(targetID),
		IsFollowedBy: rec.IsFollowedBy(targetID),
	}
	info.IsMutual = info.IsFollowing && info.IsFollowedBy

	switch {
	case info.IsFollowing:
		info.Status = StatusFollowing
	case rec.SentRequests.Contains(targetID):
		info.Status = StatusRequested
	default:
		info.Status = StatusFollow
	}
	return info
}

func clampPaging(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return page, pageSize
}

func totalPages(total int64, pageSize int) int {
	if total == 0 {
		return 0
	}
	return int((total + int64(pageSize) - 1) / int64(pageSize))
}

func paginate(members []string, total int64, page, pageSize int) *Page {
	page, pageSize = clampPaging(page, pageSize)

	start := (page - 1) * pageSize
	list := []string{}
	if start < len(members) {
		end := start + pageSize
		if end > len(members) {
			end = len(members)
		}
		list = append(list, members[start:end]...)
	}

	return &Page{
		List:       list,
		TotalCount: total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages(total, pageSize),
	}
}

func paginateRequests(m database.TimeMap, page, pageSize int) *RequestPage {
	page, pageSize = clampPaging(page, pageSize)

	ids := m.IDs()
	start := (page - 1) * pageSize
	list := []RequestEntry{}
	if start < len(ids) {
		end := start + pageSize
		if end > len(ids) {
			end = len(ids)
		}
		for _, id := range ids[start:end] {
			list = append(list, RequestEntry{UserID: id, RequestedAt: m[id]})
		}
	}

	return &RequestPage{
		List:       list,
		TotalCount: int64(len(ids)),
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages(int64(len(ids)), pageSize),
	}
}

// Ensure interface is satisfied at compile time.
var _ QueryService = (*Query)(nil)
