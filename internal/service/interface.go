package service

import (
	"context"
	"errors"
	"time"

	"github.com/pulsefeed/social-graph-service/internal/domain"
)

var (
	// ErrUserNotFound means the actor or target id does not resolve to an
	// existing account. Never retried.
	ErrUserNotFound = errors.New("user not found")

	// ErrConflict means the bounded CAS retry loop was exhausted. Callers may
	// retry at a higher layer.
	ErrConflict = errors.New("write conflict, retries exhausted")
)

// Status words returned to clients. "follow" is the actionable no-relationship
// state (the button the client renders).
const (
	StatusSelf      = "self"
	StatusFollow    = "follow"
	StatusRequested = "requested"
	StatusFollowing = "following"
	StatusAlready   = "already"
	StatusNone      = "none"
)

// RequestResult is the outcome of a request-lifecycle operation.
type RequestResult struct {
	Status string           `json:"status"`
	State  domain.EdgeState `json:"state"`
	// Partial means the caller-side write committed but the counterpart
	// write did not; the pair is queued for reconciliation.
	Partial bool `json:"partial,omitempty"`
}

// FollowCounts is the outcome of accept/unfollow: the followee's follower
// count and the follower's following count after the operation.
type FollowCounts struct {
	FollowerCount  int64 `json:"follower_count"`
	FollowingCount int64 `json:"following_count"`
	Partial        bool  `json:"partial,omitempty"`
}

// RelationshipService coordinates follow/request transitions across both
// sides of a relationship pair.
type RelationshipService interface {
	SendFollowRequest(ctx context.Context, actorID, targetID string) (*RequestResult, error)
	CancelFollowRequest(ctx context.Context, actorID, targetID string) (*RequestResult, error)
	RejectFollowRequest(ctx context.Context, actorID, requesterID string) (*RequestResult, error)
	AcceptFollowRequest(ctx context.Context, actorID, requesterID string) (*FollowCounts, error)
	UnfollowUser(ctx context.Context, actorID, targetID string) (*FollowCounts, error)

	CreateAccount(ctx context.Context, userID string) error
	DeleteAccount(ctx context.Context, userID string) error
}

// StatusInfo is the derived relationship status between two users, read from
// the actor's record only.
type StatusInfo struct {
	Status       string `json:"status"`
	IsFollowing  bool   `json:"is_following"`
	IsFollowedBy bool   `json:"is_followed_by"`
	IsMutual     bool   `json:"is_mutual"`
}

// Page is one page of a relationship listing.
type Page struct {
	List       []string `json:"list"`
	TotalCount int64    `json:"total_count"`
	Page       int      `json:"page"`
	PageSize   int      `json:"page_size"`
	TotalPages int      `json:"total_pages"`
}

// RequestEntry is one pending follow request with its creation time.
type RequestEntry struct {
	UserID      string    `json:"user_id"`
	RequestedAt time.Time `json:"requested_at"`
}

// RequestPage is one page of a pending-request listing.
type RequestPage struct {
	List       []RequestEntry `json:"list"`
	TotalCount int64          `json:"total_count"`
	Page       int            `json:"page"`
	PageSize   int            `json:"page_size"`
	TotalPages int            `json:"total_pages"`
}

// QueryService serves read-only status and listing lookups. Reads may be
// transiently stale relative to the counterpart record during a
// reconciliation window.
type QueryService interface {
	GetStatus(ctx context.Context, actorID, targetID string) (*StatusInfo, error)
	GetBatchStatus(ctx context.Context, actorID string, targetIDs []string) (map[string]*StatusInfo, error)
	GetFollowers(ctx context.Context, userID string, page, pageSize int) (*Page, error)
	GetFollowing(ctx context.Context, userID string, page, pageSize int) (*Page, error)
	GetFollowRequests(ctx context.Context, userID string, page, pageSize int) (*RequestPage, error)
	GetSentRequests(ctx context.Context, userID string, page, pageSize int) (*RequestPage, error)
}
