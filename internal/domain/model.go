package domain

import (
	"time"

	"github.com/pulsefeed/social-graph-service/pkg/database"
)

// EdgeState is the state of a directed follow edge (actor → target).
type EdgeState string

const (
	EdgeNone      EdgeState = "none"
	EdgeRequested EdgeState = "requested"
	EdgeFollowing EdgeState = "following"
)

// Action is a caller-initiated operation on a directed edge.
type Action string

const (
	ActionSendRequest   Action = "sendRequest"
	ActionCancelRequest Action = "cancelRequest"
	ActionRejectRequest Action = "rejectRequest"
	ActionAcceptRequest Action = "acceptRequest"
	ActionUnfollow      Action = "unfollow"
)

// RelationshipRecord is the per-user persisted state of every edge touching
// that user. Counters are derived from the sets and re-computed on every
// mutation; they are persisted only to keep reads O(1). Version is the
// optimistic-concurrency token: a write succeeds only if the stored version
// still matches the one that was read.
type RelationshipRecord struct {
	ID             string               `gorm:"primaryKey;type:varchar(36)"`
	Followers      database.StringArray `gorm:"column:followers;type:text"`
	Following      database.StringArray `gorm:"column:following;type:text"`
	FollowRequests database.TimeMap     `gorm:"column:follow_requests;type:text"`
	SentRequests   database.TimeMap     `gorm:"column:sent_requests;type:text"`
	FollowerCount  int64                `gorm:"column:follower_count;not null;default:0"`
	FollowingCount int64                `gorm:"column:following_count;not null;default:0"`
	Version        int64                `gorm:"column:version;not null;default:0"`
	CreatedAt      time.Time            `gorm:"autoCreateTime"`
	UpdatedAt      time.Time            `gorm:"autoUpdateTime"`
}

func (RelationshipRecord) TableName() string { return "relationship_records" }

// NewRelationshipRecord returns the empty record created alongside a user
// account: empty sets, zero counters, version 0.
func NewRelationshipRecord(id string) *RelationshipRecord {
	return &RelationshipRecord{
		ID:             id,
		Followers:      database.StringArray{},
		Following:      database.StringArray{},
		FollowRequests: database.TimeMap{},
		SentRequests:   database.TimeMap{},
	}
}

// EdgeStateTo derives the state of the edge (this user → target) from this
// user's own record. Membership in Following wins over SentRequests; the two
// should never overlap after a completed operation.
func (r *RelationshipRecord) EdgeStateTo(targetID string) EdgeState {
	if r.Following.Contains(targetID) {
		return EdgeFollowing
	}
	if r.SentRequests.Contains(targetID) {
		return EdgeRequested
	}
	return EdgeNone
}

// EdgeStateFrom derives the state of the edge (actor → this user) from this
// user's own record, i.e. the counterpart half of EdgeStateTo.
func (r *RelationshipRecord) EdgeStateFrom(actorID string) EdgeState {
	if r.Followers.Contains(actorID) {
		return EdgeFollowing
	}
	if r.FollowRequests.Contains(actorID) {
		return EdgeRequested
	}
	return EdgeNone
}

// IsFollowedBy reports whether actorID is in this user's followers set.
func (r *RelationshipRecord) IsFollowedBy(actorID string) bool {
	return r.Followers.Contains(actorID)
}

// Clone returns a deep copy. Retry loops mutate copies so a failed CAS write
// never leaves a half-mutated record behind.
func (r *RelationshipRecord) Clone() *RelationshipRecord {
	out := *r
	out.Followers = append(database.StringArray{}, r.Followers...)
	out.Following = append(database.StringArray{}, r.Following...)
	out.FollowRequests = make(database.TimeMap, len(r.FollowRequests))
	for k, v := range r.FollowRequests {
		out.FollowRequests[k] = v
	}
	out.SentRequests = make(database.TimeMap, len(r.SentRequests))
	for k, v := range r.SentRequests {
		out.SentRequests[k] = v
	}
	return &out
}

// MutationOp identifies a single ensure-present/ensure-absent change to one
// of the four relationship sets.
type MutationOp int

const (
	OpAddFollower MutationOp = iota
	OpRemoveFollower
	OpAddFollowing
	OpRemoveFollowing
	OpAddFollowRequest
	OpRemoveFollowRequest
	OpAddSentRequest
	OpRemoveSentRequest
)

// Mutation is one idempotent set change. Applying it twice is the same as
// applying it once, which is what makes partial-write repair safe to re-run.
type Mutation struct {
	Op     MutationOp
	UserID string
	At     time.Time
}

// Apply applies the mutations to the record and re-derives both counters from
// actual set membership. It never increments or decrements blindly, so a
// mutation that finds its member already present (or already absent) cannot
// corrupt a counter. Returns whether anything changed.
func (r *RelationshipRecord) Apply(muts []Mutation) bool {
	changed := false
	for _, m := range muts {
		var ok bool
		switch m.Op {
		case OpAddFollower:
			r.Followers, ok = r.Followers.Ensure(m.UserID)
		case OpRemoveFollower:
			r.Followers, ok = r.Followers.Drop(m.UserID)
		case OpAddFollowing:
			r.Following, ok = r.Following.Ensure(m.UserID)
		case OpRemoveFollowing:
			r.Following, ok = r.Following.Drop(m.UserID)
		case OpAddFollowRequest:
			r.FollowRequests, ok = r.FollowRequests.Ensure(m.UserID, m.At)
		case OpRemoveFollowRequest:
			r.FollowRequests, ok = r.FollowRequests.Drop(m.UserID)
		case OpAddSentRequest:
			r.SentRequests, ok = r.SentRequests.Ensure(m.UserID, m.At)
		case OpRemoveSentRequest:
			r.SentRequests, ok = r.SentRequests.Drop(m.UserID)
		}
		changed = changed || ok
	}
	r.FollowerCount = int64(len(r.Followers))
	r.FollowingCount = int64(len(r.Following))
	return changed
}

// CountersConsistent reports whether the persisted counters match the sets.
func (r *RelationshipRecord) CountersConsistent() bool {
	return r.FollowerCount == int64(len(r.Followers)) &&
		r.FollowingCount == int64(len(r.Following))
}
