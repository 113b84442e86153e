package domain

import "time"

// EventType identifies a relationship-change event emitted to the
// notification bridge after a fully committed operation.
type EventType string

const (
	EventRequestSent     EventType = "requestSent"
	EventRequestAccepted EventType = "requestAccepted"
	EventRequestRejected EventType = "requestRejected"
	EventUnfollowed      EventType = "unfollowed"
)

// RelationshipEvent is the abstract "relationship changed" event. Delivery
// semantics belong to the bridge; from this service's perspective it is
// best-effort, at most once.
type RelationshipEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	ActorID   string    `json:"actor_id"`
	TargetID  string    `json:"target_id"`
	NewState  EdgeState `json:"new_state"`
	Timestamp time.Time `json:"timestamp"`
}
