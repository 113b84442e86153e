package consumer

import "context"

// DebeziumRecordRow represents a relationship_records row in a Debezium CDC
// event. Only the fields the cache cares about are decoded.
type DebeziumRecordRow struct {
	ID             string `json:"id"`
	FollowerCount  int64  `json:"follower_count"`
	FollowingCount int64  `json:"following_count"`
	Version        int64  `json:"version"`
}

// DebeziumPayload is the payload field of a Debezium CDC message.
type DebeziumPayload struct {
	Before *DebeziumRecordRow `json:"before"`
	After  *DebeziumRecordRow `json:"after"`
	Op     string             `json:"op"` // "c"=create, "u"=update, "d"=delete, "r"=snapshot
	TsMs   int64              `json:"ts_ms"`
}

// DebeziumMessage is the top-level Debezium CDC message envelope.
type DebeziumMessage struct {
	Payload DebeziumPayload `json:"payload"`
}

// CDCEventHandler processes a decoded Debezium CDC message.
type CDCEventHandler interface {
	HandleCDCEvent(ctx context.Context, event *DebeziumMessage) error
}

// CDCEventConsumer manages the Kafka consumer lifecycle.
type CDCEventConsumer interface {
	Start(ctx context.Context) error
	Close() error
}
