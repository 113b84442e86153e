package bridge

import (
	"context"

	"github.com/pulsefeed/social-graph-service/internal/domain"
)

// NotificationBridge receives relationship-change events. Delivery is the
// bridge's responsibility; the coordinator fires and forgets, and a publish
// failure never fails the operation that produced the event.
type NotificationBridge interface {
	Publish(ctx context.Context, event domain.RelationshipEvent) error
	Close() error
}

// Noop discards all events. Used when no bridge is configured.
type Noop struct{}

func (Noop) Publish(ctx context.Context, event domain.RelationshipEvent) error { return nil }
func (Noop) Close() error                                                      { return nil }

var _ NotificationBridge = Noop{}
