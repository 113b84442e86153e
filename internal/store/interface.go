package store

import (
	"context"
	"errors"

	"github.com/pulsefeed/social-graph-service/internal/domain"
)

var (
	ErrRecordNotFound  = errors.New("relationship record not found")
	ErrRecordExists    = errors.New("relationship record already exists")
	ErrVersionConflict = errors.New("relationship record version conflict")
)

// RecordStore defines persistence operations for relationship records.
// Update is a compare-and-swap: it succeeds only if the stored version still
// equals rec.Version, and bumps the version on success. Every component that
// writes a record goes through this guard, the reconciler included.
type RecordStore interface {
	Get(ctx context.Context, id string) (*domain.RelationshipRecord, error)
	Create(ctx context.Context, rec *domain.RelationshipRecord) error
	Update(ctx context.Context, rec *domain.RelationshipRecord) error
	Delete(ctx context.Context, id string) error

	// ListIDs pages through all record ids in a stable order, for the
	// reconciler's full-store sweep.
	ListIDs(ctx context.Context, offset, limit int) ([]string, error)
}
