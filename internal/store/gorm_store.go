package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/pulsefeed/social-graph-service/internal/domain"
)

// isUniqueViolation reports whether err is a unique-constraint violation.
// GORM v1.25+ wraps these as gorm.ErrDuplicatedKey.
func isUniqueViolation(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

// GormRecordStore implements RecordStore using GORM.
type GormRecordStore struct {
	db *gorm.DB
}

// NewGormRecordStore creates a new GORM-backed record store.
func NewGormRecordStore(db *gorm.DB) *GormRecordStore {
	return &GormRecordStore{db: db}
}

// Get loads a relationship record by user id.
func (s *GormRecordStore) Get(ctx context.Context, id string) (*domain.RelationshipRecord, error) {
	var rec domain.RelationshipRecord
	err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// Create inserts a fresh record at version 0.
func (s *GormRecordStore) Create(ctx context.Context, rec *domain.RelationshipRecord) error {
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrRecordExists
		}
		return err
	}
	return nil
}

// Update persists the record guarded by its version: the UPDATE only matches
// a row whose stored version equals rec.Version, and bumps it by one. Zero
// rows affected means either the record vanished or a concurrent writer got
// there first; the two are distinguished with a follow-up existence check so
// the caller can retry on conflict but not on deletion.
func (s *GormRecordStore) Update(ctx context.Context, rec *domain.RelationshipRecord) error {
	now := time.Now().UTC()
	result := s.db.WithContext(ctx).
		Model(&domain.RelationshipRecord{}).
		Where("id = ? AND version = ?", rec.ID, rec.Version).
		Updates(map[string]interface{}{
			"followers":       rec.Followers,
			"following":       rec.Following,
			"follow_requests": rec.FollowRequests,
			"sent_requests":   rec.SentRequests,
			"follower_count":  rec.FollowerCount,
			"following_count": rec.FollowingCount,
			"version":         rec.Version + 1,
			"updated_at":      now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := s.db.WithContext(ctx).
			Model(&domain.RelationshipRecord{}).
			Where("id = ?", rec.ID).
			Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrRecordNotFound
		}
		return ErrVersionConflict
	}

	rec.Version++
	rec.UpdatedAt = now
	return nil
}

// Delete removes a record. Edges referencing the deleted user are cleaned up
// by the coordinator's fan-out, not here.
func (s *GormRecordStore) Delete(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Delete(&domain.RelationshipRecord{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// ListIDs returns record ids ordered by id, for the sweep.
func (s *GormRecordStore) ListIDs(ctx context.Context, offset, limit int) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).
		Model(&domain.RelationshipRecord{}).
		Order("id").
		Offset(offset).
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// Ensure interface is satisfied at compile time.
var _ RecordStore = (*GormRecordStore)(nil)
