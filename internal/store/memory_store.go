package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pulsefeed/social-graph-service/internal/domain"
)

// MemoryRecordStore is an in-process RecordStore with the same CAS semantics
// as the GORM store. It backs unit tests and sqlite-free local development.
type MemoryRecordStore struct {
	mu      sync.RWMutex
	records map[string]*domain.RelationshipRecord
}

// NewMemoryRecordStore creates an empty in-memory store.
func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{records: make(map[string]*domain.RelationshipRecord)}
}

func (s *MemoryRecordStore) Get(ctx context.Context, id string) (*domain.RelationshipRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return rec.Clone(), nil
}

func (s *MemoryRecordStore) Create(ctx context.Context, rec *domain.RelationshipRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[rec.ID]; ok {
		return ErrRecordExists
	}
	now := time.Now().UTC()
	stored := rec.Clone()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.records[rec.ID] = stored
	return nil
}

func (s *MemoryRecordStore) Update(ctx context.Context, rec *domain.RelationshipRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.records[rec.ID]
	if !ok {
		return ErrRecordNotFound
	}
	if cur.Version != rec.Version {
		return ErrVersionConflict
	}

	stored := rec.Clone()
	stored.Version++
	stored.UpdatedAt = time.Now().UTC()
	stored.CreatedAt = cur.CreatedAt
	s.records[rec.ID] = stored

	rec.Version = stored.Version
	rec.UpdatedAt = stored.UpdatedAt
	return nil
}

func (s *MemoryRecordStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[id]; !ok {
		return ErrRecordNotFound
	}
	delete(s.records, id)
	return nil
}

func (s *MemoryRecordStore) ListIDs(ctx context.Context, offset, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	if offset >= len(ids) {
		return nil, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(ids) {
		end = len(ids)
	}
	return ids[offset:end], nil
}

// Ensure interface is satisfied at compile time.
var _ RecordStore = (*MemoryRecordStore)(nil)
