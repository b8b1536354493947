package repository

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormSourceResolver resolves energy source ids against the cooperative's
// energy_sources table, which is owned by the registry service.
type GormSourceResolver struct {
	db *gorm.DB
}

// NewGormSourceResolver creates a resolver on the shared database.
func NewGormSourceResolver(db *gorm.DB) *GormSourceResolver {
	return &GormSourceResolver{db: db}
}

func (r *GormSourceResolver) SourceExists(ctx context.Context, sourceID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Table("energy_sources").Where("id = ?", sourceID).Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to resolve energy source: %w", err)
	}
	return count > 0, nil
}

// StaticSourceResolver resolves against a fixed set of ids. Used in tests
// and single-tenant deployments.
type StaticSourceResolver struct {
	mu      sync.RWMutex
	sources map[uuid.UUID]struct{}
}

// NewStaticSourceResolver creates a resolver knowing the given sources.
func NewStaticSourceResolver(ids ...uuid.UUID) *StaticSourceResolver {
	r := &StaticSourceResolver{sources: make(map[uuid.UUID]struct{})}
	for _, id := range ids {
		r.sources[id] = struct{}{}
	}
	return r
}

// Add registers another source id.
func (r *StaticSourceResolver) Add(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[id] = struct{}{}
}

func (r *StaticSourceResolver) SourceExists(ctx context.Context, sourceID uuid.UUID) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sources[sourceID]
	return ok, nil
}
