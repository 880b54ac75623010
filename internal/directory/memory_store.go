package directory

import (
	"context"
	"sync"
	"time"

	"github.com/seunadex/ratedly/internal/tier"
)

// MemoryStore is an in-memory business store for demo/development mode.
type MemoryStore struct {
	mu         sync.RWMutex
	businesses map[string]*Business
	slugs      map[string]string // slug -> id
}

// NewMemoryStore creates a new in-memory business store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		businesses: make(map[string]*Business),
		slugs:      make(map[string]string),
	}
}

func (m *MemoryStore) Create(ctx context.Context, b *Business) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, taken := m.slugs[b.Slug]; taken {
		return ErrSlugTaken
	}
	cp := copyBusiness(b)
	m.businesses[b.ID] = cp
	m.slugs[b.Slug] = b.ID
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Business, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.businesses[id]
	if !ok {
		return nil, ErrBusinessNotFound
	}
	return copyBusiness(b), nil
}

func (m *MemoryStore) GetBySlug(ctx context.Context, slug string) (*Business, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.slugs[slug]
	if !ok {
		return nil, ErrBusinessNotFound
	}
	return copyBusiness(m.businesses[id]), nil
}

func (m *MemoryStore) Update(ctx context.Context, b *Business) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.businesses[b.ID]; !ok {
		return ErrBusinessNotFound
	}
	m.businesses[b.ID] = copyBusiness(b)
	return nil
}

func (m *MemoryStore) ApplyTransition(ctx context.Context, id string, tr Transition) (*Business, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.businesses[id]
	if !ok {
		return nil, ErrBusinessNotFound
	}
	tr.Apply(b)
	return copyBusiness(b), nil
}

func (m *MemoryStore) ListExpiredTrials(ctx context.Context, before time.Time, limit int) ([]*Business, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Business
	for _, b := range m.businesses {
		if b.IsTrialing && b.SubscriptionStatus == StatusTrialing &&
			b.TrialEndsAt != nil && b.TrialEndsAt.Before(before) {
			result = append(result, copyBusiness(b))
			if len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}

// copyBusiness returns a deep copy so callers never share the stored
// pointer or its TrialedTiers backing array.
func copyBusiness(b *Business) *Business {
	cp := *b
	if b.TrialedTiers != nil {
		cp.TrialedTiers = make([]tier.Tier, len(b.TrialedTiers))
		copy(cp.TrialedTiers, b.TrialedTiers)
	}
	return &cp
}

var _ Store = (*MemoryStore)(nil)
