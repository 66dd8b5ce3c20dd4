package campaign

import (
	"context"
	"sort"
	"sync"
)

// Repository persists campaigns. Implementations store and return copies.
type Repository interface {
	Create(ctx context.Context, c *Campaign) error
	Get(ctx context.Context, id string) (*Campaign, error)
	Update(ctx context.Context, c *Campaign) error
	List(ctx context.Context) ([]*Campaign, error)
}

// MemoryRepository is an in-memory implementation of Repository.
// It is thread-safe and suitable for tests and single-instance runs.
type MemoryRepository struct {
	mu        sync.RWMutex
	campaigns map[string]*Campaign
}

// NewMemoryRepository creates a new in-memory campaign repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{campaigns: make(map[string]*Campaign)}
}

// Create stores a new campaign.
func (r *MemoryRepository) Create(ctx context.Context, c *Campaign) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.campaigns[c.ID]; exists {
		return ErrCampaignExists
	}
	r.campaigns[c.ID] = c.Clone()
	return nil
}

// Get retrieves a campaign by ID.
func (r *MemoryRepository) Get(ctx context.Context, id string) (*Campaign, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.campaigns[id]
	if !ok {
		return nil, ErrCampaignNotFound
	}
	return c.Clone(), nil
}

// Update replaces an existing campaign.
func (r *MemoryRepository) Update(ctx context.Context, c *Campaign) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.campaigns[c.ID]; !ok {
		return ErrCampaignNotFound
	}
	r.campaigns[c.ID] = c.Clone()
	return nil
}

// List returns every campaign ordered by creation time.
func (r *MemoryRepository) List(ctx context.Context) ([]*Campaign, error) {
	r.mu.RLock()
	out := make([]*Campaign, 0, len(r.campaigns))
	for _, c := range r.campaigns {
		out = append(out, c.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
