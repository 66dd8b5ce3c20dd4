package sequencer

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Repository persists sequences. Implementations store and return copies.
type Repository interface {
	Create(ctx context.Context, s *Sequence) error
	Get(ctx context.Context, id string) (*Sequence, error)
	Update(ctx context.Context, s *Sequence) error

	// Due returns active sequences whose next touch is at or before now,
	// earliest first. A non-positive limit means no limit.
	Due(ctx context.Context, now time.Time, limit int) ([]*Sequence, error)
	ListByCampaign(ctx context.Context, campaignID string) ([]*Sequence, error)

	// FindByLead returns the sequence for a lead in a campaign.
	FindByLead(ctx context.Context, campaignID, leadID string) (*Sequence, error)
}

// MemoryRepository is an in-memory implementation of Repository.
type MemoryRepository struct {
	mu        sync.RWMutex
	sequences map[string]*Sequence
	byLead    map[string]string
}

// NewMemoryRepository creates a new in-memory sequence repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		sequences: make(map[string]*Sequence),
		byLead:    make(map[string]string),
	}
}

func leadKey(campaignID, leadID string) string {
	return campaignID + "\x00" + leadID
}

// Create stores a new sequence. A campaign holds at most one sequence per lead.
func (r *MemoryRepository) Create(_ context.Context, s *Sequence) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := leadKey(s.CampaignID, s.LeadID)
	if _, exists := r.sequences[s.ID]; exists {
		return ErrSequenceExists
	}
	if _, exists := r.byLead[key]; exists {
		return ErrSequenceExists
	}
	r.sequences[s.ID] = s.Clone()
	r.byLead[key] = s.ID
	return nil
}

// Get retrieves a sequence by ID.
func (r *MemoryRepository) Get(_ context.Context, id string) (*Sequence, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sequences[id]
	if !ok {
		return nil, ErrSequenceNotFound
	}
	return s.Clone(), nil
}

// Update replaces an existing sequence.
func (r *MemoryRepository) Update(_ context.Context, s *Sequence) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sequences[s.ID]; !ok {
		return ErrSequenceNotFound
	}
	r.sequences[s.ID] = s.Clone()
	return nil
}

// Due implements Repository.
func (r *MemoryRepository) Due(_ context.Context, now time.Time, limit int) ([]*Sequence, error) {
	r.mu.RLock()
	var out []*Sequence
	for _, s := range r.sequences {
		if s.Status == StatusActive && !s.NextTouchAt.After(now) {
			out = append(out, s.Clone())
		}
	}
	r.mu.RUnlock()

	sortByNextTouch(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListByCampaign returns a campaign's sequences ordered by creation time.
func (r *MemoryRepository) ListByCampaign(_ context.Context, campaignID string) ([]*Sequence, error) {
	r.mu.RLock()
	var out []*Sequence
	for _, s := range r.sequences {
		if s.CampaignID == campaignID {
			out = append(out, s.Clone())
		}
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

// FindByLead implements Repository.
func (r *MemoryRepository) FindByLead(_ context.Context, campaignID, leadID string) (*Sequence, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byLead[leadKey(campaignID, leadID)]
	if !ok {
		return nil, ErrSequenceNotFound
	}
	return r.sequences[id].Clone(), nil
}

func sortByNextTouch(seqs []*Sequence) {
	sort.Slice(seqs, func(i, j int) bool {
		if seqs[i].NextTouchAt.Equal(seqs[j].NextTouchAt) {
			return seqs[i].ID < seqs[j].ID
		}
		return seqs[i].NextTouchAt.Before(seqs[j].NextTouchAt)
	})
}
