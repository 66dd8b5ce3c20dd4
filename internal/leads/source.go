package leads

import (
	"context"
	"sync"
	"time"
)

// Query describes the leads a campaign wants from a source.
type Query struct {
	Industry  string   `json:"industry"`
	Country   string   `json:"country"`
	JobTitles []string `json:"job_titles,omitempty"`
	Limit     int      `json:"limit"`
}

// Source is an external lead provider. Implementations return normalized
// LeadCards; their ComplianceOK values are ignored.
type Source interface {
	ID() string
	Source(ctx context.Context, q Query) ([]LeadCard, error)
}

// StaticSource returns a fixed lead list. Delay simulates a slow provider
// and honours context cancellation.
type StaticSource struct {
	SourceID string
	Leads    []LeadCard
	Err      error
	Delay    time.Duration

	mu      sync.Mutex
	queries []Query
}

// ID implements Source.
func (s *StaticSource) ID() string { return s.SourceID }

// Source implements Source.
func (s *StaticSource) Source(ctx context.Context, q Query) ([]LeadCard, error) {
	s.mu.Lock()
	s.queries = append(s.queries, q)
	s.mu.Unlock()

	if s.Delay > 0 {
		select {
		case <-time.After(s.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.Err != nil {
		return nil, s.Err
	}
	out := make([]LeadCard, 0, len(s.Leads))
	for i := range s.Leads {
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
		out = append(out, *s.Leads[i].Clone())
	}
	return out, nil
}

// Queries returns the queries the source received.
func (s *StaticSource) Queries() []Query {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Query(nil), s.queries...)
}
