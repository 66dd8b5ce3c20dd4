package leads

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ComplianceStatus is the review state of a data source.
type ComplianceStatus string

const (
	StatusApproved       ComplianceStatus = "approved"
	StatusReviewRequired ComplianceStatus = "review_required"
	StatusBlocked        ComplianceStatus = "blocked"
)

// DataSource describes one licensed or permitted lead provider.
type DataSource struct {
	ID                string           `json:"id" koanf:"id"`
	Name              string           `json:"name" koanf:"name"`
	Type              SourceType       `json:"type" koanf:"type"`
	Status            ComplianceStatus `json:"compliance_status" koanf:"compliance_status"`
	RequestsPerMinute int              `json:"requests_per_minute" koanf:"requests_per_minute"`
	RequestsPerDay    int              `json:"requests_per_day" koanf:"requests_per_day"`
	CostPerLead       float64          `json:"cost_per_lead" koanf:"cost_per_lead"`
	DataQuality       float64          `json:"data_quality" koanf:"data_quality"`
}

// Validate checks the catalog entry.
func (d DataSource) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidSource)
	}
	if !d.Type.Valid() {
		return fmt.Errorf("%w: %s has unknown type %q", ErrInvalidSource, d.ID, d.Type)
	}
	switch d.Status {
	case StatusApproved, StatusReviewRequired, StatusBlocked:
	default:
		return fmt.Errorf("%w: %s has unknown status %q", ErrInvalidSource, d.ID, d.Status)
	}
	if d.RequestsPerMinute <= 0 || d.RequestsPerDay <= 0 {
		return fmt.Errorf("%w: %s needs positive rate limits", ErrInvalidSource, d.ID)
	}
	if d.DataQuality < 0 || d.DataQuality > 1 {
		return fmt.Errorf("%w: %s data quality must be in [0,1]", ErrInvalidSource, d.ID)
	}
	return nil
}

// DefaultCatalog returns the built-in provider catalog.
func DefaultCatalog() []DataSource {
	return []DataSource{
		{ID: "apollo", Name: "Apollo.io API", Type: SourceAPI, Status: StatusApproved,
			RequestsPerMinute: 60, RequestsPerDay: 10000, CostPerLead: 0.10, DataQuality: 0.90},
		{ID: "zoominfo", Name: "ZoomInfo API", Type: SourceLicensed, Status: StatusApproved,
			RequestsPerMinute: 30, RequestsPerDay: 5000, CostPerLead: 0.25, DataQuality: 0.95},
		{ID: "clearbit", Name: "Clearbit API", Type: SourceAPI, Status: StatusApproved,
			RequestsPerMinute: 60, RequestsPerDay: 10000, CostPerLead: 0.15, DataQuality: 0.92},
		{ID: "hunter", Name: "Hunter.io API", Type: SourceAPI, Status: StatusApproved,
			RequestsPerMinute: 60, RequestsPerDay: 5000, CostPerLead: 0.05, DataQuality: 0.85},
		{ID: "crunchbase", Name: "Crunchbase API", Type: SourceAPI, Status: StatusApproved,
			RequestsPerMinute: 30, RequestsPerDay: 3000, CostPerLead: 0.20, DataQuality: 0.88},
		{ID: "company_websites", Name: "Company Websites (robots.txt compliant)", Type: SourcePermittedCrawl, Status: StatusApproved,
			RequestsPerMinute: 10, RequestsPerDay: 1000, CostPerLead: 0.01, DataQuality: 0.75},
		{ID: "business_directories", Name: "Public Business Directories", Type: SourcePermittedCrawl, Status: StatusApproved,
			RequestsPerMinute: 20, RequestsPerDay: 2000, CostPerLead: 0.02, DataQuality: 0.70},
	}
}

// RateStatus reports usage of one source against its limits.
type RateStatus struct {
	SourceID           string `json:"source_id"`
	RequestsLastMinute int    `json:"requests_last_minute"`
	RequestsToday      int    `json:"requests_today"`
	LimitPerMinute     int    `json:"limit_per_minute"`
	LimitPerDay        int    `json:"limit_per_day"`
}

type sourceState struct {
	source  DataSource
	minute  *rate.Limiter
	day     string
	today   int
	history []time.Time // request times within the last minute
}

// SourceRegistry is the data source catalog with per-source quotas.
// The per-minute quota is a token bucket; the daily quota resets at UTC
// midnight.
type SourceRegistry struct {
	mu      sync.Mutex
	sources map[string]*sourceState
	now     func() time.Time
}

// RegistryOption configures a SourceRegistry.
type RegistryOption func(*SourceRegistry)

// WithNow sets the time source.
func WithNow(now func() time.Time) RegistryOption {
	return func(r *SourceRegistry) { r.now = now }
}

// NewSourceRegistry creates a registry seeded with catalog.
func NewSourceRegistry(catalog []DataSource, opts ...RegistryOption) (*SourceRegistry, error) {
	r := &SourceRegistry{
		sources: make(map[string]*sourceState),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	for _, ds := range catalog {
		if err := r.Register(ds); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds or replaces a catalog entry. Replacing resets its quotas.
func (r *SourceRegistry) Register(ds DataSource) error {
	if err := ds.Validate(); err != nil {
		return err
	}
	perSecond := rate.Limit(float64(ds.RequestsPerMinute) / 60)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[ds.ID] = &sourceState{
		source: ds,
		minute: rate.NewLimiter(perSecond, ds.RequestsPerMinute),
	}
	return nil
}

// Get returns a catalog entry.
func (r *SourceRegistry) Get(id string) (DataSource, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.sources[id]
	if !ok {
		return DataSource{}, false
	}
	return st.source, true
}

// Sources returns every catalog entry ordered by id.
func (r *SourceRegistry) Sources() []DataSource {
	return r.filter(func(DataSource) bool { return true })
}

// ApprovedSources returns the entries cleared for use, ordered by id.
func (r *SourceRegistry) ApprovedSources() []DataSource {
	return r.filter(func(d DataSource) bool { return d.Status == StatusApproved })
}

func (r *SourceRegistry) filter(keep func(DataSource) bool) []DataSource {
	r.mu.Lock()
	out := make([]DataSource, 0, len(r.sources))
	for _, st := range r.sources {
		if keep(st.source) {
			out = append(out, st.source)
		}
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Acquire consumes one request from the source's quotas.
func (r *SourceRegistry) Acquire(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.sources[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSourceNotFound, id)
	}
	if st.source.Status != StatusApproved {
		return fmt.Errorf("%w: %s is %s", ErrSourceBlocked, id, st.source.Status)
	}
	now := r.now()
	day := now.UTC().Format("2006-01-02")
	if st.day != day {
		st.day = day
		st.today = 0
	}
	if st.today >= st.source.RequestsPerDay {
		return fmt.Errorf("%w: %s daily quota of %d spent", ErrSourceRateLimited, id, st.source.RequestsPerDay)
	}
	if !st.minute.AllowN(now, 1) {
		return fmt.Errorf("%w: %s per-minute quota of %d spent", ErrSourceRateLimited, id, st.source.RequestsPerMinute)
	}
	st.today++
	st.history = append(trimHistory(st.history, now), now)
	return nil
}

// RateStatus reports current usage for a source.
func (r *SourceRegistry) RateStatus(id string) (RateStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.sources[id]
	if !ok {
		return RateStatus{}, fmt.Errorf("%w: %s", ErrSourceNotFound, id)
	}
	now := r.now()
	st.history = trimHistory(st.history, now)
	today := st.today
	if st.day != now.UTC().Format("2006-01-02") {
		today = 0
	}
	return RateStatus{
		SourceID:           id,
		RequestsLastMinute: len(st.history),
		RequestsToday:      today,
		LimitPerMinute:     st.source.RequestsPerMinute,
		LimitPerDay:        st.source.RequestsPerDay,
	}, nil
}

func trimHistory(h []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-time.Minute)
	i := 0
	for i < len(h) && !h[i].After(cutoff) {
		i++
	}
	return h[i:]
}
