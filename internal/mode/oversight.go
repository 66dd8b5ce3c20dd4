package mode

import (
	"context"
	"sync"
	"time"
)

// ApprovalRequest asks a human to approve one send.
type ApprovalRequest struct {
	CampaignID string
	SequenceID string
	LeadID     string
	Channel    string
	TouchIndex int
	Subject    string
}

// Approver is the human-approval collaborator required by Safe mode.
type Approver interface {
	Approve(ctx context.Context, req ApprovalRequest) (bool, error)
}

// Alert is sent to the on-call human.
type Alert struct {
	CampaignID string
	LeadID     string
	Severity   string
	Summary    string
	At         time.Time
}

// Pager notifies a human. Semi mode pages on every block or warning.
type Pager interface {
	Page(ctx context.Context, alert Alert) error
}

// StaticApprover answers every request with the same decision and records
// the requests it saw.
type StaticApprover struct {
	Decision bool

	mu       sync.Mutex
	requests []ApprovalRequest
}

// Approve implements Approver.
func (s *StaticApprover) Approve(_ context.Context, req ApprovalRequest) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	return s.Decision, nil
}

// Requests returns the recorded requests.
func (s *StaticApprover) Requests() []ApprovalRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ApprovalRequest, len(s.requests))
	copy(out, s.requests)
	return out
}

// RecordingPager keeps every alert in memory.
type RecordingPager struct {
	mu     sync.Mutex
	alerts []Alert
}

// Page implements Pager.
func (p *RecordingPager) Page(_ context.Context, alert Alert) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.alerts = append(p.alerts, alert)
	return nil
}

// Alerts returns the recorded alerts.
func (p *RecordingPager) Alerts() []Alert {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Alert, len(p.alerts))
	copy(out, p.alerts)
	return out
}

// DenyAll is the Approver used when none is configured: Safe campaigns
// cannot send until a real approver is wired.
type DenyAll struct{}

// Approve implements Approver.
func (DenyAll) Approve(context.Context, ApprovalRequest) (bool, error) { return false, nil }

// NopPager discards alerts.
type NopPager struct{}

// Page implements Pager.
func (NopPager) Page(context.Context, Alert) error { return nil }
