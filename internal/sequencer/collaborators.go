package sequencer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/outreachd/internal/policy"
)

// Outcome is a channel sender's report for one message.
type Outcome string

const (
	OutcomeDelivered Outcome = "delivered"
	OutcomeBounced   Outcome = "bounced"
	OutcomeFailed    Outcome = "failed"
)

// Message is one rendered touch ready for a channel provider.
type Message struct {
	SequenceID  string         `json:"sequence_id"`
	CampaignID  string         `json:"campaign_id"`
	LeadID      string         `json:"lead_id"`
	TouchIndex  int            `json:"touch_index"`
	Channel     policy.Channel `json:"channel"`
	Recipient   string         `json:"recipient"`
	Subject     string         `json:"subject,omitempty"`
	Body        string         `json:"body"`
	CTA         string         `json:"cta,omitempty"`
	Disclosures []string       `json:"disclosures,omitempty"`
	From        SenderIdentity `json:"from"`
}

// Sender delivers messages. It is only called after a passing gate check.
// An error is treated as OutcomeFailed.
type Sender interface {
	Send(ctx context.Context, msg Message) (Outcome, error)
}

// ScriptedSender returns outcomes from a script, one per call, then
// Default. It records every message it was asked to send.
type ScriptedSender struct {
	Script  []Outcome
	Default Outcome
	Err     error
	Delay   time.Duration

	mu   sync.Mutex
	sent []Message
}

// Send implements Sender.
func (s *ScriptedSender) Send(ctx context.Context, msg Message) (Outcome, error) {
	if s.Delay > 0 {
		select {
		case <-time.After(s.Delay):
		case <-ctx.Done():
			return OutcomeFailed, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	if s.Err != nil {
		return OutcomeFailed, s.Err
	}
	if len(s.Script) > 0 {
		out := s.Script[0]
		s.Script = s.Script[1:]
		return out, nil
	}
	if s.Default == "" {
		return OutcomeDelivered, nil
	}
	return s.Default, nil
}

// Sent returns every message passed to Send.
func (s *ScriptedSender) Sent() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.sent...)
}

// BookingRequest hands an interested lead to the booking flow.
type BookingRequest struct {
	CampaignID string `json:"campaign_id"`
	SequenceID string `json:"sequence_id"`
	LeadID     string `json:"lead_id"`
	Timezone   string `json:"timezone"`
}

// Booking is a scheduled demo.
type Booking struct {
	ID          string    `json:"id"`
	LeadID      string    `json:"lead_id"`
	Link        string    `json:"link"`
	ScheduledAt time.Time `json:"scheduled_at,omitempty"`
}

// Booker is the external demo booking flow.
type Booker interface {
	Book(ctx context.Context, req BookingRequest) (Booking, error)
}

// LinkBooker answers every request with a booking link.
type LinkBooker struct {
	BaseURL string

	mu       sync.Mutex
	requests []BookingRequest
}

// Book implements Booker.
func (b *LinkBooker) Book(_ context.Context, req BookingRequest) (Booking, error) {
	b.mu.Lock()
	b.requests = append(b.requests, req)
	b.mu.Unlock()
	id := uuid.NewString()
	base := b.BaseURL
	if base == "" {
		base = "https://book.example.com/demo"
	}
	return Booking{ID: id, LeadID: req.LeadID, Link: fmt.Sprintf("%s/%s", base, id)}, nil
}

// Requests returns the booking requests received.
func (b *LinkBooker) Requests() []BookingRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]BookingRequest(nil), b.requests...)
}

// ReviewItem is an incident routed to a human.
type ReviewItem struct {
	ID         string    `json:"id"`
	CampaignID string    `json:"campaign_id"`
	SequenceID string    `json:"sequence_id"`
	LeadID     string    `json:"lead_id"`
	TouchIndex int       `json:"touch_index"`
	Attempts   int       `json:"attempts"`
	Reason     string    `json:"reason"`
	CreatedAt  time.Time `json:"created_at"`
}

// ReviewQueue receives incidents that need a human.
type ReviewQueue interface {
	Push(ctx context.Context, item ReviewItem) error
}

// MemoryReviewQueue keeps review items in memory.
type MemoryReviewQueue struct {
	mu    sync.Mutex
	items []ReviewItem
}

// Push implements ReviewQueue.
func (q *MemoryReviewQueue) Push(_ context.Context, item ReviewItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, item)
	return nil
}

// Items returns queued items in push order.
func (q *MemoryReviewQueue) Items() []ReviewItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]ReviewItem(nil), q.items...)
}
