// Package events delivers one-way CRM/analytics events.
//
// Producers call Sink.Record, which never blocks: events are queued on a
// bounded buffer and published by a background goroutine. When the buffer
// is full the event is dropped and counted, so sequencer progress never
// waits on an analytics backend.
//
// Events are published to NATS subjects:
//   - outreach.{campaign_id}.{type}
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Event types emitted by the engine.
const (
	TypeCampaignCreated = "campaign_created"
	TypeCampaignPaused  = "campaign_paused"
	TypeCampaignResumed = "campaign_resumed"
	TypeCampaignDone    = "campaign_completed"
	TypeLeadQualified   = "lead_qualified"
	TypeSequenceStarted = "sequence_started"
	TypeSequencePaused  = "sequence_paused"
	TypeTouchSent       = "touch_sent"
	TypeTouchBounced    = "touch_bounced"
	TypeReplyReceived   = "reply_received"
	TypeSequenceEnded   = "sequence_ended"
	TypeBookingHandoff  = "booking_handoff"
	TypeIncident        = "incident"
)

// Event is one CRM/analytics record.
type Event struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	CampaignID string         `json:"campaign_id,omitempty"`
	LeadID     string         `json:"lead_id,omitempty"`
	SequenceID string         `json:"sequence_id,omitempty"`
	At         time.Time      `json:"at"`
	Data       map[string]any `json:"data,omitempty"`
}

// Subject returns the NATS subject for the event.
func (e Event) Subject() string {
	campaign := e.CampaignID
	if campaign == "" {
		campaign = "_"
	}
	return fmt.Sprintf("outreach.%s.%s", sanitizeToken(campaign), sanitizeToken(e.Type))
}

// sanitizeToken keeps subject tokens free of NATS separators and wildcards.
func sanitizeToken(s string) string {
	return strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(s)
}

// Sink accepts events without blocking the caller.
type Sink interface {
	Record(e Event)
}

// Publisher delivers serialized events.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// NATSPublisher publishes events on a NATS connection.
type NATSPublisher struct {
	nc *nats.Conn
}

// NewNATSPublisher wraps an established connection.
func NewNATSPublisher(nc *nats.Conn) *NATSPublisher {
	return &NATSPublisher{nc: nc}
}

// Publish implements Publisher.
func (p *NATSPublisher) Publish(_ context.Context, subject string, data []byte) error {
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// AsyncSink queues events and publishes them in the background.
type AsyncSink struct {
	pub     Publisher
	queue   chan Event
	timeout time.Duration
	logger  *zap.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// AsyncOption configures an AsyncSink.
type AsyncOption func(*AsyncSink)

// WithBuffer sets the queue capacity.
func WithBuffer(n int) AsyncOption {
	return func(s *AsyncSink) {
		if n > 0 {
			s.queue = make(chan Event, n)
		}
	}
}

// WithPublishTimeout bounds each publish call.
func WithPublishTimeout(d time.Duration) AsyncOption {
	return func(s *AsyncSink) { s.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) AsyncOption {
	return func(s *AsyncSink) {
		if l != nil {
			s.logger = l.Named("events")
		}
	}
}

// NewAsyncSink starts the publishing goroutine.
func NewAsyncSink(pub Publisher, opts ...AsyncOption) *AsyncSink {
	s := &AsyncSink{
		pub:     pub,
		queue:   make(chan Event, 1024),
		timeout: 2 * time.Second,
		logger:  zap.NewNop(),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.run()
	return s
}

// Record implements Sink. It drops the event when the queue is full.
func (s *AsyncSink) Record(e Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	select {
	case s.queue <- e:
		QueueDepth.Set(float64(len(s.queue)))
	default:
		DroppedTotal.WithLabelValues(e.Type).Inc()
		s.logger.Warn("event queue full, dropping event",
			zap.String("type", e.Type),
			zap.String("campaign_id", e.CampaignID),
		)
	}
}

// Close stops accepting events and waits for the queue to drain.
func (s *AsyncSink) Close() {
	s.closeOnce.Do(func() { close(s.queue) })
	<-s.done
}

func (s *AsyncSink) run() {
	defer close(s.done)
	for e := range s.queue {
		s.publish(e)
	}
}

func (s *AsyncSink) publish(e Event) {
	data, err := json.Marshal(e)
	if err != nil {
		PublishedTotal.WithLabelValues("error").Inc()
		s.logger.Error("marshal event", zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.pub.Publish(ctx, e.Subject(), data); err != nil {
		PublishedTotal.WithLabelValues("error").Inc()
		s.logger.Warn("publish event failed", zap.String("subject", e.Subject()), zap.Error(err))
		return
	}
	PublishedTotal.WithLabelValues("success").Inc()
	QueueDepth.Set(float64(len(s.queue)))
}

// MemorySink records events in memory.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

// Record implements Sink.
func (m *MemorySink) Record(e Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
}

// Events returns the recorded events.
func (m *MemorySink) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// OfType returns recorded events of one type.
func (m *MemorySink) OfType(t string) []Event {
	var out []Event
	for _, e := range m.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// NopSink discards events.
type NopSink struct{}

// Record implements Sink.
func (NopSink) Record(Event) {}
