package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/outreachd/internal/events"
	"github.com/fyrsmithlabs/outreachd/internal/mode"
	"github.com/fyrsmithlabs/outreachd/internal/sequencer"
)

// NATS subjects served by external workers.
const (
	OutboxSubjectPrefix = "outreach.outbox."
	ApprovalSubject     = "outreach.approvals"
)

// OutboxSender hands rendered touches to a delivery worker over NATS
// request/reply on outreach.outbox.<channel>. The worker answers with an
// OutboxReply.
type OutboxSender struct {
	nc *nats.Conn
}

// OutboxReply is the delivery worker's answer.
type OutboxReply struct {
	Outcome sequencer.Outcome `json:"outcome"`
	Error   string            `json:"error,omitempty"`
}

// NewOutboxSender wraps an established connection.
func NewOutboxSender(nc *nats.Conn) *OutboxSender {
	return &OutboxSender{nc: nc}
}

// Send implements sequencer.Sender.
func (s *OutboxSender) Send(ctx context.Context, msg sequencer.Message) (sequencer.Outcome, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return sequencer.OutcomeFailed, fmt.Errorf("encode message: %w", err)
	}
	subject := OutboxSubjectPrefix + string(msg.Channel)
	resp, err := s.nc.RequestWithContext(ctx, subject, data)
	if err != nil {
		return sequencer.OutcomeFailed, fmt.Errorf("request %s: %w", subject, err)
	}
	var reply OutboxReply
	if err := json.Unmarshal(resp.Data, &reply); err != nil {
		return sequencer.OutcomeFailed, fmt.Errorf("decode reply: %w", err)
	}
	switch reply.Outcome {
	case sequencer.OutcomeDelivered, sequencer.OutcomeBounced:
		return reply.Outcome, nil
	case sequencer.OutcomeFailed:
		return sequencer.OutcomeFailed, fmt.Errorf("delivery failed: %s", reply.Error)
	default:
		return sequencer.OutcomeFailed, fmt.Errorf("unknown outcome %q", reply.Outcome)
	}
}

// ApprovalReply is the reviewer's answer to an approval request.
type ApprovalReply struct {
	Approved bool `json:"approved"`
}

// NATSApprover asks a reviewer service on outreach.approvals. No answer
// before the sequencer's approval timeout counts as a rejection.
type NATSApprover struct {
	nc *nats.Conn
}

// NewNATSApprover wraps an established connection.
func NewNATSApprover(nc *nats.Conn) *NATSApprover {
	return &NATSApprover{nc: nc}
}

// Approve implements mode.Approver.
func (a *NATSApprover) Approve(ctx context.Context, req mode.ApprovalRequest) (bool, error) {
	data, err := json.Marshal(approvalPayload(req))
	if err != nil {
		return false, err
	}
	resp, err := a.nc.RequestWithContext(ctx, ApprovalSubject, data)
	if err != nil {
		return false, fmt.Errorf("request %s: %w", ApprovalSubject, err)
	}
	var reply ApprovalReply
	if err := json.Unmarshal(resp.Data, &reply); err != nil {
		return false, fmt.Errorf("decode approval: %w", err)
	}
	return reply.Approved, nil
}

func approvalPayload(req mode.ApprovalRequest) map[string]any {
	return map[string]any{
		"campaign_id": req.CampaignID,
		"sequence_id": req.SequenceID,
		"lead_id":     req.LeadID,
		"channel":     req.Channel,
		"touch_index": req.TouchIndex,
		"subject":     req.Subject,
	}
}

// SinkPager logs alerts and forwards them to the event sink as incidents.
type SinkPager struct {
	sink   events.Sink
	logger *zap.Logger
}

// NewSinkPager creates a pager. A nil sink only logs.
func NewSinkPager(sink events.Sink, logger *zap.Logger) *SinkPager {
	if sink == nil {
		sink = events.NopSink{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SinkPager{sink: sink, logger: logger.Named("pager")}
}

// Page implements mode.Pager.
func (p *SinkPager) Page(_ context.Context, alert mode.Alert) error {
	p.logger.Warn("operator alert",
		zap.String("campaign_id", alert.CampaignID),
		zap.String("lead_id", alert.LeadID),
		zap.String("severity", alert.Severity),
		zap.String("summary", alert.Summary),
	)
	p.sink.Record(events.Event{
		Type:       events.TypeIncident,
		CampaignID: alert.CampaignID,
		LeadID:     alert.LeadID,
		At:         alert.At,
		Data:       map[string]any{"severity": alert.Severity, "summary": alert.Summary},
	})
	return nil
}
