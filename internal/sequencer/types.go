package sequencer

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/outreachd/internal/experiment"
	"github.com/fyrsmithlabs/outreachd/internal/leads"
	"github.com/fyrsmithlabs/outreachd/internal/optimizer"
	"github.com/fyrsmithlabs/outreachd/internal/policy"
)

// Status represents the lifecycle state of a sequence.
type Status string

const (
	StatusCreated   Status = "created"
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusOptedOut  Status = "opted_out"
)

// ValidTransitions defines allowed state transitions. An opt-out is
// honoured from any state, including a completed sequence.
var ValidTransitions = map[Status][]Status{
	StatusCreated:   {StatusActive},
	StatusActive:    {StatusPaused, StatusCompleted, StatusOptedOut},
	StatusPaused:    {StatusActive, StatusCompleted, StatusOptedOut},
	StatusCompleted: {StatusOptedOut},
	StatusOptedOut:  {}, // terminal
}

// CanTransitionTo checks if a transition from current status to target is valid.
func (s Status) CanTransitionTo(target Status) bool {
	for _, t := range ValidTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// IsTerminal returns true if this is a terminal state.
func (s Status) IsTerminal() bool {
	return s == StatusOptedOut
}

// Touch is one scheduled communication.
type Touch struct {
	DayOffset   int            `json:"day_offset"`
	Channel     policy.Channel `json:"channel"`
	Subject     string         `json:"subject,omitempty"`
	Body        string         `json:"body"`
	CTA         string         `json:"cta,omitempty"`
	Disclosures []string       `json:"disclosures,omitempty"`
}

// SenderIdentity is who the touches come from.
type SenderIdentity struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Company string `json:"company"`
	Address string `json:"address,omitempty"`
}

// Pack is an ordered set of touches plus the opt-out clause.
type Pack struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Language   string         `json:"language"`
	Variant    string         `json:"variant,omitempty"`
	Touches    []Touch        `json:"touches"`
	OptOutText string         `json:"opt_out_text"`
	Sender     SenderIdentity `json:"sender"`

	// SendAfterHour holds touches until this local hour. Zero means the
	// policy window alone decides.
	SendAfterHour int `json:"send_after_hour,omitempty"`
}

// Validate checks that the pack can be sent.
func (p *Pack) Validate() error {
	if len(p.Touches) == 0 {
		return fmt.Errorf("%w: at least one touch is required", ErrInvalidPack)
	}
	if p.OptOutText == "" {
		return fmt.Errorf("%w: opt-out text is required", ErrInvalidPack)
	}
	if p.SendAfterHour < 0 || p.SendAfterHour > 23 {
		return fmt.Errorf("%w: send_after_hour %d outside 0-23", ErrInvalidPack, p.SendAfterHour)
	}
	for i, t := range p.Touches {
		if !t.Channel.Valid() {
			return fmt.Errorf("%w: touch %d has unknown channel %q", ErrInvalidPack, i, t.Channel)
		}
		if t.DayOffset < 0 {
			return fmt.Errorf("%w: touch %d has negative day offset", ErrInvalidPack, i)
		}
		if t.Body == "" {
			return fmt.Errorf("%w: touch %d has no body", ErrInvalidPack, i)
		}
	}
	return nil
}

// Content is the text the gate scans for a touch.
func (p *Pack) Content(i int) string {
	t := p.Touches[i]
	return t.Subject + "\n\n" + t.Body + "\n\n" + p.OptOutText
}

func (p Pack) clone() Pack {
	touches := make([]Touch, len(p.Touches))
	for i, t := range p.Touches {
		t.Disclosures = append([]string(nil), t.Disclosures...)
		touches[i] = t
	}
	p.Touches = touches
	return p
}

// Sequence is one lead's run through a pack.
type Sequence struct {
	ID         string         `json:"id"`
	CampaignID string         `json:"campaign_id"`
	LeadID     string         `json:"lead_id"`
	Lead       leads.LeadCard `json:"lead"`
	Pack       Pack           `json:"pack"`

	// Cursor is the index of the next touch to send. It equals
	// len(Pack.Touches) once every touch is out.
	Cursor int    `json:"cursor"`
	Status Status `json:"status"`

	TouchesSent     int       `json:"touches_sent"`
	RepliesReceived int       `json:"replies_received"`
	LastTouchAt     time.Time `json:"last_touch_at,omitempty"`
	NextTouchAt     time.Time `json:"next_touch_at,omitempty"`

	// State is the optimizer context the sequence was assigned in, and
	// Assignments the experiment variants applied to its pack.
	State       optimizer.State         `json:"state"`
	Assignments []experiment.Assignment `json:"assignments,omitempty"`

	// Attempts counts consecutive failed sends of the current touch.
	Attempts    int       `json:"attempts"`
	PauseReason string    `json:"pause_reason,omitempty"`
	OptedOutAt  time.Time `json:"opted_out_at,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Clone returns a deep copy.
func (s *Sequence) Clone() *Sequence {
	out := *s
	out.Lead = *s.Lead.Clone()
	out.Pack = s.Pack.clone()
	out.Assignments = append([]experiment.Assignment(nil), s.Assignments...)
	return &out
}

// Remaining returns the number of touches not yet sent.
func (s *Sequence) Remaining() int {
	return len(s.Pack.Touches) - s.Cursor
}

// Intent classifies a reply.
type Intent string

const (
	IntentInterested    Intent = "interested"
	IntentNotInterested Intent = "not_interested"
	IntentQuestion      Intent = "question"
	IntentOptOut        Intent = "opt_out"
)

// Sentiment is the tone of a reply.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// Reply is an inbound response to a touch.
type Reply struct {
	Intent    Intent    `json:"intent"`
	Sentiment Sentiment `json:"sentiment"`
	Text      string    `json:"text,omitempty"`
}

// Reply actions returned to the caller.
const (
	ActionOptedOut       = "opted_out"
	ActionCompleted      = "completed"
	ActionBookDemo       = "book_demo"
	ActionAnswerQuestion = "answer_question"
)

// ReplyResult tells the caller what happened and what to do next.
type ReplyResult struct {
	Action   string   `json:"action"`
	Response string   `json:"response,omitempty"`
	Booking  *Booking `json:"booking,omitempty"`
	Status   Status   `json:"status"`
}

// Disposition is the outcome of one SendDue call.
type Disposition string

const (
	DispositionSent      Disposition = "sent"
	DispositionBounced   Disposition = "bounced"
	DispositionCompleted Disposition = "completed"
	DispositionDeferred  Disposition = "deferred"
	DispositionRetrying  Disposition = "retrying"
	DispositionPaused    Disposition = "paused"
	DispositionSkipped   Disposition = "skipped"
)

// SendResult reports what SendDue did.
type SendResult struct {
	SequenceID  string      `json:"sequence_id"`
	Disposition Disposition `json:"disposition"`
	TouchIndex  int         `json:"touch_index"`
	Reason      string      `json:"reason,omitempty"`
	NextTouchAt time.Time   `json:"next_touch_at,omitempty"`
}
