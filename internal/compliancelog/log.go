package compliancelog

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Log is an append-only audit store.
type Log interface {
	// Append durably records the event and returns it with ID and
	// Timestamp assigned. The caller must not act on a decision until
	// Append has returned without error.
	Append(ctx context.Context, e Event) (Event, error)

	// Query returns matching events in append order.
	Query(ctx context.Context, f Filter) ([]Event, error)
}

// Redactor cleans free text before it is persisted.
type Redactor interface {
	Redact(s string) string
}

// Stamp fills ID and Timestamp and redacts free-text fields. Stores call it
// from Append so every backend assigns identity the same way.
func Stamp(e Event, now time.Time, r Redactor) (Event, error) {
	if e.Action == "" {
		return Event{}, ErrMissingAction
	}
	if e.Result == "" {
		return Event{}, ErrMissingResult
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = now.UTC()
	}
	if r != nil {
		e.Reason = r.Redact(e.Reason)
		e.RequiredFix = r.Redact(e.RequiredFix)
	}
	return e, nil
}

// MemoryLog is an in-memory Log for tests and single-process use.
type MemoryLog struct {
	mu       sync.RWMutex
	events   []Event
	now      func() time.Time
	redactor Redactor
}

// MemoryOption configures a MemoryLog.
type MemoryOption func(*MemoryLog)

// WithClock sets the time source used for timestamps.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *MemoryLog) { m.now = now }
}

// WithRedactor sets the redactor applied to reasons.
func WithRedactor(r Redactor) MemoryOption {
	return func(m *MemoryLog) { m.redactor = r }
}

// NewMemoryLog creates an empty in-memory log.
func NewMemoryLog(opts ...MemoryOption) *MemoryLog {
	m := &MemoryLog{now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Append records a copy of the event.
func (m *MemoryLog) Append(ctx context.Context, e Event) (Event, error) {
	if err := ctx.Err(); err != nil {
		return Event{}, err
	}
	stamped, err := Stamp(e, m.now(), m.redactor)
	if err != nil {
		return Event{}, err
	}
	m.mu.Lock()
	m.events = append(m.events, stamped)
	m.mu.Unlock()
	return stamped, nil
}

// Query returns copies of matching events.
func (m *MemoryLog) Query(ctx context.Context, f Filter) ([]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Event, 0)
	for _, e := range m.events {
		if !f.Matches(e) {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

// Tail returns the last n events.
func (m *MemoryLog) Tail(n int) []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if n <= 0 || n > len(m.events) {
		n = len(m.events)
	}
	out := make([]Event, n)
	copy(out, m.events[len(m.events)-n:])
	return out
}

// Len returns the number of events.
func (m *MemoryLog) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.events)
}
