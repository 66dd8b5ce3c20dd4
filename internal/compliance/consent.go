package compliance

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/fyrsmithlabs/outreachd/internal/policy"
)

// ConsentStore records per-recipient opt-in consent.
type ConsentStore interface {
	HasConsent(ctx context.Context, recipient string, ch policy.Channel) (bool, error)
	Grant(ctx context.Context, recipient string, ch policy.Channel) error
	Revoke(ctx context.Context, recipient string, ch policy.Channel) error
}

// SuppressionList is the do-not-contact list. Entries expire at until.
type SuppressionList interface {
	IsSuppressed(ctx context.Context, recipient string) (bool, error)
	Suppress(ctx context.Context, recipient string, until time.Time) error
}

func normalizeRecipient(r string) string {
	return strings.ToLower(strings.TrimSpace(r))
}

// MemoryConsent is an in-memory ConsentStore.
type MemoryConsent struct {
	mu      sync.RWMutex
	granted map[string]map[policy.Channel]bool
}

// NewMemoryConsent creates an empty consent store.
func NewMemoryConsent() *MemoryConsent {
	return &MemoryConsent{granted: make(map[string]map[policy.Channel]bool)}
}

// HasConsent implements ConsentStore.
func (m *MemoryConsent) HasConsent(_ context.Context, recipient string, ch policy.Channel) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.granted[normalizeRecipient(recipient)][ch], nil
}

// Grant implements ConsentStore.
func (m *MemoryConsent) Grant(_ context.Context, recipient string, ch policy.Channel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := normalizeRecipient(recipient)
	if m.granted[key] == nil {
		m.granted[key] = make(map[policy.Channel]bool)
	}
	m.granted[key][ch] = true
	return nil
}

// Revoke implements ConsentStore.
func (m *MemoryConsent) Revoke(_ context.Context, recipient string, ch policy.Channel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.granted[normalizeRecipient(recipient)], ch)
	return nil
}

// MemorySuppression is an in-memory SuppressionList.
type MemorySuppression struct {
	mu    sync.RWMutex
	until map[string]time.Time
	now   func() time.Time
}

// NewMemorySuppression creates an empty list using now for expiry checks.
func NewMemorySuppression(now func() time.Time) *MemorySuppression {
	if now == nil {
		now = time.Now
	}
	return &MemorySuppression{until: make(map[string]time.Time), now: now}
}

// IsSuppressed implements SuppressionList.
func (m *MemorySuppression) IsSuppressed(_ context.Context, recipient string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	until, ok := m.until[normalizeRecipient(recipient)]
	return ok && m.now().Before(until), nil
}

// Suppress implements SuppressionList. A later expiry never shortens an
// existing entry.
func (m *MemorySuppression) Suppress(_ context.Context, recipient string, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := normalizeRecipient(recipient)
	if cur, ok := m.until[key]; ok && cur.After(until) {
		return nil
	}
	m.until[key] = until
	return nil
}
