package compliancelog

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type wordRedactor struct{}

func (wordRedactor) Redact(s string) string { return strings.ReplaceAll(s, "secret", "[REDACTED]") }

func TestMemoryLog_AppendAssignsIdentity(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	log := NewMemoryLog(WithClock(func() time.Time { return now }))

	e, err := log.Append(context.Background(), Event{Action: ActionSendTouch, Result: ResultPass, Reason: "ok"})
	require.NoError(t, err)

	assert.NotEmpty(t, e.ID)
	assert.Equal(t, now, e.Timestamp)
}

func TestMemoryLog_IdenticalAppendsAreNotDeduplicated(t *testing.T) {
	log := NewMemoryLog()
	ev := Event{Action: ActionSendTouch, CampaignID: "c1", LeadID: "l1", Result: ResultBlock, Reason: "opt-in missing"}

	a, err := log.Append(context.Background(), ev)
	require.NoError(t, err)
	b, err := log.Append(context.Background(), ev)
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, 2, log.Len())
}

func TestMemoryLog_RejectsIncompleteEvents(t *testing.T) {
	log := NewMemoryLog()

	_, err := log.Append(context.Background(), Event{Result: ResultPass})
	assert.ErrorIs(t, err, ErrMissingAction)

	_, err = log.Append(context.Background(), Event{Action: ActionSendTouch})
	assert.ErrorIs(t, err, ErrMissingResult)

	assert.Zero(t, log.Len())
}

func TestMemoryLog_Redacts(t *testing.T) {
	log := NewMemoryLog(WithRedactor(wordRedactor{}))

	e, err := log.Append(context.Background(), Event{Action: ActionIncident, Result: ResultBlock, Reason: "token secret leaked"})
	require.NoError(t, err)

	assert.Equal(t, "token [REDACTED] leaked", e.Reason)
}

func TestMemoryLog_QueryFilters(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	log := NewMemoryLog()
	ctx := context.Background()

	for i, spec := range []struct{ campaign, lead string }{
		{"c1", "l1"}, {"c1", "l2"}, {"c2", "l1"}, {"c1", "l1"},
	} {
		_, err := log.Append(ctx, Event{
			Timestamp:  base.Add(time.Duration(i) * time.Hour),
			Action:     ActionSendTouch,
			CampaignID: spec.campaign,
			LeadID:     spec.lead,
			Result:     ResultPass,
		})
		require.NoError(t, err)
	}

	got, err := log.Query(ctx, Filter{CampaignID: "c1", LeadID: "l1"})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = log.Query(ctx, Filter{Since: base.Add(time.Hour), Until: base.Add(3 * time.Hour)})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = log.Query(ctx, Filter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, base, got[0].Timestamp)

	assert.Len(t, log.Tail(2), 2)
	assert.Len(t, log.Tail(0), 4)
}

func TestMemoryLog_ConcurrentAppend(t *testing.T) {
	log := NewMemoryLog()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = log.Append(context.Background(), Event{Action: ActionSendTouch, Result: ResultPass})
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, log.Len())
}
