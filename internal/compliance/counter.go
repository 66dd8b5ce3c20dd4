package compliance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fyrsmithlabs/outreachd/internal/policy"
)

// Counter is a per-day send counter shared by all of a campaign's
// sequences. Allow must check and increment atomically.
type Counter interface {
	// Allow increments key if its count is below limit. It returns whether
	// the increment happened and the count after the call.
	Allow(ctx context.Context, key string, limit int) (bool, int64, error)

	// Release undoes one successful Allow.
	Release(ctx context.Context, key string) error
}

const dayLayout = "2006-01-02"

// CounterKey builds the campaign|channel|day key. The day is the UTC date.
func CounterKey(campaignID string, ch policy.Channel, at time.Time) string {
	return fmt.Sprintf("%s|%s|%s", campaignID, ch, at.UTC().Format(dayLayout))
}

// MemoryCounter is a mutex-guarded Counter for single-process deployments.
// Buckets for past days are pruned as new days appear.
type MemoryCounter struct {
	mu      sync.Mutex
	buckets map[string]map[string]int64 // day -> key -> count
}

// NewMemoryCounter creates an empty counter.
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{buckets: make(map[string]map[string]int64)}
}

// Allow implements Counter.
func (c *MemoryCounter) Allow(_ context.Context, key string, limit int) (bool, int64, error) {
	day := dayOf(key)

	c.mu.Lock()
	defer c.mu.Unlock()

	bucket, ok := c.buckets[day]
	if !ok {
		bucket = make(map[string]int64)
		c.buckets[day] = bucket
		c.pruneLocked(day)
	}
	n := bucket[key]
	if n >= int64(limit) {
		return false, n, nil
	}
	n++
	bucket[key] = n
	return true, n, nil
}

// Release implements Counter.
func (c *MemoryCounter) Release(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if bucket, ok := c.buckets[dayOf(key)]; ok && bucket[key] > 0 {
		bucket[key]--
	}
	return nil
}

// Count returns the current count for key.
func (c *MemoryCounter) Count(key string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buckets[dayOf(key)][key]
}

// pruneLocked drops buckets more than one day older than current. Keys
// sort lexically by date because of the ISO layout.
func (c *MemoryCounter) pruneLocked(current string) {
	cur, err := time.Parse(dayLayout, current)
	if err != nil {
		return
	}
	cutoff := cur.AddDate(0, 0, -1).Format(dayLayout)
	for day := range c.buckets {
		if day < cutoff {
			delete(c.buckets, day)
		}
	}
}

func dayOf(key string) string {
	if len(key) < len(dayLayout) {
		return key
	}
	return key[len(key)-len(dayLayout):]
}
