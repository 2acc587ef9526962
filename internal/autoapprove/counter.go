// Package autoapprove tracks how many tasks each tenant auto-approved per UTC day.
package autoapprove

import (
	"context"
	"sync"
	"time"
)

// Counter enforces the daily auto-approval cap.
type Counter interface {
	// Reserve increments the tenant's counter for day only if it is below limit.
	// It reports whether a slot was taken and the count after the call.
	Reserve(ctx context.Context, tenantID string, day time.Time, limit int) (bool, int, error)
	Count(ctx context.Context, tenantID string, day time.Time) (int, error)
	// Reset clears the counter of one tenant, or of every tenant when tenantID is empty.
	Reset(ctx context.Context, tenantID string, day time.Time) error
}

// DayKey returns the UTC calendar day used to bucket counts.
func DayKey(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}

type key struct {
	tenant string
	day    string
}

// MemoryCounter is an in-process Counter.
type MemoryCounter struct {
	mu     sync.Mutex
	counts map[key]int
}

// NewMemoryCounter creates an empty counter.
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{counts: make(map[key]int)}
}

func (c *MemoryCounter) Reserve(_ context.Context, tenantID string, day time.Time, limit int) (bool, int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := key{tenant: tenantID, day: DayKey(day)}
	current := c.counts[k]
	if current >= limit {
		return false, current, nil
	}
	c.counts[k] = current + 1
	return true, current + 1, nil
}

func (c *MemoryCounter) Count(_ context.Context, tenantID string, day time.Time) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[key{tenant: tenantID, day: DayKey(day)}], nil
}

func (c *MemoryCounter) Reset(_ context.Context, tenantID string, day time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	d := DayKey(day)
	for k := range c.counts {
		if k.day == d && (tenantID == "" || k.tenant == tenantID) {
			delete(c.counts, k)
		}
	}
	return nil
}
