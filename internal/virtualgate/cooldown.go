package virtualgate

import (
	"sync"
	"time"
)

// Cooldown suppresses repeated virtual-gate creation for an event while
// scans of the same pattern keep arriving.
type Cooldown struct {
	mu     sync.Mutex
	window time.Duration
	now    func() time.Time
	last   map[string]time.Time
}

// NewCooldown creates a cooldown tracker. A nil clock uses time.Now.
func NewCooldown(window time.Duration, now func() time.Time) *Cooldown {
	if now == nil {
		now = time.Now
	}
	return &Cooldown{
		window: window,
		now:    now,
		last:   make(map[string]time.Time),
	}
}

// Remaining returns how long eventID must still wait. Zero means ready.
func (c *Cooldown) Remaining(eventID string) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	at, ok := c.last[eventID]
	if !ok {
		return 0
	}
	left := c.window - c.now().Sub(at)
	if left <= 0 {
		delete(c.last, eventID)
		return 0
	}
	return left
}

// Mark starts the window for eventID and evicts expired entries.
func (c *Cooldown) Mark(eventID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for id, at := range c.last {
		if now.Sub(at) >= c.window {
			delete(c.last, id)
		}
	}
	c.last[eventID] = now
}
