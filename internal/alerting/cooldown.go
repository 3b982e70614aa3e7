package alerting

import (
	"sync"
	"time"
)

// Cooldown suppresses repeat notifications for the same condition and
// opportunity pair within a window.
type Cooldown struct {
	window time.Duration

	mu   sync.Mutex
	last map[string]time.Time
}

func NewCooldown(window time.Duration) *Cooldown {
	return &Cooldown{window: window, last: make(map[string]time.Time)}
}

// Allow reports whether t may be notified at now and records it if so.
func (c *Cooldown) Allow(t Trigger, now time.Time) bool {
	if c == nil || c.window <= 0 {
		return true
	}
	key := t.Condition.ID + "|" + t.Opportunity.Route()

	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.last[key]; ok && now.Sub(prev) < c.window {
		return false
	}
	for k, at := range c.last {
		if now.Sub(at) >= c.window {
			delete(c.last, k)
		}
	}
	c.last[key] = now
	return true
}
