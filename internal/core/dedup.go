package core

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// AlertCooldown suppresses repeat alerts that share a dedup key within the
// cooldown window. Entries older than twice the cooldown are evicted
// whenever a key is recorded.
type AlertCooldown struct {
	mu       sync.Mutex
	seen     map[string]time.Time
	cooldown time.Duration
	now      func() time.Time
}

// NewAlertCooldown creates a cooldown cache. A zero cooldown admits every
// alert.
func NewAlertCooldown(cooldown time.Duration) *AlertCooldown {
	if cooldown < 0 {
		cooldown = 0
	}
	return &AlertCooldown{
		seen:     make(map[string]time.Time),
		cooldown: cooldown,
		now:      time.Now,
	}
}

// SetClock replaces the time source. Intended for tests.
func (c *AlertCooldown) SetClock(now func() time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

// Key derives the dedup key from an alert's title and message body.
func Key(title, message string) string {
	sum := sha256.Sum256([]byte(message))
	return title + ":" + hex.EncodeToString(sum[:])[:32]
}

// Admit reports whether an alert with key may be delivered now. An admitted
// key is reserved immediately so a concurrent duplicate is rejected.
func (c *AlertCooldown) Admit(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if last, ok := c.seen[key]; ok && now.Sub(last) < c.cooldown {
		return false
	}
	c.seen[key] = now
	return true
}

// Record stamps key as sent now, regardless of delivery outcome, and drops
// stale entries.
func (c *AlertCooldown) Record(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.seen[key] = now
	c.evictLocked(now)
}

func (c *AlertCooldown) evictLocked(now time.Time) {
	horizon := 2 * c.cooldown
	for k, t := range c.seen {
		if now.Sub(t) > horizon {
			delete(c.seen, k)
		}
	}
}

// Cooldown returns the configured window.
func (c *AlertCooldown) Cooldown() time.Duration {
	return c.cooldown
}

// Size returns the current number of entries in the cache.
func (c *AlertCooldown) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}
