package chain

import (
	"sort"
	"sync"
	"time"
)

// Cooldowns tracks providers that must not be called until a deadline.
// Safe for concurrent use.
type Cooldowns struct {
	mu    sync.RWMutex
	until map[string]time.Time
}

// NewCooldowns returns an empty tracker.
func NewCooldowns() *Cooldowns {
	return &Cooldowns{until: make(map[string]time.Time)}
}

// Set puts a provider into cooldown until t. An earlier deadline never
// shortens an existing one.
func (c *Cooldowns) Set(provider string, t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.until[provider]; ok && cur.After(t) {
		return
	}
	c.until[provider] = t
}

// Active reports whether the provider is cooling down at now.
func (c *Cooldowns) Active(provider string, now time.Time) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.until[provider]
	return ok && now.Before(t)
}

// Until returns the provider's cooldown deadline, if any was set.
func (c *Cooldowns) Until(provider string) (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.until[provider]
	return t, ok
}

// Snapshot returns a copy of all deadlines.
func (c *Cooldowns) Snapshot() map[string]time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]time.Time, len(c.until))
	for k, v := range c.until {
		out[k] = v
	}
	return out
}

// AllCooling reports whether every named provider is cooling down at now.
// An empty list is never cooling.
func (c *Cooldowns) AllCooling(providers []string, now time.Time) bool {
	if len(providers) == 0 {
		return false
	}
	for _, p := range providers {
		if !c.Active(p, now) {
			return false
		}
	}
	return true
}

// Cooling lists the providers cooling down at now, sorted.
func (c *Cooldowns) Cooling(now time.Time) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []string
	for p, t := range c.until {
		if now.Before(t) {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// NextExpiry returns the earliest deadline still in the future.
func (c *Cooldowns) NextExpiry(now time.Time) (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var next time.Time
	for _, t := range c.until {
		if now.Before(t) && (next.IsZero() || t.Before(next)) {
			next = t
		}
	}
	return next, !next.IsZero()
}
