package walletauth

import (
	"strings"
	"sync"
	"time"
)

// CreationCacheEntry memoizes an identity-store creation event.
type CreationCacheEntry struct {
	UserID    string
	Email     string
	Timestamp time.Time
}

// CreationCache is a short-lived memoization of identity-store creation
// events keyed by lowercased email. It closes the race where the creation
// webhook lands before the signup session exists: the session manager
// consults the cache at session-creation time.
type CreationCache struct {
	mu      sync.Mutex
	entries map[string]CreationCacheEntry
	ttl     time.Duration
	now     func() time.Time
}

// CreationCacheOption customizes cache construction.
type CreationCacheOption func(*CreationCache)

// WithCreationCacheClock injects a custom clock (useful for tests).
func WithCreationCacheClock(clock func() time.Time) CreationCacheOption {
	return func(c *CreationCache) {
		if clock != nil {
			c.now = clock
		}
	}
}

// NewCreationCache creates a cache with the given TTL.
func NewCreationCache(ttl time.Duration, opts ...CreationCacheOption) *CreationCache {
	c := &CreationCache{
		entries: make(map[string]CreationCacheEntry),
		ttl:     ttl,
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Put records a creation event, replacing any prior entry for the email.
func (c *CreationCache) Put(userID, email string) {
	key := cacheKey(email)
	if key == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = CreationCacheEntry{
		UserID:    userID,
		Email:     key,
		Timestamp: c.now(),
	}
}

// Touch refreshes the timestamp of an existing entry only. Update events
// never create entries; a creation must have been seen first.
func (c *CreationCache) Touch(email string) bool {
	key := cacheKey(email)
	if key == "" {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return false
	}

	entry.Timestamp = c.now()
	c.entries[key] = entry
	return true
}

// Get returns the live entry for email, if any. Expired entries are
// removed on access.
func (c *CreationCache) Get(email string) (CreationCacheEntry, bool) {
	key := cacheKey(email)
	if key == "" {
		return CreationCacheEntry{}, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return CreationCacheEntry{}, false
	}

	if c.now().Sub(entry.Timestamp) > c.ttl {
		delete(c.entries, key)
		return CreationCacheEntry{}, false
	}

	return entry, true
}

// Sweep removes every expired entry and returns the number removed.
func (c *CreationCache) Sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, entry := range c.entries {
		if now.Sub(entry.Timestamp) > c.ttl {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

func cacheKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
