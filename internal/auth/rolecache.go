package auth

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

type cachedRole struct {
	role      Role
	fetchedAt time.Time
}

// RoleCache wraps a RoleUpdater's read side with an in-memory TTL cache.
// The admin user listing shows each user's provider-side role; without the
// cache that would be one management API call per user per page load.
// Concurrent lookups for the same subject are deduplicated via singleflight.
type RoleCache struct {
	updater RoleUpdater
	ttl     time.Duration

	mu    sync.RWMutex
	cache map[string]*cachedRole
	sf    singleflight.Group
}

// NewRoleCache creates a cache that delegates to the given updater on miss.
func NewRoleCache(updater RoleUpdater, ttl time.Duration) *RoleCache {
	return &RoleCache{
		updater: updater,
		ttl:     ttl,
		cache:   make(map[string]*cachedRole),
	}
}

// FetchRole returns the cached role for the subject, or fetches fresh from
// the provider if the entry is missing or expired. Concurrent requests for
// the same subject are coalesced into a single provider call.
func (c *RoleCache) FetchRole(ctx context.Context, subject string) (Role, error) {
	c.mu.RLock()
	entry, ok := c.cache[subject]
	c.mu.RUnlock()

	if ok && time.Since(entry.fetchedAt) < c.ttl {
		return entry.role, nil
	}

	result, err, _ := c.sf.Do(subject, func() (any, error) {
		// Double-check cache inside singleflight (another goroutine may have populated it).
		c.mu.RLock()
		entry, ok := c.cache[subject]
		c.mu.RUnlock()
		if ok && time.Since(entry.fetchedAt) < c.ttl {
			return entry.role, nil
		}

		role, err := c.updater.FetchRole(ctx, subject)
		if err != nil {
			return nil, err
		}

		c.put(subject, role)
		return role, nil
	})
	if err != nil {
		return "", err
	}

	return result.(Role), nil
}

// Put records a known role, e.g. right after a successful role write, so the
// next listing reflects the change without waiting out the TTL.
func (c *RoleCache) Put(subject string, role Role) {
	c.put(subject, role)
}

// Invalidate drops the cached entry for a subject.
func (c *RoleCache) Invalidate(subject string) {
	c.mu.Lock()
	delete(c.cache, subject)
	c.mu.Unlock()
}

func (c *RoleCache) put(subject string, role Role) {
	c.mu.Lock()
	c.cache[subject] = &cachedRole{role: role, fetchedAt: time.Now()}
	c.mu.Unlock()
}
