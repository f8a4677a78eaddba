// Package cache stores crawl results and observed map centers.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Cache is a TTL key/value store holding JSON-encodable values.
type Cache interface {
	// Get decodes the value under key into dest and reports whether it was
	// present.
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// ScrapeKey is the key of a cached raw result set.
func ScrapeKey(keyword, location string) string {
	return strings.ToLower(fmt.Sprintf("scrape:%s:%s", strings.TrimSpace(keyword), strings.TrimSpace(location)))
}

// GeocodeKey is the key of a cached map center.
func GeocodeKey(location string) string {
	return strings.ToLower("geocode:" + strings.TrimSpace(location))
}

type entry struct {
	value     []byte
	expiresAt time.Time
}

// Memory is an in-process Cache with optional size bound. Oldest inserted
// keys are evicted first.
type Memory struct {
	mu         sync.RWMutex
	items      map[string]*entry
	order      []string
	maxEntries int
	now        func() time.Time
}

// NewMemory creates an in-process cache. maxEntries <= 0 means unbounded.
func NewMemory(maxEntries int) *Memory {
	return &Memory{
		items:      make(map[string]*entry),
		order:      make([]string, 0, 128),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

func (c *Memory) Get(_ context.Context, key string, dest any) (bool, error) {
	now := c.now()
	c.mu.RLock()
	e, ok := c.items[key]
	c.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
		c.mu.Lock()
		if cur, ok := c.items[key]; ok && cur == e {
			delete(c.items, key)
			c.removeFromOrder(key)
		}
		c.mu.Unlock()
		return false, nil
	}
	if err := json.Unmarshal(e.value, dest); err != nil {
		return false, fmt.Errorf("decode cached %s: %w", key, err)
	}
	return true, nil
}

// Set stores value under key. A non-positive ttl never expires.
func (c *Memory) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	e := &entry{value: raw}
	if ttl > 0 {
		e.expiresAt = c.now().Add(ttl)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.items[key]; !exists {
		c.order = append(c.order, key)
	}
	c.items[key] = e
	c.evictIfNeeded()
	return nil
}

func (c *Memory) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
	c.removeFromOrder(key)
	return nil
}

// Len returns the number of stored keys, expired ones included.
func (c *Memory) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func (c *Memory) evictIfNeeded() {
	if c.maxEntries <= 0 {
		return
	}
	for len(c.items) > c.maxEntries && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.items, oldest)
	}
}

func (c *Memory) removeFromOrder(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}
