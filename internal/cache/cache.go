// Package cache holds short-lived rendered view responses. Entries are
// keyed per room so that a mutation can drop everything derived from it.
package cache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"churchcal/internal/metrics"
)

// Cache stores opaque response bodies.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte) error
	// InvalidateRoom drops every entry of roomID.
	InvalidateRoom(ctx context.Context, roomID string) error
}

// ViewKey is the cache key of one view of a room.
func ViewKey(roomID, kind string, parts ...string) string {
	k := roomPrefix(roomID) + kind
	if len(parts) > 0 {
		k += ":" + strings.Join(parts, ":")
	}
	return k
}

func roomPrefix(roomID string) string {
	return fmt.Sprintf("view:%s:", roomID)
}

// Lookup wraps Get with hit/miss accounting. Backend errors count as misses.
func Lookup(ctx context.Context, c Cache, key string) ([]byte, bool) {
	val, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return nil, false
	}
	metrics.CacheLookups.WithLabelValues("hit").Inc()
	return val, true
}

type entry struct {
	val       []byte
	updatedAt time.Time
}

// DefaultMaxEntries bounds a Memory cache created by NewMemory.
const DefaultMaxEntries = 4096

// Memory is an in-process TTL cache holding at most maxEntries entries.
// Expired entries are swept on Set at most once per TTL, and when the cache
// is full the oldest entry makes room.
type Memory struct {
	ttl        time.Duration
	maxEntries int
	now        func() time.Time

	mu        sync.RWMutex
	entries   map[string]entry
	nextSweep time.Time
}

func NewMemory(ttl time.Duration) *Memory {
	return &Memory{ttl: ttl, maxEntries: DefaultMaxEntries, now: time.Now, entries: make(map[string]entry)}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if m.now().Sub(e.updatedAt) >= m.ttl {
		m.mu.Lock()
		// Re-check: a concurrent Set may have refreshed it.
		if cur, ok := m.entries[key]; ok && m.now().Sub(cur.updatedAt) >= m.ttl {
			delete(m.entries, key)
		}
		m.mu.Unlock()
		return nil, false, nil
	}
	return e.val, true, nil
}

func (m *Memory) Set(_ context.Context, key string, val []byte) error {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()

	_, exists := m.entries[key]
	full := !exists && m.maxEntries > 0 && len(m.entries) >= m.maxEntries
	if full || !now.Before(m.nextSweep) {
		m.sweep(now)
		m.nextSweep = now.Add(m.ttl)
	}
	if !exists && m.maxEntries > 0 && len(m.entries) >= m.maxEntries {
		m.evictOldest()
	}
	m.entries[key] = entry{val: val, updatedAt: now}
	return nil
}

// sweep drops expired entries. m.mu must be held.
func (m *Memory) sweep(now time.Time) {
	for k, e := range m.entries {
		if now.Sub(e.updatedAt) >= m.ttl {
			delete(m.entries, k)
		}
	}
}

// evictOldest drops the least recently set entry. m.mu must be held.
func (m *Memory) evictOldest() {
	var (
		oldest string
		at     time.Time
	)
	for k, e := range m.entries {
		if oldest == "" || e.updatedAt.Before(at) {
			oldest, at = k, e.updatedAt
		}
	}
	delete(m.entries, oldest)
}

func (m *Memory) InvalidateRoom(_ context.Context, roomID string) error {
	prefix := roomPrefix(roomID)
	m.mu.Lock()
	for k := range m.entries {
		if strings.HasPrefix(k, prefix) {
			delete(m.entries, k)
		}
	}
	m.mu.Unlock()
	return nil
}

// Len reports the number of stored entries, expired ones included.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
