// Package kv defines the expiring key-value store used for single-use
// challenge markers, with an in-memory implementation.
package kv

import (
	"context"
	"sync"
	"time"
)

// Store is an expiring key-value store. Delete must be atomic: of two
// concurrent deletes of the same live key exactly one reports true.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) (bool, error)
}

// Sweeper is implemented by stores that can drop expired entries in bulk.
type Sweeper interface {
	DeleteExpired(ctx context.Context) (int, error)
}

type entry struct {
	value     []byte
	expiresAt time.Time
}

// Memory keeps entries in process memory. Expired entries are invisible and
// removed lazily or by DeleteExpired.
type Memory struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]entry
}

// NewMemory builds an empty store. now defaults to time.Now.
func NewMemory(now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{now: now, entries: make(map[string]entry)}
}

func (m *Memory) liveLocked(key string) (entry, bool) {
	e, ok := m.entries[key]
	if !ok {
		return entry{}, false
	}
	if !e.expiresAt.IsZero() && !m.now().Before(e.expiresAt) {
		delete(m.entries, key)
		return entry{}, false
	}
	return e, true
}

// Get returns a copy of the value stored under key.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.liveLocked(key)
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), e.value...), true, nil
}

// Set stores value under key. A non-positive ttl never expires.
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := entry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.mu.Lock()
	m.entries[key] = e
	m.mu.Unlock()
	return nil
}

// Delete removes key and reports whether a live entry was removed.
func (m *Memory) Delete(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.liveLocked(key); !ok {
		return false, nil
	}
	delete(m.entries, key)
	return true, nil
}

// DeleteExpired drops every expired entry and returns how many were removed.
func (m *Memory) DeleteExpired(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	n := 0
	for k, e := range m.entries {
		if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
			delete(m.entries, k)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored entries, expired or not.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
