package cache

import (
	"context"
	"sync"
	"time"

	"github.com/logflow/dfgflow/pkg/dfg"
)

// Memory is an in-process cache with per-entry expiry. Entries are stored
// encoded so callers can never mutate a cached result.
type Memory struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	data    []byte
	expires time.Time // zero means never
}

// NewMemory creates a Memory cache. ttl <= 0 keeps entries forever.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]memoryEntry),
	}
}

// Get implements Cache.
func (m *Memory) Get(_ context.Context, key string) (*dfg.Result, bool, error) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !e.expires.IsZero() && m.now().After(e.expires) {
		m.mu.Lock()
		delete(m.entries, key)
		m.mu.Unlock()
		return nil, false, nil
	}

	res, err := decode(e.data)
	if err != nil {
		return nil, false, err
	}
	return res, true, nil
}

// Put implements Cache.
func (m *Memory) Put(_ context.Context, key string, res *dfg.Result) error {
	data, err := encode(res)
	if err != nil {
		return err
	}
	e := memoryEntry{data: data}
	if m.ttl > 0 {
		e.expires = m.now().Add(m.ttl)
	}

	m.mu.Lock()
	m.entries[key] = e
	m.mu.Unlock()
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Close implements Cache.
func (m *Memory) Close() error {
	m.mu.Lock()
	m.entries = make(map[string]memoryEntry)
	m.mu.Unlock()
	return nil
}
