package kv

import (
	"context"
	"sync"
)

// Memory is an in-process Store with an optional entry size limit and quota.
type Memory struct {
	mu     sync.RWMutex
	data   map[string][]byte
	used   int64
	limits Limits
	closed bool

	stats Stats
}

// NewMemory creates an empty in-memory store.
func NewMemory(limits Limits) *Memory {
	return &Memory{
		data:   make(map[string][]byte),
		limits: limits,
	}
}

// Get returns a copy of the value stored under key.
func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	m.stats.Gets++

	v, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}

	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// Set stores a copy of value under key.
func (m *Memory) Set(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	replaced := int64(-1)
	if old, ok := m.data[key]; ok {
		replaced = entrySize(key, old)
	}

	if err := m.limits.check(key, value, m.used, replaced); err != nil {
		m.stats.Rejected++
		return err
	}

	stored := make([]byte, len(value))
	copy(stored, value)

	if replaced >= 0 {
		m.used -= replaced
	}
	m.data[key] = stored
	m.used += entrySize(key, stored)
	m.stats.Sets++

	return nil
}

// Remove deletes key.
func (m *Memory) Remove(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	if old, ok := m.data[key]; ok {
		m.used -= entrySize(key, old)
		delete(m.data, key)
	}
	m.stats.Removes++

	return nil
}

// Keys returns all stored keys.
func (m *Memory) Keys(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}

	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	return keys, nil
}

// Close discards the contents.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.data = nil
	m.used = 0
	return nil
}

// Stats returns store statistics.
func (m *Memory) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := m.stats
	s.Keys = len(m.data)
	s.UsedBytes = m.used
	s.Quota = m.limits.Quota
	return s
}
