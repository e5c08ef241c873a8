package aggregate

import (
	"sort"
	"sync"
)

// Manager keeps one distribution per key.
type Manager struct {
	mu sync.RWMutex

	accuracy      float64
	distributions map[string]*Distribution

	// Statistics
	stats ManagerStats
}

// ManagerStats holds statistics for the manager.
type ManagerStats struct {
	Keys            int64
	ValuesProcessed int64
}

// NewManager creates a manager with DefaultAccuracy percentiles.
func NewManager() *Manager {
	return NewManagerWithAccuracy(DefaultAccuracy)
}

// NewManagerWithAccuracy creates a manager with custom percentile accuracy.
func NewManagerWithAccuracy(accuracy float64) *Manager {
	return &Manager{
		accuracy:      accuracy,
		distributions: make(map[string]*Distribution),
	}
}

// Add adds a value to the distribution of key.
func (m *Manager) Add(key string, value float64) {
	m.mu.Lock()
	d, ok := m.distributions[key]
	if !ok {
		d = NewWithAccuracy(m.accuracy)
		m.distributions[key] = d
		m.stats.Keys++
	}
	m.stats.ValuesProcessed++
	m.mu.Unlock()

	d.Add(value)
}

// Get returns the distribution of key.
func (m *Manager) Get(key string) (*Distribution, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.distributions[key]
	return d, ok
}

// Keys returns all keys in sorted order.
func (m *Manager) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.distributions))
	for k := range m.distributions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Results returns the summary of every key.
func (m *Manager) Results() map[string]Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]Summary, len(m.distributions))
	for k, d := range m.distributions {
		out[k] = d.Result()
	}
	return out
}

// Total returns the summary over all keys.
func (m *Manager) Total() Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	total := NewWithAccuracy(m.accuracy)
	for _, d := range m.distributions {
		total.Merge(d)
	}
	return total.Result()
}

// Stats returns manager statistics.
func (m *Manager) Stats() ManagerStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}
