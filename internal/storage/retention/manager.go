// Package retention plans which versions a cleanup pass removes.
//
// Three independent triggers each produce a candidate set: count (the
// oldest versions above MaxVersions), age (versions older than MaxAge) and
// size (the largest deltas while usage is above CleanupThreshold of the
// budget). The union of the candidates minus the protected set (newest
// snapshot, newest version) is the plan. Planning reads only the index;
// the caller performs the deletes and reports back through Record.
package retention

import (
	"sort"
	"sync"
	"time"

	"github.com/xtxerr/versionstore/internal/logging"
	"github.com/xtxerr/versionstore/internal/storage/config"
	"github.com/xtxerr/versionstore/internal/storage/index"
)

var log = logging.Component("retention")

// Policy holds the retention limits. A zero limit disables its trigger.
type Policy struct {
	MaxVersions      int
	MaxAge           time.Duration
	MaxStorageSize   int64
	CleanupThreshold float64
	LRUCleanupCount  int
}

// PolicyFromConfig builds a policy from the retention config section.
func PolicyFromConfig(cfg config.RetentionConfig) Policy {
	return Policy{
		MaxVersions:      cfg.MaxVersions,
		MaxAge:           cfg.MaxAge,
		MaxStorageSize:   int64(cfg.MaxStorageSize),
		CleanupThreshold: cfg.CleanupThreshold,
		LRUCleanupCount:  cfg.LRUCleanupCount,
	}
}

// Plan is the outcome of planning one cleanup pass. All id lists are
// ordered oldest first.
type Plan struct {
	ByCount []string
	ByAge   []string
	BySize  []string

	// Protected lists candidates that were spared.
	Protected []string

	// Remove is the final removal set.
	Remove []string

	// Bytes is the stored size the removal set frees.
	Bytes int64
}

// Empty reports whether the plan removes nothing.
func (p Plan) Empty() bool {
	return len(p.Remove) == 0
}

// Result reports an executed plan.
type Result struct {
	Plan       Plan
	Removed    []string
	BytesFreed int64
	Errors     []error
	Optimized  bool
	DryRun     bool
}

// Manager plans cleanup passes and keeps their statistics.
type Manager struct {
	mu     sync.RWMutex
	policy Policy
	now    func() time.Time
	stats  Stats
}

// Stats holds retention statistics.
type Stats struct {
	LastRunTime     time.Time
	Runs            int64
	VersionsRemoved int64
	BytesFreed      int64
	Protected       int64
	Errors          int64
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock sets the time source used for the age trigger.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// New creates a new retention manager.
func New(policy Policy, opts ...Option) *Manager {
	m := &Manager{
		policy: policy,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Policy returns the active policy.
func (m *Manager) Policy() Policy {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.policy
}

// UsageRatio returns total stored size relative to the storage budget.
func (m *Manager) UsageRatio(idx *index.Index) float64 {
	p := m.Policy()
	if p.MaxStorageSize <= 0 {
		return 0
	}
	return float64(idx.Metadata.TotalSize) / float64(p.MaxStorageSize)
}

// NeedsCleanup reports whether any trigger fires for idx.
func (m *Manager) NeedsCleanup(idx *index.Index) bool {
	p := m.Policy()

	if p.MaxVersions > 0 && idx.Len() > p.MaxVersions {
		return true
	}
	if p.MaxAge > 0 {
		if r, ok := idx.Get(idx.Metadata.OldestVersion); ok && r.Timestamp.Before(m.now().Add(-p.MaxAge)) {
			return true
		}
	}
	if p.MaxStorageSize > 0 && m.UsageRatio(idx) > p.CleanupThreshold {
		return true
	}
	return false
}

// Plan computes the removal set for idx without changing anything.
func (m *Manager) Plan(idx *index.Index) Plan {
	p := m.Policy()
	var plan Plan

	ids := idx.IDs()
	oldestFirst := make([]string, len(ids))
	for i, id := range ids {
		oldestFirst[len(ids)-1-i] = id
	}

	if p.MaxVersions > 0 && len(oldestFirst) > p.MaxVersions {
		plan.ByCount = append(plan.ByCount, oldestFirst[:len(oldestFirst)-p.MaxVersions]...)
	}

	if p.MaxAge > 0 {
		cutoff := m.now().Add(-p.MaxAge)
		for _, id := range oldestFirst {
			r, _ := idx.Get(id)
			if !r.Timestamp.Before(cutoff) {
				break
			}
			plan.ByAge = append(plan.ByAge, id)
		}
	}

	if p.MaxStorageSize > 0 && m.UsageRatio(idx) > p.CleanupThreshold && p.LRUCleanupCount > 0 {
		var deltas []string
		for _, id := range oldestFirst {
			if r, _ := idx.Get(id); !r.IsSnapshot {
				deltas = append(deltas, id)
			}
		}
		sort.SliceStable(deltas, func(i, j int) bool {
			a, _ := idx.Get(deltas[i])
			b, _ := idx.Get(deltas[j])
			return a.Size > b.Size
		})
		if len(deltas) > p.LRUCleanupCount {
			deltas = deltas[:p.LRUCleanupCount]
		}
		plan.BySize = deltas
	}

	candidates := make(map[string]bool)
	for _, set := range [][]string{plan.ByCount, plan.ByAge, plan.BySize} {
		for _, id := range set {
			candidates[id] = true
		}
	}

	protected := idx.Protected()
	for _, id := range oldestFirst {
		if !candidates[id] {
			continue
		}
		if protected[id] {
			plan.Protected = append(plan.Protected, id)
			continue
		}
		r, _ := idx.Get(id)
		plan.Remove = append(plan.Remove, id)
		plan.Bytes += r.Size
	}

	log.Debug("cleanup planned",
		"by_count", len(plan.ByCount),
		"by_age", len(plan.ByAge),
		"by_size", len(plan.BySize),
		"protected", len(plan.Protected),
		"remove", len(plan.Remove),
		"bytes", plan.Bytes)

	return plan
}

// Record folds an executed pass into the statistics. Dry runs are ignored.
func (m *Manager) Record(res Result) {
	if res.DryRun {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.stats.LastRunTime = m.now()
	m.stats.Runs++
	m.stats.VersionsRemoved += int64(len(res.Removed))
	m.stats.BytesFreed += res.BytesFreed
	m.stats.Protected += int64(len(res.Plan.Protected))
	m.stats.Errors += int64(len(res.Errors))
}

// Stats returns current statistics.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}
