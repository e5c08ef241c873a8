// Package backpressure classifies storage pressure from the budget usage
// ratio and quota failures.
//
// The level decides how hard the store defends its budget: from warning
// upward a save runs cleanup, from critical upward cleanup is followed by
// recompression, and emergency is entered when the backend refused a
// write for capacity reasons.
package backpressure

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtxerr/versionstore/internal/logging"
	"github.com/xtxerr/versionstore/internal/storage/config"
)

var log = logging.Component("backpressure")

// Level represents the current backpressure level.
type Level int

const (
	// LevelNormal - usage below the cleanup threshold.
	LevelNormal Level = iota

	// LevelWarning - usage above the cleanup threshold, clean up on save.
	LevelWarning

	// LevelCritical - usage above the critical ratio, also recompress.
	LevelCritical

	// LevelEmergency - the backend rejected a write for lack of space.
	LevelEmergency
)

// String returns the string representation of the level.
func (l Level) String() string {
	switch l {
	case LevelNormal:
		return "normal"
	case LevelWarning:
		return "warning"
	case LevelCritical:
		return "critical"
	case LevelEmergency:
		return "emergency"
	default:
		return "unknown"
	}
}

// Thresholds are the usage ratios at which the levels begin.
type Thresholds struct {
	Warning  float64
	Critical float64
}

// Controller tracks the backpressure level.
type Controller struct {
	mu sync.RWMutex

	enabled    bool
	thresholds Thresholds
	hysteresis float64
	cooldown   time.Duration
	now        func() time.Time

	// Current state
	level      atomic.Int32
	lastChange time.Time
	lastUsage  float64

	// Statistics
	stats Stats

	// Level change callback
	onLevelChange func(old, new Level)
}

// Stats holds backpressure statistics.
type Stats struct {
	LevelChanges   int64
	WarningCount   int64
	CriticalCount  int64
	EmergencyCount int64
	QuotaHits      int64
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock sets the time source used for the downgrade cooldown.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// New creates a new backpressure controller. The warning threshold is the
// retention cleanup threshold.
func New(cfg config.BackpressureConfig, warning float64, opts ...Option) *Controller {
	c := &Controller{
		enabled: cfg.Enabled,
		thresholds: Thresholds{
			Warning:  warning,
			Critical: cfg.Critical,
		},
		hysteresis: cfg.Hysteresis,
		cooldown:   cfg.Cooldown,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetOnLevelChange sets the callback for level changes.
func (c *Controller) SetOnLevelChange(fn func(old, new Level)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onLevelChange = fn
}

// Observe records the current usage ratio and updates the level.
// Upgrades apply at once; downgrades honour hysteresis and the cooldown.
func (c *Controller) Observe(usage float64) Level {
	if !c.enabled {
		return LevelNormal
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastUsage = usage
	current := Level(c.level.Load())
	next := c.determineLevel(usage, current)

	if next < current && c.now().Sub(c.lastChange) < c.cooldown {
		return current
	}
	if next != current {
		c.setLevel(current, next)
	}
	return next
}

// RecordQuotaHit moves the controller to the emergency level.
func (c *Controller) RecordQuotaHit() Level {
	if !c.enabled {
		return LevelNormal
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.stats.QuotaHits++
	if current := Level(c.level.Load()); current != LevelEmergency {
		c.setLevel(current, LevelEmergency)
	}
	return LevelEmergency
}

// determineLevel determines the backpressure level based on usage.
func (c *Controller) determineLevel(usage float64, current Level) Level {
	t := c.thresholds
	h := c.hysteresis

	// Going up (increasing pressure)
	if usage >= 1 {
		return LevelEmergency
	}
	if usage > t.Critical && current < LevelCritical {
		return LevelCritical
	}
	if usage > t.Warning && current < LevelWarning {
		return LevelWarning
	}

	// Going down (decreasing pressure) - apply hysteresis
	switch current {
	case LevelEmergency:
		if usage <= t.Critical-h {
			return c.settle(usage)
		}
		return LevelEmergency
	case LevelCritical:
		if usage <= t.Critical-h {
			return c.settle(usage)
		}
		return LevelCritical
	case LevelWarning:
		if usage <= t.Warning-h {
			return LevelNormal
		}
		return LevelWarning
	default:
		return LevelNormal
	}
}

// settle returns the level usage falls into once pressure is released.
func (c *Controller) settle(usage float64) Level {
	if usage > c.thresholds.Warning-c.hysteresis {
		return LevelWarning
	}
	return LevelNormal
}

// setLevel updates the current level and fires callback.
func (c *Controller) setLevel(old, next Level) {
	c.level.Store(int32(next))
	c.lastChange = c.now()
	c.stats.LevelChanges++

	switch next {
	case LevelWarning:
		c.stats.WarningCount++
	case LevelCritical:
		c.stats.CriticalCount++
	case LevelEmergency:
		c.stats.EmergencyCount++
	}

	log.Info("storage pressure changed", "from", old.String(), "to", next.String(), "usage", c.lastUsage)

	if c.onLevelChange != nil {
		c.onLevelChange(old, next)
	}
}

// CurrentLevel returns the current backpressure level.
func (c *Controller) CurrentLevel() Level {
	return Level(c.level.Load())
}

// ShouldCleanup returns true if a save should run cleanup.
func (c *Controller) ShouldCleanup() bool {
	return c.CurrentLevel() >= LevelWarning
}

// ShouldOptimize returns true if cleanup should be followed by
// recompression.
func (c *Controller) ShouldOptimize() bool {
	return c.CurrentLevel() >= LevelCritical
}

// Stats returns current statistics.
func (c *Controller) Stats() ControllerStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return ControllerStats{
		CurrentLevel:   c.CurrentLevel(),
		LevelChanges:   c.stats.LevelChanges,
		WarningCount:   c.stats.WarningCount,
		CriticalCount:  c.stats.CriticalCount,
		EmergencyCount: c.stats.EmergencyCount,
		QuotaHits:      c.stats.QuotaHits,
		Usage:          c.lastUsage,
	}
}

// ControllerStats holds controller statistics.
type ControllerStats struct {
	CurrentLevel   Level
	LevelChanges   int64
	WarningCount   int64
	CriticalCount  int64
	EmergencyCount int64
	QuotaHits      int64
	Usage          float64
}

// IsEnabled returns whether backpressure is enabled.
func (c *Controller) IsEnabled() bool {
	return c.enabled
}
