// Package aggregate summarizes size distributions of stored versions.
//
// A Distribution keeps running count, sum, min and max, plus a DDSketch for
// percentiles with bounded relative error. Manager groups distributions by
// key (for example one per branch).
package aggregate

import (
	"math"
	"sync"

	"github.com/DataDog/sketches-go/ddsketch"
)

// DefaultAccuracy is the relative accuracy of percentile estimates.
const DefaultAccuracy = 0.01

// Summary is the result of a distribution.
type Summary struct {
	Count int64
	Sum   float64
	Min   float64
	Max   float64
	Avg   float64

	// Percentiles, zero when the distribution is empty or has no sketch.
	P50 float64
	P90 float64
	P95 float64
	P99 float64
}

// HasPercentiles reports whether percentile estimates are present.
func (s Summary) HasPercentiles() bool {
	return s.Count > 0 && (s.P50 != 0 || s.P99 != 0)
}

// Distribution maintains running statistics over a stream of values.
type Distribution struct {
	mu sync.Mutex

	accuracy float64

	// Running statistics
	count int64
	sum   float64
	min   float64
	max   float64

	// DDSketch for percentiles (nil if disabled)
	sketch *ddsketch.DDSketch
}

// New creates a distribution with DefaultAccuracy percentiles.
func New() *Distribution {
	return NewWithAccuracy(DefaultAccuracy)
}

// NewWithAccuracy creates a distribution with custom percentile accuracy.
// A non-positive accuracy disables percentiles.
func NewWithAccuracy(accuracy float64) *Distribution {
	d := &Distribution{accuracy: accuracy}
	d.reset()
	return d
}

func (d *Distribution) reset() {
	d.count = 0
	d.sum = 0
	d.min = math.MaxFloat64
	d.max = -math.MaxFloat64
	d.sketch = nil

	if d.accuracy > 0 {
		// DDSketch has no Clear method; a new sketch replaces the old one
		sketch, err := ddsketch.NewDefaultDDSketch(d.accuracy)
		if err == nil {
			d.sketch = sketch
		}
	}
}

// Add adds a value to the distribution.
func (d *Distribution) Add(value float64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.count++
	d.sum += value

	if value < d.min {
		d.min = value
	}
	if value > d.max {
		d.max = value
	}

	if d.sketch != nil {
		d.sketch.Add(value)
	}
}

// Count returns the number of values added.
func (d *Distribution) Count() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.count
}

// IsEmpty returns true if no values have been added.
func (d *Distribution) IsEmpty() bool {
	return d.Count() == 0
}

// Result returns the distribution summary.
func (d *Distribution) Result() Summary {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := Summary{
		Count: d.count,
		Sum:   d.sum,
	}
	if d.count == 0 {
		return s
	}

	s.Avg = d.sum / float64(d.count)
	s.Min = d.min
	s.Max = d.max

	if d.sketch != nil {
		s.P50, _ = d.sketch.GetValueAtQuantile(0.50)
		s.P90, _ = d.sketch.GetValueAtQuantile(0.90)
		s.P95, _ = d.sketch.GetValueAtQuantile(0.95)
		s.P99, _ = d.sketch.GetValueAtQuantile(0.99)
	}
	return s
}

// Reset clears the distribution.
func (d *Distribution) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reset()
}

// Merge combines another distribution into this one.
func (d *Distribution) Merge(other *Distribution) {
	if other == nil || other == d {
		return
	}

	other.mu.Lock()
	defer other.mu.Unlock()
	if other.count == 0 {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.count += other.count
	d.sum += other.sum

	if other.min < d.min {
		d.min = other.min
	}
	if other.max > d.max {
		d.max = other.max
	}

	// Merge sketches
	if d.sketch != nil && other.sketch != nil {
		d.sketch.MergeWith(other.sketch)
	}
}
