package retention

import (
	"fmt"
	"testing"
	"time"

	"github.com/xtxerr/versionstore/internal/storage/config"
	"github.com/xtxerr/versionstore/internal/storage/index"
)

var base = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

// build adds n versions one minute apart. snapshot decides the kind and
// size of version i.
func build(n int, snapshot func(i int) bool, size func(i int) int64) *index.Index {
	idx := index.New()
	for i := 0; i < n; i++ {
		idx.Add(fmt.Sprintf("v%03d", i), index.VersionRecord{
			Timestamp:  base.Add(time.Duration(i) * time.Minute),
			BranchID:   "main",
			Size:       size(i),
			IsSnapshot: snapshot(i),
		})
	}
	return idx
}

func every(n int) func(int) bool {
	return func(i int) bool { return i%n == 0 }
}

func fixed(s int64) func(int) int64 {
	return func(int) int64 { return s }
}

func fixedClock(t time.Time) Option {
	return WithClock(func() time.Time { return t })
}

func TestPolicyFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	p := PolicyFromConfig(cfg.Retention)

	if p.MaxVersions != cfg.Retention.MaxVersions ||
		p.MaxStorageSize != int64(cfg.Retention.MaxStorageSize) ||
		p.LRUCleanupCount != cfg.Retention.LRUCleanupCount {
		t.Errorf("policy %+v does not mirror config %+v", p, cfg.Retention)
	}
}

func TestPlan_CountTrigger(t *testing.T) {
	idx := build(105, every(10), fixed(10))
	m := New(Policy{MaxVersions: 100}, fixedClock(base.Add(time.Hour)))

	plan := m.Plan(idx)

	want := []string{"v000", "v001", "v002", "v003", "v004"}
	if fmt.Sprint(plan.Remove) != fmt.Sprint(want) {
		t.Errorf("Remove = %v, want %v", plan.Remove, want)
	}
	if plan.Bytes != 50 {
		t.Errorf("Bytes = %d, want 50", plan.Bytes)
	}
}

func TestPlan_CountTriggerKeepsOnlySnapshot(t *testing.T) {
	// Only v000 is a snapshot, so it is the newest snapshot and protected.
	idx := build(105, func(i int) bool { return i == 0 }, fixed(10))
	m := New(Policy{MaxVersions: 100}, fixedClock(base))

	plan := m.Plan(idx)

	want := []string{"v001", "v002", "v003", "v004"}
	if fmt.Sprint(plan.Remove) != fmt.Sprint(want) {
		t.Errorf("Remove = %v, want %v", plan.Remove, want)
	}
	if len(plan.Protected) != 1 || plan.Protected[0] != "v000" {
		t.Errorf("Protected = %v, want [v000]", plan.Protected)
	}
}

func TestPlan_AgeTrigger(t *testing.T) {
	idx := build(10, every(5), fixed(1))
	now := base.Add(10 * time.Minute)
	m := New(Policy{MaxAge: 5*time.Minute + 30*time.Second}, fixedClock(now))

	plan := m.Plan(idx)

	// Cutoff is 4m30s: v000..v004 are older.
	want := []string{"v000", "v001", "v002", "v003", "v004"}
	if fmt.Sprint(plan.ByAge) != fmt.Sprint(want) {
		t.Errorf("ByAge = %v, want %v", plan.ByAge, want)
	}
	if fmt.Sprint(plan.Remove) != fmt.Sprint(want) {
		t.Errorf("Remove = %v, want %v", plan.Remove, want)
	}
}

func TestPlan_AgeTriggerNeverRemovesNewest(t *testing.T) {
	idx := build(5, every(3), fixed(1))
	m := New(Policy{MaxAge: time.Minute}, fixedClock(base.Add(24*time.Hour)))

	plan := m.Plan(idx)

	for _, id := range plan.Remove {
		if id == "v004" {
			t.Error("newest version planned for removal")
		}
	}
	if len(plan.Remove) != 3 {
		t.Errorf("Remove = %v, want 3 ids", plan.Remove)
	}
}

func TestPlan_SizeTrigger(t *testing.T) {
	// Snapshots every 4th version are the largest entries and must survive.
	sizes := func(i int) int64 {
		if i%4 == 0 {
			return 1000
		}
		return int64(i)
	}
	idx := build(20, every(4), sizes)
	m := New(Policy{
		MaxStorageSize:   1000,
		CleanupThreshold: 0.8,
		LRUCleanupCount:  3,
	}, fixedClock(base))

	plan := m.Plan(idx)

	want := []string{"v017", "v018", "v019"}
	if fmt.Sprint(plan.BySize) != fmt.Sprint([]string{"v019", "v018", "v017"}) {
		t.Errorf("BySize = %v", plan.BySize)
	}
	// v019 is the newest version and protected.
	if fmt.Sprint(plan.Remove) != fmt.Sprint(want[:2]) {
		t.Errorf("Remove = %v, want %v", plan.Remove, want[:2])
	}
	for _, id := range plan.Remove {
		if r, _ := idx.Get(id); r.IsSnapshot {
			t.Errorf("size trigger removed snapshot %s", id)
		}
	}
}

func TestPlan_BelowThresholdsIsEmpty(t *testing.T) {
	idx := build(10, every(10), fixed(1))
	m := New(Policy{
		MaxVersions:      100,
		MaxAge:           time.Hour,
		MaxStorageSize:   1 << 20,
		CleanupThreshold: 0.8,
		LRUCleanupCount:  10,
	}, fixedClock(base.Add(time.Minute)))

	if m.NeedsCleanup(idx) {
		t.Error("NeedsCleanup() = true")
	}
	if plan := m.Plan(idx); !plan.Empty() {
		t.Errorf("Plan() = %+v, want empty", plan)
	}
}

func TestNeedsCleanup(t *testing.T) {
	idx := build(10, every(10), fixed(100))

	tests := []struct {
		name   string
		policy Policy
		now    time.Time
		want   bool
	}{
		{"count", Policy{MaxVersions: 9}, base, true},
		{"age", Policy{MaxAge: time.Minute}, base.Add(time.Hour), true},
		{"size", Policy{MaxStorageSize: 1000, CleanupThreshold: 0.8}, base, true},
		{"disabled", Policy{}, base.Add(time.Hour), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New(tt.policy, fixedClock(tt.now))
			if got := m.NeedsCleanup(idx); got != tt.want {
				t.Errorf("NeedsCleanup() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPlan_UnionDeduplicates(t *testing.T) {
	idx := build(10, every(100), fixed(1))
	m := New(Policy{MaxVersions: 7, MaxAge: 7 * time.Minute}, fixedClock(base.Add(10*time.Minute)))

	plan := m.Plan(idx)

	seen := make(map[string]bool)
	for _, id := range plan.Remove {
		if seen[id] {
			t.Errorf("%s planned twice", id)
		}
		seen[id] = true
	}
	// v000 is the only snapshot.
	if len(plan.Remove) != 2 {
		t.Errorf("Remove = %v, want [v001 v002]", plan.Remove)
	}
}

func TestRecord(t *testing.T) {
	m := New(Policy{}, fixedClock(base))

	m.Record(Result{DryRun: true, Removed: []string{"a"}})
	if m.Stats().Runs != 0 {
		t.Error("dry run recorded")
	}

	m.Record(Result{
		Plan:       Plan{Protected: []string{"p"}},
		Removed:    []string{"a", "b"},
		BytesFreed: 30,
		Errors:     []error{fmt.Errorf("x")},
	})

	s := m.Stats()
	if s.Runs != 1 || s.VersionsRemoved != 2 || s.BytesFreed != 30 || s.Protected != 1 || s.Errors != 1 {
		t.Errorf("Stats() = %+v", s)
	}
	if !s.LastRunTime.Equal(base) {
		t.Errorf("LastRunTime = %v", s.LastRunTime)
	}
}
