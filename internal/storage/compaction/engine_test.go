package compaction

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/xtxerr/versionstore/internal/errors"
	"github.com/xtxerr/versionstore/internal/storage/compress"
	"github.com/xtxerr/versionstore/internal/storage/config"
	"github.com/xtxerr/versionstore/internal/storage/index"
	"github.com/xtxerr/versionstore/internal/storage/types"
	vtesting "github.com/xtxerr/versionstore/internal/testing"
)

var now = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

type memStore struct {
	mu       sync.Mutex
	entries  map[string]*types.StorageEntry
	replaced []string
	failOn   string
}

func newMemStore() *memStore {
	return &memStore{entries: make(map[string]*types.StorageEntry)}
}

func (s *memStore) put(id string, data []byte, compressed bool) {
	e := &types.StorageEntry{ID: id, Data: data, Compressed: compressed}
	e.Seal()
	s.entries[id] = e
}

func (s *memStore) LoadEntry(_ context.Context, id string) (*types.StorageEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, errors.NewNotFound("entry", id)
	}
	cp := *e
	return &cp, nil
}

func (s *memStore) ReplaceEntry(_ context.Context, e *types.StorageEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == s.failOn {
		return errors.ErrQuotaExceeded
	}
	s.entries[e.ID] = e
	s.replaced = append(s.replaced, e.ID)
	return nil
}

func newEngine(t *testing.T) *Engine {
	t.Helper()
	codec, err := compress.New(compress.Zstd)
	if err != nil {
		t.Fatalf("compress.New: %v", err)
	}
	t.Cleanup(codec.Close)

	opts := OptionsFromConfig(config.DefaultConfig().Retention)
	return New(codec, opts, WithClock(func() time.Time { return now }))
}

func TestOptionsFromConfig(t *testing.T) {
	opts := OptionsFromConfig(config.DefaultConfig().Retention)
	if opts.MinAge != 7*24*time.Hour {
		t.Errorf("MinAge = %v, want 7d", opts.MinAge)
	}
	if opts.Workers <= 0 {
		t.Errorf("Workers = %d", opts.Workers)
	}
}

func TestEngine_Select(t *testing.T) {
	e := newEngine(t)

	idx := index.New()
	for i, age := range []time.Duration{30 * 24 * time.Hour, 8 * 24 * time.Hour, 7 * 24 * time.Hour, time.Hour} {
		idx.Add(fmt.Sprintf("v%d", i), index.VersionRecord{
			Timestamp:  now.Add(-age),
			BranchID:   "main",
			Size:       1,
			IsSnapshot: i == 0,
		})
	}

	got := e.Select(idx)
	if fmt.Sprint(got) != "[v0 v1 v2]" {
		t.Errorf("Select() = %v, want [v0 v1 v2]", got)
	}
}

func TestEngine_RunRecompressesRaw(t *testing.T) {
	e := newEngine(t)
	store := newMemStore()

	payload := vtesting.RepetitiveJSON(256 * 1024)
	store.put("raw", payload, false)
	store.put("noise", vtesting.RandomBytes(64*1024, 7), false)

	res, err := e.Run(context.Background(), store, []string{"raw", "noise"})
	if err != nil {
		t.Fatalf("Run() = %v", err)
	}

	if res.Examined != 2 || res.Recompressed != 1 {
		t.Errorf("examined/recompressed = %d/%d, want 2/1", res.Examined, res.Recompressed)
	}
	if res.Saved() <= 0 {
		t.Errorf("Saved() = %d", res.Saved())
	}

	got := store.entries["raw"]
	if !got.Compressed || got.Algorithm != "zstd" {
		t.Errorf("entry = compressed %v algorithm %q", got.Compressed, got.Algorithm)
	}
	if got.Size != len(got.Data) {
		t.Errorf("size %d, data %d", got.Size, len(got.Data))
	}
	if string(e.codec.Decompress(got.Data)) != string(payload) {
		t.Error("recompressed entry does not round-trip")
	}
	if store.entries["noise"].Compressed {
		t.Error("incompressible entry was replaced")
	}
}

func TestEngine_RunImprovesCompressed(t *testing.T) {
	e := newEngine(t)
	store := newMemStore()

	payload := vtesting.RepetitiveJSON(512 * 1024)
	fast, err := e.codec.Compress(payload)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	store.put("v", fast, true)

	res, err := e.Run(context.Background(), store, []string{"v"})
	if err != nil {
		t.Fatalf("Run() = %v", err)
	}

	got := store.entries["v"]
	if res.Recompressed == 1 && len(got.Data) >= len(fast) {
		t.Errorf("replacement not smaller: %d >= %d", len(got.Data), len(fast))
	}
	if string(e.codec.Decompress(got.Data)) != string(payload) {
		t.Error("entry does not round-trip")
	}
}

func TestEngine_RunCollectsFailures(t *testing.T) {
	e := newEngine(t)
	store := newMemStore()
	store.put("a", vtesting.RepetitiveJSON(64*1024), false)
	store.put("b", vtesting.RepetitiveJSON(64*1024), false)
	store.failOn = "b"

	res, err := e.Run(context.Background(), store, []string{"a", "b", "missing"})
	if err != nil {
		t.Fatalf("Run() = %v", err)
	}

	if len(res.Errors) != 2 {
		t.Errorf("errors = %v, want 2", res.Errors)
	}
	if res.Recompressed != 1 || len(store.replaced) != 1 || store.replaced[0] != "a" {
		t.Errorf("recompressed %d, replaced %v", res.Recompressed, store.replaced)
	}
	if s := e.Stats(); s.Failed != 2 || s.Runs != 1 {
		t.Errorf("Stats() = %+v", s)
	}
}

func TestEngine_RunCancelled(t *testing.T) {
	e := newEngine(t)
	store := newMemStore()
	store.put("a", vtesting.RepetitiveJSON(64*1024), false)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := e.Run(ctx, store, []string{"a"}); !errors.Is(err, context.Canceled) {
		t.Errorf("Run() = %v, want context.Canceled", err)
	}
	if len(store.replaced) != 0 {
		t.Error("cancelled run replaced entries")
	}
}
