package chunk

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/xtxerr/versionstore/internal/errors"
	"github.com/xtxerr/versionstore/internal/storage/kv"
	vtesting "github.com/xtxerr/versionstore/internal/testing"
)

const kib = 1024

func sortedKeys(t *testing.T, s kv.Store) []string {
	t.Helper()
	keys, err := s.Keys(context.Background())
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	sort.Strings(keys)
	return keys
}

func TestSplit(t *testing.T) {
	c := New(kv.NewMemory(kv.Limits{}), 10)

	tests := []struct {
		size      int
		wantCount int
		chunked   bool
	}{
		{0, 1, false},
		{10, 1, false},
		{11, 2, true},
		{20, 2, true},
		{25, 3, true},
	}

	for _, tt := range tests {
		data := vtesting.RandomBytes(tt.size, int64(tt.size))
		pieces, meta := c.Split("k", data)

		if len(pieces) != tt.wantCount {
			t.Errorf("size %d: expected %d pieces, got %d", tt.size, tt.wantCount, len(pieces))
		}
		if (meta != nil) != tt.chunked {
			t.Errorf("size %d: chunked=%v, want %v", tt.size, meta != nil, tt.chunked)
			continue
		}

		var joined []byte
		for i, p := range pieces {
			if len(p.Data) > 10 {
				t.Errorf("size %d: piece %d exceeds chunk size", tt.size, i)
			}
			joined = append(joined, p.Data...)
		}
		if !bytes.Equal(joined, data) {
			t.Errorf("size %d: pieces do not reproduce data", tt.size)
		}

		if meta != nil {
			if meta.ChunkCount != len(pieces) || meta.TotalSize != tt.size || meta.OriginalKey != "k" {
				t.Errorf("size %d: bad meta %+v", tt.size, meta)
			}
			if pieces[0].Key != "k_chunk_0" {
				t.Errorf("expected chunk key k_chunk_0, got %s", pieces[0].Key)
			}
		} else if pieces[0].Key != "k" {
			t.Errorf("expected direct key k, got %s", pieces[0].Key)
		}
	}
}

func TestWriteReconstructLargeBlob(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory(kv.Limits{})
	c := New(store, 512*kib)

	data := vtesting.RandomBytes(1200*kib, 42)

	n, err := c.Write(ctx, "blob", data)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 chunks, got %d", n)
	}

	want := []string{"blob_chunk_0", "blob_chunk_1", "blob_chunk_2", "blob_meta"}
	got := sortedKeys(t, store)
	if len(got) != len(want) {
		t.Fatalf("expected keys %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("key %d: expected %s, got %s", i, want[i], got[i])
		}
	}

	chunked, err := c.IsChunked(ctx, "blob")
	if err != nil || !chunked {
		t.Errorf("expected IsChunked, got %v (%v)", chunked, err)
	}

	out, err := c.Reconstruct(ctx, "blob")
	if err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	if !bytes.Equal(out, data) {
		t.Error("reconstructed data differs from original")
	}

	if err := c.Remove(ctx, "blob"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if keys := sortedKeys(t, store); len(keys) != 0 {
		t.Errorf("expected no orphans after remove, got %v", keys)
	}
}

func TestDirectWrite(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory(kv.Limits{})
	c := New(store, 512*kib)

	n, err := c.Write(ctx, "small", []byte("hello"))
	if err != nil || n != 0 {
		t.Fatalf("Write: n=%d err=%v", n, err)
	}

	out, err := c.Reconstruct(ctx, "small")
	if err != nil || string(out) != "hello" {
		t.Errorf("Reconstruct: %s (%v)", out, err)
	}

	chunked, _ := c.IsChunked(ctx, "small")
	if chunked {
		t.Error("small value should not be chunked")
	}

	if _, err := c.Reconstruct(ctx, "absent"); !errors.Is(err, kv.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMissingChunkIsCorruption(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory(kv.Limits{})
	c := New(store, 100)

	if _, err := c.Write(ctx, "k", vtesting.RandomBytes(350, 1)); err != nil {
		t.Fatalf("Write: %v", err)
	}

	store.Remove(ctx, ChunkKey("k", 2))

	_, err := c.Reconstruct(ctx, "k")
	if !errors.Is(err, errors.ErrMissingChunk) {
		t.Errorf("expected missing chunk, got %v", err)
	}
	if !errors.IsCorruption(err) {
		t.Errorf("expected corruption category, got %v", err)
	}
}

func TestMalformedMetaIsCorruption(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory(kv.Limits{})
	c := New(store, 100)

	store.Set(ctx, MetaKey("k"), []byte("{not json"))

	if _, err := c.Reconstruct(ctx, "k"); !errors.IsCorruption(err) {
		t.Errorf("expected corruption, got %v", err)
	}

	// Removal still drops the unreadable meta
	if err := c.Remove(ctx, "k"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if keys := sortedKeys(t, store); len(keys) != 0 {
		t.Errorf("expected meta removed, got %v", keys)
	}
}

func TestRewriteReplacesLayout(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory(kv.Limits{})
	c := New(store, 100)

	// Chunked with 5 chunks, then shorter chunked with 2
	if _, err := c.Write(ctx, "k", vtesting.RandomBytes(450, 1)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	short := vtesting.RandomBytes(150, 2)
	if _, err := c.Write(ctx, "k", short); err != nil {
		t.Fatalf("Write: %v", err)
	}

	keys := sortedKeys(t, store)
	if len(keys) != 3 {
		t.Errorf("expected 2 chunks and meta, got %v", keys)
	}
	out, _ := c.Reconstruct(ctx, "k")
	if !bytes.Equal(out, short) {
		t.Error("expected shorter value after rewrite")
	}

	// Then direct
	if _, err := c.Write(ctx, "k", []byte("direct")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	keys = sortedKeys(t, store)
	if len(keys) != 1 || keys[0] != "k" {
		t.Errorf("expected only the direct key, got %v", keys)
	}
	out, _ = c.Reconstruct(ctx, "k")
	if string(out) != "direct" {
		t.Errorf("expected direct value, got %s", out)
	}

	// Then chunked again over the direct value
	if _, err := c.Write(ctx, "k", vtesting.RandomBytes(250, 3)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := store.Get(ctx, "k"); !errors.Is(err, kv.ErrNotFound) {
		t.Error("expected stale direct value removed")
	}
}

func TestFailedChunkWriteLeavesNoOrphans(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory(kv.Limits{Quota: 300})
	c := New(store, 100)

	_, err := c.Write(ctx, "k", vtesting.RandomBytes(400, 1))
	if !errors.Is(err, kv.ErrQuotaExceeded) {
		t.Fatalf("expected quota error, got %v", err)
	}

	if keys := sortedKeys(t, store); len(keys) != 0 {
		t.Errorf("expected no partial chunk set, got %v", keys)
	}
}

func TestMetaTimestamp(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory(kv.Limits{})
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := New(store, 10, WithClock(func() time.Time { return fixed }))

	if _, err := c.Write(ctx, "k", make([]byte, 25)); err != nil {
		t.Fatalf("Write: %v", err)
	}

	meta, err := c.ReadMeta(ctx, "k")
	if err != nil {
		t.Fatalf("ReadMeta: %v", err)
	}
	if !meta.Timestamp.Equal(fixed) {
		t.Errorf("expected timestamp %v, got %v", fixed, meta.Timestamp)
	}

	stats := c.Stats()
	if stats.ChunkedWrites != 1 || stats.ChunksWritten != 3 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

// failingStore rejects Set for keys matched by fail.
type failingStore struct {
	*kv.Memory
	fail func(key string) bool
}

func (s *failingStore) Set(ctx context.Context, key string, value []byte) error {
	if s.fail != nil && s.fail(key) {
		return kv.ErrQuotaExceeded
	}
	return s.Memory.Set(ctx, key, value)
}

func TestRewriteUsesNextGeneration(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory(kv.Limits{})
	c := New(store, 100)

	if _, err := c.Write(ctx, "k", vtesting.RandomBytes(250, 1)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	next := vtesting.RandomBytes(150, 2)
	if _, err := c.Write(ctx, "k", next); err != nil {
		t.Fatalf("Write: %v", err)
	}

	want := []string{"k_chunk_1_0", "k_chunk_1_1", "k_meta"}
	if got := sortedKeys(t, store); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("expected keys %v, got %v", want, got)
	}
	meta, err := c.ReadMeta(ctx, "k")
	if err != nil || meta.Generation != 1 {
		t.Fatalf("ReadMeta = %+v, %v", meta, err)
	}
	if out, _ := c.Reconstruct(ctx, "k"); !bytes.Equal(out, next) {
		t.Error("expected rewritten value")
	}
}

func TestFailedRewriteKeepsPreviousSet(t *testing.T) {
	tests := []struct {
		name    string
		failKey string
		next    int
	}{
		{"chunk of next set", "k_chunk_1_1", 350},
		{"meta record", MetaKey("k"), 350},
		{"direct value", "k", 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store := &failingStore{Memory: kv.NewMemory(kv.Limits{})}
			c := New(store, 100)

			original := vtesting.RandomBytes(350, 1)
			if _, err := c.Write(ctx, "k", original); err != nil {
				t.Fatalf("Write: %v", err)
			}
			before := sortedKeys(t, store)

			store.fail = func(key string) bool { return key == tt.failKey }
			if _, err := c.Write(ctx, "k", vtesting.RandomBytes(tt.next, 2)); !errors.Is(err, kv.ErrQuotaExceeded) {
				t.Fatalf("expected quota error, got %v", err)
			}

			out, err := c.Reconstruct(ctx, "k")
			if err != nil {
				t.Fatalf("Reconstruct after failed rewrite: %v", err)
			}
			if !bytes.Equal(out, original) {
				t.Error("previous value lost by failed rewrite")
			}
			if got := sortedKeys(t, store); fmt.Sprint(got) != fmt.Sprint(before) {
				t.Errorf("expected keys %v, got %v", before, got)
			}
		})
	}
}

func TestImplausibleMetaIsCorruption(t *testing.T) {
	tests := []struct {
		name string
		meta string
	}{
		{"huge total size", `{"originalKey":"k","chunkCount":2,"totalSize":1125899906842624}`},
		{"more chunks than bytes", `{"originalKey":"k","chunkCount":10,"totalSize":3}`},
		{"no chunks", `{"originalKey":"k","chunkCount":0,"totalSize":5}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store := kv.NewMemory(kv.Limits{})
			c := New(store, 100)

			store.Set(ctx, ChunkKey("k", 0), []byte("abc"))
			store.Set(ctx, ChunkKey("k", 1), []byte("de"))
			store.Set(ctx, MetaKey("k"), []byte(tt.meta))

			if _, err := c.Reconstruct(ctx, "k"); !errors.IsCorruption(err) {
				t.Errorf("expected corruption, got %v", err)
			}
		})
	}
}
