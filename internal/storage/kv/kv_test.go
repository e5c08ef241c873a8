package kv

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"testing"

	"github.com/spf13/afero"

	"github.com/xtxerr/versionstore/internal/errors"
	"github.com/xtxerr/versionstore/internal/storage/config"
)

type storeFactory struct {
	name string
	open func(t *testing.T, limits Limits) Store
}

func factories() []storeFactory {
	return []storeFactory{
		{"memory", func(t *testing.T, limits Limits) Store {
			return NewMemory(limits)
		}},
		{"file", func(t *testing.T, limits Limits) Store {
			s, err := OpenFile(afero.NewMemMapFs(), "/data", FileOptions{Limits: limits})
			if err != nil {
				t.Fatalf("OpenFile: %v", err)
			}
			return s
		}},
		{"duckdb", func(t *testing.T, limits Limits) Store {
			s, err := OpenDuckDB("", limits)
			if err != nil {
				t.Fatalf("OpenDuckDB: %v", err)
			}
			return s
		}},
	}
}

func TestStoreContract(t *testing.T) {
	ctx := context.Background()

	for _, f := range factories() {
		t.Run(f.name, func(t *testing.T) {
			s := f.open(t, Limits{})
			defer s.Close()

			if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Errorf("expected ErrNotFound, got %v", err)
			}

			binary := []byte{0x00, 0x01, 0xfe, 0xff, '"'}
			if err := s.Set(ctx, "a", binary); err != nil {
				t.Fatalf("Set: %v", err)
			}
			if err := s.Set(ctx, "b", []byte("beta")); err != nil {
				t.Fatalf("Set: %v", err)
			}

			got, err := s.Get(ctx, "a")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if !bytes.Equal(got, binary) {
				t.Errorf("expected binary value preserved, got %v", got)
			}

			// Overwrite
			if err := s.Set(ctx, "a", []byte("alpha")); err != nil {
				t.Fatalf("Set: %v", err)
			}
			got, _ = s.Get(ctx, "a")
			if string(got) != "alpha" {
				t.Errorf("expected overwrite, got %s", got)
			}

			keys, err := s.Keys(ctx)
			if err != nil {
				t.Fatalf("Keys: %v", err)
			}
			sort.Strings(keys)
			if len(keys) != 2 || keys[0] != "a" || keys[1] != "b" {
				t.Errorf("unexpected keys: %v", keys)
			}

			if err := s.Remove(ctx, "a"); err != nil {
				t.Fatalf("Remove: %v", err)
			}
			if err := s.Remove(ctx, "a"); err != nil {
				t.Errorf("second Remove should be a no-op: %v", err)
			}
			if _, err := s.Get(ctx, "a"); !errors.Is(err, ErrNotFound) {
				t.Errorf("expected ErrNotFound after remove, got %v", err)
			}
		})
	}
}

func TestStoreLimits(t *testing.T) {
	ctx := context.Background()

	for _, f := range factories() {
		t.Run(f.name, func(t *testing.T) {
			s := f.open(t, Limits{MaxEntrySize: 100, Quota: 250})
			defer s.Close()

			if err := s.Set(ctx, "big", make([]byte, 101)); !errors.Is(err, ErrEntryTooLarge) {
				t.Errorf("expected ErrEntryTooLarge, got %v", err)
			}

			if err := s.Set(ctx, "k1", make([]byte, 100)); err != nil {
				t.Fatalf("Set k1: %v", err)
			}
			if err := s.Set(ctx, "k2", make([]byte, 100)); err != nil {
				t.Fatalf("Set k2: %v", err)
			}

			err := s.Set(ctx, "k3", make([]byte, 100))
			if !errors.Is(err, ErrQuotaExceeded) {
				t.Errorf("expected ErrQuotaExceeded, got %v", err)
			}
			if !errors.IsRetriable(err) {
				t.Error("quota errors should be retriable")
			}

			// Replacing a value only counts the difference
			if err := s.Set(ctx, "k1", make([]byte, 90)); err != nil {
				t.Errorf("shrinking replace should fit: %v", err)
			}

			// Freeing space makes room again
			if err := s.Remove(ctx, "k2"); err != nil {
				t.Fatalf("Remove: %v", err)
			}
			if err := s.Set(ctx, "k3", make([]byte, 100)); err != nil {
				t.Errorf("expected room after remove: %v", err)
			}

			stats, ok := StatsOf(s)
			if !ok {
				t.Fatal("expected stats")
			}
			if stats.UsedBytes != 2+90+2+100 {
				t.Errorf("expected 194 used bytes, got %d", stats.UsedBytes)
			}
			if stats.Rejected != 2 {
				t.Errorf("expected 2 rejected writes, got %d", stats.Rejected)
			}
		})
	}
}

func TestStoreClosed(t *testing.T) {
	ctx := context.Background()

	for _, f := range factories() {
		t.Run(f.name, func(t *testing.T) {
			s := f.open(t, Limits{})
			if err := s.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}

			if err := s.Set(ctx, "a", []byte("x")); !errors.Is(err, ErrClosed) {
				t.Errorf("expected ErrClosed, got %v", err)
			}
			if _, err := s.Get(ctx, "a"); !errors.Is(err, ErrClosed) {
				t.Errorf("expected ErrClosed, got %v", err)
			}
			if err := s.Close(); err != nil {
				t.Errorf("second Close should be a no-op: %v", err)
			}
		})
	}
}

func TestFilePersistence(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()

	s, err := OpenFile(fs, "/data", FileOptions{})
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}

	for i := 0; i < 10; i++ {
		if err := s.Set(ctx, fmt.Sprintf("k%d", i), []byte(fmt.Sprintf("v%d", i))); err != nil {
			t.Fatalf("Set: %v", err)
		}
	}
	if err := s.Remove(ctx, "k3"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := OpenFile(fs, "/data", FileOptions{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	keys, _ := reopened.Keys(ctx)
	if len(keys) != 9 {
		t.Errorf("expected 9 keys after replay, got %d", len(keys))
	}

	v, err := reopened.Get(ctx, "k7")
	if err != nil || string(v) != "v7" {
		t.Errorf("expected k7=v7, got %s (%v)", v, err)
	}
	if _, err := reopened.Get(ctx, "k3"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected k3 removed, got %v", err)
	}
}

func TestFileCompaction(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()

	s, err := OpenFile(fs, "/data", FileOptions{SegmentSize: 1024})
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}

	value := bytes.Repeat([]byte("x"), 100)
	for i := 0; i < 100; i++ {
		if err := s.Set(ctx, "hot", value); err != nil {
			t.Fatalf("Set %d: %v", i, err)
		}
	}

	if s.Compactions() == 0 {
		t.Error("expected the log to be compacted")
	}

	segments, err := afero.ReadDir(fs, "/data")
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(segments) > 3 {
		t.Errorf("expected old segments deleted, found %d", len(segments))
	}

	s.Close()

	reopened, err := OpenFile(fs, "/data", FileOptions{SegmentSize: 1024})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	v, err := reopened.Get(ctx, "hot")
	if err != nil || !bytes.Equal(v, value) {
		t.Errorf("expected value to survive compaction, got %d bytes (%v)", len(v), err)
	}
}

func TestOpen(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.BackendConfig
		wantErr bool
	}{
		{"memory", config.BackendConfig{Kind: "memory"}, false},
		{"default", config.BackendConfig{}, false},
		{"file", config.BackendConfig{Kind: "file", Path: t.TempDir()}, false},
		{"unknown", config.BackendConfig{Kind: "redis"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Open(tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			s.Close()
		})
	}
}
