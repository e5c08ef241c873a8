package storage

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/xtxerr/versionstore/internal/storage/config"
	"github.com/xtxerr/versionstore/internal/storage/types"
	vtesting "github.com/xtxerr/versionstore/internal/testing"
)

// TestPersistentBackends runs a save/reopen/load cycle through Open for
// every medium that outlives the process.
func TestPersistentBackends(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	tests := []struct {
		kind string
		path func(dir string) string
	}{
		{"file", func(dir string) string { return filepath.Join(dir, "data") }},
		{"duckdb", func(dir string) string { return filepath.Join(dir, "versions.duckdb") }},
	}

	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			ctx := context.Background()
			cfg := config.DefaultConfig()
			cfg.Retention.AutoCleanup = false
			cfg.Chunking.MaxChunkSize = 256 * 1024
			cfg.Backend.Kind = tt.kind
			cfg.Backend.Path = tt.path(t.TempDir())

			payloads := map[string][]byte{
				"small":  []byte(`{"title":"draft"}`),
				"packed": vtesting.RepetitiveJSON(512 * 1024),
				"large":  vtesting.RandomBytes(700*1024, 7),
			}

			b, err := Open(ctx, cfg)
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			i := 0
			for _, id := range []string{"small", "packed", "large"} {
				mustSave(t, b, types.NewSnapshot(testMeta(id, i), payloads[id]))
				i++
			}
			mustSave(t, b, types.NewDelta(testMeta("edit", i), testDelta(32)))
			if err := b.DeleteVersion(ctx, "small"); err != nil {
				t.Fatalf("DeleteVersion: %v", err)
			}
			if err := b.Close(ctx); err != nil {
				t.Fatalf("Close: %v", err)
			}

			b, err = Open(ctx, cfg)
			if err != nil {
				t.Fatalf("reopen: %v", err)
			}
			defer b.Close(ctx)

			idx := b.Index()
			if idx.Len() != 3 || idx.Has("small") {
				t.Fatalf("unexpected versions after reopen: %v", idx.IDs())
			}
			for _, id := range []string{"packed", "large"} {
				if got := mustLoadContent(t, b, id); !bytes.Equal(got, payloads[id]) {
					t.Errorf("%s: content differs after reopen", id)
				}
			}
			if v, err := b.LoadVersion(ctx, "edit"); err != nil || v.IsSnapshot() {
				t.Errorf("edit: expected delta, got %v, %v", v, err)
			}

			usage, err := GetStorageUsage(ctx, b.Store(), b.Namespace())
			if err != nil {
				t.Fatalf("GetStorageUsage: %v", err)
			}
			if usage <= idx.Metadata.TotalSize {
				t.Errorf("usage %d should exceed indexed payload bytes %d", usage, idx.Metadata.TotalSize)
			}
		})
	}
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Backend.Kind = "file"
	cfg.Backend.Path = ""

	if _, err := Open(context.Background(), cfg); err == nil {
		t.Fatal("expected error for file backend without path")
	}
}

func BenchmarkSaveVersion(b *testing.B) {
	ctx := context.Background()
	cfg := config.DefaultConfig()
	cfg.Retention.MaxVersions = 1 << 20
	cfg.Retention.MaxStorageSize = 1 << 40
	cfg.Backend.Quota = 0

	backend, err := Open(ctx, cfg)
	if err != nil {
		b.Fatalf("Open: %v", err)
	}
	defer backend.Close(ctx)

	payload := vtesting.RepetitiveJSON(16 * 1024)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		v := types.NewSnapshot(types.VersionMetadata{ID: fmt.Sprintf("v%d", i), BranchID: "main"}, payload)
		if err := backend.SaveVersion(ctx, v); err != nil {
			b.Fatalf("SaveVersion: %v", err)
		}
	}
}
