package storage

import (
	"context"
	"time"

	"github.com/xtxerr/versionstore/internal/storage/aggregate"
	"github.com/xtxerr/versionstore/internal/storage/backpressure"
	"github.com/xtxerr/versionstore/internal/storage/buffer"
	"github.com/xtxerr/versionstore/internal/storage/cache"
	"github.com/xtxerr/versionstore/internal/storage/chunk"
	"github.com/xtxerr/versionstore/internal/storage/compaction"
	"github.com/xtxerr/versionstore/internal/storage/compress"
	"github.com/xtxerr/versionstore/internal/storage/kv"
	"github.com/xtxerr/versionstore/internal/storage/retention"
	"github.com/xtxerr/versionstore/internal/storage/stream"
)

// Metrics is a point-in-time report of the store.
type Metrics struct {
	// From the index
	TotalVersions int
	TotalSize     int64
	SnapshotCount int
	DeltaCount    int
	Branches      int
	Tags          int
	OldestVersion string
	NewestVersion string
	OldestTime    time.Time
	NewestTime    time.Time
	LastCleanup   time.Time
	UsageRatio    float64

	// Recomputed by reading every entry
	Compression CompressionMetrics

	// Stored size distributions
	Sizes         aggregate.Summary
	SizesByBranch map[string]aggregate.Summary

	Pressure   backpressure.ControllerStats
	Buffer     buffer.Stats
	Chunks     chunk.Stats
	Cache      cache.Stats
	Stream     stream.Stats
	Codec      compress.Stats
	Retention  retention.Stats
	Compaction compaction.StatsSnapshot
	Backend    kv.Stats
	HasBackend bool
	Operations OperationStats
}

// CompressionMetrics compares original and stored payload sizes.
type CompressionMetrics struct {
	Entries       int
	Compressed    int
	Unreadable    int
	OriginalBytes int64
	StoredBytes   int64
}

// Efficiency returns the fraction of original bytes saved.
func (c CompressionMetrics) Efficiency() float64 {
	if c.OriginalBytes == 0 {
		return 0
	}
	return 1 - float64(c.StoredBytes)/float64(c.OriginalBytes)
}

// OperationStats counts Backend operations since it was created.
type OperationStats struct {
	Saves         int64
	Loads         int64
	Deletes       int64
	QuotaRetries  int64
	IndexRebuilds int64
	Cleanups      int64
	Optimizes     int64
}

// GetStorageMetrics reports index counts and component statistics, and
// recomputes compression efficiency by reading every stored entry. It reads
// every payload and is meant for diagnostics.
func (b *Backend) GetStorageMetrics(ctx context.Context) (Metrics, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkOpen(); err != nil {
		return Metrics{}, err
	}

	md := b.index.Metadata
	m := Metrics{
		TotalVersions: md.TotalVersions,
		TotalSize:     md.TotalSize,
		SnapshotCount: md.SnapshotCount,
		DeltaCount:    md.DeltaCount,
		Branches:      len(b.index.Branches),
		Tags:          len(b.index.Tags),
		OldestVersion: md.OldestVersion,
		NewestVersion: md.NewestVersion,
		LastCleanup:   md.LastCleanup,
		UsageRatio:    b.retention.UsageRatio(b.index),
	}
	if rec, ok := b.index.Get(md.OldestVersion); ok {
		m.OldestTime = rec.Timestamp
	}
	if rec, ok := b.index.Get(md.NewestVersion); ok {
		m.NewestTime = rec.Timestamp
	}

	sizes := aggregate.NewManager()
	for _, id := range b.index.IDs() {
		if err := ctx.Err(); err != nil {
			return Metrics{}, err
		}

		rec, _ := b.index.Get(id)
		sizes.Add(rec.BranchID, float64(rec.Size))

		entry, err := b.readEntry(ctx, id)
		if err != nil {
			m.Compression.Unreadable++
			log.Debug("entry unreadable during metrics", "version_id", id, "error", err)
			continue
		}

		original := int64(len(entry.Data))
		if entry.Compressed {
			original = int64(len(b.codec.Decompress(entry.Data)))
			m.Compression.Compressed++
		}
		m.Compression.Entries++
		m.Compression.OriginalBytes += original
		m.Compression.StoredBytes += int64(len(entry.Data))
	}
	m.Sizes = sizes.Total()
	m.SizesByBranch = sizes.Results()

	m.Pressure = b.pressure.Stats()
	m.Buffer = b.buffer.Stats()
	m.Chunks = b.buffer.Chunker().Stats()
	m.Cache = b.stream.Cache().Stats()
	m.Stream = b.stream.Stats()
	m.Codec = b.codec.Stats()
	m.Retention = b.retention.Stats()
	m.Compaction = b.optimizer.Stats()
	m.Backend, m.HasBackend = kv.StatsOf(b.store)
	m.Operations = OperationStats{
		Saves:         b.stats.saves.Load(),
		Loads:         b.stats.loads.Load(),
		Deletes:       b.stats.deletes.Load(),
		QuotaRetries:  b.stats.quotaRetries.Load(),
		IndexRebuilds: b.stats.indexRebuilds.Load(),
		Cleanups:      b.stats.cleanups.Load(),
		Optimizes:     b.stats.optimizes.Load(),
	}

	return m, nil
}
