// Package config provides configuration defaults and utilities
// for the versionstore application.
//
// This package defines all configurable constants with documented defaults.
// Users can override these values via the storage YAML configuration.
package config

import "time"

// =============================================================================
// Namespace Defaults
// =============================================================================

const (
	// DefaultNamespace prefixes every key written by the store.
	// Override via config: namespace
	DefaultNamespace = "vstore"
)

// =============================================================================
// Snapshot Defaults
// =============================================================================

const (
	// DefaultSnapshotInterval forces a snapshot every N versions so that
	// reconstruction never walks an unbounded delta chain.
	// Override via config: snapshot.interval
	DefaultSnapshotInterval = 10
)

// =============================================================================
// Compression Defaults
// =============================================================================

const (
	// DefaultCompressionAlgorithm is the codec used for version payloads.
	// Override via config: compression.algorithm
	DefaultCompressionAlgorithm = "zstd"

	// DefaultCompressionMinSize is the payload size below which compression
	// is not attempted.
	// Override via config: compression.min_size
	DefaultCompressionMinSize = 1024

	// MinImprovementRatio is the largest compressed/original ratio that is
	// still persisted in compressed form. Not configurable.
	MinImprovementRatio = 0.95
)

// =============================================================================
// Chunking Defaults
// =============================================================================

const (
	// DefaultMaxChunkSize is the largest value written under a single key.
	// Larger values are split into chunks plus a meta record.
	// Override via config: chunking.max_chunk_size
	DefaultMaxChunkSize = 512 * 1024
)

// =============================================================================
// Batching Defaults
// =============================================================================

const (
	// DefaultBatchWindow is how long small writes are held before one flush.
	// Override via config: batching.window
	DefaultBatchWindow = 100 * time.Millisecond

	// DefaultLargeWriteThreshold is the size above which a write bypasses
	// the batch window and goes straight to the backend.
	// Override via config: batching.large_threshold
	DefaultLargeWriteThreshold = 1024 * 1024
)

// =============================================================================
// Cache and Streaming Defaults
// =============================================================================

const (
	// DefaultCacheSize is the number of entries held by the transform cache.
	// Override via config: cache.max_entries
	DefaultCacheSize = 50

	// DefaultCacheTTL is how long a cached transform stays valid.
	// Override via config: cache.ttl
	DefaultCacheTTL = 5 * time.Minute

	// DefaultStreamingThreshold is the payload size from which large
	// payloads are processed slice by slice.
	// Override via config: streaming.threshold
	DefaultStreamingThreshold = 100 * 1024 * 1024

	// DefaultStreamingSliceSize is the size of a single processing slice.
	// Override via config: streaming.slice_size
	DefaultStreamingSliceSize = 1024 * 1024

	// DefaultStreamingYieldEvery is the number of slices processed between
	// scheduler yields.
	// Override via config: streaming.yield_every
	DefaultStreamingYieldEvery = 10

	// FingerprintWindow is the number of leading and trailing bytes sampled
	// by the streaming fingerprint.
	FingerprintWindow = 1000
)

// =============================================================================
// Retention Defaults
// =============================================================================

const (
	// DefaultMaxVersions is the version count above which the oldest
	// versions are removed.
	// Override via config: retention.max_versions
	DefaultMaxVersions = 100

	// DefaultMaxVersionAge is the age after which versions are removed.
	// Override via config: retention.max_age
	DefaultMaxVersionAge = 30 * 24 * time.Hour

	// DefaultMaxStorageSize is the storage budget in bytes.
	// Override via config: retention.max_storage_size
	DefaultMaxStorageSize = 50 * 1024 * 1024

	// DefaultCleanupThreshold is the budget ratio above which the largest
	// deltas are evicted.
	// Override via config: retention.cleanup_threshold
	DefaultCleanupThreshold = 0.8

	// DefaultLRUCleanupCount is the maximum number of versions removed by
	// the size trigger in one pass.
	// Override via config: retention.lru_cleanup_count
	DefaultLRUCleanupCount = 10

	// DefaultOptimizeThreshold is the budget ratio that still holds after
	// cleanup and triggers recompression.
	// Override via config: retention.optimize_threshold
	DefaultOptimizeThreshold = 0.9

	// DefaultOptimizeMinAge is the age from which versions are recompressed
	// at maximum effort.
	// Override via config: retention.optimize_min_age
	DefaultOptimizeMinAge = 7 * 24 * time.Hour
)

// =============================================================================
// Backend Defaults
// =============================================================================

const (
	// DefaultBackendKind selects the KV backend.
	// Override via config: backend.kind
	DefaultBackendKind = "memory"

	// DefaultMaxEntrySize is the per-key size limit of the memory backend.
	// Override via config: backend.max_entry_size
	DefaultMaxEntrySize = 5 * 1024 * 1024

	// DefaultQuota is the total byte quota of the memory backend.
	// Override via config: backend.quota
	DefaultQuota = 100 * 1024 * 1024

	// DefaultSegmentSize is the mutation log segment size of the file backend.
	// Override via config: backend.segment_size
	DefaultSegmentSize = 64 * 1024 * 1024
)
