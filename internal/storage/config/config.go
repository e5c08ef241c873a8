package config

import (
	"fmt"
	"os"
	"time"

	"github.com/docker/go-units"
	"gopkg.in/yaml.v3"

	defaults "github.com/xtxerr/versionstore/config"
)

// Config represents the complete storage configuration.
type Config struct {
	// Namespace prefixes every key written by the store.
	Namespace string `yaml:"namespace"`

	// Backend selects and configures the key/value medium.
	Backend BackendConfig `yaml:"backend"`

	// Snapshot configures snapshot/delta classification.
	Snapshot SnapshotConfig `yaml:"snapshot"`

	// Compression configures payload compression.
	Compression CompressionConfig `yaml:"compression"`

	// Chunking configures splitting of oversized values.
	Chunking ChunkingConfig `yaml:"chunking"`

	// Batching configures write coalescing.
	Batching BatchingConfig `yaml:"batching"`

	// Cache configures the transform cache.
	Cache CacheConfig `yaml:"cache"`

	// Streaming configures slice-wise processing of huge payloads.
	Streaming StreamingConfig `yaml:"streaming"`

	// Retention defines the cleanup policy.
	Retention RetentionConfig `yaml:"retention"`

	// Backpressure configures storage pressure classification.
	Backpressure BackpressureConfig `yaml:"backpressure"`

	// Logging configures the process logger.
	Logging LoggingConfig `yaml:"logging"`
}

// ByteSize is a size in bytes that accepts human-readable YAML values
// such as "512KB" or "50MB" as well as plain integers.
type ByteSize int64

// UnmarshalYAML implements yaml.Unmarshaler.
func (b *ByteSize) UnmarshalYAML(node *yaml.Node) error {
	var n int64
	if err := node.Decode(&n); err == nil {
		*b = ByteSize(n)
		return nil
	}

	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("size: %w", err)
	}
	n, err := units.RAMInBytes(s)
	if err != nil {
		return fmt.Errorf("size %q: %w", s, err)
	}
	*b = ByteSize(n)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (b ByteSize) MarshalYAML() (interface{}, error) {
	return units.BytesSize(float64(b)), nil
}

// String returns the size in human-readable binary units.
func (b ByteSize) String() string {
	return units.BytesSize(float64(b))
}

// BackendConfig selects the key/value medium.
type BackendConfig struct {
	// Kind is the backend kind: memory, file, duckdb.
	Kind string `yaml:"kind"`

	// Path is the data directory (file) or database file (duckdb).
	// Ignored by the memory backend.
	Path string `yaml:"path"`

	// MaxEntrySize is the per-key size limit. Zero disables the limit.
	MaxEntrySize ByteSize `yaml:"max_entry_size"`

	// Quota is the total byte quota across all keys. Zero disables the quota.
	Quota ByteSize `yaml:"quota"`

	// SegmentSize is the mutation log segment size of the file backend.
	SegmentSize ByteSize `yaml:"segment_size"`

	// SyncWrites fsyncs the mutation log after every record.
	SyncWrites bool `yaml:"sync_writes"`
}

// SnapshotConfig configures snapshot/delta classification.
type SnapshotConfig struct {
	// Interval forces a snapshot every N versions.
	Interval int `yaml:"interval"`
}

// CompressionConfig configures payload compression.
type CompressionConfig struct {
	// Enabled enables compression of version payloads.
	Enabled bool `yaml:"enabled"`

	// Algorithm is the codec: zstd, lz4, brotli.
	Algorithm string `yaml:"algorithm"`

	// MinSize is the payload size below which compression is skipped.
	MinSize ByteSize `yaml:"min_size"`
}

// ChunkingConfig configures splitting of oversized values.
type ChunkingConfig struct {
	// MaxChunkSize is the largest value written under a single key.
	MaxChunkSize ByteSize `yaml:"max_chunk_size"`
}

// BatchingConfig configures write coalescing.
type BatchingConfig struct {
	// Window is the delay before staged writes are flushed.
	Window time.Duration `yaml:"window"`

	// LargeThreshold is the size above which writes skip the batch window.
	LargeThreshold ByteSize `yaml:"large_threshold"`
}

// CacheConfig configures the transform cache.
type CacheConfig struct {
	// MaxEntries bounds the number of cached transforms.
	MaxEntries int `yaml:"max_entries"`

	// TTL is how long a cached transform stays valid.
	TTL time.Duration `yaml:"ttl"`
}

// StreamingConfig configures slice-wise processing.
type StreamingConfig struct {
	// Threshold is the payload size from which slicing applies.
	Threshold ByteSize `yaml:"threshold"`

	// SliceSize is the size of one processing slice.
	SliceSize ByteSize `yaml:"slice_size"`

	// YieldEvery is the number of slices between scheduler yields.
	YieldEvery int `yaml:"yield_every"`

	// FullFingerprint hashes the whole payload instead of a prefix/suffix window.
	FullFingerprint bool `yaml:"full_fingerprint"`
}

// RetentionConfig defines the cleanup policy.
type RetentionConfig struct {
	// AutoCleanup runs cleanup after every save when thresholds are exceeded.
	AutoCleanup bool `yaml:"auto_cleanup"`

	// MaxVersions is the version count above which the oldest are removed.
	MaxVersions int `yaml:"max_versions"`

	// MaxAge is the age after which versions are removed.
	MaxAge time.Duration `yaml:"max_age"`

	// MaxStorageSize is the storage budget.
	MaxStorageSize ByteSize `yaml:"max_storage_size"`

	// CleanupThreshold is the budget ratio that triggers size-based eviction.
	CleanupThreshold float64 `yaml:"cleanup_threshold"`

	// LRUCleanupCount bounds the number of size-evicted versions per pass.
	LRUCleanupCount int `yaml:"lru_cleanup_count"`

	// OptimizeThreshold is the budget ratio that triggers recompression
	// after cleanup.
	OptimizeThreshold float64 `yaml:"optimize_threshold"`

	// OptimizeMinAge is the age from which versions are recompressed.
	OptimizeMinAge time.Duration `yaml:"optimize_min_age"`

	// OptimizeWorkers is the number of parallel recompression workers.
	OptimizeWorkers int `yaml:"optimize_workers"`
}

// BackpressureConfig configures storage pressure classification.
type BackpressureConfig struct {
	// Enabled enables pressure tracking.
	Enabled bool `yaml:"enabled"`

	// Critical is the budget ratio for the critical level. The warning level
	// uses retention.cleanup_threshold.
	Critical float64 `yaml:"critical"`

	// Hysteresis to prevent flapping (0.0-0.5).
	Hysteresis float64 `yaml:"hysteresis"`

	// Cooldown is the minimum time between downgrades.
	Cooldown time.Duration `yaml:"cooldown"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`

	// JSON switches to JSON output.
	JSON bool `yaml:"json"`
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	return Parse(data)
}

// Parse parses YAML configuration on top of the defaults.
func Parse(data []byte) (*Config, error) {
	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return config, nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Namespace: defaults.DefaultNamespace,
		Backend: BackendConfig{
			Kind:         defaults.DefaultBackendKind,
			MaxEntrySize: defaults.DefaultMaxEntrySize,
			Quota:        defaults.DefaultQuota,
			SegmentSize:  defaults.DefaultSegmentSize,
		},
		Snapshot: SnapshotConfig{
			Interval: defaults.DefaultSnapshotInterval,
		},
		Compression: CompressionConfig{
			Enabled:   true,
			Algorithm: defaults.DefaultCompressionAlgorithm,
			MinSize:   defaults.DefaultCompressionMinSize,
		},
		Chunking: ChunkingConfig{
			MaxChunkSize: defaults.DefaultMaxChunkSize,
		},
		Batching: BatchingConfig{
			Window:         defaults.DefaultBatchWindow,
			LargeThreshold: defaults.DefaultLargeWriteThreshold,
		},
		Cache: CacheConfig{
			MaxEntries: defaults.DefaultCacheSize,
			TTL:        defaults.DefaultCacheTTL,
		},
		Streaming: StreamingConfig{
			Threshold:  defaults.DefaultStreamingThreshold,
			SliceSize:  defaults.DefaultStreamingSliceSize,
			YieldEvery: defaults.DefaultStreamingYieldEvery,
		},
		Retention: RetentionConfig{
			AutoCleanup:       true,
			MaxVersions:       defaults.DefaultMaxVersions,
			MaxAge:            defaults.DefaultMaxVersionAge,
			MaxStorageSize:    defaults.DefaultMaxStorageSize,
			CleanupThreshold:  defaults.DefaultCleanupThreshold,
			LRUCleanupCount:   defaults.DefaultLRUCleanupCount,
			OptimizeThreshold: defaults.DefaultOptimizeThreshold,
			OptimizeMinAge:    defaults.DefaultOptimizeMinAge,
			OptimizeWorkers:   4,
		},
		Backpressure: BackpressureConfig{
			Enabled:    true,
			Critical:   0.90,
			Hysteresis: 0.05,
			Cooldown:   30 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}
