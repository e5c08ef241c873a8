package config

import (
	"errors"
	"fmt"
)

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Namespace == "" {
		errs = append(errs, errors.New("namespace is required"))
	}

	if err := c.Backend.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("backend: %w", err))
	}

	if c.Snapshot.Interval <= 0 {
		errs = append(errs, errors.New("snapshot: interval must be positive"))
	}

	if err := c.Compression.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("compression: %w", err))
	}

	if c.Chunking.MaxChunkSize <= 0 {
		errs = append(errs, errors.New("chunking: max_chunk_size must be positive"))
	}

	if c.Batching.Window <= 0 {
		errs = append(errs, errors.New("batching: window must be positive"))
	}
	if c.Batching.LargeThreshold <= 0 {
		errs = append(errs, errors.New("batching: large_threshold must be positive"))
	}

	if c.Cache.MaxEntries <= 0 {
		errs = append(errs, errors.New("cache: max_entries must be positive"))
	}
	if c.Cache.TTL <= 0 {
		errs = append(errs, errors.New("cache: ttl must be positive"))
	}

	if err := c.Streaming.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("streaming: %w", err))
	}

	if err := c.Retention.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("retention: %w", err))
	}

	if err := c.Backpressure.Validate(c.Retention.CleanupThreshold); err != nil {
		errs = append(errs, fmt.Errorf("backpressure: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the backend configuration.
func (c *BackendConfig) Validate() error {
	var errs []error

	switch c.Kind {
	case "memory", "":
	case "file", "duckdb":
		if c.Path == "" {
			errs = append(errs, fmt.Errorf("path is required for kind %s", c.Kind))
		}
	default:
		errs = append(errs, errors.New("kind must be one of: memory, file, duckdb"))
	}

	if c.MaxEntrySize < 0 {
		errs = append(errs, errors.New("max_entry_size must be non-negative"))
	}
	if c.Quota < 0 {
		errs = append(errs, errors.New("quota must be non-negative"))
	}
	if c.SegmentSize < 0 {
		errs = append(errs, errors.New("segment_size must be non-negative"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the compression configuration.
func (c *CompressionConfig) Validate() error {
	var errs []error

	validAlgorithms := map[string]bool{
		"zstd":   true,
		"lz4":    true,
		"brotli": true,
		"":       true, // Empty defaults to zstd
	}
	if !validAlgorithms[c.Algorithm] {
		errs = append(errs, errors.New("algorithm must be one of: zstd, lz4, brotli"))
	}

	if c.MinSize < 0 {
		errs = append(errs, errors.New("min_size must be non-negative"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the streaming configuration.
func (c *StreamingConfig) Validate() error {
	var errs []error

	if c.Threshold <= 0 {
		errs = append(errs, errors.New("threshold must be positive"))
	}
	if c.SliceSize <= 0 {
		errs = append(errs, errors.New("slice_size must be positive"))
	}
	if c.YieldEvery <= 0 {
		errs = append(errs, errors.New("yield_every must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the retention configuration.
func (c *RetentionConfig) Validate() error {
	var errs []error

	if c.MaxVersions <= 0 {
		errs = append(errs, errors.New("max_versions must be positive"))
	}

	if c.MaxAge <= 0 {
		errs = append(errs, errors.New("max_age must be positive"))
	}

	if c.MaxStorageSize <= 0 {
		errs = append(errs, errors.New("max_storage_size must be positive"))
	}

	if c.CleanupThreshold <= 0 || c.CleanupThreshold > 1 {
		errs = append(errs, errors.New("cleanup_threshold must be between 0 and 1"))
	}

	if c.LRUCleanupCount <= 0 {
		errs = append(errs, errors.New("lru_cleanup_count must be positive"))
	}

	if c.OptimizeThreshold <= 0 || c.OptimizeThreshold > 1 {
		errs = append(errs, errors.New("optimize_threshold must be between 0 and 1"))
	}

	if c.OptimizeMinAge < 0 {
		errs = append(errs, errors.New("optimize_min_age must be non-negative"))
	}

	if c.OptimizeWorkers <= 0 {
		errs = append(errs, errors.New("optimize_workers must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the backpressure configuration against the warning level.
func (c *BackpressureConfig) Validate(warning float64) error {
	if !c.Enabled {
		return nil
	}

	var errs []error

	if c.Critical <= 0 || c.Critical >= 1 {
		errs = append(errs, errors.New("critical must be between 0 and 1"))
	}
	if warning >= c.Critical {
		errs = append(errs, errors.New("retention.cleanup_threshold must be < critical"))
	}

	if c.Hysteresis < 0 || c.Hysteresis >= 0.5 {
		errs = append(errs, errors.New("hysteresis must be between 0 and 0.5"))
	}
	if c.Cooldown < 0 {
		errs = append(errs, errors.New("cooldown must be non-negative"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
