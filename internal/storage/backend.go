package storage

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtxerr/versionstore/internal/constants"
	"github.com/xtxerr/versionstore/internal/errors"
	"github.com/xtxerr/versionstore/internal/logging"
	"github.com/xtxerr/versionstore/internal/storage/backpressure"
	"github.com/xtxerr/versionstore/internal/storage/buffer"
	"github.com/xtxerr/versionstore/internal/storage/cache"
	"github.com/xtxerr/versionstore/internal/storage/chunk"
	"github.com/xtxerr/versionstore/internal/storage/compaction"
	"github.com/xtxerr/versionstore/internal/storage/compress"
	"github.com/xtxerr/versionstore/internal/storage/config"
	"github.com/xtxerr/versionstore/internal/storage/index"
	"github.com/xtxerr/versionstore/internal/storage/kv"
	"github.com/xtxerr/versionstore/internal/storage/retention"
	"github.com/xtxerr/versionstore/internal/storage/stream"
)

var log = logging.Component("storage")

// Backend is the versioned store. It orchestrates classification,
// compression, batching, chunking, the index and retention.
//
// Backend serializes every operation with one mutex. The index is mutated
// only after the physical write or delete it describes has succeeded.
type Backend struct {
	mu sync.Mutex

	config    *config.Config
	namespace string
	now       func() time.Time

	// Components
	store     kv.Store
	ownsStore bool
	buffer    *buffer.Store
	codec     *compress.Engine
	stream    *stream.Processor
	index     *index.Index
	retention *retention.Manager
	pressure  *backpressure.Controller
	optimizer *compaction.Engine

	closed bool

	// Statistics
	stats backendStats
}

type backendStats struct {
	saves         atomic.Int64
	loads         atomic.Int64
	deletes       atomic.Int64
	quotaRetries  atomic.Int64
	indexRebuilds atomic.Int64
	cleanups      atomic.Int64
	optimizes     atomic.Int64
}

// Option configures a Backend.
type Option func(*options)

type options struct {
	now       func() time.Time
	transform stream.Transform
}

// WithClock sets the time source for every time-dependent component.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithTransform sets the slice transform applied to huge snapshot payloads.
func WithTransform(t stream.Transform) Option {
	return func(o *options) {
		o.transform = t
	}
}

// Open opens the medium selected by cfg.Backend and creates a Backend on
// it. Closing the Backend closes the medium.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*Backend, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	store, err := kv.Open(cfg.Backend)
	if err != nil {
		return nil, fmt.Errorf("open backend: %w", err)
	}

	b, err := New(ctx, store, cfg, opts...)
	if err != nil {
		store.Close()
		return nil, err
	}
	b.ownsStore = true
	return b, nil
}

// New creates a Backend on store and loads the index. An unreadable index
// is replaced by an empty one.
func New(ctx context.Context, store kv.Store, cfg *config.Config, opts ...Option) (*Backend, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	o := options{now: time.Now, transform: stream.Identity}
	for _, opt := range opts {
		opt(&o)
	}

	algorithm, err := compress.ParseAlgorithm(cfg.Compression.Algorithm)
	if err != nil {
		return nil, fmt.Errorf("compression: %w", err)
	}
	codec, err := compress.New(algorithm)
	if err != nil {
		return nil, fmt.Errorf("create codec: %w", err)
	}

	chunker := chunk.New(store, int(cfg.Chunking.MaxChunkSize), chunk.WithClock(o.now))
	buf := buffer.New(store, chunker, buffer.Config{
		BatchWindow:    cfg.Batching.Window,
		LargeThreshold: int(cfg.Batching.LargeThreshold),
	})

	transformCache := cache.New(cfg.Cache.MaxEntries, cfg.Cache.TTL, cache.WithClock(o.now))
	proc := stream.New(stream.Config{
		Threshold:       int(cfg.Streaming.Threshold),
		SliceSize:       int(cfg.Streaming.SliceSize),
		YieldEvery:      cfg.Streaming.YieldEvery,
		FullFingerprint: cfg.Streaming.FullFingerprint,
		Transform:       o.transform,
	}, transformCache)

	b := &Backend{
		config:    cfg,
		namespace: cfg.Namespace,
		now:       o.now,
		store:     store,
		buffer:    buf,
		codec:     codec,
		stream:    proc,
		retention: retention.New(retention.PolicyFromConfig(cfg.Retention), retention.WithClock(o.now)),
		pressure: backpressure.New(cfg.Backpressure, cfg.Retention.CleanupThreshold,
			backpressure.WithClock(o.now)),
		optimizer: compaction.New(codec, compaction.OptionsFromConfig(cfg.Retention),
			compaction.WithClock(o.now)),
	}

	if err := b.loadIndex(ctx); err != nil {
		codec.Close()
		return nil, err
	}
	b.pressure.Observe(b.retention.UsageRatio(b.index))

	log.Info("version store ready",
		"namespace", b.namespace,
		"backend", cfg.Backend.Kind,
		"versions", b.index.Len(),
		"size", b.index.Metadata.TotalSize)

	return b, nil
}

// =============================================================================
// Index persistence
// =============================================================================

func (b *Backend) indexKey() string {
	return constants.IndexKey(b.namespace)
}

func (b *Backend) versionKey(id string) string {
	return constants.VersionKey(b.namespace, id)
}

// loadIndex reads the persisted index. A missing index starts empty; an
// unreadable one is rebuilt empty and the old entries become garbage.
func (b *Backend) loadIndex(ctx context.Context) error {
	raw, err := b.buffer.GetItem(ctx, b.indexKey())
	switch {
	case errors.IsNotFound(err):
		b.index = index.New()
		return nil
	case err != nil:
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b.rebuildIndex(err)
		return nil
	}

	idx, err := index.Decode(raw)
	if err != nil {
		b.rebuildIndex(err)
		return nil
	}
	b.index = idx
	return nil
}

func (b *Backend) rebuildIndex(cause error) {
	b.stats.indexRebuilds.Add(1)
	b.index = index.New()
	log.Warn("index unreadable, starting with an empty index",
		"namespace", b.namespace,
		"error", cause)
}

// persistIndexUnlocked writes the index and flushes. Must be called with
// b.mu held.
func (b *Backend) persistIndexUnlocked(ctx context.Context) error {
	data, err := b.index.Encode()
	if err != nil {
		return fmt.Errorf("encode index: %w", err)
	}
	if err := b.buffer.SetItem(ctx, b.indexKey(), data); err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	if err := b.buffer.ForceFlush(ctx); err != nil {
		b.buffer.Discard(b.indexKey())
		return fmt.Errorf("flush index: %w", err)
	}
	return nil
}

// =============================================================================
// Lifecycle
// =============================================================================

// Close flushes staged writes and releases the codec. The medium is closed
// only when the Backend opened it.
func (b *Backend) Close(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	var errs []error
	if err := b.buffer.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close buffer: %w", err))
	}
	b.codec.Close()
	if b.ownsStore {
		if err := b.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close backend: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (b *Backend) checkOpen() error {
	if b.closed {
		return errors.ErrClosed
	}
	return nil
}

// Config returns the active configuration.
func (b *Backend) Config() *config.Config {
	return b.config
}

// Namespace returns the key namespace of the store.
func (b *Backend) Namespace() string {
	return b.namespace
}

// Store returns the underlying medium.
func (b *Backend) Store() kv.Store {
	return b.store
}

// PressureLevel returns the current backpressure level.
func (b *Backend) PressureLevel() backpressure.Level {
	return b.pressure.CurrentLevel()
}

// Index returns a copy of the current index.
func (b *Backend) Index() *index.Index {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.index.Clone()
}
