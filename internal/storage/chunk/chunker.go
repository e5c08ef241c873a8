// Package chunk splits values that exceed the medium's per-entry limit into
// bounded slices plus a meta record, and reassembles them.
//
// Layout for a chunked key K:
//   - K_meta: JSON {originalKey, chunkCount, totalSize, timestamp, generation}
//   - K_chunk_0 .. K_chunk_{n-1}: raw slices of at most MaxChunkSize bytes
//     (generation 0)
//   - K_chunk_{g}_0 .. K_chunk_{g}_{n-1}: the same for generation g > 0
//
// Rewriting a chunked key writes the next generation beside the current
// one. The meta record is the commit point: until it is replaced, readers
// see the previous set, and a failed rewrite removes only its own chunks.
package chunk

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"

	defaults "github.com/xtxerr/versionstore/config"
	"github.com/xtxerr/versionstore/internal/constants"
	"github.com/xtxerr/versionstore/internal/errors"
	"github.com/xtxerr/versionstore/internal/logging"
	"github.com/xtxerr/versionstore/internal/storage/kv"
)

var log = logging.Component("chunk")

// Meta describes how a chunked value is reassembled.
type Meta struct {
	OriginalKey string    `json:"originalKey"`
	ChunkCount  int       `json:"chunkCount"`
	TotalSize   int       `json:"totalSize"`
	Timestamp   time.Time `json:"timestamp"`
	Generation  uint64    `json:"generation,omitempty"`
}

// Key returns the key of the i-th chunk of this set.
func (m *Meta) Key(i int) string {
	return generationKey(m.OriginalKey, m.Generation, i)
}

// Piece is one key/value pair produced by Split.
type Piece struct {
	Key  string
	Data []byte
}

// MetaKey returns the key of the meta record for key.
func MetaKey(key string) string {
	return key + constants.ChunkMetaSuffix
}

// ChunkKey returns the key of the i-th chunk of key in generation 0.
func ChunkKey(key string, i int) string {
	return key + constants.ChunkSuffix + strconv.Itoa(i)
}

func generationKey(key string, gen uint64, i int) string {
	if gen == 0 {
		return ChunkKey(key, i)
	}
	return key + constants.ChunkSuffix + strconv.FormatUint(gen, 10) + "_" + strconv.Itoa(i)
}

// Chunker reads and writes possibly-chunked values in a kv.Store.
//
// Chunker holds no mutable state besides statistics and is safe for
// concurrent use on distinct keys.
type Chunker struct {
	store        kv.Store
	maxChunkSize int
	now          func() time.Time

	chunkedWrites atomic.Int64
	chunksWritten atomic.Int64
	directWrites  atomic.Int64
	reassembled   atomic.Int64
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithClock sets the time source used for meta timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Chunker) { c.now = now }
}

// New creates a chunker over store. A non-positive maxChunkSize selects the
// default of 512 KiB.
func New(store kv.Store, maxChunkSize int, opts ...Option) *Chunker {
	if maxChunkSize <= 0 {
		maxChunkSize = defaults.DefaultMaxChunkSize
	}
	c := &Chunker{
		store:        store,
		maxChunkSize: maxChunkSize,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// MaxChunkSize returns the largest slice written under one key.
func (c *Chunker) MaxChunkSize() int {
	return c.maxChunkSize
}

// NeedsChunking reports whether data would be split.
func (c *Chunker) NeedsChunking(data []byte) bool {
	return len(data) > c.maxChunkSize
}

// Split partitions data into generation 0 pieces. Data that fits returns a
// single piece under key and a nil meta.
func (c *Chunker) Split(key string, data []byte) ([]Piece, *Meta) {
	return c.split(key, data, 0)
}

func (c *Chunker) split(key string, data []byte, gen uint64) ([]Piece, *Meta) {
	if !c.NeedsChunking(data) {
		return []Piece{{Key: key, Data: data}}, nil
	}

	meta := &Meta{
		OriginalKey: key,
		ChunkCount:  (len(data) + c.maxChunkSize - 1) / c.maxChunkSize,
		TotalSize:   len(data),
		Timestamp:   c.now(),
		Generation:  gen,
	}
	pieces := make([]Piece, 0, meta.ChunkCount)
	for i := 0; i < meta.ChunkCount; i++ {
		start := i * c.maxChunkSize
		end := start + c.maxChunkSize
		if end > len(data) {
			end = len(data)
		}
		pieces = append(pieces, Piece{Key: meta.Key(i), Data: data[start:end]})
	}
	return pieces, meta
}

// Write stores data under key, chunking it when it exceeds MaxChunkSize.
// It returns the number of chunks written (zero for a direct write).
//
// A previous value under key is replaced whatever its layout was. When
// Write fails, the previous value is still readable and no chunk of the
// failed write is left behind.
func (c *Chunker) Write(ctx context.Context, key string, data []byte) (int, error) {
	old, err := c.readMeta(ctx, key)
	hadMeta := !errors.Is(err, kv.ErrNotFound)
	if err != nil && hadMeta {
		// The previous set cannot be reassembled; it is replaced below
		log.Warn("replacing unreadable chunk meta", "key", key, "error", err)
	}

	if !c.NeedsChunking(data) {
		if err := c.store.Set(ctx, key, data); err != nil {
			return 0, err
		}
		c.directWrites.Add(1)
		if hadMeta {
			c.dropSet(ctx, key, old)
		}
		return 0, nil
	}

	var gen uint64
	if old != nil {
		gen = old.Generation + 1
	}
	pieces, meta := c.split(key, data, gen)

	for i, p := range pieces {
		if err := c.store.Set(ctx, p.Key, p.Data); err != nil {
			c.abort(ctx, meta, i+1)
			return 0, fmt.Errorf("write %s: %w", p.Key, err)
		}
	}

	metaBytes, err := json.Marshal(meta)
	if err != nil {
		c.abort(ctx, meta, len(pieces))
		return 0, fmt.Errorf("encode chunk meta: %w", err)
	}
	if err := c.store.Set(ctx, MetaKey(key), metaBytes); err != nil {
		c.abort(ctx, meta, len(pieces))
		return 0, fmt.Errorf("write %s: %w", MetaKey(key), err)
	}

	// Committed; drop a stale direct value and the previous set
	if err := c.store.Remove(ctx, key); err != nil {
		log.Warn("remove stale direct value", "key", key, "error", err)
	}
	if old != nil {
		for i := 0; i < old.ChunkCount; i++ {
			if err := c.store.Remove(ctx, old.Key(i)); err != nil {
				log.Warn("remove previous chunk", "key", old.Key(i), "error", err)
			}
		}
	}

	c.chunkedWrites.Add(1)
	c.chunksWritten.Add(int64(meta.ChunkCount))
	log.Debug("chunked write", "key", key, "size", len(data), "chunks", meta.ChunkCount, "generation", gen)

	return meta.ChunkCount, nil
}

// abort removes the first n chunks of a failed write. The committed set is
// never touched.
func (c *Chunker) abort(ctx context.Context, meta *Meta, n int) {
	for i := 0; i < n; i++ {
		if err := c.store.Remove(ctx, meta.Key(i)); err != nil {
			log.Warn("remove chunk of failed write", "key", meta.Key(i), "error", err)
		}
	}
}

// dropSet retires a chunk set after a direct value replaced it. The meta
// record goes first so readers switch to the direct value before any
// chunk disappears.
func (c *Chunker) dropSet(ctx context.Context, key string, meta *Meta) {
	if err := c.store.Remove(ctx, MetaKey(key)); err != nil {
		log.Warn("remove stale chunk meta", "key", key, "error", err)
		return
	}
	if meta == nil {
		return
	}
	for i := 0; i < meta.ChunkCount; i++ {
		if err := c.store.Remove(ctx, meta.Key(i)); err != nil {
			log.Warn("remove stale chunk", "key", meta.Key(i), "error", err)
		}
	}
}

// Reconstruct returns the value stored under key.
//
// A meta record takes precedence over a direct value. Any missing chunk
// or size mismatch is reported as corruption; a key with neither a meta
// record nor a direct value returns kv.ErrNotFound.
func (c *Chunker) Reconstruct(ctx context.Context, key string) ([]byte, error) {
	meta, err := c.readMeta(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return c.store.Get(ctx, key)
	}
	if err != nil {
		return nil, err
	}

	// Sizes come from the chunks read, never from the meta record alone
	parts := make([][]byte, 0, min(meta.ChunkCount, 1024))
	total := 0
	for i := 0; i < meta.ChunkCount; i++ {
		ck := meta.Key(i)
		data, err := c.store.Get(ctx, ck)
		if errors.Is(err, kv.ErrNotFound) {
			return nil, errors.NewCorruption(ck, errors.ErrMissingChunk)
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", ck, err)
		}
		parts = append(parts, data)
		total += len(data)
	}

	if total != meta.TotalSize {
		return nil, errors.NewCorruption(key, fmt.Errorf("%w: reassembled %d bytes, meta says %d",
			errors.ErrMalformedEntry, total, meta.TotalSize))
	}

	c.reassembled.Add(1)
	return bytes.Join(parts, nil), nil
}

// Remove deletes the direct value, every chunk, and the meta record last.
func (c *Chunker) Remove(ctx context.Context, key string) error {
	if err := c.store.Remove(ctx, key); err != nil {
		return fmt.Errorf("remove %s: %w", key, err)
	}

	meta, err := c.readMeta(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return nil
	}
	if err != nil {
		// Without a readable meta the chunk count is unknown; drop the meta
		// so the orphaned chunks are at least unreachable
		log.Warn("remove with unreadable chunk meta", "key", key, "error", err)
		return c.store.Remove(ctx, MetaKey(key))
	}

	return c.removeChunks(ctx, key, meta)
}

func (c *Chunker) removeChunks(ctx context.Context, key string, meta *Meta) error {
	if meta != nil {
		for i := 0; i < meta.ChunkCount; i++ {
			if err := c.store.Remove(ctx, meta.Key(i)); err != nil {
				return fmt.Errorf("remove %s: %w", meta.Key(i), err)
			}
		}
	}
	if err := c.store.Remove(ctx, MetaKey(key)); err != nil {
		return fmt.Errorf("remove %s: %w", MetaKey(key), err)
	}
	return nil
}

// IsChunked reports whether key is stored as a chunk set.
func (c *Chunker) IsChunked(ctx context.Context, key string) (bool, error) {
	_, err := c.store.Get(ctx, MetaKey(key))
	if errors.Is(err, kv.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ReadMeta returns the meta record of a chunked key, or kv.ErrNotFound.
func (c *Chunker) ReadMeta(ctx context.Context, key string) (*Meta, error) {
	return c.readMeta(ctx, key)
}

func (c *Chunker) readMeta(ctx context.Context, key string) (*Meta, error) {
	raw, err := c.store.Get(ctx, MetaKey(key))
	if err != nil {
		return nil, err
	}

	var meta Meta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, errors.NewCorruption(MetaKey(key), fmt.Errorf("%w: %v", errors.ErrMalformedEntry, err))
	}
	if meta.ChunkCount < 0 || meta.TotalSize < 0 {
		return nil, errors.NewCorruption(MetaKey(key), errors.ErrMalformedEntry)
	}
	// Every chunk holds at least one byte
	if meta.ChunkCount > meta.TotalSize || (meta.ChunkCount == 0 && meta.TotalSize > 0) {
		return nil, errors.NewCorruption(MetaKey(key), fmt.Errorf("%w: %d chunks for %d bytes",
			errors.ErrMalformedEntry, meta.ChunkCount, meta.TotalSize))
	}
	// Chunk keys derive from the key the record was read under
	meta.OriginalKey = key
	return &meta, nil
}

// Stats holds chunker statistics.
type Stats struct {
	ChunkedWrites int64
	ChunksWritten int64
	DirectWrites  int64
	Reassembled   int64
}

// Stats returns chunker statistics.
func (c *Chunker) Stats() Stats {
	return Stats{
		ChunkedWrites: c.chunkedWrites.Load(),
		ChunksWritten: c.chunksWritten.Load(),
		DirectWrites:  c.directWrites.Load(),
		Reassembled:   c.reassembled.Load(),
	}
}
