// Package buffer provides the write path in front of the key/value medium.
//
// Oversized values are chunk-written immediately, large values are written
// directly and immediately, and small values are staged and flushed
// together after a short batch window. Reads observe staged writes.
package buffer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	defaults "github.com/xtxerr/versionstore/config"
	"github.com/xtxerr/versionstore/internal/errors"
	"github.com/xtxerr/versionstore/internal/logging"
	"github.com/xtxerr/versionstore/internal/storage/chunk"
	"github.com/xtxerr/versionstore/internal/storage/kv"
)

var log = logging.Component("buffer")

// Config configures a Store.
type Config struct {
	// BatchWindow is how long staged writes wait before a flush.
	BatchWindow time.Duration

	// LargeThreshold is the size above which writes skip staging.
	LargeThreshold int
}

// DefaultConfig returns the default buffer configuration.
func DefaultConfig() Config {
	return Config{
		BatchWindow:    defaults.DefaultBatchWindow,
		LargeThreshold: defaults.DefaultLargeWriteThreshold,
	}
}

// Store batches small writes and routes large ones.
//
// Store is safe for concurrent use. The flush timer fires on its own
// goroutine and takes the same lock as every other operation.
type Store struct {
	mu sync.Mutex

	kv      kv.Store
	chunker *chunk.Chunker
	cfg     Config

	pending map[string][]byte
	timer   *time.Timer
	closed  bool

	// lastFlushErr is the error of the most recent background flush.
	lastFlushErr error

	// Statistics
	batched   atomic.Int64
	coalesced atomic.Int64
	flushes   atomic.Int64
	flushed   atomic.Int64
	immediate atomic.Int64
	chunked   atomic.Int64
	failures  atomic.Int64
}

// Stats holds buffer statistics.
type Stats struct {
	Pending   int
	Batched   int64
	Coalesced int64
	Flushes   int64
	Flushed   int64
	Immediate int64
	Chunked   int64
	Failures  int64
}

// New creates a buffer over store using chunker for oversized values.
func New(store kv.Store, chunker *chunk.Chunker, cfg Config) *Store {
	d := DefaultConfig()
	if cfg.BatchWindow <= 0 {
		cfg.BatchWindow = d.BatchWindow
	}
	if cfg.LargeThreshold <= 0 {
		cfg.LargeThreshold = d.LargeThreshold
	}

	return &Store{
		kv:      store,
		chunker: chunker,
		cfg:     cfg,
		pending: make(map[string][]byte),
	}
}

// =============================================================================
// Write Path
// =============================================================================

// SetItem writes value under key.
//
// Writes that the chunker would split, or that exceed LargeThreshold, reach
// the medium before SetItem returns. Smaller writes are staged; repeated
// writes to a staged key keep only the latest value.
func (s *Store) SetItem(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.ErrClosed
	}

	switch {
	case s.chunker.NeedsChunking(value):
		delete(s.pending, key)
		if _, err := s.chunker.Write(ctx, key, value); err != nil {
			s.failures.Add(1)
			return err
		}
		s.chunked.Add(1)
		return nil

	case len(value) > s.cfg.LargeThreshold:
		delete(s.pending, key)
		if _, err := s.chunker.Write(ctx, key, value); err != nil {
			s.failures.Add(1)
			return err
		}
		s.immediate.Add(1)
		return nil
	}

	if _, ok := s.pending[key]; ok {
		s.coalesced.Add(1)
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	s.pending[key] = stored
	s.batched.Add(1)

	s.scheduleUnlocked()
	return nil
}

// scheduleUnlocked (re)arms the flush timer. Must be called with s.mu held.
func (s *Store) scheduleUnlocked() {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.cfg.BatchWindow, s.backgroundFlush)
}

// backgroundFlush runs on the timer goroutine.
func (s *Store) backgroundFlush() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.timer = nil
	if s.closed || len(s.pending) == 0 {
		return
	}

	if err := s.flushUnlocked(context.Background()); err != nil {
		// Failed entries stay staged; the next ForceFlush reports the error
		s.lastFlushErr = err
		log.Warn("background flush failed", "pending", len(s.pending), "error", err)
		return
	}
	s.lastFlushErr = nil
}

// ForceFlush writes every staged entry and cancels the pending timer.
// When it returns nil, all acknowledged writes have reached the medium.
func (s *Store) ForceFlush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}

	if err := s.flushUnlocked(ctx); err != nil {
		return err
	}
	s.lastFlushErr = nil
	return nil
}

// flushUnlocked writes staged entries. Entries that fail stay staged.
// Must be called with s.mu held.
func (s *Store) flushUnlocked(ctx context.Context) error {
	if len(s.pending) == 0 {
		return nil
	}

	var errs []error
	written := 0
	for key, value := range s.pending {
		if _, err := s.chunker.Write(ctx, key, value); err != nil {
			errs = append(errs, fmt.Errorf("flush %s: %w", key, err))
			continue
		}
		delete(s.pending, key)
		written++
	}

	s.flushes.Add(1)
	s.flushed.Add(int64(written))

	if len(errs) > 0 {
		s.failures.Add(int64(len(errs)))
		return errors.Join(errs...)
	}

	log.Debug("flushed staged writes", "entries", written)
	return nil
}

// =============================================================================
// Read and Remove
// =============================================================================

// GetItem returns the value for key, observing staged writes first.
// Returns kv.ErrNotFound when nothing is stored.
func (s *Store) GetItem(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errors.ErrClosed
	}

	if v, ok := s.pending[key]; ok {
		out := make([]byte, len(v))
		copy(out, v)
		return out, nil
	}

	return s.chunker.Reconstruct(ctx, key)
}

// RemoveItem drops any staged write and removes the persisted value,
// chunked or direct.
func (s *Store) RemoveItem(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.ErrClosed
	}

	delete(s.pending, key)
	return s.chunker.Remove(ctx, key)
}

// Discard drops a staged write for key without touching the medium. It
// reports whether a staged write existed.
func (s *Store) Discard(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.pending[key]
	delete(s.pending, key)
	return ok
}

// =============================================================================
// Lifecycle
// =============================================================================

// Close flushes staged writes and rejects further operations.
func (s *Store) Close(ctx context.Context) error {
	if err := s.ForceFlush(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Pending returns the number of staged writes.
func (s *Store) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// LastFlushError returns the error of the most recent background flush,
// cleared by any successful flush.
func (s *Store) LastFlushError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastFlushErr
}

// Chunker returns the chunker used for oversized values.
func (s *Store) Chunker() *chunk.Chunker {
	return s.chunker
}

// Stats returns buffer statistics.
func (s *Store) Stats() Stats {
	return Stats{
		Pending:   s.Pending(),
		Batched:   s.batched.Load(),
		Coalesced: s.coalesced.Load(),
		Flushes:   s.flushes.Load(),
		Flushed:   s.flushed.Load(),
		Immediate: s.immediate.Load(),
		Chunked:   s.chunked.Load(),
		Failures:  s.failures.Load(),
	}
}
