// Package compaction recompresses aged versions at maximum effort.
//
// A pass selects versions older than MinAge, reads and recompresses them in
// parallel, and then hands every improved entry back to the owner one at a
// time, so the caller applies index changes serially.
package compaction

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xtxerr/versionstore/internal/logging"
	"github.com/xtxerr/versionstore/internal/storage/compress"
	"github.com/xtxerr/versionstore/internal/storage/config"
	"github.com/xtxerr/versionstore/internal/storage/index"
	"github.com/xtxerr/versionstore/internal/storage/types"
)

var log = logging.Component("compaction")

// Store gives the engine access to persisted entries.
type Store interface {
	// LoadEntry reads the entry of a version.
	LoadEntry(ctx context.Context, id string) (*types.StorageEntry, error)

	// ReplaceEntry persists a recompressed entry.
	ReplaceEntry(ctx context.Context, entry *types.StorageEntry) error
}

// Options configures the engine.
type Options struct {
	// MinAge is the age from which versions are recompressed.
	MinAge time.Duration

	// Workers bounds parallel recompression.
	Workers int
}

// OptionsFromConfig builds engine options from the retention section.
func OptionsFromConfig(cfg config.RetentionConfig) Options {
	return Options{
		MinAge:  cfg.OptimizeMinAge,
		Workers: cfg.OptimizeWorkers,
	}
}

// Engine runs recompression passes.
type Engine struct {
	codec *compress.Engine
	opts  Options
	now   func() time.Time

	// Statistics
	stats Stats
}

// Stats holds compaction statistics.
type Stats struct {
	Runs         atomic.Int64
	Examined     atomic.Int64
	Recompressed atomic.Int64
	Failed       atomic.Int64
	BytesSaved   atomic.Int64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Runs         int64
	Examined     int64
	Recompressed int64
	Failed       int64
	BytesSaved   int64
}

// Result reports one pass.
type Result struct {
	Examined     int
	Recompressed int
	BytesBefore  int64
	BytesAfter   int64
	Errors       []error
}

// Saved returns the number of bytes the pass freed.
func (r Result) Saved() int64 {
	return r.BytesBefore - r.BytesAfter
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the time source used for age selection.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// New creates a new compaction engine.
func New(codec *compress.Engine, opts Options, options ...Option) *Engine {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}

	e := &Engine{
		codec: codec,
		opts:  opts,
		now:   time.Now,
	}
	for _, o := range options {
		o(e)
	}
	return e
}

// Select returns the versions old enough to recompress, oldest first.
func (e *Engine) Select(idx *index.Index) []string {
	cutoff := e.now().Add(-e.opts.MinAge)

	ids := idx.IDs()
	var out []string
	for i := len(ids) - 1; i >= 0; i-- {
		r, _ := idx.Get(ids[i])
		if r.Timestamp.After(cutoff) {
			break
		}
		out = append(out, ids[i])
	}
	return out
}

// replacement is a recompressed entry and the size it replaces.
type replacement struct {
	entry  *types.StorageEntry
	before int64
}

// Run recompresses ids. Entries that do not shrink are left alone. Failures
// on single entries are collected in the result; only context cancellation
// aborts the pass.
func (e *Engine) Run(ctx context.Context, store Store, ids []string) (Result, error) {
	e.stats.Runs.Add(1)

	var (
		mu       sync.Mutex
		result   Result
		examined atomic.Int64
		replaced = make([]*replacement, len(ids))
	)

	fail := func(err error) {
		e.stats.Failed.Add(1)
		mu.Lock()
		result.Errors = append(result.Errors, err)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Workers)

	for i, id := range ids {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			entry, err := store.LoadEntry(gctx, id)
			if err != nil {
				fail(fmt.Errorf("load %s: %w", id, err))
				return nil
			}
			examined.Add(1)

			if next := e.recompress(entry); next != nil {
				replaced[i] = &replacement{entry: next, before: int64(len(entry.Data))}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return result, err
	}
	result.Examined = int(examined.Load())
	e.stats.Examined.Add(examined.Load())

	for i, r := range replaced {
		if r == nil {
			continue
		}
		if err := store.ReplaceEntry(ctx, r.entry); err != nil {
			fail(fmt.Errorf("replace %s: %w", ids[i], err))
			continue
		}

		result.Recompressed++
		result.BytesBefore += r.before
		result.BytesAfter += int64(r.entry.Size)
	}

	e.stats.Recompressed.Add(int64(result.Recompressed))
	e.stats.BytesSaved.Add(result.Saved())

	log.Info("optimize finished",
		"candidates", len(ids),
		"recompressed", result.Recompressed,
		"saved", result.Saved(),
		"errors", len(result.Errors))

	return result, nil
}

// recompress returns a smaller replacement for entry, or nil.
func (e *Engine) recompress(entry *types.StorageEntry) *types.StorageEntry {
	raw := entry.Data
	if entry.Compressed {
		raw = e.codec.Decompress(entry.Data)
	}

	packed, err := e.codec.CompressLevel(raw, compress.LevelBest)
	if err != nil {
		log.Debug("recompress failed", "id", entry.ID, "error", err)
		return nil
	}
	if !compress.Worthwhile(len(raw), len(packed)) || len(packed) >= len(entry.Data) {
		return nil
	}

	next := *entry
	next.Data = packed
	next.Compressed = true
	next.Algorithm = e.codec.Algorithm().String()
	next.Seal()
	return &next
}

// Stats returns current statistics.
func (e *Engine) Stats() StatsSnapshot {
	return StatsSnapshot{
		Runs:         e.stats.Runs.Load(),
		Examined:     e.stats.Examined.Load(),
		Recompressed: e.stats.Recompressed.Load(),
		Failed:       e.stats.Failed.Load(),
		BytesSaved:   e.stats.BytesSaved.Load(),
	}
}
