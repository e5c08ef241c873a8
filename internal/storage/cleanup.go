package storage

import (
	"context"
	"fmt"

	"github.com/xtxerr/versionstore/internal/storage/compaction"
	"github.com/xtxerr/versionstore/internal/storage/retention"
)

// Cleanup applies the retention policy: the union of the count, age and
// size triggers minus the protected set is deleted. When usage is still
// above the optimize threshold afterwards, aged versions are recompressed.
//
// Deletion failures of single versions are collected in the result; an
// index write failure is returned.
func (b *Backend) Cleanup(ctx context.Context) (retention.Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkOpen(); err != nil {
		return retention.Result{}, err
	}
	return b.cleanupUnlocked(ctx, false)
}

// DryRunCleanup returns what Cleanup would remove without changing
// anything.
func (b *Backend) DryRunCleanup(ctx context.Context) (retention.Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkOpen(); err != nil {
		return retention.Result{}, err
	}
	return b.cleanupUnlocked(ctx, true)
}

// cleanupUnlocked runs one cleanup pass. Must be called with b.mu held.
func (b *Backend) cleanupUnlocked(ctx context.Context, dryRun bool) (retention.Result, error) {
	plan := b.retention.Plan(b.index)
	res := retention.Result{Plan: plan, DryRun: dryRun}
	if dryRun {
		return res, nil
	}
	b.stats.cleanups.Add(1)

	// Physical deletes first; only removed entries leave the index
	for _, id := range plan.Remove {
		if err := b.buffer.RemoveItem(ctx, b.versionKey(id)); err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("remove %s: %w", id, err))
			continue
		}
		rec, _ := b.index.Remove(id)
		res.Removed = append(res.Removed, id)
		res.BytesFreed += rec.Size
	}

	b.index.MarkCleanup(b.now())
	if err := b.persistIndexUnlocked(ctx); err != nil {
		b.retention.Record(res)
		return res, err
	}

	usage := b.retention.UsageRatio(b.index)
	b.pressure.Observe(usage)
	if usage > b.config.Retention.OptimizeThreshold {
		ores, err := b.optimizeUnlocked(ctx)
		res.Optimized = true
		if err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("optimize: %w", err))
		}
		res.Errors = append(res.Errors, ores.Errors...)
	}

	b.retention.Record(res)
	log.Info("cleanup finished",
		"namespace", b.namespace,
		"removed", len(res.Removed),
		"protected", len(plan.Protected),
		"freed", res.BytesFreed,
		"optimized", res.Optimized,
		"errors", len(res.Errors))

	return res, nil
}

// OptimizeStorage recompresses versions older than the optimize age at
// maximum effort. A version is rewritten only when that saves space and
// meets the compression improvement ratio.
func (b *Backend) OptimizeStorage(ctx context.Context) (compaction.Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkOpen(); err != nil {
		return compaction.Result{}, err
	}
	return b.optimizeUnlocked(ctx)
}

// optimizeUnlocked runs one recompression pass. Must be called with b.mu
// held.
func (b *Backend) optimizeUnlocked(ctx context.Context) (compaction.Result, error) {
	b.stats.optimizes.Add(1)

	ids := b.optimizer.Select(b.index)
	if len(ids) == 0 {
		return compaction.Result{}, nil
	}

	res, err := b.optimizer.Run(ctx, entryStore{b: b}, ids)
	if res.Recompressed > 0 {
		if perr := b.persistIndexUnlocked(ctx); perr != nil {
			return res, perr
		}
		b.pressure.Observe(b.retention.UsageRatio(b.index))
	}
	return res, err
}
