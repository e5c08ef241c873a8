package storage

import (
	"context"
	"fmt"

	"github.com/xtxerr/versionstore/internal/errors"
	"github.com/xtxerr/versionstore/internal/storage/types"
)

// LoadVersion returns the version with id. It returns (nil, nil) when the
// index has no such version, and a corruption error when the index has it
// but the stored entry is missing or damaged.
func (b *Backend) LoadVersion(ctx context.Context, id string) (*types.Version, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	rec, ok := b.index.Get(id)
	if !ok {
		return nil, nil
	}

	entry, err := b.readEntry(ctx, id)
	if err != nil {
		return nil, err
	}
	b.stats.loads.Add(1)

	data := entry.Data
	if entry.Compressed {
		data = b.codec.Decompress(data)
	}

	meta := entry.Metadata
	meta.Tags = rec.Tags

	if rec.IsSnapshot {
		return types.NewSnapshot(meta, data), nil
	}

	d, err := types.DecodeDelta(data)
	if err != nil {
		return nil, errors.NewCorruption(b.versionKey(id), err)
	}
	return types.NewDelta(meta, d), nil
}

// readEntry reads and verifies the stored entry of id. Safe to call
// concurrently; it touches only the buffer.
func (b *Backend) readEntry(ctx context.Context, id string) (*types.StorageEntry, error) {
	key := b.versionKey(id)

	raw, err := b.buffer.GetItem(ctx, key)
	switch {
	case errors.IsNotFound(err):
		return nil, errors.NewCorruption(key, errors.ErrMissingEntry)
	case errors.IsCorruption(err):
		return nil, err
	case err != nil:
		return nil, fmt.Errorf("read version %s: %w", id, err)
	}

	entry, err := types.UnmarshalEntry(raw)
	if err != nil {
		return nil, errors.NewCorruption(key, err)
	}
	return entry, nil
}

// DeleteVersion removes a version and its stored bytes. Deleting an absent
// id is a no-op.
func (b *Backend) DeleteVersion(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkOpen(); err != nil {
		return err
	}
	if !b.index.Has(id) {
		return nil
	}

	if err := b.buffer.RemoveItem(ctx, b.versionKey(id)); err != nil {
		return fmt.Errorf("remove version %s: %w", id, err)
	}

	b.index.Remove(id)
	if err := b.persistIndexUnlocked(ctx); err != nil {
		return err
	}

	b.stats.deletes.Add(1)
	log.Debug("version deleted", "version_id", id)
	return nil
}

// =============================================================================
// Entry access for recompression
// =============================================================================

// entryStore exposes stored entries to the compaction engine while the
// Backend lock is held by the caller.
type entryStore struct {
	b *Backend
}

func (s entryStore) LoadEntry(ctx context.Context, id string) (*types.StorageEntry, error) {
	return s.b.readEntry(ctx, id)
}

// ReplaceEntry writes a recompressed entry and updates its index size.
func (s entryStore) ReplaceEntry(ctx context.Context, entry *types.StorageEntry) error {
	if !s.b.index.Has(entry.ID) {
		return errors.NewNotFound("version", entry.ID)
	}

	raw, err := entry.MarshalBinary()
	if err != nil {
		return err
	}

	key := s.b.versionKey(entry.ID)
	if err := s.b.buffer.SetItem(ctx, key, raw); err != nil {
		return err
	}
	if err := s.b.buffer.ForceFlush(ctx); err != nil {
		s.b.buffer.Discard(key)
		return err
	}

	s.b.index.UpdateSize(entry.ID, int64(entry.Size), entry.Compressed)
	return nil
}
