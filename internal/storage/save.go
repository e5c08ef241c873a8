package storage

import (
	"context"
	"fmt"

	"github.com/xtxerr/versionstore/internal/constants"
	"github.com/xtxerr/versionstore/internal/errors"
	"github.com/xtxerr/versionstore/internal/logging"
	"github.com/xtxerr/versionstore/internal/storage/compress"
	"github.com/xtxerr/versionstore/internal/storage/index"
	"github.com/xtxerr/versionstore/internal/storage/types"
)

// ShouldCreateSnapshot reports whether a version with meta would be stored
// as a snapshot: the first version ever saved, every SnapshotInterval-th
// version, and every major change.
func (b *Backend) ShouldCreateSnapshot(meta types.VersionMetadata) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.shouldSnapshotUnlocked(meta)
}

func (b *Backend) shouldSnapshotUnlocked(meta types.VersionMetadata) bool {
	if b.index.Metadata.NextSeq == 0 {
		return true
	}
	if interval := b.config.Snapshot.Interval; interval > 0 && b.index.Metadata.TotalVersions%interval == 0 {
		return true
	}
	return string(meta.ChangeType) == constants.ChangeTypeMajor
}

// SaveVersion persists v and registers it in the index.
//
// The payload is written and flushed before the index changes, so a failed
// save leaves the index untouched. A quota failure runs cleanup and retries
// once; a second failure is returned.
func (b *Backend) SaveVersion(ctx context.Context, v *types.Version) error {
	if err := v.Validate(); err != nil {
		id := ""
		if v != nil {
			id = v.Metadata.ID
		}
		return errors.NewIntegrity(id, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkOpen(); err != nil {
		return err
	}

	ctx = logging.ContextWithVersionID(logging.ContextWithNamespace(ctx, b.namespace), v.Metadata.ID)

	err := b.saveUnlocked(ctx, v)
	if errors.IsRetriable(err) {
		b.pressure.RecordQuotaHit()
		b.stats.quotaRetries.Add(1)
		logging.WithContext(ctx).Warn("quota exceeded, cleaning up before retry", "error", err)

		if _, cerr := b.cleanupUnlocked(ctx, false); cerr != nil {
			logging.WithContext(ctx).Warn("cleanup after quota failure failed", "error", cerr)
		}
		err = b.saveUnlocked(ctx, v)
	}
	if err != nil {
		return err
	}
	b.stats.saves.Add(1)

	b.pressure.Observe(b.retention.UsageRatio(b.index))
	if b.config.Retention.AutoCleanup && (b.retention.NeedsCleanup(b.index) || b.pressure.ShouldCleanup()) {
		if _, err := b.cleanupUnlocked(ctx, false); err != nil {
			return fmt.Errorf("cleanup after save: %w", err)
		}
	}
	return nil
}

// saveUnlocked runs one save attempt. Must be called with b.mu held.
func (b *Backend) saveUnlocked(ctx context.Context, v *types.Version) error {
	meta := v.Metadata
	if meta.Timestamp.IsZero() {
		meta.Timestamp = b.now()
	}
	if meta.ChangeType == "" {
		meta.ChangeType = types.ChangeOrdinary
	}
	logger := logging.WithContext(ctx)

	wantSnapshot := b.shouldSnapshotUnlocked(meta)
	payload, isSnapshot, err := b.encodePayload(ctx, v)
	if err != nil {
		return err
	}
	if wantSnapshot && !isSnapshot {
		logger.Debug("snapshot requested but version carries a delta, storing delta")
	}

	entry := &types.StorageEntry{
		ID:         meta.ID,
		Metadata:   meta,
		IsSnapshot: isSnapshot,
		Timestamp:  b.now(),
	}
	entry.Data, entry.Compressed = b.compressPayload(payload)
	if entry.Compressed {
		entry.Algorithm = b.codec.Algorithm().String()
	}
	entry.Seal()

	raw, err := entry.MarshalBinary()
	if err != nil {
		return err
	}

	key := b.versionKey(meta.ID)
	existed := b.index.Has(meta.ID)
	if err := b.buffer.SetItem(ctx, key, raw); err != nil {
		b.dropFailedWrite(ctx, key, existed)
		return fmt.Errorf("write version %s: %w", meta.ID, err)
	}
	if err := b.buffer.ForceFlush(ctx); err != nil {
		b.dropFailedWrite(ctx, key, existed)
		return fmt.Errorf("flush version %s: %w", meta.ID, err)
	}

	previous := b.index.Clone()
	b.index.Add(meta.ID, index.VersionRecord{
		Timestamp:    meta.Timestamp,
		BranchID:     meta.BranchID,
		ChangeType:   string(meta.ChangeType),
		Size:         int64(entry.Size),
		Tags:         meta.Tags,
		IsSnapshot:   isSnapshot,
		Compressed:   entry.Compressed,
		OriginalSize: int64(len(payload)),
	})

	if err := b.persistIndexUnlocked(ctx); err != nil {
		b.index = previous
		if !existed {
			b.dropFailedWrite(ctx, key, false)
		}
		return err
	}

	logger.Debug("version saved",
		"snapshot", isSnapshot,
		"compressed", entry.Compressed,
		"size", entry.Size,
		"original", len(payload))
	return nil
}

// encodePayload returns the bytes to store and whether they are full
// content. Huge snapshot content passes through the stream processor.
func (b *Backend) encodePayload(ctx context.Context, v *types.Version) ([]byte, bool, error) {
	if content, ok := v.Content(); ok {
		out, err := b.stream.Process(ctx, content)
		if err != nil {
			return nil, false, fmt.Errorf("process content: %w", err)
		}
		return out, true, nil
	}

	d, ok := v.Delta()
	if !ok {
		return nil, false, errors.NewIntegrity(v.Metadata.ID, errors.ErrMissingPayload)
	}
	data, err := types.EncodeDelta(d)
	if err != nil {
		return nil, false, errors.NewIntegrity(v.Metadata.ID, err)
	}
	return data, false, nil
}

// compressPayload compresses payload when it is large enough and the
// result meets compress.MinImprovementRatio. Failures fall back to raw.
func (b *Backend) compressPayload(payload []byte) ([]byte, bool) {
	if !b.config.Compression.Enabled || !compress.ShouldCompress(payload, int(b.config.Compression.MinSize)) {
		return payload, false
	}

	packed, err := b.codec.Compress(payload)
	if err != nil {
		log.Warn("compression failed, storing raw", "size", len(payload), "error", err)
		return payload, false
	}
	if !compress.Worthwhile(len(payload), len(packed)) {
		return payload, false
	}
	return packed, true
}

// dropFailedWrite drops whatever a failed save left under key. The stored
// bytes of a version that was already indexed are kept.
func (b *Backend) dropFailedWrite(ctx context.Context, key string, existed bool) {
	b.buffer.Discard(key)
	if existed {
		return
	}
	if err := b.buffer.RemoveItem(ctx, key); err != nil {
		log.Debug("discard after failed save", "key", key, "error", err)
	}
}
