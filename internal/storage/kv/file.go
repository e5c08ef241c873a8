package kv

import (
	"context"
	"fmt"
	"sync"

	"github.com/spf13/afero"

	"github.com/xtxerr/versionstore/internal/storage/wal"
)

// FileOptions configures a File store.
type FileOptions struct {
	Limits Limits

	// SegmentSize is the mutation log segment size.
	SegmentSize int64

	// SyncWrites fsyncs after every mutation.
	SyncWrites bool

	// CompactRatio triggers log compaction when dead bytes exceed
	// CompactRatio times the live bytes. Default: 1.
	CompactRatio float64
}

// File is a Store persisted as an append-only mutation log on an afero.Fs.
//
// The full key space is held in memory and rebuilt by replaying the log on
// open. When superseded records dominate the log, the live state is written
// into a fresh segment and older segments are deleted.
type File struct {
	mu sync.RWMutex

	fs   afero.Fs
	dir  string
	opts FileOptions

	w      *wal.Writer
	data   map[string][]byte
	used   int64
	logged int64
	closed bool

	stats       Stats
	compactions int64
}

// OpenFile opens or creates a file store in dir on fs.
func OpenFile(fs afero.Fs, dir string, opts FileOptions) (*File, error) {
	if opts.CompactRatio <= 0 {
		opts.CompactRatio = 1
	}
	if opts.SegmentSize <= 0 {
		opts.SegmentSize = wal.DefaultOptions().MaxSegmentSize
	}

	f := &File{
		fs:   fs,
		dir:  dir,
		opts: opts,
		data: make(map[string][]byte),
	}

	corrupt, err := wal.Replay(fs, dir, f.apply)
	if err != nil {
		return nil, fmt.Errorf("replay log: %w", err)
	}
	if corrupt > 0 {
		log.Warn("skipped damaged log records", "dir", dir, "records", corrupt)
	}

	walOpts := wal.DefaultOptions()
	walOpts.MaxSegmentSize = opts.SegmentSize
	if opts.SyncWrites {
		walOpts.SyncMode = "fsync"
	}

	f.w, err = wal.NewWriter(fs, dir, walOpts)
	if err != nil {
		return nil, fmt.Errorf("open log writer: %w", err)
	}

	log.Debug("file store opened", "dir", dir, "keys", len(f.data), "bytes", f.used)
	return f, nil
}

// apply replays one mutation into the in-memory state.
func (f *File) apply(m wal.Mutation) {
	old, had := f.data[m.Key]
	if had {
		f.used -= entrySize(m.Key, old)
	}

	switch m.Op {
	case wal.OpSet:
		f.data[m.Key] = m.Value
		f.used += entrySize(m.Key, m.Value)
		f.logged += entrySize(m.Key, m.Value)
	case wal.OpRemove:
		delete(f.data, m.Key)
		f.logged += int64(len(m.Key))
	}
}

// Get returns a copy of the value stored under key.
func (f *File) Get(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil, ErrClosed
	}
	f.stats.Gets++

	v, ok := f.data[key]
	if !ok {
		return nil, ErrNotFound
	}

	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// Set logs and applies a set mutation.
func (f *File) Set(ctx context.Context, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrClosed
	}

	replaced := int64(-1)
	if old, ok := f.data[key]; ok {
		replaced = entrySize(key, old)
	}

	if err := f.opts.Limits.check(key, value, f.used, replaced); err != nil {
		f.stats.Rejected++
		return err
	}

	stored := make([]byte, len(value))
	copy(stored, value)

	m := wal.Mutation{Op: wal.OpSet, Key: key, Value: stored}
	if err := f.w.Write(m); err != nil {
		return fmt.Errorf("log set %s: %w", key, err)
	}
	f.apply(m)
	f.stats.Sets++

	return f.maybeCompact()
}

// Remove logs and applies a remove mutation.
func (f *File) Remove(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrClosed
	}

	f.stats.Removes++
	if _, ok := f.data[key]; !ok {
		return nil
	}

	m := wal.Mutation{Op: wal.OpRemove, Key: key}
	if err := f.w.Write(m); err != nil {
		return fmt.Errorf("log remove %s: %w", key, err)
	}
	f.apply(m)

	return f.maybeCompact()
}

// Keys returns all stored keys.
func (f *File) Keys(ctx context.Context) ([]string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return nil, ErrClosed
	}

	keys := make([]string, 0, len(f.data))
	for k := range f.data {
		keys = append(keys, k)
	}
	return keys, nil
}

// maybeCompact rewrites the live state when dead records dominate the log.
// Must be called with f.mu held.
func (f *File) maybeCompact() error {
	dead := f.logged - f.used
	if f.logged < f.opts.SegmentSize || float64(dead) <= f.opts.CompactRatio*float64(f.used) {
		return nil
	}
	return f.compactUnlocked()
}

// Compact writes the live state into a fresh segment and deletes older ones.
func (f *File) Compact() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrClosed
	}
	return f.compactUnlocked()
}

func (f *File) compactUnlocked() error {
	seq, err := f.w.Rotate()
	if err != nil {
		return fmt.Errorf("rotate log: %w", err)
	}

	for k, v := range f.data {
		if err := f.w.Write(wal.Mutation{Op: wal.OpSet, Key: k, Value: v}); err != nil {
			return fmt.Errorf("rewrite %s: %w", k, err)
		}
	}
	if err := f.w.Sync(); err != nil {
		return fmt.Errorf("sync log: %w", err)
	}

	// Older segments are only deleted once the live state is durable
	deleted, err := f.w.DeleteSegmentsBefore(seq)
	if err != nil {
		return fmt.Errorf("delete segments: %w", err)
	}

	log.Debug("log compacted", "dir", f.dir, "live_bytes", f.used, "dead_bytes", f.logged-f.used, "segments_deleted", deleted)

	f.logged = f.used
	f.compactions++
	return nil
}

// Close flushes and closes the log.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}
	f.closed = true
	f.data = nil

	return f.w.Close()
}

// Stats returns store statistics.
func (f *File) Stats() Stats {
	f.mu.RLock()
	defer f.mu.RUnlock()

	s := f.stats
	s.Keys = len(f.data)
	s.UsedBytes = f.used
	s.Quota = f.opts.Limits.Quota
	return s
}

// Compactions returns the number of log compactions performed.
func (f *File) Compactions() int64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.compactions
}
