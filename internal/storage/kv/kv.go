// Package kv provides the key/value medium the version store persists into.
//
// The medium exposes only get, set, remove and key listing. It may bound
// the size of a single entry and may enforce a total quota; both limits
// surface as errors from Set so callers can react to storage pressure.
package kv

import (
	"context"
	"fmt"

	"github.com/xtxerr/versionstore/internal/errors"
	"github.com/xtxerr/versionstore/internal/logging"
)

var log = logging.Component("kv")

// Errors returned by Store implementations.
var (
	ErrNotFound      = errors.ErrNotFound
	ErrQuotaExceeded = errors.ErrQuotaExceeded
	ErrEntryTooLarge = errors.ErrEntryTooLarge
	ErrClosed        = errors.ErrClosed
)

// Store is a flat key/value medium.
//
// Implementations are safe for concurrent use.
type Store interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error

	// Keys returns every stored key in unspecified order.
	Keys(ctx context.Context) ([]string, error)

	// Close releases resources held by the store.
	Close() error
}

// Limits bounds what a Store accepts. Zero values disable a limit.
type Limits struct {
	// MaxEntrySize is the largest accepted value in bytes.
	MaxEntrySize int64

	// Quota is the total number of bytes (keys plus values) the store holds.
	Quota int64
}

// entrySize is the number of bytes an entry counts against the quota.
func entrySize(key string, value []byte) int64 {
	return int64(len(key) + len(value))
}

// check returns the error a Set of key/value would fail with, given the
// current usage and the size of the value it replaces (-1 when absent).
func (l Limits) check(key string, value []byte, used, replaced int64) error {
	if l.MaxEntrySize > 0 && int64(len(value)) > l.MaxEntrySize {
		return fmt.Errorf("key '%s' (%d bytes, limit %d): %w", key, len(value), l.MaxEntrySize, ErrEntryTooLarge)
	}

	if l.Quota > 0 {
		next := used + entrySize(key, value)
		if replaced >= 0 {
			next -= replaced
		}
		if next > l.Quota {
			return fmt.Errorf("key '%s' (%d of %d bytes): %w", key, next, l.Quota, ErrQuotaExceeded)
		}
	}

	return nil
}

// Stats holds store statistics.
type Stats struct {
	Keys      int
	UsedBytes int64
	Quota     int64
	Gets      int64
	Sets      int64
	Removes   int64
	Rejected  int64
}
