package storage

import (
	"context"
	"fmt"

	"github.com/xtxerr/versionstore/internal/constants"
	"github.com/xtxerr/versionstore/internal/errors"
	"github.com/xtxerr/versionstore/internal/storage/kv"
)

// GetStorageUsage returns the number of value bytes stored under namespace.
func GetStorageUsage(ctx context.Context, store kv.Store, namespace string) (int64, error) {
	keys, err := store.Keys(ctx)
	if err != nil {
		return 0, fmt.Errorf("list keys: %w", err)
	}

	var total int64
	for _, key := range keys {
		if !constants.InNamespace(namespace, key) {
			continue
		}
		v, err := store.Get(ctx, key)
		if errors.IsNotFound(err) {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("read %s: %w", key, err)
		}
		total += int64(len(v))
	}
	return total, nil
}

// ClearVersionStorage removes every key under namespace. A Backend open on
// the namespace must be closed first.
func ClearVersionStorage(ctx context.Context, store kv.Store, namespace string) error {
	keys, err := store.Keys(ctx)
	if err != nil {
		return fmt.Errorf("list keys: %w", err)
	}

	var errs []error
	removed := 0
	for _, key := range keys {
		if !constants.InNamespace(namespace, key) {
			continue
		}
		if err := store.Remove(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", key, err))
			continue
		}
		removed++
	}

	log.Info("version storage cleared", "namespace", namespace, "keys", removed, "errors", len(errs))
	return errors.Join(errs...)
}
