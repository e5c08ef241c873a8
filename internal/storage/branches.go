package storage

import (
	"context"
	"io"

	"github.com/xtxerr/versionstore/internal/constants"
	"github.com/xtxerr/versionstore/internal/errors"
	"github.com/xtxerr/versionstore/internal/storage/index"
	"github.com/xtxerr/versionstore/internal/storage/parquet"
	"github.com/xtxerr/versionstore/internal/storage/types"
	"github.com/xtxerr/versionstore/internal/validation"
)

// GetVersionList returns the metadata of every version, newest first.
func (b *Backend) GetVersionList(ctx context.Context) ([]types.VersionMetadata, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkOpen(); err != nil {
		return nil, err
	}
	return b.metadataOf(b.index.IDs()), nil
}

func (b *Backend) metadataOf(ids []string) []types.VersionMetadata {
	out := make([]types.VersionMetadata, 0, len(ids))
	for _, id := range ids {
		r, _ := b.index.Get(id)
		out = append(out, types.VersionMetadata{
			ID:         id,
			Timestamp:  r.Timestamp,
			BranchID:   r.BranchID,
			ChangeType: types.ChangeType(r.ChangeType),
			Tags:       r.Tags,
		})
	}
	return out
}

// =============================================================================
// Branches
// =============================================================================

// GetBranch returns a branch by name.
func (b *Backend) GetBranch(ctx context.Context, name string) (index.Branch, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkOpen(); err != nil {
		return index.Branch{}, err
	}

	br, ok := b.index.Branches[name]
	if !ok {
		return index.Branch{}, errors.Wrapf(errors.ErrBranchNotFound, "branch %q", name)
	}
	return *br, nil
}

// ListBranches returns every branch, most recently updated first.
func (b *Backend) ListBranches(ctx context.Context) ([]index.Branch, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	out := make([]index.Branch, 0, len(b.index.Branches))
	seen := make(map[string]bool, len(b.index.Branches))
	for _, id := range b.index.IDs() {
		r, _ := b.index.Get(id)
		if seen[r.BranchID] {
			continue
		}
		seen[r.BranchID] = true
		if br, ok := b.index.Branches[r.BranchID]; ok {
			out = append(out, *br)
		}
	}
	return out, nil
}

// VersionsOnBranch returns the metadata of a branch's versions, newest
// first.
func (b *Backend) VersionsOnBranch(ctx context.Context, name string) ([]types.VersionMetadata, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkOpen(); err != nil {
		return nil, err
	}
	if _, ok := b.index.Branches[name]; !ok {
		return nil, errors.Wrapf(errors.ErrBranchNotFound, "branch %q", name)
	}
	return b.metadataOf(b.index.BranchIDs(name)), nil
}

// =============================================================================
// Tags
// =============================================================================

// TagVersion points tag at version id, moving it from any other version.
func (b *Backend) TagVersion(ctx context.Context, id, tag string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkOpen(); err != nil {
		return err
	}
	if err := validation.ValidateTagName(tag); err != nil {
		return err
	}

	previous := b.index.Clone()
	if err := b.index.SetTag(tag, id, constants.TagTypeManual); err != nil {
		return errors.Wrapf(errors.ErrVersionNotFound, "version %q", id)
	}
	if err := b.persistIndexUnlocked(ctx); err != nil {
		b.index = previous
		return err
	}
	return nil
}

// RemoveTag drops a tag.
func (b *Backend) RemoveTag(ctx context.Context, tag string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkOpen(); err != nil {
		return err
	}

	previous := b.index.Clone()
	if !b.index.RemoveTag(tag) {
		return errors.Wrapf(errors.ErrTagNotFound, "tag %q", tag)
	}
	if err := b.persistIndexUnlocked(ctx); err != nil {
		b.index = previous
		return err
	}
	return nil
}

// ResolveTag returns the version id a tag points at.
func (b *Backend) ResolveTag(ctx context.Context, tag string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkOpen(); err != nil {
		return "", err
	}

	id, ok := b.index.ResolveTag(tag)
	if !ok {
		return "", errors.Wrapf(errors.ErrTagNotFound, "tag %q", tag)
	}
	return id, nil
}

// =============================================================================
// Catalog export
// =============================================================================

// ExportCatalog writes one Parquet row per version to w, newest first.
func (b *Backend) ExportCatalog(ctx context.Context, w io.Writer) (int, error) {
	b.mu.Lock()
	rows := parquet.IndexRows(b.index)
	err := b.checkOpen()
	b.mu.Unlock()

	if err != nil {
		return 0, err
	}
	if err := parquet.WriteCatalog(w, rows, parquet.DefaultOptions()); err != nil {
		return 0, err
	}
	return len(rows), nil
}
