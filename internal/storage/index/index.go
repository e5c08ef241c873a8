// Package index maintains the catalog of stored versions, branches and tags.
//
// The index is the single source of truth for what exists. It is mutated
// only after the corresponding physical write or delete has succeeded, and
// every mutation keeps these invariants:
//
//   - Metadata.TotalVersions equals len(Versions) and Metadata.TotalSize
//     equals the sum of version sizes.
//   - Each branch's VersionCount and TotalSize match its member versions.
//   - Each branch's HeadVersionID is its most recently saved member.
//
// Seq is assigned on Add in save order. Heads, NewestVersion and the
// protected set follow Seq. Listings and age use the (Timestamp, Seq)
// pair, so a version saved with an older timestamp sorts by its time but
// still becomes the head.
package index

import (
	"fmt"
	"sort"
	"time"

	"github.com/goccy/go-json"

	"github.com/xtxerr/versionstore/internal/constants"
	"github.com/xtxerr/versionstore/internal/errors"
)

// VersionRecord is the index entry of one version.
type VersionRecord struct {
	Timestamp    time.Time `json:"timestamp"`
	BranchID     string    `json:"branchId"`
	ChangeType   string    `json:"changeType,omitempty"`
	Size         int64     `json:"size"`
	Tags         []string  `json:"tags,omitempty"`
	IsSnapshot   bool      `json:"isSnapshot"`
	Compressed   bool      `json:"compressed"`
	OriginalSize int64     `json:"originalSize"`
	Seq          uint64    `json:"seq"`
}

// Branch aggregates the versions of one branch.
type Branch struct {
	Name          string `json:"name"`
	HeadVersionID string `json:"headVersionId"`
	VersionCount  int    `json:"versionCount"`
	TotalSize     int64  `json:"totalSize"`
}

// Tag names one version.
type Tag struct {
	Name      string `json:"name"`
	VersionID string `json:"versionId"`
	Type      string `json:"type"`
}

// Metadata holds catalog-wide aggregates.
type Metadata struct {
	TotalVersions int       `json:"totalVersions"`
	TotalSize     int64     `json:"totalSize"`
	LastCleanup   time.Time `json:"lastCleanup"`
	OldestVersion string    `json:"oldestVersion"`
	NewestVersion string    `json:"newestVersion"`
	SnapshotCount int       `json:"snapshotCount"`
	DeltaCount    int       `json:"deltaCount"`
	NextSeq       uint64    `json:"nextSeq"`
}

// Index is the version catalog. It is not safe for concurrent use; the
// owner serializes access.
type Index struct {
	Versions map[string]*VersionRecord `json:"versions"`
	Branches map[string]*Branch        `json:"branches"`
	Tags     map[string]*Tag           `json:"tags"`
	Metadata Metadata                  `json:"metadata"`
}

// New returns an empty index.
func New() *Index {
	return &Index{
		Versions: make(map[string]*VersionRecord),
		Branches: make(map[string]*Branch),
		Tags:     make(map[string]*Tag),
	}
}

// Decode parses a persisted index and checks its invariants.
func Decode(data []byte) (*Index, error) {
	idx := New()
	if err := json.Unmarshal(data, idx); err != nil {
		return nil, fmt.Errorf("decode index: %w", err)
	}

	if idx.Versions == nil {
		idx.Versions = make(map[string]*VersionRecord)
	}
	if idx.Branches == nil {
		idx.Branches = make(map[string]*Branch)
	}
	if idx.Tags == nil {
		idx.Tags = make(map[string]*Tag)
	}

	if err := idx.Validate(); err != nil {
		return nil, err
	}
	return idx, nil
}

// Encode serializes the index.
func (idx *Index) Encode() ([]byte, error) {
	return json.Marshal(idx)
}

// Clone returns a deep copy of the index.
func (idx *Index) Clone() *Index {
	c := New()
	for id, r := range idx.Versions {
		cp := *r
		cp.Tags = append([]string(nil), r.Tags...)
		c.Versions[id] = &cp
	}
	for name, b := range idx.Branches {
		cp := *b
		c.Branches[name] = &cp
	}
	for name, t := range idx.Tags {
		cp := *t
		c.Tags[name] = &cp
	}
	c.Metadata = idx.Metadata
	return c
}

// savedAfter reports whether a was saved after b.
func savedAfter(a, b *VersionRecord) bool {
	return a.Seq > b.Seq
}

// newer reports whether a is newer than b by timestamp.
func newer(a, b *VersionRecord) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.After(b.Timestamp)
	}
	return a.Seq > b.Seq
}

// =============================================================================
// Mutations
// =============================================================================

// Add registers a version. An existing record with the same id is replaced.
// The record's Seq is assigned by the index.
func (idx *Index) Add(id string, rec VersionRecord) {
	if _, ok := idx.Versions[id]; ok {
		idx.Remove(id)
	}

	rec.Seq = idx.Metadata.NextSeq
	idx.Metadata.NextSeq++
	rec.Tags = append([]string(nil), rec.Tags...)
	r := &rec
	idx.Versions[id] = r

	b, ok := idx.Branches[rec.BranchID]
	if !ok {
		b = &Branch{Name: rec.BranchID}
		idx.Branches[rec.BranchID] = b
	}
	b.VersionCount++
	b.TotalSize += rec.Size
	b.HeadVersionID = id

	tags := r.Tags
	r.Tags = nil
	for _, t := range tags {
		idx.setTag(t, id, constants.TagTypeAuto)
	}

	idx.Metadata.TotalVersions++
	idx.Metadata.TotalSize += rec.Size
	if rec.IsSnapshot {
		idx.Metadata.SnapshotCount++
	} else {
		idx.Metadata.DeltaCount++
	}
	if oldest, ok := idx.Versions[idx.Metadata.OldestVersion]; !ok || newer(oldest, r) {
		idx.Metadata.OldestVersion = id
	}
	idx.Metadata.NewestVersion = id
}

// Remove unregisters a version and returns its record. The branch head
// moves to the most recently saved remaining member; an emptied branch is dropped.
// Tags pointing at the version are dropped.
func (idx *Index) Remove(id string) (VersionRecord, bool) {
	r, ok := idx.Versions[id]
	if !ok {
		return VersionRecord{}, false
	}
	delete(idx.Versions, id)

	if b, ok := idx.Branches[r.BranchID]; ok {
		b.VersionCount--
		b.TotalSize -= r.Size
		if b.VersionCount <= 0 {
			delete(idx.Branches, r.BranchID)
		} else if b.HeadVersionID == id {
			b.HeadVersionID = idx.latestWhere(func(v *VersionRecord) bool {
				return v.BranchID == r.BranchID
			})
		}
	}

	for _, t := range r.Tags {
		if tag, ok := idx.Tags[t]; ok && tag.VersionID == id {
			delete(idx.Tags, t)
		}
	}

	idx.Metadata.TotalVersions--
	idx.Metadata.TotalSize -= r.Size
	if r.IsSnapshot {
		idx.Metadata.SnapshotCount--
	} else {
		idx.Metadata.DeltaCount--
	}
	if idx.Metadata.OldestVersion == id {
		idx.Metadata.OldestVersion = idx.oldest()
	}
	if idx.Metadata.NewestVersion == id {
		idx.Metadata.NewestVersion = idx.latestWhere(nil)
	}

	return *r, true
}

// UpdateSize records a new stored size for a version, keeping aggregates
// consistent.
func (idx *Index) UpdateSize(id string, size int64, compressed bool) bool {
	r, ok := idx.Versions[id]
	if !ok {
		return false
	}

	delta := size - r.Size
	r.Size = size
	r.Compressed = compressed
	idx.Metadata.TotalSize += delta
	if b, ok := idx.Branches[r.BranchID]; ok {
		b.TotalSize += delta
	}
	return true
}

// MarkCleanup records the time of a cleanup pass.
func (idx *Index) MarkCleanup(t time.Time) {
	idx.Metadata.LastCleanup = t
}

// =============================================================================
// Tags
// =============================================================================

// SetTag points name at version id, moving it from any previous version.
func (idx *Index) SetTag(name, id, tagType string) error {
	if _, ok := idx.Versions[id]; !ok {
		return errors.NewNotFound("version", id)
	}
	idx.setTag(name, id, tagType)
	return nil
}

func (idx *Index) setTag(name, id, tagType string) {
	if prev, ok := idx.Tags[name]; ok {
		if r, ok := idx.Versions[prev.VersionID]; ok {
			r.Tags = without(r.Tags, name)
		}
	}

	idx.Tags[name] = &Tag{Name: name, VersionID: id, Type: tagType}
	r := idx.Versions[id]
	r.Tags = append(without(r.Tags, name), name)
}

// RemoveTag drops a tag. It reports whether the tag existed.
func (idx *Index) RemoveTag(name string) bool {
	tag, ok := idx.Tags[name]
	if !ok {
		return false
	}
	if r, ok := idx.Versions[tag.VersionID]; ok {
		r.Tags = without(r.Tags, name)
	}
	delete(idx.Tags, name)
	return true
}

// ResolveTag returns the version a tag points at.
func (idx *Index) ResolveTag(name string) (string, bool) {
	tag, ok := idx.Tags[name]
	if !ok {
		return "", false
	}
	return tag.VersionID, true
}

func without(list []string, s string) []string {
	out := list[:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// =============================================================================
// Queries
// =============================================================================

// Get returns the record of a version.
func (idx *Index) Get(id string) (VersionRecord, bool) {
	r, ok := idx.Versions[id]
	if !ok {
		return VersionRecord{}, false
	}
	cp := *r
	cp.Tags = append([]string(nil), r.Tags...)
	return cp, true
}

// Has reports whether a version is registered.
func (idx *Index) Has(id string) bool {
	_, ok := idx.Versions[id]
	return ok
}

// Len returns the number of versions.
func (idx *Index) Len() int {
	return len(idx.Versions)
}

// IDs returns version ids ordered newest first.
func (idx *Index) IDs() []string {
	ids := make([]string, 0, len(idx.Versions))
	for id := range idx.Versions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return newer(idx.Versions[ids[i]], idx.Versions[ids[j]])
	})
	return ids
}

// BranchIDs returns the version ids of a branch ordered newest first.
func (idx *Index) BranchIDs(branchID string) []string {
	var ids []string
	for _, id := range idx.IDs() {
		if idx.Versions[id].BranchID == branchID {
			ids = append(ids, id)
		}
	}
	return ids
}

// LatestVersion returns the most recently saved version overall.
func (idx *Index) LatestVersion() (string, bool) {
	id := idx.latestWhere(nil)
	return id, id != ""
}

// LatestSnapshot returns the most recently saved snapshot overall.
func (idx *Index) LatestSnapshot() (string, bool) {
	id := idx.latestWhere(func(v *VersionRecord) bool { return v.IsSnapshot })
	return id, id != ""
}

// Protected returns the versions no retention pass may remove: the latest
// snapshot and the latest version.
func (idx *Index) Protected() map[string]bool {
	p := make(map[string]bool, 2)
	if id, ok := idx.LatestSnapshot(); ok {
		p[id] = true
	}
	if id, ok := idx.LatestVersion(); ok {
		p[id] = true
	}
	return p
}

// Newer reports whether version a is newer than version b. Unknown ids are
// older than any known id.
func (idx *Index) Newer(a, b string) bool {
	ra, okA := idx.Versions[a]
	rb, okB := idx.Versions[b]
	switch {
	case !okA:
		return false
	case !okB:
		return true
	}
	return newer(ra, rb)
}

func (idx *Index) latestWhere(pred func(*VersionRecord) bool) string {
	var bestID string
	var best *VersionRecord
	for id, r := range idx.Versions {
		if pred != nil && !pred(r) {
			continue
		}
		if best == nil || savedAfter(r, best) {
			bestID, best = id, r
		}
	}
	return bestID
}

func (idx *Index) oldest() string {
	var bestID string
	var best *VersionRecord
	for id, r := range idx.Versions {
		if best == nil || newer(best, r) {
			bestID, best = id, r
		}
	}
	return bestID
}

// =============================================================================
// Validation
// =============================================================================

// Validate checks the aggregate, branch and tag invariants.
func (idx *Index) Validate() error {
	var errs []error

	var total int64
	snapshots := 0
	branchCount := make(map[string]int)
	branchSize := make(map[string]int64)
	for id, r := range idx.Versions {
		if r == nil {
			errs = append(errs, fmt.Errorf("version %s: nil record", id))
			continue
		}
		total += r.Size
		if r.IsSnapshot {
			snapshots++
		}
		branchCount[r.BranchID]++
		branchSize[r.BranchID] += r.Size
	}

	if idx.Metadata.TotalVersions != len(idx.Versions) {
		errs = append(errs, fmt.Errorf("totalVersions %d, have %d versions", idx.Metadata.TotalVersions, len(idx.Versions)))
	}
	if idx.Metadata.TotalSize != total {
		errs = append(errs, fmt.Errorf("totalSize %d, versions sum to %d", idx.Metadata.TotalSize, total))
	}
	if idx.Metadata.SnapshotCount != snapshots || idx.Metadata.DeltaCount != len(idx.Versions)-snapshots {
		errs = append(errs, fmt.Errorf("snapshot/delta counts %d/%d, have %d/%d",
			idx.Metadata.SnapshotCount, idx.Metadata.DeltaCount, snapshots, len(idx.Versions)-snapshots))
	}

	for name, b := range idx.Branches {
		if b.VersionCount != branchCount[name] {
			errs = append(errs, fmt.Errorf("branch %s: versionCount %d, have %d", name, b.VersionCount, branchCount[name]))
		}
		if b.TotalSize != branchSize[name] {
			errs = append(errs, fmt.Errorf("branch %s: totalSize %d, have %d", name, b.TotalSize, branchSize[name]))
		}
		head, ok := idx.Versions[b.HeadVersionID]
		if !ok || head.BranchID != name {
			errs = append(errs, fmt.Errorf("branch %s: head %q is not a member", name, b.HeadVersionID))
		} else if want := idx.latestWhere(func(v *VersionRecord) bool { return v.BranchID == name }); want != b.HeadVersionID {
			errs = append(errs, fmt.Errorf("branch %s: head %s, latest saved member is %s", name, b.HeadVersionID, want))
		}
	}
	for name, n := range branchCount {
		if _, ok := idx.Branches[name]; !ok {
			errs = append(errs, fmt.Errorf("branch %s: %d versions but no branch entry", name, n))
		}
	}

	for name, tag := range idx.Tags {
		if _, ok := idx.Versions[tag.VersionID]; !ok {
			errs = append(errs, fmt.Errorf("tag %s: points at missing version %s", name, tag.VersionID))
		}
	}

	if len(errs) > 0 {
		return errors.NewCorruption("index", errors.Join(errs...))
	}
	return nil
}
