package types

import (
	"bytes"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/xtxerr/versionstore/internal/constants"
	"github.com/xtxerr/versionstore/internal/errors"
	"github.com/xtxerr/versionstore/internal/validation"
)

// ChangeType classifies how large an edit was.
type ChangeType string

const (
	// ChangeOrdinary is a regular edit.
	ChangeOrdinary ChangeType = constants.ChangeTypeOrdinary

	// ChangeMajor is a major edit. Major versions are always snapshots.
	ChangeMajor ChangeType = constants.ChangeTypeMajor
)

// VersionMetadata identifies a version. It is immutable once created.
type VersionMetadata struct {
	ID         string     `json:"id"`
	Timestamp  time.Time  `json:"timestamp"`
	BranchID   string     `json:"branchId"`
	ChangeType ChangeType `json:"changeType"`
	Tags       []string   `json:"tags,omitempty"`
}

// Validate checks the metadata fields the store relies on.
func (m *VersionMetadata) Validate() error {
	if err := validation.ValidateVersionID(m.ID); err != nil {
		return err
	}
	if err := validation.ValidateBranchName(m.BranchID); err != nil {
		return err
	}
	if err := validation.ValidateTags(m.Tags); err != nil {
		return err
	}
	if m.ChangeType != "" && !constants.IsValidChangeType(string(m.ChangeType)) {
		return fmt.Errorf("%w: %q", errors.ErrInvalidChange, m.ChangeType)
	}
	return nil
}

// NewVersionID returns a time-ordered unique version identifier.
func NewVersionID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// =============================================================================
// Payload
// =============================================================================

// Payload is the content of a version: either a Snapshot or a DeltaPayload.
// The interface is sealed; no other implementations exist.
type Payload interface {
	isPayload()
}

// Snapshot carries the complete document content.
type Snapshot struct {
	Content []byte
}

func (Snapshot) isPayload() {}

// DeltaPayload carries a structured diff against the previous version.
type DeltaPayload struct {
	Delta *Delta
}

func (DeltaPayload) isPayload() {}

// Operation is a single JSON-Patch style edit.
type Operation struct {
	Op    string          `json:"op"`
	Path  string          `json:"path"`
	From  string          `json:"from,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
}

// Delta is a structured diff. The store treats it as opaque apart from
// serializing it.
type Delta struct {
	BaseVersionID string      `json:"baseVersionId,omitempty"`
	Operations    []Operation `json:"operations"`
}

// EncodeDelta serializes a delta.
func EncodeDelta(d *Delta) ([]byte, error) {
	if d == nil {
		return nil, errors.ErrMissingPayload
	}
	return json.Marshal(d)
}

// DecodeDelta parses a serialized delta.
func DecodeDelta(data []byte) (*Delta, error) {
	var d Delta
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("decode delta: %w", err)
	}
	return &d, nil
}

// =============================================================================
// Version
// =============================================================================

// Version is one stored state of a document.
type Version struct {
	Metadata VersionMetadata
	Payload  Payload
}

// NewSnapshot creates a version carrying full content.
func NewSnapshot(meta VersionMetadata, content []byte) *Version {
	return &Version{Metadata: meta, Payload: Snapshot{Content: content}}
}

// NewDelta creates a version carrying a delta.
func NewDelta(meta VersionMetadata, d *Delta) *Version {
	return &Version{Metadata: meta, Payload: DeltaPayload{Delta: d}}
}

// Validate checks that the version carries exactly one populated payload.
func (v *Version) Validate() error {
	if v == nil {
		return errors.ErrMissingPayload
	}
	if err := v.Metadata.Validate(); err != nil {
		return err
	}

	switch p := v.Payload.(type) {
	case Snapshot:
		if p.Content == nil {
			return errors.ErrMissingPayload
		}
	case *Snapshot:
		if p == nil || p.Content == nil {
			return errors.ErrMissingPayload
		}
	case DeltaPayload:
		if p.Delta == nil {
			return errors.ErrMissingPayload
		}
	case *DeltaPayload:
		if p == nil || p.Delta == nil {
			return errors.ErrMissingPayload
		}
	default:
		return errors.ErrMissingPayload
	}
	return nil
}

// Content returns the full content of a snapshot version.
func (v *Version) Content() ([]byte, bool) {
	switch p := v.Payload.(type) {
	case Snapshot:
		return p.Content, p.Content != nil
	case *Snapshot:
		if p != nil {
			return p.Content, p.Content != nil
		}
	}
	return nil, false
}

// Delta returns the delta of a delta version.
func (v *Version) Delta() (*Delta, bool) {
	switch p := v.Payload.(type) {
	case DeltaPayload:
		return p.Delta, p.Delta != nil
	case *DeltaPayload:
		if p != nil {
			return p.Delta, p.Delta != nil
		}
	}
	return nil, false
}

// IsSnapshot reports whether the version carries full content.
func (v *Version) IsSnapshot() bool {
	_, ok := v.Content()
	return ok
}

// Equal reports whether two versions have the same metadata identity and
// byte-identical payloads.
func (v *Version) Equal(other *Version) bool {
	if v == nil || other == nil {
		return v == other
	}
	if v.Metadata.ID != other.Metadata.ID || v.Metadata.BranchID != other.Metadata.BranchID {
		return false
	}

	if a, ok := v.Content(); ok {
		b, ok := other.Content()
		return ok && bytes.Equal(a, b)
	}

	da, okA := v.Delta()
	db, okB := other.Delta()
	if !okA || !okB {
		return false
	}
	ea, errA := EncodeDelta(da)
	eb, errB := EncodeDelta(db)
	return errA == nil && errB == nil && bytes.Equal(ea, eb)
}
