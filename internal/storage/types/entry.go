package types

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"time"

	"github.com/goccy/go-json"

	"github.com/xtxerr/versionstore/internal/errors"
)

// StorageEntry is the envelope persisted under a version key.
//
// Encoding (binary, big-endian):
//   - Header length (4 bytes)
//   - Header: JSON of every field except Data
//   - Data: raw bytes, possibly compressed
//
// Data is never re-encoded, so chunking operates on the exact payload bytes.
type StorageEntry struct {
	ID         string          `json:"id"`
	Metadata   VersionMetadata `json:"metadata"`
	IsSnapshot bool            `json:"isSnapshot"`
	Compressed bool            `json:"compressed"`
	Algorithm  string          `json:"algorithm,omitempty"`
	Size       int             `json:"size"`
	Checksum   uint32          `json:"checksum"`
	Timestamp  time.Time       `json:"timestamp"`
	Data       []byte          `json:"-"`
}

const entryHeaderLenSize = 4

// maxEntryHeaderSize bounds the JSON header so a damaged length prefix
// cannot trigger a huge allocation.
const maxEntryHeaderSize = 16 * 1024 * 1024

// Seal sets Size and Checksum from Data.
func (e *StorageEntry) Seal() {
	e.Size = len(e.Data)
	e.Checksum = crc32.ChecksumIEEE(e.Data)
}

// MarshalBinary encodes the entry envelope.
func (e *StorageEntry) MarshalBinary() ([]byte, error) {
	header, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode entry header: %w", err)
	}

	buf := make([]byte, 0, entryHeaderLenSize+len(header)+len(e.Data))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(header)))
	buf = append(buf, header...)
	buf = append(buf, e.Data...)
	return buf, nil
}

// UnmarshalEntry decodes an entry envelope and verifies its size and checksum.
func UnmarshalEntry(raw []byte) (*StorageEntry, error) {
	if len(raw) < entryHeaderLenSize {
		return nil, fmt.Errorf("%w: %d bytes", errors.ErrMalformedEntry, len(raw))
	}

	headerLen := int(binary.BigEndian.Uint32(raw[:entryHeaderLenSize]))
	if headerLen > maxEntryHeaderSize || entryHeaderLenSize+headerLen > len(raw) {
		return nil, fmt.Errorf("%w: header length %d", errors.ErrMalformedEntry, headerLen)
	}

	var e StorageEntry
	header := raw[entryHeaderLenSize : entryHeaderLenSize+headerLen]
	if err := json.Unmarshal(header, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrMalformedEntry, err)
	}

	e.Data = raw[entryHeaderLenSize+headerLen:]
	if len(e.Data) != e.Size {
		return nil, fmt.Errorf("%w: size %d, header says %d", errors.ErrMalformedEntry, len(e.Data), e.Size)
	}
	if crc := crc32.ChecksumIEEE(e.Data); crc != e.Checksum {
		return nil, fmt.Errorf("%w: expected %x, got %x", errors.ErrChecksum, e.Checksum, crc)
	}

	return &e, nil
}
