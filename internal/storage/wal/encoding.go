package wal

import (
	"encoding/binary"
	"fmt"
)

// Op is the kind of a logged mutation.
type Op byte

const (
	// OpSet stores a value under a key.
	OpSet Op = 1

	// OpRemove deletes a key.
	OpRemove Op = 2
)

// String returns the operation name.
func (o Op) String() string {
	switch o {
	case OpSet:
		return "set"
	case OpRemove:
		return "remove"
	default:
		return fmt.Sprintf("op(%d)", byte(o))
	}
}

// Mutation is a single logged change to the key space.
type Mutation struct {
	Op    Op
	Key   string
	Value []byte
}

// Mutation encoding format (binary, little-endian):
// - Op (1 byte)
// - Key length (2 bytes) + Key string
// - Value length (4 bytes) + Value bytes

// encodeMutation encodes a mutation into a binary record payload.
func encodeMutation(m Mutation) ([]byte, error) {
	if m.Op != OpSet && m.Op != OpRemove {
		return nil, fmt.Errorf("unknown op %d", m.Op)
	}
	if len(m.Key) > 0xFFFF {
		return nil, fmt.Errorf("key too long: %d bytes", len(m.Key))
	}

	buf := make([]byte, 0, 1+2+len(m.Key)+4+len(m.Value))
	buf = append(buf, byte(m.Op))
	buf = appendString(buf, m.Key)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(m.Value)))
	buf = append(buf, m.Value...)

	return buf, nil
}

// decodeMutation decodes a binary record payload.
func decodeMutation(data []byte) (Mutation, error) {
	var m Mutation

	if len(data) < 1 {
		return m, fmt.Errorf("data too short for op")
	}
	m.Op = Op(data[0])
	if m.Op != OpSet && m.Op != OpRemove {
		return m, fmt.Errorf("unknown op %d", data[0])
	}

	var err error
	offset := 1
	m.Key, offset, err = readString(data, offset)
	if err != nil {
		return m, fmt.Errorf("key: %w", err)
	}

	if offset+4 > len(data) {
		return m, fmt.Errorf("data too short for value length")
	}
	length := int(binary.LittleEndian.Uint32(data[offset:]))
	offset += 4

	if offset+length != len(data) {
		return m, fmt.Errorf("value length %d does not match record", length)
	}
	if length > 0 {
		m.Value = make([]byte, length)
		copy(m.Value, data[offset:])
	}

	return m, nil
}

// appendString appends a length-prefixed string to the buffer.
func appendString(buf []byte, s string) []byte {
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}

// readString reads a length-prefixed string from the buffer.
func readString(data []byte, offset int) (string, int, error) {
	if offset+2 > len(data) {
		return "", offset, fmt.Errorf("data too short for string length")
	}

	length := int(binary.LittleEndian.Uint16(data[offset:]))
	offset += 2

	if offset+length > len(data) {
		return "", offset, fmt.Errorf("data too short for string content")
	}

	s := string(data[offset : offset+length])
	return s, offset + length, nil
}
