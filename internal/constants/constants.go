// Package constants provides centralized key layout constants
// for the entire versionstore application.
//
// Everything the store writes lives under a namespace prefix. Consumers
// outside the storage packages must not read or write these keys directly.
package constants

import "strings"

// =============================================================================
// Key Layout
// =============================================================================

const (
	// KeySeparator joins the namespace and the key kind.
	KeySeparator = ":"

	// IndexKeyName is the key kind holding the storage index.
	IndexKeyName = "index"

	// VersionKeyName is the key kind holding one version envelope.
	VersionKeyName = "version"

	// ChunkMetaSuffix is appended to a key to hold its chunk meta record.
	ChunkMetaSuffix = "_meta"

	// ChunkSuffix is appended to a key, followed by the chunk number.
	ChunkSuffix = "_chunk_"
)

// IndexKey returns the key of the storage index in a namespace.
func IndexKey(namespace string) string {
	return namespace + KeySeparator + IndexKeyName
}

// VersionKey returns the key of a version envelope in a namespace.
func VersionKey(namespace, id string) string {
	return namespace + KeySeparator + VersionKeyName + KeySeparator + id
}

// NamespacePrefix returns the prefix shared by all keys of a namespace.
func NamespacePrefix(namespace string) string {
	return namespace + KeySeparator
}

// InNamespace reports whether key belongs to namespace.
func InNamespace(namespace, key string) bool {
	return strings.HasPrefix(key, NamespacePrefix(namespace))
}

// =============================================================================
// Change Types
// =============================================================================

const (
	// ChangeTypeOrdinary marks an ordinary edit.
	ChangeTypeOrdinary = "ordinary"

	// ChangeTypeMajor marks a major edit; major versions are always snapshots.
	ChangeTypeMajor = "major"
)

// ValidChangeTypes contains all valid change type values
var ValidChangeTypes = []string{ChangeTypeOrdinary, ChangeTypeMajor}

// IsValidChangeType checks if a change type is valid
func IsValidChangeType(ct string) bool {
	for _, c := range ValidChangeTypes {
		if c == ct {
			return true
		}
	}
	return false
}

// =============================================================================
// Tag Types
// =============================================================================

const (
	// TagTypeAuto is recorded for tags carried in version metadata.
	TagTypeAuto = "auto"

	// TagTypeManual is recorded for tags attached through TagVersion.
	TagTypeManual = "manual"
)
