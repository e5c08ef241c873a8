// Package types defines the core data types used throughout the storage system.
//
// Key types:
//   - Version: a document version carrying either a Snapshot or a Delta payload
//   - VersionMetadata: immutable identity of a version
//   - StorageEntry: the envelope persisted per version
package types
