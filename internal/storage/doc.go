// Package storage implements a versioned document store on top of a small
// key-value medium.
//
// Architecture:
//
//	┌─────────────┐     ┌─────────────┐     ┌─────────────┐     ┌─────────────┐
//	│   Backend   │────▶│  Compress   │────▶│   Buffer    │────▶│  KV Store   │
//	│ (save/load) │     │ (zstd/lz4)  │     │(batch/chunk)│     │(mem/file/db)│
//	└─────────────┘     └─────────────┘     └─────────────┘     └─────────────┘
//	       │
//	       ▼
//	┌─────────────┐     ┌─────────────┐     ┌─────────────┐
//	│    Index    │────▶│  Retention  │────▶│ Compaction  │
//	│ (branches)  │     │ (+pressure) │     │ (recompress)│
//	└─────────────┘     └─────────────┘     └─────────────┘
//
// The store provides:
//   - Snapshot and delta versions on named branches
//   - Transparent compression with a minimum improvement ratio
//   - Write batching with chunking of oversized values
//   - Retention by count, age and storage budget, with protected versions
//   - Backpressure-driven cleanup and recompression of aged versions
//   - Parquet catalog export and DDSketch size percentiles
//
// Every operation on a Backend is serialized. The index changes only after
// the write or delete it describes has been flushed.
package storage
