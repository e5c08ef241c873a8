// Package parquet exports the version catalog as Parquet files.
//
// The package provides:
//   - CatalogWriter/CatalogReader for one row per indexed version
//   - Support for multiple compression algorithms (snappy, zstd, lz4, gzip)
//   - Conversion between index records and Parquet rows
package parquet
