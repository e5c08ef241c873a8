package parquet

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"

	"github.com/xtxerr/versionstore/internal/storage/index"
)

// Options configures the Parquet writer.
type Options struct {
	// Compression algorithm
	Compression CompressionType

	// RowGroupSize is the target number of rows per row group
	RowGroupSize int
}

// CompressionType represents a Parquet compression algorithm.
type CompressionType int

const (
	CompressionNone CompressionType = iota
	CompressionSnappy
	CompressionZstd
	CompressionLZ4
	CompressionGzip
)

// DefaultOptions returns default Parquet options.
func DefaultOptions() Options {
	return Options{
		Compression:  CompressionZstd,
		RowGroupSize: 100000,
	}
}

// ParseCompressionType parses a compression type string.
func ParseCompressionType(s string) CompressionType {
	switch s {
	case "snappy":
		return CompressionSnappy
	case "zstd":
		return CompressionZstd
	case "lz4":
		return CompressionLZ4
	case "gzip":
		return CompressionGzip
	case "none", "":
		return CompressionNone
	default:
		return CompressionZstd
	}
}

// getCompression returns the parquet-go compression codec.
func getCompression(ct CompressionType) compress.Codec {
	switch ct {
	case CompressionSnappy:
		return &parquet.Snappy
	case CompressionZstd:
		return &parquet.Zstd
	case CompressionLZ4:
		return &parquet.Lz4Raw
	case CompressionGzip:
		return &parquet.Gzip
	default:
		return &parquet.Uncompressed
	}
}

// tagSeparator joins version tags in a single column.
const tagSeparator = ","

// CatalogRow represents one indexed version in Parquet format.
type CatalogRow struct {
	ID           string `parquet:"id,zstd"`
	Branch       string `parquet:"branch,zstd"`
	TimestampMs  int64  `parquet:"timestamp_ms"`
	Seq          int64  `parquet:"seq"`
	Size         int64  `parquet:"size"`
	OriginalSize int64  `parquet:"original_size"`
	Snapshot     bool   `parquet:"snapshot"`
	Compressed   bool   `parquet:"compressed"`
	Tags         string `parquet:"tags,optional,zstd"`
}

// RecordToRow converts an index record to a CatalogRow.
func RecordToRow(id string, r index.VersionRecord) CatalogRow {
	return CatalogRow{
		ID:           id,
		Branch:       r.BranchID,
		TimestampMs:  r.Timestamp.UnixMilli(),
		Seq:          int64(r.Seq),
		Size:         r.Size,
		OriginalSize: r.OriginalSize,
		Snapshot:     r.IsSnapshot,
		Compressed:   r.Compressed,
		Tags:         strings.Join(r.Tags, tagSeparator),
	}
}

// RowToRecord converts a CatalogRow back to its id and index record.
func RowToRecord(row *CatalogRow) (string, index.VersionRecord) {
	r := index.VersionRecord{
		Timestamp:    time.UnixMilli(row.TimestampMs).UTC(),
		BranchID:     row.Branch,
		Size:         row.Size,
		OriginalSize: row.OriginalSize,
		IsSnapshot:   row.Snapshot,
		Compressed:   row.Compressed,
		Seq:          uint64(row.Seq),
	}
	if row.Tags != "" {
		r.Tags = strings.Split(row.Tags, tagSeparator)
	}
	return row.ID, r
}

// IndexRows returns one row per version of idx, newest first.
func IndexRows(idx *index.Index) []CatalogRow {
	ids := idx.IDs()
	rows := make([]CatalogRow, 0, len(ids))
	for _, id := range ids {
		r, _ := idx.Get(id)
		rows = append(rows, RecordToRow(id, r))
	}
	return rows
}

// CatalogWriter writes catalog rows to a Parquet stream.
type CatalogWriter struct {
	mu       sync.Mutex
	file     io.Closer
	writer   *parquet.GenericWriter[CatalogRow]
	rowCount int64
	closed   bool
}

// NewCatalogWriter creates a catalog writer on w. Closing the writer does
// not close w.
func NewCatalogWriter(w io.Writer, opts Options) *CatalogWriter {
	writerOpts := []parquet.WriterOption{
		parquet.Compression(getCompression(opts.Compression)),
	}
	if opts.RowGroupSize > 0 {
		writerOpts = append(writerOpts, parquet.MaxRowsPerRowGroup(int64(opts.RowGroupSize)))
	}

	return &CatalogWriter{
		writer: parquet.NewGenericWriter[CatalogRow](w, writerOpts...),
	}
}

// CreateCatalogFile creates a catalog writer on a new file at path.
func CreateCatalogFile(path string, opts Options) (*CatalogWriter, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}

	w := NewCatalogWriter(f, opts)
	w.file = f
	return w, nil
}

// Write writes rows to the Parquet stream.
func (w *CatalogWriter) Write(rows []CatalogRow) error {
	if len(rows) == 0 {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWriterClosed
	}

	n, err := w.writer.Write(rows)
	if err != nil {
		return fmt.Errorf("write rows: %w", err)
	}

	w.rowCount += int64(n)
	return nil
}

// Close flushes the footer and closes the file, if the writer owns one.
func (w *CatalogWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.writer.Close(); err != nil {
		if w.file != nil {
			w.file.Close()
		}
		return fmt.Errorf("close writer: %w", err)
	}

	if w.file != nil {
		return w.file.Close()
	}
	return nil
}

// RowCount returns the number of rows written.
func (w *CatalogWriter) RowCount() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rowCount
}

// WriteCatalog writes rows as a complete Parquet stream to w.
func WriteCatalog(w io.Writer, rows []CatalogRow, opts Options) error {
	cw := NewCatalogWriter(w, opts)
	if err := cw.Write(rows); err != nil {
		cw.Close()
		return err
	}
	return cw.Close()
}

// ErrWriterClosed is returned when writing to a closed writer.
var ErrWriterClosed = fmt.Errorf("parquet writer is closed")
