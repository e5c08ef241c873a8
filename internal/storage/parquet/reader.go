package parquet

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/parquet-go/parquet-go"
)

// CatalogReader reads catalog rows from a Parquet file.
type CatalogReader struct {
	file   io.Closer
	reader *parquet.GenericReader[CatalogRow]
}

// NewCatalogReader creates a catalog reader over r.
func NewCatalogReader(r io.ReaderAt) *CatalogReader {
	return &CatalogReader{
		reader: parquet.NewGenericReader[CatalogRow](r, parquet.ReadBufferSize(1024*1024)),
	}
}

// OpenCatalogFile opens a catalog file for reading.
func OpenCatalogFile(path string) (*CatalogReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	r := NewCatalogReader(f)
	r.file = f
	return r, nil
}

// Read reads up to n rows.
func (r *CatalogReader) Read(n int) ([]CatalogRow, error) {
	rows := make([]CatalogRow, n)
	count, err := r.reader.Read(rows)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if count == 0 && errors.Is(err, io.EOF) {
		return nil, io.EOF
	}
	return rows[:count], nil
}

// ReadAll reads all rows of the file.
func (r *CatalogReader) ReadAll() ([]CatalogRow, error) {
	rows := make([]CatalogRow, r.reader.NumRows())
	n, err := r.reader.Read(rows)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	return rows[:n], nil
}

// NumRows returns the total number of rows in the file.
func (r *CatalogReader) NumRows() int64 {
	return r.reader.NumRows()
}

// Close closes the reader.
func (r *CatalogReader) Close() error {
	if err := r.reader.Close(); err != nil {
		if r.file != nil {
			r.file.Close()
		}
		return err
	}
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}

// ReadCatalog decodes a complete Parquet catalog held in memory.
func ReadCatalog(data []byte) ([]CatalogRow, error) {
	r := NewCatalogReader(bytes.NewReader(data))
	defer r.Close()
	return r.ReadAll()
}
