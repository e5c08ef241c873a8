// Package compress provides reversible payload compression with framing
// that lets Decompress recognise its own output.
//
// Compressed output is laid out as:
//   - Magic (4 bytes): "VSZ\x01"
//   - Algorithm (1 byte)
//   - Codec payload
//
// Decompress never fails. Input that does not carry the frame, or whose
// codec payload does not decode, is returned unchanged.
package compress

import (
	"bytes"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	defaults "github.com/xtxerr/versionstore/config"
	"github.com/xtxerr/versionstore/internal/logging"
)

var log = logging.Component("compress")

// MinImprovementRatio is the largest compressed/original ratio for which the
// compressed form is kept.
const MinImprovementRatio = defaults.MinImprovementRatio

// Algorithm identifies a codec.
type Algorithm byte

const (
	// Zstd is the default codec.
	Zstd Algorithm = 1

	// LZ4 favours speed over ratio.
	LZ4 Algorithm = 2

	// Brotli favours ratio over speed.
	Brotli Algorithm = 3
)

// String returns the algorithm name.
func (a Algorithm) String() string {
	switch a {
	case Zstd:
		return "zstd"
	case LZ4:
		return "lz4"
	case Brotli:
		return "brotli"
	default:
		return fmt.Sprintf("algorithm(%d)", byte(a))
	}
}

// ParseAlgorithm converts an algorithm name. An empty name selects zstd.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch name {
	case "zstd", "":
		return Zstd, nil
	case "lz4":
		return LZ4, nil
	case "brotli":
		return Brotli, nil
	default:
		return 0, fmt.Errorf("unknown compression algorithm %q", name)
	}
}

// Level selects the compression effort.
type Level int

const (
	// LevelDefault balances speed and ratio.
	LevelDefault Level = iota

	// LevelBest maximises ratio. Used when recompressing old versions.
	LevelBest
)

var magic = []byte{'V', 'S', 'Z', 0x01}

const frameHeaderSize = 5

// Engine compresses and decompresses payloads.
//
// Engine is safe for concurrent use.
type Engine struct {
	algorithm Algorithm

	encMu    sync.Mutex
	encoders map[Level]*zstd.Encoder
	decoder  *zstd.Decoder

	stats struct {
		compressed   atomic.Int64
		decompressed atomic.Int64
		passthrough  atomic.Int64
		failures     atomic.Int64
		bytesIn      atomic.Int64
		bytesOut     atomic.Int64
	}
}

// Stats holds engine statistics.
type Stats struct {
	Compressed   int64
	Decompressed int64
	Passthrough  int64
	Failures     int64
	BytesIn      int64
	BytesOut     int64
}

// New creates an engine for the given algorithm.
func New(algorithm Algorithm) (*Engine, error) {
	switch algorithm {
	case Zstd, LZ4, Brotli:
	default:
		return nil, fmt.Errorf("unknown compression algorithm %d", algorithm)
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}

	return &Engine{
		algorithm: algorithm,
		encoders:  make(map[Level]*zstd.Encoder),
		decoder:   dec,
	}, nil
}

// Algorithm returns the codec used by Compress.
func (e *Engine) Algorithm() Algorithm {
	return e.algorithm
}

// ShouldCompress reports whether data is large enough to be worth compressing.
func ShouldCompress(data []byte, minSize int) bool {
	return len(data) > minSize
}

// Ratio returns compressed/original, or 1 for empty input.
func Ratio(original, compressed int) float64 {
	if original == 0 {
		return 1
	}
	return float64(compressed) / float64(original)
}

// Worthwhile reports whether a compressed size meets MinImprovementRatio.
func Worthwhile(original, compressed int) bool {
	return original > 0 && Ratio(original, compressed) < MinImprovementRatio
}

// Compress compresses data at LevelDefault.
func (e *Engine) Compress(data []byte) ([]byte, error) {
	return e.CompressLevel(data, LevelDefault)
}

// CompressLevel compresses data at the given level and frames the result.
func (e *Engine) CompressLevel(data []byte, level Level) ([]byte, error) {
	out := make([]byte, 0, frameHeaderSize+len(data)/2)
	out = append(out, magic...)
	out = append(out, byte(e.algorithm))

	var err error
	switch e.algorithm {
	case Zstd:
		out, err = e.zstdCompress(out, data, level)
	case LZ4:
		out, err = lz4Compress(out, data, level)
	case Brotli:
		out, err = brotliCompress(out, data, level)
	}
	if err != nil {
		e.stats.failures.Add(1)
		return nil, fmt.Errorf("%s compress: %w", e.algorithm, err)
	}

	e.stats.compressed.Add(1)
	e.stats.bytesIn.Add(int64(len(data)))
	e.stats.bytesOut.Add(int64(len(out)))
	return out, nil
}

// Decompress reverses Compress. Input that is not a valid frame is returned
// unchanged.
func (e *Engine) Decompress(data []byte) []byte {
	if !IsCompressed(data) {
		e.stats.passthrough.Add(1)
		return data
	}

	algorithm := Algorithm(data[len(magic)])
	payload := data[frameHeaderSize:]

	var out []byte
	var err error
	switch algorithm {
	case Zstd:
		out, err = e.decoder.DecodeAll(payload, nil)
	case LZ4:
		out, err = io.ReadAll(lz4.NewReader(bytes.NewReader(payload)))
	case Brotli:
		out, err = io.ReadAll(brotli.NewReader(bytes.NewReader(payload)))
	default:
		err = fmt.Errorf("unknown algorithm %d", algorithm)
	}

	if err != nil {
		e.stats.failures.Add(1)
		log.Warn("decompress failed, returning input unchanged", "algorithm", algorithm, "size", len(data), "error", err)
		return data
	}

	e.stats.decompressed.Add(1)
	return out
}

// IsCompressed reports whether data carries a compression frame header.
func IsCompressed(data []byte) bool {
	return len(data) >= frameHeaderSize && bytes.Equal(data[:len(magic)], magic)
}

// Close releases codec resources.
func (e *Engine) Close() {
	e.encMu.Lock()
	defer e.encMu.Unlock()

	for _, enc := range e.encoders {
		enc.Close()
	}
	e.encoders = nil
	e.decoder.Close()
}

// Stats returns engine statistics.
func (e *Engine) Stats() Stats {
	return Stats{
		Compressed:   e.stats.compressed.Load(),
		Decompressed: e.stats.decompressed.Load(),
		Passthrough:  e.stats.passthrough.Load(),
		Failures:     e.stats.failures.Load(),
		BytesIn:      e.stats.bytesIn.Load(),
		BytesOut:     e.stats.bytesOut.Load(),
	}
}

// =============================================================================
// Codecs
// =============================================================================

func (e *Engine) zstdEncoder(level Level) (*zstd.Encoder, error) {
	e.encMu.Lock()
	defer e.encMu.Unlock()

	if enc, ok := e.encoders[level]; ok {
		return enc, nil
	}
	if e.encoders == nil {
		return nil, fmt.Errorf("engine closed")
	}

	zl := zstd.SpeedDefault
	if level == LevelBest {
		zl = zstd.SpeedBestCompression
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zl))
	if err != nil {
		return nil, err
	}
	e.encoders[level] = enc
	return enc, nil
}

func (e *Engine) zstdCompress(dst, data []byte, level Level) ([]byte, error) {
	enc, err := e.zstdEncoder(level)
	if err != nil {
		return nil, err
	}
	return enc.EncodeAll(data, dst), nil
}

func lz4Compress(dst, data []byte, level Level) ([]byte, error) {
	buf := bytes.NewBuffer(dst)
	w := lz4.NewWriter(buf)

	lvl := lz4.Fast
	if level == LevelBest {
		lvl = lz4.Level9
	}
	if err := w.Apply(lz4.CompressionLevelOption(lvl)); err != nil {
		return nil, err
	}

	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func brotliCompress(dst, data []byte, level Level) ([]byte, error) {
	buf := bytes.NewBuffer(dst)

	lvl := brotli.DefaultCompression
	if level == LevelBest {
		lvl = brotli.BestCompression
	}
	w := brotli.NewWriterLevel(buf, lvl)

	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
