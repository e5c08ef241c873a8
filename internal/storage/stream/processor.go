// Package stream processes very large payloads slice by slice, yielding to
// the scheduler between batches of slices, and memoizes results by content
// fingerprint.
//
// The fingerprint only locates a cache entry. Every entry carries the
// 128-bit digest of the whole input it was computed from, and a hit is
// served only when the digest of the current input matches, so two
// payloads that share length and edges never receive each other's result.
package stream

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"runtime"
	"sync/atomic"

	"github.com/zeebo/xxh3"
	"golang.org/x/sync/singleflight"

	defaults "github.com/xtxerr/versionstore/config"
	"github.com/xtxerr/versionstore/internal/logging"
	"github.com/xtxerr/versionstore/internal/storage/cache"
)

var log = logging.Component("stream")

// Transform is applied to each slice in order. It must not retain the slice.
type Transform func(slice []byte) ([]byte, error)

// Identity returns the slice unchanged.
func Identity(slice []byte) ([]byte, error) {
	return slice, nil
}

// Config configures a Processor.
type Config struct {
	// Threshold is the payload size from which slicing applies.
	Threshold int

	// SliceSize is the size of one slice.
	SliceSize int

	// YieldEvery is the number of slices between scheduler yields.
	YieldEvery int

	// FullFingerprint hashes the whole payload instead of the leading and
	// trailing FingerprintWindow bytes.
	FullFingerprint bool

	// Transform is applied to each slice. Default: Identity.
	Transform Transform
}

// DefaultConfig returns the default processor configuration.
func DefaultConfig() Config {
	return Config{
		Threshold:  defaults.DefaultStreamingThreshold,
		SliceSize:  defaults.DefaultStreamingSliceSize,
		YieldEvery: defaults.DefaultStreamingYieldEvery,
		Transform:  Identity,
	}
}

// Processor transforms large payloads and caches the results.
//
// Processor is safe for concurrent use. Concurrent requests for the same
// input run the transform once.
type Processor struct {
	cfg   Config
	cache *cache.Cache
	group singleflight.Group

	processed atomic.Int64
	cacheHits atomic.Int64
	shared    atomic.Int64
	passed    atomic.Int64
	yields    atomic.Int64
	mismatch  atomic.Int64
}

// Stats holds processor statistics.
type Stats struct {
	Processed   int64
	CacheHits   int64
	Shared      int64
	Passthrough int64
	Yields      int64

	// Mismatches counts fingerprint hits rejected by the digest check.
	Mismatches int64
}

// New creates a processor that caches results in c.
func New(cfg Config, c *cache.Cache) *Processor {
	d := DefaultConfig()
	if cfg.Threshold <= 0 {
		cfg.Threshold = d.Threshold
	}
	if cfg.SliceSize <= 0 {
		cfg.SliceSize = d.SliceSize
	}
	if cfg.YieldEvery <= 0 {
		cfg.YieldEvery = d.YieldEvery
	}
	if cfg.Transform == nil {
		cfg.Transform = Identity
	}
	if c == nil {
		c = cache.New(0, 0)
	}

	return &Processor{cfg: cfg, cache: c}
}

// Process returns the transformed payload. Inputs below the threshold are
// returned unchanged without touching the cache.
func (p *Processor) Process(ctx context.Context, input []byte) ([]byte, error) {
	if len(input) < p.cfg.Threshold {
		p.passed.Add(1)
		return input, nil
	}

	key := p.Fingerprint(input)
	sum := digest(input)
	if entry, ok := p.cache.Get(key); ok {
		if out, ok := unseal(entry, sum); ok {
			p.cacheHits.Add(1)
			log.Debug("stream cache hit", "fingerprint", key, "size", len(input))
			return out, nil
		}
		p.mismatch.Add(1)
		log.Debug("stream fingerprint collision", "fingerprint", key, "size", len(input))
	}

	v, err, shared := p.group.Do(hex.EncodeToString(sum[:]), func() (interface{}, error) {
		out, err := p.run(ctx, input)
		if err != nil {
			return nil, err
		}
		p.cache.Set(key, seal(sum, out))
		return out, nil
	})
	if shared {
		p.shared.Add(1)
	}
	if err != nil {
		return nil, err
	}

	return v.([]byte), nil
}

// run transforms input slice by slice.
func (p *Processor) run(ctx context.Context, input []byte) ([]byte, error) {
	out := make([]byte, 0, len(input))
	slices := 0

	for start := 0; start < len(input); start += p.cfg.SliceSize {
		end := start + p.cfg.SliceSize
		if end > len(input) {
			end = len(input)
		}

		t, err := p.cfg.Transform(input[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, t...)

		slices++
		if slices%p.cfg.YieldEvery == 0 {
			runtime.Gosched()
			p.yields.Add(1)
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
	}

	p.processed.Add(1)
	log.Debug("stream processed", "size", len(input), "slices", slices)
	return out, nil
}

// Fingerprint returns the cache key for input: an xxh3 hash of the leading
// and trailing FingerprintWindow bytes plus the length, or of the whole
// payload when FullFingerprint is set.
func (p *Processor) Fingerprint(input []byte) string {
	var sum uint64
	if p.cfg.FullFingerprint || len(input) <= 2*defaults.FingerprintWindow {
		sum = xxh3.Hash(input)
	} else {
		h := xxh3.New()
		h.Write(input[:defaults.FingerprintWindow])
		h.Write(input[len(input)-defaults.FingerprintWindow:])
		sum = h.Sum64()
	}

	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], sum)
	binary.BigEndian.PutUint64(buf[8:], uint64(len(input)))
	return hex.EncodeToString(buf[:])
}

// digestSize is the length of the input digest prefixed to cache entries.
const digestSize = 16

// digest returns the xxh3-128 hash of the whole input.
func digest(input []byte) [digestSize]byte {
	return xxh3.Hash128(input).Bytes()
}

// seal prefixes out with the digest of the input it was computed from.
func seal(sum [digestSize]byte, out []byte) []byte {
	entry := make([]byte, digestSize+len(out))
	copy(entry, sum[:])
	copy(entry[digestSize:], out)
	return entry
}

// unseal returns the cached output when entry was computed from an input
// with digest sum.
func unseal(entry []byte, sum [digestSize]byte) ([]byte, bool) {
	if len(entry) < digestSize || [digestSize]byte(entry[:digestSize]) != sum {
		return nil, false
	}
	return entry[digestSize:], true
}

// Stats returns processor statistics.
func (p *Processor) Stats() Stats {
	return Stats{
		Processed:   p.processed.Load(),
		CacheHits:   p.cacheHits.Load(),
		Shared:      p.shared.Load(),
		Passthrough: p.passed.Load(),
		Yields:      p.yields.Load(),
		Mismatches:  p.mismatch.Load(),
	}
}

// Cache returns the processor's result cache.
func (p *Processor) Cache() *cache.Cache {
	return p.cache
}
