package kv

import (
	"fmt"

	"github.com/spf13/afero"

	"github.com/xtxerr/versionstore/internal/storage/config"
)

// Open creates the Store selected by cfg.
func Open(cfg config.BackendConfig) (Store, error) {
	limits := Limits{
		MaxEntrySize: int64(cfg.MaxEntrySize),
		Quota:        int64(cfg.Quota),
	}

	switch cfg.Kind {
	case "memory", "":
		return NewMemory(limits), nil

	case "file":
		return OpenFile(afero.NewOsFs(), cfg.Path, FileOptions{
			Limits:      limits,
			SegmentSize: int64(cfg.SegmentSize),
			SyncWrites:  cfg.SyncWrites,
		})

	case "duckdb":
		return OpenDuckDB(cfg.Path, limits)

	default:
		return nil, fmt.Errorf("unknown backend kind %q", cfg.Kind)
	}
}

// StatsOf returns the statistics of stores that track them.
func StatsOf(s Store) (Stats, bool) {
	type statser interface {
		Stats() Stats
	}
	if st, ok := s.(statser); ok {
		return st.Stats(), true
	}
	return Stats{}, false
}
