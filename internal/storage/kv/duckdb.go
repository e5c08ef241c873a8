package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/marcboeker/go-duckdb"
)

const (
	createTableSQL = `CREATE TABLE IF NOT EXISTS kv (key VARCHAR PRIMARY KEY, value BLOB NOT NULL)`
	getSQL         = `SELECT value FROM kv WHERE key = ?`
	sizeSQL        = `SELECT octet_length(value) FROM kv WHERE key = ?`
	upsertSQL      = `INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT (key) DO UPDATE SET value = excluded.value`
	deleteSQL      = `DELETE FROM kv WHERE key = ?`
	keysSQL        = `SELECT key FROM kv`
	usageSQL       = `SELECT key, octet_length(value) FROM kv`
)

// DuckDB is a Store backed by a single DuckDB table.
type DuckDB struct {
	db     *sql.DB
	limits Limits

	mu     sync.Mutex
	used   int64
	closed bool

	stats Stats
}

// OpenDuckDB opens or creates a DuckDB store. An empty path opens an
// in-memory database.
func OpenDuckDB(path string, limits Limits) (*DuckDB, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	// A single connection serializes writers and keeps in-memory databases shared
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	s := &DuckDB{
		db:     db,
		limits: limits,
	}

	if err := s.loadUsage(ctx); err != nil {
		db.Close()
		return nil, err
	}

	log.Debug("duckdb store opened", "path", path, "bytes", s.used)
	return s, nil
}

func (s *DuckDB) loadUsage(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, usageSQL)
	if err != nil {
		return fmt.Errorf("compute usage: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var size int64
		if err := rows.Scan(&key, &size); err != nil {
			return fmt.Errorf("scan usage: %w", err)
		}
		s.used += int64(len(key)) + size
	}
	return rows.Err()
}

// Get returns the value stored under key.
func (s *DuckDB) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	s.stats.Gets++
	s.mu.Unlock()

	var value []byte
	err := s.db.QueryRowContext(ctx, getSQL, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	if value == nil {
		value = []byte{}
	}
	return value, nil
}

// Set upserts value under key.
func (s *DuckDB) Set(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	replaced := int64(-1)
	var size int64
	err := s.db.QueryRowContext(ctx, sizeSQL, key).Scan(&size)
	switch {
	case err == nil:
		replaced = int64(len(key)) + size
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("size %s: %w", key, err)
	}

	if err := s.limits.check(key, value, s.used, replaced); err != nil {
		s.stats.Rejected++
		return err
	}

	if value == nil {
		value = []byte{}
	}
	if _, err := s.db.ExecContext(ctx, upsertSQL, key, value); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}

	if replaced >= 0 {
		s.used -= replaced
	}
	s.used += entrySize(key, value)
	s.stats.Sets++

	return nil
}

// Remove deletes key.
func (s *DuckDB) Remove(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	var size int64
	err := s.db.QueryRowContext(ctx, sizeSQL, key).Scan(&size)
	if errors.Is(err, sql.ErrNoRows) {
		s.stats.Removes++
		return nil
	}
	if err != nil {
		return fmt.Errorf("size %s: %w", key, err)
	}

	if _, err := s.db.ExecContext(ctx, deleteSQL, key); err != nil {
		return fmt.Errorf("remove %s: %w", key, err)
	}

	s.used -= int64(len(key)) + size
	s.stats.Removes++
	return nil
}

// Keys returns all stored keys.
func (s *DuckDB) Keys(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, keysSQL)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Close closes the database.
func (s *DuckDB) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	return s.db.Close()
}

// Stats returns store statistics.
func (s *DuckDB) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.stats
	st.UsedBytes = s.used
	st.Quota = s.limits.Quota

	if !s.closed {
		var n int
		if err := s.db.QueryRow(`SELECT count(*) FROM kv`).Scan(&n); err == nil {
			st.Keys = n
		}
	}
	return st
}
