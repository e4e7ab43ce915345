// Package duckdb exports classified matches to a DuckDB database so batches
// can be queried with SQL after the run. Rows are append-only and keyed by a
// per-query id.
package duckdb

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/marcboeker/go-duckdb"
)

// Store manages a DuckDB connection for exported matches.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens or creates a DuckDB database at the given path.
// Use an empty string for an in-memory database.
func Open(path string) (*Store, error) {
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create export directory: %w", err)
		}
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	s := &Store{db: db, path: path}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for direct access.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Path returns the database path, empty for in-memory stores.
func (s *Store) Path() string {
	return s.path
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS susc_matches (
		query_id VARCHAR,
		version VARCHAR,
		family VARCHAR,
		query_mutations VARCHAR,
		ref_name VARCHAR,
		rx_name VARCHAR,
		control_iso_name VARCHAR,
		iso_name VARCHAR,
		assay_name VARCHAR,
		section VARCHAR,
		match_type VARCHAR,
		num_isolate_only BIGINT,
		num_query_only BIGINT,
		resistance_level VARCHAR,
		fold_cmp VARCHAR,
		fold DOUBLE,
		cumulative_count BIGINT,
		isolate_mutations VARCHAR,
		PRIMARY KEY (query_id, family, ref_name, rx_name, iso_name, control_iso_name, assay_name, section)
	)`,
	`CREATE TABLE IF NOT EXISTS susc_exports (
		query_id VARCHAR PRIMARY KEY,
		query_name VARCHAR,
		version VARCHAR,
		last_update VARCHAR,
		snapshot_path VARCHAR,
		snapshot_size BIGINT,
		snapshot_mtime TIMESTAMP,
		created_at TIMESTAMP
	)`,
}

// ensureSchema creates tables if they don't exist.
func (s *Store) ensureSchema() error {
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
