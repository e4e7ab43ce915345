package duckdb

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"
)

// FileFingerprint holds stat-based identity for a snapshot file.
type FileFingerprint struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// StatFile creates a FileFingerprint from an on-disk file.
func StatFile(path string) (FileFingerprint, error) {
	info, err := os.Stat(path)
	if err != nil {
		return FileFingerprint{}, err
	}
	return FileFingerprint{
		Path:    path,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}, nil
}

// Export describes one exported query: where its rows came from and when.
type Export struct {
	QueryID    string
	QueryName  string
	Version    string
	LastUpdate string
	Snapshot   FileFingerprint // zero for in-memory repositories
	CreatedAt  time.Time
}

// RecordExport stores the provenance of an exported query. Recording the
// same query id twice replaces the earlier record.
func (s *Store) RecordExport(e Export) error {
	if e.QueryID == "" {
		return fmt.Errorf("record export: empty query id")
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	var mtime any
	if !e.Snapshot.ModTime.IsZero() {
		mtime = e.Snapshot.ModTime.UTC().Truncate(time.Microsecond)
	}
	_, err := s.db.Exec(`INSERT OR REPLACE INTO susc_exports
		(query_id, query_name, version, last_update, snapshot_path, snapshot_size, snapshot_mtime, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.QueryID, e.QueryName, e.Version, e.LastUpdate,
		e.Snapshot.Path, e.Snapshot.Size, mtime, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("record export: %w", err)
	}
	return nil
}

// LookupExport returns the provenance of an exported query. The second
// return value is false if the query id is unknown.
func (s *Store) LookupExport(queryID string) (Export, bool, error) {
	var e Export
	var mtime sql.NullTime
	err := s.db.QueryRow(`SELECT query_id, query_name, version, last_update,
		snapshot_path, snapshot_size, snapshot_mtime, created_at
		FROM susc_exports WHERE query_id=?`, queryID).Scan(
		&e.QueryID, &e.QueryName, &e.Version, &e.LastUpdate,
		&e.Snapshot.Path, &e.Snapshot.Size, &mtime, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Export{}, false, nil
	}
	if err != nil {
		return Export{}, false, fmt.Errorf("lookup export: %w", err)
	}
	if mtime.Valid {
		e.Snapshot.ModTime = mtime.Time
	}
	return e, true, nil
}

// Stale reports whether the snapshot file changed or disappeared since the
// export. Timestamps are compared at microsecond precision.
func (e Export) Stale() bool {
	if e.Snapshot.Path == "" {
		return false
	}
	cur, err := StatFile(e.Snapshot.Path)
	if err != nil {
		return true
	}
	return cur.Size != e.Snapshot.Size ||
		!cur.ModTime.Truncate(time.Microsecond).Equal(e.Snapshot.ModTime.Truncate(time.Microsecond))
}
