package duckdb

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"

	"github.com/google/uuid"
	goduckdb "github.com/marcboeker/go-duckdb"

	"github.com/hivdb/susc-match/internal/drdb"
	"github.com/hivdb/susc-match/internal/mutation"
	"github.com/hivdb/susc-match/internal/susc"
)

// MatchRow is one exported match as stored in DuckDB.
type MatchRow struct {
	QueryID          string
	Version          string
	Family           string
	QueryMutations   string
	RefName          string
	RxName           string
	ControlIsoName   string
	IsoName          string
	AssayName        string
	Section          string
	MatchType        string
	NumIsolateOnly   int64
	NumQueryOnly     int64
	ResistanceLevel  string
	FoldCmp          string
	Fold             sql.NullFloat64
	CumulativeCount  int64
	IsolateMutations string
}

// NewQueryID returns a fresh id for a query's exported rows.
func NewQueryID() string {
	return uuid.NewString()
}

// matchKey is the composite key for deduplicating matches before writing.
type matchKey struct {
	family                                                   drdb.Family
	refName, rxName, isoName, controlIsoName, assay, section string
}

// WriteMatches batch-inserts the matches of one query using the Appender API.
// Matches repeating a (family, reference, treatment, isolate, control, assay,
// section) key are written once.
func (s *Store) WriteMatches(queryID, version string, family drdb.Family, query mutation.Set, matches []*susc.Match) error {
	if len(matches) == 0 {
		return nil
	}
	if queryID == "" {
		return fmt.Errorf("write matches: empty query id")
	}

	seen := make(map[matchKey]bool, len(matches))
	deduped := make([]*susc.Match, 0, len(matches))
	for _, m := range matches {
		k := matchKey{family, m.RefName, m.RxName, m.Isolate.Name, m.ControlIsolate.Name, m.AssayName, m.Section}
		if !seen[k] {
			seen[k] = true
			deduped = append(deduped, m)
		}
	}

	conn, err := s.db.Conn(context.Background())
	if err != nil {
		return fmt.Errorf("get connection: %w", err)
	}
	defer conn.Close()

	var appender *goduckdb.Appender
	if err := conn.Raw(func(driverConn any) error {
		var err error
		appender, err = goduckdb.NewAppenderFromConn(driverConn.(driver.Conn), "", "susc_matches")
		return err
	}); err != nil {
		return fmt.Errorf("create appender: %w", err)
	}
	defer appender.Close()

	queryMuts := query.String()
	for _, m := range deduped {
		var fold driver.Value
		if m.Fold != nil {
			fold = *m.Fold
		}
		if err := appender.AppendRow(
			queryID, version, family.String(), queryMuts,
			m.RefName, m.RxName, m.ControlIsolate.Name, m.Isolate.Name,
			m.AssayName, m.Section, m.Type.String(),
			int64(m.NumIsolateOnly), int64(m.NumQueryOnly),
			m.ResistanceLevel(), m.FoldCmp, fold, int64(m.CumulativeCount),
			m.Isolate.Mutations.String(),
		); err != nil {
			return fmt.Errorf("append match: %w", err)
		}
	}

	return appender.Flush()
}

// ClearMatches removes all exported matches and export records.
func (s *Store) ClearMatches() error {
	if _, err := s.db.Exec("DELETE FROM susc_matches"); err != nil {
		return err
	}
	_, err := s.db.Exec("DELETE FROM susc_exports")
	return err
}

const matchColumns = `query_id, version, family, query_mutations,
		ref_name, rx_name, control_iso_name, iso_name,
		assay_name, section, match_type,
		num_isolate_only, num_query_only,
		resistance_level, fold_cmp, fold, cumulative_count,
		isolate_mutations`

// LookupQuery returns the exported matches of one query.
func (s *Store) LookupQuery(queryID string) ([]MatchRow, error) {
	rows, err := s.db.Query(`SELECT `+matchColumns+`
		FROM susc_matches
		WHERE query_id=?
		ORDER BY family, num_isolate_only + num_query_only, iso_name, ref_name, rx_name`, queryID)
	if err != nil {
		return nil, fmt.Errorf("query matches: %w", err)
	}
	defer rows.Close()

	return scanMatchRows(rows)
}

// SearchByIsolate returns every exported match against the named isolate.
func (s *Store) SearchByIsolate(isoName string) ([]MatchRow, error) {
	rows, err := s.db.Query(`SELECT `+matchColumns+`
		FROM susc_matches
		WHERE iso_name=?
		ORDER BY query_id, family, ref_name, rx_name`, isoName)
	if err != nil {
		return nil, fmt.Errorf("query by isolate: %w", err)
	}
	defer rows.Close()

	return scanMatchRows(rows)
}

// scanMatchRows scans rows into MatchRow slices.
func scanMatchRows(rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}) ([]MatchRow, error) {
	var results []MatchRow
	for rows.Next() {
		var r MatchRow
		if err := rows.Scan(
			&r.QueryID, &r.Version, &r.Family, &r.QueryMutations,
			&r.RefName, &r.RxName, &r.ControlIsoName, &r.IsoName,
			&r.AssayName, &r.Section, &r.MatchType,
			&r.NumIsolateOnly, &r.NumQueryOnly,
			&r.ResistanceLevel, &r.FoldCmp, &r.Fold, &r.CumulativeCount,
			&r.IsolateMutations,
		); err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate matches: %w", err)
	}
	return results, nil
}
