package drdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // pure go sqlite driver

	"github.com/hivdb/susc-match/internal/mutation"
)

const (
	snapshotPrefix = "covid-drdb-"
	snapshotSuffix = ".db"
)

// Lineages whose results are never loaded.
var excludedVariants = []string{"SARS-CoV", "WIV1", "B", "B.1"}

// SQLiteRepository reads snapshot files named covid-drdb-<version>.db from a
// directory. Connections are opened read-only on first use and kept until Close.
type SQLiteRepository struct {
	dir    string
	logger *zap.Logger

	mu  sync.Mutex
	dbs map[string]*sql.DB
}

// NewSQLiteRepository creates a repository over the snapshot directory.
func NewSQLiteRepository(dir string) *SQLiteRepository {
	return &SQLiteRepository{
		dir:    dir,
		logger: zap.NewNop(),
		dbs:    make(map[string]*sql.DB),
	}
}

// SetLogger sets the logger for connection events.
func (r *SQLiteRepository) SetLogger(l *zap.Logger) {
	r.logger = l
}

// SnapshotPath returns the file backing a version.
func (r *SQLiteRepository) SnapshotPath(version string) string {
	return filepath.Join(r.dir, snapshotPrefix+version+snapshotSuffix)
}

// Close closes every open snapshot connection.
func (r *SQLiteRepository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for v, db := range r.dbs {
		if err := db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close snapshot %s: %w", v, err))
		}
		delete(r.dbs, v)
	}
	return errors.Join(errs...)
}

func (r *SQLiteRepository) open(version string) (*sql.DB, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if db, ok := r.dbs[version]; ok {
		return db, nil
	}
	if version == "" || strings.ContainsAny(version, `/\`) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownVersion, version)
	}
	path := r.SnapshotPath(version)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownVersion, version)
		}
		return nil, fmt.Errorf("stat snapshot: %w", err)
	}
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	r.dbs[version] = db
	r.logger.Debug("opened snapshot", zap.String("version", version), zap.String("path", path))
	return db, nil
}

// Versions lists the snapshot versions present in the directory.
func (r *SQLiteRepository) Versions(context.Context) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(r.dir, snapshotPrefix+"*"+snapshotSuffix))
	if err != nil {
		return nil, fmt.Errorf("glob snapshots: %w", err)
	}
	versions := make([]string, 0, len(matches))
	for _, m := range matches {
		base := filepath.Base(m)
		versions = append(versions, strings.TrimSuffix(strings.TrimPrefix(base, snapshotPrefix), snapshotSuffix))
	}
	sort.Strings(versions)
	return versions, nil
}

// LastUpdate returns the global last-update timestamp of a snapshot.
func (r *SQLiteRepository) LastUpdate(ctx context.Context, version string) (string, error) {
	db, err := r.open(version)
	if err != nil {
		return "", err
	}
	var lastUpdate sql.NullString
	err = db.QueryRowContext(ctx, `SELECT last_update FROM last_update WHERE scope='global'`).Scan(&lastUpdate)
	if err != nil {
		return "", fmt.Errorf("query last update: %w", err)
	}
	if !lastUpdate.Valid {
		return "", &DataIntegrityError{Table: "last_update", Record: "global", Field: "last_update"}
	}
	return lastUpdate.String, nil
}

// LoadArticles loads every article.
func (r *SQLiteRepository) LoadArticles(ctx context.Context, version string) ([]*Article, error) {
	db, err := r.open(version)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `SELECT ref_name, doi, url, first_author, year FROM articles`)
	if err != nil {
		return nil, fmt.Errorf("query articles: %w", err)
	}
	defer rows.Close()

	var articles []*Article
	for rows.Next() {
		var refName, doi, url, firstAuthor sql.NullString
		var year sql.NullInt64
		if err := rows.Scan(&refName, &doi, &url, &firstAuthor, &year); err != nil {
			return nil, fmt.Errorf("scan article: %w", err)
		}
		if !refName.Valid || refName.String == "" {
			return nil, &DataIntegrityError{Table: "articles", Record: "?", Field: "ref_name"}
		}
		articles = append(articles, &Article{
			RefName:     refName.String,
			DOI:         doi.String,
			URL:         url.String,
			FirstAuthor: firstAuthor.String,
			Year:        int(year.Int64),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate articles: %w", err)
	}
	return articles, nil
}

// LoadVariants loads every variant.
func (r *SQLiteRepository) LoadVariants(ctx context.Context, version string) ([]*Variant, error) {
	db, err := r.open(version)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `SELECT var_name, as_wildtype FROM variants`)
	if err != nil {
		return nil, fmt.Errorf("query variants: %w", err)
	}
	defer rows.Close()

	var variants []*Variant
	for rows.Next() {
		var name sql.NullString
		var asWildtype sql.NullBool
		if err := rows.Scan(&name, &asWildtype); err != nil {
			return nil, fmt.Errorf("scan variant: %w", err)
		}
		if !name.Valid || name.String == "" {
			return nil, &DataIntegrityError{Table: "variants", Record: "?", Field: "var_name"}
		}
		variants = append(variants, &Variant{Name: name.String, AsWildtype: asWildtype.Bool})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate variants: %w", err)
	}
	return variants, nil
}

// LoadIsolates loads every isolate with its spike mutations.
func (r *SQLiteRepository) LoadIsolates(ctx context.Context, version string) ([]*Isolate, error) {
	db, err := r.open(version)
	if err != nil {
		return nil, err
	}
	muts, err := r.loadIsolateMutations(ctx, db)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT iso_name, var_name FROM isolates`)
	if err != nil {
		return nil, fmt.Errorf("query isolates: %w", err)
	}
	defer rows.Close()

	var isolates []*Isolate
	for rows.Next() {
		var name, varName sql.NullString
		if err := rows.Scan(&name, &varName); err != nil {
			return nil, fmt.Errorf("scan isolate: %w", err)
		}
		if !name.Valid || name.String == "" {
			return nil, &DataIntegrityError{Table: "isolates", Record: "?", Field: "iso_name"}
		}
		isolates = append(isolates, &Isolate{
			Name:      name.String,
			VarName:   varName.String,
			Mutations: mutation.NewSet(muts[name.String]...),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate isolates: %w", err)
	}
	return isolates, nil
}

func (r *SQLiteRepository) loadIsolateMutations(ctx context.Context, db *sql.DB) (map[string][]mutation.Mutation, error) {
	query := `SELECT M.iso_name, M.gene, M.position, M.amino_acid, NULL
		FROM isolate_mutations M WHERE M.gene='S'`
	hasRef, err := tableExists(ctx, db, "ref_amino_acid")
	if err != nil {
		return nil, err
	}
	if hasRef {
		query = `SELECT M.iso_name, M.gene, M.position, M.amino_acid, R.amino_acid
			FROM isolate_mutations M
			LEFT JOIN ref_amino_acid R ON R.gene=M.gene AND R.position=M.position
			WHERE M.gene='S'`
	}

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query isolate mutations: %w", err)
	}
	defer rows.Close()

	muts := make(map[string][]mutation.Mutation)
	for rows.Next() {
		var isoName, gene, aa, ref sql.NullString
		var pos sql.NullInt64
		if err := rows.Scan(&isoName, &gene, &pos, &aa, &ref); err != nil {
			return nil, fmt.Errorf("scan isolate mutation: %w", err)
		}
		id := isoName.String
		switch {
		case !isoName.Valid || id == "":
			return nil, &DataIntegrityError{Table: "isolate_mutations", Record: "?", Field: "iso_name"}
		case !gene.Valid || gene.String == "":
			return nil, &DataIntegrityError{Table: "isolate_mutations", Record: id, Field: "gene"}
		case !pos.Valid || pos.Int64 < 1:
			return nil, &DataIntegrityError{Table: "isolate_mutations", Record: id, Field: "position"}
		case !aa.Valid || aa.String == "":
			return nil, &DataIntegrityError{Table: "isolate_mutations", Record: id, Field: "amino_acid"}
		}
		var refAA byte
		if ref.Valid && len(ref.String) == 1 {
			refAA = ref.String[0]
		}
		muts[id] = append(muts[id], mutation.New(gene.String, int(pos.Int64), refAA, DecodeAA(aa.String)))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate isolate mutations: %w", err)
	}
	return muts, nil
}

// DecodeAA maps the residue words used by snapshots and query files to
// residue codes.
func DecodeAA(aa string) string {
	switch aa {
	case "del":
		return string(mutation.Deletion)
	case "ins":
		return string(mutation.Insertion)
	case "stop":
		return string(mutation.Stop)
	}
	return aa
}

// LoadAntibodies loads every antibody with its structural target and synonyms.
func (r *SQLiteRepository) LoadAntibodies(ctx context.Context, version string) ([]*Antibody, error) {
	db, err := r.open(version)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT ab_name, abbreviation_name, availability, priority, visibility FROM antibodies`)
	if err != nil {
		return nil, fmt.Errorf("query antibodies: %w", err)
	}
	var antibodies []*Antibody
	byName := make(map[string]*Antibody)
	for rows.Next() {
		var name, abbr, availability sql.NullString
		var priority, visibility sql.NullInt64
		if err := rows.Scan(&name, &abbr, &availability, &priority, &visibility); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan antibody: %w", err)
		}
		if !name.Valid || name.String == "" {
			rows.Close()
			return nil, &DataIntegrityError{Table: "antibodies", Record: "?", Field: "ab_name"}
		}
		ab := &Antibody{
			Name:         name.String,
			AbbrName:     abbr.String,
			Availability: availability.String,
			Priority:     int(priority.Int64),
			Visible:      visibility.Int64 == 1,
		}
		antibodies = append(antibodies, ab)
		byName[ab.Name] = ab
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate antibodies: %w", err)
	}

	targets, err := db.QueryContext(ctx, `SELECT ab_name, target, class FROM antibody_targets WHERE source='structure'`)
	if err != nil {
		return nil, fmt.Errorf("query antibody targets: %w", err)
	}
	for targets.Next() {
		var name, target, class sql.NullString
		if err := targets.Scan(&name, &target, &class); err != nil {
			targets.Close()
			return nil, fmt.Errorf("scan antibody target: %w", err)
		}
		ab, ok := byName[name.String]
		if !ok {
			targets.Close()
			return nil, &UnknownReferenceError{Kind: "antibody", Name: name.String, Record: "antibody_targets"}
		}
		if ab.Target != "" || ab.Class != "" {
			targets.Close()
			return nil, &DataIntegrityError{
				Table: "antibody_targets", Record: name.String, Field: "ab_name",
				Err: errors.New("conflicting structure targets"),
			}
		}
		ab.Target = target.String
		ab.Class = class.String
	}
	targets.Close()
	if err := targets.Err(); err != nil {
		return nil, fmt.Errorf("iterate antibody targets: %w", err)
	}

	synonyms, err := db.QueryContext(ctx, `SELECT ab_name, synonym FROM antibody_synonyms`)
	if err != nil {
		return nil, fmt.Errorf("query antibody synonyms: %w", err)
	}
	defer synonyms.Close()
	for synonyms.Next() {
		var name, synonym sql.NullString
		if err := synonyms.Scan(&name, &synonym); err != nil {
			return nil, fmt.Errorf("scan antibody synonym: %w", err)
		}
		ab, ok := byName[name.String]
		if !ok {
			return nil, &UnknownReferenceError{Kind: "antibody", Name: name.String, Record: "antibody_synonyms"}
		}
		ab.Synonyms = append(ab.Synonyms, synonym.String)
	}
	if err := synonyms.Err(); err != nil {
		return nil, fmt.Errorf("iterate antibody synonyms: %w", err)
	}
	return antibodies, nil
}

// suscColumns are selected for every family; family joins add their own.
const suscColumns = `S.ref_name, S.rx_name, S.control_iso_name, S.iso_name,
	S.assay_name, S.section, S.fold_cmp, S.fold, S.ineffective,
	S.resistance_level, S.cumulative_count`

// suscFilter excludes results of reference lineages and results that were
// ineffective against the control.
func suscFilter() string {
	quoted := make([]string, len(excludedVariants))
	for i, v := range excludedVariants {
		quoted[i] = "'" + v + "'"
	}
	return `NOT EXISTS (
		SELECT 1 FROM isolates I
		WHERE S.iso_name=I.iso_name AND I.var_name IN (` + strings.Join(quoted, ", ") + `)
	) AND (S.ineffective = 'experimental' OR S.ineffective IS NULL)`
}

// LoadSuscRecords loads every susceptibility result of one family.
func (r *SQLiteRepository) LoadSuscRecords(ctx context.Context, version string, family Family) ([]*SuscRecord, error) {
	db, err := r.open(version)
	if err != nil {
		return nil, err
	}

	var query string
	switch family {
	case FamilyAntibody:
		query = `SELECT ` + suscColumns + `
			FROM susc_results S
			WHERE ` + suscFilter() + ` AND EXISTS (
				SELECT 1 FROM rx_antibodies RXMAB, antibodies MAB
				WHERE S.ref_name=RXMAB.ref_name AND S.rx_name=RXMAB.rx_name
				AND RXMAB.ab_name=MAB.ab_name AND MAB.visibility=1
			)`
	case FamilyConvPlasma:
		query = `SELECT ` + suscColumns + `, RXCP.infected_var_name, RXCP.cumulative_group
			FROM susc_results S
			JOIN rx_conv_plasma RXCP ON S.ref_name=RXCP.ref_name AND S.rx_name=RXCP.rx_name
			WHERE ` + suscFilter()
	case FamilyVaccPlasma:
		query = `SELECT ` + suscColumns + `, RXVP.cumulative_group, RXVP.vaccine_name,
				V.priority, V.vaccine_type
			FROM susc_results S
			JOIN rx_vacc_plasma RXVP ON S.ref_name=RXVP.ref_name AND S.rx_name=RXVP.rx_name
			JOIN vaccines V ON RXVP.vaccine_name=V.vaccine_name
			WHERE ` + suscFilter()
	default:
		return nil, fmt.Errorf("unknown family %d", family)
	}

	var abNames map[[2]string][]string
	if family == FamilyAntibody {
		if abNames, err = loadRxAntibodies(ctx, db); err != nil {
			return nil, err
		}
	}

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query %s results: %w", family, err)
	}
	defer rows.Close()

	var records []*SuscRecord
	for rows.Next() {
		var (
			refName, rxName, controlIso, iso, assay, section sql.NullString
			foldCmp, ineffective, level                      sql.NullString
			fold                                             sql.NullFloat64
			count                                            sql.NullInt64
			infectedVar, cumulativeGroup, vaccineName        sql.NullString
			vaccineType                                      sql.NullString
			vaccinePriority                                  sql.NullInt64
		)
		dest := []any{
			&refName, &rxName, &controlIso, &iso, &assay, &section,
			&foldCmp, &fold, &ineffective, &level, &count,
		}
		switch family {
		case FamilyConvPlasma:
			dest = append(dest, &infectedVar, &cumulativeGroup)
		case FamilyVaccPlasma:
			dest = append(dest, &cumulativeGroup, &vaccineName, &vaccinePriority, &vaccineType)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan %s result: %w", family, err)
		}

		rec := &SuscRecord{
			Family:          family,
			RefName:         refName.String,
			RxName:          rxName.String,
			ControlIsoName:  controlIso.String,
			IsoName:         iso.String,
			AssayName:       assay.String,
			Section:         section.String,
			FoldCmp:         foldCmp.String,
			FallbackLevel:   level.String,
			Ineffective:     ineffective.String,
			CumulativeCount: int(count.Int64),
			InfectedVarName: infectedVar.String,
			CumulativeGroup: cumulativeGroup.String,
			VaccineName:     vaccineName.String,
			VaccinePriority: int(vaccinePriority.Int64),
			VaccineType:     vaccineType.String,
		}
		if fold.Valid {
			f := fold.Float64
			rec.Fold = &f
		}
		if family == FamilyAntibody {
			rec.AbNames = abNames[[2]string{rec.RefName, rec.RxName}]
		}
		if !count.Valid {
			return nil, &DataIntegrityError{
				Table: "susc_results", Record: rec.RefName + "/" + rec.RxName + "/" + rec.IsoName,
				Field: "cumulative_count",
			}
		}
		if err := ValidateSuscRecord(rec); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s results: %w", family, err)
	}
	return records, nil
}

func loadRxAntibodies(ctx context.Context, db *sql.DB) (map[[2]string][]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT ref_name, rx_name, ab_name FROM rx_antibodies ORDER BY ab_name`)
	if err != nil {
		return nil, fmt.Errorf("query rx antibodies: %w", err)
	}
	defer rows.Close()

	out := make(map[[2]string][]string)
	for rows.Next() {
		var refName, rxName, abName sql.NullString
		if err := rows.Scan(&refName, &rxName, &abName); err != nil {
			return nil, fmt.Errorf("scan rx antibody: %w", err)
		}
		if !abName.Valid || abName.String == "" {
			return nil, &DataIntegrityError{Table: "rx_antibodies", Record: refName.String + "/" + rxName.String, Field: "ab_name"}
		}
		k := [2]string{refName.String, rxName.String}
		out[k] = append(out[k], abName.String)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rx antibodies: %w", err)
	}
	return out, nil
}

func tableExists(ctx context.Context, db *sql.DB, name string) (bool, error) {
	var n int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, name).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check table %s: %w", name, err)
	}
	return n > 0, nil
}
