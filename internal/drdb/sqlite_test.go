package drdb

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hivdb/susc-match/internal/mutation"
)

const fixtureSchema = `
CREATE TABLE last_update (scope TEXT, last_update TEXT);
CREATE TABLE articles (ref_name TEXT, doi TEXT, url TEXT, first_author TEXT, year INTEGER);
CREATE TABLE variants (var_name TEXT, as_wildtype INTEGER);
CREATE TABLE isolates (iso_name TEXT, var_name TEXT);
CREATE TABLE isolate_mutations (iso_name TEXT, gene TEXT, position INTEGER, amino_acid TEXT);
CREATE TABLE antibodies (ab_name TEXT, abbreviation_name TEXT, availability TEXT, priority INTEGER, visibility INTEGER);
CREATE TABLE antibody_targets (ab_name TEXT, target TEXT, class TEXT, source TEXT);
CREATE TABLE antibody_synonyms (ab_name TEXT, synonym TEXT);
CREATE TABLE susc_results (
	ref_name TEXT, rx_name TEXT, control_iso_name TEXT, iso_name TEXT,
	assay_name TEXT, section TEXT, fold_cmp TEXT, fold REAL, ineffective TEXT,
	resistance_level TEXT, cumulative_count INTEGER
);
CREATE TABLE rx_antibodies (ref_name TEXT, rx_name TEXT, ab_name TEXT);
CREATE TABLE rx_conv_plasma (ref_name TEXT, rx_name TEXT, infected_var_name TEXT, cumulative_group TEXT);
CREATE TABLE rx_vacc_plasma (ref_name TEXT, rx_name TEXT, vaccine_name TEXT, cumulative_group TEXT);
CREATE TABLE vaccines (vaccine_name TEXT, priority INTEGER, vaccine_type TEXT);
`

const fixtureData = `
INSERT INTO last_update VALUES ('global', '2022-03-01T00:00:00Z');
INSERT INTO articles VALUES ('Smith21', '10.1/x', 'https://example.org/x', 'Smith', 2021);
INSERT INTO variants VALUES ('Beta', 0), ('B.1', 1);
INSERT INTO isolates VALUES ('Control', 'B.1'), ('Beta full', 'Beta'), ('E484K', NULL);
INSERT INTO isolate_mutations VALUES
	('Beta full', 'S', 484, 'K'),
	('Beta full', 'S', 501, 'Y'),
	('Beta full', 'S', 242, 'del'),
	('Beta full', 'ORF1a', 3675, 'del'),
	('E484K', 'S', 484, 'K');
INSERT INTO antibodies VALUES
	('Bamlanivimab', 'BAM', 'EUA', 1, 1),
	('Hidden', NULL, NULL, 9, 0);
INSERT INTO antibody_targets VALUES
	('Bamlanivimab', 'RBD', 'Class 2', 'structure'),
	('Bamlanivimab', 'RBD', 'Class 3', 'escape');
INSERT INTO antibody_synonyms VALUES ('Bamlanivimab', 'LY-CoV555');
INSERT INTO rx_antibodies VALUES ('Smith21', 'BAM', 'Bamlanivimab'), ('Smith21', 'HID', 'Hidden');
INSERT INTO rx_conv_plasma VALUES ('Smith21', 'CP', 'Wild Type', 'CP group');
INSERT INTO rx_vacc_plasma VALUES ('Smith21', 'VP', 'BNT162b2', 'VP group');
INSERT INTO vaccines VALUES ('BNT162b2', 1, 'mRNA');
INSERT INTO susc_results VALUES
	('Smith21', 'BAM', 'Control', 'E484K', 'Pseudovirus', 'Fig 1', '>', 100, NULL, NULL, 1),
	('Smith21', 'BAM', 'Control', 'Beta full', 'Pseudovirus', 'Fig 1', '=', 50, 'experimental', NULL, 2),
	('Smith21', 'HID', 'Control', 'E484K', 'Pseudovirus', 'Fig 1', '=', 5, NULL, NULL, 1),
	('Smith21', 'BAM', 'Control', 'Control', 'Pseudovirus', 'Fig 1', '=', 1, NULL, NULL, 1),
	('Smith21', 'BAM', 'Control', 'E484K', 'Live virus', 'Fig 2', '=', 3, 'control', NULL, 1),
	('Smith21', 'CP', 'Control', 'Beta full', 'Pseudovirus', 'Fig 3', '=', 4.5, NULL, 'partial', 12),
	('Smith21', 'VP', 'Control', 'E484K', 'Pseudovirus', 'Fig 4', '<', 2, NULL, NULL, 3);
`

func writeFixture(t *testing.T, dir, version, extra string) {
	t.Helper()
	path := filepath.Join(dir, snapshotPrefix+version+snapshotSuffix)
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()
	_, err = db.Exec(fixtureSchema)
	require.NoError(t, err)
	_, err = db.Exec(fixtureData)
	require.NoError(t, err)
	if extra != "" {
		_, err = db.Exec(extra)
		require.NoError(t, err)
	}
}

func openFixture(t *testing.T, extra string) *SQLiteRepository {
	t.Helper()
	dir := t.TempDir()
	writeFixture(t, dir, "20220301", extra)
	r := NewSQLiteRepository(dir)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestSQLiteVersions(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "20220301", "")
	writeFixture(t, dir, "20211201", "")
	r := NewSQLiteRepository(dir)
	defer r.Close()

	versions, err := r.Versions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"20211201", "20220301"}, versions)
}

func TestSQLiteUnknownVersion(t *testing.T) {
	r := openFixture(t, "")
	ctx := context.Background()

	_, err := r.LoadIsolates(ctx, "19990101")
	assert.ErrorIs(t, err, ErrUnknownVersion)

	_, err = r.LastUpdate(ctx, "../20220301")
	assert.ErrorIs(t, err, ErrUnknownVersion)
}

func TestSQLiteLastUpdate(t *testing.T) {
	r := openFixture(t, "")
	ts, err := r.LastUpdate(context.Background(), "20220301")
	require.NoError(t, err)
	assert.Equal(t, "2022-03-01T00:00:00Z", ts)
}

func TestSQLiteLoadIsolates(t *testing.T) {
	r := openFixture(t, "")
	isolates, err := r.LoadIsolates(context.Background(), "20220301")
	require.NoError(t, err)
	require.Len(t, isolates, 3)

	byName := make(map[string]*Isolate)
	for _, iso := range isolates {
		byName[iso.Name] = iso
	}

	beta := byName["Beta full"]
	require.NotNil(t, beta)
	assert.Equal(t, "Beta", beta.VarName)
	// ORF1a is not loaded; del is decoded.
	assert.Equal(t, "S:242:-+S:484:K+S:501:Y", beta.Mutations.Key())
	assert.Equal(t, "", byName["E484K"].VarName)
	assert.True(t, byName["Control"].Mutations.IsEmpty())
}

func TestSQLiteLoadIsolatesWithReference(t *testing.T) {
	r := openFixture(t, `
		CREATE TABLE ref_amino_acid (gene TEXT, position INTEGER, amino_acid TEXT);
		INSERT INTO ref_amino_acid VALUES ('S', 484, 'E'), ('S', 501, 'N');
	`)
	isolates, err := r.LoadIsolates(context.Background(), "20220301")
	require.NoError(t, err)

	for _, iso := range isolates {
		if iso.Name != "E484K" {
			continue
		}
		muts := iso.Mutations.Mutations()
		require.Len(t, muts, 1)
		assert.Equal(t, byte('E'), muts[0].Ref)
		assert.Equal(t, "S:E484K", muts[0].String())
	}
}

func TestSQLiteLoadIsolatesMissingPosition(t *testing.T) {
	r := openFixture(t, `INSERT INTO isolate_mutations VALUES ('Beta full', 'S', NULL, 'K');`)
	_, err := r.LoadIsolates(context.Background(), "20220301")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDataIntegrity)

	var die *DataIntegrityError
	require.True(t, errors.As(err, &die))
	assert.Equal(t, "position", die.Field)
	assert.Equal(t, "Beta full", die.Record)
}

func TestSQLiteLoadAntibodies(t *testing.T) {
	r := openFixture(t, "")
	abs, err := r.LoadAntibodies(context.Background(), "20220301")
	require.NoError(t, err)
	require.Len(t, abs, 2)

	bam := abs[0]
	assert.Equal(t, "Bamlanivimab", bam.Name)
	assert.Equal(t, "BAM", bam.AbbrName)
	assert.True(t, bam.Visible)
	assert.Equal(t, "RBD", bam.Target)
	assert.Equal(t, "Class 2", bam.Class)
	assert.Equal(t, []string{"LY-CoV555"}, bam.Synonyms)

	assert.False(t, abs[1].Visible)
	assert.Empty(t, abs[1].Class)
}

func TestSQLiteLoadAntibodiesUnknownSynonym(t *testing.T) {
	r := openFixture(t, `INSERT INTO antibody_synonyms VALUES ('Nobody', 'X');`)
	_, err := r.LoadAntibodies(context.Background(), "20220301")
	var ure *UnknownReferenceError
	require.True(t, errors.As(err, &ure))
	assert.Equal(t, "Nobody", ure.Name)
	assert.ErrorIs(t, err, ErrDataIntegrity)
}

func TestSQLiteLoadSuscRecords(t *testing.T) {
	r := openFixture(t, "")
	ctx := context.Background()

	t.Run("antibody", func(t *testing.T) {
		recs, err := r.LoadSuscRecords(ctx, "20220301", FamilyAntibody)
		require.NoError(t, err)
		// Excluded: hidden antibody, control lineage B.1, ineffective control.
		require.Len(t, recs, 2)
		for _, rec := range recs {
			assert.Equal(t, []string{"Bamlanivimab"}, rec.AbNames)
			assert.Equal(t, FamilyAntibody, rec.Family)
		}
		require.NotNil(t, recs[0].Fold)
	})

	t.Run("conv-plasma", func(t *testing.T) {
		recs, err := r.LoadSuscRecords(ctx, "20220301", FamilyConvPlasma)
		require.NoError(t, err)
		require.Len(t, recs, 1)
		rec := recs[0]
		assert.Equal(t, "Wild Type", rec.InfectedVarName)
		assert.Equal(t, "CP group", rec.CumulativeGroup)
		assert.Equal(t, "partial", rec.FallbackLevel)
		assert.Equal(t, 12, rec.CumulativeCount)
		assert.InDelta(t, 4.5, *rec.Fold, 1e-9)
	})

	t.Run("vacc-plasma", func(t *testing.T) {
		recs, err := r.LoadSuscRecords(ctx, "20220301", FamilyVaccPlasma)
		require.NoError(t, err)
		require.Len(t, recs, 1)
		rec := recs[0]
		assert.Equal(t, "BNT162b2", rec.VaccineName)
		assert.Equal(t, 1, rec.VaccinePriority)
		assert.Equal(t, "mRNA", rec.VaccineType)
		assert.Equal(t, "<", rec.FoldCmp)
	})
}

func TestSQLiteLoadSuscRecordsMissingCount(t *testing.T) {
	r := openFixture(t, `INSERT INTO susc_results VALUES
		('Smith21', 'CP', 'Control', 'E484K', 'Pseudovirus', 'Fig 5', '=', 2, NULL, NULL, NULL);`)
	_, err := r.LoadSuscRecords(context.Background(), "20220301", FamilyConvPlasma)
	var die *DataIntegrityError
	require.True(t, errors.As(err, &die))
	assert.Equal(t, "cumulative_count", die.Field)
}

func TestDecodeAA(t *testing.T) {
	assert.Equal(t, "-", DecodeAA("del"))
	assert.Equal(t, "_", DecodeAA("ins"))
	assert.Equal(t, "*", DecodeAA("stop"))
	assert.Equal(t, "K", DecodeAA("K"))
	assert.Equal(t, string(mutation.Deletion), DecodeAA("del"))
}
