package summary

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hivdb/susc-match/internal/drdb"
	"github.com/hivdb/susc-match/internal/mutation"
	"github.com/hivdb/susc-match/internal/susc"
)

// fixture resolves results against isolates I0..I19, each carrying one
// spike substitution at position 400+i.
type fixture struct {
	t       *testing.T
	catalog *susc.Catalog
	norm    *susc.Normalizer
	seq     int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	isolates := []*drdb.Isolate{{Name: "Control"}}
	for i := 0; i < 20; i++ {
		varName := ""
		if i < 2 {
			varName = "Alpha"
		}
		isolates = append(isolates, &drdb.Isolate{
			Name:      fmt.Sprintf("I%d", i),
			VarName:   varName,
			Mutations: mutation.NewSet(mutation.New("S", 400+i, 'A', "K"), mutation.New("S", 614, 'D', "G")),
		})
	}
	c, err := susc.NewCatalog(
		[]*drdb.Article{{RefName: "Ref1"}, {RefName: "Ref2"}},
		[]*drdb.Variant{{Name: "Alpha"}},
		isolates,
		[]*drdb.Antibody{
			{Name: "AB1", Visible: true, Class: "Class 1"},
			{Name: "AB2", Visible: true, Class: "Class 2"},
			{Name: "AB3", Visible: false},
		},
	)
	require.NoError(t, err)
	return &fixture{t: t, catalog: c, norm: susc.DefaultNormalizer()}
}

func (f *fixture) result(rec *drdb.SuscRecord) *susc.Result {
	f.t.Helper()
	if rec.RefName == "" {
		rec.RefName = "Ref1"
	}
	rec.ControlIsoName = "Control"
	if rec.CumulativeCount == 0 {
		rec.CumulativeCount = 1
	}
	r, err := susc.NewResult(f.seq, rec, f.catalog, f.norm)
	require.NoError(f.t, err)
	f.seq++
	return r
}

func (f *fixture) match(typ susc.MatchType, isoOnly, queryOnly int, rec *drdb.SuscRecord) *susc.Match {
	return &susc.Match{Type: typ, NumIsolateOnly: isoOnly, NumQueryOnly: queryOnly, Result: f.result(rec)}
}

func fold(v float64) *float64 { return &v }

func cp(iso string, fold *float64, count int) *drdb.SuscRecord {
	return &drdb.SuscRecord{Family: drdb.FamilyConvPlasma, RxName: "CP", IsoName: iso, FoldCmp: "=", Fold: fold, CumulativeCount: count}
}

func ab(iso string, names ...string) *drdb.SuscRecord {
	return &drdb.SuscRecord{Family: drdb.FamilyAntibody, RxName: "AB", IsoName: iso, FoldCmp: ">", Fold: fold(50), AbNames: names}
}

func vp(iso, vaccine string, priority int) *drdb.SuscRecord {
	return &drdb.SuscRecord{
		Family: drdb.FamilyVaccPlasma, RxName: "VP", IsoName: iso, FoldCmp: "<", Fold: fold(2),
		VaccineName: vaccine, VaccinePriority: priority, VaccineType: "mRNA",
	}
}

func TestItemOrder(t *testing.T) {
	f := newFixture(t)
	items := []*susc.Match{
		f.match(susc.Overlap, 1, 1, cp("I0", fold(1), 1)),
		f.match(susc.Subset, 0, 3, cp("I1", fold(1), 1)),
		f.match(susc.Subset, 0, 1, cp("I2", fold(1), 1)),
		f.match(susc.Equal, 0, 0, cp("I3", fold(1), 1)),
		f.match(susc.Subset, 0, 1, cp("I2", fold(1), 1)),
	}
	s := New(items, mutation.Set{}, "2022", f.norm)

	var got []string
	for _, m := range s.Items {
		got = append(got, fmt.Sprintf("%s/%d/%d", m.Type, m.NumDiff(), m.Seq))
	}
	assert.Equal(t, []string{"EQUAL/0/3", "SUBSET/1/2", "SUBSET/1/4", "SUBSET/3/1", "OVERLAP/2/0"}, got)
	assert.Equal(t, susc.Overlap, items[0].Type, "input must not be reordered")
}

func TestCumulativeFold(t *testing.T) {
	f := newFixture(t)

	one := New([]*susc.Match{f.match(susc.Equal, 0, 0, cp("I0", fold(2), 5))}, mutation.Set{}, "", f.norm)
	var five []*susc.Match
	for i := 0; i < 5; i++ {
		five = append(five, f.match(susc.Equal, 0, 0, cp("I0", fold(2), 1)))
	}
	many := New(five, mutation.Set{}, "", f.norm)

	assert.Equal(t, one.CumulativeFold(), many.CumulativeFold())
	assert.Equal(t, 5, one.CumulativeCount())
	assert.Equal(t, 5, many.CumulativeCount())

	stats := one.CumulativeFold()
	assert.Equal(t, 5, stats.N)
	assert.InDelta(t, 2.0, stats.Mean, 1e-9)
	assert.InDelta(t, 2.0, stats.Median, 1e-9)
	assert.InDelta(t, 0.0, stats.StdDev, 1e-9)
}

func TestCumulativeFoldWeighted(t *testing.T) {
	f := newFixture(t)
	s := New([]*susc.Match{
		f.match(susc.Equal, 0, 0, cp("I0", fold(1), 3)),
		f.match(susc.Equal, 0, 0, cp("I1", fold(10), 1)),
		f.match(susc.Equal, 0, 0, cp("I2", nil, 4)),
	}, mutation.Set{}, "", f.norm)

	stats := s.CumulativeFold()
	assert.Equal(t, 4, stats.N)
	assert.InDelta(t, 13.0/4, stats.Mean, 1e-9)
	assert.InDelta(t, 1.0, stats.Min, 1e-9)
	assert.InDelta(t, 10.0, stats.Max, 1e-9)
	assert.InDelta(t, 1.0, stats.Median, 1e-9)
	assert.InDelta(t, 4.5, stats.StdDev, 1e-9)
	assert.InDelta(t, 1.0, stats.Q1, 1e-9)
	assert.InDelta(t, 7.75, stats.Q3, 1e-9)
	assert.Equal(t, 8, s.CumulativeCount())

	empty := New(nil, mutation.Set{}, "", f.norm)
	assert.Equal(t, FoldStats{}, empty.CumulativeFold())
}

func TestCumulativeFoldQuantiles(t *testing.T) {
	f := newFixture(t)

	t.Run("even sample interpolates", func(t *testing.T) {
		var items []*susc.Match
		for i, v := range []float64{4, 2, 1, 3} {
			items = append(items, f.match(susc.Equal, 0, 0, cp(fmt.Sprintf("I%d", i), fold(v), 1)))
		}
		stats := New(items, mutation.Set{}, "", f.norm).CumulativeFold()
		assert.InDelta(t, 1.25, stats.Q1, 1e-9)
		assert.InDelta(t, 2.5, stats.Median, 1e-9)
		assert.InDelta(t, 3.75, stats.Q3, 1e-9)
	})

	t.Run("counts repeat folds", func(t *testing.T) {
		stats := New([]*susc.Match{
			f.match(susc.Equal, 0, 0, cp("I0", fold(2), 2)),
			f.match(susc.Equal, 0, 0, cp("I1", fold(6), 2)),
		}, mutation.Set{}, "", f.norm).CumulativeFold()
		// Sample 2, 2, 6, 6.
		assert.InDelta(t, 2.0, stats.Q1, 1e-9)
		assert.InDelta(t, 4.0, stats.Median, 1e-9)
		assert.InDelta(t, 6.0, stats.Q3, 1e-9)
	})

	t.Run("small sample clamps", func(t *testing.T) {
		stats := New([]*susc.Match{
			f.match(susc.Equal, 0, 0, cp("I0", fold(3), 1)),
			f.match(susc.Equal, 0, 0, cp("I1", fold(5), 1)),
		}, mutation.Set{}, "", f.norm).CumulativeFold()
		assert.InDelta(t, 3.0, stats.Q1, 1e-9)
		assert.InDelta(t, 4.0, stats.Median, 1e-9)
		assert.InDelta(t, 5.0, stats.Q3, 1e-9)
	})
}

// assertPartition checks that groups cover items exactly once.
func assertPartition(t *testing.T, items []*susc.Match, groups [][]*susc.Match) {
	t.Helper()
	seen := make(map[*susc.Match]int)
	for _, g := range groups {
		require.NotEmpty(t, g)
		for _, m := range g {
			seen[m]++
		}
	}
	assert.Len(t, seen, len(items))
	for _, m := range items {
		assert.Equal(t, 1, seen[m], "result %d", m.Seq)
	}
}

func TestGroupingPartition(t *testing.T) {
	f := newFixture(t)
	items := []*susc.Match{
		f.match(susc.Equal, 0, 0, ab("I0", "AB1")),
		f.match(susc.Equal, 0, 0, ab("I0", "AB2")),
		f.match(susc.Superset, 1, 0, ab("I1", "AB1", "AB2")),
		f.match(susc.Overlap, 1, 1, ab("I2", "AB1")),
		f.match(susc.Subset, 0, 2, ab("I3", "AB2")),
	}
	s := New(items, mutation.Set{}, "", f.norm)

	var byLevel [][]*susc.Match
	for _, g := range s.ItemsByResistLevel() {
		byLevel = append(byLevel, g.Items)
	}
	assertPartition(t, items, byLevel)

	var byAb [][]*susc.Match
	for _, g := range s.ItemsByAntibody() {
		byAb = append(byAb, g.Items)
	}
	assertPartition(t, items, byAb)
	require.Len(t, s.ItemsByAntibody(), 3)
	assert.Len(t, s.ItemsByAntibody()[2].Antibodies, 2)

	profiles, err := s.ItemsByMutationProfile()
	require.NoError(t, err)
	var byProfile [][]*susc.Match
	for _, g := range profiles {
		byProfile = append(byProfile, g.Items)
	}
	assertPartition(t, items, byProfile)
	assert.Len(t, profiles, 4)

	classes := s.ItemsByAntibodyClass()
	require.Len(t, classes, 2)
	assert.Equal(t, "Class 1", classes[0].Class)
	assert.Len(t, classes[0].Items, 2)
	assert.Equal(t, "Class 2", classes[1].Class)
}

func TestGroupingFilters(t *testing.T) {
	f := newFixture(t)
	items := []*susc.Match{
		f.match(susc.Equal, 0, 0, ab("I0", "AB3")),
		f.match(susc.Equal, 0, 0, cp("I0", fold(1), 1)),
		f.match(susc.Equal, 0, 0, vp("I0", "BNT162b2", 1)),
		f.match(susc.Equal, 0, 0, vp("I1", "mRNA-1273", 2)),
		f.match(susc.Superset, 1, 0, vp("I2", "BNT162b2", 1)),
	}
	s := New(items, mutation.Set{}, "", f.norm)

	assert.Empty(t, s.ItemsByAntibody(), "hidden antibodies are not grouped")
	assert.Empty(t, s.ItemsByAntibodyClass())

	vaccines := s.ItemsByVaccine()
	require.Len(t, vaccines, 2)
	assert.Equal(t, "BNT162b2", vaccines[0].VaccineName)
	assert.Equal(t, 1, vaccines[0].Priority)
	assert.Equal(t, "mRNA", vaccines[0].Type)
	assert.Len(t, vaccines[0].Items, 2)
	assert.Equal(t, "mRNA-1273", vaccines[1].VaccineName)
}

func TestProfileGroup(t *testing.T) {
	f := newFixture(t)
	query := mutation.NewSet(mutation.New("S", 400, 'A', "K"), mutation.New("S", 501, 'N', "Y"))
	items := []*susc.Match{
		f.match(susc.Subset, 0, 1, cp("I0", fold(1), 1)),
		f.match(susc.Subset, 0, 1, cp("I0", fold(4), 2)),
		f.match(susc.Overlap, 1, 2, cp("I5", fold(4), 2)),
	}
	s := New(items, query, "", f.norm)
	profiles, err := s.ItemsByMutationProfile()
	require.NoError(t, err)
	require.Len(t, profiles, 2)

	g := profiles[0]
	assert.Equal(t, "S:400:K", g.Mutations.Key(), "D614G is not displayed")
	assert.Equal(t, susc.Subset, g.MatchType())
	assert.Equal(t, 1, g.NumDiff())
	assert.Equal(t, 3, g.CumulativeCount())
	require.NotNil(t, g.Variant)
	assert.Equal(t, "Alpha", g.Variant.Name)
	assert.Len(t, g.HitIsolates(), 1)
	assert.Equal(t, "S:400:K", g.HitMutations().Key())

	extra, ok := g.VariantExtraMutations()
	require.True(t, ok)
	assert.True(t, extra.IsEmpty())
	missing, _ := g.VariantMissingMutations()
	assert.Equal(t, "S:501:Y", missing.Key())
	matching, _ := g.VariantMatchingMutations()
	assert.Equal(t, "S:400:K", matching.Key())

	_, ok = profiles[1].VariantExtraMutations()
	assert.False(t, ok, "I5 has no variant")
	assert.Nil(t, profiles[1].Variant)
}

func TestItemsByVariantOrMutations(t *testing.T) {
	f := newFixture(t)
	query := mutation.NewSet(mutation.New("S", 400, 'A', "K"))
	// I0 and I1 are both Alpha but carry different mutations.
	items := []*susc.Match{
		f.match(susc.Overlap, 1, 1, cp("I5", fold(2), 1)),
		f.match(susc.Subset, 0, 1, cp("I1", fold(8), 1)),
		f.match(susc.Equal, 0, 0, cp("I0", fold(4), 1)),
	}
	s := New(items, query, "", f.norm)

	byProfile, err := s.ItemsByMutationProfile()
	require.NoError(t, err)
	assert.Len(t, byProfile, 3)

	groups := s.ItemsByVariantOrMutations()
	require.Len(t, groups, 2)
	var partition [][]*susc.Match
	for _, g := range groups {
		partition = append(partition, g.Items)
	}
	assertPartition(t, items, partition)

	alpha := groups[0]
	require.NotNil(t, alpha.Variant)
	assert.Equal(t, "Alpha", alpha.Variant.Name)
	assert.Equal(t, "S:400:K+S:401:K", alpha.Mutations.Key(), "union of isolate mutations without D614G")
	assert.Equal(t, "S:400:K", alpha.Comparable.Key())
	assert.Equal(t, susc.Equal, alpha.MatchType())
	assert.Equal(t, 0, alpha.NumDiff())
	assert.Len(t, alpha.HitIsolates(), 2)
	extra, ok := alpha.VariantExtraMutations()
	require.True(t, ok)
	assert.Equal(t, "S:401:K", extra.Key())

	other := groups[1]
	assert.Nil(t, other.Variant)
	assert.Equal(t, "S:405:K", other.Mutations.Key())

	ranked := RankProfiles(groups)
	require.Len(t, ranked, 2)
	assert.Equal(t, "Alpha", ranked[0].Variant.Name)
	assert.Equal(t, Default, ranked[0].Priority)
}

func TestReferences(t *testing.T) {
	f := newFixture(t)
	rec := cp("I1", fold(1), 1)
	rec.RefName = "Ref2"
	s := New([]*susc.Match{
		f.match(susc.Equal, 0, 0, cp("I0", fold(1), 1)),
		f.match(susc.Equal, 0, 0, rec),
		f.match(susc.Equal, 0, 0, cp("I0", fold(1), 1)),
	}, mutation.Set{}, "", f.norm)

	refs := s.References()
	require.Len(t, refs, 2)
	assert.Equal(t, "Ref1", refs[0].RefName)
	assert.Equal(t, "Ref2", refs[1].RefName)
}

// profiles builds one profile group per spec of (isolate index, type, diff).
func profiles(t *testing.T, f *fixture, specs ...profileSpec) []*ProfileGroup {
	t.Helper()
	var items []*susc.Match
	for _, sp := range specs {
		isoOnly, queryOnly := 0, sp.diff
		switch sp.typ {
		case susc.Superset:
			isoOnly, queryOnly = sp.diff, 0
		case susc.Overlap:
			isoOnly, queryOnly = 1, sp.diff-1
		}
		items = append(items, f.match(sp.typ, isoOnly, queryOnly, cp(fmt.Sprintf("I%d", sp.iso), fold(1), 1)))
	}
	groups, err := New(items, mutation.Set{}, "", f.norm).ItemsByMutationProfile()
	require.NoError(t, err)
	require.Len(t, groups, len(specs))
	return groups
}

type profileSpec struct {
	iso  int
	typ  susc.MatchType
	diff int
}

// describe renders ranked profiles as isolate:priority.
func describe(ranked []*RankedProfile) []string {
	out := make([]string, len(ranked))
	for i, r := range ranked {
		out[i] = fmt.Sprintf("%s:%s", r.HitIsolates()[0].Name, r.Priority)
	}
	return out
}

func TestRankProfiles(t *testing.T) {
	tests := []struct {
		name  string
		specs []profileSpec
		want  []string
	}{
		{
			name: "default and two expandable types",
			specs: []profileSpec{
				{0, susc.Equal, 0},
				{1, susc.Superset, 2},
				{2, susc.Superset, 1},
				{3, susc.Subset, 3},
				{4, susc.Overlap, 2},
			},
			want: []string{"I0:default", "I2:collapsed", "I1:collapsed", "I3:collapsed", "I4:hidden"},
		},
		{
			name: "overlap no better than worst subset is hidden",
			specs: []profileSpec{
				{0, susc.Subset, 2},
				{1, susc.Overlap, 2},
				{2, susc.Overlap, 3},
			},
			want: []string{"I0:default", "I1:hidden", "I2:hidden"},
		},
		{
			name: "better overlap becomes default",
			specs: []profileSpec{
				{0, susc.Subset, 3},
				{1, susc.Subset, 5},
				{2, susc.Overlap, 2},
				{3, susc.Overlap, 4},
			},
			want: []string{"I2:default", "I0:collapsed", "I3:collapsed", "I1:collapsed"},
		},
		{
			name: "wide subsets are tightened",
			specs: []profileSpec{
				{0, susc.Subset, 1},
				{1, susc.Subset, 6},
				{2, susc.Subset, 1},
			},
			want: []string{"I0:default", "I2:default", "I1:collapsed"},
		},
		{
			name: "narrow subsets stay default",
			specs: []profileSpec{
				{0, susc.Subset, 1},
				{1, susc.Subset, 4},
			},
			want: []string{"I0:default", "I1:default"},
		},
		{
			name: "overlaps without subsets are hidden",
			specs: []profileSpec{
				{0, susc.Overlap, 2},
				{1, susc.Overlap, 3},
			},
			want: []string{"I0:hidden", "I1:hidden"},
		},
		{
			name: "profiles over the cap are hidden",
			specs: []profileSpec{
				{0, susc.Superset, MaxNumMiss + 1},
				{1, susc.Superset, 2},
			},
			want: []string{"I1:default", "I0:hidden"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			got := RankProfiles(profiles(t, f, tt.specs...))
			assert.Equal(t, tt.want, describe(got))
		})
	}
}

func TestRankProfilesDeterministic(t *testing.T) {
	f := newFixture(t)
	groups := profiles(t, f,
		profileSpec{0, susc.Equal, 0},
		profileSpec{1, susc.Superset, 1},
		profileSpec{2, susc.Superset, 1},
		profileSpec{3, susc.Subset, 1},
		profileSpec{4, susc.Subset, 6},
		profileSpec{5, susc.Overlap, 2},
		profileSpec{6, susc.Overlap, 2},
		profileSpec{7, susc.Overlap, 9},
	)
	want := describe(RankProfiles(groups))

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 20; i++ {
		shuffled := append([]*ProfileGroup(nil), groups...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		assert.Equal(t, want, describe(RankProfiles(shuffled)))
	}
}

func TestPriority(t *testing.T) {
	order, ok := Collapsed.DisplayOrder()
	assert.True(t, ok)
	assert.Equal(t, 1, order)
	_, ok = Hidden.DisplayOrder()
	assert.False(t, ok)
	assert.Equal(t, "default", Default.String())
	assert.Nil(t, RankProfiles(nil))
}
