// Package summary aggregates classified results into grouped views with
// cumulative statistics, and ranks mutation profile groups for display.
package summary

import (
	"cmp"
	"slices"
	"sync"

	"github.com/hivdb/susc-match/internal/drdb"
	"github.com/hivdb/susc-match/internal/mutation"
	"github.com/hivdb/susc-match/internal/susc"
)

// Summary is a sorted list of matches for one query with memoized groupings.
// Every grouping is itself made of Summaries.
type Summary struct {
	Items      []*susc.Match
	Query      mutation.Set
	LastUpdate string

	normalizer *susc.Normalizer

	cumulativeCount      func() int
	cumulativeFold       func() FoldStats
	references           func() []*drdb.Article
	itemsByAntibody      func() []*AntibodyGroup
	itemsByAntibodyClass func() []*AntibodyClassGroup
	itemsByResistLevel   func() []*ResistLevelGroup
	itemsByVaccine       func() []*VaccineGroup
	itemsByProfile       func() ([]*ProfileGroup, error)
	itemsByVarOrMuts     func() []*ProfileGroup
}

// New sorts items and wraps them in a Summary. items is not modified.
func New(items []*susc.Match, query mutation.Set, lastUpdate string, n *susc.Normalizer) *Summary {
	sorted := slices.Clone(items)
	slices.SortStableFunc(sorted, compareMatches)
	return newSorted(sorted, query, lastUpdate, n)
}

func newSorted(items []*susc.Match, query mutation.Set, lastUpdate string, n *susc.Normalizer) *Summary {
	s := &Summary{
		Items:      items,
		Query:      query,
		LastUpdate: lastUpdate,
		normalizer: n,
	}
	s.cumulativeCount = sync.OnceValue(func() int {
		total := 0
		for _, m := range s.Items {
			total += m.CumulativeCount
		}
		return total
	})
	s.cumulativeFold = sync.OnceValue(func() FoldStats { return computeFoldStats(s.Items) })
	s.references = sync.OnceValue(s.groupReferences)
	s.itemsByAntibody = sync.OnceValue(s.groupByAntibody)
	s.itemsByAntibodyClass = sync.OnceValue(s.groupByAntibodyClass)
	s.itemsByResistLevel = sync.OnceValue(s.groupByResistLevel)
	s.itemsByVaccine = sync.OnceValue(s.groupByVaccine)
	s.itemsByProfile = sync.OnceValues(s.groupByProfile)
	s.itemsByVarOrMuts = sync.OnceValue(s.groupByVariantOrMutations)
	return s
}

// compareMatches orders by match type, total difference, isolate-only and
// query-only counts, comparable mutations, then load order.
func compareMatches(a, b *susc.Match) int {
	if c := cmp.Compare(a.Type, b.Type); c != 0 {
		return c
	}
	if c := cmp.Compare(a.NumDiff(), b.NumDiff()); c != 0 {
		return c
	}
	if c := cmp.Compare(a.NumIsolateOnly, b.NumIsolateOnly); c != 0 {
		return c
	}
	if c := cmp.Compare(a.NumQueryOnly, b.NumQueryOnly); c != 0 {
		return c
	}
	if c := a.ComparableMutations().Compare(b.ComparableMutations()); c != 0 {
		return c
	}
	return cmp.Compare(a.Seq, b.Seq)
}

// CumulativeCount returns the sum of cumulative counts.
func (s *Summary) CumulativeCount() int { return s.cumulativeCount() }

// CumulativeFold returns weighted fold change statistics.
func (s *Summary) CumulativeFold() FoldStats { return s.cumulativeFold() }

// References returns the distinct articles cited by the items, in item order.
func (s *Summary) References() []*drdb.Article { return s.references() }

// ItemsByAntibody groups antibody results whose antibodies are all visible.
func (s *Summary) ItemsByAntibody() []*AntibodyGroup { return s.itemsByAntibody() }

// ItemsByAntibodyClass groups single-antibody results with a known class.
func (s *Summary) ItemsByAntibodyClass() []*AntibodyClassGroup { return s.itemsByAntibodyClass() }

// ItemsByResistLevel groups results by resistance level.
func (s *Summary) ItemsByResistLevel() []*ResistLevelGroup { return s.itemsByResistLevel() }

// ItemsByVaccine groups vaccinee plasma results by vaccine.
func (s *Summary) ItemsByVaccine() []*VaccineGroup { return s.itemsByVaccine() }

// ItemsByMutationProfile groups results by comparable mutation set.
func (s *Summary) ItemsByMutationProfile() ([]*ProfileGroup, error) { return s.itemsByProfile() }

// ItemsByVariantOrMutations groups results by the isolate's variant, or by
// comparable mutation set when the isolate has none. These are the groups
// RankProfiles orders for display.
func (s *Summary) ItemsByVariantOrMutations() []*ProfileGroup { return s.itemsByVarOrMuts() }

// sub builds a child summary over a subsequence of the sorted items.
func (s *Summary) sub(items []*susc.Match) *Summary {
	return newSorted(items, s.Query, s.LastUpdate, s.normalizer)
}

func (s *Summary) groupReferences() []*drdb.Article {
	seen := make(map[*drdb.Article]bool)
	var refs []*drdb.Article
	for _, m := range s.Items {
		if !seen[m.Reference] {
			seen[m.Reference] = true
			refs = append(refs, m.Reference)
		}
	}
	return refs
}
