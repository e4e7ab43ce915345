package summary

import (
	"fmt"

	"github.com/hivdb/susc-match/internal/drdb"
	"github.com/hivdb/susc-match/internal/mutation"
	"github.com/hivdb/susc-match/internal/susc"
)

// AntibodyGroup holds results of one antibody combination.
type AntibodyGroup struct {
	Antibodies []*drdb.Antibody
	*Summary
}

// AntibodyClassGroup holds single-antibody results of one structural class.
type AntibodyClassGroup struct {
	Class string
	*Summary
}

// ResistLevelGroup holds results of one resistance level.
type ResistLevelGroup struct {
	Level string
	*Summary
}

// VaccineGroup holds vaccinee plasma results of one vaccine.
type VaccineGroup struct {
	VaccineName string
	Priority    int
	Type        string
	*Summary
}

// ProfileGroup holds results grouped by comparable mutation set, or by
// variant for ItemsByVariantOrMutations.
type ProfileGroup struct {
	// Mutations are the isolates' actual mutations minus exclusions, so a
	// partially covered deletion range shows only observed residues.
	Mutations  mutation.Set
	Comparable mutation.Set  // Comparable set of the best item
	Variant    *drdb.Variant // Set when every isolate belongs to one variant
	*Summary
}

// profileKey is the variant when the isolate has one, otherwise its
// comparable mutation set.
type profileKey struct {
	variant *drdb.Variant
	muts    string
}

// groupBy partitions items in first-appearance order. Items for which key
// returns false are left out.
func groupBy[K comparable](items []*susc.Match, key func(*susc.Match) (K, bool)) ([]K, map[K][]*susc.Match) {
	var keys []K
	groups := make(map[K][]*susc.Match)
	for _, m := range items {
		k, ok := key(m)
		if !ok {
			continue
		}
		if _, seen := groups[k]; !seen {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], m)
	}
	return keys, groups
}

func (s *Summary) groupByAntibody() []*AntibodyGroup {
	keys, groups := groupBy(s.Items, func(m *susc.Match) (string, bool) {
		p, ok := m.Payload.(susc.AntibodyPayload)
		if !ok || !p.AllVisible() {
			return "", false
		}
		return p.AntibodyKey(), true
	})
	out := make([]*AntibodyGroup, len(keys))
	for i, k := range keys {
		items := groups[k]
		out[i] = &AntibodyGroup{Antibodies: items[0].Antibodies(), Summary: s.sub(items)}
	}
	return out
}

func (s *Summary) groupByAntibodyClass() []*AntibodyClassGroup {
	keys, groups := groupBy(s.Items, func(m *susc.Match) (string, bool) {
		abs := m.Antibodies()
		if len(abs) != 1 || abs[0].Class == "" {
			return "", false
		}
		return abs[0].Class, true
	})
	out := make([]*AntibodyClassGroup, len(keys))
	for i, k := range keys {
		out[i] = &AntibodyClassGroup{Class: k, Summary: s.sub(groups[k])}
	}
	return out
}

func (s *Summary) groupByResistLevel() []*ResistLevelGroup {
	keys, groups := groupBy(s.Items, func(m *susc.Match) (string, bool) {
		return m.ResistanceLevel(), true
	})
	out := make([]*ResistLevelGroup, len(keys))
	for i, k := range keys {
		out[i] = &ResistLevelGroup{Level: k, Summary: s.sub(groups[k])}
	}
	return out
}

func (s *Summary) groupByVaccine() []*VaccineGroup {
	keys, groups := groupBy(s.Items, func(m *susc.Match) (string, bool) {
		switch p := m.Payload.(type) {
		case susc.VaccinePayload:
			return p.VaccineName, true
		case susc.AntibodyPayload, susc.ConvPlasmaPayload:
			return "", false
		}
		return "", false
	})
	out := make([]*VaccineGroup, len(keys))
	for i, k := range keys {
		items := groups[k]
		p := items[0].Payload.(susc.VaccinePayload)
		out[i] = &VaccineGroup{
			VaccineName: k,
			Priority:    p.Priority,
			Type:        p.Type,
			Summary:     s.sub(items),
		}
	}
	return out
}

// displayedMutations unions the isolates' actual mutations, minus exclusions.
func (s *Summary) displayedMutations(items []*susc.Match) mutation.Set {
	var splits []mutation.Mutation
	for _, m := range items {
		splits = append(splits, m.Isolate.Mutations.Splitted()...)
	}
	return s.normalizer.Displayable(mutation.NewSet(splits...))
}

func (s *Summary) groupByProfile() ([]*ProfileGroup, error) {
	keys, groups := groupBy(s.Items, func(m *susc.Match) (string, bool) {
		return m.ComparableMutations().Key(), true
	})
	out := make([]*ProfileGroup, len(keys))
	displayed := make(map[string]string, len(keys))
	for i, k := range keys {
		items := groups[k]

		variant := items[0].Variant
		for _, m := range items {
			if m.Variant != variant {
				variant = nil
			}
		}
		muts := s.displayedMutations(items)

		if other, dup := displayed[muts.Key()]; dup {
			return nil, &drdb.DataIntegrityError{
				Table:  "isolate_mutations",
				Record: muts.String(),
				Field:  "mutations",
				Err:    fmt.Errorf("profiles %q and %q display the same mutations", other, k),
			}
		}
		displayed[muts.Key()] = k

		out[i] = &ProfileGroup{
			Mutations:  muts,
			Comparable: items[0].ComparableMutations(),
			Variant:    variant,
			Summary:    s.sub(items),
		}
	}
	return out, nil
}

func (s *Summary) groupByVariantOrMutations() []*ProfileGroup {
	keys, groups := groupBy(s.Items, func(m *susc.Match) (profileKey, bool) {
		if m.Variant != nil {
			return profileKey{variant: m.Variant}, true
		}
		return profileKey{muts: m.ComparableMutations().Key()}, true
	})
	out := make([]*ProfileGroup, len(keys))
	for i, k := range keys {
		items := groups[k]
		out[i] = &ProfileGroup{
			Mutations:  s.displayedMutations(items),
			Comparable: items[0].ComparableMutations(),
			Variant:    k.variant,
			Summary:    s.sub(items),
		}
	}
	return out
}

func (g *ProfileGroup) variantName() string {
	if g.Variant == nil {
		return ""
	}
	return g.Variant.Name
}

// MatchType returns the match type of the best item.
func (g *ProfileGroup) MatchType() susc.MatchType {
	return g.Items[0].Type
}

// NumDiff returns the smallest total difference among the items.
func (g *ProfileGroup) NumDiff() int {
	n := g.Items[0].NumDiff()
	for _, m := range g.Items[1:] {
		n = min(n, m.NumDiff())
	}
	return n
}

// HitIsolates returns the distinct isolates of the group in item order.
func (g *ProfileGroup) HitIsolates() []*drdb.Isolate {
	seen := make(map[*drdb.Isolate]bool)
	var out []*drdb.Isolate
	for _, m := range g.Items {
		if !seen[m.Isolate] {
			seen[m.Isolate] = true
			out = append(out, m.Isolate)
		}
	}
	return out
}

// HitMutations returns the query mutations the group carries.
func (g *ProfileGroup) HitMutations() mutation.Set {
	return g.Query.Intersect(g.Mutations)
}

func (g *ProfileGroup) sequencedQuery() mutation.Set {
	return g.Query.FilterBy(func(m mutation.Mutation) bool {
		return !m.Unsequenced && g.normalizer.Genes[m.Gene]
	})
}

// VariantExtraMutations returns the group's mutations missing from the
// query. The bool is false when the group has no variant.
func (g *ProfileGroup) VariantExtraMutations() (mutation.Set, bool) {
	if g.Variant == nil {
		return mutation.Set{}, false
	}
	muts := g.Mutations.FilterBy(func(m mutation.Mutation) bool { return g.normalizer.Genes[m.Gene] })
	return g.normalizer.Displayable(muts.Subtract(g.sequencedQuery())), true
}

// VariantMissingMutations returns the query mutations the group lacks.
func (g *ProfileGroup) VariantMissingMutations() (mutation.Set, bool) {
	if g.Variant == nil {
		return mutation.Set{}, false
	}
	return g.normalizer.Displayable(g.sequencedQuery().Subtract(g.Mutations)), true
}

// VariantMatchingMutations returns the query mutations the group shares.
func (g *ProfileGroup) VariantMatchingMutations() (mutation.Set, bool) {
	if g.Variant == nil {
		return mutation.Set{}, false
	}
	return g.normalizer.Displayable(g.sequencedQuery().Intersect(g.Mutations)), true
}
