package mutation

import (
	"sort"
	"strconv"
	"strings"
)

// Set is an ordered collection with at most one Mutation per gene position.
// The zero value is an empty set. A Set is never modified after construction.
//
// Set algebra is defined over split mutations (one residue each); results are
// collapsed back so every position carries one, possibly mixed, mutation.
type Set struct {
	muts []Mutation
}

// NewSet builds a canonical set. Mutations at the same position are merged
// into a mixture.
func NewSet(muts ...Mutation) Set {
	var splits []Mutation
	for _, m := range muts {
		splits = append(splits, m.Split()...)
	}
	return collapse(splits)
}

// collapse merges single-residue mutations into one mutation per position.
func collapse(splits []Mutation) Set {
	if len(splits) == 0 {
		return Set{}
	}
	sorted := make([]Mutation, len(splits))
	copy(sorted, splits)
	sort.Slice(sorted, func(i, j int) bool { return Compare(sorted[i], sorted[j]) < 0 })

	var out []Mutation
	for _, m := range sorted {
		if n := len(out); n > 0 && out[n-1].Gene == m.Gene && out[n-1].Position == m.Position {
			last := &out[n-1]
			if !strings.Contains(last.AAs, m.AAs) {
				last.AAs = normalizeAAs(last.AAs + m.AAs)
			}
			if last.Ref == 0 {
				last.Ref = m.Ref
			}
			last.Unsequenced = last.Unsequenced || m.Unsequenced
			continue
		}
		out = append(out, m)
	}
	return Set{muts: out}
}

// Len returns the number of positions in the set.
func (s Set) Len() int { return len(s.muts) }

// IsEmpty returns true if the set has no mutations.
func (s Set) IsEmpty() bool { return len(s.muts) == 0 }

// Mutations returns a copy of the mutations in canonical order.
func (s Set) Mutations() []Mutation {
	out := make([]Mutation, len(s.muts))
	copy(out, s.muts)
	return out
}

// Splitted returns every mixture expanded into single-residue mutations.
func (s Set) Splitted() []Mutation {
	out := make([]Mutation, 0, len(s.muts))
	for _, m := range s.muts {
		out = append(out, m.Split()...)
	}
	return out
}

// SplitLen returns len(s.Splitted()) without allocating.
func (s Set) SplitLen() int {
	n := 0
	for _, m := range s.muts {
		n += len(m.AAs)
	}
	return n
}

func (s Set) splitKeys() map[Key]struct{} {
	keys := make(map[Key]struct{}, s.SplitLen())
	for _, m := range s.Splitted() {
		keys[m.Key()] = struct{}{}
	}
	return keys
}

// Subtract removes every split mutation present in o.
func (s Set) Subtract(o Set) Set {
	drop := o.splitKeys()
	var keep []Mutation
	for _, m := range s.Splitted() {
		if _, ok := drop[m.Key()]; !ok {
			keep = append(keep, m)
		}
	}
	return collapse(keep)
}

// Intersect keeps the split mutations present in both sets.
func (s Set) Intersect(o Set) Set {
	other := o.splitKeys()
	var keep []Mutation
	for _, m := range s.Splitted() {
		if _, ok := other[m.Key()]; ok {
			keep = append(keep, m)
		}
	}
	return collapse(keep)
}

// Merge returns the union of both sets.
func (s Set) Merge(o Set) Set {
	all := s.Splitted()
	all = append(all, o.Splitted()...)
	return collapse(all)
}

// FilterBy returns the mutations satisfying pred.
func (s Set) FilterBy(pred func(Mutation) bool) Set {
	var keep []Mutation
	for _, m := range s.muts {
		if pred(m) {
			keep = append(keep, m)
		}
	}
	return Set{muts: keep}
}

// Positions returns the gene positions touched by the set, in order.
func (s Set) Positions() []GenePosition {
	out := make([]GenePosition, len(s.muts))
	for i, m := range s.muts {
		out[i] = m.GenePosition()
	}
	return out
}

// HasSharedAA returns true if any mutation in the set shares a residue with m.
func (s Set) HasSharedAA(m Mutation) bool {
	i := sort.Search(len(s.muts), func(i int) bool {
		x := s.muts[i]
		if x.Gene != m.Gene {
			return x.Gene > m.Gene
		}
		return x.Position >= m.Position
	})
	return i < len(s.muts) && s.muts[i].SharesAA(m)
}

// Equal compares two sets by identity of their mutations.
func (s Set) Equal(o Set) bool {
	return s.Compare(o) == 0
}

// Compare orders sets lexicographically by their canonical mutations.
func (s Set) Compare(o Set) int {
	n := min(len(s.muts), len(o.muts))
	for i := 0; i < n; i++ {
		if c := Compare(s.muts[i], o.muts[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(s.muts) < len(o.muts):
		return -1
	case len(s.muts) > len(o.muts):
		return 1
	}
	return 0
}

// Key returns a canonical string for the set. Equal sets have equal keys.
func (s Set) Key() string {
	var sb strings.Builder
	for i, m := range s.muts {
		if i > 0 {
			sb.WriteByte('+')
		}
		sb.WriteString(m.Gene)
		sb.WriteByte(':')
		sb.WriteString(strconv.Itoa(m.Position))
		sb.WriteByte(':')
		sb.WriteString(m.AAs)
	}
	return sb.String()
}

// String formats the set as comma-separated mutations.
func (s Set) String() string {
	parts := make([]string, len(s.muts))
	for i, m := range s.muts {
		parts[i] = m.String()
	}
	return strings.Join(parts, ", ")
}
