// Package susc classifies stored susceptibility results against a query
// mutation set.
package susc

import (
	"github.com/hivdb/susc-match/internal/mutation"
)

// SpikeGene is the only gene resistance testing currently covers.
const SpikeGene = "S"

// Normalizer reduces a mutation set to the form used for matching.
type Normalizer struct {
	Genes          map[string]bool
	References     map[string]string // Reference protein per gene
	Exclusions     mutation.Set      // Background mutations that never count
	RangeDeletions []mutation.Set    // Deletion ranges tested as one unit
}

// DefaultNormalizer returns the spike normalizer: D614G is excluded and
// deletions at 69-70, 141-146 and 242-244 are treated as ranges.
func DefaultNormalizer() *Normalizer {
	return &Normalizer{
		Genes:      map[string]bool{SpikeGene: true},
		References: map[string]string{SpikeGene: SpikeReference},
		Exclusions: mutation.NewSet(mutation.New(SpikeGene, 614, 'D', "G")),
		RangeDeletions: []mutation.Set{
			deletionRange(SpikeGene, 69, "HV"),
			deletionRange(SpikeGene, 141, "LGVYYH"),
			deletionRange(SpikeGene, 242, "LAL"),
		},
	}
}

// deletionRange builds deletions starting at start, one per reference residue.
func deletionRange(gene string, start int, refs string) mutation.Set {
	muts := make([]mutation.Mutation, len(refs))
	for i := 0; i < len(refs); i++ {
		muts[i] = mutation.New(gene, start+i, refs[i], string(mutation.Deletion))
	}
	return mutation.NewSet(muts...)
}

// RefAA returns the reference residue at a gene position, or 0 when the
// gene has no reference or the position is out of range.
func (n *Normalizer) RefAA(gene string, pos int) byte {
	ref := n.References[gene]
	if pos < 1 || pos > len(ref) {
		return 0
	}
	return ref[pos-1]
}

// WithReference fills in the reference residue of every mutation that has
// none.
func (n *Normalizer) WithReference(s mutation.Set) mutation.Set {
	muts := s.Mutations()
	changed := false
	for i, m := range muts {
		if m.Ref != 0 {
			continue
		}
		if ref := n.RefAA(m.Gene, m.Position); ref != 0 {
			muts[i].Ref = ref
			changed = true
		}
	}
	if !changed {
		return s
	}
	return mutation.NewSet(muts...)
}

// Comparable returns the comparable mutation set of s. It is idempotent:
// Comparable(Comparable(s)) equals Comparable(s).
func (n *Normalizer) Comparable(s mutation.Set) mutation.Set {
	s = n.WithReference(s.FilterBy(func(m mutation.Mutation) bool {
		return !m.Unsequenced && n.Genes[m.Gene]
	}))
	s = s.Subtract(n.Exclusions)

	for _, rng := range n.RangeDeletions {
		if !s.Intersect(rng).IsEmpty() {
			s = s.Merge(rng)
		}
	}

	var keep []mutation.Mutation
	for _, m := range s.Splitted() {
		if m.AAsWithoutReference() != "" {
			keep = append(keep, m)
		}
	}
	return mutation.NewSet(keep...)
}

// Displayable returns the mutations of s that are shown to users: the
// isolate's actual mutations minus the exclusion list.
func (n *Normalizer) Displayable(s mutation.Set) mutation.Set {
	return n.WithReference(s.Subtract(n.Exclusions))
}
