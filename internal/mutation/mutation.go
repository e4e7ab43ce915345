// Package mutation provides amino acid mutations and canonical mutation sets.
package mutation

import (
	"fmt"
	"sort"
	"strings"
)

// Special residue codes.
const (
	Deletion  = '-'
	Insertion = '_'
	Stop      = '*'
)

// Mutation is a change observed at one gene position. AAs may hold more than
// one residue, in which case the mutation is a mixture.
type Mutation struct {
	Gene        string // Gene name (e.g., S)
	Position    int    // 1-based amino acid position
	Ref         byte   // Reference residue, 0 if unknown
	AAs         string // Observed residues, sorted and de-duplicated
	Unsequenced bool   // Reported from an unsequenced region
}

// Key identifies a mutation independently of its annotations.
type Key struct {
	Gene     string
	Position int
	AAs      string
}

// GenePosition is a (gene, position) pair.
type GenePosition struct {
	Gene     string
	Position int
}

// New creates a mutation. Residues are sorted and de-duplicated.
func New(gene string, pos int, ref byte, aas string) Mutation {
	return Mutation{Gene: gene, Position: pos, Ref: ref, AAs: normalizeAAs(aas)}
}

func normalizeAAs(aas string) string {
	if len(aas) <= 1 {
		return aas
	}
	b := []byte(aas)
	sort.Slice(b, func(i, j int) bool { return b[i] < b[j] })
	out := b[:1]
	for _, c := range b[1:] {
		if c != out[len(out)-1] {
			out = append(out, c)
		}
	}
	return string(out)
}

// Key returns the identity of the mutation.
func (m Mutation) Key() Key {
	return Key{Gene: m.Gene, Position: m.Position, AAs: m.AAs}
}

// GenePosition returns the position the mutation sits at.
func (m Mutation) GenePosition() GenePosition {
	return GenePosition{Gene: m.Gene, Position: m.Position}
}

// IsDeletion returns true if any observed residue is a deletion.
func (m Mutation) IsDeletion() bool {
	return strings.IndexByte(m.AAs, Deletion) >= 0
}

// IsInsertion returns true if any observed residue is an insertion.
func (m Mutation) IsInsertion() bool {
	return strings.IndexByte(m.AAs, Insertion) >= 0
}

// IsMixture returns true if more than one residue was observed.
func (m Mutation) IsMixture() bool {
	return len(m.AAs) > 1
}

// Split returns one single-residue mutation per observed residue.
func (m Mutation) Split() []Mutation {
	if len(m.AAs) <= 1 {
		return []Mutation{m}
	}
	out := make([]Mutation, len(m.AAs))
	for i := 0; i < len(m.AAs); i++ {
		sm := m
		sm.AAs = m.AAs[i : i+1]
		out[i] = sm
	}
	return out
}

// AAsWithoutReference returns the observed residues minus the reference residue.
func (m Mutation) AAsWithoutReference() string {
	if m.Ref == 0 {
		return m.AAs
	}
	return strings.ReplaceAll(m.AAs, string(m.Ref), "")
}

// SharesAA returns true if both mutations sit at the same position and have
// at least one observed residue in common.
func (m Mutation) SharesAA(o Mutation) bool {
	if m.Gene != o.Gene || m.Position != o.Position {
		return false
	}
	return strings.ContainsAny(m.AAs, o.AAs)
}

// Equal compares identity, ignoring annotations.
func (m Mutation) Equal(o Mutation) bool {
	return m.Key() == o.Key()
}

// Compare orders mutations by gene, position, then residues.
func Compare(a, b Mutation) int {
	if a.Gene != b.Gene {
		return strings.Compare(a.Gene, b.Gene)
	}
	if a.Position != b.Position {
		if a.Position < b.Position {
			return -1
		}
		return 1
	}
	return strings.Compare(a.AAs, b.AAs)
}

// String formats the mutation as e.g. S:E484K, S:H69del or S:214ins.
func (m Mutation) String() string {
	var sb strings.Builder
	sb.WriteString(m.Gene)
	sb.WriteByte(':')
	if m.Ref != 0 {
		sb.WriteByte(m.Ref)
	}
	fmt.Fprintf(&sb, "%d", m.Position)
	switch m.AAs {
	case string(Deletion):
		sb.WriteString("del")
	case string(Insertion):
		sb.WriteString("ins")
	default:
		sb.WriteString(m.AAs)
	}
	return sb.String()
}
