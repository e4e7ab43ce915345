// Package drdb loads versioned resistance database snapshots: articles,
// variants, isolates, antibodies and susceptibility results.
package drdb

import "github.com/hivdb/susc-match/internal/mutation"

// Family identifies the kind of treatment a susceptibility result describes.
type Family int

const (
	FamilyAntibody Family = iota
	FamilyConvPlasma
	FamilyVaccPlasma
)

// Families lists every family in display order.
var Families = []Family{FamilyAntibody, FamilyConvPlasma, FamilyVaccPlasma}

// String returns the name used on the command line and in exports.
func (f Family) String() string {
	switch f {
	case FamilyAntibody:
		return "antibody"
	case FamilyConvPlasma:
		return "conv-plasma"
	case FamilyVaccPlasma:
		return "vacc-plasma"
	}
	return "unknown"
}

// ParseFamily is the inverse of Family.String.
func ParseFamily(s string) (Family, bool) {
	for _, f := range Families {
		if f.String() == s {
			return f, true
		}
	}
	return 0, false
}

// Article is a published reference.
type Article struct {
	RefName     string
	DOI         string
	URL         string
	FirstAuthor string
	Year        int
}

// Variant is a named virus lineage.
type Variant struct {
	Name       string
	AsWildtype bool // Treated as the reference strain
}

// Isolate is an experimentally tested virus with a fixed mutation profile.
type Isolate struct {
	Name      string
	VarName   string // Parent variant, empty if none
	Mutations mutation.Set
}

// Antibody is a monoclonal antibody.
type Antibody struct {
	Name         string
	AbbrName     string
	Availability string
	Priority     int
	Visible      bool
	Target       string
	Class        string // Structural class, empty if unknown
	Synonyms     []string
}

// IsPhaseIII returns true for antibodies in phase 3 trials.
func (a *Antibody) IsPhaseIII() bool {
	return a.Availability == "Phase 3"
}

// SuscRecord is one raw row of experimental evidence as stored in a snapshot.
// Names are resolved against the other collections by the caller.
type SuscRecord struct {
	Family          Family
	RefName         string
	RxName          string
	ControlIsoName  string
	IsoName         string
	AssayName       string
	Section         string
	FoldCmp         string   // One of <, >, ~, =
	Fold            *float64 // nil if not reported
	FallbackLevel   string   // Curator-supplied resistance level, empty if none
	Ineffective     string   // control, experimental, both, or empty
	CumulativeCount int

	AbNames         []string // antibody family
	InfectedVarName string   // conv-plasma family
	CumulativeGroup string   // plasma families
	VaccineName     string   // vacc-plasma family
	VaccinePriority int      // vacc-plasma family
	VaccineType     string   // vacc-plasma family
}
