package susc

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hivdb/susc-match/internal/drdb"
	"github.com/hivdb/susc-match/internal/mutation"
)

// Catalog holds the named records of one snapshot version.
type Catalog struct {
	Articles   map[string]*drdb.Article
	Variants   map[string]*drdb.Variant
	Isolates   map[string]*drdb.Isolate
	Antibodies map[string]*drdb.Antibody
}

// NewCatalog indexes the record collections by name. Duplicate names are a
// data integrity error.
func NewCatalog(articles []*drdb.Article, variants []*drdb.Variant, isolates []*drdb.Isolate, antibodies []*drdb.Antibody) (*Catalog, error) {
	c := &Catalog{
		Articles:   make(map[string]*drdb.Article, len(articles)),
		Variants:   make(map[string]*drdb.Variant, len(variants)),
		Isolates:   make(map[string]*drdb.Isolate, len(isolates)),
		Antibodies: make(map[string]*drdb.Antibody, len(antibodies)),
	}
	for _, a := range articles {
		if _, dup := c.Articles[a.RefName]; dup {
			return nil, duplicate("articles", a.RefName)
		}
		c.Articles[a.RefName] = a
	}
	for _, v := range variants {
		if _, dup := c.Variants[v.Name]; dup {
			return nil, duplicate("variants", v.Name)
		}
		c.Variants[v.Name] = v
	}
	for _, iso := range isolates {
		if _, dup := c.Isolates[iso.Name]; dup {
			return nil, duplicate("isolates", iso.Name)
		}
		if iso.VarName != "" {
			if _, ok := c.Variants[iso.VarName]; !ok {
				return nil, &drdb.UnknownReferenceError{Kind: "variant", Name: iso.VarName, Record: iso.Name}
			}
		}
		c.Isolates[iso.Name] = iso
	}
	for _, ab := range antibodies {
		if _, dup := c.Antibodies[ab.Name]; dup {
			return nil, duplicate("antibodies", ab.Name)
		}
		c.Antibodies[ab.Name] = ab
	}
	return c, nil
}

func duplicate(table, name string) error {
	return &drdb.DataIntegrityError{Table: table, Record: name, Field: "name", Err: fmt.Errorf("duplicate name")}
}

// Payload carries the family specific part of a Result.
type Payload interface {
	Family() drdb.Family
	payload()
}

// AntibodyPayload describes a monoclonal antibody treatment.
type AntibodyPayload struct {
	Antibodies []*drdb.Antibody // Sorted by name
}

// ConvPlasmaPayload describes a convalescent plasma treatment.
type ConvPlasmaPayload struct {
	InfectedVarName string
	CumulativeGroup string
}

// VaccinePayload describes a vaccinee plasma treatment.
type VaccinePayload struct {
	VaccineName     string
	Priority        int
	Type            string
	CumulativeGroup string
}

func (AntibodyPayload) Family() drdb.Family   { return drdb.FamilyAntibody }
func (ConvPlasmaPayload) Family() drdb.Family { return drdb.FamilyConvPlasma }
func (VaccinePayload) Family() drdb.Family    { return drdb.FamilyVaccPlasma }

func (AntibodyPayload) payload()   {}
func (ConvPlasmaPayload) payload() {}
func (VaccinePayload) payload()    {}

// AntibodyKey joins the sorted antibody names with "+".
func (p AntibodyPayload) AntibodyKey() string {
	names := make([]string, len(p.Antibodies))
	for i, ab := range p.Antibodies {
		names[i] = ab.Name
	}
	return strings.Join(names, "+")
}

// AllVisible returns true if every antibody is visible.
func (p AntibodyPayload) AllVisible() bool {
	for _, ab := range p.Antibodies {
		if !ab.Visible {
			return false
		}
	}
	return true
}

// Result is one resolved susceptibility result. Results are immutable and
// shared by every query against their version.
type Result struct {
	Seq             int // Load order within the family
	RefName         string
	RxName          string
	AssayName       string
	Section         string
	FoldCmp         string
	Fold            *float64
	Ineffective     string
	CumulativeCount int

	Reference      *drdb.Article
	ControlIsolate *drdb.Isolate
	Isolate        *drdb.Isolate
	Variant        *drdb.Variant // nil if the isolate has no variant
	Payload        Payload

	level      string
	comparable mutation.Set
}

// NewResult resolves rec against the catalog. The resistance level and the
// comparable mutation set are computed here.
func NewResult(seq int, rec *drdb.SuscRecord, c *Catalog, n *Normalizer) (*Result, error) {
	id := rec.RefName + "/" + rec.RxName + "/" + rec.IsoName
	r := &Result{
		Seq:             seq,
		RefName:         rec.RefName,
		RxName:          rec.RxName,
		AssayName:       rec.AssayName,
		Section:         rec.Section,
		FoldCmp:         rec.FoldCmp,
		Fold:            rec.Fold,
		Ineffective:     rec.Ineffective,
		CumulativeCount: rec.CumulativeCount,
	}

	var ok bool
	if r.Reference, ok = c.Articles[rec.RefName]; !ok {
		return nil, &drdb.UnknownReferenceError{Kind: "article", Name: rec.RefName, Record: id}
	}
	if r.ControlIsolate, ok = c.Isolates[rec.ControlIsoName]; !ok {
		return nil, &drdb.UnknownReferenceError{Kind: "isolate", Name: rec.ControlIsoName, Record: id}
	}
	if r.Isolate, ok = c.Isolates[rec.IsoName]; !ok {
		return nil, &drdb.UnknownReferenceError{Kind: "isolate", Name: rec.IsoName, Record: id}
	}
	if r.Isolate.VarName != "" {
		if r.Variant, ok = c.Variants[r.Isolate.VarName]; !ok {
			return nil, &drdb.UnknownReferenceError{Kind: "variant", Name: r.Isolate.VarName, Record: id}
		}
	}

	switch rec.Family {
	case drdb.FamilyAntibody:
		abs := make([]*drdb.Antibody, 0, len(rec.AbNames))
		for _, name := range rec.AbNames {
			ab, ok := c.Antibodies[name]
			if !ok {
				return nil, &drdb.UnknownReferenceError{Kind: "antibody", Name: name, Record: id}
			}
			abs = append(abs, ab)
		}
		sort.Slice(abs, func(i, j int) bool { return abs[i].Name < abs[j].Name })
		r.Payload = AntibodyPayload{Antibodies: abs}
	case drdb.FamilyConvPlasma:
		r.Payload = ConvPlasmaPayload{
			InfectedVarName: rec.InfectedVarName,
			CumulativeGroup: rec.CumulativeGroup,
		}
	case drdb.FamilyVaccPlasma:
		r.Payload = VaccinePayload{
			VaccineName:     rec.VaccineName,
			Priority:        rec.VaccinePriority,
			Type:            rec.VaccineType,
			CumulativeGroup: rec.CumulativeGroup,
		}
	default:
		return nil, &drdb.DataIntegrityError{Table: "susc_results", Record: id, Field: "family"}
	}

	r.level = ResistanceLevel(rec.FallbackLevel, rec.Ineffective, rec.FoldCmp, rec.Fold, rec.CumulativeCount)
	r.comparable = n.Comparable(r.Isolate.Mutations)
	return r, nil
}

// Family returns the evidence family of the result.
func (r *Result) Family() drdb.Family { return r.Payload.Family() }

// ResistanceLevel returns the derived resistance level.
func (r *Result) ResistanceLevel() string { return r.level }

// ComparableMutations returns the normalized isolate mutations used for matching.
func (r *Result) ComparableMutations() mutation.Set { return r.comparable }

// Antibodies returns the antibodies of an antibody result, nil otherwise.
func (r *Result) Antibodies() []*drdb.Antibody {
	if p, ok := r.Payload.(AntibodyPayload); ok {
		return p.Antibodies
	}
	return nil
}

// BuildResults resolves every record of one family, in load order.
func BuildResults(recs []*drdb.SuscRecord, c *Catalog, n *Normalizer) ([]*Result, error) {
	out := make([]*Result, 0, len(recs))
	for i, rec := range recs {
		r, err := NewResult(i, rec, c, n)
		if err != nil {
			return nil, fmt.Errorf("resolve %s result: %w", rec.Family, err)
		}
		out = append(out, r)
	}
	return out, nil
}
