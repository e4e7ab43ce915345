// Package output provides tab-delimited formatters for matches and ranked
// mutation profiles.
package output

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/hivdb/susc-match/internal/drdb"
	"github.com/hivdb/susc-match/internal/summary"
	"github.com/hivdb/susc-match/internal/susc"
)

// MatchWriter writes one line per classified match.
type MatchWriter struct {
	w       *bufio.Writer
	columns []string
}

// NewMatchWriter creates a new tab-delimited match writer.
func NewMatchWriter(w io.Writer) *MatchWriter {
	return &MatchWriter{
		w: bufio.NewWriter(w),
		columns: []string{
			"#Query",
			"Family",
			"Match_type",
			"Num_isolate_only",
			"Num_query_only",
			"Isolate",
			"Variant",
			"Isolate_mutations",
			"Reference",
			"Treatment",
			"Subject",
			"Control",
			"Assay",
			"Section",
			"Fold",
			"Resistance_level",
			"Cumulative_count",
		},
	}
}

// WriteHeader writes the header line.
func (mw *MatchWriter) WriteHeader() error {
	_, err := mw.w.WriteString(strings.Join(mw.columns, "\t") + "\n")
	return err
}

// Write writes a single match of the named query.
func (mw *MatchWriter) Write(query string, m *susc.Match) error {
	variant := "-"
	if m.Variant != nil {
		variant = m.Variant.Name
	}

	values := []string{
		orDash(query),
		m.Family().String(),
		m.Type.String(),
		strconv.Itoa(m.NumIsolateOnly),
		strconv.Itoa(m.NumQueryOnly),
		m.Isolate.Name,
		variant,
		orDash(m.Isolate.Mutations.String()),
		m.RefName,
		m.RxName,
		orDash(subject(m.Payload)),
		m.ControlIsolate.Name,
		orDash(m.AssayName),
		orDash(m.Section),
		formatFold(m.FoldCmp, m.Fold),
		m.ResistanceLevel(),
		strconv.Itoa(m.CumulativeCount),
	}

	_, err := mw.w.WriteString(strings.Join(values, "\t") + "\n")
	return err
}

// Flush flushes any buffered data to the underlying writer.
func (mw *MatchWriter) Flush() error {
	return mw.w.Flush()
}

// ProfileWriter writes one line per ranked mutation profile.
type ProfileWriter struct {
	w          *bufio.Writer
	columns    []string
	showHidden bool
}

// NewProfileWriter creates a new tab-delimited profile writer. Hidden
// profiles are skipped unless showHidden is set.
func NewProfileWriter(w io.Writer, showHidden bool) *ProfileWriter {
	return &ProfileWriter{
		w:          bufio.NewWriter(w),
		showHidden: showHidden,
		columns: []string{
			"#Query",
			"Family",
			"Priority",
			"Match_type",
			"Num_diff",
			"Mutations",
			"Variant",
			"Variant_extra",
			"Variant_missing",
			"Isolates",
			"Num_experiments",
			"Median_fold",
			"Fold_IQR",
			"Resistance_levels",
		},
	}
}

// WriteHeader writes the header line.
func (pw *ProfileWriter) WriteHeader() error {
	_, err := pw.w.WriteString(strings.Join(pw.columns, "\t") + "\n")
	return err
}

// Write writes the ranked profiles of the named query in rank order.
func (pw *ProfileWriter) Write(query string, family drdb.Family, ranked []*summary.RankedProfile) error {
	for _, r := range ranked {
		if r.Priority == summary.Hidden && !pw.showHidden {
			continue
		}
		if err := pw.writeProfile(query, family, r); err != nil {
			return err
		}
	}
	return nil
}

func (pw *ProfileWriter) writeProfile(query string, family drdb.Family, r *summary.RankedProfile) error {
	variant, extra, missing := "-", "-", "-"
	if r.Variant != nil {
		variant = r.Variant.Name
		e, _ := r.VariantExtraMutations()
		extra = orDash(e.String())
		m, _ := r.VariantMissingMutations()
		missing = orDash(m.String())
	}

	isolates := r.HitIsolates()
	names := make([]string, len(isolates))
	for i, iso := range isolates {
		names[i] = iso.Name
	}

	median, iqr := "-", "-"
	if st := r.CumulativeFold(); st.N > 0 {
		median = formatFloat(st.Median)
		iqr = formatFloat(st.Q1) + "-" + formatFloat(st.Q3)
	}

	levels := r.ItemsByResistLevel()
	lv := make([]string, len(levels))
	for i, g := range levels {
		lv[i] = g.Level + ":" + strconv.Itoa(g.CumulativeCount())
	}

	values := []string{
		orDash(query),
		family.String(),
		r.Priority.String(),
		r.MatchType().String(),
		strconv.Itoa(r.NumDiff()),
		orDash(r.Mutations.String()),
		variant,
		extra,
		missing,
		strings.Join(names, ","),
		strconv.Itoa(r.CumulativeCount()),
		median,
		iqr,
		orDash(strings.Join(lv, ",")),
	}

	_, err := pw.w.WriteString(strings.Join(values, "\t") + "\n")
	return err
}

// Flush flushes any buffered data to the underlying writer.
func (pw *ProfileWriter) Flush() error {
	return pw.w.Flush()
}

// subject returns the tested agent of a payload.
func subject(p susc.Payload) string {
	switch p := p.(type) {
	case susc.AntibodyPayload:
		return p.AntibodyKey()
	case susc.VaccinePayload:
		return p.VaccineName
	case susc.ConvPlasmaPayload:
		return p.InfectedVarName
	}
	return ""
}

func formatFold(cmp string, fold *float64) string {
	if fold == nil {
		return "-"
	}
	if cmp == "=" || cmp == "" {
		return formatFloat(*fold)
	}
	return cmp + formatFloat(*fold)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
