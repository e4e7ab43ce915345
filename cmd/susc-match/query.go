package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/hivdb/susc-match/internal/drdb"
	"github.com/hivdb/susc-match/internal/duckdb"
	"github.com/hivdb/susc-match/internal/mutation"
	"github.com/hivdb/susc-match/internal/output"
	"github.com/hivdb/susc-match/internal/summary"
)

// mutationSpec is one mutation of a query file.
type mutationSpec struct {
	Gene        string `yaml:"gene"`
	Position    int    `yaml:"position"`
	Ref         string `yaml:"ref"`
	AAs         string `yaml:"aas"`
	Unsequenced bool   `yaml:"unsequenced"`
}

// querySpec is one named query of a query file.
type querySpec struct {
	Name      string         `yaml:"name"`
	Family    string         `yaml:"family"`
	Mutations []mutationSpec `yaml:"mutations"`
}

// batchSpec is a file of named queries against one version.
type batchSpec struct {
	Version string      `yaml:"version"`
	Queries []querySpec `yaml:"queries"`
}

func (m mutationSpec) toMutation() (mutation.Mutation, error) {
	switch {
	case m.Gene == "":
		return mutation.Mutation{}, errors.New("missing gene")
	case m.Position <= 0:
		return mutation.Mutation{}, fmt.Errorf("%s: invalid position %d", m.Gene, m.Position)
	case m.AAs == "":
		return mutation.Mutation{}, fmt.Errorf("%s:%d: missing aas", m.Gene, m.Position)
	case len(m.Ref) > 1:
		return mutation.Mutation{}, fmt.Errorf("%s:%d: ref must be one residue, got %q", m.Gene, m.Position, m.Ref)
	}
	var ref byte
	if m.Ref != "" {
		ref = m.Ref[0]
	}
	mut := mutation.New(m.Gene, m.Position, ref, drdb.DecodeAA(m.AAs))
	mut.Unsequenced = m.Unsequenced
	return mut, nil
}

// mutationSet converts the query's mutations. Mutations repeating a gene
// position are merged into a mixture.
func (q querySpec) mutationSet() (mutation.Set, error) {
	muts := make([]mutation.Mutation, 0, len(q.Mutations))
	for i, m := range q.Mutations {
		mut, err := m.toMutation()
		if err != nil {
			return mutation.Set{}, fmt.Errorf("mutation %d: %w", i+1, err)
		}
		muts = append(muts, mut)
	}
	return mutation.NewSet(muts...), nil
}

// parseFamilies resolves a family name, "all" or empty meaning every family.
func parseFamilies(s string) ([]drdb.Family, error) {
	if s == "" || s == "all" {
		return drdb.Families, nil
	}
	f, ok := drdb.ParseFamily(s)
	if !ok {
		return nil, usagef("unknown family %q (want antibody, conv-plasma, vacc-plasma or all)", s)
	}
	return []drdb.Family{f}, nil
}

// readYAML decodes a YAML file, or stdin for "-", into v. Unknown fields are
// rejected.
func readYAML(path string, v any) error {
	var r io.Reader
	if path == "-" {
		r = os.Stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}

// createOutput returns stdout for an empty path.
func createOutput(stdout io.Writer, path string) (io.WriteCloser, error) {
	if path == "" || path == "-" {
		return nopCloser{stdout}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating output file: %w", err)
	}
	return f, nil
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

type queryOptions struct {
	stdout     io.Writer
	file       string
	version    string
	family     string
	profiles   bool
	showHidden bool
	output     string
}

func newQueryCmd() *cobra.Command {
	var opts queryOptions

	cmd := &cobra.Command{
		Use:   "query -f <query.yaml>",
		Short: "Match one mutation set against a snapshot",
		Long: `Classify one query mutation set against every tested isolate and print
the matching susceptibility results, or the ranked mutation profiles with
--profiles.`,
		Example: `  susc-match query -f sample.yaml
  susc-match query -f sample.yaml --family antibody --profiles
  susc-match query -f sample.yaml --version 20220301 --export matches.duckdb

Query file:
  name: sample-1
  mutations:
    - {gene: S, position: 484, ref: E, aas: K}
    - {gene: S, position: 501, ref: N, aas: Y}`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.file == "" {
				return usagef("--file is required")
			}
			var q querySpec
			if err := readYAML(opts.file, &q); err != nil {
				return err
			}
			opts.stdout = cmd.OutOrStdout()
			return runQuery(cmd.Context(), opts, q, stringSetting(cmd, "export", "export.duckdb"))
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&opts.file, "file", "f", "", "Query YAML file ('-' for stdin)")
	fl.StringVar(&opts.version, "version", "", "Snapshot version (default: configured or newest)")
	fl.StringVar(&opts.family, "family", "", "Result family: antibody, conv-plasma, vacc-plasma, all (default: query file or all)")
	fl.BoolVar(&opts.profiles, "profiles", false, "Print ranked mutation profiles instead of matches")
	fl.BoolVar(&opts.showHidden, "show-hidden", false, "Include hidden profiles with --profiles")
	fl.StringVarP(&opts.output, "output", "o", "", "Output file (default: stdout)")
	fl.String("export", "", "Also export matches to this DuckDB file")

	return cmd
}

func runQuery(ctx context.Context, opts queryOptions, q querySpec, exportPath string) (err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	family := opts.family
	if family == "" {
		family = q.Family
	}
	families, err := parseFamilies(family)
	if err != nil {
		return err
	}
	query, err := q.mutationSet()
	if err != nil {
		return usagef("%s: %v", opts.file, err)
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, a.Close()) }()

	ver, err := a.resolveVersion(ctx, opts.version)
	if err != nil {
		return err
	}

	out, err := createOutput(opts.stdout, opts.output)
	if err != nil {
		return err
	}
	defer out.Close()

	w := newResultWriter(out, opts.profiles, opts.showHidden)
	if err := w.WriteHeader(); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	var exp *exporter
	if exportPath != "" {
		if exp, err = newExporter(exportPath, a, ver); err != nil {
			return err
		}
		defer func() { err = errors.Join(err, exp.Close()) }()
	}
	queryID := duckdb.NewQueryID()

	for _, f := range families {
		s, err := a.engine.Summarize(ctx, ver, f, query)
		if err != nil {
			return err
		}
		if err := w.Write(a, q.Name, f, s); err != nil {
			return err
		}
		if exp != nil {
			if err := exp.Write(ctx, queryID, q.Name, f, s); err != nil {
				return err
			}
		}
	}
	if exp != nil {
		a.logger.Info("exported matches", zap.String("query_id", queryID), zap.String("path", exportPath))
	}
	return w.Flush()
}

// resultWriter prints either raw matches or ranked profiles.
type resultWriter struct {
	matches  *output.MatchWriter
	profiles *output.ProfileWriter
}

func newResultWriter(w io.Writer, profiles, showHidden bool) *resultWriter {
	if profiles {
		return &resultWriter{profiles: output.NewProfileWriter(w, showHidden)}
	}
	return &resultWriter{matches: output.NewMatchWriter(w)}
}

func (rw *resultWriter) WriteHeader() error {
	if rw.profiles != nil {
		return rw.profiles.WriteHeader()
	}
	return rw.matches.WriteHeader()
}

func (rw *resultWriter) Write(a *app, name string, family drdb.Family, s *summary.Summary) error {
	if rw.profiles != nil {
		return rw.profiles.Write(name, family, a.engine.RankProfiles(s.ItemsByVariantOrMutations()))
	}
	for _, m := range s.Items {
		if err := rw.matches.Write(name, m); err != nil {
			return err
		}
	}
	return nil
}

func (rw *resultWriter) Flush() error {
	if rw.profiles != nil {
		return rw.profiles.Flush()
	}
	return rw.matches.Flush()
}

// exporter appends summaries of one version to a DuckDB export.
type exporter struct {
	store    *duckdb.Store
	version  string
	snapshot duckdb.FileFingerprint
	recorded map[string]bool
}

func newExporter(path string, a *app, version string) (*exporter, error) {
	st, err := duckdb.Open(path)
	if err != nil {
		return nil, err
	}
	fp, err := duckdb.StatFile(a.repo.SnapshotPath(version))
	if err != nil {
		a.logger.Warn("snapshot fingerprint unavailable", zap.String("version", version), zap.Error(err))
	}
	return &exporter{store: st, version: version, snapshot: fp, recorded: make(map[string]bool)}, nil
}

func (e *exporter) Write(ctx context.Context, queryID, name string, family drdb.Family, s *summary.Summary) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := e.store.WriteMatches(queryID, e.version, family, s.Query, s.Items); err != nil {
		return fmt.Errorf("exporting %s: %w", family, err)
	}
	if e.recorded[queryID] {
		return nil
	}
	e.recorded[queryID] = true
	return e.store.RecordExport(duckdb.Export{
		QueryID:    queryID,
		QueryName:  name,
		Version:    e.version,
		LastUpdate: s.LastUpdate,
		Snapshot:   e.snapshot,
	})
}

func (e *exporter) Close() error {
	return e.store.Close()
}
