package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hivdb/susc-match/internal/duckdb"
	"github.com/hivdb/susc-match/internal/engine"
)

type batchOptions struct {
	stdout     io.Writer
	file       string
	version    string
	family     string
	profiles   bool
	showHidden bool
	output     string
}

func newBatchCmd() *cobra.Command {
	var opts batchOptions

	cmd := &cobra.Command{
		Use:   "batch -f <queries.yaml>",
		Short: "Match many named mutation sets against one snapshot",
		Long: `Run every query of a batch file on a pool of workers. Output keeps the
order of the file.`,
		Example: `  susc-match batch -f queries.yaml --workers 8 -o matches.tsv
  susc-match batch -f queries.yaml --profiles --export batch.duckdb

Batch file:
  version: "20220301"
  queries:
    - name: sample-1
      mutations:
        - {gene: S, position: 484, ref: E, aas: K}
    - name: sample-2
      family: antibody
      mutations:
        - {gene: S, position: 69, ref: H, aas: del}`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.file == "" {
				return usagef("--file is required")
			}
			var b batchSpec
			if err := readYAML(opts.file, &b); err != nil {
				return err
			}
			opts.stdout = cmd.OutOrStdout()
			return runBatch(cmd.Context(), opts, b,
				intSetting(cmd, "workers", "workers"),
				stringSetting(cmd, "export", "export.duckdb"))
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&opts.file, "file", "f", "", "Batch YAML file ('-' for stdin)")
	fl.StringVar(&opts.version, "version", "", "Snapshot version (default: batch file, configured or newest)")
	fl.StringVar(&opts.family, "family", "", "Override every query's family: antibody, conv-plasma, vacc-plasma, all")
	fl.BoolVar(&opts.profiles, "profiles", false, "Print ranked mutation profiles instead of matches")
	fl.BoolVar(&opts.showHidden, "show-hidden", false, "Include hidden profiles with --profiles")
	fl.StringVarP(&opts.output, "output", "o", "", "Output file (default: stdout)")
	fl.Int("workers", 0, "Number of workers (default: number of CPUs)")
	fl.String("export", "", "Also export matches to this DuckDB file")

	return cmd
}

// batchQuery is a decoded query of a batch with its export id.
type batchQuery struct {
	name string
	id   string
}

// expandBatch turns the file's queries into work items, one per query and
// family, numbered in file order. queryOf maps each item to its query.
func expandBatch(b batchSpec, familyOverride string) (items []engine.WorkItem, queries []batchQuery, queryOf []int, err error) {
	queries = make([]batchQuery, len(b.Queries))
	for i, q := range b.Queries {
		name := q.Name
		if name == "" {
			name = fmt.Sprintf("query-%d", i+1)
		}
		family := familyOverride
		if family == "" {
			family = q.Family
		}
		families, err := parseFamilies(family)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("query %s: %w", name, err)
		}
		set, err := q.mutationSet()
		if err != nil {
			return nil, nil, nil, usagef("query %s: %v", name, err)
		}
		queries[i] = batchQuery{name: name, id: duckdb.NewQueryID()}
		for _, f := range families {
			items = append(items, engine.WorkItem{
				Seq:       len(items),
				Name:      name,
				Family:    f,
				Mutations: set,
			})
			queryOf = append(queryOf, i)
		}
	}
	return items, queries, queryOf, nil
}

func runBatch(ctx context.Context, opts batchOptions, b batchSpec, workers int, exportPath string) (err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	items, queries, queryOf, err := expandBatch(b, opts.family)
	if err != nil {
		return err
	}
	a, err := newApp()
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, a.Close()) }()

	ver := opts.version
	if ver == "" {
		ver = b.Version
	}
	if ver, err = a.resolveVersion(ctx, ver); err != nil {
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

	ch := make(chan engine.WorkItem, len(items))
	for _, it := range items {
		ch <- it
	}
	close(ch)

	start := time.Now()
	results := a.engine.ParallelSummarize(ctx, ver, ch, workers)
	err = engine.OrderedCollect(results, func(r engine.WorkResult) error {
		if r.Err != nil {
			return fmt.Errorf("query %s (%s): %w", r.Name, r.Family, r.Err)
		}
		if err := w.Write(a, r.Name, r.Family, r.Summary); err != nil {
			return err
		}
		if exp != nil {
			q := queries[queryOf[r.Seq]]
			return exp.Write(ctx, q.id, q.name, r.Family, r.Summary)
		}
		return nil
	})
	if err != nil {
		return err
	}

	a.logger.Info("batch complete",
		zap.String("version", ver),
		zap.Int("queries", len(queries)),
		zap.Int("items", len(items)),
		zap.Duration("duration", time.Since(start)))
	return w.Flush()
}
