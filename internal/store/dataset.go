// Package store loads snapshot versions into memory and caches them.
package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hivdb/susc-match/internal/drdb"
	"github.com/hivdb/susc-match/internal/susc"
)

// Dataset is one loaded snapshot version. It is immutable after Load; each
// family's index is built on first use and shared by every caller.
type Dataset struct {
	Version    string
	LastUpdate string
	Catalog    *susc.Catalog
	Normalizer *susc.Normalizer

	results map[drdb.Family][]*susc.Result
	indexes map[drdb.Family]func() *susc.Index
}

// Load reads every collection of version from repo and resolves all results.
// Any malformed or dangling record fails the whole load.
func Load(ctx context.Context, repo drdb.Repository, version string, n *susc.Normalizer, logger *zap.Logger) (*Dataset, error) {
	start := time.Now()

	lastUpdate, err := repo.LastUpdate(ctx, version)
	if err != nil {
		return nil, fmt.Errorf("load last update: %w", err)
	}
	articles, err := repo.LoadArticles(ctx, version)
	if err != nil {
		return nil, fmt.Errorf("load articles: %w", err)
	}
	variants, err := repo.LoadVariants(ctx, version)
	if err != nil {
		return nil, fmt.Errorf("load variants: %w", err)
	}
	isolates, err := repo.LoadIsolates(ctx, version)
	if err != nil {
		return nil, fmt.Errorf("load isolates: %w", err)
	}
	antibodies, err := repo.LoadAntibodies(ctx, version)
	if err != nil {
		return nil, fmt.Errorf("load antibodies: %w", err)
	}
	catalog, err := susc.NewCatalog(articles, variants, isolates, antibodies)
	if err != nil {
		return nil, fmt.Errorf("build catalog: %w", err)
	}

	d := &Dataset{
		Version:    version,
		LastUpdate: lastUpdate,
		Catalog:    catalog,
		Normalizer: n,
		results:    make(map[drdb.Family][]*susc.Result, len(drdb.Families)),
		indexes:    make(map[drdb.Family]func() *susc.Index, len(drdb.Families)),
	}
	for _, f := range drdb.Families {
		recs, err := repo.LoadSuscRecords(ctx, version, f)
		if err != nil {
			return nil, fmt.Errorf("load %s results: %w", f, err)
		}
		results, err := susc.BuildResults(recs, catalog, n)
		if err != nil {
			return nil, err
		}
		d.results[f] = results
		d.indexes[f] = sync.OnceValue(func() *susc.Index {
			start := time.Now()
			ix := susc.BuildIndex(results, n)
			logger.Debug("built match index",
				zap.String("version", version),
				zap.Stringer("family", f),
				zap.Int("records", ix.Len()),
				zap.Int("profiles", ix.NumProfiles()),
				zap.Duration("duration", time.Since(start)))
			return ix
		})
	}

	logger.Info("loaded dataset",
		zap.String("version", version),
		zap.Int("isolates", len(isolates)),
		zap.Int("antibody_results", len(d.results[drdb.FamilyAntibody])),
		zap.Int("conv_plasma_results", len(d.results[drdb.FamilyConvPlasma])),
		zap.Int("vacc_plasma_results", len(d.results[drdb.FamilyVaccPlasma])),
		zap.Duration("duration", time.Since(start)))
	return d, nil
}

// Results returns the resolved results of one family in load order.
func (d *Dataset) Results(f drdb.Family) []*susc.Result {
	return d.results[f]
}

// Index returns the match index of one family, building it on first use.
func (d *Dataset) Index(f drdb.Family) *susc.Index {
	build, ok := d.indexes[f]
	if !ok {
		return susc.BuildIndex(nil, d.Normalizer)
	}
	return build()
}
