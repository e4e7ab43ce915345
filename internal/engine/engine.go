// Package engine answers susceptibility queries against cached snapshot
// versions.
package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/hivdb/susc-match/internal/drdb"
	"github.com/hivdb/susc-match/internal/metrics"
	"github.com/hivdb/susc-match/internal/mutation"
	"github.com/hivdb/susc-match/internal/store"
	"github.com/hivdb/susc-match/internal/summary"
	"github.com/hivdb/susc-match/internal/susc"
)

// Engine classifies and summarizes queries. It is safe for concurrent use.
type Engine struct {
	cache   *store.Cache
	logger  *zap.Logger
	metrics *metrics.Recorder
}

// New creates an engine backed by cache.
func New(cache *store.Cache) *Engine {
	return &Engine{cache: cache, logger: zap.NewNop()}
}

// SetLogger sets the logger for query events.
func (e *Engine) SetLogger(l *zap.Logger) {
	e.logger = l
}

// SetMetrics sets the metrics recorder.
func (e *Engine) SetMetrics(m *metrics.Recorder) {
	e.metrics = m
}

// Classify returns every result of family sharing at least one comparable
// mutation with query. Antibody results are kept only when all their
// antibodies are visible.
func (e *Engine) Classify(ctx context.Context, version string, family drdb.Family, query mutation.Set) ([]*susc.Match, error) {
	start := time.Now()
	d, err := e.cache.Get(ctx, version)
	if err != nil {
		e.metrics.Observe("classify", err, time.Since(start))
		return nil, err
	}
	matches := e.classify(d, family, query)
	e.metrics.Observe("classify", nil, time.Since(start))
	return matches, nil
}

// classify works on a dataset the caller holds for the whole query.
func (e *Engine) classify(d *store.Dataset, family drdb.Family, query mutation.Set) []*susc.Match {
	all := d.Index(family).Query(query)
	var matches []*susc.Match
	counts := make(map[susc.MatchType]int)
	for _, m := range all {
		if p, ok := m.Payload.(susc.AntibodyPayload); ok && !p.AllVisible() {
			continue
		}
		matches = append(matches, m)
		counts[m.Type]++
	}
	for t, n := range counts {
		e.metrics.AddMatches(family.String(), t.String(), n)
	}
	e.logger.Debug("classified query",
		zap.String("version", d.Version),
		zap.Stringer("family", family),
		zap.Stringer("query", query),
		zap.Int("matches", len(matches)))
	return matches
}

// Summarize classifies query and aggregates the matches. The summary's query
// carries reference residues resolved from the normalizer.
func (e *Engine) Summarize(ctx context.Context, version string, family drdb.Family, query mutation.Set) (*summary.Summary, error) {
	start := time.Now()
	d, err := e.cache.Get(ctx, version)
	if err != nil {
		e.metrics.Observe("summarize", err, time.Since(start))
		return nil, err
	}
	query = d.Normalizer.WithReference(query)
	s := summary.New(e.classify(d, family, query), query, d.LastUpdate, d.Normalizer)
	e.metrics.Observe("summarize", nil, time.Since(start))
	return s, nil
}

// RankProfiles assigns display priorities to mutation profile groups.
func (e *Engine) RankProfiles(profiles []*summary.ProfileGroup) []*summary.RankedProfile {
	start := time.Now()
	ranked := summary.RankProfiles(profiles)
	e.metrics.Observe("rank_profiles", nil, time.Since(start))
	return ranked
}

// Versions lists the versions the engine can serve.
func (e *Engine) Versions(ctx context.Context) ([]string, error) {
	return e.cache.Versions(ctx)
}

// LastUpdate returns the last update timestamp of version.
func (e *Engine) LastUpdate(ctx context.Context, version string) (string, error) {
	d, err := e.cache.Get(ctx, version)
	if err != nil {
		return "", err
	}
	return d.LastUpdate, nil
}
