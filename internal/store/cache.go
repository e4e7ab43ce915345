package store

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/hivdb/susc-match/internal/drdb"
	"github.com/hivdb/susc-match/internal/metrics"
	"github.com/hivdb/susc-match/internal/susc"
)

// DefaultMaxVersions bounds how many versions are held in memory.
const DefaultMaxVersions = 20

// Cache hands out loaded datasets by version. Concurrent first requests for
// one version share a single load. Evicted datasets stay valid for callers
// still holding them.
type Cache struct {
	repo       drdb.Repository
	normalizer *susc.Normalizer
	datasets   *lru.Cache[string, *Dataset]
	group      singleflight.Group
	logger     *zap.Logger
	metrics    *metrics.Recorder
}

// NewCache creates a cache holding at most maxVersions datasets.
func NewCache(repo drdb.Repository, n *susc.Normalizer, maxVersions int) (*Cache, error) {
	if maxVersions <= 0 {
		maxVersions = DefaultMaxVersions
	}
	c := &Cache{
		repo:       repo,
		normalizer: n,
		logger:     zap.NewNop(),
	}
	datasets, err := lru.NewWithEvict(maxVersions, c.onEvict)
	if err != nil {
		return nil, fmt.Errorf("create dataset cache: %w", err)
	}
	c.datasets = datasets
	return c, nil
}

// SetLogger sets the logger for load and eviction events.
func (c *Cache) SetLogger(l *zap.Logger) {
	c.logger = l
}

// SetMetrics sets the metrics recorder.
func (c *Cache) SetMetrics(m *metrics.Recorder) {
	c.metrics = m
}

func (c *Cache) onEvict(version string, _ *Dataset) {
	c.logger.Info("evicted dataset", zap.String("version", version))
	c.metrics.DatasetEvicted()
}

// Get returns the dataset of version, loading it on first use.
func (c *Cache) Get(ctx context.Context, version string) (*Dataset, error) {
	if d, ok := c.datasets.Get(version); ok {
		return d, nil
	}
	v, err, _ := c.group.Do(version, func() (any, error) {
		// Another flight may have finished between the miss and now.
		if d, ok := c.datasets.Get(version); ok {
			return d, nil
		}
		start := time.Now()
		d, err := Load(ctx, c.repo, version, c.normalizer, c.logger)
		c.metrics.DatasetLoaded(err)
		c.metrics.Observe("load_dataset", err, time.Since(start))
		if err != nil {
			return nil, err
		}
		c.datasets.Add(version, d)
		c.metrics.SetCachedVersions(c.datasets.Len())
		return d, nil
	})
	if err != nil {
		return nil, fmt.Errorf("load version %s: %w", version, err)
	}
	return v.(*Dataset), nil
}

// Versions lists the versions the repository can serve.
func (c *Cache) Versions(ctx context.Context) ([]string, error) {
	return c.repo.Versions(ctx)
}

// Len returns the number of versions held in memory.
func (c *Cache) Len() int {
	return c.datasets.Len()
}

// Contains reports whether version is held in memory, without touching recency.
func (c *Cache) Contains(version string) bool {
	return c.datasets.Contains(version)
}
