package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/hivdb/susc-match/internal/drdb"
	"github.com/hivdb/susc-match/internal/engine"
	"github.com/hivdb/susc-match/internal/metrics"
	"github.com/hivdb/susc-match/internal/store"
	"github.com/hivdb/susc-match/internal/susc"
)

// app wires the snapshot repository, version cache and engine for one
// command invocation.
type app struct {
	logger  *zap.Logger
	metrics *metrics.Recorder
	repo    *drdb.SQLiteRepository
	engine  *engine.Engine
}

func newApp() (*app, error) {
	logger, err := newLogger(viper.GetString("log.level"), viper.GetString("log.format"))
	if err != nil {
		return nil, err
	}

	repo := drdb.NewSQLiteRepository(viper.GetString("snapshot_dir"))
	repo.SetLogger(logger)

	cache, err := store.NewCache(repo, susc.DefaultNormalizer(), viper.GetInt("cache.max_versions"))
	if err != nil {
		return nil, usagef("cache.max_versions: %v", err)
	}
	rec := metrics.NewRecorder()
	cache.SetLogger(logger)
	cache.SetMetrics(rec)

	eng := engine.New(cache)
	eng.SetLogger(logger)
	eng.SetMetrics(rec)

	return &app{logger: logger, metrics: rec, repo: repo, engine: eng}, nil
}

// Close writes the metrics textfile, if configured, and releases snapshots.
func (a *app) Close() error {
	var errs []error
	if path := viper.GetString("metrics.textfile"); path != "" {
		if err := a.metrics.WriteTextfile(path); err != nil {
			errs = append(errs, fmt.Errorf("writing metrics: %w", err))
		}
	}
	errs = append(errs, a.repo.Close())
	_ = a.logger.Sync()
	return errors.Join(errs...)
}

// resolveVersion returns v, the configured default version, or the newest
// snapshot in the directory.
func (a *app) resolveVersion(ctx context.Context, v string) (string, error) {
	if v == "" {
		v = viper.GetString("default_version")
	}
	if v != "" {
		return v, nil
	}
	versions, err := a.engine.Versions(ctx)
	if err != nil {
		return "", err
	}
	if len(versions) == 0 {
		return "", fmt.Errorf("%w: no snapshots in %s", drdb.ErrUnknownVersion, viper.GetString("snapshot_dir"))
	}
	return versions[len(versions)-1], nil
}

// newLogger builds a development (console) or production (json) logger
// writing to stderr.
func newLogger(level, format string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, usagef("log.level: %v", err)
	}

	var cfg zap.Config
	switch format {
	case "", "console":
		cfg = zap.NewDevelopmentConfig()
	case "json":
		cfg = zap.NewProductionConfig()
	default:
		return nil, usagef("log.format: unknown format %q", format)
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	return cfg.Build()
}
