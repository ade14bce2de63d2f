package main

import (
	"context"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"gopkg.in/yaml.v3"

	"github.com/mschirtzinger/graphsync/internal/errors"
	"github.com/mschirtzinger/graphsync/internal/graph/db"
	"github.com/mschirtzinger/graphsync/internal/graph/engine"
	"github.com/mschirtzinger/graphsync/internal/graph/source"
	"github.com/mschirtzinger/graphsync/internal/graph/tracker"
	"github.com/mschirtzinger/graphsync/internal/metrics"
)

// app is a started engine with the resources it owns.
type app struct {
	engine  *engine.Engine
	cache   *db.DB
	metrics *prometheus.Registry
	report  *engine.LoadReport
}

// openRegistry opens the data source registry named by the config.
func openRegistry() (*source.Registry, error) {
	return source.Open(appConfig.SourcesFile, appConfig.DataDir, logger)
}

// startApp opens the cache, loads the current data source and starts watching it.
func startApp(ctx context.Context) (*app, error) {
	reg, err := openRegistry()
	if err != nil {
		return nil, err
	}

	cacheDB, err := db.OpenContext(ctx, appConfig.Cache.Path)
	if err != nil {
		return nil, err
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	eng, err := engine.New(engine.Options{
		Registry: reg,
		Cache:    cacheDB,
		Tracker:  tracker.NewWithConfig(appConfig.TrackerOptions()),
		Logger:   logger,
		Metrics:  metrics.New(promReg),
		Watch:    appConfig.WatcherOptions(),
	})
	if err != nil {
		_ = cacheDB.Close()
		return nil, err
	}

	report, err := eng.Start(ctx)
	if err != nil {
		_ = eng.Close()
		_ = cacheDB.Close()
		return nil, err
	}

	return &app{engine: eng, cache: cacheDB, metrics: promReg, report: report}, nil
}

// Close waits for pending file writes, then releases the cache.
func (a *app) Close() error {
	err := a.engine.Close()
	if cerr := a.cache.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// withApp runs fn against a started app and closes it afterwards.
func withApp(ctx context.Context, fn func(a *app) error) (err error) {
	a, err := startApp(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil && err == nil {
			err = errors.Wrap(cerr, "failed to flush changes")
		}
	}()
	return fn(a)
}

// checkFormat rejects unknown --format values.
func checkFormat(format string) error {
	switch format {
	case "text", "yaml":
		return nil
	}
	return errors.WithHint(errors.Newf("unknown format %q", format), "use text or yaml")
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return errors.Wrap(err, "failed to encode yaml")
	}
	return enc.Close()
}

func printSkipped(w io.Writer, errs []error) {
	for _, err := range errs {
		fmt.Fprintf(w, "   %s\n", err)
	}
}
