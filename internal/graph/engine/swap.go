package engine

import (
	"context"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/mschirtzinger/graphsync/internal/graph/schema"
	"github.com/mschirtzinger/graphsync/internal/graph/source"
	"github.com/mschirtzinger/graphsync/internal/graph/store"
)

// loadedGraph is everything read from one data source root.
type loadedGraph struct {
	store  *store.Store
	nodes  *store.LoadResult[*schema.Node]
	links  *store.LoadResult[*schema.Link]
	report *LoadReport
}

// swapTarget adapts the engine to source.SwapTarget. Every method is called
// with e.mu held exclusively.
type swapTarget struct {
	e *Engine
}

var _ source.SwapTarget[*loadedGraph] = swapTarget{}

func (t swapTarget) StopWatchers() error {
	return t.e.watcher.Stop()
}

func (t swapTarget) ClearCache(ctx context.Context) error {
	return t.e.cache.ClearAll(ctx)
}

// LoadFiles recovers interrupted writes under root and reads every entity.
func (t swapTarget) LoadFiles(ctx context.Context, root string) (*loadedGraph, error) {
	e := t.e
	st := store.New(root,
		store.WithMarker(e.tracker),
		store.WithLogger(e.logger),
		store.WithMetrics(e.metrics))

	restored, err := st.RecoverArtifacts()
	if err != nil {
		return nil, err
	}
	nodes, err := st.LoadNodes()
	if err != nil {
		return nil, err
	}
	links, err := st.LoadLinks()
	if err != nil {
		return nil, err
	}

	report := &LoadReport{Path: root, Restored: restored}
	report.Errors = append(report.Errors, nodes.Errors...)
	report.Errors = append(report.Errors, links.Errors...)

	return &loadedGraph{store: st, nodes: nodes, links: links, report: report}, nil
}

// PopulateCache fills the cache and makes g the store mutations write to.
func (t swapTarget) PopulateCache(ctx context.Context, g *loadedGraph) error {
	e := t.e
	res, err := e.cache.PopulateBulk(ctx, g.nodes.Entities, g.links.Entities)
	if err != nil {
		return err
	}

	g.report.Nodes = res.Nodes
	g.report.Links = res.Links
	g.report.Errors = append(g.report.Errors, res.Skipped...)

	e.store = g.store
	index := make(map[string]string, len(g.nodes.Paths)+len(g.links.Paths))
	for path, id := range g.nodes.Paths {
		index[path] = id
	}
	for path, id := range g.links.Paths {
		index[path] = id
	}
	e.watcher.SeedIndex(index)

	e.metrics.SetCached(schema.KindNode.String(), res.Nodes)
	e.metrics.SetCached(schema.KindLink.String(), res.Links)

	for _, ferr := range g.report.Errors {
		e.logger.Warn("Skipped entity", zap.Error(ferr))
	}
	e.logger.Info("Loaded data source",
		zap.String("path", g.report.Path),
		zap.Int("nodes", res.Nodes),
		zap.Int("links", res.Links),
		zap.Int("skipped", len(g.report.Errors)),
		zap.Int("restored", g.report.Restored))
	return nil
}

func (t swapTarget) StartWatchers(root string) error {
	return t.e.watcher.Start(
		filepath.Join(root, schema.KindNode.Dir()),
		filepath.Join(root, schema.KindLink.Dir()))
}
