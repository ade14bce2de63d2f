package engine

import (
	"context"

	"github.com/mschirtzinger/graphsync/internal/graph/schema"
)

// Graph is every cached node and link.
type Graph struct {
	Nodes []*schema.Node `json:"nodes"`
	Links []*schema.Link `json:"links"`
}

// GetNode returns a cached node or a NotFound error.
func (e *Engine) GetNode(ctx context.Context, id string) (*schema.Node, error) {
	return e.cache.GetNode(ctx, schema.CanonicalID(schema.KindNode, id))
}

// GetLink returns a cached link or a NotFound error.
func (e *Engine) GetLink(ctx context.Context, id string) (*schema.Link, error) {
	return e.cache.GetLink(ctx, schema.CanonicalID(schema.KindLink, id))
}

// ListNodes returns every cached node.
func (e *Engine) ListNodes(ctx context.Context) ([]*schema.Node, error) {
	return e.cache.ListNodes(ctx)
}

// ListLinks returns every cached link.
func (e *Engine) ListLinks(ctx context.Context) ([]*schema.Link, error) {
	return e.cache.ListLinks(ctx)
}

// LinksForNode returns every cached link with nodeID as an endpoint.
func (e *Engine) LinksForNode(ctx context.Context, nodeID string) ([]*schema.Link, error) {
	return e.cache.LinksForNode(ctx, schema.CanonicalID(schema.KindNode, nodeID))
}

// Graph returns every cached node and link. It waits for a running source
// switch so the result never mixes two sources.
func (e *Engine) Graph(ctx context.Context) (*Graph, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	nodes, err := e.cache.ListNodes(ctx)
	if err != nil {
		return nil, err
	}
	links, err := e.cache.ListLinks(ctx)
	if err != nil {
		return nil, err
	}
	return &Graph{Nodes: nodes, Links: links}, nil
}
