// Package cache defines the query cache contract the sync engine drives.
//
// The cache is never authoritative: it is cleared and rebuilt from the entity
// files on every startup and every data source switch. Implementations must be
// safe for concurrent use.
package cache

import (
	"context"

	"github.com/mschirtzinger/graphsync/internal/graph/schema"
)

// Cache is the engine's view of the query cache.
type Cache interface {
	// PopulateBulk inserts nodes then links. Links whose endpoints are not
	// among the cached nodes are skipped and reported.
	PopulateBulk(ctx context.Context, nodes []*schema.Node, links []*schema.Link) (*PopulateResult, error)

	// UpsertFromFile applies an entity read from disk by the watcher.
	// created reports whether the id was new to the cache.
	UpsertFromFile(ctx context.Context, e schema.Entity) (created bool, err error)

	// DeleteFromFile removes an entity whose file disappeared. Removing a
	// node also removes its links; their ids are returned.
	DeleteFromFile(ctx context.Context, kind schema.Kind, id string) (cascaded []string, err error)

	// ClearAll removes every link, then every node.
	ClearAll(ctx context.Context) error

	GetNode(ctx context.Context, id string) (*schema.Node, error)
	GetLink(ctx context.Context, id string) (*schema.Link, error)
	ListNodes(ctx context.Context) ([]*schema.Node, error)
	ListLinks(ctx context.Context) ([]*schema.Link, error)
	LinksForNode(ctx context.Context, nodeID string) ([]*schema.Link, error)

	PutNode(ctx context.Context, n *schema.Node) error
	PutLink(ctx context.Context, l *schema.Link) error
	DeleteNode(ctx context.Context, id string) error
	DeleteLink(ctx context.Context, id string) error

	Counts(ctx context.Context) (Counts, error)
}

// Counts is the number of cached entities.
type Counts struct {
	Nodes int `json:"nodes" yaml:"nodes"`
	Links int `json:"links" yaml:"links"`
}

// PopulateResult reports what a bulk populate did.
type PopulateResult struct {
	Nodes int
	Links int
	// Skipped holds one Referential error per link whose endpoint was missing.
	Skipped []error
}
