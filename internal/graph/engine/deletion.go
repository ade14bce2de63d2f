package engine

import (
	"context"

	"github.com/mschirtzinger/graphsync/internal/errors"
	"github.com/mschirtzinger/graphsync/internal/graph/cache"
	"github.com/mschirtzinger/graphsync/internal/graph/schema"
)

// CascadeResult describes a node deletion.
type CascadeResult struct {
	NodeID       string   `json:"nodeId" yaml:"node_id"`
	DeletedLinks int      `json:"deletedLinks" yaml:"deleted_links"`
	LinkIDs      []string `json:"linkIds" yaml:"link_ids"`
}

// nodeDeletion removes a node together with the links that reference it.
//
// The steps run in order: query the affected links, delete them and the node
// from the cache, then remove their files. Nothing is rolled back. A failed
// cache delete stops the deletion with the cache partially updated and no file
// touched; the next reload restores the cache from the files. File removal is
// best-effort and only logged on failure.
type nodeDeletion struct {
	cache      cache.Cache
	nodeID     string
	removeFile func(kind schema.Kind, id string)
}

func (d *nodeDeletion) execute(ctx context.Context) (*CascadeResult, error) {
	links, err := d.cache.LinksForNode(ctx, d.nodeID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query links of node %s", d.nodeID)
	}

	result := &CascadeResult{NodeID: d.nodeID, LinkIDs: make([]string, 0, len(links))}
	for _, l := range links {
		if err := d.cache.DeleteLink(ctx, l.ID); err != nil {
			return nil, err
		}
		result.LinkIDs = append(result.LinkIDs, l.ID)
	}
	if err := d.cache.DeleteNode(ctx, d.nodeID); err != nil {
		return nil, err
	}
	result.DeletedLinks = len(result.LinkIDs)

	for _, id := range result.LinkIDs {
		d.removeFile(schema.KindLink, id)
	}
	d.removeFile(schema.KindNode, d.nodeID)
	return result, nil
}
