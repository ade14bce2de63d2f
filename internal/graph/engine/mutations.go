package engine

import (
	"context"

	"github.com/mschirtzinger/graphsync/internal/errors"
	"github.com/mschirtzinger/graphsync/internal/graph/notify"
	"github.com/mschirtzinger/graphsync/internal/graph/schema"
	"github.com/mschirtzinger/graphsync/internal/graph/store"
)

// CreateNode adds a node. An empty ID is generated and a bare one gets the
// "node_" prefix; CreatedAt is set to now. The returned node is what the cache
// holds.
func (e *Engine) CreateNode(ctx context.Context, n *schema.Node) (*schema.Node, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.checkWritable(); err != nil {
		return nil, err
	}

	n = n.Clone()
	n.ID = schema.CanonicalID(schema.KindNode, n.ID)
	if n.ID == "" {
		n.ID = e.newID(schema.KindNode)
	}
	n.CreatedAt = e.now().UTC()
	n.UpdatedAt = nil
	if err := n.Validate(); err != nil {
		return nil, errors.Validation(n.ID, err)
	}

	if _, err := e.cache.GetNode(ctx, n.ID); err == nil {
		return nil, errors.Conflict(n.ID, errors.New("node already exists"))
	} else if !errors.IsKind(err, errors.KindNotFound) {
		return nil, err
	}

	if err := e.cache.PutNode(ctx, n); err != nil {
		return nil, err
	}
	e.saveInBackground(n.Clone())
	e.publish(schema.KindNode, notify.ActionAdded, n.ID)
	return n, nil
}

// UpdateNode replaces the label, url and position of an existing node.
// CreatedAt is kept; UpdatedAt is set to now.
func (e *Engine) UpdateNode(ctx context.Context, n *schema.Node) (*schema.Node, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.checkWritable(); err != nil {
		return nil, err
	}

	n = n.Clone()
	n.ID = schema.CanonicalID(schema.KindNode, n.ID)
	existing, err := e.cache.GetNode(ctx, n.ID)
	if err != nil {
		return nil, err
	}

	n.CreatedAt = existing.CreatedAt
	n.Touch(e.now())
	return e.putNode(ctx, n)
}

// SetNodePosition stores the visualization position of a node.
func (e *Engine) SetNodePosition(ctx context.Context, id string, x, y float64) (*schema.Node, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.checkWritable(); err != nil {
		return nil, err
	}

	n, err := e.cache.GetNode(ctx, schema.CanonicalID(schema.KindNode, id))
	if err != nil {
		return nil, err
	}
	n.X, n.Y = &x, &y
	n.Touch(e.now())
	return e.putNode(ctx, n)
}

func (e *Engine) putNode(ctx context.Context, n *schema.Node) (*schema.Node, error) {
	if err := n.Validate(); err != nil {
		return nil, errors.Validation(n.ID, err)
	}
	if err := e.cache.PutNode(ctx, n); err != nil {
		return nil, err
	}
	e.saveInBackground(n.Clone())
	e.publish(schema.KindNode, notify.ActionUpdated, n.ID)
	return n, nil
}

// DeleteNode removes a node and every link that references it.
func (e *Engine) DeleteNode(ctx context.Context, id string) (*CascadeResult, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.checkWritable(); err != nil {
		return nil, err
	}

	id = schema.CanonicalID(schema.KindNode, id)
	if _, err := e.cache.GetNode(ctx, id); err != nil {
		return nil, err
	}

	del := &nodeDeletion{cache: e.cache, nodeID: id, removeFile: e.deleteInBackground}
	result, err := del.execute(ctx)
	if err != nil {
		return nil, err
	}

	for _, linkID := range result.LinkIDs {
		e.publish(schema.KindLink, notify.ActionDeleted, linkID)
	}
	e.publish(schema.KindNode, notify.ActionDeleted, id)
	return result, nil
}

// CreateLink adds a link between two existing nodes. An empty ID is
// generated; CreatedAt is set to now.
func (e *Engine) CreateLink(ctx context.Context, l *schema.Link) (*schema.Link, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.checkWritable(); err != nil {
		return nil, err
	}

	l = canonicalLink(l)
	if l.ID == "" {
		l.ID = e.newID(schema.KindLink)
	}
	l.CreatedAt = e.now().UTC()
	l.UpdatedAt = nil
	if err := l.Validate(); err != nil {
		return nil, errors.Validation(l.ID, err)
	}

	if _, err := e.cache.GetLink(ctx, l.ID); err == nil {
		return nil, errors.Conflict(l.ID, errors.New("link already exists"))
	} else if !errors.IsKind(err, errors.KindNotFound) {
		return nil, err
	}

	if err := e.putLink(ctx, l); err != nil {
		return nil, err
	}
	e.publish(schema.KindLink, notify.ActionAdded, l.ID)
	return l, nil
}

// UpdateLink replaces the endpoints and label of an existing link.
func (e *Engine) UpdateLink(ctx context.Context, l *schema.Link) (*schema.Link, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.checkWritable(); err != nil {
		return nil, err
	}

	l = canonicalLink(l)
	existing, err := e.cache.GetLink(ctx, l.ID)
	if err != nil {
		return nil, err
	}

	l.CreatedAt = existing.CreatedAt
	l.Touch(e.now())
	if err := l.Validate(); err != nil {
		return nil, errors.Validation(l.ID, err)
	}
	if err := e.putLink(ctx, l); err != nil {
		return nil, err
	}
	e.publish(schema.KindLink, notify.ActionUpdated, l.ID)
	return l, nil
}

// putLink checks both endpoints, caches l and schedules its file write.
func (e *Engine) putLink(ctx context.Context, l *schema.Link) error {
	for _, nodeID := range []string{l.SourceID, l.TargetID} {
		if _, err := e.cache.GetNode(ctx, nodeID); err != nil {
			if errors.IsKind(err, errors.KindNotFound) {
				return errors.Referential(l.ID, nodeID)
			}
			return err
		}
	}
	if err := e.cache.PutLink(ctx, l); err != nil {
		return err
	}
	e.saveInBackground(l.Clone())
	return nil
}

// DeleteLink removes a link.
func (e *Engine) DeleteLink(ctx context.Context, id string) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.checkWritable(); err != nil {
		return err
	}

	id = schema.CanonicalID(schema.KindLink, id)
	if _, err := e.cache.GetLink(ctx, id); err != nil {
		return err
	}
	if err := e.cache.DeleteLink(ctx, id); err != nil {
		return err
	}
	e.deleteInBackground(schema.KindLink, id)
	e.publish(schema.KindLink, notify.ActionDeleted, id)
	return nil
}

// canonicalLink copies l with its own id and both endpoint ids in canonical form.
func canonicalLink(l *schema.Link) *schema.Link {
	l = l.Clone()
	l.ID = schema.CanonicalID(schema.KindLink, l.ID)
	l.SourceID = schema.CanonicalID(schema.KindNode, l.SourceID)
	l.TargetID = schema.CanonicalID(schema.KindNode, l.TargetID)
	return l
}

func (e *Engine) saveInBackground(ent schema.Entity) {
	e.schedule(ent.Kind(), "save", ent.EntityID(), func(st *store.Store) error {
		return st.Save(ent)
	})
}

func (e *Engine) deleteInBackground(kind schema.Kind, id string) {
	e.schedule(kind, "delete", id, func(st *store.Store) error {
		return st.Delete(kind, id)
	})
}
