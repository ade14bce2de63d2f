package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/mschirtzinger/graphsync/internal/errors"
	"github.com/mschirtzinger/graphsync/internal/graph/schema"
)

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

func upsertNode(ctx context.Context, ex execer, n *schema.Node) error {
	_, err := ex.ExecContext(ctx, `
	INSERT INTO nodes (id, label, url, x, y, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		label = excluded.label,
		url = excluded.url,
		x = excluded.x,
		y = excluded.y,
		created_at = excluded.created_at,
		updated_at = excluded.updated_at
	`,
		n.ID,
		n.Label,
		stringToNull(n.URL),
		floatToNull(n.X),
		floatToNull(n.Y),
		n.CreatedAt.UTC().Format(time.RFC3339Nano),
		timeToNull(n.UpdatedAt),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to upsert node %s", n.ID)
	}
	return nil
}

func upsertLink(ctx context.Context, ex execer, l *schema.Link) error {
	_, err := ex.ExecContext(ctx, `
	INSERT INTO links (id, source_id, target_id, label, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		source_id = excluded.source_id,
		target_id = excluded.target_id,
		label = excluded.label,
		created_at = excluded.created_at,
		updated_at = excluded.updated_at
	`,
		l.ID,
		l.SourceID,
		l.TargetID,
		stringToNull(l.Label),
		l.CreatedAt.UTC().Format(time.RFC3339Nano),
		timeToNull(l.UpdatedAt),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to upsert link %s", l.ID)
	}
	return nil
}

// missingEndpoint returns the first endpoint id of l that is not cached, or "".
func missingEndpoint(ctx context.Context, ex execer, l *schema.Link) (string, error) {
	for _, id := range []string{l.SourceID, l.TargetID} {
		ok, err := rowExists(ctx, ex, "nodes", id)
		if err != nil {
			return "", err
		}
		if !ok {
			return id, nil
		}
	}
	return "", nil
}

func rowExists(ctx context.Context, ex execer, table, id string) (bool, error) {
	var one int
	// table is always one of the two constants from tableFor.
	err := ex.QueryRowContext(ctx, `SELECT 1 FROM `+table+` WHERE id = ?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "failed to look up %s", id)
	}
	return true, nil
}

func tableFor(kind schema.Kind) (string, error) {
	switch kind {
	case schema.KindNode:
		return "nodes", nil
	case schema.KindLink:
		return "links", nil
	}
	return "", errors.Newf("unknown entity kind %q", kind)
}

func linkIDsForNode(ctx context.Context, ex execer, nodeID string) ([]string, error) {
	rows, err := ex.QueryContext(ctx,
		`SELECT id FROM links WHERE source_id = ? OR target_id = ? ORDER BY id`, nodeID, nodeID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query links for node %s", nodeID)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "failed to scan link id")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanNode(s scanner) (*schema.Node, error) {
	var n schema.Node
	var url, updatedAt sql.NullString
	var x, y sql.NullFloat64
	var createdAt string

	if err := s.Scan(&n.ID, &n.Label, &url, &x, &y, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	var err error
	if n.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, errors.Wrapf(err, "invalid created_at for node %s", n.ID)
	}
	if n.UpdatedAt, err = nullToTime(updatedAt); err != nil {
		return nil, errors.Wrapf(err, "invalid updated_at for node %s", n.ID)
	}
	n.URL = nullToString(url)
	n.X = nullToFloat(x)
	n.Y = nullToFloat(y)
	return &n, nil
}

func scanLink(s scanner) (*schema.Link, error) {
	var l schema.Link
	var label, updatedAt sql.NullString
	var createdAt string

	if err := s.Scan(&l.ID, &l.SourceID, &l.TargetID, &label, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	var err error
	if l.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, errors.Wrapf(err, "invalid created_at for link %s", l.ID)
	}
	if l.UpdatedAt, err = nullToTime(updatedAt); err != nil {
		return nil, errors.Wrapf(err, "invalid updated_at for link %s", l.ID)
	}
	l.Label = nullToString(label)
	return &l, nil
}

func scanLinks(rows *sql.Rows) ([]*schema.Link, error) {
	var links []*schema.Link
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan link")
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

func stringToNull(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullToString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func floatToNull(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullToFloat(nf sql.NullFloat64) *float64 {
	if !nf.Valid {
		return nil
	}
	f := nf.Float64
	return &f
}

func timeToNull(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func nullToTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
