// Package db implements cache.Cache on an embedded SQLite database.
//
// The database is a disposable query cache: graphsync rebuilds it from the
// entity files on startup and on every data source switch. By default it lives
// in memory; a file path gives WAL-mode on-disk storage that other processes
// can read while serve is running.
//
// Schema:
//   - nodes: one row per node file
//   - links: one row per link file, foreign keys to nodes with ON DELETE CASCADE
package db

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/mschirtzinger/graphsync/internal/errors"
	"github.com/mschirtzinger/graphsync/internal/graph/cache"
	"github.com/mschirtzinger/graphsync/internal/graph/schema"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

const dsnPragmas = "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"

var _ cache.Cache = (*DB)(nil)

// DB wraps the SQLite connection.
type DB struct {
	conn *sql.DB
	path string
}

// Open opens (creating if needed) the cache database at path and initializes
// the schema. Use MemoryPath for an in-memory cache.
//
// The caller must call Close.
func Open(path string) (*DB, error) {
	return OpenContext(context.Background(), path)
}

// OpenContext is Open with context support.
func OpenContext(ctx context.Context, path string) (*DB, error) {
	memory := path == "" || path == MemoryPath

	var dsn string
	if memory {
		path = MemoryPath
		dsn = "file::memory:?" + dsnPragmas
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errors.Wrap(err, "failed to create database directory")
		}
		dsn = "file:" + path + "?" + dsnPragmas + "&_pragma=journal_mode(wal)"
	}

	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	if memory {
		// Every connection to :memory: is a separate database.
		conn.SetMaxOpenConns(1)
	} else {
		conn.SetMaxOpenConns(8)
		conn.SetMaxIdleConns(4)
		conn.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "failed to ping database")
	}

	db := &DB{conn: conn, path: path}
	if err := db.InitSchemaContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Path returns the database path, or MemoryPath.
func (db *DB) Path() string { return db.path }

// RawDB returns the underlying sql.DB connection.
func (db *DB) RawDB() *sql.DB { return db.conn }

// Close closes the database. Closing twice is a no-op.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}
	if err := db.conn.Close(); err != nil {
		return errors.Wrap(err, "failed to close database")
	}
	db.conn = nil
	return nil
}

// InitSchema creates the tables and indexes. It is idempotent.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the schema with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	ddl := `
	CREATE TABLE IF NOT EXISTS nodes (
		id TEXT PRIMARY KEY,
		label TEXT NOT NULL,
		url TEXT,
		x REAL,
		y REAL,
		created_at TEXT NOT NULL,
		updated_at TEXT
	);

	CREATE TABLE IF NOT EXISTS links (
		id TEXT PRIMARY KEY,
		source_id TEXT NOT NULL,
		target_id TEXT NOT NULL,
		label TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT,
		FOREIGN KEY (source_id) REFERENCES nodes(id) ON DELETE CASCADE,
		FOREIGN KEY (target_id) REFERENCES nodes(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_links_source ON links(source_id);
	CREATE INDEX IF NOT EXISTS idx_links_target ON links(target_id);
	`

	if _, err := db.conn.ExecContext(ctx, ddl); err != nil {
		return errors.Wrap(err, "failed to initialize schema")
	}
	return nil
}

// PopulateBulk inserts nodes then links in one transaction.
func (db *DB) PopulateBulk(ctx context.Context, nodes []*schema.Node, links []*schema.Link) (*cache.PopulateResult, error) {
	result := &cache.PopulateResult{}

	err := db.withTx(ctx, func(tx *sql.Tx) error {
		for _, n := range nodes {
			if err := upsertNode(ctx, tx, n); err != nil {
				return err
			}
			result.Nodes++
		}

		for _, l := range links {
			missing, err := missingEndpoint(ctx, tx, l)
			if err != nil {
				return err
			}
			if missing != "" {
				result.Skipped = append(result.Skipped, errors.Referential(l.ID, missing))
				continue
			}
			if err := upsertLink(ctx, tx, l); err != nil {
				return err
			}
			result.Links++
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to populate cache")
	}
	return result, nil
}

// UpsertFromFile applies an entity the watcher read from disk.
func (db *DB) UpsertFromFile(ctx context.Context, e schema.Entity) (bool, error) {
	var created bool

	err := db.withTx(ctx, func(tx *sql.Tx) error {
		table, err := tableFor(e.Kind())
		if err != nil {
			return err
		}
		exists, err := rowExists(ctx, tx, table, e.EntityID())
		if err != nil {
			return err
		}
		created = !exists

		switch v := e.(type) {
		case *schema.Node:
			return upsertNode(ctx, tx, v)
		case *schema.Link:
			missing, err := missingEndpoint(ctx, tx, v)
			if err != nil {
				return err
			}
			if missing != "" {
				return errors.Referential(v.ID, missing)
			}
			return upsertLink(ctx, tx, v)
		default:
			return errors.Newf("unsupported entity %T", e)
		}
	})
	return created, err
}

// DeleteFromFile removes an entity whose file disappeared. For a node, the
// ids of the links removed with it are returned.
func (db *DB) DeleteFromFile(ctx context.Context, kind schema.Kind, id string) ([]string, error) {
	var cascaded []string

	err := db.withTx(ctx, func(tx *sql.Tx) error {
		switch kind {
		case schema.KindNode:
			ids, err := linkIDsForNode(ctx, tx, id)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM nodes WHERE id = ?`, id); err != nil {
				return errors.Wrapf(err, "failed to delete node %s", id)
			}
			cascaded = ids
			return nil
		case schema.KindLink:
			if _, err := tx.ExecContext(ctx, `DELETE FROM links WHERE id = ?`, id); err != nil {
				return errors.Wrapf(err, "failed to delete link %s", id)
			}
			return nil
		default:
			return errors.Newf("unknown entity kind %q", kind)
		}
	})
	if err != nil {
		return nil, err
	}
	return cascaded, nil
}

// ClearAll removes every link, then every node.
func (db *DB) ClearAll(ctx context.Context) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM links`); err != nil {
			return errors.Wrap(err, "failed to clear links")
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM nodes`); err != nil {
			return errors.Wrap(err, "failed to clear nodes")
		}
		return nil
	})
}

// GetNode returns the node with id, or a NotFound error.
func (db *DB) GetNode(ctx context.Context, id string) (*schema.Node, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT id, label, url, x, y, created_at, updated_at
		FROM nodes WHERE id = ?`, id)

	n, err := scanNode(row)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("node", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get node %s", id)
	}
	return n, nil
}

// GetLink returns the link with id, or a NotFound error.
func (db *DB) GetLink(ctx context.Context, id string) (*schema.Link, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT id, source_id, target_id, label, created_at, updated_at
		FROM links WHERE id = ?`, id)

	l, err := scanLink(row)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("link", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get link %s", id)
	}
	return l, nil
}

// ListNodes returns every node ordered by creation time.
func (db *DB) ListNodes(ctx context.Context) ([]*schema.Node, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, label, url, x, y, created_at, updated_at
		FROM nodes ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list nodes")
	}
	defer rows.Close()

	var nodes []*schema.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan node")
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// ListLinks returns every link ordered by creation time.
func (db *DB) ListLinks(ctx context.Context) ([]*schema.Link, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, source_id, target_id, label, created_at, updated_at
		FROM links ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list links")
	}
	defer rows.Close()
	return scanLinks(rows)
}

// LinksForNode returns every link with nodeID as source or target.
func (db *DB) LinksForNode(ctx context.Context, nodeID string) ([]*schema.Link, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, source_id, target_id, label, created_at, updated_at
		FROM links WHERE source_id = ? OR target_id = ?
		ORDER BY created_at ASC, id ASC`, nodeID, nodeID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query links for node %s", nodeID)
	}
	defer rows.Close()
	return scanLinks(rows)
}

// PutNode inserts or replaces a node.
func (db *DB) PutNode(ctx context.Context, n *schema.Node) error {
	return upsertNode(ctx, db.conn, n)
}

// PutLink inserts or replaces a link. Both endpoints must be cached.
func (db *DB) PutLink(ctx context.Context, l *schema.Link) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		missing, err := missingEndpoint(ctx, tx, l)
		if err != nil {
			return err
		}
		if missing != "" {
			return errors.Referential(l.ID, missing)
		}
		return upsertLink(ctx, tx, l)
	})
}

// DeleteNode removes a node and, through the foreign keys, its links.
// Deleting a missing node is not an error.
func (db *DB) DeleteNode(ctx context.Context, id string) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM nodes WHERE id = ?`, id); err != nil {
		return errors.Wrapf(err, "failed to delete node %s", id)
	}
	return nil
}

// DeleteLink removes a link. Deleting a missing link is not an error.
func (db *DB) DeleteLink(ctx context.Context, id string) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM links WHERE id = ?`, id); err != nil {
		return errors.Wrapf(err, "failed to delete link %s", id)
	}
	return nil
}

// Counts returns the number of cached nodes and links.
func (db *DB) Counts(ctx context.Context) (cache.Counts, error) {
	var c cache.Counts
	err := db.conn.QueryRowContext(ctx,
		`SELECT (SELECT COUNT(*) FROM nodes), (SELECT COUNT(*) FROM links)`).Scan(&c.Nodes, &c.Links)
	if err != nil {
		return cache.Counts{}, errors.Wrap(err, "failed to count entities")
	}
	return c, nil
}

func (db *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}
	return nil
}
