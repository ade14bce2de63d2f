// Package store persists graph entities as one JSON file each under a data
// source root, and bulk-loads them back.
//
// Layout:
//
//	<root>/nodes/node_<suffix>.json
//	<root>/links/link_<suffix>.json
//
// Writes go through WriteFileAtomic. Bulk loads never abort on a bad file:
// every parse or validation failure is collected, logged and skipped.
package store

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/mschirtzinger/graphsync/internal/errors"
	"github.com/mschirtzinger/graphsync/internal/graph/schema"
	"github.com/mschirtzinger/graphsync/internal/logging"
	"github.com/mschirtzinger/graphsync/internal/metrics"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644
)

// Store reads and writes entity files under one root directory.
type Store struct {
	root    string
	marker  Marker
	logger  *zap.Logger
	metrics *metrics.Metrics

	// locks serializes file operations per path so two writers never share a
	// .tmp file. An entry lives only while someone holds or waits for it.
	locksMu sync.Mutex
	locks   map[string]*pathLock
}

type pathLock struct {
	mu   sync.Mutex
	refs int
}

// Option configures a Store.
type Option func(*Store)

// WithMarker registers the write tracker notified before every write and delete.
func WithMarker(m Marker) Option {
	return func(s *Store) { s.marker = m }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// New creates a store rooted at root. The directories are created lazily on
// first write; use source.Validate to create them eagerly.
func New(root string, opts ...Option) *Store {
	s := &Store{root: root, locks: make(map[string]*pathLock)}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.OrNop(s.logger).Named("store")
	return s
}

// Root returns the data source root.
func (s *Store) Root() string { return s.root }

// Dir returns the directory holding entities of kind.
func (s *Store) Dir(kind schema.Kind) string {
	return filepath.Join(s.root, kind.Dir())
}

// Path returns the file path of the entity of kind with id.
func (s *Store) Path(kind schema.Kind, id string) string {
	return filepath.Join(s.Dir(kind), schema.Filename(kind, id))
}

// SaveNode persists n atomically.
func (s *Store) SaveNode(n *schema.Node) error { return s.Save(n) }

// SaveLink persists l atomically.
func (s *Store) SaveLink(l *schema.Link) error { return s.Save(l) }

// Save validates and atomically writes e to its canonical path.
func (s *Store) Save(e schema.Entity) error {
	if err := e.Validate(); err != nil {
		return errors.Validation(e.EntityID(), err)
	}

	data, err := schema.Marshal(e)
	if err != nil {
		return err
	}

	dir := s.Dir(e.Kind())
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return errors.IO(dir, errors.Wrapf(err, "failed to create %s directory", e.Kind().Dir()))
	}

	path := s.Path(e.Kind(), e.EntityID())
	unlock := s.lockPath(path)
	defer unlock()

	if err := WriteFileAtomic(path, data, filePerm, s.marker); err != nil {
		return err
	}

	s.logger.Debug("Saved entity",
		zap.String("kind", e.Kind().String()),
		zap.String("id", e.EntityID()),
		zap.String("path", path))
	return nil
}

// Delete removes the file of the entity of kind with id.
// A file that does not exist is not an error.
func (s *Store) Delete(kind schema.Kind, id string) error {
	path := s.Path(kind, id)
	unlock := s.lockPath(path)
	defer unlock()

	if s.marker != nil {
		s.marker.MarkOwn(path)
	}

	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.IO(path, errors.Wrapf(err, "failed to delete %s file", kind))
	}

	s.logger.Debug("Deleted entity",
		zap.String("kind", kind.String()),
		zap.String("id", id))
	return nil
}

// LoadResult is the outcome of a bulk load. Partial success is normal:
// Entities holds every file that loaded, Errors one entry per file that did not.
type LoadResult[T schema.Entity] struct {
	Entities []T
	// Paths maps each loaded file path to the id it contained.
	Paths  map[string]string
	Errors []error
}

// LoadNodes reads every node file.
func (s *Store) LoadNodes() (*LoadResult[*schema.Node], error) {
	return loadAll[*schema.Node](s, schema.KindNode)
}

// LoadLinks reads every link file.
func (s *Store) LoadLinks() (*LoadResult[*schema.Link], error) {
	return loadAll[*schema.Link](s, schema.KindLink)
}

// loadAll enumerates the kind directory. Only an unreadable directory is an
// error; a missing directory is an empty result.
func loadAll[T schema.Entity](s *Store, kind schema.Kind) (*LoadResult[T], error) {
	result := &LoadResult[T]{Paths: make(map[string]string)}

	dir := s.Dir(kind)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return result, nil
		}
		return nil, errors.IO(dir, errors.Wrapf(err, "failed to read %s directory", kind.Dir()))
	}

	for _, entry := range entries {
		if entry.IsDir() || !schema.IsEntityFile(entry.Name()) {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		e, err := schema.ReadFile(kind, path)
		if err != nil {
			if !errors.IsKind(err, errors.KindCorruptFile) {
				err = errors.IO(path, err)
			}
			s.logger.Warn("Skipping invalid file",
				zap.String("kind", kind.String()),
				zap.String("file", entry.Name()),
				zap.Error(err))
			s.metrics.CorruptFile(kind.String(), "load")
			result.Errors = append(result.Errors, err)
			continue
		}

		typed, ok := e.(T)
		if !ok {
			continue
		}
		result.Entities = append(result.Entities, typed)
		result.Paths[path] = e.EntityID()
	}

	return result, nil
}

// RecoverArtifacts repairs what an interrupted atomic write can leave behind:
// a .backup whose target is missing is restored, other .backup files and all
// .tmp files are removed. It returns the number of restored files.
// Call it before the watcher starts.
func (s *Store) RecoverArtifacts() (int, error) {
	restored := 0

	for _, kind := range schema.Kinds {
		dir := s.Dir(kind)
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return restored, errors.IO(dir, err)
		}

		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			name := entry.Name()
			path := filepath.Join(dir, name)

			switch {
			case strings.HasSuffix(name, schema.BackupSuffix):
				target := strings.TrimSuffix(path, schema.BackupSuffix)
				if _, err := os.Stat(target); os.IsNotExist(err) {
					if err := renameFile(path, target); err != nil {
						return restored, errors.IO(target, errors.Wrap(err, "failed to restore backup"))
					}
					restored++
					s.logger.Warn("Restored file from interrupted write", zap.String("path", target))
					continue
				}
				_ = os.Remove(path)

			case strings.HasSuffix(name, schema.TempSuffix):
				_ = os.Remove(path)
			}
		}
	}

	return restored, nil
}

func (s *Store) lockPath(path string) func() {
	s.locksMu.Lock()
	l := s.locks[path]
	if l == nil {
		l = &pathLock{}
		s.locks[path] = l
	}
	l.refs++
	s.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		s.locksMu.Lock()
		defer s.locksMu.Unlock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, path)
		}
	}
}
