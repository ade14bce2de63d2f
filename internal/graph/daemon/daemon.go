package daemon

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mschirtzinger/graphsync/internal/errors"
	"github.com/mschirtzinger/graphsync/internal/graph/cache"
	"github.com/mschirtzinger/graphsync/internal/graph/notify"
	"github.com/mschirtzinger/graphsync/internal/graph/schema"
	"github.com/mschirtzinger/graphsync/internal/logging"
	"github.com/mschirtzinger/graphsync/internal/metrics"
)

// Config holds the stability settings of the change watcher.
type Config struct {
	// StabilityThreshold is how long a file's size and mtime (or absence)
	// must stay unchanged before the change is applied. It must be shorter
	// than the write tracker grace window.
	StabilityThreshold time.Duration

	// PollInterval is how often queued paths are re-examined.
	PollInterval time.Duration
}

// DefaultConfig returns the defaults: 500ms stability, 100ms polling.
func DefaultConfig() Config {
	return Config{
		StabilityThreshold: 500 * time.Millisecond,
		PollInterval:       100 * time.Millisecond,
	}
}

// OwnWriteChecker reports whether a path was recently written by this process.
// *tracker.Tracker satisfies it.
type OwnWriteChecker interface {
	IsOwnWrite(path string) bool
}

// Publisher receives change notifications. *notify.Bus satisfies it.
type Publisher interface {
	Publish(e notify.Event) int
}

// Options configures a Watcher. Cache is required.
type Options struct {
	Cache   cache.Cache
	Tracker OwnWriteChecker
	Bus     Publisher
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	Config  Config
}

// Watcher turns raw file events into cache updates and external change
// notifications. Changes are queued per path and applied once the file has
// settled, so a burst of events from one save produces one update.
type Watcher struct {
	cache   cache.Cache
	tracker OwnWriteChecker
	bus     Publisher
	logger  *zap.Logger
	metrics *metrics.Metrics
	config  Config

	fw *FileWatcher

	mu      sync.Mutex
	pending map[string]*pendingChange
	index   map[string]string // abs path -> entity id
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// pendingChange is a queued path and the last file state seen for it.
type pendingChange struct {
	kind        schema.Kind
	exists      bool
	size        int64
	modTime     time.Time
	stableSince time.Time
}

// New creates a stopped Watcher.
func New(opts Options) (*Watcher, error) {
	if opts.Cache == nil {
		return nil, errors.New("cache cannot be nil")
	}

	cfg := opts.Config
	def := DefaultConfig()
	if cfg.StabilityThreshold <= 0 {
		cfg.StabilityThreshold = def.StabilityThreshold
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}

	return &Watcher{
		cache:   opts.Cache,
		tracker: opts.Tracker,
		bus:     opts.Bus,
		logger:  logging.OrNop(opts.Logger).Named("watcher"),
		metrics: opts.Metrics,
		config:  cfg,
		fw:      NewFileWatcher(),
		pending: make(map[string]*pendingChange),
		index:   make(map[string]string),
	}, nil
}

// SeedIndex replaces the path→id index used to resolve deleted files.
// Pass the Paths of the bulk loads that populated the cache.
func (w *Watcher) SeedIndex(paths map[string]string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.index = make(map[string]string, len(paths))
	for path, id := range paths {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
		w.index[path] = id
	}
}

// Start watches nodesDir and linksDir. It is a no-op when already running on
// the same directories.
func (w *Watcher) Start(nodesDir, linksDir string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return w.fw.Start(nodesDir, linksDir)
	}

	if err := w.fw.Start(nodesDir, linksDir); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.pending = make(map[string]*pendingChange)
	w.running = true

	events, errs := w.fw.Events(), w.fw.Errors()
	w.wg.Add(2)
	go w.consume(ctx, events, errs)
	go w.processQueue(ctx)

	w.logger.Info("Watching data source",
		zap.String("nodes", nodesDir),
		zap.String("links", linksDir))
	return nil
}

// Stop stops watching, drops queued changes and waits for any change being
// applied to finish. No cache update happens after Stop returns.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.cancel()
	w.mu.Unlock()

	err := w.fw.Stop()
	w.wg.Wait()

	w.mu.Lock()
	w.pending = make(map[string]*pendingChange)
	w.mu.Unlock()

	w.logger.Info("Watcher stopped")
	return err
}

// IsRunning reports whether the watcher is running.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Dirs returns the watched directories, empty when stopped.
func (w *Watcher) Dirs() (nodesDir, linksDir string) {
	return w.fw.Dirs()
}

// consume queues raw file events.
func (w *Watcher) consume(ctx context.Context, events <-chan FileEvent, errs <-chan error) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-events:
			if !ok {
				return
			}
			w.logger.Debug("File event",
				zap.String("op", ev.Op.String()),
				zap.String("path", ev.Path))
			w.queueChange(ev)

		case err, ok := <-errs:
			if !ok {
				return
			}
			w.logger.Warn("Watcher error", zap.Error(err))
		}
	}
}

// queueChange records ev and restarts its stability window.
func (w *Watcher) queueChange(ev FileEvent) {
	exists, size, modTime := statFile(ev.Path)

	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending[ev.Path] = &pendingChange{
		kind:        ev.Kind,
		exists:      exists,
		size:        size,
		modTime:     modTime,
		stableSince: time.Now(),
	}
}

// processQueue applies queued changes once they have settled.
func (w *Watcher) processQueue(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.processPendingChanges(ctx)
		}
	}
}

type readyChange struct {
	path string
	kind schema.Kind
}

func (w *Watcher) processPendingChanges(ctx context.Context) {
	now := time.Now()
	var ready []readyChange

	w.mu.Lock()
	for path, pc := range w.pending {
		exists, size, modTime := statFile(path)
		if exists != pc.exists || size != pc.size || !modTime.Equal(pc.modTime) {
			pc.exists, pc.size, pc.modTime = exists, size, modTime
			pc.stableSince = now
			continue
		}
		if now.Sub(pc.stableSince) < w.config.StabilityThreshold {
			continue
		}
		ready = append(ready, readyChange{path: path, kind: pc.kind})
		delete(w.pending, path)
	}
	w.mu.Unlock()

	for _, rc := range ready {
		if ctx.Err() != nil {
			return
		}
		w.applyChange(ctx, rc.path, rc.kind)
	}
}

// applyChange classifies a settled path and updates the cache.
func (w *Watcher) applyChange(ctx context.Context, path string, kind schema.Kind) {
	if w.tracker != nil && w.tracker.IsOwnWrite(path) {
		w.logger.Debug("Ignoring own write", zap.String("path", path))
		w.metrics.OwnWriteSuppressed()
		if _, err := os.Stat(path); os.IsNotExist(err) {
			w.forget(path)
		}
		return
	}

	_, err := os.Stat(path)
	switch {
	case err == nil:
		w.applyUpsert(ctx, path, kind)
	case os.IsNotExist(err):
		w.applyDelete(ctx, path, kind)
	default:
		w.logger.Warn("Cannot stat changed file", zap.String("path", path), zap.Error(err))
	}
}

func (w *Watcher) applyUpsert(ctx context.Context, path string, kind schema.Kind) {
	e, err := schema.ReadFile(kind, path)
	if err != nil {
		w.logger.Warn("Ignoring invalid file",
			zap.String("kind", kind.String()),
			zap.String("path", path),
			zap.Error(err))
		w.metrics.CorruptFile(kind.String(), "watch")
		return
	}

	created, err := w.cache.UpsertFromFile(ctx, e)
	if err != nil {
		w.logger.Warn("Failed to apply external change",
			zap.String("kind", kind.String()),
			zap.String("id", e.EntityID()),
			zap.Error(err))
		return
	}

	w.mu.Lock()
	w.index[path] = e.EntityID()
	w.mu.Unlock()

	action := notify.ActionUpdated
	if created {
		action = notify.ActionAdded
	}
	w.publish(kind, action, e.EntityID())
}

func (w *Watcher) applyDelete(ctx context.Context, path string, kind schema.Kind) {
	w.mu.Lock()
	id, ok := w.index[path]
	w.mu.Unlock()

	if !ok {
		var err error
		id, err = schema.IDFromFilename(kind, path)
		if err != nil {
			w.logger.Warn("Cannot resolve deleted file", zap.String("path", path), zap.Error(err))
			return
		}
	}

	cascaded, err := w.cache.DeleteFromFile(ctx, kind, id)
	if err != nil {
		w.logger.Warn("Failed to apply external delete",
			zap.String("kind", kind.String()),
			zap.String("id", id),
			zap.Error(err))
		return
	}

	w.forget(path)

	w.publish(kind, notify.ActionDeleted, id)
	for _, linkID := range cascaded {
		w.publish(schema.KindLink, notify.ActionDeleted, linkID)
	}
}

// forget drops path from the path→id index.
func (w *Watcher) forget(path string) {
	w.mu.Lock()
	delete(w.index, path)
	w.mu.Unlock()
}

func (w *Watcher) publish(kind schema.Kind, action notify.Action, id string) {
	w.logger.Info("External change",
		zap.String("kind", kind.String()),
		zap.String("action", string(action)),
		zap.String("id", id))
	w.metrics.ExternalEvent(kind.String(), string(action))

	if w.bus != nil {
		w.bus.Publish(notify.Event{
			Kind:   kind,
			Action: action,
			ID:     id,
			Origin: notify.OriginExternal,
		})
	}
}

func statFile(path string) (exists bool, size int64, modTime time.Time) {
	info, err := os.Stat(path)
	if err != nil {
		return false, 0, time.Time{}
	}
	return true, info.Size(), info.ModTime()
}
