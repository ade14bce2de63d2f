// Package engine coordinates the entity files, the query cache, the change
// watcher and the data source registry.
//
// Mutations update the cache synchronously and write files in the background,
// so reads reflect a mutation as soon as it returns while disk I/O does not
// block the caller. Flush waits for outstanding file work. A crash before
// Flush can lose the most recent writes; the files are rebuilt into the cache
// on every Start and every source switch.
package engine

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mschirtzinger/graphsync/internal/errors"
	"github.com/mschirtzinger/graphsync/internal/graph/cache"
	"github.com/mschirtzinger/graphsync/internal/graph/daemon"
	"github.com/mschirtzinger/graphsync/internal/graph/notify"
	"github.com/mschirtzinger/graphsync/internal/graph/schema"
	"github.com/mschirtzinger/graphsync/internal/graph/source"
	"github.com/mschirtzinger/graphsync/internal/graph/store"
	"github.com/mschirtzinger/graphsync/internal/graph/tracker"
	"github.com/mschirtzinger/graphsync/internal/logging"
	"github.com/mschirtzinger/graphsync/internal/metrics"
)

// Options configures an Engine. Registry and Cache are required.
type Options struct {
	Registry *source.Registry
	Cache    cache.Cache
	// Tracker defaults to tracker.New().
	Tracker *tracker.Tracker
	// Bus defaults to a new bus owned by the engine.
	Bus     *notify.Bus
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	Watch   daemon.Config
	// Now defaults to time.Now.
	Now func() time.Time
	// NewID defaults to "<kind>_<uuid>".
	NewID func(kind schema.Kind) string
}

// Engine is the file↔cache synchronization engine for one process.
type Engine struct {
	reg     *source.Registry
	cache   cache.Cache
	tracker *tracker.Tracker
	bus     *notify.Bus
	logger  *zap.Logger
	metrics *metrics.Metrics
	watcher *daemon.Watcher
	machine *source.Machine
	now     func() time.Time
	newID   func(kind schema.Kind) string

	// mu is held shared by mutations and exclusively by source switches.
	mu      sync.RWMutex
	store   *store.Store
	started bool
	closed  bool

	pending pendingWork
	files   pathQueue
}

// New wires an engine. Call Start before using it.
func New(opts Options) (*Engine, error) {
	if opts.Registry == nil {
		return nil, errors.New("registry cannot be nil")
	}
	if opts.Cache == nil {
		return nil, errors.New("cache cannot be nil")
	}

	e := &Engine{
		reg:     opts.Registry,
		cache:   opts.Cache,
		tracker: opts.Tracker,
		bus:     opts.Bus,
		logger:  logging.OrNop(opts.Logger),
		metrics: opts.Metrics,
		now:     opts.Now,
		newID:   opts.NewID,
	}
	if e.tracker == nil {
		e.tracker = tracker.New()
	}
	if e.bus == nil {
		e.bus = notify.NewBus()
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.newID == nil {
		e.newID = func(kind schema.Kind) string { return kind.Prefix() + uuid.NewString() }
	}

	w, err := daemon.New(daemon.Options{
		Cache:   e.cache,
		Tracker: e.tracker,
		Bus:     e.bus,
		Logger:  e.logger,
		Metrics: e.metrics,
		Config:  opts.Watch,
	})
	if err != nil {
		return nil, err
	}
	e.watcher = w
	e.machine = source.NewMachine(e.reg, e.logger, e.metrics)
	e.logger = e.logger.Named("engine")

	return e, nil
}

// LoadReport summarizes a bulk load of a data source.
type LoadReport struct {
	Source   string  `json:"source" yaml:"source"`
	Path     string  `json:"path" yaml:"path"`
	Nodes    int     `json:"nodes" yaml:"nodes"`
	Links    int     `json:"links" yaml:"links"`
	Restored int     `json:"restored" yaml:"restored"`
	Errors   []error `json:"-" yaml:"-"`
}

// Start loads the current data source into the cache and starts watching it.
// A data source whose directories cannot be created or written is fatal.
func (e *Engine) Start(ctx context.Context) (*LoadReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, errors.New("engine is closed")
	}
	if e.started {
		return nil, errors.New("engine already started")
	}

	ds := e.reg.Current()
	root, err := source.Validate(ds.Path)
	if err != nil {
		return nil, errors.Wrapf(err, "data source %s is unusable", ds.ID)
	}
	for _, kind := range schema.Kinds {
		if err := probeWritable(filepath.Join(root, kind.Dir())); err != nil {
			return nil, errors.WithHint(err, "check the permissions of the data source directory")
		}
	}

	target := swapTarget{e: e}
	loaded, err := target.LoadFiles(ctx, root)
	if err != nil {
		return nil, err
	}
	if err := target.ClearCache(ctx); err != nil {
		return nil, err
	}
	if err := target.PopulateCache(ctx, loaded); err != nil {
		return nil, err
	}
	if err := target.StartWatchers(root); err != nil {
		return nil, err
	}

	e.started = true
	report := loaded.report
	report.Source = ds.ID
	return report, nil
}

// Close stops the watcher and waits for pending file work.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true

	err := e.watcher.Stop()
	if werr := e.pending.wait(context.Background()); werr != nil && err == nil {
		err = werr
	}
	e.bus.Close()
	e.logger.Info("Engine closed")
	return err
}

// Flush waits until every background file write and delete has finished.
func (e *Engine) Flush(ctx context.Context) error {
	return e.pending.wait(ctx)
}

// Subscribe returns a channel of change notifications and its cancel func.
func (e *Engine) Subscribe(buffer int) (<-chan notify.Event, func()) {
	return e.bus.Subscribe(buffer)
}

// Bus returns the notification bus.
func (e *Engine) Bus() *notify.Bus { return e.bus }

// State returns the hot-swap state.
func (e *Engine) State() source.State { return e.machine.State() }

// Root returns the directory of the data source being served.
func (e *Engine) Root() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.store == nil {
		return ""
	}
	return e.store.Root()
}

// WatchedDirs returns the directories the watcher observes, empty when it is
// stopped.
func (e *Engine) WatchedDirs() (nodesDir, linksDir string) {
	return e.watcher.Dirs()
}

// Counts returns the number of cached nodes and links.
func (e *Engine) Counts(ctx context.Context) (cache.Counts, error) {
	return e.cache.Counts(ctx)
}

// Sources returns every registered data source.
func (e *Engine) Sources() []source.DataSource { return e.reg.List() }

// CurrentSource returns the data source being served.
func (e *Engine) CurrentSource() source.DataSource { return e.reg.Current() }

// AddSource registers a data source. See source.Registry.Add.
func (e *Engine) AddSource(id string, ds source.DataSource) (source.DataSource, error) {
	return e.reg.Add(id, ds)
}

// RemoveSource unregisters a data source. See source.Registry.Remove.
func (e *Engine) RemoveSource(id string) error {
	return e.reg.Remove(id)
}

// SwitchSource makes id the current data source, reloading the cache and
// moving the watcher. Mutations wait while a switch runs. A reload
// notification is published once the new source is queryable and watched.
func (e *Engine) SwitchSource(ctx context.Context, id string) (source.DataSource, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return source.DataSource{}, errors.New("engine is closed")
	}
	if err := e.pending.wait(ctx); err != nil {
		return source.DataSource{}, err
	}

	ds, err := source.Switch[*loadedGraph](ctx, e.machine, swapTarget{e: e}, id)
	if err != nil {
		return source.DataSource{}, err
	}

	e.bus.Publish(notify.Event{
		Action: notify.ActionReload,
		Origin: notify.OriginLocal,
		Source: ds.ID,
	})
	return ds, nil
}

// checkWritable rejects mutations when the engine cannot persist them.
// Callers hold e.mu shared.
func (e *Engine) checkWritable() error {
	if e.closed {
		return errors.New("engine is closed")
	}
	if !e.started {
		return errors.New("engine not started")
	}
	if e.machine.State() == source.StateDegraded {
		return errors.Degraded(e.machine.DegradedErr())
	}
	return nil
}

// schedule runs fn against the current store in the background. Work for the
// same file runs in the order it was scheduled, so a later delete never loses
// to an earlier save. Callers hold e.mu shared.
func (e *Engine) schedule(kind schema.Kind, op, id string, fn func(st *store.Store) error) {
	st := e.store
	e.pending.add()
	e.metrics.FileWorkStarted()

	e.files.enqueue(st.Path(kind, id), func() {
		defer e.pending.done()
		defer e.metrics.FileWorkDone()

		if err := fn(st); err != nil {
			e.metrics.WriteFailed(kind.String(), op)
			e.logger.Error("Background file operation failed",
				zap.String("kind", kind.String()),
				zap.String("op", op),
				zap.String("id", id),
				zap.Error(err))
		}
	})
}

func (e *Engine) publish(kind schema.Kind, action notify.Action, id string) {
	e.bus.Publish(notify.Event{Kind: kind, Action: action, ID: id, Origin: notify.OriginLocal})
}

// probeWritable creates and removes a temp file in dir.
func probeWritable(dir string) error {
	f, err := os.CreateTemp(dir, ".probe-*"+schema.TempSuffix)
	if err != nil {
		return errors.IO(dir, errors.Wrap(err, "directory is not writable"))
	}
	name := f.Name()
	f.Close()
	if err := os.Remove(name); err != nil {
		return errors.IO(name, err)
	}
	return nil
}
