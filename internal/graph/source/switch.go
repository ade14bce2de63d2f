package source

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/mschirtzinger/graphsync/internal/errors"
	"github.com/mschirtzinger/graphsync/internal/logging"
	"github.com/mschirtzinger/graphsync/internal/metrics"
)

// State is a hot-swap state.
type State string

const (
	StateActive            State = "active"
	StateValidating        State = "validating"
	StateWatchersStopped   State = "watchers_stopped"
	StateCacheCleared      State = "cache_cleared"
	StateFilesLoaded       State = "files_loaded"
	StateCachePopulated    State = "cache_populated"
	StateWatchersRestarted State = "watchers_restarted"
	StateRecovering        State = "recovering"
	// StateDegraded means recovery failed: nothing is watched and the cache
	// may be empty or partial. Only a successful switch leaves it.
	StateDegraded State = "degraded"
)

// SwapTarget is the engine side of a switch. S is whatever LoadFiles hands to
// PopulateCache.
type SwapTarget[S any] interface {
	// StopWatchers must return only after OS watch handles are released and
	// no watcher callback is running.
	StopWatchers() error
	ClearCache(ctx context.Context) error
	LoadFiles(ctx context.Context, root string) (S, error)
	PopulateCache(ctx context.Context, loaded S) error
	StartWatchers(root string) error
}

// Machine tracks the hot-swap state and serializes switches.
type Machine struct {
	reg     *Registry
	logger  *zap.Logger
	metrics *metrics.Metrics

	switchMu sync.Mutex

	mu          sync.RWMutex
	state       State
	degradedErr error
	observers   []func(from, to State)
}

// NewMachine creates a machine in StateActive for reg.
func NewMachine(reg *Registry, logger *zap.Logger, m *metrics.Metrics) *Machine {
	return &Machine{
		reg:     reg,
		logger:  logging.OrNop(logger).Named("switch"),
		metrics: m,
		state:   StateActive,
	}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// DegradedErr returns why the machine is degraded, or nil.
func (m *Machine) DegradedErr() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.degradedErr
}

// OnTransition registers fn to be called on every state change.
// fn runs synchronously and must not call back into the machine.
func (m *Machine) OnTransition(fn func(from, to State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
}

func (m *Machine) transition(to State) {
	m.mu.Lock()
	from := m.state
	m.state = to
	if to != StateDegraded {
		m.degradedErr = nil
	}
	observers := append([]func(from, to State){}, m.observers...)
	m.mu.Unlock()

	m.logger.Debug("State transition", zap.String("from", string(from)), zap.String("to", string(to)))
	for _, fn := range observers {
		fn(from, to)
	}
}

func (m *Machine) degrade(cause error) {
	m.transition(StateDegraded)
	m.mu.Lock()
	m.degradedErr = cause
	m.mu.Unlock()
}

// Switch makes id the current data source:
//
//	Active → Validating → WatchersStopped → CacheCleared → FilesLoaded →
//	CachePopulated → WatchersRestarted → Active
//
// A source that fails validation is rejected before anything is touched.
// A failure in a later step runs recovery on the original source and returns
// the step's error; if recovery fails too the machine is left Degraded and a
// Degraded error is returned. current is persisted before Switch reports
// success. Switching to the current id reloads it.
//
// ctx cancellation is ignored once validation has passed.
func Switch[S any](ctx context.Context, m *Machine, target SwapTarget[S], id string) (DataSource, error) {
	m.switchMu.Lock()
	defer m.switchMu.Unlock()

	ds, err := m.reg.Get(id)
	if err != nil {
		m.metrics.SourceSwitch("rejected")
		return DataSource{}, err
	}
	original := m.reg.Current()

	prev, prevErr := m.State(), m.DegradedErr()
	m.transition(StateValidating)
	root, err := Validate(ds.Path)
	if err != nil {
		if prev == StateDegraded {
			m.degrade(prevErr)
		} else {
			m.transition(prev)
		}
		m.metrics.SourceSwitch("rejected")
		m.logger.Warn("Rejected data source switch", zap.String("id", id), zap.Error(err))
		return DataSource{}, errors.Wrapf(err, "cannot switch to data source %s", id)
	}
	ds.Path = root

	ctx = context.WithoutCancel(ctx)
	m.logger.Info("Switching data source",
		zap.String("from", original.ID),
		zap.String("to", id),
		zap.String("path", root))

	if err := runSwitch(ctx, m, target, id, root); err != nil {
		m.logger.Error("Data source switch failed, recovering",
			zap.String("id", id),
			zap.Error(err))

		if rerr := recoverSource(ctx, m, target, original); rerr != nil {
			cause := errors.WithSecondaryError(
				errors.Wrapf(err, "switch to %s failed", id),
				rerr)
			m.degrade(cause)
			m.metrics.SourceSwitch("degraded")
			m.logger.Error("Recovery failed, nothing is being watched",
				zap.String("original", original.ID),
				zap.Error(rerr))
			return DataSource{}, errors.WithHint(errors.Degraded(cause),
				"switch to a valid data source to resume watching")
		}

		m.metrics.SourceSwitch("recovered")
		return DataSource{}, errors.Wrapf(err, "switch to %s failed, restored %s", id, original.ID)
	}

	m.transition(StateActive)
	m.metrics.SourceSwitch("ok")
	m.logger.Info("Data source switched", zap.String("id", id))
	return ds, nil
}

func runSwitch[S any](ctx context.Context, m *Machine, target SwapTarget[S], id, root string) error {
	var loaded S

	steps := []struct {
		name string
		done State
		run  func() error
	}{
		{"stop watchers", StateWatchersStopped, target.StopWatchers},
		{"clear cache", StateCacheCleared, func() error { return target.ClearCache(ctx) }},
		{"load files", StateFilesLoaded, func() error {
			var err error
			loaded, err = target.LoadFiles(ctx, root)
			return err
		}},
		{"populate cache", StateCachePopulated, func() error { return target.PopulateCache(ctx, loaded) }},
		{"start watchers", StateWatchersRestarted, func() error { return target.StartWatchers(root) }},
	}

	for _, step := range steps {
		if err := step.run(); err != nil {
			return errors.Wrapf(err, "failed to %s", step.name)
		}
		m.transition(step.done)
	}

	if err := m.reg.SetCurrent(id); err != nil {
		return errors.Wrap(err, "failed to persist current source")
	}
	return nil
}

// recoverSource re-enters Active on the original source.
func recoverSource[S any](ctx context.Context, m *Machine, target SwapTarget[S], original DataSource) error {
	m.transition(StateRecovering)

	if err := target.StopWatchers(); err != nil {
		m.logger.Warn("Failed to stop watchers during recovery", zap.Error(err))
	}
	if err := target.ClearCache(ctx); err != nil {
		return errors.Wrap(err, "failed to clear cache")
	}

	root, err := Validate(original.Path)
	if err != nil {
		return err
	}
	loaded, err := target.LoadFiles(ctx, root)
	if err != nil {
		return errors.Wrap(err, "failed to reload original files")
	}
	if err := target.PopulateCache(ctx, loaded); err != nil {
		return errors.Wrap(err, "failed to repopulate cache")
	}
	if err := target.StartWatchers(root); err != nil {
		return errors.Wrap(err, "failed to restart watchers")
	}

	m.transition(StateActive)
	m.logger.Info("Recovered original data source", zap.String("id", original.ID))
	return nil
}
