// Package tracker records the files graphsync itself just wrote so the change
// watcher can tell self-inflicted filesystem events from external edits.
//
// The classification is a time-window heuristic: a path marked within the
// grace window counts as our own write. Marks are kept (not consumed) until the
// longer expiry window passes, because one atomic write produces several
// filesystem events for the same path.
package tracker

import (
	"path/filepath"
	"sync"
	"time"
)

// Defaults tuned for a watcher stability threshold of 500ms.
const (
	DefaultGrace  = time.Second
	DefaultExpiry = 2 * time.Second
)

// Config controls the tracker windows.
type Config struct {
	// Grace is how long after MarkOwn a path is reported as our own write.
	// Must exceed the watcher's stability threshold.
	Grace time.Duration

	// Expiry is how long a mark is retained before it is pruned.
	Expiry time.Duration

	// Now is the clock; tests replace it.
	Now func() time.Time
}

// DefaultConfig returns the default windows.
func DefaultConfig() Config {
	return Config{Grace: DefaultGrace, Expiry: DefaultExpiry, Now: time.Now}
}

// Tracker is safe for concurrent use.
type Tracker struct {
	mu     sync.Mutex
	marks  map[string]time.Time
	grace  time.Duration
	expiry time.Duration
	now    func() time.Time
}

// New creates a tracker with the default windows.
func New() *Tracker {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig creates a tracker with custom windows. Zero values fall back
// to the defaults; an expiry shorter than grace is raised to grace.
func NewWithConfig(cfg Config) *Tracker {
	if cfg.Grace <= 0 {
		cfg.Grace = DefaultGrace
	}
	if cfg.Expiry <= 0 {
		cfg.Expiry = DefaultExpiry
	}
	if cfg.Expiry < cfg.Grace {
		cfg.Expiry = cfg.Grace
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Tracker{
		marks:  make(map[string]time.Time),
		grace:  cfg.Grace,
		expiry: cfg.Expiry,
		now:    cfg.Now,
	}
}

// MarkOwn records that we are about to write (or delete) path.
// Call it immediately before issuing the filesystem operation.
func (t *Tracker) MarkOwn(path string) {
	key := normalize(path)

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.pruneLocked(now)
	t.marks[key] = now
}

// IsOwnWrite reports whether path was marked within the grace window.
func (t *Tracker) IsOwnWrite(path string) bool {
	key := normalize(path)

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.pruneLocked(now)

	markedAt, ok := t.marks[key]
	if !ok {
		return false
	}
	return now.Sub(markedAt) < t.grace
}

// Prune drops marks older than the expiry window.
func (t *Tracker) Prune() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pruneLocked(t.now())
}

// Len returns the number of retained marks.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.marks)
}

// Grace returns the configured grace window.
func (t *Tracker) Grace() time.Duration { return t.grace }

func (t *Tracker) pruneLocked(now time.Time) {
	for path, markedAt := range t.marks {
		if now.Sub(markedAt) >= t.expiry {
			delete(t.marks, path)
		}
	}
}

// normalize makes marks and lookups agree regardless of how the path was spelled.
func normalize(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}
