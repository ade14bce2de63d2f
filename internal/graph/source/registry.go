// Package source manages the named data sources graphsync can serve and
// switches between them.
//
// The registry persists its configuration as a single JSON document:
//
//	{
//	  "current": "default",
//	  "sources": {
//	    "default": {"name": "Default", "path": "/home/me/graph"}
//	  }
//	}
//
// The document is always read and written wholesale.
package source

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/mschirtzinger/graphsync/internal/errors"
	"github.com/mschirtzinger/graphsync/internal/graph/store"
	"github.com/mschirtzinger/graphsync/internal/logging"
)

// DefaultID is the data source that always exists and can never be removed.
const DefaultID = "default"

// DataSource is a named directory holding nodes/ and links/.
type DataSource struct {
	// ID is the key in Config.Sources; it is not stored inside the entry.
	ID          string `json:"-" yaml:"id"`
	Name        string `json:"name" yaml:"name" validate:"required"`
	Path        string `json:"path" yaml:"path" validate:"required"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Config is the persisted registry document.
type Config struct {
	Current string                 `json:"current"`
	Sources map[string]*DataSource `json:"sources"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

var slugInvalid = regexp.MustCompile(`[^a-z0-9]+`)

// Registry is the set of known data sources and the current one.
// It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	path   string
	config Config
	logger *zap.Logger
}

// Open loads the registry document at configPath. When it does not exist it
// is created with a single default source rooted at defaultDataDir.
func Open(configPath, defaultDataDir string, logger *zap.Logger) (*Registry, error) {
	r := &Registry{
		path:   configPath,
		logger: logging.OrNop(logger).Named("sources"),
	}

	data, err := os.ReadFile(configPath)
	switch {
	case os.IsNotExist(err):
		abs, err := filepath.Abs(defaultDataDir)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid default data directory %s", defaultDataDir)
		}
		r.config = Config{
			Current: DefaultID,
			Sources: map[string]*DataSource{
				DefaultID: {ID: DefaultID, Name: "Default", Path: abs},
			},
		}
		if err := r.save(); err != nil {
			return nil, err
		}
		r.logger.Info("Created source configuration", zap.String("path", configPath))
		return r, nil

	case err != nil:
		return nil, errors.IO(configPath, errors.Wrap(err, "failed to read source configuration"))
	}

	if err := json.Unmarshal(data, &r.config); err != nil {
		return nil, errors.WithHint(
			errors.CorruptFile(configPath, err),
			"fix or delete the file; it is recreated with the default source")
	}

	repaired := false
	if r.config.Sources == nil {
		r.config.Sources = make(map[string]*DataSource)
	}
	for id, ds := range r.config.Sources {
		if ds == nil {
			delete(r.config.Sources, id)
			repaired = true
			continue
		}
		ds.ID = id
	}
	if _, ok := r.config.Sources[DefaultID]; !ok {
		abs, err := filepath.Abs(defaultDataDir)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid default data directory %s", defaultDataDir)
		}
		r.config.Sources[DefaultID] = &DataSource{ID: DefaultID, Name: "Default", Path: abs}
		repaired = true
	}
	if _, ok := r.config.Sources[r.config.Current]; !ok {
		r.logger.Warn("Current source is unknown, falling back to default",
			zap.String("current", r.config.Current))
		r.config.Current = DefaultID
		repaired = true
	}

	if repaired {
		if err := r.save(); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Path returns the registry document path.
func (r *Registry) Path() string { return r.path }

// Current returns a copy of the current data source.
func (r *Registry) Current() DataSource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return *r.config.Sources[r.config.Current]
}

// Get returns a copy of the data source with id.
func (r *Registry) Get(id string) (DataSource, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ds, ok := r.config.Sources[id]
	if !ok {
		return DataSource{}, errors.NotFound("data source", id)
	}
	return *ds, nil
}

// List returns every data source sorted by id.
func (r *Registry) List() []DataSource {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]DataSource, 0, len(r.config.Sources))
	for _, ds := range r.config.Sources {
		out = append(out, *ds)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Add registers ds under id. An empty id is derived from the name. When the
// id is taken, -1, -2, … is appended until it is free. The path is stored as
// given; Validate it before switching to it.
func (r *Registry) Add(id string, ds DataSource) (DataSource, error) {
	ds.Name = strings.TrimSpace(ds.Name)
	ds.Path = strings.TrimSpace(ds.Path)
	ds.Description = strings.TrimSpace(ds.Description)

	if err := validate.Struct(ds); err != nil {
		return DataSource{}, errors.Validation(id, describe(err))
	}

	if abs, err := filepath.Abs(ds.Path); err == nil {
		ds.Path = abs
	}

	base := Slugify(id)
	if base == "" {
		base = Slugify(ds.Name)
	}
	if base == "" {
		base = "source"
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ds.ID = base
	for i := 1; r.config.Sources[ds.ID] != nil; i++ {
		ds.ID = fmt.Sprintf("%s-%d", base, i)
	}

	entry := ds
	r.config.Sources[ds.ID] = &entry
	if err := r.save(); err != nil {
		delete(r.config.Sources, ds.ID)
		return DataSource{}, err
	}

	r.logger.Info("Added data source", zap.String("id", ds.ID), zap.String("path", ds.Path))
	return ds, nil
}

// Remove unregisters the data source with id. The default and the current
// source cannot be removed. Files on disk are not touched.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ds, ok := r.config.Sources[id]
	if !ok {
		return errors.NotFound("data source", id)
	}
	if id == DefaultID {
		return errors.Conflict(id, errors.New("the default data source cannot be removed"))
	}
	if id == r.config.Current {
		return errors.WithHint(
			errors.Conflict(id, errors.New("the current data source cannot be removed")),
			"switch to another source first")
	}

	delete(r.config.Sources, id)
	if err := r.save(); err != nil {
		r.config.Sources[id] = ds
		return err
	}

	r.logger.Info("Removed data source", zap.String("id", id))
	return nil
}

// SetCurrent persists id as the current source. It does not reload anything;
// use Switch for that.
func (r *Registry) SetCurrent(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.config.Sources[id]; !ok {
		return errors.NotFound("data source", id)
	}
	prev := r.config.Current
	r.config.Current = id
	if err := r.save(); err != nil {
		r.config.Current = prev
		return err
	}
	return nil
}

// Snapshot returns a deep copy of the registry document.
func (r *Registry) Snapshot() Config {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := Config{Current: r.config.Current, Sources: make(map[string]*DataSource, len(r.config.Sources))}
	for id, ds := range r.config.Sources {
		c := *ds
		out.Sources[id] = &c
	}
	return out
}

// save writes the document atomically. Callers hold r.mu.
func (r *Registry) save() error {
	data, err := json.MarshalIndent(r.config, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal source configuration")
	}
	data = append(data, '\n')

	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return errors.IO(r.path, errors.Wrap(err, "failed to create configuration directory"))
	}
	return store.WriteFileAtomic(r.path, data, 0o644, nil)
}

// Slugify lowercases s and replaces runs of other characters with "-".
func Slugify(s string) string {
	s = slugInvalid.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), "-")
	return strings.Trim(s, "-")
}

func describe(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	return errors.Newf("%s is required", strings.ToLower(fe.Field()))
}
