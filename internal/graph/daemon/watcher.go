package daemon

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/mschirtzinger/graphsync/internal/errors"
	"github.com/mschirtzinger/graphsync/internal/graph/schema"
)

// EventOp represents the type of file system operation.
type EventOp int

const (
	// OpCreate indicates a new file was created.
	OpCreate EventOp = iota
	// OpModify indicates an existing file was modified.
	OpModify
	// OpDelete indicates a file was deleted or renamed away.
	OpDelete
)

// String returns a human-readable representation of the operation.
func (op EventOp) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// FileEvent is a raw change to a node or link file.
type FileEvent struct {
	// Path is the absolute path to the file that changed.
	Path string
	Kind schema.Kind
	Op   EventOp
}

// FileWatcher watches the nodes and links directories for changes to entity
// files. It can be stopped and started again on different directories.
type FileWatcher struct {
	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	events   chan FileEvent
	errors   chan error
	done     chan struct{}
	wg       sync.WaitGroup
	running  bool
	nodesDir string
	linksDir string
}

// NewFileWatcher creates a stopped FileWatcher.
func NewFileWatcher() *FileWatcher {
	return &FileWatcher{}
}

// Start begins watching nodesDir and linksDir. Starting a watcher that already
// watches the same directories is a no-op; starting it on other directories is
// an error until Stop is called.
//
// Events and Errors return fresh channels after every Start.
func (fw *FileWatcher) Start(nodesDir, linksDir string) error {
	absNodes, err := filepath.Abs(nodesDir)
	if err != nil {
		return errors.Wrapf(err, "invalid nodes directory %s", nodesDir)
	}
	absLinks, err := filepath.Abs(linksDir)
	if err != nil {
		return errors.Wrapf(err, "invalid links directory %s", linksDir)
	}

	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.running {
		if fw.nodesDir == absNodes && fw.linksDir == absLinks {
			return nil
		}
		return errors.Newf("watcher already running on %s", filepath.Dir(fw.nodesDir))
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "failed to create fsnotify watcher")
	}

	if err := watcher.Add(absNodes); err != nil {
		watcher.Close()
		return errors.IO(absNodes, errors.Wrap(err, "failed to watch nodes directory"))
	}
	if err := watcher.Add(absLinks); err != nil {
		watcher.Close()
		return errors.IO(absLinks, errors.Wrap(err, "failed to watch links directory"))
	}

	fw.watcher = watcher
	fw.events = make(chan FileEvent, 100)
	fw.errors = make(chan error, 10)
	fw.done = make(chan struct{})
	fw.nodesDir = absNodes
	fw.linksDir = absLinks
	fw.running = true

	fw.wg.Add(1)
	go fw.processEvents(watcher, fw.events, fw.errors, fw.done)

	return nil
}

// Stop stops watching and releases the OS watch handles. It blocks until the
// event goroutine has exited, then closes the Events and Errors channels.
// Stopping a stopped watcher is a no-op.
func (fw *FileWatcher) Stop() error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if !fw.running {
		return nil
	}
	fw.running = false

	close(fw.done)
	err := fw.watcher.Close()
	fw.wg.Wait()

	close(fw.events)
	close(fw.errors)
	fw.watcher = nil

	if err != nil {
		return errors.Wrap(err, "failed to close watcher")
	}
	return nil
}

// Events returns the channel of the current run. It is closed by Stop.
func (fw *FileWatcher) Events() <-chan FileEvent {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.events
}

// Errors returns the error channel of the current run. It is closed by Stop.
func (fw *FileWatcher) Errors() <-chan error {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.errors
}

// IsRunning returns true if the watcher is currently running.
func (fw *FileWatcher) IsRunning() bool {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.running
}

// Dirs returns the watched nodes and links directories, empty when stopped.
func (fw *FileWatcher) Dirs() (nodesDir, linksDir string) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if !fw.running {
		return "", ""
	}
	return fw.nodesDir, fw.linksDir
}

func (fw *FileWatcher) processEvents(watcher *fsnotify.Watcher, events chan<- FileEvent, errs chan<- error, done <-chan struct{}) {
	defer fw.wg.Done()

	for {
		select {
		case <-done:
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			fileEvent, ok := fw.convertEvent(event)
			if !ok {
				continue
			}
			select {
			case events <- fileEvent:
			case <-done:
				return
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			select {
			case errs <- err:
			case <-done:
				return
			}
		}
	}
}

// convertEvent maps an fsnotify event to a FileEvent. Chmod events, files
// outside the two directories, and temp/backup/swap artifacts are dropped.
func (fw *FileWatcher) convertEvent(event fsnotify.Event) (FileEvent, bool) {
	if !schema.IsEntityFile(event.Name) {
		return FileEvent{}, false
	}

	kind, ok := fw.kindOf(event.Name)
	if !ok {
		return FileEvent{}, false
	}

	var op EventOp
	switch {
	case event.Has(fsnotify.Create):
		op = OpCreate
	case event.Has(fsnotify.Write):
		op = OpModify
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		// A rename's new name arrives as a separate Create.
		op = OpDelete
	default:
		return FileEvent{}, false
	}

	path, _ := filepath.Abs(event.Name)
	return FileEvent{Path: path, Kind: kind, Op: op}, true
}

// kindOf returns which watched directory path belongs to. Directories are
// immutable while running, so no lock is needed.
func (fw *FileWatcher) kindOf(path string) (schema.Kind, bool) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", false
	}
	switch filepath.Dir(abs) {
	case fw.nodesDir:
		return schema.KindNode, true
	case fw.linksDir:
		return schema.KindLink, true
	}
	return "", false
}
