// Package daemon detects out-of-band edits to entity files and applies them
// to the query cache.
//
// # Components
//
//   - FileWatcher: fsnotify over the nodes/ and links/ directories of the
//     current data source, emitting FileEvent values
//   - Watcher: queues FileEvents per path, waits for each file to settle, and
//     applies the result to the cache
//
// # Event mapping
//
// FileWatcher maps fsnotify operations as follows:
//   - fsnotify.Create → OpCreate
//   - fsnotify.Write → OpModify
//   - fsnotify.Remove → OpDelete
//   - fsnotify.Rename → OpDelete (the new name triggers a separate Create)
//
// Chmod events, non-.json names and .tmp/.backup/editor swap files are dropped.
//
// # Stability
//
// A queued path fires once its size and mtime, or its absence, have not
// changed for Config.StabilityThreshold. Editors that save through several
// writes or a rename therefore produce a single cache update.
//
// # Write-loop prevention
//
// Before applying a settled change the Watcher asks the write tracker whether
// this process wrote the path recently. If so the change is dropped: the cache
// was already updated by the mutation that wrote the file. This only holds
// while the tracker grace window is longer than the stability threshold plus
// one poll interval.
//
// # Classification
//
//   - file exists: read and validate it, upsert it into the cache, publish
//     added or updated with origin external; invalid files are logged and
//     skipped
//   - file absent: resolve the id from the path index (falling back to the
//     filename), delete it from the cache, publish deleted for it and for every
//     link the cache removed with a node
//
// Link files of cascaded links are left on disk. The next bulk load reports
// them as dangling and skips them.
//
// # Restart
//
// Stop closes the fsnotify watcher, drops queued changes, and waits for an
// in-flight change to finish. A stopped Watcher can be started on another
// data source.
package daemon
