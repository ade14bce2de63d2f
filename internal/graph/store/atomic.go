package store

import (
	"os"

	"github.com/mschirtzinger/graphsync/internal/errors"
	"github.com/mschirtzinger/graphsync/internal/graph/schema"
)

// Marker is told about every path the store is about to touch.
// *tracker.Tracker satisfies it.
type Marker interface {
	MarkOwn(path string)
}

// renameFile is replaced in tests to inject failures.
var renameFile = os.Rename

// WriteFileAtomic replaces path with data so that readers never observe a
// partially written file:
//
//  1. data is written and synced to path.tmp
//  2. an existing path is renamed to path.backup
//  3. path.tmp is renamed to path
//  4. path.backup is removed
//
// If step 3 fails the backup is renamed back, so the original is never left
// missing. marker (may be nil) is notified before the first filesystem call.
func WriteFileAtomic(path string, data []byte, perm os.FileMode, marker Marker) error {
	if marker != nil {
		marker.MarkOwn(path)
	}

	tmp := path + schema.TempSuffix
	backup := path + schema.BackupSuffix

	if err := writeSynced(tmp, data, perm); err != nil {
		_ = os.Remove(tmp)
		return errors.IO(tmp, errors.Wrap(err, "failed to write temp file"))
	}

	backedUp := false
	if err := renameFile(path, backup); err == nil {
		backedUp = true
	} else if !os.IsNotExist(err) {
		_ = os.Remove(tmp)
		return errors.IO(path, errors.Wrap(err, "failed to back up existing file"))
	}

	if err := renameFile(tmp, path); err != nil {
		cause := errors.Wrap(err, "failed to move temp file into place")
		if backedUp {
			if rbErr := renameFile(backup, path); rbErr != nil {
				cause = errors.WithSecondaryError(cause, rbErr)
			}
		}
		_ = os.Remove(tmp)
		return errors.IO(path, cause)
	}

	// The new content is complete at this point. A backup that cannot be
	// removed is skipped by enumeration and replaced by the next save.
	if backedUp {
		_ = os.Remove(backup)
	}
	return nil
}

func writeSynced(path string, data []byte, perm os.FileMode) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
