package source

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/mschirtzinger/graphsync/internal/errors"
	"github.com/mschirtzinger/graphsync/internal/graph/schema"
)

// Validate resolves path to an absolute directory and makes sure it can hold a
// graph: the root must be a directory (it is created when missing) and the
// nodes/ and links/ subdirectories are created when absent.
func Validate(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.Validation("", errors.New("path is required"))
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", errors.IO(path, errors.Wrap(err, "cannot resolve path"))
	}

	info, err := os.Stat(abs)
	switch {
	case err == nil && !info.IsDir():
		return "", errors.WithHint(
			errors.IO(abs, errors.New("not a directory")),
			"point the data source at a directory, not a file")
	case err != nil && !os.IsNotExist(err):
		return "", errors.IO(abs, err)
	}

	for _, kind := range schema.Kinds {
		dir := filepath.Join(abs, kind.Dir())
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", errors.IO(dir, errors.Wrapf(err, "cannot create %s directory", kind.Dir()))
		}
	}
	return abs, nil
}
