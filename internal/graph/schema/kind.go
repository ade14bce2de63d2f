package schema

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mschirtzinger/graphsync/internal/errors"
)

// Kind distinguishes node records from link records.
type Kind string

const (
	// KindNode is a graph vertex stored under nodes/.
	KindNode Kind = "node"
	// KindLink is a directed edge stored under links/.
	KindLink Kind = "link"
)

const (
	// TempSuffix marks an in-progress atomic write.
	TempSuffix = ".tmp"
	// BackupSuffix marks the previous version held during an atomic write.
	BackupSuffix = ".backup"
	fileExt      = ".json"
)

// Kinds lists every entity kind in load order (nodes before links).
var Kinds = []Kind{KindNode, KindLink}

// String returns the kind name.
func (k Kind) String() string { return string(k) }

// Dir returns the subdirectory name holding files of this kind.
func (k Kind) Dir() string {
	switch k {
	case KindNode:
		return "nodes"
	case KindLink:
		return "links"
	default:
		return ""
	}
}

// Prefix returns the id/filename prefix of this kind ("node_", "link_").
func (k Kind) Prefix() string {
	return string(k) + "_"
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindNode || k == KindLink
}

// Entity is the common surface of Node and Link.
type Entity interface {
	Kind() Kind
	EntityID() string
	Validate() error
}

// CanonicalID returns id with the kind prefix, adding it to a bare id:
// "abc" and "node_abc" are the same node.
func CanonicalID(kind Kind, id string) string {
	id = strings.TrimSpace(id)
	if id == "" || strings.HasPrefix(id, kind.Prefix()) {
		return id
	}
	return kind.Prefix() + id
}

// CheckID reports whether id is a canonical id of kind: the kind prefix
// followed by a non-empty suffix that is usable as a filename.
func CheckID(kind Kind, id string) error {
	suffix, ok := strings.CutPrefix(id, kind.Prefix())
	if !ok {
		return errors.Newf("id %q must start with %s", id, kind.Prefix())
	}
	if suffix == "" || suffix == "." || suffix == ".." || strings.ContainsAny(suffix, `/\`) {
		return errors.Newf("id %q has no usable suffix after %s", id, kind.Prefix())
	}
	return nil
}

// Filename returns the canonical filename for an entity of kind with the given id.
// The kind prefix is stripped from the id and re-added, so "node_abc" and "abc"
// both map to "node_abc.json". Stored ids always carry the prefix (see CheckID),
// which makes the mapping one to one.
func Filename(kind Kind, id string) string {
	return kind.Prefix() + strings.TrimPrefix(id, kind.Prefix()) + fileExt
}

// IDFromFilename reverses Filename. The name may be a full path.
func IDFromFilename(kind Kind, name string) (string, error) {
	base := filepath.Base(name)
	if !strings.HasSuffix(base, fileExt) {
		return "", fmt.Errorf("invalid filename %s: expected %s<id>%s", base, kind.Prefix(), fileExt)
	}
	stem := strings.TrimSuffix(base, fileExt)
	suffix := strings.TrimPrefix(stem, kind.Prefix())
	if suffix == "" || suffix == stem {
		return "", fmt.Errorf("invalid filename %s: expected %s<id>%s", base, kind.Prefix(), fileExt)
	}
	return kind.Prefix() + suffix, nil
}

// IsArtifact reports whether name is a temp, backup or editor swap file.
func IsArtifact(name string) bool {
	base := filepath.Base(name)
	switch {
	case strings.HasSuffix(base, TempSuffix),
		strings.HasSuffix(base, BackupSuffix),
		strings.HasSuffix(base, ".swp"),
		strings.HasSuffix(base, ".swx"),
		strings.HasSuffix(base, "~"),
		strings.HasPrefix(base, ".#"),
		base == "4913":
		return true
	}
	return false
}

// IsEntityFile reports whether name looks like an entity file (.json, not an artifact).
func IsEntityFile(name string) bool {
	return strings.HasSuffix(name, fileExt) && !IsArtifact(name)
}

// Marshal serializes an entity into its canonical file form.
func Marshal(e Entity) ([]byte, error) {
	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to marshal %s %s", e.Kind(), e.EntityID())
	}
	return append(data, '\n'), nil
}

// Decode parses and validates a file body of the given kind.
func Decode(kind Kind, data []byte) (Entity, error) {
	var e Entity
	switch kind {
	case KindNode:
		e = &Node{}
	case KindLink:
		e = &Link{}
	default:
		return nil, errors.Newf("unknown entity kind %q", kind)
	}

	if err := json.Unmarshal(data, e); err != nil {
		return nil, errors.Wrap(err, "failed to parse")
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// ReadFile reads and validates one entity file.
// Read failures are returned as-is; parse and validation failures, and a body
// whose id is not the one the filename encodes, are CorruptFile errors naming
// path.
func ReadFile(kind Kind, path string) (Entity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	e, err := Decode(kind, data)
	if err != nil {
		return nil, errors.CorruptFile(path, err)
	}
	want, err := IDFromFilename(kind, path)
	if err != nil {
		return nil, errors.CorruptFile(path, err)
	}
	if e.EntityID() != want {
		return nil, errors.CorruptFile(path,
			errors.Newf("file holds id %q but its name is for %q", e.EntityID(), want))
	}
	return e, nil
}
