// Package errors provides error handling for graphsync.
//
// It re-exports github.com/cockroachdb/errors (stack traces, wrapping, hints)
// and adds SyncError, the typed taxonomy surfaced at the engine boundary:
//
//	if err := st.SaveNode(n); err != nil {
//	    return errors.Wrap(err, "persist node")
//	}
//
//	var se *errors.SyncError
//	if errors.As(err, &se) && se.Kind == errors.KindCorruptFile {
//	    log.Warn("skipping", zap.String("path", se.Path))
//	}
package errors

import (
	"fmt"
	"strings"

	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

// User-facing messages and details
var (
	WithHint           = crdb.WithHint
	WithHintf          = crdb.WithHintf
	WithDetail         = crdb.WithDetail
	WithDetailf        = crdb.WithDetailf
	WithSecondaryError = crdb.WithSecondaryError
)

// Error inspection
var (
	Is           = crdb.Is
	IsAny        = crdb.IsAny
	As           = crdb.As
	Unwrap       = crdb.Unwrap
	UnwrapAll    = crdb.UnwrapAll
	GetAllHints  = crdb.GetAllHints
	FlattenHints = crdb.FlattenHints
)

// Kind classifies a SyncError.
type Kind int

const (
	// KindValidation is a missing or malformed field on a mutation, rejected before any I/O.
	KindValidation Kind = iota + 1
	// KindCorruptFile is an unparseable or schema-invalid entity file.
	KindCorruptFile
	// KindIO is a filesystem failure (permission denied, disk full, missing path).
	KindIO
	// KindReferential is a link naming a node that does not exist.
	KindReferential
	// KindNotFound is an unknown entity or data source id.
	KindNotFound
	// KindConflict is a registry operation that is not allowed in the current state.
	KindConflict
	// KindDegraded means a hot swap and its recovery both failed; the engine is not watching.
	KindDegraded
)

// String returns a human-readable representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindCorruptFile:
		return "corrupt_file"
	case KindIO:
		return "io"
	case KindReferential:
		return "referential"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// SyncError is the structured error returned across the engine boundary.
// It always names the offending entity id or file path.
type SyncError struct {
	Kind  Kind
	ID    string
	Path  string
	Cause error
}

func (e *SyncError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.ID != "" {
		fmt.Fprintf(&b, " %s", e.ID)
	}
	if e.Path != "" {
		fmt.Fprintf(&b, " (%s)", e.Path)
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

func (e *SyncError) Unwrap() error { return e.Cause }

// Validation reports an invalid entity or input.
func Validation(id string, cause error) error {
	return &SyncError{Kind: KindValidation, ID: id, Cause: cause}
}

// CorruptFile reports a file that could not be parsed or validated.
func CorruptFile(path string, cause error) error {
	return &SyncError{Kind: KindCorruptFile, Path: path, Cause: cause}
}

// IO reports a filesystem failure on path.
func IO(path string, cause error) error {
	return &SyncError{Kind: KindIO, Path: path, Cause: cause}
}

// Referential reports a link endpoint that names a missing node.
func Referential(linkID, missingNodeID string) error {
	return &SyncError{
		Kind:  KindReferential,
		ID:    linkID,
		Cause: Newf("node %s does not exist", missingNodeID),
	}
}

// NotFound reports an unknown id.
func NotFound(what, id string) error {
	return &SyncError{Kind: KindNotFound, ID: id, Cause: Newf("%s not found", what)}
}

// Conflict reports an operation rejected by the current state.
func Conflict(id string, cause error) error {
	return &SyncError{Kind: KindConflict, ID: id, Cause: cause}
}

// Degraded reports that the engine is left without watchers after a failed recovery.
func Degraded(cause error) error {
	return &SyncError{Kind: KindDegraded, Cause: cause}
}

// KindOf returns the Kind of the first SyncError in err's chain, or 0.
func KindOf(err error) Kind {
	var se *SyncError
	if As(err, &se) {
		return se.Kind
	}
	return 0
}

// IsKind reports whether err carries a SyncError of the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
