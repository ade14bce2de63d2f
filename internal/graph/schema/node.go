package schema

import (
	"strings"
	"time"

	"github.com/mschirtzinger/graphsync/internal/errors"
)

// MaxLabelLength bounds node and link labels.
const MaxLabelLength = 500

// Node represents a graph vertex stored as an individual JSON file in nodes/*.json.
type Node struct {
	ID    string  `json:"id" validate:"required"`
	Label string  `json:"label" validate:"required,max=500"`
	URL   *string `json:"url,omitempty"`

	// Position cache written back by the visualization. Always serialized,
	// null when unknown.
	X *float64 `json:"x" validate:"omitempty,finite"`
	Y *float64 `json:"y" validate:"omitempty,finite"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// Kind implements Entity.
func (n *Node) Kind() Kind { return KindNode }

// EntityID implements Entity.
func (n *Node) EntityID() string { return n.ID }

// Validate checks that the node has a canonical id, a non-blank label and a
// finite position.
func (n *Node) Validate() error {
	if err := validateStruct(n); err != nil {
		return err
	}
	if err := CheckID(KindNode, n.ID); err != nil {
		return err
	}
	if strings.TrimSpace(n.Label) == "" {
		return errors.New("label is required")
	}
	return nil
}

// Filename returns the canonical filename for this node: node_<suffix>.json
func (n *Node) Filename() string {
	return Filename(KindNode, n.ID)
}

// Touch sets UpdatedAt. Call it on every mutation.
func (n *Node) Touch(now time.Time) {
	t := now.UTC()
	n.UpdatedAt = &t
}

// Clone returns a deep copy so callers can mutate without aliasing cached values.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	c := *n
	c.URL = clonePtr(n.URL)
	c.X = clonePtr(n.X)
	c.Y = clonePtr(n.Y)
	c.UpdatedAt = clonePtr(n.UpdatedAt)
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
