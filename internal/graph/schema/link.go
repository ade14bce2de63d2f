package schema

import (
	"time"
)

// Link represents a directed, optionally labeled edge stored in links/*.json.
// SourceID and TargetID must name existing nodes when the link is created;
// the file format itself does not enforce that.
type Link struct {
	ID       string  `json:"id" validate:"required"`
	SourceID string  `json:"source_id" validate:"required"`
	TargetID string  `json:"target_id" validate:"required"`
	Label    *string `json:"label,omitempty" validate:"omitempty,max=500"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// Kind implements Entity.
func (l *Link) Kind() Kind { return KindLink }

// EntityID implements Entity.
func (l *Link) EntityID() string { return l.ID }

// Validate checks that the link has a canonical id and both endpoints.
func (l *Link) Validate() error {
	if err := validateStruct(l); err != nil {
		return err
	}
	return CheckID(KindLink, l.ID)
}

// Filename returns the canonical filename for this link: link_<suffix>.json
func (l *Link) Filename() string {
	return Filename(KindLink, l.ID)
}

// Touches reports whether the link has nodeID as either endpoint.
func (l *Link) Touches(nodeID string) bool {
	return l.SourceID == nodeID || l.TargetID == nodeID
}

// Touch sets UpdatedAt. Call it on every mutation.
func (l *Link) Touch(now time.Time) {
	t := now.UTC()
	l.UpdatedAt = &t
}

// Clone returns a deep copy.
func (l *Link) Clone() *Link {
	if l == nil {
		return nil
	}
	c := *l
	c.Label = clonePtr(l.Label)
	c.UpdatedAt = clonePtr(l.UpdatedAt)
	return &c
}
