package access

import (
	"time"

	"github.com/google/uuid"
)

// Kind distinguishes the two permission record kinds a post carries
type Kind string

const (
	// KindView controls who may read a post
	KindView Kind = "view"
	// KindEdit controls who may modify a post
	KindEdit Kind = "edit"
)

// Record is a per-post, per-kind permission rule. When Inherit is true the
// entity set is a cached snapshot only; effective access is delegated to
// the parent post's record of the same kind.
type Record struct {
	PostID    uuid.UUID   `json:"post_id"`
	Kind      Kind        `json:"kind"`
	Inherit   bool        `json:"inherit"`
	Entities  []uuid.UUID `json:"entities"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// SetPermissionsInput describes a permission update for both kinds at
// once. Entity lists are ignored for a kind whose inherit flag is set.
type SetPermissionsInput struct {
	InheritView  bool        `json:"inherit_view"`
	InheritEdit  bool        `json:"inherit_edit"`
	ViewEntities []uuid.UUID `json:"view_entities,omitempty"`
	EditEntities []uuid.UUID `json:"edit_entities,omitempty"`
}

// EffectivePermission is one row of the merged audit table for a post
type EffectivePermission struct {
	EntityID uuid.UUID `json:"entity_id"`
	CanView  bool      `json:"can_view"`
	CanEdit  bool      `json:"can_edit"`
}

// EntityKind tags what an identifier in a permission list denotes
type EntityKind int

const (
	// EntityUnknown means the identifier matches no user and no group
	EntityUnknown EntityKind = iota
	// EntityUser means the identifier denotes a user
	EntityUser
	// EntityGroup means the identifier denotes a group
	EntityGroup
)

func (k EntityKind) String() string {
	switch k {
	case EntityUser:
		return "user"
	case EntityGroup:
		return "group"
	default:
		return "unknown"
	}
}
