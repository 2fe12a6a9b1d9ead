package groups

import (
	"time"

	"github.com/google/uuid"
)

// Group represents a named collection of users and subgroups. A group is
// owned by exactly one user; only the owner may mutate it.
type Group struct {
	ID        uuid.UUID   `json:"id"`
	Name      string      `json:"name"`
	OwnerID   uuid.UUID   `json:"owner_id"`
	Members   []uuid.UUID `json:"members"`
	Subgroups []uuid.UUID `json:"subgroups"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
	DeletedAt *time.Time  `json:"deleted_at,omitempty"`
}

// CreateGroupInput describes a group creation request
type CreateGroupInput struct {
	Name        string      `json:"name"`
	OwnerID     uuid.UUID   `json:"owner_id"`
	MemberIDs   []uuid.UUID `json:"member_ids,omitempty"`
	SubgroupIDs []uuid.UUID `json:"subgroup_ids,omitempty"`
}

// UpdateGroupInput describes a group update request. Nil slices mean
// "leave unchanged"; empty slices clear the set.
type UpdateGroupInput struct {
	Name        *string     `json:"name,omitempty"`
	MemberIDs   []uuid.UUID `json:"member_ids,omitempty"`
	SubgroupIDs []uuid.UUID `json:"subgroup_ids,omitempty"`
}
