package access

import (
	"context"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
)

// UserDirectory answers user existence queries
type UserDirectory interface {
	IsValidUser(ctx context.Context, id uuid.UUID) (bool, error)
}

// GroupDirectory answers group existence and closure queries
type GroupDirectory interface {
	IsValidGroup(ctx context.Context, id uuid.UUID) (bool, error)
}

// Validator resolves permission-list identifiers to a tagged entity kind.
// Each identifier is resolved exactly once per call.
type Validator struct {
	users  UserDirectory
	groups GroupDirectory
}

// NewValidator creates a new entity validator
func NewValidator(users UserDirectory, groups GroupDirectory) *Validator {
	return &Validator{users: users, groups: groups}
}

// ResolveEntity determines whether id denotes a user, a group, or nothing
func (v *Validator) ResolveEntity(ctx context.Context, id uuid.UUID) (EntityKind, error) {
	isUser, err := v.users.IsValidUser(ctx, id)
	if err != nil {
		return EntityUnknown, trace.Wrap(err)
	}
	if isUser {
		return EntityUser, nil
	}

	isGroup, err := v.groups.IsValidGroup(ctx, id)
	if err != nil {
		return EntityUnknown, trace.Wrap(err)
	}
	if isGroup {
		return EntityGroup, nil
	}

	return EntityUnknown, nil
}

// ValidateEntities rejects the whole list if any identifier resolves to
// neither a user nor a group.
func (v *Validator) ValidateEntities(ctx context.Context, ids []uuid.UUID) error {
	for _, id := range ids {
		kind, err := v.ResolveEntity(ctx, id)
		if err != nil {
			return trace.Wrap(err)
		}
		if kind == EntityUnknown {
			return trace.BadParameter("entity %s is neither a user nor a group", id)
		}
	}
	return nil
}
