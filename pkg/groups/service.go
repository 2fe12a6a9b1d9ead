package groups

import (
	"context"

	"github.com/google/uuid"
	"github.com/gravitational/trace"

	"github.com/perchsocial/perch/pkg/observability"
)

// GroupStore is the persistence surface the service needs. *Store
// implements it.
type GroupStore interface {
	EdgeSource
	CreateGroup(ctx context.Context, group *Group) error
	GetGroup(ctx context.Context, id uuid.UUID) (*Group, error)
	GetGroupByName(ctx context.Context, name string) (*Group, error)
	UpdateGroup(ctx context.Context, group *Group, replaceMembers, replaceSubgroups bool) error
	AddMember(ctx context.Context, groupID, userID uuid.UUID) error
	SoftDeleteGroup(ctx context.Context, id uuid.UUID) error
	IsValidGroup(ctx context.Context, id uuid.UUID) (bool, error)
}

// UserDirectory validates user identifiers before they are attached to a
// group.
type UserDirectory interface {
	IsValidUser(ctx context.Context, id uuid.UUID) (bool, error)
}

// ClosureInvalidator drops cached user closures after hierarchy
// mutations. The access engine's closure cache implements it.
type ClosureInvalidator interface {
	InvalidateClosure(userID uuid.UUID)
	PurgeClosures()
}

// Service enforces the group business rules: unique names, owner-only
// mutation, valid member and subgroup references, and an acyclic
// containment graph.
type Service struct {
	store      GroupStore
	users      UserDirectory
	hierarchy  *Hierarchy
	invalidate ClosureInvalidator
	logger     *observability.Logger
}

// NewService creates a new group service
func NewService(store GroupStore, users UserDirectory, logger *observability.Logger) *Service {
	return &Service{
		store:     store,
		users:     users,
		hierarchy: NewHierarchy(store),
		logger:    logger,
	}
}

// Hierarchy exposes the containment graph walker built over the service's
// store.
func (s *Service) Hierarchy() *Hierarchy {
	return s.hierarchy
}

// SetClosureInvalidator wires the cache invalidation hook. Optional; set
// after construction because the engine is built on top of this service.
func (s *Service) SetClosureInvalidator(invalidate ClosureInvalidator) {
	s.invalidate = invalidate
}

// purgeClosures drops every cached closure after a structural mutation
func (s *Service) purgeClosures() {
	if s.invalidate != nil {
		s.invalidate.PurgeClosures()
	}
}

// invalidateClosure drops a single user's cached closure
func (s *Service) invalidateClosure(userID uuid.UUID) {
	if s.invalidate != nil {
		s.invalidate.InvalidateClosure(userID)
	}
}

// Create creates a group owned by the acting user. Member and subgroup
// references are validated up front and the whole request is rejected if
// any reference is invalid or the subgroup set would introduce a cycle.
func (s *Service) Create(ctx context.Context, actorID uuid.UUID, input CreateGroupInput) (*Group, error) {
	if input.Name == "" {
		return nil, trace.BadParameter("group name is required")
	}

	ownerID := input.OwnerID
	if ownerID == uuid.Nil {
		ownerID = actorID
	}

	if err := s.validateMembers(ctx, input.MemberIDs); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := s.validateSubgroups(ctx, input.SubgroupIDs); err != nil {
		return nil, trace.Wrap(err)
	}

	group := &Group{
		ID:        uuid.New(),
		Name:      input.Name,
		OwnerID:   ownerID,
		Members:   input.MemberIDs,
		Subgroups: input.SubgroupIDs,
	}

	// The group does not exist yet, so only a self-reference or a path
	// through an existing edge back to this fresh ID could cycle.
	cyclic, err := s.hierarchy.WouldCreateCycle(ctx, group.ID, input.SubgroupIDs)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if cyclic {
		return nil, trace.BadParameter("subgroup set would create a containment cycle")
	}

	if err := s.store.CreateGroup(ctx, group); err != nil {
		return nil, trace.Wrap(err)
	}
	s.purgeClosures()

	s.logger.WithField("group_id", group.ID.String()).Info("group created")
	return group, nil
}

// Get retrieves a group by identifier
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Group, error) {
	group, err := s.store.GetGroup(ctx, id)
	return group, trace.Wrap(err)
}

// GetByName retrieves a group by its unique name
func (s *Service) GetByName(ctx context.Context, name string) (*Group, error) {
	group, err := s.store.GetGroupByName(ctx, name)
	return group, trace.Wrap(err)
}

// Update applies a partial update. Only the owner may update a group.
// Nil member or subgroup slices leave the respective set untouched.
func (s *Service) Update(ctx context.Context, actorID, groupID uuid.UUID, input UpdateGroupInput) (*Group, error) {
	group, err := s.requireOwner(ctx, actorID, groupID)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	if input.Name != nil {
		if *input.Name == "" {
			return nil, trace.BadParameter("group name cannot be empty")
		}
		group.Name = *input.Name
	}

	replaceMembers := input.MemberIDs != nil
	if replaceMembers {
		if err := s.validateMembers(ctx, input.MemberIDs); err != nil {
			return nil, trace.Wrap(err)
		}
		group.Members = input.MemberIDs
	}

	replaceSubgroups := input.SubgroupIDs != nil
	if replaceSubgroups {
		if err := s.validateSubgroups(ctx, input.SubgroupIDs); err != nil {
			return nil, trace.Wrap(err)
		}
		cyclic, err := s.hierarchy.WouldCreateCycle(ctx, groupID, input.SubgroupIDs)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		if cyclic {
			return nil, trace.BadParameter("subgroup set would create a containment cycle")
		}
		group.Subgroups = input.SubgroupIDs
	}

	if err := s.store.UpdateGroup(ctx, group, replaceMembers, replaceSubgroups); err != nil {
		return nil, trace.Wrap(err)
	}
	if replaceMembers || replaceSubgroups {
		s.purgeClosures()
	}
	return group, nil
}

// AddMember adds a user to a group. Only the owner may add members; adding
// an existing member is a conflict.
func (s *Service) AddMember(ctx context.Context, actorID, groupID, userID uuid.UUID) error {
	if _, err := s.requireOwner(ctx, actorID, groupID); err != nil {
		return trace.Wrap(err)
	}

	valid, err := s.users.IsValidUser(ctx, userID)
	if err != nil {
		return trace.Wrap(err)
	}
	if !valid {
		return trace.BadParameter("user %s does not exist", userID)
	}

	if err := s.store.AddMember(ctx, groupID, userID); err != nil {
		return trace.Wrap(err)
	}
	s.invalidateClosure(userID)
	return nil
}

// TransferOwnership moves the group to a new owner. Only the current owner
// may transfer.
func (s *Service) TransferOwnership(ctx context.Context, actorID, groupID, newOwnerID uuid.UUID) error {
	group, err := s.requireOwner(ctx, actorID, groupID)
	if err != nil {
		return trace.Wrap(err)
	}

	valid, err := s.users.IsValidUser(ctx, newOwnerID)
	if err != nil {
		return trace.Wrap(err)
	}
	if !valid {
		return trace.BadParameter("user %s does not exist", newOwnerID)
	}

	group.OwnerID = newOwnerID
	return trace.Wrap(s.store.UpdateGroup(ctx, group, false, false))
}

// Delete soft-deletes a group. Only the owner may delete.
func (s *Service) Delete(ctx context.Context, actorID, groupID uuid.UUID) error {
	if _, err := s.requireOwner(ctx, actorID, groupID); err != nil {
		return trace.Wrap(err)
	}
	if err := s.store.SoftDeleteGroup(ctx, groupID); err != nil {
		return trace.Wrap(err)
	}
	s.purgeClosures()
	s.logger.WithField("group_id", groupID.String()).Info("group deleted")
	return nil
}

// GroupsContainingUser returns every group the user effectively belongs
// to, including groups that contain one of the user's groups as a
// subgroup.
func (s *Service) GroupsContainingUser(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	closure, err := s.hierarchy.ClosureOfUser(ctx, userID)
	return closure, trace.Wrap(err)
}

// requireOwner loads the group and verifies the actor owns it
func (s *Service) requireOwner(ctx context.Context, actorID, groupID uuid.UUID) (*Group, error) {
	group, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if group.OwnerID != actorID {
		return nil, trace.AccessDenied("only the group owner may modify group %s", groupID)
	}
	return group, nil
}

// validateMembers checks every member reference against the user directory
func (s *Service) validateMembers(ctx context.Context, memberIDs []uuid.UUID) error {
	for _, id := range memberIDs {
		valid, err := s.users.IsValidUser(ctx, id)
		if err != nil {
			return trace.Wrap(err)
		}
		if !valid {
			return trace.BadParameter("user %s does not exist", id)
		}
	}
	return nil
}

// validateSubgroups checks every subgroup reference against the store
func (s *Service) validateSubgroups(ctx context.Context, subgroupIDs []uuid.UUID) error {
	for _, id := range subgroupIDs {
		valid, err := s.store.IsValidGroup(ctx, id)
		if err != nil {
			return trace.Wrap(err)
		}
		if !valid {
			return trace.BadParameter("group %s does not exist", id)
		}
	}
	return nil
}
