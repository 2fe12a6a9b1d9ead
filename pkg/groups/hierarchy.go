package groups

import (
	"context"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
)

// EdgeSource answers containment-edge queries over the group graph.
// *Store implements it; tests substitute in-memory fakes.
type EdgeSource interface {
	// DirectGroupsOf returns the groups the user is a direct member of.
	DirectGroupsOf(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
	// SubgroupsOf returns the direct subgroups of a group.
	SubgroupsOf(ctx context.Context, groupID uuid.UUID) ([]uuid.UUID, error)
	// ParentGroupsOf returns the groups that directly contain the group.
	ParentGroupsOf(ctx context.Context, groupID uuid.UUID) ([]uuid.UUID, error)
}

// Hierarchy walks the containment graph. Every traversal carries a visited
// set, so walks terminate even if the stored graph is corrupt and cyclic.
type Hierarchy struct {
	edges EdgeSource
}

// NewHierarchy creates a hierarchy walker over the given edge source
func NewHierarchy(edges EdgeSource) *Hierarchy {
	return &Hierarchy{edges: edges}
}

// ClosureOfUser returns every group the user effectively belongs to: the
// direct memberships plus, transitively, every group containing one of
// them as a subgroup.
func (h *Hierarchy) ClosureOfUser(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	direct, err := h.edges.DirectGroupsOf(ctx, userID)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	visited := make(map[uuid.UUID]struct{}, len(direct))
	stack := append([]uuid.UUID(nil), direct...)
	closure := make([]uuid.UUID, 0, len(direct))

	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if _, seen := visited[current]; seen {
			continue
		}
		visited[current] = struct{}{}
		closure = append(closure, current)

		parents, err := h.edges.ParentGroupsOf(ctx, current)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		stack = append(stack, parents...)
	}

	return closure, nil
}

// ContainsGroup reports whether groupID transitively contains candidateID
// as a subgroup.
func (h *Hierarchy) ContainsGroup(ctx context.Context, candidateID, groupID uuid.UUID) (bool, error) {
	return h.reaches(ctx, groupID, candidateID)
}

// WouldCreateCycle reports whether adding the candidate subgroups to
// parentID would let parentID reach itself. Run before committing any
// subgroup edge set.
func (h *Hierarchy) WouldCreateCycle(ctx context.Context, parentID uuid.UUID, candidateIDs []uuid.UUID) (bool, error) {
	for _, candidate := range candidateIDs {
		if candidate == parentID {
			return true, nil
		}
		reachable, err := h.reaches(ctx, candidate, parentID)
		if err != nil {
			return false, trace.Wrap(err)
		}
		if reachable {
			return true, nil
		}
	}
	return false, nil
}

// reaches reports whether target is reachable from start by following
// subgroup edges downward.
func (h *Hierarchy) reaches(ctx context.Context, start, target uuid.UUID) (bool, error) {
	visited := make(map[uuid.UUID]struct{})
	stack := []uuid.UUID{start}

	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if current == target {
			return true, nil
		}
		if _, seen := visited[current]; seen {
			continue
		}
		visited[current] = struct{}{}

		subgroups, err := h.edges.SubgroupsOf(ctx, current)
		if err != nil {
			return false, trace.Wrap(err)
		}
		stack = append(stack, subgroups...)
	}

	return false, nil
}
