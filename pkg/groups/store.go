package groups

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/lib/pq"
)

// Store handles group persistence over PostgreSQL. Groups are soft-deleted:
// every read filters on deleted_at IS NULL.
type Store struct {
	db *sql.DB
}

// NewStore creates a new group store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateGroup inserts the group, its member rows and its subgroup edges in
// a single transaction. The subgroup set is checked for cycles inside the
// transaction, so the acyclicity invariant holds under concurrent writers.
func (s *Store) CreateGroup(ctx context.Context, group *Group) error {
	if group.ID == uuid.Nil {
		group.ID = uuid.New()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return trace.ConnectionProblem(err, "failed to start transaction")
	}
	defer tx.Rollback()

	now := time.Now()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO groups (id, name, owner_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, group.ID, group.Name, group.OwnerID, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return trace.AlreadyExists("a group named %q already exists", group.Name)
		}
		return trace.Wrap(err, "failed to create group")
	}

	if err := insertMembers(ctx, tx, group.ID, group.Members); err != nil {
		return trace.Wrap(err)
	}
	if err := checkAcyclicTx(ctx, tx, group.ID, group.Subgroups); err != nil {
		return trace.Wrap(err)
	}
	if err := insertEdges(ctx, tx, group.ID, group.Subgroups); err != nil {
		return trace.Wrap(err)
	}

	if err := tx.Commit(); err != nil {
		return trace.Wrap(err, "failed to commit group creation")
	}

	group.CreatedAt = now
	group.UpdatedAt = now
	return nil
}

// GetGroup retrieves a group with its members and subgroups
func (s *Store) GetGroup(ctx context.Context, id uuid.UUID) (*Group, error) {
	query := `
		SELECT id, name, owner_id, created_at, updated_at
		FROM groups
		WHERE id = $1 AND deleted_at IS NULL
	`

	var group Group
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&group.ID,
		&group.Name,
		&group.OwnerID,
		&group.CreatedAt,
		&group.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, trace.NotFound("group %s not found", id)
	}
	if err != nil {
		return nil, trace.Wrap(err, "failed to get group")
	}

	if group.Members, err = s.MembersOf(ctx, id); err != nil {
		return nil, trace.Wrap(err)
	}
	if group.Subgroups, err = s.SubgroupsOf(ctx, id); err != nil {
		return nil, trace.Wrap(err)
	}

	return &group, nil
}

// GetGroupByName retrieves a group by its globally unique name
func (s *Store) GetGroupByName(ctx context.Context, name string) (*Group, error) {
	query := `
		SELECT id FROM groups
		WHERE name = $1 AND deleted_at IS NULL
	`

	var id uuid.UUID
	err := s.db.QueryRowContext(ctx, query, name).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, trace.NotFound("group %q not found", name)
	}
	if err != nil {
		return nil, trace.Wrap(err, "failed to get group by name")
	}

	return s.GetGroup(ctx, id)
}

// UpdateGroup rewrites the group row and, when the corresponding slices are
// non-nil, replaces the member set and the subgroup edge set. One
// transaction: either everything lands or nothing does. A replacement
// subgroup set is re-checked for cycles inside the transaction.
func (s *Store) UpdateGroup(ctx context.Context, group *Group, replaceMembers, replaceSubgroups bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return trace.ConnectionProblem(err, "failed to start transaction")
	}
	defer tx.Rollback()

	group.UpdatedAt = time.Now()
	result, err := tx.ExecContext(ctx, `
		UPDATE groups
		SET name = $1, owner_id = $2, updated_at = $3
		WHERE id = $4 AND deleted_at IS NULL
	`, group.Name, group.OwnerID, group.UpdatedAt, group.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return trace.AlreadyExists("a group named %q already exists", group.Name)
		}
		return trace.Wrap(err, "failed to update group")
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return trace.NotFound("group %s not found", group.ID)
	}

	if replaceMembers {
		if _, err := tx.ExecContext(ctx, `DELETE FROM group_members WHERE group_id = $1`, group.ID); err != nil {
			return trace.Wrap(err, "failed to clear members")
		}
		if err := insertMembers(ctx, tx, group.ID, group.Members); err != nil {
			return trace.Wrap(err)
		}
	}

	if replaceSubgroups {
		if _, err := tx.ExecContext(ctx, `DELETE FROM group_edges WHERE parent_id = $1`, group.ID); err != nil {
			return trace.Wrap(err, "failed to clear subgroup edges")
		}
		if err := checkAcyclicTx(ctx, tx, group.ID, group.Subgroups); err != nil {
			return trace.Wrap(err)
		}
		if err := insertEdges(ctx, tx, group.ID, group.Subgroups); err != nil {
			return trace.Wrap(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return trace.Wrap(err, "failed to commit group update")
	}
	return nil
}

// AddMember adds a single user to the group
func (s *Store) AddMember(ctx context.Context, groupID, userID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO group_members (group_id, user_id, added_at)
		VALUES ($1, $2, $3)
	`, groupID, userID, time.Now())
	if err != nil {
		if isUniqueViolation(err) {
			return trace.AlreadyExists("user %s is already a member of group %s", userID, groupID)
		}
		return trace.Wrap(err, "failed to add member")
	}
	return nil
}

// SoftDeleteGroup marks the group deleted without removing history
func (s *Store) SoftDeleteGroup(ctx context.Context, id uuid.UUID) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE groups SET deleted_at = $1
		WHERE id = $2 AND deleted_at IS NULL
	`, time.Now(), id)
	if err != nil {
		return trace.Wrap(err, "failed to delete group")
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return trace.NotFound("group %s not found", id)
	}
	return nil
}

// IsValidGroup reports whether the identifier denotes a live group
func (s *Store) IsValidGroup(ctx context.Context, id uuid.UUID) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM groups WHERE id = $1 AND deleted_at IS NULL`, id,
	).Scan(&count)
	if err != nil {
		return false, trace.Wrap(err, "failed to check group")
	}
	return count > 0, nil
}

// MembersOf returns the direct member users of a group
func (s *Store) MembersOf(ctx context.Context, groupID uuid.UUID) ([]uuid.UUID, error) {
	return queryIDs(ctx, s.db, `
		SELECT user_id FROM group_members WHERE group_id = $1
	`, groupID)
}

// DirectGroupsOf returns the groups the user is a direct member of
func (s *Store) DirectGroupsOf(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	return queryIDs(ctx, s.db, `
		SELECT m.group_id
		FROM group_members m
		JOIN groups g ON g.id = m.group_id
		WHERE m.user_id = $1 AND g.deleted_at IS NULL
	`, userID)
}

// SubgroupsOf returns the direct subgroups of a group
func (s *Store) SubgroupsOf(ctx context.Context, groupID uuid.UUID) ([]uuid.UUID, error) {
	return queryIDs(ctx, s.db, `
		SELECT e.child_id
		FROM group_edges e
		JOIN groups g ON g.id = e.child_id
		WHERE e.parent_id = $1 AND g.deleted_at IS NULL
	`, groupID)
}

// ParentGroupsOf returns the groups that directly contain the group
func (s *Store) ParentGroupsOf(ctx context.Context, groupID uuid.UUID) ([]uuid.UUID, error) {
	return queryIDs(ctx, s.db, `
		SELECT e.parent_id
		FROM group_edges e
		JOIN groups g ON g.id = e.parent_id
		WHERE e.child_id = $1 AND g.deleted_at IS NULL
	`, groupID)
}

// querier is satisfied by *sql.DB and *sql.Tx
type querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

// queryIDs runs a single-column UUID query
func queryIDs(ctx context.Context, q querier, query string, arg interface{}) ([]uuid.UUID, error) {
	rows, err := q.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, trace.Wrap(err, "failed to query ids")
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, trace.Wrap(err, "failed to scan id")
		}
		ids = append(ids, id)
	}
	return ids, trace.Wrap(rows.Err())
}

// checkAcyclicTx verifies, inside the caller's transaction, that linking
// the candidate subgroups under parentID keeps the containment graph
// acyclic. The affected group rows are locked first so concurrent edge
// writes serialize against this check instead of racing past it.
func checkAcyclicTx(ctx context.Context, tx *sql.Tx, parentID uuid.UUID, candidates []uuid.UUID) error {
	if len(candidates) == 0 {
		return nil
	}

	lockIDs := append([]uuid.UUID{parentID}, candidates...)
	if _, err := queryIDs(ctx, tx, `
		SELECT id FROM groups WHERE id = ANY($1) ORDER BY id FOR UPDATE
	`, pq.Array(lockIDs)); err != nil {
		if isLockConflict(err) {
			return trace.CompareFailed("concurrent hierarchy update on group %s, retry", parentID)
		}
		return trace.Wrap(err, "failed to lock groups")
	}

	for _, candidate := range candidates {
		if candidate == parentID {
			return trace.BadParameter("subgroup set would create a containment cycle")
		}
		reachable, err := reachesTx(ctx, tx, candidate, parentID)
		if err != nil {
			return trace.Wrap(err)
		}
		if reachable {
			return trace.BadParameter("subgroup set would create a containment cycle")
		}
	}
	return nil
}

// reachesTx reports whether target is reachable from start by following
// subgroup edges downward, reading through the caller's transaction.
func reachesTx(ctx context.Context, tx *sql.Tx, start, target uuid.UUID) (bool, error) {
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

		children, err := queryIDs(ctx, tx, `
			SELECT child_id FROM group_edges WHERE parent_id = $1
		`, current)
		if err != nil {
			return false, trace.Wrap(err)
		}
		stack = append(stack, children...)
	}
	return false, nil
}

// insertMembers inserts member rows within a transaction
func insertMembers(ctx context.Context, tx *sql.Tx, groupID uuid.UUID, members []uuid.UUID) error {
	now := time.Now()
	for _, userID := range members {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO group_members (group_id, user_id, added_at)
			VALUES ($1, $2, $3)
		`, groupID, userID, now)
		if err != nil {
			if isUniqueViolation(err) {
				return trace.AlreadyExists("user %s is already a member of group %s", userID, groupID)
			}
			return trace.Wrap(err, "failed to insert member")
		}
	}
	return nil
}

// insertEdges inserts subgroup edges within a transaction
func insertEdges(ctx context.Context, tx *sql.Tx, parentID uuid.UUID, subgroups []uuid.UUID) error {
	for _, childID := range subgroups {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO group_edges (parent_id, child_id)
			VALUES ($1, $2)
		`, parentID, childID)
		if err != nil {
			if isUniqueViolation(err) {
				return trace.AlreadyExists("group %s already contains subgroup %s", parentID, childID)
			}
			return trace.Wrap(err, "failed to insert subgroup edge")
		}
	}
	return nil
}

// isUniqueViolation reports whether err is a postgres unique constraint error
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// isLockConflict reports whether err is a postgres deadlock or
// serialization error from concurrent writers.
func isLockConflict(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && (pqErr.Code == "40P01" || pqErr.Code == "40001")
}
