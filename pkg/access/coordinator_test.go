package access

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDirectory validates against fixed user and group sets
type fakeDirectory struct {
	users  map[uuid.UUID]bool
	groups map[uuid.UUID]bool
}

func (f *fakeDirectory) IsValidUser(_ context.Context, id uuid.UUID) (bool, error) {
	return f.users[id], nil
}

func (f *fakeDirectory) IsValidGroup(_ context.Context, id uuid.UUID) (bool, error) {
	return f.groups[id], nil
}

// fakeNotifier records published events
type fakeNotifier struct {
	mu     sync.Mutex
	events []string
	posts  []uuid.UUID
}

func (f *fakeNotifier) Publish(_ context.Context, eventKind string, postID uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, eventKind)
	f.posts = append(f.posts, postID)
}

type coordinatorFixture struct {
	tree        *fakeTree
	records     *fakeRecords
	notifier    *fakeNotifier
	directory   *fakeDirectory
	coordinator *Coordinator
}

func newCoordinatorFixture(users, groups []uuid.UUID) *coordinatorFixture {
	f := &coordinatorFixture{
		tree:     newFakeTree(),
		records:  newFakeRecords(),
		notifier: &fakeNotifier{},
		directory: &fakeDirectory{
			users:  make(map[uuid.UUID]bool),
			groups: make(map[uuid.UUID]bool),
		},
	}
	for _, id := range users {
		f.directory.users[id] = true
	}
	for _, id := range groups {
		f.directory.groups[id] = true
	}
	validator := NewValidator(f.directory, f.directory)
	f.coordinator = NewCoordinator(f.records, f.tree, validator, f.notifier, testLogger(), testMetrics())
	return f
}

func TestSetPermissions_PostNotFound(t *testing.T) {
	f := newCoordinatorFixture(nil, nil)

	err := f.coordinator.SetPermissions(context.Background(), uuid.New(), SetPermissionsInput{
		InheritView: true,
		InheritEdit: true,
	})
	assert.True(t, trace.IsNotFound(err))
}

func TestSetPermissions_EmptyExplicitListRejected(t *testing.T) {
	user := uuid.New()
	f := newCoordinatorFixture([]uuid.UUID{user}, nil)
	post := uuid.New()
	f.tree.addPost(post, user, nil)
	f.records.set(explicitRecord(post, KindView, user))
	f.records.set(explicitRecord(post, KindEdit, user))

	err := f.coordinator.SetPermissions(context.Background(), post, SetPermissionsInput{
		InheritView: false,
		InheritEdit: true,
	})
	assert.True(t, trace.IsBadParameter(err))

	// No partial write: the prior records survive untouched.
	record, err := f.records.GetRecord(context.Background(), post, KindView)
	require.NoError(t, err)
	assert.False(t, record.Inherit)
	assert.Equal(t, []uuid.UUID{user}, record.Entities)
	assert.Empty(t, f.notifier.events)
}

func TestSetPermissions_UnknownEntityRejected(t *testing.T) {
	user := uuid.New()
	f := newCoordinatorFixture([]uuid.UUID{user}, nil)
	post := uuid.New()
	f.tree.addPost(post, user, nil)

	err := f.coordinator.SetPermissions(context.Background(), post, SetPermissionsInput{
		InheritView:  false,
		ViewEntities: []uuid.UUID{uuid.New()},
		InheritEdit:  true,
	})
	assert.True(t, trace.IsBadParameter(err))
}

func TestSetPermissions_InheritClearsEntities(t *testing.T) {
	user := uuid.New()
	f := newCoordinatorFixture([]uuid.UUID{user}, nil)
	post := uuid.New()
	f.tree.addPost(post, user, nil)
	f.records.set(explicitRecord(post, KindView, user))
	f.records.set(explicitRecord(post, KindEdit, user))

	err := f.coordinator.SetPermissions(context.Background(), post, SetPermissionsInput{
		InheritView: true,
		InheritEdit: true,
	})
	require.NoError(t, err)

	for _, kind := range []Kind{KindView, KindEdit} {
		record, err := f.records.GetRecord(context.Background(), post, kind)
		require.NoError(t, err)
		assert.True(t, record.Inherit)
		assert.Empty(t, record.Entities)
	}
	assert.Contains(t, f.notifier.events, EventPermissionsChanged)
}

func TestSetPermissions_MixedKinds(t *testing.T) {
	user := uuid.New()
	group := uuid.New()
	f := newCoordinatorFixture([]uuid.UUID{user}, []uuid.UUID{group})
	post := uuid.New()
	f.tree.addPost(post, user, nil)

	err := f.coordinator.SetPermissions(context.Background(), post, SetPermissionsInput{
		InheritView:  false,
		ViewEntities: []uuid.UUID{user, group},
		InheritEdit:  true,
	})
	require.NoError(t, err)

	view, err := f.records.GetRecord(context.Background(), post, KindView)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{user, group}, view.Entities)

	edit, err := f.records.GetRecord(context.Background(), post, KindEdit)
	require.NoError(t, err)
	assert.True(t, edit.Inherit)
}

func TestSetPermissions_Idempotent(t *testing.T) {
	user := uuid.New()
	f := newCoordinatorFixture([]uuid.UUID{user}, nil)
	post := uuid.New()
	f.tree.addPost(post, user, nil)

	input := SetPermissionsInput{
		InheritView:  false,
		ViewEntities: []uuid.UUID{user},
		InheritEdit:  false,
		EditEntities: []uuid.UUID{user},
	}
	require.NoError(t, f.coordinator.SetPermissions(context.Background(), post, input))
	first, err := f.records.GetRecord(context.Background(), post, KindView)
	require.NoError(t, err)

	require.NoError(t, f.coordinator.SetPermissions(context.Background(), post, input))
	second, err := f.records.GetRecord(context.Background(), post, KindView)
	require.NoError(t, err)

	assert.Equal(t, first.Inherit, second.Inherit)
	assert.Equal(t, first.Entities, second.Entities)
}

func TestCascade_SingleLevelOnly(t *testing.T) {
	user := uuid.New()
	f := newCoordinatorFixture([]uuid.UUID{user}, nil)
	root, child, grandchild := uuid.New(), uuid.New(), uuid.New()
	f.tree.addPost(root, user, nil)
	f.tree.addPost(child, user, &root)
	f.tree.addPost(grandchild, user, &child)
	f.records.set(inheritRecord(child, KindView))
	f.records.set(inheritRecord(child, KindEdit))
	f.records.set(inheritRecord(grandchild, KindView))
	f.records.set(inheritRecord(grandchild, KindEdit))

	err := f.coordinator.SetPermissions(context.Background(), root, SetPermissionsInput{
		InheritView:  false,
		ViewEntities: []uuid.UUID{user},
		InheritEdit:  true,
	})
	require.NoError(t, err)

	// The direct child's snapshot was refreshed, inherit flag intact.
	childView, err := f.records.GetRecord(context.Background(), child, KindView)
	require.NoError(t, err)
	assert.True(t, childView.Inherit)
	assert.Equal(t, []uuid.UUID{user}, childView.Entities)

	// The grandchild keeps its stale snapshot; it resolves lazily.
	grandchildView, err := f.records.GetRecord(context.Background(), grandchild, KindView)
	require.NoError(t, err)
	assert.Empty(t, grandchildView.Entities)

	assert.Contains(t, f.notifier.events, EventPermissionsCascaded)
	assert.Contains(t, f.notifier.posts, child)
	assert.NotContains(t, f.notifier.posts, grandchild)
}

func TestCascade_SkipsNonInheritingChildren(t *testing.T) {
	user := uuid.New()
	other := uuid.New()
	f := newCoordinatorFixture([]uuid.UUID{user, other}, nil)
	root, child := uuid.New(), uuid.New()
	f.tree.addPost(root, user, nil)
	f.tree.addPost(child, user, &root)
	f.records.set(explicitRecord(child, KindView, other))
	f.records.set(explicitRecord(child, KindEdit, other))

	err := f.coordinator.SetPermissions(context.Background(), root, SetPermissionsInput{
		InheritView:  false,
		ViewEntities: []uuid.UUID{user},
		InheritEdit:  true,
	})
	require.NoError(t, err)

	childView, err := f.records.GetRecord(context.Background(), child, KindView)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{other}, childView.Entities)
	assert.NotContains(t, f.notifier.events, EventPermissionsCascaded)
}

// failingCascadeRecords breaks snapshot refreshes while leaving the
// primary record write intact.
type failingCascadeRecords struct {
	*fakeRecords
}

func (f *failingCascadeRecords) UpdateEntities(context.Context, uuid.UUID, Kind, []uuid.UUID) error {
	return trace.ConnectionProblem(nil, "snapshot refresh unavailable")
}

func TestSetPermissions_CascadeFailureDoesNotFailUpdate(t *testing.T) {
	user := uuid.New()
	f := newCoordinatorFixture([]uuid.UUID{user}, nil)
	root, child := uuid.New(), uuid.New()
	f.tree.addPost(root, user, nil)
	f.tree.addPost(child, user, &root)
	f.records.set(inheritRecord(child, KindView))
	f.records.set(inheritRecord(child, KindEdit))

	validator := NewValidator(f.directory, f.directory)
	coordinator := NewCoordinator(&failingCascadeRecords{f.records}, f.tree, validator, f.notifier, testLogger(), testMetrics())

	err := coordinator.SetPermissions(context.Background(), root, SetPermissionsInput{
		InheritView:  false,
		ViewEntities: []uuid.UUID{user},
		InheritEdit:  true,
	})
	require.NoError(t, err)

	// The committed update is visible and announced even though the
	// child snapshot refresh failed.
	view, err := f.records.GetRecord(context.Background(), root, KindView)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{user}, view.Entities)
	assert.Contains(t, f.notifier.events, EventPermissionsChanged)
	assert.NotContains(t, f.notifier.events, EventPermissionsCascaded)
}

func TestRevokeEdit(t *testing.T) {
	u1, u2 := uuid.New(), uuid.New()
	f := newCoordinatorFixture([]uuid.UUID{u1, u2}, nil)
	post := uuid.New()
	f.tree.addPost(post, u1, nil)
	f.records.set(explicitRecord(post, KindEdit, u1, u2))

	require.NoError(t, f.coordinator.RevokeEdit(context.Background(), post, u2))

	record, err := f.records.GetRecord(context.Background(), post, KindEdit)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{u1}, record.Entities)
	assert.Contains(t, f.notifier.events, EventPermissionsChanged)
}

func TestRevokeEdit_LastEntityRejected(t *testing.T) {
	u1 := uuid.New()
	f := newCoordinatorFixture([]uuid.UUID{u1}, nil)
	post := uuid.New()
	f.tree.addPost(post, u1, nil)
	f.records.set(explicitRecord(post, KindEdit, u1))

	err := f.coordinator.RevokeEdit(context.Background(), post, u1)
	assert.True(t, trace.IsBadParameter(err))

	// The record is unchanged.
	record, err := f.records.GetRecord(context.Background(), post, KindEdit)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{u1}, record.Entities)
}

func TestRevokeEdit_InheritedRecordRejected(t *testing.T) {
	u1 := uuid.New()
	f := newCoordinatorFixture([]uuid.UUID{u1}, nil)
	post := uuid.New()
	f.tree.addPost(post, u1, nil)
	f.records.set(inheritRecord(post, KindEdit))

	err := f.coordinator.RevokeEdit(context.Background(), post, u1)
	assert.True(t, trace.IsBadParameter(err))
}

func TestRevokeEdit_NotListed(t *testing.T) {
	u1, u2 := uuid.New(), uuid.New()
	f := newCoordinatorFixture([]uuid.UUID{u1, u2}, nil)
	post := uuid.New()
	f.tree.addPost(post, u1, nil)
	f.records.set(explicitRecord(post, KindEdit, u1))

	err := f.coordinator.RevokeEdit(context.Background(), post, u2)
	assert.True(t, trace.IsNotFound(err))
}
