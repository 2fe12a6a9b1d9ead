package posts

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// nopDefaults satisfies DefaultPermissions while recording which parent
// the post was created under.
type nopDefaults struct {
	calls  int
	parent *uuid.UUID
}

func (n *nopDefaults) CreateDefaultsTx(_ context.Context, _ *sql.Tx, _ uuid.UUID, parentID *uuid.UUID) error {
	n.calls++
	n.parent = parentID
	return nil
}

type nopGroups struct{}

func (nopGroups) ClosureOfUser(_ context.Context, _ uuid.UUID) ([]uuid.UUID, error) {
	return nil, nil
}

type recordingNotifier struct {
	events []string
}

func (r *recordingNotifier) Publish(_ context.Context, eventKind string, _ uuid.UUID) {
	r.events = append(r.events, eventKind)
}

func newTestStore(db *sql.DB) (*Store, *nopDefaults, *recordingNotifier) {
	defaults := &nopDefaults{}
	notifier := &recordingNotifier{}
	return NewStore(db, defaults, nopGroups{}, notifier), defaults, notifier
}

func TestStore_CreatePost_Root(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store, defaults, notifier := newTestStore(db)
	author := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO posts").
		WithArgs(sqlmock.AnyArg(), author, nil, "hello", "", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	post, err := store.CreatePost(context.Background(), author, CreatePostInput{Content: "hello"})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, post.ID)
	assert.Nil(t, post.ParentID)
	assert.Equal(t, 1, defaults.calls)
	assert.Nil(t, defaults.parent)
	assert.Equal(t, []string{EventPostCreated}, notifier.events)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_CreatePost_ReplyInherits(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store, defaults, _ := newTestStore(db)
	author := uuid.New()
	parent := uuid.New()

	mock.ExpectQuery("SELECT COUNT").
		WithArgs(parent).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO posts").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	post, err := store.CreatePost(context.Background(), author, CreatePostInput{
		Content:  "reply",
		ParentID: &parent,
	})
	require.NoError(t, err)
	require.NotNil(t, post.ParentID)
	assert.Equal(t, parent, *post.ParentID)
	require.NotNil(t, defaults.parent)
	assert.Equal(t, parent, *defaults.parent)
}

func TestStore_CreatePost_MissingParent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store, _, notifier := newTestStore(db)
	parent := uuid.New()

	mock.ExpectQuery("SELECT COUNT").
		WithArgs(parent).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	_, err = store.CreatePost(context.Background(), uuid.New(), CreatePostInput{
		Content:  "reply",
		ParentID: &parent,
	})
	assert.True(t, trace.IsNotFound(err))
	assert.Empty(t, notifier.events)
}

func TestStore_CreatePost_EmptyContent(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store, _, _ := newTestStore(db)

	_, err = store.CreatePost(context.Background(), uuid.New(), CreatePostInput{})
	assert.True(t, trace.IsBadParameter(err))
}

func TestStore_ParentOf(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store, _, _ := newTestStore(db)
	id := uuid.New()
	parent := uuid.New()

	mock.ExpectQuery("SELECT parent_id FROM posts").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"parent_id"}).AddRow(parent))

	got, err := store.ParentOf(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, parent, *got)
}

func TestStore_ParentOf_Root(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store, _, _ := newTestStore(db)
	id := uuid.New()

	mock.ExpectQuery("SELECT parent_id FROM posts").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"parent_id"}).AddRow(nil))

	got, err := store.ParentOf(context.Background(), id)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_ParentOf_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store, _, _ := newTestStore(db)
	id := uuid.New()

	mock.ExpectQuery("SELECT parent_id FROM posts").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"parent_id"}))

	_, err = store.ParentOf(context.Background(), id)
	assert.True(t, trace.IsNotFound(err))
}

func TestStore_Paginate_HasNextPage(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store, _, _ := newTestStore(db)
	now := time.Now()

	rows := sqlmock.NewRows([]string{"id", "author_id", "parent_id", "content", "category", "tags", "created_at", "updated_at"})
	for i := 0; i < 3; i++ {
		rows.AddRow(uuid.New(), uuid.New(), nil, "post", "", "{}", now, now)
	}
	// limit 2 requests 3 rows; the extra row signals another page.
	mock.ExpectQuery("SELECT p.id, p.author_id").
		WithArgs("", 3, 0).
		WillReturnRows(rows)

	posts, hasNextPage, err := store.Paginate(context.Background(), PaginateOptions{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, posts, 2)
	assert.True(t, hasNextPage)
}

func TestStore_Paginate_InheritVisibleOnlyAtRoot(t *testing.T) {
	// An inheriting record alone does not make a post world-visible; only
	// an inheriting root is unrestricted. An inheriting reply under a
	// restricted parent must be matched through its entity snapshot, never
	// through the bare inherit flag.
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store, _, _ := newTestStore(db)
	viewer := uuid.New()
	columns := []string{"id", "author_id", "parent_id", "content", "category", "tags", "created_at", "updated_at"}

	mock.ExpectQuery(`pr\.inherit AND p\.parent_id IS NULL`).
		WithArgs("", 11, 0).
		WillReturnRows(sqlmock.NewRows(columns))
	_, _, err = store.Paginate(context.Background(), PaginateOptions{Limit: 10})
	require.NoError(t, err)

	mock.ExpectQuery(`\(pr\.inherit AND p\.parent_id IS NULL\)`).
		WithArgs(viewer, sqlmock.AnyArg(), "", 11, 0).
		WillReturnRows(sqlmock.NewRows(columns))
	_, _, err = store.Paginate(context.Background(), PaginateOptions{Limit: 10, ViewerID: &viewer})
	require.NoError(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Paginate_ViewerFilter(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store, _, _ := newTestStore(db)
	viewer := uuid.New()
	now := time.Now()

	mock.ExpectQuery("SELECT p.id, p.author_id").
		WithArgs(viewer, sqlmock.AnyArg(), "%hello%", 11, 0).
		WillReturnRows(sqlmock.NewRows([]string{"id", "author_id", "parent_id", "content", "category", "tags", "created_at", "updated_at"}).
			AddRow(uuid.New(), viewer, nil, "hello world", "", "{}", now, now))

	posts, hasNextPage, err := store.Paginate(context.Background(), PaginateOptions{
		Limit:    10,
		ViewerID: &viewer,
		Keyword:  "hello",
	})
	require.NoError(t, err)
	assert.Len(t, posts, 1)
	assert.False(t, hasNextPage)
}
