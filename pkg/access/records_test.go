package access

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordStore_GetRecord(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewRecordStore(db)
	postID := uuid.New()
	entity := uuid.New()
	now := time.Now()

	mock.ExpectQuery("SELECT post_id, kind, inherit, entities").
		WithArgs(postID, "view").
		WillReturnRows(sqlmock.NewRows([]string{"post_id", "kind", "inherit", "entities", "created_at", "updated_at"}).
			AddRow(postID, "view", false, "{"+entity.String()+"}", now, now))

	record, err := store.GetRecord(context.Background(), postID, KindView)
	require.NoError(t, err)
	assert.Equal(t, KindView, record.Kind)
	assert.False(t, record.Inherit)
	assert.Equal(t, []uuid.UUID{entity}, record.Entities)
}

func TestRecordStore_GetRecord_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewRecordStore(db)
	postID := uuid.New()

	mock.ExpectQuery("SELECT post_id, kind, inherit, entities").
		WithArgs(postID, "edit").
		WillReturnRows(sqlmock.NewRows([]string{"post_id", "kind", "inherit", "entities", "created_at", "updated_at"}))

	_, err = store.GetRecord(context.Background(), postID, KindEdit)
	assert.True(t, trace.IsNotFound(err))
}

func TestRecordStore_UpsertBoth(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewRecordStore(db)
	postID := uuid.New()
	entity := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO permission_records").
		WithArgs(postID, "view", false, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO permission_records").
		WithArgs(postID, "edit", true, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	view := &Record{PostID: postID, Kind: KindView, Inherit: false, Entities: []uuid.UUID{entity}}
	edit := &Record{PostID: postID, Kind: KindEdit, Inherit: true}

	require.NoError(t, store.UpsertBoth(context.Background(), view, edit))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordStore_UpsertBoth_RollsBackOnFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewRecordStore(db)
	postID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO permission_records").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO permission_records").
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	view := &Record{PostID: postID, Kind: KindView, Inherit: true}
	edit := &Record{PostID: postID, Kind: KindEdit, Inherit: true}

	err = store.UpsertBoth(context.Background(), view, edit)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordStore_CreateDefaults_ReplySnapshotsParent(t *testing.T) {
	// A reply's inheriting records are seeded with the parent's entity
	// snapshot, read inside the same transaction. A parent kind with no
	// record snapshots as empty.
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewRecordStore(db)
	parent := uuid.New()
	child := uuid.New()
	entity := uuid.New()

	wantView, err := pq.Array([]uuid.UUID{entity}).Value()
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT entities FROM permission_records").
		WithArgs(parent, "view").
		WillReturnRows(sqlmock.NewRows([]string{"entities"}).AddRow("{" + entity.String() + "}"))
	mock.ExpectExec("INSERT INTO permission_records").
		WithArgs(child, "view", true, wantView, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT entities FROM permission_records").
		WithArgs(parent, "edit").
		WillReturnRows(sqlmock.NewRows([]string{"entities"}))
	mock.ExpectExec("INSERT INTO permission_records").
		WithArgs(child, "edit", true, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	tx, err := db.Begin()
	require.NoError(t, err)
	require.NoError(t, store.CreateDefaultsTx(context.Background(), tx, child, &parent))
	require.NoError(t, tx.Commit())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordStore_CreateDefaults_RootStartsExplicitEmpty(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewRecordStore(db)
	root := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO permission_records").
		WithArgs(root, "view", false, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO permission_records").
		WithArgs(root, "edit", false, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	tx, err := db.Begin()
	require.NoError(t, err)
	require.NoError(t, store.CreateDefaultsTx(context.Background(), tx, root, nil))
	require.NoError(t, tx.Commit())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordStore_UpdateEntities_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewRecordStore(db)
	postID := uuid.New()

	mock.ExpectExec("UPDATE permission_records").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = store.UpdateEntities(context.Background(), postID, KindView, []uuid.UUID{uuid.New()})
	assert.True(t, trace.IsNotFound(err))
}
