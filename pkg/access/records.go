package access

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/lib/pq"
)

// RecordStore persists permission records in PostgreSQL. Entity sets are
// stored as uuid[] columns so viewer filters can use array containment
// operators directly.
type RecordStore struct {
	db *sql.DB
}

// NewRecordStore creates a new permission record store
func NewRecordStore(db *sql.DB) *RecordStore {
	return &RecordStore{db: db}
}

// GetRecord loads the record of the given kind for a post
func (s *RecordStore) GetRecord(ctx context.Context, postID uuid.UUID, kind Kind) (*Record, error) {
	query := `
		SELECT post_id, kind, inherit, entities, created_at, updated_at
		FROM permission_records
		WHERE post_id = $1 AND kind = $2
	`

	var record Record
	err := s.db.QueryRowContext(ctx, query, postID, string(kind)).Scan(
		&record.PostID,
		&record.Kind,
		&record.Inherit,
		pq.Array(&record.Entities),
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, trace.NotFound("no %s permission record for post %s", kind, postID)
	}
	if err != nil {
		return nil, trace.Wrap(err, "failed to get permission record")
	}
	return &record, nil
}

// UpsertBoth writes the VIEW and EDIT records for a post in a single
// transaction. Readers never observe one kind updated without the other.
func (s *RecordStore) UpsertBoth(ctx context.Context, view, edit *Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return trace.ConnectionProblem(err, "failed to start transaction")
	}
	defer tx.Rollback()

	now := time.Now()
	for _, record := range []*Record{view, edit} {
		if err := upsertRecord(ctx, tx, record, now); err != nil {
			return trace.Wrap(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return trace.Wrap(err, "failed to commit permission update")
	}
	return nil
}

// UpdateEntities replaces the entity snapshot of one record, leaving the
// inherit flag untouched. Used by the cascade and by revocation.
func (s *RecordStore) UpdateEntities(ctx context.Context, postID uuid.UUID, kind Kind, entities []uuid.UUID) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE permission_records
		SET entities = $1, updated_at = $2
		WHERE post_id = $3 AND kind = $4
	`, pq.Array(entities), time.Now(), postID, string(kind))
	if err != nil {
		return trace.Wrap(err, "failed to update permission entities")
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return trace.NotFound("no %s permission record for post %s", kind, postID)
	}
	return nil
}

// CreateDefaultsTx installs both default records for a freshly created
// post inside the caller's transaction. A reply gets inherit=true with the
// parent's entity snapshot copied in, so array-based visibility filters
// see the same grants the resolution walk would. A root gets
// inherit=false with an empty entity set.
func (s *RecordStore) CreateDefaultsTx(ctx context.Context, tx *sql.Tx, postID uuid.UUID, parentID *uuid.UUID) error {
	now := time.Now()
	for _, kind := range []Kind{KindView, KindEdit} {
		record := &Record{
			PostID:   postID,
			Kind:     kind,
			Inherit:  parentID != nil,
			Entities: []uuid.UUID{},
		}
		if parentID != nil {
			entities, err := parentEntitiesTx(ctx, tx, *parentID, kind)
			if err != nil {
				return trace.Wrap(err)
			}
			record.Entities = entities
		}
		if err := upsertRecord(ctx, tx, record, now); err != nil {
			return trace.Wrap(err)
		}
	}
	return nil
}

// parentEntitiesTx reads the parent's entity snapshot through the caller's
// transaction. A missing parent record snapshots as empty.
func parentEntitiesTx(ctx context.Context, tx *sql.Tx, parentID uuid.UUID, kind Kind) ([]uuid.UUID, error) {
	var entities []uuid.UUID
	err := tx.QueryRowContext(ctx, `
		SELECT entities FROM permission_records
		WHERE post_id = $1 AND kind = $2
	`, parentID, string(kind)).Scan(pq.Array(&entities))
	if err == sql.ErrNoRows {
		return []uuid.UUID{}, nil
	}
	if err != nil {
		return nil, trace.Wrap(err, "failed to read parent permission snapshot")
	}
	if entities == nil {
		entities = []uuid.UUID{}
	}
	return entities, nil
}

// upsertRecord writes one record within a transaction
func upsertRecord(ctx context.Context, tx *sql.Tx, record *Record, now time.Time) error {
	entities := record.Entities
	if entities == nil {
		entities = []uuid.UUID{}
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO permission_records (post_id, kind, inherit, entities, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (post_id, kind)
		DO UPDATE SET inherit = EXCLUDED.inherit, entities = EXCLUDED.entities, updated_at = EXCLUDED.updated_at
	`, record.PostID, string(record.Kind), record.Inherit, pq.Array(entities), now)
	if err != nil {
		return trace.Wrap(err, "failed to upsert %s permission record", record.Kind)
	}
	return nil
}
