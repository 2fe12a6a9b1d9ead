package access

import (
	"context"

	"github.com/google/uuid"
	"github.com/gravitational/trace"

	"github.com/perchsocial/perch/pkg/observability"
)

// RecordWriter is the mutation surface the coordinator needs from the
// record store.
type RecordWriter interface {
	Records
	UpsertBoth(ctx context.Context, view, edit *Record) error
	UpdateEntities(ctx context.Context, postID uuid.UUID, kind Kind, entities []uuid.UUID) error
}

// Notifier publishes change events. Publishing is best-effort and must
// never fail or block the caller.
type Notifier interface {
	Publish(ctx context.Context, eventKind string, postID uuid.UUID)
}

// EventPermissionsChanged is emitted after a post's records are rewritten.
// EventPermissionsCascaded is emitted for each child whose inherited
// snapshot was refreshed.
const (
	EventPermissionsChanged  = "permissions.changed"
	EventPermissionsCascaded = "permissions.cascaded"
)

// Coordinator applies permission mutations. All writes validate first and
// persist both kinds in one transaction; a rejected update leaves no
// partial state behind.
type Coordinator struct {
	records   RecordWriter
	posts     PostTree
	validator *Validator
	notifier  Notifier

	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewCoordinator creates a new permission mutation coordinator
func NewCoordinator(records RecordWriter, posts PostTree, validator *Validator, notifier Notifier, logger *observability.Logger, metrics *observability.Metrics) *Coordinator {
	return &Coordinator{
		records:   records,
		posts:     posts,
		validator: validator,
		notifier:  notifier,
		logger:    logger,
		metrics:   metrics,
	}
}

// SetPermissions rewrites both of a post's permission records. A kind
// with inherit set has its entity set cleared; a kind without inherit
// must carry a non-empty, fully resolvable entity list.
func (c *Coordinator) SetPermissions(ctx context.Context, postID uuid.UUID, input SetPermissionsInput) error {
	if err := c.setPermissions(ctx, postID, input); err != nil {
		c.metrics.PermissionUpdatesTotal.WithLabelValues("rejected").Inc()
		return trace.Wrap(err)
	}
	c.metrics.PermissionUpdatesTotal.WithLabelValues("applied").Inc()
	return nil
}

func (c *Coordinator) setPermissions(ctx context.Context, postID uuid.UUID, input SetPermissionsInput) error {
	// Existence check doubles as the NotFound gate for the whole update.
	if _, err := c.posts.ParentOf(ctx, postID); err != nil {
		return trace.Wrap(err)
	}

	view, err := c.buildRecord(ctx, postID, KindView, input.InheritView, input.ViewEntities)
	if err != nil {
		return trace.Wrap(err)
	}
	edit, err := c.buildRecord(ctx, postID, KindEdit, input.InheritEdit, input.EditEntities)
	if err != nil {
		return trace.Wrap(err)
	}

	if err := c.records.UpsertBoth(ctx, view, edit); err != nil {
		return trace.Wrap(err)
	}
	c.notifier.Publish(ctx, EventPermissionsChanged, postID)

	if err := c.CascadeInheritance(ctx, postID); err != nil {
		// The records themselves are committed, so the update succeeded.
		// A stale child snapshot is refreshed on its next update and the
		// resolution walk never reads snapshots, so log and move on.
		c.logger.WithError(err).WithField("post_id", postID.String()).
			Warn("inheritance cascade failed after permission update")
	}
	return nil
}

// buildRecord validates one kind's input and produces the record to
// persist.
func (c *Coordinator) buildRecord(ctx context.Context, postID uuid.UUID, kind Kind, inherit bool, entities []uuid.UUID) (*Record, error) {
	if inherit {
		return &Record{PostID: postID, Kind: kind, Inherit: true, Entities: []uuid.UUID{}}, nil
	}
	if len(entities) == 0 {
		return nil, trace.BadParameter("explicit %s permissions require at least one entity", kind)
	}
	if err := c.validator.ValidateEntities(ctx, entities); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Record{PostID: postID, Kind: kind, Inherit: false, Entities: entities}, nil
}

// CascadeInheritance refreshes the entity snapshots of the post's direct
// children that inherit. One level only: grandchildren pick up changes
// lazily at resolution time.
func (c *Coordinator) CascadeInheritance(ctx context.Context, postID uuid.UUID) error {
	children, err := c.posts.ChildrenOf(ctx, postID)
	if err != nil {
		return trace.Wrap(err)
	}
	if len(children) == 0 {
		return nil
	}

	parentEntities := make(map[Kind][]uuid.UUID, 2)
	for _, kind := range []Kind{KindView, KindEdit} {
		record, err := c.records.GetRecord(ctx, postID, kind)
		if trace.IsNotFound(err) {
			continue
		}
		if err != nil {
			return trace.Wrap(err)
		}
		parentEntities[kind] = record.Entities
	}

	for _, childID := range children {
		changed := false
		for kind, entities := range parentEntities {
			childRecord, err := c.records.GetRecord(ctx, childID, kind)
			if trace.IsNotFound(err) {
				continue
			}
			if err != nil {
				return trace.Wrap(err)
			}
			if !childRecord.Inherit {
				continue
			}
			if err := c.records.UpdateEntities(ctx, childID, kind, entities); err != nil {
				return trace.Wrap(err)
			}
			changed = true
		}
		if changed {
			c.metrics.CascadeChildrenTotal.Inc()
			c.notifier.Publish(ctx, EventPermissionsCascaded, childID)
		}
	}
	return nil
}

// RevokeEdit removes one user from a post's explicit EDIT set. Revoking
// the last remaining entity is rejected and leaves the record unchanged.
func (c *Coordinator) RevokeEdit(ctx context.Context, postID, userID uuid.UUID) error {
	record, err := c.records.GetRecord(ctx, postID, KindEdit)
	if err != nil {
		return trace.Wrap(err)
	}
	if record.Inherit {
		return trace.BadParameter("edit permissions for post %s are inherited, nothing to revoke", postID)
	}

	remaining := make([]uuid.UUID, 0, len(record.Entities))
	found := false
	for _, entityID := range record.Entities {
		if entityID == userID {
			found = true
			continue
		}
		remaining = append(remaining, entityID)
	}
	if !found {
		return trace.NotFound("user %s has no explicit edit grant on post %s", userID, postID)
	}
	if len(remaining) == 0 {
		return trace.BadParameter("cannot revoke the last entity from an explicit edit record")
	}

	if err := c.records.UpdateEntities(ctx, postID, KindEdit, remaining); err != nil {
		return trace.Wrap(err)
	}

	c.notifier.Publish(ctx, EventPermissionsChanged, postID)
	c.logger.WithFields(map[string]interface{}{
		"post_id": postID.String(),
		"user_id": userID.String(),
	}).Info("edit grant revoked")
	return nil
}
