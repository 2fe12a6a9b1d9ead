package posts

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/lib/pq"
)

// DefaultPermissions installs a new post's permission records inside the
// post-creation transaction. A non-nil parentID makes the records inherit,
// seeded with the parent's entity snapshot.
type DefaultPermissions interface {
	CreateDefaultsTx(ctx context.Context, tx *sql.Tx, postID uuid.UUID, parentID *uuid.UUID) error
}

// GroupResolver expands a viewer into their effective group set for
// timeline visibility filters.
type GroupResolver interface {
	ClosureOfUser(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
}

// Notifier publishes post lifecycle events best-effort
type Notifier interface {
	Publish(ctx context.Context, eventKind string, postID uuid.UUID)
}

// EventPostCreated is published after a post and its default permission
// records are committed.
const EventPostCreated = "post.created"

// Store handles post persistence over PostgreSQL
type Store struct {
	db       *sql.DB
	defaults DefaultPermissions
	groups   GroupResolver
	notifier Notifier
}

// NewStore creates a new post store
func NewStore(db *sql.DB, defaults DefaultPermissions, groups GroupResolver, notifier Notifier) *Store {
	return &Store{
		db:       db,
		defaults: defaults,
		groups:   groups,
		notifier: notifier,
	}
}

// CreatePost inserts the post and both default permission records in one
// transaction. Replies default to inherited permissions; roots start
// unrestricted with explicit records disabled.
func (s *Store) CreatePost(ctx context.Context, authorID uuid.UUID, input CreatePostInput) (*Post, error) {
	if input.Content == "" {
		return nil, trace.BadParameter("post content is required")
	}

	if input.ParentID != nil {
		exists, err := s.exists(ctx, *input.ParentID)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		if !exists {
			return nil, trace.NotFound("parent post %s not found", *input.ParentID)
		}
	}

	post := &Post{
		ID:       uuid.New(),
		AuthorID: authorID,
		ParentID: input.ParentID,
		Content:  input.Content,
		Category: input.Category,
		Tags:     input.Tags,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, trace.ConnectionProblem(err, "failed to start transaction")
	}
	defer tx.Rollback()

	now := time.Now()
	tags := post.Tags
	if tags == nil {
		tags = []string{}
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO posts (id, author_id, parent_id, content, category, tags, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
	`, post.ID, post.AuthorID, post.ParentID, post.Content, post.Category, pq.Array(tags), now)
	if err != nil {
		return nil, trace.Wrap(err, "failed to create post")
	}

	if err := s.defaults.CreateDefaultsTx(ctx, tx, post.ID, post.ParentID); err != nil {
		return nil, trace.Wrap(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, trace.Wrap(err, "failed to commit post creation")
	}

	post.CreatedAt = now
	post.UpdatedAt = now
	s.notifier.Publish(ctx, EventPostCreated, post.ID)
	return post, nil
}

// GetPost retrieves a post by identifier
func (s *Store) GetPost(ctx context.Context, id uuid.UUID) (*Post, error) {
	query := `
		SELECT id, author_id, parent_id, content, category, tags, created_at, updated_at
		FROM posts
		WHERE id = $1
	`
	post, err := scanPost(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, trace.NotFound("post %s not found", id)
	}
	if err != nil {
		return nil, trace.Wrap(err, "failed to get post")
	}
	return post, nil
}

// ParentOf returns the parent of a post, nil at a root
func (s *Store) ParentOf(ctx context.Context, postID uuid.UUID) (*uuid.UUID, error) {
	var parent *uuid.UUID
	err := s.db.QueryRowContext(ctx,
		`SELECT parent_id FROM posts WHERE id = $1`, postID,
	).Scan(&parent)
	if err == sql.ErrNoRows {
		return nil, trace.NotFound("post %s not found", postID)
	}
	if err != nil {
		return nil, trace.Wrap(err, "failed to get post parent")
	}
	return parent, nil
}

// AuthorOf returns the author of a post
func (s *Store) AuthorOf(ctx context.Context, postID uuid.UUID) (uuid.UUID, error) {
	var author uuid.UUID
	err := s.db.QueryRowContext(ctx,
		`SELECT author_id FROM posts WHERE id = $1`, postID,
	).Scan(&author)
	if err == sql.ErrNoRows {
		return uuid.Nil, trace.NotFound("post %s not found", postID)
	}
	if err != nil {
		return uuid.Nil, trace.Wrap(err, "failed to get post author")
	}
	return author, nil
}

// ChildrenOf returns the direct replies of a post
func (s *Store) ChildrenOf(ctx context.Context, postID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM posts WHERE parent_id = $1 ORDER BY created_at`, postID,
	)
	if err != nil {
		return nil, trace.Wrap(err, "failed to query replies")
	}
	defer rows.Close()

	var children []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, trace.Wrap(err, "failed to scan reply id")
		}
		children = append(children, id)
	}
	return children, trace.Wrap(rows.Err())
}

// ListByAuthor returns all posts by one author, newest first
func (s *Store) ListByAuthor(ctx context.Context, authorID uuid.UUID) ([]Post, error) {
	query := `
		SELECT id, author_id, parent_id, content, category, tags, created_at, updated_at
		FROM posts
		WHERE author_id = $1
		ORDER BY created_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, authorID)
	if err != nil {
		return nil, trace.Wrap(err, "failed to list posts")
	}
	defer rows.Close()
	return collectPosts(rows)
}

// Paginate returns a page of the timeline visible to the viewer, newest
// first, plus whether another page follows. Visibility uses the VIEW
// record snapshot: an inheriting root (unrestricted), a direct grant, a
// grant to any group in the viewer's closure, or authorship. An
// inheriting reply is matched through its snapshot only, which errs
// toward hiding when the snapshot is stale.
func (s *Store) Paginate(ctx context.Context, opts PaginateOptions) ([]Post, bool, error) {
	limit := opts.Limit
	if limit <= 0 || limit > MaxPageSize {
		limit = MaxPageSize
	}
	page := opts.Page
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * limit

	keyword := ""
	if opts.Keyword != "" {
		keyword = "%" + opts.Keyword + "%"
	}

	var rows *sql.Rows
	var err error
	if opts.ViewerID == nil {
		query := `
			SELECT p.id, p.author_id, p.parent_id, p.content, p.category, p.tags, p.created_at, p.updated_at
			FROM posts p
			JOIN permission_records pr ON pr.post_id = p.id AND pr.kind = 'view'
			WHERE (pr.inherit AND p.parent_id IS NULL)
			AND ($1 = '' OR p.content ILIKE $1)
			ORDER BY p.created_at DESC
			LIMIT $2 OFFSET $3
		`
		rows, err = s.db.QueryContext(ctx, query, keyword, limit+1, offset)
	} else {
		closure, cerr := s.groups.ClosureOfUser(ctx, *opts.ViewerID)
		if cerr != nil {
			return nil, false, trace.Wrap(cerr)
		}
		if closure == nil {
			closure = []uuid.UUID{}
		}
		query := `
			SELECT p.id, p.author_id, p.parent_id, p.content, p.category, p.tags, p.created_at, p.updated_at
			FROM posts p
			JOIN permission_records pr ON pr.post_id = p.id AND pr.kind = 'view'
			WHERE ((pr.inherit AND p.parent_id IS NULL)
				OR p.author_id = $1
				OR pr.entities @> ARRAY[$1]::uuid[]
				OR pr.entities && $2::uuid[])
			AND ($3 = '' OR p.content ILIKE $3)
			ORDER BY p.created_at DESC
			LIMIT $4 OFFSET $5
		`
		rows, err = s.db.QueryContext(ctx, query, *opts.ViewerID, pq.Array(closure), keyword, limit+1, offset)
	}
	if err != nil {
		return nil, false, trace.Wrap(err, "failed to paginate posts")
	}
	defer rows.Close()

	posts, err := collectPosts(rows)
	if err != nil {
		return nil, false, trace.Wrap(err)
	}

	hasNextPage := len(posts) > limit
	if hasNextPage {
		posts = posts[:limit]
	}
	return posts, hasNextPage, nil
}

// exists reports whether a post id is present
func (s *Store) exists(ctx context.Context, id uuid.UUID) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM posts WHERE id = $1`, id,
	).Scan(&count)
	if err != nil {
		return false, trace.Wrap(err, "failed to check post")
	}
	return count > 0, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanPost reads one post row
func scanPost(row rowScanner) (*Post, error) {
	var post Post
	err := row.Scan(
		&post.ID,
		&post.AuthorID,
		&post.ParentID,
		&post.Content,
		&post.Category,
		pq.Array(&post.Tags),
		&post.CreatedAt,
		&post.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &post, nil
}

// collectPosts drains a result set of post rows
func collectPosts(rows *sql.Rows) ([]Post, error) {
	var posts []Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, trace.Wrap(err, "failed to scan post")
		}
		posts = append(posts, *post)
	}
	return posts, trace.Wrap(rows.Err())
}
