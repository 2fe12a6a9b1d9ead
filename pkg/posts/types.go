package posts

import (
	"time"

	"github.com/google/uuid"
)

// Post is one content item in a reply tree
type Post struct {
	ID        uuid.UUID  `json:"id"`
	AuthorID  uuid.UUID  `json:"author_id"`
	ParentID  *uuid.UUID `json:"parent_id,omitempty"`
	Content   string     `json:"content"`
	Category  string     `json:"category,omitempty"`
	Tags      []string   `json:"tags,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// CreatePostInput describes a post creation request
type CreatePostInput struct {
	ParentID *uuid.UUID `json:"parent_id,omitempty"`
	Content  string     `json:"content"`
	Category string     `json:"category,omitempty"`
	Tags     []string   `json:"tags,omitempty"`
}

// PaginateOptions filters and pages a timeline query. A nil ViewerID
// returns only unrestricted posts.
type PaginateOptions struct {
	Limit    int
	Page     int
	ViewerID *uuid.UUID
	Keyword  string
}

// MaxPageSize caps Paginate's limit
const MaxPageSize = 100
