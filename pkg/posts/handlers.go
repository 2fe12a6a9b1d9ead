package posts

import (
	"context"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gravitational/trace"

	"github.com/perchsocial/perch/pkg/httputil"
)

// AccessChecker gates post reads on resolved view access
type AccessChecker interface {
	CanView(ctx context.Context, actorID, postID uuid.UUID) (bool, error)
}

// Handlers provides HTTP handlers for the post API
type Handlers struct {
	store   *Store
	checker AccessChecker
}

// NewHandlers creates new post handlers
func NewHandlers(store *Store, checker AccessChecker) *Handlers {
	return &Handlers{store: store, checker: checker}
}

// RegisterRoutes registers post routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/v1/posts", h.createPost).Methods("POST")
	router.HandleFunc("/api/v1/posts", h.paginate).Methods("GET")
	router.HandleFunc("/api/v1/posts/{id}", h.getPost).Methods("GET")
	router.HandleFunc("/api/v1/posts/{id}/replies", h.listReplies).Methods("GET")
	router.HandleFunc("/api/v1/users/{id}/posts", h.listByAuthor).Methods("GET")
}

// createPost handles POST /api/v1/posts
func (h *Handlers) createPost(w http.ResponseWriter, r *http.Request) {
	actorID, ok := httputil.ActorIDOrError(w, r)
	if !ok {
		return
	}

	var input CreatePostInput
	if !httputil.ParseJSONOrError(w, r, &input) {
		return
	}

	post, err := h.store.CreatePost(r.Context(), actorID, input)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteCreated(w, post)
}

// getPost handles GET /api/v1/posts/{id}. The viewer must resolve to
// view access; otherwise the post is reported as forbidden.
func (h *Handlers) getPost(w http.ResponseWriter, r *http.Request) {
	actorID, ok := httputil.ActorIDOrError(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}

	allowed, err := h.checker.CanView(r.Context(), actorID, id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if !allowed {
		httputil.WriteError(w, trace.AccessDenied("not allowed to view post %s", id))
		return
	}

	post, err := h.store.GetPost(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, post)
}

// listReplies handles GET /api/v1/posts/{id}/replies
func (h *Handlers) listReplies(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}

	children, err := h.store.ChildrenOf(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if children == nil {
		children = []uuid.UUID{}
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"post_ids": children,
		"count":    len(children),
	})
}

// listByAuthor handles GET /api/v1/users/{id}/posts
func (h *Handlers) listByAuthor(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}

	posts, err := h.store.ListByAuthor(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if posts == nil {
		posts = []Post{}
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"posts": posts,
		"count": len(posts),
	})
}

// paginate handles GET /api/v1/posts. The viewer is optional; anonymous
// requests see only unrestricted posts.
func (h *Handlers) paginate(w http.ResponseWriter, r *http.Request) {
	opts := PaginateOptions{
		Keyword: r.URL.Query().Get("keyword"),
	}

	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			httputil.WriteBadRequest(w, "limit must be a positive integer")
			return
		}
		opts.Limit = limit
	}
	if raw := r.URL.Query().Get("page"); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil || page < 1 {
			httputil.WriteBadRequest(w, "page must be a positive integer")
			return
		}
		opts.Page = page
	}

	if actorID, err := httputil.ActorID(r); err == nil {
		opts.ViewerID = &actorID
	}

	posts, hasNextPage, err := h.store.Paginate(r.Context(), opts)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if posts == nil {
		posts = []Post{}
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"posts":         posts,
		"count":         len(posts),
		"has_next_page": hasNextPage,
	})
}
