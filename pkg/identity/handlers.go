package identity

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/perchsocial/perch/pkg/httputil"
)

// Handlers provides HTTP handlers for the user API
type Handlers struct {
	store *Store
}

// NewHandlers creates new user handlers
func NewHandlers(store *Store) *Handlers {
	return &Handlers{store: store}
}

// RegisterRoutes registers user routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/v1/users", h.createUser).Methods("POST")
	router.HandleFunc("/api/v1/users/{id}", h.getUser).Methods("GET")
}

// createUser handles POST /api/v1/users
func (h *Handlers) createUser(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Username string `json:"username"`
		Email    string `json:"email"`
	}
	if !httputil.ParseJSONOrError(w, r, &input) {
		return
	}
	if input.Username == "" {
		httputil.WriteBadRequest(w, "username is required")
		return
	}

	user := &User{Username: input.Username, Email: input.Email}
	if err := h.store.CreateUser(r.Context(), user); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteCreated(w, user)
}

// getUser handles GET /api/v1/users/{id}
func (h *Handlers) getUser(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}

	user, err := h.store.GetUser(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, user)
}
