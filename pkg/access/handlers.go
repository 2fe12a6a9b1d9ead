package access

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/perchsocial/perch/pkg/httputil"
)

// Handlers provides HTTP handlers for access checks and permission
// mutations. Denials are 200 responses with allowed=false; only lookup
// and validation failures map to error statuses.
type Handlers struct {
	engine      *Engine
	coordinator *Coordinator
}

// NewHandlers creates new access handlers
func NewHandlers(engine *Engine, coordinator *Coordinator) *Handlers {
	return &Handlers{engine: engine, coordinator: coordinator}
}

// RegisterRoutes registers access routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/v1/posts/{id}/can-view", h.canView).Methods("GET")
	router.HandleFunc("/api/v1/posts/{id}/can-edit", h.canEdit).Methods("GET")
	router.HandleFunc("/api/v1/posts/{id}/permissions", h.effectivePermissions).Methods("GET")
	router.HandleFunc("/api/v1/posts/{id}/permissions", h.setPermissions).Methods("PUT")
	router.HandleFunc("/api/v1/posts/{id}/permissions/edit/{userId}", h.revokeEdit).Methods("DELETE")
}

// canView handles GET /api/v1/posts/{id}/can-view
func (h *Handlers) canView(w http.ResponseWriter, r *http.Request) {
	actorID, postID, ok := h.checkParams(w, r)
	if !ok {
		return
	}

	allowed, err := h.engine.CanView(r.Context(), actorID, postID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	writeDecision(w, allowed)
}

// canEdit handles GET /api/v1/posts/{id}/can-edit
func (h *Handlers) canEdit(w http.ResponseWriter, r *http.Request) {
	actorID, postID, ok := h.checkParams(w, r)
	if !ok {
		return
	}

	allowed, err := h.engine.CanEdit(r.Context(), actorID, postID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	writeDecision(w, allowed)
}

// effectivePermissions handles GET /api/v1/posts/{id}/permissions
func (h *Handlers) effectivePermissions(w http.ResponseWriter, r *http.Request) {
	postID, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}

	permissions, err := h.engine.EffectivePermissions(r.Context(), postID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"post_id":     postID,
		"permissions": permissions,
	})
}

// setPermissions handles PUT /api/v1/posts/{id}/permissions
func (h *Handlers) setPermissions(w http.ResponseWriter, r *http.Request) {
	postID, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}

	var input SetPermissionsInput
	if !httputil.ParseJSONOrError(w, r, &input) {
		return
	}

	if err := h.coordinator.SetPermissions(r.Context(), postID, input); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// revokeEdit handles DELETE /api/v1/posts/{id}/permissions/edit/{userId}
func (h *Handlers) revokeEdit(w http.ResponseWriter, r *http.Request) {
	postID, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathUUIDOrError(w, r, "userId")
	if !ok {
		return
	}

	if err := h.coordinator.RevokeEdit(r.Context(), postID, userID); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// checkParams extracts the actor and post identifiers for a check
func (h *Handlers) checkParams(w http.ResponseWriter, r *http.Request) (actorID, postID uuid.UUID, ok bool) {
	actorID, ok = httputil.ActorIDOrError(w, r)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	postID, ok = httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	return actorID, postID, true
}

// writeDecision writes an access decision as a 200 response
func writeDecision(w http.ResponseWriter, allowed bool) {
	httputil.WriteSuccess(w, map[string]bool{"allowed": allowed})
}
