package groups

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/perchsocial/perch/pkg/httputil"
)

// Handlers provides HTTP handlers for the group API
type Handlers struct {
	service *Service
}

// NewHandlers creates new group handlers
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// RegisterRoutes registers group routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/v1/groups", h.createGroup).Methods("POST")
	router.HandleFunc("/api/v1/groups/{id}", h.getGroup).Methods("GET")
	router.HandleFunc("/api/v1/groups/{id}", h.updateGroup).Methods("PATCH")
	router.HandleFunc("/api/v1/groups/{id}", h.deleteGroup).Methods("DELETE")
	router.HandleFunc("/api/v1/groups/{id}/members", h.addMember).Methods("POST")
	router.HandleFunc("/api/v1/groups/{id}/owner", h.transferOwnership).Methods("PUT")
	router.HandleFunc("/api/v1/users/{id}/groups", h.groupsOfUser).Methods("GET")
}

// createGroup handles POST /api/v1/groups
func (h *Handlers) createGroup(w http.ResponseWriter, r *http.Request) {
	actorID, ok := httputil.ActorIDOrError(w, r)
	if !ok {
		return
	}

	var input CreateGroupInput
	if !httputil.ParseJSONOrError(w, r, &input) {
		return
	}

	group, err := h.service.Create(r.Context(), actorID, input)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteCreated(w, group)
}

// getGroup handles GET /api/v1/groups/{id}
func (h *Handlers) getGroup(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}

	group, err := h.service.Get(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, group)
}

// updateGroup handles PATCH /api/v1/groups/{id}
func (h *Handlers) updateGroup(w http.ResponseWriter, r *http.Request) {
	actorID, ok := httputil.ActorIDOrError(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}

	var input UpdateGroupInput
	if !httputil.ParseJSONOrError(w, r, &input) {
		return
	}

	group, err := h.service.Update(r.Context(), actorID, id, input)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, group)
}

// deleteGroup handles DELETE /api/v1/groups/{id}
func (h *Handlers) deleteGroup(w http.ResponseWriter, r *http.Request) {
	actorID, ok := httputil.ActorIDOrError(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), actorID, id); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// addMember handles POST /api/v1/groups/{id}/members
func (h *Handlers) addMember(w http.ResponseWriter, r *http.Request) {
	actorID, ok := httputil.ActorIDOrError(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}

	var input struct {
		UserID uuid.UUID `json:"user_id"`
	}
	if !httputil.ParseJSONOrError(w, r, &input) {
		return
	}

	if err := h.service.AddMember(r.Context(), actorID, id, input.UserID); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// transferOwnership handles PUT /api/v1/groups/{id}/owner
func (h *Handlers) transferOwnership(w http.ResponseWriter, r *http.Request) {
	actorID, ok := httputil.ActorIDOrError(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}

	var input struct {
		NewOwnerID uuid.UUID `json:"new_owner_id"`
	}
	if !httputil.ParseJSONOrError(w, r, &input) {
		return
	}

	if err := h.service.TransferOwnership(r.Context(), actorID, id, input.NewOwnerID); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// groupsOfUser handles GET /api/v1/users/{id}/groups
func (h *Handlers) groupsOfUser(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}

	closure, err := h.service.GroupsContainingUser(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if closure == nil {
		closure = []uuid.UUID{}
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"group_ids": closure,
		"count":     len(closure),
	})
}
