package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gravitational/trace"
)

// ParseJSON decodes JSON from the request body into the destination
func ParseJSON(r *http.Request, dest interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		return trace.BadParameter("invalid JSON: %v", err)
	}
	return nil
}

// ParseJSONOrError decodes JSON and writes an error response on failure
func ParseJSONOrError(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	if err := ParseJSON(r, dest); err != nil {
		WriteBadRequest(w, err.Error())
		return false
	}
	return true
}

// ParsePathUUID extracts and parses a UUID path parameter
func ParsePathUUID(r *http.Request, key string) (uuid.UUID, error) {
	vars := mux.Vars(r)
	str := vars[key]
	if str == "" {
		return uuid.Nil, trace.BadParameter("missing path parameter: %s", key)
	}
	id, err := uuid.Parse(str)
	if err != nil {
		return uuid.Nil, trace.BadParameter("invalid UUID for %s: %s", key, str)
	}
	return id, nil
}

// ParsePathUUIDOrError extracts a UUID path parameter and writes an error on failure
func ParsePathUUIDOrError(w http.ResponseWriter, r *http.Request, key string) (uuid.UUID, bool) {
	id, err := ParsePathUUID(r, key)
	if err != nil {
		WriteBadRequest(w, err.Error())
		return uuid.Nil, false
	}
	return id, true
}

// ActorHeader carries the acting user's ID. Authentication is handled
// upstream; perch trusts this header from its edge proxy.
const ActorHeader = "X-Perch-User"

// ActorID extracts the acting user's ID from the request headers
func ActorID(r *http.Request) (uuid.UUID, error) {
	raw := r.Header.Get(ActorHeader)
	if raw == "" {
		return uuid.Nil, trace.BadParameter("missing %s header", ActorHeader)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, trace.BadParameter("invalid %s header: %s", ActorHeader, raw)
	}
	return id, nil
}

// ActorIDOrError extracts the actor ID and writes an error response on failure
func ActorIDOrError(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := ActorID(r)
	if err != nil {
		WriteBadRequest(w, err.Error())
		return uuid.Nil, false
	}
	return id, true
}
