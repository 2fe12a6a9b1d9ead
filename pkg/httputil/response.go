package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/gravitational/trace"
)

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteErrorMessage writes a JSON error response with a custom message
func WriteErrorMessage(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// WriteError maps an error from the service taxonomy to an HTTP status:
// NotFound 404, BadParameter 400, AlreadyExists/CompareFailed 409,
// ConnectionProblem 503, AccessDenied 403, anything else 500.
func WriteError(w http.ResponseWriter, err error) {
	switch {
	case trace.IsNotFound(err):
		WriteErrorMessage(w, http.StatusNotFound, trace.UserMessage(err))
	case trace.IsBadParameter(err):
		WriteErrorMessage(w, http.StatusBadRequest, trace.UserMessage(err))
	case trace.IsAlreadyExists(err), trace.IsCompareFailed(err):
		WriteErrorMessage(w, http.StatusConflict, trace.UserMessage(err))
	case trace.IsConnectionProblem(err):
		WriteErrorMessage(w, http.StatusServiceUnavailable, trace.UserMessage(err))
	case trace.IsAccessDenied(err):
		WriteErrorMessage(w, http.StatusForbidden, trace.UserMessage(err))
	default:
		WriteErrorMessage(w, http.StatusInternalServerError, trace.UserMessage(err))
	}
}

// WriteBadRequest writes a bad request error (400)
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusBadRequest, message)
}

// WriteCreated writes a successful creation response (201 Created) with JSON data
func WriteCreated(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusCreated, data)
}

// WriteSuccess writes a successful response (200 OK) with JSON data
func WriteSuccess(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteNoContent writes a successful response with no content (204 No Content)
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}
