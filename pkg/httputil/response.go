package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/platinummonkey/tenantgate/pkg/apperr"
	"github.com/platinummonkey/tenantgate/pkg/observability"
)

// ErrorResponse is the body of every error response. The cause chain is
// logged, never rendered.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes a successful response (200 OK) with JSON data
func WriteSuccess(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteCreated writes a successful creation response (201 Created) with JSON data
func WriteCreated(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusCreated, data)
}

// WriteNoContent writes a successful response with no content (204 No Content)
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// WriteError renders err by its apperr kind with a message localized from
// the request's Accept-Language. Server-side failures are logged with the
// full cause.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind)

	log := observability.FromContext(r.Context()).WithError(err).WithFields(map[string]interface{}{
		"status": status,
		"path":   r.URL.Path,
	})
	if status >= http.StatusInternalServerError {
		log.Error("Request failed")
	} else {
		log.Debug("Request rejected")
	}

	WriteCode(w, r, status, apperr.CodeOf(kind))
}

// WriteCode renders a response code with its localized message
func WriteCode(w http.ResponseWriter, r *http.Request, status int, code string) {
	WriteJSON(w, status, ErrorResponse{
		Code:    code,
		Message: Message(code, Language(r)),
	})
}
