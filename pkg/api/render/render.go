// Package render writes API responses. It is the single place classified
// errors become HTTP shapes.
package render

import (
	"encoding/json"
	stderr "errors"
	"net/http"

	"github.com/octantbim/octant/pkg/errors"
	"github.com/octantbim/octant/pkg/logger"
)

// errorResponse is the uniform error payload.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// JSON writes body as JSON with the given status.
func JSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Errorf("encoding response: %v", err)
	}
}

// Error translates a classified error to its HTTP shape.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	status := errors.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		logger.Errorw("request failed",
			"method", r.Method, "path", r.URL.Path, "error", err.Error())
	}

	kind := "internal"
	var classified *errors.Error
	if stderr.As(err, &classified) {
		kind = classified.Kind
	}
	JSON(w, status, errorResponse{Error: kind, Message: errors.Message(err)})
}
