// Package transport contains the HTTP router, middleware chain, and all
// request handlers for the authoring API.
package transport

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/pitabwire/coachbuilder/internal/capability"
	"github.com/pitabwire/coachbuilder/internal/ruleset"
	"github.com/pitabwire/coachbuilder/model"
)

// statusForCode maps ErrorEnvelope codes to HTTP status codes.
var statusForCode = map[string]int{
	model.ErrBadRequest:      http.StatusBadRequest,
	model.ErrUnauthorized:    http.StatusUnauthorized,
	model.ErrForbidden:       http.StatusForbidden,
	model.ErrNotFound:        http.StatusNotFound,
	model.ErrConflict:        http.StatusConflict,
	model.ErrValidationError: http.StatusUnprocessableEntity,
	model.ErrInvalidDocument: http.StatusBadRequest,
	model.ErrPayloadTooLarge: http.StatusRequestEntityTooLarge,
	model.ErrInternalError:   http.StatusInternalServerError,
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if body != nil {
		json.NewEncoder(w).Encode(body)
	}
}

// WriteError writes an ErrorEnvelope as a JSON response with the correct
// HTTP status code. Known domain errors are translated first; anything else
// becomes a generic 500.
func WriteError(w http.ResponseWriter, err error) {
	ee := envelopeFor(err)

	status := statusForCode[ee.Code]
	if status == 0 {
		status = http.StatusInternalServerError
	}

	type errorResponse struct {
		Error *model.ErrorEnvelope `json:"error"`
	}
	WriteJSON(w, status, errorResponse{Error: ee})
}

func envelopeFor(err error) *model.ErrorEnvelope {
	var ee *model.ErrorEnvelope
	if errors.As(err, &ee) {
		return ee
	}
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return model.NewPayloadTooLargeError(tooLarge.Limit)
	case errors.Is(err, ruleset.ErrInvalidDocument):
		return model.NewInvalidDocumentError(err.Error())
	case errors.Is(err, capability.ErrUnknownProfile):
		return model.NewNotFoundError(err.Error())
	default:
		return model.NewInternalError()
	}
}

// WriteNotFound writes a 404 error response.
func WriteNotFound(w http.ResponseWriter, msg string) {
	WriteError(w, model.NewNotFoundError(msg))
}

// WriteForbidden writes a 403 error response.
func WriteForbidden(w http.ResponseWriter, msg string) {
	WriteError(w, model.NewForbiddenError(msg))
}

// WriteValidationError writes a 422 error response listing every located
// rule set error.
func WriteValidationError(w http.ResponseWriter, errs []model.ValidationError) {
	WriteError(w, model.NewValidationError(errs))
}
