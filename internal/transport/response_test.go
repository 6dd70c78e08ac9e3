package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitabwire/coachbuilder/internal/capability"
	"github.com/pitabwire/coachbuilder/internal/ruleset"
	"github.com/pitabwire/coachbuilder/model"
)

func errorBody(t *testing.T, w *httptest.ResponseRecorder) model.ErrorEnvelope {
	t.Helper()
	var body struct {
		Error model.ErrorEnvelope `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body.Error
}

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	WriteJSON(w, http.StatusCreated, map[string]int{"version": 4})

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.JSONEq(t, `{"version":4}`, w.Body.String())
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not found", model.NewNotFoundError("session not found"), 404, model.ErrNotFound},
		{"forbidden", model.NewForbiddenError("publisher role required"), 403, model.ErrForbidden},
		{"unauthorized", model.NewUnauthorizedError("Token expired"), 401, model.ErrUnauthorized},
		{"bad request", model.NewBadRequestError("strict must be a boolean"), 400, model.ErrBadRequest},
		{"stale version behind a wrap", fmt.Errorf("store: %w", model.NewConflictError("stale")), 409, model.ErrConflict},
		{"invalid document", fmt.Errorf("%w: root must be an object", ruleset.ErrInvalidDocument), 400, model.ErrInvalidDocument},
		{"unknown profile", fmt.Errorf("%w: %q", capability.ErrUnknownProfile, "tennis"), 404, model.ErrNotFound},
		{"body too large", &http.MaxBytesError{Limit: 1024}, 413, model.ErrPayloadTooLarge},
		{"unclassified", errors.New("redis: connection pool timeout"), 500, model.ErrInternalError},
		{"unmapped envelope code", &model.ErrorEnvelope{Code: "TEAPOT"}, 500, "TEAPOT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, tt.err)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.code, errorBody(t, w).Code)
		})
	}
}

func TestWriteError_hidesInternalDetail(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, errors.New("pgx: password authentication failed for user builder"))
	assert.NotContains(t, w.Body.String(), "password")
}

func TestWriteValidationError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteValidationError(w, []model.ValidationError{
		{Path: "rules[0].phase", Code: model.CodeUnknownPhaseRef, Params: map[string]string{"phase": "swing"}},
		{Path: "rule_set_id", Code: model.CodeRequired},
	})

	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	details := errorBody(t, w).Details
	require.Len(t, details, 2)
	assert.Equal(t, "rules[0].phase", details[0].Field)
	assert.Equal(t, model.CodeUnknownPhaseRef, details[0].Code)
	assert.Equal(t, "swing", details[0].Params["phase"])
	assert.Equal(t, "rule_set_id", details[1].Field)
}

func TestWriteNotFoundAndForbidden(t *testing.T) {
	w := httptest.NewRecorder()
	WriteNotFound(w, "rule set golf_swing not found")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	WriteForbidden(w, `The "publisher" role is required`)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, `The "publisher" role is required`, errorBody(t, w).Message)
}
