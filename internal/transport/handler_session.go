package transport

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pitabwire/coachbuilder/internal/draft"
	"github.com/pitabwire/coachbuilder/internal/mapper"
	"github.com/pitabwire/coachbuilder/internal/observability"
	"github.com/pitabwire/coachbuilder/internal/session"
	"github.com/pitabwire/coachbuilder/internal/transfer"
	"github.com/pitabwire/coachbuilder/model"
)

// importResponse is returned by a successful import.
type importResponse struct {
	Session session.Session     `json:"session"`
	Report  mapper.ImportReport `json:"report"`
}

// validationResponse lists the problems of a document.
type validationResponse struct {
	Valid  bool                    `json:"valid"`
	Errors []model.ValidationError `json:"errors"`
}

func newValidationResponse(errs []model.ValidationError) validationResponse {
	if errs == nil {
		errs = []model.ValidationError{}
	}
	return validationResponse{Valid: len(errs) == 0, Errors: errs}
}

func handleSessionCreate(mgr *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}

		sess, err := mgr.Create(r.Context(), rctx)
		if err != nil {
			WriteError(w, err)
			return
		}
		writeSession(w, http.StatusCreated, sess)
	}
}

func handleSessionGet(mgr *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}

		sess, err := mgr.Get(r.Context(), rctx, chi.URLParam(r, "sessionId"))
		if err != nil {
			WriteError(w, err)
			return
		}
		writeSession(w, http.StatusOK, sess)
	}
}

func handleSessionDelete(mgr *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}

		if err := mgr.Delete(r.Context(), rctx, chi.URLParam(r, "sessionId")); err != nil {
			WriteError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleSessionAction(mgr *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}
		version, err := ifMatchVersion(r)
		if err != nil {
			WriteError(w, err)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			WriteError(w, err)
			return
		}
		action, err := draft.DecodeAction(body)
		if err != nil {
			WriteError(w, model.NewBadRequestError(err.Error()))
			return
		}

		sess, err := mgr.Apply(r.Context(), rctx, chi.URLParam(r, "sessionId"), version, action)
		if err != nil {
			WriteError(w, err)
			return
		}
		writeSession(w, http.StatusOK, sess)
	}
}

func handleSessionImport(mgr *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}
		version, err := ifMatchVersion(r)
		if err != nil {
			WriteError(w, err)
			return
		}

		data, err := io.ReadAll(r.Body)
		if err != nil {
			WriteError(w, err)
			return
		}

		sessionID := chi.URLParam(r, "sessionId")
		sess, res, err := mgr.Import(r.Context(), rctx, sessionID, version, data)
		if err != nil {
			WriteError(w, err)
			return
		}
		if !res.Accepted() {
			observability.LoggerFrom(r.Context(), zap.NewNop()).Warn("import rejected",
				append(observability.ValidationFields(res.Errors), zap.String("session_id", sessionID))...)
			WriteValidationError(w, res.Errors)
			return
		}
		w.Header().Set("ETag", etag(sess.Version))
		WriteJSON(w, http.StatusOK, importResponse{Session: sess, Report: res.Report})
	}
}

func handleSessionExport(mgr *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}
		strict, err := queryBool(r, "strict")
		if err != nil {
			WriteError(w, err)
			return
		}

		out, err := mgr.Export(r.Context(), rctx, chi.URLParam(r, "sessionId"), transfer.ExportOptions{Strict: strict})
		if errors.Is(err, transfer.ErrUnparsableFields) {
			WriteValidationError(w, out.Issues)
			return
		}
		if err != nil {
			WriteError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", out.Filename))
		if len(out.Issues) > 0 {
			w.Header().Set("X-Export-Issues", strconv.Itoa(len(out.Issues)))
		}
		w.WriteHeader(http.StatusOK)
		w.Write(out.Data)
	}
}

func handleSessionValidation(mgr *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}

		errs, err := mgr.Validate(r.Context(), rctx, chi.URLParam(r, "sessionId"))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, newValidationResponse(errs))
	}
}

func writeSession(w http.ResponseWriter, status int, sess session.Session) {
	w.Header().Set("ETag", etag(sess.Version))
	WriteJSON(w, status, sess)
}

func etag(version int) string {
	return strconv.Quote(strconv.Itoa(version))
}

// ifMatchVersion reads the expected session version from If-Match. An absent
// header or "*" means no version check.
func ifMatchVersion(r *http.Request) (int, error) {
	raw := strings.TrimSpace(r.Header.Get("If-Match"))
	if raw == "" || raw == "*" {
		return 0, nil
	}
	raw = strings.Trim(strings.TrimPrefix(raw, "W/"), `"`)
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return 0, model.NewBadRequestError(fmt.Sprintf("If-Match must carry a session version, got %q", r.Header.Get("If-Match")))
	}
	return v, nil
}

func queryBool(r *http.Request, name string) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, model.NewBadRequestError(fmt.Sprintf("query parameter %s must be a boolean", name))
	}
	return v, nil
}
