package transport

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pitabwire/coachbuilder/internal/observability"
	"github.com/pitabwire/coachbuilder/internal/ruleset"
	"github.com/pitabwire/coachbuilder/internal/transfer"
)

// ruleSetSummary is one entry of the published rule set listing.
type ruleSetSummary struct {
	RuleSetID     string `json:"rule_set_id"`
	Sport         string `json:"sport"`
	SportVersion  string `json:"sport_version"`
	SchemaVersion string `json:"schema_version"`
	Title         string `json:"title"`
	Checksum      string `json:"checksum"`
}

func summarize(doc ruleset.Document) ruleSetSummary {
	rs := doc.RuleSet
	return ruleSetSummary{
		RuleSetID:     rs.RuleSetID,
		Sport:         rs.Sport,
		SportVersion:  rs.SportVersion,
		SchemaVersion: rs.SchemaVersion,
		Title:         rs.Metadata.Title,
		Checksum:      doc.Checksum,
	}
}

func handleRuleSetValidate(pub *transfer.Publisher, metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			WriteError(w, err)
			return
		}

		_, errs, err := pub.Check(data)
		if err != nil {
			WriteError(w, err)
			return
		}
		if metrics != nil {
			metrics.RecordValidationErrors("validate", errs)
		}
		WriteJSON(w, http.StatusOK, newValidationResponse(errs))
	}
}

func handleRuleSetList(reg *ruleset.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docs := reg.All()
		data := make([]ruleSetSummary, 0, len(docs))
		sport := r.URL.Query().Get("sport")
		for _, d := range docs {
			if sport != "" && d.RuleSet.Sport != sport {
				continue
			}
			data = append(data, summarize(d))
		}
		WriteJSON(w, http.StatusOK, map[string]any{
			"data":        data,
			"total_count": len(data),
			"checksum":    reg.Checksum(),
		})
	}
}

func handleRuleSetGet(reg *ruleset.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "ruleSetId")
		doc, ok := reg.Get(id)
		if !ok {
			WriteNotFound(w, "rule set "+id+" is not published")
			return
		}
		data, err := transfer.Marshal(doc.RuleSet)
		if err != nil {
			WriteError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("ETag", `"`+doc.Checksum+`"`)
		w.WriteHeader(http.StatusOK)
		w.Write(data)
	}
}

func handleRuleSetPublish(pub *transfer.Publisher, reg *ruleset.Registry, metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := observability.LoggerFrom(r.Context(), zap.NewNop())

		data, err := io.ReadAll(r.Body)
		if err != nil {
			WriteError(w, err)
			return
		}

		doc, errs, err := pub.Publish(r.Context(), data)
		status := "success"
		switch {
		case err != nil:
			status = "failure"
		case len(errs) > 0:
			status = "rejected"
		}
		if metrics != nil {
			metrics.RecordRuleSetPublish(status)
			metrics.RecordValidationErrors("publish", errs)
			metrics.SetRuleSetsPublished(reg.Len())
		}

		if err != nil {
			WriteError(w, err)
			return
		}
		if len(errs) > 0 {
			logger.Warn("publish rejected", observability.ValidationFields(errs)...)
			WriteValidationError(w, errs)
			return
		}

		logger.Info("rule set published",
			zap.String("rule_set_id", doc.RuleSet.RuleSetID),
			zap.String("checksum", doc.Checksum),
		)
		WriteJSON(w, http.StatusCreated, summarize(doc))
	}
}

func handleSchema() http.HandlerFunc {
	doc := ruleset.SchemaDocument()
	return func(w http.ResponseWriter, _ *http.Request) {
		WriteJSON(w, http.StatusOK, doc)
	}
}
