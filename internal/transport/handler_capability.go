package transport

import (
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/coachbuilder/internal/capability"
	"github.com/pitabwire/coachbuilder/model"
)

func handleProfileList(res *capability.Resolver) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		cat := res.Catalog()
		profiles := make([]model.ProfileCapability, 0, len(cat.Profiles))
		for _, p := range cat.Profiles {
			profiles = append(profiles, p)
		}
		sort.Slice(profiles, func(i, j int) bool { return profiles[i].ID < profiles[j].ID })

		WriteJSON(w, http.StatusOK, map[string]any{
			"data":               profiles,
			"default_profile_id": cat.DefaultProfileID,
		})
	}
}

func handleProfileGet(res *capability.Resolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := res.Profile(chi.URLParam(r, "profileId"))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, p)
	}
}

func handleMetricCatalog(res *capability.Resolver) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		WriteJSON(w, http.StatusOK, res.Metrics())
	}
}
