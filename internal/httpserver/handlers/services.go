package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/MrSnakeDoc/discoveryd/internal/domain"
	"github.com/MrSnakeDoc/discoveryd/internal/httpserver/deps"
)

const maxBodyBytes = 16 << 10

type addServiceRequest struct {
	URL     string             `json:"url"`
	Type    string             `json:"type"` // defaults to gwc
	Network domain.NetworkType `json:"network"`
	Rating  *uint8             `json:"rating,omitempty"`
}

type addServiceResponse struct {
	ID domain.ServiceID `json:"id"`
}

type countResponse struct {
	Network domain.NetworkType `json:"network"`
	Count   int                `json:"count"`
}

type saveResponse struct {
	Saved  bool `json:"saved"`
	Queued bool `json:"queued"`
}

// ListServices returns every service, optionally only those of ?network=.
func ListServices(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter, err := networkParam(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		all := d.Registry.Services()
		out := make([]domain.Service, 0, len(all))
		for _, s := range all {
			if filter.IsNull() || s.Network.IsNetwork(filter) {
				out = append(out, s)
			}
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func GetService(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := serviceID(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid service id")
			return
		}
		svc, found := d.Registry.Get(id)
		if !found {
			writeError(w, http.StatusNotFound, "service not found")
			return
		}
		writeJSON(w, http.StatusOK, svc)
	}
}

// AddService registers a service. Invalid and duplicate services are both
// answered with 422 since the registry does not tell them apart.
func AddService(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req addServiceRequest
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
			return
		}
		if req.URL == "" {
			writeError(w, http.StatusBadRequest, "url is required")
			return
		}
		t := domain.ServiceTypeGWC
		if req.Type != "" {
			var err error
			if t, err = domain.ParseServiceType(req.Type); err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
		}
		if req.Network.IsNull() && t != domain.ServiceTypeNull {
			req.Network = domain.NetworkG2
		}

		rating := d.MaxRating
		if req.Rating != nil {
			rating = *req.Rating
		}

		id := d.Registry.Add(req.URL, t, req.Network, rating)
		if id == 0 {
			writeError(w, http.StatusUnprocessableEntity, "service rejected (invalid or duplicate)")
			return
		}
		writeJSON(w, http.StatusCreated, addServiceResponse{ID: id})
	}
}

func DeleteService(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := serviceID(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid service id")
			return
		}
		if !d.Registry.Remove(id) {
			writeError(w, http.StatusNotFound, "service not found")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// Count returns the number of working services, optionally for ?network=.
func Count(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter, err := networkParam(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, countResponse{Network: filter, Count: d.Registry.Count(filter)})
	}
}

// Save persists the registry. ?force=true saves synchronously.
func Save(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		force := r.URL.Query().Get("force") == "true"
		saved := d.Registry.Save(force)

		switch {
		case force && !saved:
			writeJSON(w, http.StatusInternalServerError, saveResponse{})
		case !saved:
			writeJSON(w, http.StatusAccepted, saveResponse{Queued: true})
		default:
			writeJSON(w, http.StatusOK, saveResponse{Saved: true})
		}
	}
}
