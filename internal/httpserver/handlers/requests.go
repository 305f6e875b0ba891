package handlers

import (
	"errors"
	"net/http"

	"github.com/MrSnakeDoc/discoveryd/internal/discovery"
	"github.com/MrSnakeDoc/discoveryd/internal/domain"
	"github.com/MrSnakeDoc/discoveryd/internal/httpserver/deps"
)

type queuedResponse struct {
	Queued bool `json:"queued"`
}

// ServiceRequest queues a query or update of one service.
func ServiceRequest(d deps.Deps, op discovery.Op) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := serviceID(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid service id")
			return
		}
		if _, found := d.Registry.Get(id); !found {
			writeError(w, http.StatusNotFound, "service not found")
			return
		}

		var err error
		if op == discovery.OpUpdate {
			err = d.Registry.UpdateService(id)
		} else {
			err = d.Registry.QueryService(id)
		}
		writeQueued(w, err)
	}
}

// NetworkRequest queues a query or update of a service picked for a network.
func NetworkRequest(d deps.Deps, op discovery.Op) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := networkParam(r)
		if err != nil || n.IsNull() {
			writeError(w, http.StatusBadRequest, "invalid network")
			return
		}

		if op == discovery.OpUpdate {
			err = d.Registry.UpdateNetwork(n)
		} else {
			err = d.Registry.QueryNetwork(n)
		}
		writeQueued(w, err)
	}
}

func writeQueued(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, queuedResponse{Queued: true})
	case errors.Is(err, discovery.ErrStopped):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

type hostsResponse struct {
	Network domain.NetworkType `json:"network"`
	Total   int                `json:"total"`
	Hosts   []domain.Host      `json:"hosts"`
}

// Hosts lists cached peers of one network, newest first, up to ?limit=.
func Hosts(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := networkParam(r)
		if err != nil || len(n.Networks()) != 1 {
			writeError(w, http.StatusBadRequest, "exactly one network is required")
			return
		}
		limit := 100
		if v, err := parseLimit(r.URL.Query().Get("limit")); err == nil && v > 0 {
			limit = v
		}

		hosts, err := d.Hosts.Hosts(n, limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		total, err := d.Hosts.Count(n)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, hostsResponse{Network: n, Total: total, Hosts: hosts})
	}
}
