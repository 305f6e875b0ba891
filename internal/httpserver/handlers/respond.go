package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/discoveryd/internal/domain"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func serviceID(r *http.Request) (domain.ServiceID, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 32)
	if err != nil || id == 0 {
		return 0, false
	}
	return domain.ServiceID(id), true
}

// networkParam reads a network from the URL param or, if absent, the
// "network" query value. An absent network is NetworkNull.
func networkParam(r *http.Request) (domain.NetworkType, error) {
	raw := chi.URLParam(r, "network")
	if raw == "" {
		raw = r.URL.Query().Get("network")
	}
	return domain.ParseNetworkType(raw)
}

func parseLimit(s string) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	return min(v, 1000), nil
}
