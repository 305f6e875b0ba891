package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/discoveryd/internal/httpserver/deps"
	"github.com/MrSnakeDoc/discoveryd/internal/httpserver/handlers"
	"github.com/MrSnakeDoc/discoveryd/internal/httpserver/mw"
)

func init() { Register(registerHealth) }

func registerHealth(r chi.Router, d deps.Deps) {
	r.Get("/healthz", handlers.Healthz(d))
	r.Get("/readyz", handlers.Readyz(d))

	r.With(mw.AllowOnlyCIDRS(d.AllowedCIDRS, d.TrustProxy, d.Logger)).
		Method("GET", "/metrics", d.Metrics.Handler())
}
