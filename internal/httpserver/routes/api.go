package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/discoveryd/internal/discovery"
	"github.com/MrSnakeDoc/discoveryd/internal/httpserver/deps"
	"github.com/MrSnakeDoc/discoveryd/internal/httpserver/handlers"
	"github.com/MrSnakeDoc/discoveryd/internal/httpserver/mw"
)

func init() { Register(registerAPI) }

func registerAPI(r chi.Router, d deps.Deps) {
	limit := mw.RateLimit(mw.RateLimitConfig{
		Burst:             d.RateLimitBurst,
		RefillPerIPPerMin: d.RateLimitPerMn,
		MaxEntries:        10000,
		TrustProxy:        d.TrustProxy,
		Clock:             d.Clock,
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(mw.AllowOnlyCIDRS(d.AllowedCIDRS, d.TrustProxy, d.Logger))

		r.Get("/services", handlers.ListServices(d))
		r.Get("/services/{id}", handlers.GetService(d))
		r.Get("/count", handlers.Count(d))
		if d.Hosts != nil {
			r.Get("/hosts/{network}", handlers.Hosts(d))
		}

		r.Group(func(r chi.Router) {
			r.Use(limit)

			r.Post("/services", handlers.AddService(d))
			r.Delete("/services/{id}", handlers.DeleteService(d))
			r.Post("/services/{id}/query", handlers.ServiceRequest(d, discovery.OpQuery))
			r.Post("/services/{id}/update", handlers.ServiceRequest(d, discovery.OpUpdate))
			r.Post("/networks/{network}/query", handlers.NetworkRequest(d, discovery.OpQuery))
			r.Post("/networks/{network}/update", handlers.NetworkRequest(d, discovery.OpUpdate))
			r.Post("/save", handlers.Save(d))
		})
	})
}
