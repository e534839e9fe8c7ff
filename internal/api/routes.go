package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SetupRoutes configures the full route tree. Every tenant-scoped route
// carries the account id in its path; there is no ambient tenant state.
func SetupRoutes(h *Handlers) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://app.shopdesk.io", "http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", h.HealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/fields", h.HandleFieldCatalog)

		r.Route("/accounts/{accountID}", func(r chi.Router) {
			r.Route("/rules", func(r chi.Router) {
				r.Get("/", h.HandleListRules)
				r.Post("/", h.HandleCreateRule)
				r.Post("/import", h.HandleImportFlatRule)

				r.Route("/{ruleID}", func(r chi.Router) {
					r.Get("/", h.HandleGetRule)
					r.Put("/", h.HandleUpdateRule)
					r.Delete("/", h.HandleDeleteRule)
					r.Post("/activate", h.HandleSetRuleActive(true))
					r.Post("/deactivate", h.HandleSetRuleActive(false))

					r.Post("/steps", h.HandleInsertStep)
					r.Put("/steps/{stepID}", h.HandleUpdateStep)
					r.Delete("/steps/{stepID}", h.HandleRemoveStep)
					r.Post("/actions", h.HandleCreateAction)
				})
			})

			r.Put("/conditions/{conditionID}", h.HandleUpdateCondition)
			r.Delete("/conditions/{conditionID}", h.HandleDeleteCondition)
			r.Delete("/actions/{actionID}", h.HandleDeleteAction)

			r.Post("/events", h.HandleEmitEvent)

			r.Route("/messages", func(r chi.Router) {
				r.Get("/", h.HandleListMessages)
				r.Get("/{messageID}", h.HandleGetMessage)
				r.Post("/{messageID}/track", h.HandleTrackMessage)
			})
		})
	})

	return r
}
