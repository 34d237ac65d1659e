package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Get("/health", h.Health)
	r.Get("/ws", h.Hub.HandleWS)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		r.Post("/events/change", h.HandleChangeEvent)

		r.Get("/workflows", h.ListActiveWorkflows)
		r.Get("/workflows/{id}", h.GetWorkflow)
		r.Post("/workflows/{id}/decision", h.SubmitHumanDecision)
	})
}
