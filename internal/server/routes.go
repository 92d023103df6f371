package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter constructs the chi mux with all routes wired.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestContext)

	// Public.
	r.Get("/healthz", s.handleHealth())
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		if s.cfg.AuthToken != "" {
			r.Use(authMiddleware(s.cfg.AuthToken))
		}
		r.Post("/dispatch", s.handleDispatch())
		r.Get("/tools", s.handleListTools())
		r.Get("/executions", s.handleQueryExecutions())
		r.Post("/providers/{id}/invalidate", s.handleInvalidateProvider())
	})

	return r
}
