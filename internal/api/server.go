// It defines the API server, sets up the routes (endpoints)
// using chi, and links them to the handler functions.

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/vrsandeep/mvidarr-go/internal/core"
)

// Server holds the dependencies for our API.
type Server struct {
	app *core.App
}

// NewServer creates a new Server instance.
func NewServer(app *core.App) *Server {
	return &Server{app: app}
}

// Router sets up and returns the main router for the application.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)    // Logs requests to the console
	r.Use(middleware.Recoverer) // Recovers from panics
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/api/version", s.handleGetVersion)
	r.Get("/api/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(s.UserMiddleware)

		r.Route("/api", func(r chi.Router) {
			r.Get("/operations", s.handleListOperations)
			r.Post("/operations", s.handleCreateOperation)
			r.Get("/operations/{operationID}", s.handleGetOperation)
			r.Post("/operations/{operationID}/start", s.handleStartOperation)
			r.Post("/operations/{operationID}/cancel", s.handleCancelOperation)
			r.Post("/operations/{operationID}/undo", s.handleUndoOperation)
			r.Get("/operations/{operationID}/audit", s.handleGetOperationAudit)

			// Admin Job Triggers
			r.Route("/admin", func(r chi.Router) {
				r.Get("/jobs/status", s.handleGetAdminJobsStatus)
				r.Post("/jobs/run", s.handleRunAdminJob)
				r.Get("/operations/active", s.handleListActiveOperations)
			})
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.app.Store.Ping(r.Context()); err != nil {
		RespondWithError(w, http.StatusServiceUnavailable, "Database connection failed")
		return
	}
	RespondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
