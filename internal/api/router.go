package api

import (
	"github.com/go-chi/chi/v5"

	"github.com/starford/shape/internal/taskservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
func NewRouter(svc *taskservice.Service, authEnabled bool, token string) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Graph queries.
	r.Get("/tasks/ready", h.Ready)
	r.Get("/tasks/blocked", h.Blocked)
	r.Get("/tasks/order", h.Order)

	// Tasks.
	r.Get("/tasks", h.ListTasks)
	r.Post("/tasks", h.AddTask)
	r.Get("/tasks/{id}", h.GetTask)
	r.Patch("/tasks/{id}", h.UpdateTask)
	r.Post("/tasks/{id}/deps", h.AddDependency)
	r.Delete("/tasks/{id}/deps/{dep}", h.RemoveDependency)
	r.Post("/tasks/{id}/claim", h.ClaimTask)
	r.Delete("/tasks/{id}/claim", h.UnclaimTask)
	r.Post("/tasks/{id}/notes", h.AddNote)
	r.Post("/tasks/{id}/{action}", h.Transition)

	// Agent coordination.
	r.Get("/next", h.Next)
	r.Get("/context", h.Context)

	// Briefs.
	r.Get("/briefs", h.ListBriefs)
	r.Post("/briefs", h.CreateBrief)

	// Search and stats.
	r.Get("/search", h.Search)
	r.Get("/stats", h.Stats)

	return r
}
