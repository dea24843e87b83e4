package routers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"codecollab/internal/api"
	"codecollab/internal/metrics"
)

func New(h *api.Handlers, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))
	r.Use(metrics.Middleware)

	r.Get("/healthz", h.Health)
	r.Get("/readyz", h.Ready)
	r.Handle("/metrics", metrics.Handler())

	// websocket connections are long-lived and stay outside the request timeout
	r.Get("/ws", h.CollabWS)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		r.Get("/languages", h.ListLanguages)
		r.Post("/execute", h.Execute)

		r.Route("/projects", func(r chi.Router) {
			r.Post("/", h.CreateProject)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetProject)
				r.Post("/join", h.JoinProject)
				r.Get("/users", h.ListUsers)
				r.Get("/presence", h.Presence)

				r.Get("/files", h.ListFiles)
				r.Post("/files", h.CreateFile)
				r.Get("/files/{name}", h.GetFile)
				r.Put("/files/{name}", h.UpdateFile)
				r.Put("/files/{name}/rename", h.RenameFile)
				r.Delete("/files/{name}", h.DeleteFile)
			})
		})
	})

	return r
}
