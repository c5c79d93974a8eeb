package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.MiddlewareLogger)
	r.Get("/version", s.HandlerVersion)
	r.Post("/shutdown", s.HandlerShutdown)
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.HandlerHealth)
		r.Post("/chat", s.HandlerChat)
		r.Get("/sessions", s.HandlerListSessions)
		r.Get("/sessions/{id}", s.HandlerGetSession)
		r.Delete("/sessions/{id}", s.HandlerDeleteSession)
		r.Get("/sessions/{id}/tasks", s.HandlerSessionTasks)
		r.Post("/tasks", s.HandlerCreateTask)
		r.Get("/tasks/{id}", s.HandlerTaskStatus)
		r.Get("/tasks/{id}/stream", s.HandlerTaskStream)
		r.Post("/tasks/{id}/cancel", s.HandlerCancelTask)
		r.Get("/outputs", s.HandlerListOutputs)
		r.Get("/outputs/{id}/content", s.HandlerOutputContent)
		r.Get("/outputs/{id}/download", s.HandlerOutputDownload)
	})
	return r
}
