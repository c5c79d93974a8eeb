package server

import (
	"net/http"

	"github.com/researchd/researchd/internals/schemas"
)

func (s *Server) HandlerVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(s.Base.Config.Version))
}

func (s *Server) HandlerHealth(w http.ResponseWriter, r *http.Request) {
	RenderJSON(w, r, schemas.StatusResponse{Status: "ok"})
}

func (s *Server) HandlerShutdown(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("shutting down"))

	s.Shutdown()
}
