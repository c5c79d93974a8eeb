package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/researchd/researchd/internals/schemas"
	"github.com/researchd/researchd/internals/store"
)

func (s *Server) HandlerListSessions(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			RenderJSON(w, r, JsonResponseError(JsonResponseErrorCodeValidationFailed, "limit must be a positive integer", nil), Render.Status(http.StatusBadRequest))
			return
		}
		limit = parsed
	}

	sessions, err := s.Base.Store.ListSessions(r.Context(), limit)
	if err != nil {
		RenderJSON(w, r, JsonResponseError(JsonResponseErroCodeInternal, "Failed to list sessions", nil), Render.Status(http.StatusInternalServerError))
		return
	}

	response := schemas.SessionListResponse{Sessions: []schemas.SessionInfo{}}
	for _, session := range sessions {
		response.Sessions = append(response.Sessions, schemas.SessionInfo{
			ID:       session.ID,
			Title:    session.Title,
			Modified: epochSeconds(session.UpdatedAt),
		})
	}
	RenderJSON(w, r, response)
}

func (s *Server) HandlerGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	session, err := s.Base.Store.GetSession(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			RenderJSON(w, r, JsonResponseError(JsonResponseErrorCodeNotFound, "session not found", nil), Render.Status(http.StatusNotFound))
			return
		}
		RenderJSON(w, r, JsonResponseError(JsonResponseErroCodeInternal, "Failed to read session", nil), Render.Status(http.StatusInternalServerError))
		return
	}

	conversation := session.Conversation
	if conversation == nil {
		conversation = []schemas.ChatMessage{}
	}
	RenderJSON(w, r, schemas.SessionResponse{
		ID:           session.ID,
		Title:        session.Title,
		Conversation: conversation,
	})
}

func (s *Server) HandlerDeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	if err := s.Base.Store.DeleteSession(r.Context(), sessionID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			RenderJSON(w, r, JsonResponseError(JsonResponseErrorCodeNotFound, "session not found", nil), Render.Status(http.StatusNotFound))
			return
		}
		RenderJSON(w, r, JsonResponseError(JsonResponseErroCodeInternal, "Failed to delete session", nil), Render.Status(http.StatusInternalServerError))
		return
	}

	RenderJSON(w, r, schemas.StatusResponse{Status: "deleted"})
}

func (s *Server) HandlerSessionTasks(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	tasks, err := s.manager.SessionTasks(r.Context(), sessionID)
	if err != nil {
		RenderJSON(w, r, JsonResponseError(JsonResponseErroCodeInternal, "Failed to list tasks", nil), Render.Status(http.StatusInternalServerError))
		return
	}

	response := schemas.TaskListResponse{Tasks: []schemas.TaskSummary{}}
	for _, task := range tasks {
		response.Tasks = append(response.Tasks, schemas.TaskSummary{
			ID:              task.ID,
			Prompt:          task.Prompt,
			Status:          task.Status,
			Progress:        task.Progress,
			ProgressMessage: task.ProgressMessage,
			CreatedAt:       task.CreatedAt,
		})
	}
	RenderJSON(w, r, response)
}

func epochSeconds(timestamp string) float64 {
	parsed, err := time.Parse(time.RFC3339Nano, timestamp)
	if err != nil {
		return 0
	}
	return float64(parsed.UnixNano()) / float64(time.Second)
}
