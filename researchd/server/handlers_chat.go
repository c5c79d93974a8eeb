package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	z "github.com/Oudwins/zog"
	"github.com/google/uuid"

	"github.com/researchd/researchd/internals/agent"
	"github.com/researchd/researchd/internals/events"
	"github.com/researchd/researchd/internals/schemas"
	"github.com/researchd/researchd/internals/store"
)

const maxTitleLength = 60

// HandlerChat streams one conversational turn with the planner over
// SSE. The session id comes back in the X-Session-Id header so new
// conversations can be continued.
func (s *Server) HandlerChat(w http.ResponseWriter, r *http.Request) {
	var request schemas.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		RenderJSON(w, r, JsonResponseError(JsonResponseErrorCodeInvalidJson, "Invalid JSON", nil), Render.Status(http.StatusBadRequest))
		return
	}

	if issues := schemas.ChatSchema.Validate(&request); len(issues) > 0 {
		payload := JsonResponseError(JsonResponseErrorCodeValidationFailed, "Schema validation failed", z.Issues.Flatten(issues))
		RenderJSON(w, r, payload, Render.Status(http.StatusBadRequest))
		return
	}

	sessionID := request.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	if err := s.Base.Store.EnsureSession(r.Context(), sessionID); err != nil {
		RenderJSON(w, r, JsonResponseError(JsonResponseErroCodeInternal, "Failed to create session", nil), Render.Status(http.StatusInternalServerError))
		return
	}

	session, err := s.Base.Store.GetSession(r.Context(), sessionID)
	if err != nil {
		RenderJSON(w, r, JsonResponseError(JsonResponseErroCodeInternal, "Failed to load session", nil), Render.Status(http.StatusInternalServerError))
		return
	}

	message := request.Message
	if statusContext := s.taskStatusContext(r.Context(), sessionID); statusContext != "" {
		message = statusContext + "\n\n" + message
	}

	stream, err := s.worker.Stream(r.Context(), agent.Request{
		Prompt:  agent.PlannerPrompt(message),
		WorkDir: s.manager.SessionOutputDir(sessionID),
	})
	if err != nil {
		RenderJSON(w, r, JsonResponseError(JsonResponseErroCodeInternal, "Failed to start agent", nil), Render.Status(http.StatusInternalServerError))
		return
	}

	w.Header().Set("X-Session-Id", sessionID)
	writer, err := newSSEWriter(w)
	if err != nil {
		RenderJSON(w, r, JsonResponseError(JsonResponseErroCodeInternal, err.Error(), nil), Render.Status(http.StatusInternalServerError))
		return
	}

	var reply strings.Builder
	for event := range stream {
		switch e := event.(type) {
		case agent.TokenEvent:
			reply.WriteString(e.Text)
			if writer.Send(events.Token(e.Text)) != nil {
				return
			}
		case agent.DoneEvent:
			s.saveConversation(session, request.Message, reply.String())
			_ = writer.Send(events.Done("completed"))
			return
		case agent.ErrorEvent:
			_ = writer.Send(events.Error(e.Message))
			return
		}
	}
	_ = writer.Send(events.Error("agent stream ended unexpectedly"))
}

// taskStatusContext summarizes the session's active research tasks so
// the planner can answer questions about work in flight.
func (s *Server) taskStatusContext(ctx context.Context, sessionID string) string {
	tasks, err := s.manager.SessionTasks(ctx, sessionID)
	if err != nil {
		s.Base.Logger.Warn("failed to load tasks for chat context", "session_id", sessionID, "error", err)
		return ""
	}

	var lines []string
	for _, task := range tasks {
		if task.Status.IsTerminal() {
			continue
		}
		line := fmt.Sprintf("- %s (%.0f%%): %s", task.Status, task.Progress*100, task.Prompt)
		if task.ProgressMessage != "" {
			line += " " + task.ProgressMessage
		}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return ""
	}
	return "Research tasks currently in progress:\n" + strings.Join(lines, "\n")
}

// saveConversation appends the exchanged turn. The request context may
// be gone by now, so persistence runs on a fresh one.
func (s *Server) saveConversation(session *store.Session, userMessage string, assistantReply string) {
	ctx := context.Background()
	conversation := append(session.Conversation,
		schemas.ChatMessage{Role: "user", Content: userMessage},
		schemas.ChatMessage{Role: "assistant", Content: assistantReply},
	)
	if err := s.Base.Store.UpdateSessionConversation(ctx, session.ID, conversation); err != nil {
		s.Base.Logger.Error("failed to save conversation", "session_id", session.ID, "error", err)
	}
	if session.Title == "" {
		title := userMessage
		if len(title) > maxTitleLength {
			title = title[:maxTitleLength]
		}
		if err := s.Base.Store.SetSessionTitle(ctx, session.ID, title); err != nil {
			s.Base.Logger.Error("failed to set session title", "session_id", session.ID, "error", err)
		}
	}
}
