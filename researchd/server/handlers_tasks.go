package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	z "github.com/Oudwins/zog"
	"github.com/go-chi/chi/v5"

	"github.com/researchd/researchd/internals/events"
	"github.com/researchd/researchd/internals/logbuf"
	"github.com/researchd/researchd/internals/schemas"
	"github.com/researchd/researchd/internals/store"
	"github.com/researchd/researchd/internals/timeouts"
)

func (s *Server) HandlerCreateTask(w http.ResponseWriter, r *http.Request) {
	var request schemas.TaskCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		RenderJSON(w, r, JsonResponseError(JsonResponseErrorCodeInvalidJson, "Invalid JSON", nil), Render.Status(http.StatusBadRequest))
		return
	}

	if issues := schemas.TaskCreateSchema.Validate(&request); len(issues) > 0 {
		payload := JsonResponseError(JsonResponseErrorCodeValidationFailed, "Schema validation failed", z.Issues.Flatten(issues))
		RenderJSON(w, r, payload, Render.Status(http.StatusBadRequest))
		return
	}

	task, err := s.manager.CreateTask(r.Context(), request.SessionID, request.Prompt)
	if err != nil {
		RenderJSON(w, r, JsonResponseError(JsonResponseErroCodeInternal, "Failed to create task", nil), Render.Status(http.StatusInternalServerError))
		return
	}

	logbuf.FromContext(r.Context()).Info("task created",
		slog.String("task_id", task.ID),
		slog.String("session_id", task.SessionID),
		slog.String("mode", request.Mode),
	)

	message := "Research queued, connect to the stream to start it"
	if request.Mode == schemas.TaskModeBackground {
		s.manager.StartTask(task.ID)
		message = "Research started in background"
	}

	RenderJSON(w, r, schemas.TaskCreateResponse{
		TaskID:    task.ID,
		Status:    task.Status,
		Message:   message,
		StreamURL: "/api/tasks/" + task.ID + "/stream",
	}, Render.Status(http.StatusAccepted))
}

func (s *Server) HandlerTaskStatus(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "id")
	if taskID == "" {
		RenderJSON(w, r, JsonResponseError(JsonResponseErrorCodeValidationFailed, "task id is required", nil), Render.Status(http.StatusBadRequest))
		return
	}

	task, err := s.manager.GetTask(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			RenderJSON(w, r, JsonResponseError(JsonResponseErrorCodeNotFound, "task not found", nil), Render.Status(http.StatusNotFound))
			return
		}
		RenderJSON(w, r, JsonResponseError(JsonResponseErroCodeInternal, "Failed to read task status", nil), Render.Status(http.StatusInternalServerError))
		return
	}

	RenderJSON(w, r, taskToResponse(task))
}

func (s *Server) HandlerCancelTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "id")

	cancelled, err := s.manager.CancelTask(r.Context(), taskID)
	if err != nil {
		RenderJSON(w, r, JsonResponseError(JsonResponseErroCodeInternal, "Failed to cancel task", nil), Render.Status(http.StatusInternalServerError))
		return
	}
	if !cancelled {
		if _, err := s.manager.GetTask(r.Context(), taskID); errors.Is(err, store.ErrNotFound) {
			RenderJSON(w, r, JsonResponseError(JsonResponseErrorCodeNotFound, "task not found", nil), Render.Status(http.StatusNotFound))
			return
		}
		RenderJSON(w, r, JsonResponseError(JsonResponseErrorCodeConflict, "task is not cancellable", nil), Render.Status(http.StatusBadRequest))
		return
	}

	RenderJSON(w, r, schemas.CancelResponse{Status: "cancelled"})
}

// HandlerTaskStream serves the task's event stream as SSE. Terminal
// tasks get a replay of their final state; pending tasks are started by
// the act of observing them.
func (s *Server) HandlerTaskStream(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "id")

	writer, err := newSSEWriter(w)
	if err != nil {
		RenderJSON(w, r, JsonResponseError(JsonResponseErroCodeInternal, err.Error(), nil), Render.Status(http.StatusInternalServerError))
		return
	}

	task, err := s.manager.GetTask(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			_ = writer.Send(events.Error("task not found"))
			return
		}
		_ = writer.Send(events.Error("failed to load task"))
		return
	}

	if task.Status.IsTerminal() {
		s.replayTerminal(writer, task)
		return
	}

	queue := s.manager.SubscribeToTask(taskID)
	defer s.manager.CleanupStream(taskID)

	if task.Status == schemas.TaskStatusPending {
		s.manager.StartTask(taskID)
	}

	for {
		event, err := queue.Get(r.Context(), timeouts.StreamIdle)
		if err != nil {
			if errors.Is(err, events.ErrTimeout) {
				if writer.Send(events.Ping()) != nil {
					return
				}
				continue
			}
			// Client disconnected.
			return
		}
		if writer.Send(event) != nil {
			return
		}
		if event.Type == events.TypeDone || event.Type == events.TypeError {
			return
		}
	}
}

func (s *Server) replayTerminal(writer *sseWriter, task *store.Task) {
	if task.LastStreamedContent != "" {
		if writer.Send(events.Content(task.LastStreamedContent)) != nil {
			return
		}
	}
	if task.Status == schemas.TaskStatusFailed {
		message := task.ErrorMessage
		if message == "" {
			message = "task failed"
		}
		_ = writer.Send(events.Error(message))
		return
	}
	_ = writer.Send(events.Done(string(task.Status)))
}

func taskToResponse(task *store.Task) schemas.TaskResponse {
	return schemas.TaskResponse{
		ID:              task.ID,
		Status:          task.Status,
		Progress:        task.Progress,
		ProgressMessage: task.ProgressMessage,
		Prompt:          task.Prompt,
		StartedAt:       task.StartedAt,
		CompletedAt:     task.CompletedAt,
		ErrorMessage:    task.ErrorMessage,
		TotalCostUSD:    task.TotalCostUSD,
	}
}
