package schemas

import (
	z "github.com/Oudwins/zog"
)

type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// IsTerminal reports whether no further status transition is permitted.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

const TaskTypeResearch = "research"

type TaskCreateRequest struct {
	SessionID string `json:"session_id" zog:"session_id"`
	Prompt    string `json:"prompt" zog:"prompt"`
	Mode      string `json:"mode" zog:"mode"`
}

const (
	TaskModeBackground = "background"
	TaskModeLive       = "live"
)

var TaskCreateSchema = z.Struct(z.Shape{
	"SessionID": z.String().Required(z.Message("session_id is required")).Trim(),
	"Prompt":    z.String().Required(z.Message("prompt is required")).Trim(),
	"Mode":      z.String().Default(TaskModeBackground).OneOf([]string{TaskModeBackground, TaskModeLive}),
})

type TaskCreateResponse struct {
	TaskID    string     `json:"task_id"`
	Status    TaskStatus `json:"status"`
	Message   string     `json:"message,omitempty"`
	StreamURL string     `json:"stream_url,omitempty"`
}

type TaskResponse struct {
	ID              string     `json:"id"`
	Status          TaskStatus `json:"status"`
	Progress        float64    `json:"progress"`
	ProgressMessage string     `json:"progress_message,omitempty"`
	Prompt          string     `json:"prompt"`
	StartedAt       string     `json:"started_at,omitempty"`
	CompletedAt     string     `json:"completed_at,omitempty"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	TotalCostUSD    *float64   `json:"total_cost_usd"`
}

type TaskSummary struct {
	ID              string     `json:"id"`
	Prompt          string     `json:"prompt"`
	Status          TaskStatus `json:"status"`
	Progress        float64    `json:"progress"`
	ProgressMessage string     `json:"progress_message,omitempty"`
	CreatedAt       string     `json:"created_at,omitempty"`
}

type TaskListResponse struct {
	Tasks []TaskSummary `json:"tasks"`
}

type CancelResponse struct {
	Status string `json:"status"`
}
