package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/researchd/researchd/internals/schemas"
)

type Task struct {
	ID                  string
	SessionID           string
	Prompt              string
	TaskType            string
	Status              schemas.TaskStatus
	Progress            float64
	ProgressMessage     string
	StartedAt           string
	CompletedAt         string
	ErrorMessage        string
	TotalCostUSD        *float64
	UsageStats          map[string]any
	LastStreamedContent string
	CreatedAt           string
	UpdatedAt           string
}

// terminalGuard keeps terminal transitions one-way: an update against an
// already-terminal task affects zero rows and is treated as a no-op.
const terminalGuard = `status NOT IN ('completed', 'failed', 'cancelled')`

// CreateTask persists a new pending task, creating the owning session if it
// does not exist yet.
func (s *Store) CreateTask(ctx context.Context, sessionID string, prompt string, taskType string) (*Task, error) {
	if taskType == "" {
		taskType = schemas.TaskTypeResearch
	}
	task := &Task{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Prompt:    prompt,
		TaskType:  taskType,
		Status:    schemas.TaskStatusPending,
		CreatedAt: now(),
	}
	task.UpdatedAt = task.CreatedAt

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO sessions (id, conversation, created_at, updated_at)
VALUES (?, '[]', ?, ?)
ON CONFLICT(id) DO NOTHING
`, sessionID, task.CreatedAt, task.CreatedAt); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
INSERT INTO research_tasks (id, session_id, prompt, task_type, status, progress, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, 0, ?, ?)
`, task.ID, task.SessionID, task.Prompt, task.TaskType, task.Status, task.CreatedAt, task.UpdatedAt)
		return err
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

func (s *Store) GetTask(ctx context.Context, taskID string) (*Task, error) {
	row := s.db.QueryRowContext(ctx, taskSelect+` WHERE id = ?`, taskID)
	return scanTask(row)
}

// ListSessionTasks returns a session's tasks newest first.
func (s *Store) ListSessionTasks(ctx context.Context, sessionID string) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, taskSelect+` WHERE session_id = ? ORDER BY created_at DESC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *task)
	}
	return tasks, rows.Err()
}

// MarkTaskRunning transitions pending -> running and records the start
// timestamp, so a concurrent status read sees RUNNING before the first
// worker event arrives.
func (s *Store) MarkTaskRunning(ctx context.Context, taskID string, message string) error {
	timestamp := now()
	_, err := s.db.ExecContext(ctx, `
UPDATE research_tasks
SET status = ?, started_at = ?, progress = 0, progress_message = ?, updated_at = ?
WHERE id = ? AND `+terminalGuard, schemas.TaskStatusRunning, timestamp, message, timestamp, taskID)
	return err
}

func (s *Store) UpdateTaskProgress(ctx context.Context, taskID string, progress float64, message string) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE research_tasks
SET progress = ?, progress_message = ?, updated_at = ?
WHERE id = ? AND `+terminalGuard, progress, nullIfEmpty(message), now(), taskID)
	return err
}

// UpdateTaskContent snapshots the accumulated stream content so a
// reconnecting observer can recover it.
func (s *Store) UpdateTaskContent(ctx context.Context, taskID string, content string) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE research_tasks
SET last_streamed_content = ?, updated_at = ?
WHERE id = ? AND `+terminalGuard, content, now(), taskID)
	return err
}

// CompleteTask marks the task completed with progress 1.0. Returns false
// when the task was already terminal.
func (s *Store) CompleteTask(ctx context.Context, taskID string, content string, usage map[string]any, costUSD *float64) (bool, error) {
	var usageJSON any
	if usage != nil {
		data, err := json.Marshal(usage)
		if err != nil {
			return false, fmt.Errorf("failed to encode usage stats: %w", err)
		}
		usageJSON = string(data)
	}
	timestamp := now()
	result, err := s.db.ExecContext(ctx, `
UPDATE research_tasks
SET status = ?, progress = 1.0, progress_message = 'Research complete',
	completed_at = ?, last_streamed_content = ?, usage_stats = ?, total_cost_usd = ?, updated_at = ?
WHERE id = ? AND `+terminalGuard, schemas.TaskStatusCompleted, timestamp, content, usageJSON, costUSD, timestamp, taskID)
	if err != nil {
		return false, err
	}
	return oneRowAffected(result)
}

func (s *Store) FailTask(ctx context.Context, taskID string, errorMessage string) (bool, error) {
	timestamp := now()
	result, err := s.db.ExecContext(ctx, `
UPDATE research_tasks
SET status = ?, error_message = ?, completed_at = ?, updated_at = ?
WHERE id = ? AND `+terminalGuard, schemas.TaskStatusFailed, errorMessage, timestamp, timestamp, taskID)
	if err != nil {
		return false, err
	}
	return oneRowAffected(result)
}

func (s *Store) CancelTask(ctx context.Context, taskID string) (bool, error) {
	timestamp := now()
	result, err := s.db.ExecContext(ctx, `
UPDATE research_tasks
SET status = ?, completed_at = ?, updated_at = ?
WHERE id = ? AND `+terminalGuard, schemas.TaskStatusCancelled, timestamp, timestamp, taskID)
	if err != nil {
		return false, err
	}
	return oneRowAffected(result)
}

const taskSelect = `
SELECT id, session_id, prompt, task_type, status, progress, progress_message,
	started_at, completed_at, error_message, total_cost_usd, usage_stats,
	last_streamed_content, created_at, updated_at
FROM research_tasks`

func scanTask(row rowScanner) (*Task, error) {
	var task Task
	var status string
	var progressMessage, startedAt, completedAt, errorMessage, usageStats, content sql.NullString
	var costUSD sql.NullFloat64
	err := row.Scan(
		&task.ID, &task.SessionID, &task.Prompt, &task.TaskType, &status,
		&task.Progress, &progressMessage, &startedAt, &completedAt,
		&errorMessage, &costUSD, &usageStats, &content,
		&task.CreatedAt, &task.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	task.Status = schemas.TaskStatus(status)
	task.ProgressMessage = progressMessage.String
	task.StartedAt = startedAt.String
	task.CompletedAt = completedAt.String
	task.ErrorMessage = errorMessage.String
	task.LastStreamedContent = content.String
	if costUSD.Valid {
		task.TotalCostUSD = &costUSD.Float64
	}
	if usageStats.Valid && usageStats.String != "" {
		if err := json.Unmarshal([]byte(usageStats.String), &task.UsageStats); err != nil {
			return nil, fmt.Errorf("failed to decode usage stats: %w", err)
		}
	}
	return &task, nil
}

func oneRowAffected(result sql.Result) (bool, error) {
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}
