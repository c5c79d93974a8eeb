package tasks

import (
	"context"
	"fmt"
	"strings"

	"github.com/researchd/researchd/internals/agent"
	"github.com/researchd/researchd/internals/events"
	"github.com/researchd/researchd/internals/schemas"
)

const startingMessage = "Starting research..."

// contentSnapshotStride is how much streamed text may accumulate
// between database snapshots of the partial content.
const contentSnapshotStride = 1000

// run drives one task from pending to a terminal state. It is the only
// writer of the task's status while active; the cancel path races it
// only through the store's terminal guard.
func (m *Manager) run(ctx context.Context, taskID string) {
	defer m.finishRun(taskID)

	task, err := m.store.GetTask(ctx, taskID)
	if err != nil {
		m.logger.Error("runner could not load task", "task_id", taskID, "error", err)
		return
	}
	if task.Status.IsTerminal() {
		m.logger.Warn("runner skipping terminal task", "task_id", taskID, "status", task.Status)
		return
	}

	if err := m.store.MarkTaskRunning(ctx, taskID, startingMessage); err != nil {
		m.logger.Error("failed to mark task running", "task_id", taskID, "error", err)
		return
	}
	m.registry.Publish(taskID, events.Progress(0, startingMessage))

	stream, err := m.worker.Stream(ctx, agent.Request{
		Prompt:  agent.ResearchPrompt(task.Prompt),
		WorkDir: m.SessionOutputDir(task.SessionID),
	})
	if err != nil {
		m.fail(taskID, fmt.Sprintf("failed to start agent: %v", err))
		return
	}

	m.logger.Info("task runner started", "task_id", taskID, "session_id", task.SessionID)

	var accumulated strings.Builder
	lastSnapshot := 0
	toolCount := 0

	for {
		select {
		case <-ctx.Done():
			// Cancelled. The cancel path already updated store and
			// queue; just stop consuming.
			m.logger.Info("task runner stopped", "task_id", taskID)
			return

		case event, open := <-stream:
			if !open {
				m.fail(taskID, "agent stream ended unexpectedly")
				return
			}

			switch e := event.(type) {
			case agent.SystemEvent:
				m.logger.Debug("agent stream initialized", "task_id", taskID, "agent_session_id", e.SessionID)

			case agent.TokenEvent:
				accumulated.WriteString(e.Text)
				m.registry.Publish(taskID, events.Token(e.Text))
				if accumulated.Len()-lastSnapshot >= contentSnapshotStride {
					if err := m.store.UpdateTaskContent(ctx, taskID, accumulated.String()); err != nil {
						m.logger.Warn("failed to snapshot content", "task_id", taskID, "error", err)
					} else {
						lastSnapshot = accumulated.Len()
					}
				}

			case agent.ToolUseEvent:
				toolCount++
				progress := min(0.9, float64(toolCount)*0.1)
				message := fmt.Sprintf("Using %s...", e.Name)
				if err := m.store.UpdateTaskProgress(ctx, taskID, progress, message); err != nil {
					m.logger.Warn("failed to update progress", "task_id", taskID, "error", err)
				}
				m.registry.Publish(taskID, events.Progress(progress, message))

			case agent.DoneEvent:
				m.complete(task.SessionID, taskID, accumulated.String(), e)
				return

			case agent.ErrorEvent:
				m.fail(taskID, e.Message)
				return
			}
		}
	}
}

// complete uses a fresh context so the terminal write is not lost to a
// concurrent cancellation of the runner's context.
func (m *Manager) complete(sessionID string, taskID string, content string, done agent.DoneEvent) {
	ctx := context.Background()
	registered, err := m.reconciler.Reconcile(ctx, sessionID, taskID, m.SessionOutputDir(sessionID))
	if err != nil {
		m.logger.Error("output reconciliation failed", "task_id", taskID, "error", err)
	} else if registered > 0 {
		m.logger.Info("registered output files", "task_id", taskID, "count", registered)
	}

	applied, err := m.store.CompleteTask(ctx, taskID, content, done.Usage, done.CostUSD)
	if err != nil {
		m.logger.Error("failed to complete task", "task_id", taskID, "error", err)
		return
	}
	if !applied {
		// Lost the race against cancellation.
		m.logger.Info("completion skipped, task already terminal", "task_id", taskID)
		return
	}
	m.registry.Publish(taskID, events.Done(string(schemas.TaskStatusCompleted)))
	m.logger.Info("task completed", "task_id", taskID, "cost_usd", done.CostUSD)
}

// fail uses a fresh context so terminal state still lands when the
// runner's context is being torn down.
func (m *Manager) fail(taskID string, message string) {
	applied, err := m.store.FailTask(context.Background(), taskID, message)
	if err != nil {
		m.logger.Error("failed to mark task failed", "task_id", taskID, "error", err)
		return
	}
	if !applied {
		return
	}
	m.registry.Publish(taskID, events.Error(message))
	m.logger.Warn("task failed", "task_id", taskID, "error_message", message)
}
