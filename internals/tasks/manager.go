package tasks

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/researchd/researchd/internals/agent"
	"github.com/researchd/researchd/internals/events"
	"github.com/researchd/researchd/internals/outputs"
	"github.com/researchd/researchd/internals/schemas"
	"github.com/researchd/researchd/internals/store"
)

// Manager owns the lifecycle of research tasks: it creates them, starts
// their runner goroutines, relays their events to observers, and
// cancels them. All cross-goroutine state lives behind its mutex.
type Manager struct {
	store      *store.Store
	registry   *events.Registry
	worker     agent.Worker
	reconciler *outputs.Reconciler
	outputDir  string
	logger     *slog.Logger

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

func NewManager(s *store.Store, registry *events.Registry, worker agent.Worker, outputDir string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:      s,
		registry:   registry,
		worker:     worker,
		reconciler: outputs.NewReconciler(s, logger),
		outputDir:  outputDir,
		logger:     logger,
		running:    make(map[string]context.CancelFunc),
	}
}

// CreateTask persists a new pending task. Starting it is a separate
// step so callers can choose background or live mode.
func (m *Manager) CreateTask(ctx context.Context, sessionID string, prompt string) (*store.Task, error) {
	return m.store.CreateTask(ctx, sessionID, prompt, schemas.TaskTypeResearch)
}

// StartTask launches the runner goroutine for a task. Returns false if
// a runner for this task is already active, so double-starts from
// concurrent requests collapse to one run.
func (m *Manager) StartTask(taskID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, active := m.running[taskID]; active {
		return false
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.running[taskID] = cancel
	// Allocate the queue before the runner emits anything, so events
	// fired ahead of the first observer are buffered instead of dropped.
	m.registry.Subscribe(taskID)
	go m.run(ctx, taskID)
	return true
}

func (m *Manager) GetTask(ctx context.Context, taskID string) (*store.Task, error) {
	return m.store.GetTask(ctx, taskID)
}

func (m *Manager) SessionTasks(ctx context.Context, sessionID string) ([]store.Task, error) {
	return m.store.ListSessionTasks(ctx, sessionID)
}

// SubscribeToTask returns the task's live event queue, creating it if
// needed. Pair with CleanupStream when the observer disconnects.
func (m *Manager) SubscribeToTask(taskID string) *events.Queue {
	return m.registry.Subscribe(taskID)
}

// CleanupStream drops the task's event queue. Events published after
// this are lost; the store remains the durable record.
func (m *Manager) CleanupStream(taskID string) {
	m.registry.Remove(taskID)
}

// IsTaskRunning reports whether a runner goroutine is active for the
// task.
func (m *Manager) IsTaskRunning(taskID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, active := m.running[taskID]
	return active
}

// CancelTask stops the task's runner and transitions it to cancelled.
// Returns false when no runner is active for it (never started, already
// terminal, or unknown) or when the runner's own terminal write won the
// race; cancellation is never retroactive.
func (m *Manager) CancelTask(ctx context.Context, taskID string) (bool, error) {
	m.mu.Lock()
	cancel, active := m.running[taskID]
	m.mu.Unlock()
	if !active {
		return false, nil
	}

	applied, err := m.store.CancelTask(ctx, taskID)
	if err != nil {
		return false, err
	}
	if !applied {
		return false, nil
	}
	cancel()

	m.registry.Publish(taskID, events.Done(string(schemas.TaskStatusCancelled)))
	m.logger.Info("task cancelled", "task_id", taskID)
	return true, nil
}

// Shutdown stops all active runners. Tasks stay in their current state;
// a restarted daemon sees them as stale running tasks.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(m.running))
	for _, cancel := range m.running {
		cancels = append(cancels, cancel)
	}
	m.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

// SessionOutputDir is where the agent writes artifacts for a session
// and where the reconciler looks for them.
func (m *Manager) SessionOutputDir(sessionID string) string {
	return filepath.Join(m.outputDir, sessionID)
}

func (m *Manager) finishRun(taskID string) {
	m.mu.Lock()
	delete(m.running, taskID)
	m.mu.Unlock()
}
