package tasks

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/researchd/researchd/internals/agent"
	"github.com/researchd/researchd/internals/events"
	"github.com/researchd/researchd/internals/schemas"
	"github.com/researchd/researchd/internals/store"
	"github.com/researchd/researchd/internals/testutil"
	"github.com/researchd/researchd/internals/timeouts"
)

// scriptedWorker replays a fixed event sequence. With block set, it
// holds the stream open after the script until the context is
// cancelled, simulating a long-running agent.
type scriptedWorker struct {
	script []agent.Event
	block  bool
	// writeFiles are created in the request's work dir before the
	// script plays, standing in for agent-produced artifacts.
	writeFiles map[string]string

	mu       sync.Mutex
	requests []agent.Request
}

func (w *scriptedWorker) Stream(ctx context.Context, req agent.Request) (<-chan agent.Event, error) {
	w.mu.Lock()
	w.requests = append(w.requests, req)
	w.mu.Unlock()

	if len(w.writeFiles) > 0 {
		if err := os.MkdirAll(req.WorkDir, 0o755); err != nil {
			return nil, err
		}
		for name, content := range w.writeFiles {
			if err := os.WriteFile(filepath.Join(req.WorkDir, name), []byte(content), 0o644); err != nil {
				return nil, err
			}
		}
	}

	ch := make(chan agent.Event)
	go func() {
		defer close(ch)
		for _, event := range w.script {
			select {
			case ch <- event:
			case <-ctx.Done():
				return
			}
		}
		if w.block {
			<-ctx.Done()
		}
	}()
	return ch, nil
}

func (w *scriptedWorker) requestCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.requests)
}

func newManager(t *testing.T, worker agent.Worker) (*Manager, *store.Store, string) {
	t.Helper()
	s, err := store.Open(testutil.TempDBPath(t))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	outputDir := testutil.TempOutputDir(t)
	manager := NewManager(s, events.NewRegistry(), worker, outputDir, nil)
	t.Cleanup(manager.Shutdown)
	return manager, s, outputDir
}

func waitForStatus(t *testing.T, s *store.Store, taskID string, want schemas.TaskStatus) *store.Task {
	t.Helper()
	deadline := time.Now().Add(timeouts.SecondDefault)
	for time.Now().Before(deadline) {
		task, err := s.GetTask(context.Background(), taskID)
		if err == nil && task.Status == want {
			return task
		}
		time.Sleep(10 * time.Millisecond)
	}
	task, err := s.GetTask(context.Background(), taskID)
	t.Fatalf("task %s never reached %s (task=%+v err=%v)", taskID, want, task, err)
	return nil
}

func nextEvent(t *testing.T, queue *events.Queue) events.TaskEvent {
	t.Helper()
	event, err := queue.Get(context.Background(), timeouts.SecondDefault)
	if err != nil {
		t.Fatalf("waiting for event: %v", err)
	}
	return event
}

func TestRunnerCompletesTaskAndStreamsEvents(t *testing.T) {
	cost := 0.75
	worker := &scriptedWorker{script: []agent.Event{
		agent.SystemEvent{SessionID: "agent-sess-1"},
		agent.TokenEvent{Text: "Research findings: "},
		agent.ToolUseEvent{Name: "web_search", ID: "tu_1"},
		agent.ToolUseEvent{Name: "read_file", ID: "tu_2"},
		agent.TokenEvent{Text: "done."},
		agent.DoneEvent{SessionID: "agent-sess-1", Usage: map[string]any{"input_tokens": 50.0}, CostUSD: &cost},
	}}
	manager, s, _ := newManager(t, worker)
	ctx := context.Background()

	task, err := manager.CreateTask(ctx, "sess-1", "research X")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	queue := manager.SubscribeToTask(task.ID)
	if !manager.StartTask(task.ID) {
		t.Fatalf("expected start to succeed")
	}

	first := nextEvent(t, queue)
	if first.Type != events.TypeProgress || *first.Progress != 0 || first.Message != "Starting research..." {
		t.Fatalf("unexpected first event: %+v", first)
	}
	if token := nextEvent(t, queue); token.Type != events.TypeToken || token.Text != "Research findings: " {
		t.Fatalf("unexpected token event: %+v", token)
	}
	firstTool := nextEvent(t, queue)
	if firstTool.Type != events.TypeProgress || *firstTool.Progress != 0.1 || firstTool.Message != "Using web_search..." {
		t.Fatalf("unexpected tool progress: %+v", firstTool)
	}
	secondTool := nextEvent(t, queue)
	if *secondTool.Progress != 0.2 || secondTool.Message != "Using read_file..." {
		t.Fatalf("unexpected tool progress: %+v", secondTool)
	}
	if token := nextEvent(t, queue); token.Text != "done." {
		t.Fatalf("unexpected token event: %+v", token)
	}
	doneEvent := nextEvent(t, queue)
	if doneEvent.Type != events.TypeDone || doneEvent.Status != "completed" {
		t.Fatalf("unexpected done event: %+v", doneEvent)
	}

	final := waitForStatus(t, s, task.ID, schemas.TaskStatusCompleted)
	if final.Progress != 1.0 {
		t.Fatalf("expected progress 1.0, got %f", final.Progress)
	}
	if final.LastStreamedContent != "Research findings: done." {
		t.Fatalf("unexpected content: %q", final.LastStreamedContent)
	}
	if final.TotalCostUSD == nil || *final.TotalCostUSD != cost {
		t.Fatalf("unexpected cost: %v", final.TotalCostUSD)
	}
}

func TestRunnerWrapsPromptWithResearchRole(t *testing.T) {
	worker := &scriptedWorker{script: []agent.Event{
		agent.DoneEvent{},
	}}
	manager, s, outputDir := newManager(t, worker)
	ctx := context.Background()

	task, err := manager.CreateTask(ctx, "sess-1", "the moon landing")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	manager.StartTask(task.ID)
	waitForStatus(t, s, task.ID, schemas.TaskStatusCompleted)

	worker.mu.Lock()
	defer worker.mu.Unlock()
	if len(worker.requests) != 1 {
		t.Fatalf("expected one request, got %d", len(worker.requests))
	}
	req := worker.requests[0]
	if !strings.Contains(req.Prompt, "the moon landing") {
		t.Fatalf("prompt lost the request: %q", req.Prompt)
	}
	if req.Prompt == "the moon landing" {
		t.Fatalf("expected role wrapping around the request")
	}
	if !strings.HasSuffix(req.WorkDir, "sess-1") || !strings.HasPrefix(req.WorkDir, outputDir) {
		t.Fatalf("unexpected work dir: %q", req.WorkDir)
	}
}

func TestRunnerFailsOnErrorEvent(t *testing.T) {
	worker := &scriptedWorker{script: []agent.Event{
		agent.TokenEvent{Text: "partial"},
		agent.ErrorEvent{Message: "rate limited"},
	}}
	manager, s, _ := newManager(t, worker)
	ctx := context.Background()

	task, err := manager.CreateTask(ctx, "sess-1", "research X")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	queue := manager.SubscribeToTask(task.ID)
	manager.StartTask(task.ID)

	failed := waitForStatus(t, s, task.ID, schemas.TaskStatusFailed)
	if failed.ErrorMessage != "rate limited" {
		t.Fatalf("unexpected error message: %q", failed.ErrorMessage)
	}

	sawError := false
	for i := 0; i < 4; i++ {
		event, err := queue.Get(ctx, timeouts.SecondShort)
		if err != nil {
			break
		}
		if event.Type == events.TypeError {
			if event.Error != "rate limited" {
				t.Fatalf("unexpected error event: %+v", event)
			}
			sawError = true
			break
		}
	}
	if !sawError {
		t.Fatalf("expected an error event on the queue")
	}
}

func TestRunnerFailsWhenStreamEndsWithoutTerminalEvent(t *testing.T) {
	worker := &scriptedWorker{script: []agent.Event{
		agent.TokenEvent{Text: "partial"},
	}}
	manager, s, _ := newManager(t, worker)

	task, err := manager.CreateTask(context.Background(), "sess-1", "research X")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	manager.StartTask(task.ID)

	failed := waitForStatus(t, s, task.ID, schemas.TaskStatusFailed)
	if failed.ErrorMessage != "agent stream ended unexpectedly" {
		t.Fatalf("unexpected error message: %q", failed.ErrorMessage)
	}
}

func TestRunnerSnapshotsStreamedContent(t *testing.T) {
	bigChunk := strings.Repeat("x", 1500)
	worker := &scriptedWorker{
		script: []agent.Event{agent.TokenEvent{Text: bigChunk}},
		block:  true,
	}
	manager, s, _ := newManager(t, worker)
	ctx := context.Background()

	task, err := manager.CreateTask(ctx, "sess-1", "research X")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	manager.StartTask(task.ID)

	deadline := time.Now().Add(timeouts.SecondDefault)
	for time.Now().Before(deadline) {
		loaded, err := s.GetTask(ctx, task.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if loaded.LastStreamedContent == bigChunk {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("content snapshot never reached the store")
}

func TestRunnerRegistersOutputFilesOnCompletion(t *testing.T) {
	worker := &scriptedWorker{
		script:     []agent.Event{agent.DoneEvent{}},
		writeFiles: map[string]string{"report.md": "# Findings"},
	}
	manager, s, _ := newManager(t, worker)
	ctx := context.Background()

	task, err := manager.CreateTask(ctx, "sess-1", "research X")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	manager.StartTask(task.ID)
	waitForStatus(t, s, task.ID, schemas.TaskStatusCompleted)

	files, err := s.ListOutputFiles(ctx, "sess-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(files) != 1 || files[0].Filepath != "report.md" || files[0].TaskID != task.ID {
		t.Fatalf("unexpected files: %+v", files)
	}
}

func TestRunnerSkipsTerminalTask(t *testing.T) {
	worker := &scriptedWorker{script: []agent.Event{agent.DoneEvent{}}}
	manager, s, _ := newManager(t, worker)
	ctx := context.Background()

	task, err := manager.CreateTask(ctx, "sess-1", "research X")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.FailTask(ctx, task.ID, "dead"); err != nil {
		t.Fatalf("fail: %v", err)
	}

	manager.StartTask(task.ID)

	deadline := time.Now().Add(timeouts.SecondShort)
	for time.Now().Before(deadline) {
		if !manager.IsTaskRunning(task.ID) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if worker.requestCount() != 0 {
		t.Fatalf("worker must not run for terminal task")
	}
	after, err := s.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if after.Status != schemas.TaskStatusFailed {
		t.Fatalf("status changed to %s", after.Status)
	}
}
