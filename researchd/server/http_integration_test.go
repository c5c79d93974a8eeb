package server

import (
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/researchd/researchd/internals/agent"
	"github.com/researchd/researchd/internals/schemas"
	"github.com/researchd/researchd/internals/testutil"
)

func TestVersionAndHealth(t *testing.T) {
	_, ts := newTestServer(t, &fakeWorker{})

	resp, err := http.Get(ts.URL + "/version")
	if err != nil {
		t.Fatalf("get version: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "test" {
		t.Fatalf("unexpected version body: %q", body)
	}

	resp, err = http.Get(ts.URL + "/api/health")
	if err != nil {
		t.Fatalf("get health: %v", err)
	}
	status := decodeBody[schemas.StatusResponse](t, resp)
	if status.Status != "ok" {
		t.Fatalf("unexpected health: %+v", status)
	}
}

func TestCreateTaskBackgroundRunsToCompletion(t *testing.T) {
	cost := 0.1
	worker := &fakeWorker{script: []agent.Event{
		agent.TokenEvent{Text: "findings"},
		agent.ToolUseEvent{Name: "web_search", ID: "tu_1"},
		agent.DoneEvent{CostUSD: &cost},
	}}
	_, ts := newTestServer(t, worker)

	created := createTask(t, ts.URL, "sess-1", "research X", schemas.TaskModeBackground)
	if created.TaskID == "" || created.Status != schemas.TaskStatusPending {
		t.Fatalf("unexpected create response: %+v", created)
	}
	if created.StreamURL != "/api/tasks/"+created.TaskID+"/stream" {
		t.Fatalf("unexpected stream url: %s", created.StreamURL)
	}

	final := waitForTaskStatus(t, ts.URL, created.TaskID, schemas.TaskStatusCompleted)
	if final.Progress != 1.0 {
		t.Fatalf("expected progress 1.0, got %f", final.Progress)
	}
	if final.TotalCostUSD == nil || *final.TotalCostUSD != cost {
		t.Fatalf("unexpected cost: %v", final.TotalCostUSD)
	}
}

func TestCreateTaskLiveModeStaysPending(t *testing.T) {
	_, ts := newTestServer(t, &fakeWorker{block: true})

	created := createTask(t, ts.URL, "sess-1", "research X", schemas.TaskModeLive)
	resp, err := http.Get(ts.URL + "/api/tasks/" + created.TaskID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	task := decodeBody[schemas.TaskResponse](t, resp)
	if task.Status != schemas.TaskStatusPending {
		t.Fatalf("expected pending until observed, got %s", task.Status)
	}
}

func TestCreateTaskValidation(t *testing.T) {
	_, ts := newTestServer(t, &fakeWorker{})

	resp, err := http.Post(ts.URL+"/api/tasks", "application/json", strings.NewReader("{"))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	body := decodeBody[ErrorResponse](t, resp)
	if resp.StatusCode != http.StatusBadRequest || body.Code != JsonResponseErrorCodeInvalidJson {
		t.Fatalf("expected invalid_json 400, got %d %+v", resp.StatusCode, body)
	}

	resp = postJSON(t, ts.URL+"/api/tasks", schemas.TaskCreateRequest{SessionID: "sess-1"})
	body = decodeBody[ErrorResponse](t, resp)
	if resp.StatusCode != http.StatusBadRequest || body.Code != JsonResponseErrorCodeValidationFailed {
		t.Fatalf("expected validation_failed 400, got %d %+v", resp.StatusCode, body)
	}

	resp = postJSON(t, ts.URL+"/api/tasks", schemas.TaskCreateRequest{SessionID: "sess-1", Prompt: "x", Mode: "bogus"})
	body = decodeBody[ErrorResponse](t, resp)
	if resp.StatusCode != http.StatusBadRequest || body.Code != JsonResponseErrorCodeValidationFailed {
		t.Fatalf("expected mode validation failure, got %d %+v", resp.StatusCode, body)
	}
}

func TestTaskStatusNotFound(t *testing.T) {
	_, ts := newTestServer(t, &fakeWorker{})

	resp, err := http.Get(ts.URL + "/api/tasks/missing")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body := decodeBody[ErrorResponse](t, resp)
	if resp.StatusCode != http.StatusNotFound || body.Code != JsonResponseErrorCodeNotFound {
		t.Fatalf("expected 404 not_found, got %d %+v", resp.StatusCode, body)
	}
}

func TestCancelEndpoint(t *testing.T) {
	_, ts := newTestServer(t, &fakeWorker{block: true})

	created := createTask(t, ts.URL, "sess-1", "research X", schemas.TaskModeBackground)
	waitForTaskStatus(t, ts.URL, created.TaskID, schemas.TaskStatusRunning)

	resp := postJSON(t, ts.URL+"/api/tasks/"+created.TaskID+"/cancel", struct{}{})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	cancel := decodeBody[schemas.CancelResponse](t, resp)
	if cancel.Status != "cancelled" {
		t.Fatalf("unexpected cancel response: %+v", cancel)
	}
	waitForTaskStatus(t, ts.URL, created.TaskID, schemas.TaskStatusCancelled)

	// A second cancel is a conflict, not a repeat.
	resp = postJSON(t, ts.URL+"/api/tasks/"+created.TaskID+"/cancel", struct{}{})
	body := decodeBody[ErrorResponse](t, resp)
	if resp.StatusCode != http.StatusBadRequest || body.Code != JsonResponseErrorCodeConflict {
		t.Fatalf("expected conflict 400, got %d %+v", resp.StatusCode, body)
	}

	resp = postJSON(t, ts.URL+"/api/tasks/missing/cancel", struct{}{})
	body = decodeBody[ErrorResponse](t, resp)
	if resp.StatusCode != http.StatusNotFound || body.Code != JsonResponseErrorCodeNotFound {
		t.Fatalf("expected 404, got %d %+v", resp.StatusCode, body)
	}
}

func TestSessionEndpoints(t *testing.T) {
	worker := &fakeWorker{script: []agent.Event{agent.DoneEvent{}}}
	_, ts := newTestServer(t, worker)

	created := createTask(t, ts.URL, "sess-1", "research X", schemas.TaskModeBackground)
	waitForTaskStatus(t, ts.URL, created.TaskID, schemas.TaskStatusCompleted)

	resp, err := http.Get(ts.URL + "/api/sessions")
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	sessions := decodeBody[schemas.SessionListResponse](t, resp)
	if len(sessions.Sessions) != 1 || sessions.Sessions[0].ID != "sess-1" {
		t.Fatalf("unexpected sessions: %+v", sessions)
	}
	if sessions.Sessions[0].Modified == 0 {
		t.Fatalf("expected modified timestamp")
	}

	resp, err = http.Get(ts.URL + "/api/sessions/sess-1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	session := decodeBody[schemas.SessionResponse](t, resp)
	if session.ID != "sess-1" || session.Conversation == nil {
		t.Fatalf("unexpected session: %+v", session)
	}

	resp, err = http.Get(ts.URL + "/api/sessions/sess-1/tasks")
	if err != nil {
		t.Fatalf("session tasks: %v", err)
	}
	tasks := decodeBody[schemas.TaskListResponse](t, resp)
	if len(tasks.Tasks) != 1 || tasks.Tasks[0].ID != created.TaskID {
		t.Fatalf("unexpected tasks: %+v", tasks)
	}

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/sessions/sess-1", nil)
	if err != nil {
		t.Fatalf("build delete: %v", err)
	}
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete session: %v", err)
	}
	deleted := decodeBody[schemas.StatusResponse](t, resp)
	if deleted.Status != "deleted" {
		t.Fatalf("unexpected delete response: %+v", deleted)
	}

	resp, err = http.Get(ts.URL + "/api/sessions/sess-1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestOutputEndpoints(t *testing.T) {
	worker := &fakeWorker{script: []agent.Event{agent.DoneEvent{}}}
	server, ts := newTestServer(t, worker)

	// Place an artifact where the agent would have written it, then
	// run a task so the reconciler picks it up.
	sessionDir := server.manager.SessionOutputDir("sess-1")
	testutil.WriteOutputFile(t, sessionDir, "report.md", "# Findings")

	created := createTask(t, ts.URL, "sess-1", "research X", schemas.TaskModeBackground)
	waitForTaskStatus(t, ts.URL, created.TaskID, schemas.TaskStatusCompleted)

	resp, err := http.Get(ts.URL + "/api/outputs?session_id=sess-1")
	if err != nil {
		t.Fatalf("list outputs: %v", err)
	}
	files := decodeBody[schemas.OutputFileListResponse](t, resp)
	if len(files.Files) != 1 || files.Files[0].Filepath != "report.md" {
		t.Fatalf("unexpected files: %+v", files)
	}
	fileID := files.Files[0].ID

	resp, err = http.Get(ts.URL + "/api/outputs/" + fileID + "/content")
	if err != nil {
		t.Fatalf("content: %v", err)
	}
	content := decodeBody[schemas.OutputFileContentResponse](t, resp)
	if content.Content == nil || *content.Content != "# Findings" {
		t.Fatalf("unexpected content: %+v", content)
	}

	resp, err = http.Get(ts.URL + "/api/outputs/" + fileID + "/download")
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "# Findings" {
		t.Fatalf("unexpected download body: %q", body)
	}
	if disposition := resp.Header.Get("Content-Disposition"); !strings.Contains(disposition, "report.md") {
		t.Fatalf("unexpected disposition: %q", disposition)
	}

	resp, err = http.Get(ts.URL + "/api/outputs/missing/content")
	if err != nil {
		t.Fatalf("missing content: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}
