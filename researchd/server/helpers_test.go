package server

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/researchd/researchd/internals/agent"
	"github.com/researchd/researchd/internals/conf"
	"github.com/researchd/researchd/internals/env"
	"github.com/researchd/researchd/internals/events"
	"github.com/researchd/researchd/internals/schemas"
	"github.com/researchd/researchd/internals/store"
	"github.com/researchd/researchd/internals/testutil"
	"github.com/researchd/researchd/internals/timeouts"
	"github.com/researchd/researchd/researchd/core"
)

// fakeWorker replays a scripted event stream, optionally holding the
// stream open until cancellation.
type fakeWorker struct {
	script []agent.Event
	block  bool
}

func (w *fakeWorker) Stream(ctx context.Context, req agent.Request) (<-chan agent.Event, error) {
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

func newTestServer(t *testing.T, worker agent.Worker) (*Server, *httptest.Server) {
	t.Helper()

	dataDir := t.TempDir()
	st, err := store.Open(testutil.TempDBPath(t))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	base := &core.BaseServer{
		Config: &conf.Config{
			Version: "test",
			Server:  conf.ServerConfig{DataDir: dataDir},
			Output:  conf.OutputConfig{Dir: filepath.Join(dataDir, "output")},
			Agent:   conf.AgentConfig{Binary: "claude", Model: "test-model"},
		},
		Env:    &env.EnvStruct{PORT: 0},
		Logger: slog.New(slog.NewJSONHandler(io.Discard, nil)),
		Store:  st,
	}

	server := NewWithWorker(base, worker)
	testServer := httptest.NewServer(server.Router())
	t.Cleanup(testServer.Close)
	t.Cleanup(server.manager.Shutdown)
	return server, testServer
}

func postJSON(t *testing.T, url string, payload any) *http.Response {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", strings.NewReader(string(data)))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return out
}

func createTask(t *testing.T, baseURL string, sessionID string, prompt string, mode string) schemas.TaskCreateResponse {
	t.Helper()
	resp := postJSON(t, baseURL+"/api/tasks", schemas.TaskCreateRequest{
		SessionID: sessionID,
		Prompt:    prompt,
		Mode:      mode,
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	return decodeBody[schemas.TaskCreateResponse](t, resp)
}

func waitForTaskStatus(t *testing.T, baseURL string, taskID string, want schemas.TaskStatus) schemas.TaskResponse {
	t.Helper()
	deadline := time.Now().Add(timeouts.SecondDefault)
	var last schemas.TaskResponse
	for time.Now().Before(deadline) {
		resp, err := http.Get(baseURL + "/api/tasks/" + taskID)
		if err != nil {
			t.Fatalf("get task: %v", err)
		}
		if resp.StatusCode == http.StatusOK {
			last = decodeBody[schemas.TaskResponse](t, resp)
			if last.Status == want {
				return last
			}
		} else {
			resp.Body.Close()
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("task %s never reached %s, last: %+v", taskID, want, last)
	return last
}

// waitForConversation polls until the session's conversation has the
// expected number of turns; persistence happens after the SSE stream
// ends.
func waitForConversation(t *testing.T, server *Server, sessionID string, wantTurns int) *store.Session {
	t.Helper()
	deadline := time.Now().Add(timeouts.SecondDefault)
	for time.Now().Before(deadline) {
		session, err := server.Base.Store.GetSession(context.Background(), sessionID)
		if err == nil && len(session.Conversation) >= wantTurns {
			return session
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("conversation for %s never reached %d turns", sessionID, wantTurns)
	return nil
}

// readStream consumes SSE events until a done or error event, the
// stream closing, or maxEvents.
func readStream(t *testing.T, resp *http.Response, maxEvents int) []events.TaskEvent {
	t.Helper()
	defer resp.Body.Close()

	var collected []events.TaskEvent
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var event events.TaskEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
			t.Fatalf("bad stream payload %q: %v", line, err)
		}
		collected = append(collected, event)
		if event.Type == events.TypeDone || event.Type == events.TypeError || len(collected) >= maxEvents {
			break
		}
	}
	return collected
}
