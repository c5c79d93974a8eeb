package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
)

// execCommandContext is a seam for tests to intercept process creation.
var execCommandContext = exec.CommandContext

// CLIWorker drives the agent CLI as a subprocess and translates its
// stream-json output into Events.
type CLIWorker struct {
	Binary  string
	Model   string
	WorkDir string
	Logger  *slog.Logger
}

func NewCLIWorker(binary string, model string, workDir string, logger *slog.Logger) *CLIWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &CLIWorker{Binary: binary, Model: model, WorkDir: workDir, Logger: logger}
}

func (w *CLIWorker) Stream(ctx context.Context, req Request) (<-chan Event, error) {
	args := []string{
		"--print",
		"--verbose",
		"--include-partial-messages",
		"--output-format", "stream-json",
	}
	if w.Model != "" {
		args = append(args, "--model", w.Model)
	}
	if req.ResumeSessionID != "" {
		args = append(args, "--resume", req.ResumeSessionID)
	}

	workDir := req.WorkDir
	if workDir == "" {
		workDir = w.WorkDir
	}
	cmd := execCommandContext(ctx, w.Binary, args...)
	cmd.Dir = workDir
	cmd.Stdin = strings.NewReader(req.Prompt)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open agent stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start agent process: %w", err)
	}

	events := make(chan Event)
	go w.pump(ctx, cmd, stdout, events)
	return events, nil
}

// pump reads NDJSON lines off the agent's stdout until EOF, then reaps
// the process. Lines that don't parse are logged and skipped.
func (w *CLIWorker) pump(ctx context.Context, cmd *exec.Cmd, stdout io.Reader, events chan<- Event) {
	defer close(events)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		parsed, err := parseLine([]byte(line))
		if err != nil {
			w.Logger.Warn("skipping unparseable agent line", "error", err)
			continue
		}
		for _, event := range parsed {
			select {
			case events <- event:
			case <-ctx.Done():
				_ = cmd.Wait()
				return
			}
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		w.Logger.Warn("agent stream read failed", "error", err)
	}
	if err := cmd.Wait(); err != nil && ctx.Err() == nil {
		w.Logger.Warn("agent process exited with error", "error", err)
	}
}

type streamLine struct {
	Type      string         `json:"type"`
	Subtype   string         `json:"subtype"`
	SessionID string         `json:"session_id"`
	IsError   bool           `json:"is_error"`
	Result    string         `json:"result"`
	CostUSD   *float64       `json:"total_cost_usd"`
	Usage     map[string]any `json:"usage"`
	Event     *struct {
		Type  string `json:"type"`
		Delta struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"delta"`
	} `json:"event"`
	Message *struct {
		Content []struct {
			Type string `json:"type"`
			Name string `json:"name"`
			ID   string `json:"id"`
		} `json:"content"`
	} `json:"message"`
}

// parseLine maps one stream-json line to zero or more events. Unknown
// line types are ignored so new agent versions don't break the stream.
func parseLine(data []byte) ([]Event, error) {
	var line streamLine
	if err := json.Unmarshal(data, &line); err != nil {
		return nil, err
	}

	switch line.Type {
	case "system":
		if line.Subtype == "init" {
			return []Event{SystemEvent{SessionID: line.SessionID}}, nil
		}
	case "stream_event":
		if line.Event != nil && line.Event.Type == "content_block_delta" && line.Event.Delta.Type == "text_delta" {
			return []Event{TokenEvent{Text: line.Event.Delta.Text}}, nil
		}
	case "assistant":
		if line.Message == nil {
			return nil, nil
		}
		var out []Event
		for _, block := range line.Message.Content {
			if block.Type == "tool_use" {
				out = append(out, ToolUseEvent{Name: block.Name, ID: block.ID})
			}
		}
		return out, nil
	case "result":
		if line.IsError || line.Subtype != "success" {
			message := line.Result
			if message == "" {
				message = fmt.Sprintf("agent run ended with %s", line.Subtype)
			}
			return []Event{ErrorEvent{Message: message}}, nil
		}
		return []Event{DoneEvent{
			SessionID: line.SessionID,
			Usage:     line.Usage,
			CostUSD:   line.CostUSD,
		}}, nil
	}
	return nil, nil
}
