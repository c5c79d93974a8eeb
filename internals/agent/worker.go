package agent

import "context"

// Request describes one research run.
type Request struct {
	Prompt          string
	ResumeSessionID string
	// WorkDir is where the agent process runs and writes its output
	// files. Empty means the worker's default.
	WorkDir string
}

// Worker produces the event stream for one research run. The returned
// channel is closed when the stream ends, whether or not a terminal
// Done/Error event was emitted. Cancelling ctx stops the underlying
// agent process.
type Worker interface {
	Stream(ctx context.Context, req Request) (<-chan Event, error)
}
