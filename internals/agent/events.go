package agent

// Event is the closed set of things a worker stream can emit. Consumers
// switch over the concrete types; the unexported marker keeps the set
// closed to this package.
type Event interface {
	agentEvent()
}

// TokenEvent carries an incremental chunk of streamed text.
type TokenEvent struct {
	Text string
}

// ToolUseEvent signals the agent invoked a tool.
type ToolUseEvent struct {
	Name string
	ID   string
}

// SystemEvent announces stream start and the agent-side session id that
// later turns can resume.
type SystemEvent struct {
	SessionID string
}

// DoneEvent terminates a successful stream with usage accounting.
type DoneEvent struct {
	SessionID string
	Usage     map[string]any
	CostUSD   *float64
}

// ErrorEvent terminates a failed stream.
type ErrorEvent struct {
	Message string
}

func (TokenEvent) agentEvent()   {}
func (ToolUseEvent) agentEvent() {}
func (SystemEvent) agentEvent()  {}
func (DoneEvent) agentEvent()    {}
func (ErrorEvent) agentEvent()   {}
