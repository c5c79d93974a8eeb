package events

// Type tags a TaskEvent on the wire.
type Type string

const (
	TypeProgress Type = "progress"
	TypeToken    Type = "token"
	TypeContent  Type = "content"
	TypeDone     Type = "done"
	TypeError    Type = "error"
	TypePing     Type = "ping"
)

// TaskEvent is the unit observers receive over SSE. Fields are sparse;
// only the ones relevant to the event type are set.
type TaskEvent struct {
	Type     Type     `json:"type"`
	Progress *float64 `json:"progress,omitempty"`
	Message  string   `json:"message,omitempty"`
	Text     string   `json:"text,omitempty"`
	Content  string   `json:"content,omitempty"`
	Status   string   `json:"status,omitempty"`
	Error    string   `json:"error,omitempty"`
}

func Progress(progress float64, message string) TaskEvent {
	return TaskEvent{Type: TypeProgress, Progress: &progress, Message: message}
}

func Token(text string) TaskEvent {
	return TaskEvent{Type: TypeToken, Text: text}
}

func Content(content string) TaskEvent {
	return TaskEvent{Type: TypeContent, Content: content}
}

func Done(status string) TaskEvent {
	return TaskEvent{Type: TypeDone, Status: status}
}

func Error(message string) TaskEvent {
	return TaskEvent{Type: TypeError, Error: message}
}

func Ping() TaskEvent {
	return TaskEvent{Type: TypePing}
}
