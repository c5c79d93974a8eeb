package schemas

import (
	z "github.com/Oudwins/zog"
)

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatRequest struct {
	Message   string `json:"message" zog:"message"`
	SessionID string `json:"session_id" zog:"session_id"`
}

var ChatSchema = z.Struct(z.Shape{
	"Message":   z.String().Required(z.Message("message is required")).Trim(),
	"SessionID": z.String().Optional().Trim(),
})

type SessionInfo struct {
	ID       string  `json:"id"`
	Title    string  `json:"title,omitempty"`
	Modified float64 `json:"modified"`
}

type SessionListResponse struct {
	Sessions []SessionInfo `json:"sessions"`
}

type SessionResponse struct {
	ID           string        `json:"id"`
	Title        string        `json:"title,omitempty"`
	Conversation []ChatMessage `json:"conversation"`
}

type StatusResponse struct {
	Status string `json:"status"`
}
