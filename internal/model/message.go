package model

import (
	"time"
)

// Role represents the role of a message sender.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one entry of a conversation history. Messages are never mutated
// once appended.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Error     bool      `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`

	// Position in the session history, starting at 1.
	Sequence uint64 `json:"sequence"`
}

// IsFromUser reports whether the message was typed by the user.
func (m Message) IsFromUser() bool {
	return m.Role == RoleUser
}

// SendMessageRequest is the request to send a new message.
type SendMessageRequest struct {
	Content string `json:"content"`
}

// SendMessageResponse is the response after sending a message.
type SendMessageResponse struct {
	Message  *Message `json:"message,omitempty"`
	Sequence uint64   `json:"sequence,omitempty"`
}

// ListMessagesResponse is the response for listing messages.
type ListMessagesResponse struct {
	Character string    `json:"character"`
	Messages  []Message `json:"messages"`
	Visible   bool      `json:"visible"`
	Pending   bool      `json:"pending"`
}
