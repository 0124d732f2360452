package model

import (
	"time"
)

// EventType represents the type of chat list event.
type EventType string

const (
	EventTypeMounted   EventType = "mounted"
	EventTypeRefreshed EventType = "refreshed"
	EventTypeUnmounted EventType = "unmounted"
	EventTypeSelected  EventType = "selected"
)

// Summary is the display projection of one conversation in the chat list.
type Summary struct {
	SessionID string `json:"session_id"`
	Name      string `json:"name"`
	Avatar    string `json:"avatar,omitempty"`
	Preview   string `json:"preview"`
}

// ListEvent is pushed to chat list observers whenever a summary changes.
type ListEvent struct {
	Type      EventType `json:"type"`
	Summary   Summary   `json:"summary"`
	CreatedAt time.Time `json:"created_at"`
}

// ListChatsResponse is the response for listing chats.
type ListChatsResponse struct {
	Chats  []Summary `json:"chats"`
	Active string    `json:"active,omitempty"`
	Total  int       `json:"total"`
}

// CreateChatRequest is the request to add a character chat.
type CreateChatRequest = CharacterInfo

// ErrorEvent represents an error event.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HeartbeatEvent represents a heartbeat event.
type HeartbeatEvent struct {
	Timestamp time.Time `json:"timestamp"`
}
