package models

import "time"

// SessionStatus describes the lifecycle state of a session.
type SessionStatus string

const (
	SessionActive   SessionStatus = "active"
	SessionArchived SessionStatus = "archived"
	SessionDeleted  SessionStatus = "deleted"
)

// Session represents a single agent conversation managed by the daemon.
type Session struct {
	ID               string        `json:"id"`
	Title            string        `json:"title"`
	WorkingDirectory string        `json:"working_directory"`
	Status           SessionStatus `json:"status"`
	Model            string        `json:"model,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
	MessageCount     int           `json:"message_count"`
}

// MessageRole identifies the author of a chat message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// Message is a single chat message within a session.
type Message struct {
	ID        string      `json:"id"`
	SessionID string      `json:"session_id"`
	Role      MessageRole `json:"role"`
	Content   string      `json:"content"`
	Timestamp time.Time   `json:"timestamp"`
}

// SDKMessage is a raw agent-protocol message preserved alongside the
// rendered chat history. The payload is opaque to the hub.
type SDKMessage struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Type      string    `json:"type"`
	Payload   string    `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}
