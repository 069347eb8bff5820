package protocol

import "github.com/grovetools/statehub/pkg/models"

// Call methods served by the daemon.
const (
	MethodSubscribe       = "hub.subscribe"
	MethodUnsubscribe     = "hub.unsubscribe"
	MethodSnapshot        = "state.snapshot"
	MethodGlobalSnapshot  = "state.global.snapshot"
	MethodSessionSnapshot = "state.session.snapshot"
	MethodSessionCreate   = "session.create"
	MethodSessionDelete   = "session.delete"
	MethodSessionArchive  = "session.archive"
	MethodSessionRename   = "session.rename"
	MethodMessageSend     = "message.send"
	MethodHealthPing      = "health.ping"
	// MethodHealthSlow never responds. It exists so clients and tests can
	// exercise call timeouts against a method that genuinely stalls.
	MethodHealthSlow = "health.slow"
)

// Error codes carried in CallError.Code.
const (
	CodeUnknownMethod   = "UNKNOWN_METHOD"
	CodeUnknownChannel  = "UNKNOWN_CHANNEL"
	CodeInvalidParams   = "INVALID_PARAMS"
	CodeSessionNotFound = "SESSION_NOT_FOUND"
	CodeSessionLimit    = "SESSION_LIMIT"
	CodeInternal        = "INTERNAL"
)

// SubscribeParams selects a channel+scope to subscribe or unsubscribe.
// SinceVersion is the subscriber's last applied version; the daemon replays
// buffered deltas from there when its history still reaches that far back.
type SubscribeParams struct {
	Channel      Channel `json:"channel"`
	SessionID    string  `json:"sessionId"`
	SinceVersion uint64  `json:"sinceVersion,omitempty"`
}

// SubscribeResult acknowledges a subscription. When Replayed is false the
// delta history no longer reaches the client's version and the client must
// fetch a fresh snapshot.
type SubscribeResult struct {
	Channel  Channel `json:"channel"`
	Scope    string  `json:"scope"`
	Version  uint64  `json:"version"`
	Replayed bool    `json:"replayed"`
}

// SnapshotParams requests the materialized state of one channel+scope.
type SnapshotParams struct {
	Channel   Channel `json:"channel"`
	SessionID string  `json:"sessionId"`
}

// SessionSnapshotParams requests the aggregated per-session snapshot.
type SessionSnapshotParams struct {
	SessionID string `json:"sessionId"`
}

// CreateSessionParams starts a new session.
type CreateSessionParams struct {
	Title            string `json:"title"`
	WorkingDirectory string `json:"working_directory,omitempty"`
	Model            string `json:"model,omitempty"`
}

// SessionRefParams addresses an existing session.
type SessionRefParams struct {
	SessionID string `json:"sessionId"`
}

// RenameSessionParams changes a session title.
type RenameSessionParams struct {
	SessionID string `json:"sessionId"`
	Title     string `json:"title"`
}

// SendMessageParams appends a user message to a session.
type SendMessageParams struct {
	SessionID string `json:"sessionId"`
	Content   string `json:"content"`
}

// SessionResult returns the affected session record.
type SessionResult struct {
	Session *models.Session `json:"session"`
}

// MessageResult returns the appended message.
type MessageResult struct {
	Message *models.Message `json:"message"`
}

// OKResult is the empty acknowledgement for calls without a payload.
type OKResult struct {
	OK bool `json:"ok"`
}

// GlobalSnapshot aggregates the global channels under one meta envelope.
// Meta.Version is the highest version among the aggregated channels.
type GlobalSnapshot struct {
	Sessions []*models.Session    `json:"sessions"`
	Auth     *models.AuthState    `json:"auth"`
	Config   *models.ServerConfig `json:"config"`
	Health   *models.Health       `json:"health"`
	Meta     Meta                 `json:"meta"`
}

// SessionSnapshot aggregates one session's channels under one meta envelope.
type SessionSnapshot struct {
	Session     *models.Session        `json:"session"`
	Messages    []*models.Message      `json:"messages"`
	SDKMessages []*models.SDKMessage   `json:"sdkMessages"`
	Agent       *models.AgentStatus    `json:"agent"`
	Context     *models.ContextUsage   `json:"context"`
	Commands    []*models.SlashCommand `json:"commands"`
	Meta        Meta                   `json:"meta"`
}
