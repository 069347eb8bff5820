package errors

import (
	"fmt"
	"time"
)

// Disconnected creates a transport-down error. In-flight calls are rejected
// with this when the connection drops.
func Disconnected(reason string) *HubError {
	return New(ErrCodeDisconnected, fmt.Sprintf("transport disconnected: %s", reason))
}

// ConnectionFailed creates a connection establishment error
func ConnectionFailed(url string, err error) *HubError {
	return Wrap(err, ErrCodeConnectionFailed, fmt.Sprintf("failed to connect to %s", url)).
		WithDetail("url", url)
}

// CallTimeout creates a call deadline error
func CallTimeout(method string, timeout time.Duration) *HubError {
	return New(ErrCodeCallTimeout,
		fmt.Sprintf("call '%s' did not complete within %s", method, timeout)).
		WithDetail("method", method).
		WithDetail("timeout", timeout.String())
}

// SnapshotFailed creates a snapshot fetch error after the retry budget is exhausted
func SnapshotFailed(channel, scope string, attempts int, err error) *HubError {
	return Wrap(err, ErrCodeSnapshotFailed,
		fmt.Sprintf("snapshot fetch for %s/%s failed after %d attempts", channel, scope, attempts)).
		WithDetail("channel", channel).
		WithDetail("scope", scope).
		WithDetail("attempts", attempts)
}

// UnknownChannel creates an unknown channel error
func UnknownChannel(channel string) *HubError {
	return New(ErrCodeUnknownChannel, fmt.Sprintf("unknown channel: %s", channel)).
		WithDetail("channel", channel)
}

// SessionNotFound creates a session lookup error
func SessionNotFound(sessionID string) *HubError {
	return New(ErrCodeSessionNotFound, fmt.Sprintf("session not found: %s", sessionID)).
		WithDetail("sessionId", sessionID)
}

// SessionLimit creates an error for exceeding the configured session cap
func SessionLimit(max int) *HubError {
	return New(ErrCodeSessionLimit, fmt.Sprintf("session limit reached (%d)", max)).
		WithDetail("max_sessions", max)
}

// ConfigInvalid creates an invalid configuration error
func ConfigInvalid(reason string) *HubError {
	return New(ErrCodeConfigInvalid, fmt.Sprintf("invalid configuration: %s", reason))
}
