// Package protocol defines the wire contract between the statehub daemon
// and its clients: channel names, framed messages, deltas, and snapshots.
package protocol

import "strings"

// Channel identifies a stream of server-authoritative state.
type Channel string

const (
	ChannelSessions    Channel = "state.sessions"
	ChannelMessages    Channel = "state.messages"
	ChannelSDKMessages Channel = "state.sdkMessages"
	ChannelAgent       Channel = "state.agent"
	ChannelContext     Channel = "state.context"
	ChannelCommands    Channel = "state.commands"
	ChannelAuth        Channel = "state.auth"
	ChannelConfig      Channel = "state.config"
	ChannelHealth      Channel = "state.health"
)

// ScopeGlobal is the scope for channels that are not bound to a session.
const ScopeGlobal = "global"

// deltaSuffix is accepted on subscribe for compatibility with clients that
// name the delta stream explicitly; it maps to the same channel.
const deltaSuffix = ".delta"

// Normalize strips a trailing ".delta" variant from a channel name.
func Normalize(ch Channel) Channel {
	return Channel(strings.TrimSuffix(string(ch), deltaSuffix))
}

// Known reports whether ch names a channel the daemon serves.
func Known(ch Channel) bool {
	switch Normalize(ch) {
	case ChannelSessions, ChannelMessages, ChannelSDKMessages, ChannelAgent,
		ChannelContext, ChannelCommands, ChannelAuth, ChannelConfig, ChannelHealth:
		return true
	}
	return false
}

// GlobalChannel reports whether ch carries global (non-session) state.
func GlobalChannel(ch Channel) bool {
	switch Normalize(ch) {
	case ChannelSessions, ChannelAuth, ChannelConfig, ChannelHealth:
		return true
	}
	return false
}

// Key is the (channel, scope) pair that owns one version counter.
// Scope is either a session id or ScopeGlobal.
type Key struct {
	Channel Channel `json:"channel"`
	Scope   string  `json:"scope"`
}

// NewKey normalizes the channel and pins global channels to ScopeGlobal.
func NewKey(ch Channel, sessionID string) Key {
	ch = Normalize(ch)
	if GlobalChannel(ch) || sessionID == "" {
		return Key{Channel: ch, Scope: ScopeGlobal}
	}
	return Key{Channel: ch, Scope: sessionID}
}

// SessionID returns the session scope, or "" for global keys.
func (k Key) SessionID() string {
	if k.Scope == ScopeGlobal {
		return ""
	}
	return k.Scope
}

func (k Key) String() string {
	return string(k.Channel) + "/" + k.Scope
}
