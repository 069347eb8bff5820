package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	assert.Equal(t, ChannelSessions, Normalize("state.sessions.delta"))
	assert.Equal(t, ChannelSessions, Normalize("state.sessions"))
	assert.Equal(t, Channel("bogus"), Normalize("bogus"))
}

func TestKnown(t *testing.T) {
	for _, ch := range []Channel{
		ChannelSessions, ChannelMessages, ChannelSDKMessages, ChannelAgent,
		ChannelContext, ChannelCommands, ChannelAuth, ChannelConfig, ChannelHealth,
	} {
		assert.True(t, Known(ch), "channel %s should be known", ch)
		assert.True(t, Known(ch+".delta"), "delta variant of %s should be known", ch)
	}
	assert.False(t, Known("state.bogus"))
	assert.False(t, Known(""))
}

func TestNewKey(t *testing.T) {
	tests := []struct {
		name      string
		channel   Channel
		sessionID string
		want      Key
	}{
		{
			name:    "global channel ignores session id",
			channel: ChannelSessions, sessionID: "s1",
			want: Key{Channel: ChannelSessions, Scope: ScopeGlobal},
		},
		{
			name:    "session channel keeps scope",
			channel: ChannelMessages, sessionID: "s1",
			want: Key{Channel: ChannelMessages, Scope: "s1"},
		},
		{
			name:    "session channel without session is global",
			channel: ChannelMessages, sessionID: "",
			want: Key{Channel: ChannelMessages, Scope: ScopeGlobal},
		},
		{
			name:    "delta suffix is stripped",
			channel: "state.messages.delta", sessionID: "s2",
			want: Key{Channel: ChannelMessages, Scope: "s2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NewKey(tt.channel, tt.sessionID))
		})
	}
}

func TestKeySessionID(t *testing.T) {
	assert.Equal(t, "", NewKey(ChannelSessions, "s1").SessionID())
	assert.Equal(t, "s1", NewKey(ChannelMessages, "s1").SessionID())
}

func TestKeyString(t *testing.T) {
	assert.Equal(t, "state.messages/s1", NewKey(ChannelMessages, "s1").String())
	assert.Equal(t, "state.sessions/global", NewKey(ChannelSessions, "").String())
}
