package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeltaEmpty(t *testing.T) {
	assert.True(t, (&Delta{Version: 3}).Empty())
	assert.False(t, (&Delta{Added: []Item{{ID: "a"}}}).Empty())
	assert.False(t, (&Delta{Removed: []string{"a"}}).Empty())
	assert.False(t, (&Delta{Updated: map[string]json.RawMessage{"a": []byte(`{}`)}}).Empty())
}

func TestDeltaFrameRoundTrip(t *testing.T) {
	raw := `{
		"type": "delta",
		"channel": "state.messages",
		"sessionId": "sess-1",
		"delta": {
			"added": [{"id": "m1", "data": {"content": "hi"}}],
			"removed": ["m0"],
			"updated": {"m2": {"content": "edited"}},
			"version": 7,
			"timestamp": 1700000000000
		}
	}`

	var frame Frame
	require.NoError(t, json.Unmarshal([]byte(raw), &frame))

	assert.Equal(t, FrameDelta, frame.Type)
	assert.Equal(t, ChannelMessages, frame.Channel)
	assert.Equal(t, "sess-1", frame.SessionID)
	require.NotNil(t, frame.Delta)
	assert.Equal(t, uint64(7), frame.Delta.Version)
	require.Len(t, frame.Delta.Added, 1)
	assert.Equal(t, "m1", frame.Delta.Added[0].ID)
	assert.Equal(t, []string{"m0"}, frame.Delta.Removed)
	assert.Contains(t, frame.Delta.Updated, "m2")
}

func TestResponseFrameCarriesError(t *testing.T) {
	raw := `{"type": "response", "id": "abc", "error": {"code": "UNKNOWN_METHOD", "message": "no such method"}}`

	var frame Frame
	require.NoError(t, json.Unmarshal([]byte(raw), &frame))

	assert.Equal(t, FrameResponse, frame.Type)
	require.NotNil(t, frame.Error)
	assert.Equal(t, "UNKNOWN_METHOD", frame.Error.Code)
	assert.Equal(t, "UNKNOWN_METHOD: no such method", frame.Error.Error())
}

func TestCallFrameOmitsDeltaFields(t *testing.T) {
	frame := Frame{
		Type:   FrameCall,
		ID:     "abc",
		Method: MethodSessionRename,
		Params: []byte(`{"sessionId":"s1","title":"renamed"}`),
	}

	data, err := json.Marshal(frame)
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"delta"`)
	assert.NotContains(t, string(data), `"channel"`)
}

func TestNewItem(t *testing.T) {
	item, err := NewItem("s1", map[string]string{"title": "chat"})
	require.NoError(t, err)
	assert.Equal(t, "s1", item.ID)
	assert.JSONEq(t, `{"title": "chat"}`, string(item.Data))

	_, err = NewItem("bad", func() {})
	assert.Error(t, err)
}
