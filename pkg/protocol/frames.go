package protocol

import (
	"encoding/json"
	"fmt"
)

// FrameType discriminates the messages exchanged over the WebSocket.
type FrameType string

const (
	FrameCall     FrameType = "call"
	FrameResponse FrameType = "response"
	FrameDelta    FrameType = "delta"
)

// Frame is the single message envelope used in both directions. Only the
// fields relevant to the frame type are populated. Snapshots travel as call
// results, not as their own frame type.
type Frame struct {
	Type FrameType `json:"type"`

	// Call / response correlation
	ID     string          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *CallError      `json:"error,omitempty"`

	// Delta push
	Channel   Channel `json:"channel,omitempty"`
	SessionID string  `json:"sessionId,omitempty"`
	Delta     *Delta  `json:"delta,omitempty"`
}

// CallError is the error half of a call response.
type CallError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Item is the generic channel element all collections share. The reconciler
// operates on items; consumers decode Data into the concrete model type.
type Item struct {
	ID   string          `json:"id"`
	Data json.RawMessage `json:"data"`
}

// NewItem marshals v into an Item with the given id.
func NewItem(id string, v any) (Item, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Item{}, fmt.Errorf("failed to marshal item %s: %w", id, err)
	}
	return Item{ID: id, Data: data}, nil
}

// MustItem is NewItem for values that cannot fail to marshal (fixtures, tests).
func MustItem(id string, v any) Item {
	item, err := NewItem(id, v)
	if err != nil {
		panic(err)
	}
	return item
}

// Delta is an incremental, versioned change set for one channel+scope.
// Applying a delta with Version v to a snapshot at v-1 yields the snapshot
// at v. Removed is applied first, then Updated, then Added.
type Delta struct {
	Added     []Item                     `json:"added"`
	Removed   []string                   `json:"removed"`
	Updated   map[string]json.RawMessage `json:"updated"`
	Version   uint64                     `json:"version"`
	Timestamp int64                      `json:"timestamp"` // unix milliseconds
}

// Empty reports whether the delta carries no changes.
func (d *Delta) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Updated) == 0
}

// Meta describes the provenance of a snapshot.
type Meta struct {
	Channel    Channel `json:"channel,omitempty"`
	SessionID  string  `json:"sessionId,omitempty"`
	Version    uint64  `json:"version"`
	LastUpdate int64   `json:"lastUpdate"` // unix milliseconds
}

// Snapshot is the fully materialized state of a channel+scope.
type Snapshot struct {
	Items []Item `json:"items"`
	Meta  Meta   `json:"meta"`
}
