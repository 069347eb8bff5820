package store

import (
	"encoding/json"

	"github.com/grovetools/statehub/pkg/protocol"
)

// Event is a committed delta on one channel+scope, broadcast to subscribers.
type Event struct {
	Key   protocol.Key
	Delta *protocol.Delta
}

// Mutation describes one state change to commit. The store assigns the
// version and timestamp.
type Mutation struct {
	Added   []protocol.Item
	Removed []string
	Updated map[string]json.RawMessage
}
