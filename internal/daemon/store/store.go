// Package store is the daemon's in-memory state store. Every channel+scope
// is a versioned, insertion-ordered collection; mutations commit as deltas
// with a monotonically increasing version, and a bounded history ring keeps
// recent deltas for replay to reconnecting clients.
package store

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/grovetools/statehub/errors"
	"github.com/grovetools/statehub/pkg/protocol"
)

// collection is one channel+scope's materialized state plus its recent
// delta history.
type collection struct {
	version    uint64
	order      []string
	items      map[string]json.RawMessage
	history    []*protocol.Delta // ring, oldest first
	lastUpdate int64
}

// Store is thread-safe and supports pub/sub for real-time delta fanout.
type Store struct {
	mu           sync.RWMutex
	collections  map[protocol.Key]*collection
	subscribers  map[chan Event]struct{}
	historyLimit int
}

// New creates a store. historyLimit bounds per-channel delta history kept
// for replay; zero means a default of 256.
func New(historyLimit int) *Store {
	if historyLimit <= 0 {
		historyLimit = 256
	}
	return &Store{
		collections:  make(map[protocol.Key]*collection),
		subscribers:  make(map[chan Event]struct{}),
		historyLimit: historyLimit,
	}
}

func (s *Store) ensure(key protocol.Key) *collection {
	c, ok := s.collections[key]
	if !ok {
		c = &collection{items: make(map[string]json.RawMessage)}
		s.collections[key] = c
	}
	return c
}

// Commit applies a mutation to a channel+scope, assigns the next version,
// records the delta in history, and broadcasts it to subscribers. Returns
// the committed delta.
func (s *Store) Commit(key protocol.Key, m Mutation) *protocol.Delta {
	s.mu.Lock()

	c := s.ensure(key)
	c.version++
	now := time.Now().UnixMilli()
	c.lastUpdate = now

	delta := &protocol.Delta{
		Added:     m.Added,
		Removed:   m.Removed,
		Updated:   m.Updated,
		Version:   c.version,
		Timestamp: now,
	}

	for _, id := range m.Removed {
		if _, ok := c.items[id]; !ok {
			continue
		}
		delete(c.items, id)
		for i, existing := range c.order {
			if existing == id {
				c.order = append(c.order[:i:i], c.order[i+1:]...)
				break
			}
		}
	}
	for id, partial := range m.Updated {
		current, ok := c.items[id]
		if !ok {
			continue
		}
		if merged, err := mergeFields(current, partial); err == nil {
			c.items[id] = merged
		}
	}
	for _, item := range m.Added {
		if _, ok := c.items[item.ID]; !ok {
			c.order = append(c.order, item.ID)
		}
		c.items[item.ID] = item.Data
	}

	c.history = append(c.history, delta)
	if len(c.history) > s.historyLimit {
		c.history = c.history[len(c.history)-s.historyLimit:]
	}

	// Fan out before releasing the lock so concurrent commits to the same
	// key reach subscribers in version order. Sends are non-blocking, so
	// holding the lock here cannot stall on a slow subscriber.
	s.broadcastLocked(Event{Key: key, Delta: delta})
	s.mu.Unlock()

	return delta
}

// Snapshot returns the materialized collection for a channel+scope. An
// unknown key yields an empty snapshot at version 0, not an error: a
// channel with no history is simply empty.
func (s *Store) Snapshot(key protocol.Key) *protocol.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[key]
	if !ok {
		return &protocol.Snapshot{
			Items: []protocol.Item{},
			Meta:  protocol.Meta{Channel: key.Channel, SessionID: key.SessionID()},
		}
	}

	items := make([]protocol.Item, 0, len(c.order))
	for _, id := range c.order {
		items = append(items, protocol.Item{ID: id, Data: c.items[id]})
	}
	return &protocol.Snapshot{
		Items: items,
		Meta: protocol.Meta{
			Channel:    key.Channel,
			SessionID:  key.SessionID(),
			Version:    c.version,
			LastUpdate: c.lastUpdate,
		},
	}
}

// Version returns the current version for a channel+scope (0 if unknown).
func (s *Store) Version(key protocol.Key) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.collections[key]; ok {
		return c.version
	}
	return 0
}

// Get returns one item's payload from a collection.
func (s *Store) Get(key protocol.Key, id string) (json.RawMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[key]
	if !ok {
		return nil, false
	}
	data, ok := c.items[id]
	return data, ok
}

// Replay returns the deltas after sinceVersion, in order. ok is false when
// history no longer reaches back that far, in which case the client must
// resync from a snapshot instead.
func (s *Store) Replay(key protocol.Key, sinceVersion uint64) ([]*protocol.Delta, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[key]
	if !ok {
		return nil, sinceVersion == 0
	}
	if sinceVersion >= c.version {
		return nil, true
	}

	var deltas []*protocol.Delta
	for _, d := range c.history {
		if d.Version > sinceVersion {
			deltas = append(deltas, d)
		}
	}
	// The history must cover every version in (sinceVersion, current].
	if uint64(len(deltas)) != c.version-sinceVersion {
		return nil, false
	}
	return deltas, true
}

// Drop discards every collection scoped to the given session. Used when a
// session is deleted so its channels do not linger.
func (s *Store) Drop(scope string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.collections {
		if key.Scope == scope {
			delete(s.collections, key)
		}
	}
}

// Subscribe creates a buffered subscription channel for committed deltas.
func (s *Store) Subscribe() chan Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan Event, 100)
	s.subscribers[ch] = struct{}{}
	return ch
}

// Unsubscribe removes a subscription and closes its channel.
func (s *Store) Unsubscribe(ch chan Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscribers, ch)
	close(ch)
}

func (s *Store) broadcastLocked(event Event) {
	for ch := range s.subscribers {
		select {
		case ch <- event:
		default:
			// Non-blocking send so a slow client cannot stall the daemon.
		}
	}
}

// mergeFields overlays the fields of a partial JSON object onto a full one.
func mergeFields(full, partial json.RawMessage) (json.RawMessage, error) {
	var base map[string]interface{}
	if err := json.Unmarshal(full, &base); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "invalid stored item")
	}
	var changes map[string]interface{}
	if err := json.Unmarshal(partial, &changes); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInvalidInput, "invalid partial update")
	}
	for k, v := range changes {
		base[k] = v
	}
	return json.Marshal(base)
}
