package hub

import (
	"sync"

	"github.com/grovetools/statehub/pkg/protocol"
)

// NotificationKind distinguishes why listeners are being told about state.
type NotificationKind string

const (
	// KindUpdate is new server data (or a locally applied optimistic change).
	KindUpdate NotificationKind = "update"
	// KindReset means the materialized state was replaced wholesale by a
	// snapshot (initial sync or resync).
	KindReset NotificationKind = "reset"
	// KindRollback means an optimistic mutation expired unconfirmed and the
	// last server-confirmed state is back in effect.
	KindRollback NotificationKind = "rollback"
	// KindStale means snapshot fetching exhausted its retry budget; the
	// carried items are the last known state, explicitly marked stale.
	KindStale NotificationKind = "stale"
)

// Notification is delivered to channel listeners on every visible change.
type Notification struct {
	Kind    NotificationKind
	Key     protocol.Key
	Items   []protocol.Item
	Version uint64
	Err     error // set for KindStale
}

// Callback receives channel notifications. Callbacks run synchronously on
// the hub's dispatch path in subscription order and must not call back into
// the hub.
type Callback func(Notification)

// Subscription is the handle returned by Subscribe. Unsubscribe is
// idempotent; after it returns, the callback is never invoked again.
type Subscription struct {
	key  protocol.Key
	cb   Callback
	hub  *Hub
	once sync.Once
}

// Key returns the channel+scope this subscription is registered for.
func (s *Subscription) Key() protocol.Key {
	return s.key
}

// Unsubscribe removes exactly this registration. Safe to call twice.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.hub.removeSubscription(s)
	})
}

// registry tracks listeners per channel+scope. It is not safe for
// concurrent use on its own; the hub's lock guards it.
type registry struct {
	subs map[protocol.Key][]*Subscription
}

func newRegistry() *registry {
	return &registry{subs: make(map[protocol.Key][]*Subscription)}
}

// add registers a subscription and reports whether it is the first one for
// its channel+scope.
func (r *registry) add(s *Subscription) (first bool) {
	existing := r.subs[s.key]
	r.subs[s.key] = append(existing, s)
	return len(existing) == 0
}

// remove deletes one registration. Unknown subscriptions are ignored.
func (r *registry) remove(s *Subscription) {
	existing := r.subs[s.key]
	for i, sub := range existing {
		if sub == s {
			r.subs[s.key] = append(existing[:i:i], existing[i+1:]...)
			break
		}
	}
	if len(r.subs[s.key]) == 0 {
		delete(r.subs, s.key)
	}
}

// listeners returns the registrations for a key in subscription order.
func (r *registry) listeners(key protocol.Key) []*Subscription {
	return r.subs[key]
}

// keysForScope returns every subscribed key bound to the given scope.
func (r *registry) keysForScope(scope string) []protocol.Key {
	var keys []protocol.Key
	for key := range r.subs {
		if key.Scope == scope {
			keys = append(keys, key)
		}
	}
	return keys
}

// keys returns every subscribed channel+scope.
func (r *registry) keys() []protocol.Key {
	keys := make([]protocol.Key, 0, len(r.subs))
	for key := range r.subs {
		keys = append(keys, key)
	}
	return keys
}

// count returns the total number of registrations across all keys.
func (r *registry) count() int {
	n := 0
	for _, subs := range r.subs {
		n += len(subs)
	}
	return n
}
