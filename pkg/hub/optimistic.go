package hub

import (
	"encoding/json"
	"time"

	"github.com/grovetools/statehub/pkg/protocol"
)

// marker records one provisional local mutation awaiting server
// confirmation. At most one marker exists per (channel, scope, item id); a
// newer optimistic mutation on the same target supersedes the older one.
type marker struct {
	key   protocol.Key
	id    string
	seq   uint64
	timer *time.Timer
}

// stopTimer cancels the rollback deadline, if one was armed.
func (m *marker) stopTimer() {
	if m.timer != nil {
		m.timer.Stop()
	}
}

// optimisticState holds the copy-on-write overlays and their markers. The
// canonical snapshot is never written by optimistic mutations, so a
// rollback cannot corrupt confirmed state.
type optimisticState struct {
	overlays map[protocol.Key]map[string]json.RawMessage
	markers  map[string]*marker // keyed by key.String() + "\x00" + id
	seq      uint64
}

func newOptimisticState() *optimisticState {
	return &optimisticState{
		overlays: make(map[protocol.Key]map[string]json.RawMessage),
		markers:  make(map[string]*marker),
	}
}

func markerKey(key protocol.Key, id string) string {
	return key.String() + "\x00" + id
}

// put installs an overlay entry and its marker, superseding any existing
// marker for the same target (the old deadline is cancelled). Returns the
// new marker; the caller arms its timer.
func (o *optimisticState) put(key protocol.Key, id string, data json.RawMessage) *marker {
	mk := markerKey(key, id)
	if existing, ok := o.markers[mk]; ok {
		existing.stopTimer()
	}

	overlay := o.overlays[key]
	if overlay == nil {
		overlay = make(map[string]json.RawMessage)
		o.overlays[key] = overlay
	}
	overlay[id] = data

	o.seq++
	m := &marker{key: key, id: id, seq: o.seq}
	o.markers[mk] = m
	return m
}

// clear removes the overlay entry and marker for a target, if the marker is
// still the given one. Returns true when something was cleared.
func (o *optimisticState) clear(m *marker) bool {
	mk := markerKey(m.key, m.id)
	current, ok := o.markers[mk]
	if !ok || current.seq != m.seq {
		return false
	}
	current.stopTimer()
	delete(o.markers, mk)
	o.dropOverlay(m.key, m.id)
	return true
}

// confirm clears any marker whose target the delta mentions. A server
// removal of the target also clears it: the deletion wins over the pending
// local mutation, so the overlay must not resurrect the item and no
// rollback may fire for it later. Returns the ids confirmed (removals
// cancel, they do not confirm).
func (o *optimisticState) confirm(key protocol.Key, d *protocol.Delta) []string {
	var confirmed []string
	for mk, m := range o.markers {
		if m.key != key {
			continue
		}
		if deltaRemoves(d, m.id) {
			m.stopTimer()
			delete(o.markers, mk)
			o.dropOverlay(key, m.id)
			continue
		}
		if deltaMentions(d, m.id) {
			m.stopTimer()
			delete(o.markers, mk)
			o.dropOverlay(key, m.id)
			confirmed = append(confirmed, m.id)
		}
	}
	return confirmed
}

// cancelScope stops every marker deadline bound to the given scope and
// drops their overlays. Used when leaving a session so no rollback fires
// into a departed view.
func (o *optimisticState) cancelScope(scope string) {
	for mk, m := range o.markers {
		if m.key.Scope != scope {
			continue
		}
		m.stopTimer()
		delete(o.markers, mk)
		o.dropOverlay(m.key, m.id)
	}
}

// overlayFor returns the overlay map for a key, or nil.
func (o *optimisticState) overlayFor(key protocol.Key) map[string]json.RawMessage {
	return o.overlays[key]
}

func (o *optimisticState) dropOverlay(key protocol.Key, id string) {
	overlay := o.overlays[key]
	if overlay == nil {
		return
	}
	delete(overlay, id)
	if len(overlay) == 0 {
		delete(o.overlays, key)
	}
}
