package hub

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/grovetools/statehub/pkg/protocol"
)

// channelPhase is the per-channel+scope sync state.
type channelPhase int

const (
	phaseUninitialized channelPhase = iota
	phaseSnapshotPending
	phaseResyncPending
	phaseSynced
)

func (p channelPhase) String() string {
	switch p {
	case phaseSnapshotPending:
		return "snapshot-pending"
	case phaseResyncPending:
		return "resync-pending"
	case phaseSynced:
		return "synced"
	default:
		return "uninitialized"
	}
}

// applyResult classifies what a delta did to a channel.
type applyResult int

const (
	applyOK applyResult = iota
	applyStale
	applyGap
)

// channelState is the materialized local copy of one channel+scope. The hub
// is its single writer; readers receive copies via materialize.
type channelState struct {
	key     protocol.Key
	phase   channelPhase
	version uint64

	// Canonical collection: insertion-ordered ids plus id → payload.
	order []string
	items map[string]json.RawMessage

	// Deltas received while a snapshot fetch is in flight, applied in order
	// once the snapshot materializes.
	buffer []*protocol.Delta

	// stale marks state that outlived a failed resync; cleared on the next
	// successful snapshot.
	stale bool

	// fetchSeq invalidates the result of a superseded snapshot fetch.
	fetchSeq uint64
}

func newChannelState(key protocol.Key) *channelState {
	return &channelState{
		key:   key,
		items: make(map[string]json.RawMessage),
	}
}

// classify decides how a delta version relates to the local version without
// mutating anything. Gap detection is integer comparison, never timing.
func (c *channelState) classify(d *protocol.Delta) applyResult {
	switch {
	case d.Version <= c.version:
		return applyStale
	case d.Version == c.version+1:
		return applyOK
	default:
		return applyGap
	}
}

// apply mutates the canonical collection with an in-order delta. Removed is
// applied first, then Updated, then Added, which keeps overwrite semantics
// well-defined when an id appears in more than one list and makes replay
// idempotent.
func (c *channelState) apply(d *protocol.Delta) error {
	if got := c.classify(d); got != applyOK {
		return fmt.Errorf("delta %d not applicable at version %d", d.Version, c.version)
	}

	for _, id := range d.Removed {
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

	for id, partial := range d.Updated {
		current, ok := c.items[id]
		if !ok {
			continue
		}
		merged, err := mergeFields(current, partial)
		if err != nil {
			return fmt.Errorf("failed to merge update for %s: %w", id, err)
		}
		c.items[id] = merged
	}

	for _, item := range d.Added {
		if _, ok := c.items[item.ID]; !ok {
			c.order = append(c.order, item.ID)
		}
		c.items[item.ID] = item.Data
	}

	c.version = d.Version
	return nil
}

// replaceWithSnapshot swaps the canonical state wholesale. Nothing from the
// previous state survives; buffered deltas older than the snapshot are
// dropped by the caller's replay loop via classify.
func (c *channelState) replaceWithSnapshot(snap *protocol.Snapshot) {
	c.items = make(map[string]json.RawMessage, len(snap.Items))
	c.order = make([]string, 0, len(snap.Items))
	for _, item := range snap.Items {
		if _, ok := c.items[item.ID]; !ok {
			c.order = append(c.order, item.ID)
		}
		c.items[item.ID] = item.Data
	}
	c.version = snap.Meta.Version
	c.stale = false
}

// materialize returns the collection in insertion order, with the optimistic
// overlay (if any) layered on top of the canonical items. The canonical
// state is never mutated by the overlay.
func (c *channelState) materialize(overlay map[string]json.RawMessage) []protocol.Item {
	items := make([]protocol.Item, 0, len(c.order)+len(overlay))
	seen := make(map[string]bool, len(overlay))
	for _, id := range c.order {
		data := c.items[id]
		if provisional, ok := overlay[id]; ok {
			data = provisional
			seen[id] = true
		}
		items = append(items, protocol.Item{ID: id, Data: data})
	}
	// Overlay entries for ids the server doesn't know yet (optimistic adds)
	// append after the canonical order, sorted by id so repeated
	// materializations of the same state agree.
	extra := make([]string, 0, len(overlay))
	for id := range overlay {
		if !seen[id] {
			extra = append(extra, id)
		}
	}
	sort.Strings(extra)
	for _, id := range extra {
		items = append(items, protocol.Item{ID: id, Data: overlay[id]})
	}
	return items
}

// deltaRemoves reports whether the delta removes id.
func deltaRemoves(d *protocol.Delta, id string) bool {
	for _, removed := range d.Removed {
		if removed == id {
			return true
		}
	}
	return false
}

// mentions reports whether the delta's added or updated entries touch id.
func deltaMentions(d *protocol.Delta, id string) bool {
	if _, ok := d.Updated[id]; ok {
		return true
	}
	for _, item := range d.Added {
		if item.ID == id {
			return true
		}
	}
	return false
}

// mergeFields overlays the fields of a partial JSON object onto a full one.
// Fields absent from the partial are preserved.
func mergeFields(full, partial json.RawMessage) (json.RawMessage, error) {
	var base map[string]interface{}
	if err := json.Unmarshal(full, &base); err != nil {
		return nil, err
	}
	var changes map[string]interface{}
	if err := json.Unmarshal(partial, &changes); err != nil {
		return nil, err
	}
	for k, v := range changes {
		base[k] = v
	}
	return json.Marshal(base)
}
