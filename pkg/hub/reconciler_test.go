package hub

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/grovetools/statehub/pkg/protocol"
)

func testKey() protocol.Key {
	return protocol.NewKey(protocol.ChannelSessions, "")
}

func delta(version uint64, mutate func(*protocol.Delta)) *protocol.Delta {
	d := &protocol.Delta{Version: version}
	if mutate != nil {
		mutate(d)
	}
	return d
}

func TestClassify(t *testing.T) {
	ch := newChannelState(testKey())
	ch.version = 5

	assert.Equal(t, applyStale, ch.classify(delta(5, nil)))
	assert.Equal(t, applyStale, ch.classify(delta(3, nil)))
	assert.Equal(t, applyOK, ch.classify(delta(6, nil)))
	assert.Equal(t, applyGap, ch.classify(delta(7, nil)))
}

func TestApplyOrdering(t *testing.T) {
	ch := newChannelState(testKey())

	// v1 populates two items.
	require.NoError(t, ch.apply(delta(1, func(d *protocol.Delta) {
		d.Added = []protocol.Item{
			protocol.MustItem("a", map[string]string{"title": "first"}),
			protocol.MustItem("b", map[string]string{"title": "second"}),
		}
	})))
	assert.Equal(t, uint64(1), ch.version)
	assert.Equal(t, []string{"a", "b"}, ch.order)

	// v2 removes "a" and re-adds it: removed applies before added, so the
	// item survives with the new payload at the end of the order.
	require.NoError(t, ch.apply(delta(2, func(d *protocol.Delta) {
		d.Removed = []string{"a"}
		d.Added = []protocol.Item{protocol.MustItem("a", map[string]string{"title": "reborn"})}
	})))
	assert.Equal(t, []string{"b", "a"}, ch.order)
	assert.JSONEq(t, `{"title":"reborn"}`, string(ch.items["a"]))
}

func TestApplyPartialUpdateMergesFields(t *testing.T) {
	ch := newChannelState(testKey())
	require.NoError(t, ch.apply(delta(1, func(d *protocol.Delta) {
		d.Added = []protocol.Item{
			protocol.MustItem("s1", map[string]interface{}{"title": "chat", "message_count": 3}),
		}
	})))

	require.NoError(t, ch.apply(delta(2, func(d *protocol.Delta) {
		d.Updated = map[string]json.RawMessage{"s1": json.RawMessage(`{"title":"renamed"}`)}
	})))

	assert.JSONEq(t, `{"title":"renamed","message_count":3}`, string(ch.items["s1"]))
}

func TestApplyUpdateForUnknownIDIsIgnored(t *testing.T) {
	ch := newChannelState(testKey())
	require.NoError(t, ch.apply(delta(1, func(d *protocol.Delta) {
		d.Updated = map[string]json.RawMessage{"ghost": json.RawMessage(`{"x":1}`)}
	})))
	assert.Empty(t, ch.items)
	assert.Equal(t, uint64(1), ch.version)
}

func TestApplyRejectsOutOfOrder(t *testing.T) {
	ch := newChannelState(testKey())
	ch.version = 4

	assert.Error(t, ch.apply(delta(4, nil)))
	assert.Error(t, ch.apply(delta(6, nil)))
	assert.Equal(t, uint64(4), ch.version)
}

func TestReplaceWithSnapshot(t *testing.T) {
	ch := newChannelState(testKey())
	require.NoError(t, ch.apply(delta(1, func(d *protocol.Delta) {
		d.Added = []protocol.Item{protocol.MustItem("old", map[string]string{"v": "gone"})}
	})))

	ch.stale = true
	ch.replaceWithSnapshot(&protocol.Snapshot{
		Items: []protocol.Item{
			protocol.MustItem("x", map[string]string{"v": "1"}),
			protocol.MustItem("y", map[string]string{"v": "2"}),
		},
		Meta: protocol.Meta{Version: 9},
	})

	assert.Equal(t, uint64(9), ch.version)
	assert.Equal(t, []string{"x", "y"}, ch.order)
	assert.False(t, ch.stale)
	_, oldSurvives := ch.items["old"]
	assert.False(t, oldSurvives)
}

func TestMaterializeOverlay(t *testing.T) {
	ch := newChannelState(testKey())
	require.NoError(t, ch.apply(delta(1, func(d *protocol.Delta) {
		d.Added = []protocol.Item{
			protocol.MustItem("a", map[string]string{"title": "server"}),
			protocol.MustItem("b", map[string]string{"title": "other"}),
		}
	})))

	overlay := map[string]json.RawMessage{
		"a": json.RawMessage(`{"title":"provisional"}`),
		"c": json.RawMessage(`{"title":"optimistic add"}`),
	}

	items := ch.materialize(overlay)
	require.Len(t, items, 3)
	assert.Equal(t, "a", items[0].ID)
	assert.JSONEq(t, `{"title":"provisional"}`, string(items[0].Data))
	assert.Equal(t, "b", items[1].ID)
	assert.JSONEq(t, `{"title":"other"}`, string(items[1].Data))
	assert.Equal(t, "c", items[2].ID)

	// The canonical payload is untouched underneath the overlay.
	assert.JSONEq(t, `{"title":"server"}`, string(ch.items["a"]))

	// Without the overlay, materialize yields canonical state only.
	assert.Len(t, ch.materialize(nil), 2)
}

func TestDeltaMentions(t *testing.T) {
	d := delta(3, func(d *protocol.Delta) {
		d.Added = []protocol.Item{protocol.MustItem("added", map[string]int{})}
		d.Updated = map[string]json.RawMessage{"updated": json.RawMessage(`{}`)}
		d.Removed = []string{"removed"}
	})

	assert.True(t, deltaMentions(d, "added"))
	assert.True(t, deltaMentions(d, "updated"))
	assert.False(t, deltaMentions(d, "removed"))
	assert.False(t, deltaMentions(d, "other"))

	assert.True(t, deltaRemoves(d, "removed"))
	assert.False(t, deltaRemoves(d, "added"))
	assert.False(t, deltaRemoves(d, "other"))
}

func TestMaterializeOverlayOnlyIDsSorted(t *testing.T) {
	ch := newChannelState(testKey())

	overlay := map[string]json.RawMessage{
		"c": json.RawMessage(`{}`),
		"a": json.RawMessage(`{}`),
		"b": json.RawMessage(`{}`),
	}

	// Ids the server has never seen append in sorted order, so repeated
	// materializations of the same state agree.
	items := ch.materialize(overlay)
	require.Len(t, items, 3)
	assert.Equal(t, "a", items[0].ID)
	assert.Equal(t, "b", items[1].ID)
	assert.Equal(t, "c", items[2].ID)
}

// TestApplyConvergence drives a channel with a random committed history and
// checks that replaying any mix of stale duplicates leaves the state
// identical to a single clean pass.
func TestApplyConvergence(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 20).Draw(t, "deltas")

		history := make([]*protocol.Delta, 0, n)
		ids := []string{"a", "b", "c", "d"}
		for v := 1; v <= n; v++ {
			d := &protocol.Delta{Version: uint64(v)}
			id := rapid.SampledFrom(ids).Draw(t, "id")
			switch rapid.IntRange(0, 2).Draw(t, "op") {
			case 0:
				d.Added = []protocol.Item{protocol.MustItem(id, map[string]int{"v": v})}
			case 1:
				d.Removed = []string{id}
			case 2:
				d.Updated = map[string]json.RawMessage{
					id: json.RawMessage(fmt.Sprintf(`{"v":%d}`, v)),
				}
			}
			history = append(history, d)
		}

		clean := newChannelState(testKey())
		for _, d := range history {
			if clean.classify(d) == applyOK {
				require.NoError(t, clean.apply(d))
			}
		}

		// Replay with duplicates injected at random points. classify must
		// shed every duplicate as stale.
		noisy := newChannelState(testKey())
		for i, d := range history {
			if noisy.classify(d) == applyOK {
				require.NoError(t, noisy.apply(d))
			}
			if rapid.Bool().Draw(t, "dup") && i > 0 {
				dup := history[rapid.IntRange(0, i).Draw(t, "dupIdx")]
				require.Equal(t, applyStale, noisy.classify(dup))
			}
		}

		require.Equal(t, clean.version, noisy.version)
		require.Equal(t, clean.order, noisy.order)
		for id, data := range clean.items {
			require.JSONEq(t, string(data), string(noisy.items[id]))
		}
	})
}
