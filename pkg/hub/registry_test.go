package hub

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/grovetools/statehub/pkg/protocol"
)

func TestRegistryAddRemove(t *testing.T) {
	r := newRegistry()
	key := protocol.NewKey(protocol.ChannelSessions, "")

	a := &Subscription{key: key}
	b := &Subscription{key: key}

	assert.True(t, r.add(a))
	assert.False(t, r.add(b))
	assert.Equal(t, 2, r.count())

	// Listener order is subscription order.
	listeners := r.listeners(key)
	assert.Same(t, a, listeners[0])
	assert.Same(t, b, listeners[1])

	r.remove(a)
	assert.Equal(t, []*Subscription{b}, r.listeners(key))

	// Removing an already-removed subscription is harmless.
	r.remove(a)
	assert.Equal(t, 1, r.count())

	r.remove(b)
	assert.Empty(t, r.listeners(key))
	assert.Empty(t, r.keys())
}

func TestRegistryKeysForScope(t *testing.T) {
	r := newRegistry()
	msgs := protocol.NewKey(protocol.ChannelMessages, "s1")
	agent := protocol.NewKey(protocol.ChannelAgent, "s1")
	other := protocol.NewKey(protocol.ChannelMessages, "s2")
	global := protocol.NewKey(protocol.ChannelSessions, "")

	for _, key := range []protocol.Key{msgs, agent, other, global} {
		r.add(&Subscription{key: key})
	}

	scoped := r.keysForScope("s1")
	assert.Len(t, scoped, 2)
	assert.ElementsMatch(t, []protocol.Key{msgs, agent}, scoped)

	assert.Len(t, r.keys(), 4)
}
