package capability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreGrant(t *testing.T) {
	store := NewStore()
	assert.False(t, store.Has(AlwaysOnScreen))
	assert.Empty(t, store.Allowed())

	store.Grant(AlwaysOnScreen, "org.matrix.msc2762.send.event:m.room.message#m.text")
	assert.True(t, store.Has(AlwaysOnScreen))
	assert.True(t, store.Has("org.matrix.msc2762.send.event:m.room.message#m.text"))
	assert.False(t, store.Has(Screenshots))

	require.Len(t, store.EventCapabilities(), 1)

	// Regranting must not duplicate the derived event view.
	store.Grant(AlwaysOnScreen, "org.matrix.msc2762.send.event:m.room.message#m.text")
	assert.Len(t, store.EventCapabilities(), 1)
	assert.Len(t, store.Allowed(), 2)
}

func TestStoreAllowedIsSorted(t *testing.T) {
	store := NewStore()
	store.Grant("c.cap", "a.cap", "b.cap")
	assert.Equal(t, []Capability{"a.cap", "b.cap", "c.cap"}, store.Allowed())
}

func TestStoreTimeline(t *testing.T) {
	store := NewStore()
	assert.False(t, store.AllowsTimeline("!room:example.org"))

	store.Grant(RoomTimeline("!room:example.org"))
	assert.True(t, store.AllowsTimeline("!room:example.org"))
	assert.False(t, store.AllowsTimeline("!other:example.org"))

	store.Grant(RoomTimeline(AnyRoom))
	assert.True(t, store.AllowsTimeline("!other:example.org"))
}

func TestStoreEventChecks(t *testing.T) {
	store := NewStore()
	store.Grant(
		"org.matrix.msc2762.send.event:m.room.message#m.text",
		"org.matrix.msc2762.receive.state_event:m.room.topic",
		"org.matrix.msc3819.receive.to_device:m.room.key",
	)

	msgtype := "m.text"
	other := "m.emote"
	assert.True(t, store.AllowsRoomEvent(DirectionSend, "m.room.message", &msgtype))
	assert.False(t, store.AllowsRoomEvent(DirectionSend, "m.room.message", &other))
	assert.False(t, store.AllowsRoomEvent(DirectionReceive, "m.room.message", &msgtype))

	key := "anything"
	assert.True(t, store.AllowsStateEvent(DirectionReceive, "m.room.topic", &key))
	assert.True(t, store.AllowsStateEvent(DirectionReceive, "m.room.topic", nil))
	assert.False(t, store.AllowsStateEvent(DirectionSend, "m.room.topic", &key))

	assert.True(t, store.AllowsToDeviceEvent(DirectionReceive, "m.room.key"))
	assert.False(t, store.AllowsToDeviceEvent(DirectionSend, "m.room.key"))
}
