package hub

import (
	"encoding/json"
	"testing"

	"Alumnet/internal/event"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func envelope(t *testing.T, origin, room string, ev event.WsEvent) string {
	t.Helper()
	raw, err := json.Marshal(relayEnvelope{Origin: origin, Room: room, Event: ev})
	require.NoError(t, err)
	return string(raw)
}

func TestRelayHandleSkipsOwnOrigin(t *testing.T) {
	h := newTestHub(t)
	bridge := NewRelayBridge(nil, "", zap.NewNop())

	c := newTestClient("u1")
	room := ConversationRoom("conv-1")
	h.Subscribe(c, room)

	ev := event.New(event.EventNewMessage, nil)
	bridge.handle(h, envelope(t, bridge.origin, room.String(), ev))
	assert.Empty(t, drain(c), "an instance must not re-deliver its own publications")

	bridge.handle(h, envelope(t, "peer-instance", room.String(), ev))
	assert.Len(t, drain(c), 1)
}

func TestRelayHandleRoutesRooms(t *testing.T) {
	h := newTestHub(t)
	bridge := NewRelayBridge(nil, "", zap.NewNop())

	subscriber := newTestClient("u1")
	bystander := newTestClient("u2")
	h.Subscribe(subscriber, CityRoom("berlin"))
	h.addClient(bystander)
	drain(bystander)

	t.Run("room-scoped delivery", func(t *testing.T) {
		bridge.handle(h, envelope(t, "peer", "city:berlin", event.New(event.EventUserTyping, nil)))
		assert.Len(t, drain(subscriber), 1)
		assert.Empty(t, drain(bystander))
	})

	t.Run("empty room goes to every session", func(t *testing.T) {
		bridge.handle(h, envelope(t, "peer", "", event.New(event.EventUserStatusChanged, nil)))
		assert.Len(t, drain(bystander), 1)
	})

	t.Run("malformed room dropped", func(t *testing.T) {
		bridge.handle(h, envelope(t, "peer", "not-a-room", event.New(event.EventUserTyping, nil)))
		assert.Empty(t, drain(subscriber))
		assert.Empty(t, drain(bystander))
	})

	t.Run("malformed payload dropped", func(t *testing.T) {
		bridge.handle(h, "{broken")
		assert.Empty(t, drain(bystander))
	})
}
