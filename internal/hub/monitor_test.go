package hub

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitorStats(t *testing.T) {
	h := newTestHub(t)
	ms := NewMonitorService(h)

	t.Run("idle hub", func(t *testing.T) {
		stats := ms.GetStats()
		assert.Equal(t, "idle", stats.Status)
		assert.Zero(t, stats.Connections.TotalSessions)
	})

	s1 := newTestClient("u1")
	s2 := newTestClient("u1")
	s3 := newTestClient("u2")
	h.addClient(s1)
	h.addClient(s2)
	h.addClient(s3)
	h.Subscribe(s1, ConversationRoom("conv-1"))
	h.Subscribe(s3, ConversationRoom("conv-1"))

	stats := ms.GetStats()
	assert.Equal(t, "healthy", stats.Status)
	assert.Equal(t, 3, stats.Connections.TotalSessions)
	assert.Equal(t, 2, stats.Connections.TotalUsers)

	// Two user rooms plus the shared conversation room.
	assert.Equal(t, 3, stats.Rooms.TotalRooms)
	var convSubscribers int
	for _, info := range stats.Rooms.RoomDetails {
		if info.Room == ConversationRoom("conv-1").String() {
			convSubscribers = info.Subscribers
		}
	}
	assert.Equal(t, 2, convSubscribers)

	require.Equal(t, 2, stats.Presence.Online)
}
