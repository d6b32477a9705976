package hub

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"Alumnet/internal/auth"
	"Alumnet/internal/event"
	"Alumnet/internal/model"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// newTestClient builds a session without a live socket or pumps; events land
// in the buffered egress and are read straight off it.
func newTestClient(userID string) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		ID:         uuid.New().String(),
		UserID:     userID,
		egress:     make(chan event.WsEvent, sendBufSize),
		rooms:      make(map[RoomID]string),
		typingIn:   make(map[RoomID]struct{}),
		ctx:        ctx,
		cancel:     cancel,
		connClosed: make(chan struct{}),
	}
}

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub(auth.NewVerifier("test-secret"), Options{}, zap.NewNop())
	t.Cleanup(h.Stop)
	return h
}

func drain(c *Client) []event.WsEvent {
	var out []event.WsEvent
	for {
		select {
		case ev := <-c.egress:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestSubscribeUnsubscribe(t *testing.T) {
	h := newTestHub(t)
	room := ConversationRoom("conv-1")
	c1 := newTestClient("u1")
	c2 := newTestClient("u2")

	h.Subscribe(c1, room)
	h.Subscribe(c2, room)
	assert.Len(t, h.Subscribers(room), 2)

	h.Unsubscribe(c1, room)
	subs := h.Subscribers(room)
	require.Len(t, subs, 1)
	assert.Equal(t, c2.ID, subs[0].ID)

	h.Unsubscribe(c2, room)
	assert.Empty(t, h.Subscribers(room))
}

func TestSubscribeConcurrentSameRoom(t *testing.T) {
	h := newTestHub(t)
	room := CityRoom("berlin")

	const n = 100
	clients := make([]*Client, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		clients[i] = newTestClient(fmt.Sprintf("u%d", i))
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			h.Subscribe(c, room)
		}(clients[i])
	}
	wg.Wait()

	assert.Len(t, h.Subscribers(room), n)
}

func TestBroadcastRoomExcludesSender(t *testing.T) {
	h := newTestHub(t)
	room := ConversationRoom("conv-1")
	sender := newTestClient("u1")
	peer := newTestClient("u2")
	outsider := newTestClient("u3")

	h.Subscribe(sender, room)
	h.Subscribe(peer, room)
	h.Subscribe(outsider, ConversationRoom("conv-2"))

	ev := event.New(event.EventUserTyping, event.TypingEventPayload{UserID: "u1", RoomID: room.String()})
	h.BroadcastRoom(room, ev, sender.ID)

	assert.Empty(t, drain(sender), "excluded session must not receive the event")
	assert.Empty(t, drain(outsider), "other rooms must not receive the event")

	got := drain(peer)
	require.Len(t, got, 1)
	assert.Equal(t, event.EventUserTyping, got[0].Event)
}

func TestSendToUserReachesAllSessions(t *testing.T) {
	h := newTestHub(t)
	s1 := newTestClient("u1")
	s2 := newTestClient("u1")

	h.addClient(s1)
	h.addClient(s2)
	drain(s1)
	drain(s2)

	h.SendToUser("u1", event.New(event.EventNewMessage, nil))

	require.Len(t, drain(s1), 1)
	require.Len(t, drain(s2), 1)
}

func TestRemoveClientLastSessionGoesOffline(t *testing.T) {
	h := newTestHub(t)
	s1 := newTestClient("u1")
	s2 := newTestClient("u1")

	h.addClient(s1)
	h.addClient(s2)
	require.Len(t, h.presence.Online(), 1)

	h.removeClient(s1)
	assert.Len(t, h.presence.Online(), 1, "one live session keeps the principal online")

	h.removeClient(s2)
	records := h.presence.Snapshot()
	require.Len(t, records, 1)
	assert.Equal(t, model.StatusOffline, records[0].Status)
}

func TestRemoveClientAnnouncesTypingStop(t *testing.T) {
	h := newTestHub(t)
	room := ConversationRoom("conv-1")
	typer := newTestClient("u1")
	watcher := newTestClient("u2")

	h.Subscribe(typer, room)
	h.Subscribe(watcher, room)
	typer.setTyping(room, true)

	h.removeClient(typer)

	var sawStop, sawLeft bool
	for _, ev := range drain(watcher) {
		switch ev.Event {
		case event.EventUserStoppedTyping:
			sawStop = true
		case event.EventUserLeftConv:
			sawLeft = true
		}
	}
	assert.True(t, sawStop, "disconnect while typing must broadcast a typing stop")
	assert.True(t, sawLeft, "disconnect must announce leaving the room")
}

func TestRemoveClientTopicRoomLeaveCarriesConversationID(t *testing.T) {
	h := newTestHub(t)
	room := CityRoom("berlin")
	leaver := newTestClient("u1")
	watcher := newTestClient("u2")

	h.Subscribe(leaver, room)
	h.Subscribe(watcher, room)
	convID := primitive.NewObjectID().Hex()
	leaver.rememberConversation(room, convID)

	h.removeClient(leaver)

	var left *event.MembershipPayload
	for _, ev := range drain(watcher) {
		if ev.Event == event.EventUserLeftConv {
			var p event.MembershipPayload
			require.NoError(t, ev.Bind(&p))
			left = &p
		}
	}
	require.NotNil(t, left)
	assert.Equal(t, convID, left.ConversationID, "topic-room leave must reference the conversation, not the topic ref")
	assert.Equal(t, "city:berlin", left.RoomID)
}

func TestOrderingKeyStability(t *testing.T) {
	c := newTestClient("u1")

	t.Run("conversation events share a key", func(t *testing.T) {
		ev1 := event.New(event.EventSendMessage, event.SendMessagePayload{ConversationID: "conv-9", Text: "a"})
		ev2 := event.New(event.EventMarkMessagesRead, event.MarkReadPayload{ConversationID: "conv-9"})
		assert.Equal(t, orderingKey(c, ev1), orderingKey(c, ev2))
	})

	t.Run("room events key by room", func(t *testing.T) {
		ev := event.New(event.EventTypingStart, event.TypingPayload{RoomID: "city:berlin"})
		assert.Equal(t, "city:berlin", orderingKey(c, ev))
	})

	t.Run("untargeted events key by session", func(t *testing.T) {
		ev := event.New(event.EventUserOnline, nil)
		assert.Equal(t, c.ID, orderingKey(c, ev))
	})
}

func TestWorkerForIsDeterministic(t *testing.T) {
	for _, key := range []string{"", "conv-1", "city:berlin", "user-42"} {
		assert.Equal(t, workerFor(key), workerFor(key))
		assert.Less(t, workerFor(key), uint32(workerPoolSize))
	}
}
