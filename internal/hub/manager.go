package hub

import (
	"context"
	"crypto/sha1"
	"encoding/binary"
	"net/http"
	"sync"
	"time"

	"Alumnet/internal/auth"
	"Alumnet/internal/event"
	"Alumnet/internal/model"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	shardCount = 64 // tune: 16/64/128 depending on load
)

type inboundMessage struct {
	event  event.WsEvent
	client *Client
}

type roomBucket struct {
	mu    sync.RWMutex
	rooms map[RoomID]map[string]*Client
}

// Hub is the connection registry and room manager: it owns every live
// session, the per-room subscriber sets, and the presence tracker, and it
// dispatches inbound events to handler workers. Events that share an
// ordering key (the target room) always land on the same worker, which is
// what gives one conversation's messages their delivery order.
type Hub struct {
	shards   [shardCount]*roomBucket
	sessions map[string]map[string]*Client // userID -> sessionID -> client

	register   chan *Client
	unregister chan *Client
	inbound    [workerPoolSize]chan inboundMessage

	presence *PresenceTracker
	chat     *ChatHandler
	bridge   *RelayBridge

	verifier       *auth.Verifier
	allowedOrigins map[string]bool
	logger         *zap.Logger

	sessionsMu sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
}

// Options configure hub behavior that differs between deployments.
type Options struct {
	AllowedOrigins []string
	PresenceStale  time.Duration
	PresenceSweep  time.Duration
}

// NewHub builds the hub and starts its run loop and worker pool. The chat
// handler is attached afterwards via SetChatHandler because the service it
// needs is itself wired to the hub for fan-out.
func NewHub(verifier *auth.Verifier, opts Options, logger *zap.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		sessions:       make(map[string]map[string]*Client),
		register:       make(chan *Client, 1024),
		unregister:     make(chan *Client, 1024),
		verifier:       verifier,
		allowedOrigins: make(map[string]bool, len(opts.AllowedOrigins)),
		logger:         logger,
		ctx:            ctx,
		cancel:         cancel,
	}
	for _, origin := range opts.AllowedOrigins {
		h.allowedOrigins[origin] = true
	}

	for i := 0; i < shardCount; i++ {
		h.shards[i] = &roomBucket{
			rooms: make(map[RoomID]map[string]*Client),
		}
	}

	h.presence = NewPresenceTracker(h.BroadcastAll, opts.PresenceStale, opts.PresenceSweep, logger)
	go h.presence.Run(ctx)

	// run manager loop
	go h.run()

	// start worker loop; each worker owns one queue so events with the same
	// ordering key are processed serially.
	for i := 0; i < workerPoolSize; i++ {
		h.inbound[i] = make(chan inboundMessage, 256)
		h.wg.Add(1)
		go func(queue chan inboundMessage) {
			defer h.wg.Done()
			for {
				select {
				case <-h.ctx.Done():
					return
				case in, ok := <-queue:
					if !ok {
						return
					}
					h.handleEvent(in.event, in.client)
				}
			}
		}(h.inbound[i])
	}

	return h
}

// SetChatHandler attaches the chat event handler. Must be called before the
// first connection is served.
func (h *Hub) SetChatHandler(chat *ChatHandler) {
	h.chat = chat
}

// SetBridge attaches the optional cross-instance relay.
func (h *Hub) SetBridge(bridge *RelayBridge) {
	h.bridge = bridge
}

// Presence exposes the tracker for REST snapshot queries.
func (h *Hub) Presence() *PresenceTracker {
	return h.presence
}

func (h *Hub) handleEvent(ev event.WsEvent, c *Client) {
	switch ev.Event {
	case event.EventJoinConversation:
		h.chat.HandleJoinConversation(c, ev)
	case event.EventLeaveConversation:
		h.chat.HandleLeaveConversation(c, ev)
	case event.EventSendMessage:
		h.chat.HandleSendMessage(c, ev)
	case event.EventTypingStart:
		h.chat.HandleTyping(c, ev, true)
	case event.EventTypingStop:
		h.chat.HandleTyping(c, ev, false)
	case event.EventMarkMessagesRead:
		h.chat.HandleMarkRead(c, ev)
	case event.EventJoinCityRoom:
		h.chat.HandleJoinTopic(c, ev, RoomCity)
	case event.EventJoinCompanyRoom:
		h.chat.HandleJoinTopic(c, ev, RoomCompany)
	case event.EventUserOnline:
		h.presence.SetOnline(c.UserID)
	case event.EventUserOffline:
		h.presence.SetOffline(c.UserID)
	case event.EventUpdateLocation:
		h.handleUpdateLocation(c, ev)
	default:
		h.logger.Warn("unknown event type",
			zap.String("event", ev.Event),
			zap.String("session_id", c.ID),
		)
	}
}

func (h *Hub) handleUpdateLocation(c *Client, ev event.WsEvent) {
	var payload event.UpdateLocationPayload
	if err := ev.Bind(&payload); err != nil {
		c.sendError("malformed location payload")
		return
	}
	loc := model.Location{Lng: payload.Lng, Lat: payload.Lat, CityLabel: payload.CityLabel}
	if err := h.presence.UpdateLocation(c.UserID, loc); err != nil {
		c.sendError("Location sharing not enabled")
	}
}

// dispatch routes an inbound event to the worker owning its ordering key.
// Returns false when the worker's queue stayed full past the timeout.
func (h *Hub) dispatch(c *Client, ev event.WsEvent) bool {
	queue := h.inbound[workerFor(orderingKey(c, ev))]
	select {
	case queue <- inboundMessage{client: c, event: ev}:
		return true
	case <-time.After(inboundSendTimeout):
		return false
	case <-c.ctx.Done():
		return true
	}
}

// orderingKey picks the value whose hash selects the handler worker:
// the target room when the event has one, otherwise the session itself.
func orderingKey(c *Client, ev event.WsEvent) string {
	var target struct {
		ConversationID string `json:"conversationId"`
		RoomID         string `json:"roomId"`
		TopicRef       string `json:"topicRef"`
	}
	if len(ev.Payload) > 0 {
		_ = ev.Bind(&target)
	}
	switch {
	case target.ConversationID != "":
		return target.ConversationID
	case target.RoomID != "":
		return target.RoomID
	case target.TopicRef != "":
		return target.TopicRef
	default:
		return c.ID
	}
}

func workerFor(key string) uint32 {
	return hashKey(key) % workerPoolSize
}

func getShard(room RoomID) uint32 {
	return hashKey(room.String()) % shardCount
}

func hashKey(key string) uint32 {
	if key == "" {
		return 0
	}
	h := sha1.Sum([]byte(key))
	return binary.BigEndian.Uint32(h[:4])
}

// -----------------------------------------------------------------
// Registry: session lifecycle
// -----------------------------------------------------------------

func (h *Hub) run() {
	for {
		select {
		case <-h.ctx.Done():
			return
		case c := <-h.register:
			h.addClient(c)
		case c := <-h.unregister:
			h.removeClient(c)
		}
	}
}

func (h *Hub) addClient(c *Client) {
	h.sessionsMu.Lock()
	byID, ok := h.sessions[c.UserID]
	if !ok {
		byID = make(map[string]*Client)
		h.sessions[c.UserID] = byID
	}
	byID[c.ID] = c
	h.sessionsMu.Unlock()

	// Every session joins its principal's private room for targeted
	// delivery while not subscribed to a specific conversation.
	h.Subscribe(c, UserRoom(c.UserID))

	h.presence.Track(c.UserID, c.AllowLocation)
	h.presence.SetOnline(c.UserID)
}

func (h *Hub) removeClient(c *Client) {
	// Receivers treat a disconnect while typing as an implicit stop.
	for _, room := range c.typingRooms() {
		h.broadcastRoomLocal(room, event.New(event.EventUserStoppedTyping, event.TypingEventPayload{
			UserID: c.UserID,
			RoomID: room.String(),
		}), c.ID)
	}

	for _, m := range c.roomMemberships() {
		h.Unsubscribe(c, m.room)
		if m.room.Kind == RoomUser {
			continue
		}
		conversationID := m.conversationID
		if conversationID == "" && m.room.Kind == RoomConversation {
			conversationID = m.room.Ref
		}
		h.BroadcastRoom(m.room, event.New(event.EventUserLeftConv, event.MembershipPayload{
			UserID:         c.UserID,
			ConversationID: conversationID,
			RoomID:         m.room.String(),
		}), c.ID)
	}

	h.sessionsMu.Lock()
	lastSession := false
	if byID, ok := h.sessions[c.UserID]; ok {
		delete(byID, c.ID)
		if len(byID) == 0 {
			delete(h.sessions, c.UserID)
			lastSession = true
		}
	}
	h.sessionsMu.Unlock()

	if lastSession {
		h.presence.SetOffline(c.UserID)
	}

	c.Close()
	h.logger.Info("session removed",
		zap.String("session_id", c.ID),
		zap.String("user_id", c.UserID),
	)
}

// -----------------------------------------------------------------
// Room manager: subscriber sets
// -----------------------------------------------------------------

// Subscribe adds the session to a room's live subscriber set.
func (h *Hub) Subscribe(c *Client, room RoomID) {
	b := h.shards[getShard(room)]
	b.mu.Lock()
	subscribers, ok := b.rooms[room]
	if !ok {
		subscribers = make(map[string]*Client)
		b.rooms[room] = subscribers
	}
	subscribers[c.ID] = c
	b.mu.Unlock()

	c.trackRoom(room)
}

// Unsubscribe removes the session from a room's live subscriber set.
func (h *Hub) Unsubscribe(c *Client, room RoomID) {
	b := h.shards[getShard(room)]
	b.mu.Lock()
	if subscribers, ok := b.rooms[room]; ok {
		delete(subscribers, c.ID)
		if len(subscribers) == 0 {
			delete(b.rooms, room)
		}
	}
	b.mu.Unlock()

	c.untrackRoom(room)
}

// Subscribers returns the live, in-memory view of a room. Authoritative
// only among currently connected sessions; durable membership lives in the
// conversation document.
func (h *Hub) Subscribers(room RoomID) []*Client {
	b := h.shards[getShard(room)]
	b.mu.RLock()
	defer b.mu.RUnlock()

	subscribers := b.rooms[room]
	out := make([]*Client, 0, len(subscribers))
	for _, c := range subscribers {
		out = append(out, c)
	}
	return out
}

// -----------------------------------------------------------------
// Fan-out
// -----------------------------------------------------------------

// BroadcastRoom delivers an event to every subscriber of a room except the
// session identified by exceptSessionID, and relays it to peer instances.
func (h *Hub) BroadcastRoom(room RoomID, ev event.WsEvent, exceptSessionID string) {
	h.broadcastRoomLocal(room, ev, exceptSessionID)
	if h.bridge != nil {
		h.bridge.Publish(room.String(), ev)
	}
}

func (h *Hub) broadcastRoomLocal(room RoomID, ev event.WsEvent, exceptSessionID string) {
	for _, c := range h.Subscribers(room) {
		if c.ID == exceptSessionID {
			continue
		}
		h.deliver(c, ev)
	}
}

// BroadcastAll delivers an event to every connected session. Presence and
// location changes use this; scoping them is an optimization the design
// deliberately skips.
func (h *Hub) BroadcastAll(ev event.WsEvent) {
	h.broadcastAllLocal(ev)
	if h.bridge != nil {
		h.bridge.Publish("", ev)
	}
}

func (h *Hub) broadcastAllLocal(ev event.WsEvent) {
	h.sessionsMu.RLock()
	clients := make([]*Client, 0, len(h.sessions))
	for _, byID := range h.sessions {
		for _, c := range byID {
			clients = append(clients, c)
		}
	}
	h.sessionsMu.RUnlock()

	for _, c := range clients {
		h.deliver(c, ev)
	}
}

// SendToUser delivers an event to all of one principal's sessions.
func (h *Hub) SendToUser(userID string, ev event.WsEvent) {
	h.BroadcastRoom(UserRoom(userID), ev, "")
}

func (h *Hub) deliver(c *Client, ev event.WsEvent) {
	if c.SafeSend(ev, sendTimeout) {
		return
	}
	// egress full -> apply policy
	if kickOnFull && !c.IsClosed() {
		h.logger.Warn("egress full, disconnecting session", zap.String("session_id", c.ID))
		select {
		case h.unregister <- c:
		case <-time.After(unregisterTimeout):
		}
	}
}

// -----------------------------------------------------------------
// Transport edge
// -----------------------------------------------------------------

var websocketUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// ServeWS authenticates the connect-time credential and, only on success,
// upgrades and registers the session. A bad token never gets a socket.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	claims, err := h.verifier.Verify(auth.TokenFromRequest(r))
	if err != nil {
		http.Error(w, "invalid or missing token", http.StatusUnauthorized)
		return
	}

	upgrader := websocketUpgrader
	upgrader.CheckOrigin = h.checkOrigin

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	RegisterClient(claims.UserID, claims.Name, claims.AllowLocation, conn, h)
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return h.allowedOrigins[origin]
}

// Stop shuts the hub down: closes every session, stops the workers.
func (h *Hub) Stop() {
	h.cancel()

	for _, shard := range h.shards {
		shard.mu.RLock()
		for _, subscribers := range shard.rooms {
			for _, client := range subscribers {
				client.Close()
			}
		}
		shard.mu.RUnlock()
	}

	h.wg.Wait()
}
