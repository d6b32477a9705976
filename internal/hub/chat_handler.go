package hub

import (
	"errors"

	"Alumnet/internal/event"
	"Alumnet/internal/model"
	"Alumnet/internal/repo"
	"Alumnet/internal/service"

	"go.uber.org/zap"
)

// ChatHandler turns inbound chat events into service calls and fan-out.
// Handlers are functions of (session, payload); all shared state lives in
// the hub's subscriber sets and the service's repositories.
type ChatHandler struct {
	hub    *Hub
	svc    *service.ChatService
	logger *zap.Logger
}

func NewChatHandler(h *Hub, svc *service.ChatService, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{hub: h, svc: svc, logger: logger}
}

// HandleJoinConversation subscribes the session to a conversation room
// after a fresh durable-membership check.
func (ch *ChatHandler) HandleJoinConversation(c *Client, ev event.WsEvent) {
	var payload event.JoinConversationPayload
	if err := ev.Bind(&payload); err != nil || payload.ConversationID == "" {
		c.sendError("malformed join payload")
		return
	}

	conv, err := ch.svc.GetConversationForMember(c.ctx, payload.ConversationID, c.UserID)
	if err != nil {
		ch.reportError(c, err, "Failed to join conversation")
		return
	}

	room := RoomFor(conv)
	ch.hub.Subscribe(c, room)
	c.rememberConversation(room, conv.ID.Hex())

	// Best-effort join announcement to the other subscribers.
	ch.hub.BroadcastRoom(room, event.New(event.EventUserJoinedConv, event.MembershipPayload{
		UserID:         c.UserID,
		ConversationID: conv.ID.Hex(),
		RoomID:         room.String(),
	}), c.ID)
}

// HandleLeaveConversation unsubscribes and announces the departure.
func (ch *ChatHandler) HandleLeaveConversation(c *Client, ev event.WsEvent) {
	var payload event.JoinConversationPayload
	if err := ev.Bind(&payload); err != nil || payload.ConversationID == "" {
		c.sendError("malformed leave payload")
		return
	}

	room := ConversationRoom(payload.ConversationID)
	ch.hub.Unsubscribe(c, room)

	ch.hub.BroadcastRoom(room, event.New(event.EventUserLeftConv, event.MembershipPayload{
		UserID:         c.UserID,
		ConversationID: payload.ConversationID,
		RoomID:         room.String(),
	}), c.ID)
}

// HandleSendMessage validates, persists and fans out a message. The service
// broadcasts through the hub only after the persist succeeds; every
// subscribed session receives the echo, the sender's originating one
// included.
func (ch *ChatHandler) HandleSendMessage(c *Client, ev event.WsEvent) {
	var payload event.SendMessagePayload
	if err := ev.Bind(&payload); err != nil || payload.ConversationID == "" {
		c.sendError("malformed message payload")
		return
	}

	_, err := ch.svc.SendMessage(c.ctx, c.UserID, payload.ConversationID, payload.Text, payload.Attachment)
	if err != nil {
		ch.reportError(c, err, "Failed to send message")
	}
}

// HandleTyping relays a typing signal to the room's other subscribers.
// Best-effort: no membership check, no persistence, no delivery guarantee.
func (ch *ChatHandler) HandleTyping(c *Client, ev event.WsEvent, start bool) {
	var payload event.TypingPayload
	if err := ev.Bind(&payload); err != nil || payload.RoomID == "" {
		return
	}
	room, err := ParseRoomID(payload.RoomID)
	if err != nil {
		// Bare conversation ids are tolerated for older clients.
		room = ConversationRoom(payload.RoomID)
	}

	c.setTyping(room, start)

	name := event.EventUserTyping
	if !start {
		name = event.EventUserStoppedTyping
	}
	ch.hub.broadcastRoomLocal(room, event.New(name, event.TypingEventPayload{
		UserID: c.UserID,
		RoomID: room.String(),
	}), c.ID)
}

// HandleMarkRead acknowledges messages and notifies the room.
func (ch *ChatHandler) HandleMarkRead(c *Client, ev event.WsEvent) {
	var payload event.MarkReadPayload
	if err := ev.Bind(&payload); err != nil || payload.ConversationID == "" {
		c.sendError("malformed mark-read payload")
		return
	}

	_, err := ch.svc.MarkMessagesRead(c.ctx, c.UserID, payload.ConversationID, payload.MessageIDs, c.ID)
	if err != nil {
		ch.reportError(c, err, "Failed to mark messages as read")
	}
}

// HandleJoinTopic lazily finds-or-creates the city/company room, persists
// the caller's membership and subscribes the session.
func (ch *ChatHandler) HandleJoinTopic(c *Client, ev event.WsEvent, kind RoomKind) {
	var payload event.JoinTopicPayload
	if err := ev.Bind(&payload); err != nil || payload.TopicRef == "" {
		c.sendError("malformed topic payload")
		return
	}

	convKind := model.KindCity
	if kind == RoomCompany {
		convKind = model.KindCompany
	}

	conv, err := ch.svc.JoinTopicRoom(c.ctx, convKind, payload.TopicRef, c.UserID)
	if err != nil {
		ch.reportError(c, err, "Failed to join room")
		return
	}

	room := RoomFor(conv)
	ch.hub.Subscribe(c, room)
	c.rememberConversation(room, conv.ID.Hex())

	ch.hub.BroadcastRoom(room, event.New(event.EventUserJoinedConv, event.MembershipPayload{
		UserID:         c.UserID,
		ConversationID: conv.ID.Hex(),
		RoomID:         room.String(),
	}), c.ID)
}

// reportError maps service errors to the error payloads the original client
// expects; store errors stay generic.
func (ch *ChatHandler) reportError(c *Client, err error, generic string) {
	switch {
	case errors.Is(err, service.ErrUnauthorized), errors.Is(err, service.ErrNotFound):
		c.sendError("Unauthorized access to conversation")
	case errors.Is(err, service.ErrValidation), errors.Is(err, repo.ErrEmptyMessage):
		c.sendError("Message must contain text or an attachment")
	case errors.Is(err, repo.ErrInvalidConversationID), errors.Is(err, repo.ErrInvalidMessageID):
		c.sendError("Malformed identifier")
	default:
		ch.logger.Error("chat operation failed",
			zap.String("session_id", c.ID),
			zap.String("user_id", c.UserID),
			zap.Error(err),
		)
		c.sendError(generic)
	}
}

// -----------------------------------------------------------------
// service.Broadcaster implementation
// -----------------------------------------------------------------

// BroadcastNewMessage fans a persisted message out to the conversation's
// live subscribers and reports which principals were reached.
func (h *Hub) BroadcastNewMessage(conv *model.Conversation, msg *model.Message) []string {
	room := RoomFor(conv)
	ev := event.New(event.EventNewMessage, event.NewMessagePayload{
		Message:        *msg,
		ConversationID: conv.ID.Hex(),
	})

	seen := make(map[string]struct{})
	for _, c := range h.Subscribers(room) {
		h.deliver(c, ev)
		seen[c.UserID] = struct{}{}
	}

	// Members holding live sessions without a subscription to the room get a
	// targeted copy through their private user room instead of a queued
	// notification.
	for _, member := range conv.MemberIDs {
		if member == msg.SenderID {
			continue
		}
		if _, ok := seen[member]; ok {
			continue
		}
		if len(h.Subscribers(UserRoom(member))) == 0 {
			continue
		}
		h.SendToUser(member, ev)
		seen[member] = struct{}{}
	}

	if h.bridge != nil {
		h.bridge.Publish(room.String(), ev)
	}

	delivered := make([]string, 0, len(seen))
	for id := range seen {
		delivered = append(delivered, id)
	}
	return delivered
}

// BroadcastMessagesRead relays a read receipt to the room, excluding the
// acting session.
func (h *Hub) BroadcastMessagesRead(conv *model.Conversation, actorID string, messageIDs []string, originSessionID string) {
	room := RoomFor(conv)
	h.BroadcastRoom(room, event.New(event.EventMessagesRead, event.MessagesReadPayload{
		UserID:         actorID,
		MessageIDs:     messageIDs,
		ConversationID: conv.ID.Hex(),
	}), originSessionID)
}
