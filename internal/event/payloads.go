package event

import (
	"time"

	"Alumnet/internal/model"
)

// JoinConversationPayload subscribes the session to a conversation room.
type JoinConversationPayload struct {
	ConversationID string `json:"conversationId"`
}

// JoinTopicPayload subscribes the session to a city or company room.
type JoinTopicPayload struct {
	TopicRef string `json:"topicRef"`
}

// SendMessagePayload carries an outbound chat message.
type SendMessagePayload struct {
	ConversationID string `json:"conversationId"`
	Text           string `json:"text,omitempty"`
	Attachment     string `json:"attachment,omitempty"`
}

// TypingPayload scopes a typing signal to a room.
type TypingPayload struct {
	RoomID string `json:"roomId"`
}

// MarkReadPayload acknowledges a batch of messages.
type MarkReadPayload struct {
	ConversationID string   `json:"conversationId"`
	MessageIDs     []string `json:"messageIds"`
}

// UpdateLocationPayload carries a live-map position update.
type UpdateLocationPayload struct {
	Lng       float64 `json:"lng"`
	Lat       float64 `json:"lat"`
	CityLabel string  `json:"cityLabel,omitempty"`
}

// NewMessagePayload fans a persisted message out to room subscribers.
type NewMessagePayload struct {
	Message        model.Message `json:"message"`
	ConversationID string        `json:"conversationId"`
}

// MembershipPayload announces a join or leave on a room. ConversationID is
// the durable conversation behind the room; RoomID is the wire-form room the
// event happened in, which differs for city/company rooms.
type MembershipPayload struct {
	UserID         string `json:"userId"`
	ConversationID string `json:"conversationId"`
	RoomID         string `json:"roomId,omitempty"`
}

// TypingEventPayload relays a typing signal to other subscribers.
type TypingEventPayload struct {
	UserID string `json:"userId"`
	RoomID string `json:"roomId"`
}

// MessagesReadPayload is the read-receipt broadcast.
type MessagesReadPayload struct {
	UserID         string   `json:"userId"`
	MessageIDs     []string `json:"messageIds"`
	ConversationID string   `json:"conversationId"`
}

// StatusChangedPayload is the presence transition broadcast.
type StatusChangedPayload struct {
	UserID     string    `json:"userId"`
	Status     string    `json:"status"`
	LastSeenAt time.Time `json:"lastSeenAt"`
}

// LocationUpdatedPayload is the live-map position broadcast.
type LocationUpdatedPayload struct {
	UserID   string         `json:"userId"`
	Location model.Location `json:"location"`
}

// ErrorPayload reports a failed operation back to the offending session only.
type ErrorPayload struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}
