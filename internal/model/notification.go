package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// NotificationTypeMessage marks a notification produced by message fan-out
// for members who were not connected at send time.
const NotificationTypeMessage = "message"

// previewLimit bounds the message text copied into a notification payload.
const previewLimit = 100

// Notification is a queued record for a member who was offline or
// unsubscribed when a message arrived.
type Notification struct {
	ID          primitive.ObjectID  `json:"id" bson:"_id,omitempty"`
	RecipientID string              `json:"recipientId" bson:"recipient_id"`
	Type        string              `json:"type" bson:"type"`
	Payload     NotificationPayload `json:"payload" bson:"payload"`
	Seen        bool                `json:"seen" bson:"seen"`
	CreatedAt   time.Time           `json:"createdAt" bson:"created_at"`
}

// NotificationPayload carries just enough for the client to render and route
// the notification without another fetch.
type NotificationPayload struct {
	ConversationID   string `json:"conversationId" bson:"conversation_id"`
	SenderID         string `json:"senderId" bson:"sender_id"`
	Preview          string `json:"preview" bson:"preview"`
	ConversationKind string `json:"conversationKind" bson:"conversation_kind"`
}

// MessagePreview truncates message text for a notification payload.
// Attachment-only messages get a fixed placeholder.
func MessagePreview(text string) string {
	if text == "" {
		return "Sent an attachment"
	}
	runes := []rune(text)
	if len(runes) <= previewLimit {
		return text
	}
	return string(runes[:previewLimit])
}
