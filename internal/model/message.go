package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Message represents a chat message in MongoDB. Messages are immutable after
// creation except for read_by, which only ever grows.
type Message struct {
	ID             primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	ConversationID primitive.ObjectID `json:"conversationId" bson:"conversation_id"`
	SenderID       string             `json:"senderId" bson:"sender_id"`
	Text           string             `json:"text,omitempty" bson:"text,omitempty"`
	Attachment     string             `json:"attachment,omitempty" bson:"attachment,omitempty"`
	SentAt         time.Time          `json:"sentAt" bson:"sent_at"`
	ReadBy         []string           `json:"readBy" bson:"read_by"`
}

// HasContent reports whether the message carries a text body or an
// attachment. Empty messages are rejected before persistence.
func (m *Message) HasContent() bool {
	return m.Text != "" || m.Attachment != ""
}
