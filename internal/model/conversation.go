package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Conversation kinds. A dm holds an exact member set; city and company rooms
// are keyed by their topic ref and accumulate members on first join.
const (
	KindDirect  = "dm"
	KindCity    = "city"
	KindCompany = "company"
)

// Conversation represents a chat conversation/room in MongoDB
type Conversation struct {
	ID             primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	Kind           string             `json:"kind" bson:"conversation_type"`
	MemberIDs      []string           `json:"memberIds" bson:"member_ids"`
	TopicRef       string             `json:"topicRef,omitempty" bson:"topic_ref,omitempty"`
	CreatedAt      time.Time          `json:"createdAt" bson:"created_at"`
	LastActivityAt time.Time          `json:"lastActivityAt" bson:"last_activity_at"`
}

// HasMember reports whether userID is in the durable member set.
func (c *Conversation) HasMember(userID string) bool {
	for _, id := range c.MemberIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// ConversationSummary is a Conversation decorated with per-viewer data for
// the conversation list endpoint.
type ConversationSummary struct {
	Conversation
	LastMessage *Message `json:"lastMessage,omitempty"`
	UnreadCount int64    `json:"unreadCount"`
}
