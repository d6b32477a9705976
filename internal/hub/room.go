package hub

import (
	"errors"
	"strings"

	"Alumnet/internal/model"
)

// RoomKind discriminates the logical room namespaces. Conversation rooms
// carry a conversation id, city/company rooms carry the topic ref, user
// rooms are the per-principal private delivery channel every session joins
// implicitly.
type RoomKind string

const (
	RoomConversation RoomKind = "conversation"
	RoomCity         RoomKind = "city"
	RoomCompany      RoomKind = "company"
	RoomUser         RoomKind = "user"
)

var ErrBadRoomID = errors.New("malformed room id")

// RoomID is the typed form of the wire convention "conversation:<id>",
// "city:<ref>", "company:<ref>", "user:<id>". Only the wire edge parses or
// formats strings; everything inside the hub switches on the kind.
type RoomID struct {
	Kind RoomKind
	Ref  string
}

func ConversationRoom(conversationID string) RoomID {
	return RoomID{Kind: RoomConversation, Ref: conversationID}
}

func CityRoom(topicRef string) RoomID {
	return RoomID{Kind: RoomCity, Ref: topicRef}
}

func CompanyRoom(topicRef string) RoomID {
	return RoomID{Kind: RoomCompany, Ref: topicRef}
}

func UserRoom(userID string) RoomID {
	return RoomID{Kind: RoomUser, Ref: userID}
}

// RoomFor maps a conversation to its canonical room: dms key by
// conversation id, topic rooms key by their ref so realtime joins and
// lazy-created conversations land in the same subscriber set.
func RoomFor(conv *model.Conversation) RoomID {
	switch conv.Kind {
	case model.KindCity:
		return CityRoom(conv.TopicRef)
	case model.KindCompany:
		return CompanyRoom(conv.TopicRef)
	default:
		return ConversationRoom(conv.ID.Hex())
	}
}

func (r RoomID) String() string {
	return string(r.Kind) + ":" + r.Ref
}

func (r RoomID) IsZero() bool {
	return r.Kind == "" && r.Ref == ""
}

// ParseRoomID parses the wire form back into a RoomID.
func ParseRoomID(s string) (RoomID, error) {
	kind, ref, ok := strings.Cut(s, ":")
	if !ok || ref == "" {
		return RoomID{}, ErrBadRoomID
	}
	switch RoomKind(kind) {
	case RoomConversation, RoomCity, RoomCompany, RoomUser:
		return RoomID{Kind: RoomKind(kind), Ref: ref}, nil
	default:
		return RoomID{}, ErrBadRoomID
	}
}
