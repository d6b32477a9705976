package event

import "encoding/json"

// Client -> server events.
const (
	EventJoinConversation  = "join_conversation"
	EventLeaveConversation = "leave_conversation"
	EventSendMessage       = "send_message"
	EventTypingStart       = "typing_start"
	EventTypingStop        = "typing_stop"
	EventMarkMessagesRead  = "mark_messages_read"
	EventJoinCityRoom      = "join_city_room"
	EventJoinCompanyRoom   = "join_company_room"
	EventUserOnline        = "user_online"
	EventUserOffline       = "user_offline"
	EventUpdateLocation    = "update_location"
)

// Server -> client events.
const (
	EventNewMessage          = "new_message"
	EventUserJoinedConv      = "user_joined_conversation"
	EventUserLeftConv        = "user_left_conversation"
	EventUserTyping          = "user_typing"
	EventUserStoppedTyping   = "user_stopped_typing"
	EventMessagesRead        = "messages_read"
	EventUserStatusChanged   = "user_status_changed"
	EventUserLocationUpdated = "user_location_updated"
	EventError               = "error"
)

// WsEvent is the wire envelope for every websocket frame, both directions.
type WsEvent struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// New wraps a payload struct into an envelope. A marshal failure can only be
// a programmer mistake (channels, funcs in the payload), so it degrades to an
// empty payload instead of propagating.
func New(name string, payload any) WsEvent {
	raw, err := json.Marshal(payload)
	if err != nil {
		return WsEvent{Event: name}
	}
	return WsEvent{Event: name, Payload: raw}
}

// Bind unmarshals the envelope payload into dst.
func (e WsEvent) Bind(dst any) error {
	return json.Unmarshal(e.Payload, dst)
}
